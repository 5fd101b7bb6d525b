// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package engine

import (
	"math"

	"github.com/AleutianAI/VdypForward/services/forward/model"
	"github.com/AleutianAI/VdypForward/services/forward/siteindex"
)

// minimumExtensionRate floors the growth rate carried past a curve's
// calibrated age range.
const minimumExtensionRate = 0.0005

// dominantHeightDelta returns one year's growth in dominant height along
// the site curve. Past the curve's maximum age the growth decays with a
// half life of T1 years and stops after T2 further years.
func (p *processor) dominantHeightDelta(dhStart float64, curve siteindex.CurveID, si, ytbh float64) (float64, error) {
	if dhStart <= siteindex.BreastHeight {
		return 0, invalidf("dominant height %g is not above breast height", dhStart)
	}
	lib := p.eng.sites
	ageStart, err := lib.HeightToAge(curve, dhStart, siteindex.AgeBreast, si, ytbh)
	if err != nil {
		return 0, err
	}
	if ageStart <= 0 {
		if dhStart > si {
			return 0, nil
		}
		return 0, invalidf("breast height age %g is not positive", ageStart)
	}
	ageEnd := ageStart + 1

	limits := p.eng.cm.SiteCurveAgeMaximum(curve)
	var bhAgeLimit float64
	if maxAge := limits.ForRegion(p.lps.Region()); maxAge > 0 {
		bhAgeLimit = maxAge - ytbh
	}

	if ageStart <= bhAgeLimit || limits.T1 <= 0 {
		partial := false
		if limits.T1 <= 0 && bhAgeLimit > 0 && ageEnd > bhAgeLimit {
			if ageStart > bhAgeLimit {
				return 0, nil
			}
			ageEnd = ageStart + (bhAgeLimit - ageStart + 0.01)
			partial = true
		}

		// The age solve tolerates small height errors, so the start height
		// is recomputed from the age.
		current, err := lib.IndexToHeight(curve, ageStart, siteindex.AgeBreast, si, ytbh)
		if err != nil {
			return 0, err
		}
		next, err := lib.IndexToHeight(curve, ageEnd, siteindex.AgeBreast, si, ytbh)
		if err != nil {
			return 0, err
		}
		if next < 0 {
			return 0, invalidf("height %g at age %g is negative", next, ageEnd)
		}
		if next < current && !partial {
			if current-next < 0.01 {
				return 0, nil
			}
			return 0, invalidf("dominant height fell from %g to %g", current, next)
		}
		return next - current, nil
	}

	current, err := lib.IndexToHeight(curve, bhAgeLimit, siteindex.AgeBreast, si, ytbh)
	if err != nil {
		return 0, err
	}
	next, err := lib.IndexToHeight(curve, bhAgeLimit+1, siteindex.AgeBreast, si, ytbh)
	if err != nil {
		return 0, err
	}
	rate := math.Max(next-current, minimumExtensionRate)

	// Beyond the limit, h(t) = y - rate/a (1 - e^(at)) with t the years past
	// the limit.
	a := math.Log(0.5) / limits.T1
	var t float64
	if dhStart > current {
		term := 1 + (dhStart-current)*a/rate
		if term <= 1e-7 {
			return 0, nil
		}
		t = math.Log(term) / a
	}
	if t > limits.T2 {
		return 0, nil
	}
	return rate / a * (math.Exp(a*(t+1)) - math.Exp(a*t)), nil
}

// primaryLoreyHeightEstimate relates the primary species' Lorey height to
// dominant height and density.
func (p *processor) primaryLoreyHeightEstimate(genus string, dh, tph float64) (float64, error) {
	a, err := p.eng.cm.PrimaryLoreyHeight(genus, p.lps.Region())
	if err != nil {
		return 0, err
	}
	mult := a[0] - a[1] + a[1]*math.Exp(a[2]*(tph-100))
	return 1.3 + (dh-1.3)*mult, nil
}

// nonPrimaryLoreyHeightEstimate estimates a non-primary species' Lorey
// height from the primary's dominant height or Lorey height.
func (p *processor) nonPrimaryLoreyHeightEstimate(genus, primaryGenus string, dh, primaryLH float64) (float64, error) {
	eq := p.eng.cm.NonPrimaryLoreyHeight(genus, primaryGenus, p.lps.Region())
	switch eq.Equation {
	case 1:
		return 1.3 + eq.A0*math.Pow(dh-1.3, eq.A1), nil
	case 2:
		return 1.3 + eq.A0*math.Pow(primaryLH-1.3, eq.A1), nil
	}
	return 0, invalidf("non-primary height equation %d for %s", eq.Equation, genus)
}

// growLoreyHeights moves every species' ALL Lorey height along its
// equation, keeping each species' starting offset from the equation scaled
// by the configured adjustment.
func (p *processor) growLoreyHeights(dhStart, dhEnd, pspTphStart, pspTphEnd, pspLhStart float64) error {
	bank := p.lps.Bank
	psp, err := p.lps.PrimaryIndex()
	if err != nil {
		return err
	}
	primary := bank.Row(psp)
	adj := p.eng.cm.CompatibilityAdjustments()
	strategy := p.eng.settings.Debug.LoreyHeightStrategy

	startEstimate, err := p.primaryLoreyHeightEstimate(primary.Genus, dhStart, pspTphStart)
	if err != nil {
		return err
	}
	endEstimate, err := p.primaryLoreyHeightEstimate(primary.Genus, dhEnd, pspTphEnd)
	if err != nil {
		return err
	}
	f := (pspLhStart - 1.3) / (startEstimate - 1.3)
	f = 1 + (f-1)*adj.LoreyHeightPrimary
	pspLhEnd := 1.3 + (endEstimate-1.3)*f

	unchanged := dhStart == dhEnd
	if strategy == 2 && unchanged {
		pspLhEnd = primary.LoreyHeight.Get(model.All)
	} else {
		primary.LoreyHeight.Set(model.All, pspLhEnd)
	}

	if unchanged && strategy >= 1 {
		return nil
	}
	for _, s := range bank.Indices() {
		row := bank.Row(s)
		if s == psp || row.BasalArea.Get(model.All) <= 0 {
			continue
		}
		est1, err := p.nonPrimaryLoreyHeightEstimate(row.Genus, primary.Genus, dhStart, pspLhStart)
		if err != nil {
			return err
		}
		est2, err := p.nonPrimaryLoreyHeightEstimate(row.Genus, primary.Genus, dhEnd, pspLhEnd)
		if err != nil {
			return err
		}
		f := (row.LoreyHeight.Get(model.All) - 1.3) / (est1 - 1.3)
		f = 1 + (f-1)*adj.LoreyHeightOther
		row.LoreyHeight.Set(model.All, 1.3+(est2-1.3)*f)
	}
	return nil
}
