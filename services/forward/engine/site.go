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
	"errors"
	"math"

	"github.com/AleutianAI/VdypForward/services/forward/model"
	"github.com/AleutianAI/VdypForward/services/forward/siteindex"
)

// defaultSiteCurves is used for genera the control map assigns no curve.
var defaultSiteCurves = map[string]siteindex.CurveID{
	"AT": siteindex.CurveATCieszewski,
	"F":  siteindex.CurveFDCBruce,
	"PL": siteindex.CurvePLICieszewski,
	"S":  siteindex.CurveSWCieszewski,
}

// calculateMissingSiteCurves assigns a site curve to every species of the
// primary and veteran layers that lacks one: by its lead sp64, then by
// genus, then by the built-in default. Species with none of these keep no
// curve.
func (p *processor) calculateMissingSiteCurves() error {
	layers := []*LayerProcessingState{p.pps.Primary}
	if p.pps.Veteran != nil {
		layers = append(layers, p.pps.Veteran)
	}
	for _, lps := range layers {
		for _, s := range lps.Indices() {
			row := lps.Bank.Row(s)
			if row.SiteCurve.IsPresent() {
				continue
			}
			if c, ok := p.siteCurveFor(row, lps.Region()); ok {
				row.SiteCurve = model.Some(c)
			} else {
				p.logger.Debug("no site curve for species", "genus", row.Genus, "layer", lps.LayerType)
			}
		}
	}
	return nil
}

func (p *processor) siteCurveFor(row *BankRow, region model.Region) (siteindex.CurveID, bool) {
	if len(row.Sp64Distribution) > 0 {
		lead := row.Sp64Distribution[0]
		for _, sp := range row.Sp64Distribution[1:] {
			if sp.Percentage > lead.Percentage {
				lead = sp
			}
		}
		if c, ok := p.eng.cm.SiteCurve(lead.Alias, region); ok {
			return c, true
		}
	}
	if c, ok := p.eng.cm.SiteCurve(row.Genus, region); ok {
		return c, true
	}
	c, ok := defaultSiteCurves[row.Genus]
	return c, ok
}

// calculateCoverages sets each species' percentage of layer basal area.
func (p *processor) calculateCoverages() error {
	bank := p.lps.Bank
	total := bank.Row(LayerIndex).BasalArea.Get(model.All)
	if total <= 0 {
		return invalidf("layer basal area %g is not positive", total)
	}
	for _, s := range bank.Indices() {
		row := bank.Row(s)
		row.PercentForestedLand = row.BasalArea.Get(model.All) / total * 100
	}
	return nil
}

// curveSpecies is the species a row's site curve was fitted on.
func curveSpecies(row *BankRow) (string, bool) {
	id, ok := row.SiteCurve.Get()
	if !ok {
		return "", false
	}
	c, err := siteindex.Lookup(id)
	if err != nil {
		return "", false
	}
	return c.Species, true
}

// estimateMissingSiteIndices fills in the primary species' site index from
// the converted site indices of the others, then every other species' from
// the primary's.
func (p *processor) estimateMissingSiteIndices() error {
	bank := p.lps.Bank
	psp, err := p.lps.PrimaryIndex()
	if err != nil {
		return err
	}
	primary := bank.Row(psp)
	primaryCurve, hasPrimaryCurve := curveSpecies(primary)
	table := p.eng.cm.SiteIndexConversions()
	region := p.lps.Region()

	if !primary.SiteIndex.IsPresent() && hasPrimaryCurve {
		var sum float64
		var n int
		for _, s := range bank.Indices() {
			if s == psp {
				continue
			}
			row := bank.Row(s)
			si, ok := row.SiteIndex.Get()
			from, hasCurve := curveSpecies(row)
			if !ok || !hasCurve {
				continue
			}
			converted, err := table.Convert(from, primaryCurve, region, si)
			switch {
			case errors.Is(err, siteindex.ErrNoAnswer), errors.Is(err, siteindex.ErrLessThan13):
				p.logger.Warn("site index conversion unavailable", "from", from, "to", primaryCurve, "error", err)
				continue
			case err != nil:
				return err
			}
			if converted > siteindex.BreastHeight {
				sum += converted
				n++
			}
		}
		if n > 0 {
			primary.SiteIndex = model.Some(sum / float64(n))
		}
	}

	if si, ok := primary.SiteIndex.Get(); ok && hasPrimaryCurve {
		for _, s := range bank.Indices() {
			row := bank.Row(s)
			if s == psp || row.SiteIndex.IsPresent() {
				continue
			}
			to, hasCurve := curveSpecies(row)
			if !hasCurve {
				continue
			}
			converted, err := table.Convert(primaryCurve, to, region, si)
			switch {
			case errors.Is(err, siteindex.ErrNoAnswer), errors.Is(err, siteindex.ErrLessThan13):
				p.logger.Warn("site index conversion unavailable", "from", primaryCurve, "to", to, "error", err)
				continue
			case err != nil:
				return err
			}
			row.SiteIndex = model.Some(converted)
		}
	}

	bank.Row(LayerIndex).SiteIndex = primary.SiteIndex
	return nil
}

// estimateMissingYearsToBreastHeight fills in years to breast height from
// the two ages where both are known, otherwise from the species' site
// curve.
func (p *processor) estimateMissingYearsToBreastHeight() error {
	bank := p.lps.Bank
	psp, err := p.lps.PrimaryIndex()
	if err != nil {
		return err
	}
	defaultSI, hasDefault := bank.Row(psp).SiteIndex.Get()
	if !hasDefault {
		for _, s := range bank.Indices() {
			if defaultSI, hasDefault = bank.Row(s).SiteIndex.Get(); hasDefault {
				break
			}
		}
	}

	for _, s := range bank.Indices() {
		row := bank.Row(s)
		if row.YearsToBreastHeight.IsPresent() {
			continue
		}
		age, hasAge := row.AgeTotal.Get()
		yabh, hasYabh := row.YearsAtBreastHeight.Get()
		if hasAge && hasYabh && age > yabh {
			row.YearsToBreastHeight = model.Some(age - yabh)
			continue
		}
		curve, ok := row.SiteCurve.Get()
		if !ok {
			continue
		}
		si, ok := row.SiteIndex.Get()
		if !ok {
			if !hasDefault {
				continue
			}
			si = defaultSI
		}
		ytbh, err := p.eng.sites.YearsToBreastHeight(curve, si)
		if err != nil {
			p.logger.Warn("years to breast height unavailable", "genus", row.Genus, "curve", int(curve), "error", err)
			continue
		}
		row.YearsToBreastHeight = model.Some(ytbh)
	}
	return nil
}

// calculateDominantHeightAgeSiteIndex completes the primary species'
// dominant height, ages and site index, borrowing from the secondary and
// then the other species where the primary lacks them.
func (p *processor) calculateDominantHeightAgeSiteIndex() error {
	bank := p.lps.Bank
	ranking, err := p.lps.Ranking()
	if err != nil {
		return err
	}
	primary := bank.Row(ranking.Primary)
	var secondary *BankRow
	if s, ok := ranking.Secondary.Get(); ok {
		secondary = bank.Row(s)
	}

	dh, ok := primary.DominantHeight.Get()
	if !ok {
		lh := primary.LoreyHeight.Get(model.All)
		if lh <= 0 {
			return missingf("primary species %s has neither dominant nor Lorey height", primary.Genus)
		}
		a, err := p.eng.cm.PrimaryLoreyHeight(primary.Genus, p.lps.Region())
		if err != nil {
			return err
		}
		tph := primary.TreesPerHectare.Get(model.All)
		mult := a[0] - a[1] + a[1]*math.Exp(a[2]*(tph-100))
		dh = 1.3 + (lh-1.3)/mult
	}

	// active is the species the ages were taken from.
	active := primary
	age, ok := primary.AgeTotal.Get()
	if !ok {
		active = nil
		if secondary != nil && secondary.AgeTotal.IsPresent() {
			active = secondary
		} else {
			for _, s := range bank.Indices() {
				if bank.Row(s).AgeTotal.IsPresent() {
					active = bank.Row(s)
					break
				}
			}
		}
		if active == nil {
			return missingf("no species has a total age")
		}
		age, _ = active.AgeTotal.Get()
	}

	var yabh, ytbh float64
	if v, ok := primary.YearsToBreastHeight.Get(); ok {
		ytbh = v
		yabh = age - ytbh
	} else if v, ok := primary.YearsAtBreastHeight.Get(); ok {
		yabh = v
		ytbh = age - yabh
	} else {
		yabh = active.YearsAtBreastHeight.OrElse(0)
		ytbh = active.YearsToBreastHeight.OrElse(0)
	}

	si, ok := primary.SiteIndex.Get()
	if !ok {
		var from *BankRow
		switch {
		case secondary != nil && secondary.SiteIndex.IsPresent():
			from = secondary
		case active.SiteIndex.IsPresent():
			from = active
		default:
			for _, s := range bank.Indices() {
				if bank.Row(s).SiteIndex.IsPresent() {
					from = bank.Row(s)
					break
				}
			}
		}
		if from == nil {
			return missingf("no species has a site index")
		}
		si, _ = from.SiteIndex.Get()
		fromCurve, okFrom := curveSpecies(from)
		toCurve, okTo := curveSpecies(primary)
		if okFrom && okTo {
			if converted, err := p.eng.cm.SiteIndexConversions().Convert(fromCurve, toCurve, p.lps.Region(), si); err == nil && converted > siteindex.BreastHeight {
				si = converted
			}
		}
	}

	p.lps.setPrimaryDetails(PrimarySpeciesDetails{
		DominantHeight:      dh,
		SiteIndex:           si,
		AgeTotal:            age,
		YearsAtBreastHeight: yabh,
		YearsToBreastHeight: ytbh,
	})
	return nil
}
