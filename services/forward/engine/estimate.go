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

	"github.com/AleutianAI/VdypForward/services/forward/controlmap"
	"github.com/AleutianAI/VdypForward/services/forward/model"
)

// estimator evaluates the per-species utilization and volume equations of
// one BEC zone.
type estimator struct {
	cm  *controlmap.ControlMap
	bec controlmap.BecZone
}

// quadMeanDiameterByUtilization fills the size band QMDs of dq from its ALL
// value.
func (e estimator) quadMeanDiameterByUtilization(genus string, dq *model.UtilizationVector) error {
	dq07 := dq.Get(model.All)
	low := model.U75To125.LowBound()
	for _, uc := range model.SizeBands {
		a, err := e.cm.QuadMeanDiameterByUtilization(uc, genus, e.bec.GrowthBec)
		if err != nil {
			return err
		}
		switch uc {
		case model.U75To125:
			if dq07 < low+0.0001 {
				dq.Set(uc, low)
				continue
			}
			x, err := safeExp(a[1] / a[0] * (dq07 - low))
			if err != nil {
				return err
			}
			dq.Set(uc, math.Min(low+a[0]*math.Pow(1-x, a[2]), dq07))
		case model.U125To175, model.U175To225:
			r, err := exponentRatio(a[0] + a[1]*math.Pow(dq07/low, a[2]))
			if err != nil {
				return err
			}
			dq.Set(uc, uc.LowBound()+5*r)
		case model.Over225:
			r, err := exponentRatio(a[2] + a[1]*math.Pow(dq07, a[3]))
			if err != nil {
				return err
			}
			dq.Set(uc, math.Max(uc.LowBound(), dq07+a[0]*(1-r)))
		}
	}
	return nil
}

// basalAreaByUtilization splits the ALL basal area of ba into size bands
// using the band QMDs of dq.
func (e estimator) basalAreaByUtilization(genus string, dq, ba *model.UtilizationVector) error {
	dqAll := dq.Get(model.All)
	// above[k] is the basal area in band k+1 and every larger band.
	var above [4]float64
	above[0] = ba.Get(model.All)
	for k, uc := range []model.UtilizationClass{model.U75To125, model.U125To175, model.U175To225} {
		a, err := e.cm.BasalAreaByUtilization(uc, genus, e.bec.GrowthBec)
		if err != nil {
			return err
		}
		var l float64
		if uc == model.U75To125 {
			l = a[0] + a[1]*math.Pow(dqAll, 0.25)
		} else {
			l = a[0] + a[1]*dqAll
		}
		r, err := exponentRatio(l)
		if err != nil {
			return err
		}
		above[k+1] = above[k] * r
		if uc == model.U75To125 && dqAll < model.U125To175.LowBound() {
			f := (dq.Get(model.U75To125) - 7.4) / (dqAll - 7.4)
			above[1] = math.Min(above[1], (1-f*f)*above[0])
		}
	}
	ba.Set(model.U75To125, above[0]-above[1])
	ba.Set(model.U125To175, above[1]-above[2])
	ba.Set(model.U175To225, above[2]-above[3])
	ba.Set(model.Over225, above[3])
	return nil
}

// wholeStemVolumePerTree is the mean whole stem volume of a tree of the
// given Lorey height and QMD.
func (e estimator) wholeStemVolumePerTree(volumeGroup int, lh, dq float64) (float64, error) {
	c, err := e.cm.WholeStemVolumePerTree(volumeGroup)
	if err != nil {
		return 0, err
	}
	arg := c[0] + c[1]*math.Log(dq) + c[2]*math.Log(lh) + c[3]*dq + c[4]/dq +
		c[5]*lh + c[6]*dq*dq + c[7]*lh*dq + c[8]*lh/dq
	return math.Exp(arg), nil
}

// wholeStemVolume splits the ALL whole stem volume of ws into size bands in
// proportion to each band's estimated volume per unit basal area.
func (e estimator) wholeStemVolume(volumeGroup int, lh float64, dq, ba, ws *model.UtilizationVector) error {
	dqAll := dq.Get(model.All)
	for _, uc := range model.SizeBands {
		b := ba.Get(uc)
		if b <= 0 {
			ws.Set(uc, 0)
			continue
		}
		a, err := e.cm.WholeStemUtilization(uc, volumeGroup)
		if err != nil {
			return err
		}
		arg := a[0] + a[1]*math.Log(lh) + a[2]*math.Log(dq.Get(uc))
		if uc != model.Over225 {
			arg += a[3] * math.Log(dqAll)
		} else {
			arg += a[3] * dqAll
		}
		ws.Set(uc, b*math.Exp(arg))
	}
	return normalize(ws)
}

// normalize scales the bands of v to sum to its ALL value.
func normalize(v *model.UtilizationVector) error {
	sum := v.SumBands()
	if sum <= 0 {
		return invalidf("band total %g is not positive", sum)
	}
	k := v.Get(model.All) / sum
	for _, uc := range model.SizeBands {
		v.Set(uc, v.Get(uc)*k)
	}
	return nil
}

// closeUtilizationVolume estimates close utilization volume per band from
// whole stem volume.
func (e estimator) closeUtilizationVolume(volumeGroup int, lh float64, adjust, dq, ws, cu *model.UtilizationVector) error {
	for _, uc := range model.SizeBands {
		a, err := e.cm.CloseUtilization(uc, volumeGroup)
		if err != nil {
			return err
		}
		arg := a[0] + a[1]*dq.Get(uc) + a[2]*lh + adjust.Get(uc)
		cu.Set(uc, ws.Get(uc)*ratio(arg, 7))
	}
	cu.StoreSum()
	return nil
}

// netDecayVolume estimates close utilization volume net of decay.
func (e estimator) netDecayVolume(genus string, decayGroup int, yabh float64, adjust, dq, cu, nd *model.UtilizationVector) error {
	ageTr := math.Log(math.Max(20, yabh))
	mod := e.cm.DecayModifier(genus, e.bec.Region)
	for _, uc := range model.SizeBands {
		a, err := e.cm.NetDecay(uc, decayGroup)
		if err != nil {
			return err
		}
		d := dq.Get(model.All)
		if uc == model.Over225 {
			d = dq.Get(uc)
		}
		arg := a[0] + a[1]*math.Log(d) + a[2]*ageTr + adjust.Get(uc) + mod
		nd.Set(uc, cu.Get(uc)*ratio(arg, 8))
	}
	nd.StoreSum()
	return nil
}

// netDecayWasteVolume estimates close utilization volume net of decay and
// waste.
func (e estimator) netDecayWasteVolume(genus string, lh float64, adjust, dq, cu, nd, ndw *model.UtilizationVector) error {
	mod := e.cm.WasteModifier(genus, e.bec.Region)
	for _, uc := range model.SizeBands {
		netDecay := nd.Get(uc)
		if math.IsNaN(netDecay) || netDecay <= 0 {
			ndw.Set(uc, 0)
			continue
		}
		a, err := e.cm.NetWaste(genus)
		if err != nil {
			return err
		}
		a0 := a[0]
		if uc == model.Over225 {
			a0 += a[5]
		}
		frd := 1 - netDecay/cu.Get(uc)
		arg := clamp(a0+a[1]*frd+a[3]*math.Log(dq.Get(uc))+a[4]*math.Log(lh)+mod, -10, 10)
		frw := math.Min(frd, (1-math.Exp(a[2]*frd))*logistic(arg)*(1-frd))
		result := cu.Get(uc) * (1 - frd - frw)

		if adj := adjust.Get(uc); adj != 0 {
			if r := result / netDecay; r > 0 && r < 1 {
				result = logistic(clamp(logit(r)+adj, -10, 10)) * netDecay
			}
		}
		ndw.Set(uc, result)
	}
	ndw.StoreSum()
	return nil
}

// netDecayWasteBreakageVolume estimates close utilization volume net of
// decay, waste and breakage.
func (e estimator) netDecayWasteBreakageVolume(breakageGroup int, dq, cu, ndw, ndwb *model.UtilizationVector) error {
	a, err := e.cm.NetBreakage(breakageGroup)
	if err != nil {
		return err
	}
	for _, uc := range model.SizeBands {
		netWaste := ndw.Get(uc)
		if netWaste <= 0 {
			ndwb.Set(uc, 0)
			continue
		}
		pct := clamp(a[0]+a[1]*math.Log(dq.Get(uc)), a[2], a[3])
		ndwb.Set(uc, netWaste-math.Min(pct/100*cu.Get(uc), netWaste))
	}
	ndwb.StoreSum()
	return nil
}

// standComposition describes the stand a species QMD is estimated within.
type standComposition struct {
	// Fractions maps genus to its share of stand basal area.
	Fractions        map[string]float64
	QuadMeanDiameter float64
	BasalArea        float64
	TreesPerHectare  float64
	LoreyHeight      float64
}

// qmdDensityConstant scales the quadratic in the two-component density
// split.
const qmdDensityConstant = 0.00441786467

// quadMeanDiameterForSpecies estimates the QMD of genus within a stand by
// splitting the stand into the species and the rest, and solving for the
// density of each part.
func (e estimator) quadMeanDiameterForSpecies(genus string, lh float64, stand standComposition) (float64, error) {
	frac := stand.Fractions[genus]
	minDq := math.Min(7.6, stand.QuadMeanDiameter)
	if frac >= 1 || stand.QuadMeanDiameter < minDq {
		return stand.QuadMeanDiameter, nil
	}

	genera := e.cm.Genera()
	base, err := e.cm.QuadMeanDiameterBySpecies(genera[0])
	if err != nil {
		return 0, err
	}
	a0, a1, a2 := base[0], base[1], base[2]
	fracOther := 1 - frac
	for _, g := range genera[1:] {
		var mult float64
		if g == genus {
			mult = 1
		} else if f := stand.Fractions[g]; f > 0 {
			mult = -f / fracOther
		} else {
			continue
		}
		c, err := e.cm.QuadMeanDiameterBySpecies(g)
		if err != nil {
			return 0, err
		}
		a0 += mult * c[0]
		a1 += mult * c[1]
	}

	lh1 := math.Max(4, lh)
	lh2 := (stand.LoreyHeight - lh*frac) / fracOther
	hr := clamp((lh1-3)/(lh2-3), 0.05, 20)
	r := math.Exp(a0 + a1*math.Log(hr) + a2*math.Log(stand.QuadMeanDiameter))

	tph := stand.TreesPerHectare
	ba1 := frac * stand.BasalArea
	ba2 := stand.BasalArea - ba1

	var tph1 float64
	if math.Abs(r-1) < 0.0005 {
		tph1 = frac * tph
	} else {
		aa := (r - 1) * qmdDensityConstant
		bb := qmdDensityConstant*(1-r)*tph + ba1 + ba2*r
		cc := -ba1 * tph
		term := bb*bb - 4*aa*cc
		if term <= 0 {
			return 0, invalidf("density term %g for %s is not positive", term, genus)
		}
		tph1 = (-bb + math.Sqrt(term)) / (2 * aa)
		if tph1 <= 0 || tph1 > tph {
			return 0, invalidf("density %g for %s is outside (0, %g]", tph1, genus, tph)
		}
	}
	dq1 := model.QuadMeanDiameter(ba1, tph1)
	tph2 := tph - tph1
	dq2 := model.QuadMeanDiameter(ba2, tph2)

	limits, err := e.cm.ComponentSizeLimits(genus, e.bec.Region)
	if err != nil {
		return 0, err
	}
	return clampSpeciesDiameter(limits, tph, minDq, lh, ba1, ba2, dq1, dq2), nil
}

// clampSpeciesDiameter keeps the species QMD within its size limits while
// the rest of the stand stays above minDq.
func clampSpeciesDiameter(limits controlmap.SizeLimits, tph, minDq, lh, ba1, ba2, dq1, dq2 float64) float64 {
	restAtMinimum := func() {
		dq2 = minDq
		tph1 := tph - model.TreesPerHectare(ba2, dq2)
		dq1 = model.QuadMeanDiameter(ba1, tph1)
	}
	if dq2 < minDq {
		restAtMinimum()
	}
	dqMin := math.Max(minDq, limits.MinDiameterHeightRatio*lh)
	dqMax := math.Max(7.6, math.Min(limits.QuadMeanDiameterMaximum, limits.MaxDiameterHeightRatio*lh))
	if dq1 < dqMin {
		dq1 = dqMin
	}
	if dq1 > dqMax {
		dq1 = dqMax
		tph2 := tph - model.TreesPerHectare(ba1, dq1)
		if tph2 > 0 && ba2 > 0 {
			dq2 = model.QuadMeanDiameter(ba2, tph2)
		} else {
			dq2 = 1000
		}
		if dq2 < minDq {
			restAtMinimum()
		}
	}
	return dq1
}
