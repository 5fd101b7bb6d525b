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
)

const (
	// minimumLayerDiameter is the smallest QMD a layer may grow to.
	minimumLayerDiameter = 7.6

	// minimumSpeciesDiameter is the smallest QMD a species may grow to.
	minimumSpeciesDiameter = 7.51

	speciesDiameterBase = 7.45
)

// quadMeanDiameterYield is the QMD a stand of dominant height dh reaches at
// breast height age yabh, within [7.6, limit]. Stands no taller than 5m
// yield the minimum.
func (p *processor) quadMeanDiameterYield(c []float64, dh, yabh, limit float64) (float64, error) {
	if dh <= 5 {
		return minimumLayerDiameter, nil
	}
	age, err := p.yieldAge(yabh)
	if err != nil {
		return 0, err
	}
	tr := math.Log(age)
	c1 := math.Max(c[1]+c[2]*tr, 0)
	c2 := math.Max(c[3]+c[4]*tr, 0)
	return clamp(c[0]+c1*math.Pow(dh-5, c2), minimumLayerDiameter, limit), nil
}

// quadMeanDiameterDelta returns one year's growth in layer QMD and whether
// the upper limit was applied.
func (p *processor) quadMeanDiameterDelta(pspYabh, baStart, dhStart, dqStart float64, dhDelta float64) (float64, bool, error) {
	cm := p.eng.cm
	bec := p.lps.BecZone.DecayBec
	c := p.weightedCoefficients(6, p.speciesProportions(), func(g string) ([]float64, bool) { return cm.QuadMeanDiameterYield(bec, g) })

	_, upper, err := p.upperBounds()
	if err != nil {
		return 0, false, err
	}
	limit := math.Max(upper, dqStart)

	yieldStart, err := p.quadMeanDiameterYield(c, dhStart, pspYabh, limit)
	if err != nil {
		return 0, false, err
	}
	yieldEnd, err := p.quadMeanDiameterYield(c, dhStart+dhDelta, pspYabh+1, limit)
	if err != nil {
		return 0, false, err
	}

	fiat, err := cm.QuadMeanDiameterGrowthFiat(p.lps.Region())
	if err != nil {
		return 0, false, err
	}
	variant := p.eng.settings.Debug.QuadMeanDiameterGrowthModel

	var fiatGrowth, empiricalGrowth float64
	if variant != GrowthEmpirical {
		fiatGrowth = yieldEnd - yieldStart - fiat.Coefficient(pspYabh)*(dqStart-yieldStart)
	}
	if variant != GrowthFiat {
		empiricalGrowth, err = p.quadMeanDiameterGrowthEmpirical(pspYabh, dhStart, baStart, dqStart, dhDelta, yieldStart, yieldEnd)
		if err != nil {
			return 0, false, err
		}
	}

	var growth float64
	switch variant {
	case GrowthFiat:
		growth = fiatGrowth
	case GrowthEmpirical:
		growth = empiricalGrowth
	default:
		w := fiat.EmpiricalProportion(pspYabh)
		growth = w*empiricalGrowth + (1-w)*fiatGrowth
	}

	if dqStart+growth < minimumLayerDiameter {
		growth = minimumLayerDiameter - dqStart
	}
	if dqStart+growth > limit-0.001 {
		return math.Max(limit-dqStart, 0), true, nil
	}
	return growth, false, nil
}

// quadMeanDiameterGrowthEmpirical is the empirical model of layer QMD
// growth, bounded by the stratum's growth limits.
func (p *processor) quadMeanDiameterGrowthEmpirical(pspYabh, dhStart, baStart, dqStart, dhDelta, yieldStart, yieldEnd float64) (float64, error) {
	ranking, err := p.lps.Ranking()
	if err != nil {
		return 0, err
	}
	a, err := p.eng.cm.QuadMeanDiameterGrowthEmpirical(ranking.Stratum)
	if err != nil {
		return 0, err
	}
	l, err := p.eng.cm.QuadMeanDiameterGrowthLimits(ranking.Stratum)
	if err != nil {
		return 0, err
	}

	yabh := math.Max(pspYabh, 1)
	delta := math.Exp(a[0]+a[2]*math.Log(yabh)+a[3]*dqStart+a[4]*dhStart+a[5]*baStart+a[6]*dhDelta) +
		a[1]*(yieldEnd-yieldStart)
	delta = math.Max(delta, 0)

	x := dqStart - 7.5
	xsq := x * x
	lo := math.Max(l[0]+l[1]*x+l[2]*xsq/100, l[6])
	hi := math.Min(l[3]+l[4]*x+l[5]*xsq/100, l[7])
	hi = math.Max(hi, lo)
	return clamp(delta, lo, hi), nil
}

// speciesDiameterDelta moves a species QMD with the layer's, keeping its
// ratio to the layer above the 7.45cm base and adjusting that ratio by the
// equation's change.
func speciesDiameterDelta(a []float64, dqStart, dqDelta, spDqStart, lhStart, spLhStart float64) float64 {
	rateStart := (spDqStart - speciesDiameterBase) / (dqStart - speciesDiameterBase)
	change := a[0] + a[1]*math.Log(spDqStart) + a[2]*spLhStart/lhStart
	rateEnd := math.Exp(math.Log(rateStart) + change)
	end := math.Max(rateEnd*(dqStart+dqDelta-speciesDiameterBase)+speciesDiameterBase, minimumSpeciesDiameter)
	return end - spDqStart
}

// speciesQuadMeanDiameterDelta returns the QMD growth of species s given
// the layer's.
func (p *processor) speciesQuadMeanDiameterDelta(s SpeciesIndex, dqStart, dqDelta, lhStart float64) (float64, error) {
	ranking, err := p.lps.Ranking()
	if err != nil {
		return 0, err
	}
	row := p.lps.Bank.Row(s)
	var a []float64
	if s == ranking.Primary {
		a, err = p.eng.cm.PrimaryQuadMeanDiameterGrowth(ranking.Stratum)
	} else {
		a, err = p.eng.cm.NonPrimaryQuadMeanDiameterGrowth(row.Genus, ranking.Stratum)
	}
	if err != nil {
		return 0, err
	}
	return speciesDiameterDelta(a, dqStart, dqDelta, row.QuadMeanDiameter.Get(model.All), lhStart, row.LoreyHeight.Get(model.All)), nil
}
