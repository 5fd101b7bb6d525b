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

// empiricalOccupancy converts empirical to full occupancy basal area.
const empiricalOccupancy = 0.85

// speciesProportions returns each species' share of layer basal area.
func (p *processor) speciesProportions() []float64 {
	bank := p.lps.Bank
	out := make([]float64, bank.NSpecies()+1)
	total := bank.Row(LayerIndex).BasalArea.Get(model.All)
	if total <= 0 {
		return out
	}
	for _, s := range bank.Indices() {
		out[s] = bank.Row(s).BasalArea.Get(model.All) / total
	}
	return out
}

// weightedCoefficients averages a per-genus coefficient table by basal
// area share. Genera without a row contribute nothing.
func (p *processor) weightedCoefficients(n int, proportions []float64, table func(genus string) ([]float64, bool)) []float64 {
	out := make([]float64, n)
	for _, s := range p.lps.Indices() {
		c, ok := table(p.lps.Bank.Row(s).Genus)
		if !ok {
			continue
		}
		for i := range out {
			out[i] += c[i] * proportions[s]
		}
	}
	return out
}

// upperBounds returns the basal area and QMD caps of the primary species.
func (p *processor) upperBounds() (ba, dq float64, err error) {
	ranking, err := p.lps.Ranking()
	if err != nil {
		return 0, 0, err
	}
	if p.eng.settings.Debug.UpperBoundsSource == BoundsByGroup {
		ub, err := p.eng.cm.UpperBounds(ranking.BasalAreaGroup)
		if err != nil {
			return 0, 0, err
		}
		return ub.BasalArea, ub.QuadMeanDiameter, nil
	}
	ub, err := p.eng.cm.RegionalUpperBounds(p.lps.Region(), p.lps.Bank.Row(ranking.Primary).Genus)
	if err != nil {
		return 0, 0, err
	}
	return ub.BasalArea, ub.QuadMeanDiameter, nil
}

// yieldAge applies the breast height age cap of debug setting 2.
func (p *processor) yieldAge(yabh float64) (float64, error) {
	if n := p.eng.settings.Debug.MaxBreastHeightAge; n > 0 {
		yabh = math.Min(yabh, float64(n)*100)
	}
	if yabh <= 0 {
		return 0, invalidf("breast height age %g is not positive", yabh)
	}
	return yabh, nil
}

// basalAreaYield is the full occupancy basal area a stand of dominant
// height dh reaches at breast height age yabh.
func (p *processor) basalAreaYield(c []float64, dh, yabh float64, veteranBA model.Optional[float64], upper float64) (float64, error) {
	age, err := p.yieldAge(yabh)
	if err != nil {
		return 0, err
	}
	tr := math.Log(age)
	a00 := math.Max(c[0]+c[1]*tr, 0)
	ap := math.Max(c[3]+c[4]*tr, 0)
	var bap float64
	if dh > c[2] {
		bap = a00 * math.Pow(dh-c[2], ap) * math.Exp(c[5]*dh+c[6]*veteranBA.OrElse(0))
		bap = math.Min(bap, upper)
	}
	return bap / empiricalOccupancy, nil
}

// basalAreaDelta returns one year's growth in layer basal area.
func (p *processor) basalAreaDelta(pspYabh, dhStart, baStart float64, veteranBA model.Optional[float64], dhDelta float64) (float64, error) {
	cm := p.eng.cm
	bec := p.lps.BecZone.Alias
	proportions := p.speciesProportions()

	c := p.weightedCoefficients(7, proportions, func(g string) ([]float64, bool) { return cm.BasalAreaYield(bec, g) })
	c[5] = math.Min(c[5], 0)

	upper, _, err := p.upperBounds()
	if err != nil {
		return 0, err
	}
	yieldStart, err := p.basalAreaYield(c, dhStart, pspYabh, veteranBA, upper)
	if err != nil {
		return 0, err
	}
	yieldEnd, err := p.basalAreaYield(c, dhStart+dhDelta, pspYabh+1, veteranBA, upper)
	if err != nil {
		return 0, err
	}

	fiat, err := cm.BasalAreaGrowthFiat(p.lps.Region())
	if err != nil {
		return 0, err
	}
	growth := yieldEnd - yieldStart - fiat.Coefficient(pspYabh)*(baStart-yieldStart)

	// Young stands far ahead of the yield curve keep their pace a while.
	if pspYabh < 40 && baStart > 5*yieldStart {
		growth = math.Min(yieldStart/pspYabh, math.Min(0.5, growth))
	}

	if variant := p.eng.settings.Debug.BasalAreaGrowthModel; variant != GrowthFiat {
		empirical, err := p.basalAreaGrowthEmpirical(proportions, baStart, pspYabh, dhStart, yieldStart, yieldEnd)
		if err != nil {
			return 0, err
		}
		if variant == GrowthMixed {
			w := fiat.EmpiricalProportion(pspYabh)
			growth = w*empirical + (1-w)*growth
		} else {
			growth = empirical
		}
	}

	limit := math.Max(upper/empiricalOccupancy, baStart)
	if baStart+growth > limit {
		growth = math.Max(limit-baStart, 0)
	}
	if growth < 0 && baStart+growth < 1 {
		growth = 1 - baStart
	}
	return growth, nil
}

// basalAreaGrowthEmpirical is the empirical model of layer basal area
// growth.
func (p *processor) basalAreaGrowthEmpirical(proportions []float64, baStart, pspYabh, dhStart, yieldStart, yieldEnd float64) (float64, error) {
	cm := p.eng.cm
	bec := p.lps.BecZone.Alias
	first := cm.Genera()[0]
	b, ok := cm.BasalAreaGrowthEmpirical(bec, first)
	if !ok {
		return 0, missingf("no empirical basal area growth coefficients for %s in %s", first, bec)
	}
	yabh := clamp(pspYabh, 1, 999)

	var b4, b5 float64
	for _, s := range p.lps.Indices() {
		c, ok := cm.BasalAreaGrowthEmpirical(bec, p.lps.Bank.Row(s).Genus)
		if !ok {
			continue
		}
		b4 += proportions[s] * c[4]
		b5 += proportions[s] * c[5]
	}
	b4 = math.Max(b4, 0)
	b5 = math.Min(b5, 0)

	var term1 float64
	if dhStart > b[0] {
		term1 = 1 - math.Exp(b[1]*(dhStart-b[0]))
	}
	term2 := b[2] * math.Pow(dhStart/20, b[3]) * logistic(-0.05*(yabh-350))
	term3 := b4 * math.Exp(b5*yabh)
	var term4 float64
	if d := yieldEnd - yieldStart; d > 0 {
		term4 = b[6] * math.Pow(d, b[7])
	}

	delta := term1*(term2+term3) + term4
	if delta < 0 && baStart+delta < 1 {
		delta = 1 - baStart
	}
	return delta, nil
}

// primaryBasalAreaGrowth returns the primary species' share of layer basal
// area growth.
func (p *processor) primaryBasalAreaGrowth(baStart, baDelta, pspBaStart, lhStart, pspYabh, pspLhStart float64) (float64, error) {
	share := pspBaStart / baStart
	if share > 0.999 {
		return baDelta, nil
	}
	ranking, err := p.lps.Ranking()
	if err != nil {
		return 0, err
	}
	m, err := p.eng.cm.PrimaryBasalAreaGrowth(ranking.Stratum)
	if err != nil {
		return 0, err
	}
	a := m.Coefficients
	logitStart := logit(share)

	var change float64
	switch m.Model {
	case 3:
		change = a[0] + a[1]*lhStart
	case 8:
		change = a[0] + a[1]*pspYabh + a[2]*pspLhStart/lhStart
	case 9:
		change = a[0] + a[1]*logitStart + a[2]*baStart
	default:
		return 0, invalidf("primary basal area growth model %d for stratum %d", m.Model, ranking.Stratum)
	}
	return logistic(logitStart+change)*(baStart+baDelta) - pspBaStart, nil
}

// nonPrimaryBasalAreaGrowth returns a non-primary species' share of layer
// basal area growth.
func (p *processor) nonPrimaryBasalAreaGrowth(genus string, baStart, baDelta, lhStart, spBaStart, spDqStart, spLhStart float64) (float64, error) {
	if spBaStart <= 0 || spBaStart >= baStart {
		return 0, invalidf("%s basal area %g is outside (0, %g)", genus, spBaStart, baStart)
	}
	ranking, err := p.lps.Ranking()
	if err != nil {
		return 0, err
	}
	a, err := p.eng.cm.NonPrimaryBasalAreaGrowth(genus, ranking.Stratum)
	if err != nil {
		return 0, err
	}
	change := a[0] + a[1]*math.Log(spDqStart) + a[2]*spLhStart/lhStart
	return logistic(logit(spBaStart/baStart)+change)*(baStart+baDelta) - spBaStart, nil
}
