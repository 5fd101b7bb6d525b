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
	"fmt"
	"math"

	"github.com/AleutianAI/VdypForward/services/forward/model"
)

// growWithoutSpeciesDynamics scales every species' basal area and density
// by the layer's rates.
func (p *processor) growWithoutSpeciesDynamics(baChangeRate, tphMultiplier float64) {
	bank := p.lps.Bank
	for _, s := range bank.Indices() {
		row := bank.Row(s)
		ba := row.BasalArea.Get(model.All)
		if ba <= 0 {
			continue
		}
		baEnd := ba * (1 + baChangeRate)
		tphEnd := row.TreesPerHectare.Get(model.All) * tphMultiplier
		dqEnd := model.QuadMeanDiameter(baEnd, tphEnd)
		if dqEnd < minimumSpeciesDiameter {
			dqEnd = minimumSpeciesDiameter
			tphEnd = model.TreesPerHectare(baEnd, dqEnd)
		}
		row.BasalArea.Set(model.All, baEnd)
		row.TreesPerHectare.Set(model.All, tphEnd)
		row.QuadMeanDiameter.Set(model.All, dqEnd)
	}
}

// adjustmentStage bounds how far one stage of the partial dynamics search
// may move a species' diameter ratio.
type adjustmentStage struct {
	// maxChange is the normal largest move towards zero.
	maxChange float64
	// crossZero allows the ratio to change sign.
	crossZero bool
	// wrongWayClosest and wrongWayOther are the allowed moves away from
	// zero for the species closest to it and for the rest.
	wrongWayClosest float64
	wrongWayOther   float64
}

var adjustmentStages = func() []adjustmentStage {
	base := []adjustmentStage{
		{maxChange: 0.01},
		{maxChange: 0.015, crossZero: true, wrongWayClosest: 0.005},
		{maxChange: 0.03, crossZero: true, wrongWayClosest: 0.02, wrongWayOther: 0.01},
		{maxChange: 0.045, crossZero: true, wrongWayClosest: 0.03, wrongWayOther: 0.02},
		{maxChange: 0.06, crossZero: true, wrongWayClosest: 0.045, wrongWayOther: 0.035},
	}
	return append(base, base...)
}()

// relaxedStage is the first stage that drops the height-ratio diameter
// bounds.
const relaxedStage = 5

// growWithPartialSpeciesDynamics distributes the layer's growth so each
// species keeps its diameter relative to what the stand composition
// predicts. It reports false when no solution is found.
func (p *processor) growWithPartialSpeciesDynamics(baStart, baDelta, dqStart, dqDelta, tphStart float64, lhAtStart []float64) (bool, error) {
	bank := p.lps.Bank
	n := bank.NSpecies()
	if dqDelta == 0 || baDelta == 0 || n == 1 {
		return false, nil
	}

	baNew := make([]float64, n+1)
	dqNew := make([]float64, n+1)
	tphNew := make([]float64, n+1)
	baNew[0] = baStart + baDelta
	dqNew[0] = dqStart + dqDelta
	tphNew[0] = model.TreesPerHectare(baNew[0], dqNew[0])
	layerBA := bank.Row(LayerIndex).BasalArea.Get(model.All)

	fractions := make(map[string]float64, n)
	for _, s := range bank.Indices() {
		row := bank.Row(s)
		baNew[s] = row.BasalArea.Get(model.All) * baNew[0] / layerBA
		fractions[row.Genus] = row.PercentForestedLand / 100
	}

	startStand := standComposition{Fractions: fractions, QuadMeanDiameter: dqStart, BasalArea: baStart, TreesPerHectare: tphStart, LoreyHeight: lhAtStart[0]}
	endStand := standComposition{Fractions: fractions, QuadMeanDiameter: dqNew[0], BasalArea: baNew[0], TreesPerHectare: tphNew[0], LoreyHeight: bank.Row(LayerIndex).LoreyHeight.Get(model.All)}

	dqs1 := make([]float64, n+1)
	dqs2 := make([]float64, n+1)
	rs1 := make([]float64, n+1)
	for _, s := range bank.Indices() {
		row := bank.Row(s)
		var err error
		if dqs1[s], err = p.est.quadMeanDiameterForSpecies(row.Genus, lhAtStart[s], startStand); err != nil {
			return false, err
		}
		if dqs2[s], err = p.est.quadMeanDiameterForSpecies(row.Genus, row.LoreyHeight.Get(model.All), endStand); err != nil {
			return false, err
		}
		if row.BasalArea.Get(model.All) <= 0 {
			continue
		}
		r := (row.QuadMeanDiameter.Get(model.All) - 7.5) / (dqs1[s] - 7.5)
		if r <= 0 || math.IsInf(r, 0) || math.IsNaN(r) {
			return false, nil
		}
		rs1[s] = math.Log(r)
	}

	dqLow := make([]float64, n+1)
	dqHigh := make([]float64, n+1)
	tphLow := make([]float64, n+1)
	tphHigh := make([]float64, n+1)
	tryDq := make([]float64, n+1)
	tryTph := make([]float64, n+1)

	var sumLow, sumHigh float64
	solved, exact := false, false
	for stage, params := range adjustmentStages {
		if stage == 0 || stage == relaxedStage {
			if err := p.partialDiameterBounds(dqNew[0], dqStart, stage < relaxedStage, dqLow, dqHigh); err != nil {
				return false, err
			}
		}

		var tphSum float64
		for _, s := range bank.Indices() {
			row := bank.Row(s)
			if row.BasalArea.Get(model.All) <= 0 {
				continue
			}
			spDq := row.QuadMeanDiameter.Get(model.All)
			tryDq[s] = clamp(7.5+(dqs2[s]-7.5)*((spDq-7.5)/(dqs1[s]-7.5)), dqLow[s], dqHigh[s])
			tryTph[s] = model.TreesPerHectare(baNew[s], tryDq[s])
			tphSum += tryTph[s]
		}
		if tphSum == tphNew[0] {
			solved, exact = true, true
			break
		}

		biggerD := tphSum > tphNew[0]
		wrongWay := SpeciesIndex(0)
		amountWrong := 50000.0
		for _, s := range bank.Indices() {
			if bank.Row(s).BasalArea.Get(model.All) <= 0 {
				continue
			}
			if biggerD && rs1[s] > 0 && rs1[s] < amountWrong {
				wrongWay, amountWrong = s, rs1[s]
			} else if !biggerD && rs1[s] < 0 && -rs1[s] < amountWrong {
				wrongWay, amountWrong = s, -rs1[s]
			}
		}

		sumLow, sumHigh = 0, 0
		for _, s := range bank.Indices() {
			if bank.Row(s).BasalArea.Get(model.All) <= 0 {
				continue
			}
			other := params.wrongWayOther
			if s == wrongWay {
				other = params.wrongWayClosest
			}
			var cjLow, cjHigh float64
			switch {
			case biggerD && rs1[s] <= 0:
				cjLow, cjHigh = -other, params.maxChange
				if !params.crossZero {
					cjHigh = math.Min(cjHigh, -rs1[s])
				}
			case biggerD:
				cjLow, cjHigh = 0, other
			case rs1[s] <= 0:
				cjLow, cjHigh = -other, 0
			default:
				cjLow = -params.maxChange
				if !params.crossZero {
					cjLow = math.Max(-params.maxChange, -rs1[s])
				}
			}
			lowDq := clamp(7.5+(dqs2[s]-7.5)*math.Exp(rs1[s]+cjLow), dqLow[s], dqHigh[s])
			highDq := clamp(7.5+(dqs2[s]-7.5)*math.Exp(rs1[s]+cjHigh), dqLow[s], dqHigh[s])
			tphHigh[s] = model.TreesPerHectare(baNew[s], lowDq)
			tphLow[s] = model.TreesPerHectare(baNew[s], highDq)
			sumLow += tphLow[s]
			sumHigh += tphHigh[s]
		}
		if tphNew[0] >= sumLow && tphNew[0] <= sumHigh {
			solved = true
			break
		}
	}
	if !solved {
		return false, nil
	}

	for _, s := range bank.Indices() {
		row := bank.Row(s)
		switch {
		case row.BasalArea.Get(model.All) <= 0:
			tphNew[s] = 0
			dqNew[s] = row.QuadMeanDiameter.Get(model.All)
		case exact:
			tphNew[s] = tryTph[s]
			dqNew[s] = tryDq[s]
		default:
			if sumLow > sumHigh {
				return false, invalidf("density bounds inverted: %g > %g", sumLow, sumHigh)
			}
			var k float64
			if sumHigh != sumLow {
				k = (tphNew[0] - sumLow) / (sumHigh - sumLow)
			}
			tphNew[s] = tphLow[s] + k*(tphHigh[s]-tphLow[s])
			dqNew[s] = model.QuadMeanDiameter(baNew[s], tphNew[s])
		}
	}
	for _, s := range bank.Indices() {
		row := bank.Row(s)
		row.BasalArea.Set(model.All, baNew[s])
		row.QuadMeanDiameter.Set(model.All, dqNew[s])
		row.TreesPerHectare.Set(model.All, tphNew[s])
	}
	return true, nil
}

// partialDiameterBounds sets the per-species QMD bounds of the partial
// dynamics search. The strict bounds also respect each species'
// diameter to height ratio limits.
func (p *processor) partialDiameterBounds(dqNew, dqStart float64, strict bool, low, high []float64) error {
	bank := p.lps.Bank
	for _, s := range bank.Indices() {
		row := bank.Row(s)
		low[s], high[s] = minimumSpeciesDiameter, 100
		if row.TreesPerHectare.Get(model.All) <= 0 {
			continue
		}
		limits, err := p.eng.cm.ComponentSizeLimits(row.Genus, p.lps.Region())
		if err != nil {
			return err
		}
		spDq := row.QuadMeanDiameter.Get(model.All)
		high[s] = math.Max(math.Max(dqNew, dqStart), math.Max(limits.QuadMeanDiameterMaximum, spDq)) + 10

		// Species diameters may not decline unless the layer's mean tree
		// basal area grows by less than 1%.
		rate := (dqNew/dqStart)*(dqNew/dqStart) - 1
		if rate > 0.01 {
			low[s] = spDq
		} else if min2 := spDq * spDq * (1 + rate - 0.01); min2 > 0 {
			low[s] = math.Max(low[s], math.Min(math.Sqrt(min2), spDq))
		}

		if !strict {
			continue
		}
		lh := row.LoreyHeight.Get(model.All)
		trialMax := math.Max(spDq, limits.QuadMeanDiameterMaximum)
		if spDq < 1.001*limits.MaxDiameterHeightRatio*lh {
			trialMax = math.Min(trialMax, limits.MaxDiameterHeightRatio*lh)
		}
		high[s] = math.Min(high[s], trialMax)
		if minDq := limits.MinDiameterHeightRatio * lh; spDq > 0.999*minDq {
			low[s] = math.Max(low[s], minDq)
		}
	}
	return nil
}

const (
	maxBasalAreaPasses = 5
	maxDiameterPasses  = 15
)

// growWithFullSpeciesDynamics grows each species by its own basal area and
// QMD equations, then shifts the species' growth uniformly until the
// species sum to the layer's growth.
func (p *processor) growWithFullSpeciesDynamics(baStart, baDelta, dqStart, dqDelta, tphStart, lhStart float64) error {
	bank := p.lps.Bank
	n := bank.NSpecies()
	psp, err := p.lps.PrimaryIndex()
	if err != nil {
		return err
	}
	details, err := p.lps.PrimaryDetails()
	if err != nil {
		return err
	}
	pspLhStart := bank.Row(psp).LoreyHeight.Get(model.All)

	baEnd := make([]float64, n+1)
	tphEnd := make([]float64, n+1)
	dqEnd := make([]float64, n+1)
	spBaDelta := make([]float64, n+1)
	skip := make([]bool, n+1)

	var sumDelta float64
	for _, s := range bank.Indices() {
		row := bank.Row(s)
		ba := row.BasalArea.Get(model.All)
		if s == psp {
			spBaDelta[s], err = p.primaryBasalAreaGrowth(baStart, baDelta, ba, lhStart, details.YearsAtBreastHeight, pspLhStart)
		} else {
			spBaDelta[s], err = p.nonPrimaryBasalAreaGrowth(row.Genus, baStart, baDelta, pspLhStart, ba,
				row.QuadMeanDiameter.Get(model.All), row.LoreyHeight.Get(model.All))
		}
		if err != nil {
			return err
		}
		sumDelta += spBaDelta[s]
	}

	// Find f such that ba_i + delta_i + f*ba_i sums to the layer's growth
	// over the species that stay non-negative.
	base := baStart
	for pass := 0; ; pass++ {
		f := (baDelta - sumDelta) / base
		skipped := 0
		sumDelta = 0
		for _, s := range bank.Indices() {
			if skip[s] {
				continue
			}
			ba := bank.Row(s).BasalArea.Get(model.All)
			baEnd[s] = ba + spBaDelta[s] + f*ba
			if baEnd[s] < 0 {
				baEnd[s] = 0
				skip[s] = true
				skipped++
				sumDelta -= ba
				base -= ba
			} else {
				sumDelta += baEnd[s] - ba
			}
		}
		if skipped == 0 {
			break
		}
		if pass >= maxBasalAreaPasses || base <= 0 {
			return fmt.Errorf("%w: species basal area growth after %d passes", ErrConvergence, pass+1)
		}
	}

	diameterDeltas := make([]float64, n+1)
	for _, s := range bank.Indices() {
		if diameterDeltas[s], err = p.speciesQuadMeanDiameterDelta(s, dqStart, dqDelta, lhStart); err != nil {
			return err
		}
	}

	dqWant := model.QuadMeanDiameter(baStart, tphStart) + dqDelta
	bestScore, bestF := math.Inf(1), 0.0
	var f float64
	for pass := 0; ; pass++ {
		skipped := 0
		var skippedBA float64
		for _, s := range bank.Indices() {
			row := bank.Row(s)
			limits, err := p.eng.cm.ComponentSizeLimits(row.Genus, p.lps.Region())
			if err != nil {
				return err
			}
			spDq := row.QuadMeanDiameter.Get(model.All)
			lh := row.LoreyHeight.Get(model.All)
			d := diameterDeltas[s] + f

			if maxDq := math.Min(limits.QuadMeanDiameterMaximum, limits.MaxDiameterHeightRatio*lh); spDq+d > maxDq {
				d = math.Min(0, maxDq-spDq)
				skipped++
				skippedBA += row.BasalArea.Get(model.All)
			}
			if minDq := math.Max(minimumLayerDiameter, limits.MinDiameterHeightRatio*lh); spDq+d < minDq {
				d = minDq - spDq
				skipped++
				skippedBA += row.BasalArea.Get(model.All)
			}
			dqEnd[s] = spDq + d
		}

		var tph float64
		for _, s := range bank.Indices() {
			tphEnd[s] = 0
			if baEnd[s] > 0 {
				tphEnd[s] = model.TreesPerHectare(baEnd[s], dqEnd[s])
			}
			tph += tphEnd[s]
		}

		if pass == maxDiameterPasses || (skipped == n && pass > 2) {
			break
		}

		miss := dqWant - model.QuadMeanDiameter(baStart+baDelta, tph)
		if score := math.Abs(miss); score < bestScore {
			bestScore, bestF = score, f
		}
		if math.Abs(miss) < 0.001 {
			break
		}
		skippedBA = math.Min(skippedBA, 0.7*baStart)
		f += miss * baStart / (baStart - skippedBA)
		if pass+1 == maxDiameterPasses {
			f = bestF
		}
	}

	for _, s := range bank.Indices() {
		row := bank.Row(s)
		row.BasalArea.Set(model.All, baEnd[s])
		row.TreesPerHectare.Set(model.All, tphEnd[s])
		if baEnd[s] > 0 {
			row.QuadMeanDiameter.Set(model.All, model.QuadMeanDiameter(baEnd[s], tphEnd[s]))
		}
	}
	return nil
}
