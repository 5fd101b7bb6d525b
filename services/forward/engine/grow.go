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

// grow advances the primary layer by one year, stopping after last when it
// is one of the numbered GROW steps.
func (p *processor) grow(last ExecutionStep) error {
	bank := p.lps.Bank
	details, err := p.lps.PrimaryDetails()
	if err != nil {
		return err
	}
	psp, err := p.lps.PrimaryIndex()
	if err != nil {
		return err
	}
	pspRow := bank.Row(psp)
	curve, ok := pspRow.SiteCurve.Get()
	if !ok {
		return missingf("primary species %s has no site curve", pspRow.Genus)
	}
	layer := bank.Row(LayerIndex)
	stop := func(step ExecutionStep) bool { return last == step }

	dhStart := details.DominantHeight
	pspYabhStart := details.YearsAtBreastHeight
	baStart := layer.BasalArea.Get(model.All)
	dqStart := layer.QuadMeanDiameter.Get(model.All)
	tphStart := layer.TreesPerHectare.Get(model.All)
	lhStart := layer.LoreyHeight.Get(model.All)
	pspTphStart := pspRow.TreesPerHectare.Get(model.All)
	pspLhStart := pspRow.LoreyHeight.Get(model.All)
	if baStart <= 0 || dqStart <= 0 || tphStart <= 0 {
		return invalidf("layer basal area %g, QMD %g and density %g must be positive", baStart, dqStart, tphStart)
	}

	// 1. Layer dominant height.
	dhDelta, err := p.dominantHeightDelta(dhStart, curve, details.SiteIndex, details.YearsToBreastHeight)
	if err != nil {
		return err
	}
	dhEnd := dhStart + dhDelta
	if stop(StepGrow1LayerDominantHeightDelta) {
		return nil
	}

	// 2. Layer basal area.
	baDelta, err := p.basalAreaDelta(pspYabhStart, dhStart, baStart, p.pps.veteranBasalArea(), dhDelta)
	if err != nil {
		return err
	}
	if stop(StepGrow2LayerBasalAreaDelta) {
		return nil
	}

	// 3. Layer QMD.
	dqDelta, limited, err := p.quadMeanDiameterDelta(pspYabhStart, baStart, dhStart, dqStart, dhDelta)
	if err != nil {
		return err
	}
	dqEnd := dqStart + dqDelta
	if limited && p.eng.settings.Debug.LimitBasalAreaWhenDiameterLimited == 1 {
		baDelta = math.Min(baDelta, baStart*(dqEnd*dqEnd)/(dqStart*dqStart)-baStart)
	}
	if stop(StepGrow3LayerQuadMeanDiameterDelta) {
		return nil
	}

	// 4. Layer basal area and density estimates.
	baChangeRate := baDelta / baStart
	baEnd := baStart + baDelta
	tphEnd := model.TreesPerHectare(baEnd, dqEnd)
	layer.BasalArea.Set(model.All, baEnd)
	layer.QuadMeanDiameter.Set(model.All, dqEnd)
	layer.TreesPerHectare.Set(model.All, tphEnd)
	tphMultiplier := tphEnd / tphStart
	if stop(StepGrow4LayerBasalAreaAndDensity) {
		return nil
	}

	// 5. Species basal area, QMD and density.
	dynamics := p.eng.settings.Debug.SpeciesDynamics
	solved := false
	if dynamics == DynamicsPartial {
		lhAtStart := make([]float64, bank.NSpecies()+1)
		lhAtStart[LayerIndex] = lhStart
		for _, s := range bank.Indices() {
			lhAtStart[s] = bank.Row(s).LoreyHeight.Get(model.All)
		}
		if err := p.growLoreyHeights(dhStart, dhEnd, pspTphStart, pspTphStart*tphMultiplier, pspLhStart); err != nil {
			return err
		}
		p.setLayerLoreyHeight()
		if stop(StepGrow5ALoreyHeightEstimate) {
			return nil
		}

		solved, err = p.growWithPartialSpeciesDynamics(baStart, baDelta, dqStart, dqDelta, tphStart, lhAtStart)
		if err != nil {
			return err
		}
		for _, s := range bank.Indices() {
			bank.Row(s).LoreyHeight.Set(model.All, lhAtStart[s])
		}
		layer.LoreyHeight.Set(model.All, lhStart)
		if !solved {
			p.logger.Debug("partial species dynamics found no solution", "species", bank.NSpecies())
		}
	} else if stop(StepGrow5ALoreyHeightEstimate) {
		return nil
	}
	if !solved {
		if dynamics == DynamicsNone || bank.NSpecies() == 1 {
			p.growWithoutSpeciesDynamics(baChangeRate, tphMultiplier)
		} else if err := p.growWithFullSpeciesDynamics(baStart, baDelta, dqStart, dqDelta, tphStart, lhStart); err != nil {
			return err
		}
	}
	if stop(StepGrow5SpeciesBasalAreaDiameterDensity) {
		return nil
	}

	// 6. Layer density from the species.
	var tph float64
	for _, s := range bank.Indices() {
		row := bank.Row(s)
		if row.BasalArea.Get(model.All) > 0 {
			tph += row.TreesPerHectare.Get(model.All)
		}
	}
	if tph < 0 {
		return invalidf("layer density %g is negative", tph)
	}
	layer.TreesPerHectare.Set(model.All, tph)
	if stop(StepGrow6LayerDensity) {
		return nil
	}

	// 7. Layer QMD from the species.
	layer.QuadMeanDiameter.Set(model.All, model.QuadMeanDiameter(layer.BasalArea.Get(model.All), tph))
	if stop(StepGrow7LayerQuadMeanDiameter) {
		return nil
	}

	// 8. Species Lorey heights.
	if err := p.growLoreyHeights(dhStart, dhEnd, pspTphStart, pspRow.TreesPerHectare.Get(model.All), pspLhStart); err != nil {
		return err
	}
	if stop(StepGrow8SpeciesLoreyHeight) {
		return nil
	}

	// 9. Species percentages.
	if ba := layer.BasalArea.Get(model.All); ba > 0 {
		for _, s := range bank.Indices() {
			row := bank.Row(s)
			row.PercentForestedLand = 100 * row.BasalArea.Get(model.All) / ba
		}
	}
	if stop(StepGrow9SpeciesPercent) {
		return nil
	}

	// 10. Site values.
	p.lps.advancePrimaryDetails(dhEnd)
	if err := p.growSpeciesSiteValues(psp, curve); err != nil {
		return err
	}
	if stop(StepGrow10PrimarySpeciesDetails) {
		return nil
	}

	// 11. Compatibility variables.
	p.lps.updateCompatibilityVariablesAfterGrowth(p.eng.cm.CompatibilityAdjustments())
	if stop(StepGrow11CompatibilityVariables) {
		return nil
	}

	// 12. Utilization classes.
	if err := p.computeUtilizationComponents(); err != nil {
		return err
	}
	if stop(StepGrow12SpeciesUtilization) {
		return nil
	}

	// 13. Small component.
	return p.growSmallComponents()
}

// setLayerLoreyHeight sets the layer's ALL Lorey height to the basal area
// weighted mean of the species.
func (p *processor) setLayerLoreyHeight() {
	bank := p.lps.Bank
	var weighted, ba float64
	for _, s := range bank.Indices() {
		row := bank.Row(s)
		b := row.BasalArea.Get(model.All)
		weighted += b * row.LoreyHeight.Get(model.All)
		ba += b
	}
	if ba > 0 {
		bank.Row(LayerIndex).LoreyHeight.Set(model.All, weighted/ba)
	}
}

// growSpeciesSiteValues copies the advanced primary details into the
// primary row and moves every other species' dominant height along the
// primary species' site curve, using the species' own site index and
// years to breast height. A species lacking any of those values loses its
// dominant height.
func (p *processor) growSpeciesSiteValues(psp SpeciesIndex, pspCurve siteindex.CurveID) error {
	bank := p.lps.Bank
	details, err := p.lps.PrimaryDetails()
	if err != nil {
		return err
	}
	for _, s := range bank.Indices() {
		row := bank.Row(s)
		if s == psp {
			row.DominantHeight = model.Some(details.DominantHeight)
			row.AgeTotal = model.Some(details.AgeTotal)
			row.YearsAtBreastHeight = model.Some(details.YearsAtBreastHeight)
			row.SiteIndex = model.Some(details.SiteIndex)
			continue
		}

		if age, ok := row.AgeTotal.Get(); ok {
			row.AgeTotal = model.Some(age + 1)
		}
		dh, okDh := row.DominantHeight.Get()
		si, okSi := row.SiteIndex.Get()
		ytbh, okYtbh := row.YearsToBreastHeight.Get()
		yabh, okYabh := row.YearsAtBreastHeight.Get()
		if okYabh {
			row.YearsAtBreastHeight = model.Some(yabh + 1)
		}
		if !(okDh && okSi && okYtbh && okYabh) {
			row.DominantHeight = model.None[float64]()
			continue
		}
		delta, err := p.dominantHeightDelta(dh, pspCurve, si, ytbh)
		if err != nil {
			p.logger.Debug("species dominant height not grown", "genus", row.Genus, "error", err)
			row.DominantHeight = model.None[float64]()
			continue
		}
		row.DominantHeight = model.Some(dh + delta)
	}
	return nil
}
