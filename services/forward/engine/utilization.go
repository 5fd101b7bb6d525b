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

// computeUtilizationComponents splits each species' grown stand values into
// size bands, derives its volumes and re-sums the layer.
func (p *processor) computeUtilizationComponents() error {
	bank := p.lps.Bank
	details, err := p.lps.PrimaryDetails()
	if err != nil {
		return err
	}
	application := p.eng.settings.Control.CompatibilityApplication

	for _, s := range bank.Indices() {
		row := bank.Row(s)
		cv, err := p.lps.CompatibilityVariables(s)
		if err != nil {
			return err
		}
		if err := p.speciesUtilization(s, row, cv, application, details.YearsAtBreastHeight); err != nil {
			return err
		}
	}
	p.sumLayer()
	return nil
}

func (p *processor) speciesUtilization(s SpeciesIndex, row *BankRow, cv *model.CompatibilityVariables, application int, pspYabh float64) error {
	lh := row.LoreyHeight.Get(model.All)
	vg := p.lps.VolumeGroup(s)

	var ba, tph, dq, ws, cu, nd, ndw, ndwb model.UtilizationVector
	ba.Set(model.All, row.BasalArea.Get(model.All))
	tph.Set(model.All, row.TreesPerHectare.Get(model.All))
	dq.Set(model.All, row.QuadMeanDiameter.Get(model.All))

	perTree, err := p.est.wholeStemVolumePerTree(vg, lh, dq.Get(model.All))
	if err != nil {
		return err
	}
	ws.Set(model.All, tph.Get(model.All)*perTree)

	if err := p.est.quadMeanDiameterByUtilization(row.Genus, &dq); err != nil {
		return err
	}
	if err := p.est.basalAreaByUtilization(row.Genus, &dq, &ba); err != nil {
		return err
	}
	bandDensities(&ba, &tph, &dq)
	if err := reconcileComponents(&ba, &tph, &dq); err != nil {
		return err
	}

	if application != 0 {
		var sum float64
		for _, uc := range model.SizeBands {
			b := math.Max(0, ba.Get(uc)+cv.BasalArea.Get(uc))
			ba.Set(uc, b)
			sum += b
			dq.Set(uc, clamp(dq.Get(uc)+cv.QuadMeanDiameter.Get(uc), uc.LowBound(), uc.HighBound()))
		}
		if sum > 0 {
			k := ba.Get(model.All) / sum
			for _, uc := range model.SizeBands {
				ba.Set(uc, ba.Get(uc)*k)
			}
		}
		bandDensities(&ba, &tph, &dq)
		if err := reconcileComponents(&ba, &tph, &dq); err != nil {
			return err
		}
	}

	if err := p.est.wholeStemVolume(vg, lh, &dq, &ba, &ws); err != nil {
		return err
	}

	var adjCU, adjND, adjNDW model.UtilizationVector
	if application == 2 {
		for _, uc := range model.SizeBands {
			ws.Set(uc, ws.Get(uc)*math.Exp(cv.Volume[model.WholeStemVolume].Get(uc)))
		}
		ws.StoreSum()
		adjCU = cv.Volume[model.CloseUtilVolume]
		adjND = cv.Volume[model.CloseUtilVolumeLessDecay]
		adjNDW = cv.Volume[model.CloseUtilVolumeLessDecayLessWastage]
	}

	if err := p.est.closeUtilizationVolume(vg, lh, &adjCU, &dq, &ws, &cu); err != nil {
		return err
	}
	if err := p.est.netDecayVolume(row.Genus, p.lps.DecayGroup(s), pspYabh, &adjND, &dq, &cu, &nd); err != nil {
		return err
	}
	if err := p.est.netDecayWasteVolume(row.Genus, lh, &adjNDW, &dq, &cu, &nd, &ndw); err != nil {
		return err
	}
	if err := p.est.netDecayWasteBreakageVolume(p.lps.BreakageGroup(s), &dq, &cu, &ndw, &ndwb); err != nil {
		return err
	}

	for _, uc := range model.SizeBands {
		row.BasalArea.Set(uc, ba.Get(uc))
		row.TreesPerHectare.Set(uc, tph.Get(uc))
		row.QuadMeanDiameter.Set(uc, dq.Get(uc))
	}
	for _, uc := range model.AllButSmall {
		row.WholeStemVolume.Set(uc, ws.Get(uc))
		row.CloseUtilizationVolume.Set(uc, cu.Get(uc))
		row.CUVolumeNetOfDecay.Set(uc, nd.Get(uc))
		row.CUVolumeNetOfDecayAndWaste.Set(uc, ndw.Get(uc))
		row.CUVolumeNetOfDecayWasteAndBreakage.Set(uc, ndwb.Get(uc))
	}
	return nil
}

// bandDensities sets the size band densities implied by basal area and QMD.
func bandDensities(ba, tph, dq *model.UtilizationVector) {
	for _, uc := range model.SizeBands {
		tph.Set(uc, model.TreesPerHectare(ba.Get(uc), dq.Get(uc)))
	}
}

// sumLayer rebuilds the layer row from the species rows.
func (p *processor) sumLayer() {
	bank := p.lps.Bank
	layer := bank.Row(LayerIndex)
	var (
		u        model.Utilization
		lhWeight [2]float64
	)
	for _, s := range bank.Indices() {
		row := bank.Row(s)
		for _, uc := range model.UtilizationClasses {
			add := func(dst *model.UtilizationVector, src *model.UtilizationVector) {
				dst.Set(uc, dst.Get(uc)+src.Get(uc))
			}
			add(&u.BasalArea, &row.BasalArea)
			add(&u.TreesPerHectare, &row.TreesPerHectare)
			add(&u.WholeStemVolume, &row.WholeStemVolume)
			add(&u.CloseUtilizationVolume, &row.CloseUtilizationVolume)
			add(&u.CUVolumeNetOfDecay, &row.CUVolumeNetOfDecay)
			add(&u.CUVolumeNetOfDecayAndWaste, &row.CUVolumeNetOfDecayAndWaste)
			add(&u.CUVolumeNetOfDecayWasteAndBreakage, &row.CUVolumeNetOfDecayWasteAndBreakage)
		}
		lhWeight[0] += row.BasalArea.Get(model.Small) * row.LoreyHeight.Get(model.Small)
		lhWeight[1] += row.BasalArea.Get(model.All) * row.LoreyHeight.Get(model.All)
	}
	for _, uc := range model.UtilizationClasses {
		u.QuadMeanDiameter.Set(uc, model.QuadMeanDiameter(u.BasalArea.Get(uc), u.TreesPerHectare.Get(uc)))
	}
	for i, uc := range []model.UtilizationClass{model.Small, model.All} {
		if b := u.BasalArea.Get(uc); b > 0 {
			u.LoreyHeight.Set(uc, lhWeight[i]/b)
		}
	}
	layer.Utilization = u

	baAll := u.BasalArea.Get(model.All)
	for _, s := range bank.Indices() {
		row := bank.Row(s)
		if baAll > 0 {
			row.PercentForestedLand = 100 * row.BasalArea.Get(model.All) / baAll
		}
	}
}
