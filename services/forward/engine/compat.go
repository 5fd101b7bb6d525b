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
	// volumeBaseMinimum is the smallest base volume a volume compatibility
	// variable is computed from under control variable 5.
	volumeBaseMinimum = 0.1

	// basalAreaBaseMinimum is the matching basal area minimum.
	basalAreaBaseMinimum = 0.01
)

// defaultBandDiameters stand in for missing band QMDs.
var defaultBandDiameters = map[model.UtilizationClass]float64{
	model.U75To125:  10,
	model.U125To175: 15,
	model.U175To225: 20,
	model.Over225:   25,
}

// setCompatibilityVariables computes, for every species, the corrections
// that make the utilization and volume equations reproduce the species'
// starting values.
func (p *processor) setCompatibilityVariables() error {
	bank := p.lps.Bank
	details, err := p.lps.PrimaryDetails()
	if err != nil {
		return err
	}
	ctl := p.eng.settings.Control
	cvs := make([]model.CompatibilityVariables, bank.NSpecies()+1)

	for _, s := range bank.Indices() {
		row := bank.Row(s)
		cv := &cvs[s]
		lh := row.LoreyHeight.Get(model.All)

		dq := row.QuadMeanDiameter
		for uc, d := range defaultBandDiameters {
			if dq.Get(uc) <= 0 {
				dq.Set(uc, d)
			}
		}

		var zero model.UtilizationVector

		// Each volume level is estimated from the actual level below it, so
		// the variable isolates the one equation.
		ndw := model.UtilizationVector{}
		cuv, ndv := row.CloseUtilizationVolume, row.CUVolumeNetOfDecay
		if err := p.est.netDecayWasteVolume(row.Genus, lh, &zero, &dq, &cuv, &ndv, &ndw); err != nil {
			return err
		}
		nd := model.UtilizationVector{}
		if err := p.est.netDecayVolume(row.Genus, p.lps.DecayGroup(s), details.YearsAtBreastHeight, &zero, &dq, &cuv, &nd); err != nil {
			return err
		}
		cu := model.UtilizationVector{}
		wsv := row.WholeStemVolume
		if err := p.est.closeUtilizationVolume(p.lps.VolumeGroup(s), lh, &zero, &dq, &wsv, &cu); err != nil {
			return err
		}

		for _, uc := range model.SizeBands {
			vol := &cv.Volume
			if base := row.CUVolumeNetOfDecay.Get(uc); ctl.allowCalculation(base, volumeBaseMinimum, false) {
				vol[model.CloseUtilVolumeLessDecayLessWastage].Set(uc,
					volumeLogitDifference(row.CUVolumeNetOfDecayAndWaste.Get(uc), base, ndw.Get(uc)))
			}
			if base := row.CloseUtilizationVolume.Get(uc); ctl.allowCalculation(base, volumeBaseMinimum, false) {
				vol[model.CloseUtilVolumeLessDecay].Set(uc,
					volumeLogitDifference(row.CUVolumeNetOfDecay.Get(uc), base, nd.Get(uc)))
			}
			if base := row.WholeStemVolume.Get(uc); ctl.allowCalculation(base, volumeBaseMinimum, false) {
				vol[model.CloseUtilVolume].Set(uc,
					volumeLogitDifference(row.CloseUtilizationVolume.Get(uc), base, cu.Get(uc)))
			}
		}

		ba := row.BasalArea
		if ba.SumBands() > 0 {
			perTree, err := p.est.wholeStemVolumePerTree(p.lps.VolumeGroup(s), lh, dq.Get(model.All))
			if err != nil {
				return err
			}
			ws := model.UtilizationVector{}
			ws.Set(model.All, row.TreesPerHectare.Get(model.All)*perTree)
			if err := p.est.wholeStemVolume(p.lps.VolumeGroup(s), lh, &dq, &ba, &ws); err != nil {
				return err
			}
			for _, uc := range model.SizeBands {
				if b := ba.Get(uc); ctl.allowCalculation(b, basalAreaBaseMinimum, false) {
					cv.Volume[model.WholeStemVolume].Set(uc, wholeStemLogDifference(row.WholeStemVolume.Get(uc), b, ws.Get(uc)))
				}
			}
		}

		// Size band basal area and QMD as the equations would place them.
		est := model.UtilizationVector{}
		est.Set(model.All, row.QuadMeanDiameter.Get(model.All))
		estBA := model.UtilizationVector{}
		estBA.Set(model.All, row.BasalArea.Get(model.All))
		estTPH := model.UtilizationVector{}
		estTPH.Set(model.All, row.TreesPerHectare.Get(model.All))
		if err := p.est.quadMeanDiameterByUtilization(row.Genus, &est); err != nil {
			return err
		}
		if err := p.est.basalAreaByUtilization(row.Genus, &est, &estBA); err != nil {
			return err
		}
		for _, uc := range model.SizeBands {
			estTPH.Set(uc, model.TreesPerHectare(estBA.Get(uc), est.Get(uc)))
		}
		if err := reconcileComponents(&estBA, &estTPH, &est); err != nil {
			return err
		}

		for _, uc := range model.SizeBands {
			cv.BasalArea.Set(uc, row.BasalArea.Get(uc)-estBA.Get(uc))
			orig, adjusted := row.QuadMeanDiameter.Get(uc), est.Get(uc)
			switch {
			case ctl.AllowCompatibilityCalculation == 1 && orig < basalAreaBaseMinimum:
			case orig > 0 && adjusted > 0:
				cv.QuadMeanDiameter.Set(uc, orig-adjusted)
			}
		}

		small, err := p.smallCompatibilityVariables(s, details.YearsAtBreastHeight)
		if err != nil {
			return err
		}
		cv.Small = small
	}

	p.lps.setCompatibilityVariables(cvs)
	return nil
}

// smallCompatibilityVariables compares the species' input small component
// with the small component equations.
func (p *processor) smallCompatibilityVariables(s SpeciesIndex, pspYabh float64) (model.SmallCompatibilityVariables, error) {
	row := p.lps.Bank.Row(s)
	ctl := p.eng.settings.Control
	lh := row.LoreyHeight.Get(model.All)

	est, err := p.smallComponents(row.Genus, pspYabh, row.BasalArea.Get(model.All), lh, row.QuadMeanDiameter.Get(model.All), nil)
	if err != nil {
		return model.SmallCompatibilityVariables{}, err
	}

	var out model.SmallCompatibilityVariables
	baSmall := row.BasalArea.Get(model.Small)
	out.BasalArea = baSmall - est.BasalArea
	if ctl.allowCalculation(baSmall, basalAreaBaseMinimum, false) {
		out.QuadMeanDiameter = row.QuadMeanDiameter.Get(model.Small) - est.QuadMeanDiameter
	}
	if lhSmall := row.LoreyHeight.Get(model.Small); lhSmall > 1.3 && est.LoreyHeight > 1.3 && baSmall > 0 {
		out.LoreyHeight = math.Log((lhSmall - 1.3) / (est.LoreyHeight - 1.3))
	}
	wsSmall := row.WholeStemVolume.Get(model.Small)
	if wsSmall > 0 && est.MeanVolume > 0 && ctl.allowCalculation(baSmall, basalAreaBaseMinimum, true) {
		out.WholeStemVolume = math.Log(wsSmall / row.TreesPerHectare.Get(model.Small) / est.MeanVolume)
	}
	return out, nil
}

// volumeLogitDifference is the logit of actual/base less the logit of
// estimated/base, each clamped to [-7, 7].
func volumeLogitDifference(actual, base, estimated float64) float64 {
	l := func(v float64) float64 {
		r := v / base
		switch {
		case r <= 0:
			return -7
		case r >= 1:
			return 7
		default:
			return clamp(logit(r), -7, 7)
		}
	}
	return l(actual) - l(estimated)
}

// wholeStemLogDifference is ln(actual/ba) less ln(estimated/ba), with
// non-positive ratios read as -2.
func wholeStemLogDifference(actual, ba, estimated float64) float64 {
	l := func(v float64) float64 {
		if r := v / ba; r > 0 {
			return math.Log(r)
		}
		return -2
	}
	return l(actual) - l(estimated)
}
