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
	smallMinDiameter = 4.01
	smallMaxDiameter = 7.49
)

// smallEstimate is the estimated small (under 7.5cm) component of one
// species.
type smallEstimate struct {
	BasalArea        float64
	QuadMeanDiameter float64
	LoreyHeight      float64
	TreesPerHectare  float64
	// MeanVolume is the whole stem volume of a mean small tree.
	MeanVolume      float64
	WholeStemVolume float64
}

// smallComponents estimates a species' small component from its stand
// level values. When cv is non-nil the small compatibility variables are
// applied.
func (p *processor) smallComponents(genus string, pspYabh, ba, lh, dq float64, cv *model.SmallCompatibilityVariables) (smallEstimate, error) {
	cm := p.eng.cm
	var out smallEstimate

	a, err := cm.SmallProbability(genus)
	if err != nil {
		return out, err
	}
	arg := a[0] + a[2]*pspYabh + a[3]*lh
	if p.lps.Region() == model.Coastal {
		arg += a[1]
	}
	probability := logistic(arg)

	b, err := cm.SmallBasalArea(genus)
	if err != nil {
		return out, err
	}
	available := p.pps.Polygon.PercentAvailable / 100
	baAdjusted := ba
	if available > 0 {
		baAdjusted *= available
	}
	conditional := math.Max((b[0]+b[2]*baAdjusted)*math.Exp(b[3]*lh), 0)
	if available > 0 {
		conditional /= available
	}
	out.BasalArea = probability * conditional

	d, err := cm.SmallQuadMeanDiameter(genus)
	if err != nil {
		return out, err
	}
	out.QuadMeanDiameter = 4 + 3.5*logistic(d[0]+d[1]*lh)

	h, err := cm.SmallLoreyHeight(genus)
	if err != nil {
		return out, err
	}
	out.LoreyHeight = 1.3 + (lh-1.3)*math.Exp(h[0]*(math.Pow(out.QuadMeanDiameter, h[1])-math.Pow(dq, h[1])))

	if cv != nil {
		out.BasalArea = math.Max(0, out.BasalArea+cv.BasalArea)
		out.QuadMeanDiameter = clamp(out.QuadMeanDiameter+cv.QuadMeanDiameter, smallMinDiameter, smallMaxDiameter)
		out.LoreyHeight = 1.3 + (out.LoreyHeight-1.3)*math.Exp(cv.LoreyHeight)
	}

	v, err := cm.SmallWholeStemVolume(genus)
	if err != nil {
		return out, err
	}
	out.MeanVolume = math.Exp(v[0] + v[1]*math.Log(out.QuadMeanDiameter) + v[2]*math.Log(out.LoreyHeight) + v[3]*out.QuadMeanDiameter)
	if cv != nil && p.eng.settings.Control.CompatibilityApplication >= 2 && out.MeanVolume > 0 {
		out.MeanVolume *= math.Exp(cv.WholeStemVolume)
	}

	out.TreesPerHectare = model.TreesPerHectare(out.BasalArea, out.QuadMeanDiameter)
	out.WholeStemVolume = out.TreesPerHectare * out.MeanVolume
	return out, nil
}

// growSmallComponents recomputes the small component of every species and
// of the layer from the grown stand values.
func (p *processor) growSmallComponents() error {
	bank := p.lps.Bank
	details, err := p.lps.PrimaryDetails()
	if err != nil {
		return err
	}
	apply := p.eng.settings.Control.CompatibilityApplication >= 1

	var baSum, tphSum, wsSum, lhWeighted float64
	for _, s := range bank.Indices() {
		row := bank.Row(s)
		var cv *model.SmallCompatibilityVariables
		if apply {
			all, err := p.lps.CompatibilityVariables(s)
			if err != nil {
				return err
			}
			cv = &all.Small
		}
		est, err := p.smallComponents(row.Genus, details.YearsAtBreastHeight,
			row.BasalArea.Get(model.All), row.LoreyHeight.Get(model.All), row.QuadMeanDiameter.Get(model.All), cv)
		if err != nil {
			return err
		}

		row.BasalArea.Set(model.Small, est.BasalArea)
		row.TreesPerHectare.Set(model.Small, est.TreesPerHectare)
		row.QuadMeanDiameter.Set(model.Small, est.QuadMeanDiameter)
		row.LoreyHeight.Set(model.Small, est.LoreyHeight)
		row.WholeStemVolume.Set(model.Small, est.WholeStemVolume)
		row.CloseUtilizationVolume.Set(model.Small, 0)
		row.CUVolumeNetOfDecay.Set(model.Small, 0)
		row.CUVolumeNetOfDecayAndWaste.Set(model.Small, 0)
		row.CUVolumeNetOfDecayWasteAndBreakage.Set(model.Small, 0)

		baSum += est.BasalArea
		tphSum += est.TreesPerHectare
		wsSum += est.WholeStemVolume
		lhWeighted += est.BasalArea * est.LoreyHeight
	}

	layer := bank.Row(LayerIndex)
	layer.BasalArea.Set(model.Small, baSum)
	layer.TreesPerHectare.Set(model.Small, tphSum)
	layer.WholeStemVolume.Set(model.Small, wsSum)
	if baSum > 0 {
		layer.LoreyHeight.Set(model.Small, lhWeighted/baSum)
		layer.QuadMeanDiameter.Set(model.Small, model.QuadMeanDiameter(baSum, tphSum))
	} else {
		layer.LoreyHeight.Set(model.Small, 0)
		layer.QuadMeanDiameter.Set(model.Small, 0)
	}
	return nil
}
