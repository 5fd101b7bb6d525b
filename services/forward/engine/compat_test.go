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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/VdypForward/services/forward/model"
)

// equationBasalAreas splits a species' ALL basal area into size bands by
// the utilization equations alone.
func equationBasalAreas(t *testing.T, p *processor, row *BankRow) model.UtilizationVector {
	t.Helper()
	var ba, tph, dq model.UtilizationVector
	ba.Set(model.All, row.BasalArea.Get(model.All))
	tph.Set(model.All, row.TreesPerHectare.Get(model.All))
	dq.Set(model.All, row.QuadMeanDiameter.Get(model.All))
	require.NoError(t, p.est.quadMeanDiameterByUtilization(row.Genus, &dq))
	require.NoError(t, p.est.basalAreaByUtilization(row.Genus, &dq, &ba))
	bandDensities(&ba, &tph, &dq)
	require.NoError(t, reconcileComponents(&ba, &tph, &dq))
	return ba
}

func TestSetCompatibilityVariables_ReproducesStartingValues(t *testing.T) {
	p := newPreparedProcessor(t, DefaultSettings())
	bank := p.lps.Bank
	details, err := p.lps.PrimaryDetails()
	require.NoError(t, err)

	var sums model.UtilizationVector
	for _, s := range bank.Indices() {
		row := bank.Row(s)
		cv, err := p.lps.CompatibilityVariables(s)
		require.NoError(t, err)

		est := equationBasalAreas(t, p, row)
		for _, uc := range model.SizeBands {
			got := est.Get(uc) + cv.BasalArea.Get(uc)
			assert.InDelta(t, row.BasalArea.Get(uc), got, 1e-9, "%s %s", row.Genus, uc)
			sums.Set(uc, sums.Get(uc)+got)
		}

		small, err := p.smallComponents(row.Genus, details.YearsAtBreastHeight, row.BasalArea.Get(model.All),
			row.LoreyHeight.Get(model.All), row.QuadMeanDiameter.Get(model.All), &cv.Small)
		require.NoError(t, err)
		assert.InDelta(t, row.BasalArea.Get(model.Small), small.BasalArea, 1e-9, row.Genus)
		assert.InDelta(t, row.QuadMeanDiameter.Get(model.Small), small.QuadMeanDiameter, 1e-9, row.Genus)
		assert.InDelta(t, row.LoreyHeight.Get(model.Small), small.LoreyHeight, 1e-9, row.Genus)
	}

	layer := bank.Row(LayerIndex)
	for _, uc := range model.SizeBands {
		assert.InDelta(t, layer.BasalArea.Get(uc), sums.Get(uc), 1e-9, uc.String())
	}
}

func TestVolumeLogitDifference(t *testing.T) {
	tests := []struct {
		name                    string
		actual, base, estimated float64
		want                    float64
	}{
		{"inside the range", 0.8, 1, 0.6, logit(0.8) - logit(0.6)},
		{"actual at the base", 1, 1, 0.6, 7 - logit(0.6)},
		{"nothing estimated", 0.8, 1, 0, logit(0.8) + 7},
		{"equal", 0.5, 2, 0.5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := volumeLogitDifference(tt.actual, tt.base, tt.estimated)
			assert.InDelta(t, tt.want, got, 1e-12)
			if r := tt.estimated / tt.base; r > 0 && r < 1 && tt.actual < tt.base {
				assert.InDelta(t, logit(tt.actual/tt.base), logit(r)+got, 1e-12, "estimate plus variable gives the actual")
			}
		})
	}
}

func TestWholeStemLogDifference(t *testing.T) {
	assert.InDelta(t, math.Log(2)-math.Log(4), wholeStemLogDifference(2, 1, 4), 1e-12)
	assert.InDelta(t, math.Log(3)+2, wholeStemLogDifference(3, 1, 0), 1e-12)
	assert.InDelta(t, -2-math.Log(0.5), wholeStemLogDifference(0, 2, 1), 1e-12)
}
