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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSettings_Valid(t *testing.T) {
	require.NoError(t, DefaultSettings().Validate())
}

func TestDebugSettingsFromValues(t *testing.T) {
	d, err := DebugSettingsFromValues([]int{2, 5, 1, 0, 0, 2, 0, 1, 1, 0, 3})
	require.NoError(t, err)
	assert.Equal(t, DynamicsPartial, d.SpeciesDynamics)
	assert.Equal(t, 5, d.MaxBreastHeightAge)
	assert.Equal(t, GrowthEmpirical, d.BasalAreaGrowthModel)
	assert.Equal(t, GrowthMixed, d.QuadMeanDiameterGrowthModel)
	assert.Equal(t, 1, d.LoreyHeightStrategy)
	assert.Equal(t, 1, d.LimitBasalAreaWhenDiameterLimited)
	assert.Equal(t, 3, d.FillIn[0])

	v, err := d.Value(11)
	require.NoError(t, err)
	assert.Equal(t, 3, v)
	v, err = d.Value(7)
	require.NoError(t, err)
	assert.Zero(t, v, "unassigned slots read as 0")
	_, err = d.Value(26)
	assert.ErrorIs(t, err, ErrInvalidSettings)

	_, err = DebugSettingsFromValues(make([]int, MaxDebugSettings+1))
	assert.ErrorIs(t, err, ErrInvalidSettings)
}

func TestSettings_ValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{name: "species dynamics", mutate: func(s *Settings) { s.Debug.SpeciesDynamics = 3 }},
		{name: "max breast height age", mutate: func(s *Settings) { s.Debug.MaxBreastHeightAge = 10 }},
		{name: "basal area model", mutate: func(s *Settings) { s.Debug.BasalAreaGrowthModel = -1 }},
		{name: "upper bounds source", mutate: func(s *Settings) { s.Debug.UpperBoundsSource = 3 }},
		{name: "lorey height strategy", mutate: func(s *Settings) { s.Debug.LoreyHeightStrategy = 3 }},
		{name: "fill in", mutate: func(s *Settings) { s.Debug.FillIn[4] = 16 }},
		{name: "grow target gap", mutate: func(s *Settings) { s.Control.GrowTarget = 1000 }},
		{name: "grow target too late", mutate: func(s *Settings) { s.Control.GrowTarget = 2401 }},
		{name: "compatibility output", mutate: func(s *Settings) { s.Control.CompatibilityOutput = 3 }},
		{name: "output years", mutate: func(s *Settings) { s.Control.OutputYears = 5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.mutate(&s)
			assert.ErrorIs(t, s.Validate(), ErrInvalidSettings)
		})
	}
}

func TestControlVariables_TargetYear(t *testing.T) {
	polygonTarget := func() (int, bool) { return 2050, true }
	noTarget := func() (int, bool) { return 0, false }

	tests := []struct {
		name   string
		grow   int
		target func() (int, bool)
		want   int
	}{
		{name: "polygon target", grow: -1, target: polygonTarget, want: 2050},
		{name: "no growth", grow: 0, target: noTarget, want: 2000},
		{name: "relative", grow: 25, target: noTarget, want: 2025},
		{name: "absolute", grow: 2100, target: noTarget, want: 2100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ControlVariables{GrowTarget: tt.grow}.TargetYear(2000, tt.target)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ControlVariables{GrowTarget: -1}.TargetYear(2000, noTarget)
	assert.ErrorIs(t, err, ErrMissingValue)
}

func TestControlVariables_AllowCalculation(t *testing.T) {
	off := ControlVariables{AllowCompatibilityCalculation: 0}
	assert.True(t, off.allowCalculation(0.05, 0.1, false))
	assert.False(t, off.allowCalculation(0, 0.1, false))

	on := ControlVariables{AllowCompatibilityCalculation: 1}
	assert.False(t, on.allowCalculation(0.05, 0.1, false))
	assert.False(t, on.allowCalculation(0.1, 0.1, false))
	assert.True(t, on.allowCalculation(0.1, 0.1, true))
}
