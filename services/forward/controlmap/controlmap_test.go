// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package controlmap

import (
	"strings"
	"testing"

	"github.com/AleutianAI/VdypForward/services/forward/model"
	"github.com/AleutianAI/VdypForward/services/forward/siteindex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixture = "testdata/control.yaml"

const minimalDoc = `
genera:
  - {alias: PL}
bec_zones:
  - {alias: IDF, region: I}
`

func loadFixture(t *testing.T) *ControlMap {
	t.Helper()
	cm, err := Load(fixture)
	require.NoError(t, err)
	return cm
}

func TestLoad_Fixture(t *testing.T) {
	cm := loadFixture(t)

	genera := cm.Genera()
	require.Len(t, genera, 16)
	assert.Equal(t, "AC", genera[0])
	assert.Equal(t, "Y", genera[15])

	idx, ok := cm.GenusIndex("PL")
	require.True(t, ok)
	assert.Equal(t, 12, idx)
	_, ok = cm.GenusIndex("XX")
	assert.False(t, ok)

	bec, err := cm.BecZone("IDF")
	require.NoError(t, err)
	assert.Equal(t, model.Interior, bec.Region)
	assert.Equal(t, "IDF", bec.GrowthBec, "empty growth alias defaults to the zone")
	assert.Equal(t, "IDF", bec.DecayBec)
	assert.Equal(t, "IDF", bec.VolumeBec)

	_, err = cm.BecZone("ZZZ")
	assert.ErrorIs(t, err, ErrMissingCoefficients)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("testdata/does-not-exist.yaml")
	require.Error(t, err)
}

func TestSiteCurves(t *testing.T) {
	cm := loadFixture(t)

	c, ok := cm.SiteCurve("PL", model.Interior)
	require.True(t, ok)
	assert.Equal(t, siteindex.CurvePLICieszewski, c)

	c, ok = cm.SiteCurve("F", model.Coastal)
	require.True(t, ok)
	assert.Equal(t, siteindex.CurveFDCBruce, c)

	_, ok = cm.SiteCurve("H", model.Interior)
	assert.False(t, ok)

	assert.Equal(t, 20.0, cm.SiteCurveAgeMaximum(siteindex.CurvePLICieszewski).T1)

	fallback := cm.SiteCurveAgeMaximum(siteindex.CurveFDCBruce)
	assert.Equal(t, 350.0, fallback.ForRegion(model.Interior))
	assert.Zero(t, fallback.T1)
}

func TestSiteIndexConversions(t *testing.T) {
	cm := loadFixture(t)
	table := cm.SiteIndexConversions()

	si, err := table.Convert("PLI", "FDC", model.Interior, 20)
	require.NoError(t, err)
	assert.InDelta(t, 21.7, si, 1e-9)

	_, err = table.Convert("PLI", "FDC", model.Coastal, 20)
	assert.ErrorIs(t, err, siteindex.ErrNoAnswer)
}

func TestEquationGroups(t *testing.T) {
	cm := loadFixture(t)

	g, err := cm.DefaultEquationGroup("PL", "IDF")
	require.NoError(t, err)
	assert.Equal(t, 30, g)

	mod, ok := cm.EquationModifier(30, 28)
	require.True(t, ok)
	assert.Equal(t, 31, mod)
	_, ok = cm.EquationModifier(30, 29)
	assert.False(t, ok)

	vg, err := cm.VolumeGroup("S", "IDF")
	require.NoError(t, err)
	assert.Equal(t, 2, vg)

	_, err = cm.DecayGroup("H", "IDF")
	assert.ErrorIs(t, err, ErrMissingCoefficients)
}

func TestBounds(t *testing.T) {
	cm := loadFixture(t)

	ub, err := cm.UpperBounds(31)
	require.NoError(t, err)
	assert.Equal(t, UpperBound{BasalArea: 70, QuadMeanDiameter: 42}, ub)

	rub, err := cm.RegionalUpperBounds(model.Interior, "F")
	require.NoError(t, err)
	assert.Equal(t, 82.0, rub.BasalArea)

	_, err = cm.RegionalUpperBounds(model.Coastal, "F")
	assert.ErrorIs(t, err, ErrMissingCoefficients)

	lim, err := cm.ComponentSizeLimits("PL", model.Interior)
	require.NoError(t, err)
	assert.Equal(t, 3.0, lim.MaxDiameterHeightRatio)
	assert.Equal(t, 0.3, lim.MinDiameterHeightRatio)
}

func TestStratumFallback(t *testing.T) {
	cm := loadFixture(t)

	c, err := cm.NonPrimaryBasalAreaGrowth("F", 8)
	require.NoError(t, err)
	assert.Equal(t, -0.01, c[0])

	c, err = cm.NonPrimaryBasalAreaGrowth("F", 10)
	require.NoError(t, err)
	assert.Equal(t, -0.005, c[0], "unknown stratum falls back to stratum 0")

	_, err = cm.NonPrimaryQuadMeanDiameterGrowth("H", 8)
	assert.ErrorIs(t, err, ErrMissingCoefficients)

	p, err := cm.PrimaryBasalAreaGrowth(10)
	require.NoError(t, err)
	assert.Equal(t, 8, p.Model)
}

func TestNonPrimaryLoreyHeight(t *testing.T) {
	cm := loadFixture(t)

	h := cm.NonPrimaryLoreyHeight("S", "PL", model.Interior)
	assert.Equal(t, NonPrimaryHeight{Equation: 2, A0: 0.9, A1: 1}, h)

	h = cm.NonPrimaryLoreyHeight("PL", "F", model.Interior)
	assert.Equal(t, NonPrimaryHeight{Equation: 1, A0: 1, A1: 1}, h)
}

func TestCoefficientTables(t *testing.T) {
	cm := loadFixture(t)

	y, ok := cm.BasalAreaYield("IDF", "F")
	require.True(t, ok)
	assert.Len(t, y, 7)
	_, ok = cm.BasalAreaYield("CWH", "F")
	assert.False(t, ok)

	ba, err := cm.BasalAreaByUtilization(model.U125To175, "PL", "IDF")
	require.NoError(t, err)
	assert.Equal(t, []float64{-0.575, 0.1}, ba)

	dq, err := cm.QuadMeanDiameterByUtilization(model.Over225, "S", "IDF")
	require.NoError(t, err)
	assert.Len(t, dq, 4)

	cu, err := cm.CloseUtilization(model.U175To225, 2)
	require.NoError(t, err)
	assert.Equal(t, 1.5, cu[0])

	assert.Equal(t, 0.1, cm.DecayModifier("F", model.Interior))
	assert.Zero(t, cm.DecayModifier("PL", model.Interior))
	assert.Equal(t, -0.1, cm.WasteModifier("S", model.Interior))

	_, err = cm.NetWaste("H")
	assert.ErrorIs(t, err, ErrMissingCoefficients)
}

func TestCompatibilityAdjustments_Defaults(t *testing.T) {
	cm := loadFixture(t)
	adj := cm.CompatibilityAdjustments()

	assert.Equal(t, 1.0, adj.Small.BasalArea)
	assert.Equal(t, 1.0, adj.LoreyHeightPrimary)
	assert.Equal(t, 1.0, Band(adj.BasalArea, model.U75To125), "omitted arrays keep their default")
	assert.Equal(t, 1.0, adj.VolumeBand(model.CloseUtilVolumeLessDecay, model.Over225))

	cm, err := Decode(strings.NewReader(minimalDoc + `
compatibility_adjustments:
  volume:
    close_utilization: [0.5, 0.6, 0.7, 0.8]
  lorey_height_other: 0.25
`))
	require.NoError(t, err)
	adj = cm.CompatibilityAdjustments()
	assert.Equal(t, 0.7, adj.VolumeBand(model.CloseUtilVolume, model.U175To225))
	assert.Equal(t, 1.0, adj.VolumeBand(model.WholeStemVolume, model.U175To225))
	assert.Equal(t, 0.25, adj.LoreyHeightOther)
	assert.Equal(t, 1.0, adj.LoreyHeightPrimary)
}

func TestGrowthFiat(t *testing.T) {
	cm := loadFixture(t)
	fiat, err := cm.BasalAreaGrowthFiat(model.Interior)
	require.NoError(t, err)

	assert.InDelta(t, 0.3, fiat.Coefficient(0.5), 1e-12)
	assert.InDelta(t, 0.225, fiat.Coefficient(25.5), 1e-12)
	assert.InDelta(t, 0.1, fiat.Coefficient(100), 1e-12)
	assert.InDelta(t, 0.05, fiat.Coefficient(400), 1e-12)

	assert.Equal(t, 1.0, fiat.EmpiricalProportion(30))
	assert.InDelta(t, 0.5, fiat.EmpiricalProportion(95), 1e-12)
	assert.Equal(t, 0.0, fiat.EmpiricalProportion(150))

	assert.Zero(t, GrowthFiat{}.Coefficient(10))
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "empty document", doc: ""},
		{name: "unknown table", doc: minimalDoc + "not_a_table: []\n"},
		{name: "missing genera", doc: "bec_zones:\n  - {alias: IDF, region: I}\n"},
		{name: "bad region", doc: "genera:\n  - {alias: PL}\nbec_zones:\n  - {alias: IDF, region: X}\n"},
		{name: "duplicate genus", doc: "genera:\n  - {alias: PL}\n  - {alias: PL}\nbec_zones:\n  - {alias: IDF, region: I}\n"},
		{name: "short coefficient row", doc: minimalDoc + "basal_area_yield:\n  - {bec: IDF, genus: PL, coefficients: [1, 2]}\n"},
		{name: "duplicate key", doc: minimalDoc + "net_waste:\n  - {genus: PL, coefficients: [0, 0, 0, 0, 0, 0]}\n  - {genus: PL, coefficients: [0, 0, 0, 0, 0, 0]}\n"},
		{name: "bad primary model", doc: minimalDoc + "primary_basal_area_growth:\n  - {stratum: 1, model: 4, coefficients: [0, 0, 0]}\n"},
		{name: "inverted ratio limits", doc: minimalDoc + "component_size_limits:\n  - {genus: PL, region: I, lorey_height_maximum: 40, quad_mean_diameter_maximum: 50, min_dq_lh_ratio: 2, max_dq_lh_ratio: 1}\n"},
		{name: "fiat ages decrease", doc: minimalDoc + "basal_area_growth_fiat:\n  - region: I\n    points: [{age: 50, coefficient: 0.1}, {age: 10, coefficient: 0.2}]\n    mixed: [1, 2, 1]\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.doc))
			assert.ErrorIs(t, err, ErrInvalidControlMap)
		})
	}
}

func TestFile_RoundTripsThroughNew(t *testing.T) {
	cm := loadFixture(t)
	again, err := New(cm.File())
	require.NoError(t, err)
	assert.Equal(t, cm.Genera(), again.Genera())
}
