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
	"context"
	"io"
	"math"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/VdypForward/services/forward/controlmap"
	"github.com/AleutianAI/VdypForward/services/forward/model"
)

const controlFixture = "../controlmap/testdata/control.yaml"

func loadControlMap(t *testing.T) *controlmap.ControlMap {
	t.Helper()
	cm, err := controlmap.Load(controlFixture)
	require.NoError(t, err)
	return cm
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, settings Settings, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	e, err := New(loadControlMap(t), settings, opts...)
	require.NoError(t, err)
	return e
}

// testSpecies builds a species whose merchantable stand sits in the band
// holding dq, with volumes in plausible proportions.
func testSpecies(genus string, genusIndex int, sp64 string, ba, dq, lh float64, site *model.Site) *model.Species {
	s := &model.Species{
		Genus:            genus,
		GenusIndex:       genusIndex,
		Sp64Distribution: []model.Sp64Share{{Alias: sp64, Percentage: 100}},
		Site:             site,
	}
	band := model.Over225
	for _, uc := range model.SizeBands {
		if dq < uc.HighBound() {
			band = uc
			break
		}
	}
	tph := model.TreesPerHectare(ba, dq)
	ws := ba * lh * 0.45
	for _, uc := range []model.UtilizationClass{model.All, band} {
		s.BasalArea.Set(uc, ba)
		s.TreesPerHectare.Set(uc, tph)
		s.QuadMeanDiameter.Set(uc, dq)
		s.WholeStemVolume.Set(uc, ws)
		s.CloseUtilizationVolume.Set(uc, ws*0.9)
		s.CUVolumeNetOfDecay.Set(uc, ws*0.9*0.95)
		s.CUVolumeNetOfDecayAndWaste.Set(uc, ws*0.9*0.95*0.97)
		s.CUVolumeNetOfDecayWasteAndBreakage.Set(uc, ws*0.9*0.95*0.97*0.97)
	}
	s.LoreyHeight.Set(model.All, lh)
	s.BasalArea.Set(model.Small, 0.2)
	s.TreesPerHectare.Set(model.Small, 80)
	s.QuadMeanDiameter.Set(model.Small, model.QuadMeanDiameter(0.2, 80))
	s.LoreyHeight.Set(model.Small, 6)
	s.WholeStemVolume.Set(model.Small, 0.4)
	return s
}

func testSite(age, ytbh, si, dh float64) *model.Site {
	return &model.Site{
		AgeTotal:            model.Some(age),
		YearsToBreastHeight: model.Some(ytbh),
		SiteIndex:           model.Some(si),
		DominantHeight:      model.Some(dh),
	}
}

// testPolygon is an interior PL-F-S stand: PL 60%, F 25%, S 15%.
func testPolygon() *model.Polygon {
	species := []*model.Species{
		testSpecies("F", 7, "FD", 7.5, 21, 16.5, testSite(62, 9, 19, 19)),
		testSpecies("PL", 12, "PLI", 18, 20, 16, testSite(60, 8, 18, 18.5)),
		testSpecies("S", 15, "SW", 4.5, 19, 15.5, testSite(58, 10, 17, 17)),
	}
	layer := &model.Layer{LayerType: model.LayerPrimary, Species: map[string]*model.Species{}}
	for _, s := range species {
		layer.Species[s.Genus] = s
		for _, uc := range model.UtilizationClasses {
			layer.BasalArea.Set(uc, layer.BasalArea.Get(uc)+s.BasalArea.Get(uc))
			layer.TreesPerHectare.Set(uc, layer.TreesPerHectare.Get(uc)+s.TreesPerHectare.Get(uc))
		}
	}
	for _, uc := range model.UtilizationClasses {
		layer.QuadMeanDiameter.Set(uc, model.QuadMeanDiameter(layer.BasalArea.Get(uc), layer.TreesPerHectare.Get(uc)))
	}
	layer.LoreyHeight.Set(model.All, (18*16+7.5*16.5+4.5*15.5)/30)
	layer.LoreyHeight.Set(model.Small, 6)

	return &model.Polygon{
		ID:               model.PolygonIdentifier{Base: "01002 S000001 00", Year: 2020},
		BecZone:          "IDF",
		PercentAvailable: 90,
		TargetYear:       model.Some(2023),
		Layers:           map[model.LayerType]*model.Layer{model.LayerPrimary: layer},
	}
}

func TestNew(t *testing.T) {
	cm := loadControlMap(t)

	t.Run("defaults", func(t *testing.T) {
		e, err := New(cm, DefaultSettings())
		require.NoError(t, err)
		assert.Same(t, cm, e.ControlMap())
		assert.Equal(t, DefaultSettings(), e.Settings())
		assert.NotNil(t, e.sites)
	})

	t.Run("nil control map", func(t *testing.T) {
		_, err := New(nil, DefaultSettings())
		assert.ErrorIs(t, err, ErrInvalidSettings)
	})

	t.Run("invalid settings", func(t *testing.T) {
		s := DefaultSettings()
		s.Debug.SpeciesDynamics = 3
		_, err := New(cm, s)
		assert.ErrorIs(t, err, ErrInvalidSettings)
	})

	t.Run("bad combine group", func(t *testing.T) {
		_, err := New(cm, DefaultSettings(), WithCombineGroups([][]string{{"PL", "PA", "PW"}}))
		assert.ErrorIs(t, err, ErrInvalidSettings)
	})
}

func TestProcessPolygonUpTo_Rankings(t *testing.T) {
	e := newTestEngine(t, DefaultSettings())
	in := testPolygon()

	res, err := e.ProcessPolygonUpTo(context.Background(), in, StepDeterminePolygonRankings)
	require.NoError(t, err)
	require.NotNil(t, res.Polygon)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 2023, res.TargetYear)
	assert.Empty(t, res.Years, "no snapshots before growth")

	layer := res.Polygon.PrimaryLayer()
	assert.Equal(t, model.Some("PL"), layer.PrimaryGenus)
	assert.Equal(t, model.Some(29), layer.InventoryTypeGroup)
	assert.Equal(t, model.Some(8), layer.EmpiricalRelationshipParameterIndex)
	assert.InDelta(t, 60.0, layer.Species["PL"].PercentGenus, 1e-9)
	assert.InDelta(t, 25.0, layer.Species["F"].PercentGenus, 1e-9)
	assert.InDelta(t, 15.0, layer.Species["S"].PercentGenus, 1e-9)
}

func TestProcessPolygonUpTo_SiteCurves(t *testing.T) {
	e := newTestEngine(t, DefaultSettings())

	res, err := e.ProcessPolygonUpTo(context.Background(), testPolygon(), StepCalculateMissingSiteCurves)
	require.NoError(t, err)
	species := res.Polygon.PrimaryLayer().Species
	assert.Equal(t, model.Some(47), species["PL"].Site.SiteCurveNumber)
	assert.Equal(t, model.Some(16), species["F"].Site.SiteCurveNumber)
	assert.Equal(t, model.Some(67), species["S"].Site.SiteCurveNumber)
}

func TestProcessPolygon_DoesNotModifyInput(t *testing.T) {
	e := newTestEngine(t, DefaultSettings())
	in := testPolygon()
	before := in.Clone()

	_, err := e.ProcessPolygonUpTo(context.Background(), in, StepSetCompatibilityVariables)
	require.NoError(t, err)
	assert.Equal(t, before, in)
}

func TestProcessPolygon_Errors(t *testing.T) {
	e := newTestEngine(t, DefaultSettings())

	t.Run("unknown step", func(t *testing.T) {
		_, err := e.ProcessPolygonUpTo(context.Background(), testPolygon(), ExecutionStep(99))
		assert.ErrorIs(t, err, ErrUnknownStep)
	})

	t.Run("nil polygon", func(t *testing.T) {
		_, err := e.ProcessPolygon(context.Background(), nil)
		var pe *ProcessingError
		require.ErrorAs(t, err, &pe)
		assert.ErrorIs(t, err, ErrMissingValue)
	})

	t.Run("year before 1900", func(t *testing.T) {
		p := testPolygon()
		p.ID.Year = 1850
		_, err := e.ProcessPolygon(context.Background(), p)
		assert.ErrorIs(t, err, model.ErrInvalidPolygon)
	})

	t.Run("no species with basal area", func(t *testing.T) {
		p := testPolygon()
		for _, s := range p.PrimaryLayer().Species {
			s.BasalArea.Set(model.All, 0)
		}
		_, err := e.ProcessPolygon(context.Background(), p)
		var pe *ProcessingError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, StepCheckForWork, pe.Step)
		assert.ErrorIs(t, err, ErrNoWork)
		assert.Equal(t, p.ID, pe.Polygon)
	})

	t.Run("missing target year", func(t *testing.T) {
		p := testPolygon()
		p.TargetYear = model.None[int]()
		_, err := e.ProcessPolygon(context.Background(), p)
		assert.ErrorIs(t, err, ErrMissingValue)
	})

	t.Run("unknown bec zone", func(t *testing.T) {
		p := testPolygon()
		p.BecZone = "ZZZ"
		_, err := e.ProcessPolygon(context.Background(), p)
		assert.ErrorIs(t, err, controlmap.ErrMissingCoefficients)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := e.ProcessPolygon(ctx, testPolygon())
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestProcessPolygonUpTo_LayerGrowthSteps(t *testing.T) {
	e := newTestEngine(t, DefaultSettings())
	in := testPolygon()

	res, err := e.ProcessPolygonUpTo(context.Background(), in, StepGrow4LayerBasalAreaAndDensity)
	require.NoError(t, err)
	require.Len(t, res.Years, 2, "start year and the partial first year")
	assert.Equal(t, 2020, res.Years[0].Year)
	assert.Equal(t, 2021, res.Years[1].Year)
	assert.Equal(t, 2021, res.Polygon.ID.Year)

	layer := res.Polygon.PrimaryLayer()
	ba := layer.BasalArea.Get(model.All)
	dq := layer.QuadMeanDiameter.Get(model.All)
	assert.Greater(t, ba, 0.0)
	assert.GreaterOrEqual(t, dq, 7.6)
	assert.InDelta(t, model.TreesPerHectare(ba, dq), layer.TreesPerHectare.Get(model.All), 1e-6)
}

func TestProcessPolygonUpTo_ShortStand(t *testing.T) {
	e := newTestEngine(t, DefaultSettings())
	in := testPolygon()
	for _, s := range in.PrimaryLayer().Species {
		s.Site.AgeTotal = model.Some(14.0)
		s.Site.DominantHeight = model.Some(4.2)
	}

	res, err := e.ProcessPolygonUpTo(context.Background(), in, StepGrow4LayerBasalAreaAndDensity)
	require.NoError(t, err)
	layer := res.Polygon.PrimaryLayer()
	dq := layer.QuadMeanDiameter.Get(model.All)
	require.False(t, math.IsNaN(dq))
	assert.GreaterOrEqual(t, dq, 7.6)
	assert.False(t, math.IsNaN(layer.TreesPerHectare.Get(model.All)))
}

func TestProcessPolygonUpTo_Grow8LeavesLayerLoreyHeight(t *testing.T) {
	e := newTestEngine(t, DefaultSettings())
	in := testPolygon()
	lhStart := in.PrimaryLayer().LoreyHeight.Get(model.All)

	res, err := e.ProcessPolygonUpTo(context.Background(), in, StepGrow8SpeciesLoreyHeight)
	require.NoError(t, err)
	layer := res.Polygon.PrimaryLayer()
	assert.InDelta(t, lhStart, layer.LoreyHeight.Get(model.All), 1e-9, "the layer height is re-summed at GROW_12")
	assert.NotEqual(t, 16.0, layer.Species["PL"].LoreyHeight.Get(model.All), "species heights grow at GROW_8")
}

func TestProcessPolygon_GrowsToTargetYear(t *testing.T) {
	tests := []struct {
		name     string
		dynamics int
	}{
		{name: "no dynamics", dynamics: DynamicsNone},
		{name: "full dynamics", dynamics: DynamicsFull},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			s.Debug.SpeciesDynamics = tt.dynamics
			e := newTestEngine(t, s)

			res, err := e.ProcessPolygon(context.Background(), testPolygon())
			require.NoError(t, err)
			require.Len(t, res.Years, 4)
			for i, y := range res.Years {
				assert.Equal(t, 2020+i, y.Year)
				assert.Equal(t, 2020+i, y.Polygon.ID.Year)
			}
			assert.Equal(t, 2023, res.Polygon.ID.Year)

			layer := res.Polygon.PrimaryLayer()
			var baSum, pctSum float64
			for _, sp := range layer.Species {
				baSum += sp.BasalArea.Get(model.All)
				pctSum += sp.PercentGenus
				assert.GreaterOrEqual(t, sp.BasalArea.Get(model.All), 0.0, sp.Genus)
			}
			assert.InDelta(t, layer.BasalArea.Get(model.All), baSum, 1e-6)
			assert.InDelta(t, 100.0, pctSum, 1e-6)

			pl := layer.Species["PL"].Site
			age, ok := pl.AgeTotal.Get()
			require.True(t, ok)
			assert.Equal(t, 63.0, age)
			dh, ok := pl.DominantHeight.Get()
			require.True(t, ok)
			assert.Greater(t, dh, 18.5)
		})
	}
}

func TestOutputYear(t *testing.T) {
	tests := []struct {
		name      string
		selection int
		year      int
		want      bool
	}{
		{name: "none", selection: OutputNone, year: 2000, want: false},
		{name: "first year written", selection: OutputFirstYear, year: 2000, want: true},
		{name: "first year skips later", selection: OutputFirstYear, year: 2001, want: false},
		{name: "first and last skips middle", selection: OutputFirstAndLast, year: 2010, want: false},
		{name: "first and last writes last", selection: OutputFirstAndLast, year: 2025, want: true},
		{name: "all", selection: OutputAllYears, year: 2013, want: true},
		{name: "tenth year", selection: OutputFirstTenthsLast, year: 2020, want: true},
		{name: "not a tenth year", selection: OutputFirstTenthsLast, year: 2013, want: false},
		{name: "last of tenths", selection: OutputFirstTenthsLast, year: 2025, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, outputYear(tt.selection, 2000, tt.year, 2025))
		})
	}
}

func TestProcessPolygon_OutputSelection(t *testing.T) {
	s := DefaultSettings()
	s.Debug.SpeciesDynamics = DynamicsNone
	s.Control.OutputYears = OutputFirstAndLast
	s.Control.CompatibilityOutput = 1
	e := newTestEngine(t, s)

	res, err := e.ProcessPolygon(context.Background(), testPolygon())
	require.NoError(t, err)
	require.Len(t, res.Years, 2)
	assert.Equal(t, 2020, res.Years[0].Year)
	assert.Equal(t, 2023, res.Years[1].Year)

	assert.NotNil(t, res.Years[0].Polygon.PrimaryLayer().Species["PL"].CompatibilityVariables, "first year carries compatibility variables")
	assert.Nil(t, res.Years[1].Polygon.PrimaryLayer().Species["PL"].CompatibilityVariables)
}
