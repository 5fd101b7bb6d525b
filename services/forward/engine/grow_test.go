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

	"github.com/AleutianAI/VdypForward/services/forward/model"
)

// newTestProcessor prepares the test polygon with PL ranked primary, as
// DETERMINE_POLYGON_RANKINGS leaves it.
func newTestProcessor(t *testing.T, settings Settings) *processor {
	t.Helper()
	e := newTestEngine(t, settings)
	pps, err := e.newPolygonState(testPolygon())
	require.NoError(t, err)
	p := &processor{
		eng:    e,
		pps:    pps,
		lps:    pps.Primary,
		est:    estimator{cm: e.cm, bec: pps.Primary.BecZone},
		logger: quietLogger(),
	}
	pl, ok := p.lps.Bank.Lookup("PL")
	require.True(t, ok)
	f, _ := p.lps.Bank.Lookup("F")
	p.lps.ranking = &Ranking{Primary: pl, Secondary: model.Some(f), InventoryTypeGroup: 29, BasalAreaGroup: 30, Stratum: 8}
	return p
}

// newPreparedProcessor runs the test polygon through every step before
// growth, as ProcessPolygon does.
func newPreparedProcessor(t *testing.T, settings Settings) *processor {
	t.Helper()
	e := newTestEngine(t, settings)
	pps, err := e.newPolygonState(testPolygon())
	require.NoError(t, err)
	p := &processor{
		eng:    e,
		pps:    pps,
		lps:    pps.Primary,
		est:    estimator{cm: e.cm, bec: pps.Primary.BecZone},
		logger: quietLogger(),
	}
	steps := []func() error{
		p.stopIfNoWork,
		p.calculateMissingSiteCurves,
		p.calculateCoverages,
		p.determinePolygonRankings,
		p.estimateMissingSiteIndices,
		p.estimateMissingYearsToBreastHeight,
		p.calculateDominantHeightAgeSiteIndex,
		p.setCompatibilityVariables,
	}
	for _, step := range steps {
		require.NoError(t, step())
	}
	return p
}

func TestGrowWithoutSpeciesDynamics(t *testing.T) {
	p := newTestProcessor(t, DefaultSettings())
	bank := p.lps.Bank
	f, _ := bank.Lookup("F")
	tphStart := bank.Row(f).TreesPerHectare.Get(model.All)

	p.growWithoutSpeciesDynamics(0.1, 0.95)

	row := bank.Row(f)
	assert.InDelta(t, 8.25, row.BasalArea.Get(model.All), 1e-9)
	assert.InDelta(t, tphStart*0.95, row.TreesPerHectare.Get(model.All), 1e-9)
	assert.InDelta(t, model.QuadMeanDiameter(8.25, tphStart*0.95), row.QuadMeanDiameter.Get(model.All), 1e-9)
}

func TestGrowWithoutSpeciesDynamics_DiameterFloor(t *testing.T) {
	p := newTestProcessor(t, DefaultSettings())
	row := p.lps.Bank.Row(1)
	row.BasalArea.Set(model.All, 1)
	row.QuadMeanDiameter.Set(model.All, 7.6)
	row.TreesPerHectare.Set(model.All, model.TreesPerHectare(1, 7.6))

	p.growWithoutSpeciesDynamics(0, 1.5)

	assert.Equal(t, minimumSpeciesDiameter, row.QuadMeanDiameter.Get(model.All))
	assert.InDelta(t, model.TreesPerHectare(1, minimumSpeciesDiameter), row.TreesPerHectare.Get(model.All), 1e-9)
}

func TestLoreyHeightEstimates(t *testing.T) {
	p := newTestProcessor(t, DefaultSettings())

	// 1.3 + (20 - 1.3) * (0.9 - 0.1 + 0.1 * exp(0))
	lh, err := p.primaryLoreyHeightEstimate("PL", 20, 100)
	require.NoError(t, err)
	assert.InDelta(t, 18.13, lh, 1e-9)

	lh, err = p.nonPrimaryLoreyHeightEstimate("F", "PL", 20, 18)
	require.NoError(t, err)
	assert.InDelta(t, 1.3+0.95*18.7, lh, 1e-9, "equation 1 follows dominant height")

	lh, err = p.nonPrimaryLoreyHeightEstimate("S", "PL", 20, 18)
	require.NoError(t, err)
	assert.InDelta(t, 1.3+0.9*16.7, lh, 1e-9, "equation 2 follows the primary Lorey height")

	lh, err = p.nonPrimaryLoreyHeightEstimate("PL", "F", 20, 18)
	require.NoError(t, err)
	assert.InDelta(t, 20.0, lh, 1e-9, "unlisted pairs use the identity")
}

func TestGrowLoreyHeights(t *testing.T) {
	p := newTestProcessor(t, DefaultSettings())
	bank := p.lps.Bank
	pl, _ := bank.Lookup("PL")
	pspTph := bank.Row(pl).TreesPerHectare.Get(model.All)
	before := map[SpeciesIndex]float64{}
	for _, s := range bank.Indices() {
		before[s] = bank.Row(s).LoreyHeight.Get(model.All)
	}

	require.NoError(t, p.growLoreyHeights(18.5, 18.5, pspTph, pspTph, before[pl]))
	for _, s := range bank.Indices() {
		assert.InDelta(t, before[s], bank.Row(s).LoreyHeight.Get(model.All), 1e-9, bank.Row(s).Genus)
	}

	require.NoError(t, p.growLoreyHeights(18.5, 19, pspTph, pspTph, before[pl]))
	for _, s := range bank.Indices() {
		assert.Greater(t, bank.Row(s).LoreyHeight.Get(model.All), before[s], bank.Row(s).Genus)
	}
}

func TestGrowLoreyHeights_StrategyKeepsUnchangedStands(t *testing.T) {
	s := DefaultSettings()
	s.Debug.LoreyHeightStrategy = 2
	p := newTestProcessor(t, s)
	bank := p.lps.Bank
	pl, _ := bank.Lookup("PL")
	lh := bank.Row(pl).LoreyHeight.Get(model.All)

	// A changed density would move the primary height under strategy 0.
	require.NoError(t, p.growLoreyHeights(18.5, 18.5, 500, 400, lh))
	assert.Equal(t, lh, bank.Row(pl).LoreyHeight.Get(model.All))
}

func TestSetLayerLoreyHeight(t *testing.T) {
	p := newTestProcessor(t, DefaultSettings())
	p.lps.Bank.Row(LayerIndex).LoreyHeight.Set(model.All, 0)

	p.setLayerLoreyHeight()
	assert.InDelta(t, (18*16+7.5*16.5+4.5*15.5)/30, p.lps.Bank.Row(LayerIndex).LoreyHeight.Get(model.All), 1e-9)
}

func TestSpeciesDiameterDelta(t *testing.T) {
	zero := []float64{0, 0, 0}

	assert.InDelta(t, 0.5, speciesDiameterDelta(zero, 20, 0.5, 20, 16, 16), 1e-9, "a species at the layer QMD tracks it")

	// Ratio (15 - 7.45) / (20 - 7.45) carries over to the grown layer.
	want := (15-speciesDiameterBase)/(20-speciesDiameterBase)*(21-speciesDiameterBase) + speciesDiameterBase - 15
	assert.InDelta(t, want, speciesDiameterDelta(zero, 20, 1, 15, 16, 14), 1e-9)

	assert.InDelta(t, minimumSpeciesDiameter-7.6, speciesDiameterDelta(zero, 20, -12, 7.6, 16, 10), 1e-9, "floored at the minimum")
}

func TestYieldAge(t *testing.T) {
	p := newTestProcessor(t, DefaultSettings())
	age, err := p.yieldAge(250)
	require.NoError(t, err)
	assert.Equal(t, 250.0, age)

	_, err = p.yieldAge(0)
	assert.ErrorIs(t, err, ErrInvalidState)

	s := DefaultSettings()
	s.Debug.MaxBreastHeightAge = 1
	p = newTestProcessor(t, s)
	age, err = p.yieldAge(250)
	require.NoError(t, err)
	assert.Equal(t, 100.0, age)
}

func TestUpperBounds(t *testing.T) {
	p := newTestProcessor(t, DefaultSettings())
	ba, dq, err := p.upperBounds()
	require.NoError(t, err)
	assert.Equal(t, 72.0, ba)
	assert.Equal(t, 44.0, dq)

	s := DefaultSettings()
	s.Debug.UpperBoundsSource = BoundsByGroup
	p = newTestProcessor(t, s)
	ba, dq, err = p.upperBounds()
	require.NoError(t, err)
	assert.Equal(t, 75.0, ba)
	assert.Equal(t, 45.0, dq)
}
