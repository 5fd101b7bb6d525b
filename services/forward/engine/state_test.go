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

func TestLayerProcessingState_StepOrder(t *testing.T) {
	e := newTestEngine(t, DefaultSettings())
	pps, err := e.newPolygonState(testPolygon())
	require.NoError(t, err)
	lps := pps.Primary

	_, err = lps.Ranking()
	assert.ErrorIs(t, err, ErrStepOrder)
	assert.ErrorContains(t, err, StepDeterminePolygonRankings.String())

	_, err = lps.PrimaryIndex()
	assert.ErrorIs(t, err, ErrStepOrder)

	_, err = lps.PrimaryDetails()
	assert.ErrorIs(t, err, ErrStepOrder)
	assert.ErrorContains(t, err, StepCalculateDominantHeightAgeSiteIndex.String())

	_, err = lps.CompatibilityVariables(1)
	assert.ErrorIs(t, err, ErrStepOrder)
	assert.ErrorContains(t, err, StepSetCompatibilityVariables.String())
}

func TestProcessor_StepsNeedTheirPredecessors(t *testing.T) {
	t.Run("compatibility variables before site values", func(t *testing.T) {
		p := newTestProcessor(t, DefaultSettings())
		assert.ErrorIs(t, p.setCompatibilityVariables(), ErrStepOrder)
	})

	t.Run("growth before site values", func(t *testing.T) {
		p := newTestProcessor(t, DefaultSettings())
		assert.ErrorIs(t, p.grow(StepAll), ErrStepOrder)
	})

	t.Run("utilization before compatibility variables", func(t *testing.T) {
		p := newTestProcessor(t, DefaultSettings())
		p.lps.setPrimaryDetails(PrimarySpeciesDetails{DominantHeight: 18.5, SiteIndex: 18, AgeTotal: 60, YearsAtBreastHeight: 52, YearsToBreastHeight: 8})
		assert.ErrorIs(t, p.computeUtilizationComponents(), ErrStepOrder)
	})
}
