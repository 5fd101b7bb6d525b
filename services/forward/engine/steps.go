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
	"fmt"
	"strings"
)

// ExecutionStep names one stage of the forward pipeline. Steps are totally
// ordered; running up to a step runs every step before it.
type ExecutionStep int

const (
	StepNone ExecutionStep = iota
	StepCheckForWork
	StepCalculateMissingSiteCurves
	StepCalculateCoverages
	StepDeterminePolygonRankings
	StepEstimateMissingSiteIndices
	StepEstimateMissingYearsToBreastHeight
	StepCalculateDominantHeightAgeSiteIndex
	StepSetCompatibilityVariables
	StepGrow1LayerDominantHeightDelta
	StepGrow2LayerBasalAreaDelta
	StepGrow3LayerQuadMeanDiameterDelta
	StepGrow4LayerBasalAreaAndDensity
	StepGrow5ALoreyHeightEstimate
	StepGrow5SpeciesBasalAreaDiameterDensity
	StepGrow6LayerDensity
	StepGrow7LayerQuadMeanDiameter
	StepGrow8SpeciesLoreyHeight
	StepGrow9SpeciesPercent
	StepGrow10PrimarySpeciesDetails
	StepGrow11CompatibilityVariables
	StepGrow12SpeciesUtilization
	StepGrow13SpeciesSmallUtilization
	StepGrow
	StepAll
)

var stepNames = [...]string{
	"NONE",
	"CHECK_FOR_WORK",
	"CALCULATE_MISSING_SITE_CURVES",
	"CALCULATE_COVERAGES",
	"DETERMINE_POLYGON_RANKINGS",
	"ESTIMATE_MISSING_SITE_INDICES",
	"ESTIMATE_MISSING_YEARS_TO_BREAST_HEIGHT_VALUES",
	"CALCULATE_DOMINANT_HEIGHT_AGE_SITE_INDEX",
	"SET_COMPATIBILITY_VARIABLES",
	"GROW_1_LAYER_DHDELTA",
	"GROW_2_LAYER_BADELTA",
	"GROW_3_LAYER_DQDELTA",
	"GROW_4_LAYER_BA_AND_DQTPH_EST",
	"GROW_5A_LH_EST",
	"GROW_5_SPECIES_BADQTPH",
	"GROW_6_LAYER_TPH2",
	"GROW_7_LAYER_DQ2",
	"GROW_8_SPECIES_LH",
	"GROW_9_SPECIES_PCT",
	"GROW_10_PRIMARY_SPECIES_DETAILS",
	"GROW_11_COMPATIBILITY_VARS",
	"GROW_12_SPECIES_UC",
	"GROW_13_SPECIES_UC_SMALL",
	"GROW",
	"ALL",
}

// Steps returns every step in pipeline order.
func Steps() []ExecutionStep {
	out := make([]ExecutionStep, 0, len(stepNames))
	for s := StepNone; s <= StepAll; s++ {
		out = append(out, s)
	}
	return out
}

// Valid reports whether s is a pipeline step.
func (s ExecutionStep) Valid() bool {
	return s >= StepNone && s <= StepAll
}

// String returns the step's pipeline name.
func (s ExecutionStep) String() string {
	if !s.Valid() {
		return fmt.Sprintf("ExecutionStep(%d)", int(s))
	}
	return stepNames[s]
}

// Predecessor returns the step before s. NONE has none.
func (s ExecutionStep) Predecessor() (ExecutionStep, bool) {
	if s <= StepNone || !s.Valid() {
		return StepNone, false
	}
	return s - 1, true
}

// Successor returns the step after s. ALL has none.
func (s ExecutionStep) Successor() (ExecutionStep, bool) {
	if s >= StepAll || !s.Valid() {
		return StepAll, false
	}
	return s + 1, true
}

// isGrowStep reports whether s is one of the numbered GROW sub-steps.
func (s ExecutionStep) isGrowStep() bool {
	return s >= StepGrow1LayerDominantHeightDelta && s <= StepGrow13SpeciesSmallUtilization
}

// LookupStep finds a step by its pipeline name, ignoring case.
func LookupStep(name string) (ExecutionStep, error) {
	for i, n := range stepNames {
		if strings.EqualFold(n, name) {
			return ExecutionStep(i), nil
		}
	}
	return StepNone, fmt.Errorf("%w: %q", ErrUnknownStep, name)
}

// MarshalText implements encoding.TextMarshaler.
func (s ExecutionStep) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownStep, int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ExecutionStep) UnmarshalText(text []byte) error {
	step, err := LookupStep(string(text))
	if err != nil {
		return err
	}
	*s = step
	return nil
}
