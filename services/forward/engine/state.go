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
	"github.com/AleutianAI/VdypForward/services/forward/controlmap"
	"github.com/AleutianAI/VdypForward/services/forward/model"
)

// PrimarySpeciesDetails are the primary species site values the growth
// models run on.
type PrimarySpeciesDetails struct {
	DominantHeight      float64
	SiteIndex           float64
	AgeTotal            float64
	YearsAtBreastHeight float64
	YearsToBreastHeight float64
}

// Ranking is the outcome of DETERMINE_POLYGON_RANKINGS.
type Ranking struct {
	// Primary is the row with the largest combined percentage.
	Primary SpeciesIndex

	// Secondary is the runner-up, absent for single-species layers.
	Secondary model.Optional[SpeciesIndex]

	// InventoryTypeGroup classifies the species mix, 1..42.
	InventoryTypeGroup int

	// BasalAreaGroup selects the basal area upper bounds (GRPBA1).
	BasalAreaGroup int

	// Stratum selects the growth coefficient rows (GRPBA3).
	Stratum int
}

// LayerProcessingState is a Bank plus everything derived about its layer
// while it is processed.
//
// Thread Safety:
//
//	Not safe for concurrent use.
type LayerProcessingState struct {
	// Bank holds the working values.
	Bank *Bank

	// LayerType is the layer the Bank was built from.
	LayerType model.LayerType

	// BecZone is the polygon's BEC zone.
	BecZone controlmap.BecZone

	startBank *Bank

	volumeGroups   []int
	decayGroups    []int
	breakageGroups []int

	ranking *Ranking
	primary *PrimarySpeciesDetails

	cv    []model.CompatibilityVariables
	cvSet bool
}

// newLayerState builds the state of layer. Equation groups are looked up
// when withGroups is set; the veteran layer, which never grows, skips
// them.
func newLayerState(cm *controlmap.ControlMap, bec controlmap.BecZone, layer *model.Layer, withGroups bool) (*LayerProcessingState, error) {
	bank, err := NewBank(layer, IncludeByBasalArea)
	if err != nil {
		return nil, err
	}
	lps := &LayerProcessingState{
		Bank:      bank,
		LayerType: layer.LayerType,
		BecZone:   bec,
		startBank: bank.Copy(),
	}
	if !withGroups {
		return lps, nil
	}

	n := bank.NSpecies() + 1
	lps.volumeGroups = make([]int, n)
	lps.decayGroups = make([]int, n)
	lps.breakageGroups = make([]int, n)
	for _, i := range bank.Indices() {
		genus := bank.Row(i).Genus
		if lps.volumeGroups[i], err = cm.VolumeGroup(genus, bec.VolumeBec); err != nil {
			return nil, err
		}
		if lps.decayGroups[i], err = cm.DecayGroup(genus, bec.DecayBec); err != nil {
			return nil, err
		}
		if lps.breakageGroups[i], err = cm.BreakageGroup(genus, bec.DecayBec); err != nil {
			return nil, err
		}
	}
	return lps, nil
}

// Region is the region of the layer's BEC zone.
func (lps *LayerProcessingState) Region() model.Region {
	return lps.BecZone.Region
}

// NSpecies is the number of species rows.
func (lps *LayerProcessingState) NSpecies() int {
	return lps.Bank.NSpecies()
}

// Indices returns the species rows.
func (lps *LayerProcessingState) Indices() []SpeciesIndex {
	return lps.Bank.Indices()
}

// StartBank is the Bank as it was transferred, before any step ran.
func (lps *LayerProcessingState) StartBank() *Bank {
	return lps.startBank
}

// VolumeGroup, DecayGroup and BreakageGroup return the equation groups of
// row i.
func (lps *LayerProcessingState) VolumeGroup(i SpeciesIndex) int   { return lps.volumeGroups[i] }
func (lps *LayerProcessingState) DecayGroup(i SpeciesIndex) int    { return lps.decayGroups[i] }
func (lps *LayerProcessingState) BreakageGroup(i SpeciesIndex) int { return lps.breakageGroups[i] }

// Ranking returns the rankings, failing with ErrStepOrder if they were not
// yet determined.
func (lps *LayerProcessingState) Ranking() (*Ranking, error) {
	if lps.ranking == nil {
		return nil, stepOrderf(StepDeterminePolygonRankings, "polygon rankings")
	}
	return lps.ranking, nil
}

// PrimaryIndex returns the primary species row.
func (lps *LayerProcessingState) PrimaryIndex() (SpeciesIndex, error) {
	r, err := lps.Ranking()
	if err != nil {
		return 0, err
	}
	return r.Primary, nil
}

// PrimaryDetails returns the primary species site values.
func (lps *LayerProcessingState) PrimaryDetails() (*PrimarySpeciesDetails, error) {
	if lps.primary == nil {
		return nil, stepOrderf(StepCalculateDominantHeightAgeSiteIndex, "primary species details")
	}
	return lps.primary, nil
}

// setPrimaryDetails records d and fills in the primary row of the start
// Bank where it lacks a value.
func (lps *LayerProcessingState) setPrimaryDetails(d PrimarySpeciesDetails) {
	lps.primary = &d
	if lps.ranking == nil {
		return
	}
	row := lps.startBank.Row(lps.ranking.Primary)
	fill := func(o *model.Optional[float64], v float64) {
		if x, ok := o.Get(); !ok || x <= 0 {
			*o = model.Some(v)
		}
	}
	fill(&row.DominantHeight, d.DominantHeight)
	fill(&row.SiteIndex, d.SiteIndex)
	fill(&row.AgeTotal, d.AgeTotal)
	fill(&row.YearsAtBreastHeight, d.YearsAtBreastHeight)
	fill(&row.YearsToBreastHeight, d.YearsToBreastHeight)
}

// advancePrimaryDetails moves the primary details on one year.
func (lps *LayerProcessingState) advancePrimaryDetails(dominantHeight float64) {
	lps.primary.DominantHeight = dominantHeight
	lps.primary.AgeTotal++
	lps.primary.YearsAtBreastHeight++
}

// CompatibilityVariables returns the variables of row i.
func (lps *LayerProcessingState) CompatibilityVariables(i SpeciesIndex) (*model.CompatibilityVariables, error) {
	if !lps.cvSet {
		return nil, stepOrderf(StepSetCompatibilityVariables, "compatibility variables")
	}
	return &lps.cv[i], nil
}

func (lps *LayerProcessingState) setCompatibilityVariables(cv []model.CompatibilityVariables) {
	lps.cv = cv
	lps.cvSet = true
}

// updateCompatibilityVariablesAfterGrowth scales every variable by its
// between-period adjustment.
func (lps *LayerProcessingState) updateCompatibilityVariablesAfterGrowth(adj controlmap.CompatibilityAdjustments) {
	if !lps.cvSet {
		return
	}
	for _, i := range lps.Indices() {
		cv := &lps.cv[i]
		cv.Small.BasalArea *= adj.Small.BasalArea
		cv.Small.QuadMeanDiameter *= adj.Small.QuadMeanDiameter
		cv.Small.LoreyHeight *= adj.Small.LoreyHeight
		cv.Small.WholeStemVolume *= adj.Small.WholeStemVolume
		for _, uc := range model.SizeBands {
			cv.BasalArea.Set(uc, cv.BasalArea.Get(uc)*controlmap.Band(adj.BasalArea, uc))
			cv.QuadMeanDiameter.Set(uc, cv.QuadMeanDiameter.Get(uc)*controlmap.Band(adj.QuadMeanDiameter, uc))
			for v := range cv.Volume {
				vv := model.VolumeVariable(v)
				cv.Volume[v].Set(uc, cv.Volume[v].Get(uc)*adj.VolumeBand(vv, uc))
			}
		}
	}
}

// UpdatedLayer writes the Bank back into a layer, attaching compatibility
// variables when withCV is set.
func (lps *LayerProcessingState) UpdatedLayer(withCV bool) *model.Layer {
	layer := lps.Bank.UpdatedLayer()
	if withCV && lps.cvSet {
		for _, i := range lps.Indices() {
			cv := lps.cv[i]
			layer.Species[lps.Bank.Row(i).Genus].CompatibilityVariables = &cv
		}
	}
	if lps.ranking != nil {
		layer.PrimaryGenus = model.Some(lps.Bank.Row(lps.ranking.Primary).Genus)
		layer.InventoryTypeGroup = model.Some(lps.ranking.InventoryTypeGroup)
		layer.EmpiricalRelationshipParameterIndex = model.Some(lps.ranking.Stratum)
	}
	return layer
}

// PolygonProcessingState is the per-run state of one polygon.
type PolygonProcessingState struct {
	// Polygon is the working copy being advanced.
	Polygon *model.Polygon

	// Primary is the state of the primary layer.
	Primary *LayerProcessingState

	// Veteran is the state of the veteran layer, nil when absent.
	Veteran *LayerProcessingState
}

// veteranBasalArea returns the veteran layer's ALL basal area, if any.
func (pps *PolygonProcessingState) veteranBasalArea() model.Optional[float64] {
	if pps.Veteran == nil {
		return model.None[float64]()
	}
	return model.Some(pps.Veteran.Bank.Row(LayerIndex).BasalArea.Get(model.All))
}
