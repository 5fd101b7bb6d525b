// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package model

import (
	"fmt"
	"sort"
)

// LayerType identifies a vertical stratum of a polygon.
type LayerType string

const (
	// LayerPrimary is the main canopy. It is the only layer that grows.
	LayerPrimary LayerType = "PRIMARY"
	// LayerVeteran is the residual overstory.
	LayerVeteran LayerType = "VETERAN"
)

// Region is the coastal/interior split of the BEC zones.
type Region string

const (
	Coastal  Region = "C"
	Interior Region = "I"
)

// PolygonIdentifier names one stand record: the management unit plus the
// inventory year.
type PolygonIdentifier struct {
	Base string `json:"base" yaml:"base" validate:"required"`
	Year int    `json:"year" yaml:"year" validate:"gte=1900"`
}

func (id PolygonIdentifier) String() string {
	return fmt.Sprintf("%s %d", id.Base, id.Year)
}

// ForYear returns the identifier of the same stand at another year.
func (id PolygonIdentifier) ForYear(year int) PolygonIdentifier {
	return PolygonIdentifier{Base: id.Base, Year: year}
}

// Polygon is one forest inventory stand.
type Polygon struct {
	ID                  PolygonIdentifier    `json:"id" yaml:"id" validate:"required"`
	BecZone             string               `json:"bec_zone" yaml:"bec_zone" validate:"required"`
	ForestInventoryZone string               `json:"fiz,omitempty" yaml:"fiz,omitempty"`
	PercentAvailable    float64              `json:"percent_available" yaml:"percent_available" validate:"gte=0,lte=100"`
	TargetYear          Optional[int]        `json:"target_year,omitzero" yaml:"target_year,omitempty"`
	Layers              map[LayerType]*Layer `json:"layers" yaml:"layers" validate:"required,min=1,dive,keys,oneof=PRIMARY VETERAN,endkeys,required"`
}

// PrimaryLayer returns the primary layer, or nil.
func (p *Polygon) PrimaryLayer() *Layer {
	return p.Layers[LayerPrimary]
}

// VeteranLayer returns the veteran layer, or nil.
func (p *Polygon) VeteranLayer() *Layer {
	return p.Layers[LayerVeteran]
}

// Clone returns a deep copy of the polygon graph.
func (p *Polygon) Clone() *Polygon {
	out := *p
	out.Layers = make(map[LayerType]*Layer, len(p.Layers))
	for lt, l := range p.Layers {
		out.Layers[lt] = l.Clone()
	}
	return &out
}

// Utilization groups the per-utilization-class statistics shared by layers
// and species.
type Utilization struct {
	BasalArea                          UtilizationVector `json:"basal_area" yaml:"basal_area"`
	TreesPerHectare                    UtilizationVector `json:"trees_per_hectare" yaml:"trees_per_hectare"`
	QuadMeanDiameter                   UtilizationVector `json:"quad_mean_diameter" yaml:"quad_mean_diameter"`
	WholeStemVolume                    UtilizationVector `json:"whole_stem_volume" yaml:"whole_stem_volume"`
	CloseUtilizationVolume             UtilizationVector `json:"close_utilization_volume" yaml:"close_utilization_volume"`
	CUVolumeNetOfDecay                 UtilizationVector `json:"cu_volume_net_of_decay" yaml:"cu_volume_net_of_decay"`
	CUVolumeNetOfDecayAndWaste         UtilizationVector `json:"cu_volume_net_of_decay_and_waste" yaml:"cu_volume_net_of_decay_and_waste"`
	CUVolumeNetOfDecayWasteAndBreakage UtilizationVector `json:"cu_volume_net_of_decay_waste_and_breakage" yaml:"cu_volume_net_of_decay_waste_and_breakage"`
	LoreyHeight                        HeightVector      `json:"lorey_height" yaml:"lorey_height"`
}

// Layer is a vertical stratum of a polygon.
type Layer struct {
	LayerType                           LayerType           `json:"layer_type" yaml:"layer_type" validate:"oneof=PRIMARY VETERAN"`
	PrimaryGenus                        Optional[string]    `json:"primary_genus,omitzero" yaml:"primary_genus,omitempty"`
	InventoryTypeGroup                  Optional[int]       `json:"inventory_type_group,omitzero" yaml:"inventory_type_group,omitempty"`
	EmpiricalRelationshipParameterIndex Optional[int]       `json:"empirical_relationship_parameter_index,omitzero" yaml:"empirical_relationship_parameter_index,omitempty"`
	Species                             map[string]*Species `json:"species" yaml:"species" validate:"dive,required"`
	Utilization                         `yaml:",inline"`
}

// SortedSpecies returns the layer's species ordered by ascending genus index.
func (l *Layer) SortedSpecies() []*Species {
	out := make([]*Species, 0, len(l.Species))
	for _, s := range l.Species {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].GenusIndex != out[j].GenusIndex {
			return out[i].GenusIndex < out[j].GenusIndex
		}
		return out[i].Genus < out[j].Genus
	})
	return out
}

// Clone returns a deep copy of the layer and its species.
func (l *Layer) Clone() *Layer {
	out := *l
	out.Species = make(map[string]*Species, len(l.Species))
	for k, s := range l.Species {
		out.Species[k] = s.Clone()
	}
	return &out
}

// Sp64Share is one sp64 species code and its share of a genus.
type Sp64Share struct {
	Alias      string  `json:"alias" yaml:"alias" validate:"required"`
	Percentage float64 `json:"percentage" yaml:"percentage" validate:"gte=0,lte=100"`
}

// Species is one genus' share of a layer.
type Species struct {
	Genus            string      `json:"genus" yaml:"genus" validate:"required"`
	GenusIndex       int         `json:"genus_index" yaml:"genus_index" validate:"gte=1"`
	PercentGenus     float64     `json:"percent_genus" yaml:"percent_genus" validate:"gte=0,lte=100"`
	FractionGenus    float64     `json:"fraction_genus" yaml:"fraction_genus"`
	BreakageGroup    int         `json:"breakage_group" yaml:"breakage_group"`
	DecayGroup       int         `json:"decay_group" yaml:"decay_group"`
	VolumeGroup      int         `json:"volume_group" yaml:"volume_group"`
	Sp64Distribution []Sp64Share `json:"sp64_distribution,omitempty" yaml:"sp64_distribution,omitempty" validate:"dive"`
	Site             *Site       `json:"site,omitempty" yaml:"site,omitempty"`

	// CompatibilityVariables is only populated on output, when requested.
	CompatibilityVariables *CompatibilityVariables `json:"compatibility_variables,omitempty" yaml:"compatibility_variables,omitempty"`

	Utilization `yaml:",inline"`
}

// LeadSp64 returns the alias of the first sp64 entry, if any.
func (s *Species) LeadSp64() (string, bool) {
	if len(s.Sp64Distribution) == 0 {
		return "", false
	}
	return s.Sp64Distribution[0].Alias, true
}

// Clone returns a deep copy of the species.
func (s *Species) Clone() *Species {
	out := *s
	out.Sp64Distribution = append([]Sp64Share(nil), s.Sp64Distribution...)
	if s.Site != nil {
		site := *s.Site
		out.Site = &site
	}
	if s.CompatibilityVariables != nil {
		cv := *s.CompatibilityVariables
		out.CompatibilityVariables = &cv
	}
	return &out
}

// Site carries the height/age/productivity attributes of a species. Every
// field may be absent.
type Site struct {
	AgeTotal            Optional[float64] `json:"age_total,omitzero" yaml:"age_total,omitempty"`
	YearsAtBreastHeight Optional[float64] `json:"years_at_breast_height,omitzero" yaml:"years_at_breast_height,omitempty"`
	YearsToBreastHeight Optional[float64] `json:"years_to_breast_height,omitzero" yaml:"years_to_breast_height,omitempty"`
	SiteIndex           Optional[float64] `json:"site_index,omitzero" yaml:"site_index,omitempty"`
	DominantHeight      Optional[float64] `json:"dominant_height,omitzero" yaml:"dominant_height,omitempty"`
	SiteCurveNumber     Optional[int]     `json:"site_curve_number,omitzero" yaml:"site_curve_number,omitempty"`
}

// VolumeVariable selects one of the four adjusted volume variants.
type VolumeVariable int

const (
	WholeStemVolume VolumeVariable = iota
	CloseUtilVolume
	CloseUtilVolumeLessDecay
	CloseUtilVolumeLessDecayLessWastage
)

// NumVolumeVariables is the number of VolumeVariable values.
const NumVolumeVariables = 4

// SmallCompatibilityVariables are the single-valued corrections applied to
// the small (sub-merchantable) component of a species.
type SmallCompatibilityVariables struct {
	BasalArea        float64 `json:"basal_area" yaml:"basal_area"`
	QuadMeanDiameter float64 `json:"quad_mean_diameter" yaml:"quad_mean_diameter"`
	LoreyHeight      float64 `json:"lorey_height" yaml:"lorey_height"`
	WholeStemVolume  float64 `json:"whole_stem_volume" yaml:"whole_stem_volume"`
}

// CompatibilityVariables reconcile a species' estimated utilization
// components with its observed values.
type CompatibilityVariables struct {
	Volume           [NumVolumeVariables]UtilizationVector `json:"volume" yaml:"volume"`
	BasalArea        UtilizationVector                     `json:"basal_area" yaml:"basal_area"`
	QuadMeanDiameter UtilizationVector                     `json:"quad_mean_diameter" yaml:"quad_mean_diameter"`
	Small            SmallCompatibilityVariables           `json:"small" yaml:"small"`
}
