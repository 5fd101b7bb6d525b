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
	"github.com/AleutianAI/VdypForward/services/forward/model"
)

// File is the on-disk shape of a control map.
type File struct {
	Genera   []Genus   `yaml:"genera" validate:"required,min=1,dive"`
	BecZones []BecZone `yaml:"bec_zones" validate:"required,min=1,dive"`

	SiteCurves           []SiteCurveRow           `yaml:"site_curves" validate:"dive"`
	SiteCurveAgeMaximums []AgeMaximumRow          `yaml:"site_curve_age_maximums" validate:"dive"`
	SiteIndexConversions []SiteIndexConversionRow `yaml:"site_index_conversions" validate:"dive"`

	DefaultEquationGroups []EquationGroupRow    `yaml:"default_equation_groups" validate:"dive"`
	EquationModifiers     []EquationModifierRow `yaml:"equation_modifiers" validate:"dive"`
	VolumeGroups          []EquationGroupRow    `yaml:"volume_groups" validate:"dive"`
	DecayGroups           []EquationGroupRow    `yaml:"decay_groups" validate:"dive"`
	BreakageGroups        []EquationGroupRow    `yaml:"breakage_groups" validate:"dive"`

	UpperBounds                     []UpperBoundRow         `yaml:"upper_bounds" validate:"dive"`
	RegionalUpperBounds             []RegionalUpperBoundRow `yaml:"regional_upper_bounds" validate:"dive"`
	ComponentSizeLimits             []ComponentSizeLimitRow `yaml:"component_size_limits" validate:"dive"`
	BasalAreaYield                  []GenusBecCoefficients  `yaml:"basal_area_yield" validate:"dive"`
	QuadMeanDiameterYield           []GenusBecCoefficients  `yaml:"quad_mean_diameter_yield" validate:"dive"`
	BasalAreaGrowthFiat             []GrowthFiatRow         `yaml:"basal_area_growth_fiat" validate:"dive"`
	QuadMeanDiameterGrowthFiat      []GrowthFiatRow         `yaml:"quad_mean_diameter_growth_fiat" validate:"dive"`
	BasalAreaGrowthEmpirical        []GenusBecCoefficients  `yaml:"basal_area_growth_empirical" validate:"dive"`
	QuadMeanDiameterGrowthEmpirical []StratumCoefficients   `yaml:"quad_mean_diameter_growth_empirical" validate:"dive"`
	QuadMeanDiameterGrowthLimits    []StratumCoefficients   `yaml:"quad_mean_diameter_growth_limits" validate:"dive"`

	PrimaryBasalAreaGrowth           []PrimaryBasalAreaGrowthRow `yaml:"primary_basal_area_growth" validate:"dive"`
	NonPrimaryBasalAreaGrowth        []GenusStratumCoefficients  `yaml:"non_primary_basal_area_growth" validate:"dive"`
	PrimaryQuadMeanDiameterGrowth    []StratumCoefficients       `yaml:"primary_quad_mean_diameter_growth" validate:"dive"`
	NonPrimaryQuadMeanDiameterGrowth []GenusStratumCoefficients  `yaml:"non_primary_quad_mean_diameter_growth" validate:"dive"`

	PrimaryLoreyHeight        []GenusRegionCoefficients `yaml:"primary_lorey_height" validate:"dive"`
	NonPrimaryLoreyHeight     []NonPrimaryHeightRow     `yaml:"non_primary_lorey_height" validate:"dive"`
	QuadMeanDiameterBySpecies []GenusCoefficients       `yaml:"quad_mean_diameter_by_species" validate:"dive"`

	BasalAreaByUtilization        []ClassGenusBecCoefficients `yaml:"basal_area_by_utilization" validate:"dive"`
	QuadMeanDiameterByUtilization []ClassGenusBecCoefficients `yaml:"quad_mean_diameter_by_utilization" validate:"dive"`
	WholeStemVolumePerTree        []GroupCoefficients         `yaml:"whole_stem_volume_per_tree" validate:"dive"`
	WholeStemUtilization          []ClassGroupCoefficients    `yaml:"whole_stem_utilization" validate:"dive"`
	CloseUtilization              []ClassGroupCoefficients    `yaml:"close_utilization" validate:"dive"`
	NetDecay                      []ClassGroupCoefficients    `yaml:"net_decay" validate:"dive"`
	NetWaste                      []GenusCoefficients         `yaml:"net_waste" validate:"dive"`
	NetBreakage                   []GroupCoefficients         `yaml:"net_breakage" validate:"dive"`
	DecayModifiers                []GenusRegionValue          `yaml:"decay_modifiers" validate:"dive"`
	WasteModifiers                []GenusRegionValue          `yaml:"waste_modifiers" validate:"dive"`

	SmallProbability      []GenusCoefficients `yaml:"small_probability" validate:"dive"`
	SmallBasalArea        []GenusCoefficients `yaml:"small_basal_area" validate:"dive"`
	SmallQuadMeanDiameter []GenusCoefficients `yaml:"small_quad_mean_diameter" validate:"dive"`
	SmallLoreyHeight      []GenusCoefficients `yaml:"small_lorey_height" validate:"dive"`
	SmallWholeStemVolume  []GenusCoefficients `yaml:"small_whole_stem_volume" validate:"dive"`

	CompatibilityAdjustments CompatibilityAdjustments `yaml:"compatibility_adjustments"`
}

// Genus is one genus (sp0) code. Its index is its 1-based position in the
// list.
type Genus struct {
	Alias string `yaml:"alias" validate:"required"`
	Name  string `yaml:"name"`
}

// BecZone is a biogeoclimatic zone. The growth, decay and volume aliases
// name the zone whose coefficients stand in for this one; each defaults to
// the zone itself.
type BecZone struct {
	Alias     string       `yaml:"alias" validate:"required"`
	Name      string       `yaml:"name"`
	Region    model.Region `yaml:"region" validate:"oneof=C I"`
	GrowthBec string       `yaml:"growth_bec"`
	DecayBec  string       `yaml:"decay_bec"`
	VolumeBec string       `yaml:"volume_bec"`
}

// SiteCurveRow maps a genus or sp64 alias to its default site curve per
// region.
type SiteCurveRow struct {
	Species  string `yaml:"species" validate:"required"`
	Coastal  int    `yaml:"coastal" validate:"gt=0"`
	Interior int    `yaml:"interior" validate:"gt=0"`
}

// AgeMaximumRow bounds the calibrated range of a site curve. Curve 0 is the
// default row.
type AgeMaximumRow struct {
	Curve    int     `yaml:"curve" validate:"gte=0"`
	Coastal  float64 `yaml:"coastal"`
	Interior float64 `yaml:"interior"`
	T1       float64 `yaml:"t1"`
	T2       float64 `yaml:"t2"`
}

// SiteIndexConversionRow is a linear site index conversion between two
// species within a region.
type SiteIndexConversionRow struct {
	From      string       `yaml:"from" validate:"required"`
	To        string       `yaml:"to" validate:"required"`
	Region    model.Region `yaml:"region" validate:"oneof=C I"`
	Intercept float64      `yaml:"intercept"`
	Slope     float64      `yaml:"slope"`
}

// EquationGroupRow assigns an equation group to a genus in a BEC zone.
type EquationGroupRow struct {
	Genus string `yaml:"genus" validate:"required"`
	Bec   string `yaml:"bec" validate:"required"`
	Group int    `yaml:"group" validate:"gt=0"`
}

// EquationModifierRow replaces a default equation group for one inventory
// type group.
type EquationModifierRow struct {
	DefaultGroup       int `yaml:"default_group" validate:"gt=0"`
	InventoryTypeGroup int `yaml:"inventory_type_group" validate:"gt=0"`
	Group              int `yaml:"group" validate:"gt=0"`
}

// UpperBoundRow caps basal area and QMD by basal area group.
type UpperBoundRow struct {
	Group            int     `yaml:"group" validate:"gt=0"`
	BasalArea        float64 `yaml:"basal_area" validate:"gt=0"`
	QuadMeanDiameter float64 `yaml:"quad_mean_diameter" validate:"gt=0"`
}

// RegionalUpperBoundRow caps basal area and QMD by region and leading
// genus.
type RegionalUpperBoundRow struct {
	Region           model.Region `yaml:"region" validate:"oneof=C I"`
	Genus            string       `yaml:"genus" validate:"required"`
	BasalArea        float64      `yaml:"basal_area" validate:"gt=0"`
	QuadMeanDiameter float64      `yaml:"quad_mean_diameter" validate:"gt=0"`
}

// ComponentSizeLimitRow bounds a genus' Lorey height and QMD, and the ratio
// of QMD to Lorey height.
type ComponentSizeLimitRow struct {
	Genus                   string       `yaml:"genus" validate:"required"`
	Region                  model.Region `yaml:"region" validate:"oneof=C I"`
	LoreyHeightMaximum      float64      `yaml:"lorey_height_maximum" validate:"gt=0"`
	QuadMeanDiameterMaximum float64      `yaml:"quad_mean_diameter_maximum" validate:"gt=0"`
	MinDiameterHeightRatio  float64      `yaml:"min_dq_lh_ratio" validate:"gte=0"`
	MaxDiameterHeightRatio  float64      `yaml:"max_dq_lh_ratio" validate:"gtfield=MinDiameterHeightRatio"`
}

// GrowthFiatPoint is one (age, coefficient) knot of a fiat growth
// convergence curve.
type GrowthFiatPoint struct {
	Age         float64 `yaml:"age" validate:"gt=0"`
	Coefficient float64 `yaml:"coefficient"`
}

// GrowthFiatRow is the fiat growth model of one region.
type GrowthFiatRow struct {
	Region model.Region      `yaml:"region" validate:"oneof=C I"`
	Points []GrowthFiatPoint `yaml:"points" validate:"max=4,dive"`
	Mixed  []float64         `yaml:"mixed" validate:"len=3"`
}

type GenusBecCoefficients struct {
	Bec          string    `yaml:"bec" validate:"required"`
	Genus        string    `yaml:"genus" validate:"required"`
	Coefficients []float64 `yaml:"coefficients" validate:"required"`
}

type StratumCoefficients struct {
	Stratum      int       `yaml:"stratum" validate:"gte=0"`
	Coefficients []float64 `yaml:"coefficients" validate:"required"`
}

type GenusStratumCoefficients struct {
	Genus        string    `yaml:"genus" validate:"required"`
	Stratum      int       `yaml:"stratum" validate:"gte=0"`
	Coefficients []float64 `yaml:"coefficients" validate:"len=3"`
}

// PrimaryBasalAreaGrowthRow selects the primary species basal area share
// model for a stratum. Models 3, 8 and 9 are defined.
type PrimaryBasalAreaGrowthRow struct {
	Stratum      int       `yaml:"stratum" validate:"gte=0"`
	Model        int       `yaml:"model" validate:"oneof=3 8 9"`
	Coefficients []float64 `yaml:"coefficients" validate:"len=3"`
}

type GenusRegionCoefficients struct {
	Genus        string       `yaml:"genus" validate:"required"`
	Region       model.Region `yaml:"region" validate:"oneof=C I"`
	Coefficients []float64    `yaml:"coefficients" validate:"len=3"`
}

// NonPrimaryHeightRow estimates a non-primary species' Lorey height from
// the primary species' dominant height (equation 1) or Lorey height
// (equation 2).
type NonPrimaryHeightRow struct {
	Genus        string       `yaml:"genus" validate:"required"`
	PrimaryGenus string       `yaml:"primary_genus" validate:"required"`
	Region       model.Region `yaml:"region" validate:"oneof=C I"`
	Equation     int          `yaml:"equation" validate:"oneof=1 2"`
	Coefficients []float64    `yaml:"coefficients" validate:"len=2"`
}

type GenusCoefficients struct {
	Genus        string    `yaml:"genus" validate:"required"`
	Coefficients []float64 `yaml:"coefficients" validate:"required"`
}

type ClassGenusBecCoefficients struct {
	Class        model.UtilizationClass `yaml:"class" validate:"gte=1,lte=4"`
	Genus        string                 `yaml:"genus" validate:"required"`
	Bec          string                 `yaml:"bec" validate:"required"`
	Coefficients []float64              `yaml:"coefficients" validate:"required"`
}

type GroupCoefficients struct {
	Group        int       `yaml:"group" validate:"gt=0"`
	Coefficients []float64 `yaml:"coefficients" validate:"required"`
}

type ClassGroupCoefficients struct {
	Class        model.UtilizationClass `yaml:"class" validate:"gte=1,lte=4"`
	Group        int                    `yaml:"group" validate:"gt=0"`
	Coefficients []float64              `yaml:"coefficients" validate:"required"`
}

type GenusRegionValue struct {
	Genus  string       `yaml:"genus" validate:"required"`
	Region model.Region `yaml:"region" validate:"oneof=C I"`
	Value  float64      `yaml:"value"`
}

// SmallAdjustments multiply the small-component compatibility variables
// after each growth period.
type SmallAdjustments struct {
	BasalArea        float64 `yaml:"basal_area"`
	QuadMeanDiameter float64 `yaml:"quad_mean_diameter"`
	LoreyHeight      float64 `yaml:"lorey_height"`
	WholeStemVolume  float64 `yaml:"whole_stem_volume"`
}

// VolumeAdjustments multiply the volume compatibility variables, one value
// per size band.
type VolumeAdjustments struct {
	WholeStem          [4]float64 `yaml:"whole_stem"`
	CloseUtilization   [4]float64 `yaml:"close_utilization"`
	NetOfDecay         [4]float64 `yaml:"net_of_decay"`
	NetOfDecayAndWaste [4]float64 `yaml:"net_of_decay_and_waste"`
}

// CompatibilityAdjustments are the multipliers applied to compatibility
// variables between growth periods, plus the Lorey height blend weights.
// Values left out of the file default to 1.
type CompatibilityAdjustments struct {
	Small              SmallAdjustments  `yaml:"small"`
	BasalArea          [4]float64        `yaml:"basal_area"`
	QuadMeanDiameter   [4]float64        `yaml:"quad_mean_diameter"`
	Volume             VolumeAdjustments `yaml:"volume"`
	LoreyHeightPrimary float64           `yaml:"lorey_height_primary"`
	LoreyHeightOther   float64           `yaml:"lorey_height_other"`
}

// DefaultCompatibilityAdjustments returns adjustments of 1 everywhere.
func DefaultCompatibilityAdjustments() CompatibilityAdjustments {
	ones := [4]float64{1, 1, 1, 1}
	return CompatibilityAdjustments{
		Small:            SmallAdjustments{BasalArea: 1, QuadMeanDiameter: 1, LoreyHeight: 1, WholeStemVolume: 1},
		BasalArea:        ones,
		QuadMeanDiameter: ones,
		Volume: VolumeAdjustments{
			WholeStem:          ones,
			CloseUtilization:   ones,
			NetOfDecay:         ones,
			NetOfDecayAndWaste: ones,
		},
		LoreyHeightPrimary: 1,
		LoreyHeightOther:   1,
	}
}

// Band returns the adjustment for size band uc from a per-band array.
func Band(values [4]float64, uc model.UtilizationClass) float64 {
	return values[int(uc)-1]
}

// VolumeBand returns the adjustment for volume variable v in band uc.
func (a CompatibilityAdjustments) VolumeBand(v model.VolumeVariable, uc model.UtilizationClass) float64 {
	switch v {
	case model.WholeStemVolume:
		return Band(a.Volume.WholeStem, uc)
	case model.CloseUtilVolume:
		return Band(a.Volume.CloseUtilization, uc)
	case model.CloseUtilVolumeLessDecay:
		return Band(a.Volume.NetOfDecay, uc)
	default:
		return Band(a.Volume.NetOfDecayAndWaste, uc)
	}
}
