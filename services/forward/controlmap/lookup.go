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
	"fmt"
	"math"

	"github.com/AleutianAI/VdypForward/services/forward/model"
	"github.com/AleutianAI/VdypForward/services/forward/siteindex"
)

// GrowthFiat is a fiat growth model: a piecewise linear convergence
// coefficient over breast height age, plus the three coefficients that
// blend fiat and empirical growth.
type GrowthFiat struct {
	Points []GrowthFiatPoint
	Mixed  [3]float64
}

// Coefficient interpolates the convergence coefficient at age. Ages outside
// the knots take the nearest end value; no knots yields 0.
func (g GrowthFiat) Coefficient(age float64) float64 {
	n := len(g.Points)
	switch {
	case n == 0:
		return 0
	case age <= g.Points[0].Age:
		return g.Points[0].Coefficient
	case age >= g.Points[n-1].Age:
		return g.Points[n-1].Coefficient
	}
	for i := 1; i < n; i++ {
		lo, hi := g.Points[i-1], g.Points[i]
		if age < hi.Age {
			return lo.Coefficient + (hi.Coefficient-lo.Coefficient)*(age-lo.Age)/(hi.Age-lo.Age)
		}
	}
	return g.Points[n-1].Coefficient
}

// EmpiricalProportion is the weight given to the empirical model at
// breast height age yabh: 1 below Mixed[0], 0 from Mixed[1], with a power
// transition of exponent Mixed[2] between.
func (g GrowthFiat) EmpiricalProportion(yabh float64) float64 {
	m0, m1, m2 := g.Mixed[0], g.Mixed[1], g.Mixed[2]
	switch {
	case yabh <= m0:
		return 1
	case yabh >= m1:
		return 0
	default:
		t := (yabh - m0) / (m1 - m0)
		return 1 - math.Pow(t, m2)
	}
}

// AgeMaximum bounds the calibrated range of a site curve.
type AgeMaximum struct {
	Coastal  float64
	Interior float64
	T1       float64
	T2       float64
}

// ForRegion returns the maximum calibrated total age in region.
func (a AgeMaximum) ForRegion(r model.Region) float64 {
	if r == model.Coastal {
		return a.Coastal
	}
	return a.Interior
}

// UpperBound is a basal area and QMD cap.
type UpperBound struct {
	BasalArea        float64
	QuadMeanDiameter float64
}

// SizeLimits bound a genus' component sizes within a region.
type SizeLimits struct {
	LoreyHeightMaximum      float64
	QuadMeanDiameterMaximum float64
	MinDiameterHeightRatio  float64
	MaxDiameterHeightRatio  float64
}

// NonPrimaryHeight is the non-primary Lorey height equation for one
// species pair.
type NonPrimaryHeight struct {
	Equation int
	A0, A1   float64
}

// PrimaryBasalAreaGrowth is the primary species basal area share model of
// a stratum.
type PrimaryBasalAreaGrowth struct {
	Model        int
	Coefficients []float64
}

func missing(table string, key any) error {
	return fmt.Errorf("%w: %s %+v", ErrMissingCoefficients, table, key)
}

func lookup[K comparable, V any](table string, m map[K]V, k K) (V, error) {
	v, ok := m[k]
	if !ok {
		var zero V
		return zero, missing(table, k)
	}
	return v, nil
}

// Genera returns the genus aliases in index order.
func (cm *ControlMap) Genera() []string {
	out := make([]string, len(cm.file.Genera))
	for i, g := range cm.file.Genera {
		out[i] = g.Alias
	}
	return out
}

// GenusIndex returns the 1-based index of genus alias.
func (cm *ControlMap) GenusIndex(alias string) (int, bool) {
	i, ok := cm.genusIndex[alias]
	return i, ok
}

// BecZone returns the zone with the given alias.
func (cm *ControlMap) BecZone(alias string) (BecZone, error) {
	return lookup("bec_zones", cm.becZones, alias)
}

// SiteCurve returns the default site curve of a genus or sp64 alias in a
// region.
func (cm *ControlMap) SiteCurve(species string, region model.Region) (siteindex.CurveID, bool) {
	row, ok := cm.siteCurves[species]
	if !ok {
		return 0, false
	}
	if region == model.Coastal {
		return siteindex.CurveID(row.Coastal), true
	}
	return siteindex.CurveID(row.Interior), true
}

// SiteCurveAgeMaximum returns the calibrated range of curve, falling back
// to the default row (curve 0). With neither present the range is
// unbounded.
func (cm *ControlMap) SiteCurveAgeMaximum(curve siteindex.CurveID) AgeMaximum {
	row, ok := cm.ageMaximums[int(curve)]
	if !ok {
		if row, ok = cm.ageMaximums[0]; !ok {
			return AgeMaximum{}
		}
	}
	return AgeMaximum{Coastal: row.Coastal, Interior: row.Interior, T1: row.T1, T2: row.T2}
}

// SiteIndexConversions returns the cross-species site index conversions.
func (cm *ControlMap) SiteIndexConversions() siteindex.ConversionTable {
	return cm.conversions
}

// DefaultEquationGroup returns the default equation group of genus in bec.
func (cm *ControlMap) DefaultEquationGroup(genus, bec string) (int, error) {
	return lookup("default_equation_groups", cm.defaultGroups, genusBecKey{genus, bec})
}

// EquationModifier returns the group that replaces defaultGroup for the
// inventory type group, if any.
func (cm *ControlMap) EquationModifier(defaultGroup, itg int) (int, bool) {
	g, ok := cm.modifiers[modifierKey{defaultGroup, itg}]
	return g, ok
}

// VolumeGroup returns the volume equation group of genus in bec.
func (cm *ControlMap) VolumeGroup(genus, bec string) (int, error) {
	return lookup("volume_groups", cm.volumeGroups, genusBecKey{genus, bec})
}

// DecayGroup returns the decay equation group of genus in bec.
func (cm *ControlMap) DecayGroup(genus, bec string) (int, error) {
	return lookup("decay_groups", cm.decayGroups, genusBecKey{genus, bec})
}

// BreakageGroup returns the breakage equation group of genus in bec.
func (cm *ControlMap) BreakageGroup(genus, bec string) (int, error) {
	return lookup("breakage_groups", cm.breakageGroups, genusBecKey{genus, bec})
}

// UpperBounds returns the caps for a basal area group.
func (cm *ControlMap) UpperBounds(group int) (UpperBound, error) {
	row, err := lookup("upper_bounds", cm.upperBounds, group)
	if err != nil {
		return UpperBound{}, err
	}
	return UpperBound{BasalArea: row.BasalArea, QuadMeanDiameter: row.QuadMeanDiameter}, nil
}

// RegionalUpperBounds returns the caps for a leading genus in a region.
func (cm *ControlMap) RegionalUpperBounds(region model.Region, genus string) (UpperBound, error) {
	row, err := lookup("regional_upper_bounds", cm.regionalUpperBounds, genusRegionKey{genus, region})
	if err != nil {
		return UpperBound{}, err
	}
	return UpperBound{BasalArea: row.BasalArea, QuadMeanDiameter: row.QuadMeanDiameter}, nil
}

// ComponentSizeLimits returns the size limits of genus in region.
func (cm *ControlMap) ComponentSizeLimits(genus string, region model.Region) (SizeLimits, error) {
	row, err := lookup("component_size_limits", cm.sizeLimits, genusRegionKey{genus, region})
	if err != nil {
		return SizeLimits{}, err
	}
	return SizeLimits{
		LoreyHeightMaximum:      row.LoreyHeightMaximum,
		QuadMeanDiameterMaximum: row.QuadMeanDiameterMaximum,
		MinDiameterHeightRatio:  row.MinDiameterHeightRatio,
		MaxDiameterHeightRatio:  row.MaxDiameterHeightRatio,
	}, nil
}

// BasalAreaYield returns the 7 basal area yield coefficients of genus in
// bec, or false when the zone has none for it.
func (cm *ControlMap) BasalAreaYield(bec, genus string) ([]float64, bool) {
	c, ok := cm.baYield[genusBecKey{genus, bec}]
	return c, ok
}

// QuadMeanDiameterYield returns the 6 QMD yield coefficients of genus in
// bec, or false.
func (cm *ControlMap) QuadMeanDiameterYield(bec, genus string) ([]float64, bool) {
	c, ok := cm.dqYield[genusBecKey{genus, bec}]
	return c, ok
}

// BasalAreaGrowthEmpirical returns the 8 empirical basal area growth
// coefficients of genus in bec, or false.
func (cm *ControlMap) BasalAreaGrowthEmpirical(bec, genus string) ([]float64, bool) {
	c, ok := cm.baEmpirical[genusBecKey{genus, bec}]
	return c, ok
}

func (cm *ControlMap) BasalAreaGrowthFiat(region model.Region) (GrowthFiat, error) {
	return lookup("basal_area_growth_fiat", cm.baFiat, region)
}

func (cm *ControlMap) QuadMeanDiameterGrowthFiat(region model.Region) (GrowthFiat, error) {
	return lookup("quad_mean_diameter_growth_fiat", cm.dqFiat, region)
}

func (cm *ControlMap) QuadMeanDiameterGrowthEmpirical(stratum int) ([]float64, error) {
	return lookup("quad_mean_diameter_growth_empirical", cm.dqEmpirical, stratum)
}

func (cm *ControlMap) QuadMeanDiameterGrowthLimits(stratum int) ([]float64, error) {
	return lookup("quad_mean_diameter_growth_limits", cm.dqLimits, stratum)
}

// PrimaryBasalAreaGrowth returns the primary species basal area share
// model of a stratum.
func (cm *ControlMap) PrimaryBasalAreaGrowth(stratum int) (PrimaryBasalAreaGrowth, error) {
	row, err := lookup("primary_basal_area_growth", cm.primaryBA, stratum)
	if err != nil {
		return PrimaryBasalAreaGrowth{}, err
	}
	return PrimaryBasalAreaGrowth{Model: row.Model, Coefficients: row.Coefficients}, nil
}

// NonPrimaryBasalAreaGrowth returns the basal area share coefficients of a
// non-primary genus, falling back to stratum 0.
func (cm *ControlMap) NonPrimaryBasalAreaGrowth(genus string, stratum int) ([]float64, error) {
	return stratumFallback("non_primary_basal_area_growth", cm.nonPrimaryBA, genus, stratum)
}

func (cm *ControlMap) PrimaryQuadMeanDiameterGrowth(stratum int) ([]float64, error) {
	return lookup("primary_quad_mean_diameter_growth", cm.primaryDQ, stratum)
}

// NonPrimaryQuadMeanDiameterGrowth returns the QMD growth coefficients of
// a non-primary genus, falling back to stratum 0.
func (cm *ControlMap) NonPrimaryQuadMeanDiameterGrowth(genus string, stratum int) ([]float64, error) {
	return stratumFallback("non_primary_quad_mean_diameter_growth", cm.nonPrimaryDQ, genus, stratum)
}

func stratumFallback(table string, m map[genusStratumKey][]float64, genus string, stratum int) ([]float64, error) {
	if c, ok := m[genusStratumKey{genus, stratum}]; ok {
		return c, nil
	}
	return lookup(table, m, genusStratumKey{genus, 0})
}

// PrimaryLoreyHeight returns the coefficients relating a primary genus'
// Lorey height to dominant height and density.
func (cm *ControlMap) PrimaryLoreyHeight(genus string, region model.Region) ([]float64, error) {
	return lookup("primary_lorey_height", cm.primaryHL, genusRegionKey{genus, region})
}

// NonPrimaryLoreyHeight returns the Lorey height equation of genus under
// primaryGenus. Pairs without a row use equation 1 with unit coefficients.
func (cm *ControlMap) NonPrimaryLoreyHeight(genus, primaryGenus string, region model.Region) NonPrimaryHeight {
	row, ok := cm.nonPrimaryHL[nonPrimaryKey{genus, primaryGenus, region}]
	if !ok {
		return NonPrimaryHeight{Equation: 1, A0: 1, A1: 1}
	}
	return NonPrimaryHeight{Equation: row.Equation, A0: row.Coefficients[0], A1: row.Coefficients[1]}
}

func (cm *ControlMap) QuadMeanDiameterBySpecies(genus string) ([]float64, error) {
	return lookup("quad_mean_diameter_by_species", cm.dqBySpecies, genus)
}

func (cm *ControlMap) BasalAreaByUtilization(uc model.UtilizationClass, genus, bec string) ([]float64, error) {
	return lookup("basal_area_by_utilization", cm.baByUtil, classGenusBecKey{uc, genus, bec})
}

func (cm *ControlMap) QuadMeanDiameterByUtilization(uc model.UtilizationClass, genus, bec string) ([]float64, error) {
	return lookup("quad_mean_diameter_by_utilization", cm.dqByUtil, classGenusBecKey{uc, genus, bec})
}

func (cm *ControlMap) WholeStemVolumePerTree(volumeGroup int) ([]float64, error) {
	return lookup("whole_stem_volume_per_tree", cm.wsPerTree, volumeGroup)
}

func (cm *ControlMap) WholeStemUtilization(uc model.UtilizationClass, volumeGroup int) ([]float64, error) {
	return lookup("whole_stem_utilization", cm.wsUtil, classGroupKey{uc, volumeGroup})
}

func (cm *ControlMap) CloseUtilization(uc model.UtilizationClass, volumeGroup int) ([]float64, error) {
	return lookup("close_utilization", cm.closeUtil, classGroupKey{uc, volumeGroup})
}

func (cm *ControlMap) NetDecay(uc model.UtilizationClass, decayGroup int) ([]float64, error) {
	return lookup("net_decay", cm.netDecay, classGroupKey{uc, decayGroup})
}

func (cm *ControlMap) NetWaste(genus string) ([]float64, error) {
	return lookup("net_waste", cm.netWaste, genus)
}

func (cm *ControlMap) NetBreakage(breakageGroup int) ([]float64, error) {
	return lookup("net_breakage", cm.netBreakage, breakageGroup)
}

// DecayModifier returns the decay logit shift of genus in region, 0 when
// absent.
func (cm *ControlMap) DecayModifier(genus string, region model.Region) float64 {
	return cm.decayModifiers[genusRegionKey{genus, region}]
}

// WasteModifier returns the waste logit shift of genus in region, 0 when
// absent.
func (cm *ControlMap) WasteModifier(genus string, region model.Region) float64 {
	return cm.wasteModifiers[genusRegionKey{genus, region}]
}

func (cm *ControlMap) SmallProbability(genus string) ([]float64, error) {
	return lookup("small_probability", cm.smallProbability, genus)
}

func (cm *ControlMap) SmallBasalArea(genus string) ([]float64, error) {
	return lookup("small_basal_area", cm.smallBasalArea, genus)
}

func (cm *ControlMap) SmallQuadMeanDiameter(genus string) ([]float64, error) {
	return lookup("small_quad_mean_diameter", cm.smallDiameter, genus)
}

func (cm *ControlMap) SmallLoreyHeight(genus string) ([]float64, error) {
	return lookup("small_lorey_height", cm.smallLoreyHeight, genus)
}

func (cm *ControlMap) SmallWholeStemVolume(genus string) ([]float64, error) {
	return lookup("small_whole_stem_volume", cm.smallWholeStem, genus)
}

// CompatibilityAdjustments returns the between-period compatibility
// variable multipliers.
func (cm *ControlMap) CompatibilityAdjustments() CompatibilityAdjustments {
	return cm.file.CompatibilityAdjustments
}
