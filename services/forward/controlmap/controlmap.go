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
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/AleutianAI/VdypForward/services/forward/model"
	"github.com/AleutianAI/VdypForward/services/forward/siteindex"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type genusBecKey struct {
	Genus string
	Bec   string
}

type genusRegionKey struct {
	Genus  string
	Region model.Region
}

type genusStratumKey struct {
	Genus   string
	Stratum int
}

type classGenusBecKey struct {
	Class model.UtilizationClass
	Genus string
	Bec   string
}

type classGroupKey struct {
	Class model.UtilizationClass
	Group int
}

type nonPrimaryKey struct {
	Genus        string
	PrimaryGenus string
	Region       model.Region
}

type modifierKey struct {
	DefaultGroup       int
	InventoryTypeGroup int
}

// ControlMap is a loaded, indexed control map.
//
// Thread Safety: Immutable after Load; safe for concurrent use.
type ControlMap struct {
	file File

	genusIndex  map[string]int
	becZones    map[string]BecZone
	siteCurves  map[string]SiteCurveRow
	ageMaximums map[int]AgeMaximumRow
	conversions siteindex.ConversionTable

	defaultGroups  map[genusBecKey]int
	modifiers      map[modifierKey]int
	volumeGroups   map[genusBecKey]int
	decayGroups    map[genusBecKey]int
	breakageGroups map[genusBecKey]int

	upperBounds         map[int]UpperBoundRow
	regionalUpperBounds map[genusRegionKey]RegionalUpperBoundRow
	sizeLimits          map[genusRegionKey]ComponentSizeLimitRow
	baYield             map[genusBecKey][]float64
	dqYield             map[genusBecKey][]float64
	baFiat              map[model.Region]GrowthFiat
	dqFiat              map[model.Region]GrowthFiat
	baEmpirical         map[genusBecKey][]float64
	dqEmpirical         map[int][]float64
	dqLimits            map[int][]float64

	primaryBA    map[int]PrimaryBasalAreaGrowthRow
	nonPrimaryBA map[genusStratumKey][]float64
	primaryDQ    map[int][]float64
	nonPrimaryDQ map[genusStratumKey][]float64

	primaryHL    map[genusRegionKey][]float64
	nonPrimaryHL map[nonPrimaryKey]NonPrimaryHeightRow
	dqBySpecies  map[string][]float64

	baByUtil       map[classGenusBecKey][]float64
	dqByUtil       map[classGenusBecKey][]float64
	wsPerTree      map[int][]float64
	wsUtil         map[classGroupKey][]float64
	closeUtil      map[classGroupKey][]float64
	netDecay       map[classGroupKey][]float64
	netWaste       map[string][]float64
	netBreakage    map[int][]float64
	decayModifiers map[genusRegionKey]float64
	wasteModifiers map[genusRegionKey]float64

	smallProbability map[string][]float64
	smallBasalArea   map[string][]float64
	smallDiameter    map[string][]float64
	smallLoreyHeight map[string][]float64
	smallWholeStem   map[string][]float64
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func controlMapValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Load reads and indexes the control map at path.
func Load(path string) (*ControlMap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open control map: %w", err)
	}
	defer f.Close()

	cm, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("control map %s: %w", path, err)
	}
	return cm, nil
}

// Decode reads a control map from r.
//
// Description:
//
//	Compatibility adjustments left out of the document default to 1.
//	Rows are validated, then indexed; a duplicate key or a coefficient
//	list of the wrong length fails with ErrInvalidControlMap.
func Decode(r io.Reader) (*ControlMap, error) {
	file := File{CompatibilityAdjustments: DefaultCompatibilityAdjustments()}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalidControlMap)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidControlMap, err)
	}
	return New(file)
}

// New validates and indexes an in-memory control map.
func New(file File) (*ControlMap, error) {
	if err := controlMapValidator().Struct(file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidControlMap, err)
	}
	cm := &ControlMap{file: file}
	if err := cm.build(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidControlMap, err)
	}
	return cm, nil
}

// File returns the control map as loaded.
func (cm *ControlMap) File() File {
	return cm.file
}

// index builds a map from rows, rejecting duplicate keys.
func index[R any, K comparable, V any](table string, rows []R, key func(R) K, value func(R) V) (map[K]V, error) {
	out := make(map[K]V, len(rows))
	for _, row := range rows {
		k := key(row)
		if _, dup := out[k]; dup {
			return nil, fmt.Errorf("%s: duplicate key %+v", table, k)
		}
		out[k] = value(row)
	}
	return out, nil
}

func checkLen(table string, n int, lengths ...int) error {
	for i, l := range lengths {
		if l != n {
			return fmt.Errorf("%s: row %d has %d coefficients, want %d", table, i, l, n)
		}
	}
	return nil
}

func lengths[R any](rows []R, coef func(R) []float64) []int {
	out := make([]int, len(rows))
	for i, r := range rows {
		out[i] = len(coef(r))
	}
	return out
}

func (cm *ControlMap) build() error {
	f := &cm.file
	var err error

	cm.genusIndex = make(map[string]int, len(f.Genera))
	for i, g := range f.Genera {
		if _, dup := cm.genusIndex[g.Alias]; dup {
			return fmt.Errorf("genera: duplicate alias %s", g.Alias)
		}
		cm.genusIndex[g.Alias] = i + 1
	}

	for i := range f.BecZones {
		b := &f.BecZones[i]
		if b.GrowthBec == "" {
			b.GrowthBec = b.Alias
		}
		if b.DecayBec == "" {
			b.DecayBec = b.Alias
		}
		if b.VolumeBec == "" {
			b.VolumeBec = b.Alias
		}
	}
	if cm.becZones, err = index("bec_zones", f.BecZones,
		func(r BecZone) string { return r.Alias }, func(r BecZone) BecZone { return r }); err != nil {
		return err
	}
	if cm.siteCurves, err = index("site_curves", f.SiteCurves,
		func(r SiteCurveRow) string { return r.Species }, func(r SiteCurveRow) SiteCurveRow { return r }); err != nil {
		return err
	}
	if cm.ageMaximums, err = index("site_curve_age_maximums", f.SiteCurveAgeMaximums,
		func(r AgeMaximumRow) int { return r.Curve }, func(r AgeMaximumRow) AgeMaximumRow { return r }); err != nil {
		return err
	}
	if cm.conversions, err = index("site_index_conversions", f.SiteIndexConversions,
		func(r SiteIndexConversionRow) siteindex.ConversionKey {
			return siteindex.ConversionKey{From: r.From, To: r.To, Region: r.Region}
		},
		func(r SiteIndexConversionRow) siteindex.Conversion {
			return siteindex.Conversion{Intercept: r.Intercept, Slope: r.Slope}
		}); err != nil {
		return err
	}

	groupKey := func(r EquationGroupRow) genusBecKey { return genusBecKey{r.Genus, r.Bec} }
	groupValue := func(r EquationGroupRow) int { return r.Group }
	if cm.defaultGroups, err = index("default_equation_groups", f.DefaultEquationGroups, groupKey, groupValue); err != nil {
		return err
	}
	if cm.volumeGroups, err = index("volume_groups", f.VolumeGroups, groupKey, groupValue); err != nil {
		return err
	}
	if cm.decayGroups, err = index("decay_groups", f.DecayGroups, groupKey, groupValue); err != nil {
		return err
	}
	if cm.breakageGroups, err = index("breakage_groups", f.BreakageGroups, groupKey, groupValue); err != nil {
		return err
	}
	if cm.modifiers, err = index("equation_modifiers", f.EquationModifiers,
		func(r EquationModifierRow) modifierKey { return modifierKey{r.DefaultGroup, r.InventoryTypeGroup} },
		func(r EquationModifierRow) int { return r.Group }); err != nil {
		return err
	}

	if cm.upperBounds, err = index("upper_bounds", f.UpperBounds,
		func(r UpperBoundRow) int { return r.Group }, func(r UpperBoundRow) UpperBoundRow { return r }); err != nil {
		return err
	}
	if cm.regionalUpperBounds, err = index("regional_upper_bounds", f.RegionalUpperBounds,
		func(r RegionalUpperBoundRow) genusRegionKey { return genusRegionKey{r.Genus, r.Region} },
		func(r RegionalUpperBoundRow) RegionalUpperBoundRow { return r }); err != nil {
		return err
	}
	if cm.sizeLimits, err = index("component_size_limits", f.ComponentSizeLimits,
		func(r ComponentSizeLimitRow) genusRegionKey { return genusRegionKey{r.Genus, r.Region} },
		func(r ComponentSizeLimitRow) ComponentSizeLimitRow { return r }); err != nil {
		return err
	}

	if cm.baYield, err = genusBecTable("basal_area_yield", f.BasalAreaYield, 7); err != nil {
		return err
	}
	if cm.dqYield, err = genusBecTable("quad_mean_diameter_yield", f.QuadMeanDiameterYield, 6); err != nil {
		return err
	}
	if cm.baEmpirical, err = genusBecTable("basal_area_growth_empirical", f.BasalAreaGrowthEmpirical, 8); err != nil {
		return err
	}
	if cm.baFiat, err = fiatTable("basal_area_growth_fiat", f.BasalAreaGrowthFiat); err != nil {
		return err
	}
	if cm.dqFiat, err = fiatTable("quad_mean_diameter_growth_fiat", f.QuadMeanDiameterGrowthFiat); err != nil {
		return err
	}
	if cm.dqEmpirical, err = stratumTable("quad_mean_diameter_growth_empirical", f.QuadMeanDiameterGrowthEmpirical, 7); err != nil {
		return err
	}
	if cm.dqLimits, err = stratumTable("quad_mean_diameter_growth_limits", f.QuadMeanDiameterGrowthLimits, 8); err != nil {
		return err
	}

	if cm.primaryBA, err = index("primary_basal_area_growth", f.PrimaryBasalAreaGrowth,
		func(r PrimaryBasalAreaGrowthRow) int { return r.Stratum },
		func(r PrimaryBasalAreaGrowthRow) PrimaryBasalAreaGrowthRow { return r }); err != nil {
		return err
	}
	if cm.nonPrimaryBA, err = genusStratumTable("non_primary_basal_area_growth", f.NonPrimaryBasalAreaGrowth); err != nil {
		return err
	}
	if cm.primaryDQ, err = stratumTable("primary_quad_mean_diameter_growth", f.PrimaryQuadMeanDiameterGrowth, 3); err != nil {
		return err
	}
	if cm.nonPrimaryDQ, err = genusStratumTable("non_primary_quad_mean_diameter_growth", f.NonPrimaryQuadMeanDiameterGrowth); err != nil {
		return err
	}

	if cm.primaryHL, err = index("primary_lorey_height", f.PrimaryLoreyHeight,
		func(r GenusRegionCoefficients) genusRegionKey { return genusRegionKey{r.Genus, r.Region} },
		func(r GenusRegionCoefficients) []float64 { return r.Coefficients }); err != nil {
		return err
	}
	if cm.nonPrimaryHL, err = index("non_primary_lorey_height", f.NonPrimaryLoreyHeight,
		func(r NonPrimaryHeightRow) nonPrimaryKey { return nonPrimaryKey{r.Genus, r.PrimaryGenus, r.Region} },
		func(r NonPrimaryHeightRow) NonPrimaryHeightRow { return r }); err != nil {
		return err
	}
	if cm.dqBySpecies, err = genusTable("quad_mean_diameter_by_species", f.QuadMeanDiameterBySpecies, 3); err != nil {
		return err
	}

	if cm.baByUtil, err = classGenusBecTable("basal_area_by_utilization", f.BasalAreaByUtilization, 2); err != nil {
		return err
	}
	if cm.dqByUtil, err = classGenusBecTable("quad_mean_diameter_by_utilization", f.QuadMeanDiameterByUtilization, 4); err != nil {
		return err
	}
	if cm.wsPerTree, err = groupTable("whole_stem_volume_per_tree", f.WholeStemVolumePerTree, 9); err != nil {
		return err
	}
	if cm.wsUtil, err = classGroupTable("whole_stem_utilization", f.WholeStemUtilization, 4); err != nil {
		return err
	}
	if cm.closeUtil, err = classGroupTable("close_utilization", f.CloseUtilization, 3); err != nil {
		return err
	}
	if cm.netDecay, err = classGroupTable("net_decay", f.NetDecay, 3); err != nil {
		return err
	}
	if cm.netWaste, err = genusTable("net_waste", f.NetWaste, 6); err != nil {
		return err
	}
	if cm.netBreakage, err = groupTable("net_breakage", f.NetBreakage, 4); err != nil {
		return err
	}
	modKey := func(r GenusRegionValue) genusRegionKey { return genusRegionKey{r.Genus, r.Region} }
	modValue := func(r GenusRegionValue) float64 { return r.Value }
	if cm.decayModifiers, err = index("decay_modifiers", f.DecayModifiers, modKey, modValue); err != nil {
		return err
	}
	if cm.wasteModifiers, err = index("waste_modifiers", f.WasteModifiers, modKey, modValue); err != nil {
		return err
	}

	if cm.smallProbability, err = genusTable("small_probability", f.SmallProbability, 4); err != nil {
		return err
	}
	if cm.smallBasalArea, err = genusTable("small_basal_area", f.SmallBasalArea, 4); err != nil {
		return err
	}
	if cm.smallDiameter, err = genusTable("small_quad_mean_diameter", f.SmallQuadMeanDiameter, 2); err != nil {
		return err
	}
	if cm.smallLoreyHeight, err = genusTable("small_lorey_height", f.SmallLoreyHeight, 2); err != nil {
		return err
	}
	if cm.smallWholeStem, err = genusTable("small_whole_stem_volume", f.SmallWholeStemVolume, 4); err != nil {
		return err
	}
	return nil
}

func genusBecTable(table string, rows []GenusBecCoefficients, n int) (map[genusBecKey][]float64, error) {
	if err := checkLen(table, n, lengths(rows, func(r GenusBecCoefficients) []float64 { return r.Coefficients })...); err != nil {
		return nil, err
	}
	return index(table, rows,
		func(r GenusBecCoefficients) genusBecKey { return genusBecKey{r.Genus, r.Bec} },
		func(r GenusBecCoefficients) []float64 { return r.Coefficients })
}

func stratumTable(table string, rows []StratumCoefficients, n int) (map[int][]float64, error) {
	if err := checkLen(table, n, lengths(rows, func(r StratumCoefficients) []float64 { return r.Coefficients })...); err != nil {
		return nil, err
	}
	return index(table, rows,
		func(r StratumCoefficients) int { return r.Stratum },
		func(r StratumCoefficients) []float64 { return r.Coefficients })
}

func genusStratumTable(table string, rows []GenusStratumCoefficients) (map[genusStratumKey][]float64, error) {
	return index(table, rows,
		func(r GenusStratumCoefficients) genusStratumKey { return genusStratumKey{r.Genus, r.Stratum} },
		func(r GenusStratumCoefficients) []float64 { return r.Coefficients })
}

func genusTable(table string, rows []GenusCoefficients, n int) (map[string][]float64, error) {
	if err := checkLen(table, n, lengths(rows, func(r GenusCoefficients) []float64 { return r.Coefficients })...); err != nil {
		return nil, err
	}
	return index(table, rows,
		func(r GenusCoefficients) string { return r.Genus },
		func(r GenusCoefficients) []float64 { return r.Coefficients })
}

func groupTable(table string, rows []GroupCoefficients, n int) (map[int][]float64, error) {
	if err := checkLen(table, n, lengths(rows, func(r GroupCoefficients) []float64 { return r.Coefficients })...); err != nil {
		return nil, err
	}
	return index(table, rows,
		func(r GroupCoefficients) int { return r.Group },
		func(r GroupCoefficients) []float64 { return r.Coefficients })
}

func classGenusBecTable(table string, rows []ClassGenusBecCoefficients, n int) (map[classGenusBecKey][]float64, error) {
	if err := checkLen(table, n, lengths(rows, func(r ClassGenusBecCoefficients) []float64 { return r.Coefficients })...); err != nil {
		return nil, err
	}
	return index(table, rows,
		func(r ClassGenusBecCoefficients) classGenusBecKey { return classGenusBecKey{r.Class, r.Genus, r.Bec} },
		func(r ClassGenusBecCoefficients) []float64 { return r.Coefficients })
}

func classGroupTable(table string, rows []ClassGroupCoefficients, n int) (map[classGroupKey][]float64, error) {
	if err := checkLen(table, n, lengths(rows, func(r ClassGroupCoefficients) []float64 { return r.Coefficients })...); err != nil {
		return nil, err
	}
	return index(table, rows,
		func(r ClassGroupCoefficients) classGroupKey { return classGroupKey{r.Class, r.Group} },
		func(r ClassGroupCoefficients) []float64 { return r.Coefficients })
}

func fiatTable(table string, rows []GrowthFiatRow) (map[model.Region]GrowthFiat, error) {
	for _, r := range rows {
		for i := 1; i < len(r.Points); i++ {
			if r.Points[i].Age < r.Points[i-1].Age {
				return nil, fmt.Errorf("%s: region %s ages must increase", table, r.Region)
			}
		}
	}
	return index(table, rows,
		func(r GrowthFiatRow) model.Region { return r.Region },
		func(r GrowthFiatRow) GrowthFiat {
			g := GrowthFiat{Points: r.Points}
			copy(g.Mixed[:], r.Mixed)
			return g
		})
}
