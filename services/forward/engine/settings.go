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
	"sync"

	"github.com/go-playground/validator/v10"
)

// Species dynamics variants (debug setting 1).
const (
	DynamicsFull    = 0
	DynamicsNone    = 1
	DynamicsPartial = 2
)

// Growth model variants shared by debug settings 3 and 6.
const (
	GrowthFiat      = 0
	GrowthEmpirical = 1
	GrowthMixed     = 2
)

// Upper bound sources (debug setting 4).
const (
	BoundsDefault  = 0
	BoundsByGroup  = 1
	BoundsRegional = 2
)

// Output year selections (control variable 4).
const (
	OutputNone            = 0
	OutputFirstYear       = 1
	OutputFirstAndLast    = 2
	OutputAllYears        = 3
	OutputFirstTenthsLast = 4
)

// NumFillInSettings is the count of fill-in switches, debug settings 11
// through 20.
const NumFillInSettings = 10

// DebugSettings selects model variants. Every field is a closed set; the
// zero value is the default configuration.
type DebugSettings struct {
	// SpeciesDynamics is setting 1: DynamicsFull, DynamicsNone or
	// DynamicsPartial.
	SpeciesDynamics int `yaml:"species_dynamics" json:"species_dynamics" validate:"gte=0,lte=2"`

	// MaxBreastHeightAge is setting 2. When n > 0 the yield equations see
	// breast height ages no greater than 100n.
	MaxBreastHeightAge int `yaml:"max_breast_height_age" json:"max_breast_height_age" validate:"gte=0,lte=9"`

	// BasalAreaGrowthModel is setting 3: GrowthFiat, GrowthEmpirical or
	// GrowthMixed.
	BasalAreaGrowthModel int `yaml:"basal_area_growth_model" json:"basal_area_growth_model" validate:"gte=0,lte=2"`

	// UpperBoundsSource is setting 4. BoundsDefault behaves as
	// BoundsRegional.
	UpperBoundsSource int `yaml:"upper_bounds_source" json:"upper_bounds_source" validate:"gte=0,lte=2"`

	// Messaging is setting 5, the verbosity of per-step logging.
	Messaging int `yaml:"messaging" json:"messaging" validate:"gte=0,lte=2"`

	// QuadMeanDiameterGrowthModel is setting 6: GrowthFiat, GrowthEmpirical
	// or GrowthMixed.
	QuadMeanDiameterGrowthModel int `yaml:"quad_mean_diameter_growth_model" json:"quad_mean_diameter_growth_model" validate:"gte=0,lte=2"`

	// LoreyHeightStrategy is setting 8. 0 always re-estimates, 1 leaves
	// non-primary heights alone when dominant height did not change, 2 also
	// leaves the primary height alone in that case.
	LoreyHeightStrategy int `yaml:"lorey_height_strategy" json:"lorey_height_strategy" validate:"gte=0,lte=2"`

	// LimitBasalAreaWhenDiameterLimited is setting 9.
	LimitBasalAreaWhenDiameterLimited int `yaml:"limit_ba_when_dq_limited" json:"limit_ba_when_dq_limited" validate:"gte=0,lte=1"`

	// FillIn holds settings 11 through 20.
	FillIn [NumFillInSettings]int `yaml:"fill_in" json:"fill_in" validate:"dive,gte=0,lte=15"`
}

// Value returns debug setting n (1-based) as it is numbered in control
// files. Unassigned numbers read as 0.
func (d DebugSettings) Value(n int) (int, error) {
	switch {
	case n == 1:
		return d.SpeciesDynamics, nil
	case n == 2:
		return d.MaxBreastHeightAge, nil
	case n == 3:
		return d.BasalAreaGrowthModel, nil
	case n == 4:
		return d.UpperBoundsSource, nil
	case n == 5:
		return d.Messaging, nil
	case n == 6:
		return d.QuadMeanDiameterGrowthModel, nil
	case n == 8:
		return d.LoreyHeightStrategy, nil
	case n == 9:
		return d.LimitBasalAreaWhenDiameterLimited, nil
	case n >= 11 && n <= 20:
		return d.FillIn[n-11], nil
	case n >= 1 && n <= MaxDebugSettings:
		return 0, nil
	default:
		return 0, fmt.Errorf("%w: debug setting %d does not exist", ErrInvalidSettings, n)
	}
}

// MaxDebugSettings is the number of debug slots in a control file.
const MaxDebugSettings = 25

// DebugSettingsFromValues builds settings from the positional form used in
// control files, where values[0] is setting 1. Missing trailing values are
// 0. The result is validated.
func DebugSettingsFromValues(values []int) (DebugSettings, error) {
	if len(values) > MaxDebugSettings {
		return DebugSettings{}, fmt.Errorf("%w: %d debug values, at most %d", ErrInvalidSettings, len(values), MaxDebugSettings)
	}
	get := func(n int) int {
		if n <= len(values) {
			return values[n-1]
		}
		return 0
	}
	d := DebugSettings{
		SpeciesDynamics:                   get(1),
		MaxBreastHeightAge:                get(2),
		BasalAreaGrowthModel:              get(3),
		UpperBoundsSource:                 get(4),
		Messaging:                         get(5),
		QuadMeanDiameterGrowthModel:       get(6),
		LoreyHeightStrategy:               get(8),
		LimitBasalAreaWhenDiameterLimited: get(9),
	}
	for i := range d.FillIn {
		d.FillIn[i] = get(11 + i)
	}
	return d, d.Validate()
}

// Validate rejects unrecognized variant numbers.
func (d DebugSettings) Validate() error {
	if err := settingsValidator().Struct(d); err != nil {
		return fmt.Errorf("%w: debug settings: %v", ErrInvalidSettings, err)
	}
	return nil
}

// ControlVariables drive the run rather than the models.
type ControlVariables struct {
	// GrowTarget is control variable 1: -1 grows to the polygon's target
	// year, 0 does not grow, 1..400 grows that many years and 1920..2400
	// grows to that year.
	GrowTarget int `yaml:"grow_target" json:"grow_target"`

	// CompatibilityOutput is control variable 2: 0 none, 1 first year,
	// 2 all years.
	CompatibilityOutput int `yaml:"compatibility_output" json:"compatibility_output" validate:"gte=0,lte=2"`

	// CompatibilityApplication is control variable 3: 0 none, 1 all but
	// volume, 2 all.
	CompatibilityApplication int `yaml:"compatibility_application" json:"compatibility_application" validate:"gte=0,lte=2"`

	// OutputYears is control variable 4, one of the Output constants.
	OutputYears int `yaml:"output_years" json:"output_years" validate:"gte=0,lte=4"`

	// AllowCompatibilityCalculation is control variable 5: 0 computes a
	// variable whenever its base is positive, 1 only above the base
	// minimums.
	AllowCompatibilityCalculation int `yaml:"allow_compatibility_calculation" json:"allow_compatibility_calculation" validate:"gte=0,lte=1"`

	// UpdateDuringGrowth is control variable 6.
	UpdateDuringGrowth int `yaml:"update_during_growth" json:"update_during_growth" validate:"gte=0,lte=1"`
}

// Validate checks each variable against its range.
func (c ControlVariables) Validate() error {
	if err := settingsValidator().Struct(c); err != nil {
		return fmt.Errorf("%w: control variables: %v", ErrInvalidSettings, err)
	}
	g := c.GrowTarget
	if g != -1 && (g < 0 || (g > 400 && g < 1920) || g > 2400) {
		return fmt.Errorf("%w: grow target %d is outside -1, 0..400 and 1920..2400", ErrInvalidSettings, g)
	}
	return nil
}

// allowCalculation reports whether a compatibility variable with the given
// base value is computed. With variable 5 off any positive base qualifies;
// otherwise the base must exceed limit, or reach it when inclusive.
func (c ControlVariables) allowCalculation(base, limit float64, inclusive bool) bool {
	if c.AllowCompatibilityCalculation == 0 {
		return base > 0
	}
	if inclusive {
		return base >= limit
	}
	return base > limit
}

// TargetYear resolves the year growth stops at for a polygon starting in
// startYear with an optional target year of its own.
func (c ControlVariables) TargetYear(startYear int, polygonTarget func() (int, bool)) (int, error) {
	switch {
	case c.GrowTarget == -1:
		y, ok := polygonTarget()
		if !ok {
			return 0, missingf("grow target is the polygon target year but the polygon has none")
		}
		return y, nil
	case c.GrowTarget <= 400:
		return startYear + c.GrowTarget, nil
	default:
		return c.GrowTarget, nil
	}
}

// Settings is the immutable configuration of an Engine.
type Settings struct {
	Debug   DebugSettings    `yaml:"debug" json:"debug"`
	Control ControlVariables `yaml:"control" json:"control"`
}

// DefaultSettings returns the settings the engine runs with when none are
// configured: every debug switch at 0, growth to the polygon's target year,
// compatibility variables applied in full and every year written.
func DefaultSettings() Settings {
	return Settings{
		Control: ControlVariables{
			GrowTarget:                    -1,
			CompatibilityOutput:           0,
			CompatibilityApplication:      2,
			OutputYears:                   OutputAllYears,
			AllowCompatibilityCalculation: 1,
			UpdateDuringGrowth:            0,
		},
	}
}

// Validate checks both halves of the settings.
func (s Settings) Validate() error {
	if err := s.Debug.Validate(); err != nil {
		return err
	}
	return s.Control.Validate()
}

var (
	settingsValidate     *validator.Validate
	settingsValidateOnce sync.Once
)

func settingsValidator() *validator.Validate {
	settingsValidateOnce.Do(func() {
		settingsValidate = validator.New(validator.WithRequiredStructEnabled())
	})
	return settingsValidate
}
