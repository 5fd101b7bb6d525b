// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package siteindex

import (
	"fmt"

	"github.com/AleutianAI/VdypForward/services/forward/model"
)

// ConversionKey selects a site index conversion: from one species to
// another within a region.
type ConversionKey struct {
	From   string
	To     string
	Region model.Region
}

// Conversion is a linear site index conversion si' = Intercept + Slope·si.
type Conversion struct {
	Intercept float64 `yaml:"intercept" json:"intercept"`
	Slope     float64 `yaml:"slope" json:"slope"`
}

// ConversionTable holds the cross-species site index conversions.
type ConversionTable map[ConversionKey]Conversion

// Convert converts siteIndex measured on species from to the equivalent
// site index of species to.
//
// Outputs:
//
//	float64 - The converted site index. Conversion to the same species is
//	the identity.
//	error - ErrNoAnswer when the table has no entry for the pair, or
//	ErrLessThan13 when the result is below breast height.
func (t ConversionTable) Convert(from, to string, region model.Region, siteIndex float64) (float64, error) {
	if from == to {
		return siteIndex, nil
	}
	conv, ok := t[ConversionKey{From: from, To: to, Region: region}]
	if !ok {
		return 0, fmt.Errorf("%w: no site index conversion from %s to %s in region %s", ErrNoAnswer, from, to, region)
	}
	out := conv.Intercept + conv.Slope*siteIndex
	if out < BreastHeight {
		return 0, fmt.Errorf("%w: converted site index %.4f", ErrLessThan13, out)
	}
	return out, nil
}
