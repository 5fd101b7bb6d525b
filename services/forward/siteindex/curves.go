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
	"sort"
)

// CurveID identifies a site curve. Values follow the provincial site index
// equation numbering so curve numbers in inventory records map directly.
type CurveID int

const (
	CurveATCieszewski  CurveID = 3
	CurveATGoudie      CurveID = 4
	CurveFDCNighGI     CurveID = 15
	CurveFDCBruce      CurveID = 16
	CurvePLICieszewski CurveID = 47
	CurvePLIGoudieDry  CurveID = 48
	CurvePLIGoudieWet  CurveID = 49
	CurveSBCieszewski  CurveID = 55
	CurveSSGoudie      CurveID = 60
	CurveSWCieszewski  CurveID = 67
	CurveSWGoudiePla   CurveID = 70
	CurveSWGoudieNat   CurveID = 71
)

// Shape is the formula family a curve evaluates.
type Shape int

const (
	// ShapeCieszewski is the dynamic-site Cieszewski form, coefficients
	// (x1, x2).
	ShapeCieszewski Shape = iota + 1
	// ShapeGoudie is the Goudie logistic form, coefficients (x1, x2, x3).
	ShapeGoudie
	// ShapeBruce is the Bruce coastal Douglas-fir form. It has no
	// coefficients and a closed-form inverse.
	ShapeBruce
	// ShapeGrowthIntercept evaluates a per-breast-height-age coefficient
	// table; height from site index is found by iteration.
	ShapeGrowthIntercept
)

func (s Shape) String() string {
	switch s {
	case ShapeCieszewski:
		return "cieszewski"
	case ShapeGoudie:
		return "goudie"
	case ShapeBruce:
		return "bruce"
	case ShapeGrowthIntercept:
		return "growth-intercept"
	default:
		return fmt.Sprintf("Shape(%d)", int(s))
	}
}

// yearsToBreastHeight estimates years from seed to breast height as
// Base + Slope/si, or Base - si/Divisor when Divisor is set, floored at Min.
type yearsToBreastHeight struct {
	Base    float64
	Slope   float64
	Divisor float64
	Min     float64
}

func (y yearsToBreastHeight) eval(si float64) float64 {
	var v float64
	if y.Divisor != 0 {
		v = y.Base - si/y.Divisor
	} else {
		v = y.Base + y.Slope/si
	}
	if y.Min > 0 && v < y.Min {
		v = y.Min
	}
	return v
}

// Curve is one registered site curve.
type Curve struct {
	ID      CurveID
	Name    string
	Species string
	Shape   Shape

	coef [3]float64
	y2bh yearsToBreastHeight
	gi   [][2]float64
}

// IsGrowthIntercept reports whether the curve is a growth intercept model.
func (c *Curve) IsGrowthIntercept() bool {
	return c.Shape == ShapeGrowthIntercept
}

var pliY2BH = yearsToBreastHeight{Base: 2 + 3.6, Slope: 42.64}

var registry = map[CurveID]*Curve{
	CurveATCieszewski: {
		ID: CurveATCieszewski, Name: "Cieszewski (2002)", Species: "AT", Shape: ShapeCieszewski,
		coef: [3]float64{0.2644606, 117.3695371},
		y2bh: yearsToBreastHeight{Base: 1.331, Slope: 38.56},
	},
	CurveATGoudie: {
		ID: CurveATGoudie, Name: "Goudie (1989)", Species: "AT", Shape: ShapeGoudie,
		coef: [3]float64{-0.618, 6.879, -1.32},
		y2bh: yearsToBreastHeight{Base: 1.331, Slope: 38.56},
	},
	CurveFDCNighGI: {
		ID: CurveFDCNighGI, Name: "Nigh (1999) growth intercept", Species: "FDC", Shape: ShapeGrowthIntercept,
		gi: fdcNighGI,
	},
	CurveFDCBruce: {
		ID: CurveFDCBruce, Name: "Bruce (1981)", Species: "FDC", Shape: ShapeBruce,
		y2bh: yearsToBreastHeight{Base: 13.25, Divisor: 6.096, Min: 1},
	},
	CurvePLICieszewski: {
		ID: CurvePLICieszewski, Name: "Cieszewski (2000)", Species: "PLI", Shape: ShapeCieszewski,
		coef: [3]float64{0.20372424, 97.37473618},
		y2bh: pliY2BH,
	},
	CurvePLIGoudieDry: {
		ID: CurvePLIGoudieDry, Name: "Goudie (1983) dry", Species: "PLI", Shape: ShapeGoudie,
		coef: [3]float64{-1.00726, 7.81498, -1.28517},
		y2bh: pliY2BH,
	},
	CurvePLIGoudieWet: {
		ID: CurvePLIGoudieWet, Name: "Goudie (1983) wet", Species: "PLI", Shape: ShapeGoudie,
		coef: [3]float64{-0.935, 7.81498, -1.28517},
		y2bh: pliY2BH,
	},
	CurveSBCieszewski: {
		ID: CurveSBCieszewski, Name: "Cieszewski (2002)", Species: "SB", Shape: ShapeCieszewski,
		coef: [3]float64{0.1992266, 114.8730018},
		y2bh: yearsToBreastHeight{Base: 7.0 + 4.0427, Slope: 61.08},
	},
	CurveSSGoudie: {
		ID: CurveSSGoudie, Name: "Goudie (1984)", Species: "SS", Shape: ShapeGoudie,
		coef: [3]float64{-1.5282, 11.0605, -1.5108},
		y2bh: yearsToBreastHeight{Base: 11.7, Divisor: 5.4054, Min: 1},
	},
	CurveSWCieszewski: {
		ID: CurveSWCieszewski, Name: "Cieszewski (2002)", Species: "SW", Shape: ShapeCieszewski,
		coef: [3]float64{0.3235139, 260.9162652},
		y2bh: yearsToBreastHeight{Base: 2.0 + 2.1578, Slope: 110.76},
	},
	CurveSWGoudiePla: {
		ID: CurveSWGoudiePla, Name: "Goudie (1984) plantation", Species: "SW", Shape: ShapeGoudie,
		coef: [3]float64{-1.2866, 9.7936, -1.4661},
		y2bh: yearsToBreastHeight{Base: 2.0 + 2.1578, Slope: 110.76},
	},
	CurveSWGoudieNat: {
		ID: CurveSWGoudieNat, Name: "Goudie (1984) natural", Species: "SW", Shape: ShapeGoudie,
		coef: [3]float64{-1.2866, 9.7936, -1.4661},
		y2bh: yearsToBreastHeight{Base: 6.0 + 2.1578, Slope: 110.76},
	},
}

// Lookup returns the registered curve for id.
func Lookup(id CurveID) (*Curve, error) {
	c, ok := registry[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrCurve, int(id))
	}
	return c, nil
}

// Curves returns every registered curve ordered by ID.
func Curves() []*Curve {
	out := make([]*Curve, 0, len(registry))
	for _, c := range registry {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// fdcNighGI holds (x1, x2) for breast height ages 1..50.
var fdcNighGI = [][2]float64{
	{3.894, 0.5382},
	{2.546, 0.6330},
	{2.449, 0.6328},
	{2.346, 0.6358},
	{2.187, 0.6474},
	{2.033, 0.6593},
	{1.768, 0.6882},
	{1.599, 0.7076},
	{1.437, 0.7296},
	{1.266, 0.7570},
	{1.155, 0.7760},
	{1.043, 0.7981},
	{0.9722, 0.8135},
	{0.8972, 0.8310},
	{0.8812, 0.8343},
	{0.8368, 0.8457},
	{0.7872, 0.8595},
	{0.7554, 0.8690},
	{0.7370, 0.8747},
	{0.7165, 0.8819},
	{0.7007, 0.8872},
	{0.6814, 0.8944},
	{0.6810, 0.8950},
	{0.6736, 0.8982},
	{0.6702, 0.9003},
	{0.6579, 0.9055},
	{0.6585, 0.9062},
	{0.6414, 0.9131},
	{0.6236, 0.9204},
	{0.6177, 0.9235},
	{0.6159, 0.9252},
	{0.6032, 0.9314},
	{0.5913, 0.9372},
	{0.5797, 0.9428},
	{0.5635, 0.9506},
	{0.5637, 0.9516},
	{0.5504, 0.9584},
	{0.5455, 0.9615},
	{0.5356, 0.9670},
	{0.5289, 0.9711},
	{0.5182, 0.9772},
	{0.5138, 0.9803},
	{0.5107, 0.9830},
	{0.5035, 0.9877},
	{0.4992, 0.9910},
	{0.4896, 0.9972},
	{0.4844, 1.001},
	{0.4861, 1.002},
	{0.4837, 1.004},
	{0.4889, 1.003},
}
