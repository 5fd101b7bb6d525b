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
	"math"
)

// UtilizationClass is a diameter-at-breast-height size bin.
//
// The numeric values follow the inventory convention: Small is -1, All is
// 0 and the four merchantable bands are 1..4. Slot converts a class to a
// zero-based array position.
type UtilizationClass int

const (
	Small     UtilizationClass = -1
	All       UtilizationClass = 0
	U75To125  UtilizationClass = 1
	U125To175 UtilizationClass = 2
	U175To225 UtilizationClass = 3
	Over225   UtilizationClass = 4
)

// NumUtilizationClasses is the number of slots in a UtilizationVector.
const NumUtilizationClasses = 6

// UtilizationClasses lists every class in slot order.
var UtilizationClasses = []UtilizationClass{Small, All, U75To125, U125To175, U175To225, Over225}

// SizeBands lists the four merchantable bands that sum to All.
var SizeBands = []UtilizationClass{U75To125, U125To175, U175To225, Over225}

// AllButSmall lists All followed by the merchantable bands.
var AllButSmall = []UtilizationClass{All, U75To125, U125To175, U175To225, Over225}

var utilizationNames = [...]string{"SMALL", "ALL", "U75TO125", "U125TO175", "U175TO225", "OVER225"}

var utilizationBounds = [...][2]float64{
	{0, 7.5},
	{7.5, 10000},
	{7.5, 12.5},
	{12.5, 17.5},
	{17.5, 22.5},
	{22.5, 10000},
}

// Slot returns the zero-based vector position of the class.
func (uc UtilizationClass) Slot() int {
	return int(uc) + 1
}

// Valid reports whether uc is a known class.
func (uc UtilizationClass) Valid() bool {
	return uc >= Small && uc <= Over225
}

// LowBound returns the lower diameter bound of the class, in cm.
func (uc UtilizationClass) LowBound() float64 {
	return utilizationBounds[uc.Slot()][0]
}

// HighBound returns the upper diameter bound of the class, in cm.
func (uc UtilizationClass) HighBound() float64 {
	return utilizationBounds[uc.Slot()][1]
}

// Previous returns the next smaller band. Only defined for bands 2..4.
func (uc UtilizationClass) Previous() UtilizationClass {
	return uc - 1
}

func (uc UtilizationClass) String() string {
	if !uc.Valid() {
		return fmt.Sprintf("UtilizationClass(%d)", int(uc))
	}
	return utilizationNames[uc.Slot()]
}

// UtilizationVector holds one value per utilization class, in slot order.
type UtilizationVector [NumUtilizationClasses]float64

// Get returns the value for uc.
func (v *UtilizationVector) Get(uc UtilizationClass) float64 {
	return v[uc.Slot()]
}

// Set stores x for uc.
func (v *UtilizationVector) Set(uc UtilizationClass, x float64) {
	v[uc.Slot()] = x
}

// SumBands returns the sum of the four merchantable bands.
func (v *UtilizationVector) SumBands() float64 {
	var sum float64
	for _, uc := range SizeBands {
		sum += v.Get(uc)
	}
	return sum
}

// StoreSum writes SumBands into All and returns it.
func (v *UtilizationVector) StoreSum() float64 {
	sum := v.SumBands()
	v.Set(All, sum)
	return sum
}

// HeightVector holds Lorey height for the Small and All classes only.
type HeightVector [2]float64

// Get returns the height for uc, which must be Small or All.
func (h *HeightVector) Get(uc UtilizationClass) float64 {
	return h[heightSlot(uc)]
}

// Set stores x for uc, which must be Small or All.
func (h *HeightVector) Set(uc UtilizationClass, x float64) {
	h[heightSlot(uc)] = x
}

func heightSlot(uc UtilizationClass) int {
	switch uc {
	case Small:
		return 0
	case All:
		return 1
	default:
		panic(fmt.Sprintf("model: Lorey height is not held for %s", uc))
	}
}

// PI40K converts diameter squared (cm²) times density to basal area (m²/ha).
const PI40K = math.Pi / 40_000

// TreesPerHectare returns the density implied by basal area ba (m²/ha) and
// quadratic mean diameter dq (cm). It is 0 unless both are positive.
func TreesPerHectare(ba, dq float64) float64 {
	if ba > 0 && dq > 0 {
		return ba / PI40K / (dq * dq)
	}
	return 0
}

// QuadMeanDiameter returns the quadratic mean diameter implied by basal area
// and density. Implausibly large or non-positive inputs yield 0.
func QuadMeanDiameter(ba, tph float64) float64 {
	if ba > 1e6 || tph > 1e6 || math.IsNaN(ba) || math.IsNaN(tph) {
		return 0
	}
	if ba > 0 && tph > 0 {
		return math.Sqrt(ba / tph / PI40K)
	}
	return 0
}

// BasalArea returns the basal area implied by diameter and density.
func BasalArea(dq, tph float64) float64 {
	if math.IsNaN(dq) || math.IsNaN(tph) {
		return 0
	}
	return dq * dq * PI40K * tph
}
