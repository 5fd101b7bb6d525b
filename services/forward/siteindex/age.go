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
	"errors"
	"fmt"
	"math"
)

// HeightToAge returns the age at which curve id reaches height.
//
// Description:
//
//	The Bruce curve inverts in closed form. Growth intercept curves scan
//	whole breast height ages (GrowthInterceptIterate). Every other curve
//	is solved by Iterate.
//
// Inputs:
//
//	id - Site curve.
//	height - Target height in m.
//	ageType - The age type of the result.
//	siteIndex - Site index in m.
//	y2bh - Years to breast height.
//
// Outputs:
//
//	float64 - Age of the requested type.
//	error - ErrLessThan13 below breast height, ErrNoAnswer on failure to
//	converge, ErrCurve or a growth intercept error.
func (l *Library) HeightToAge(id CurveID, height float64, ageType AgeType, siteIndex, y2bh float64) (float64, error) {
	c, err := Lookup(id)
	if err != nil {
		return 0, err
	}
	if height < BreastHeight {
		if ageType == AgeBreast {
			return 0, fmt.Errorf("%w: height %.4f", ErrLessThan13, height)
		}
		if height <= 0.0001 {
			return 0, nil
		}
	}
	if siteIndex < BreastHeight {
		return 0, fmt.Errorf("%w: site index %.4f", ErrLessThan13, siteIndex)
	}

	switch c.Shape {
	case ShapeBruce:
		return bruceAge(height, ageType, siteIndex)
	case ShapeGrowthIntercept:
		return l.GrowthInterceptIterate(id, height, ageType, siteIndex)
	default:
		return l.Iterate(id, height, ageType, siteIndex, y2bh)
	}
}

func bruceAge(height float64, ageType AgeType, siteIndex float64) (float64, error) {
	y2bh := 13.25 - siteIndex/6.096
	x2, x3, x4 := bruceTerms(siteIndex, y2bh)

	x1 := llog(height/siteIndex)/x4 + x3
	if x1 < 0 {
		return 0, fmt.Errorf("%w: height %.4f above curve", ErrNoAnswer, height)
	}
	age := ppow(x1, 1/x2)
	if ageType == AgeBreast {
		age -= y2bh
	}
	if age < 0 {
		return 0, nil
	}
	if age > MaxValue {
		return 0, fmt.Errorf("%w: age %.1f", ErrNoAnswer, age)
	}
	return age, nil
}

// Iterate solves for the total age at which the curve reaches height, then
// converts to the requested age type.
//
// Description:
//
//	Starts at 25 years with a 12.5 year step and stops within 0.005 m.
//	Up to 100 evaluations may fail with ErrNoAnswer before the run fails.
func (l *Library) Iterate(id CurveID, height float64, ageType AgeType, siteIndex, y2bh float64) (float64, error) {
	c, err := Lookup(id)
	if err != nil {
		return 0, err
	}
	s := solver{kind: SolveAge, tolerance: 0.005, maxNoAnswer: 100}
	age, err := l.solve(s, 25, 12.5, height, func(age float64) (float64, error) {
		return l.indexToHeight(c, age, AgeTotal, siteIndex, y2bh)
	})
	if err != nil {
		return 0, err
	}
	if ageType == AgeBreast {
		return AgeToAge(age, AgeTotal, AgeBreast, y2bh)
	}
	return age, nil
}

// GrowthInterceptIterate finds the whole breast height age in 1..99 whose
// site index for height is closest to siteIndex.
//
// Outputs:
//
//	float64 - Breast height age.
//	error - ErrGrowthInterceptTotal for total ages; ErrNoAnswer when the
//	closest match is more than 1 m away.
func (l *Library) GrowthInterceptIterate(id CurveID, height float64, ageType AgeType, siteIndex float64) (result float64, err error) {
	c, err := Lookup(id)
	if err != nil {
		return 0, err
	}
	if ageType == AgeTotal {
		return 0, fmt.Errorf("%w: curve %d", ErrGrowthInterceptTotal, int(c.ID))
	}

	iterations := 0
	defer func() {
		l.observe(SolveGrowthInterceptScan, iterations, err)
	}()

	best, bestDiff := 1.0, math.Inf(1)
	for age := 1.0; age < 100; age++ {
		iterations++
		test, err := growthInterceptIndex(c, age, height)
		if errors.Is(err, ErrGrowthInterceptMaximum) || errors.Is(err, ErrGrowthInterceptMinimum) {
			if errors.Is(err, ErrGrowthInterceptMaximum) {
				break
			}
			continue
		}
		if err != nil {
			return 0, err
		}
		if diff := math.Abs(test - siteIndex); diff < bestDiff {
			best, bestDiff = age, diff
		}
	}
	if bestDiff > 1 {
		return 0, fmt.Errorf("%w: closest growth intercept age is %.2f m off", ErrNoAnswer, bestDiff)
	}
	return best, nil
}
