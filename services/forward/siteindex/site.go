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
	"math"
)

// HeightToIndex returns the site index of a tree of the given height and
// age on curve id.
//
// Description:
//
//	Growth intercept curves evaluate their coefficient table directly and
//	accept only breast height ages. Every other curve is inverted with
//	SiteIterate.
func (l *Library) HeightToIndex(id CurveID, age float64, ageType AgeType, height float64) (float64, error) {
	c, err := Lookup(id)
	if err != nil {
		return 0, err
	}
	if ageType == AgeBreast {
		if height < BreastHeight {
			return 0, fmt.Errorf("%w: height %.4f at breast height age", ErrLessThan13, height)
		}
	} else if height <= 0 {
		return 0, fmt.Errorf("%w: height %.4f", ErrNoAnswer, height)
	}
	if age <= 0 {
		return 0, fmt.Errorf("%w: age %.4f", ErrNoAnswer, age)
	}

	if c.IsGrowthIntercept() {
		if ageType == AgeTotal {
			return 0, fmt.Errorf("%w: curve %d", ErrGrowthInterceptTotal, int(c.ID))
		}
		return growthInterceptIndex(c, age, height)
	}
	return l.SiteIterate(id, age, ageType, height)
}

// SiteIterate solves for the site index whose curve passes through height
// at age.
//
// Description:
//
//	Starts from the height itself (at least 1.3 m) with a step of half
//	that, and stops within 0.01 m.
func (l *Library) SiteIterate(id CurveID, age float64, ageType AgeType, height float64) (float64, error) {
	c, err := Lookup(id)
	if err != nil {
		return 0, err
	}
	if c.IsGrowthIntercept() && ageType == AgeTotal {
		return 0, fmt.Errorf("%w: curve %d", ErrGrowthInterceptTotal, int(c.ID))
	}

	start := math.Max(height, BreastHeight)
	s := solver{kind: SolveSiteIndex, tolerance: 0.01, floor: BreastHeight, maxNoAnswer: 1}
	return l.solve(s, start, start/2, height, func(site float64) (float64, error) {
		y2bh, err := c.yearsToBreastHeight(site)
		if err != nil {
			return 0, err
		}
		bhAge := age
		if ageType == AgeTotal {
			if bhAge, err = AgeToAge(age, AgeTotal, AgeBreast, y2bh); err != nil {
				return 0, err
			}
		}
		return l.indexToHeight(c, bhAge, AgeBreast, site, y2bh)
	})
}

// growthInterceptIndex evaluates a growth intercept curve:
// si = 1.3 + x1·(100·(h-1.3)/(bhage-0.5))^x2.
func growthInterceptIndex(c *Curve, bhAge, height float64) (float64, error) {
	if height < BreastHeight {
		return 0, fmt.Errorf("%w: height %.4f", ErrLessThan13, height)
	}
	if bhAge <= 0.5 {
		return 0, fmt.Errorf("%w: breast height age %.4f", ErrGrowthInterceptMinimum, bhAge)
	}
	row := int(bhAge)
	if row < 1 || row > len(c.gi) {
		return 0, fmt.Errorf("%w: breast height age %.4f", ErrGrowthInterceptMaximum, bhAge)
	}
	x1, x2 := c.gi[row-1][0], c.gi[row-1][1]
	index := (height - BreastHeight) * 100 / (bhAge - 0.5)
	return BreastHeight + x1*ppow(index, x2), nil
}
