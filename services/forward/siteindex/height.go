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

// IndexToHeight returns the height on curve id at the given age.
//
// Description:
//
//	y2bh is rounded onto the half-year grid before use, except by the
//	Bruce curve, which derives its own. Below breast height age the height
//	follows the juvenile parabola 1.3·(tage/y2bh)².
//
// Inputs:
//
//	id - Site curve.
//	age - Age, interpreted by ageType.
//	ageType - AgeTotal or AgeBreast.
//	siteIndex - Site index in m, at least 1.3.
//	y2bh - Years to breast height.
//
// Outputs:
//
//	float64 - Height in m.
//	error - ErrCurve, ErrLessThan13, ErrNoAnswer or a growth intercept
//	error.
func (l *Library) IndexToHeight(id CurveID, age float64, ageType AgeType, siteIndex, y2bh float64) (float64, error) {
	c, err := Lookup(id)
	if err != nil {
		return 0, err
	}
	return l.indexToHeight(c, age, ageType, siteIndex, y2bh)
}

func (l *Library) indexToHeight(c *Curve, age float64, ageType AgeType, siteIndex, y2bh float64) (float64, error) {
	if siteIndex < BreastHeight {
		return 0, fmt.Errorf("%w: site index %.4f", ErrLessThan13, siteIndex)
	}
	y2bh = float64(int(y2bh)) + 0.5

	var totalAge, bhAge float64
	var err error
	switch ageType {
	case AgeTotal:
		totalAge = age
		bhAge, err = AgeToAge(age, AgeTotal, AgeBreast, y2bh)
	case AgeBreast:
		bhAge = age
		totalAge, err = AgeToAge(age, AgeBreast, AgeTotal, y2bh)
	default:
		err = fmt.Errorf("%w: %s", ErrAgeType, ageType)
	}
	if err != nil {
		return 0, err
	}
	if totalAge < 0 {
		return 0, fmt.Errorf("%w: total age %.4f", ErrNoAnswer, totalAge)
	}

	if c.IsGrowthIntercept() {
		if ageType == AgeTotal {
			return 0, fmt.Errorf("%w: curve %d", ErrGrowthInterceptTotal, int(c.ID))
		}
		return l.growthInterceptHeight(c, bhAge, siteIndex)
	}

	if totalAge < 0.00001 {
		return 0, nil
	}

	switch c.Shape {
	case ShapeCieszewski:
		if bhAge <= 0 {
			return juvenileHeight(totalAge, y2bh), nil
		}
		x1, x2 := c.coef[0], c.coef[1]
		x3 := 20 * x2 / ppow(50.0, 1+x1)
		s := siteIndex - BreastHeight
		x4 := s + math.Sqrt((s-x3)*(s-x3)+80*x2*s*ppow(50.0, -(1+x1)))
		return BreastHeight + (x4+x3)/(2+80*x2*ppow(bhAge, -(1+x1))/(x4-x3)), nil

	case ShapeGoudie:
		if bhAge <= 0 {
			return juvenileHeight(totalAge, y2bh), nil
		}
		x1, x2, x3 := c.coef[0], c.coef[1], c.coef[2]
		lsi := llog(siteIndex - BreastHeight)
		ratio := (1 + math.Exp(x2+x1*lsi+x3*math.Log(50.0))) /
			(1 + math.Exp(x2+x1*lsi+x3*math.Log(bhAge)))
		return BreastHeight + (siteIndex-BreastHeight)*ratio, nil

	case ShapeBruce:
		y2bh = 13.25 - siteIndex/6.096
		x2, x3, x4 := bruceTerms(siteIndex, y2bh)
		if ageType == AgeTotal {
			return siteIndex * math.Exp(x4*(ppow(totalAge, x2)-x3)), nil
		}
		return siteIndex * math.Exp(x4*(ppow(bhAge+y2bh, x2)-x3)), nil

	default:
		return 0, fmt.Errorf("%w: %d has shape %s", ErrCurve, int(c.ID), c.Shape)
	}
}

func juvenileHeight(totalAge, y2bh float64) float64 {
	return totalAge * totalAge * BreastHeight / y2bh / y2bh
}

func bruceTerms(siteIndex, y2bh float64) (x2, x3, x4 float64) {
	x1 := siteIndex / 30.48
	x2 = -0.477762 + x1*(-0.894427+x1*(0.793548-x1*0.171666))
	x3 = ppow(50.0+y2bh, x2)
	x4 = llog(1.372/siteIndex) / (ppow(y2bh, x2) - x3)
	return x2, x3, x4
}

// growthInterceptHeight inverts the growth intercept site function at a
// fixed breast height age.
func (l *Library) growthInterceptHeight(c *Curve, bhAge, siteIndex float64) (float64, error) {
	if bhAge < 0.5 {
		return 0, fmt.Errorf("%w: breast height age %.4f", ErrGrowthInterceptMinimum, bhAge)
	}
	start := math.Max(siteIndex, BreastHeight)
	s := solver{kind: SolveHeight, tolerance: 0.01, floor: BreastHeight, maxNoAnswer: 1}
	return l.solve(s, start, start/2, siteIndex, func(h float64) (float64, error) {
		if h < BreastHeight {
			return BreastHeight, nil
		}
		return growthInterceptIndex(c, bhAge, h)
	})
}
