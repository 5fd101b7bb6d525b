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
	"math"
)

const (
	// BreastHeight is the reference height for breast height ages, in m.
	BreastHeight = 1.3

	// MaxValue is the largest plausible solved age, height or site index.
	MaxValue = 999.0

	minStep       = 0.00001
	maxIterations = 10_000
)

// SolveKind names the quantity a solver run was looking for.
type SolveKind string

const (
	SolveAge                 SolveKind = "age"
	SolveSiteIndex           SolveKind = "site_index"
	SolveHeight              SolveKind = "height"
	SolveGrowthInterceptScan SolveKind = "growth_intercept_age"
)

// Observer receives the outcome of every solver run.
type Observer func(kind SolveKind, iterations int, err error)

// solver parameterizes one bisection run.
type solver struct {
	kind      SolveKind
	tolerance float64

	// floor reflects trial values that fall below it. Zero disables.
	floor float64

	// maxNoAnswer is the number of ErrNoAnswer evaluations tolerated before
	// the run fails. An evaluation error of that kind is otherwise read as
	// a value far above any target.
	maxNoAnswer int
}

// solve finds x such that eval(x) is within tolerance of target.
//
// Description:
//
//	Starts at x and moves by step. Whenever the residual changes sign the
//	step is halved and reversed. The run stops when the residual is within
//	tolerance, or when the step underflows, which is accepted as a possibly
//	imprecise answer. Values above MaxValue fail with ErrNoAnswer.
func (l *Library) solve(s solver, x, step, target float64, eval func(float64) (float64, error)) (result float64, err error) {
	iterations := 0
	defer func() {
		l.observe(s.kind, iterations, err)
	}()

	noAnswers := 0
	for iterations < maxIterations {
		iterations++

		y, evalErr := eval(x)
		if evalErr != nil {
			if !errors.Is(evalErr, ErrNoAnswer) {
				return 0, evalErr
			}
			noAnswers++
			if noAnswers >= s.maxNoAnswer {
				return 0, evalErr
			}
			y = MaxValue + 1
		}

		if math.Abs(y-target) <= s.tolerance {
			return x, nil
		}
		if y > target {
			if step > 0 {
				step = -step / 2
			}
		} else if step < 0 {
			step = -step / 2
		}
		x += step

		if math.Abs(step) < minStep {
			return x, nil
		}
		if x > MaxValue {
			return 0, ErrNoAnswer
		}
		if s.floor > 0 && x < s.floor {
			if step > 0 {
				x += step
			} else {
				x -= step
				step /= 2
			}
		}
	}
	return 0, ErrNoAnswer
}

// ppow is x^y, or 0 when x is not positive.
func ppow(x, y float64) float64 {
	if x <= 0 {
		return 0
	}
	return math.Pow(x, y)
}

// llog is ln(x), with non-positive x mapped to ln(0.00001).
func llog(x float64) float64 {
	if x <= 0 {
		return math.Log(0.00001)
	}
	return math.Log(x)
}
