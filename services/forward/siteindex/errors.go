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

import "errors"

// Domain errors.
var (
	// ErrLessThan13 indicates a site index or height below breast height.
	ErrLessThan13 = errors.New("site index or height below 1.3 m")

	// ErrCurve indicates an unknown site curve.
	ErrCurve = errors.New("unknown site curve")

	// ErrForestInventoryZone indicates an unknown forest inventory zone code.
	ErrForestInventoryZone = errors.New("unknown forest inventory zone")

	// ErrGrowthInterceptMinimum indicates a breast height age below the
	// range of a growth intercept curve.
	ErrGrowthInterceptMinimum = errors.New("breast height age below growth intercept range")

	// ErrGrowthInterceptMaximum indicates a breast height age above the
	// range of a growth intercept curve.
	ErrGrowthInterceptMaximum = errors.New("breast height age above growth intercept range")

	// ErrGrowthInterceptTotal indicates a growth intercept curve was asked to
	// work from total age.
	ErrGrowthInterceptTotal = errors.New("growth intercept curves cannot use total age")

	// ErrAgeType indicates an unknown age type.
	ErrAgeType = errors.New("unknown age type")
)

// ErrNoAnswer is the convergence error: the solver failed to converge or
// the result exceeded the plausible maximum of 999.
var ErrNoAnswer = errors.New("iteration could not converge")
