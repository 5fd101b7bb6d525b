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

import "math"

// maxLogit is the largest exponent the ratio helpers accept.
const maxLogit = 88.0

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(x, hi))
}

// safeExp is exp(x) for x not above maxLogit.
func safeExp(x float64) (float64, error) {
	if x > maxLogit {
		return 0, invalidf("logit %g exceeds %g", x, maxLogit)
	}
	return math.Exp(x), nil
}

// exponentRatio is the logistic function of logit, guarded by safeExp.
func exponentRatio(logit float64) (float64, error) {
	e, err := safeExp(logit)
	if err != nil {
		return 0, err
	}
	return e / (1 + e), nil
}

// logistic is 1/(1+exp(-x)).
func logistic(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// ratio is the logistic of arg clamped to [-radius, radius].
func ratio(arg, radius float64) float64 {
	return logistic(clamp(arg, -radius, radius))
}

// logit is ln(p/(1-p)).
func logit(p float64) float64 {
	return math.Log(p / (1 - p))
}
