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

import "fmt"

// AgeType distinguishes total age from breast height age.
type AgeType int

const (
	AgeTotal AgeType = iota
	AgeBreast
)

func (a AgeType) String() string {
	switch a {
	case AgeTotal:
		return "total"
	case AgeBreast:
		return "breast"
	default:
		return fmt.Sprintf("AgeType(%d)", int(a))
	}
}

// Library evaluates registered site curves.
//
// Description:
//
//	The zero value is ready to use. WithObserver attaches a callback that
//	receives solver statistics, which the engine feeds into metrics.
//
// Thread Safety: Safe for concurrent use. The observer must be too.
type Library struct {
	observer Observer
}

// Option configures a Library.
type Option func(*Library)

// WithObserver installs a solver observer.
func WithObserver(o Observer) Option {
	return func(l *Library) {
		l.observer = o
	}
}

// New returns a Library.
func New(opts ...Option) *Library {
	l := &Library{}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Library) observe(kind SolveKind, iterations int, err error) {
	if l != nil && l.observer != nil {
		l.observer(kind, iterations, err)
	}
}

// AgeToAge converts between total and breast height age. Results are
// clamped at zero.
func AgeToAge(age float64, from, to AgeType, y2bh float64) (float64, error) {
	var out float64
	switch {
	case from == AgeBreast && to == AgeTotal:
		out = age + y2bh
	case from == AgeTotal && to == AgeBreast:
		out = age - y2bh
	case from == to && (from == AgeTotal || from == AgeBreast):
		out = age
	default:
		return 0, fmt.Errorf("%w: %s to %s", ErrAgeType, from, to)
	}
	if out < 0 {
		out = 0
	}
	return out, nil
}

// YearsToBreastHeight estimates years from seed to breast height.
func (l *Library) YearsToBreastHeight(id CurveID, siteIndex float64) (float64, error) {
	c, err := Lookup(id)
	if err != nil {
		return 0, err
	}
	return c.yearsToBreastHeight(siteIndex)
}

// YearsToBreastHeight05 is YearsToBreastHeight forced onto the half-year
// grid 0.5, 1.5, 2.5, ...
func (l *Library) YearsToBreastHeight05(id CurveID, siteIndex float64) (float64, error) {
	y, err := l.YearsToBreastHeight(id, siteIndex)
	if err != nil {
		return 0, err
	}
	return float64(int(y)) + 0.5, nil
}

func (c *Curve) yearsToBreastHeight(siteIndex float64) (float64, error) {
	if siteIndex < BreastHeight {
		return 0, fmt.Errorf("%w: site index %.4f", ErrLessThan13, siteIndex)
	}
	if c.IsGrowthIntercept() {
		return 0, fmt.Errorf("%w: curve %d has no years-to-breast-height function", ErrGrowthInterceptTotal, int(c.ID))
	}
	return c.y2bh.eval(siteIndex), nil
}
