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

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/VdypForward/services/forward/model"
)

var (
	// ErrMissingValue indicates a step needed a value that is absent and
	// could not be estimated.
	ErrMissingValue = errors.New("required value is missing")

	// ErrStepOrder indicates an execution step ran before the step that
	// produces its inputs.
	ErrStepOrder = errors.New("execution step out of order")

	// ErrNoWork indicates the primary layer has no species with enough
	// basal area to grow.
	ErrNoWork = errors.New("no species with sufficient basal area")

	// ErrInvalidSettings indicates debug settings or control variables
	// outside their recognized values.
	ErrInvalidSettings = errors.New("invalid engine settings")

	// ErrInvalidState indicates an intermediate value left its valid range,
	// for example a negative density.
	ErrInvalidState = errors.New("invalid processing state")

	// ErrConvergence indicates an iterative reconciliation did not settle.
	ErrConvergence = errors.New("reconciliation did not converge")

	// ErrUnknownStep indicates a step name that is not part of the pipeline.
	ErrUnknownStep = errors.New("unknown execution step")
)

// ProcessingError scopes a failure to one polygon and the step that raised
// it. It unwraps to the underlying cause, which may be one of the sentinels
// above, a siteindex error, or a controlmap error.
type ProcessingError struct {
	// Step is the execution step that failed.
	Step ExecutionStep

	// Polygon identifies the polygon being processed.
	Polygon model.PolygonIdentifier

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *ProcessingError) Error() string {
	return fmt.Sprintf("polygon %s: step %s: %v", e.Polygon, e.Step, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// missingf wraps ErrMissingValue with detail.
func missingf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMissingValue, fmt.Sprintf(format, args...))
}

// stepOrderf wraps ErrStepOrder, naming the step that has to run first.
func stepOrderf(before ExecutionStep, what string) error {
	return fmt.Errorf("%w: %s requires %s to run first", ErrStepOrder, what, before)
}

// invalidf wraps ErrInvalidState with detail.
func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}
