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
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/VdypForward/services/forward/siteindex"
)

// Metrics are the engine's instruments. All names carry the "vdyp_forward_"
// prefix.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// PolygonsTotal counts processed polygons by status.
	PolygonsTotal metric.Int64Counter

	// PolygonDuration records whole-polygon processing time in seconds.
	PolygonDuration metric.Float64Histogram

	// StepDuration records per-step processing time in seconds.
	StepDuration metric.Float64Histogram

	// YearsGrown counts growth periods completed.
	YearsGrown metric.Int64Counter

	// SolverIterations records the iterations of each site index root
	// finder run by the quantity solved for.
	SolverIterations metric.Int64Histogram

	// SolverFailures counts root finder runs that returned an error.
	SolverFailures metric.Int64Counter
}

// NewMetrics registers the engine's instruments with meter.
//
// Outputs:
//
//	*Metrics - The registered instruments.
//	error - Non-nil if any registration fails.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.PolygonsTotal, err = meter.Int64Counter(
		"vdyp_forward_polygons_total",
		metric.WithDescription("Polygons processed"),
		metric.WithUnit("{polygon}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create polygons_total: %w", err)
	}

	m.PolygonDuration, err = meter.Float64Histogram(
		"vdyp_forward_polygon_duration_seconds",
		metric.WithDescription("Polygon processing duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5),
	)
	if err != nil {
		return nil, fmt.Errorf("create polygon_duration: %w", err)
	}

	m.StepDuration, err = meter.Float64Histogram(
		"vdyp_forward_step_duration_seconds",
		metric.WithDescription("Execution step duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.00001, 0.0001, 0.001, 0.01, 0.1, 1),
	)
	if err != nil {
		return nil, fmt.Errorf("create step_duration: %w", err)
	}

	m.YearsGrown, err = meter.Int64Counter(
		"vdyp_forward_years_grown_total",
		metric.WithDescription("Growth periods completed"),
		metric.WithUnit("{year}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create years_grown_total: %w", err)
	}

	m.SolverIterations, err = meter.Int64Histogram(
		"vdyp_forward_solver_iterations",
		metric.WithDescription("Site index root finder iterations per run"),
		metric.WithUnit("{iteration}"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 20, 50, 100),
	)
	if err != nil {
		return nil, fmt.Errorf("create solver_iterations: %w", err)
	}

	m.SolverFailures, err = meter.Int64Counter(
		"vdyp_forward_solver_failures_total",
		metric.WithDescription("Site index root finder runs that failed"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create solver_failures_total: %w", err)
	}

	return m, nil
}

// RecordPolygon records one finished polygon.
func (m *Metrics) RecordPolygon(ctx context.Context, duration time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.PolygonsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	m.PolygonDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("status", status)))
}

// RecordStep records one finished execution step.
func (m *Metrics) RecordStep(ctx context.Context, step ExecutionStep, duration time.Duration) {
	if m == nil {
		return
	}
	m.StepDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("step", step.String())))
}

// RecordYear counts one growth period.
func (m *Metrics) RecordYear(ctx context.Context) {
	if m == nil {
		return
	}
	m.YearsGrown.Add(ctx, 1)
}

// SolverObserver adapts the metrics to a siteindex.Observer.
func (m *Metrics) SolverObserver() siteindex.Observer {
	return func(kind siteindex.SolveKind, iterations int, err error) {
		if m == nil {
			return
		}
		ctx := context.Background()
		attrs := metric.WithAttributes(attribute.String("kind", string(kind)))
		m.SolverIterations.Record(ctx, int64(iterations), attrs)
		if err != nil {
			m.SolverFailures.Add(ctx, 1, attrs)
		}
	}
}
