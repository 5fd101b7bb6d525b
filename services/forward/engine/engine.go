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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/VdypForward/services/forward/controlmap"
	"github.com/AleutianAI/VdypForward/services/forward/model"
	"github.com/AleutianAI/VdypForward/services/forward/siteindex"
)

const instrumentationName = "github.com/AleutianAI/VdypForward/services/forward/engine"

// Engine projects polygons forward in time.
//
// Description:
//
//	An Engine binds a control map and settings. Both are fixed for its
//	lifetime. Every call to ProcessPolygon works on a private clone of its
//	input, so one Engine can serve many goroutines.
//
// Thread Safety: Safe for concurrent use.
type Engine struct {
	cm            *controlmap.ControlMap
	settings      Settings
	sites         *siteindex.Library
	combineGroups [][]string
	logger        *slog.Logger
	tracer        trace.Tracer
	meter         metric.Meter
	metrics       *Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithTracer sets the tracer. The default is the global provider's.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithMeter sets the meter the engine's Metrics are registered with.
func WithMeter(m metric.Meter) Option {
	return func(e *Engine) {
		if m != nil {
			e.meter = m
		}
	}
}

// WithSiteLibrary replaces the site index library. Without it the engine
// builds one that reports solver statistics to its Metrics.
func WithSiteLibrary(l *siteindex.Library) Option {
	return func(e *Engine) {
		e.sites = l
	}
}

// WithCombineGroups replaces DefaultCombineGroups.
func WithCombineGroups(groups [][]string) Option {
	return func(e *Engine) {
		e.combineGroups = groups
	}
}

// New builds an Engine.
//
// Inputs:
//
//	cm - The coefficient tables. Required.
//	settings - Model variants and run control. Validated here.
//	opts - Optional logger, tracer, meter, site library and combine groups.
//
// Outputs:
//
//	*Engine - Ready for use.
//	error - ErrInvalidSettings for bad settings or combine groups, or a
//	        metric registration failure.
func New(cm *controlmap.ControlMap, settings Settings, opts ...Option) (*Engine, error) {
	if cm == nil {
		return nil, fmt.Errorf("%w: control map is required", ErrInvalidSettings)
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cm:            cm,
		settings:      settings,
		combineGroups: DefaultCombineGroups,
		logger:        slog.Default(),
		tracer:        otel.Tracer(instrumentationName),
		meter:         otel.Meter(instrumentationName),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := validateCombineGroups(e.combineGroups); err != nil {
		return nil, err
	}
	metrics, err := NewMetrics(e.meter)
	if err != nil {
		return nil, err
	}
	e.metrics = metrics
	if e.sites == nil {
		e.sites = siteindex.New(siteindex.WithObserver(metrics.SolverObserver()))
	}
	e.logger = e.logger.With(slog.String("component", "forward.engine"))
	return e, nil
}

// Settings returns the engine's settings.
func (e *Engine) Settings() Settings {
	return e.settings
}

// ControlMap returns the engine's coefficient tables.
func (e *Engine) ControlMap() *controlmap.ControlMap {
	return e.cm
}

// YearSnapshot is the polygon as it stood at the end of one year.
type YearSnapshot struct {
	Year    int            `json:"year" yaml:"year"`
	Polygon *model.Polygon `json:"polygon" yaml:"polygon"`
}

// Result is the outcome of one polygon run.
type Result struct {
	// RunID uniquely identifies the run.
	RunID string `json:"run_id" yaml:"run_id"`

	// Polygon is the final state, identified by the last year reached.
	Polygon *model.Polygon `json:"polygon" yaml:"polygon"`

	// Years holds the snapshots selected by the output years control
	// variable, in year order.
	Years []YearSnapshot `json:"years,omitempty" yaml:"years,omitempty"`

	// LastStep is the final step that was requested.
	LastStep ExecutionStep `json:"last_step" yaml:"last_step"`

	// TargetYear is the year growth was to stop at.
	TargetYear int `json:"target_year" yaml:"target_year"`
}

// ProcessPolygon runs every step on polygon, growing it to its target year.
func (e *Engine) ProcessPolygon(ctx context.Context, polygon *model.Polygon) (*Result, error) {
	return e.ProcessPolygonUpTo(ctx, polygon, StepAll)
}

// ProcessPolygonUpTo runs the steps from CHECK_FOR_WORK through last.
//
// Description:
//
//	polygon is cloned; the caller's copy is never modified. Stopping at
//	one of the numbered GROW steps grows the first year only and stops
//	part way through it. GROW and ALL grow year by year to the target
//	year.
//
// Inputs:
//
//	ctx - Checked between steps and between years.
//	polygon - The stand to project.
//	last - The final step to run.
//
// Outputs:
//
//	*Result - The projected polygon and its yearly snapshots.
//	error - A *ProcessingError naming the failed step, or ErrUnknownStep.
//
// Thread Safety: Safe for concurrent use.
func (e *Engine) ProcessPolygonUpTo(ctx context.Context, polygon *model.Polygon, last ExecutionStep) (*Result, error) {
	if !last.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownStep, int(last))
	}
	if polygon == nil {
		return nil, &ProcessingError{Step: StepNone, Err: missingf("polygon")}
	}

	runID := uuid.NewString()
	ctx, span := e.tracer.Start(ctx, "engine.ProcessPolygon", trace.WithAttributes(
		attribute.String("vdyp.run_id", runID),
		attribute.String("vdyp.polygon", polygon.ID.String()),
		attribute.String("vdyp.last_step", last.String()),
	))
	defer span.End()

	started := time.Now()
	result, err := e.run(ctx, polygon.Clone(), last, runID)
	e.metrics.RecordPolygon(ctx, time.Since(started), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Warn("polygon failed", slog.String("run_id", runID), slog.String("polygon", polygon.ID.String()), slog.String("error", err.Error()))
		return nil, err
	}
	span.SetAttributes(attribute.Int("vdyp.years", len(result.Years)))
	return result, nil
}

// processor carries one polygon through the pipeline.
type processor struct {
	eng    *Engine
	pps    *PolygonProcessingState
	lps    *LayerProcessingState
	est    estimator
	logger *slog.Logger
}

type pipelineStep struct {
	step ExecutionStep
	run  func() error
}

func (e *Engine) run(ctx context.Context, work *model.Polygon, last ExecutionStep, runID string) (*Result, error) {
	fail := func(step ExecutionStep, err error) error {
		var pe *ProcessingError
		if errors.As(err, &pe) {
			return err
		}
		return &ProcessingError{Step: step, Polygon: work.ID, Err: err}
	}

	if err := work.Validate(); err != nil {
		return nil, fail(StepNone, err)
	}
	target, err := e.settings.Control.TargetYear(work.ID.Year, work.TargetYear.Get)
	if err != nil {
		return nil, fail(StepNone, err)
	}
	if target < work.ID.Year {
		return nil, fail(StepNone, invalidf("target year %d precedes polygon year %d", target, work.ID.Year))
	}
	pps, err := e.newPolygonState(work)
	if err != nil {
		return nil, fail(StepNone, err)
	}
	p := &processor{
		eng:    e,
		pps:    pps,
		lps:    pps.Primary,
		est:    estimator{cm: e.cm, bec: pps.Primary.BecZone},
		logger: e.logger.With(slog.String("run_id", runID), slog.String("polygon", work.ID.String())),
	}

	pipeline := []pipelineStep{
		{StepCheckForWork, p.stopIfNoWork},
		{StepCalculateMissingSiteCurves, p.calculateMissingSiteCurves},
		{StepCalculateCoverages, p.calculateCoverages},
		{StepDeterminePolygonRankings, p.determinePolygonRankings},
		{StepEstimateMissingSiteIndices, p.estimateMissingSiteIndices},
		{StepEstimateMissingYearsToBreastHeight, p.estimateMissingYearsToBreastHeight},
		{StepCalculateDominantHeightAgeSiteIndex, p.calculateDominantHeightAgeSiteIndex},
		{StepSetCompatibilityVariables, p.setCompatibilityVariables},
	}
	for _, ps := range pipeline {
		if ps.step > last {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, fail(ps.step, err)
		}
		if err := p.runStep(ctx, ps.step, ps.run); err != nil {
			return nil, fail(ps.step, err)
		}
	}

	result := &Result{RunID: runID, LastStep: last, TargetYear: target}
	start := work.ID.Year
	year := start
	if last >= StepGrow1LayerDominantHeightDelta {
		p.record(result, start, start, target)
		if err := p.growYears(ctx, result, last, start, target, &year); err != nil {
			return nil, fail(StepGrow, err)
		}
	}
	result.Polygon = p.polygonAt(year, e.settings.Control.CompatibilityOutput > 0)
	return result, nil
}

// growYears grows the primary layer from start to end, advancing *year as
// each period completes.
func (p *processor) growYears(ctx context.Context, result *Result, last ExecutionStep, start, end int, year *int) error {
	ctl := p.eng.settings.Control
	recalculateBeforeOutput := p.eng.settings.Debug.SpeciesDynamics != DynamicsNone && p.lps.NSpecies() > 1
	recalculateAfterOutput := ctl.UpdateDuringGrowth >= 1

	for y := start + 1; y <= end; y++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.logger.Debug("growing primary layer", slog.Int("year", y))
		if err := p.runStep(ctx, StepGrow, func() error { return p.grow(last) }); err != nil {
			return fmt.Errorf("year %d: %w", y, err)
		}
		*year = y
		p.eng.metrics.RecordYear(ctx)
		if last < StepGrow {
			p.record(result, start, y, y)
			return nil
		}

		if recalculateBeforeOutput {
			if err := p.recalculateSiteContext(); err != nil {
				return fmt.Errorf("year %d: %w", y, err)
			}
		}
		p.record(result, start, y, end)
		if !recalculateBeforeOutput && recalculateAfterOutput {
			if err := p.recalculateSiteContext(); err != nil {
				return fmt.Errorf("year %d: %w", y, err)
			}
		}
	}
	return nil
}

func (p *processor) recalculateSiteContext() error {
	if err := p.calculateCoverages(); err != nil {
		return err
	}
	return p.calculateDominantHeightAgeSiteIndex()
}

// record appends a snapshot of year when the output years control
// variable selects it.
func (p *processor) record(result *Result, start, year, end int) {
	ctl := p.eng.settings.Control
	if !outputYear(ctl.OutputYears, start, year, end) {
		return
	}
	withCV := ctl.CompatibilityOutput == 2 || (ctl.CompatibilityOutput == 1 && year == start)
	result.Years = append(result.Years, YearSnapshot{Year: year, Polygon: p.polygonAt(year, withCV)})
}

// outputYear reports whether selection writes year of a run from start to
// end.
func outputYear(selection, start, year, end int) bool {
	switch selection {
	case OutputFirstYear:
		return year == start
	case OutputFirstAndLast:
		return year == start || year == end
	case OutputAllYears:
		return true
	case OutputFirstTenthsLast:
		return (year-start)%10 == 0 || year == end
	default:
		return false
	}
}

// polygonAt builds a standalone polygon from the current state.
func (p *processor) polygonAt(year int, withCV bool) *model.Polygon {
	out := p.pps.Polygon.Clone()
	out.ID = out.ID.ForYear(year)
	out.Layers[model.LayerPrimary] = p.pps.Primary.UpdatedLayer(withCV)
	if p.pps.Veteran != nil {
		out.Layers[model.LayerVeteran] = p.pps.Veteran.UpdatedLayer(false)
	}
	return out
}

// runStep times and traces one step.
func (p *processor) runStep(ctx context.Context, step ExecutionStep, fn func() error) error {
	_, span := p.eng.tracer.Start(ctx, "engine.step", trace.WithAttributes(attribute.String("vdyp.step", step.String())))
	defer span.End()

	started := time.Now()
	err := fn()
	p.eng.metrics.RecordStep(ctx, step, time.Since(started))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if p.eng.settings.Debug.Messaging > 1 {
		p.logger.Debug("step complete", slog.String("step", step.String()))
	}
	return nil
}

func (e *Engine) newPolygonState(polygon *model.Polygon) (*PolygonProcessingState, error) {
	bec, err := e.cm.BecZone(polygon.BecZone)
	if err != nil {
		return nil, err
	}
	layer := polygon.PrimaryLayer()
	if layer == nil {
		return nil, missingf("polygon %s has no primary layer", polygon.ID)
	}
	pps := &PolygonProcessingState{Polygon: polygon}
	if pps.Primary, err = newLayerState(e.cm, bec, layer, true); err != nil {
		return nil, err
	}
	if vet := polygon.VeteranLayer(); vet != nil {
		if pps.Veteran, err = newLayerState(e.cm, bec, vet, false); err != nil {
			return nil, err
		}
	}
	return pps, nil
}

// stopIfNoWork fails when the primary layer has no species to grow.
func (p *processor) stopIfNoWork() error {
	if p.lps.NSpecies() == 0 {
		return ErrNoWork
	}
	return nil
}
