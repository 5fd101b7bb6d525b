// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


// Package batch projects many polygons in parallel with bounded workers,
// writing each result to disk and optionally to the result store.
// Progress is checkpointed so an interrupted batch resumes where it
// stopped.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/VdypForward/services/forward/engine"
	"github.com/AleutianAI/VdypForward/services/forward/lock"
	"github.com/AleutianAI/VdypForward/services/forward/model"
	"github.com/AleutianAI/VdypForward/services/forward/store"
)

// Projector runs the engine on one polygon. *engine.Engine satisfies it.
type Projector interface {
	ProcessPolygonUpTo(ctx context.Context, polygon *model.Polygon, last engine.ExecutionStep) (*engine.Result, error)
}

// ResultSink persists a result. *store.Results satisfies it.
type ResultSink interface {
	Put(ctx context.Context, startYear int, result *engine.Result) (store.Summary, error)
}

// Config configures a Runner.
type Config struct {
	// Workers bounds the polygons projected at once. Values below 1 mean 1.
	Workers int

	// UpTo is the last step to run. StepNone means StepAll.
	UpTo engine.ExecutionStep

	// OutputDir receives one file per polygon. Empty disables file output.
	OutputDir string

	// OutputFormat is the format of the output files. Defaults to JSON.
	OutputFormat model.Format

	// CheckpointPath enables resume when set.
	CheckpointPath string

	// Sink, when set, receives every result.
	Sink ResultSink

	// Locks, when set, guards OutputDir against a concurrent batch.
	Locks *lock.Manager

	Logger *slog.Logger
}

// Outcome is what happened to one polygon.
type Outcome struct {
	Polygon    string        `json:"polygon"`
	RunID      string        `json:"run_id,omitempty"`
	EndYear    int           `json:"end_year,omitempty"`
	OutputPath string        `json:"output_path,omitempty"`
	Skipped    bool          `json:"skipped,omitempty"`
	Duration   time.Duration `json:"duration"`
	Err        error         `json:"-"`
}

// Report summarizes a batch. Outcomes are in input order.
type Report struct {
	Outcomes  []Outcome     `json:"outcomes"`
	Processed int           `json:"processed"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Duration  time.Duration `json:"duration"`
}

// Err joins the polygon failures, or returns nil when there were none.
func (r *Report) Err() error {
	var errs []error
	for _, o := range r.Outcomes {
		if o.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", o.Polygon, o.Err))
		}
	}
	return errors.Join(errs...)
}

// Runner projects batches of polygons.
//
// Thread Safety: A Runner may be shared, but two Run calls against the
// same checkpoint path must not overlap.
type Runner struct {
	projector Projector
	cfg       Config
	logger    *slog.Logger
}

// NewRunner validates cfg and returns a runner.
func NewRunner(projector Projector, cfg Config) (*Runner, error) {
	if projector == nil {
		return nil, fmt.Errorf("%w: projector must not be nil", ErrInvalidInput)
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.UpTo == engine.StepNone {
		cfg.UpTo = engine.StepAll
	}
	if !cfg.UpTo.Valid() {
		return nil, fmt.Errorf("%w: step %d", engine.ErrUnknownStep, int(cfg.UpTo))
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = model.FormatJSON
	}
	if cfg.OutputFormat != model.FormatJSON && cfg.OutputFormat != model.FormatYAML {
		return nil, fmt.Errorf("%w: %q", model.ErrUnsupportedFormat, cfg.OutputFormat)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		projector: projector,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "forward.batch")),
	}, nil
}

// RunFiles loads every polygon from paths and runs them as one batch.
func (r *Runner) RunFiles(ctx context.Context, paths ...string) (*Report, error) {
	var polygons []*model.Polygon
	for _, path := range paths {
		ps, err := model.LoadPolygons(path)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		polygons = append(polygons, ps...)
	}
	return r.Run(ctx, polygons)
}

// Run projects polygons.
//
// Description:
//
//	Polygons are projected by up to Workers goroutines. A polygon that
//	fails is recorded in the report and does not stop the others. With a
//	checkpoint configured, polygons finished by an earlier run of the
//	same batch are skipped, and the checkpoint is rewritten after each
//	polygon.
//
// Inputs:
//
//	ctx - Cancelling stops new polygons from starting.
//	polygons - The batch. Polygon identifiers must be unique.
//
// Outputs:
//
//	*Report - Per-polygon outcomes, present whenever the batch started.
//	error - Invalid input, lock or checkpoint failure, or ctx's error.
func (r *Runner) Run(ctx context.Context, polygons []*model.Polygon) (*Report, error) {
	started := time.Now()
	keys := make([]string, len(polygons))
	seen := make(map[string]bool, len(polygons))
	for i, p := range polygons {
		if p == nil {
			return nil, fmt.Errorf("%w: polygon %d is nil", ErrInvalidInput, i)
		}
		keys[i] = p.ID.String()
		if seen[keys[i]] {
			return nil, fmt.Errorf("%w: duplicate polygon %s", ErrInvalidInput, keys[i])
		}
		seen[keys[i]] = true
	}

	if r.cfg.OutputDir != "" {
		if err := os.MkdirAll(r.cfg.OutputDir, 0750); err != nil {
			return nil, fmt.Errorf("create output directory: %w", err)
		}
		if r.cfg.Locks != nil {
			if err := r.cfg.Locks.Acquire(r.cfg.OutputDir, "batch projection"); err != nil {
				return nil, err
			}
			defer func() {
				if err := r.cfg.Locks.Release(r.cfg.OutputDir); err != nil {
					r.logger.Warn("release output lock", slog.String("error", err.Error()))
				}
			}()
		}
	}

	var cp *Checkpoint
	if r.cfg.CheckpointPath != "" {
		var err error
		if cp, err = loadOrCreate(r.cfg.CheckpointPath, BatchKey(keys)); err != nil {
			return nil, err
		}
		if n := len(cp.Completed); n > 0 {
			r.logger.Info("resuming batch", slog.Int("completed", n), slog.Int("total", len(polygons)))
		}
	}

	report := &Report{Outcomes: make([]Outcome, len(polygons))}
	var mu sync.Mutex

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for i, p := range polygons {
		key := keys[i]
		if cp != nil && cp.IsDone(key) {
			report.Outcomes[i] = Outcome{Polygon: key, RunID: cp.Completed[key], Skipped: true}
			continue
		}
		if gCtx.Err() != nil {
			break
		}
		g.Go(func() error {
			out := r.projectOne(gCtx, p)
			out.Polygon = key

			mu.Lock()
			defer mu.Unlock()
			report.Outcomes[i] = out
			if cp == nil {
				return nil
			}
			if out.Err != nil {
				cp.markFailed(key, out.Err)
			} else {
				cp.markDone(key, out.RunID)
			}
			return SaveCheckpoint(cp, r.cfg.CheckpointPath)
		})
	}
	waitErr := g.Wait()

	for i := range report.Outcomes {
		o := &report.Outcomes[i]
		switch {
		case o.Polygon == "":
			// Never started.
			o.Polygon = keys[i]
		case o.Skipped:
			report.Skipped++
		case o.Err != nil:
			report.Failed++
		default:
			report.Processed++
		}
	}
	report.Duration = time.Since(started)

	r.logger.Info("batch finished",
		slog.Int("processed", report.Processed),
		slog.Int("failed", report.Failed),
		slog.Int("skipped", report.Skipped),
		slog.Duration("duration", report.Duration))

	if waitErr != nil {
		return report, fmt.Errorf("save checkpoint: %w", waitErr)
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

func (r *Runner) projectOne(ctx context.Context, p *model.Polygon) Outcome {
	started := time.Now()
	logger := r.logger.With(slog.String("polygon", p.ID.String()))

	result, err := r.projector.ProcessPolygonUpTo(ctx, p, r.cfg.UpTo)
	if err != nil {
		logger.Warn("projection failed", slog.String("error", err.Error()))
		return Outcome{Err: err, Duration: time.Since(started)}
	}
	out := Outcome{RunID: result.RunID, Duration: time.Since(started)}
	if result.Polygon != nil {
		out.EndYear = result.Polygon.ID.Year
	}

	if r.cfg.Sink != nil {
		if _, err := r.cfg.Sink.Put(ctx, p.ID.Year, result); err != nil {
			out.Err = fmt.Errorf("store result: %w", err)
			return out
		}
	}
	if r.cfg.OutputDir != "" {
		path, err := r.writeOutput(p.ID, result)
		if err != nil {
			out.Err = err
			return out
		}
		out.OutputPath = path
	}
	logger.Debug("projected", slog.String("run_id", result.RunID), slog.Int("end_year", out.EndYear))
	return out
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// OutputFileName is the file a polygon's result is written to.
func OutputFileName(id model.PolygonIdentifier, format model.Format) string {
	ext := "json"
	if format == model.FormatYAML {
		ext = "yaml"
	}
	return fmt.Sprintf("%s_%d.%s", unsafeFileChars.ReplaceAllString(id.Base, "_"), id.Year, ext)
}

// writeOutput writes the yearly snapshots, or the final polygon when no
// snapshots were selected.
func (r *Runner) writeOutput(id model.PolygonIdentifier, result *engine.Result) (string, error) {
	polygons := make([]*model.Polygon, 0, len(result.Years))
	for _, y := range result.Years {
		polygons = append(polygons, y.Polygon)
	}
	if len(polygons) == 0 && result.Polygon != nil {
		polygons = append(polygons, result.Polygon)
	}

	path := filepath.Join(r.cfg.OutputDir, OutputFileName(id, r.cfg.OutputFormat))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create output: %w", err)
	}
	if err := model.EncodePolygons(f, r.cfg.OutputFormat, polygons); err != nil {
		f.Close()
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", path, err)
	}
	return path, nil
}
