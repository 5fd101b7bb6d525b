// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/VdypForward/services/forward/batch"
	"github.com/AleutianAI/VdypForward/services/forward/engine"
	"github.com/AleutianAI/VdypForward/services/forward/export"
	"github.com/AleutianAI/VdypForward/services/forward/model"
	"github.com/AleutianAI/VdypForward/services/forward/store"
)

type projectOptions struct {
	upTo       string
	outDir     string
	workers    int
	format     string
	checkpoint string
	store      bool
	influx     bool
}

func newProjectCmd(a *app) *cobra.Command {
	var opts projectOptions
	cmd := &cobra.Command{
		Use:   "project <polygon-file>...",
		Short: "Project every polygon in the given files",
		Long: `Project loads polygons from JSON or YAML files and grows each one to its
target year. One result file per polygon is written to --out. With
--checkpoint, an interrupted batch resumes where it stopped.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runProject(cmd, opts, args)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.upTo, "up-to", "", "last execution step to run (see 'steps'); default ALL")
	f.StringVar(&opts.outDir, "out", "", "result directory (default from config)")
	f.IntVarP(&opts.workers, "workers", "w", 0, "polygons projected at once (default from config)")
	f.StringVar(&opts.format, "format", "", "result file format: json or yaml (default from config)")
	f.StringVar(&opts.checkpoint, "checkpoint", "", "checkpoint file for resumable batches")
	f.BoolVar(&opts.store, "store", false, "also save results in the result store")
	f.BoolVar(&opts.influx, "influx", false, "also write yields to the configured InfluxDB bucket")
	return cmd
}

func (a *app) runProject(cmd *cobra.Command, opts projectOptions, paths []string) error {
	ctx := cmd.Context()
	upTo, err := parseUpTo(opts.upTo)
	if err != nil {
		return usageError("project", err)
	}
	bc, err := a.batchConfig(opts)
	if err != nil {
		return usageError("project", err)
	}
	bc.UpTo = upTo

	if err := a.startTelemetry(ctx); err != nil {
		return err
	}
	eng, err := a.newEngine()
	if err != nil {
		return err
	}
	sink, err := a.newFanout(opts.store, opts.influx)
	if err != nil {
		return err
	}
	if sink != nil {
		bc.Sink = sink
	}
	if bc.Locks, err = a.newLocks(); err != nil {
		return err
	}

	runner, err := batch.NewRunner(eng, bc)
	if err != nil {
		return usageError("project", err)
	}
	report, err := runner.RunFiles(ctx, paths...)
	if report != nil {
		a.printReport(report)
	}
	if err != nil {
		return err
	}
	if report.Failed > 0 {
		return &CommandError{Command: "project", ExitCode: exitPartial, Wrapped: report.Err()}
	}
	return nil
}

// parseUpTo resolves a step name. Empty means every step.
func parseUpTo(name string) (engine.ExecutionStep, error) {
	if name == "" {
		return engine.StepAll, nil
	}
	step, err := engine.LookupStep(name)
	if err != nil {
		if s := suggestStep(name); s != "" {
			return step, fmt.Errorf("%w (did you mean %s?)", err, s)
		}
		return step, err
	}
	return step, nil
}

// batchConfig overlays the command's flags on the configured batch
// settings.
func (a *app) batchConfig(opts projectOptions) (batch.Config, error) {
	bc := a.cfg.Batch
	if opts.outDir != "" {
		bc.OutputDir = opts.outDir
	}
	if opts.workers != 0 {
		if opts.workers < 0 {
			return batch.Config{}, fmt.Errorf("--workers must be positive, got %d", opts.workers)
		}
		bc.Workers = opts.workers
	}
	if opts.format != "" {
		bc.OutputFormat = opts.format
	}
	if opts.checkpoint != "" {
		bc.CheckpointPath = opts.checkpoint
	}
	format := model.Format(bc.OutputFormat)
	if format != model.FormatJSON && format != model.FormatYAML {
		return batch.Config{}, fmt.Errorf("%w: %q", model.ErrUnsupportedFormat, bc.OutputFormat)
	}
	return batch.Config{
		Workers:        bc.Workers,
		OutputDir:      bc.OutputDir,
		OutputFormat:   format,
		CheckpointPath: bc.CheckpointPath,
		Logger:         a.slogger(),
	}, nil
}

// newFanout returns the sink results are reported to, or nil when neither
// the store nor InfluxDB is wanted.
func (a *app) newFanout(toStore, toInflux bool) (*fanoutSink, error) {
	sink := &fanoutSink{}
	if toStore {
		results, err := a.openResults()
		if err != nil {
			return nil, err
		}
		sink.results = results
	}
	if toInflux {
		yields, err := a.newYieldWriter()
		if err != nil {
			return nil, err
		}
		if yields == nil {
			return nil, usageError("influx", errors.New("--influx needs export.influx.url in the configuration"))
		}
		sink.yields = yields
	}
	if sink.results == nil && sink.yields == nil {
		return nil, nil
	}
	return sink, nil
}

// fanoutSink saves a result in the store and then writes its yields.
// Reads go to the store.
type fanoutSink struct {
	results *store.Results
	yields  *export.YieldWriter
}

func (s *fanoutSink) Put(ctx context.Context, startYear int, result *engine.Result) (store.Summary, error) {
	summary := store.Summary{RunID: result.RunID, StartYear: startYear}
	if s.results != nil {
		var err error
		if summary, err = s.results.Put(ctx, startYear, result); err != nil {
			return summary, err
		}
	}
	if s.yields != nil {
		if _, err := s.yields.WriteResult(ctx, result); err != nil {
			return summary, fmt.Errorf("write yields: %w", err)
		}
	}
	return summary, nil
}

func (s *fanoutSink) Get(ctx context.Context, runID string) (*store.Record, error) {
	if s.results == nil {
		return nil, store.ErrNotFound
	}
	return s.results.Get(ctx, runID)
}

func (s *fanoutSink) ListByPolygon(ctx context.Context, base string) ([]store.Summary, error) {
	if s.results == nil {
		return nil, nil
	}
	return s.results.ListByPolygon(ctx, base)
}

// outcomeRows renders a report as table rows.
func outcomeRows(report *batch.Report) [][]string {
	rows := make([][]string, 0, len(report.Outcomes))
	for _, o := range report.Outcomes {
		status, detail := "ok", o.OutputPath
		switch {
		case o.Err != nil:
			status, detail = "failed", o.Err.Error()
		case o.Skipped:
			status = "resumed"
		}
		endYear := ""
		if o.EndYear != 0 {
			endYear = strconv.Itoa(o.EndYear)
		}
		rows = append(rows, []string{o.Polygon, status, endYear, o.RunID, detail})
	}
	return rows
}

func (a *app) printReport(report *batch.Report) {
	a.printer.Table([]string{"POLYGON", "STATUS", "END YEAR", "RUN ID", "OUTPUT"}, outcomeRows(report))
	a.printer.Summary(report.Processed, report.Failed, report.Skipped, report.Duration.Round(time.Millisecond))
}
