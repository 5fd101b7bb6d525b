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
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/VdypForward/services/forward/batch"
	"github.com/AleutianAI/VdypForward/services/forward/watch"
)

func newWatchCmd(a *app) *cobra.Command {
	var (
		opts     projectOptions
		existing bool
	)
	cmd := &cobra.Command{
		Use:   "watch [dir]",
		Short: "Project polygon files as they appear in a directory",
		Long: `Watch projects every polygon file written to dir once the directory has
been quiet for the configured debounce. Each file is its own batch, so a
bad file does not hold up the others. Stop with Ctrl-C.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := a.cfg.Watch.Dir
			if len(args) == 1 {
				dir = args[0]
			}
			if dir == "" {
				return usageError("watch", errors.New("no directory given and watch.dir is not configured"))
			}
			return a.runWatch(cmd, dir, opts, existing)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.upTo, "up-to", "", "last execution step to run; default ALL")
	f.StringVar(&opts.outDir, "out", "", "result directory (default from config)")
	f.IntVarP(&opts.workers, "workers", "w", 0, "polygons projected at once (default from config)")
	f.StringVar(&opts.format, "format", "", "result file format: json or yaml")
	f.BoolVar(&opts.store, "store", false, "also save results in the result store")
	f.BoolVar(&opts.influx, "influx", false, "also write yields to InfluxDB")
	f.BoolVar(&existing, "existing", false, "project files already in the directory at start")
	return cmd
}

func (a *app) runWatch(cmd *cobra.Command, dir string, opts projectOptions, existing bool) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	upTo, err := parseUpTo(opts.upTo)
	if err != nil {
		return usageError("watch", err)
	}
	bc, err := a.batchConfig(opts)
	if err != nil {
		return usageError("watch", err)
	}
	bc.UpTo = upTo
	// Every handler call is a different batch, so checkpoints do not apply.
	bc.CheckpointPath = ""

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
		return usageError("watch", err)
	}

	wo := watch.DefaultOptions()
	wo.Debounce = a.cfg.Watch.Debounce
	wo.Patterns = a.cfg.Watch.Patterns
	wo.ProcessExisting = existing
	wo.Logger = a.slogger()
	w, err := watch.New(dir, a.watchHandler(runner), wo)
	if err != nil {
		return usageError("watch", err)
	}

	a.printer.Info("watching " + dir)
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// watchHandler projects each settled file as its own batch.
func (a *app) watchHandler(runner *batch.Runner) watch.Handler {
	logger := a.slogger()
	return func(ctx context.Context, paths []string) {
		for _, path := range paths {
			if ctx.Err() != nil {
				return
			}
			report, err := runner.RunFiles(ctx, path)
			if report != nil {
				a.printReport(report)
			}
			if err != nil {
				logger.Error("batch failed", slog.String("file", path), slog.String("error", err.Error()))
				a.printer.Error(path + ": " + err.Error())
			}
		}
	}
}
