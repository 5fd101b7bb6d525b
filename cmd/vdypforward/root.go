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
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/VdypForward/pkg/logging"
	"github.com/AleutianAI/VdypForward/pkg/telemetry"
	"github.com/AleutianAI/VdypForward/pkg/ux"
	"github.com/AleutianAI/VdypForward/services/forward/config"
	"github.com/AleutianAI/VdypForward/services/forward/controlmap"
	"github.com/AleutianAI/VdypForward/services/forward/engine"
	"github.com/AleutianAI/VdypForward/services/forward/export"
	"github.com/AleutianAI/VdypForward/services/forward/lock"
	"github.com/AleutianAI/VdypForward/services/forward/store"
)

const serviceName = "vdypforward"

// telemetryShutdownTimeout bounds the final span and metric flush.
const telemetryShutdownTimeout = 5 * time.Second

// rootOptions are the persistent flags.
type rootOptions struct {
	configPath string
	logLevel   string
	output     string
}

// app holds what the subcommands share. It is filled by the root
// command's PersistentPreRunE and released by close.
type app struct {
	opts rootOptions

	cfg     config.Config
	logger  *logging.Logger
	printer *ux.Printer

	shutdownTelemetry func(context.Context) error
	db                *store.DB
	yields            *export.YieldWriter
}

func newRootCmd() (*cobra.Command, *app) {
	a := &app{}
	root := &cobra.Command{
		Use:   serviceName,
		Short: "Project forest polygons forward with the VDYP growth model",
		Long: `vdypforward grows VDYP polygons year by year from their reference
year to a target year, one file, one directory or one HTTP request
at a time.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	flags := root.PersistentFlags()
	flags.StringVarP(&a.opts.configPath, "config", "c", "", "configuration file (YAML)")
	flags.StringVar(&a.opts.logLevel, "log-level", "", "log level: debug, info, warn or error")
	flags.StringVarP(&a.opts.output, "output", "o", "", "output style: full, minimal or machine")

	root.AddCommand(
		newProjectCmd(a),
		newServeCmd(a),
		newWatchCmd(a),
		newStepsCmd(a),
		newExportCmd(a),
		newRunsCmd(a),
	)
	return root, a
}

// setup loads configuration and builds the logger and printer.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	level := ux.DetectPersonality(os.Stdout)
	if a.opts.output != "" {
		level = ux.ParsePersonalityLevel(a.opts.output)
	}
	a.printer = ux.NewPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr(), level)

	cfg, err := config.Load(a.opts.configPath)
	if err != nil {
		return usageError(cmd.Name(), err)
	}
	if a.opts.logLevel != "" {
		if _, err := logging.ParseLevel(a.opts.logLevel); err != nil {
			return usageError(cmd.Name(), err)
		}
		cfg.Log.Level = a.opts.logLevel
	}
	a.cfg = cfg

	lc := cfg.LoggingConfig(serviceName)
	lc.Writer = cmd.ErrOrStderr()
	logger, err := logging.New(lc)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	a.logger = logger
	return nil
}

func (a *app) slogger() *slog.Logger {
	if a.logger == nil {
		return slog.Default()
	}
	return a.logger.Slog()
}

// startTelemetry installs the configured trace and metric exporters.
func (a *app) startTelemetry(ctx context.Context) error {
	shutdown, err := telemetry.Init(ctx, a.cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("start telemetry: %w", err)
	}
	a.shutdownTelemetry = shutdown
	return nil
}

// newEngine loads the control map and builds an engine from the
// configured settings.
func (a *app) newEngine() (*engine.Engine, error) {
	cm, err := controlmap.Load(a.cfg.ControlMap)
	if err != nil {
		return nil, fmt.Errorf("load control map: %w", err)
	}
	eng, err := engine.New(cm, a.cfg.Engine, engine.WithLogger(a.slogger()))
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	return eng, nil
}

// openResults opens the result store. The database is closed by close.
func (a *app) openResults() (*store.Results, error) {
	if a.db == nil {
		sc := a.cfg.Store
		db, err := store.OpenDB(store.Config{
			Path:           sc.Path,
			InMemory:       sc.InMemory,
			SyncWrites:     sc.SyncWrites,
			GCInterval:     sc.GCInterval,
			GCDiscardRatio: 0.5,
			Logger:         a.slogger(),
		})
		if err != nil {
			return nil, fmt.Errorf("open result store: %w", err)
		}
		a.db = db
	}
	return store.NewResults(a.db), nil
}

func (a *app) newLocks() (*lock.Manager, error) {
	return lock.NewManager("", a.slogger())
}

// newYieldWriter returns nil when no InfluxDB URL is configured. The
// writer is closed by close.
func (a *app) newYieldWriter() (*export.YieldWriter, error) {
	if a.yields != nil {
		return a.yields, nil
	}
	ic := a.cfg.Export.Influx
	if ic.URL == "" {
		return nil, nil
	}
	token := export.SealToken(ic.Token)
	a.cfg.Export.Influx.Token = ""
	yields, err := export.NewYieldWriter(export.InfluxOptions{
		URL:         ic.URL,
		Org:         ic.Org,
		Bucket:      ic.Bucket,
		Measurement: ic.Measurement,
		Token:       token,
		Logger:      a.slogger(),
	})
	if err != nil {
		return nil, fmt.Errorf("connect influx: %w", err)
	}
	a.yields = yields
	return yields, nil
}

// close releases everything setup and the subcommands opened.
func (a *app) close() error {
	var errs []error
	if a.shutdownTelemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		errs = append(errs, a.shutdownTelemetry(ctx))
		cancel()
		a.shutdownTelemetry = nil
	}
	if a.yields != nil {
		a.yields.Close()
		a.yields = nil
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
		a.db = nil
	}
	if a.logger != nil {
		errs = append(errs, a.logger.Close())
		a.logger = nil
	}
	return errors.Join(errs...)
}
