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
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/VdypForward/pkg/logging"
	"github.com/AleutianAI/VdypForward/pkg/telemetry"
	"github.com/AleutianAI/VdypForward/services/forward/api"
)

// shutdownGrace is how long in-flight projections get after a signal.
const shutdownGrace = 15 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var (
		addr   string
		influx bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the projection HTTP API",
		Long: `Serve exposes projections over HTTP:

  POST /v1/projections           project one polygon
  GET  /v1/projections?polygon=  list stored runs of a polygon
  GET  /v1/projections/:run_id   fetch one stored run
  GET  /v1/steps                 list execution steps
  GET  /v1/health                liveness
  GET  /metrics                  Prometheus metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := a.startTelemetry(ctx); err != nil {
				return err
			}
			eng, err := a.newEngine()
			if err != nil {
				return err
			}
			sink, err := a.newFanout(true, influx)
			if err != nil {
				return err
			}

			if level, _ := a.cfg.LogLevel(); level == logging.LevelDebug {
				gin.SetMode(gin.DebugMode)
			} else {
				gin.SetMode(gin.ReleaseMode)
			}
			sc := a.cfg.Server
			if addr != "" {
				sc.Addr = addr
			}
			router, err := api.NewRouter(eng, sink, api.Options{
				ServiceName:    a.cfg.Telemetry.ServiceName,
				RateLimit:      sc.RateLimit,
				Burst:          sc.Burst,
				RequestTimeout: sc.RequestTimeout,
				MaxBodyBytes:   sc.MaxBodyBytes,
				Metrics:        telemetry.MetricsHandler(),
				Logger:         a.slogger(),
			})
			if err != nil {
				return err
			}

			a.printer.Info("listening on " + sc.Addr)
			a.slogger().Info("starting server",
				slog.String("addr", sc.Addr),
				slog.Bool("influx", influx))
			return api.Serve(ctx, sc.Addr, router, shutdownGrace, a.slogger())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().BoolVar(&influx, "influx", false, "also write yields of every projection to InfluxDB")
	return cmd
}
