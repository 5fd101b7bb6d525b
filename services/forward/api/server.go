// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


// Package api serves the forward projection engine over HTTP.
//
// Routes:
//
//	POST /v1/projections            project a polygon and store the result
//	GET  /v1/projections/:run_id    fetch a stored result
//	GET  /v1/projections?polygon=   list the runs of a polygon
//	GET  /v1/steps                  the execution steps in pipeline order
//	GET  /v1/health                 liveness
//	GET  /metrics                   Prometheus scrape endpoint
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/VdypForward/services/forward/engine"
	"github.com/AleutianAI/VdypForward/services/forward/model"
	"github.com/AleutianAI/VdypForward/services/forward/store"
)

// Projector runs the engine. *engine.Engine satisfies it.
type Projector interface {
	ProcessPolygonUpTo(ctx context.Context, polygon *model.Polygon, last engine.ExecutionStep) (*engine.Result, error)
}

// ProjectorFunc adapts a function to Projector.
type ProjectorFunc func(ctx context.Context, polygon *model.Polygon, last engine.ExecutionStep) (*engine.Result, error)

// ProcessPolygonUpTo calls f.
func (f ProjectorFunc) ProcessPolygonUpTo(ctx context.Context, polygon *model.Polygon, last engine.ExecutionStep) (*engine.Result, error) {
	return f(ctx, polygon, last)
}

// ResultStore persists results. *store.Results satisfies it.
type ResultStore interface {
	Put(ctx context.Context, startYear int, result *engine.Result) (store.Summary, error)
	Get(ctx context.Context, runID string) (*store.Record, error)
	ListByPolygon(ctx context.Context, base string) ([]store.Summary, error)
}

// Options configures the router.
type Options struct {
	// ServiceName labels the otelgin spans.
	ServiceName string

	// RateLimit is the sustained requests per second across all clients.
	// Zero disables limiting.
	RateLimit float64
	Burst     int

	// RequestTimeout bounds each request's context. Zero means none.
	RequestTimeout time.Duration

	// MaxBodyBytes bounds request bodies. Zero means 1 MiB.
	MaxBodyBytes int64

	// Metrics serves /metrics when set.
	Metrics http.Handler

	Logger *slog.Logger
}

// Server holds the handler dependencies.
type Server struct {
	projector Projector
	results   ResultStore
	logger    *slog.Logger
	started   time.Time
}

// NewRouter builds the gin engine with every route and middleware.
//
// Description:
//
//	Middleware runs in this order: panic recovery, tracing, request
//	logging, rate limiting, body limit, request timeout.
//
// Inputs:
//
//	projector - Runs projections. Must not be nil.
//	results - Stores results. Must not be nil.
//	opts - Router options.
//
// Outputs:
//
//	*gin.Engine - Ready to serve.
//	error - Non-nil when a dependency is missing.
func NewRouter(projector Projector, results ResultStore, opts Options) (*gin.Engine, error) {
	if projector == nil || results == nil {
		return nil, errors.New("api: projector and result store are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "forward.api"))
	if opts.ServiceName == "" {
		opts.ServiceName = "vdypforward"
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}

	s := &Server{projector: projector, results: results, logger: logger, started: time.Now()}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(opts.ServiceName))
	router.Use(RequestLogger(logger))
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		router.Use(RateLimit(rate.NewLimiter(rate.Limit(opts.RateLimit), burst)))
	}
	router.Use(BodyLimit(opts.MaxBodyBytes))
	if opts.RequestTimeout > 0 {
		router.Use(Timeout(opts.RequestTimeout))
	}

	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	v1 := router.Group("/v1")
	{
		v1.GET("/health", s.Health)
		v1.GET("/steps", s.ListSteps)
		projections := v1.Group("/projections")
		{
			projections.POST("", s.CreateProjection)
			projections.GET("", s.ListProjections)
			projections.GET("/:run_id", s.GetProjection)
		}
	}
	return router, nil
}

// Serve runs handler on addr until ctx is cancelled, then shuts down
// gracefully, waiting up to grace for in-flight requests.
func Serve(ctx context.Context, addr string, handler http.Handler, grace time.Duration, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve %s: %w", addr, err)
	case <-ctx.Done():
	}

	logger.Info("shutting down", slog.Duration("grace", grace))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
