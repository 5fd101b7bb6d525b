// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/VdypForward/pkg/telemetry"
	"github.com/AleutianAI/VdypForward/services/forward/engine"
	"github.com/AleutianAI/VdypForward/services/forward/model"
	"github.com/AleutianAI/VdypForward/services/forward/store"
)

// ProjectionRequest is the body of POST /v1/projections.
type ProjectionRequest struct {
	Polygon *model.Polygon `json:"polygon"`

	// UpToStep is the last step to run. Empty means ALL.
	UpToStep string `json:"up_to_step,omitempty"`
}

// ProjectionResponse is returned by POST /v1/projections and
// GET /v1/projections/:run_id.
type ProjectionResponse struct {
	Summary store.Summary  `json:"summary"`
	Result  *engine.Result `json:"result"`
}

// ListResponse is returned by GET /v1/projections.
type ListResponse struct {
	Polygon string          `json:"polygon"`
	Runs    []store.Summary `json:"runs"`
}

// Health reports liveness.
func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

// ListSteps returns the execution step names in pipeline order.
func (s *Server) ListSteps(c *gin.Context) {
	steps := engine.Steps()
	names := make([]string, 0, len(steps))
	for _, st := range steps {
		names = append(names, st.String())
	}
	c.JSON(http.StatusOK, gin.H{"steps": names})
}

// CreateProjection projects the posted polygon and stores the result.
func (s *Server) CreateProjection(c *gin.Context) {
	var req ProjectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if req.Polygon == nil {
		abortWithError(c, fmt.Errorf("%w: polygon is required", errBadRequest))
		return
	}
	if err := req.Polygon.Validate(); err != nil {
		abortWithError(c, err)
		return
	}
	last := engine.StepAll
	if req.UpToStep != "" {
		var err error
		if last, err = engine.LookupStep(req.UpToStep); err != nil {
			abortWithError(c, err)
			return
		}
	}

	ctx := c.Request.Context()
	logger := telemetry.LoggerWithTrace(ctx, s.logger).With(slog.String("polygon", req.Polygon.ID.String()))

	result, err := s.projector.ProcessPolygonUpTo(ctx, req.Polygon, last)
	if err != nil {
		logger.Warn("projection failed", slog.String("error", err.Error()))
		abortWithError(c, err)
		return
	}
	summary, err := s.results.Put(ctx, req.Polygon.ID.Year, result)
	if err != nil {
		abortWithError(c, err)
		return
	}
	logger.Info("projection stored", slog.String("run_id", result.RunID), slog.Int("end_year", summary.EndYear))

	c.Header("Location", "/v1/projections/"+result.RunID)
	c.JSON(http.StatusCreated, ProjectionResponse{Summary: summary, Result: result})
}

// GetProjection returns a stored result.
func (s *Server) GetProjection(c *gin.Context) {
	rec, err := s.results.Get(c.Request.Context(), c.Param("run_id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, ProjectionResponse{Summary: rec.Summary, Result: rec.Result})
}

// ListProjections lists the stored runs of ?polygon=.
func (s *Server) ListProjections(c *gin.Context) {
	base := c.Query("polygon")
	if base == "" {
		abortWithError(c, errors.Join(errBadRequest, errors.New("query parameter polygon is required")))
		return
	}
	runs, err := s.results.ListByPolygon(c.Request.Context(), base)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if runs == nil {
		runs = []store.Summary{}
	}
	c.JSON(http.StatusOK, ListResponse{Polygon: base, Runs: runs})
}
