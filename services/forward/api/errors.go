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
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/VdypForward/services/forward/controlmap"
	"github.com/AleutianAI/VdypForward/services/forward/engine"
	"github.com/AleutianAI/VdypForward/services/forward/model"
	"github.com/AleutianAI/VdypForward/services/forward/siteindex"
	"github.com/AleutianAI/VdypForward/services/forward/store"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
	Step  string `json:"step,omitempty"`
}

// errBadRequest marks request decoding failures.
var errBadRequest = errors.New("bad request")

// statusFor maps an error to its HTTP status and a short kind label.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, model.ErrInvalidPolygon),
		errors.Is(err, engine.ErrUnknownStep),
		errors.Is(err, engine.ErrInvalidSettings):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, context.Canceled):
		return 499, "cancelled"
	case errors.Is(err, engine.ErrConvergence):
		return http.StatusUnprocessableEntity, "convergence"
	case errors.Is(err, engine.ErrNoWork),
		errors.Is(err, engine.ErrMissingValue),
		errors.Is(err, engine.ErrInvalidState),
		errors.Is(err, engine.ErrStepOrder),
		errors.Is(err, controlmap.ErrMissingCoefficients),
		errors.Is(err, siteindex.ErrNoAnswer):
		return http.StatusUnprocessableEntity, "processing"
	}
	var pe *engine.ProcessingError
	if errors.As(err, &pe) {
		return http.StatusUnprocessableEntity, "processing"
	}
	return http.StatusInternalServerError, "internal"
}

func abortWithError(c *gin.Context, err error) {
	status, kind := statusFor(err)
	resp := ErrorResponse{Error: err.Error(), Kind: kind}
	var pe *engine.ProcessingError
	if errors.As(err, &pe) {
		resp.Step = pe.Step.String()
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, resp)
}
