// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the inference gateway's HTTP handlers.
//
// Handlers are thin: they bind and validate wire types from
// datatypes, call into the resilience gateway or its registry, and
// shape the response. All failure semantics live below them — a
// predict call can 200 with a fallback envelope, never 500, because
// the gateway is fail-closed.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianSound/services/inference/backend"
	"github.com/AleutianAI/AleutianSound/services/inference/datatypes"
	"github.com/AleutianAI/AleutianSound/services/inference/resilience"
)

// WrapOptionsFor returns the base wrap options for a model. The service
// derives them from its model table; unknown models get zero options.
type WrapOptionsFor func(modelID string) resilience.WrapOptions

// Predict runs one gateway-wrapped backend call.
//
// # Description
//
// POST /v1/models/:model_id/predict. The backend call is wrapped in
// the resilience pipeline, so the response always materializes: a raw
// model output on success, a fallback envelope on any failure path
// (timeout, backend error, malformed output, open breaker). The HTTP
// status is 200 either way; clients branch on is_fallback.
func Predict(gw *resilience.Gateway, be backend.Backend, baseOpts WrapOptionsFor) gin.HandlerFunc {
	return func(c *gin.Context) {
		modelID := c.Param("model_id")

		var req datatypes.PredictRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
				Error: "invalid request body", Detail: err.Error(),
			})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error()})
			return
		}

		requestID := req.RequestID
		if requestID == "" {
			requestID = uuid.New().String()
		}

		opts := baseOpts(modelID)
		if req.TimeoutMs > 0 {
			opts.Timeout = time.Duration(req.TimeoutMs) * time.Millisecond
		}
		if req.Strategy != "" {
			// Validate() already vetted the name.
			opts.Strategy, _ = resilience.ParseFallbackStrategy(req.Strategy)
		}
		if req.CacheResult {
			opts.CacheSuccessful = true
		}
		if len(req.Context) > 0 {
			opts.Context = mergeContext(opts.Context, req.Context)
		}

		fn := func(ctx context.Context, input any) (any, error) {
			return be.Predict(ctx, modelID, input)
		}

		start := time.Now()
		value, _ := gw.WrapInference(fn, modelID, opts)(c.Request.Context(), req.Input)

		resp := datatypes.PredictResponse{
			RequestID:  requestID,
			ModelID:    modelID,
			Timestamp:  time.Now().UTC(),
			DurationMs: time.Since(start).Milliseconds(),
			Result:     value,
		}
		if fb, ok := resilience.AsFallback(value); ok {
			resp.IsFallback = true
			resp.Result = fb.Result
			resp.Fallback = &fb
		}

		c.JSON(http.StatusOK, resp)
	}
}

// mergeContext layers request context over the wrapper's base context
// without mutating either map.
func mergeContext(base, extra map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}
