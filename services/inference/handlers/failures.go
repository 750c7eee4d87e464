// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianSound/services/inference/datatypes"
	"github.com/AleutianAI/AleutianSound/services/inference/resilience"
)

// ReportFailure routes an externally-observed failure through the
// pipeline.
//
// # Description
//
// POST /v1/models/:model_id/failures. Callers that run inference
// themselves (batch analyzers, sibling services) report failures here
// to get the same classify-track-escalate-fallback treatment as
// wrapped calls, including breaker trips once the count crosses the
// threshold.
func ReportFailure(gw *resilience.Gateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		modelID := c.Param("model_id")

		var req datatypes.FailureNoticeRequest
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

		opts := resilience.HandleOptions{Context: req.Context}
		if req.Strategy != "" {
			opts.Strategy, _ = resilience.ParseFallbackStrategy(req.Strategy)
		}

		report := gw.HandleFailure(modelID, errors.New(req.Error), opts)
		c.JSON(http.StatusOK, datatypes.FailureNoticeResponse{Report: report})
	}
}

// ClearFailures drops one model's failure history.
//
// DELETE /v1/models/:model_id/failures. Admin-guarded.
func ClearFailures(gw *resilience.Gateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		modelID := c.Param("model_id")
		gw.Registry().ClearFailures(modelID)
		c.JSON(http.StatusOK, gin.H{"status": "cleared", "model_id": modelID})
	}
}

// ClearAllFailures drops every model's failure history.
//
// DELETE /v1/failures. Admin-guarded.
func ClearAllFailures(gw *resilience.Gateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		gw.Registry().ClearAllFailures()
		c.JSON(http.StatusOK, gin.H{"status": "cleared"})
	}
}

// FailureStats returns one model's window snapshot.
//
// GET /v1/models/:model_id/failures.
func FailureStats(gw *resilience.Gateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		modelID := c.Param("model_id")
		stats := gw.Registry().FailureStats(modelID)
		c.JSON(http.StatusOK, gin.H{"model_id": modelID, "stats": stats})
	}
}
