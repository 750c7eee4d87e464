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
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianSound/services/inference/datatypes"
	"github.com/AleutianAI/AleutianSound/services/inference/resilience"
)

// GetFallbackTables returns the current fallback value tables.
//
// GET /v1/fallbacks.
func GetFallbackTables(gw *resilience.Gateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gw.Registry().Tables())
	}
}

// PutFallbackTables replaces the fallback value tables.
//
// PUT /v1/fallbacks. Admin-guarded. The swap is atomic from the
// resolver's point of view: the next fallback resolution sees the new
// tables in full.
func PutFallbackTables(gw *resilience.Gateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.FallbackTablesRequest
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

		gw.Registry().SetFallbackTables(req.Tables())
		c.JSON(http.StatusOK, gin.H{
			"status":       "updated",
			"defaults":     len(req.Defaults),
			"conservative": len(req.Conservative),
		})
	}
}

// ResolveFallback resolves a fallback without recording a failure.
//
// GET /v1/models/:model_id/fallback?strategy=use_cached. Lets callers
// preview what a failure would return under each strategy.
func ResolveFallback(gw *resilience.Gateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		modelID := c.Param("model_id")

		strategy := resilience.StrategyUseDefault
		if name := c.Query("strategy"); name != "" {
			parsed, err := resilience.ParseFallbackStrategy(name)
			if err != nil {
				c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error()})
				return
			}
			strategy = parsed
		}

		c.JSON(http.StatusOK, gw.Registry().Fallback(modelID, strategy))
	}
}
