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
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianSound/services/inference/datatypes"
	"github.com/AleutianAI/AleutianSound/services/inference/resilience"
)

// ListBreakers returns every currently open breaker.
//
// GET /v1/breakers. Applies lazy expiry itself: entries whose duration
// elapsed are collected and excluded without needing a prior check.
func ListBreakers(gw *resilience.Gateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		active := gw.Registry().ActiveBreakers()
		c.JSON(http.StatusOK, gin.H{"count": len(active), "breakers": active})
	}
}

// CheckBreaker reports one model's breaker state.
//
// GET /v1/models/:model_id/breaker.
func CheckBreaker(gw *resilience.Gateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		modelID := c.Param("model_id")
		status := gw.Registry().CheckBreaker(modelID)
		c.JSON(http.StatusOK, datatypes.BreakerActionResponse{
			ModelID: modelID,
			Did:     status.Broken,
			Status:  status,
		})
	}
}

// TripBreaker manually opens a model's breaker.
//
// POST /v1/models/:model_id/breaker/trip. Admin-guarded. Operators use
// it to shed load from a model they know is misbehaving before the
// failure count proves it.
func TripBreaker(gw *resilience.Gateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		modelID := c.Param("model_id")

		var req datatypes.TripBreakerRequest
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

		duration := time.Duration(req.DurationSeconds) * time.Second
		gw.Registry().TripBreaker(modelID, req.Reason, req.FailureCount, duration)

		c.JSON(http.StatusOK, datatypes.BreakerActionResponse{
			ModelID: modelID,
			Did:     true,
			Status:  gw.Registry().PeekBreaker(modelID),
		})
	}
}

// ResetBreaker clears one model's breaker and failure history.
//
// DELETE /v1/models/:model_id/breaker. Admin-guarded. Did is false
// when no breaker was set; the failure history is cleared either way.
func ResetBreaker(gw *resilience.Gateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		modelID := c.Param("model_id")
		existed := gw.Registry().ResetBreaker(modelID)
		c.JSON(http.StatusOK, datatypes.BreakerActionResponse{
			ModelID: modelID,
			Did:     existed,
			Status:  gw.Registry().PeekBreaker(modelID),
		})
	}
}

// ResetAllBreakers clears every breaker and all failure history.
//
// DELETE /v1/breakers. Admin-guarded.
func ResetAllBreakers(gw *resilience.Gateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		n := gw.Registry().ResetAllBreakers()
		c.JSON(http.StatusOK, datatypes.BreakerActionResponse{Did: n > 0, Count: n})
	}
}
