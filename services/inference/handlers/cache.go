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

// PutCache seeds a model's last known good result.
//
// PUT /v1/models/:model_id/cache. Admin-guarded. Operators preload a
// sane value before enabling use_cached fallbacks for a new model.
func PutCache(gw *resilience.Gateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		modelID := c.Param("model_id")

		var req datatypes.CachePutRequest
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

		gw.Registry().CacheResult(modelID, req.Value)
		c.JSON(http.StatusOK, gin.H{"status": "cached", "model_id": modelID})
	}
}

// GetCache returns a model's last known good result.
//
// GET /v1/models/:model_id/cache. 404 when no entry exists.
func GetCache(gw *resilience.Gateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		modelID := c.Param("model_id")

		entry, ok := gw.Registry().CachedEntry(modelID)
		if !ok {
			c.JSON(http.StatusNotFound, datatypes.ErrorResponse{
				Error: "no cached result for model " + modelID,
			})
			return
		}

		c.JSON(http.StatusOK, datatypes.CacheEntryResponse{
			ModelID:    modelID,
			Value:      entry.Value,
			CachedAt:   entry.CachedAt,
			AgeSeconds: entry.Age().Seconds(),
		})
	}
}

// DeleteCache drops a model's cached result.
//
// DELETE /v1/models/:model_id/cache. Admin-guarded.
func DeleteCache(gw *resilience.Gateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		modelID := c.Param("model_id")
		existed := gw.Registry().ClearCache(modelID)
		c.JSON(http.StatusOK, gin.H{"status": "cleared", "model_id": modelID, "existed": existed})
	}
}
