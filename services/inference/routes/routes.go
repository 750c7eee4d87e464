// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routes wires the inference gateway's HTTP surface.
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/AleutianSound/pkg/logging"
	"github.com/AleutianAI/AleutianSound/services/inference/backend"
	"github.com/AleutianAI/AleutianSound/services/inference/events"
	"github.com/AleutianAI/AleutianSound/services/inference/handlers"
	"github.com/AleutianAI/AleutianSound/services/inference/middleware"
	"github.com/AleutianAI/AleutianSound/services/inference/resilience"
)

// Deps carries everything the route tree needs.
type Deps struct {
	Gateway *resilience.Gateway
	Backend backend.Backend
	Hub     *events.Hub
	Logger  *logging.Logger

	// WrapOptions supplies per-model base wrap options for predict.
	WrapOptions handlers.WrapOptionsFor

	// ConfiguredModels seeds the fleet health view; models the registry
	// has seen traffic for are merged in at request time.
	ConfiguredModels []string

	// AdminToken guards mutating routes. Empty disables the guard.
	AdminToken string

	// ServeMetrics exposes /metrics via promhttp.
	ServeMetrics bool
}

// SetupRoutes registers the full HTTP surface on the router.
//
// Read paths (health, reports, breaker listings, cache reads, the
// event stream) are open. Mutations that change resilience state
// (manual trips, resets, history clears, cache and table writes) sit
// behind the admin token.
func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/health", handlers.HealthCheck)
	if deps.ServeMetrics {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	flight := &singleflight.Group{}

	v1 := router.Group("/v1")
	{
		v1.POST("/models/:model_id/predict",
			handlers.Predict(deps.Gateway, deps.Backend, deps.WrapOptions))
		v1.POST("/models/:model_id/failures", handlers.ReportFailure(deps.Gateway))
		v1.GET("/models/:model_id/failures", handlers.FailureStats(deps.Gateway))

		v1.GET("/models/:model_id/health", handlers.ModelHealth(deps.Gateway))
		v1.GET("/models/:model_id/report", handlers.ModelReport(deps.Gateway))
		v1.GET("/fleet/health",
			handlers.FleetHealth(deps.Gateway, deps.ConfiguredModels, flight))

		v1.GET("/models/:model_id/breaker", handlers.CheckBreaker(deps.Gateway))
		v1.GET("/breakers", handlers.ListBreakers(deps.Gateway))

		v1.GET("/models/:model_id/cache", handlers.GetCache(deps.Gateway))
		v1.GET("/models/:model_id/fallback", handlers.ResolveFallback(deps.Gateway))
		v1.GET("/fallbacks", handlers.GetFallbackTables(deps.Gateway))

		v1.GET("/events/ws", handlers.StreamEvents(deps.Hub, deps.Logger))

		// Admin mutations
		admin := v1.Group("")
		admin.Use(middleware.AdminAuth(deps.AdminToken))
		{
			admin.POST("/models/:model_id/breaker/trip", handlers.TripBreaker(deps.Gateway))
			admin.DELETE("/models/:model_id/breaker", handlers.ResetBreaker(deps.Gateway))
			admin.DELETE("/breakers", handlers.ResetAllBreakers(deps.Gateway))

			admin.DELETE("/models/:model_id/failures", handlers.ClearFailures(deps.Gateway))
			admin.DELETE("/failures", handlers.ClearAllFailures(deps.Gateway))

			admin.PUT("/models/:model_id/cache", handlers.PutCache(deps.Gateway))
			admin.DELETE("/models/:model_id/cache", handlers.DeleteCache(deps.Gateway))
			admin.PUT("/fallbacks", handlers.PutFallbackTables(deps.Gateway))
		}
	}
}
