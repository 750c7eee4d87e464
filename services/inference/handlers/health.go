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
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/AleutianSound/services/inference/datatypes"
	"github.com/AleutianAI/AleutianSound/services/inference/resilience"
)

// HealthCheck is the service liveness probe.
//
// GET /health.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "inference-gateway"})
}

// ModelHealth returns the cheap health answer for one model.
//
// GET /v1/models/:model_id/health. Reads the breaker through the
// expiry-applying check, so polling a quiet model collects its
// expired breaker.
func ModelHealth(gw *resilience.Gateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gw.QuickCheck(c.Param("model_id")))
	}
}

// ModelReport returns the full read-only diagnostic for one model.
//
// GET /v1/models/:model_id/report. Side-effect free: an expired but
// uncollected breaker is reported as closed without being removed.
func ModelReport(gw *resilience.Gateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gw.Analyze(c.Param("model_id")))
	}
}

// FleetHealth returns health for every known model.
//
// # Description
//
// GET /v1/fleet/health. The fleet is the union of configured models
// and every model the registry has seen traffic for. Statuses are
// gathered concurrently and the whole scan is deduplicated through a
// singleflight group, so a dashboard hammering this endpoint costs
// one scan per burst.
func FleetHealth(gw *resilience.Gateway, configured []string, flight *singleflight.Group) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, _, _ := flight.Do("fleet_health", func() (any, error) {
			return scanFleet(gw, configured), nil
		})
		c.JSON(http.StatusOK, v)
	}
}

// scanFleet collects per-model statuses and the open breaker set.
func scanFleet(gw *resilience.Gateway, configured []string) datatypes.FleetHealthResponse {
	open := gw.Registry().ActiveBreakers()
	ids := fleetModelIDs(gw, configured, open)

	statuses := make([]resilience.QuickStatus, len(ids))
	var group errgroup.Group
	group.SetLimit(8)
	for i, id := range ids {
		group.Go(func() error {
			statuses[i] = gw.QuickCheck(id)
			return nil
		})
	}
	// QuickCheck cannot fail; Wait only fences the fan-out.
	_ = group.Wait()

	healthy := true
	for _, st := range statuses {
		if !st.Healthy {
			healthy = false
			break
		}
	}

	return datatypes.FleetHealthResponse{
		GeneratedAt:  time.Now().UTC(),
		Healthy:      healthy,
		Models:       statuses,
		OpenBreakers: open,
	}
}

// fleetModelIDs merges configured models with every model the registry
// has seen, through failures or an open breaker, sorted for stable
// output.
func fleetModelIDs(gw *resilience.Gateway, configured []string, open []resilience.ActiveBreaker) []string {
	seen := make(map[string]bool, len(configured))
	var ids []string
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	for _, id := range configured {
		add(id)
	}
	for _, id := range gw.Registry().ModelIDs() {
		add(id)
	}
	for _, b := range open {
		add(b.ModelID)
	}
	sort.Strings(ids)
	return ids
}
