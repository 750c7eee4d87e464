// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resilience

import (
	"fmt"
	"sort"
	"time"
)

// HealthStatus is the coarse per-model health label.
type HealthStatus string

const (
	// StatusHealthy means no failures in the window.
	StatusHealthy HealthStatus = "healthy"

	// StatusRecovering means some failures, below the alert threshold.
	StatusRecovering HealthStatus = "recovering"

	// StatusDegraded means failures at or past the alert threshold.
	StatusDegraded HealthStatus = "degraded"

	// StatusCircuitBroken means the breaker is open.
	StatusCircuitBroken HealthStatus = "circuit_broken"
)

// QuickStatus is the cheap health answer for one model.
type QuickStatus struct {
	ModelID          string       `json:"model_id"`
	Healthy          bool         `json:"healthy"`
	Status           HealthStatus `json:"status"`
	CircuitBroken    bool         `json:"circuit_broken"`
	FailuresInWindow int          `json:"failures_in_window"`
}

// HealthReport is the full diagnostic view for one model.
type HealthReport struct {
	QuickStatus
	ByType          map[FailureType]int `json:"by_type"`
	FailureRate     float64             `json:"failure_rate"`
	LastFailure     time.Time           `json:"last_failure"`
	LastSuccess     time.Time           `json:"last_success"`
	CacheAvailable  bool                `json:"cache_available"`
	CachedAt        time.Time           `json:"cached_at"`
	Breaker         *BreakerStatus      `json:"breaker,omitempty"`
	Thresholds      Thresholds          `json:"thresholds"`
	Recommendations []string            `json:"recommendations"`
	GeneratedAt     time.Time           `json:"generated_at"`
}

// QuickCheck returns the model's coarse health. It reads the breaker
// through Check, so it is one of the lazy-expiry points: calling it on
// a quiet model can clear an expired breaker.
func (g *Gateway) QuickCheck(modelID string) QuickStatus {
	status := g.registry.CheckBreaker(modelID)
	stats := g.registry.FailureStats(modelID)
	return quickStatus(modelID, status.Broken, stats.FailuresInWindow, g.registry.thresholds.AlertAfter)
}

// quickStatus derives the status ladder from breaker state and count.
func quickStatus(modelID string, broken bool, failures, alertAfter int) QuickStatus {
	var hs HealthStatus
	switch {
	case broken:
		hs = StatusCircuitBroken
	case failures >= alertAfter:
		hs = StatusDegraded
	case failures > 0:
		hs = StatusRecovering
	default:
		hs = StatusHealthy
	}
	return QuickStatus{
		ModelID:          modelID,
		Healthy:          !broken && failures < alertAfter,
		Status:           hs,
		CircuitBroken:    broken,
		FailuresInWindow: failures,
	}
}

// Analyze returns the full diagnostic report. It is strictly read-only:
// the breaker is peeked, not checked, so an expired-but-uncollected
// breaker reads as closed and stays in storage untouched.
func (g *Gateway) Analyze(modelID string) *HealthReport {
	reg := g.registry
	peek := reg.PeekBreaker(modelID)
	stats := reg.FailureStats(modelID)
	qs := quickStatus(modelID, peek.Broken, stats.FailuresInWindow, reg.thresholds.AlertAfter)

	var breaker *BreakerStatus
	if peek.Broken {
		b := peek
		breaker = &b
	}

	entry, cached := reg.CachedEntry(modelID)

	level := determineEscalation(escalationInput{
		failureType:   FailureUnknown,
		stats:         stats,
		breakerOpen:   peek.Broken,
		thresholds:    reg.thresholds,
		criticalTypes: reg.critical,
	}).Level

	return &HealthReport{
		QuickStatus:     qs,
		ByType:          stats.ByType,
		FailureRate:     stats.FailureRate,
		LastFailure:     stats.LastFailure,
		LastSuccess:     stats.LastSuccess,
		CacheAvailable:  cached,
		CachedAt:        entry.CachedAt,
		Breaker:         breaker,
		Thresholds:      reg.thresholds,
		Recommendations: recommendations(level, stats, reg.thresholds),
		GeneratedAt:     time.Now(),
	}
}

// dominantFailureType returns the most frequent type in the window,
// breaking count ties by name so the answer is deterministic.
func dominantFailureType(byType map[FailureType]int) (FailureType, int) {
	var (
		winner FailureType
		count  int
	)
	types := make([]FailureType, 0, len(byType))
	for ft := range byType {
		types = append(types, ft)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	for _, ft := range types {
		if byType[ft] > count {
			winner, count = ft, byType[ft]
		}
	}
	return winner, count
}

// recommendations derives short operator guidance from the escalation
// level and the window stats.
func recommendations(level EscalationLevel, stats FailureStats, thresholds Thresholds) []string {
	var recs []string

	switch level {
	case LevelCircuitBreak:
		recs = append(recs, "circuit breaker engaged; traffic is served from fallbacks until it expires or is reset")
	case LevelCritical:
		recs = append(recs, "critical failure type observed; check model backend availability immediately")
	case LevelAlert:
		recs = append(recs, fmt.Sprintf("failure rate %.1f/min is past the alert threshold; investigate before the breaker trips at %d failures",
			stats.FailureRate, thresholds.CircuitBreakAfter))
	case LevelFallback:
		recs = append(recs, "failures are within tolerance; keep monitoring")
	default:
		recs = append(recs, "no action needed")
	}

	if dominant, count := dominantFailureType(stats.ByType); count > 0 {
		switch dominant {
		case FailureTimeout:
			recs = append(recs, "timeouts dominate; consider raising the inference timeout or scaling the backend")
		case FailureModelUnavailable:
			recs = append(recs, "the model backend is unreachable; verify its deployment and network path")
		case FailureNaNOutput, FailureNullOutput, FailureUndefinedOutput:
			recs = append(recs, "outputs are malformed; check recent model or preprocessing changes")
		case FailureInvalidInput, FailureInvalidShape:
			recs = append(recs, "inputs are being rejected; audit upstream feature extraction")
		case FailureConfidenceCollapse:
			recs = append(recs, "confidence has collapsed; the model may need retraining or rollback")
		}
	}

	if stats.FailuresInWindow > 0 && stats.LastSuccess.IsZero() {
		recs = append(recs, "no successful inference recorded this process; verify model configuration")
	}

	return recs
}
