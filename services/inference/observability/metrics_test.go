// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/AleutianAI/AleutianSound/services/inference/resilience"
)

// newTestMetrics creates a GatewayMetrics instance with a private
// registry. This avoids conflicts with the global Prometheus registry
// and allows parallel testing.
func newTestMetrics(t *testing.T) *GatewayMetrics {
	t.Helper()
	return NewMetrics(prometheus.NewRegistry())
}

func TestConstants(t *testing.T) {
	if metricsNamespace != "aleutian" {
		t.Errorf("metricsNamespace = %q, want %q", metricsNamespace, "aleutian")
	}
	if gatewaySubsystem != "inference_gateway" {
		t.Errorf("gatewaySubsystem = %q, want %q", gatewaySubsystem, "inference_gateway")
	}
}

func TestGatewayMetrics_Fields(t *testing.T) {
	m := newTestMetrics(t)

	if m.CallsTotal == nil {
		t.Error("CallsTotal should not be nil")
	}
	if m.FailuresTotal == nil {
		t.Error("FailuresTotal should not be nil")
	}
	if m.FallbacksTotal == nil {
		t.Error("FallbacksTotal should not be nil")
	}
	if m.BreakerTransitionsTotal == nil {
		t.Error("BreakerTransitionsTotal should not be nil")
	}
	if m.ActiveCircuitBreakers == nil {
		t.Error("ActiveCircuitBreakers should not be nil")
	}
	if m.EscalationsTotal == nil {
		t.Error("EscalationsTotal should not be nil")
	}
	if m.InferenceDurationSeconds == nil {
		t.Error("InferenceDurationSeconds should not be nil")
	}
}

func TestGatewayMetrics_ObserveCall_Success(t *testing.T) {
	m := newTestMetrics(t)

	m.ObserveCall(resilience.CallEvent{
		ModelID:  "loudness_clf",
		Outcome:  resilience.OutcomeSuccess,
		Duration: 25 * time.Millisecond,
	})

	val := testutil.ToFloat64(m.CallsTotal.WithLabelValues("loudness_clf", "success"))
	if val != 1 {
		t.Errorf("CallsTotal[loudness_clf,success] = %f, want 1", val)
	}

	// Success must not touch the failure counter.
	failVal := testutil.ToFloat64(m.FailuresTotal.WithLabelValues("loudness_clf", "timeout"))
	if failVal != 0 {
		t.Errorf("FailuresTotal should stay 0, got %f", failVal)
	}
}

func TestGatewayMetrics_ObserveCall_FailureRecordsType(t *testing.T) {
	m := newTestMetrics(t)

	m.ObserveCall(resilience.CallEvent{
		ModelID:     "loudness_clf",
		Outcome:     resilience.OutcomeFailure,
		FailureType: resilience.FailureTimeout,
		Duration:    10 * time.Millisecond,
	})
	m.ObserveCall(resilience.CallEvent{
		ModelID:     "loudness_clf",
		Outcome:     resilience.OutcomeFailure,
		FailureType: resilience.FailureTimeout,
		Duration:    10 * time.Millisecond,
	})

	callsVal := testutil.ToFloat64(m.CallsTotal.WithLabelValues("loudness_clf", "failure"))
	if callsVal != 2 {
		t.Errorf("CallsTotal[loudness_clf,failure] = %f, want 2", callsVal)
	}

	failVal := testutil.ToFloat64(m.FailuresTotal.WithLabelValues("loudness_clf", "timeout"))
	if failVal != 2 {
		t.Errorf("FailuresTotal[loudness_clf,timeout] = %f, want 2", failVal)
	}
}

func TestGatewayMetrics_ObserveCall_ShortCircuit(t *testing.T) {
	m := newTestMetrics(t)

	m.ObserveCall(resilience.CallEvent{
		ModelID: "defect_clf",
		Outcome: resilience.OutcomeShortCircuit,
	})

	val := testutil.ToFloat64(m.CallsTotal.WithLabelValues("defect_clf", "short_circuit"))
	if val != 1 {
		t.Errorf("CallsTotal[defect_clf,short_circuit] = %f, want 1", val)
	}

	count := testutil.CollectAndCount(m.InferenceDurationSeconds)
	if count == 0 {
		t.Error("Expected duration histogram to collect")
	}
}

func TestGatewayMetrics_RecordFallback(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordFallback("loudness_clf", "use_cached", "cached_result")
	m.RecordFallback("loudness_clf", "use_cached", "cached_result")
	m.RecordFallback("loudness_clf", "use_default", "inference_failure")

	cachedVal := testutil.ToFloat64(m.FallbacksTotal.WithLabelValues("loudness_clf", "use_cached", "cached_result"))
	if cachedVal != 2 {
		t.Errorf("FallbacksTotal[use_cached] = %f, want 2", cachedVal)
	}

	defaultVal := testutil.ToFloat64(m.FallbacksTotal.WithLabelValues("loudness_clf", "use_default", "inference_failure"))
	if defaultVal != 1 {
		t.Errorf("FallbacksTotal[use_default] = %f, want 1", defaultVal)
	}
}

func TestGatewayMetrics_RecordBreakerTransition(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordBreakerTransition("defect_clf", "trip")
	m.RecordBreakerTransition("defect_clf", "auto_reset")

	tripVal := testutil.ToFloat64(m.BreakerTransitionsTotal.WithLabelValues("defect_clf", "trip"))
	if tripVal != 1 {
		t.Errorf("BreakerTransitionsTotal[trip] = %f, want 1", tripVal)
	}

	resetVal := testutil.ToFloat64(m.BreakerTransitionsTotal.WithLabelValues("defect_clf", "auto_reset"))
	if resetVal != 1 {
		t.Errorf("BreakerTransitionsTotal[auto_reset] = %f, want 1", resetVal)
	}
}

func TestGatewayMetrics_SetActiveBreakers(t *testing.T) {
	m := newTestMetrics(t)

	m.SetActiveBreakers(3)
	if val := testutil.ToFloat64(m.ActiveCircuitBreakers); val != 3 {
		t.Errorf("ActiveCircuitBreakers = %f, want 3", val)
	}

	m.SetActiveBreakers(0)
	if val := testutil.ToFloat64(m.ActiveCircuitBreakers); val != 0 {
		t.Errorf("ActiveCircuitBreakers = %f, want 0", val)
	}
}

func TestGatewayMetrics_RecordEscalation(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordEscalation("loudness_clf", "alert")

	val := testutil.ToFloat64(m.EscalationsTotal.WithLabelValues("loudness_clf", "alert"))
	if val != 1 {
		t.Errorf("EscalationsTotal[alert] = %f, want 1", val)
	}
}

// ============================================================================
// Hooks Integration Tests
// ============================================================================

func TestGatewayMetrics_HooksFeedCounters(t *testing.T) {
	m := newTestMetrics(t)
	hooks := m.Hooks(func() int { return 1 })

	hooks.OnBreakerTrip(resilience.BreakerEvent{
		ModelID:    "defect_clf",
		Transition: resilience.TransitionTrip,
	})
	hooks.OnEscalation(resilience.EscalationEvent{
		ModelID: "defect_clf",
		Level:   resilience.LevelCircuitBreak,
	})
	hooks.OnFallback(resilience.FallbackEvent{
		ModelID:  "defect_clf",
		Strategy: resilience.StrategyUseCached,
		Reason:   resilience.ReasonCachedResult,
	})

	tripVal := testutil.ToFloat64(m.BreakerTransitionsTotal.WithLabelValues("defect_clf", "trip"))
	if tripVal != 1 {
		t.Errorf("BreakerTransitionsTotal[trip] = %f, want 1", tripVal)
	}

	escVal := testutil.ToFloat64(m.EscalationsTotal.WithLabelValues("defect_clf", "circuit_break"))
	if escVal != 1 {
		t.Errorf("EscalationsTotal[circuit_break] = %f, want 1", escVal)
	}

	fbVal := testutil.ToFloat64(m.FallbacksTotal.WithLabelValues("defect_clf", "use_cached", "cached_result"))
	if fbVal != 1 {
		t.Errorf("FallbacksTotal = %f, want 1", fbVal)
	}

	if val := testutil.ToFloat64(m.ActiveCircuitBreakers); val != 1 {
		t.Errorf("gauge should refresh on trip, got %f", val)
	}
}

func TestGatewayMetrics_HooksEndToEnd(t *testing.T) {
	m := newTestMetrics(t)

	reg, err := resilience.NewRegistry(resilience.Config{
		Thresholds: resilience.Thresholds{
			LogAfter:          1,
			AlertAfter:        2,
			CircuitBreakAfter: 3,
			BreakDuration:     time.Minute,
			Window:            time.Minute,
		},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	reg.SetHooks(m.Hooks(func() int { return len(reg.ActiveBreakers()) }))

	reg.TripBreaker("defect_clf", "manual", 3, time.Minute)

	tripVal := testutil.ToFloat64(m.BreakerTransitionsTotal.WithLabelValues("defect_clf", "trip"))
	if tripVal != 1 {
		t.Errorf("BreakerTransitionsTotal[trip] = %f, want 1", tripVal)
	}
	if val := testutil.ToFloat64(m.ActiveCircuitBreakers); val != 1 {
		t.Errorf("ActiveCircuitBreakers = %f, want 1", val)
	}

	reg.ResetBreaker("defect_clf")

	resetVal := testutil.ToFloat64(m.BreakerTransitionsTotal.WithLabelValues("defect_clf", "manual_reset"))
	if resetVal != 1 {
		t.Errorf("BreakerTransitionsTotal[manual_reset] = %f, want 1", resetVal)
	}
	if val := testutil.ToFloat64(m.ActiveCircuitBreakers); val != 0 {
		t.Errorf("ActiveCircuitBreakers = %f, want 0", val)
	}
}

func TestGatewayMetrics_ConcurrentSafety(t *testing.T) {
	m := newTestMetrics(t)

	done := make(chan bool, 60)

	for i := 0; i < 20; i++ {
		go func() {
			m.ObserveCall(resilience.CallEvent{ModelID: "m", Outcome: resilience.OutcomeSuccess})
			done <- true
		}()
	}
	for i := 0; i < 20; i++ {
		go func() {
			m.RecordFallback("m", "use_default", "inference_failure")
			done <- true
		}()
	}
	for i := 0; i < 20; i++ {
		go func() {
			m.RecordBreakerTransition("m", "trip")
			done <- true
		}()
	}

	for i := 0; i < 60; i++ {
		<-done
	}

	callsVal := testutil.ToFloat64(m.CallsTotal.WithLabelValues("m", "success"))
	if callsVal != 20 {
		t.Errorf("CallsTotal[m,success] = %f, want 20", callsVal)
	}
	fbVal := testutil.ToFloat64(m.FallbacksTotal.WithLabelValues("m", "use_default", "inference_failure"))
	if fbVal != 20 {
		t.Errorf("FallbacksTotal = %f, want 20", fbVal)
	}
}
