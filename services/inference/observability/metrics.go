// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and instrumentation for the
// inference gateway.
//
// # Description
//
// This package implements Prometheus metrics for monitoring wrapped
// inference calls and the resilience pipeline around them. Metrics
// include:
//   - Call counters (by model and outcome)
//   - Failure counters (by model and failure type)
//   - Fallback counters (by model, strategy, and reason)
//   - Circuit breaker transition counters and an active-breaker gauge
//   - Escalation counters (by model and level)
//   - Inference latency histograms
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. The resilience hooks
// and the gateway's per-call event feed them; see Hooks and ObserveCall.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/AleutianSound/services/inference/resilience"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "aleutian"

// Subsystem for inference gateway metrics
const gatewaySubsystem = "inference_gateway"

// GatewayMetrics holds all Prometheus metrics for the inference gateway.
//
// # Description
//
// Provides counters, histograms, and gauges for monitoring model health
// and resilience behavior. Initialize once at startup via InitMetrics(),
// or with NewMetrics() against a private registry in tests.
//
// # Fields
//
//   - CallsTotal: Counter of wrapped inference calls by model and outcome
//   - FailuresTotal: Counter of classified failures by model and type
//   - FallbacksTotal: Counter of fallbacks served by model, strategy, reason
//   - BreakerTransitionsTotal: Counter of breaker transitions by model
//   - ActiveCircuitBreakers: Gauge of currently open breakers
//   - EscalationsTotal: Counter of escalation decisions by model and level
//   - InferenceDurationSeconds: Histogram of wrapped call duration
//
// # Thread Safety
//
// All operations are thread-safe.
type GatewayMetrics struct {
	// CallsTotal counts wrapped inference calls by model and outcome.
	// Labels: model, outcome (success, failure, short_circuit)
	CallsTotal *prometheus.CounterVec

	// FailuresTotal counts classified failures by model and type.
	// Labels: model, failure_type (timeout, nan_output, etc.)
	FailuresTotal *prometheus.CounterVec

	// FallbacksTotal counts fallback results served.
	// Labels: model, strategy (use_cached, etc.), reason (cached_result, etc.)
	FallbacksTotal *prometheus.CounterVec

	// BreakerTransitionsTotal counts circuit breaker transitions.
	// Labels: model, transition (trip, manual_reset, auto_reset)
	BreakerTransitionsTotal *prometheus.CounterVec

	// ActiveCircuitBreakers tracks how many breakers are currently open.
	ActiveCircuitBreakers prometheus.Gauge

	// EscalationsTotal counts escalation decisions by model and level.
	// Labels: model, level (fallback, alert, critical, circuit_break)
	EscalationsTotal *prometheus.CounterVec

	// InferenceDurationSeconds measures wrapped call duration.
	// Labels: model
	InferenceDurationSeconds *prometheus.HistogramVec
}

// DefaultMetrics is the singleton instance of GatewayMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *GatewayMetrics

// InitMetrics initializes the default metrics instance against the
// global Prometheus registry.
//
// # Description
//
// Creates and registers all gateway metrics. Should be called once at
// application startup, before the HTTP server begins serving /metrics.
//
// # Outputs
//
//   - *GatewayMetrics: The initialized metrics instance.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *GatewayMetrics {
	DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	return DefaultMetrics
}

// NewMetrics creates gateway metrics registered against the given
// registerer. Tests pass a private prometheus.NewRegistry() so parallel
// packages never collide on the global registry.
func NewMetrics(registerer prometheus.Registerer) *GatewayMetrics {
	factory := promauto.With(registerer)

	return &GatewayMetrics{
		CallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "calls_total",
				Help:      "Total wrapped inference calls by model and outcome",
			},
			[]string{"model", "outcome"},
		),

		FailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "failures_total",
				Help:      "Total classified inference failures by model and type",
			},
			[]string{"model", "failure_type"},
		),

		FallbacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "fallbacks_total",
				Help:      "Total fallback results served by model, strategy, and reason",
			},
			[]string{"model", "strategy", "reason"},
		),

		BreakerTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "breaker_transitions_total",
				Help:      "Total circuit breaker transitions by model and kind",
			},
			[]string{"model", "transition"},
		),

		ActiveCircuitBreakers: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "active_circuit_breakers",
				Help:      "Number of currently open circuit breakers",
			},
		),

		EscalationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "escalations_total",
				Help:      "Total escalation decisions by model and level",
			},
			[]string{"model", "level"},
		),

		InferenceDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "inference_duration_seconds",
				Help:      "Wrapped inference call duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"model"},
		),
	}
}

// =============================================================================
// Helper Methods
// =============================================================================

// ObserveCall records one completed wrapped inference call. Wire it as
// the gateway's OnCall callback.
//
// # Inputs
//
//   - event: The per-call event emitted by the gateway.
func (m *GatewayMetrics) ObserveCall(event resilience.CallEvent) {
	m.CallsTotal.WithLabelValues(event.ModelID, event.Outcome).Inc()
	m.InferenceDurationSeconds.WithLabelValues(event.ModelID).Observe(event.Duration.Seconds())
	if event.Outcome == resilience.OutcomeFailure && event.FailureType != "" {
		m.FailuresTotal.WithLabelValues(event.ModelID, string(event.FailureType)).Inc()
	}
}

// RecordFallback records a fallback result served for a model.
//
// # Inputs
//
//   - model: The model the fallback stood in for.
//   - strategy: The strategy that served it.
//   - reason: The fallback reason tag.
func (m *GatewayMetrics) RecordFallback(model, strategy, reason string) {
	m.FallbacksTotal.WithLabelValues(model, strategy, reason).Inc()
}

// RecordBreakerTransition records a circuit breaker transition.
//
// # Inputs
//
//   - model: The model whose breaker transitioned.
//   - transition: The transition kind (trip, manual_reset, auto_reset).
func (m *GatewayMetrics) RecordBreakerTransition(model, transition string) {
	m.BreakerTransitionsTotal.WithLabelValues(model, transition).Inc()
}

// RecordEscalation records an escalation decision.
//
// # Inputs
//
//   - model: The model that escalated.
//   - level: The escalation level name.
func (m *GatewayMetrics) RecordEscalation(model, level string) {
	m.EscalationsTotal.WithLabelValues(model, level).Inc()
}

// SetActiveBreakers sets the open-breaker gauge. Callers refresh it from
// the registry's active set after each transition; transitions are the
// only events that change it.
//
// # Inputs
//
//   - n: The number of currently open breakers.
func (m *GatewayMetrics) SetActiveBreakers(n int) {
	m.ActiveCircuitBreakers.Set(float64(n))
}

// Hooks builds resilience hooks that feed these metrics. activeBreakers,
// when non-nil, is polled after each breaker transition to refresh the
// gauge.
//
// # Inputs
//
//   - activeBreakers: Callback returning the current open-breaker count.
//
// # Outputs
//
//   - resilience.Hooks: Hooks ready to pass to Registry.SetHooks.
func (m *GatewayMetrics) Hooks(activeBreakers func() int) resilience.Hooks {
	refreshGauge := func() {
		if activeBreakers != nil {
			m.SetActiveBreakers(activeBreakers())
		}
	}

	return resilience.Hooks{
		OnBreakerTrip: func(event resilience.BreakerEvent) {
			m.RecordBreakerTransition(event.ModelID, event.Transition)
			refreshGauge()
		},
		OnBreakerReset: func(event resilience.BreakerEvent) {
			m.RecordBreakerTransition(event.ModelID, event.Transition)
			refreshGauge()
		},
		OnEscalation: func(event resilience.EscalationEvent) {
			m.RecordEscalation(event.ModelID, event.Level.String())
		},
		OnFallback: func(event resilience.FallbackEvent) {
			m.RecordFallback(event.ModelID, event.Strategy.String(), event.Reason)
		},
	}
}
