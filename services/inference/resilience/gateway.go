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
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianSound/pkg/logging"
)

// InferenceFunc is the caller-supplied model invocation. It may block,
// return an error, panic, or resolve to malformed output; the gateway
// absorbs all of that.
type InferenceFunc func(ctx context.Context, input any) (any, error)

// HandleOptions tunes one HandleFailure call.
type HandleOptions struct {
	// Context is caller-supplied diagnostic context. It is sanitized
	// before any record is built.
	Context map[string]any

	// Strategy overrides the fallback strategy. StrategyAuto derives
	// one from the escalation level.
	Strategy FallbackStrategy

	// Output is the inference output observed alongside the error, if
	// the call resolved to one.
	Output Output
}

// WrapOptions tunes a wrapped inference function.
type WrapOptions struct {
	// Timeout bounds each call. Zero means the gateway default;
	// negative disables the deadline entirely.
	Timeout time.Duration

	// Validate, when set, runs on every resolved output. A non-nil
	// error routes the call through the failure path.
	Validate func(any) error

	// CacheSuccessful stores each successful output as the model's
	// last known good result.
	CacheSuccessful bool

	// Strategy overrides the fallback strategy on failure paths.
	Strategy FallbackStrategy

	// Context is merged into every failure record for this wrapper.
	Context map[string]any
}

// FailureReport is the HandleFailure envelope: everything the gateway
// decided and did about one failure.
type FailureReport struct {
	Handled         bool             `json:"handled"`
	IncidentID      string           `json:"incident_id"`
	ModelID         string           `json:"model_id"`
	Failure         FailureRecord    `json:"failure"`
	Escalation      EscalationResult `json:"escalation"`
	Fallback        *FallbackResult  `json:"fallback,omitempty"`
	Stats           FailureStats     `json:"stats"`
	Recommendations []string         `json:"recommendations"`
	Timestamp       time.Time        `json:"timestamp"`
}

// Wrapped-call outcome names, carried in CallEvent and metrics labels.
const (
	OutcomeSuccess      = "success"
	OutcomeFailure      = "failure"
	OutcomeShortCircuit = "short_circuit"
)

// CallEvent describes one completed wrapped inference call.
type CallEvent struct {
	ModelID     string        `json:"model_id"`
	Outcome     string        `json:"outcome"`
	FailureType FailureType   `json:"failure_type,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// GatewayConfig configures a Gateway.
type GatewayConfig struct {
	// Logger receives failure and escalation logs. nil means the
	// package default logger.
	Logger *logging.Logger

	// Timeout is the default per-call deadline for wrapped inference.
	Timeout time.Duration

	// AlertEvery is the minimum spacing between alert-severity logs
	// per model; alerts beyond the burst are logged at warn instead.
	AlertEvery time.Duration

	// AlertBurst is the limiter burst per model.
	AlertBurst int

	// OnCall, when set, receives one event per wrapped-call
	// completion. It runs on the calling goroutine.
	OnCall func(CallEvent)
}

// DefaultGatewayConfig returns the stock gateway settings.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		Timeout:    DefaultInferenceTimeout,
		AlertEvery: 30 * time.Second,
		AlertBurst: 3,
	}
}

// Gateway wraps inference calls in the resilience pipeline: classify,
// track, escalate, break, fall back. Its contract is fail-closed — a
// wrapped call never returns an error and never hangs past its
// deadline; every failure path resolves to a FallbackResult value.
type Gateway struct {
	registry *Registry
	log      *logging.Logger
	timeout  time.Duration
	onCall   func(CallEvent)

	alertEvery time.Duration
	alertBurst int
	limiterMu  sync.Mutex
	limiters   map[string]*rate.Limiter
}

// NewGateway builds a gateway over the registry.
func NewGateway(registry *Registry, cfg GatewayConfig) *Gateway {
	def := DefaultGatewayConfig()
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.AlertEvery <= 0 {
		cfg.AlertEvery = def.AlertEvery
	}
	if cfg.AlertBurst <= 0 {
		cfg.AlertBurst = def.AlertBurst
	}

	return &Gateway{
		registry:   registry,
		log:        cfg.Logger.With("component", "inference_gateway"),
		timeout:    cfg.Timeout,
		onCall:     cfg.OnCall,
		alertEvery: cfg.AlertEvery,
		alertBurst: cfg.AlertBurst,
		limiters:   make(map[string]*rate.Limiter),
	}
}

// Registry exposes the underlying registry for admin surfaces.
func (g *Gateway) Registry() *Registry {
	return g.registry
}

// strategyForLevel maps an escalation level to the fallback strategy
// the gateway uses when the caller left the choice to it.
func strategyForLevel(level EscalationLevel) FallbackStrategy {
	switch level {
	case LevelCircuitBreak:
		return StrategyUseCached
	case LevelCritical:
		return StrategyUseConservative
	case LevelAlert:
		return StrategyUseCached
	default:
		return StrategyUseDefault
	}
}

// tripReason builds the breaker reason string from the failure that
// crossed the threshold.
func tripReason(failureType FailureType, count int) string {
	return fmt.Sprintf("%d failures in window, last type %s", count, failureType)
}

// HandleFailure is the explicit failure path: classify the error,
// record it, decide the escalation, trip the breaker when warranted,
// and resolve a fallback. Record, escalate, and trip run as one
// critical section for the model, so concurrent failures cannot
// interleave between the count and the trip.
//
// It never returns nil and never panics; callers that manage their own
// recover around inference feed errors here to get the same pipeline
// as wrapped calls.
func (g *Gateway) HandleFailure(modelID string, err error, opts HandleOptions) *FailureReport {
	failureType := Classify(err, opts.Output)
	message := failureMessage(err, failureType)
	now := time.Now()

	cleanContext, _ := SanitizeContext(opts.Context)

	reg := g.registry
	var (
		stats   FailureStats
		esc     EscalationResult
		tripped *CircuitBreakerState
	)
	reg.withModelLock(modelID, func() {
		stats = reg.tracker.RecordFailure(modelID, Failure{
			Type:    failureType,
			Message: message,
			Context: opts.Context,
		})
		esc = determineEscalation(escalationInput{
			failureType:   failureType,
			stats:         stats,
			breakerOpen:   reg.breakers.Peek(modelID).Broken,
			thresholds:    reg.thresholds,
			criticalTypes: reg.critical,
		})
		if esc.ShouldTripBreaker {
			state := reg.breakers.Trip(modelID, tripReason(failureType, esc.FailureCount),
				esc.FailureCount, reg.thresholds.BreakDuration)
			tripped = &state
		}
	})

	if tripped != nil {
		reg.fireBreakerTrip(modelID, *tripped)
	}
	if esc.Level > LevelNone {
		reg.fireEscalation(modelID, failureType, esc)
	}

	var fallback *FallbackResult
	if esc.ShouldFallback {
		strategy := opts.Strategy
		if strategy == StrategyAuto {
			strategy = strategyForLevel(esc.Level)
		}
		fb := reg.Fallback(modelID, strategy)
		fb.InferenceError = &InferenceError{Type: failureType, Message: message}
		fallback = &fb
	}

	report := &FailureReport{
		Handled:    true,
		IncidentID: uuid.New().String(),
		ModelID:    modelID,
		Failure: FailureRecord{
			At:      now,
			Type:    failureType,
			Message: message,
			Context: cleanContext,
		},
		Escalation:      esc,
		Fallback:        fallback,
		Stats:           stats,
		Recommendations: recommendations(esc.Level, stats, reg.thresholds),
		Timestamp:       now,
	}

	g.logFailure(report)
	return report
}

// failureMessage picks the record message: the error text when there
// is one, otherwise a description of what the output classified as.
func failureMessage(err error, failureType FailureType) string {
	if err != nil {
		return err.Error()
	}
	return fmt.Sprintf("inference output classified as %s", failureType)
}

// logFailure logs one handled failure. Below the log threshold
// failures stay at debug; at or above it they log at warn; alerts log
// at error, collapsed per model by the rate limiter.
func (g *Gateway) logFailure(report *FailureReport) {
	fields := []any{
		"model_id", report.ModelID,
		"failure_type", string(report.Failure.Type),
		"level", report.Escalation.Level.String(),
		"failures_in_window", report.Stats.FailuresInWindow,
		"incident_id", report.IncidentID,
	}

	switch {
	case report.Escalation.ShouldAlert:
		if g.allowAlert(report.ModelID) {
			g.log.Error("model failure alert", fields...)
		} else {
			g.log.Warn("model failure alert suppressed by limiter", fields...)
		}
	case report.Stats.FailuresInWindow >= g.registry.thresholds.LogAfter:
		g.log.Warn("model failure", fields...)
	default:
		g.log.Debug("model failure", fields...)
	}
}

// allowAlert rate-limits alert-severity logging per model.
func (g *Gateway) allowAlert(modelID string) bool {
	g.limiterMu.Lock()
	lim, ok := g.limiters[modelID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(g.alertEvery), g.alertBurst)
		g.limiters[modelID] = lim
	}
	g.limiterMu.Unlock()

	return lim.Allow()
}

// WrapInference returns a fail-closed version of fn. The returned
// function never returns an error: real outputs come back unmodified,
// and every failure path resolves to a FallbackResult value (check
// with AsFallback). An open breaker short-circuits the call entirely.
func (g *Gateway) WrapInference(fn InferenceFunc, modelID string, opts WrapOptions) InferenceFunc {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = g.timeout
	}

	return func(ctx context.Context, input any) (any, error) {
		start := time.Now()

		if status := g.registry.CheckBreaker(modelID); status.Broken {
			strategy := opts.Strategy
			if strategy == StrategyAuto {
				strategy = StrategyUseCached
			}
			fb := g.registry.Fallback(modelID, strategy)
			fb.CircuitBroken = true
			fb.Remaining = status.Remaining
			g.observeCall(CallEvent{
				ModelID:  modelID,
				Outcome:  OutcomeShortCircuit,
				Duration: time.Since(start),
			})
			return fb, nil
		}

		value, err := g.invoke(ctx, fn, input, timeout)

		if err == nil && opts.Validate != nil {
			err = opts.Validate(value)
		}

		if err == nil {
			// A resolved value can still be a failure: NaN, typed
			// nil, or no output at all.
			output := outputOf(value)
			if ft := Classify(nil, output); ft != FailureUnknown {
				return g.failWrapped(modelID, nil, output, opts, start), nil
			}

			g.registry.RecordSuccess(modelID)
			if opts.CacheSuccessful {
				g.registry.CacheResult(modelID, value)
			}
			g.observeCall(CallEvent{
				ModelID:  modelID,
				Outcome:  OutcomeSuccess,
				Duration: time.Since(start),
			})
			return value, nil
		}

		return g.failWrapped(modelID, err, Output{}, opts, start), nil
	}
}

// Wrapper is the curried convenience: fix the model and options once,
// wrap many functions.
func (g *Gateway) Wrapper(modelID string, opts WrapOptions) func(InferenceFunc) InferenceFunc {
	return func(fn InferenceFunc) InferenceFunc {
		return g.WrapInference(fn, modelID, opts)
	}
}

// failWrapped routes a wrapped-call failure through HandleFailure and
// shapes the fallback envelope the call resolves to.
func (g *Gateway) failWrapped(modelID string, err error, output Output, opts WrapOptions, start time.Time) FallbackResult {
	report := g.HandleFailure(modelID, err, HandleOptions{
		Context:  opts.Context,
		Strategy: opts.Strategy,
		Output:   output,
	})

	var fb FallbackResult
	if report.Fallback != nil {
		fb = *report.Fallback
	} else {
		fb = FallbackResult{
			IsFallback:     true,
			FallbackReason: ReasonInferenceFailure,
			Strategy:       StrategyUseDefault,
			InferenceError: &InferenceError{Type: report.Failure.Type, Message: report.Failure.Message},
		}
	}

	g.observeCall(CallEvent{
		ModelID:     modelID,
		Outcome:     OutcomeFailure,
		FailureType: report.Failure.Type,
		Duration:    time.Since(start),
	})
	return fb
}

// invokeResult carries one inference outcome across the race channel.
type invokeResult struct {
	value any
	err   error
}

// invoke runs fn under a deadline. fn executes on its own goroutine
// writing to a 1-buffered channel; if the deadline fires first the
// call returns immediately, the derived context is cancelled so a
// cooperative fn can abort, and the loser's eventual result is
// discarded without ever being awaited. A panic inside fn surfaces as
// an ordinary error.
func (g *Gateway) invoke(ctx context.Context, fn InferenceFunc, input any, timeout time.Duration) (any, error) {
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	results := make(chan invokeResult, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				results <- invokeResult{err: fmt.Errorf("inference panic: %v", rec)}
			}
		}()
		value, err := fn(callCtx, input)
		results <- invokeResult{value: value, err: err}
	}()

	select {
	case res := <-results:
		return res.value, res.err
	case <-callCtx.Done():
		return nil, callCtx.Err()
	}
}

// outputOf maps a resolved inference value onto the classifier's
// Output. An untyped nil means the call produced nothing at all.
func outputOf(value any) Output {
	if value == nil {
		return Output{}
	}
	return Output{Value: value, Present: true}
}

// observeCall dispatches the per-call event, if anyone is listening.
func (g *Gateway) observeCall(event CallEvent) {
	if g.onCall != nil {
		g.onCall(event)
	}
}

// AsFallback unwraps a wrapped-call result into its fallback envelope.
// The second return is false for real inference outputs.
func AsFallback(v any) (FallbackResult, bool) {
	switch fb := v.(type) {
	case FallbackResult:
		return fb, true
	case *FallbackResult:
		if fb != nil {
			return *fb, true
		}
	}
	return FallbackResult{}, false
}

// IsFallback reports whether a wrapped-call result is a fallback
// envelope rather than a real inference output.
func IsFallback(v any) bool {
	_, ok := AsFallback(v)
	return ok
}
