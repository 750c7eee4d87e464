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
	"sync"
	"time"
)

// Default configuration values.
const (
	// DefaultWindow is the rolling window failures are counted over.
	DefaultWindow = 5 * time.Minute

	// DefaultLogAfter is the count at which failure logs move from
	// debug to warn.
	DefaultLogAfter = 3

	// DefaultAlertAfter is the count at which escalation alerts.
	DefaultAlertAfter = 5

	// DefaultCircuitBreakAfter is the count at which the breaker trips.
	DefaultCircuitBreakAfter = 10

	// DefaultBreakDuration is how long a tripped breaker holds.
	DefaultBreakDuration = 60 * time.Second

	// DefaultInferenceTimeout bounds a wrapped inference call.
	DefaultInferenceTimeout = 30 * time.Second
)

// DefaultThresholds returns the stock escalation thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		LogAfter:          DefaultLogAfter,
		AlertAfter:        DefaultAlertAfter,
		CircuitBreakAfter: DefaultCircuitBreakAfter,
		BreakDuration:     DefaultBreakDuration,
		Window:            DefaultWindow,
	}
}

// DefaultCriticalTypes returns the failure types that escalate straight
// to critical regardless of count.
func DefaultCriticalTypes() []FailureType {
	return []FailureType{FailureModelUnavailable, FailureConfidenceCollapse}
}

// DefaultConfig returns the stock registry configuration.
func DefaultConfig() Config {
	return Config{
		Thresholds:    DefaultThresholds(),
		CriticalTypes: DefaultCriticalTypes(),
	}
}

// Config configures a Registry.
type Config struct {
	// Thresholds are the escalation counts and timing knobs. Zero
	// fields take defaults before validation.
	Thresholds Thresholds `yaml:"thresholds"`

	// CriticalTypes escalate to critical on first sight. nil means the
	// default set; an empty non-nil slice disables type-based
	// escalation entirely.
	CriticalTypes []FailureType `yaml:"critical_types"`

	// Tables are the fallback value tables. May be empty; they can be
	// swapped at runtime via SetFallbackTables.
	Tables FallbackTables `yaml:"tables"`
}

// applyConfigDefaults fills zero-valued fields in place.
func applyConfigDefaults(cfg *Config) {
	if cfg.Thresholds.LogAfter == 0 {
		cfg.Thresholds.LogAfter = DefaultLogAfter
	}
	if cfg.Thresholds.AlertAfter == 0 {
		cfg.Thresholds.AlertAfter = DefaultAlertAfter
	}
	if cfg.Thresholds.CircuitBreakAfter == 0 {
		cfg.Thresholds.CircuitBreakAfter = DefaultCircuitBreakAfter
	}
	if cfg.Thresholds.BreakDuration == 0 {
		cfg.Thresholds.BreakDuration = DefaultBreakDuration
	}
	if cfg.Thresholds.Window == 0 {
		cfg.Thresholds.Window = DefaultWindow
	}
	if cfg.CriticalTypes == nil {
		cfg.CriticalTypes = DefaultCriticalTypes()
	}
}

// Registry owns the per-model resilience state: the failure tracker,
// the circuit breakers, the result cache, and the fallback resolver.
// One registry is constructed per process and passed by reference into
// the gateway; tests build their own so state never leaks between them.
//
// # Locking
//
// Each structure guards its own map with an RWMutex, so reads against
// different structures or different models never contend. On top of
// that the registry keeps a keyed mutex per model id: write sequences
// that must be mutually exclusive within one model (record, trip,
// reset) hold that model's keyed lock for the whole sequence. Keyed
// locks are never held while firing hooks.
type Registry struct {
	thresholds Thresholds
	critical   map[FailureType]bool

	tracker  *FailureTracker
	breakers *breakerSet
	cache    *resultCache
	resolver *fallbackResolver

	hooks Hooks

	mu    sync.Mutex
	keyed map[string]*sync.Mutex
}

// NewRegistry validates the config and builds an empty registry.
func NewRegistry(cfg Config) (*Registry, error) {
	applyConfigDefaults(&cfg)
	if err := cfg.Thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("invalid resilience config: %w", err)
	}

	critical := make(map[FailureType]bool, len(cfg.CriticalTypes))
	for _, ft := range cfg.CriticalTypes {
		critical[ft] = true
	}

	cache := newResultCache()
	return &Registry{
		thresholds: cfg.Thresholds,
		critical:   critical,
		tracker:    NewFailureTracker(cfg.Thresholds.Window),
		breakers:   newBreakerSet(),
		cache:      cache,
		resolver:   newFallbackResolver(cache, cfg.Tables),
		keyed:      make(map[string]*sync.Mutex),
	}, nil
}

// SetHooks installs event hooks. Call before the registry sees traffic;
// hooks are read without synchronization afterward.
func (r *Registry) SetHooks(hooks Hooks) {
	r.hooks = hooks
}

// Thresholds returns the configured escalation thresholds.
func (r *Registry) Thresholds() Thresholds {
	return r.thresholds
}

// modelLock returns the keyed mutex for a model id, creating it on
// first use. Keyed mutexes live for the registry's lifetime.
func (r *Registry) modelLock(modelID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.keyed[modelID]
	if !ok {
		m = &sync.Mutex{}
		r.keyed[modelID] = m
	}
	return m
}

// withModelLock runs fn while holding the model's keyed lock. fn must
// not call public registry methods for the same model.
func (r *Registry) withModelLock(modelID string, fn func()) {
	m := r.modelLock(modelID)
	m.Lock()
	defer m.Unlock()
	fn()
}

// ===== FAILURE TRACKING =====

// RecordFailure records one failure and returns the post-record stats.
func (r *Registry) RecordFailure(modelID string, f Failure) FailureStats {
	var stats FailureStats
	r.withModelLock(modelID, func() {
		stats = r.tracker.RecordFailure(modelID, f)
	})
	return stats
}

// RecordSuccess stamps the model's last success time.
func (r *Registry) RecordSuccess(modelID string) {
	r.withModelLock(modelID, func() {
		r.tracker.RecordSuccess(modelID)
	})
}

// FailureStats returns the model's window snapshot.
func (r *Registry) FailureStats(modelID string) FailureStats {
	return r.tracker.Stats(modelID)
}

// ClearFailures drops one model's failure history.
func (r *Registry) ClearFailures(modelID string) {
	r.withModelLock(modelID, func() {
		r.tracker.Clear(modelID)
	})
}

// ClearAllFailures drops every model's failure history.
func (r *Registry) ClearAllFailures() {
	r.tracker.ClearAll()
}

// ModelIDs returns every model id with tracked failure state.
func (r *Registry) ModelIDs() []string {
	return r.tracker.ModelIDs()
}

// ===== CIRCUIT BREAKERS =====

// TripBreaker opens the model's breaker. A non-positive duration means
// the configured default.
func (r *Registry) TripBreaker(modelID, reason string, failureCount int, d time.Duration) CircuitBreakerState {
	if d <= 0 {
		d = r.thresholds.BreakDuration
	}

	var state CircuitBreakerState
	r.withModelLock(modelID, func() {
		state = r.breakers.Trip(modelID, reason, failureCount, d)
	})

	r.fireBreakerTrip(modelID, state)
	return state
}

// CheckBreaker reports breaker state and applies lazy expiry. This is
// one of the two expiry points; the other is ActiveBreakers.
func (r *Registry) CheckBreaker(modelID string) BreakerStatus {
	status := r.breakers.Check(modelID)
	if status.AutoReset {
		r.fireBreakerReset(modelID, TransitionAutoReset)
	}
	return status
}

// PeekBreaker reports breaker state without mutating anything. Expired
// but uncollected breakers read as not broken.
func (r *Registry) PeekBreaker(modelID string) BreakerStatus {
	return r.breakers.Peek(modelID)
}

// ResetBreaker clears the model's breaker and failure stats as one
// logical operation. Returns false when no breaker was set; the
// failure stats are cleared either way.
func (r *Registry) ResetBreaker(modelID string) bool {
	var existed bool
	r.withModelLock(modelID, func() {
		existed = r.breakers.Reset(modelID)
		r.tracker.Clear(modelID)
	})

	if existed {
		r.fireBreakerReset(modelID, TransitionManualReset)
	}
	return existed
}

// ResetAllBreakers clears every breaker and all failure stats, and
// returns the number of breakers that were set.
func (r *Registry) ResetAllBreakers() int {
	n := r.breakers.ResetAll()
	r.tracker.ClearAll()
	if n > 0 {
		r.fireBreakerReset("", TransitionManualReset)
	}
	return n
}

// ActiveBreakers lists open breakers, collecting expired entries.
func (r *Registry) ActiveBreakers() []ActiveBreaker {
	return r.breakers.Active()
}

// ===== RESULT CACHE =====

// CacheResult stores a model's last known good result.
func (r *Registry) CacheResult(modelID string, value any) {
	r.cache.Put(modelID, value)
}

// CachedResult returns the cached raw value, however old.
func (r *Registry) CachedResult(modelID string) (any, bool) {
	return r.cache.Get(modelID)
}

// CachedEntry returns the cached value with its timestamp.
func (r *Registry) CachedEntry(modelID string) (CacheEntry, bool) {
	return r.cache.Entry(modelID)
}

// ClearCache drops one model's cached result and reports whether an
// entry existed.
func (r *Registry) ClearCache(modelID string) bool {
	return r.cache.Clear(modelID)
}

// ClearAllCache drops every cached result and returns how many were
// held.
func (r *Registry) ClearAllCache() int {
	return r.cache.ClearAll()
}

// ===== ESCALATION AND FALLBACK =====

// DetermineEscalation decides the escalation for a failure. When the
// failure count is omitted it is read from the model's current stats.
// The breaker is consulted read-only, so this is side-effect free.
func (r *Registry) DetermineEscalation(modelID string, failureType FailureType, failureCount ...int) EscalationResult {
	var count int
	if len(failureCount) > 0 {
		count = failureCount[0]
	} else {
		count = r.tracker.Stats(modelID).FailuresInWindow
	}

	return determineEscalation(escalationInput{
		failureType:   failureType,
		stats:         FailureStats{FailuresInWindow: count},
		breakerOpen:   r.breakers.Peek(modelID).Broken,
		thresholds:    r.thresholds,
		criticalTypes: r.critical,
	})
}

// Fallback resolves a replacement answer for the model.
func (r *Registry) Fallback(modelID string, strategy FallbackStrategy) FallbackResult {
	result := r.resolver.Resolve(modelID, strategy)
	r.fireFallback(modelID, result)
	return result
}

// SetFallbackTables swaps the resolver tables; the next Resolve sees
// the new values.
func (r *Registry) SetFallbackTables(tables FallbackTables) {
	r.resolver.SetTables(tables)
}

// Tables returns the current fallback tables.
func (r *Registry) Tables() FallbackTables {
	return r.resolver.Tables()
}

// ===== LIFECYCLE =====

// Reset restores a pristine registry: no failures, no breakers, no
// cache entries. Thresholds, tables, and hooks survive. Intended for
// tests and the admin surface.
func (r *Registry) Reset() {
	r.tracker.ClearAll()
	r.breakers.ResetAll()
	r.cache.ClearAll()
}

// ===== HOOK DISPATCH =====
//
// Hooks fire after the keyed lock is released so a slow subscriber can
// never stall a model's critical section.

func (r *Registry) fireBreakerTrip(modelID string, state CircuitBreakerState) {
	if r.hooks.OnBreakerTrip == nil {
		return
	}
	r.hooks.OnBreakerTrip(BreakerEvent{
		ModelID:      modelID,
		Transition:   TransitionTrip,
		Reason:       state.Reason,
		FailureCount: state.FailureCountAtTrip,
		Duration:     state.Duration,
		At:           state.TrippedAt,
	})
}

func (r *Registry) fireBreakerReset(modelID, transition string) {
	if r.hooks.OnBreakerReset == nil {
		return
	}
	r.hooks.OnBreakerReset(BreakerEvent{
		ModelID:    modelID,
		Transition: transition,
		At:         time.Now(),
	})
}

func (r *Registry) fireEscalation(modelID string, failureType FailureType, esc EscalationResult) {
	if r.hooks.OnEscalation == nil {
		return
	}
	r.hooks.OnEscalation(EscalationEvent{
		ModelID:      modelID,
		Level:        esc.Level,
		FailureType:  failureType,
		FailureCount: esc.FailureCount,
		ShouldAlert:  esc.ShouldAlert,
		At:           time.Now(),
	})
}

func (r *Registry) fireFallback(modelID string, result FallbackResult) {
	if r.hooks.OnFallback == nil {
		return
	}
	r.hooks.OnFallback(FallbackEvent{
		ModelID:  modelID,
		Strategy: result.Strategy,
		Reason:   result.FallbackReason,
		At:       time.Now(),
	})
}
