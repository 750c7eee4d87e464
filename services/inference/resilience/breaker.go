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
	"sync"
	"time"
)

// CircuitBreakerState is the stored state of one tripped breaker.
type CircuitBreakerState struct {
	Tripped            bool          `json:"tripped"`
	Reason             string        `json:"reason"`
	TrippedAt          time.Time     `json:"tripped_at"`
	Duration           time.Duration `json:"duration"`
	FailureCountAtTrip int           `json:"failure_count_at_trip"`
}

// expired reports whether the breaker's hold period has elapsed at now.
func (s CircuitBreakerState) expired(now time.Time) bool {
	return !now.Before(s.TrippedAt.Add(s.Duration))
}

// BreakerStatus is the answer to a breaker check. AutoReset is true on
// the one check that observed the expiry and cleared the state.
type BreakerStatus struct {
	Broken       bool          `json:"broken"`
	Remaining    time.Duration `json:"remaining"`
	Reason       string        `json:"reason,omitempty"`
	FailureCount int           `json:"failure_count,omitempty"`
	AutoReset    bool          `json:"auto_reset,omitempty"`
}

// ActiveBreaker is one entry in the active-breaker listing.
type ActiveBreaker struct {
	ModelID      string        `json:"model_id"`
	Reason       string        `json:"reason"`
	TrippedAt    time.Time     `json:"tripped_at"`
	Remaining    time.Duration `json:"remaining"`
	FailureCount int           `json:"failure_count"`
}

// breakerSet holds the tripped breakers for all models. There is no
// background sweeper: expiry is observed lazily by Check and Active,
// which are the only operations that clear expired state. Peek never
// mutates, so read-only inspection stays side-effect free.
type breakerSet struct {
	mu       sync.RWMutex
	breakers map[string]CircuitBreakerState
}

func newBreakerSet() *breakerSet {
	return &breakerSet{breakers: make(map[string]CircuitBreakerState)}
}

// Trip opens the breaker for the model, replacing any existing state.
// Re-tripping an already-open breaker restarts the hold period.
func (b *breakerSet) Trip(modelID, reason string, failureCount int, duration time.Duration) CircuitBreakerState {
	state := CircuitBreakerState{
		Tripped:            true,
		Reason:             reason,
		TrippedAt:          time.Now(),
		Duration:           duration,
		FailureCountAtTrip: failureCount,
	}

	b.mu.Lock()
	b.breakers[modelID] = state
	b.mu.Unlock()

	return state
}

// Check reports the breaker state and clears it if the hold period has
// elapsed. The fast path is a read lock; only an observed expiry
// upgrades to a write lock, and the trip time is rechecked under it so
// a breaker re-tripped in the gap is never cleared.
func (b *breakerSet) Check(modelID string) BreakerStatus {
	now := time.Now()

	b.mu.RLock()
	state, ok := b.breakers[modelID]
	b.mu.RUnlock()

	if !ok {
		return BreakerStatus{}
	}
	if !state.expired(now) {
		return BreakerStatus{
			Broken:       true,
			Remaining:    state.TrippedAt.Add(state.Duration).Sub(now),
			Reason:       state.Reason,
			FailureCount: state.FailureCountAtTrip,
		}
	}

	b.mu.Lock()
	current, ok := b.breakers[modelID]
	if ok && current.TrippedAt.Equal(state.TrippedAt) {
		delete(b.breakers, modelID)
		b.mu.Unlock()
		return BreakerStatus{AutoReset: true}
	}
	b.mu.Unlock()

	// Re-tripped between the read and the write lock; report the
	// fresh state without clearing it.
	if ok && !current.expired(now) {
		return BreakerStatus{
			Broken:       true,
			Remaining:    current.TrippedAt.Add(current.Duration).Sub(now),
			Reason:       current.Reason,
			FailureCount: current.FailureCountAtTrip,
		}
	}
	return BreakerStatus{}
}

// Peek reports the breaker state without ever mutating it. An expired
// breaker reads as not broken; the stale entry stays until a Check or
// Active call collects it.
func (b *breakerSet) Peek(modelID string) BreakerStatus {
	now := time.Now()

	b.mu.RLock()
	state, ok := b.breakers[modelID]
	b.mu.RUnlock()

	if !ok || state.expired(now) {
		return BreakerStatus{}
	}
	return BreakerStatus{
		Broken:       true,
		Remaining:    state.TrippedAt.Add(state.Duration).Sub(now),
		Reason:       state.Reason,
		FailureCount: state.FailureCountAtTrip,
	}
}

// State returns the raw stored state for one model, expired or not.
func (b *breakerSet) State(modelID string) (CircuitBreakerState, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	state, ok := b.breakers[modelID]
	return state, ok
}

// Reset clears the breaker and reports whether one was present.
func (b *breakerSet) Reset(modelID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, ok := b.breakers[modelID]
	if ok {
		delete(b.breakers, modelID)
	}
	return ok
}

// ResetAll clears every breaker and returns how many were present.
func (b *breakerSet) ResetAll() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.breakers)
	b.breakers = make(map[string]CircuitBreakerState)
	return n
}

// Active lists the currently open breakers, collecting any expired
// entries it walks past. Expired entries are re-verified under the
// write lock before deletion.
func (b *breakerSet) Active() []ActiveBreaker {
	now := time.Now()

	b.mu.RLock()
	active := make([]ActiveBreaker, 0, len(b.breakers))
	var stale []string
	for id, state := range b.breakers {
		if state.expired(now) {
			stale = append(stale, id)
			continue
		}
		active = append(active, ActiveBreaker{
			ModelID:      id,
			Reason:       state.Reason,
			TrippedAt:    state.TrippedAt,
			Remaining:    state.TrippedAt.Add(state.Duration).Sub(now),
			FailureCount: state.FailureCountAtTrip,
		})
	}
	b.mu.RUnlock()

	if len(stale) > 0 {
		b.mu.Lock()
		for _, id := range stale {
			if state, ok := b.breakers[id]; ok && state.expired(now) {
				delete(b.breakers, id)
			}
		}
		b.mu.Unlock()
	}

	return active
}
