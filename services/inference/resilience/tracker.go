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

// FailureTracker keeps a per-model sliding window of failure records
// plus the timestamp of the last success. Records are pruned by age on
// writes; reads filter by the window cutoff without mutating.
//
// Thread Safety: safe for concurrent use. The tracker's lock covers map
// and record integrity only; callers needing a record/escalate/trip
// sequence to be atomic per model serialize through the registry's
// per-model locks.
type FailureTracker struct {
	mu     sync.RWMutex
	window time.Duration
	models map[string]*modelFailureState
}

// modelFailureState is the ledger for one model id. It lives for the
// process lifetime and is reset only via explicit clear calls.
type modelFailureState struct {
	records     []FailureRecord
	lastSuccess time.Time
}

// NewFailureTracker creates a tracker with the given rolling window.
func NewFailureTracker(window time.Duration) *FailureTracker {
	if window <= 0 {
		window = DefaultWindow
	}
	return &FailureTracker{
		window: window,
		models: make(map[string]*modelFailureState),
	}
}

// RecordFailure sanitizes the failure's context, appends a timestamped
// record, prunes entries that fell out of the window, and returns the
// resulting stats snapshot.
func (t *FailureTracker) RecordFailure(modelID string, f Failure) FailureStats {
	clean, _ := SanitizeContext(f.Context)
	now := time.Now()

	t.mu.Lock()
	state, ok := t.models[modelID]
	if !ok {
		state = &modelFailureState{}
		t.models[modelID] = state
	}
	state.records = append(state.records, FailureRecord{
		At:      now,
		Type:    f.Type,
		Message: f.Message,
		Context: clean,
	})
	state.prune(now.Add(-t.window))
	stats := t.statsLocked(state, now)
	t.mu.Unlock()

	return stats
}

// RecordSuccess stamps the model's last success. It never touches the
// failure window: a success does not erase failure history.
func (t *FailureTracker) RecordSuccess(modelID string) {
	now := time.Now()

	t.mu.Lock()
	state, ok := t.models[modelID]
	if !ok {
		state = &modelFailureState{}
		t.models[modelID] = state
	}
	state.lastSuccess = now
	t.mu.Unlock()
}

// Stats returns the window snapshot for the model. Unknown ids yield
// the zero snapshot with an empty per-type map, never an error.
func (t *FailureTracker) Stats(modelID string) FailureStats {
	now := time.Now()

	t.mu.RLock()
	defer t.mu.RUnlock()

	state, ok := t.models[modelID]
	if !ok {
		return FailureStats{ByType: map[FailureType]int{}}
	}
	return t.statsLocked(state, now)
}

// Clear removes all failure records and the success stamp for one model.
func (t *FailureTracker) Clear(modelID string) {
	t.mu.Lock()
	delete(t.models, modelID)
	t.mu.Unlock()
}

// ClearAll removes every model's records.
func (t *FailureTracker) ClearAll() {
	t.mu.Lock()
	t.models = make(map[string]*modelFailureState)
	t.mu.Unlock()
}

// ModelIDs returns the ids with any tracked state, for fleet views.
func (t *FailureTracker) ModelIDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]string, 0, len(t.models))
	for id := range t.models {
		ids = append(ids, id)
	}
	return ids
}

// statsLocked computes the snapshot. Must be called with at least a
// read lock held.
func (t *FailureTracker) statsLocked(state *modelFailureState, now time.Time) FailureStats {
	cutoff := now.Add(-t.window)

	stats := FailureStats{
		ByType:      map[FailureType]int{},
		LastSuccess: state.lastSuccess,
	}
	for _, rec := range state.records {
		if rec.At.Before(cutoff) {
			continue
		}
		stats.FailuresInWindow++
		stats.ByType[rec.Type]++
		if rec.At.After(stats.LastFailure) {
			stats.LastFailure = rec.At
		}
	}
	if minutes := t.window.Minutes(); minutes > 0 {
		stats.FailureRate = float64(stats.FailuresInWindow) / minutes
	}
	return stats
}

// prune drops records older than the cutoff. Records are appended in
// time order, so the first kept index bounds the copy.
func (s *modelFailureState) prune(cutoff time.Time) {
	keep := 0
	for keep < len(s.records) && s.records[keep].At.Before(cutoff) {
		keep++
	}
	if keep > 0 {
		s.records = append(s.records[:0], s.records[keep:]...)
	}
}
