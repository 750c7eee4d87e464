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

// CacheEntry is the last known-good result for one model.
type CacheEntry struct {
	Value    any       `json:"value"`
	CachedAt time.Time `json:"cached_at"`
}

// Age returns how long ago the entry was stored.
func (e CacheEntry) Age() time.Duration {
	return time.Since(e.CachedAt)
}

// resultCache keeps exactly one entry per model: each successful
// inference overwrites the previous one. Entries never expire; a stale
// last-known-good answer beats no answer, and the entry's timestamp
// lets callers report how stale it is.
type resultCache struct {
	mu      sync.RWMutex
	entries map[string]CacheEntry
}

func newResultCache() *resultCache {
	return &resultCache{entries: make(map[string]CacheEntry)}
}

// Put stores the value as the model's last known good result.
func (c *resultCache) Put(modelID string, value any) {
	entry := CacheEntry{Value: value, CachedAt: time.Now()}

	c.mu.Lock()
	c.entries[modelID] = entry
	c.mu.Unlock()
}

// Get returns the cached value, however old it is.
func (c *resultCache) Get(modelID string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[modelID]
	return entry.Value, ok
}

// Entry returns the full entry including its timestamp.
func (c *resultCache) Entry(modelID string) (CacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[modelID]
	return entry, ok
}

// Clear drops one model's entry and reports whether one existed.
func (c *resultCache) Clear(modelID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.entries[modelID]
	if ok {
		delete(c.entries, modelID)
	}
	return ok
}

// ClearAll drops every entry and returns how many there were.
func (c *resultCache) ClearAll() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.entries)
	c.entries = make(map[string]CacheEntry)
	return n
}

// Len returns the number of cached models.
func (c *resultCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}
