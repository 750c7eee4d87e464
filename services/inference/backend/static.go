// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package backend

import (
	"context"
	"sync"
)

// ModelFunc is one in-process model: input in, raw output out.
type ModelFunc func(ctx context.Context, input any) (any, error)

// StaticBackend serves models from an in-process function table. Tests
// use it to script model behavior; embedded deployments use it to serve
// Go-native models without a model server.
type StaticBackend struct {
	mu     sync.RWMutex
	models map[string]ModelFunc
}

// NewStaticBackend creates an empty static backend.
func NewStaticBackend() *StaticBackend {
	return &StaticBackend{models: make(map[string]ModelFunc)}
}

// Register adds or replaces a model function.
func (b *StaticBackend) Register(modelID string, fn ModelFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.models[modelID] = fn
}

// Unregister removes a model. Subsequent predicts fail as not found.
func (b *StaticBackend) Unregister(modelID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.models, modelID)
}

// ModelIDs lists the registered models.
func (b *StaticBackend) ModelIDs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]string, 0, len(b.models))
	for id := range b.models {
		ids = append(ids, id)
	}
	return ids
}

// Predict dispatches to the registered model function.
func (b *StaticBackend) Predict(ctx context.Context, modelID string, input any) (any, error) {
	b.mu.RLock()
	fn, ok := b.models[modelID]
	b.mu.RUnlock()

	if !ok {
		return nil, notFound(modelID)
	}
	return fn(ctx, input)
}

// Health always succeeds; an in-process table has no transport to lose.
func (b *StaticBackend) Health(ctx context.Context) error {
	return nil
}
