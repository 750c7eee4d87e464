// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package backend defines how the inference gateway reaches models.
//
// # Description
//
// A Backend turns (modelID, input) into a raw model output. The gateway
// never calls a backend directly; it wraps backend calls in the
// resilience pipeline, so a backend is free to fail loudly — errors,
// panics, malformed outputs, and hangs are all absorbed upstream.
//
// Two implementations ship with the service:
//   - HTTPBackend: a JSON client for an external model server.
//   - StaticBackend: an in-process function table, used by tests and
//     by deployments that embed their models in Go.
//
// # Thread Safety
//
// All implementations are safe for concurrent use.
package backend

import (
	"context"
	"errors"
	"fmt"
)

// ErrModelNotFound reports a model the backend does not serve. Its text
// deliberately matches the gateway's availability classification.
var ErrModelNotFound = errors.New("model not found")

// Backend executes inference calls against a model host.
type Backend interface {
	// Predict runs one inference call. The output is the raw model
	// result; the resilience layer decides whether it is usable.
	Predict(ctx context.Context, modelID string, input any) (any, error)

	// Health reports whether the backend can serve calls at all.
	Health(ctx context.Context) error
}

// notFound builds the canonical unknown-model error.
func notFound(modelID string) error {
	return fmt.Errorf("%w: %s", ErrModelNotFound, modelID)
}
