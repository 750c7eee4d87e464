// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/AleutianSound/pkg/logging"
	"github.com/AleutianAI/AleutianSound/services/inference/backend"
	"github.com/AleutianAI/AleutianSound/services/inference/resilience"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testHarness bundles a gateway over a scripted backend with a router
// the individual handler tests register routes on.
type testHarness struct {
	gateway *resilience.Gateway
	backend *backend.StaticBackend
	router  *gin.Engine
}

// newHarness builds a harness with low thresholds so tests can trip
// the breaker in three failures.
func newHarness(t *testing.T) *testHarness {
	t.Helper()

	registry, err := resilience.NewRegistry(resilience.Config{
		Thresholds: resilience.Thresholds{
			LogAfter:          1,
			AlertAfter:        2,
			CircuitBreakAfter: 3,
			BreakDuration:     resilience.DefaultBreakDuration,
			Window:            resilience.DefaultWindow,
		},
		Tables: resilience.FallbackTables{
			Defaults:     map[string]any{"scorer": 0.5},
			Conservative: map[string]any{"scorer": 1.0},
		},
	})
	require.NoError(t, err)

	logger := logging.New(logging.Config{Quiet: true})
	return &testHarness{
		gateway: resilience.NewGateway(registry, resilience.GatewayConfig{Logger: logger}),
		backend: backend.NewStaticBackend(),
		router:  gin.New(),
	}
}

// noWrapOptions is the base-options source for models without config.
func noWrapOptions(string) resilience.WrapOptions {
	return resilience.WrapOptions{}
}

// scriptModel registers a static model returning the given value.
func (h *testHarness) scriptModel(modelID string, value any, err error) {
	h.backend.Register(modelID, func(ctx context.Context, input any) (any, error) {
		return value, err
	})
}

// do runs one request through the router and decodes the JSON body.
func (h *testHarness) do(t *testing.T, method, path string, body any, out any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	if out != nil && rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec
}

// newFlight returns a fresh singleflight group for fleet tests.
func newFlight() *singleflight.Group {
	return &singleflight.Group{}
}
