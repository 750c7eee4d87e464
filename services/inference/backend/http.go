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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultPredictTimeout is the default timeout for model server requests.
const DefaultPredictTimeout = 30 * time.Second

// HTTPBackend is a JSON client for an external model server.
//
// # Description
//
// HTTPBackend speaks the predict protocol: POST /v1/models/{id}/predict
// with a JSON-wrapped input, 200 with a JSON-wrapped output on success.
// Error responses keep the server's message intact so the resilience
// classifier can read upstream failure text ("model not loaded",
// "invalid input shape", ...) exactly as the server wrote it.
//
// # Thread Safety
//
// HTTPBackend is safe for concurrent use.
type HTTPBackend struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// NewHTTPBackend creates a client for the model server at baseURL
// (e.g., "http://localhost:8500").
func NewHTTPBackend(baseURL string) *HTTPBackend {
	return &HTTPBackend{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultPredictTimeout,
		},
		timeout: DefaultPredictTimeout,
	}
}

// WithTimeout sets a custom timeout for predict requests.
func (b *HTTPBackend) WithTimeout(timeout time.Duration) *HTTPBackend {
	b.timeout = timeout
	b.httpClient.Timeout = timeout
	return b
}

// BaseURL returns the configured base URL.
func (b *HTTPBackend) BaseURL() string {
	return b.baseURL
}

// predictRequest is the request body for the predict endpoint.
type predictRequest struct {
	Input any `json:"input"`
}

// predictResponse is the success body from the predict endpoint.
type predictResponse struct {
	ModelID string `json:"model_id"`
	Output  any    `json:"output"`
}

// errorResponse is the error body model servers return on failure.
type errorResponse struct {
	Error string `json:"error"`
}

// serverHealthResponse is the response from the model server's /health.
type serverHealthResponse struct {
	Status string `json:"status"`
}

// Predict runs one inference call against the model server.
//
// # Inputs
//
//   - ctx: Context for cancellation and timeout.
//   - modelID: The model to invoke.
//   - input: The model input, marshaled as JSON.
//
// # Outputs
//
//   - any: The raw model output, as decoded JSON.
//   - error: Non-nil on transport failure or non-200 status. The error
//     text carries the server's own message.
func (b *HTTPBackend) Predict(ctx context.Context, modelID string, input any) (any, error) {
	if modelID == "" {
		return nil, fmt.Errorf("invalid input: model id is empty")
	}

	bodyBytes, err := json.Marshal(predictRequest{Input: input})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/models/%s/predict", b.baseURL, modelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, b.statusError(modelID, resp)
	}

	var predResp predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&predResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return predResp.Output, nil
}

// statusError maps a non-200 predict response to an error whose text
// the failure classifier can work with.
func (b *HTTPBackend) statusError(modelID string, resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	message := string(body)
	var errResp errorResponse
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		message = errResp.Error
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s: %s", ErrModelNotFound, modelID, message)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return fmt.Errorf("invalid input for model %s: %s", modelID, message)
	case http.StatusServiceUnavailable:
		return fmt.Errorf("model %s unavailable: %s", modelID, message)
	case http.StatusGatewayTimeout:
		return fmt.Errorf("model %s request timeout: %s", modelID, message)
	default:
		return fmt.Errorf("model server returned status %d: %s", resp.StatusCode, message)
	}
}

// Health checks if the model server is available.
func (b *HTTPBackend) Health(ctx context.Context) error {
	url := b.baseURL + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("model server unhealthy: status %d: %s", resp.StatusCode, string(body))
	}

	var health serverHealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("decode health response: %w", err)
	}
	if health.Status != "ok" {
		return fmt.Errorf("model server not ready: %s", health.Status)
	}

	return nil
}
