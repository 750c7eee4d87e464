// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides request and response types for the
// inference gateway's HTTP API.
//
// Types here are wire-level only: handlers bind and validate them, then
// hand plain values to the resilience layer. Validation uses
// go-playground/validator with a shared instance, plus a custom
// validator for fallback strategy names.
package datatypes

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/AleutianSound/services/inference/resilience"
)

// =============================================================================
// Limits
// =============================================================================

const (
	// MaxErrorTextBytes bounds the error text a failure notice may carry.
	// Keeps hostile clients from stuffing megabytes into failure records.
	MaxErrorTextBytes = 4096

	// MaxContextEntries bounds caller-supplied diagnostic context size.
	MaxContextEntries = 32

	// MaxTimeoutMs is the largest per-request timeout a client may ask
	// for (5 minutes).
	MaxTimeoutMs = 300000

	// MaxBreakSeconds is the longest manual breaker hold (24 hours).
	MaxBreakSeconds = 86400
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// gatewayValidate is the validator instance for gateway datatypes.
// Initialized in init() with custom validators.
var gatewayValidate *validator.Validate

func init() {
	gatewayValidate = validator.New()

	// "strategy" accepts the wire names the resilience layer parses
	// (auto, use_default, use_cached, use_conservative, reject, skip_ml).
	_ = gatewayValidate.RegisterValidation("strategy", validateStrategy)
}

// validateStrategy reports whether a string field names a known
// fallback strategy. Empty means auto and is valid.
func validateStrategy(fl validator.FieldLevel) bool {
	_, err := resilience.ParseFallbackStrategy(fl.Field().String())
	return err == nil
}

// =============================================================================
// Request Types
// =============================================================================

// PredictRequest is the body for POST /v1/models/:model_id/predict.
//
// Fields:
//   - RequestID: Optional client-supplied UUID for tracing. The server
//     generates one when absent.
//   - Input: Required. The model input, passed to the backend as-is.
//   - TimeoutMs: Optional per-request timeout override in milliseconds.
//   - Strategy: Optional fallback strategy name; empty means auto.
//   - CacheResult: When true, a successful output becomes the model's
//     last known good result.
//   - Context: Optional diagnostic context attached to failure records.
//     Sanitized server-side before storage.
type PredictRequest struct {
	RequestID   string         `json:"request_id,omitempty" validate:"omitempty,uuid4"`
	Input       any            `json:"input" validate:"required"`
	TimeoutMs   int            `json:"timeout_ms,omitempty" validate:"gte=0,lte=300000"`
	Strategy    string         `json:"strategy,omitempty" validate:"strategy"`
	CacheResult bool           `json:"cache_result,omitempty"`
	Context     map[string]any `json:"context,omitempty" validate:"max=32"`
}

// Validate checks the request before it reaches the gateway.
func (r *PredictRequest) Validate() error {
	if err := gatewayValidate.Struct(r); err != nil {
		return friendlyValidationError(err)
	}
	return nil
}

// FailureNoticeRequest is the body for POST /v1/models/:model_id/failures.
// Callers that run inference themselves report failures here to get the
// same classify-track-escalate-fallback pipeline as wrapped calls.
type FailureNoticeRequest struct {
	Error    string         `json:"error" validate:"required,max=4096"`
	Strategy string         `json:"strategy,omitempty" validate:"strategy"`
	Context  map[string]any `json:"context,omitempty" validate:"max=32"`
}

// Validate checks the failure notice.
func (r *FailureNoticeRequest) Validate() error {
	if err := gatewayValidate.Struct(r); err != nil {
		return friendlyValidationError(err)
	}
	return nil
}

// TripBreakerRequest is the body for POST /v1/models/:model_id/breaker/trip.
type TripBreakerRequest struct {
	Reason          string `json:"reason" validate:"required,max=512"`
	DurationSeconds int    `json:"duration_seconds,omitempty" validate:"gte=0,lte=86400"`
	FailureCount    int    `json:"failure_count,omitempty" validate:"gte=0"`
}

// Validate checks the trip request.
func (r *TripBreakerRequest) Validate() error {
	if err := gatewayValidate.Struct(r); err != nil {
		return friendlyValidationError(err)
	}
	return nil
}

// CachePutRequest is the body for PUT /v1/models/:model_id/cache.
type CachePutRequest struct {
	Value any `json:"value" validate:"required"`
}

// Validate checks the cache put.
func (r *CachePutRequest) Validate() error {
	if err := gatewayValidate.Struct(r); err != nil {
		return friendlyValidationError(err)
	}
	return nil
}

// FallbackTablesRequest is the body for PUT /v1/fallbacks. It replaces
// the full fallback table set.
type FallbackTablesRequest struct {
	Defaults     map[string]any `json:"defaults"`
	Conservative map[string]any `json:"conservative"`
}

// Validate rejects an update that would leave every table empty.
func (r *FallbackTablesRequest) Validate() error {
	if len(r.Defaults) == 0 && len(r.Conservative) == 0 {
		return fmt.Errorf("at least one of defaults or conservative must be non-empty")
	}
	return nil
}

// Tables converts the request into the resilience layer's table set.
func (r *FallbackTablesRequest) Tables() resilience.FallbackTables {
	return resilience.FallbackTables{
		Defaults:     r.Defaults,
		Conservative: r.Conservative,
	}
}

// friendlyValidationError rewrites validator's struct-path errors into
// wire-field messages clients can act on.
func friendlyValidationError(err error) error {
	invalid, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	for _, fe := range invalid {
		switch fe.Tag() {
		case "required":
			return fmt.Errorf("%s is required", jsonName(fe.Field()))
		case "uuid4":
			return fmt.Errorf("%s must be a UUID v4", jsonName(fe.Field()))
		case "strategy":
			return fmt.Errorf("%s must name a fallback strategy", jsonName(fe.Field()))
		case "max":
			return fmt.Errorf("%s exceeds the maximum size", jsonName(fe.Field()))
		case "gte", "lte":
			return fmt.Errorf("%s is out of range", jsonName(fe.Field()))
		}
	}
	return err
}

// jsonName maps Go field names to their wire names.
func jsonName(field string) string {
	switch field {
	case "RequestID":
		return "request_id"
	case "Input":
		return "input"
	case "TimeoutMs":
		return "timeout_ms"
	case "Strategy":
		return "strategy"
	case "Context":
		return "context"
	case "Error":
		return "error"
	case "Reason":
		return "reason"
	case "DurationSeconds":
		return "duration_seconds"
	case "FailureCount":
		return "failure_count"
	case "Value":
		return "value"
	default:
		return field
	}
}

// =============================================================================
// Response Types
// =============================================================================

// PredictResponse is the envelope for every predict call. Result holds
// the raw model output on success; on failure it holds the fallback
// value and the Fallback detail explains what happened.
type PredictResponse struct {
	RequestID  string    `json:"request_id"`
	ModelID    string    `json:"model_id"`
	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms"`

	Result     any                        `json:"result"`
	IsFallback bool                       `json:"is_fallback"`
	Fallback   *resilience.FallbackResult `json:"fallback,omitempty"`
}

// FailureNoticeResponse acknowledges a reported failure with the full
// pipeline outcome.
type FailureNoticeResponse struct {
	Report *resilience.FailureReport `json:"report"`
}

// FleetHealthResponse is the gateway-wide health view.
type FleetHealthResponse struct {
	GeneratedAt  time.Time                  `json:"generated_at"`
	Healthy      bool                       `json:"healthy"`
	Models       []resilience.QuickStatus   `json:"models"`
	OpenBreakers []resilience.ActiveBreaker `json:"open_breakers"`
}

// BreakerActionResponse reports the outcome of a breaker mutation.
type BreakerActionResponse struct {
	ModelID string                   `json:"model_id,omitempty"`
	Did     bool                     `json:"did"`
	Count   int                      `json:"count,omitempty"`
	Status  resilience.BreakerStatus `json:"status"`
}

// CacheEntryResponse exposes a model's last known good result.
type CacheEntryResponse struct {
	ModelID    string    `json:"model_id"`
	Value      any       `json:"value"`
	CachedAt   time.Time `json:"cached_at"`
	AgeSeconds float64   `json:"age_seconds"`
}

// ErrorResponse is the uniform error body for 4xx/5xx responses.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// =============================================================================
// Event Stream Types
// =============================================================================

// Event kind names carried on the websocket event stream.
const (
	EventKindBreaker    = "breaker"
	EventKindEscalation = "escalation"
	EventKindFallback   = "fallback"
	EventKindCall       = "call"
)

// EventMessage is one websocket event frame. Payload is the resilience
// event that produced it.
type EventMessage struct {
	Kind string    `json:"kind"`
	At   time.Time `json:"at"`

	Breaker    *resilience.BreakerEvent    `json:"breaker,omitempty"`
	Escalation *resilience.EscalationEvent `json:"escalation,omitempty"`
	Fallback   *resilience.FallbackEvent   `json:"fallback,omitempty"`
	Call       *resilience.CallEvent       `json:"call,omitempty"`
}
