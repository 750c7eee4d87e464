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

import "time"

// FailureType categorizes how an inference call went wrong.
type FailureType string

const (
	// FailureTimeout is a call that exceeded its deadline.
	FailureTimeout FailureType = "timeout"

	// FailureModelUnavailable is a backend that cannot be reached or a
	// model that failed to load.
	FailureModelUnavailable FailureType = "model_unavailable"

	// FailureInvalidInput is a request the model rejected as malformed.
	FailureInvalidInput FailureType = "invalid_input"

	// FailureInvalidShape is a tensor shape, dimension, or dtype mismatch.
	FailureInvalidShape FailureType = "invalid_shape"

	// FailureOutOfRange is a value outside the model's accepted range,
	// including overflow and underflow.
	FailureOutOfRange FailureType = "out_of_range"

	// FailureConfidenceCollapse is a degenerate confidence or probability
	// distribution, a sign the model is producing garbage.
	FailureConfidenceCollapse FailureType = "confidence_collapse"

	// FailureNaNOutput is a resolved output containing NaN.
	FailureNaNOutput FailureType = "nan_output"

	// FailureNullOutput is a resolved output that is nil.
	FailureNullOutput FailureType = "null_output"

	// FailureUndefinedOutput is a call that resolved to no output at all.
	FailureUndefinedOutput FailureType = "undefined_output"

	// FailureException is any other structured error.
	FailureException FailureType = "exception"

	// FailureUnknown is the catch-all when nothing matched.
	FailureUnknown FailureType = "unknown"
)

// String returns the wire name of the failure type.
func (t FailureType) String() string { return string(t) }

// Failure describes one observed inference failure prior to recording.
// Context must hold only scalar values; the tracker drops everything else
// along with deny-listed keys before a record is constructed.
type Failure struct {
	Type    FailureType    `json:"type"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
}

// FailureRecord is one recorded failure. Records are owned by the
// tracker, immutable once appended, and pruned from the window by age
// only.
type FailureRecord struct {
	At      time.Time      `json:"at"`
	Type    FailureType    `json:"type"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
}

// FailureStats is a snapshot of a model's rolling failure window.
// Unknown model ids yield the zero snapshot, never an error.
type FailureStats struct {
	// FailuresInWindow counts records inside the rolling window.
	FailuresInWindow int `json:"failures_in_window"`

	// ByType breaks the window down per failure type.
	ByType map[FailureType]int `json:"by_type"`

	// FailureRate is failures per minute across the window.
	FailureRate float64 `json:"failure_rate"`

	// LastFailure is the newest record's timestamp; zero when none.
	LastFailure time.Time `json:"last_failure"`

	// LastSuccess is the most recent recorded success; zero when none.
	// Successes are tracked independently of the failure window.
	LastSuccess time.Time `json:"last_success"`
}

// Output carries the resolved value of an inference call, when one was
// observed. The zero value means the call produced no output at all,
// which is distinct from an explicit nil result.
type Output struct {
	Value   any
	Present bool
}

// InferenceError is the diagnostic a fallback envelope carries so the
// original failure stays observable after the raw error is swallowed.
type InferenceError struct {
	Type    FailureType `json:"type"`
	Message string      `json:"message"`
}
