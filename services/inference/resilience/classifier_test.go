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
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
)

// fakeTimeoutErr satisfies net.Error with Timeout() == true.
type fakeTimeoutErr struct{}

func (fakeTimeoutErr) Error() string   { return "dial tcp: i/o problem" }
func (fakeTimeoutErr) Timeout() bool   { return true }
func (fakeTimeoutErr) Temporary() bool { return false }

func present(v any) Output {
	return Output{Value: v, Present: true}
}

func TestClassify_Table(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		output   Output
		expected FailureType
	}{
		{"nan float64", nil, present(math.NaN()), FailureNaNOutput},
		{"nan float32", nil, present(float32(math.NaN())), FailureNaNOutput},
		{"explicit nil value", nil, present(nil), FailureNullOutput},
		{"typed nil pointer", nil, present((*struct{})(nil)), FailureNullOutput},
		{"typed nil map", nil, present(map[string]any(nil)), FailureNullOutput},
		{"no output at all", nil, Output{}, FailureUndefinedOutput},
		{"plain timeout message", errors.New("Request timeout"), Output{}, FailureTimeout},
		{"timed out message", errors.New("inference TIMED OUT after 30s"), Output{}, FailureTimeout},
		{"deadline sentinel", context.DeadlineExceeded, Output{}, FailureTimeout},
		{"wrapped deadline", fmt.Errorf("call failed: %w", context.DeadlineExceeded), Output{}, FailureTimeout},
		{"net timeout", fakeTimeoutErr{}, Output{}, FailureTimeout},
		{"model not found", errors.New("model not found: defect_clf"), Output{}, FailureModelUnavailable},
		{"load failure", errors.New("failed to load checkpoint"), Output{}, FailureModelUnavailable},
		{"connection refused", errors.New("connection refused"), Output{}, FailureModelUnavailable},
		{"service unavailable", errors.New("backend UNAVAILABLE"), Output{}, FailureModelUnavailable},
		{"validation failure", errors.New("validation failed on field score"), Output{}, FailureInvalidInput},
		{"invalid input tensor", errors.New("invalid input tensor"), Output{}, FailureInvalidInput},
		{"malformed payload", errors.New("malformed request body"), Output{}, FailureInvalidInput},
		{"shape mismatch", errors.New("tensor shape mismatch: want (1,128)"), Output{}, FailureInvalidShape},
		{"dimension error", errors.New("Dimension 2 out of bounds"), Output{}, FailureInvalidShape},
		{"dtype error", errors.New("unexpected dtype float16"), Output{}, FailureInvalidShape},
		{"out of range", errors.New("score out of range"), Output{}, FailureOutOfRange},
		{"overflow", errors.New("integer overflow in accumulator"), Output{}, FailureOutOfRange},
		{"confidence collapse", errors.New("confidence collapse detected"), Output{}, FailureConfidenceCollapse},
		{"degenerate distribution", errors.New("degenerate distribution in softmax"), Output{}, FailureConfidenceCollapse},
		{"nan in message", errors.New("output contained NaN values"), Output{}, FailureNaNOutput},
		{"generic error", errors.New("boom"), Output{}, FailureException},
		{"healthy value", nil, present(0.87), FailureUnknown},
		{"healthy string", nil, present("speech"), FailureUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err, tt.output); got != tt.expected {
				t.Errorf("Classify() = %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestClassify_OutputChecksWinOverError(t *testing.T) {
	// Even with a timeout-looking error attached, a resolved NaN output
	// classifies by the output.
	got := Classify(errors.New("request timeout"), present(math.NaN()))
	if got != FailureNaNOutput {
		t.Errorf("expected nan_output to win over error, got %s", got)
	}
}

func TestClassify_Pure(t *testing.T) {
	err := errors.New("tensor shape mismatch")
	out := present(math.NaN())

	first := Classify(err, out)
	for i := 0; i < 10; i++ {
		if got := Classify(err, out); got != first {
			t.Fatalf("classification changed between calls: %s then %s", first, got)
		}
	}
}

func TestClassify_AbsentOutputWithErrorUsesError(t *testing.T) {
	// No output plus an error is the normal failure path, not
	// undefined_output.
	got := Classify(errors.New("boom"), Output{})
	if got != FailureException {
		t.Errorf("expected exception, got %s", got)
	}
}

func TestIsNilValue(t *testing.T) {
	var nilMap map[string]int
	var nilSlice []int
	var nilPtr *int
	var nilChan chan int
	var nilFunc func()

	tests := []struct {
		name     string
		value    any
		expected bool
	}{
		{"untyped nil", nil, true},
		{"nil map", nilMap, true},
		{"nil slice", nilSlice, true},
		{"nil pointer", nilPtr, true},
		{"nil chan", nilChan, true},
		{"nil func", nilFunc, true},
		{"zero int", 0, false},
		{"empty string", "", false},
		{"empty map", map[string]int{}, false},
	}

	for _, tt := range tests {
		if got := isNilValue(tt.value); got != tt.expected {
			t.Errorf("isNilValue(%s) = %v, want %v", tt.name, got, tt.expected)
		}
	}
}
