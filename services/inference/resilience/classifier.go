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
	"math"
	"net"
	"reflect"
	"strings"
)

// Classify maps an error/output pair to a FailureType.
//
// Description:
//
//	Pure and side-effect free: identical inputs always yield the same
//	type. Output checks win over error inspection, so a call that
//	resolved to NaN classifies as nan_output even when an error is also
//	supplied. Error inspection checks structured sentinels first, then
//	falls back to case-insensitive message keywords, so it handles both
//	wrapped error chains and plain errors.New strings.
//
// Inputs:
//
//	err - The error observed, or nil when only the output was abnormal
//	output - The resolved output, when one was observed (zero value when
//	         the call produced nothing)
//
// Outputs:
//
//	FailureType - The classification; FailureUnknown when nothing matched
func Classify(err error, output Output) FailureType {
	if output.Present {
		if isNaNValue(output.Value) {
			return FailureNaNOutput
		}
		if isNilValue(output.Value) {
			return FailureNullOutput
		}
	}

	// A call that resolved to nothing at all, with no error to explain it.
	if err == nil && !output.Present {
		return FailureUndefinedOutput
	}

	if err != nil {
		msg := strings.ToLower(err.Error())

		// Structured checks before string matching to avoid false positives.
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) ||
			(errors.As(err, &netErr) && netErr.Timeout()) ||
			strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") ||
			strings.Contains(msg, "deadline exceeded") {
			return FailureTimeout
		}

		if strings.Contains(msg, "model not found") || strings.Contains(msg, "model unavailable") ||
			strings.Contains(msg, "failed to load") || strings.Contains(msg, "load failed") ||
			strings.Contains(msg, "not loaded") || strings.Contains(msg, "unavailable") ||
			strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") {
			return FailureModelUnavailable
		}

		if strings.Contains(msg, "invalid input") || strings.Contains(msg, "validation") ||
			strings.Contains(msg, "malformed") || strings.Contains(msg, "bad request") {
			return FailureInvalidInput
		}

		if strings.Contains(msg, "shape") || strings.Contains(msg, "dimension") ||
			strings.Contains(msg, "dtype") || strings.Contains(msg, "type mismatch") ||
			strings.Contains(msg, "tensor") {
			return FailureInvalidShape
		}

		if strings.Contains(msg, "out of range") || strings.Contains(msg, "overflow") ||
			strings.Contains(msg, "underflow") || strings.Contains(msg, "exceeds") {
			return FailureOutOfRange
		}

		if strings.Contains(msg, "confidence") || strings.Contains(msg, "probability") ||
			strings.Contains(msg, "degenerate distribution") {
			return FailureConfidenceCollapse
		}

		if strings.Contains(msg, "nan") {
			return FailureNaNOutput
		}

		return FailureException
	}

	return FailureUnknown
}

// isNaNValue reports whether v is a floating-point NaN.
func isNaNValue(v any) bool {
	switch f := v.(type) {
	case float64:
		return math.IsNaN(f)
	case float32:
		return math.IsNaN(float64(f))
	default:
		return false
	}
}

// isNilValue reports whether v is nil, including typed nils hiding
// inside a non-nil interface (nil pointers, maps, slices, channels,
// funcs, and interfaces).
func isNilValue(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}
