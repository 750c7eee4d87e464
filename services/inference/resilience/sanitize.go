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
	"strings"
	"time"
)

// contextDenyList holds lowercase tokens that disqualify a context key.
// Matching is by substring, so "x_api_key" and "apiKeyId" both drop.
var contextDenyList = []string{
	"password",
	"passwd",
	"secret",
	"token",
	"apikey",
	"api_key",
	"authorization",
	"bearer",
	"credential",
	"private_key",
	"access_key",
	"session",
}

// SanitizeContext returns a copy of ctx with deny-listed keys and
// non-scalar values removed, plus the number of entries dropped.
//
// Sanitization is mandatory and happens before a failure record is
// constructed, never as a read-time filter. Values are restricted to
// scalars; buffers and other composites are rejected outright rather
// than coerced to strings.
func SanitizeContext(ctx map[string]any) (map[string]any, int) {
	if len(ctx) == 0 {
		return nil, 0
	}

	clean := make(map[string]any, len(ctx))
	dropped := 0
	for key, value := range ctx {
		if deniedContextKey(key) || !isScalarValue(value) {
			dropped++
			continue
		}
		clean[key] = value
	}
	if len(clean) == 0 {
		return nil, dropped
	}
	return clean, dropped
}

// deniedContextKey reports whether the key matches the deny-list.
func deniedContextKey(key string) bool {
	lower := strings.ToLower(key)
	for _, token := range contextDenyList {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}

// isScalarValue reports whether v is an allowed scalar context value.
// []byte is deliberately excluded: binary payloads never belong in a
// failure record.
func isScalarValue(v any) bool {
	switch v.(type) {
	case nil:
		return false
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64,
		time.Time, time.Duration:
		return true
	default:
		return false
	}
}
