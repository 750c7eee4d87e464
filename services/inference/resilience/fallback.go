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
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// FallbackStrategy selects how a replacement answer is produced when
// inference cannot be trusted.
type FallbackStrategy int

const (
	// StrategyAuto lets the caller defer the choice. The gateway maps
	// it to a strategy implied by the escalation level; handed straight
	// to the resolver it behaves as StrategyUseDefault.
	StrategyAuto FallbackStrategy = iota

	// StrategyUseDefault serves the configured default value.
	StrategyUseDefault

	// StrategyUseCached serves the model's last known good result,
	// falling back to the default table when nothing is cached.
	StrategyUseCached

	// StrategyUseConservative serves the configured safe value, for
	// situations where a wrong answer is worse than a weak one.
	StrategyUseConservative

	// StrategyReject refuses to answer; the caller should surface the
	// rejection to its own client.
	StrategyReject

	// StrategySkipML tells the caller to run its non-ML path instead.
	StrategySkipML
)

// String returns the wire form of the strategy.
func (s FallbackStrategy) String() string {
	switch s {
	case StrategyAuto:
		return "auto"
	case StrategyUseDefault:
		return "use_default"
	case StrategyUseCached:
		return "use_cached"
	case StrategyUseConservative:
		return "use_conservative"
	case StrategyReject:
		return "reject"
	case StrategySkipML:
		return "skip_ml"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// MarshalJSON emits the string form.
func (s FallbackStrategy) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts the string form.
func (s *FallbackStrategy) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseFallbackStrategy(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseFallbackStrategy converts the wire form back to a strategy. The
// empty string parses as StrategyAuto so optional request fields can
// pass through untouched.
func ParseFallbackStrategy(s string) (FallbackStrategy, error) {
	switch s {
	case "", "auto":
		return StrategyAuto, nil
	case "use_default":
		return StrategyUseDefault, nil
	case "use_cached":
		return StrategyUseCached, nil
	case "use_conservative":
		return StrategyUseConservative, nil
	case "reject":
		return StrategyReject, nil
	case "skip_ml":
		return StrategySkipML, nil
	default:
		return StrategyAuto, fmt.Errorf("unknown fallback strategy %q", s)
	}
}

// Fallback reason strings. These are wire-visible and logged; keep them
// stable.
const (
	ReasonInferenceFailure     = "inference_failure"
	ReasonCachedResult         = "cached_result"
	ReasonConservativeFallback = "conservative_fallback"
	ReasonInferenceRejected    = "inference_rejected"
	ReasonMLSkipped            = "ml_skipped"
)

// FallbackResult is a replacement answer plus enough metadata for the
// caller to log, label, and route it honestly. IsFallback is true on
// every branch; a result without it is a real inference output.
type FallbackResult struct {
	Result         any              `json:"result"`
	IsFallback     bool             `json:"is_fallback"`
	FallbackReason string           `json:"fallback_reason"`
	Strategy       FallbackStrategy `json:"strategy"`
	Conservative   bool             `json:"conservative,omitempty"`
	Rejected       bool             `json:"rejected,omitempty"`
	Skipped        bool             `json:"skipped,omitempty"`
	CircuitBroken  bool             `json:"circuit_broken,omitempty"`
	Remaining      time.Duration    `json:"remaining,omitempty"`
	FromCache      bool             `json:"from_cache,omitempty"`
	CachedAt       time.Time        `json:"cached_at"`
	InferenceError *InferenceError  `json:"inference_error,omitempty"`
}

// TableDefaultKey is the reserved table key consulted when a model id
// has no entry of its own.
const TableDefaultKey = "default"

// FallbackTables holds the per-model replacement values. The defaults
// table answers StrategyUseDefault; the conservative table answers
// StrategyUseConservative. Each may carry a TableDefaultKey entry as
// the catch-all for unlisted models.
type FallbackTables struct {
	Defaults     map[string]any `json:"defaults" yaml:"defaults"`
	Conservative map[string]any `json:"conservative" yaml:"conservative"`
}

// lookup resolves a model id against one table, falling back to the
// catch-all entry. The second return reports whether anything matched.
func lookup(table map[string]any, modelID string) (any, bool) {
	if v, ok := table[modelID]; ok {
		return v, true
	}
	if v, ok := table[TableDefaultKey]; ok {
		return v, true
	}
	return nil, false
}

// LoadFallbackTables reads a YAML tables file.
func LoadFallbackTables(path string) (FallbackTables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FallbackTables{}, fmt.Errorf("read fallback tables: %w", err)
	}
	var tables FallbackTables
	if err := yaml.Unmarshal(data, &tables); err != nil {
		return FallbackTables{}, fmt.Errorf("parse fallback tables %s: %w", path, err)
	}
	return tables, nil
}

// fallbackResolver turns a strategy into a concrete FallbackResult. It
// owns the tables and reads the result cache; it never writes tracker
// or breaker state.
type fallbackResolver struct {
	mu     sync.RWMutex
	tables FallbackTables
	cache  *resultCache
}

func newFallbackResolver(cache *resultCache, tables FallbackTables) *fallbackResolver {
	r := &fallbackResolver{cache: cache}
	r.SetTables(tables)
	return r
}

// SetTables replaces both tables atomically. The maps are copied so the
// caller may keep mutating its own.
func (r *fallbackResolver) SetTables(tables FallbackTables) {
	copied := FallbackTables{
		Defaults:     make(map[string]any, len(tables.Defaults)),
		Conservative: make(map[string]any, len(tables.Conservative)),
	}
	for k, v := range tables.Defaults {
		copied.Defaults[k] = v
	}
	for k, v := range tables.Conservative {
		copied.Conservative[k] = v
	}

	r.mu.Lock()
	r.tables = copied
	r.mu.Unlock()
}

// Tables returns the current tables for inspection.
func (r *fallbackResolver) Tables() FallbackTables {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.tables
}

// Resolve produces the replacement answer. StrategyUseCached degrades
// to the default-table behavior when the cache is empty, so the caller
// always gets a value unless the strategy is reject or skip. The
// result's Strategy field reports what actually served the value.
func (r *fallbackResolver) Resolve(modelID string, strategy FallbackStrategy) FallbackResult {
	switch strategy {
	case StrategyUseCached:
		if entry, ok := r.cache.Entry(modelID); ok {
			return FallbackResult{
				Result:         entry.Value,
				IsFallback:     true,
				FallbackReason: ReasonCachedResult,
				Strategy:       StrategyUseCached,
				FromCache:      true,
				CachedAt:       entry.CachedAt,
			}
		}
		// Nothing cached yet; the default table is the next best
		// honest answer.
		return r.defaultResult(modelID)

	case StrategyUseConservative:
		r.mu.RLock()
		value, _ := lookup(r.tables.Conservative, modelID)
		r.mu.RUnlock()
		return FallbackResult{
			Result:         value,
			IsFallback:     true,
			FallbackReason: ReasonConservativeFallback,
			Strategy:       StrategyUseConservative,
			Conservative:   true,
		}

	case StrategyReject:
		return FallbackResult{
			IsFallback:     true,
			FallbackReason: ReasonInferenceRejected,
			Strategy:       StrategyReject,
			Rejected:       true,
		}

	case StrategySkipML:
		return FallbackResult{
			IsFallback:     true,
			FallbackReason: ReasonMLSkipped,
			Strategy:       StrategySkipML,
			Skipped:        true,
		}

	default:
		return r.defaultResult(modelID)
	}
}

// defaultResult serves the default-table value. A model with no entry
// and no catch-all yields a nil result; IsFallback still tells the
// caller not to trust it.
func (r *fallbackResolver) defaultResult(modelID string) FallbackResult {
	r.mu.RLock()
	value, _ := lookup(r.tables.Defaults, modelID)
	r.mu.RUnlock()

	return FallbackResult{
		Result:         value,
		IsFallback:     true,
		FallbackReason: ReasonInferenceFailure,
		Strategy:       StrategyUseDefault,
	}
}
