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
	"time"
)

// EscalationLevel orders responses to repeated failure from benign to
// severe. The numeric order is part of the contract: callers compare
// levels with < and >=.
type EscalationLevel int

const (
	// LevelNone means no failures in the window; nothing to do.
	LevelNone EscalationLevel = iota

	// LevelFallback means at least one failure; serve a fallback but
	// do not page anyone.
	LevelFallback

	// LevelAlert means failures crossed the alert threshold.
	LevelAlert

	// LevelCritical means the failure type itself is severe regardless
	// of count, such as a model going unavailable.
	LevelCritical

	// LevelCircuitBreak means the model is (or must now be) cut off
	// from live traffic.
	LevelCircuitBreak
)

// String returns the wire form of the level.
func (l EscalationLevel) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelFallback:
		return "fallback"
	case LevelAlert:
		return "alert"
	case LevelCritical:
		return "critical"
	case LevelCircuitBreak:
		return "circuit_break"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// MarshalJSON emits the string form so API payloads stay readable.
func (l EscalationLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON accepts the string form.
func (l *EscalationLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "none":
		*l = LevelNone
	case "fallback":
		*l = LevelFallback
	case "alert":
		*l = LevelAlert
	case "critical":
		*l = LevelCritical
	case "circuit_break":
		*l = LevelCircuitBreak
	default:
		return fmt.Errorf("unknown escalation level %q", s)
	}
	return nil
}

// EscalationResult is the decision for one failure: how severe things
// are and which actions the caller must take.
type EscalationResult struct {
	Level             EscalationLevel `json:"level"`
	ShouldAlert       bool            `json:"should_alert"`
	ShouldFallback    bool            `json:"should_fallback"`
	ShouldTripBreaker bool            `json:"should_trip_breaker"`
	FailureCount      int             `json:"failure_count"`
	Reason            string          `json:"reason"`
}

// Thresholds are the failure counts at which escalation steps engage,
// plus the timing knobs they act with. The counts must satisfy
// CircuitBreakAfter > AlertAfter >= LogAfter >= 1.
type Thresholds struct {
	// LogAfter is the count at which failures start logging at warn
	// severity instead of debug.
	LogAfter int `json:"log_after" yaml:"log_after"`

	// AlertAfter is the count at which escalation reaches the alert
	// level.
	AlertAfter int `json:"alert_after" yaml:"alert_after"`

	// CircuitBreakAfter is the count at which the breaker trips.
	CircuitBreakAfter int `json:"circuit_break_after" yaml:"circuit_break_after"`

	// BreakDuration is how long a tripped breaker holds before lazy
	// auto-reset.
	BreakDuration time.Duration `json:"break_duration" yaml:"break_duration"`

	// Window is the rolling window failures are counted over.
	Window time.Duration `json:"window" yaml:"window"`
}

// Validate rejects threshold orderings that would make some level
// unreachable or fire the breaker before the alert.
func (t Thresholds) Validate() error {
	if t.LogAfter < 1 {
		return fmt.Errorf("log_after must be >= 1, got %d", t.LogAfter)
	}
	if t.AlertAfter < t.LogAfter {
		return fmt.Errorf("alert_after (%d) must be >= log_after (%d)", t.AlertAfter, t.LogAfter)
	}
	if t.CircuitBreakAfter <= t.AlertAfter {
		return fmt.Errorf("circuit_break_after (%d) must be > alert_after (%d)", t.CircuitBreakAfter, t.AlertAfter)
	}
	if t.BreakDuration <= 0 {
		return fmt.Errorf("break_duration must be positive, got %s", t.BreakDuration)
	}
	if t.Window <= 0 {
		return fmt.Errorf("window must be positive, got %s", t.Window)
	}
	return nil
}

// escalationInput is everything a rule may look at.
type escalationInput struct {
	failureType   FailureType
	stats         FailureStats
	breakerOpen   bool
	thresholds    Thresholds
	criticalTypes map[FailureType]bool
}

// escalationRule is one row of the decision table. Rules are evaluated
// top-down; the first match wins.
type escalationRule struct {
	name    string
	matches func(in escalationInput) bool
	result  func(in escalationInput) EscalationResult
}

// escalationRules is the ordered ladder. The breaker-open row must stay
// first: once a model is cut off, counts and types no longer matter.
var escalationRules = []escalationRule{
	{
		name: "breaker_open",
		matches: func(in escalationInput) bool {
			return in.breakerOpen
		},
		result: func(in escalationInput) EscalationResult {
			return EscalationResult{
				Level:          LevelCircuitBreak,
				ShouldFallback: true,
				FailureCount:   in.stats.FailuresInWindow,
				Reason:         "circuit breaker already open",
			}
		},
	},
	{
		name: "critical_type",
		matches: func(in escalationInput) bool {
			return in.criticalTypes[in.failureType]
		},
		result: func(in escalationInput) EscalationResult {
			return EscalationResult{
				Level:          LevelCritical,
				ShouldAlert:    true,
				ShouldFallback: true,
				FailureCount:   in.stats.FailuresInWindow,
				Reason:         fmt.Sprintf("critical failure type %s", in.failureType),
			}
		},
	},
	{
		name: "breaker_threshold",
		matches: func(in escalationInput) bool {
			return in.stats.FailuresInWindow >= in.thresholds.CircuitBreakAfter
		},
		result: func(in escalationInput) EscalationResult {
			return EscalationResult{
				Level:             LevelCircuitBreak,
				ShouldFallback:    true,
				ShouldTripBreaker: true,
				FailureCount:      in.stats.FailuresInWindow,
				Reason: fmt.Sprintf("%d failures reached circuit break threshold %d",
					in.stats.FailuresInWindow, in.thresholds.CircuitBreakAfter),
			}
		},
	},
	{
		name: "alert_threshold",
		matches: func(in escalationInput) bool {
			return in.stats.FailuresInWindow >= in.thresholds.AlertAfter
		},
		result: func(in escalationInput) EscalationResult {
			return EscalationResult{
				Level:          LevelAlert,
				ShouldAlert:    true,
				ShouldFallback: true,
				FailureCount:   in.stats.FailuresInWindow,
				Reason: fmt.Sprintf("%d failures reached alert threshold %d",
					in.stats.FailuresInWindow, in.thresholds.AlertAfter),
			}
		},
	},
	{
		name: "any_failure",
		matches: func(in escalationInput) bool {
			return in.stats.FailuresInWindow >= 1
		},
		result: func(in escalationInput) EscalationResult {
			return EscalationResult{
				Level:          LevelFallback,
				ShouldFallback: true,
				FailureCount:   in.stats.FailuresInWindow,
				Reason:         "failure within window",
			}
		},
	},
}

// determineEscalation walks the rule table and returns the first match.
// With no failures and no open breaker it returns the none level.
func determineEscalation(in escalationInput) EscalationResult {
	for _, rule := range escalationRules {
		if rule.matches(in) {
			return rule.result(in)
		}
	}
	return EscalationResult{
		Level:        LevelNone,
		FailureCount: in.stats.FailuresInWindow,
		Reason:       "no failures in window",
	}
}
