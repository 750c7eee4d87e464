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

// Breaker transition names carried in BreakerEvent and metrics labels.
const (
	TransitionTrip        = "trip"
	TransitionManualReset = "manual_reset"
	TransitionAutoReset   = "auto_reset"
)

// BreakerEvent describes one breaker transition. A ResetAllBreakers
// sweep emits a single event with an empty ModelID.
type BreakerEvent struct {
	ModelID      string        `json:"model_id"`
	Transition   string        `json:"transition"`
	Reason       string        `json:"reason,omitempty"`
	FailureCount int           `json:"failure_count,omitempty"`
	Duration     time.Duration `json:"duration,omitempty"`
	At           time.Time     `json:"at"`
}

// EscalationEvent describes one escalation decision on the failure
// path. Decisions at LevelNone are not emitted.
type EscalationEvent struct {
	ModelID      string          `json:"model_id"`
	Level        EscalationLevel `json:"level"`
	FailureType  FailureType     `json:"failure_type"`
	FailureCount int             `json:"failure_count"`
	ShouldAlert  bool            `json:"should_alert"`
	At           time.Time       `json:"at"`
}

// FallbackEvent describes one resolved fallback.
type FallbackEvent struct {
	ModelID  string           `json:"model_id"`
	Strategy FallbackStrategy `json:"strategy"`
	Reason   string           `json:"reason"`
	At       time.Time        `json:"at"`
}

// Hooks receive registry events. All fields are optional; nil hooks
// are skipped. Hooks run synchronously on the calling goroutine after
// locks are released, so they must not block for long.
type Hooks struct {
	OnBreakerTrip  func(BreakerEvent)
	OnBreakerReset func(BreakerEvent)
	OnEscalation   func(EscalationEvent)
	OnFallback     func(FallbackEvent)
}

// MergeHooks fans each event out to every hook set in order. Nil
// receivers are skipped, so callers can merge partially-filled sets.
func MergeHooks(hooks ...Hooks) Hooks {
	return Hooks{
		OnBreakerTrip: func(e BreakerEvent) {
			for _, h := range hooks {
				if h.OnBreakerTrip != nil {
					h.OnBreakerTrip(e)
				}
			}
		},
		OnBreakerReset: func(e BreakerEvent) {
			for _, h := range hooks {
				if h.OnBreakerReset != nil {
					h.OnBreakerReset(e)
				}
			}
		},
		OnEscalation: func(e EscalationEvent) {
			for _, h := range hooks {
				if h.OnEscalation != nil {
					h.OnEscalation(e)
				}
			}
		},
		OnFallback: func(e FallbackEvent) {
			for _, h := range hooks {
				if h.OnFallback != nil {
					h.OnFallback(e)
				}
			}
		},
	}
}
