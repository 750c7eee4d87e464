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
	"sync"
	"testing"
	"time"
)

func TestBreakerSet_CheckWithoutTrip(t *testing.T) {
	b := newBreakerSet()

	status := b.Check("m")
	if status.Broken {
		t.Error("expected Broken=false with no trip")
	}
	if status.AutoReset {
		t.Error("expected AutoReset=false with no trip")
	}
	if status.Remaining != 0 {
		t.Errorf("expected zero remaining, got %v", status.Remaining)
	}
}

func TestBreakerSet_TripAndCheck(t *testing.T) {
	b := newBreakerSet()

	b.Trip("m", "too many timeouts", 12, time.Minute)

	status := b.Check("m")
	if !status.Broken {
		t.Fatal("expected Broken=true after trip")
	}
	if status.Reason != "too many timeouts" {
		t.Errorf("unexpected reason %q", status.Reason)
	}
	if status.FailureCount != 12 {
		t.Errorf("expected failure count 12, got %d", status.FailureCount)
	}
	if status.Remaining <= 0 || status.Remaining > time.Minute {
		t.Errorf("remaining out of bounds: %v", status.Remaining)
	}
}

func TestBreakerSet_LazyAutoReset(t *testing.T) {
	b := newBreakerSet()

	b.Trip("m", "flap", 3, 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	status := b.Check("m")
	if status.Broken {
		t.Error("expected Broken=false after duration elapsed")
	}
	if !status.AutoReset {
		t.Error("expected AutoReset=true on the check that observed expiry")
	}

	// The reset already happened; the next check is a plain miss.
	again := b.Check("m")
	if again.Broken || again.AutoReset {
		t.Errorf("expected plain zero status on second check, got %+v", again)
	}
}

func TestBreakerSet_PeekNeverMutates(t *testing.T) {
	b := newBreakerSet()

	b.Trip("m", "flap", 3, 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	if status := b.Peek("m"); status.Broken {
		t.Error("expected Peek to report expired breaker as not broken")
	}

	// Peek must leave the stale entry in storage for Check to collect.
	if _, ok := b.State("m"); !ok {
		t.Fatal("Peek removed the stored state")
	}
	if status := b.Check("m"); !status.AutoReset {
		t.Error("expected Check to still observe and collect the expiry")
	}
}

func TestBreakerSet_PeekWhileOpen(t *testing.T) {
	b := newBreakerSet()

	b.Trip("m", "manual", 5, time.Minute)

	status := b.Peek("m")
	if !status.Broken {
		t.Fatal("expected Broken=true while open")
	}
	if status.Reason != "manual" || status.FailureCount != 5 {
		t.Errorf("unexpected status %+v", status)
	}
}

func TestBreakerSet_ReTripRestartsHold(t *testing.T) {
	b := newBreakerSet()

	b.Trip("m", "first", 3, 10*time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	b.Trip("m", "second", 6, time.Minute)

	time.Sleep(10 * time.Millisecond)

	status := b.Check("m")
	if !status.Broken {
		t.Fatal("expected breaker still open after re-trip")
	}
	if status.Reason != "second" {
		t.Errorf("expected re-trip state, got reason %q", status.Reason)
	}
	if status.FailureCount != 6 {
		t.Errorf("expected failure count 6, got %d", status.FailureCount)
	}
}

func TestBreakerSet_Reset(t *testing.T) {
	b := newBreakerSet()

	if b.Reset("m") {
		t.Error("expected Reset=false with no prior trip")
	}

	b.Trip("m", "x", 1, time.Minute)
	if !b.Reset("m") {
		t.Error("expected Reset=true after trip")
	}
	if status := b.Check("m"); status.Broken {
		t.Error("expected closed after reset")
	}
}

func TestBreakerSet_ResetAll(t *testing.T) {
	b := newBreakerSet()

	b.Trip("a", "x", 1, time.Minute)
	b.Trip("b", "y", 2, time.Minute)

	if n := b.ResetAll(); n != 2 {
		t.Errorf("expected 2 breakers cleared, got %d", n)
	}
	if n := b.ResetAll(); n != 0 {
		t.Errorf("expected 0 on second sweep, got %d", n)
	}
}

func TestBreakerSet_ActiveAppliesExpiry(t *testing.T) {
	b := newBreakerSet()

	b.Trip("short", "s", 1, 10*time.Millisecond)
	b.Trip("long", "l", 2, time.Minute)
	time.Sleep(20 * time.Millisecond)

	// No Check calls in between: Active must evaluate expiry itself.
	active := b.Active()
	if len(active) != 1 {
		t.Fatalf("expected 1 active breaker, got %d: %+v", len(active), active)
	}
	if active[0].ModelID != "long" {
		t.Errorf("expected long to stay active, got %s", active[0].ModelID)
	}
	if active[0].Remaining <= 0 {
		t.Errorf("expected positive remaining, got %v", active[0].Remaining)
	}

	// The expired entry was collected, not just filtered.
	if _, ok := b.State("short"); ok {
		t.Error("expected Active to remove the expired entry from storage")
	}
}

func TestBreakerSet_ConcurrentAccess(t *testing.T) {
	b := newBreakerSet()

	var wg sync.WaitGroup
	models := []string{"a", "b", "c"}

	for _, id := range models {
		wg.Add(3)
		go func(modelID string) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				b.Trip(modelID, "load", i, time.Millisecond)
			}
		}(id)
		go func(modelID string) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_ = b.Check(modelID)
				_ = b.Peek(modelID)
			}
		}(id)
		go func(modelID string) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = b.Active()
				b.Reset(modelID)
			}
		}(id)
	}
	wg.Wait()
	// Main assertion is the absence of panics or deadlocks.
}
