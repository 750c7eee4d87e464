// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianSound/pkg/logging"
	"github.com/AleutianAI/AleutianSound/services/inference/datatypes"
	"github.com/AleutianAI/AleutianSound/services/inference/resilience"
)

func quietLogger() *logging.Logger {
	return logging.New(logging.Config{Quiet: true})
}

func newTestHub() *Hub {
	return NewHub(8, quietLogger())
}

func recvFrame(t *testing.T, sub *Subscriber) datatypes.EventMessage {
	t.Helper()

	select {
	case msg, ok := <-sub.C():
		require.True(t, ok, "channel closed before frame arrived")
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event frame")
		return datatypes.EventMessage{}
	}
}

func TestHub_PublishReachesSubscriber(t *testing.T) {
	hub := newTestHub()
	defer hub.Close()

	sub := hub.Subscribe()
	defer sub.Close()

	hub.Publish(datatypes.EventMessage{
		Kind:    datatypes.EventKindBreaker,
		Breaker: &resilience.BreakerEvent{ModelID: "genre_clf", Transition: resilience.TransitionTrip},
	})

	msg := recvFrame(t, sub)
	assert.Equal(t, datatypes.EventKindBreaker, msg.Kind)
	require.NotNil(t, msg.Breaker)
	assert.Equal(t, "genre_clf", msg.Breaker.ModelID)
	assert.False(t, msg.At.IsZero(), "hub should stamp a publish time")
}

func TestHub_FanOut(t *testing.T) {
	hub := newTestHub()
	defer hub.Close()

	first := hub.Subscribe()
	second := hub.Subscribe()
	defer first.Close()
	defer second.Close()

	assert.Equal(t, 2, hub.SubscriberCount())

	hub.Publish(datatypes.EventMessage{Kind: datatypes.EventKindCall})

	assert.Equal(t, datatypes.EventKindCall, recvFrame(t, first).Kind)
	assert.Equal(t, datatypes.EventKindCall, recvFrame(t, second).Kind)
}

func TestHub_SlowSubscriberDropsFrames(t *testing.T) {
	hub := NewHub(1, quietLogger())
	defer hub.Close()

	sub := hub.Subscribe()
	defer sub.Close()

	// Buffer depth is 1, so the second and third frames have nowhere
	// to go while nothing drains the channel.
	for i := 0; i < 3; i++ {
		hub.Publish(datatypes.EventMessage{Kind: datatypes.EventKindCall})
	}

	assert.Equal(t, int64(2), sub.Dropped())
	assert.Equal(t, datatypes.EventKindCall, recvFrame(t, sub).Kind)
}

func TestHub_SubscriberClose(t *testing.T) {
	hub := newTestHub()
	defer hub.Close()

	sub := hub.Subscribe()
	sub.Close()
	sub.Close() // second close is a no-op

	assert.Equal(t, 0, hub.SubscriberCount())

	_, ok := <-sub.C()
	assert.False(t, ok, "channel should be closed")

	// Publishing after the subscriber left must not panic.
	hub.Publish(datatypes.EventMessage{Kind: datatypes.EventKindCall})
}

func TestHub_Close(t *testing.T) {
	hub := newTestHub()

	sub := hub.Subscribe()
	hub.Close()
	hub.Close() // idempotent

	_, ok := <-sub.C()
	assert.False(t, ok, "hub close should close subscriber channels")

	late := hub.Subscribe()
	_, ok = <-late.C()
	assert.False(t, ok, "subscribing to a closed hub yields a closed channel")

	hub.Publish(datatypes.EventMessage{Kind: datatypes.EventKindCall})
	sub.Close() // still safe after the hub closed it
}

func TestHub_HooksPublishRegistryEvents(t *testing.T) {
	hub := newTestHub()
	defer hub.Close()

	reg, err := resilience.NewRegistry(resilience.Config{})
	require.NoError(t, err)
	reg.SetHooks(hub.Hooks())

	sub := hub.Subscribe()
	defer sub.Close()

	reg.TripBreaker("genre_clf", "manual trip", 5, time.Minute)

	msg := recvFrame(t, sub)
	assert.Equal(t, datatypes.EventKindBreaker, msg.Kind)
	require.NotNil(t, msg.Breaker)
	assert.Equal(t, resilience.TransitionTrip, msg.Breaker.Transition)
	assert.Equal(t, "manual trip", msg.Breaker.Reason)

	reg.Fallback("genre_clf", resilience.StrategyUseDefault)

	msg = recvFrame(t, sub)
	assert.Equal(t, datatypes.EventKindFallback, msg.Kind)
	require.NotNil(t, msg.Fallback)
	assert.Equal(t, "genre_clf", msg.Fallback.ModelID)
}

func TestHub_PublishCall(t *testing.T) {
	hub := newTestHub()
	defer hub.Close()

	sub := hub.Subscribe()
	defer sub.Close()

	hub.PublishCall(resilience.CallEvent{
		ModelID:  "genre_clf",
		Outcome:  resilience.OutcomeSuccess,
		Duration: 42 * time.Millisecond,
	})

	msg := recvFrame(t, sub)
	assert.Equal(t, datatypes.EventKindCall, msg.Kind)
	require.NotNil(t, msg.Call)
	assert.Equal(t, resilience.OutcomeSuccess, msg.Call.Outcome)
}

func TestHub_ConcurrentPublishAndClose(t *testing.T) {
	hub := NewHub(4, quietLogger())

	subs := make([]*Subscriber, 8)
	for i := range subs {
		subs[i] = hub.Subscribe()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			hub.Publish(datatypes.EventMessage{Kind: datatypes.EventKindCall})
		}
	}()

	for _, s := range subs {
		s.Close()
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publisher did not finish")
	}
	hub.Close()
}
