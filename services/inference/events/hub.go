// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package events fans gateway events out to live websocket
// subscribers. The hub sits between the resilience registry's hooks
// and the event stream handlers: hooks publish frames, handlers
// subscribe and forward them to connected clients.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/AleutianSound/pkg/logging"
	"github.com/AleutianAI/AleutianSound/services/inference/datatypes"
	"github.com/AleutianAI/AleutianSound/services/inference/resilience"
)

// DefaultBufferSize is the per-subscriber channel depth.
const DefaultBufferSize = 64

// Hub distributes event frames to subscribers. Publishing never
// blocks: a subscriber whose buffer is full loses the frame and its
// dropped counter increments. This keeps registry hooks fast no
// matter how slow the websocket peers are.
type Hub struct {
	log *logging.Logger

	mu     sync.RWMutex
	subs   map[*Subscriber]struct{}
	buffer int
	closed bool
}

// NewHub returns a hub with the given per-subscriber buffer depth.
// Non-positive depths fall back to DefaultBufferSize; a nil logger
// falls back to the package default.
func NewHub(buffer int, logger *logging.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}
	if logger == nil {
		logger = logging.Default()
	}

	return &Hub{
		log:    logger,
		subs:   make(map[*Subscriber]struct{}),
		buffer: buffer,
	}
}

// Subscriber is one attached event consumer.
type Subscriber struct {
	hub  *Hub
	ch   chan datatypes.EventMessage
	once sync.Once

	dropped atomic.Int64
}

// C returns the subscriber's frame channel. The channel closes when
// the subscriber or the hub shuts down.
func (s *Subscriber) C() <-chan datatypes.EventMessage {
	return s.ch
}

// Dropped reports how many frames this subscriber lost to a full
// buffer.
func (s *Subscriber) Dropped() int64 {
	return s.dropped.Load()
}

// Close detaches the subscriber and closes its channel. Safe to call
// more than once.
func (s *Subscriber) Close() {
	s.once.Do(func() {
		s.hub.remove(s)
		close(s.ch)
	})
}

// Subscribe attaches a new consumer. Subscribing to a closed hub
// returns a subscriber whose channel is already closed.
func (h *Hub) Subscribe() *Subscriber {
	s := &Subscriber{hub: h, ch: make(chan datatypes.EventMessage, h.buffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		s.once.Do(func() { close(s.ch) })
		return s
	}
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	return s
}

func (h *Hub) remove(s *Subscriber) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
}

// SubscriberCount returns how many consumers are attached.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.subs)
}

// Publish delivers the frame to every subscriber without blocking.
// A zero At field is stamped with the current time.
func (h *Hub) Publish(msg datatypes.EventMessage) {
	if msg.At.IsZero() {
		msg.At = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for s := range h.subs {
		select {
		case s.ch <- msg:
		default:
			s.dropped.Add(1)
			h.log.Debug("event frame dropped for slow subscriber", "kind", msg.Kind)
		}
	}
}

// Close detaches every subscriber and closes their channels. Further
// publishes are silently discarded.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := make([]*Subscriber, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.subs = make(map[*Subscriber]struct{})
	h.mu.Unlock()

	for _, s := range subs {
		s.once.Do(func() { close(s.ch) })
	}
}

// Hooks returns a hook set that publishes every registry event onto
// the hub. Merge it with other hook sets via resilience.MergeHooks.
func (h *Hub) Hooks() resilience.Hooks {
	return resilience.Hooks{
		OnBreakerTrip:  h.publishBreaker,
		OnBreakerReset: h.publishBreaker,
		OnEscalation: func(e resilience.EscalationEvent) {
			h.Publish(datatypes.EventMessage{
				Kind:       datatypes.EventKindEscalation,
				At:         e.At,
				Escalation: &e,
			})
		},
		OnFallback: func(e resilience.FallbackEvent) {
			h.Publish(datatypes.EventMessage{
				Kind:     datatypes.EventKindFallback,
				At:       e.At,
				Fallback: &e,
			})
		},
	}
}

func (h *Hub) publishBreaker(e resilience.BreakerEvent) {
	h.Publish(datatypes.EventMessage{
		Kind:    datatypes.EventKindBreaker,
		At:      e.At,
		Breaker: &e,
	})
}

// PublishCall publishes one gateway call observation. Suitable as the
// gateway's OnCall callback.
func (h *Hub) PublishCall(e resilience.CallEvent) {
	h.Publish(datatypes.EventMessage{Kind: datatypes.EventKindCall, Call: &e})
}
