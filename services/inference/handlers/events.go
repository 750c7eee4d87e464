// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianSound/pkg/logging"
	"github.com/AleutianAI/AleutianSound/services/inference/events"
)

// Websocket keepalive timing for the event stream.
const (
	eventWriteWait  = 10 * time.Second
	eventPingPeriod = 30 * time.Second
)

var eventUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Same trust model as the rest of the gateway: it binds on an
		// internal network and admin mutations carry their own token.
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// StreamEvents streams gateway events over a websocket.
//
// # Description
//
// GET /v1/events/ws. Each frame is one datatypes.EventMessage: breaker
// transitions, escalations, fallbacks, and call outcomes as they
// happen. Slow clients lose frames rather than slowing the gateway;
// the hub's per-subscriber buffer absorbs bursts and drops beyond it.
func StreamEvents(hub *events.Hub, logger *logging.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = logging.Default()
	}

	return func(c *gin.Context) {
		ws, err := eventUpgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Error("failed to upgrade the event websocket", "error", err)
			return
		}

		sub := hub.Subscribe()
		defer sub.Close()
		defer ws.Close()

		// Drain the peer so close frames are processed; inbound data
		// is otherwise ignored.
		go func() {
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					sub.Close()
					return
				}
			}
		}()

		ticker := time.NewTicker(eventPingPeriod)
		defer ticker.Stop()

		for {
			select {
			case msg, ok := <-sub.C():
				if !ok {
					return
				}
				ws.SetWriteDeadline(time.Now().Add(eventWriteWait))
				if err := ws.WriteJSON(msg); err != nil {
					logger.Debug("event stream write failed", "error", err)
					return
				}
			case <-ticker.C:
				ws.SetWriteDeadline(time.Now().Add(eventWriteWait))
				if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}
}
