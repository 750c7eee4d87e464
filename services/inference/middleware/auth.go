// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the inference
// gateway service.
//
// # Admin Authentication
//
// Mutating operations (tripping breakers, clearing failure history,
// replacing fallback tables) are guarded by a static bearer token:
//
//	Request
//	   │
//	   ▼
//	AdminAuth
//	   │
//	   ├─► Extract token from "Authorization: Bearer <token>"
//	   │
//	   ├─► Constant-time compare against the configured token
//	   │
//	   └─► 401 on mismatch, next handler on match
//
// # Local Behavior
//
// When no admin token is configured, every request passes. This keeps
// single-operator deployments working without any authentication
// infrastructure; the read-only surface is never guarded either way.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// AdminAuth creates a Gin middleware that guards admin routes with a
// static bearer token.
//
// # Description
//
// Extracts the bearer token from the Authorization header and compares
// it against the configured token in constant time. Requests without a
// matching token are rejected with 401 before the handler runs.
//
// # Inputs
//
//   - token: The configured admin token. Empty disables the guard and
//     every request passes.
//
// # Outputs
//
//   - gin.HandlerFunc: Middleware function ready for use with Gin
//
// # Examples
//
//	admin := v1.Group("")
//	admin.Use(middleware.AdminAuth(cfg.AdminToken))
//	admin.POST("/breakers/reset", handlers.ResetAllBreakers(gw))
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func AdminAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}

		presented := extractBearerToken(c)
		if presented == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing bearer token",
			})
			return
		}

		if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "unauthorized",
			})
			return
		}

		c.Next()
	}
}

// extractBearerToken extracts the token from the Authorization header.
//
// Parses the header expecting the format "Bearer <token>" and returns
// an empty string if the header is missing or malformed. The "Bearer"
// prefix is case-insensitive per RFC 7235.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
