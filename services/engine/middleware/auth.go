// Copyright (C) 2026 Millyweb (dev@millyweb.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides HTTP middleware for the engine service.
//
// # Authentication Flow
//
// The ingest endpoints accept session records from external agents and are
// the only part of the API intended to be reachable from outside localhost.
// IngestAuth gates them with a shared key:
//
//	Request
//	   │
//	   ▼
//	IngestAuth
//	   │
//	   ├─► Read key from "X-API-Key" header (or ?api_key query)
//	   │
//	   ├─► Compare against the configured ingest key
//	   │
//	   └─► 401 on mismatch, otherwise continue
//
// # Open Behavior
//
// When no ingest key is configured the middleware is a no-op, which keeps
// single-host installations working with zero setup.
package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// IngestAuth validates the shared ingest key on external submission routes.
//
// # Description
//
// Reads the key from the X-API-Key header, falling back to the api_key query
// parameter for clients that cannot set headers. An empty configured key
// disables the check entirely.
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func IngestAuth(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			c.Next()
			return
		}
		presented := c.GetHeader("X-API-Key")
		if presented == "" {
			presented = c.Query("api_key")
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(key)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid API key",
			})
			return
		}
		c.Next()
	}
}
