// Copyright (C) 2026 Millyweb (dev@millyweb.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/millyweb/contextengine/services/engine/datatypes"
	"github.com/millyweb/contextengine/services/engine/sessions"
)

// Ingest accepts a session record from an external agent. Raw content is
// stored as-is for the worker to structure later.
func Ingest(store *sessions.Store, extract Extractor, queue Queue, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.IngestRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request: %v", err)})
			return
		}
		if req.Summary == "" && req.RawContent == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "one of summary or raw_content is required"})
			return
		}

		raw := req.Summary == ""
		sid := ingestSessionID(req.Source, time.Now(), raw)
		record := &datatypes.SessionRecord{
			SessionID:    sid,
			Timestamp:    time.Now().UTC().Format(time.RFC3339),
			Source:       req.Source,
			Summary:      req.Summary,
			RawSummary:   req.RawContent,
			KeyTopics:    req.KeyTopics,
			FilesChanged: req.FilesChanged,
			Decisions:    req.Decisions,
			Failures:     req.Failures,
			NextSteps:    req.NextSteps,
			Significance: req.Significance,
		}
		if raw {
			fields, err := extract.ExtractSessionFields(c.Request.Context(), req.RawContent)
			if err != nil {
				logger.Warn("ingest extraction failed", "session_id", sid, "error", err)
			} else {
				mergeExtracted(record, fields)
			}
		}
		if record.Significance == "" {
			record.Significance = datatypes.SignificanceMedium
		}

		if _, err := writeAndEnqueue(store, queue, record); err != nil {
			logger.Error("ingest write failed", "session_id", sid, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist session"})
			return
		}
		logger.Info("session ingested", "session_id", sid, "source", req.Source)
		c.JSON(http.StatusOK, datatypes.SaveResponse{
			Status:    "accepted",
			SessionID: sid,
			Message:   fmt.Sprintf("session from %s accepted and queued", req.Source),
		})
	}
}

// IngestRaw accepts unstructured content only. Agents that cannot produce
// a summary post here; the summary field is ignored even if present.
func IngestRaw(store *sessions.Store, extract Extractor, queue Queue, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.IngestRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request: %v", err)})
			return
		}
		if req.RawContent == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "raw_content is required"})
			return
		}

		sid := ingestSessionID(req.Source, time.Now(), true)
		record := &datatypes.SessionRecord{
			SessionID:    sid,
			Timestamp:    time.Now().UTC().Format(time.RFC3339),
			Source:       req.Source,
			RawSummary:   req.RawContent,
			Significance: req.Significance,
		}
		fields, err := extract.ExtractSessionFields(c.Request.Context(), req.RawContent)
		if err != nil {
			logger.Warn("raw ingest extraction failed", "session_id", sid, "error", err)
		} else {
			mergeExtracted(record, fields)
		}
		if record.Significance == "" {
			record.Significance = datatypes.SignificanceMedium
		}

		if _, err := writeAndEnqueue(store, queue, record); err != nil {
			logger.Error("raw ingest write failed", "session_id", sid, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist session"})
			return
		}
		logger.Info("raw session ingested", "session_id", sid, "source", req.Source)
		c.JSON(http.StatusOK, datatypes.SaveResponse{
			Status:    "accepted",
			SessionID: sid,
			Message:   fmt.Sprintf("raw content from %s accepted and queued", req.Source),
		})
	}
}

// IngestSources summarizes which external agents have been feeding sessions.
func IngestSources(store *sessions.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		recent := store.Recent(200)
		counts := map[string]int{}
		for _, rec := range recent {
			src := rec.Source
			if src == "" {
				src = "unknown"
			}
			counts[src]++
		}
		c.JSON(http.StatusOK, gin.H{
			"sources":  counts,
			"distinct": len(counts),
			"sampled":  len(recent),
		})
	}
}
