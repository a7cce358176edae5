// Copyright (C) 2026 Millyweb (dev@millyweb.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/millyweb/contextengine/services/engine/advisories"
	"github.com/millyweb/contextengine/services/engine/config"
	"github.com/millyweb/contextengine/services/engine/degradation"
	"github.com/millyweb/contextengine/services/engine/sessions"
	"github.com/millyweb/contextengine/services/engine/transcripts"
	"github.com/millyweb/contextengine/services/engine/worker"
)

// WorkerInfo is the read side of the background worker.
type WorkerInfo interface {
	Stats() worker.Stats
	LearningMode() bool
}

// ModelInfo exposes model-call accounting.
type ModelInfo interface {
	CallCount() int64
}

const summaryBudgetChars = 2000

// Health reports liveness and dependency state.
func Health(cfg *config.Config, store *sessions.Store, wrk WorkerInfo,
	degrade *degradation.Manager, start time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		level := degrade.Level()
		status := "healthy"
		if level != degradation.LevelFull {
			status = "degraded"
		}
		total, _, _ := store.Counts()
		c.JSON(http.StatusOK, gin.H{
			"status":             status,
			"version":            config.Version,
			"weaviate_connected": degrade.Healthy("weaviate"),
			"model_connected":    degrade.Healthy("openrouter"),
			"kb_accessible":      degrade.Healthy("kb"),
			"sessions_count":     total,
			"uptime_seconds":     int(time.Since(start).Seconds()),
			"learning_mode":      wrk.LearningMode(),
			"degradation_level":  level,
			"standalone_mode":    cfg.StandaloneMode,
		})
	}
}

// Summary returns the master context cut to a token-friendly size. Used by
// the stdio bridge's context tool.
func Summary(master MasterGateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		content, source, err := master.ReadMaster()
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "master context unavailable"})
			return
		}
		truncated := false
		if len(content) > summaryBudgetChars {
			content = content[:summaryBudgetChars] + "\n\n[... truncated for token budget ...]"
			truncated = true
		}
		c.JSON(http.StatusOK, gin.H{
			"summary":   content,
			"source":    source,
			"truncated": truncated,
		})
	}
}

// MasterContext returns the full master context document.
func MasterContext(master MasterGateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		content, source, err := master.ReadMaster()
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "master context unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"content": content,
			"source":  source,
			"length":  len(content),
		})
	}
}

// Stats aggregates store, archive, worker, and model counters.
func Stats(store *sessions.Store, arch Archiver, wrk WorkerInfo, model ModelInfo) gin.HandlerFunc {
	return func(c *gin.Context) {
		total, processed, unprocessed := store.Counts()

		collections := map[string]int{}
		for name := range config.Collections {
			if n, err := arch.Count(c.Request.Context(), name); err == nil {
				collections[name] = n
			}
		}

		var recent []gin.H
		for _, rec := range store.Recent(20) {
			recent = append(recent, gin.H{
				"session_id":   rec.SessionID,
				"timestamp":    rec.Timestamp,
				"source":       rec.Source,
				"significance": rec.Significance,
				"summary":      clip(rec.Summary, 120),
			})
		}

		c.JSON(http.StatusOK, gin.H{
			"sessions": gin.H{
				"total":       total,
				"processed":   processed,
				"unprocessed": unprocessed,
			},
			"collections":     collections,
			"recent_sessions": recent,
			"worker":          wrk.Stats(),
			"model_calls":     model.CallCount(),
		})
	}
}

// WorkerStatus exposes the queue and processing counters.
func WorkerStatus(wrk WorkerInfo) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"worker":        wrk.Stats(),
			"learning_mode": wrk.LearningMode(),
		})
	}
}

// Nudges lists open nudges with store statistics.
func Nudges(nudges *advisories.NudgeStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"nudges": nudges.List(10),
			"stats":  nudges.Stats(),
		})
	}
}

// DismissNudge removes nudges matching a substring.
func DismissNudge(nudges *advisories.NudgeStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Match string `json:"match" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing 'match' substring"})
			return
		}
		n, err := nudges.Dismiss(req.Match)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"dismissed": n})
	}
}

// Anomalies lists open anomalies with store statistics.
func Anomalies(anomalies *advisories.AnomalyStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"anomalies": anomalies.List(10),
			"stats":     anomalies.Stats(),
		})
	}
}

// DismissAnomaly removes anomalies matching a substring.
func DismissAnomaly(anomalies *advisories.AnomalyStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Match string `json:"match" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing 'match' substring"})
			return
		}
		n, err := anomalies.Dismiss(req.Match)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"dismissed": n})
	}
}

// DegradationStatus reports per-dependency circuit state.
func DegradationStatus(degrade *degradation.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, degrade.Report())
	}
}

// Transcripts lists stored transcript files.
func Transcripts(tstore *transcripts.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		entries, err := tstore.List()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"transcripts": entries, "count": len(entries)})
	}
}
