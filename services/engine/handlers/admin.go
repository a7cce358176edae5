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

	"github.com/gin-gonic/gin"

	"github.com/millyweb/contextengine/services/engine/backup"
	"github.com/millyweb/contextengine/services/engine/config"
	"github.com/millyweb/contextengine/services/engine/retention"
	"github.com/millyweb/contextengine/services/engine/watcher"
)

// WatcherStats is the read side of the file watcher, nil when disabled.
type WatcherStats interface {
	Stats() watcher.Stats
}

// BackupCreate snapshots the engine's state to a new backup directory.
func BackupCreate(mgr *backup.Manager, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			IncludeSessions bool `json:"include_sessions"`
		}
		_ = c.ShouldBindJSON(&req)

		meta, err := mgr.Create(c.Request.Context(), req.IncludeSessions)
		if err != nil {
			logger.Error("backup failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("backup failed: %v", err)})
			return
		}
		c.JSON(http.StatusOK, meta)
	}
}

// BackupList returns stored backups, newest first.
func BackupList(mgr *backup.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		backups, err := mgr.List()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"backups": backups, "count": len(backups)})
	}
}

// BackupRestore restores a named backup, fetching from object storage when
// the local copy is gone.
func BackupRestore(mgr *backup.Manager, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Name string `json:"name" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing backup 'name'"})
			return
		}
		result, err := mgr.Restore(c.Request.Context(), req.Name)
		if err != nil {
			logger.Error("restore failed", "backup", req.Name, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("restore failed: %v", err)})
			return
		}
		logger.Info("backup restored", "backup", req.Name, "documents", result.DocumentsRestored)
		c.JSON(http.StatusOK, result)
	}
}

// RetentionPolicy reports the effective per-collection retention in days.
func RetentionPolicy(runner *retention.Runner) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"retention_days": runner.Policy()})
	}
}

// RetentionRun sweeps stale archive documents. Overrides adjust individual
// collections for this run only; dry_run counts without deleting.
func RetentionRun(runner *retention.Runner, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Overrides map[string]int `json:"overrides,omitempty"`
			DryRun    bool           `json:"dry_run,omitempty"`
		}
		_ = c.ShouldBindJSON(&req)

		results, err := runner.Run(c.Request.Context(), req.Overrides, req.DryRun)
		if err != nil {
			logger.Warn("retention sweep had failures", "error", err)
		}
		status := "completed"
		if req.DryRun {
			status = "dry_run"
		}
		resp := gin.H{"status": status, "results": results}
		if err != nil {
			resp["partial_error"] = err.Error()
		}
		c.JSON(http.StatusOK, resp)
	}
}

// SettingsGet returns the current runtime-tunable settings.
func SettingsGet(settings *config.SettingsStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, settings.Get())
	}
}

// SettingsUpdate replaces the runtime settings and persists them.
func SettingsUpdate(settings *config.SettingsStore, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var next config.Settings
		if err := c.ShouldBindJSON(&next); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid settings: %v", err)})
			return
		}
		if err := settings.Update(next); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		logger.Info("settings updated")
		c.JSON(http.StatusOK, settings.Get())
	}
}

// TestLLM runs a one-shot extraction to verify model connectivity with the
// current settings.
func TestLLM(extract Extractor) gin.HandlerFunc {
	return func(c *gin.Context) {
		fields, err := extract.ExtractSessionFields(c.Request.Context(),
			"Connectivity check: respond with a one-line summary.")
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "failed", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "summary": fields.Summary})
	}
}

// WatcherStatus reports file-watcher counters, or disabled when no watcher
// is running.
func WatcherStatus(stats WatcherStats) gin.HandlerFunc {
	return func(c *gin.Context) {
		if stats == nil {
			c.JSON(http.StatusOK, gin.H{"enabled": false})
			return
		}
		c.JSON(http.StatusOK, gin.H{"enabled": true, "watcher": stats.Stats()})
	}
}
