// Copyright (C) 2026 Millyweb (dev@millyweb.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/millyweb/contextengine/services/engine/config"
	"github.com/millyweb/contextengine/services/engine/datatypes"
	"github.com/millyweb/contextengine/services/engine/integrity"
	"github.com/millyweb/contextengine/services/engine/sessions"
	"github.com/millyweb/contextengine/services/engine/worker"
)

const reprocessBatchLimit = 50

// Compressor rebuilds the master context from accumulated material.
type Compressor interface {
	CompressMaster(ctx context.Context, master string, updates []string, budgetChars int) (*datatypes.CompressedMaster, error)
}

// masterScaffold seeds a brand-new installation.
const masterScaffold = `# Master Context

## Identity
Persistent engineering memory for this environment.

## Active Projects

## Infrastructure

## Conventions

## Recent Decisions
`

// BootstrapStatus reports whether the installation has a master context and
// how much material is waiting.
func BootstrapStatus(store *sessions.Store, master MasterGateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		content, source, err := master.ReadMaster()
		total, processed, unprocessed := store.Counts()
		c.JSON(http.StatusOK, gin.H{
			"master_present":       err == nil && strings.TrimSpace(content) != "",
			"master_source":        source,
			"master_length":        len(content),
			"sessions_total":       total,
			"sessions_processed":   processed,
			"sessions_unprocessed": unprocessed,
		})
	}
}

// Reprocess requeues unprocessed session files, oldest first.
func Reprocess(store *sessions.Store, queue Queue, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		entries, err := store.List()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		var pending []sessions.Entry
		for _, e := range entries {
			if !e.Processed {
				pending = append(pending, e)
			}
		}
		sort.Slice(pending, func(i, j int) bool {
			return pending[i].Modified.Before(pending[j].Modified)
		})
		if len(pending) > reprocessBatchLimit {
			pending = pending[:reprocessBatchLimit]
		}
		for _, e := range pending {
			queue.Enqueue(e.SessionID, e.SessionID+".json")
		}
		logger.Info("reprocess queued", "count", len(pending))
		c.JSON(http.StatusOK, gin.H{"queued": len(pending)})
	}
}

// RebuildMaster regenerates the master context from recent archived sessions.
// The integrity gate applies: a rebuild that drops known infrastructure
// facts at high severity is rejected.
func RebuildMaster(cfg *config.Config, arch Archiver, master MasterGateway, store *sessions.Store,
	model Compressor, checker *integrity.Checker, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		docs, err := arch.GetRecent(ctx, "sessions", 20)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "archive unavailable for rebuild"})
			return
		}
		if len(docs) == 0 {
			c.JSON(http.StatusConflict, gin.H{"error": "no archived sessions to rebuild from"})
			return
		}

		current, _, _ := master.ReadMaster()
		var updates []string
		for _, d := range docs {
			updates = append(updates, d.Content)
		}
		budget := cfg.DynamicMasterBudget(
			worker.CountActiveProjects(current), len(store.RecentSources(50)))

		draft, err := model.CompressMaster(ctx, current, updates, budget)
		if err != nil || draft == nil || draft.Markdown == "" {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "model unavailable for rebuild"})
			return
		}

		report := checker.Check(draft.Markdown, current)
		if report.Severity == integrity.SeverityHigh {
			logger.Error("master rebuild blocked by integrity gate",
				"dropped_ips", len(report.Dropped.IPs),
				"dropped_ports", len(report.Dropped.Ports),
				"dropped_containers", len(report.Dropped.Containers))
			c.JSON(http.StatusConflict, gin.H{
				"error":  "rebuild blocked: draft drops known infrastructure facts",
				"report": report,
			})
			return
		}

		msg := fmt.Sprintf("ContextEngine: rebuild master context from %d archived sessions", len(docs))
		if err := master.WriteMaster(ctx, draft.Markdown, msg); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		logger.Info("master context rebuilt", "sessions_used", len(docs), "length", len(draft.Markdown))
		c.JSON(http.StatusOK, gin.H{
			"status":        "rebuilt",
			"sessions_used": len(docs),
			"length":        len(draft.Markdown),
		})
	}
}

// ScaffoldMaster writes a starter master context when none exists.
func ScaffoldMaster(master MasterGateway, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		content, _, err := master.ReadMaster()
		if err == nil && strings.TrimSpace(content) != "" {
			c.JSON(http.StatusConflict, gin.H{"error": "master context already exists"})
			return
		}
		if err := master.WriteMaster(c.Request.Context(), masterScaffold,
			"ContextEngine: scaffold initial master context"); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		logger.Info("master context scaffolded")
		c.JSON(http.StatusOK, gin.H{"status": "scaffolded"})
	}
}
