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
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/millyweb/contextengine/services/engine/archive"
	"github.com/millyweb/contextengine/services/engine/datatypes"
)

// correctionCollections are swept when a correction targets the archive.
var correctionCollections = []string{"project_archive", "decisions", "failures", "sessions", "entities"}

// Correct replaces a wrong remembered fact in the master context (hot), the
// archive, or both. Archive documents are snapshotted before they change.
func Correct(arch Archiver, master MasterGateway, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.CorrectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request: %v", err)})
			return
		}
		scope := req.Scope
		if scope == "" {
			scope = "both"
		}
		if scope != "hot" && scope != "archive" && scope != "both" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "scope must be hot, archive, or both"})
			return
		}

		var resp datatypes.CorrectResponse
		if scope == "hot" || scope == "both" {
			updated, err := correctMaster(c, master, req.Item, req.Correction, logger)
			if err != nil {
				logger.Warn("master correction failed", "error", err)
			}
			resp.MasterUpdated = updated
		}
		if scope == "archive" || scope == "both" {
			resp.ArchiveUpdated = correctArchive(c, arch, req.Item, req.Correction, logger)
		}
		c.JSON(http.StatusOK, resp)
	}
}

func correctMaster(c *gin.Context, master MasterGateway, item, correction string, logger *slog.Logger) (bool, error) {
	content, _, err := master.ReadMaster()
	if err != nil {
		return false, err
	}

	msg := fmt.Sprintf("ContextEngine: correction applied - replaced '%s'", clip(item, 50))
	var updated string
	switch {
	case strings.Contains(content, item):
		updated = strings.Replace(content, item, correction, 1)
	default:
		idx := strings.Index(strings.ToLower(content), strings.ToLower(item))
		if idx < 0 {
			return false, nil
		}
		updated = content[:idx] + correction + content[idx+len(item):]
		msg += " (case-insensitive)"
	}

	if err := master.WriteMaster(c.Request.Context(), updated, msg); err != nil {
		return false, err
	}
	logger.Info("master context corrected", "item", clip(item, 50))
	return true, nil
}

func correctArchive(c *gin.Context, arch Archiver, item, correction string, logger *slog.Logger) int {
	ctx := c.Request.Context()
	var count int
	for _, coll := range correctionCollections {
		hits, err := arch.Search(ctx, coll, item, 5, archive.DistanceCorrect)
		if err != nil {
			logger.Warn("correction search failed", "collection", coll, "error", err)
			continue
		}
		for _, h := range hits {
			if _, err := arch.Snapshot(ctx, coll, h.ID); err != nil {
				logger.Warn("correction snapshot failed", "doc_id", h.ID, "error", err)
			}
			content := h.Content
			if strings.Contains(content, item) {
				content = strings.ReplaceAll(content, item, correction)
			} else {
				content += fmt.Sprintf("\n[CORRECTION: %s]", correction)
			}
			meta := map[string]any{}
			for k, v := range h.Metadata {
				meta[k] = v
			}
			meta["corrected"] = true
			meta["correction_note"] = fmt.Sprintf("Replaced: %s", clip(item, 100))
			if err := arch.Upsert(ctx, coll, h.ID, content, meta); err != nil {
				logger.Warn("correction upsert failed", "doc_id", h.ID, "error", err)
				continue
			}
			count++
		}
	}
	return count
}
