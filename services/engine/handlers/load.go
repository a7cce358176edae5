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
	"time"

	"github.com/gin-gonic/gin"

	"github.com/millyweb/contextengine/services/engine/advisories"
	"github.com/millyweb/contextengine/services/engine/archive"
	"github.com/millyweb/contextengine/services/engine/config"
	"github.com/millyweb/contextengine/services/engine/datatypes"
	"github.com/millyweb/contextengine/services/engine/degradation"
	"github.com/millyweb/contextengine/services/engine/sessions"
)

const (
	masterUnavailable = "[Master context unavailable - operating in degraded mode]"

	loadTopicHits   = 5
	loadFailureHits = 3
	promotionWindow = 10
	promotionFloor  = 3
)

// topicCollections are searched, in order, when a load names a topic.
var topicCollections = []string{"project_archive", "decisions", "sessions"}

// Load starts a conversation: hands back the master context, anything the
// archive knows about the stated topic, recent failure warnings, and open
// nudges.
func Load(cfg *config.Config, arch Archiver, master MasterGateway, store *sessions.Store,
	nudges *advisories.NudgeStore, degrade *degradation.Manager, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.LoadRequest
		if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request: %v", err)})
			return
		}

		resp := datatypes.LoadResponse{SessionID: newSessionID(time.Now())}

		content, source, err := master.ReadMaster()
		if err != nil {
			logger.Warn("master context unavailable on load", "error", err)
			resp.Degraded = true
			if cached, ok := degrade.CachedMaster(); ok {
				resp.MasterContext = cached.Content
			} else {
				resp.MasterContext = masterUnavailable
			}
		} else {
			resp.MasterContext = content
			degrade.CacheMaster(content, source)
		}

		ctx := c.Request.Context()
		if req.Topic != "" {
			for _, coll := range topicCollections {
				hits, err := arch.Search(ctx, coll, req.Topic, loadTopicHits, archive.DistanceLoad)
				if err != nil {
					logger.Warn("topic search failed", "collection", coll, "error", err)
					resp.Degraded = true
					continue
				}
				for _, h := range hits {
					resp.RelevantContext = append(resp.RelevantContext,
						fmt.Sprintf("[%s] %s", coll, clip(h.Content, 500)))
				}
			}
		}

		query := req.Topic
		if query == "" {
			query = "recent failures"
		}
		if hits, err := arch.Search(ctx, "failures", query, loadFailureHits, archive.DistanceFailures); err == nil {
			for _, h := range hits {
				sid, _ := h.Metadata["session_id"].(string)
				resp.FailureWarnings = append(resp.FailureWarnings,
					fmt.Sprintf("[%s] %s", sid, clip(h.Content, 200)))
			}
		}

		// Promotion nudges are deterministic observations about the session
		// files themselves, so they surface even during learning mode. Only
		// the model-generated stored nudges stay quiet until learning ends.
		resp.Nudges = append(resp.Nudges, promotionNudges(store, resp.MasterContext)...)
		if !cfg.LearningMode {
			resp.Nudges = append(resp.Nudges, nudges.List(5)...)
		}
		if degrade.Level() != degradation.LevelFull {
			resp.Degraded = true
		}

		trimToBudget(&resp)
		c.JSON(http.StatusOK, resp)
	}
}

// promotionNudges flags topics that keep recurring in recent sessions but
// never made it into the master context.
func promotionNudges(store *sessions.Store, master string) []datatypes.Nudge {
	recent := store.Recent(promotionWindow)
	if len(recent) == 0 {
		return nil
	}
	counts := map[string]int{}
	for _, rec := range recent {
		seen := map[string]bool{}
		for _, t := range rec.KeyTopics {
			t = strings.ToLower(strings.TrimSpace(t))
			if t == "" || seen[t] {
				continue
			}
			seen[t] = true
			counts[t]++
		}
	}
	lowerMaster := strings.ToLower(master)
	var out []datatypes.Nudge
	for topic, n := range counts {
		if n < promotionFloor || strings.Contains(lowerMaster, topic) {
			continue
		}
		out = append(out, datatypes.Nudge{
			Message: fmt.Sprintf("Topic '%s' appeared in %d/%d recent sessions but isn't in master context. Consider promoting.",
				topic, n, len(recent)),
			Type:      datatypes.NudgeReminder,
			Priority:  "medium",
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		})
	}
	return out
}

// trimToBudget shrinks RelevantContext entries until the whole response fits
// the load budget. Entries never drop below 200 characters; the master
// context itself is never trimmed.
func trimToBudget(resp *datatypes.LoadResponse) {
	size := func() int {
		n := len(resp.MasterContext)
		for _, s := range resp.RelevantContext {
			n += len(s)
		}
		for _, s := range resp.FailureWarnings {
			n += len(s)
		}
		return n
	}
	for size() > config.MaxLoadResponseChars {
		trimmed := false
		for i, s := range resp.RelevantContext {
			half := len(s) / 2
			if half < 200 {
				half = 200
			}
			if half+3 < len(s) {
				resp.RelevantContext[i] = s[:half] + "..."
				trimmed = true
				if size() <= config.MaxLoadResponseChars {
					break
				}
			}
		}
		if !trimmed {
			break
		}
	}
}
