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
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/millyweb/contextengine/services/engine/archive"
	"github.com/millyweb/contextengine/services/engine/config"
	"github.com/millyweb/contextengine/services/engine/datatypes"
)

const defaultSearchLimit = 10

// defaultSearchCollections are queried when a search names none.
var defaultSearchCollections = []string{"project_archive", "decisions", "failures", "entities", "sessions"}

// Search runs a semantic query across the archive.
func Search(arch Archiver, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.SearchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request: %v", err)})
			return
		}
		resp, err := runSearch(c, arch, &req, logger)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// SearchGet is the query-string form of Search, for curl and browser use.
func SearchGet(arch Archiver, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		query := c.Query("q")
		if query == "" {
			query = c.Query("query")
		}
		if query == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing query parameter 'q'"})
			return
		}
		req := datatypes.SearchRequest{
			Query:       query,
			Collections: splitCSV(c.Query("collections")),
			Tags:        splitCSV(c.Query("tags")),
			DateAfter:   c.Query("date_after"),
			DateBefore:  c.Query("date_before"),
		}
		if raw := c.Query("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil {
				req.Limit = n
			}
		}
		resp, err := runSearch(c, arch, &req, logger)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

func runSearch(c *gin.Context, arch Archiver, req *datatypes.SearchRequest, logger *slog.Logger) (*datatypes.SearchResponse, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	collections := req.Collections
	if len(collections) == 0 {
		collections = defaultSearchCollections
	}
	seen := map[string]bool{}
	var resolved []string
	for _, name := range collections {
		canonical := config.ResolveCollection(strings.TrimSpace(name))
		if !seen[canonical] {
			seen[canonical] = true
			resolved = append(resolved, canonical)
		}
	}

	var results []datatypes.SearchHit
	var failures int
	for _, coll := range resolved {
		hits, err := arch.Search(c.Request.Context(), coll, req.Query, limit, archive.DistanceSearch)
		if err != nil {
			logger.Warn("search failed", "collection", coll, "error", err)
			failures++
			continue
		}
		for _, h := range hits {
			if !matchesDateRange(h, req.DateAfter, req.DateBefore) || !matchesTags(h, req.Tags) {
				continue
			}
			results = append(results, h)
		}
	}
	if failures == len(resolved) {
		return nil, fmt.Errorf("archive unavailable")
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Relevance > results[j].Relevance
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return &datatypes.SearchResponse{Query: req.Query, Results: results, Count: len(results)}, nil
}

// matchesDateRange compares the hit's RFC3339 timestamp lexically, which
// orders correctly for UTC timestamps.
func matchesDateRange(h datatypes.SearchHit, after, before string) bool {
	ts, _ := h.Metadata["timestamp"].(string)
	if after != "" && (ts == "" || ts < after) {
		return false
	}
	if before != "" && (ts == "" || ts > before) {
		return false
	}
	return true
}

func matchesTags(h datatypes.SearchHit, tags []string) bool {
	if len(tags) == 0 {
		return true
	}
	stored, _ := h.Metadata["tags"].(string)
	stored = strings.ToLower(stored)
	for _, t := range tags {
		if !strings.Contains(stored, strings.ToLower(strings.TrimSpace(t))) {
			return false
		}
	}
	return true
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
