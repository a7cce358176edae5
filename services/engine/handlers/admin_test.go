// Copyright (C) 2026 Millyweb (dev@millyweb.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/millyweb/contextengine/services/engine/config"
	"github.com/millyweb/contextengine/services/engine/datatypes"
	"github.com/millyweb/contextengine/services/engine/retention"
	"github.com/millyweb/contextengine/services/engine/watcher"
)

type fakePruner struct {
	mu     sync.Mutex
	pruned map[string]string
}

func (f *fakePruner) Prune(_ context.Context, collection, cutoff string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pruned == nil {
		f.pruned = map[string]string{}
	}
	f.pruned[collection] = cutoff
	return 2, nil
}

func (f *fakePruner) StaleCount(_ context.Context, _, _ string) (int, error) {
	return 3, nil
}

func newRetentionRunner(t *testing.T, pruner *fakePruner) *retention.Runner {
	t.Helper()
	settings := config.NewSettingsStore(filepath.Join(t.TempDir(), "settings.yml"), &config.Config{})
	return retention.NewRunner(settings, pruner, slog.Default())
}

// =============================================================================
// Retention Endpoint Tests
// =============================================================================

func TestRetentionPolicy(t *testing.T) {
	h := RetentionPolicy(newRetentionRunner(t, &fakePruner{}))
	w := perform(h, http.MethodGet, "/x", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		RetentionDays map[string]int `json:"retention_days"`
	}
	decode(t, w, &resp)
	assert.Equal(t, 180, resp.RetentionDays["sessions"])
	assert.Equal(t, 0, resp.RetentionDays["entities"])
}

func TestRetentionRun_DryRun(t *testing.T) {
	pruner := &fakePruner{}
	h := RetentionRun(newRetentionRunner(t, pruner), slog.Default())
	w := perform(h, http.MethodPost, "/x", map[string]any{"dry_run": true})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Status  string         `json:"status"`
		Results map[string]int `json:"results"`
	}
	decode(t, w, &resp)
	assert.Equal(t, "dry_run", resp.Status)
	assert.Equal(t, 3, resp.Results["sessions"])
	assert.Empty(t, pruner.pruned)
}

func TestRetentionRun_WithOverrides(t *testing.T) {
	pruner := &fakePruner{}
	h := RetentionRun(newRetentionRunner(t, pruner), slog.Default())
	w := perform(h, http.MethodPost, "/x", map[string]any{
		"overrides": map[string]int{"sessions": 7},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Status  string         `json:"status"`
		Results map[string]int `json:"results"`
	}
	decode(t, w, &resp)
	assert.Equal(t, "completed", resp.Status)
	assert.Equal(t, 2, resp.Results["sessions"])
	assert.Contains(t, pruner.pruned, "sessions")
}

// =============================================================================
// Settings Endpoint Tests
// =============================================================================

func TestSettings_GetAndUpdate(t *testing.T) {
	settings := config.NewSettingsStore(filepath.Join(t.TempDir(), "settings.yml"), &config.Config{})

	w := perform(SettingsGet(settings), http.MethodGet, "/x", nil)
	require.Equal(t, http.StatusOK, w.Code)

	next := settings.Get()
	next.LLM.ModelFast = "small-model"
	w = perform(SettingsUpdate(settings, slog.Default()), http.MethodPost, "/x", next)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "small-model", settings.Get().LLM.ModelFast)
}

// =============================================================================
// LLM Connectivity Tests
// =============================================================================

func TestTestLLM_OK(t *testing.T) {
	extract := &fakeExtractor{fields: &datatypes.ExtractedFields{Summary: "pong"}}
	w := perform(TestLLM(extract), http.MethodPost, "/x", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "pong")
}

func TestTestLLM_ModelDown(t *testing.T) {
	extract := &fakeExtractor{err: assert.AnError}
	w := perform(TestLLM(extract), http.MethodPost, "/x", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

// =============================================================================
// Watcher Endpoint Tests
// =============================================================================

type fakeWatcherStats struct{ stats watcher.Stats }

func (f *fakeWatcherStats) Stats() watcher.Stats { return f.stats }

func TestWatcherStatus(t *testing.T) {
	w := perform(WatcherStatus(&fakeWatcherStats{stats: watcher.Stats{Running: true, Commits: 4}}),
		http.MethodGet, "/x", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"commits_made":4`)

	w = perform(WatcherStatus(nil), http.MethodGet, "/x", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"enabled":false`)
}
