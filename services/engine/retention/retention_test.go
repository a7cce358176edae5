// Copyright (C) 2026 Millyweb (dev@millyweb.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retention

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/millyweb/contextengine/services/engine/config"
)

type fakePruner struct {
	pruned   map[string]string // collection -> cutoff
	counted  map[string]string
	failFor  string
	perSweep int
}

func (f *fakePruner) Prune(_ context.Context, collection, cutoff string) (int, error) {
	if collection == f.failFor {
		return 0, errors.New("weaviate unavailable")
	}
	if f.pruned == nil {
		f.pruned = map[string]string{}
	}
	f.pruned[collection] = cutoff
	return f.perSweep, nil
}

func (f *fakePruner) StaleCount(_ context.Context, collection, cutoff string) (int, error) {
	if f.counted == nil {
		f.counted = map[string]string{}
	}
	f.counted[collection] = cutoff
	return f.perSweep, nil
}

func newTestRunner(t *testing.T, pruner *fakePruner) *Runner {
	t.Helper()
	settings := config.NewSettingsStore(filepath.Join(t.TempDir(), "settings.yml"), &config.Config{})
	r := NewRunner(settings, pruner, slog.Default())
	r.now = func() time.Time { return time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC) }
	return r
}

func TestRun_SweepsConfiguredCollections(t *testing.T) {
	pruner := &fakePruner{perSweep: 2}
	r := newTestRunner(t, pruner)

	results, err := r.Run(context.Background(), nil, false)
	require.NoError(t, err)

	// entities has no retention; everything else is swept.
	assert.NotContains(t, results, "entities")
	assert.Equal(t, 2, results["sessions"])
	assert.Equal(t, 2, results["snapshots"])

	// Cutoffs reflect each collection's days.
	assert.Equal(t, "2025-07-19T12:00:00Z", pruner.pruned["sessions"])  // 180 d
	assert.Equal(t, "2025-12-16T12:00:00Z", pruner.pruned["snapshots"]) // 30 d
	assert.Equal(t, "2025-01-15T12:00:00Z", pruner.pruned["decisions"]) // 365 d
}

func TestRun_Overrides(t *testing.T) {
	pruner := &fakePruner{perSweep: 1}
	r := newTestRunner(t, pruner)

	results, err := r.Run(context.Background(), map[string]int{
		"sessions": 7,
		"failures": 0, // disable
	}, false)
	require.NoError(t, err)

	assert.Equal(t, "2026-01-08T12:00:00Z", pruner.pruned["sessions"])
	assert.NotContains(t, results, "failures")
	assert.NotContains(t, pruner.pruned, "failures")
}

func TestRun_DryRunDeletesNothing(t *testing.T) {
	pruner := &fakePruner{perSweep: 5}
	r := newTestRunner(t, pruner)

	results, err := r.Run(context.Background(), nil, true)
	require.NoError(t, err)
	assert.Equal(t, 5, results["sessions"])
	assert.Empty(t, pruner.pruned)
	assert.NotEmpty(t, pruner.counted)
}

func TestRun_ContinuesPastFailures(t *testing.T) {
	pruner := &fakePruner{perSweep: 1, failFor: "decisions"}
	r := newTestRunner(t, pruner)

	results, err := r.Run(context.Background(), nil, false)
	assert.Error(t, err)
	assert.NotContains(t, results, "decisions")
	// Collections after the failing one were still swept.
	assert.Contains(t, results, "sessions")
	assert.Contains(t, results, "snapshots")
}

func TestPolicy(t *testing.T) {
	r := newTestRunner(t, &fakePruner{})
	policy := r.Policy()
	assert.Equal(t, 180, policy["sessions"])
	assert.Equal(t, 0, policy["entities"])
	assert.Equal(t, 365, policy["project_archive"])
}
