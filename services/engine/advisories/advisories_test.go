// Copyright (C) 2026 Millyweb (dev@millyweb.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package advisories

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/millyweb/contextengine/services/engine/datatypes"
)

func newNudgeStore(t *testing.T) (*NudgeStore, *time.Time) {
	t.Helper()
	s := NewNudgeStore(filepath.Join(t.TempDir(), "nudges.json"))
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	return s, &now
}

func nudge(message, priority, sessionID string) datatypes.Nudge {
	return datatypes.Nudge{Message: message, Priority: priority, SessionID: sessionID}
}

func TestNudges_AddAndPrioritySort(t *testing.T) {
	s, _ := newNudgeStore(t)

	added, err := s.Add(nudge("check the backlog for the retention sweep", datatypes.PriorityLow, "ce-1"))
	require.NoError(t, err)
	assert.True(t, added)
	_, err = s.Add(nudge("weaviate disk usage is climbing fast", datatypes.PriorityHigh, "ce-1"))
	require.NoError(t, err)
	_, err = s.Add(nudge("consider promoting the ingest topic", "", "ce-2"))
	require.NoError(t, err)

	items := s.List(0)
	require.Len(t, items, 3)
	assert.Equal(t, datatypes.PriorityHigh, items[0].Priority)
	assert.Equal(t, datatypes.PriorityMedium, items[1].Priority)
	assert.Equal(t, datatypes.PriorityLow, items[2].Priority)
}

func TestNudges_DuplicateSuppression(t *testing.T) {
	s, _ := newNudgeStore(t)

	_, err := s.Add(nudge("Check the ingest endpoint auth before the next deploy", datatypes.PriorityMedium, ""))
	require.NoError(t, err)

	// Exact match, different case.
	added, err := s.Add(nudge("check the INGEST endpoint auth before the next deploy", datatypes.PriorityMedium, ""))
	require.NoError(t, err)
	assert.False(t, added)

	// Near match over the overlap threshold.
	added, err = s.Add(nudge("Check the ingest endpoint auth before next deploy", datatypes.PriorityMedium, ""))
	require.NoError(t, err)
	assert.False(t, added)

	// Genuinely different message.
	added, err = s.Add(nudge("Rotate the telegram bot token this quarter", datatypes.PriorityMedium, ""))
	require.NoError(t, err)
	assert.True(t, added)
}

func TestNudges_TTLExpiry(t *testing.T) {
	s, now := newNudgeStore(t)
	_, err := s.Add(nudge("old reminder about the compose stack", datatypes.PriorityLow, ""))
	require.NoError(t, err)

	*now = now.Add(8 * 24 * time.Hour)
	assert.Empty(t, s.List(0))
}

func TestNudges_PerEntryTTLOverride(t *testing.T) {
	s, now := newNudgeStore(t)
	short := nudge("short-lived deploy window reminder", datatypes.PriorityMedium, "")
	short.ExpiresAfterDays = 2
	long := nudge("long-lived architecture review reminder", datatypes.PriorityMedium, "")
	long.ExpiresAfterDays = 30
	_, err := s.Add(short)
	require.NoError(t, err)
	_, err = s.Add(long)
	require.NoError(t, err)

	// Past the override but inside the default: only the short one goes.
	*now = now.Add(3 * 24 * time.Hour)
	items := s.List(0)
	require.Len(t, items, 1)
	assert.Equal(t, long.Message, items[0].Message)

	// The 30-day override outlives the 7-day default.
	*now = now.Add(10 * 24 * time.Hour)
	items = s.List(0)
	require.Len(t, items, 1)
	assert.Equal(t, long.Message, items[0].Message)
}

func TestNudges_CapEvictsLowestRank(t *testing.T) {
	s, now := newNudgeStore(t)
	for i := 0; i < maxNudges; i++ {
		*now = now.Add(time.Minute)
		_, err := s.Add(nudge(fmt.Sprintf("distinct low nudge number %d about topic%d", i, i), datatypes.PriorityLow, ""))
		require.NoError(t, err)
	}
	_, err := s.Add(nudge("critical path regression in the worker queue", datatypes.PriorityHigh, ""))
	require.NoError(t, err)

	items := s.List(0)
	assert.Len(t, items, maxNudges)
	assert.Equal(t, datatypes.PriorityHigh, items[0].Priority)
}

func TestNudges_Dismiss(t *testing.T) {
	s, _ := newNudgeStore(t)
	_, err := s.Add(nudge("promote the Zipline topic to master context", datatypes.PriorityMedium, ""))
	require.NoError(t, err)
	_, err = s.Add(nudge("rotate stale credentials in the env file", datatypes.PriorityMedium, ""))
	require.NoError(t, err)

	marked, err := s.Dismiss("ZIPLINE")
	require.NoError(t, err)
	assert.Equal(t, 1, marked)
	assert.Len(t, s.List(0), 1)

	// Dismissing again marks nothing new.
	marked, err = s.Dismiss("zipline")
	require.NoError(t, err)
	assert.Equal(t, 0, marked)
}

func TestNudges_DismissedTombstoneBlocksReadd(t *testing.T) {
	s, _ := newNudgeStore(t)
	_, err := s.Add(nudge("promote the Zipline topic to master context", datatypes.PriorityMedium, ""))
	require.NoError(t, err)

	_, err = s.Dismiss("zipline")
	require.NoError(t, err)
	assert.Empty(t, s.List(0))

	// The tombstone keeps the same advisory from coming back.
	added, err := s.Add(nudge("promote the zipline topic to master context", datatypes.PriorityMedium, ""))
	require.NoError(t, err)
	assert.False(t, added)
	assert.Empty(t, s.List(0))
}

func TestAnomalies_SeveritySortAndStats(t *testing.T) {
	s := NewAnomalyStore(filepath.Join(t.TempDir(), "anomalies.json"))
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	_, err := s.Add(datatypes.Anomaly{
		Description: "decision reverses an earlier postgres choice silently",
		Severity:    datatypes.SeverityMedium, SessionID: "ce-1",
	})
	require.NoError(t, err)
	_, err = s.Add(datatypes.Anomaly{
		Description: "master context names a service that was decommissioned",
		Severity:    datatypes.SeverityCritical, SessionID: "ce-2",
	})
	require.NoError(t, err)

	items := s.List(0)
	require.Len(t, items, 2)
	assert.Equal(t, datatypes.SeverityCritical, items[0].Severity)

	stats := s.Stats()
	assert.Equal(t, 2, stats["total"])
	assert.Equal(t, map[string]int{"critical": 1, "medium": 1}, stats["by_severity"])
}

func TestAnomalies_DismissKeepsTombstone(t *testing.T) {
	s := NewAnomalyStore(filepath.Join(t.TempDir(), "anomalies.json"))
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	_, err := s.Add(datatypes.Anomaly{
		Description: "sessions contradict the recorded caddy layout",
		Severity:    datatypes.SeverityHigh,
	})
	require.NoError(t, err)

	marked, err := s.Dismiss("caddy layout")
	require.NoError(t, err)
	assert.Equal(t, 1, marked)
	assert.Empty(t, s.List(0))

	added, err := s.Add(datatypes.Anomaly{
		Description: "sessions contradict the recorded caddy layout",
		Severity:    datatypes.SeverityHigh,
	})
	require.NoError(t, err)
	assert.False(t, added)
}

func TestNudges_PersistAcrossStores(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nudges.json")
	first := NewNudgeStore(path)
	_, err := first.Add(nudge("persisted across restarts", datatypes.PriorityMedium, ""))
	require.NoError(t, err)

	second := NewNudgeStore(path)
	items := second.List(0)
	require.Len(t, items, 1)
	assert.Equal(t, "persisted across restarts", items[0].Message)
}
