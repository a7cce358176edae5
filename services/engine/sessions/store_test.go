// Copyright (C) 2026 Millyweb (dev@millyweb.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sessions

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/millyweb/contextengine/services/engine/datatypes"
)

func sample(id string) *datatypes.SessionRecord {
	return &datatypes.SessionRecord{
		SessionID:    id,
		Timestamp:    "2026-01-15T12:00:00Z",
		Source:       "claude-code",
		Summary:      "moved retention into the worker idle loop",
		KeyTopics:    []string{"retention", "worker"},
		Significance: datatypes.SignificanceMedium,
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	s := NewStore(t.TempDir())
	require.NoError(t, s.Write(sample("ce-20260115-abc12345")))

	got, err := s.Read("ce-20260115-abc12345")
	require.NoError(t, err)
	assert.Equal(t, "moved retention into the worker idle loop", got.Summary)
	assert.Equal(t, []string{"retention", "worker"}, got.KeyTopics)
	assert.Nil(t, got.Processed)
}

func TestWrite_RequiresID(t *testing.T) {
	s := NewStore(t.TempDir())
	assert.Error(t, s.Write(&datatypes.SessionRecord{Summary: "no id"}))
}

func TestMarkProcessed(t *testing.T) {
	s := NewStore(t.TempDir())
	require.NoError(t, s.Write(sample("ce-1")))
	require.NoError(t, s.MarkProcessed("ce-1", datatypes.ProcessedMarker{
		Timestamp:     "2026-01-15T12:05:00Z",
		Summary:       "condensed",
		TriageItems:   4,
		MasterUpdates: true,
	}))

	got, err := s.Read("ce-1")
	require.NoError(t, err)
	require.NotNil(t, got.Processed)
	assert.Equal(t, 4, got.Processed.TriageItems)
	assert.True(t, got.Processed.MasterUpdates)
}

func TestCountsAndList(t *testing.T) {
	s := NewStore(t.TempDir())
	require.NoError(t, s.Write(sample("ce-1")))
	require.NoError(t, s.Write(sample("ce-2")))
	require.NoError(t, s.MarkProcessed("ce-1", datatypes.ProcessedMarker{Timestamp: "t"}))

	total, processed, unprocessed := s.Counts()
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, processed)
	assert.Equal(t, 1, unprocessed)
}

func TestList_NewestFirst(t *testing.T) {
	s := NewStore(t.TempDir())
	require.NoError(t, s.Write(sample("ce-old")))
	require.NoError(t, s.Write(sample("ce-new")))
	old := s.pathFor("ce-old")
	require.NoError(t, os.Chtimes(old, time.Now().Add(-time.Hour), time.Now().Add(-time.Hour)))

	entries, err := s.List()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "ce-new", entries[0].SessionID)
	assert.Equal(t, "ce-old", entries[1].SessionID)
}

func TestRecentSources(t *testing.T) {
	s := NewStore(t.TempDir())
	a := sample("ce-1")
	b := sample("ce-2")
	b.Source = "mcp-bridge"
	c := sample("ce-3")
	c.Source = ""
	require.NoError(t, s.Write(a))
	require.NoError(t, s.Write(b))
	require.NoError(t, s.Write(c))

	assert.Equal(t, []string{"claude-code", "mcp-bridge"}, s.RecentSources(50))
}
