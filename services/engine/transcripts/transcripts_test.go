// Copyright (C) 2026 Millyweb (dev@millyweb.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package transcripts

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(t.TempDir())
	base := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	// Monotonic clock so replacement files never collide on name.
	s.now = func() time.Time {
		base = base.Add(time.Second)
		return base
	}
	return s
}

func TestSave_CreateLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	content := strings.Repeat("user: try the ingest endpoint again\n", 50)

	res, err := s.Save("ce-20260115-abc12345", content)
	require.NoError(t, err)
	assert.True(t, res.Stored)
	assert.Equal(t, "created", res.Action)
	assert.Equal(t, len(content), res.Chars)
	assert.Greater(t, res.SizeKB, 0.0)

	loaded, err := s.Load("ce-20260115-abc12345")
	require.NoError(t, err)
	assert.Equal(t, content, loaded)
}

func TestSave_ShorterIsSkipped(t *testing.T) {
	s := newTestStore(t)
	long := strings.Repeat("line\n", 100)

	_, err := s.Save("ce-1", long)
	require.NoError(t, err)

	res, err := s.Save("ce-1", "just a fragment")
	require.NoError(t, err)
	assert.False(t, res.Stored)
	assert.Equal(t, "skipped", res.Action)

	loaded, err := s.Load("ce-1")
	require.NoError(t, err)
	assert.Equal(t, long, loaded)
}

func TestSave_LongerReplaces(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Save("ce-1", "short start")
	require.NoError(t, err)

	longer := strings.Repeat("much longer transcript\n", 40)
	res, err := s.Save("ce-1", longer)
	require.NoError(t, err)
	assert.Equal(t, "updated", res.Action)

	loaded, err := s.Load("ce-1")
	require.NoError(t, err)
	assert.Equal(t, longer, loaded)

	// The old file is gone.
	entries, err := s.List()
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestList_RecoversSessionIDs(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Save("ce-20260115-abc12345", "first session transcript")
	require.NoError(t, err)
	_, err = s.Save("transcript-daily_notes", "dropped file transcript")
	require.NoError(t, err)

	entries, err := s.List()
	require.NoError(t, err)
	require.Len(t, entries, 2)

	ids := []string{entries[0].SessionID, entries[1].SessionID}
	assert.Contains(t, ids, "ce-20260115-abc12345")
	// Underscores inside the id survive: only the trailing timestamp splits off.
	assert.Contains(t, ids, "transcript-daily_notes")
}

func TestLoad_MissingSession(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Load("nope")
	assert.Error(t, err)
}

func TestTruncateForSummary(t *testing.T) {
	small := "short transcript"
	assert.Equal(t, small, TruncateForSummary(small))

	big := strings.Repeat("a", 80000) + strings.Repeat("z", 80000)
	out := TruncateForSummary(big)
	assert.LessOrEqual(t, len(out), MaxSummarizeChars)
	assert.Contains(t, out, truncationMarker)
	assert.True(t, strings.HasPrefix(out, "a"))
	assert.True(t, strings.HasSuffix(out, "z"))
}
