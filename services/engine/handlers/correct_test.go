// Copyright (C) 2026 Millyweb (dev@millyweb.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/millyweb/contextengine/services/engine/datatypes"
)

// =============================================================================
// Hot Correction Tests
// =============================================================================

func TestCorrect_HotExactReplace(t *testing.T) {
	master := &fakeMaster{content: "The relay listens on port 9001."}
	h := Correct(newFakeArchive(), master, slog.Default())

	w := perform(h, http.MethodPost, "/x", datatypes.CorrectRequest{
		Item:       "port 9001",
		Correction: "port 9002",
		Scope:      "hot",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.CorrectResponse
	decode(t, w, &resp)
	assert.True(t, resp.MasterUpdated)
	assert.Zero(t, resp.ArchiveUpdated)

	require.Len(t, master.written, 1)
	assert.Equal(t, "The relay listens on port 9002.", master.written[0])
	assert.Contains(t, master.messages[0], "correction applied - replaced 'port 9001'")
	assert.NotContains(t, master.messages[0], "case-insensitive")
}

func TestCorrect_HotCaseInsensitiveFallback(t *testing.T) {
	master := &fakeMaster{content: "Postgres Runs On Host Alpha."}
	h := Correct(newFakeArchive(), master, slog.Default())

	w := perform(h, http.MethodPost, "/x", datatypes.CorrectRequest{
		Item:       "postgres runs on host alpha",
		Correction: "Postgres runs on host beta",
		Scope:      "hot",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.CorrectResponse
	decode(t, w, &resp)
	assert.True(t, resp.MasterUpdated)
	assert.Contains(t, master.messages[0], "(case-insensitive)")
	assert.Contains(t, master.written[0], "host beta")
}

func TestCorrect_HotNoMatch(t *testing.T) {
	master := &fakeMaster{content: "Nothing relevant here."}
	h := Correct(newFakeArchive(), master, slog.Default())

	w := perform(h, http.MethodPost, "/x", datatypes.CorrectRequest{
		Item:       "absent fact",
		Correction: "replacement",
		Scope:      "hot",
	})

	var resp datatypes.CorrectResponse
	decode(t, w, &resp)
	assert.False(t, resp.MasterUpdated)
	assert.Empty(t, master.written)
}

// =============================================================================
// Archive Correction Tests
// =============================================================================

func TestCorrect_ArchiveReplacesAndSnapshots(t *testing.T) {
	arch := newFakeArchive()
	arch.searchHits["decisions"] = []datatypes.SearchHit{hit(
		"decision-1", "We chose port 9001 for the relay", 0.9,
		map[string]any{"session_id": "ce-1"})}

	h := Correct(arch, &fakeMaster{content: "x"}, slog.Default())
	w := perform(h, http.MethodPost, "/x", datatypes.CorrectRequest{
		Item:       "port 9001",
		Correction: "port 9002",
		Scope:      "archive",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.CorrectResponse
	decode(t, w, &resp)
	assert.Equal(t, 1, resp.ArchiveUpdated)
	assert.False(t, resp.MasterUpdated)

	require.Len(t, arch.snapshots, 1)
	assert.Equal(t, "decisions/decision-1", arch.snapshots[0])

	require.Len(t, arch.upserts, 1)
	up := arch.upserts[0]
	assert.Equal(t, "We chose port 9002 for the relay", up.Content)
	assert.Equal(t, true, up.Metadata["corrected"])
	assert.Equal(t, "Replaced: port 9001", up.Metadata["correction_note"])
	assert.Equal(t, "ce-1", up.Metadata["session_id"])
}

func TestCorrect_ArchiveAppendsNoteWhenNoSubstring(t *testing.T) {
	arch := newFakeArchive()
	arch.searchHits["sessions"] = []datatypes.SearchHit{hit(
		"session-1", "Vaguely related session", 0.9, nil)}

	h := Correct(arch, &fakeMaster{content: "x"}, slog.Default())
	w := perform(h, http.MethodPost, "/x", datatypes.CorrectRequest{
		Item:       "wrong fact",
		Correction: "the database runs on beta",
		Scope:      "archive",
	})
	require.Equal(t, http.StatusOK, w.Code)

	require.Len(t, arch.upserts, 1)
	assert.Contains(t, arch.upserts[0].Content, "[CORRECTION: the database runs on beta]")
}

func TestCorrect_BothScopes(t *testing.T) {
	arch := newFakeArchive()
	arch.searchHits["entities"] = []datatypes.SearchHit{hit("entity-1", "relay on port 9001", 0.9, nil)}
	master := &fakeMaster{content: "relay on port 9001"}

	h := Correct(arch, master, slog.Default())
	w := perform(h, http.MethodPost, "/x", datatypes.CorrectRequest{
		Item:       "port 9001",
		Correction: "port 9002",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.CorrectResponse
	decode(t, w, &resp)
	assert.True(t, resp.MasterUpdated)
	assert.Equal(t, 1, resp.ArchiveUpdated)
}

func TestCorrect_InvalidScope(t *testing.T) {
	h := Correct(newFakeArchive(), &fakeMaster{}, slog.Default())
	w := perform(h, http.MethodPost, "/x", datatypes.CorrectRequest{
		Item: "a", Correction: "b", Scope: "everything",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
