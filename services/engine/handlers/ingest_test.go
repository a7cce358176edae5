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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/millyweb/contextengine/services/engine/datatypes"
)

// =============================================================================
// Ingest Tests
// =============================================================================

func TestIngest_StructuredRecord(t *testing.T) {
	store := newSessionStore(t)
	extract := &fakeExtractor{}
	queue := &fakeQueue{}

	h := Ingest(store, extract, queue, slog.Default())
	w := perform(h, http.MethodPost, "/x", datatypes.IngestRequest{
		Source:       "night-agent",
		Summary:      "Rotated the backup keys",
		KeyTopics:    []string{"backups"},
		Significance: "high",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.SaveResponse
	decode(t, w, &resp)
	assert.Equal(t, "accepted", resp.Status)
	assert.True(t, strings.HasPrefix(resp.SessionID, "night-agent-"))
	assert.NotContains(t, resp.SessionID, "-raw-")
	assert.Zero(t, extract.summaryCalls)

	rec, err := store.Read(resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "night-agent", rec.Source)
	assert.Equal(t, "high", rec.Significance)
	assert.Equal(t, []string{resp.SessionID}, queue.items)
}

func TestIngest_RawContentExtracted(t *testing.T) {
	store := newSessionStore(t)
	extract := &fakeExtractor{fields: &datatypes.ExtractedFields{
		Summary:   "Agent rotated keys overnight",
		KeyTopics: []string{"backups"},
	}}

	h := Ingest(store, extract, &fakeQueue{}, slog.Default())
	w := perform(h, http.MethodPost, "/x", datatypes.IngestRequest{
		Source:     "night-agent",
		RawContent: "02:00 rotated keys\n02:05 verified restore",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.SaveResponse
	decode(t, w, &resp)
	assert.Contains(t, resp.SessionID, "-raw-")
	assert.Equal(t, 1, extract.summaryCalls)

	rec, err := store.Read(resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "Agent rotated keys overnight", rec.Summary)
	assert.Equal(t, "02:00 rotated keys\n02:05 verified restore", rec.RawSummary)
}

func TestIngest_RequiresContent(t *testing.T) {
	h := Ingest(newSessionStore(t), &fakeExtractor{}, &fakeQueue{}, slog.Default())
	w := perform(h, http.MethodPost, "/x", datatypes.IngestRequest{Source: "night-agent"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIngest_RequiresSource(t *testing.T) {
	h := Ingest(newSessionStore(t), &fakeExtractor{}, &fakeQueue{}, slog.Default())
	w := perform(h, http.MethodPost, "/x", map[string]string{"summary": "no source"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIngestRaw_IgnoresSummaryField(t *testing.T) {
	store := newSessionStore(t)
	extract := &fakeExtractor{fields: &datatypes.ExtractedFields{Summary: "extracted"}}

	h := IngestRaw(store, extract, &fakeQueue{}, slog.Default())
	w := perform(h, http.MethodPost, "/x", datatypes.IngestRequest{
		Source:     "relay",
		Summary:    "agent-provided summary is not trusted here",
		RawContent: "raw log lines",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.SaveResponse
	decode(t, w, &resp)
	assert.Contains(t, resp.SessionID, "-raw-")
	assert.Equal(t, 1, extract.summaryCalls)

	rec, err := store.Read(resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "extracted", rec.Summary)
}

func TestIngestRaw_RequiresRawContent(t *testing.T) {
	h := IngestRaw(newSessionStore(t), &fakeExtractor{}, &fakeQueue{}, slog.Default())
	w := perform(h, http.MethodPost, "/x", datatypes.IngestRequest{
		Source:  "relay",
		Summary: "summary alone is the structured endpoint's job",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// =============================================================================
// Source Aggregation Tests
// =============================================================================

func TestIngestSources_Aggregates(t *testing.T) {
	store := newSessionStore(t)
	for i, src := range []string{"night-agent", "night-agent", "relay", ""} {
		require.NoError(t, store.Write(&datatypes.SessionRecord{
			SessionID: strings.Repeat("a", i+1),
			Timestamp: "2026-01-15T10:00:00Z",
			Summary:   "x",
			Source:    src,
		}))
	}

	h := IngestSources(store)
	w := perform(h, http.MethodGet, "/x", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Sources  map[string]int `json:"sources"`
		Distinct int            `json:"distinct"`
	}
	decode(t, w, &resp)
	assert.Equal(t, 2, resp.Sources["night-agent"])
	assert.Equal(t, 1, resp.Sources["relay"])
}
