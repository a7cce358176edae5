// Copyright (C) 2026 Millyweb (dev@millyweb.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/millyweb/contextengine/services/engine/datatypes"
	"github.com/millyweb/contextengine/services/engine/sessions"
	"github.com/millyweb/contextengine/services/engine/worker"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// Fakes
// =============================================================================

type fakeArchive struct {
	mu         sync.Mutex
	searchHits map[string][]datatypes.SearchHit
	searchErr  map[string]error
	recent     map[string][]datatypes.Document
	recentErr  error
	counts     map[string]int
	upserts    []upsertCall
	snapshots  []string
}

type upsertCall struct {
	Collection string
	DocID      string
	Content    string
	Metadata   map[string]any
}

func newFakeArchive() *fakeArchive {
	return &fakeArchive{
		searchHits: map[string][]datatypes.SearchHit{},
		searchErr:  map[string]error{},
		recent:     map[string][]datatypes.Document{},
		counts:     map[string]int{},
	}
}

func (f *fakeArchive) Search(_ context.Context, collection, _ string, _ int, _ float64) ([]datatypes.SearchHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.searchErr[collection]; err != nil {
		return nil, err
	}
	return f.searchHits[collection], nil
}

func (f *fakeArchive) GetRecent(_ context.Context, collection string, _ int) ([]datatypes.Document, error) {
	if f.recentErr != nil {
		return nil, f.recentErr
	}
	return f.recent[collection], nil
}

func (f *fakeArchive) Upsert(_ context.Context, collection, docID, content string, metadata map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, upsertCall{collection, docID, content, metadata})
	return nil
}

func (f *fakeArchive) Snapshot(_ context.Context, collection, docID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots = append(f.snapshots, collection+"/"+docID)
	return "snap-" + docID, nil
}

func (f *fakeArchive) Count(_ context.Context, collection string) (int, error) {
	return f.counts[collection], nil
}

type fakeMaster struct {
	content  string
	source   string
	readErr  error
	writeErr error
	written  []string
	messages []string
}

func (f *fakeMaster) ReadMaster() (string, string, error) {
	if f.readErr != nil {
		return "", "", f.readErr
	}
	return f.content, f.source, nil
}

func (f *fakeMaster) WriteMaster(_ context.Context, content, msg string) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.written = append(f.written, content)
	f.messages = append(f.messages, msg)
	f.content = content
	return nil
}

func (f *fakeMaster) Accessible() bool { return f.readErr == nil }

type fakeExtractor struct {
	fields         *datatypes.ExtractedFields
	err            error
	summaryCalls   int
	transcripts    int
	lastInput      string
	lastTranscript string
}

func (f *fakeExtractor) ExtractSessionFields(_ context.Context, text string) (*datatypes.ExtractedFields, error) {
	f.summaryCalls++
	f.lastInput = text
	return f.fields, f.err
}

func (f *fakeExtractor) ExtractFromTranscript(_ context.Context, transcript string) (*datatypes.ExtractedFields, error) {
	f.transcripts++
	f.lastTranscript = transcript
	return f.fields, f.err
}

type fakeQueue struct {
	mu    sync.Mutex
	items []string
}

func (f *fakeQueue) Enqueue(sessionID, file string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, sessionID)
}

type fakeWorkerInfo struct {
	stats    worker.Stats
	learning bool
}

func (f *fakeWorkerInfo) Stats() worker.Stats { return f.stats }
func (f *fakeWorkerInfo) LearningMode() bool  { return f.learning }

type fakeModelInfo struct{ calls int64 }

func (f *fakeModelInfo) CallCount() int64 { return f.calls }

// =============================================================================
// Helpers
// =============================================================================

func perform(handler gin.HandlerFunc, method, path string, body any) *httptest.ResponseRecorder {
	router := gin.New()
	router.Handle(method, "/x", handler)

	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	target := "/x"
	if i := strings.Index(path, "?"); i >= 0 {
		target += path[i:]
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
}

func newSessionStore(t *testing.T) *sessions.Store {
	t.Helper()
	return sessions.NewStore(t.TempDir())
}

// =============================================================================
// Session ID Tests
// =============================================================================

func TestSessionIDFormats(t *testing.T) {
	at, err := time.Parse(time.RFC3339, "2026-01-15T12:00:00Z")
	require.NoError(t, err)

	sid := newSessionID(at)
	assert.True(t, strings.HasPrefix(sid, "ce-20260115-"))
	assert.Len(t, sid, len("ce-20260115-")+8)

	iid := ingestSessionID("OpenClaw Agent", at, false)
	assert.True(t, strings.HasPrefix(iid, "openclaw-agent-20260115-120000-"))

	raw := ingestSessionID("relay", at, true)
	assert.True(t, strings.HasPrefix(raw, "relay-raw-20260115-120000-"))
}

func TestClip(t *testing.T) {
	assert.Equal(t, "short", clip("short", 10))
	assert.Equal(t, "abcde...", clip("abcdefgh", 5))
}
