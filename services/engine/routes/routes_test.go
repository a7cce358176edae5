// Copyright (C) 2026 Millyweb (dev@millyweb.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/millyweb/contextengine/services/engine/advisories"
	"github.com/millyweb/contextengine/services/engine/backup"
	"github.com/millyweb/contextengine/services/engine/config"
	"github.com/millyweb/contextengine/services/engine/datatypes"
	"github.com/millyweb/contextengine/services/engine/degradation"
	"github.com/millyweb/contextengine/services/engine/integrity"
	"github.com/millyweb/contextengine/services/engine/retention"
	"github.com/millyweb/contextengine/services/engine/sessions"
	"github.com/millyweb/contextengine/services/engine/transcripts"
	"github.com/millyweb/contextengine/services/engine/worker"
)

type stubArchive struct{}

func (stubArchive) Search(context.Context, string, string, int, float64) ([]datatypes.SearchHit, error) {
	return nil, nil
}
func (stubArchive) GetRecent(context.Context, string, int) ([]datatypes.Document, error) {
	return nil, nil
}
func (stubArchive) Upsert(context.Context, string, string, string, map[string]any) error { return nil }
func (stubArchive) Snapshot(context.Context, string, string) (string, error)             { return "", nil }
func (stubArchive) Count(context.Context, string) (int, error)                           { return 0, nil }

func (stubArchive) Export(context.Context) (map[string][]datatypes.Document, error) {
	return map[string][]datatypes.Document{}, nil
}
func (stubArchive) Import(context.Context, map[string][]datatypes.Document) (int, error) {
	return 0, nil
}
func (stubArchive) Prune(context.Context, string, string) (int, error)      { return 0, nil }
func (stubArchive) StaleCount(context.Context, string, string) (int, error) { return 0, nil }

type stubMaster struct{}

func (stubMaster) ReadMaster() (string, string, error)               { return "# Master", "live", nil }
func (stubMaster) WriteMaster(context.Context, string, string) error { return nil }
func (stubMaster) Accessible() bool                                  { return true }

type stubExtractor struct{}

func (stubExtractor) ExtractSessionFields(context.Context, string) (*datatypes.ExtractedFields, error) {
	return &datatypes.ExtractedFields{}, nil
}
func (stubExtractor) ExtractFromTranscript(context.Context, string) (*datatypes.ExtractedFields, error) {
	return &datatypes.ExtractedFields{}, nil
}

type stubCompressor struct{}

func (stubCompressor) CompressMaster(context.Context, string, []string, int) (*datatypes.CompressedMaster, error) {
	return &datatypes.CompressedMaster{Markdown: "# Master"}, nil
}

type stubQueue struct{}

func (stubQueue) Enqueue(string, string) {}

type stubWorker struct{}

func (stubWorker) Stats() worker.Stats { return worker.Stats{} }
func (stubWorker) LearningMode() bool  { return false }

type stubModel struct{}

func (stubModel) CallCount() int64 { return 0 }

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	cfg := &config.Config{BackupsDir: filepath.Join(dir, "backups")}
	settings := config.NewSettingsStore(filepath.Join(dir, "settings.yml"), cfg)

	arch := stubArchive{}
	router := gin.New()
	SetupRoutes(router, Deps{
		Cfg:       cfg,
		Settings:  settings,
		Archive:   arch,
		Master:    stubMaster{},
		Store:     sessions.NewStore(filepath.Join(dir, "sessions")),
		TStore:    transcripts.NewStore(filepath.Join(dir, "transcripts")),
		Extract:   stubExtractor{},
		Compress:  stubCompressor{},
		Model:     stubModel{},
		Queue:     stubQueue{},
		Worker:    stubWorker{},
		Nudges:    advisories.NewNudgeStore(filepath.Join(dir, "nudges.json")),
		Anomalies: advisories.NewAnomalyStore(filepath.Join(dir, "anomalies.json")),
		Degrade:   degradation.NewManager(),
		Integrity: integrity.NewChecker(nil),
		Backups:   backup.NewManager(cfg, arch, stubMaster{}, nil, slog.Default()),
		Retention: retention.NewRunner(settings, arch, slog.Default()),
		Logger:    slog.Default(),
		Start:     time.Now(),
	})
	return router
}

func TestSetupRoutes_Wiring(t *testing.T) {
	router := newRouter(t)

	tests := []struct {
		method string
		path   string
		body   string
		want   int
	}{
		{http.MethodGet, "/health", "", http.StatusOK},
		{http.MethodGet, "/api/health", "", http.StatusOK},
		{http.MethodPost, "/api/load", "{}", http.StatusOK},
		{http.MethodGet, "/api/search", "", http.StatusBadRequest},
		{http.MethodGet, "/api/search?q=test", "", http.StatusOK},
		{http.MethodGet, "/api/summary", "", http.StatusOK},
		{http.MethodGet, "/api/stats", "", http.StatusOK},
		{http.MethodGet, "/api/worker", "", http.StatusOK},
		{http.MethodGet, "/api/nudges", "", http.StatusOK},
		{http.MethodGet, "/api/anomalies", "", http.StatusOK},
		{http.MethodGet, "/api/degradation", "", http.StatusOK},
		{http.MethodGet, "/api/transcripts", "", http.StatusOK},
		{http.MethodGet, "/api/internal/master-context", "", http.StatusOK},
		{http.MethodGet, "/api/watcher", "", http.StatusOK},
		{http.MethodGet, "/api/bootstrap/status", "", http.StatusOK},
		{http.MethodGet, "/api/backup/list", "", http.StatusOK},
		{http.MethodGet, "/api/retention", "", http.StatusOK},
		{http.MethodGet, "/api/settings", "", http.StatusOK},
		{http.MethodGet, "/api/ingest/sources", "", http.StatusOK},
		{http.MethodPost, "/api/save", `{"summary":"did a thing"}`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			if tt.body != "" {
				req.Header.Set("Content-Type", "application/json")
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestSetupRoutes_IngestKeyEnforced(t *testing.T) {
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	cfg := &config.Config{IngestAPIKey: "topsecret", BackupsDir: filepath.Join(dir, "backups")}
	settings := config.NewSettingsStore(filepath.Join(dir, "settings.yml"), cfg)

	router := gin.New()
	SetupRoutes(router, Deps{
		Cfg:       cfg,
		Settings:  settings,
		Archive:   stubArchive{},
		Master:    stubMaster{},
		Store:     sessions.NewStore(filepath.Join(dir, "sessions")),
		TStore:    transcripts.NewStore(filepath.Join(dir, "transcripts")),
		Extract:   stubExtractor{},
		Compress:  stubCompressor{},
		Model:     stubModel{},
		Queue:     stubQueue{},
		Worker:    stubWorker{},
		Nudges:    advisories.NewNudgeStore(filepath.Join(dir, "nudges.json")),
		Anomalies: advisories.NewAnomalyStore(filepath.Join(dir, "anomalies.json")),
		Degrade:   degradation.NewManager(),
		Integrity: integrity.NewChecker(nil),
		Backups:   backup.NewManager(cfg, stubArchive{}, stubMaster{}, nil, slog.Default()),
		Retention: retention.NewRunner(settings, stubArchive{}, slog.Default()),
		Logger:    slog.Default(),
		Start:     time.Now(),
	})

	req := httptest.NewRequest(http.MethodPost, "/api/ingest",
		strings.NewReader(`{"source":"agent","summary":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/ingest",
		strings.NewReader(`{"source":"agent","summary":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", "topsecret")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// The raw variant sits behind the same gate.
	req = httptest.NewRequest(http.MethodPost, "/api/ingest/raw",
		strings.NewReader(`{"source":"agent","raw_content":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Save stays open even with an ingest key set.
	req = httptest.NewRequest(http.MethodPost, "/api/save",
		strings.NewReader(`{"summary":"local save"}`))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
