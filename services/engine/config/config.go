// Copyright (C) 2026 Millyweb (dev@millyweb.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config holds the engine configuration.
//
// All configuration comes from environment variables at startup; a small
// subset (model routing, retention, watcher, notifications) can additionally
// be overridden at runtime through the settings file (see settings.go).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Version is reported by the health endpoint and the stdio bridge.
const Version = "2.1.0"

// Master-context budget defaults. The budget grows with active projects and
// sources up to the ceiling.
const (
	MasterContextBaseChars   = 20000
	MasterContextMaxChars    = 32000
	MasterContextPerProject  = 2000
	MasterContextPerSource   = 1500
	MasterContextLegacyChars = 8000 // compact profile, selectable via MASTER_CONTEXT_PROFILE=compact

	MaxLoadResponseChars = 40000
	MaxTranscriptChars   = 120000
)

// Collections enumerates the archive collections with their default
// retention in days (0 = never prune).
var Collections = map[string]int{
	"project_archive": 365,
	"decisions":       365,
	"failures":        365,
	"entities":        0,
	"sessions":        180,
	"patterns":        365,
	"snapshots":       30,
	"anomalies":       180,
}

// collectionAliases maps model-hallucinated collection names to real ones.
var collectionAliases = map[string]string{
	"session_history":   "sessions",
	"session_summaries": "sessions",
	"projects":          "project_archive",
	"project_history":   "project_archive",
	"decision_log":      "decisions",
	"failure_log":       "failures",
	"error_log":         "failures",
	"people":            "entities",
	"services":          "entities",
	"anomaly_log":       "anomalies",
	"conflicts":         "anomalies",
}

// ResolveCollection maps a requested collection name to a canonical one.
// Unknown names fall back to project_archive.
func ResolveCollection(name string) string {
	if _, ok := Collections[name]; ok {
		return name
	}
	if resolved, ok := collectionAliases[name]; ok {
		return resolved
	}
	return "project_archive"
}

// Config is the engine's full startup configuration. Built once in Load()
// and passed to each collaborator by the composition root.
type Config struct {
	Port         int
	Debug        bool
	LearningMode bool

	// Data paths
	DataDir        string
	SessionsDir    string
	TranscriptsDir string
	BackupsDir     string
	NudgesFile     string
	AnomaliesFile  string
	SettingsFile   string

	// Master context
	KBRoot            string
	MasterContextPath string // relative to KBRoot
	LocalMasterPath   string
	StandaloneMode    bool

	// Vector store
	WeaviateHost   string
	WeaviateScheme string

	// Model provider
	LLMBaseURL    string
	LLMAPIKey     string
	ModelFast     string
	ModelSmart    string
	CompactMaster bool

	// Worker
	RatePerMinute float64

	// Watcher
	WatchDirs          []string
	WatchGitRoot       string
	WatchTranscriptDir string
	DebounceSeconds    int

	// Alerts
	TelegramBotToken string
	TelegramChatID   string

	// Ingest auth (empty = open access)
	IngestAPIKey string

	// Backup object store
	GCSBucket string
}

// Load reads configuration from the environment. It returns an error only
// for values that cannot be parsed; missing values take defaults.
func Load() (*Config, error) {
	dataDir := envStr("DATA_DIR", "/app/data")

	port, err := envInt("PORT", 9040)
	if err != nil {
		return nil, err
	}
	debounce, err := envInt("WATCH_DEBOUNCE_SECONDS", 10)
	if err != nil {
		return nil, err
	}
	ratePerMin, err := envFloat("WORKER_RATE_PER_MINUTE", 1.0)
	if err != nil {
		return nil, err
	}
	if ratePerMin <= 0 {
		return nil, fmt.Errorf("WORKER_RATE_PER_MINUTE must be positive, got %v", ratePerMin)
	}

	cfg := &Config{
		Port:         port,
		Debug:        envBool("DEBUG", false),
		LearningMode: envBool("LEARNING_MODE", true),

		DataDir:        dataDir,
		SessionsDir:    envStr("SESSIONS_DIR", filepath.Join(dataDir, "sessions")),
		TranscriptsDir: envStr("TRANSCRIPTS_DIR", filepath.Join(dataDir, "transcripts")),
		BackupsDir:     filepath.Join(dataDir, "backups"),
		NudgesFile:     filepath.Join(dataDir, "nudges.json"),
		AnomaliesFile:  filepath.Join(dataDir, "anomalies.json"),
		SettingsFile:   filepath.Join(dataDir, "settings.yaml"),

		KBRoot:            envStr("KB_ROOT", "/data/kb"),
		MasterContextPath: envStr("MASTER_CONTEXT_PATH", "projects/context-engine/master-context.md"),
		LocalMasterPath:   filepath.Join(dataDir, "master-context.md"),
		StandaloneMode:    envBool("STANDALONE_MODE", false),

		WeaviateHost:   envStr("WEAVIATE_HOST", "context-engine-weaviate:8080"),
		WeaviateScheme: envStr("WEAVIATE_SCHEME", "http"),

		LLMBaseURL:    envStr("LLM_BASE_URL", envStr("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1")),
		LLMAPIKey:     envStr("LLM_API_KEY", envStr("OPENROUTER_API_KEY", "")),
		ModelFast:     envStr("LLM_MODEL_FAST", "anthropic/claude-haiku-4.5"),
		ModelSmart:    envStr("LLM_MODEL_SMART", "anthropic/claude-sonnet-4.5"),
		CompactMaster: envStr("MASTER_CONTEXT_PROFILE", "") == "compact",

		RatePerMinute: ratePerMin,

		WatchDirs:          splitCSV(os.Getenv("WATCH_DIRS")),
		WatchGitRoot:       envStr("WATCH_GIT_ROOT", "/watch"),
		WatchTranscriptDir: os.Getenv("WATCH_TRANSCRIPT_DIR"),
		DebounceSeconds:    debounce,

		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:   os.Getenv("TELEGRAM_CHAT_ID"),

		IngestAPIKey: os.Getenv("CONTEXT_ENGINE_API_KEY"),

		GCSBucket: os.Getenv("BACKUP_GCS_BUCKET"),
	}
	return cfg, nil
}

// MasterBudgetBase returns the base character budget for the master context,
// honoring the compact profile when selected.
func (c *Config) MasterBudgetBase() int {
	if c.CompactMaster {
		return MasterContextLegacyChars
	}
	return MasterContextBaseChars
}

// DynamicMasterBudget computes the current master-context budget from the
// number of active projects and distinct session sources.
func (c *Config) DynamicMasterBudget(activeProjects, activeSources int) int {
	budget := c.MasterBudgetBase() +
		activeProjects*MasterContextPerProject +
		activeSources*MasterContextPerSource
	if budget > MasterContextMaxChars {
		return MasterContextMaxChars
	}
	return budget
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := strings.ToLower(os.Getenv(key))
	if v == "" {
		return def
	}
	return v == "true" || v == "1" || v == "yes"
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", key, v, err)
	}
	return n, nil
}

func envFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", key, v, err)
	}
	return f, nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
