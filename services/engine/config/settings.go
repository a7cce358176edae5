// Copyright (C) 2026 Millyweb (dev@millyweb.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Settings are the runtime-adjustable knobs, persisted as YAML under the
// data directory. A missing file is not an error: defaults are derived from
// the startup Config and written back on the first save.
type Settings struct {
	LLM           LLMSettings          `yaml:"llm" json:"llm"`
	Watcher       WatcherSettings      `yaml:"watcher" json:"watcher"`
	Notifications NotificationSettings `yaml:"notifications" json:"notifications"`
	Retention     RetentionSettings    `yaml:"retention" json:"retention"`
}

type LLMSettings struct {
	BaseURL    string `yaml:"base_url" json:"base_url"`
	ModelFast  string `yaml:"model_fast" json:"model_fast"`
	ModelSmart string `yaml:"model_smart" json:"model_smart"`
}

type WatcherSettings struct {
	Enabled         bool `yaml:"enabled" json:"enabled"`
	DebounceSeconds int  `yaml:"debounce_seconds" json:"debounce_seconds"`
}

type NotificationSettings struct {
	TelegramEnabled bool `yaml:"telegram_enabled" json:"telegram_enabled"`
}

type RetentionSettings struct {
	// Days overrides the default retention per collection. Collections not
	// listed keep their defaults.
	Days map[string]int `yaml:"days" json:"days"`
}

// SettingsStore loads and persists Settings with copy-on-read semantics so
// handlers and the worker can consult it concurrently.
type SettingsStore struct {
	mu   sync.RWMutex
	path string
	cur  Settings
}

// NewSettingsStore reads the settings file at path, falling back to defaults
// derived from cfg when the file is absent or unreadable.
func NewSettingsStore(path string, cfg *Config) *SettingsStore {
	s := &SettingsStore{path: path, cur: defaultSettings(cfg)}
	data, err := os.ReadFile(path)
	if err != nil {
		return s
	}
	var loaded Settings
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return s
	}
	mergeSettings(&s.cur, loaded)
	return s
}

func defaultSettings(cfg *Config) Settings {
	return Settings{
		LLM: LLMSettings{
			BaseURL:    cfg.LLMBaseURL,
			ModelFast:  cfg.ModelFast,
			ModelSmart: cfg.ModelSmart,
		},
		Watcher: WatcherSettings{
			Enabled:         len(cfg.WatchDirs) > 0,
			DebounceSeconds: cfg.DebounceSeconds,
		},
		Notifications: NotificationSettings{
			TelegramEnabled: cfg.TelegramBotToken != "" && cfg.TelegramChatID != "",
		},
		Retention: RetentionSettings{Days: map[string]int{}},
	}
}

// mergeSettings overlays non-zero loaded values onto dst.
func mergeSettings(dst *Settings, src Settings) {
	if src.LLM.BaseURL != "" {
		dst.LLM.BaseURL = src.LLM.BaseURL
	}
	if src.LLM.ModelFast != "" {
		dst.LLM.ModelFast = src.LLM.ModelFast
	}
	if src.LLM.ModelSmart != "" {
		dst.LLM.ModelSmart = src.LLM.ModelSmart
	}
	if src.Watcher.DebounceSeconds > 0 {
		dst.Watcher = src.Watcher
	}
	dst.Notifications = src.Notifications
	if len(src.Retention.Days) > 0 {
		dst.Retention.Days = src.Retention.Days
	}
}

// Get returns a copy of the current settings.
func (s *SettingsStore) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.cur
	out.Retention.Days = make(map[string]int, len(s.cur.Retention.Days))
	for k, v := range s.cur.Retention.Days {
		out.Retention.Days[k] = v
	}
	return out
}

// Update applies and persists new settings atomically.
func (s *SettingsStore) Update(next Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := yaml.Marshal(next)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace settings: %w", err)
	}
	s.cur = next
	return nil
}

// RetentionDays returns the effective retention for a collection: the
// settings override when present, otherwise the compiled default.
func (s *SettingsStore) RetentionDays(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if d, ok := s.cur.Retention.Days[collection]; ok {
		return d
	}
	return Collections[collection]
}
