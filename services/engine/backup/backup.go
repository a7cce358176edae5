// Copyright (C) 2026 Millyweb (dev@millyweb.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package backup snapshots the engine's durable state into timestamped
// directories and optionally mirrors them to an object store.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/millyweb/contextengine/services/engine/config"
	"github.com/millyweb/contextengine/services/engine/datatypes"
)

const keepBackups = 10

// Archive is the slice of the vector store the backup needs.
type Archive interface {
	Export(ctx context.Context) (map[string][]datatypes.Document, error)
	Import(ctx context.Context, dump map[string][]datatypes.Document) (int, error)
}

// MasterStore reads and restores the master context.
type MasterStore interface {
	ReadMaster() (content, source string, err error)
	WriteMaster(ctx context.Context, content, commitMessage string) error
}

// Uploader mirrors backup directories to remote storage.
type Uploader interface {
	UploadDir(ctx context.Context, localDir, remotePrefix string) error
	DownloadDir(ctx context.Context, remotePrefix, localDir string) error
}

// Metadata describes one backup directory.
type Metadata struct {
	Name           string   `json:"name"`
	Timestamp      string   `json:"timestamp"`
	Components     []string `json:"components"`
	TotalSizeBytes int64    `json:"total_size_bytes"`
}

// RestoreResult reports what a restore brought back.
type RestoreResult struct {
	Name              string `json:"name"`
	DocumentsRestored int    `json:"documents_restored"`
	MasterRestored    bool   `json:"master_restored"`
	FilesRestored     int    `json:"files_restored"`
}

// Manager owns the backups directory.
type Manager struct {
	cfg      *config.Config
	archive  Archive
	master   MasterStore
	uploader Uploader
	logger   *slog.Logger

	now func() time.Time
}

// NewManager builds a Manager. uploader may be nil for local-only backups.
func NewManager(cfg *config.Config, archive Archive, master MasterStore, uploader Uploader, logger *slog.Logger) *Manager {
	return &Manager{cfg: cfg, archive: archive, master: master, uploader: uploader, logger: logger, now: time.Now}
}

// Create writes a new backup directory and prunes old ones. Components
// that cannot be captured are skipped, not fatal; a backup with no
// components at all is.
func (m *Manager) Create(ctx context.Context, includeSessions bool) (*Metadata, error) {
	name := m.now().UTC().Format("2006-01-02_150405")
	dir := filepath.Join(m.cfg.BackupsDir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}

	var components []string

	if master, _, err := m.master.ReadMaster(); err == nil {
		if err := os.WriteFile(filepath.Join(dir, "master-context.md"), []byte(master), 0o644); err == nil {
			components = append(components, "master-context.md")
		}
	} else {
		m.logger.Warn("backup skipping master context", "error", err)
	}

	for src, dst := range map[string]string{
		m.cfg.NudgesFile:    "nudges.json",
		m.cfg.AnomaliesFile: "anomalies.json",
	} {
		if src == "" {
			continue
		}
		if err := copyFile(src, filepath.Join(dir, dst)); err == nil {
			components = append(components, dst)
		}
	}

	if dump, err := m.archive.Export(ctx); err == nil {
		// Only non-empty collections go into the dump.
		for collection, docs := range dump {
			if len(docs) == 0 {
				delete(dump, collection)
			}
		}
		raw, err := json.MarshalIndent(dump, "", "  ")
		if err == nil && os.WriteFile(filepath.Join(dir, "archive-export.json"), raw, 0o644) == nil {
			components = append(components, "archive-export.json")
		}
	} else {
		m.logger.Warn("backup skipping archive export", "error", err)
	}

	if includeSessions && m.cfg.SessionsDir != "" {
		if n := copyDir(m.cfg.SessionsDir, filepath.Join(dir, "sessions")); n > 0 {
			components = append(components, "sessions")
		}
	}

	if len(components) == 0 {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("backup %s captured no components", name)
	}
	sort.Strings(components)

	meta := &Metadata{
		Name:           name,
		Timestamp:      m.now().UTC().Format(time.RFC3339),
		Components:     components,
		TotalSizeBytes: dirSize(dir),
	}
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, "metadata.json"), raw, 0o644); err != nil {
		return nil, fmt.Errorf("write backup metadata: %w", err)
	}

	m.pruneOld()

	if m.uploader != nil {
		if err := m.uploader.UploadDir(ctx, dir, name); err != nil {
			m.logger.Warn("backup upload failed", "backup", name, "error", err)
		}
	}

	m.logger.Info("backup created", "backup", name,
		"components", len(components), "size_bytes", meta.TotalSizeBytes)
	return meta, nil
}

// AutoBackup satisfies the worker's idle maintenance hook.
func (m *Manager) AutoBackup(ctx context.Context) error {
	_, err := m.Create(ctx, false)
	return err
}

// List returns backup metadata, newest first.
func (m *Manager) List() ([]Metadata, error) {
	entries, err := os.ReadDir(m.cfg.BackupsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []Metadata
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(m.cfg.BackupsDir, e.Name(), "metadata.json"))
		if err != nil {
			continue
		}
		var meta Metadata
		if json.Unmarshal(raw, &meta) == nil {
			out = append(out, meta)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name > out[j].Name })
	return out, nil
}

// Latest returns the newest backup, or nil when none exist.
func (m *Manager) Latest() *Metadata {
	list, err := m.List()
	if err != nil || len(list) == 0 {
		return nil
	}
	return &list[0]
}

// Restore re-imports a backup into the live system. A backup missing
// locally is fetched from the object store first.
func (m *Manager) Restore(ctx context.Context, name string) (*RestoreResult, error) {
	dir := filepath.Join(m.cfg.BackupsDir, name)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if m.uploader == nil {
			return nil, fmt.Errorf("backup %s not found", name)
		}
		if err := m.uploader.DownloadDir(ctx, name, dir); err != nil {
			return nil, fmt.Errorf("fetch backup %s: %w", name, err)
		}
	}

	result := &RestoreResult{Name: name}

	if raw, err := os.ReadFile(filepath.Join(dir, "archive-export.json")); err == nil {
		var dump map[string][]datatypes.Document
		if err := json.Unmarshal(raw, &dump); err != nil {
			return nil, fmt.Errorf("parse archive export: %w", err)
		}
		n, err := m.archive.Import(ctx, dump)
		result.DocumentsRestored = n
		if err != nil {
			return result, fmt.Errorf("re-import archive: %w", err)
		}
	}

	if raw, err := os.ReadFile(filepath.Join(dir, "master-context.md")); err == nil {
		msg := "ContextEngine: restore master context from backup " + name
		if err := m.master.WriteMaster(ctx, string(raw), msg); err != nil {
			return result, fmt.Errorf("restore master context: %w", err)
		}
		result.MasterRestored = true
	}

	for src, dst := range map[string]string{
		"nudges.json":    m.cfg.NudgesFile,
		"anomalies.json": m.cfg.AnomaliesFile,
	} {
		if dst == "" {
			continue
		}
		if err := copyFile(filepath.Join(dir, src), dst); err == nil {
			result.FilesRestored++
		}
	}

	m.logger.Info("backup restored", "backup", name,
		"documents", result.DocumentsRestored, "master", result.MasterRestored)
	return result, nil
}

// pruneOld keeps the newest keepBackups directories.
func (m *Manager) pruneOld() {
	entries, err := os.ReadDir(m.cfg.BackupsDir)
	if err != nil {
		return
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	if len(names) <= keepBackups {
		return
	}
	sort.Strings(names) // timestamp names sort chronologically
	for _, name := range names[:len(names)-keepBackups] {
		if err := os.RemoveAll(filepath.Join(m.cfg.BackupsDir, name)); err != nil {
			m.logger.Warn("backup prune failed", "backup", name, "error", err)
		} else {
			m.logger.Info("old backup removed", "backup", name)
		}
	}
}

func copyFile(src, dst string) error {
	raw, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dst, raw, 0o644)
}

// copyDir copies the regular files of src into dst, returning how many.
func copyDir(src, dst string) int {
	entries, err := os.ReadDir(src)
	if err != nil {
		return 0
	}
	copied := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if copyFile(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())) == nil {
			copied++
		}
	}
	return copied
}

func dirSize(dir string) int64 {
	var total int64
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
