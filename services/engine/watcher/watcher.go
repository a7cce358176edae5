// Copyright (C) 2026 Millyweb (dev@millyweb.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package watcher monitors a version-controlled working tree, commits
// changes in debounced batches, and turns each batch into an
// infrastructure session for the async pipeline. It also detects compose
// stack changes, leaked credentials, and newly appearing services.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/millyweb/contextengine/services/engine/config"
	"github.com/millyweb/contextengine/services/engine/gitcmd"
	"github.com/millyweb/contextengine/services/engine/sessions"
)

const (
	gitAuthorEmail = "contextengine@millyweb.com"
	gitAuthorName  = "ContextEngine FileWatcher"

	defaultDebounce = 10 * time.Second
)

// Directory names never descended into or reported on.
var ignoreDirs = map[string]struct{}{
	".git": {}, "node_modules": {}, "__pycache__": {},
	".venv": {}, "venv": {}, "data": {},
}

// Extensions of build artifacts, swap files, and local state.
var ignoreExtensions = map[string]struct{}{
	".pyc": {}, ".swp": {}, ".swo": {}, ".tmp": {},
	".log": {}, ".db": {}, ".sqlite": {},
}

var ignorePrefixes = []string{".#", "#"}

// Enqueuer pushes a stored session onto the processing queue.
type Enqueuer interface {
	Enqueue(sessionID, file string)
}

// Alerter delivers operator alerts.
type Alerter interface {
	Send(ctx context.Context, title, body, level string)
}

// Stats is the watcher's state snapshot for /api/watcher.
type Stats struct {
	Running        bool   `json:"running"`
	EventsSeen     int    `json:"events_seen"`
	Batches        int    `json:"batches_processed"`
	Commits        int    `json:"commits_made"`
	ComposeChanges int    `json:"compose_changes"`
	CredentialHits int    `json:"credential_hits"`
	NewDirectories int    `json:"new_directories"`
	PendingFiles   int    `json:"pending_files"`
	LastCommit     string `json:"last_commit,omitempty"`
	LastBatchAt    string `json:"last_batch_at,omitempty"`
}

// Watcher owns the working tree at cfg.WatchGitRoot. It is the tree's
// single writer; nothing else commits there.
type Watcher struct {
	cfg      *config.Config
	settings *config.SettingsStore
	store    *sessions.Store
	queue    Enqueuer
	alerter  Alerter
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer
	stats   Stats
	batches chan []string

	now func() time.Time
	git func(ctx context.Context, dir string, args ...string) (string, error)
}

// New builds a Watcher over cfg.WatchGitRoot.
func New(cfg *config.Config, settings *config.SettingsStore, store *sessions.Store,
	queue Enqueuer, alerter Alerter, logger *slog.Logger) *Watcher {
	return &Watcher{
		cfg:      cfg,
		settings: settings,
		store:    store,
		queue:    queue,
		alerter:  alerter,
		logger:   logger,
		pending:  map[string]struct{}{},
		batches:  make(chan []string, 4),
		now:      time.Now,
		git:      gitcmd.Run,
	}
}

// Stats returns a snapshot of watcher counters.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.stats
	out.PendingFiles = len(w.pending)
	return out
}

func (w *Watcher) debounce() time.Duration {
	if w.settings != nil {
		if s := w.settings.Get().Watcher.DebounceSeconds; s > 0 {
			return time.Duration(s) * time.Second
		}
	}
	if w.cfg.DebounceSeconds > 0 {
		return time.Duration(w.cfg.DebounceSeconds) * time.Second
	}
	return defaultDebounce
}

// shouldIgnore filters events by directory name, extension, and prefix.
func shouldIgnore(rel string) bool {
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if _, ok := ignoreDirs[part]; ok {
			return true
		}
	}
	base := filepath.Base(rel)
	for _, p := range ignorePrefixes {
		if strings.HasPrefix(base, p) {
			return true
		}
	}
	_, ok := ignoreExtensions[strings.ToLower(filepath.Ext(base))]
	return ok
}

// Run watches until the context is canceled. fsnotify is not recursive,
// so every directory is added individually and new directories are added
// as they appear.
func (w *Watcher) Run(ctx context.Context) error {
	root := w.cfg.WatchGitRoot
	if err := gitcmd.EnsureRepo(ctx, root, gitAuthorEmail, gitAuthorName); err != nil {
		return fmt.Errorf("prepare working tree %s: %w", root, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()

	dirs := w.cfg.WatchDirs
	if len(dirs) == 0 {
		dirs = []string{root}
	}
	for _, d := range dirs {
		if !filepath.IsAbs(d) {
			d = filepath.Join(root, d)
		}
		if err := addTree(fsw, d); err != nil {
			w.logger.Warn("watch dir unavailable", "dir", d, "error", err)
		}
	}

	w.mu.Lock()
	w.stats.Running = true
	w.mu.Unlock()
	w.logger.Info("file watcher started", "root", root, "dirs", len(dirs))

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			w.stats.Running = false
			w.mu.Unlock()
			return ctx.Err()
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(fsw, root, ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		case batch := <-w.batches:
			w.processBatch(ctx, batch)
		}
	}
}

func (w *Watcher) handleEvent(fsw *fsnotify.Watcher, root string, ev fsnotify.Event) {
	rel, err := filepath.Rel(root, ev.Name)
	if err != nil || shouldIgnore(rel) {
		return
	}

	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := addTree(fsw, ev.Name); err != nil {
				w.logger.Warn("watch new dir failed", "dir", ev.Name, "error", err)
			}
		}
	}
	if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) &&
		!ev.Op.Has(fsnotify.Remove) && !ev.Op.Has(fsnotify.Rename) {
		return
	}

	w.mu.Lock()
	w.pending[filepath.ToSlash(rel)] = struct{}{}
	w.stats.EventsSeen++
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce(), w.flush)
	w.mu.Unlock()
}

// flush drains the pending set onto the batch channel. Runs on the timer
// goroutine; the batch itself is processed on the Run loop.
func (w *Watcher) flush() {
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	batch := make([]string, 0, len(w.pending))
	for p := range w.pending {
		batch = append(batch, p)
	}
	w.pending = map[string]struct{}{}
	w.mu.Unlock()

	select {
	case w.batches <- batch:
	default:
		// Queue full: push the paths back for the next timer.
		w.mu.Lock()
		for _, p := range batch {
			w.pending[p] = struct{}{}
		}
		w.timer = time.AfterFunc(w.debounce(), w.flush)
		w.mu.Unlock()
	}
}

func addTree(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if _, ok := ignoreDirs[d.Name()]; ok && path != root {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
}

// sessionID returns the infra session id for a batch processed at t.
func sessionID(t time.Time) string {
	return "infra-watch-" + t.UTC().Format("20060102-150405")
}
