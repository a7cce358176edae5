// Copyright (C) 2026 Millyweb (dev@millyweb.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package worker runs the async session pipeline.
//
// # Description
//
// Saved sessions are queued here and drained one at a time: summarize,
// triage, archive, update the master context, then stamp the session file
// processed. Model calls are rate limited and gated on the provider's
// circuit breaker; when the breaker is open, work is pushed back and the
// worker sleeps instead of burning the queue into failures.
//
// The idle loop doubles as the maintenance scheduler for daily backups
// and retention sweeps.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/millyweb/contextengine/services/engine/config"
	"github.com/millyweb/contextengine/services/engine/datatypes"
	"github.com/millyweb/contextengine/services/engine/degradation"
	"github.com/millyweb/contextengine/services/engine/integrity"
	"github.com/millyweb/contextengine/services/engine/sessions"
)

const (
	idlePoll       = 5 * time.Second
	breakerBackoff = 30 * time.Second
	backupInterval = 24 * time.Hour

	// Learning mode ends once this many sessions exist; until then the
	// engine archives aggressively and stays quiet.
	learningThreshold = 20

	// Periodic enrichment cadences, in processed sessions.
	patternEvery = 5
	nudgeEvery   = 3
	anomalyEvery = 4
)

// QueueItem is one pending session.
type QueueItem struct {
	SessionID string    `json:"session_id"`
	File      string    `json:"file"`
	QueuedAt  time.Time `json:"queued_at"`
}

// Model is the slice of the model client the worker uses.
type Model interface {
	Summarize(ctx context.Context, record *datatypes.SessionRecord) (*datatypes.SessionSummary, error)
	Triage(ctx context.Context, summary *datatypes.SessionSummary, record *datatypes.SessionRecord, master string) (*datatypes.TriageResult, error)
	CompressMaster(ctx context.Context, master string, updates []string, budgetChars int) (*datatypes.CompressedMaster, error)
	ExtractEntities(ctx context.Context, content string) (*datatypes.ExtractedEntities, error)
	DetectPatterns(ctx context.Context, summaries []string) (*datatypes.DetectedPatterns, error)
	GenerateNudges(ctx context.Context, master string, sessions, patterns, failures []string) (*datatypes.GeneratedNudges, error)
	DetectAnomalies(ctx context.Context, master string, sessions, decisions, resolutions []string) (*datatypes.DetectedAnomalies, error)
}

// Archive is the slice of the vector store the worker uses.
type Archive interface {
	Add(ctx context.Context, collection, docID, content string, metadata map[string]any) error
	Upsert(ctx context.Context, collection, docID, content string, metadata map[string]any) error
	Search(ctx context.Context, collection, query string, limit int, maxDistance float64) ([]datatypes.SearchHit, error)
	GetRecent(ctx context.Context, collection string, n int) ([]datatypes.Document, error)
	Snapshot(ctx context.Context, collection, docID string) (string, error)
}

// MasterStore reads and writes the master context.
type MasterStore interface {
	ReadMaster() (content, source string, err error)
	WriteMaster(ctx context.Context, content, commitMessage string) error
}

// Advisories receives generated nudges and anomalies.
type Advisories interface {
	AddNudge(n datatypes.Nudge) (bool, error)
	AddAnomaly(a datatypes.Anomaly) (bool, error)
}

// Alerter delivers operator alerts.
type Alerter interface {
	Send(ctx context.Context, title, body, level string)
}

// Maintenance hooks run from the idle loop.
type Maintenance interface {
	AutoBackup(ctx context.Context) error
	RunRetention(ctx context.Context) (map[string]int, error)
}

// Counters are the worker's metrics hooks; any may be nil.
type Counters struct {
	Processed  func()
	Failed     func()
	Skipped    func()
	QueueDepth func(int)
}

func (c Counters) processed() {
	if c.Processed != nil {
		c.Processed()
	}
}
func (c Counters) failed() {
	if c.Failed != nil {
		c.Failed()
	}
}
func (c Counters) skipped() {
	if c.Skipped != nil {
		c.Skipped()
	}
}
func (c Counters) queueDepth(n int) {
	if c.QueueDepth != nil {
		c.QueueDepth(n)
	}
}

// Stats is the worker's externally visible state.
type Stats struct {
	Processed     int    `json:"processed"`
	Failed        int    `json:"failed"`
	Skipped       int    `json:"skipped"`
	LastProcessed string `json:"last_processed,omitempty"`
	LastError     string `json:"last_error,omitempty"`
	QueueDepth    int    `json:"queue_depth"`
	Processing    bool   `json:"processing"`
}

// Worker drains the session queue.
type Worker struct {
	cfg      *config.Config
	store    *sessions.Store
	model    Model
	archive  Archive
	master   MasterStore
	advisory Advisories
	alerter  Alerter
	checker  *integrity.Checker
	degrade  *degradation.Manager
	maint    Maintenance
	counters Counters
	logger   *slog.Logger
	limiter  *rate.Limiter

	mu         sync.Mutex
	queue      []QueueItem
	stats      Stats
	lastBackup time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

// New builds a Worker. maint may be nil to disable idle maintenance.
func New(cfg *config.Config, store *sessions.Store, model Model, arch Archive, master MasterStore,
	advisory Advisories, alerter Alerter, checker *integrity.Checker,
	degrade *degradation.Manager, maint Maintenance, counters Counters, logger *slog.Logger) *Worker {
	return &Worker{
		cfg:        cfg,
		store:      store,
		model:      model,
		archive:    arch,
		master:     master,
		advisory:   advisory,
		alerter:    alerter,
		checker:    checker,
		degrade:    degrade,
		maint:      maint,
		counters:   counters,
		logger:     logger,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerMinute/60.0), 1),
		now:        time.Now,
		sleep:      sleepCtx,
		lastBackup: time.Now(),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Enqueue appends a session to the queue.
func (w *Worker) Enqueue(sessionID, file string) {
	w.mu.Lock()
	w.queue = append(w.queue, QueueItem{SessionID: sessionID, File: file, QueuedAt: w.now()})
	depth := len(w.queue)
	w.mu.Unlock()
	w.counters.queueDepth(depth)
	w.logger.Info("session queued", "session_id", sessionID, "queue_depth", depth)
}

func (w *Worker) pop() (QueueItem, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return QueueItem{}, false
	}
	item := w.queue[0]
	w.queue = w.queue[1:]
	w.counters.queueDepth(len(w.queue))
	return item, true
}

func (w *Worker) requeue(item QueueItem) {
	w.mu.Lock()
	w.queue = append(w.queue, item)
	w.counters.queueDepth(len(w.queue))
	w.mu.Unlock()
}

// QueueDepth returns the number of pending sessions.
func (w *Worker) QueueDepth() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// Stats returns a snapshot of worker state.
func (w *Worker) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.stats
	out.QueueDepth = len(w.queue)
	return out
}

// LearningMode reports whether the engine is still in its initial
// archive-everything phase.
func (w *Worker) LearningMode() bool {
	if !w.cfg.LearningMode {
		return false
	}
	total, _, _ := w.store.Counts()
	return total < learningThreshold
}

// Run drains the queue until the context is canceled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started", "rate_per_minute", w.cfg.RatePerMinute)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		item, ok := w.pop()
		if !ok {
			w.idle(ctx)
			w.sleep(ctx, idlePoll)
			continue
		}
		if !w.degrade.CanCall(degradation.DepLLM) {
			w.requeue(item)
			w.logger.Warn("model breaker open, backing off", "session_id", item.SessionID)
			w.sleep(ctx, breakerBackoff)
			continue
		}
		if err := w.limiter.Wait(ctx); err != nil {
			return err
		}
		w.setProcessing(true)
		w.Process(ctx, item)
		w.setProcessing(false)
	}
}

func (w *Worker) setProcessing(v bool) {
	w.mu.Lock()
	w.stats.Processing = v
	w.mu.Unlock()
}

// idle runs scheduled maintenance when the queue is empty.
func (w *Worker) idle(ctx context.Context) {
	if w.maint == nil {
		return
	}
	w.mu.Lock()
	due := w.now().Sub(w.lastBackup) >= backupInterval
	if due {
		w.lastBackup = w.now()
	}
	w.mu.Unlock()
	if !due {
		return
	}

	if err := w.maint.AutoBackup(ctx); err != nil {
		w.logger.Error("auto backup failed", "error", err)
		w.alerter.Send(ctx, "Auto Backup Failed", err.Error(), "error")
	}
	if pruned, err := w.maint.RunRetention(ctx); err != nil {
		w.logger.Error("retention sweep failed", "error", err)
	} else {
		w.logger.Info("retention sweep done", "pruned", pruned)
	}
}
