// Copyright (C) 2026 Millyweb (dev@millyweb.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/millyweb/contextengine/services/engine/archive"
	"github.com/millyweb/contextengine/services/engine/datatypes"
	"github.com/millyweb/contextengine/services/engine/integrity"
)

// masterPlaceholder stands in when no master context can be read; sessions
// still get triaged against the placeholder.
const masterPlaceholder = "# Master Context\n*Not available*"

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

func slug(s string) string {
	return strings.Trim(slugRe.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

// Process runs the full pipeline for one queued session.
func (w *Worker) Process(ctx context.Context, item QueueItem) {
	record, err := w.store.Read(item.SessionID)
	if err != nil {
		w.fail(item.SessionID, fmt.Errorf("load session: %w", err))
		return
	}

	learning := w.LearningMode()
	if !learning && record.Significance == datatypes.SignificanceLow {
		w.logger.Info("skipping low-significance session", "session_id", record.SessionID)
		_ = w.store.MarkProcessed(record.SessionID, datatypes.ProcessedMarker{
			Timestamp: w.now().UTC().Format(time.RFC3339),
			Summary:   "skipped: low significance",
		})
		w.bumpSkipped()
		return
	}

	master, masterSource, err := w.master.ReadMaster()
	if err != nil {
		master = masterPlaceholder
		w.logger.Warn("master context unavailable, processing degraded", "session_id", record.SessionID)
	} else {
		w.logger.Debug("master context loaded", "source", masterSource)
	}

	// Snapshot the master before anything derived from this session can
	// touch it.
	snapID := fmt.Sprintf("snap-%s-%d", record.SessionID, w.now().Unix())
	if err := w.archive.Add(ctx, "snapshots", snapID, master, map[string]any{
		"source_collection": "master_context",
		"session_id":        record.SessionID,
		"snapshot_at":       w.now().UTC().Format(time.RFC3339),
	}); err != nil {
		w.logger.Warn("master snapshot failed", "error", err)
	}

	summary, err := w.model.Summarize(ctx, record)
	if err != nil {
		w.logger.Warn("summarize failed", "session_id", record.SessionID, "error", err)
	}
	if summary == nil {
		// Degraded summary straight from the record's own fields.
		summary = &datatypes.SessionSummary{
			Summary:      record.Summary,
			KeyTopics:    record.KeyTopics,
			Significance: record.Significance,
		}
	}

	// Triage always runs, even on a fallback summary or placeholder master.
	// Without it nothing routes, so a failure here aborts the session.
	triage, err := w.model.Triage(ctx, summary, record, master)
	if err != nil || triage == nil {
		w.fail(record.SessionID, fmt.Errorf("triage produced nothing for %s", record.SessionID))
		return
	}

	w.writeSessionDoc(ctx, record, summary)
	masterUpdates := w.applyTriage(ctx, record, triage, master, learning)
	w.archiveRecordLists(ctx, record)
	w.extractEntities(ctx, record, summary)

	if err := w.store.MarkProcessed(record.SessionID, datatypes.ProcessedMarker{
		Timestamp:     w.now().UTC().Format(time.RFC3339),
		Summary:       summary.Summary,
		TriageItems:   len(triage.Items),
		MasterUpdates: masterUpdates,
	}); err != nil {
		w.logger.Warn("mark processed failed", "session_id", record.SessionID, "error", err)
	}

	n := w.bumpProcessed(record.SessionID)
	w.runPeriodic(ctx, record.SessionID, n, learning)
}

func (w *Worker) fail(sessionID string, err error) {
	w.logger.Error("session processing failed", "session_id", sessionID, "error", err)
	w.mu.Lock()
	w.stats.Failed++
	w.stats.LastError = err.Error()
	w.mu.Unlock()
	w.counters.failed()
}

func (w *Worker) bumpSkipped() {
	w.mu.Lock()
	w.stats.Skipped++
	w.mu.Unlock()
	w.counters.skipped()
}

func (w *Worker) bumpProcessed(sessionID string) int {
	w.mu.Lock()
	w.stats.Processed++
	w.stats.LastProcessed = sessionID
	n := w.stats.Processed
	w.mu.Unlock()
	w.counters.processed()
	return n
}

// writeSessionDoc stores the condensed session in the sessions collection.
func (w *Worker) writeSessionDoc(ctx context.Context, record *datatypes.SessionRecord, summary *datatypes.SessionSummary) {
	body, _ := json.Marshal(map[string]any{
		"summary":       summary.Summary,
		"key_topics":    summary.KeyTopics,
		"significance":  summary.Significance,
		"raw_summary":   record.RawSummary,
		"files_changed": record.FilesChanged,
		"decisions":     record.Decisions,
		"failures":      record.Failures,
		"next_steps":    record.NextSteps,
	})
	err := w.archive.Upsert(ctx, "sessions", "session-"+record.SessionID, string(body), map[string]any{
		"session_id":   record.SessionID,
		"timestamp":    record.Timestamp,
		"significance": summary.Significance,
		"topics":       strings.Join(summary.KeyTopics, ","),
		"source":       record.Source,
	})
	if err != nil {
		w.logger.Warn("session doc write failed", "session_id", record.SessionID, "error", err)
	}
}

// applyTriage routes triage items and rewrites the master context through
// the integrity gate. The rewrite happens even when no updates accrued, so
// stale detail still compresses. Returns whether the master was updated.
func (w *Worker) applyTriage(ctx context.Context, record *datatypes.SessionRecord, triage *datatypes.TriageResult, master string, learning bool) bool {
	updates := make([]string, 0, len(triage.MasterContextUpdates)+len(triage.Items))
	for _, u := range triage.MasterContextUpdates {
		updates = append(updates, renderUpdate(u))
	}

	for idx, item := range triage.Items {
		action := item.Action
		if learning && action == datatypes.ActionDiscard {
			// Learning mode hoards: too early to know what matters.
			action = datatypes.ActionArchive
		}
		switch action {
		case datatypes.ActionKeep:
			updates = append(updates, item.Content)
		case datatypes.ActionArchive:
			docID := fmt.Sprintf("archive-%s-%d", record.SessionID, idx)
			if err := w.archive.Add(ctx, item.Collection, docID, item.Content, map[string]any{
				"session_id": record.SessionID,
				"reason":     item.Reason,
			}); err != nil {
				w.logger.Warn("archive item failed", "doc_id", docID, "error", err)
			}
		case datatypes.ActionMerge:
			w.mergeItem(ctx, record.SessionID, idx, item)
		case datatypes.ActionDiscard:
			// Dropped.
		}
	}

	return w.updateMaster(ctx, record.SessionID, master, updates)
}

// renderUpdate flattens a structured master update into an instruction line
// for the compression call.
func renderUpdate(u datatypes.MasterUpdate) string {
	action := u.Action
	if action == "" {
		action = datatypes.UpdateActionUpdate
	}
	return fmt.Sprintf("[%s] %s: %s", u.Section, action, u.Content)
}

// mergeItem folds new content into the closest existing archive entry, or
// stores it fresh when nothing matches.
func (w *Worker) mergeItem(ctx context.Context, sessionID string, idx int, item datatypes.TriageItem) {
	target := item.MergeTarget
	if target == "" {
		target = item.Content
	}
	hits, err := w.archive.Search(ctx, item.Collection, target, 1, archive.DistanceSearch)
	if err != nil || len(hits) == 0 {
		docID := fmt.Sprintf("archive-%s-%d", sessionID, idx)
		if err := w.archive.Add(ctx, item.Collection, docID, item.Content, map[string]any{
			"session_id": sessionID,
			"reason":     item.Reason,
		}); err != nil {
			w.logger.Warn("merge fallback add failed", "doc_id", docID, "error", err)
		}
		return
	}

	hit := hits[0]
	if _, err := w.archive.Snapshot(ctx, hit.Collection, hit.ID); err != nil {
		w.logger.Warn("pre-merge snapshot failed", "doc_id", hit.ID, "error", err)
	}
	merged := fmt.Sprintf("%s\n\n[Updated %s]\n%s",
		hit.Content, w.now().UTC().Format(time.RFC3339), item.Content)
	meta := map[string]any{"session_id": sessionID}
	for k, v := range hit.Metadata {
		if k != "created_at" && k != "updated_at" {
			meta[k] = v
		}
	}
	if err := w.archive.Upsert(ctx, hit.Collection, hit.ID, merged, meta); err != nil {
		w.logger.Warn("merge upsert failed", "doc_id", hit.ID, "error", err)
	}
}

// archiveRecordLists stores the record's own decisions and failures.
func (w *Worker) archiveRecordLists(ctx context.Context, record *datatypes.SessionRecord) {
	for idx, d := range record.Decisions {
		docID := fmt.Sprintf("decision-%s-%d", record.SessionID, idx)
		if err := w.archive.Add(ctx, "decisions", docID, d, map[string]any{
			"session_id": record.SessionID, "timestamp": record.Timestamp,
		}); err != nil {
			w.logger.Warn("decision write failed", "doc_id", docID, "error", err)
		}
	}
	for idx, f := range record.Failures {
		docID := fmt.Sprintf("failure-%s-%d", record.SessionID, idx)
		if err := w.archive.Add(ctx, "failures", docID, f, map[string]any{
			"session_id": record.SessionID, "timestamp": record.Timestamp, "status": "open",
		}); err != nil {
			w.logger.Warn("failure write failed", "doc_id", docID, "error", err)
		}
	}
}

// extractEntities upserts model-extracted entities keyed by slug, so the
// same entity across sessions converges onto one document per session.
func (w *Worker) extractEntities(ctx context.Context, record *datatypes.SessionRecord, summary *datatypes.SessionSummary) {
	content := summary.Summary
	if record.RawSummary != "" {
		content += "\n" + record.RawSummary
	}
	extracted, err := w.model.ExtractEntities(ctx, content)
	if err != nil || extracted == nil {
		return
	}
	for _, e := range extracted.Entities {
		if e.Name == "" {
			continue
		}
		docID := fmt.Sprintf("entity-%s-%s", slug(e.Name), record.SessionID)
		body := fmt.Sprintf("%s (%s)", e.Name, e.Type)
		if e.Context != "" {
			body += ": " + e.Context
		}
		if len(e.Relationships) > 0 {
			body += "\nRelationships: " + strings.Join(e.Relationships, "; ")
		}
		if err := w.archive.Upsert(ctx, "entities", docID, body, map[string]any{
			"session_id": record.SessionID, "type": e.Type, "name": e.Name,
		}); err != nil {
			w.logger.Warn("entity write failed", "doc_id", docID, "error", err)
		}
	}
}

// updateMaster compresses the master with the pending updates and runs the
// integrity gate on the draft. High severity vetoes the write.
func (w *Worker) updateMaster(ctx context.Context, sessionID, master string, updates []string) bool {
	activeProjects := CountActiveProjects(master)
	activeSources := len(w.store.RecentSources(50))
	budget := w.cfg.DynamicMasterBudget(activeProjects, activeSources)

	draft, err := w.model.CompressMaster(ctx, master, updates, budget)
	if err != nil || draft == nil || draft.Markdown == "" {
		w.logger.Warn("master compression unavailable, holding updates", "session_id", sessionID)
		return false
	}

	report := w.checker.Check(draft.Markdown, master)
	switch report.Severity {
	case integrity.SeverityHigh:
		blockedID := sessionID + "-blocked"
		if err := w.archive.Add(ctx, "snapshots", blockedID, draft.Markdown, map[string]any{
			"session_id": sessionID,
			"reason":     "integrity veto",
		}); err != nil {
			w.logger.Warn("blocked draft snapshot failed", "error", err)
		}
		detail, _ := json.Marshal(report.Dropped)
		w.logger.Error("master update vetoed", "session_id", sessionID, "dropped_facts", string(detail))
		w.alerter.Send(ctx, "Master Context Update BLOCKED",
			fmt.Sprintf("Session %s compression dropped known infrastructure facts: %s\nDraft preserved as snapshot %s.",
				sessionID, string(detail), blockedID),
			"error")
		return false
	case integrity.SeverityMedium, integrity.SeverityLow:
		w.logger.Warn("master update drops facts", "session_id", sessionID, "severity", report.Severity)
	}

	msg := fmt.Sprintf("ContextEngine: session %s triage", sessionID)
	if err := w.master.WriteMaster(ctx, draft.Markdown, msg); err != nil {
		w.logger.Error("master write failed", "session_id", sessionID, "error", err)
		return false
	}
	return true
}

// runPeriodic fires the enrichment passes on their cadences.
func (w *Worker) runPeriodic(ctx context.Context, sessionID string, processed int, learning bool) {
	if processed%patternEvery == 0 {
		w.detectPatterns(ctx, sessionID)
	}
	if !learning && processed%nudgeEvery == 0 {
		w.generateNudges(ctx, sessionID)
	}
	if !learning && processed%anomalyEvery == 0 {
		w.detectAnomalies(ctx, sessionID)
	}
}

func (w *Worker) detectPatterns(ctx context.Context, sessionID string) {
	docs, err := w.archive.GetRecent(ctx, "sessions", 10)
	if err != nil || len(docs) < 5 {
		return
	}
	summaries := make([]string, 0, len(docs))
	for _, d := range docs {
		summaries = append(summaries, d.Content)
	}
	detected, err := w.model.DetectPatterns(ctx, summaries)
	if err != nil || detected == nil {
		return
	}
	for _, p := range detected.Patterns {
		docID := fmt.Sprintf("pattern-%s-%s", sessionID, slug(p.Type))
		body := p.Pattern
		if p.Frequency > 0 {
			body += fmt.Sprintf("\nSeen in %d recent sessions.", p.Frequency)
		}
		if p.Suggestion != "" {
			body += "\nSuggestion: " + p.Suggestion
		}
		if err := w.archive.Upsert(ctx, "patterns", docID, body, map[string]any{
			"session_id": sessionID, "type": p.Type, "frequency": p.Frequency,
		}); err != nil {
			w.logger.Warn("pattern write failed", "doc_id", docID, "error", err)
		}
	}
}

func (w *Worker) generateNudges(ctx context.Context, sessionID string) {
	patterns, _ := w.archive.Search(ctx, "patterns", "recent", 5, archive.DistanceLoad)
	failures, _ := w.archive.Search(ctx, "failures", "recent", 5, archive.DistanceLoad)
	if len(patterns) == 0 && len(failures) == 0 {
		return
	}
	master, sessions := w.advisoryContext(ctx)
	generated, err := w.model.GenerateNudges(ctx, master, sessions, contents(patterns), contents(failures))
	if err != nil || generated == nil {
		return
	}
	for _, n := range generated.Nudges {
		if _, err := w.advisory.AddNudge(datatypes.Nudge{
			Message:          n.Message,
			Type:             n.Type,
			Priority:         n.Priority,
			SessionID:        sessionID,
			ExpiresAfterDays: n.ExpiresAfterDays,
		}); err != nil {
			w.logger.Warn("nudge store failed", "error", err)
		}
	}
}

func (w *Worker) detectAnomalies(ctx context.Context, sessionID string) {
	decisions, _ := w.archive.Search(ctx, "decisions", "recent", 10, 0)
	resolutions, _ := w.archive.Search(ctx, "failures", "resolved", 10, 0)
	if len(decisions) == 0 {
		return
	}
	master, sessions := w.advisoryContext(ctx)
	detected, err := w.model.DetectAnomalies(ctx, master, sessions, contents(decisions), contents(resolutions))
	if err != nil || detected == nil {
		return
	}
	for _, a := range detected.Anomalies {
		if _, err := w.advisory.AddAnomaly(datatypes.Anomaly{
			Description:      a.Description,
			Type:             a.Type,
			Severity:         a.Severity,
			Evidence:         a.Evidence,
			SessionID:        sessionID,
			ExpiresAfterDays: a.ExpiresAfterDays,
		}); err != nil {
			w.logger.Warn("anomaly store failed", "error", err)
		}
	}
}

// advisoryContext gathers the master context and recent session summaries
// that ground nudge and anomaly generation.
func (w *Worker) advisoryContext(ctx context.Context) (string, []string) {
	master, _, err := w.master.ReadMaster()
	if err != nil {
		master = masterPlaceholder
	}
	docs, err := w.archive.GetRecent(ctx, "sessions", 5)
	if err != nil {
		return master, nil
	}
	sessions := make([]string, 0, len(docs))
	for _, d := range docs {
		sessions = append(sessions, d.Content)
	}
	return master, sessions
}

func contents(hits []datatypes.SearchHit) []string {
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.Content)
	}
	return out
}

// CountActiveProjects counts the "### " project headings inside the
// "## Active Projects" section of the master context.
func CountActiveProjects(master string) int {
	lines := strings.Split(master, "\n")
	inSection := false
	count := 0
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "## ") {
			inSection = strings.EqualFold(trimmed, "## Active Projects")
			continue
		}
		if inSection && strings.HasPrefix(trimmed, "### ") {
			count++
		}
	}
	return count
}
