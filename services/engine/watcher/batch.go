// Copyright (C) 2026 Millyweb (dev@millyweb.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/millyweb/contextengine/services/engine/datatypes"
)

const maxSessionFiles = 20

// batchReport is what one debounced batch produced.
type batchReport struct {
	Staged  []string
	Commit  string
	Message string
	Stat    string
	Stacks  []ComposeStack
	Creds   []CredentialHit
	NewDirs []string
}

func (r *batchReport) interesting() bool {
	return len(r.Stacks) > 0 || len(r.Creds) > 0 || len(r.NewDirs) > 0
}

// processBatch commits the batch, analyzes it, updates the ledger, and
// emits an infrastructure session.
func (w *Watcher) processBatch(ctx context.Context, paths []string) {
	root := w.cfg.WatchGitRoot

	if _, err := w.git(ctx, root, "add", "-A"); err != nil {
		w.logger.Error("git add failed", "error", err)
		return
	}
	stagedOut, err := w.git(ctx, root, "diff", "--cached", "--name-only")
	if err != nil {
		w.logger.Error("git diff failed", "error", err)
		return
	}
	staged := splitLines(stagedOut)
	if len(staged) == 0 {
		w.logger.Debug("batch had no staged changes", "events", len(paths))
		return
	}

	msg := commitMessage(staged)
	if _, err := w.git(ctx, root, "commit", "-m", msg); err != nil {
		w.logger.Error("git commit failed", "error", err)
		return
	}
	hash, _ := w.git(ctx, root, "rev-parse", "--short", "HEAD")
	hash = strings.TrimSpace(hash)
	stat := ""
	if out, err := w.git(ctx, root, "diff", "HEAD~1", "--stat"); err == nil {
		if lines := splitLines(out); len(lines) > 0 {
			stat = strings.TrimSpace(lines[len(lines)-1])
		}
	}

	report := &batchReport{Staged: staged, Commit: hash, Message: msg, Stat: stat}
	w.analyze(ctx, root, report)

	if report.interesting() {
		if err := w.writeLedger(ctx, root, report); err != nil {
			w.logger.Warn("ledger update failed", "error", err)
		}
	}

	w.emitSession(report)
	w.sendAlerts(ctx, report)

	w.mu.Lock()
	w.stats.Batches++
	w.stats.Commits++
	w.stats.ComposeChanges += len(report.Stacks)
	w.stats.CredentialHits += len(report.Creds)
	w.stats.NewDirectories += len(report.NewDirs)
	w.stats.LastCommit = hash
	w.stats.LastBatchAt = w.now().UTC().Format(time.RFC3339)
	w.mu.Unlock()

	w.logger.Info("batch committed", "commit", hash, "files", len(staged),
		"stacks", len(report.Stacks), "credentials", len(report.Creds), "new_dirs", len(report.NewDirs))
}

// commitMessage derives the auto-commit message from the staged paths.
func commitMessage(staged []string) string {
	if len(staged) <= 3 {
		return "auto: " + strings.Join(staged, ", ")
	}
	seen := map[string]struct{}{}
	var tops []string
	for _, p := range staged {
		top := strings.SplitN(filepath.ToSlash(p), "/", 2)[0]
		if _, ok := seen[top]; !ok {
			seen[top] = struct{}{}
			tops = append(tops, top)
		}
	}
	sort.Strings(tops)
	if len(tops) > 2 {
		tops = tops[:2]
	}
	return fmt.Sprintf("auto: %d file(s) in %s", len(staged), strings.Join(tops, ", "))
}

func (w *Watcher) analyze(ctx context.Context, root string, report *batchReport) {
	for _, rel := range report.Staged {
		base := filepath.Base(rel)
		full := filepath.Join(root, rel)

		if isComposeFile(base) {
			content, err := os.ReadFile(full)
			if err != nil {
				continue
			}
			services := ParseCompose(content)
			if len(services) > 0 {
				report.Stacks = append(report.Stacks, ComposeStack{
					File: rel, Name: stackName(rel), Services: services,
				})
			}
			continue
		}

		if isCredentialFile(base) {
			content, err := os.ReadFile(full)
			if err != nil {
				continue
			}
			report.Creds = append(report.Creds, ScanContent(rel, string(content))...)
		} else if isTextFile(base) {
			// Only the lines this commit added.
			added := w.addedLines(ctx, root, rel)
			if added != "" {
				report.Creds = append(report.Creds, ScanContent(rel, added)...)
			}
		}
	}

	report.NewDirs = w.newDirectories(ctx, root, report.Staged)
}

// addedLines returns the "+" lines of the latest commit's diff for one file.
func (w *Watcher) addedLines(ctx context.Context, root, rel string) string {
	out, err := w.git(ctx, root, "diff", "HEAD~1", "--unified=0", "--", rel)
	if err != nil {
		// First commit in the repo: scan the whole file was deliberate for
		// credential files only, so skip here.
		return ""
	}
	var added []string
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++") {
			added = append(added, strings.TrimPrefix(line, "+"))
		}
	}
	return strings.Join(added, "\n")
}

// newDirectories finds top-level/second-level path pairs whose history
// holds at most one commit, meaning they just appeared.
func (w *Watcher) newDirectories(ctx context.Context, root string, staged []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, rel := range staged {
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) < 3 {
			continue
		}
		pair := parts[0] + "/" + parts[1]
		if _, ok := seen[pair]; ok {
			continue
		}
		seen[pair] = struct{}{}
		log, err := w.git(ctx, root, "log", "--oneline", "-2", "--", pair)
		if err != nil {
			continue
		}
		if len(splitLines(log)) <= 1 {
			out = append(out, pair)
		}
	}
	sort.Strings(out)
	return out
}

// emitSession writes the batch as a session record and enqueues it.
func (w *Watcher) emitSession(report *batchReport) {
	now := w.now()
	id := sessionID(now)

	summary := fmt.Sprintf("[%s] %s", report.Commit, report.Message)
	if report.Stat != "" {
		summary += ". " + report.Stat
	}

	significance := datatypes.SignificanceLow
	if report.interesting() {
		significance = datatypes.SignificanceMedium
	}

	tags := []string{"infra-watcher"}
	if len(report.Stacks) > 0 {
		tags = append(tags, "compose-change")
		for _, s := range report.Stacks {
			tags = append(tags, s.Name)
		}
	}
	if len(report.Creds) > 0 {
		tags = append(tags, "credential-detected")
	}
	if len(report.NewDirs) > 0 {
		tags = append(tags, "new-service")
		tags = append(tags, report.NewDirs...)
	}

	files := report.Staged
	if len(files) > maxSessionFiles {
		files = files[:maxSessionFiles]
	}

	record := &datatypes.SessionRecord{
		SessionID:    id,
		Timestamp:    now.UTC().Format(time.RFC3339),
		Source:       "infra-watcher",
		Summary:      summary,
		KeyTopics:    tags,
		FilesChanged: files,
		Significance: significance,
	}
	if err := w.store.Write(record); err != nil {
		w.logger.Error("infra session write failed", "session_id", id, "error", err)
		return
	}
	w.queue.Enqueue(id, id+".json")
}

// sendAlerts notifies the operator. Credentials always alert; larger
// structural changes get an informational ping.
func (w *Watcher) sendAlerts(ctx context.Context, report *batchReport) {
	if w.alerter == nil {
		return
	}
	if len(report.Creds) > 0 {
		var lines []string
		for _, c := range report.Creds {
			lines = append(lines, fmt.Sprintf("%s: %s (%s)", c.File, c.Masked, c.Kind))
		}
		w.alerter.Send(ctx, "Credential Detected",
			fmt.Sprintf("Commit %s touched files containing credential patterns:\n%s",
				report.Commit, strings.Join(lines, "\n")),
			"error")
	}
	if len(report.Stacks) > 0 || len(report.NewDirs) > 0 || len(report.Staged) >= 5 {
		w.alerter.Send(ctx, "Infrastructure Change",
			fmt.Sprintf("[%s] %s", report.Commit, report.Message), "info")
	}
}

func isTextFile(base string) bool {
	switch strings.ToLower(filepath.Ext(base)) {
	case ".md", ".txt", ".yml", ".yaml", ".json", ".toml", ".ini", ".conf",
		".sh", ".py", ".go", ".js", ".ts", ".env", "":
		return true
	}
	return false
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			out = append(out, t)
		}
	}
	return out
}
