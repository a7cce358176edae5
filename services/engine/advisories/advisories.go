// Copyright (C) 2026 Millyweb (dev@millyweb.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package advisories stores nudges and anomalies as small JSON files.
//
// Both stores share the same mechanics: near-duplicate suppression by
// token overlap, a TTL each entry may override, a hard cap with
// lowest-rank entries evicted first, and substring-based dismissal.
// Dismissed entries stay on disk as tombstones until they expire, so a
// dismissed advisory cannot be re-added by the next generation pass.
package advisories

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/millyweb/contextengine/services/engine/datatypes"
)

// Caps and TTLs.
const (
	maxNudges    = 20
	nudgeTTL     = 7 * 24 * time.Hour
	maxAnomalies = 30
	anomalyTTL   = 14 * 24 * time.Hour

	// duplicateOverlap is the token-set overlap above which two messages
	// count as the same advisory.
	duplicateOverlap = 0.8
)

var priorityRank = map[string]int{
	datatypes.PriorityHigh:   0,
	datatypes.PriorityMedium: 1,
	datatypes.PriorityLow:    2,
}

var severityRank = map[string]int{
	datatypes.SeverityCritical: 0,
	datatypes.SeverityHigh:     1,
	datatypes.SeverityMedium:   2,
	datatypes.SeverityLow:      3,
}

func rankOf(m map[string]int, key string) int {
	if r, ok := m[key]; ok {
		return r
	}
	return len(m)
}

// tokenOverlap measures how similar two messages are: the share of the
// larger token set also present in the smaller one.
func tokenOverlap(a, b string) float64 {
	ta := tokenSet(a)
	tb := tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	shared := 0
	for tok := range ta {
		if tb[tok] {
			shared++
		}
	}
	max := len(ta)
	if len(tb) > max {
		max = len(tb)
	}
	return float64(shared) / float64(max)
}

func tokenSet(s string) map[string]bool {
	out := map[string]bool{}
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		out[tok] = true
	}
	return out
}

func isDuplicate(a, b string) bool {
	la, lb := strings.ToLower(strings.TrimSpace(a)), strings.ToLower(strings.TrimSpace(b))
	return la == lb || tokenOverlap(a, b) > duplicateOverlap
}

// expired reports whether an entry created at createdAt has outlived its
// time-to-live. overrideDays, when positive, replaces the default.
func expired(now time.Time, createdAt string, overrideDays int, def time.Duration) bool {
	ttl := def
	if overrideDays > 0 {
		ttl = time.Duration(overrideDays) * 24 * time.Hour
	}
	cutoff := now.Add(-ttl).UTC().Format(time.RFC3339)
	return createdAt < cutoff
}

// =============================================================================
// Nudges
// =============================================================================

// NudgeStore persists nudges to a JSON file.
type NudgeStore struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

func NewNudgeStore(path string) *NudgeStore {
	return &NudgeStore{path: path, now: time.Now}
}

func (s *NudgeStore) load() []datatypes.Nudge {
	var items []datatypes.Nudge
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil
	}
	_ = json.Unmarshal(data, &items)
	return items
}

func (s *NudgeStore) save(items []datatypes.Nudge) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// fresh drops expired entries, honoring per-entry TTL overrides.
func (s *NudgeStore) fresh(items []datatypes.Nudge) []datatypes.Nudge {
	now := s.now()
	out := items[:0]
	for _, n := range items {
		if !expired(now, n.CreatedAt, n.ExpiresAfterDays, nudgeTTL) {
			out = append(out, n)
		}
	}
	return out
}

// Add stores a nudge unless it duplicates an existing one, dismissed
// tombstones included. Returns true when the nudge was stored.
func (s *NudgeStore) Add(n datatypes.Nudge) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n.Priority == "" {
		n.Priority = datatypes.PriorityMedium
	}
	n.CreatedAt = s.now().UTC().Format(time.RFC3339)
	n.Dismissed = false
	items := s.fresh(s.load())
	for _, existing := range items {
		if isDuplicate(existing.Message, n.Message) {
			return false, nil
		}
	}
	items = append(items, n)
	sortNudges(items)
	if len(items) > maxNudges {
		items = items[:maxNudges]
	}
	return true, s.save(items)
}

// List returns up to limit active nudges, highest priority first.
func (s *NudgeStore) List(limit int) []datatypes.Nudge {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := s.fresh(s.load())
	active := items[:0]
	for _, n := range items {
		if !n.Dismissed {
			active = append(active, n)
		}
	}
	sortNudges(active)
	if limit > 0 && len(active) > limit {
		active = active[:limit]
	}
	return active
}

// Dismiss marks nudges whose message contains the given text,
// case-insensitively. The entries stay on disk as tombstones so the same
// advisory is not re-added. Returns how many were newly marked.
func (s *NudgeStore) Dismiss(substr string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	needle := strings.ToLower(substr)
	items := s.load()
	marked := 0
	for i := range items {
		if items[i].Dismissed {
			continue
		}
		if strings.Contains(strings.ToLower(items[i].Message), needle) {
			items[i].Dismissed = true
			marked++
		}
	}
	if marked == 0 {
		return 0, nil
	}
	return marked, s.save(items)
}

// Stats summarizes the stored nudges.
func (s *NudgeStore) Stats() map[string]any {
	items := s.List(0)
	byPriority := map[string]int{}
	for _, n := range items {
		byPriority[n.Priority]++
	}
	return map[string]any{
		"total":       len(items),
		"by_priority": byPriority,
	}
}

// sortNudges orders active entries by priority then recency; tombstones
// sort last so the cap never evicts a live nudge to keep one.
func sortNudges(items []datatypes.Nudge) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Dismissed != items[j].Dismissed {
			return !items[i].Dismissed
		}
		ri, rj := rankOf(priorityRank, items[i].Priority), rankOf(priorityRank, items[j].Priority)
		if ri != rj {
			return ri < rj
		}
		return items[i].CreatedAt > items[j].CreatedAt
	})
}

// =============================================================================
// Anomalies
// =============================================================================

// AnomalyStore persists anomalies to a JSON file.
type AnomalyStore struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

func NewAnomalyStore(path string) *AnomalyStore {
	return &AnomalyStore{path: path, now: time.Now}
}

func (s *AnomalyStore) load() []datatypes.Anomaly {
	var items []datatypes.Anomaly
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil
	}
	_ = json.Unmarshal(data, &items)
	return items
}

func (s *AnomalyStore) save(items []datatypes.Anomaly) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *AnomalyStore) fresh(items []datatypes.Anomaly) []datatypes.Anomaly {
	now := s.now()
	out := items[:0]
	for _, a := range items {
		if !expired(now, a.CreatedAt, a.ExpiresAfterDays, anomalyTTL) {
			out = append(out, a)
		}
	}
	return out
}

// Add stores an anomaly unless it duplicates an existing one, dismissed
// tombstones included.
func (s *AnomalyStore) Add(a datatypes.Anomaly) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.Severity == "" {
		a.Severity = datatypes.SeverityMedium
	}
	a.CreatedAt = s.now().UTC().Format(time.RFC3339)
	a.Dismissed = false
	items := s.fresh(s.load())
	for _, existing := range items {
		if isDuplicate(existing.Description, a.Description) {
			return false, nil
		}
	}
	items = append(items, a)
	sortAnomalies(items)
	if len(items) > maxAnomalies {
		items = items[:maxAnomalies]
	}
	return true, s.save(items)
}

// List returns up to limit active anomalies, highest severity first.
func (s *AnomalyStore) List(limit int) []datatypes.Anomaly {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := s.fresh(s.load())
	active := items[:0]
	for _, a := range items {
		if !a.Dismissed {
			active = append(active, a)
		}
	}
	sortAnomalies(active)
	if limit > 0 && len(active) > limit {
		active = active[:limit]
	}
	return active
}

// Dismiss marks anomalies whose description contains the given text,
// keeping the entries as tombstones. Returns how many were newly marked.
func (s *AnomalyStore) Dismiss(substr string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	needle := strings.ToLower(substr)
	items := s.load()
	marked := 0
	for i := range items {
		if items[i].Dismissed {
			continue
		}
		if strings.Contains(strings.ToLower(items[i].Description), needle) {
			items[i].Dismissed = true
			marked++
		}
	}
	if marked == 0 {
		return 0, nil
	}
	return marked, s.save(items)
}

// Stats summarizes the stored anomalies.
func (s *AnomalyStore) Stats() map[string]any {
	items := s.List(0)
	bySeverity := map[string]int{}
	for _, a := range items {
		bySeverity[a.Severity]++
	}
	return map[string]any{
		"total":       len(items),
		"by_severity": bySeverity,
	}
}

func sortAnomalies(items []datatypes.Anomaly) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Dismissed != items[j].Dismissed {
			return !items[i].Dismissed
		}
		ri, rj := rankOf(severityRank, items[i].Severity), rankOf(severityRank, items[j].Severity)
		if ri != rj {
			return ri < rj
		}
		return items[i].CreatedAt > items[j].CreatedAt
	})
}
