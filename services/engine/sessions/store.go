// Copyright (C) 2026 Millyweb (dev@millyweb.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package sessions is the on-disk store of session records: one JSON file
// per session under the sessions directory. The files are the engine's
// durable input queue; the worker reads them back and stamps a processed
// marker when done.
package sessions

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/millyweb/contextengine/services/engine/datatypes"
)

// Store reads and writes session record files.
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Entry is one session file in a listing.
type Entry struct {
	SessionID string
	Path      string
	Modified  time.Time
	Processed bool
}

func (s *Store) pathFor(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".json")
}

// Write persists a record, atomically replacing any previous version.
func (s *Store) Write(record *datatypes.SessionRecord) error {
	if record.SessionID == "" {
		return fmt.Errorf("session record has no id")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}
	path := s.pathFor(record.SessionID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Read loads one record by session id.
func (s *Store) Read(sessionID string) (*datatypes.SessionRecord, error) {
	return s.ReadFile(s.pathFor(sessionID))
}

// ReadFile loads a record from an explicit path.
func (s *Store) ReadFile(path string) (*datatypes.SessionRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var record datatypes.SessionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("parse session file %s: %w", filepath.Base(path), err)
	}
	return &record, nil
}

// MarkProcessed stamps a record with the worker's result marker.
func (s *Store) MarkProcessed(sessionID string, marker datatypes.ProcessedMarker) error {
	record, err := s.Read(sessionID)
	if err != nil {
		return err
	}
	record.Processed = &marker
	return s.Write(record)
}

// List returns all session files, newest modification first.
func (s *Store) List() ([]Entry, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(matches))
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		entry := Entry{
			SessionID: trimJSON(filepath.Base(path)),
			Path:      path,
			Modified:  info.ModTime(),
		}
		if record, err := s.ReadFile(path); err == nil {
			entry.Processed = record.Processed != nil
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Modified.After(entries[j].Modified) })
	return entries, nil
}

// Counts tallies total, processed, and unprocessed session files.
func (s *Store) Counts() (total, processed, unprocessed int) {
	entries, err := s.List()
	if err != nil {
		return 0, 0, 0
	}
	for _, e := range entries {
		total++
		if e.Processed {
			processed++
		} else {
			unprocessed++
		}
	}
	return total, processed, unprocessed
}

// Recent loads the n most recently modified records.
func (s *Store) Recent(n int) []*datatypes.SessionRecord {
	entries, err := s.List()
	if err != nil {
		return nil
	}
	if len(entries) > n {
		entries = entries[:n]
	}
	records := make([]*datatypes.SessionRecord, 0, len(entries))
	for _, e := range entries {
		if record, err := s.ReadFile(e.Path); err == nil {
			records = append(records, record)
		}
	}
	return records
}

// RecentSources returns the distinct sources across the last n records.
func (s *Store) RecentSources(n int) []string {
	seen := map[string]bool{}
	for _, record := range s.Recent(n) {
		if record.Source != "" && !seen[record.Source] {
			seen[record.Source] = true
		}
	}
	out := make([]string, 0, len(seen))
	for src := range seen {
		out = append(out, src)
	}
	sort.Strings(out)
	return out
}

func trimJSON(name string) string {
	return name[:len(name)-len(".json")]
}
