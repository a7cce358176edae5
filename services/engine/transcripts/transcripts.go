// Copyright (C) 2026 Millyweb (dev@millyweb.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package transcripts stores raw conversation transcripts gzipped on disk.
//
// One transcript per session, named {session_id}_{timestamp}.txt.gz. A
// shorter transcript never replaces a longer one for the same session:
// re-saves during a session only grow the stored copy.
package transcripts

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	// MaxSummarizeChars caps what is handed to the model; longer
	// transcripts keep their head and tail around a marker.
	MaxSummarizeChars = 120000

	truncationMarker = "\n\n[...TRUNCATED FOR SUMMARIZATION...]\n\n"
)

// StoreResult describes what a store call did.
type StoreResult struct {
	Stored bool    `json:"stored"`
	Path   string  `json:"path,omitempty"`
	SizeKB float64 `json:"size_kb,omitempty"`
	Action string  `json:"action"` // created, updated, skipped
	Chars  int     `json:"chars"`
}

// Entry is one stored transcript in a listing.
type Entry struct {
	SessionID string  `json:"session_id"`
	Path      string  `json:"path"`
	SizeKB    float64 `json:"size_kb"`
	Modified  string  `json:"modified"`
}

// Store manages the transcript directory.
type Store struct {
	dir string
	now func() time.Time
}

func NewStore(dir string) *Store {
	return &Store{dir: dir, now: time.Now}
}

// files returns existing transcript files for a session, any timestamp.
func (s *Store) files(sessionID string) []string {
	matches, _ := filepath.Glob(filepath.Join(s.dir, sessionID+"_*.txt.gz"))
	sort.Strings(matches)
	return matches
}

// Save stores a transcript unless an equal-or-longer one already exists.
func (s *Store) Save(sessionID, content string) (StoreResult, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return StoreResult{}, err
	}

	action := "created"
	existing := s.files(sessionID)
	if len(existing) > 0 {
		prev, err := s.Load(sessionID)
		if err == nil && len(prev) >= len(content) {
			return StoreResult{Stored: false, Action: "skipped", Chars: len(content)}, nil
		}
		action = "updated"
	}

	path := filepath.Join(s.dir, fmt.Sprintf("%s_%s.txt.gz", sessionID, s.now().UTC().Format("20060102150405")))
	if err := writeGzip(path, content); err != nil {
		return StoreResult{}, err
	}
	for _, old := range existing {
		if old != path {
			_ = os.Remove(old)
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return StoreResult{}, err
	}
	return StoreResult{
		Stored: true,
		Path:   path,
		SizeKB: float64(info.Size()) / 1024,
		Action: action,
		Chars:  len(content),
	}, nil
}

// Load returns the stored transcript for a session.
func (s *Store) Load(sessionID string) (string, error) {
	files := s.files(sessionID)
	if len(files) == 0 {
		return "", fmt.Errorf("no transcript for session %s", sessionID)
	}
	return readGzip(files[len(files)-1])
}

// List enumerates stored transcripts, newest first.
func (s *Store) List() ([]Entry, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.txt.gz"))
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(matches))
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		stem := strings.TrimSuffix(filepath.Base(path), ".txt.gz")
		idx := strings.LastIndex(stem, "_")
		if idx <= 0 {
			continue
		}
		entries = append(entries, Entry{
			SessionID: stem[:idx],
			Path:      path,
			SizeKB:    float64(info.Size()) / 1024,
			Modified:  info.ModTime().UTC().Format(time.RFC3339),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Modified > entries[j].Modified })
	return entries, nil
}

// TruncateForSummary keeps the head and tail of an oversized transcript
// around a marker, so openings and conclusions both survive.
func TruncateForSummary(content string) string {
	if len(content) <= MaxSummarizeChars {
		return content
	}
	budget := MaxSummarizeChars - len(truncationMarker)
	head := budget / 2
	tail := budget - head
	return content[:head] + truncationMarker + content[len(content)-tail:]
}

func writeGzip(path, content string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	zw, err := gzip.NewWriterLevel(f, 6)
	if err != nil {
		return err
	}
	if _, err := zw.Write([]byte(content)); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

func readGzip(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		return "", err
	}
	defer zr.Close()
	data, err := io.ReadAll(zr)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
