// Copyright (C) 2026 Millyweb (dev@millyweb.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides data structures shared across the engine.
//
// This file contains the on-disk session record and its processing marker.
// For model-call result types, see llm.go; for archive types, see archive.go.
package datatypes

// Significance levels for a session. Low-significance sessions may be
// skipped by the worker once learning mode is off.
const (
	SignificanceLow      = "low"
	SignificanceMedium   = "medium"
	SignificanceHigh     = "high"
	SignificanceCritical = "critical"
)

// SessionRecord is the JSON document written to the sessions directory for
// every saved session. The worker reads these back for async processing.
type SessionRecord struct {
	SessionID      string            `json:"session_id"`
	Timestamp      string            `json:"timestamp"`
	Source         string            `json:"source,omitempty"`
	Summary        string            `json:"summary"`
	RawSummary     string            `json:"raw_summary,omitempty"`
	KeyTopics      []string          `json:"key_topics,omitempty"`
	FilesChanged   []string          `json:"files_changed,omitempty"`
	Decisions      []string          `json:"decisions,omitempty"`
	Failures       []string          `json:"failures,omitempty"`
	NextSteps      []string          `json:"next_steps,omitempty"`
	Tags           []string          `json:"tags,omitempty"`
	ProjectState   map[string]string `json:"project_state,omitempty"`
	Significance   string            `json:"significance,omitempty"`
	TranscriptPath string            `json:"transcript_path,omitempty"`

	// Processed is set once the worker finishes the record. Its presence is
	// how reprocessing tells done files from pending ones.
	Processed *ProcessedMarker `json:"_processed,omitempty"`
}

// ProcessedMarker records what the worker did with a session.
type ProcessedMarker struct {
	Timestamp     string `json:"timestamp"`
	Summary       string `json:"summary,omitempty"`
	TriageItems   int    `json:"triage_items"`
	MasterUpdates bool   `json:"master_updates"`
}

// IsLite reports whether the record carries only free text with no
// structured arrays, meaning field extraction is still needed.
func (r *SessionRecord) IsLite() bool {
	return len(r.KeyTopics) == 0 && len(r.FilesChanged) == 0 &&
		len(r.Decisions) == 0 && len(r.Failures) == 0 && len(r.NextSteps) == 0
}
