// Copyright (C) 2026 Millyweb (dev@millyweb.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// This file contains request and response types for the HTTP API.

// LoadRequest starts a session and pulls in relevant context.
type LoadRequest struct {
	Topic  string `json:"topic,omitempty"`
	Source string `json:"source,omitempty"`
}

// LoadResponse is the assembled context for a new session.
type LoadResponse struct {
	SessionID       string   `json:"session_id"`
	MasterContext   string   `json:"master_context"`
	RelevantContext []string `json:"relevant_context,omitempty"`
	FailureWarnings []string `json:"failure_warnings,omitempty"`
	Nudges          []Nudge  `json:"nudges,omitempty"`
	Degraded        bool     `json:"degraded,omitempty"`
}

// SaveRequest persists a finished session. Structured arrays are optional:
// a request carrying only free text is treated as a lite save and the
// missing fields are extracted by the model.
type SaveRequest struct {
	SessionID      string            `json:"session_id,omitempty"`
	Summary        string            `json:"summary" binding:"required"`
	RawSummary     string            `json:"raw_summary,omitempty"`
	KeyTopics      []string          `json:"key_topics,omitempty"`
	FilesChanged   []string          `json:"files_changed,omitempty"`
	Decisions      []string          `json:"decisions,omitempty"`
	Failures       []string          `json:"failures,omitempty"`
	NextSteps      []string          `json:"next_steps,omitempty"`
	Tags           []string          `json:"tags,omitempty"`
	ProjectState   map[string]string `json:"project_state,omitempty"`
	Significance   string            `json:"significance,omitempty"`
	Source         string            `json:"source,omitempty"`
	Transcript     string            `json:"transcript,omitempty"`
	TranscriptPath string            `json:"transcript_path,omitempty"`
}

// SaveResponse acknowledges a queued session.
type SaveResponse struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
	Message   string `json:"message,omitempty"`
}

// CheckpointRequest records a mid-session snapshot without closing it.
type CheckpointRequest struct {
	SessionID      string `json:"session_id,omitempty"`
	Note           string `json:"note" binding:"required"`
	Transcript     string `json:"transcript,omitempty"`
	TranscriptPath string `json:"transcript_path,omitempty"`
	Significance   string `json:"significance,omitempty"`
	Source         string `json:"source,omitempty"`
}

// SearchRequest queries the archive.
type SearchRequest struct {
	Query       string   `json:"query" binding:"required"`
	Collections []string `json:"collections,omitempty"`
	Limit       int      `json:"limit,omitempty"`
	DateAfter   string   `json:"date_after,omitempty"`
	DateBefore  string   `json:"date_before,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// SearchResponse carries ranked archive hits.
type SearchResponse struct {
	Query   string      `json:"query"`
	Results []SearchHit `json:"results"`
	Count   int         `json:"count"`
}

// CorrectRequest replaces a wrong remembered fact. Scope is "hot"
// (master context only), "archive", or "both" (default).
type CorrectRequest struct {
	Item       string `json:"item" binding:"required"`
	Correction string `json:"correction" binding:"required"`
	Scope      string `json:"scope,omitempty"`
}

// CorrectResponse reports what a correction touched.
type CorrectResponse struct {
	MasterUpdated  bool `json:"master_updated"`
	ArchiveUpdated int  `json:"archive_updated"`
}

// IngestRequest accepts a session record from an external agent.
type IngestRequest struct {
	Source       string   `json:"source" binding:"required"`
	Summary      string   `json:"summary,omitempty"`
	RawContent   string   `json:"raw_content,omitempty"`
	KeyTopics    []string `json:"key_topics,omitempty"`
	FilesChanged []string `json:"files_changed,omitempty"`
	Decisions    []string `json:"decisions,omitempty"`
	Failures     []string `json:"failures,omitempty"`
	NextSteps    []string `json:"next_steps,omitempty"`
	Significance string   `json:"significance,omitempty"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}
