// Copyright (C) 2026 Millyweb (dev@millyweb.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// This file contains the structured results returned from model calls.
// Each type mirrors one tool schema the client asks the model to fill in.

// Triage actions.
const (
	ActionKeep    = "keep"
	ActionArchive = "archive"
	ActionMerge   = "merge"
	ActionDiscard = "discard"
)

// Master-update actions.
const (
	UpdateActionUpdate = "update"
	UpdateActionAdd    = "add"
	UpdateActionRemove = "remove"
)

// TriageItem is a single routing decision for a piece of session content.
type TriageItem struct {
	Content     string `json:"content"`
	Action      string `json:"action"`
	Collection  string `json:"collection,omitempty"`
	Reason      string `json:"reason,omitempty"`
	MergeTarget string `json:"merge_target,omitempty"`
}

// MasterUpdate is one targeted change to a master-context section.
type MasterUpdate struct {
	Section string `json:"section"`
	Action  string `json:"action"`
	Content string `json:"content,omitempty"`
}

// TriageResult is the model's routing plan for a session summary.
type TriageResult struct {
	Items                []TriageItem   `json:"items"`
	MasterContextUpdates []MasterUpdate `json:"master_context_updates,omitempty"`
}

// SessionSummary is the condensed form of a session produced by the model.
type SessionSummary struct {
	Summary           string   `json:"compressed_summary"`
	KeyTopics         []string `json:"key_topics,omitempty"`
	Significance      string   `json:"significance_confirmed,omitempty"`
	ProjectsMentioned []string `json:"projects_mentioned,omitempty"`
}

// CompressedMaster is the rewritten master context after compression.
type CompressedMaster struct {
	Markdown    string   `json:"master_context_markdown"`
	ChangesMade []string `json:"changes_made,omitempty"`
}

// ExtractedFields are the structured fields pulled out of free-text or
// transcript input during save and checkpoint.
type ExtractedFields struct {
	Summary      string   `json:"summary,omitempty"`
	KeyTopics    []string `json:"key_topics,omitempty"`
	FilesChanged []string `json:"files_changed,omitempty"`
	Decisions    []string `json:"decisions,omitempty"`
	Failures     []string `json:"failures,omitempty"`
	NextSteps    []string `json:"next_steps,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	Significance string   `json:"significance,omitempty"`
}

// Entity is a person, service, project, server, domain, or tool mentioned
// across sessions.
type Entity struct {
	Name          string   `json:"name"`
	Type          string   `json:"type"`
	Context       string   `json:"context,omitempty"`
	Relationships []string `json:"relationships,omitempty"`
}

// ExtractedEntities wraps the entity list the model returns.
type ExtractedEntities struct {
	Entities []Entity `json:"entities"`
}

// Pattern types.
const (
	PatternRecurringTopic = "recurring_topic"
	PatternWorkHabit      = "work_habit"
	PatternTechPreference = "tech_preference"
	PatternRisk           = "risk_pattern"
	PatternOther          = "other"
)

// DetectedPattern is a recurring behavior spotted across recent sessions.
type DetectedPattern struct {
	Pattern    string `json:"pattern"`
	Type       string `json:"type"`
	Frequency  int    `json:"frequency,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

// DetectedPatterns wraps the pattern list the model returns.
type DetectedPatterns struct {
	Patterns []DetectedPattern `json:"patterns"`
}

// GeneratedNudge is a single suggestion produced from archive context.
type GeneratedNudge struct {
	Message          string `json:"message"`
	Type             string `json:"type,omitempty"`
	Priority         string `json:"priority,omitempty"`
	ExpiresAfterDays int    `json:"expires_after_days,omitempty"`
}

// GeneratedNudges wraps the nudge list the model returns.
type GeneratedNudges struct {
	Nudges []GeneratedNudge `json:"nudges"`
}

// DetectedAnomaly is a contradiction or drift between stored facts.
type DetectedAnomaly struct {
	Description      string `json:"description"`
	Type             string `json:"type,omitempty"`
	Severity         string `json:"severity,omitempty"`
	Evidence         string `json:"evidence,omitempty"`
	ExpiresAfterDays int    `json:"expires_after_days,omitempty"`
}

// DetectedAnomalies wraps the anomaly list the model returns.
type DetectedAnomalies struct {
	Anomalies []DetectedAnomaly `json:"anomalies"`
}
