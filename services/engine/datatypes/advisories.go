// Copyright (C) 2026 Millyweb (dev@millyweb.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// Nudge priorities and anomaly severities, highest first.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"

	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// Nudge types.
const (
	NudgeFollowup      = "followup"
	NudgeContradiction = "contradiction"
	NudgeStale         = "stale"
	NudgeRisk          = "risk"
	NudgeOpportunity   = "opportunity"
	NudgeReminder      = "reminder"
)

// Anomaly types.
const (
	AnomalyContradiction = "contradiction"
	AnomalyRegression    = "regression"
	AnomalyDrift         = "drift"
	AnomalyInconsistency = "inconsistency"
	AnomalyEscalation    = "escalation"
)

// Nudge is a stored suggestion surfaced on session load. Dismissed nudges
// are kept as tombstones so duplicates of a dismissed message stay out.
type Nudge struct {
	Message          string `json:"message"`
	Type             string `json:"type,omitempty"`
	Priority         string `json:"priority"`
	CreatedAt        string `json:"created_at"`
	SessionID        string `json:"session_id,omitempty"`
	ExpiresAfterDays int    `json:"expires_after_days,omitempty"`
	Dismissed        bool   `json:"dismissed,omitempty"`
}

// Anomaly is a stored contradiction or drift observation.
type Anomaly struct {
	Description      string `json:"description"`
	Type             string `json:"type,omitempty"`
	Severity         string `json:"severity"`
	Evidence         string `json:"evidence,omitempty"`
	CreatedAt        string `json:"created_at"`
	SessionID        string `json:"session_id,omitempty"`
	ExpiresAfterDays int    `json:"expires_after_days,omitempty"`
	Dismissed        bool   `json:"dismissed,omitempty"`
}
