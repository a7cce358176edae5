package llm

import "encoding/json"

// toolSchema is one forced-function definition sent with a model call.
type toolSchema struct {
	name        string
	description string
	parameters  json.RawMessage
}

var (
	triageTool = toolSchema{
		name:        "triage_result",
		description: "Route each piece of session content to its long-term destination.",
		parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"items": {
					"type": "array",
					"items": {
						"type": "object",
						"properties": {
							"content": {"type": "string", "description": "The fact or finding, self-contained"},
							"action": {"type": "string", "enum": ["keep", "archive", "merge", "discard"]},
							"collection": {"type": "string", "description": "Target collection for archive/merge"},
							"reason": {"type": "string"},
							"merge_target": {"type": "string", "description": "What existing entry to merge into"}
						},
						"required": ["content", "action"]
					}
				},
				"master_context_updates": {
					"type": "array",
					"items": {
						"type": "object",
						"properties": {
							"section": {"type": "string", "description": "Master context section heading to touch"},
							"action": {"type": "string", "enum": ["update", "add", "remove"]},
							"content": {"type": "string", "description": "New or replacement content for the section"}
						},
						"required": ["section", "action"]
					},
					"description": "Targeted changes to master context sections"
				}
			},
			"required": ["items"]
		}`),
	}

	summaryTool = toolSchema{
		name:        "session_summary",
		description: "Condense a session into a short summary with topics and significance.",
		parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"compressed_summary": {"type": "string"},
				"key_topics": {"type": "array", "items": {"type": "string"}},
				"significance_confirmed": {"type": "string", "enum": ["low", "medium", "high"]},
				"projects_mentioned": {"type": "array", "items": {"type": "string"}}
			},
			"required": ["compressed_summary"]
		}`),
	}

	compressionTool = toolSchema{
		name:        "compressed_master_context",
		description: "Rewrite the master context within its character budget.",
		parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"master_context_markdown": {"type": "string", "description": "The full rewritten master context markdown"},
				"changes_made": {"type": "array", "items": {"type": "string"}, "description": "Short notes on what changed"}
			},
			"required": ["master_context_markdown"]
		}`),
	}

	extractFieldsTool = toolSchema{
		name:        "extracted_fields",
		description: "Extract structured session fields from free text.",
		parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"summary": {"type": "string"},
				"key_topics": {"type": "array", "items": {"type": "string"}},
				"files_changed": {"type": "array", "items": {"type": "string"}},
				"decisions": {"type": "array", "items": {"type": "string"}},
				"failures": {"type": "array", "items": {"type": "string"}},
				"next_steps": {"type": "array", "items": {"type": "string"}},
				"tags": {"type": "array", "items": {"type": "string"}},
				"significance": {"type": "string", "enum": ["low", "medium", "high", "critical"]}
			},
			"required": ["summary"]
		}`),
	}

	entitiesTool = toolSchema{
		name:        "extracted_entities",
		description: "Extract named entities from session content.",
		parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"entities": {
					"type": "array",
					"items": {
						"type": "object",
						"properties": {
							"name": {"type": "string"},
							"type": {"type": "string", "enum": ["person", "service", "project", "tool", "server", "domain", "other"]},
							"context": {"type": "string", "description": "Where and how the entity came up"},
							"relationships": {"type": "array", "items": {"type": "string"}}
						},
						"required": ["name", "type"]
					}
				}
			},
			"required": ["entities"]
		}`),
	}

	patternsTool = toolSchema{
		name:        "detected_patterns",
		description: "Identify recurring behaviors across recent sessions.",
		parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"patterns": {
					"type": "array",
					"items": {
						"type": "object",
						"properties": {
							"pattern": {"type": "string", "description": "The recurring behavior, stated plainly"},
							"type": {"type": "string", "enum": ["recurring_topic", "work_habit", "tech_preference", "risk_pattern", "other"]},
							"frequency": {"type": "integer", "description": "How many recent sessions show it"},
							"suggestion": {"type": "string"}
						},
						"required": ["pattern", "type"]
					}
				}
			},
			"required": ["patterns"]
		}`),
	}

	nudgesTool = toolSchema{
		name:        "generated_nudges",
		description: "Suggest follow-ups based on stored patterns and failures.",
		parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"nudges": {
					"type": "array",
					"items": {
						"type": "object",
						"properties": {
							"message": {"type": "string"},
							"type": {"type": "string", "enum": ["followup", "contradiction", "stale", "risk", "opportunity", "reminder"]},
							"priority": {"type": "string", "enum": ["high", "medium", "low"]},
							"expires_after_days": {"type": "integer", "description": "Override the default time-to-live"}
						},
						"required": ["message"]
					}
				}
			},
			"required": ["nudges"]
		}`),
	}

	anomaliesTool = toolSchema{
		name:        "detected_anomalies",
		description: "Flag contradictions or drift between stored facts.",
		parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"anomalies": {
					"type": "array",
					"items": {
						"type": "object",
						"properties": {
							"description": {"type": "string"},
							"type": {"type": "string", "enum": ["contradiction", "regression", "drift", "inconsistency", "escalation"]},
							"severity": {"type": "string", "enum": ["critical", "high", "medium", "low"]},
							"evidence": {"type": "string", "description": "The stored statements that conflict"},
							"expires_after_days": {"type": "integer", "description": "Override the default time-to-live"}
						},
						"required": ["description"]
					}
				}
			},
			"required": ["anomalies"]
		}`),
	}
)
