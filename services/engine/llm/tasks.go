package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/millyweb/contextengine/services/engine/datatypes"
)

// Typed task entry points. Each builds its prompt, runs the routed call,
// and decodes the tool result. A nil result with a nil error means the
// model produced nothing usable; callers fall back per their degradation
// rules.

func messages(system, user string) []openai.ChatCompletionMessage {
	return []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: system},
		{Role: openai.ChatMessageRoleUser, Content: user},
	}
}

// Summarize condenses a session record.
func (c *Client) Summarize(ctx context.Context, record *datatypes.SessionRecord) (*datatypes.SessionSummary, error) {
	body, _ := json.MarshalIndent(record, "", "  ")
	raw, err := c.call(ctx, TaskSummary, messages(summarySystemPrompt,
		fmt.Sprintf("Session record:\n\n%s", body)), summaryTool)
	if err != nil {
		return nil, err
	}
	return decode[datatypes.SessionSummary](raw)
}

// Triage routes session content against the current master context.
func (c *Client) Triage(ctx context.Context, summary *datatypes.SessionSummary, record *datatypes.SessionRecord, master string) (*datatypes.TriageResult, error) {
	body, _ := json.MarshalIndent(record, "", "  ")
	user := fmt.Sprintf("Current master context:\n\n%s\n\nSession summary: %s\n\nFull session record:\n\n%s",
		master, summary.Summary, body)
	raw, err := c.call(ctx, TaskTriage, messages(triageSystemPrompt, user), triageTool)
	if err != nil {
		return nil, err
	}
	return decode[datatypes.TriageResult](raw)
}

// CompressMaster rewrites the master context with the pending updates
// applied, within the character budget.
func (c *Client) CompressMaster(ctx context.Context, master string, updates []string, budgetChars int) (*datatypes.CompressedMaster, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Character budget: %d\n\nCurrent master context:\n\n%s\n", budgetChars, master)
	if len(updates) > 0 {
		sb.WriteString("\nApply these updates:\n")
		for _, u := range updates {
			fmt.Fprintf(&sb, "- %s\n", u)
		}
	}
	raw, err := c.call(ctx, TaskCompression, messages(compressionSystemPrompt, sb.String()), compressionTool)
	if err != nil {
		return nil, err
	}
	return decode[datatypes.CompressedMaster](raw)
}

// ExtractSessionFields structures free-form session notes.
func (c *Client) ExtractSessionFields(ctx context.Context, text string) (*datatypes.ExtractedFields, error) {
	raw, err := c.call(ctx, TaskExtraction, messages(extractFieldsSystemPrompt,
		fmt.Sprintf("Session notes:\n\n%s", text)), extractFieldsTool)
	if err != nil {
		return nil, err
	}
	return decode[datatypes.ExtractedFields](raw)
}

// ExtractFromTranscript structures a raw conversation transcript.
func (c *Client) ExtractFromTranscript(ctx context.Context, transcript string) (*datatypes.ExtractedFields, error) {
	raw, err := c.call(ctx, TaskExtraction, messages(extractTranscriptSystemPrompt,
		fmt.Sprintf("Transcript:\n\n%s", transcript)), extractFieldsTool)
	if err != nil {
		return nil, err
	}
	return decode[datatypes.ExtractedFields](raw)
}

// ExtractEntities pulls people, services, projects, servers, domains, and
// tools out of session content.
func (c *Client) ExtractEntities(ctx context.Context, content string) (*datatypes.ExtractedEntities, error) {
	raw, err := c.call(ctx, TaskExtraction, messages(entitiesSystemPrompt,
		fmt.Sprintf("Session content:\n\n%s", content)), entitiesTool)
	if err != nil {
		return nil, err
	}
	return decode[datatypes.ExtractedEntities](raw)
}

// DetectPatterns looks for recurring behavior across recent summaries.
func (c *Client) DetectPatterns(ctx context.Context, summaries []string) (*datatypes.DetectedPatterns, error) {
	var sb strings.Builder
	for i, s := range summaries {
		fmt.Fprintf(&sb, "Session %d:\n%s\n\n", i+1, s)
	}
	raw, err := c.call(ctx, TaskPattern, messages(patternsSystemPrompt, sb.String()), patternsTool)
	if err != nil {
		return nil, err
	}
	return decode[datatypes.DetectedPatterns](raw)
}

// GenerateNudges turns the master context, recent session summaries, and
// stored patterns and failures into reminders.
func (c *Client) GenerateNudges(ctx context.Context, master string, sessions, patterns, failures []string) (*datatypes.GeneratedNudges, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Master context:\n\n%s\n", master)
	sb.WriteString("\nRecent sessions:\n")
	for _, s := range sessions {
		fmt.Fprintf(&sb, "- %s\n", s)
	}
	sb.WriteString("\nRecent patterns:\n")
	for _, p := range patterns {
		fmt.Fprintf(&sb, "- %s\n", p)
	}
	sb.WriteString("\nPast failures:\n")
	for _, f := range failures {
		fmt.Fprintf(&sb, "- %s\n", f)
	}
	raw, err := c.call(ctx, TaskNudge, messages(nudgesSystemPrompt, sb.String()), nudgesTool)
	if err != nil {
		return nil, err
	}
	return decode[datatypes.GeneratedNudges](raw)
}

// DetectAnomalies compares recent session activity and decisions against
// the master context and recorded resolutions.
func (c *Client) DetectAnomalies(ctx context.Context, master string, sessions, decisions, resolutions []string) (*datatypes.DetectedAnomalies, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Master context:\n\n%s\n", master)
	sb.WriteString("\nRecent sessions:\n")
	for _, s := range sessions {
		fmt.Fprintf(&sb, "- %s\n", s)
	}
	sb.WriteString("\nRecent decisions:\n")
	for _, d := range decisions {
		fmt.Fprintf(&sb, "- %s\n", d)
	}
	sb.WriteString("\nRecorded resolutions:\n")
	for _, r := range resolutions {
		fmt.Fprintf(&sb, "- %s\n", r)
	}
	raw, err := c.call(ctx, TaskAnomaly, messages(anomaliesSystemPrompt, sb.String()), anomaliesTool)
	if err != nil {
		return nil, err
	}
	return decode[datatypes.DetectedAnomalies](raw)
}
