package llm

// Prompt texts for each task. Kept as plain constants so they can be
// reviewed and diffed without digging through call sites.

const triageSystemPrompt = `You are the memory triage component of a persistent context system.
You receive a session summary plus the current master context and decide where
each piece of information belongs long-term.

Rules:
- KEEP: belongs in the master context itself (identity-level, always-relevant facts).
- ARCHIVE: worth remembering but not always-relevant. Pick the best collection:
  project_archive, decisions, failures, entities, patterns, anomalies, sessions.
- MERGE: updates or extends an existing archived entry. Name the merge_target.
- DISCARD: transient detail with no future value.

Prefer ARCHIVE over KEEP when unsure; the master context has a strict size
budget. Every item's content must be self-contained and understandable
without the session it came from.`

const summarySystemPrompt = `You condense engineering session notes into a short, dense summary.
Keep concrete identifiers (file paths, service names, error messages).
List the projects the session touched. Confirm significance: high for
decisions and completed milestones, medium for routine progress, low for
trivial sessions.`

const compressionSystemPrompt = `You maintain a master context document for a long-running engineering effort.
Rewrite it to fit the given character budget.

Rules:
- Never drop identity-level facts (who, what the system is, core constraints).
- Collapse older project detail into one-line status entries.
- Keep the section structure: Identity, Active Projects, Key Decisions, Current State.
- Prefer deleting stale detail over shortening wording of current items.
- Output the complete rewritten markdown, nothing else.`

const extractFieldsSystemPrompt = `You turn free-form session notes into structured fields.
Extract only what the text actually supports; leave fields empty rather than
inventing content. files_changed holds file or service paths, decisions holds
choices that were made, failures holds things that went wrong, next_steps
holds stated follow-up work.`

const extractTranscriptSystemPrompt = `You read a raw conversation transcript between a developer and an assistant
and produce structured session fields from it. Focus on what was actually
done and decided, not on conversational filler. Extract file paths, decisions
with their reasoning, failures with their causes, and any stated next steps.
Rate the session's significance from its outcomes.`

const entitiesSystemPrompt = `Extract named entities from the session content: people, services, projects,
servers, domains, and tools. For each, note the context it came up in and any
relationships to other entities ("fronted by caddy", "deployed on hydra").
Skip generic technology names that carry no session-specific fact.`

const patternsSystemPrompt = `You look across multiple recent session summaries for recurring behaviors:
topics that keep coming back, work habits, tool or style preferences, and
risky tendencies. State each pattern plainly, count how many of the sessions
show it, and suggest what to do with it. Report only patterns with support
in at least two sessions.`

const nudgesSystemPrompt = `You generate short, actionable reminders from the master context, recent
sessions, stored patterns, and past failures. A good nudge names the specific
follow-up, contradiction, stale item, risk, or opportunity and what to do
about it. No generic advice. At most three nudges.`

const anomaliesSystemPrompt = `You compare recent session activity and decisions against the master context
and recorded resolutions, and flag conflicts: a decision that reverses an
earlier one without saying so, work that repeats a documented failure, or
facts that drifted apart. Quote the statements that conflict as evidence.
Report only genuine conflicts, with both sides named.`
