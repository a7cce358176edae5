// Package llm wraps the model provider behind typed, task-routed calls.
//
// Every call goes out as a chat completion with a single tool the model is
// forced to fill in, so results come back as structured JSON rather than
// prose. Tasks are routed to a fast or smart model tier; weak results from
// the fast tier are retried once on the smart tier.
//
// The provider speaks the OpenAI chat API. Pointing BaseURL at an Ollama
// server's /v1 endpoint switches the backend without code changes.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/millyweb/contextengine/services/engine/config"
	"github.com/millyweb/contextengine/services/engine/degradation"
)

// ErrModelUnavailable is returned when the provider's circuit breaker is
// open and no call may go out.
var ErrModelUnavailable = errors.New("model provider unavailable")

const (
	callTimeout  = 60 * time.Second
	maxTokens    = 4096
	refererValue = "https://millyweb.com"
	titleValue   = "ContextEngine"
)

// Task identifies what a model call is for. Routing to model tiers is
// keyed on it.
type Task string

const (
	TaskExtraction  Task = "extraction"
	TaskSummary     Task = "summary"
	TaskNudge       Task = "nudge"
	TaskAnomaly     Task = "anomaly"
	TaskTriage      Task = "triage"
	TaskCompression Task = "compression"
	TaskPattern     Task = "pattern"
)

// smartTasks are routed to the smart tier; everything else uses fast.
var smartTasks = map[Task]bool{
	TaskTriage:      true,
	TaskCompression: true,
	TaskPattern:     true,
}

// Weak-answer markers that trigger an escalation retry. Matched
// case-insensitively against every string value in the result.
var escalationPhrases = []string{
	"i'm not sure",
	"unclear",
	"cannot determine",
	"n/a",
}

// Client is the task-routed model client.
type Client struct {
	settings *config.SettingsStore
	degrade  *degradation.Manager
	apiKey   string
	logger   *slog.Logger

	calls  atomic.Int64
	onCall func()
	newAPI func(baseURL string) chatCompleter
}

// chatCompleter is the slice of the provider client the engine uses.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// headerTransport injects the attribution headers the provider expects.
type headerTransport struct {
	base http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("HTTP-Referer", refererValue)
	req.Header.Set("X-Title", titleValue)
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// NewClient builds a Client routed through the degradation manager.
// onCall, if non-nil, is invoked once per outbound request (metrics hook).
func NewClient(cfg *config.Config, settings *config.SettingsStore, degrade *degradation.Manager, logger *slog.Logger, onCall func()) *Client {
	apiKey := cfg.LLMAPIKey
	c := &Client{
		settings: settings,
		degrade:  degrade,
		apiKey:   apiKey,
		logger:   logger,
		onCall:   onCall,
	}
	c.newAPI = func(baseURL string) chatCompleter {
		conf := openai.DefaultConfig(apiKey)
		conf.BaseURL = baseURL
		conf.HTTPClient = &http.Client{Transport: &headerTransport{}}
		return openai.NewClientWithConfig(conf)
	}
	return c
}

// CallCount returns the total outbound calls made so far.
func (c *Client) CallCount() int64 {
	return c.calls.Load()
}

func (c *Client) modelFor(task Task) string {
	s := c.settings.Get()
	if smartTasks[task] {
		return s.LLM.ModelSmart
	}
	return s.LLM.ModelFast
}

// escalatedModel returns the next tier up, or "" when the model already is
// the top tier.
func (c *Client) escalatedModel(model string) string {
	s := c.settings.Get()
	if model == s.LLM.ModelSmart {
		return ""
	}
	return s.LLM.ModelSmart
}

// call runs one task with escalation. It returns the raw tool-call JSON,
// or nil when the model produced nothing usable.
func (c *Client) call(ctx context.Context, task Task, messages []openai.ChatCompletionMessage, tool toolSchema) (json.RawMessage, error) {
	model := c.modelFor(task)
	raw, err := c.invoke(ctx, model, messages, tool)
	if err != nil {
		return nil, err
	}
	if !needsEscalation(raw) {
		return raw, nil
	}

	next := c.escalatedModel(model)
	if next == "" {
		return raw, nil
	}
	c.logger.Info("escalating model call", "task", string(task), "from", model, "to", next)

	esc := append(append([]openai.ChatCompletionMessage{}, messages...),
		openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleAssistant,
			Content: fmt.Sprintf("Previous attempt (needs improvement): %s", string(raw)),
		},
		openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: "The previous response was incomplete or uncertain. Provide a thorough, specific response this time.",
		},
	)
	better, err := c.invoke(ctx, next, esc, tool)
	if err != nil || better == nil {
		return raw, nil
	}
	return better, nil
}

// invoke performs a single provider request, gated by the circuit breaker.
func (c *Client) invoke(ctx context.Context, model string, messages []openai.ChatCompletionMessage, tool toolSchema) (json.RawMessage, error) {
	if !c.degrade.CanCall(degradation.DepLLM) {
		return nil, ErrModelUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	c.calls.Add(1)
	if c.onCall != nil {
		c.onCall()
	}

	api := c.newAPI(c.settings.Get().LLM.BaseURL)
	resp, err := api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: maxTokens,
		Tools: []openai.Tool{{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.name,
				Description: tool.description,
				Parameters:  tool.parameters,
			},
		}},
		ToolChoice: openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: tool.name},
		},
	})
	if err != nil {
		c.degrade.RecordFailure(degradation.DepLLM, err)
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	c.degrade.RecordSuccess(degradation.DepLLM)

	return extractToolJSON(resp), nil
}

// extractToolJSON pulls the structured result out of a completion: the
// first tool call's arguments, falling back to the content if it parses as
// JSON, else nil.
func extractToolJSON(resp openai.ChatCompletionResponse) json.RawMessage {
	if len(resp.Choices) == 0 {
		return nil
	}
	msg := resp.Choices[0].Message
	if len(msg.ToolCalls) > 0 && msg.ToolCalls[0].Function.Arguments != "" {
		return json.RawMessage(msg.ToolCalls[0].Function.Arguments)
	}
	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return nil
	}
	var probe map[string]any
	if err := json.Unmarshal([]byte(content), &probe); err != nil {
		return nil
	}
	return json.RawMessage(content)
}

// needsEscalation reports whether a result looks weak: nil, a hedging
// phrase in any string value, or an empty items / master_context_updates
// array.
func needsEscalation(raw json.RawMessage) bool {
	if raw == nil {
		return true
	}
	var parsed map[string]any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return true
	}
	return weakValue(parsed)
}

func weakValue(parsed map[string]any) bool {
	for key, v := range parsed {
		switch val := v.(type) {
		case string:
			lower := strings.ToLower(val)
			for _, phrase := range escalationPhrases {
				if strings.Contains(lower, phrase) {
					return true
				}
			}
		case []any:
			if len(val) == 0 && (key == "items" || key == "master_context_updates") {
				return true
			}
			for _, item := range val {
				if m, ok := item.(map[string]any); ok && weakValue(m) {
					return true
				}
			}
		case map[string]any:
			if weakValue(val) {
				return true
			}
		}
	}
	return false
}

// decode unmarshals a raw result into out, tolerating a nil raw (returns
// false with no error).
func decode[T any](raw json.RawMessage) (*T, error) {
	if raw == nil {
		return nil, nil
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode model result: %w", err)
	}
	return &out, nil
}
