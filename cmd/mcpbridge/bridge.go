// Copyright (C) 2026 Millyweb (dev@millyweb.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/millyweb/contextengine/services/engine/config"
)

// JSON-RPC error codes per the 2.0 spec.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
)

const protocolVersion = "2024-11-05"

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// tool maps a protocol tool onto one engine endpoint. POST tools forward
// the caller's arguments verbatim as the request body; GET tools ignore
// arguments apart from a whitelisted query passthrough.
type tool struct {
	Name        string
	Description string
	Schema      map[string]any
	Method      string
	Path        string
}

func objectSchema(required []string, props map[string]any) map[string]any {
	s := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func strProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

var bridgeTools = []tool{
	{
		Name:        "memory_load",
		Description: "Load master context, relevant history and failure warnings for the start of a session.",
		Schema: objectSchema(nil, map[string]any{
			"topic":   strProp("Optional topic to focus retrieval on."),
			"project": strProp("Optional project name."),
		}),
		Method: http.MethodPost, Path: "/api/load",
	},
	{
		Name:        "memory_save",
		Description: "Save a session summary (or full transcript) for asynchronous processing.",
		Schema: objectSchema([]string{"summary"}, map[string]any{
			"summary":    strProp("Session summary text."),
			"project":    strProp("Project the session belongs to."),
			"transcript": strProp("Optional full transcript; triggers field extraction."),
		}),
		Method: http.MethodPost, Path: "/api/save",
	},
	{
		Name:        "memory_checkpoint",
		Description: "Record a mid-session checkpoint note without ending the session.",
		Schema: objectSchema([]string{"note"}, map[string]any{
			"note":       strProp("Checkpoint note."),
			"session_id": strProp("Optional session to attach the checkpoint to."),
		}),
		Method: http.MethodPost, Path: "/api/checkpoint",
	},
	{
		Name:        "memory_search",
		Description: "Search the archive collections for past sessions, decisions and failures.",
		Schema: objectSchema([]string{"query"}, map[string]any{
			"query":       strProp("Search query."),
			"collections": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"limit":       map[string]any{"type": "integer"},
		}),
		Method: http.MethodPost, Path: "/api/search",
	},
	{
		Name:        "memory_correct",
		Description: "Replace an incorrect remembered fact in master context and/or the archive.",
		Schema: objectSchema([]string{"item", "correction"}, map[string]any{
			"item":       strProp("The incorrect text to find."),
			"correction": strProp("The replacement text."),
			"scope":      strProp("hot, archive or both (default both)."),
		}),
		Method: http.MethodPost, Path: "/api/correct",
	},
	{
		Name:        "memory_context",
		Description: "Fetch a token-budgeted summary of the current master context.",
		Schema:      objectSchema(nil, map[string]any{}),
		Method:      http.MethodGet, Path: "/api/summary",
	},
	{
		Name:        "memory_stats",
		Description: "Fetch engine statistics: session counts, collection sizes, worker state.",
		Schema:      objectSchema(nil, map[string]any{}),
		Method:      http.MethodGet, Path: "/api/stats",
	},
}

// Bridge reads JSON-RPC 2.0 messages line by line on in and answers on
// out. Every tool call becomes one HTTP request against the engine.
type Bridge struct {
	engineURL string
	client    *http.Client
	logger    *slog.Logger
	in        io.Reader
	out       io.Writer
}

func NewBridge(engineURL string, timeout time.Duration, in io.Reader, out io.Writer, logger *slog.Logger) *Bridge {
	return &Bridge{
		engineURL: strings.TrimRight(engineURL, "/"),
		client:    &http.Client{Timeout: timeout},
		logger:    logger,
		in:        in,
		out:       out,
	}
}

// Run processes messages until stdin closes or ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(b.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if resp := b.handle(ctx, line); resp != nil {
			if err := b.write(resp); err != nil {
				return err
			}
		}
	}
	return scanner.Err()
}

func (b *Bridge) write(resp *rpcResponse) error {
	enc := json.NewEncoder(b.out)
	return enc.Encode(resp)
}

// handle returns nil for notifications, which get no response.
func (b *Bridge) handle(ctx context.Context, line []byte) *rpcResponse {
	var req rpcRequest
	if err := json.Unmarshal(line, &req); err != nil {
		return &rpcResponse{JSONRPC: "2.0", Error: &rpcError{Code: codeParseError, Message: "parse error"}}
	}
	if strings.HasPrefix(req.Method, "notifications/") {
		return nil
	}
	resp := &rpcResponse{JSONRPC: "2.0", ID: req.ID}
	switch req.Method {
	case "initialize":
		resp.Result = map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo": map[string]any{
				"name":    "context-engine",
				"version": config.Version,
			},
		}
	case "tools/list":
		resp.Result = b.listTools()
	case "tools/call":
		result, rpcErr := b.callTool(ctx, req.Params)
		resp.Result, resp.Error = result, rpcErr
	case "ping":
		resp.Result = map[string]any{}
	default:
		resp.Error = &rpcError{Code: codeMethodNotFound, Message: "method not found: " + req.Method}
	}
	return resp
}

func (b *Bridge) listTools() map[string]any {
	out := make([]map[string]any, 0, len(bridgeTools))
	for _, t := range bridgeTools {
		out = append(out, map[string]any{
			"name":        t.Name,
			"description": t.Description,
			"inputSchema": t.Schema,
		})
	}
	return map[string]any{"tools": out}
}

func (b *Bridge) callTool(ctx context.Context, params json.RawMessage) (any, *rpcError) {
	var call struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(params, &call); err != nil || call.Name == "" {
		return nil, &rpcError{Code: codeInvalidParams, Message: "invalid tool call params"}
	}
	var target *tool
	for i := range bridgeTools {
		if bridgeTools[i].Name == call.Name {
			target = &bridgeTools[i]
			break
		}
	}
	if target == nil {
		return nil, &rpcError{Code: codeInvalidParams, Message: "unknown tool: " + call.Name}
	}

	text, isErr := b.invoke(ctx, target, call.Arguments)
	return map[string]any{
		"content": []map[string]any{{"type": "text", "text": text}},
		"isError": isErr,
	}, nil
}

// invoke performs the HTTP exchange. Transport failures and non-2xx
// statuses surface as isError results, never as protocol errors, so the
// calling agent can read them.
func (b *Bridge) invoke(ctx context.Context, t *tool, args json.RawMessage) (string, bool) {
	var body io.Reader
	if t.Method == http.MethodPost {
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		body = bytes.NewReader(args)
	}
	req, err := http.NewRequestWithContext(ctx, t.Method, b.engineURL+t.Path, body)
	if err != nil {
		return fmt.Sprintf("request build failed: %v", err), true
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := b.client.Do(req)
	if err != nil {
		b.logger.Error("engine unreachable", "tool", t.Name, "error", err)
		return fmt.Sprintf("context engine unreachable: %v", err), true
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return fmt.Sprintf("reading engine response: %v", err), true
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b.logger.Warn("engine returned error", "tool", t.Name, "status", resp.StatusCode)
		return fmt.Sprintf("engine error (HTTP %d): %s", resp.StatusCode, string(payload)), true
	}
	return string(payload), false
}
