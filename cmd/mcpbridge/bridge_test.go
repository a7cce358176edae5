// Copyright (C) 2026 Millyweb (dev@millyweb.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/millyweb/contextengine/services/engine/config"
)

// ============================================================
// Helpers
// ============================================================

func newTestBridge(t *testing.T, engineURL string) *Bridge {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewBridge(engineURL, 5*time.Second, strings.NewReader(""), io.Discard, logger)
}

func roundTrip(t *testing.T, b *Bridge, msg string) map[string]any {
	t.Helper()
	resp := b.handle(context.Background(), []byte(msg))
	require.NotNil(t, resp)
	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

// ============================================================
// Protocol handshake
// ============================================================

func TestInitialize(t *testing.T) {
	b := newTestBridge(t, "http://unused")
	out := roundTrip(t, b, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)

	result := out["result"].(map[string]any)
	assert.Equal(t, "2024-11-05", result["protocolVersion"])
	info := result["serverInfo"].(map[string]any)
	assert.Equal(t, "context-engine", info["name"])
	assert.Equal(t, config.Version, info["version"])
	assert.Contains(t, result["capabilities"].(map[string]any), "tools")
}

func TestInitializedNotificationGetsNoResponse(t *testing.T) {
	b := newTestBridge(t, "http://unused")
	resp := b.handle(context.Background(), []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	assert.Nil(t, resp)
}

func TestUnknownMethod(t *testing.T) {
	b := newTestBridge(t, "http://unused")
	out := roundTrip(t, b, `{"jsonrpc":"2.0","id":7,"method":"resources/list"}`)
	rpcErr := out["error"].(map[string]any)
	assert.Equal(t, float64(codeMethodNotFound), rpcErr["code"])
}

func TestParseError(t *testing.T) {
	b := newTestBridge(t, "http://unused")
	out := roundTrip(t, b, `{not json`)
	rpcErr := out["error"].(map[string]any)
	assert.Equal(t, float64(codeParseError), rpcErr["code"])
}

// ============================================================
// Tool listing
// ============================================================

func TestToolsList(t *testing.T) {
	b := newTestBridge(t, "http://unused")
	out := roundTrip(t, b, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)

	tools := out["result"].(map[string]any)["tools"].([]any)
	require.Len(t, tools, 7)
	names := make([]string, 0, len(tools))
	for _, raw := range tools {
		entry := raw.(map[string]any)
		names = append(names, entry["name"].(string))
		assert.NotEmpty(t, entry["description"])
		assert.Contains(t, entry["inputSchema"].(map[string]any), "type")
	}
	assert.ElementsMatch(t, []string{
		"memory_load", "memory_save", "memory_checkpoint", "memory_search",
		"memory_correct", "memory_context", "memory_stats",
	}, names)
}

// ============================================================
// Tool calls
// ============================================================

func TestToolCallForwardsBody(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"queued","session_id":"ce-1"}`))
	}))
	defer srv.Close()

	b := newTestBridge(t, srv.URL)
	out := roundTrip(t, b, `{"jsonrpc":"2.0","id":3,"method":"tools/call",
		"params":{"name":"memory_save","arguments":{"summary":"fixed caddy","project":"infra"}}}`)

	assert.Equal(t, "/api/save", gotPath)
	assert.Equal(t, "fixed caddy", gotBody["summary"])

	result := out["result"].(map[string]any)
	assert.Equal(t, false, result["isError"])
	content := result["content"].([]any)[0].(map[string]any)
	assert.Equal(t, "text", content["type"])
	assert.Contains(t, content["text"], "ce-1")
}

func TestToolCallGetEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/summary", r.URL.Path)
		_, _ = w.Write([]byte(`{"summary":"## Identity"}`))
	}))
	defer srv.Close()

	b := newTestBridge(t, srv.URL)
	out := roundTrip(t, b, `{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"memory_context"}}`)
	result := out["result"].(map[string]any)
	assert.Equal(t, false, result["isError"])
}

func TestToolCallEngineErrorIsToolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"archive unavailable"}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	b := newTestBridge(t, srv.URL)
	out := roundTrip(t, b, `{"jsonrpc":"2.0","id":5,"method":"tools/call",
		"params":{"name":"memory_search","arguments":{"query":"caddy"}}}`)

	// HTTP failures are tool results, not protocol errors.
	assert.NotContains(t, out, "error")
	result := out["result"].(map[string]any)
	assert.Equal(t, true, result["isError"])
	content := result["content"].([]any)[0].(map[string]any)
	assert.Contains(t, content["text"], "HTTP 503")
}

func TestToolCallUnreachableEngine(t *testing.T) {
	b := newTestBridge(t, "http://127.0.0.1:1")
	out := roundTrip(t, b, `{"jsonrpc":"2.0","id":6,"method":"tools/call","params":{"name":"memory_stats"}}`)
	result := out["result"].(map[string]any)
	assert.Equal(t, true, result["isError"])
}

func TestToolCallUnknownTool(t *testing.T) {
	b := newTestBridge(t, "http://unused")
	out := roundTrip(t, b, `{"jsonrpc":"2.0","id":8,"method":"tools/call","params":{"name":"memory_wipe"}}`)
	rpcErr := out["error"].(map[string]any)
	assert.Equal(t, float64(codeInvalidParams), rpcErr["code"])
}

// ============================================================
// Stream loop
// ============================================================

func TestRunAnswersLineByLine(t *testing.T) {
	in := strings.NewReader(
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}` + "\n" +
			`{"jsonrpc":"2.0","method":"notifications/initialized"}` + "\n" +
			`{"jsonrpc":"2.0","id":2,"method":"tools/list"}` + "\n")
	var out bytes.Buffer
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := NewBridge("http://unused", time.Second, in, &out, logger)

	require.NoError(t, b.Run(context.Background()))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2, "notification must not produce a response")
	var first, second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, float64(1), first["id"])
	assert.Equal(t, float64(2), second["id"])
}
