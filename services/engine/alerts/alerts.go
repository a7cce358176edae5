// Copyright (C) 2026 Millyweb (dev@millyweb.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package alerts delivers operator notifications over Telegram.
package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Alert levels.
const (
	LevelInfo     = "info"
	LevelWarning  = "warning"
	LevelError    = "error"
	LevelCritical = "critical"
)

var levelEmoji = map[string]string{
	LevelInfo:     "ℹ️",
	LevelWarning:  "⚠️",
	LevelError:    "❌",
	LevelCritical: "\U0001f525",
}

const sendTimeout = 10 * time.Second

// Notifier posts alerts to a Telegram chat. A Notifier with no token is
// valid and silently drops everything.
type Notifier struct {
	botToken string
	chatID   string
	enabled  func() bool
	apiBase  string
	client   *http.Client
	logger   *slog.Logger
}

// NewNotifier builds a Notifier. enabled, if non-nil, is consulted per
// send so notifications can be toggled at runtime.
func NewNotifier(botToken, chatID string, enabled func() bool, logger *slog.Logger) *Notifier {
	return &Notifier{
		botToken: botToken,
		chatID:   chatID,
		enabled:  enabled,
		apiBase:  "https://api.telegram.org",
		client:   &http.Client{Timeout: sendTimeout},
		logger:   logger,
	}
}

// Send delivers one alert. Delivery failures are logged, not returned:
// alerting must never break the pipeline it reports on.
func (n *Notifier) Send(ctx context.Context, title, body, level string) {
	if n.botToken == "" || n.chatID == "" {
		return
	}
	if n.enabled != nil && !n.enabled() {
		return
	}
	emoji, ok := levelEmoji[level]
	if !ok {
		emoji = levelEmoji[LevelInfo]
	}

	payload, _ := json.Marshal(map[string]string{
		"chat_id":    n.chatID,
		"text":       fmt.Sprintf("%s *ContextEngine: %s*\n\n%s", emoji, title, body),
		"parse_mode": "Markdown",
	})

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		n.logger.Warn("alert request build failed", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("alert delivery failed", "title", title, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		n.logger.Warn("alert rejected", "title", title, "status", resp.StatusCode)
	}
}
