// Copyright (C) 2026 Millyweb (dev@millyweb.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging builds the structured loggers used by the engine and
// its companion binaries.
//
// The engine runs inside a container and logs JSON to stdout where the
// compose log driver picks it up. The stdio bridge speaks JSON-RPC on
// stdout, so anything it logs MUST go to stderr; use NewStderr there.
//
// Levels follow slog conventions and are selected by name (debug, info,
// warn, error). An unrecognized or empty name selects info.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New returns a JSON logger writing to stdout at the named level.
func New(level string) *slog.Logger {
	return at(os.Stdout, level)
}

// NewStderr returns a JSON logger writing to stderr at the named level.
// Required for binaries whose stdout carries a protocol.
func NewStderr(level string) *slog.Logger {
	return at(os.Stderr, level)
}

func at(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
