// Copyright (C) 2026 Millyweb (dev@millyweb.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the engine's HTTP surface.
package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/millyweb/contextengine/services/engine/datatypes"
)

// defaultSource labels sessions whose caller did not say where they came
// from; the normal caller is the MCP bridge.
const defaultSource = "mcp"

// Archiver is the slice of the vector store the HTTP surface needs.
type Archiver interface {
	Search(ctx context.Context, collection, query string, limit int, maxDistance float64) ([]datatypes.SearchHit, error)
	GetRecent(ctx context.Context, collection string, n int) ([]datatypes.Document, error)
	Upsert(ctx context.Context, collection, docID, content string, metadata map[string]any) error
	Snapshot(ctx context.Context, collection, docID string) (string, error)
	Count(ctx context.Context, collection string) (int, error)
}

// Extractor structures free text into session fields.
type Extractor interface {
	ExtractSessionFields(ctx context.Context, text string) (*datatypes.ExtractedFields, error)
	ExtractFromTranscript(ctx context.Context, transcript string) (*datatypes.ExtractedFields, error)
}

// Queue pushes stored sessions onto the worker.
type Queue interface {
	Enqueue(sessionID, file string)
}

// MasterGateway reads and writes the master context document.
type MasterGateway interface {
	ReadMaster() (content, source string, err error)
	WriteMaster(ctx context.Context, content, commitMessage string) error
	Accessible() bool
}

// newSessionID generates the canonical session id for interactive loads.
func newSessionID(at time.Time) string {
	return fmt.Sprintf("ce-%s-%s", at.UTC().Format("20060102"), uuid.NewString()[:8])
}

// ingestSessionID tags externally ingested sessions by source.
func ingestSessionID(source string, at time.Time, raw bool) string {
	kind := ""
	if raw {
		kind = "raw-"
	}
	return fmt.Sprintf("%s-%s%s-%s", slugSource(source), kind,
		at.UTC().Format("20060102-150405"), uuid.NewString()[:6])
}

func slugSource(source string) string {
	out := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '-'
		}
	}, source)
	return strings.Trim(out, "-")
}

// clip truncates s to max characters, appending an ellipsis when cut.
func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
