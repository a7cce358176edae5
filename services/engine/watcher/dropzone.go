// Copyright (C) 2026 Millyweb (dev@millyweb.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/millyweb/contextengine/services/engine/datatypes"
	"github.com/millyweb/contextengine/services/engine/sessions"
)

// settleDelay gives the writer time to finish before the transcript is
// picked up.
const settleDelay = 2 * time.Second

var transcriptExts = map[string]struct{}{".json": {}, ".txt": {}, ".md": {}}

// DropZone turns transcript files appearing in a directory into
// checkpoint sessions carrying a transcript path.
type DropZone struct {
	dir    string
	store  *sessions.Store
	queue  Enqueuer
	logger *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

// NewDropZone builds a DropZone over dir.
func NewDropZone(dir string, store *sessions.Store, queue Enqueuer, logger *slog.Logger) *DropZone {
	return &DropZone{
		dir:    dir,
		store:  store,
		queue:  queue,
		logger: logger,
		now:    time.Now,
		sleep: func(ctx context.Context, d time.Duration) {
			select {
			case <-ctx.Done():
			case <-time.After(d):
			}
		},
	}
}

// Run watches for transcript creation until the context is canceled.
func (z *DropZone) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create drop-zone watcher: %w", err)
	}
	defer fsw.Close()
	if err := fsw.Add(z.dir); err != nil {
		return fmt.Errorf("watch drop zone %s: %w", z.dir, err)
	}
	z.logger.Info("transcript drop zone active", "dir", z.dir)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !ev.Op.Has(fsnotify.Create) {
				continue
			}
			if _, ok := transcriptExts[strings.ToLower(filepath.Ext(ev.Name))]; !ok {
				continue
			}
			// Let the producer finish writing before we reference the file.
			z.sleep(ctx, settleDelay)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			z.emit(ev.Name)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			z.logger.Warn("drop-zone watch error", "error", err)
		}
	}
}

// emit writes a checkpoint session pointing at the dropped transcript.
func (z *DropZone) emit(path string) {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	id := "transcript-" + stem

	record := &datatypes.SessionRecord{
		SessionID:      id,
		Timestamp:      z.now().UTC().Format(time.RFC3339),
		Source:         "transcript-dropzone",
		Summary:        "Transcript arrived: " + base,
		Significance:   datatypes.SignificanceMedium,
		TranscriptPath: path,
	}
	if err := z.store.Write(record); err != nil {
		z.logger.Error("drop-zone session write failed", "session_id", id, "error", err)
		return
	}
	z.queue.Enqueue(id, id+".json")
	z.logger.Info("transcript checkpoint queued", "session_id", id, "path", path)
}
