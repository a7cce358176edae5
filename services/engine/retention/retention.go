// Copyright (C) 2026 Millyweb (dev@millyweb.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package retention sweeps expired documents out of the archive on the
// per-collection schedules configured in settings.
package retention

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/millyweb/contextengine/services/engine/config"
)

// Pruner is the slice of the archive the sweep needs.
type Pruner interface {
	Prune(ctx context.Context, collection, cutoff string) (int, error)
	StaleCount(ctx context.Context, collection, cutoff string) (int, error)
}

// Runner executes retention sweeps.
type Runner struct {
	settings *config.SettingsStore
	archive  Pruner
	logger   *slog.Logger

	now func() time.Time
}

// NewRunner builds a Runner.
func NewRunner(settings *config.SettingsStore, archive Pruner, logger *slog.Logger) *Runner {
	return &Runner{settings: settings, archive: archive, logger: logger, now: time.Now}
}

// Policy reports the effective per-collection retention days.
func (r *Runner) Policy() map[string]int {
	out := make(map[string]int, len(config.Collections))
	for collection := range config.Collections {
		out[collection] = r.settings.RetentionDays(collection)
	}
	return out
}

// Run sweeps every collection. Overrides replace the configured days for
// the collections they name; zero days means keep forever. In dry-run
// mode nothing is deleted and the counts are what would have been.
func (r *Runner) Run(ctx context.Context, overrides map[string]int, dryRun bool) (map[string]int, error) {
	results := make(map[string]int, len(config.Collections))
	var firstErr error

	for _, collection := range sortedCollections() {
		days := r.settings.RetentionDays(collection)
		if override, ok := overrides[collection]; ok {
			days = override
		}
		if days <= 0 {
			continue
		}
		cutoff := r.now().UTC().AddDate(0, 0, -days).Format(time.RFC3339)

		var n int
		var err error
		if dryRun {
			n, err = r.archive.StaleCount(ctx, collection, cutoff)
		} else {
			n, err = r.archive.Prune(ctx, collection, cutoff)
		}
		if err != nil {
			r.logger.Warn("retention sweep failed", "collection", collection, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		results[collection] = n
	}

	if !dryRun {
		total := 0
		for _, n := range results {
			total += n
		}
		r.logger.Info("retention sweep complete", "deleted", total)
	}
	return results, firstErr
}

// RunRetention satisfies the worker's idle maintenance hook.
func (r *Runner) RunRetention(ctx context.Context) (map[string]int, error) {
	return r.Run(ctx, nil, false)
}

func sortedCollections() []string {
	out := make([]string, 0, len(config.Collections))
	for collection := range config.Collections {
		out = append(out, collection)
	}
	sort.Strings(out)
	return out
}
