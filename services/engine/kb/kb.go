// Copyright (C) 2026 Millyweb (dev@millyweb.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package kb is the knowledge base gateway for the master context.
//
// # Description
//
// The master context lives in an external git-backed knowledge base with a
// local copy under the data directory as fallback. Reads try external,
// then local, then the degradation cache; writes always land locally and
// are mirrored to the external tree with a git commit when it is mounted.
//
// Standalone mode skips the external tree entirely for deployments without
// a mounted knowledge base.
package kb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/millyweb/contextengine/services/engine/config"
	"github.com/millyweb/contextengine/services/engine/degradation"
	"github.com/millyweb/contextengine/services/engine/gitcmd"
)

// ErrUnsafePath rejects paths that escape the knowledge base root.
var ErrUnsafePath = errors.New("path escapes knowledge base root")

// DefaultCommitMessage is used when a write does not carry its own.
const DefaultCommitMessage = "ContextEngine: update master context"

// Source tags for where a read was satisfied from.
const (
	SourceLive  = "live"
	SourceLocal = "local"
	SourceCache = "cache"
)

// Gateway reads and writes the master context and other knowledge base
// files.
type Gateway struct {
	root       string
	masterRel  string
	localPath  string
	standalone bool
	degrade    *degradation.Manager
	logger     *slog.Logger
}

func NewGateway(cfg *config.Config, degrade *degradation.Manager, logger *slog.Logger) *Gateway {
	return &Gateway{
		root:       cfg.KBRoot,
		masterRel:  cfg.MasterContextPath,
		localPath:  cfg.LocalMasterPath,
		standalone: cfg.StandaloneMode,
		degrade:    degrade,
		logger:     logger,
	}
}

// safePath resolves rel inside the root and rejects traversal outside it.
func (g *Gateway) safePath(rel string) (string, error) {
	full := filepath.Join(g.root, rel)
	canonical, err := filepath.Abs(full)
	if err != nil {
		return "", err
	}
	rootAbs, err := filepath.Abs(g.root)
	if err != nil {
		return "", err
	}
	if canonical != rootAbs && !strings.HasPrefix(canonical, rootAbs+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, rel)
	}
	return canonical, nil
}

// ReadMaster returns the master context and where it came from. The
// external tree is authoritative; the local copy and the degradation cache
// are fallbacks, in that order. Each successful external read refreshes
// the cache.
func (g *Gateway) ReadMaster() (content, source string, err error) {
	if !g.standalone {
		path, perr := g.safePath(g.masterRel)
		if perr == nil {
			data, rerr := os.ReadFile(path)
			if rerr == nil {
				g.degrade.RecordSuccess(degradation.DepKB)
				g.degrade.CacheMaster(string(data), SourceLive)
				return string(data), SourceLive, nil
			}
			g.degrade.RecordFailure(degradation.DepKB, rerr)
		}
	}

	data, rerr := os.ReadFile(g.localPath)
	if rerr == nil {
		if g.standalone {
			g.degrade.RecordSuccess(degradation.DepKB)
		}
		g.degrade.CacheMaster(string(data), SourceLocal)
		return string(data), SourceLocal, nil
	}

	if cached, ok := g.degrade.CachedMaster(); ok {
		return cached.Content, SourceCache, nil
	}
	return "", "", fmt.Errorf("master context unavailable: %w", rerr)
}

// WriteMaster persists the master context locally and, when the external
// tree is available, mirrors it there with a git commit.
func (g *Gateway) WriteMaster(ctx context.Context, content, commitMessage string) error {
	if commitMessage == "" {
		commitMessage = DefaultCommitMessage
	}
	if err := writeFileAtomic(g.localPath, content); err != nil {
		return fmt.Errorf("write local master: %w", err)
	}
	g.degrade.CacheMaster(content, SourceLocal)

	if g.standalone {
		return nil
	}
	if err := g.WriteFile(ctx, g.masterRel, content, commitMessage); err != nil {
		g.degrade.RecordFailure(degradation.DepKB, err)
		g.logger.Warn("external master write failed, local copy is current", "error", err)
		return nil
	}
	g.degrade.RecordSuccess(degradation.DepKB)
	g.degrade.CacheMaster(content, SourceLive)
	return nil
}

// ReadFile reads an arbitrary knowledge base file.
func (g *Gateway) ReadFile(rel string) (string, error) {
	path, err := g.safePath(rel)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteFile writes an arbitrary knowledge base file and commits the tree.
func (g *Gateway) WriteFile(ctx context.Context, rel, content, commitMessage string) error {
	path, err := g.safePath(rel)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(path, content); err != nil {
		return err
	}
	if !gitcmd.IsRepo(g.root) {
		return nil
	}
	if err := gitcmd.Commit(ctx, g.root, commitMessage); err != nil {
		g.logger.Warn("knowledge base commit failed", "error", err)
	}
	return nil
}

// Accessible reports whether the external tree can currently be read.
func (g *Gateway) Accessible() bool {
	if g.standalone {
		return false
	}
	path, err := g.safePath(g.masterRel)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

func writeFileAtomic(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
