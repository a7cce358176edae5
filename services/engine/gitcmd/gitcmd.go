// Copyright (C) 2026 Millyweb (dev@millyweb.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package gitcmd runs git against a working tree. Used by the knowledge
// base store and the file watcher for their auto-commit flows.
package gitcmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const commandTimeout = 30 * time.Second

// Run executes git with the given args in dir and returns trimmed stdout.
func Run(ctx context.Context, dir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// IsRepo reports whether dir is inside a git work tree.
func IsRepo(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil
}

// EnsureRepo initializes a repository in dir when none exists, with a
// dedicated committer identity so auto-commits are attributable.
func EnsureRepo(ctx context.Context, dir, email, name string) error {
	if IsRepo(dir) {
		return nil
	}
	if _, err := Run(ctx, dir, "init", "--initial-branch=main"); err != nil {
		return err
	}
	if _, err := Run(ctx, dir, "config", "user.email", email); err != nil {
		return err
	}
	_, err := Run(ctx, dir, "config", "user.name", name)
	return err
}

// Commit stages everything and commits. --allow-empty keeps the flow
// idempotent when nothing actually changed.
func Commit(ctx context.Context, dir, message string) error {
	if _, err := Run(ctx, dir, "add", "-A"); err != nil {
		return err
	}
	_, err := Run(ctx, dir, "commit", "-m", message, "--allow-empty")
	return err
}
