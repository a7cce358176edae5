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
	"os"
	"path/filepath"
	"strings"
)

const (
	// LedgerPath is the auto-maintained infrastructure changelog,
	// relative to the watched working tree.
	LedgerPath = "infrastructure/auto-detected-changes.md"

	ledgerHeader = "# Infrastructure Changes (Auto-Detected)\n\n" +
		"> Generated by ContextEngine FileWatcher. Do not edit manually.\n"

	maxLedgerSections = 100
	maxLedgerEnvKeys  = 15
)

// writeLedger appends this batch's findings to the changelog and commits
// the update in a follow-up commit.
func (w *Watcher) writeLedger(ctx context.Context, root string, report *batchReport) error {
	path := filepath.Join(root, LedgerPath)
	existing := ""
	if b, err := os.ReadFile(path); err == nil {
		existing = string(b)
	}

	stamp := w.now().UTC().Format("2006-01-02 15:04 UTC")
	updated := existing
	count := 0
	for _, stack := range report.Stacks {
		updated = appendLedgerSection(updated, stackSection(stamp, stack))
		count++
	}
	for _, cred := range report.Creds {
		updated = appendLedgerSection(updated, credentialSection(stamp, cred))
		count++
	}
	for _, dir := range report.NewDirs {
		updated = appendLedgerSection(updated, newServiceSection(stamp, dir, report.Commit))
		count++
	}
	if count == 0 {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return err
	}
	if _, err := w.git(ctx, root, "add", "-A"); err != nil {
		return err
	}
	_, err := w.git(ctx, root, "commit", "-m", fmt.Sprintf("auto: infra detector - %d update(s)", count))
	return err
}

// appendLedgerSection adds one "### [" section, creating the header on
// first write and trimming to the newest maxLedgerSections.
func appendLedgerSection(existing, section string) string {
	if !strings.HasPrefix(existing, "# Infrastructure Changes") {
		existing = ledgerHeader
	}
	content := strings.TrimRight(existing, "\n") + "\n\n" + strings.TrimRight(section, "\n") + "\n"

	parts := strings.Split(content, "\n### [")
	if len(parts)-1 <= maxLedgerSections {
		return content
	}
	head := parts[0]
	keep := parts[len(parts)-maxLedgerSections:]
	return strings.TrimRight(head, "\n") + "\n\n### [" + strings.Join(keep, "\n### [")
}

func stackSection(stamp string, stack ComposeStack) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### [%s] Stack: %s\n\n", stamp, stack.Name)
	fmt.Fprintf(&b, "File: `%s`\n\n", stack.File)
	b.WriteString("| Service | Image | Ports | Networks |\n")
	b.WriteString("|---------|-------|-------|----------|\n")
	for _, svc := range stack.Services {
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n",
			svc.Name, svc.Image, cell(svc.Ports), cell(svc.Networks))
	}
	for _, svc := range stack.Services {
		if len(svc.EnvKeys) == 0 {
			continue
		}
		keys := svc.EnvKeys
		if len(keys) > maxLedgerEnvKeys {
			keys = keys[:maxLedgerEnvKeys]
		}
		fmt.Fprintf(&b, "\nEnv (%s): %s\n", svc.Name, strings.Join(keys, ", "))
	}
	return b.String()
}

func credentialSection(stamp string, cred CredentialHit) string {
	return fmt.Sprintf("### [%s] Credential Alert: %s\n\nPattern `%s` matched; value `%s` committed to the tree. Rotate it.\n",
		stamp, cred.File, cred.Kind, cred.Masked)
}

func newServiceSection(stamp, dir, commit string) string {
	return fmt.Sprintf("### [%s] New Service: %s\n\nFirst seen in commit %s.\n", stamp, dir, commit)
}

func cell(values []string) string {
	if len(values) == 0 {
		return "-"
	}
	return strings.Join(values, ", ")
}
