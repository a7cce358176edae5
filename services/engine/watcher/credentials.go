// Copyright (C) 2026 Millyweb (dev@millyweb.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package watcher

import (
	"regexp"
	"strings"
)

// CredentialHit is one detected credential. Masked is the only value
// representation that ever reaches logs, alerts, or the ledger.
type CredentialHit struct {
	File   string `json:"file"`
	Kind   string `json:"kind"`
	Masked string `json:"masked"`
}

// Files whose entire content is scanned; everything else scans only the
// latest commit's added lines.
var credentialFileNames = map[string]struct{}{
	".env": {}, ".env.local": {}, ".env.production": {},
	"secrets.yml": {}, "secrets.yaml": {}, "credentials.json": {},
}

func isCredentialFile(base string) bool {
	lower := strings.ToLower(base)
	if _, ok := credentialFileNames[lower]; ok {
		return true
	}
	return strings.HasPrefix(lower, ".env.") ||
		strings.HasPrefix(lower, "secrets.") ||
		strings.HasPrefix(lower, "credentials.")
}

type credentialPattern struct {
	kind string
	re   *regexp.Regexp
}

// Group 1 of every pattern captures the secret value itself.
var credentialPatterns = []credentialPattern{
	{"password", regexp.MustCompile(`(?i)(?:password|passwd|pwd)\s*[=:]\s*['"]?([^\s'"]{4,})`)},
	{"api-key", regexp.MustCompile(`(?i)api[_-]?key\s*[=:]\s*['"]?([^\s'"]{8,})`)},
	{"secret", regexp.MustCompile(`(?i)secret[_a-z]*\s*[=:]\s*['"]?([^\s'"]{8,})`)},
	{"access-token", regexp.MustCompile(`(?i)(?:access|auth|api)[_-]?token\s*[=:]\s*['"]?([^\s'"]{8,})`)},
	{"connection-url", regexp.MustCompile(`(?i)(?:postgres(?:ql)?|mysql|mongodb(?:\+srv)?)://[^:/\s]+:([^@\s]+)@`)},
	{"openai-key", regexp.MustCompile(`\b(sk-[a-zA-Z0-9_-]{20,})\b`)},
	{"github-token", regexp.MustCompile(`\b(ghp_[a-zA-Z0-9]{36})\b`)},
	{"slack-token", regexp.MustCompile(`\b(xox[abps]-[a-zA-Z0-9-]{10,})\b`)},
}

// Mask renders a credential value safe for display: first and last four
// characters with the middle elided, or stars when too short to split.
func Mask(value string) string {
	if len(value) <= 8 {
		return "***"
	}
	return value[:4] + "..." + value[len(value)-4:]
}

// ScanContent runs every credential pattern over content. Each distinct
// value is reported once, under the first pattern that matched it, with
// the value already masked.
func ScanContent(file, content string) []CredentialHit {
	var out []CredentialHit
	seen := map[string]struct{}{}
	for _, p := range credentialPatterns {
		for _, m := range p.re.FindAllStringSubmatch(content, -1) {
			value := m[1]
			if placeholderValue(value) {
				continue
			}
			if _, ok := seen[value]; ok {
				continue
			}
			seen[value] = struct{}{}
			out = append(out, CredentialHit{File: file, Kind: p.kind, Masked: Mask(value)})
		}
	}
	return out
}

// placeholderValue filters template values that are clearly not secrets.
func placeholderValue(v string) bool {
	lower := strings.ToLower(v)
	switch lower {
	case "changeme", "change_me", "example", "placeholder", "xxx", "xxxx",
		"your_password", "your-password", "password", "secret", "<password>":
		return true
	}
	return strings.HasPrefix(v, "${") || strings.HasPrefix(v, "{{") ||
		strings.HasPrefix(lower, "your_") || strings.HasPrefix(lower, "your-")
}
