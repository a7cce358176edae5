// Copyright (C) 2026 Millyweb (dev@millyweb.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package watcher

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendLedgerSection_CreatesHeader(t *testing.T) {
	out := appendLedgerSection("", "### [2026-01-15 12:00 UTC] Stack: app\n\nbody\n")
	assert.True(t, strings.HasPrefix(out, "# Infrastructure Changes (Auto-Detected)"))
	assert.Contains(t, out, "Do not edit manually.")
	assert.Contains(t, out, "### [2026-01-15 12:00 UTC] Stack: app")
}

func TestAppendLedgerSection_Appends(t *testing.T) {
	out := appendLedgerSection("", "### [a] Stack: one\n\nfirst\n")
	out = appendLedgerSection(out, "### [b] Stack: two\n\nsecond\n")
	assert.Equal(t, 2, strings.Count(out, "\n### ["))
	assert.Less(t, strings.Index(out, "Stack: one"), strings.Index(out, "Stack: two"))
}

func TestAppendLedgerSection_TrimsToCap(t *testing.T) {
	out := ""
	for i := 0; i < maxLedgerSections+10; i++ {
		out = appendLedgerSection(out, fmt.Sprintf("### [t%d] Stack: s%d\n\nbody %d\n", i, i, i))
	}
	assert.Equal(t, maxLedgerSections, strings.Count(out, "\n### ["))
	// Oldest entries gone, newest kept, header intact.
	assert.True(t, strings.HasPrefix(out, "# Infrastructure Changes (Auto-Detected)"))
	assert.NotContains(t, out, "Stack: s0\n")
	assert.NotContains(t, out, "Stack: s9\n")
	assert.Contains(t, out, "Stack: s10\n")
	assert.Contains(t, out, fmt.Sprintf("Stack: s%d", maxLedgerSections+9))
}

func TestStackSection_Table(t *testing.T) {
	section := stackSection("2026-01-15 12:00 UTC", ComposeStack{
		File: "stacks/app/docker-compose.yml",
		Name: "app",
		Services: []ComposeService{
			{Name: "web", Image: "nginx:1.27", Ports: []string{"8080:80"}, Networks: []string{"frontend"}},
			{Name: "db", Image: "postgres:16", EnvKeys: []string{"POSTGRES_USER", "POSTGRES_PASSWORD"}},
		},
	})
	assert.Contains(t, section, "### [2026-01-15 12:00 UTC] Stack: app")
	assert.Contains(t, section, "| Service | Image | Ports | Networks |")
	assert.Contains(t, section, "| web | nginx:1.27 | 8080:80 | frontend |")
	assert.Contains(t, section, "| db | postgres:16 | - | - |")
	assert.Contains(t, section, "Env (db): POSTGRES_USER, POSTGRES_PASSWORD")
}

func TestStackSection_EnvKeyCap(t *testing.T) {
	keys := make([]string, maxLedgerEnvKeys+5)
	for i := range keys {
		keys[i] = fmt.Sprintf("VAR_%02d", i)
	}
	section := stackSection("t", ComposeStack{Name: "app", Services: []ComposeService{
		{Name: "svc", Image: "img", EnvKeys: keys},
	}})
	assert.Contains(t, section, fmt.Sprintf("VAR_%02d", maxLedgerEnvKeys-1))
	assert.NotContains(t, section, fmt.Sprintf("VAR_%02d", maxLedgerEnvKeys))
}

func TestCredentialSection_OnlyMaskedValue(t *testing.T) {
	section := credentialSection("t", CredentialHit{File: ".env", Kind: "api-key", Masked: "sk-a...6789"})
	assert.Contains(t, section, "Credential Alert: .env")
	assert.Contains(t, section, "sk-a...6789")
	require.NotContains(t, section, "sk-abcdef")
}
