// Copyright (C) 2026 Millyweb (dev@millyweb.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package watcher

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var composeNames = map[string]struct{}{
	"docker-compose.yml": {}, "docker-compose.yaml": {},
	"compose.yml": {}, "compose.yaml": {},
}

func isComposeFile(base string) bool {
	_, ok := composeNames[strings.ToLower(base)]
	return ok
}

// stackName labels a stack by its directory, falling back to the file.
func stackName(rel string) string {
	dir := filepath.ToSlash(filepath.Dir(rel))
	if dir == "." || dir == "/" {
		return strings.TrimSuffix(filepath.Base(rel), filepath.Ext(rel))
	}
	return filepath.Base(dir)
}

// ComposeService is the per-service extract of a compose file. Environment
// holds variable names only; values never leave the file.
type ComposeService struct {
	Name     string   `json:"name"`
	Image    string   `json:"image"`
	Ports    []string `json:"ports,omitempty"`
	Networks []string `json:"networks,omitempty"`
	Volumes  []string `json:"volumes,omitempty"`
	EnvKeys  []string `json:"env_keys,omitempty"`
}

// ComposeStack groups the services of one compose file.
type ComposeStack struct {
	File     string           `json:"file"`
	Name     string           `json:"name"`
	Services []ComposeService `json:"services"`
}

type composeFile struct {
	Services map[string]composeServiceYAML `yaml:"services"`
}

type composeServiceYAML struct {
	ContainerName string `yaml:"container_name"`
	Image         string `yaml:"image"`
	Build         any    `yaml:"build"`
	Ports         []any  `yaml:"ports"`
	Networks      any    `yaml:"networks"`
	Volumes       []any  `yaml:"volumes"`
	Environment   any    `yaml:"environment"`
}

// ParseCompose extracts services from a compose document. Parse errors
// fall back to a line-oriented scan so a malformed file still yields the
// service names.
func ParseCompose(content []byte) []ComposeService {
	var doc composeFile
	if err := yaml.Unmarshal(content, &doc); err != nil || len(doc.Services) == 0 {
		return parseComposeFallback(string(content))
	}

	names := make([]string, 0, len(doc.Services))
	for name := range doc.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]ComposeService, 0, len(names))
	for _, key := range names {
		raw := doc.Services[key]
		svc := ComposeService{Name: key, Image: raw.Image}
		if raw.ContainerName != "" {
			svc.Name = raw.ContainerName
		}
		if svc.Image == "" && raw.Build != nil {
			svc.Image = "custom (build)"
		}
		for _, p := range raw.Ports {
			if s := portString(p); s != "" {
				svc.Ports = append(svc.Ports, s)
			}
		}
		svc.Networks = stringsOrKeys(raw.Networks)
		for _, v := range raw.Volumes {
			if s := volumeSource(v); s != "" {
				svc.Volumes = append(svc.Volumes, s)
			}
		}
		svc.EnvKeys = envNames(raw.Environment)
		out = append(out, svc)
	}
	return out
}

// portString renders either short ("8080:80") or long port syntax.
func portString(v any) string {
	switch p := v.(type) {
	case string:
		return p
	case int:
		return fmt.Sprintf("%d", p)
	case map[string]any:
		pub, tgt := p["published"], p["target"]
		if pub != nil && tgt != nil {
			return fmt.Sprintf("%v:%v", pub, tgt)
		}
		if tgt != nil {
			return fmt.Sprintf("%v", tgt)
		}
	}
	return ""
}

// stringsOrKeys handles compose fields that are a list or a name-keyed map.
func stringsOrKeys(v any) []string {
	var out []string
	switch n := v.(type) {
	case []any:
		for _, e := range n {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
	case map[string]any:
		for k := range n {
			out = append(out, k)
		}
		sort.Strings(out)
	}
	return out
}

// volumeSource keeps only the host side of a volume mapping.
func volumeSource(v any) string {
	switch m := v.(type) {
	case string:
		return strings.SplitN(m, ":", 2)[0]
	case map[string]any:
		if s, ok := m["source"].(string); ok {
			return s
		}
	}
	return ""
}

// envNames returns environment variable names only, from either the map
// or the KEY=value list form.
func envNames(v any) []string {
	var out []string
	switch e := v.(type) {
	case map[string]any:
		for k := range e {
			out = append(out, k)
		}
		sort.Strings(out)
	case []any:
		for _, item := range e {
			if s, ok := item.(string); ok {
				out = append(out, strings.SplitN(s, "=", 2)[0])
			}
		}
	}
	return out
}

var (
	composeServiceRe = regexp.MustCompile(`(?m)^  ([a-zA-Z0-9_-]+):\s*$`)
	composeImageRe   = regexp.MustCompile(`(?m)^\s+image:\s*(\S+)`)
)

// parseComposeFallback recovers service names and images when the YAML
// does not parse.
func parseComposeFallback(content string) []ComposeService {
	if !strings.Contains(content, "services:") {
		return nil
	}
	_, after, ok := strings.Cut(content, "services:")
	if !ok {
		return nil
	}
	names := composeServiceRe.FindAllStringSubmatch(after, -1)
	images := composeImageRe.FindAllStringSubmatch(after, -1)

	out := make([]ComposeService, 0, len(names))
	for i, m := range names {
		svc := ComposeService{Name: m[1], Image: "custom (build)"}
		if i < len(images) {
			svc.Image = images[i][1]
		}
		out = append(out, svc)
	}
	return out
}
