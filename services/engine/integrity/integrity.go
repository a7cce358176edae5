// Copyright (C) 2026 Millyweb (dev@millyweb.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package integrity is the deterministic gate on master-context updates.
//
// # Description
//
// Model-driven compression of the master context can silently lose
// infrastructure facts: ports, container names, domains, IPs, projects.
// The checker extracts those facts from both the pre-compression master
// and the proposed draft with plain regexes, and grades what the draft
// dropped. High-severity drops are vetoed by the worker; medium and low
// go through with a warning.
//
// No model is involved: the same pair of texts always produces the same
// verdict.
package integrity

import (
	"bufio"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Severity grades for a proposed update.
const (
	SeverityNone   = "none"
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Port range considered infrastructure. The engine's own port block is
// excluded so self-references never trip the gate.
const (
	portMin        = 1024
	portMax        = 65535
	ownPortRangeLo = 2020
	ownPortRangeHi = 2035
)

// Dropped-fact count at which medium escalates to high.
const highDropCount = 3

// defaultDomainRoots are the domains whose subdomains count as
// infrastructure facts.
var defaultDomainRoots = []string{"millyweb.com", "dartai.com", "github.com", "openrouter.ai"}

// knownProjects are names that count as project references wherever they
// appear, without needing a "project:" label.
var knownProjects = []string{
	"ContextEngine", "MillyExt", "MCP Provisioner", "Zipline", "MinIO", "Jerry", "OpenClaw",
}

var (
	portMappingRe = regexp.MustCompile(`\b(\d{2,5}):(\d{2,5})\b`)
	barePortRe    = regexp.MustCompile(`\bport\s+(\d{2,5})\b`)
	ipRe          = regexp.MustCompile(`\b(\d{1,3})\.(\d{1,3})\.(\d{1,3})\.(\d{1,3})\b`)
	projectRe     = regexp.MustCompile(`(?i)\b(?:project|system|platform):\s*([A-Za-z][A-Za-z0-9 _-]{2,40})`)

	// Four ways prose names a container.
	containerLabelRe  = regexp.MustCompile(`(?i)\b(?:container|service|stack):\s*([a-z][a-z0-9_-]+)`)
	containerNamedRe  = regexp.MustCompile(`(?i)\bcontainer\s+(?:named?|called)\s+([a-z][a-z0-9_-]+)`)
	containerSuffixRe = regexp.MustCompile(`\b([a-z][a-z0-9_-]+)[-_]container\b`)
	dockerVerbRe      = regexp.MustCompile(`\bdocker\s+(?:run|exec|logs|restart|stop)\s+(?:-\S+\s+)*([a-z][a-z0-9_-]+)`)
)

// containerStopwords are ordinary words the container regexes would
// otherwise pick up from prose.
var containerStopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true,
	"this": true, "from": true, "into": true, "was": true, "are": true,
	"has": true, "had": true, "not": true, "but": true, "all": true,
	"any": true, "can": true, "will": true, "now": true, "new": true,
	"old": true, "one": true, "two": true, "its": true, "our": true,
	"out": true, "run": true, "running": true, "named": true, "name": true,
	"image": true, "host": true, "port": true, "ports": true, "each": true,
	"every": true, "some": true, "same": true, "other": true, "which": true,
	"where": true, "when": true, "then": true, "than": true, "also": true,
	"been": true, "being": true, "after": true, "before": true, "using": true,
	"used": true, "uses": true, "via": true, "per": true, "may": true,
	"should": true, "would": true, "could": true, "still": true, "only": true,
}

// Facts is one extraction result.
type Facts struct {
	Ports      []int    `json:"ports,omitempty"`
	Containers []string `json:"containers,omitempty"`
	Domains    []string `json:"domains,omitempty"`
	IPs        []string `json:"ips,omitempty"`
	Projects   []string `json:"projects,omitempty"`
}

// Report is the checker's verdict on a proposed draft.
type Report struct {
	Severity      string         `json:"severity"`
	Dropped       Facts          `json:"dropped"`
	KnownServices []KnownService `json:"known_services,omitempty"`
}

// Checker extracts and grades infrastructure facts.
type Checker struct {
	domainRe *regexp.Regexp
}

// NewChecker builds a Checker for the given domain roots (nil = defaults).
func NewChecker(domainRoots []string) *Checker {
	if len(domainRoots) == 0 {
		domainRoots = defaultDomainRoots
	}
	escaped := make([]string, len(domainRoots))
	for i, d := range domainRoots {
		escaped[i] = regexp.QuoteMeta(d)
	}
	return &Checker{
		domainRe: regexp.MustCompile(`\b([a-z0-9][a-z0-9-]*\.(?:` + strings.Join(escaped, "|") + `))\b`),
	}
}

// Extract pulls all infrastructure facts out of a text.
func (c *Checker) Extract(text string) Facts {
	return Facts{
		Ports:      extractPorts(text),
		Containers: extractContainers(text),
		Domains:    dedupe(c.domainRe.FindAllString(strings.ToLower(text), -1)),
		IPs:        extractIPs(text),
		Projects:   extractProjects(text),
	}
}

// Check extracts facts from the current master and the proposed draft,
// subtracts what the draft still states, and grades what it dropped.
func (c *Checker) Check(draft, current string) Report {
	currentFacts := c.Extract(current)
	draftFacts := c.Extract(draft)

	dropped := Facts{
		Ports:      subtractInts(currentFacts.Ports, draftFacts.Ports),
		Containers: subtract(currentFacts.Containers, draftFacts.Containers),
		Domains:    subtract(currentFacts.Domains, draftFacts.Domains),
		IPs:        subtract(currentFacts.IPs, draftFacts.IPs),
		Projects:   subtract(currentFacts.Projects, draftFacts.Projects),
	}
	return Report{Severity: grade(dropped), Dropped: dropped}
}

// grade applies the severity ladder: any dropped IP or a pile of dropped
// infrastructure facts is high; any dropped port, container, or domain is
// medium; dropped project references alone are low.
func grade(f Facts) string {
	infra := len(f.Ports) + len(f.Containers) + len(f.Domains) + len(f.IPs)
	switch {
	case len(f.IPs) > 0 || infra >= highDropCount:
		return SeverityHigh
	case infra > 0:
		return SeverityMedium
	case len(f.Projects) > 0:
		return SeverityLow
	default:
		return SeverityNone
	}
}

func extractPorts(text string) []int {
	seen := map[int]bool{}
	for _, m := range portMappingRe.FindAllStringSubmatch(text, -1) {
		// Host side of host:container mappings.
		if p, ok := validPort(m[1]); ok {
			seen[p] = true
		}
	}
	for _, m := range barePortRe.FindAllStringSubmatch(strings.ToLower(text), -1) {
		if p, ok := validPort(m[1]); ok {
			seen[p] = true
		}
	}
	out := make([]int, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

func validPort(s string) (int, bool) {
	p, err := strconv.Atoi(s)
	if err != nil || p < portMin || p > portMax {
		return 0, false
	}
	if p >= ownPortRangeLo && p <= ownPortRangeHi {
		return 0, false
	}
	return p, true
}

func extractContainers(text string) []string {
	seen := map[string]bool{}
	for _, re := range []*regexp.Regexp{containerLabelRe, containerNamedRe, containerSuffixRe, dockerVerbRe} {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			name := strings.ToLower(m[1])
			if len(name) <= 2 || containerStopwords[name] {
				continue
			}
			seen[name] = true
		}
	}
	return sortedKeys(seen)
}

func extractIPs(text string) []string {
	seen := map[string]bool{}
	for _, m := range ipRe.FindAllStringSubmatch(text, -1) {
		valid := true
		for _, octet := range m[1:] {
			if n, err := strconv.Atoi(octet); err != nil || n > 255 {
				valid = false
				break
			}
		}
		if valid {
			seen[m[0]] = true
		}
	}
	return sortedKeys(seen)
}

func extractProjects(text string) []string {
	seen := map[string]bool{}
	for _, m := range projectRe.FindAllStringSubmatch(text, -1) {
		seen[strings.TrimSpace(m[1])] = true
	}
	for _, p := range knownProjects {
		if strings.Contains(text, p) {
			seen[p] = true
		}
	}
	return sortedKeys(seen)
}

func dedupe(items []string) []string {
	seen := map[string]bool{}
	for _, s := range items {
		seen[s] = true
	}
	return sortedKeys(seen)
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// subtract returns the entries of pre that post no longer states.
func subtract(pre, post []string) []string {
	have := map[string]bool{}
	for _, s := range post {
		have[s] = true
	}
	var out []string
	for _, s := range pre {
		if !have[s] {
			out = append(out, s)
		}
	}
	return out
}

func subtractInts(pre, post []int) []int {
	have := map[int]bool{}
	for _, p := range post {
		have[p] = true
	}
	var out []int
	for _, p := range pre {
		if !have[p] {
			out = append(out, p)
		}
	}
	return out
}

// =============================================================================
// Known facts ledger
// =============================================================================

// KnownService is one row from the auto-detected infrastructure ledger.
// Reference material for operators reviewing a veto; never merged into the
// comparison baseline.
type KnownService struct {
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
	Port  string `json:"port,omitempty"`
}

// ParseKnownServices reads the service tables out of the watcher's
// markdown ledger.
func ParseKnownServices(ledger string) []KnownService {
	var services []KnownService
	scanner := bufio.NewScanner(strings.NewReader(ledger))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "|") {
			continue
		}
		cells := splitTableRow(line)
		if len(cells) < 2 {
			continue
		}
		name := cells[0]
		switch strings.ToLower(name) {
		case "service", "", "---":
			continue
		}
		if strings.HasPrefix(name, "-") {
			continue
		}
		svc := KnownService{Name: name}
		if len(cells) > 1 {
			svc.Image = cells[1]
		}
		if len(cells) > 2 {
			// Host side of a port mapping.
			svc.Port = strings.SplitN(cells[2], ":", 2)[0]
		}
		services = append(services, svc)
	}
	return services
}

func splitTableRow(line string) []string {
	parts := strings.Split(strings.Trim(line, "|"), "|")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}
