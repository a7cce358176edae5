// Copyright (C) 2026 Millyweb (dev@millyweb.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package degradation tracks dependency health and decides how much of the
// pipeline can run when parts of it are down.
//
// # Description
//
// The Manager owns one circuit breaker per external dependency (model
// provider, vector store, knowledge base) plus a cached copy of the master
// context for serving when the knowledge base is unreachable. Every outbound
// call site asks CanCall first and reports the outcome back with
// RecordSuccess or RecordFailure.
//
// # Thread Safety
//
// All Manager methods are safe for concurrent use.
package degradation

import (
	"sync"
	"time"
)

// Known dependency names.
const (
	DepLLM     = "openrouter"
	DepArchive = "weaviate"
	DepKB      = "kb"
)

// Breaker states.
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half_open"
)

// Operating levels, from fully functional down to useless.
const (
	LevelFull    = "full"    // everything available
	LevelPartial = "partial" // vector store or model down, or kb down with cache and search
	LevelMinimal = "minimal" // kb down with only cache or only search left
	LevelOffline = "offline" // kb down, no search, no cache
)

// minCacheableChars guards against caching an error page or truncated read
// as the master context.
const minCacheableChars = 50

// breaker is a classic three-state circuit breaker.
type breaker struct {
	threshold   int
	timeout     time.Duration
	state       string
	failures    int
	lastFailure time.Time
}

func newBreaker(threshold int, timeout time.Duration) *breaker {
	return &breaker{threshold: threshold, timeout: timeout, state: StateClosed}
}

func (b *breaker) recordFailure(now time.Time) {
	b.failures++
	b.lastFailure = now
	if b.failures >= b.threshold {
		b.state = StateOpen
	}
}

func (b *breaker) recordSuccess() {
	b.failures = 0
	b.state = StateClosed
}

// canProceed reports whether a call may go out, transitioning an expired
// open breaker to half-open.
func (b *breaker) canProceed(now time.Time) bool {
	switch b.state {
	case StateOpen:
		if now.Sub(b.lastFailure) >= b.timeout {
			b.state = StateHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

type dependency struct {
	healthy bool
	lastErr string
	breaker *breaker
}

// MasterCache is the degradation fallback copy of the master context.
type MasterCache struct {
	Content  string
	Source   string // live, local, cache, bootstrap, startup
	CachedAt time.Time
}

// Manager tracks dependency health and the cached master context.
type Manager struct {
	mu    sync.Mutex
	deps  map[string]*dependency
	cache *MasterCache
	now   func() time.Time
}

// NewManager builds a Manager with the standard breaker profile:
// model provider 3 failures / 120s, vector store 5 / 60s, kb 3 / 30s.
func NewManager() *Manager {
	return &Manager{
		deps: map[string]*dependency{
			DepLLM:     {healthy: true, breaker: newBreaker(3, 120*time.Second)},
			DepArchive: {healthy: true, breaker: newBreaker(5, 60*time.Second)},
			DepKB:      {healthy: true, breaker: newBreaker(3, 30*time.Second)},
		},
		now: time.Now,
	}
}

// CanCall reports whether a call to the named dependency may proceed.
// Unknown dependencies are always allowed.
func (m *Manager) CanCall(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deps[name]
	if !ok {
		return true
	}
	return d.breaker.canProceed(m.now())
}

// RecordSuccess marks the dependency healthy and resets its breaker.
func (m *Manager) RecordSuccess(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deps[name]
	if !ok {
		return
	}
	d.healthy = true
	d.lastErr = ""
	d.breaker.recordSuccess()
}

// RecordFailure marks the dependency unhealthy and counts the failure
// toward opening its breaker.
func (m *Manager) RecordFailure(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deps[name]
	if !ok {
		return
	}
	d.healthy = false
	if err != nil {
		d.lastErr = err.Error()
	}
	d.breaker.recordFailure(m.now())
}

// Healthy reports the dependency's last known health.
func (m *Manager) Healthy(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deps[name]
	return ok && d.healthy
}

// CacheMaster stores a fallback copy of the master context. Content shorter
// than the cacheable minimum is rejected to avoid caching error output.
func (m *Manager) CacheMaster(content, source string) bool {
	if len(content) <= minCacheableChars {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache = &MasterCache{Content: content, Source: source, CachedAt: m.now()}
	return true
}

// CachedMaster returns the cached master context if one is available.
func (m *Manager) CachedMaster() (MasterCache, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cache == nil {
		return MasterCache{}, false
	}
	return *m.cache, true
}

// Level computes the current operating level from dependency health and
// the master cache.
func (m *Manager) Level() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.levelLocked()
}

func (m *Manager) levelLocked() string {
	kb := m.deps[DepKB].healthy
	search := m.deps[DepArchive].healthy
	model := m.deps[DepLLM].healthy

	if kb && search && model {
		return LevelFull
	}
	if kb {
		// Vector store or model down; the knowledge base still serves
		// reads, so only enrichment or search degrades.
		return LevelPartial
	}
	cached := m.cache != nil
	switch {
	case search && cached:
		return LevelPartial
	case search || cached:
		return LevelMinimal
	default:
		return LevelOffline
	}
}

// LevelIndex maps a level label onto the numeric scale used by gauges.
func LevelIndex(level string) int {
	switch level {
	case LevelFull:
		return 0
	case LevelPartial:
		return 1
	case LevelMinimal:
		return 2
	default:
		return 3
	}
}

// BreakerStatus is the externally visible breaker state.
type BreakerStatus struct {
	State        string `json:"state"`
	FailureCount int    `json:"failure_count"`
}

// DependencyStatus is the externally visible health of one dependency.
type DependencyStatus struct {
	Healthy        bool          `json:"healthy"`
	Error          string        `json:"error,omitempty"`
	CircuitBreaker BreakerStatus `json:"circuit_breaker"`
}

// CacheStatus describes the cached master context.
type CacheStatus struct {
	Available  bool    `json:"available"`
	Source     string  `json:"source,omitempty"`
	AgeSeconds float64 `json:"age_seconds,omitempty"`
	SizeBytes  int     `json:"size_bytes,omitempty"`
}

// Status is the full degradation report served on the status endpoint.
type Status struct {
	Level        string                      `json:"level"`
	Dependencies map[string]DependencyStatus `json:"dependencies"`
	Cache        CacheStatus                 `json:"cache"`
}

// Report builds a point-in-time Status snapshot.
func (m *Manager) Report() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{
		Level:        m.levelLocked(),
		Dependencies: make(map[string]DependencyStatus, len(m.deps)),
	}
	for name, d := range m.deps {
		st.Dependencies[name] = DependencyStatus{
			Healthy: d.healthy,
			Error:   d.lastErr,
			CircuitBreaker: BreakerStatus{
				State:        d.breaker.state,
				FailureCount: d.breaker.failures,
			},
		}
	}
	if m.cache != nil {
		st.Cache = CacheStatus{
			Available:  true,
			Source:     m.cache.Source,
			AgeSeconds: m.now().Sub(m.cache.CachedAt).Seconds(),
			SizeBytes:  len(m.cache.Content),
		}
	}
	return st
}
