// Copyright (C) 2026 Millyweb (dev@millyweb.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package degradation

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests drive breaker timeouts deterministically.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestManager() (*Manager, *fakeClock) {
	m := NewManager()
	clk := &fakeClock{t: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)}
	m.now = clk.now
	return m, clk
}

// =============================================================================
// Breaker Tests
// =============================================================================

func TestBreaker_OpensAtThreshold(t *testing.T) {
	m, _ := newTestManager()

	m.RecordFailure(DepLLM, errors.New("timeout"))
	m.RecordFailure(DepLLM, errors.New("timeout"))
	assert.True(t, m.CanCall(DepLLM), "breaker should stay closed below threshold")

	m.RecordFailure(DepLLM, errors.New("timeout"))
	assert.False(t, m.CanCall(DepLLM), "breaker should open at 3 failures")
}

func TestBreaker_HalfOpenAfterTimeout(t *testing.T) {
	m, clk := newTestManager()

	for i := 0; i < 3; i++ {
		m.RecordFailure(DepLLM, errors.New("timeout"))
	}
	require.False(t, m.CanCall(DepLLM))

	clk.advance(119 * time.Second)
	assert.False(t, m.CanCall(DepLLM), "still inside the 120s window")

	clk.advance(2 * time.Second)
	assert.True(t, m.CanCall(DepLLM), "expired open breaker should allow a probe")

	st := m.Report()
	assert.Equal(t, StateHalfOpen, st.Dependencies[DepLLM].CircuitBreaker.State)
}

func TestBreaker_SuccessCloses(t *testing.T) {
	m, clk := newTestManager()

	for i := 0; i < 3; i++ {
		m.RecordFailure(DepLLM, errors.New("timeout"))
	}
	clk.advance(121 * time.Second)
	require.True(t, m.CanCall(DepLLM))

	m.RecordSuccess(DepLLM)
	st := m.Report()
	assert.Equal(t, StateClosed, st.Dependencies[DepLLM].CircuitBreaker.State)
	assert.Equal(t, 0, st.Dependencies[DepLLM].CircuitBreaker.FailureCount)
	assert.True(t, m.Healthy(DepLLM))
}

func TestBreaker_PerDependencyThresholds(t *testing.T) {
	m, _ := newTestManager()

	// The vector store tolerates 5 failures before opening.
	for i := 0; i < 4; i++ {
		m.RecordFailure(DepArchive, errors.New("connect refused"))
	}
	assert.True(t, m.CanCall(DepArchive))
	m.RecordFailure(DepArchive, errors.New("connect refused"))
	assert.False(t, m.CanCall(DepArchive))

	// The knowledge base opens at 3.
	for i := 0; i < 3; i++ {
		m.RecordFailure(DepKB, errors.New("stat failed"))
	}
	assert.False(t, m.CanCall(DepKB))
}

// =============================================================================
// Level Tests
// =============================================================================

func TestLevel_Table(t *testing.T) {
	cachedText := "# Master Context\n\nA body long enough to clear the cache size floor."

	cases := []struct {
		name                          string
		kbDown, searchDown, modelDown bool
		cached                        bool
		want                          string
	}{
		{"all_healthy", false, false, false, false, LevelFull},
		{"search_down", false, true, false, false, LevelPartial},
		{"model_down", false, false, true, false, LevelPartial},
		{"kb_down_with_cache_and_search", true, false, false, true, LevelPartial},
		{"kb_down_cache_only", true, true, false, true, LevelMinimal},
		{"kb_down_search_only", true, false, false, false, LevelMinimal},
		{"kb_and_search_down_no_cache", true, true, false, false, LevelOffline},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, _ := newTestManager()
			if tc.cached {
				require.True(t, m.CacheMaster(cachedText, "live"))
			}
			if tc.kbDown {
				m.RecordFailure(DepKB, errors.New("unmounted"))
			}
			if tc.searchDown {
				m.RecordFailure(DepArchive, errors.New("down"))
			}
			if tc.modelDown {
				m.RecordFailure(DepLLM, errors.New("429"))
			}
			assert.Equal(t, tc.want, m.Level())
		})
	}
}

func TestLevel_RecoversToFull(t *testing.T) {
	m, _ := newTestManager()
	m.RecordFailure(DepArchive, errors.New("down"))
	assert.Equal(t, LevelPartial, m.Level())

	m.RecordSuccess(DepArchive)
	assert.Equal(t, LevelFull, m.Level())
}

func TestLevelIndex_Scale(t *testing.T) {
	assert.Equal(t, 0, LevelIndex(LevelFull))
	assert.Equal(t, 1, LevelIndex(LevelPartial))
	assert.Equal(t, 2, LevelIndex(LevelMinimal))
	assert.Equal(t, 3, LevelIndex(LevelOffline))
}

// =============================================================================
// Cache Tests
// =============================================================================

func TestCacheMaster_RejectsShortContent(t *testing.T) {
	m, _ := newTestManager()
	assert.False(t, m.CacheMaster("error: not found", "live"))
	_, ok := m.CachedMaster()
	assert.False(t, ok)
}

func TestCacheMaster_RoundTrip(t *testing.T) {
	m, clk := newTestManager()
	content := "# Master Context\n\nA reasonably sized body of context text for caching."
	require.True(t, m.CacheMaster(content, "local"))

	clk.advance(90 * time.Second)
	cached, ok := m.CachedMaster()
	require.True(t, ok)
	assert.Equal(t, content, cached.Content)
	assert.Equal(t, "local", cached.Source)

	st := m.Report()
	assert.True(t, st.Cache.Available)
	assert.Equal(t, "local", st.Cache.Source)
	assert.InDelta(t, 90.0, st.Cache.AgeSeconds, 0.001)
	assert.Equal(t, len(content), st.Cache.SizeBytes)
}

func TestReport_CarriesErrors(t *testing.T) {
	m, _ := newTestManager()
	m.RecordFailure(DepKB, errors.New("permission denied"))

	st := m.Report()
	dep := st.Dependencies[DepKB]
	assert.False(t, dep.Healthy)
	assert.Equal(t, "permission denied", dep.Error)
	assert.Equal(t, 1, dep.CircuitBreaker.FailureCount)
}
