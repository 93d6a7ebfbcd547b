package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func TestReserveWithinBudget(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	tr := NewTracker(600, clock)

	granted, wait := tr.Reserve("binance", 100)
	assert.True(t, granted)
	assert.Zero(t, wait)
}

func TestReserveExhaustsThenHints(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	tr := NewTracker(600, clock)

	// drain the whole minute's budget
	granted, _ := tr.Reserve("binance", 600)
	require.True(t, granted)

	granted, wait := tr.Reserve("binance", 100)
	assert.False(t, granted)
	assert.Greater(t, wait, time.Duration(0))

	// a denied reservation must not consume budget: waiting the hinted
	// duration makes the same request grantable
	clock.advance(wait)
	granted, _ = tr.Reserve("binance", 100)
	assert.True(t, granted)
}

func TestReserveRefillsOverTime(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	tr := NewTracker(6000, clock)

	granted, _ := tr.Reserve("binance", 6000)
	require.True(t, granted)

	granted, _ = tr.Reserve("binance", 10)
	assert.False(t, granted)

	clock.advance(time.Minute)
	granted, _ = tr.Reserve("binance", 6000)
	assert.True(t, granted)
}

func TestReserveOversizedWeight(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	tr := NewTracker(100, clock)

	granted, wait := tr.Reserve("binance", 1000)
	assert.False(t, granted)
	assert.Zero(t, wait)
}

func TestProvidersTrackedIndependently(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	tr := NewTracker(600, clock)
	tr.SetProviderLimit("slow", 10)

	granted, _ := tr.Reserve("slow", 10)
	require.True(t, granted)
	granted, _ = tr.Reserve("slow", 10)
	assert.False(t, granted)

	// the default provider is untouched
	granted, _ = tr.Reserve("binance", 600)
	assert.True(t, granted)
}

func TestZeroWeightAlwaysGranted(t *testing.T) {
	tr := NewTracker(600, nil)
	granted, wait := tr.Reserve("binance", 0)
	assert.True(t, granted)
	assert.Zero(t, wait)
}
