package eventbus

import (
	"testing"
	"time"

	"github.com/propyield/platform/internal/clock"
	"github.com/stretchr/testify/assert"
)

func TestGate_Allow_AdmitsFirstEventForKey(t *testing.T) {
	c := clock.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	gate := NewGate(30*time.Second, c)

	assert.True(t, gate.Allow("listing-1", false))
}

func TestGate_Allow_DropsWithinWindow(t *testing.T) {
	c := clock.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	gate := NewGate(30*time.Second, c)

	a := assert.New(t)
	a.True(gate.Allow("listing-1", false))

	c.Advance(10 * time.Second)
	a.False(gate.Allow("listing-1", false), "second event within the window must be dropped")
}

func TestGate_Allow_ReadmitsAfterWindowElapses(t *testing.T) {
	c := clock.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	gate := NewGate(30*time.Second, c)

	assert.True(t, gate.Allow("listing-1", false))
	c.Advance(31 * time.Second)
	assert.True(t, gate.Allow("listing-1", false))
}

func TestGate_Allow_BypassIgnoresWindow(t *testing.T) {
	c := clock.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	gate := NewGate(60*time.Second, c)

	assert.True(t, gate.Allow("listing-1", false))
	c.Advance(1 * time.Second)
	// Mirrors spec.md §4.4: an event carrying dirty=address bypasses the
	// Enrichment debounce window.
	assert.True(t, gate.Allow("listing-1", true), "bypass must admit regardless of window")
}

func TestGate_Allow_KeysAreIndependent(t *testing.T) {
	c := clock.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	gate := NewGate(30*time.Second, c)

	assert.True(t, gate.Allow("listing-1", false))
	assert.True(t, gate.Allow("listing-2", false), "a different key must not be debounced by another key's admission")
}
