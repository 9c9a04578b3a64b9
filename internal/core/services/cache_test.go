package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_SetGet(t *testing.T) {
	c := NewCache[string](10, time.Minute, nil)
	c.Set("a", "1")

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	_, ok = c.Get("missing")
	assert.False(t, ok)

	stats := c.Stats()
	assert.EqualValues(t, 1, stats.Hits)
	assert.EqualValues(t, 1, stats.Misses)
}

func TestCache_ExpiresAfterIdleTTL(t *testing.T) {
	clock := newFakeClock()
	c := NewCache[int](10, time.Minute, clock.Now)
	c.Set("a", 1)

	clock.Advance(50 * time.Second)
	_, ok := c.Get("a")
	assert.True(t, ok, "access refreshes the entry")

	clock.Advance(50 * time.Second)
	_, ok = c.Get("a")
	assert.True(t, ok)

	clock.Advance(61 * time.Second)
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
	assert.EqualValues(t, 1, c.Stats().Expired)
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewCache[int](2, 0, nil)
	c.Set("a", 1)
	c.Set("b", 2)

	_, _ = c.Get("a")
	c.Set("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok, "b was least recently used")
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
	assert.EqualValues(t, 1, c.Stats().Evictions)
}

func TestCache_UpdateDoesNotEvict(t *testing.T) {
	c := NewCache[int](2, 0, nil)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("a", 10)

	assert.Equal(t, 2, c.Len())
	v, _ := c.Get("a")
	assert.Equal(t, 10, v)
}

func TestCache_RemoveAndClear(t *testing.T) {
	c := NewCache[int](0, 0, nil)
	c.Set("a", 1)
	c.Set("b", 2)

	assert.True(t, c.Remove("a"))
	assert.False(t, c.Remove("a"))
	c.Clear()
	assert.Equal(t, 0, c.Len())
}
