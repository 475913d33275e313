package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey_DependsOnPredicateAndArgs(t *testing.T) {
	base := Key("c0 LIKE ?", []any{"%foo%"})
	assert.Equal(t, base, Key("c0 LIKE ?", []any{"%foo%"}))
	assert.NotEqual(t, base, Key("c0 LIKE ?", []any{"%bar%"}))
	assert.NotEqual(t, base, Key("c1 LIKE ?", []any{"%foo%"}))
	assert.NotEqual(t, Key("x", []any{int64(1)}), Key("x", []any{"1"}))
}

func TestCountCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewCountCache(2, nil)
	c.Put("a", 1)
	c.Put("b", 2)
	_, _ = c.Get("a")
	c.Put("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok)
	n, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, int64(1), n)
	n, ok = c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, int64(3), n)
}

func TestCountCache_Invalidate(t *testing.T) {
	c := NewCountCache(8, nil)
	c.Put("a", 10)
	c.Invalidate()
	_, ok := c.Get("a")
	assert.False(t, ok)
	stats := c.Stats()
	assert.Equal(t, 0, stats.Entries)
	assert.Equal(t, int64(1), stats.Invalidations)
	assert.Equal(t, int64(1), stats.Misses)
}
