package compile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/plan"
)

func TestGetOrCompileCachesByText(t *testing.T) {
	c, err := NewCache(plan.NewService(), 8)
	require.NoError(t, err)

	prog1, err := c.GetOrCompile("a + b")
	require.NoError(t, err)
	require.NotNil(t, prog1)

	prog2, err := c.GetOrCompile("a + b")
	require.NoError(t, err)
	assert.Same(t, prog1, prog2)

	report := c.Report()
	assert.Equal(t, int64(1), report.Hits)
	assert.Equal(t, int64(1), report.Misses)
	assert.Equal(t, 1, report.Entries)
}

func TestGetOrCompileDoesNotCacheSyntaxErrors(t *testing.T) {
	c, err := NewCache(plan.NewService(), 8)
	require.NoError(t, err)

	_, err = c.GetOrCompile("a +")
	assert.Error(t, err)
	_, err = c.GetOrCompile("a +")
	assert.Error(t, err)

	report := c.Report()
	assert.Equal(t, 0, report.Entries)
	assert.Equal(t, int64(2), report.Misses)
}

func TestClearPurgesEntries(t *testing.T) {
	c, err := NewCache(plan.NewService(), 8)
	require.NoError(t, err)

	_, err = c.GetOrCompile("a + b")
	require.NoError(t, err)
	assert.Equal(t, 1, c.Report().Entries)

	c.Clear()
	assert.Equal(t, 0, c.Report().Entries)
}

func TestNewCacheDefaultsSizeWhenNonPositive(t *testing.T) {
	c, err := NewCache(plan.NewService(), 0)
	require.NoError(t, err)
	require.NotNil(t, c)
}

func TestHitRate(t *testing.T) {
	assert.Equal(t, 0.0, Stats{}.HitRate())
	assert.Equal(t, 0.5, Stats{Hits: 1, Misses: 1}.HitRate())
}
