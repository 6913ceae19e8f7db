package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectivityCache(t *testing.T) {
	t.Run("Put then Get round-trips a selectivity estimate", func(t *testing.T) {
		c, err := NewSelectivityCache()
		require.NoError(t, err)
		t.Cleanup(c.Close)

		c.Put("orders", "status", 0.2)
		c.cache.Wait()

		got, ok := c.Get("orders", "status")
		require.True(t, ok)
		assert.InDelta(t, 0.2, got, 1e-9)
	})

	t.Run("a column with no recorded estimate misses", func(t *testing.T) {
		c, err := NewSelectivityCache()
		require.NoError(t, err)
		t.Cleanup(c.Close)

		_, ok := c.Get("orders", "unseen")
		assert.False(t, ok)
	})
}
