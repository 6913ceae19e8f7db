package dbconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	t.Run("no options yields every default", func(t *testing.T) {
		cfg := New()
		assert.Equal(t, DefaultPageSize, cfg.PageSize)
		assert.Equal(t, DefaultPoolFrames, cfg.PoolFrames)
		assert.Equal(t, DefaultLeafMaxSize, cfg.LeafMaxSize)
		assert.Equal(t, DefaultInternalMaxSize, cfg.InternalMaxSize)
		assert.Equal(t, DefaultTombstoneCap, cfg.TombstoneCap)
		assert.Equal(t, DefaultHashJoinPartitions, cfg.HashJoinPartitions)
		assert.Equal(t, DefaultBatchSize, cfg.BatchSize)
	})

	t.Run("options override only the fields they touch", func(t *testing.T) {
		cfg := New(WithPageSize(8192), WithHashJoinPartitions(4))
		assert.Equal(t, 8192, cfg.PageSize)
		assert.Equal(t, 4, cfg.HashJoinPartitions)
		assert.Equal(t, DefaultPoolFrames, cfg.PoolFrames, "untouched fields keep their default")
	})
}
