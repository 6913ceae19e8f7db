package buffer

import (
	"testing"

	"dbcore/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArcReplacer(t *testing.T) {
	t.Run("a fresh miss lands in MRU evictable, and SetEvictable toggles Size as the pool pins/unpins", func(t *testing.T) {
		r := NewArcReplacer(4)
		r.RecordAccess(0, 10, types.AccessNormal)
		assert.Equal(t, 1, r.Size())

		r.SetEvictable(0, false) // the pool pins it
		assert.Equal(t, 0, r.Size())

		r.SetEvictable(0, true) // the pool unpins it
		assert.Equal(t, 1, r.Size())
	})

	t.Run("a second access on the same frame promotes it to MFU", func(t *testing.T) {
		r := NewArcReplacer(4)
		r.RecordAccess(0, 10, types.AccessNormal)
		r.RecordAccess(0, 10, types.AccessNormal)

		fs := r.aliveMap[0]
		assert.Equal(t, statusMFU, fs.status)
	})

	t.Run("Evict falls back to MFU when MRU has no evictable entries", func(t *testing.T) {
		r := NewArcReplacer(4)
		r.RecordAccess(0, 10, types.AccessNormal)
		r.RecordAccess(0, 10, types.AccessNormal) // promotes frame 0 to MFU, MRU now empty

		fid, ok := r.Evict()
		require.True(t, ok)
		assert.Equal(t, types.FrameID(0), fid)
		assert.Equal(t, 0, r.Size())
	})

	t.Run("a pinned (non-evictable) frame is never chosen as a victim", func(t *testing.T) {
		r := NewArcReplacer(4)
		r.RecordAccess(0, 10, types.AccessNormal)
		r.SetEvictable(0, false) // pinned
		r.RecordAccess(1, 11, types.AccessNormal)

		fid, ok := r.Evict()
		require.True(t, ok)
		assert.Equal(t, types.FrameID(1), fid)
	})

	t.Run("Evict reports false when nothing is evictable", func(t *testing.T) {
		r := NewArcReplacer(4)
		r.RecordAccess(0, 10, types.AccessNormal)
		r.SetEvictable(0, false)
		_, ok := r.Evict()
		assert.False(t, ok)
	})

	t.Run("re-accessing a page just evicted out of MRU hits the MRU ghost and grows the target size", func(t *testing.T) {
		r := NewArcReplacer(4)
		r.RecordAccess(0, 10, types.AccessNormal)
		r.SetEvictable(0, true)
		_, ok := r.Evict() // frame 0 / page 10 moves to the MRU ghost list
		require.True(t, ok)
		require.Equal(t, 0, r.mruTargetSize)

		r.RecordAccess(2, 10, types.AccessNormal) // page 10 comes back in a new frame
		assert.Equal(t, 1, r.mruTargetSize, "an MRU ghost hit should grow the target size")
		assert.Equal(t, 1, r.Size())

		fs := r.aliveMap[2]
		require.NotNil(t, fs)
		assert.Equal(t, statusMFU, fs.status, "a ghost-hit page re-enters directly into MFU")
		_, stillGhost := r.ghostMap[10]
		assert.False(t, stillGhost)
	})

	t.Run("re-accessing a page just evicted out of MFU hits the MFU ghost and shrinks the target size", func(t *testing.T) {
		r := NewArcReplacer(4)
		r.RecordAccess(0, 10, types.AccessNormal)
		r.SetEvictable(0, true)
		r.RecordAccess(0, 10, types.AccessNormal) // promote to MFU
		r.mruTargetSize = 2                       // seed a nonzero target so the shrink is observable

		_, ok := r.Evict() // MRU empty, MFU back (frame 0) is taken
		require.True(t, ok)

		r.RecordAccess(3, 10, types.AccessNormal)
		assert.Equal(t, 1, r.mruTargetSize, "an MFU ghost hit should shrink the target size")
	})

	t.Run("SetEvictable panics on an unknown frame id", func(t *testing.T) {
		r := NewArcReplacer(4)
		assert.Panics(t, func() { r.SetEvictable(99, true) })
	})

	t.Run("Remove drops an alive evictable frame and decrements Size", func(t *testing.T) {
		r := NewArcReplacer(4)
		r.RecordAccess(0, 10, types.AccessNormal)
		r.SetEvictable(0, true)
		require.Equal(t, 1, r.Size())

		r.Remove(0)
		assert.Equal(t, 0, r.Size())
		_, stillAlive := r.aliveMap[0]
		assert.False(t, stillAlive)
	})

	t.Run("Remove panics on a pinned (non-evictable) frame", func(t *testing.T) {
		r := NewArcReplacer(4)
		r.RecordAccess(0, 10, types.AccessNormal)
		r.SetEvictable(0, false)
		assert.Panics(t, func() { r.Remove(0) })
	})

	t.Run("Remove on an unknown frame id is a no-op", func(t *testing.T) {
		r := NewArcReplacer(4)
		assert.NotPanics(t, func() { r.Remove(42) })
	})
}
