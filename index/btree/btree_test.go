package btree

import (
	"bytes"
	"fmt"
	"testing"

	"dbcore/storage/buffer"
	"dbcore/storage/disk"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTree(t *testing.T, leafMax, internalMax int) *Tree {
	t.Helper()
	mgr := disk.NewMemManager(512)
	sched := disk.NewScheduler(mgr, 4)
	t.Cleanup(sched.Shutdown)
	pool := buffer.NewPool(64, 512, sched)
	tree, err := NewTree(pool, bytes.Compare, leafMax, internalMax, 4)
	require.NoError(t, err)
	return tree
}

func kv(i int) ([]byte, []byte) {
	return []byte(fmt.Sprintf("key-%04d", i)), []byte(fmt.Sprintf("val-%04d", i))
}

func TestTreeInsertGet(t *testing.T) {
	t.Run("get on an empty tree reports not found", func(t *testing.T) {
		tree := newTestTree(t, 4, 4)
		_, found, err := tree.Get([]byte("anything"))
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("insert then get round-trips a single key", func(t *testing.T) {
		tree := newTestTree(t, 4, 4)
		k, v := kv(1)
		inserted, err := tree.Insert(k, v)
		require.NoError(t, err)
		assert.True(t, inserted)

		got, found, err := tree.Get(k)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, v, got)
	})

	t.Run("inserting a duplicate key reports false and doesn't clobber the value", func(t *testing.T) {
		tree := newTestTree(t, 4, 4)
		k, v := kv(1)
		_, err := tree.Insert(k, v)
		require.NoError(t, err)

		ok, err := tree.Insert(k, []byte("different"))
		require.NoError(t, err)
		assert.False(t, ok)

		got, _, err := tree.Get(k)
		require.NoError(t, err)
		assert.Equal(t, v, got)
	})

	t.Run("enough inserts to force splits still resolve every key", func(t *testing.T) {
		tree := newTestTree(t, 4, 4)
		const n = 200
		for i := 0; i < n; i++ {
			k, v := kv(i)
			ok, err := tree.Insert(k, v)
			require.NoError(t, err)
			require.True(t, ok)
		}
		for i := 0; i < n; i++ {
			k, v := kv(i)
			got, found, err := tree.Get(k)
			require.NoError(t, err)
			require.True(t, found, "key %d should be found after %d inserts forced splits", i, n)
			assert.Equal(t, v, got)
		}
	})
}

func TestTreeRemove(t *testing.T) {
	t.Run("removing a key makes it unfindable", func(t *testing.T) {
		tree := newTestTree(t, 4, 4)
		k, v := kv(1)
		_, err := tree.Insert(k, v)
		require.NoError(t, err)

		require.NoError(t, tree.Remove(k))

		_, found, err := tree.Get(k)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("a key can be removed and then reinserted with a fresh value", func(t *testing.T) {
		tree := newTestTree(t, 4, 4)
		k, v1 := kv(1)
		_, err := tree.Insert(k, v1)
		require.NoError(t, err)
		require.NoError(t, tree.Remove(k))

		_, v2 := kv(1)
		v2 = []byte("resurrected")
		ok, err := tree.Insert(k, v2)
		require.NoError(t, err)
		assert.True(t, ok, "a tombstoned key should accept a fresh insert")

		got, found, err := tree.Get(k)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, v2, got)
	})

	t.Run("many inserts followed by many removes forces merges and leaves the tree empty", func(t *testing.T) {
		tree := newTestTree(t, 4, 4)
		const n = 100
		for i := 0; i < n; i++ {
			k, v := kv(i)
			_, err := tree.Insert(k, v)
			require.NoError(t, err)
		}
		for i := 0; i < n; i++ {
			k, _ := kv(i)
			require.NoError(t, tree.Remove(k))
		}
		for i := 0; i < n; i++ {
			k, _ := kv(i)
			_, found, err := tree.Get(k)
			require.NoError(t, err)
			assert.False(t, found, "key %d should be gone after removal", i)
		}
	})
}

func TestTreeIterator(t *testing.T) {
	t.Run("Begin walks all keys in ascending order", func(t *testing.T) {
		tree := newTestTree(t, 4, 4)
		const n = 50
		for i := n - 1; i >= 0; i-- {
			k, v := kv(i)
			_, err := tree.Insert(k, v)
			require.NoError(t, err)
		}

		it, err := tree.Begin()
		require.NoError(t, err)
		defer it.Close()

		count := 0
		var prev []byte
		for it.Valid() {
			k := it.Key()
			if prev != nil {
				assert.True(t, bytes.Compare(prev, k) < 0, "iterator should yield strictly ascending keys")
			}
			prev = append([]byte{}, k...)
			count++
			it.Next()
		}
		assert.Equal(t, n, count)
	})
}
