package execution

import (
	"bytes"
	"testing"

	"dbcore/index/btree"
	"dbcore/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

type rowFeed struct {
	rows []Row
	idx  int
}

func (s *rowFeed) Init() error { s.idx = 0; return nil }

func (s *rowFeed) Next(batchSize int) (Batch, bool, error) {
	var batch Batch
	for batch.Len() < batchSize && s.idx < len(s.rows) {
		batch.Append(s.rows[s.idx], types.RID{})
		s.idx++
	}
	return batch, batch.Len() > 0, nil
}

func lookupRID(t *testing.T, tree *btree.Tree, key types.Value) (types.RID, bool) {
	t.Helper()
	blob, found, err := tree.Get(ValueKeyBytes(key))
	require.NoError(t, err)
	if !found {
		return types.RID{}, false
	}
	var rid types.RID
	require.NoError(t, msgpack.Unmarshal(blob, &rid))
	return rid, true
}

func TestInsert(t *testing.T) {
	t.Run("inserts rows into the heap and every secondary index in lockstep", func(t *testing.T) {
		pool := newTestPool(t, 512, 16)
		heap, err := NewHeap(pool)
		require.NoError(t, err)
		tree, err := btree.NewTree(pool, bytes.Compare, 4, 4, 4)
		require.NoError(t, err)
		indexes := []SecondaryIndex{{Tree: tree, KeyExpr: ColumnExpr{Index: 0}}}

		child := &rowFeed{rows: []Row{
			{types.Int64(1), types.BytesValue([]byte("a"))},
			{types.Int64(2), types.BytesValue([]byte("b"))},
		}}
		ins := NewInsert(child, heap, indexes)
		require.NoError(t, ins.Init())

		result, ok, err := ins.Next(16)
		require.NoError(t, err)
		assert.True(t, ok)
		require.Len(t, result.Rows, 1)
		assert.Equal(t, int64(2), result.Rows[0][0].I64)

		rid, found := lookupRID(t, tree, types.Int64(1))
		require.True(t, found)
		row, ok, err := heap.Get(rid)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("a"), row[1].Bytes)
	})
}

func TestDelete(t *testing.T) {
	t.Run("removes the row from the heap and every secondary index", func(t *testing.T) {
		pool := newTestPool(t, 512, 16)
		heap, err := NewHeap(pool)
		require.NoError(t, err)
		tree, err := btree.NewTree(pool, bytes.Compare, 4, 4, 4)
		require.NoError(t, err)
		indexes := []SecondaryIndex{{Tree: tree, KeyExpr: ColumnExpr{Index: 0}}}

		rid, err := heap.Insert(Row{types.Int64(5)})
		require.NoError(t, err)
		blob, err := ridBlob(rid)
		require.NoError(t, err)
		_, err = tree.Insert(ValueKeyBytes(types.Int64(5)), blob)
		require.NoError(t, err)

		child := &ridFeed{rows: []Row{{types.Int64(5)}}, rids: []types.RID{rid}}
		del := NewDelete(child, heap, indexes)
		require.NoError(t, del.Init())

		result, ok, err := del.Next(16)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int64(1), result.Rows[0][0].I64)

		_, found, err := heap.Get(rid)
		require.NoError(t, err)
		assert.False(t, found)

		_, found = lookupRID(t, tree, types.Int64(5))
		assert.False(t, found, "secondary index entry should be gone")
	})
}

func TestUpdate(t *testing.T) {
	t.Run("moves the index entry from the old key to the new key and new RID", func(t *testing.T) {
		pool := newTestPool(t, 512, 16)
		heap, err := NewHeap(pool)
		require.NoError(t, err)
		tree, err := btree.NewTree(pool, bytes.Compare, 4, 4, 4)
		require.NoError(t, err)
		indexes := []SecondaryIndex{{Tree: tree, KeyExpr: ColumnExpr{Index: 0}}}

		oldRID, err := heap.Insert(Row{types.Int64(1)})
		require.NoError(t, err)
		blob, err := ridBlob(oldRID)
		require.NoError(t, err)
		_, err = tree.Insert(ValueKeyBytes(types.Int64(1)), blob)
		require.NoError(t, err)

		child := &ridFeed{rows: []Row{{types.Int64(1)}}, rids: []types.RID{oldRID}}
		upd := NewUpdate(child, heap, indexes, []Expr{ConstExpr{Value: types.Int64(9)}})
		require.NoError(t, upd.Init())

		result, ok, err := upd.Next(16)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int64(1), result.Rows[0][0].I64)

		_, found := lookupRID(t, tree, types.Int64(1))
		assert.False(t, found, "old key should no longer resolve")

		newRID, found := lookupRID(t, tree, types.Int64(9))
		require.True(t, found)
		row, found, err := heap.Get(newRID)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, int64(9), row[0].I64)
	})
}

// ridFeed is like rowFeed but carries an explicit RID per row, mirroring
// what a real scan supplies to Delete/Update.
type ridFeed struct {
	rows []Row
	rids []types.RID
	idx  int
}

func (s *ridFeed) Init() error { s.idx = 0; return nil }

func (s *ridFeed) Next(batchSize int) (Batch, bool, error) {
	var batch Batch
	for batch.Len() < batchSize && s.idx < len(s.rows) {
		batch.Append(s.rows[s.idx], s.rids[s.idx])
		s.idx++
	}
	return batch, batch.Len() > 0, nil
}
