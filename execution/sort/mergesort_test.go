package sort

import (
	"fmt"
	"testing"

	"dbcore/execution"
	"dbcore/storage/buffer"
	"dbcore/storage/disk"
	"dbcore/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticRows struct {
	rows []execution.Row
	idx  int
}

func (s *staticRows) Init() error { s.idx = 0; return nil }

func (s *staticRows) Next(batchSize int) (execution.Batch, bool, error) {
	var batch execution.Batch
	for batch.Len() < batchSize && s.idx < len(s.rows) {
		batch.Append(s.rows[s.idx], types.RID{})
		s.idx++
	}
	return batch, batch.Len() > 0, nil
}

func newTestPool(t *testing.T) *buffer.Pool {
	t.Helper()
	mgr := disk.NewMemManager(256)
	sched := disk.NewScheduler(mgr, 4)
	t.Cleanup(sched.Shutdown)
	return buffer.NewPool(32, 256, sched)
}

func drain(t *testing.T, s *Sort) []execution.Row {
	t.Helper()
	var out []execution.Row
	for {
		b, ok, err := s.Next(4)
		require.NoError(t, err)
		out = append(out, b.Rows...)
		if !ok {
			break
		}
	}
	return out
}

func TestSort(t *testing.T) {
	col := execution.ColumnExpr{Index: 0}

	t.Run("sorts ascending, spilling enough runs to exercise the merge phase", func(t *testing.T) {
		pool := newTestPool(t)
		const n = 60
		rows := make([]execution.Row, n)
		for i := 0; i < n; i++ {
			// Descending input forces real work out of an ascending sort.
			rows[i] = execution.Row{types.BytesValue([]byte(fmt.Sprintf("%04d", n-i)))}
		}
		child := &staticRows{rows: rows}
		s := New(pool, child, []OrderByKey{{Expr: col}})
		require.NoError(t, s.Init())

		out := drain(t, s)
		require.Len(t, out, n)
		for i := 1; i < len(out); i++ {
			assert.LessOrEqual(t, string(out[i-1][0].Bytes), string(out[i][0].Bytes))
		}
		assert.Equal(t, fmt.Sprintf("%04d", 1), string(out[0][0].Bytes))
	})

	t.Run("descending order reverses the comparator", func(t *testing.T) {
		pool := newTestPool(t)
		child := &staticRows{rows: []execution.Row{
			{types.Int64(3)}, {types.Int64(1)}, {types.Int64(2)},
		}}
		s := New(pool, child, []OrderByKey{{Expr: col, Desc: true}})
		require.NoError(t, s.Init())

		out := drain(t, s)
		require.Len(t, out, 3)
		assert.Equal(t, []int64{3, 2, 1}, []int64{out[0][0].I64, out[1][0].I64, out[2][0].I64})
	})

	t.Run("NULLs sort first under ascending order", func(t *testing.T) {
		pool := newTestPool(t)
		child := &staticRows{rows: []execution.Row{
			{types.Int64(1)}, {types.Null()}, {types.Int64(2)},
		}}
		s := New(pool, child, []OrderByKey{{Expr: col}})
		require.NoError(t, s.Init())

		out := drain(t, s)
		require.Len(t, out, 3)
		assert.True(t, out[0][0].IsNull())
	})

	t.Run("an empty input produces an empty output", func(t *testing.T) {
		pool := newTestPool(t)
		s := New(pool, &staticRows{}, []OrderByKey{{Expr: col}})
		require.NoError(t, s.Init())
		out := drain(t, s)
		assert.Empty(t, out)
	})
}
