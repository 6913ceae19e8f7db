package topn

import (
	"testing"

	"dbcore/execution"
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

func drain(t *testing.T, top *TopN) []execution.Row {
	t.Helper()
	var out []execution.Row
	for {
		b, ok, err := top.Next(4)
		require.NoError(t, err)
		out = append(out, b.Rows...)
		if !ok {
			break
		}
	}
	return out
}

func TestTopN(t *testing.T) {
	col := execution.ColumnExpr{Index: 0}

	t.Run("ascending keeps the N smallest, smallest first", func(t *testing.T) {
		child := &staticRows{rows: []execution.Row{
			{types.Int64(5)}, {types.Int64(1)}, {types.Int64(9)}, {types.Int64(3)}, {types.Int64(7)},
		}}
		top := New(child, []OrderKey{{Expr: col}}, 3)
		require.NoError(t, top.Init())

		out := drain(t, top)
		require.Len(t, out, 3)
		assert.Equal(t, []int64{1, 3, 5}, []int64{out[0][0].I64, out[1][0].I64, out[2][0].I64})
	})

	t.Run("descending keeps the N largest, largest first", func(t *testing.T) {
		child := &staticRows{rows: []execution.Row{
			{types.Int64(5)}, {types.Int64(1)}, {types.Int64(9)}, {types.Int64(3)}, {types.Int64(7)},
		}}
		top := New(child, []OrderKey{{Expr: col, Desc: true}}, 2)
		require.NoError(t, top.Init())

		out := drain(t, top)
		require.Len(t, out, 2)
		assert.Equal(t, int64(9), out[0][0].I64)
		assert.Equal(t, int64(7), out[1][0].I64)
	})

	t.Run("N larger than input returns every row", func(t *testing.T) {
		child := &staticRows{rows: []execution.Row{{types.Int64(2)}, {types.Int64(1)}}}
		top := New(child, []OrderKey{{Expr: col}}, 10)
		require.NoError(t, top.Init())

		out := drain(t, top)
		require.Len(t, out, 2)
		assert.Equal(t, int64(1), out[0][0].I64)
		assert.Equal(t, int64(2), out[1][0].I64)
	})

	t.Run("NULL keys are always worst and fall out first", func(t *testing.T) {
		child := &staticRows{rows: []execution.Row{
			{types.Null()}, {types.Int64(1)}, {types.Int64(2)},
		}}
		top := New(child, []OrderKey{{Expr: col}}, 2)
		require.NoError(t, top.Init())

		out := drain(t, top)
		require.Len(t, out, 2)
		for _, r := range out {
			assert.False(t, r[0].IsNull())
		}
	})
}
