package window

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

func drain(t *testing.T, w *Window) []execution.Row {
	t.Helper()
	var out []execution.Row
	for {
		b, ok, err := w.Next(8)
		require.NoError(t, err)
		out = append(out, b.Rows...)
		if !ok {
			break
		}
	}
	return out
}

// row is (dept, salary); dept is the partition key.
func row(dept string, salary int64) execution.Row {
	return execution.Row{types.BytesValue([]byte(dept)), types.Int64(salary)}
}

func TestWindow(t *testing.T) {
	deptExpr := execution.ColumnExpr{Index: 0}
	salaryExpr := execution.ColumnExpr{Index: 1}

	t.Run("SUM partitions independently", func(t *testing.T) {
		child := &staticRows{rows: []execution.Row{
			row("eng", 10), row("sales", 100), row("eng", 20),
		}}
		spec := Spec{Kind: Sum, Arg: salaryExpr, PartitionBy: []execution.Expr{deptExpr}}
		w := New(child, []Spec{spec}, []execution.Expr{deptExpr, salaryExpr})
		require.NoError(t, w.Init())

		out := drain(t, w)
		require.Len(t, out, 3)
		sums := map[string]float64{}
		for _, r := range out {
			dept := string(r[0].Bytes)
			sum, ok := r[2].AsFloat64()
			require.True(t, ok)
			sums[dept] = sum
		}
		assert.Equal(t, 30.0, sums["eng"])
		assert.Equal(t, 100.0, sums["sales"])
	})

	t.Run("RANK numbers peer groups with gaps for ties", func(t *testing.T) {
		child := &staticRows{rows: []execution.Row{
			row("eng", 50), row("eng", 50), row("eng", 10),
		}}
		spec := Spec{
			Kind:        Rank,
			PartitionBy: []execution.Expr{deptExpr},
			OrderBy:     []OrderKey{{Expr: salaryExpr, Desc: true}},
		}
		w := New(child, []Spec{spec}, []execution.Expr{salaryExpr})
		require.NoError(t, w.Init())

		out := drain(t, w)
		require.Len(t, out, 3)
		ranks := map[int64]int64{}
		for _, r := range out {
			ranks[r[0].I64] = r[1].I64
		}
		assert.Equal(t, int64(1), ranks[50])
		assert.Equal(t, int64(3), ranks[10])
	})

	t.Run("COUNT(e) skips NULLs and SUM stays NULL when every value is NULL", func(t *testing.T) {
		child := &staticRows{rows: []execution.Row{
			{types.BytesValue([]byte("eng")), types.Null()},
			{types.BytesValue([]byte("eng")), types.Null()},
		}}
		countSpec := Spec{Kind: Count, Arg: salaryExpr, PartitionBy: []execution.Expr{deptExpr}}
		sumSpec := Spec{Kind: Sum, Arg: salaryExpr, PartitionBy: []execution.Expr{deptExpr}}
		w := New(child, []Spec{countSpec, sumSpec}, nil)
		require.NoError(t, w.Init())

		out := drain(t, w)
		require.Len(t, out, 2)
		assert.Equal(t, int64(0), out[0][0].I64)
		assert.True(t, out[0][1].IsNull())
	})

	t.Run("ASC order defaults to NULLS FIRST, so a NULL key ranks first", func(t *testing.T) {
		child := &staticRows{rows: []execution.Row{
			{types.Int64(2)},
			{types.Null()},
			{types.Int64(1)},
		}}
		valueExpr := execution.ColumnExpr{Index: 0}
		spec := Spec{Kind: Rank, OrderBy: []OrderKey{{Expr: valueExpr}}}
		w := New(child, []Spec{spec}, []execution.Expr{valueExpr})
		require.NoError(t, w.Init())

		out := drain(t, w)
		require.Len(t, out, 3)
		for _, r := range out {
			if r[0].IsNull() {
				assert.Equal(t, int64(1), r[1].I64, "NULL should sort first under ASC and take rank 1")
			}
			if !r[0].IsNull() && r[0].I64 == 1 {
				assert.Equal(t, int64(2), r[1].I64)
			}
			if !r[0].IsNull() && r[0].I64 == 2 {
				assert.Equal(t, int64(3), r[1].I64)
			}
		}
	})
}
