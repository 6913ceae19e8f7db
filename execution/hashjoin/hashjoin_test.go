package hashjoin

import (
	"sort"
	"testing"

	"dbcore/execution"
	"dbcore/storage/buffer"
	"dbcore/storage/disk"
	"dbcore/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticRows is a one-shot Executor wrapping an in-memory slice, used to
// drive the operator under test without a real scan source.
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
	mgr := disk.NewMemManager(512)
	sched := disk.NewScheduler(mgr, 4)
	t.Cleanup(sched.Shutdown)
	return buffer.NewPool(16, 512, sched)
}

func namesOf(rows []execution.Row, col int) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		if r[col].IsNull() {
			out[i] = "<nil>"
		} else {
			out[i] = string(r[col].Bytes)
		}
	}
	sort.Strings(out)
	return out
}

func drain(t *testing.T, e execution.Executor) []execution.Row {
	t.Helper()
	var out []execution.Row
	for {
		b, ok, err := e.Next(4)
		require.NoError(t, err)
		out = append(out, b.Rows...)
		if !ok {
			break
		}
	}
	return out
}

func TestHashJoin(t *testing.T) {
	t.Run("inner join matches keys and drops non-matches", func(t *testing.T) {
		pool := newTestPool(t)
		left := &staticRows{rows: []execution.Row{
			{types.Int64(1), types.BytesValue([]byte("alice"))},
			{types.Int64(2), types.BytesValue([]byte("bob"))},
			{types.Int64(3), types.BytesValue([]byte("carol"))},
		}}
		right := &staticRows{rows: []execution.Row{
			{types.Int64(1), types.BytesValue([]byte("eng"))},
			{types.Int64(3), types.BytesValue([]byte("sales"))},
			{types.Int64(9), types.BytesValue([]byte("nobody"))},
		}}

		j, err := New(pool, left, right,
			[]execution.Expr{execution.ColumnExpr{Index: 0}},
			[]execution.Expr{execution.ColumnExpr{Index: 0}},
			Inner, 2)
		require.NoError(t, err)
		require.NoError(t, j.Init())

		rows := drain(t, j)
		assert.Equal(t, []string{"alice", "carol"}, namesOf(rows, 1))
	})

	t.Run("left join pads unmatched probe rows with NULL", func(t *testing.T) {
		pool := newTestPool(t)
		left := &staticRows{rows: []execution.Row{
			{types.Int64(1), types.BytesValue([]byte("alice"))},
			{types.Int64(2), types.BytesValue([]byte("bob"))},
		}}
		right := &staticRows{rows: []execution.Row{
			{types.Int64(1), types.BytesValue([]byte("eng"))},
		}}

		j, err := New(pool, left, right,
			[]execution.Expr{execution.ColumnExpr{Index: 0}},
			[]execution.Expr{execution.ColumnExpr{Index: 0}},
			Left, 2)
		require.NoError(t, err)
		require.NoError(t, j.Init())

		rows := drain(t, j)
		require.Len(t, rows, 2)
		var sawBobNull bool
		for _, r := range rows {
			if string(r[1].Bytes) == "bob" {
				assert.True(t, r[2].IsNull())
				assert.True(t, r[3].IsNull())
				sawBobNull = true
			}
		}
		assert.True(t, sawBobNull, "unmatched left row should still be emitted with NULL right columns")
	})

	t.Run("NULL join keys never match, even each other", func(t *testing.T) {
		pool := newTestPool(t)
		left := &staticRows{rows: []execution.Row{
			{types.Null(), types.BytesValue([]byte("mystery"))},
		}}
		right := &staticRows{rows: []execution.Row{
			{types.Null(), types.BytesValue([]byte("also-mystery"))},
		}}

		j, err := New(pool, left, right,
			[]execution.Expr{execution.ColumnExpr{Index: 0}},
			[]execution.Expr{execution.ColumnExpr{Index: 0}},
			Inner, 2)
		require.NoError(t, err)
		require.NoError(t, j.Init())

		rows := drain(t, j)
		assert.Empty(t, rows)
	})

	t.Run("construction rejects unsupported join kinds and mismatched key vectors", func(t *testing.T) {
		pool := newTestPool(t)
		_, err := New(pool, &staticRows{}, &staticRows{},
			[]execution.Expr{execution.ColumnExpr{Index: 0}},
			[]execution.Expr{execution.ColumnExpr{Index: 0}},
			Kind(99), 1)
		assert.Error(t, err)

		_, err = New(pool, &staticRows{}, &staticRows{},
			[]execution.Expr{execution.ColumnExpr{Index: 0}, execution.ColumnExpr{Index: 1}},
			[]execution.Expr{execution.ColumnExpr{Index: 0}},
			Inner, 1)
		assert.Error(t, err)
	})
}
