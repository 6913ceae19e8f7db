// Package topn implements the bounded top-N operator of spec.md §4.9: a
// capacity-N max-heap ordered by the order-by comparator, so the
// operator never buffers more than N rows regardless of input size.
package topn

import (
	"container/heap"

	"dbcore/execution"
	"dbcore/types"
)

// OrderKey is one ORDER BY entry; ties fall through to the next key.
type OrderKey struct {
	Expr execution.Expr
	Desc bool
}

// TopN streams its child fully, keeping only the best N rows by the
// order-by comparator in a bounded heap.
type TopN struct {
	child execution.Executor
	keys  []OrderKey
	n     int

	h       *rowHeap
	out     []execution.Row
	outRIDs []types.RID
	cursor  int
}

func New(child execution.Executor, keys []OrderKey, n int) *TopN {
	return &TopN{child: child, keys: keys, n: n}
}

func (t *TopN) Init() error {
	if err := t.child.Init(); err != nil {
		return err
	}
	t.h = &rowHeap{keys: t.keys}
	t.out = nil
	t.outRIDs = nil
	t.cursor = 0

	for {
		batch, ok, err := t.child.Next(256)
		if err != nil {
			return err
		}
		for i, row := range batch.Rows {
			heap.Push(t.h, entry{row: row, rid: batch.RIDs[i]})
			if t.h.Len() > t.n {
				heap.Pop(t.h)
			}
		}
		if !ok {
			break
		}
	}

	// Drain the max-heap (worst-first pops) and reverse so the best
	// (smallest by the order) row comes first, per spec.md §4.9.
	drained := make([]entry, 0, t.h.Len())
	for t.h.Len() > 0 {
		drained = append(drained, heap.Pop(t.h).(entry))
	}
	for i := len(drained) - 1; i >= 0; i-- {
		t.out = append(t.out, drained[i].row)
		t.outRIDs = append(t.outRIDs, drained[i].rid)
	}
	return nil
}

func (t *TopN) Next(batchSize int) (execution.Batch, bool, error) {
	var batch execution.Batch
	for batch.Len() < batchSize && t.cursor < len(t.out) {
		batch.Append(t.out[t.cursor], t.outRIDs[t.cursor])
		t.cursor++
	}
	return batch, batch.Len() > 0, nil
}

type entry struct {
	row execution.Row
	rid types.RID
}

// rowHeap is a max-heap by the order-by comparator: Pop always removes
// the worst-ranked row so TopN can discard it once capacity is
// exceeded.
type rowHeap struct {
	keys    []OrderKey
	entries []entry
}

func (h *rowHeap) Len() int { return len(h.entries) }

// Less implements the max-heap ordering: "worse" (should be evicted
// first) sorts greater in heap.Interface terms, i.e. Less(i, j) is true
// when i ranks worse than j by the order-by comparator.
func (h *rowHeap) Less(i, j int) bool {
	return h.worse(h.entries[i].row, h.entries[j].row)
}

// worse reports whether a ranks worse than b: lexicographically across
// keys, NULL sorts last regardless of direction so the worst rows are
// evicted first.
func (h *rowHeap) worse(a, b execution.Row) bool {
	for _, k := range h.keys {
		va, err := k.Expr.Eval(a)
		if err != nil {
			continue
		}
		vb, err := k.Expr.Eval(b)
		if err != nil {
			continue
		}
		if va.IsNull() && vb.IsNull() {
			continue
		}
		if va.IsNull() {
			return true
		}
		if vb.IsNull() {
			return false
		}
		c := va.Cmp(vb)
		if c == 0 {
			continue
		}
		if k.Desc {
			return c < 0
		}
		return c > 0
	}
	return false
}

func (h *rowHeap) Swap(i, j int) { h.entries[i], h.entries[j] = h.entries[j], h.entries[i] }

func (h *rowHeap) Push(x any) { h.entries = append(h.entries, x.(entry)) }

func (h *rowHeap) Pop() any {
	n := len(h.entries)
	e := h.entries[n-1]
	h.entries = h.entries[:n-1]
	return e
}
