// Package window implements the buffered window-function operator of
// spec.md §4.8: sort by (partition_by, order_by), walk peer groups, and
// aggregate one of COUNT(*)/COUNT(e)/SUM/MIN/MAX/RANK() with RANGE
// framing, grounded structurally on the teacher's
// storage_engine/joins.go sort-merge helpers (sortRowsByColumn) for the
// sort step.
package window

import (
	"fmt"
	"sort"

	"dbcore/dberr"
	"dbcore/execution"
	"dbcore/types"
)

// AggKind names the supported window aggregate kinds.
type AggKind int

const (
	CountStar AggKind = iota
	Count
	Sum
	Min
	Max
	Rank
)

// NullsOrder names an explicit NULLS FIRST/LAST override for an order-by
// key; NullsDefault defers to the ASC-NULLS-FIRST/DESC-NULLS-LAST policy
// spec.md §4.8 specifies.
type NullsOrder int

const (
	NullsDefault NullsOrder = iota
	NullsFirst
	NullsLast
)

// OrderKey is one ORDER BY entry in a window spec.
type OrderKey struct {
	Expr  execution.Expr
	Desc  bool
	Nulls NullsOrder
}

// Spec describes one window-function output column.
type Spec struct {
	Kind        AggKind
	Arg         execution.Expr // nil for CountStar and Rank
	PartitionBy []execution.Expr
	OrderBy     []OrderKey
}

// Window buffers its child fully in memory, computes each Spec's output
// column, and emits one output row per input row, in input order: the
// passthrough expressions evaluated on that input row, followed by each
// Spec's window value.
type Window struct {
	child      execution.Executor
	specs      []Spec
	passthrough []execution.Expr

	rows []execution.Row
	rids []types.RID
	cols [][]types.Value // cols[i] is spec i's computed column, indexed by original row order
	cursor int
}

func New(child execution.Executor, specs []Spec, passthrough []execution.Expr) *Window {
	return &Window{child: child, specs: specs, passthrough: passthrough}
}

func (w *Window) Init() error {
	if err := w.child.Init(); err != nil {
		return err
	}
	w.rows = nil
	w.rids = nil
	w.cols = nil
	w.cursor = 0

	for {
		batch, ok, err := w.child.Next(256)
		if err != nil {
			return err
		}
		w.rows = append(w.rows, batch.Rows...)
		w.rids = append(w.rids, batch.RIDs...)
		if !ok {
			break
		}
	}

	w.cols = make([][]types.Value, len(w.specs))
	for i, spec := range w.specs {
		col, err := w.computeColumn(spec)
		if err != nil {
			return err
		}
		w.cols[i] = col
	}
	return nil
}

// computeColumn runs the full sort-partition-aggregate pipeline for one
// window spec and returns its result aligned to w.rows's original order.
func (w *Window) computeColumn(spec Spec) ([]types.Value, error) {
	n := len(w.rows)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return w.lessForSpec(spec, order[a], order[b])
	})

	out := make([]types.Value, n)
	start := 0
	for start < n {
		end := start + 1
		for end < n && w.samePartition(spec, order[start], order[end]) {
			end++
		}
		if err := w.aggregatePartition(spec, order[start:end], out); err != nil {
			return nil, err
		}
		start = end
	}
	return out, nil
}

func (w *Window) samePartition(spec Spec, i, j int) bool {
	for _, pe := range spec.PartitionBy {
		vi, _ := pe.Eval(w.rows[i])
		vj, _ := pe.Eval(w.rows[j])
		if vi.IsNull() != vj.IsNull() {
			return false
		}
		if !vi.IsNull() && vi.Cmp(vj) != 0 {
			return false
		}
	}
	return true
}

// lessForSpec orders rows by (partition_by, order_by) with the NULLS
// policy of spec.md §4.8: an explicit Nulls override, else ASC =>
// NULLS FIRST, DESC => NULLS LAST.
func (w *Window) lessForSpec(spec Spec, i, j int) bool {
	for _, pe := range spec.PartitionBy {
		vi, _ := pe.Eval(w.rows[i])
		vj, _ := pe.Eval(w.rows[j])
		if c, ok := cmpNullFirst(vi, vj); ok {
			if c != 0 {
				return c < 0
			}
		}
	}
	for _, ok := range spec.OrderBy {
		vi, _ := ok.Expr.Eval(w.rows[i])
		vj, _ := ok.Expr.Eval(w.rows[j])
		nullsFirst := ok.Nulls == NullsFirst || (ok.Nulls == NullsDefault && !ok.Desc)
		c, bothNonNull := cmpWithNullsPolicy(vi, vj, nullsFirst)
		if c != 0 {
			if bothNonNull && ok.Desc {
				return c > 0
			}
			return c < 0
		}
	}
	return false
}

func cmpNullFirst(a, b types.Value) (int, bool) {
	return cmpWithNullsPolicy(a, b, true)
}

// cmpWithNullsPolicy returns (cmp, bothNonNull): a NULL on either side
// sorts per nullsFirst and never inverts for Desc (bothNonNull is used
// by the caller to skip the Desc flip when a NULL participated).
func cmpWithNullsPolicy(a, b types.Value, nullsFirst bool) (int, bool) {
	if a.IsNull() && b.IsNull() {
		return 0, false
	}
	if a.IsNull() {
		if nullsFirst {
			return -1, false
		}
		return 1, false
	}
	if b.IsNull() {
		if nullsFirst {
			return 1, false
		}
		return -1, false
	}
	return a.Cmp(b), true
}

// aggregatePartition computes spec's window value for every row index
// in idxs (already sorted into partition+order order) and writes it
// into out, keyed by each row's original index.
func (w *Window) aggregatePartition(spec Spec, idxs []int, out []types.Value) error {
	if spec.Kind == Rank {
		return w.assignRank(spec, idxs, out)
	}
	if len(spec.OrderBy) == 0 {
		v, err := w.foldRange(spec, idxs)
		if err != nil {
			return err
		}
		for _, idx := range idxs {
			out[idx] = v
		}
		return nil
	}

	start := 0
	for start < len(idxs) {
		end := start + 1
		for end < len(idxs) && w.samePeer(spec, idxs[start], idxs[end]) {
			end++
		}
		v, err := w.foldRange(spec, idxs[:end])
		if err != nil {
			return err
		}
		for _, idx := range idxs[start:end] {
			out[idx] = v
		}
		start = end
	}
	return nil
}

func (w *Window) samePeer(spec Spec, i, j int) bool {
	for _, ok := range spec.OrderBy {
		vi, _ := ok.Expr.Eval(w.rows[i])
		vj, _ := ok.Expr.Eval(w.rows[j])
		if vi.IsNull() != vj.IsNull() {
			return false
		}
		if !vi.IsNull() && vi.Cmp(vj) != 0 {
			return false
		}
	}
	return true
}

// foldRange aggregates spec's kind over idxs, implementing the null
// handling of spec.md §4.8: COUNT(e) skips nulls, SUM/MIN/MAX skip
// nulls and stay null until the first non-null, an all-null
// COUNT*/COUNT yields 0, others yield NULL.
func (w *Window) foldRange(spec Spec, idxs []int) (types.Value, error) {
	switch spec.Kind {
	case CountStar:
		return types.Int64(int64(len(idxs))), nil
	case Count:
		n := int64(0)
		for _, idx := range idxs {
			v, err := spec.Arg.Eval(w.rows[idx])
			if err != nil {
				return types.Value{}, err
			}
			if !v.IsNull() {
				n++
			}
		}
		return types.Int64(n), nil
	case Sum:
		sum := 0.0
		seen := false
		for _, idx := range idxs {
			v, err := spec.Arg.Eval(w.rows[idx])
			if err != nil {
				return types.Value{}, err
			}
			if v.IsNull() {
				continue
			}
			f, _ := v.AsFloat64()
			sum += f
			seen = true
		}
		if !seen {
			return types.Null(), nil
		}
		return types.Float64(sum), nil
	case Min, Max:
		var best types.Value
		seen := false
		for _, idx := range idxs {
			v, err := spec.Arg.Eval(w.rows[idx])
			if err != nil {
				return types.Value{}, err
			}
			if v.IsNull() {
				continue
			}
			if !seen {
				best, seen = v, true
				continue
			}
			c := v.Cmp(best)
			if (spec.Kind == Min && c < 0) || (spec.Kind == Max && c > 0) {
				best = v
			}
		}
		if !seen {
			return types.Null(), nil
		}
		return best, nil
	default:
		return types.Value{}, fmt.Errorf("window: unsupported aggregate kind %d: %w", spec.Kind, dberr.ErrNotImplemented)
	}
}

// assignRank implements standard RANK(): peer groups are numbered 1,
// 1+k, ... where k is the size of the previous peer group; ties within
// a peer group share a rank.
func (w *Window) assignRank(spec Spec, idxs []int, out []types.Value) error {
	rank := int64(1)
	start := 0
	for start < len(idxs) {
		end := start + 1
		for end < len(idxs) && w.samePeer(spec, idxs[start], idxs[end]) {
			end++
		}
		for _, idx := range idxs[start:end] {
			out[idx] = types.Int64(rank)
		}
		rank += int64(end - start)
		start = end
	}
	return nil
}

func (w *Window) Next(batchSize int) (execution.Batch, bool, error) {
	var batch execution.Batch
	for batch.Len() < batchSize && w.cursor < len(w.rows) {
		i := w.cursor
		w.cursor++
		out := make(execution.Row, 0, len(w.specs)+len(w.passthrough))
		for _, pe := range w.passthrough {
			v, err := pe.Eval(w.rows[i])
			if err != nil {
				return batch, false, err
			}
			out = append(out, v)
		}
		for s := range w.specs {
			out = append(out, w.cols[s][i])
		}
		batch.Append(out, w.rids[i])
	}
	return batch, batch.Len() > 0, nil
}
