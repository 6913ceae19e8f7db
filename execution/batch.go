// Package execution implements the pull-based batched vector execution
// engine of spec.md §4.5-§4.10: the executor interface, the table heap,
// and the scan/DML operators. Sort, hash join, window, and top-N live in
// their own subpackages since each pairs with a distinct resource
// policy (spill pages, partitions, one-shot buffering).
package execution

import "dbcore/types"

// Row is one tuple: an ordered vector of opaque column values.
type Row []types.Value

// Batch is a fixed-capacity vector of rows paired with their source
// RIDs, the unit every executor's Next returns, per spec.md's batched
// vector execution model.
type Batch struct {
	Rows []Row
	RIDs []types.RID
}

func (b *Batch) Len() int { return len(b.Rows) }

func (b *Batch) Append(row Row, rid types.RID) {
	b.Rows = append(b.Rows, row)
	b.RIDs = append(b.RIDs, rid)
}

// Executor is the pull-based operator contract of spec.md §4.10:
// init() and next(tuple_batch_out, rid_batch_out, batch_size) -> bool,
// adapted to Go by returning the batch and an end-of-stream bool
// instead of writing through out-parameters. Init is idempotent: a
// second call fully resets the operator's internal state.
type Executor interface {
	Init() error
	// Next fills and returns a batch of at most batchSize rows. ok is
	// false only once the stream is exhausted, at which point batch is
	// empty.
	Next(batchSize int) (batch Batch, ok bool, err error)
}

// Expr is the opaque expression-evaluation capability spec.md leaves
// unspecified ("the type system and expression evaluator ... treated
// as opaque capability Expr"). Executors call Eval on rows; callers
// supply whatever concrete Expr implementations their planner produces.
type Expr interface {
	Eval(row Row) (types.Value, error)
}

// ColumnExpr reads column Index from the row unchanged.
type ColumnExpr struct{ Index int }

func (e ColumnExpr) Eval(row Row) (types.Value, error) { return row[e.Index], nil }

// ConstExpr evaluates to a fixed value regardless of the row.
type ConstExpr struct{ Value types.Value }

func (e ConstExpr) Eval(Row) (types.Value, error) { return e.Value, nil }

// EqExpr is the equality predicate the optimizer's NLJ -> HashJoin and
// SeqScan+Filter -> IndexScan rules pattern-match against (spec.md
// §4.11): `Left = Right`, evaluated over a joined or single-source row.
type EqExpr struct {
	Left, Right Expr
}

func (e EqExpr) Eval(row Row) (types.Value, error) {
	l, err := e.Left.Eval(row)
	if err != nil {
		return types.Value{}, err
	}
	r, err := e.Right.Eval(row)
	if err != nil {
		return types.Value{}, err
	}
	return types.BoolAsValue(l.Equal(r)), nil
}

// AndExpr short-circuits on the first false/NULL-producing child, the
// AND-tree shape the NLJ -> HashJoin rule walks.
type AndExpr struct {
	Terms []Expr
}

func (e AndExpr) Eval(row Row) (types.Value, error) {
	for _, term := range e.Terms {
		v, err := term.Eval(row)
		if err != nil {
			return types.Value{}, err
		}
		if v.IsNull() || !v.AsBool() {
			return types.BoolAsValue(false), nil
		}
	}
	return types.BoolAsValue(true), nil
}
