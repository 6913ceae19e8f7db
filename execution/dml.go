package execution

import (
	"fmt"
	"math"

	"dbcore/index/btree"
	"dbcore/types"

	"github.com/vmihailenco/msgpack/v5"
)

// SecondaryIndex pairs a tree with the row expression that produces its
// key, so DML executors can keep it in lockstep with the heap (spec.md
// §4.10: "update every secondary index in lockstep with the table
// heap").
type SecondaryIndex struct {
	Tree    *btree.Tree
	KeyExpr Expr
}

func ridBlob(rid types.RID) ([]byte, error) {
	b, err := msgpack.Marshal(rid)
	if err != nil {
		return nil, fmt.Errorf("execution: encode RID: %w", err)
	}
	return b, nil
}

// Insert pulls its child to exhaustion, inserts each row into the heap
// and every secondary index, then emits a single one-column row with
// the affected count.
type Insert struct {
	child   Executor
	heap    *Heap
	indexes []SecondaryIndex
	done    bool
}

func NewInsert(child Executor, heap *Heap, indexes []SecondaryIndex) *Insert {
	return &Insert{child: child, heap: heap, indexes: indexes}
}

func (e *Insert) Init() error {
	e.done = false
	return e.child.Init()
}

func (e *Insert) Next(batchSize int) (Batch, bool, error) {
	var result Batch
	if e.done {
		return result, false, nil
	}
	count := int64(0)
	for {
		b, ok, err := e.child.Next(batchSize)
		if err != nil {
			return result, false, err
		}
		for _, row := range b.Rows {
			rid, err := e.heap.Insert(row)
			if err != nil {
				return result, false, err
			}
			if err := e.indexInsert(row, rid); err != nil {
				return result, false, err
			}
			count++
		}
		if !ok {
			break
		}
	}
	e.done = true
	result.Append(Row{types.Int64(count)}, types.RID{})
	return result, true, nil
}

func (e *Insert) indexInsert(row Row, rid types.RID) error {
	blob, err := ridBlob(rid)
	if err != nil {
		return err
	}
	for _, idx := range e.indexes {
		key, err := idx.KeyExpr.Eval(row)
		if err != nil {
			return err
		}
		if _, err := idx.Tree.Insert(ValueKeyBytes(key), blob); err != nil {
			return err
		}
	}
	return nil
}

// ValueKeyBytes renders a Value as the byte-comparable key the B+Tree's
// opaque Comparator expects; callers wire a Comparator consistent with
// this encoding (numeric values as big-endian so byte order tracks
// numeric order). Also used by hash join partitioning to derive a
// hashable byte representation of a join key component.
func ValueKeyBytes(v types.Value) []byte {
	switch v.Kind {
	case types.ValueInt64:
		b := make([]byte, 8)
		u := uint64(v.I64) ^ (1 << 63)
		for i := 7; i >= 0; i-- {
			b[i] = byte(u)
			u >>= 8
		}
		return b
	case types.ValueFloat64:
		u := math.Float64bits(v.F64)
		if u&(1<<63) != 0 {
			u = ^u
		} else {
			u ^= 1 << 63
		}
		b := make([]byte, 8)
		for i := 7; i >= 0; i-- {
			b[i] = byte(u)
			u >>= 8
		}
		return b
	case types.ValueBytes:
		return v.Bytes
	default:
		return nil
	}
}

// Delete pulls its child to exhaustion, deleting each row's RID from the
// heap and every secondary index.
type Delete struct {
	child   Executor
	heap    *Heap
	indexes []SecondaryIndex
	done    bool
}

func NewDelete(child Executor, heap *Heap, indexes []SecondaryIndex) *Delete {
	return &Delete{child: child, heap: heap, indexes: indexes}
}

func (e *Delete) Init() error {
	e.done = false
	return e.child.Init()
}

func (e *Delete) Next(batchSize int) (Batch, bool, error) {
	var result Batch
	if e.done {
		return result, false, nil
	}
	count := int64(0)
	for {
		b, ok, err := e.child.Next(batchSize)
		if err != nil {
			return result, false, err
		}
		for i, row := range b.Rows {
			rid := b.RIDs[i]
			if err := e.heap.Delete(rid); err != nil {
				return result, false, err
			}
			for _, idx := range e.indexes {
				key, err := idx.KeyExpr.Eval(row)
				if err != nil {
					return result, false, err
				}
				if err := idx.Tree.Remove(ValueKeyBytes(key)); err != nil {
					return result, false, err
				}
			}
			count++
		}
		if !ok {
			break
		}
	}
	e.done = true
	result.Append(Row{types.Int64(count)}, types.RID{})
	return result, true, nil
}

// Update pulls its child to exhaustion, computing a new row via exprs
// and replacing each old row/RID in the heap and every secondary index.
type Update struct {
	child   Executor
	heap    *Heap
	indexes []SecondaryIndex
	exprs   []Expr
	done    bool
}

func NewUpdate(child Executor, heap *Heap, indexes []SecondaryIndex, exprs []Expr) *Update {
	return &Update{child: child, heap: heap, indexes: indexes, exprs: exprs}
}

func (e *Update) Init() error {
	e.done = false
	return e.child.Init()
}

func (e *Update) Next(batchSize int) (Batch, bool, error) {
	var result Batch
	if e.done {
		return result, false, nil
	}
	count := int64(0)
	for {
		b, ok, err := e.child.Next(batchSize)
		if err != nil {
			return result, false, err
		}
		for i, oldRow := range b.Rows {
			oldRID := b.RIDs[i]
			newRow := make(Row, len(e.exprs))
			for j, expr := range e.exprs {
				v, err := expr.Eval(oldRow)
				if err != nil {
					return result, false, err
				}
				newRow[j] = v
			}
			for _, idx := range e.indexes {
				oldKey, err := idx.KeyExpr.Eval(oldRow)
				if err != nil {
					return result, false, err
				}
				if err := idx.Tree.Remove(ValueKeyBytes(oldKey)); err != nil {
					return result, false, err
				}
			}
			newRID, err := e.heap.Update(oldRID, newRow)
			if err != nil {
				return result, false, err
			}
			blob, err := ridBlob(newRID)
			if err != nil {
				return result, false, err
			}
			for _, idx := range e.indexes {
				newKey, err := idx.KeyExpr.Eval(newRow)
				if err != nil {
					return result, false, err
				}
				if _, err := idx.Tree.Insert(ValueKeyBytes(newKey), blob); err != nil {
					return result, false, err
				}
			}
			count++
		}
		if !ok {
			break
		}
	}
	e.done = true
	result.Append(Row{types.Int64(count)}, types.RID{})
	return result, true, nil
}
