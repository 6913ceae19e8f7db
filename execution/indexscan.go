package execution

import (
	"fmt"

	"dbcore/index/btree"
	"dbcore/types"

	"github.com/vmihailenco/msgpack/v5"
)

// IndexScan either probes a fixed set of point keys (the union of their
// RIDs) or ranges across the tree iterator, fetching each matching RID
// from the heap and applying an optional filter, per spec.md §4.10.
type IndexScan struct {
	tree   *btree.Tree
	heap   *Heap
	keys   [][]byte // nil => range scan
	filter Expr     // may be nil

	keyIdx int
	iter   *btree.Iterator
}

func NewPointIndexScan(tree *btree.Tree, heap *Heap, keys [][]byte, filter Expr) *IndexScan {
	return &IndexScan{tree: tree, heap: heap, keys: keys, filter: filter}
}

func NewRangeIndexScan(tree *btree.Tree, heap *Heap, filter Expr) *IndexScan {
	return &IndexScan{tree: tree, heap: heap, filter: filter}
}

func (s *IndexScan) Init() error {
	s.keyIdx = 0
	if s.iter != nil {
		s.iter.Close()
		s.iter = nil
	}
	if s.keys == nil {
		it, err := s.tree.Begin()
		if err != nil {
			return err
		}
		s.iter = it
	}
	return nil
}

func (s *IndexScan) Next(batchSize int) (Batch, bool, error) {
	var batch Batch
	if s.keys != nil {
		for batch.Len() < batchSize && s.keyIdx < len(s.keys) {
			key := s.keys[s.keyIdx]
			s.keyIdx++
			val, found, err := s.tree.Get(key)
			if err != nil {
				return batch, false, err
			}
			if !found {
				continue
			}
			if err := s.emit(&batch, val); err != nil {
				return batch, false, err
			}
		}
		return batch, batch.Len() > 0, nil
	}

	for batch.Len() < batchSize && s.iter.Valid() {
		val := s.iter.Value()
		s.iter.Next()
		if err := s.emit(&batch, val); err != nil {
			return batch, false, err
		}
	}
	return batch, batch.Len() > 0, nil
}

func (s *IndexScan) emit(batch *Batch, valueBlob []byte) error {
	var rid types.RID
	if err := msgpack.Unmarshal(valueBlob, &rid); err != nil {
		return fmt.Errorf("execution: decode index value as RID: %w", err)
	}
	row, ok, err := s.heap.Get(rid)
	if err != nil || !ok {
		return err
	}
	if s.filter != nil {
		v, err := s.filter.Eval(row)
		if err != nil {
			return err
		}
		if v.IsNull() || !v.AsBool() {
			return nil
		}
	}
	batch.Append(row, rid)
	return nil
}
