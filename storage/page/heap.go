package page

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// HeapNode is one page of a table heap: an append-only slot array of row
// blobs with a parallel is_deleted bit per slot. Rows are never
// physically removed or compacted; Delete only flips the bit, and
// Update is expressed by the caller as delete-old + insert-new (a fresh
// RID), matching how a secondary index must be updated in lockstep
// anyway (spec.md §4.10).
type HeapNode struct {
	Rows    [][]byte
	Deleted []bool
}

func (n *HeapNode) NumRows() int { return len(n.Rows) }

// Append adds row as a new slot, returning its slot index.
func (n *HeapNode) Append(row []byte) int {
	n.Rows = append(n.Rows, row)
	n.Deleted = append(n.Deleted, false)
	return len(n.Rows) - 1
}

func (n *HeapNode) At(slot int) ([]byte, bool) { return n.Rows[slot], n.Deleted[slot] }

func (n *HeapNode) MarkDeleted(slot int) { n.Deleted[slot] = true }

type wireHeap struct {
	Rows    [][]byte
	Deleted []bool
}

const kindHeap Kind = 3

func (n *HeapNode) Encode(pageSize int) ([]byte, error) {
	w := wireHeap{n.Rows, n.Deleted}
	body, err := msgpack.Marshal(&w)
	if err != nil {
		return nil, fmt.Errorf("page: encode heap: %w", err)
	}
	buf, err := framePayload(kindHeap, body, pageSize)
	if err != nil {
		return nil, fmt.Errorf("page: heap page overflow: %w", err)
	}
	return buf, nil
}

func DecodeHeap(buf []byte) (*HeapNode, error) {
	_, body, err := unframePayload(buf)
	if err != nil {
		return nil, err
	}
	var w wireHeap
	if err := msgpack.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("page: decode heap: %w", err)
	}
	return &HeapNode{w.Rows, w.Deleted}, nil
}

// FitsWithin reports whether appending row would still encode within
// pageSize.
func (n *HeapNode) FitsWithin(row []byte, pageSize int) bool {
	trial := &HeapNode{Rows: append(append([][]byte{}, n.Rows...), row), Deleted: append(append([]bool{}, n.Deleted...), false)}
	_, err := trial.Encode(pageSize)
	return err == nil
}
