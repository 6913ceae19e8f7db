package page

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// IntermediateNode is the page executors spill batches to when a
// pipeline breaker (sort, hash-join build side) needs more state than
// fits in memory. Its tuples are kept as an ordered list that Encode
// serializes with msgpack inside the page's kind/length frame; there is
// no slot directory of offsets.
type IntermediateNode struct {
	Tuples [][]byte
}

func (n *IntermediateNode) NumTuples() int { return len(n.Tuples) }

func (n *IntermediateNode) Append(tuple []byte) { n.Tuples = append(n.Tuples, tuple) }

func (n *IntermediateNode) At(i int) []byte { return n.Tuples[i] }

type wireIntermediate struct {
	Tuples [][]byte
}

// Encode serializes the tuple list, erroring if the
// result won't fit in a page of pageSize bytes (callers must flush to a
// new page before the current one overflows).
func (n *IntermediateNode) Encode(pageSize int) ([]byte, error) {
	w := wireIntermediate{n.Tuples}
	body, err := msgpack.Marshal(&w)
	if err != nil {
		return nil, fmt.Errorf("page: encode intermediate: %w", err)
	}
	const kind = 2 // not part of the LeafNode/InternalNode Kind enum; intermediate pages are never fed to PeekKind
	buf, err := framePayload(Kind(kind), body, pageSize)
	if err != nil {
		return nil, fmt.Errorf("page: intermediate page overflow: %w", err)
	}
	return buf, nil
}

func DecodeIntermediate(buf []byte) (*IntermediateNode, error) {
	_, body, err := unframePayload(buf)
	if err != nil {
		return nil, err
	}
	var w wireIntermediate
	if err := msgpack.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("page: decode intermediate: %w", err)
	}
	return &IntermediateNode{w.Tuples}, nil
}

// FitsWithin reports whether appending tuple to n would still encode
// within pageSize, letting a writer probe before committing the append.
func (n *IntermediateNode) FitsWithin(tuple []byte, pageSize int) bool {
	trial := &IntermediateNode{Tuples: append(append([][]byte{}, n.Tuples...), tuple)}
	_, err := trial.Encode(pageSize)
	return err == nil
}
