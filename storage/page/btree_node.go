package page

import (
	"fmt"

	"dbcore/types"

	"github.com/vmihailenco/msgpack/v5"
)

// Kind discriminates the two B+Tree node page layouts, per spec.md §3.
type Kind uint8

const (
	KindLeaf Kind = iota
	KindInternal
)

// LeafNode is a B+Tree leaf: parallel keys/values arrays, a next-leaf
// link for range iteration, and a fixed-capacity tombstone ring. Layout
// and move semantics are grounded on
// src/storage/page/b_plus_tree_leaf_page.cpp.
type LeafNode struct {
	MaxSize    int
	NextPageID types.PageID
	TombCap    int
	Keys       [][]byte
	Values     [][]byte
	// Tombstones holds indices into Keys, oldest at the front (index 0),
	// mirroring the C++ tombstones_ ring where index 0 is always the
	// next eviction victim.
	Tombstones []int
}

func NewLeafNode(maxSize, tombCap int) *LeafNode {
	return &LeafNode{MaxSize: maxSize, NextPageID: types.InvalidPageID, TombCap: tombCap}
}

func (n *LeafNode) Size() int { return len(n.Keys) }

// IsTombstone reports whether the entry at index is logically deleted.
func (n *LeafNode) IsTombstone(index int) bool {
	for _, t := range n.Tombstones {
		if t == index {
			return true
		}
	}
	return false
}

// Lookup binary-searches for key, returning its index or -1.
func (n *LeafNode) Lookup(key []byte, cmp types.Comparator) int {
	l, r := 0, n.Size()-1
	for l <= r {
		mid := l + (r-l)/2
		c := cmp(n.Keys[mid], key)
		switch {
		case c == 0:
			return mid
		case c < 0:
			l = mid + 1
		default:
			r = mid - 1
		}
	}
	return -1
}

// shiftTombstones adds delta to every tombstone index >= startIdx, the
// bookkeeping every key-array shift must perform to keep tombstones
// pointing at the right physical slot.
func (n *LeafNode) shiftTombstones(startIdx, delta int) {
	for i, t := range n.Tombstones {
		if t >= startIdx {
			n.Tombstones[i] = t + delta
		}
	}
}

func (n *LeafNode) removeTombstone(keyIdx int) {
	for i, t := range n.Tombstones {
		if t == keyIdx {
			n.Tombstones = append(n.Tombstones[:i], n.Tombstones[i+1:]...)
			return
		}
	}
}

// handleTombstoneOverflow physically removes the oldest tombstoned entry
// (index 0 of the ring) to make room for a new one, returning the
// physical index that was removed so the caller can adjust its own
// in-flight index.
func (n *LeafNode) handleTombstoneOverflow() int {
	victim := n.Tombstones[0]
	n.Keys = append(n.Keys[:victim], n.Keys[victim+1:]...)
	n.Values = append(n.Values[:victim], n.Values[victim+1:]...)

	rest := n.Tombstones[1:]
	for i, t := range rest {
		if t > victim {
			rest[i] = t - 1
		}
	}
	n.Tombstones = rest
	return victim
}

// AddTombstone marks keyIdx as deleted, evicting the oldest tombstone by
// physical removal if the ring is full. keyIdx is passed by pointer
// because a ring overflow may physically remove an earlier entry and
// shift keyIdx down by one.
func (n *LeafNode) AddTombstone(keyIdx *int) {
	if n.TombCap == 0 {
		return
	}
	if len(n.Tombstones) == n.TombCap {
		victim := n.handleTombstoneOverflow()
		if *keyIdx > victim {
			*keyIdx--
		}
	}
	n.Tombstones = append(n.Tombstones, *keyIdx)
}

// Insert inserts (key, value) in sorted position. Returns true if
// inserted or resurrected, false on a non-tombstoned duplicate or when a
// new key does not fit (Size() >= MaxSize). The caller must have already
// split the node if it was full.
func (n *LeafNode) Insert(key, value []byte, cmp types.Comparator) bool {
	l, r := 0, n.Size()-1
	for l <= r {
		mid := l + (r-l)/2
		c := cmp(n.Keys[mid], key)
		switch {
		case c == 0:
			if n.IsTombstone(mid) {
				n.removeTombstone(mid)
				n.Values[mid] = value
				return true
			}
			return false
		case c < 0:
			l = mid + 1
		default:
			r = mid - 1
		}
	}
	target := l
	if n.Size() >= n.MaxSize {
		return false // caller must split before calling Insert
	}
	n.Keys = append(n.Keys, nil)
	n.Values = append(n.Values, nil)
	copy(n.Keys[target+1:], n.Keys[target:])
	copy(n.Values[target+1:], n.Values[target:])
	n.Keys[target] = key
	n.Values[target] = value
	n.shiftTombstones(target, 1)
	return true
}

// Remove marks key as deleted (tombstoning it if TombCap > 0, physically
// removing it otherwise). Returns false if the key is absent.
func (n *LeafNode) Remove(key []byte, cmp types.Comparator) bool {
	target := n.Lookup(key, cmp)
	if target == -1 {
		return false
	}
	if n.IsTombstone(target) {
		return true // already deleted
	}
	if n.TombCap == 0 {
		n.Keys = append(n.Keys[:target], n.Keys[target+1:]...)
		n.Values = append(n.Values[:target], n.Values[target+1:]...)
		n.shiftTombstones(target, -1)
		return true
	}
	n.AddTombstone(&target)
	return true
}

// PhysicalSize is the count of entries without regard to tombstones; it
// is what split/merge/underflow thresholds compare against (spec.md §8).
func (n *LeafNode) PhysicalSize() int { return n.Size() }

// MoveHalfTo splits n, moving its upper half into recipient (a fresh
// node) and relinking next pointers. Tombstone indices are remapped.
func (n *LeafNode) MoveHalfTo(recipient *LeafNode) {
	total := n.Size()
	keep := total / 2
	moveCount := total - keep

	recipient.Keys = append([][]byte{}, n.Keys[keep:]...)
	recipient.Values = append([][]byte{}, n.Values[keep:]...)
	recipient.NextPageID = n.NextPageID
	n.NextPageID = types.InvalidPageID

	n.Keys = n.Keys[:keep]
	n.Values = n.Values[:keep]
	_ = moveCount

	var kept []int
	for _, t := range n.Tombstones {
		if t < keep {
			kept = append(kept, t)
		} else {
			adj := t - keep
			recipient.AddTombstone(&adj)
		}
	}
	n.Tombstones = kept
}

// MoveAllTo merges n's entries into recipient (merge), remapping
// tombstones by the recipient's prior size.
func (n *LeafNode) MoveAllTo(recipient *LeafNode) {
	startOffset := recipient.Size()
	recipient.Keys = append(recipient.Keys, n.Keys...)
	recipient.Values = append(recipient.Values, n.Values...)
	recipient.NextPageID = n.NextPageID

	for _, t := range n.Tombstones {
		adj := t + startOffset
		before := recipient.Size()
		recipient.AddTombstone(&adj)
		if recipient.Size() < before {
			startOffset--
		}
	}
	n.Keys = nil
	n.Values = nil
	n.Tombstones = nil
}

// MoveFirstToEndOf redistributes n's first entry onto the end of
// recipient (recipient is n's left sibling).
func (n *LeafNode) MoveFirstToEndOf(recipient *LeafNode) {
	key, val := n.Keys[0], n.Values[0]
	isTomb := n.IsTombstone(0)

	n.Keys = n.Keys[1:]
	n.Values = n.Values[1:]
	if isTomb {
		n.removeTombstone(0)
	}
	n.shiftTombstones(0, -1)

	recipient.Keys = append(recipient.Keys, key)
	recipient.Values = append(recipient.Values, val)
	if isTomb {
		idx := recipient.Size() - 1
		recipient.AddTombstone(&idx)
	}
}

// MoveLastToFrontOf redistributes n's last entry onto the front of
// recipient (recipient is n's right sibling).
func (n *LeafNode) MoveLastToFrontOf(recipient *LeafNode) {
	src := n.Size() - 1
	key, val := n.Keys[src], n.Values[src]
	isTomb := n.IsTombstone(src)

	n.Keys = n.Keys[:src]
	n.Values = n.Values[:src]
	if isTomb {
		n.removeTombstone(src)
	}

	recipient.Keys = append([][]byte{nil}, recipient.Keys...)
	recipient.Values = append([][]byte{nil}, recipient.Values...)
	recipient.Keys[0] = key
	recipient.Values[0] = val
	recipient.shiftTombstones(0, 1)
	if isTomb {
		zero := 0
		recipient.AddTombstone(&zero)
	}
}

// wireLeaf is the msgpack-serialized shape of LeafNode; msgpack stands in
// for the teacher's hand-rolled binary codec (node_codec.go), chosen
// because it's a real pack-grounded dependency (jobala-petro) instead of
// another bespoke length-prefixed layout.
type wireLeaf struct {
	MaxSize    int
	NextPageID types.PageID
	TombCap    int
	Keys       [][]byte
	Values     [][]byte
	Tombstones []int
}

func (n *LeafNode) Encode(pageSize int) ([]byte, error) {
	w := wireLeaf{n.MaxSize, n.NextPageID, n.TombCap, n.Keys, n.Values, n.Tombstones}
	body, err := msgpack.Marshal(&w)
	if err != nil {
		return nil, fmt.Errorf("page: encode leaf: %w", err)
	}
	return framePayload(KindLeaf, body, pageSize)
}

func DecodeLeaf(buf []byte) (*LeafNode, error) {
	kind, body, err := unframePayload(buf)
	if err != nil {
		return nil, err
	}
	if kind != KindLeaf {
		return nil, fmt.Errorf("page: expected leaf page, got kind %d", kind)
	}
	var w wireLeaf
	if err := msgpack.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("page: decode leaf: %w", err)
	}
	return &LeafNode{w.MaxSize, w.NextPageID, w.TombCap, w.Keys, w.Values, w.Tombstones}, nil
}

// InternalNode is a B+Tree internal node: Keys[0] is an unused
// placeholder; child i (i < Size) is reached via Keys[i] for i >= 1.
// Grounded on src/storage/page/b_plus_tree_internal_page.cpp.
type InternalNode struct {
	MaxSize  int
	Keys     [][]byte
	Children []types.PageID
}

func NewInternalNode(maxSize int) *InternalNode {
	return &InternalNode{MaxSize: maxSize}
}

func (n *InternalNode) Size() int { return len(n.Children) }

// Lookup returns the child page id to descend into for key, via binary
// search for the largest separator <= key.
func (n *InternalNode) Lookup(key []byte, cmp types.Comparator) types.PageID {
	l, r := 1, n.Size()-1
	for l <= r {
		mid := l + (r-l)/2
		if cmp(n.Keys[mid], key) <= 0 {
			l = mid + 1
		} else {
			r = mid - 1
		}
	}
	return n.Children[l-1]
}

func (n *InternalNode) ValueIndex(child types.PageID) int {
	for i, c := range n.Children {
		if c == child {
			return i
		}
	}
	return -1
}

// PopulateNewRoot initializes n as a fresh root with two children.
func (n *InternalNode) PopulateNewRoot(left types.PageID, sep []byte, right types.PageID) {
	n.Keys = [][]byte{nil, sep}
	n.Children = []types.PageID{left, right}
}

// InsertNodeAfter inserts (sep, newChild) immediately after oldChild.
func (n *InternalNode) InsertNodeAfter(oldChild types.PageID, sep []byte, newChild types.PageID) {
	idx := n.ValueIndex(oldChild)
	n.Keys = append(n.Keys, nil)
	n.Children = append(n.Children, types.InvalidPageID)
	copy(n.Keys[idx+2:], n.Keys[idx+1:])
	copy(n.Children[idx+2:], n.Children[idx+1:])
	n.Keys[idx+1] = sep
	n.Children[idx+1] = newChild
}

// MoveHalfTo splits n into recipient (a fresh node), keeping the slightly
// larger half in n, per spec.md §4.4.3 ("keep half, move half").
func (n *InternalNode) MoveHalfTo(recipient *InternalNode) {
	total := n.Size()
	keep := (total + 1) / 2
	recipient.Keys = append([][]byte{}, n.Keys[keep:]...)
	recipient.Children = append([]types.PageID{}, n.Children[keep:]...)
	n.Keys = n.Keys[:keep]
	n.Children = n.Children[:keep]
}

// MoveAllTo merges n into recipient, folding middleKey in as n's
// (previously unused) separator for its first child.
func (n *InternalNode) MoveAllTo(recipient *InternalNode, middleKey []byte) {
	n.Keys[0] = middleKey
	recipient.Keys = append(recipient.Keys, n.Keys...)
	recipient.Children = append(recipient.Children, n.Children...)
	n.Keys = nil
	n.Children = nil
}

// MoveFirstToEndOf redistributes n's first child onto the end of
// recipient (its left sibling), folding in the descended separator.
func (n *InternalNode) MoveFirstToEndOf(recipient *InternalNode, middleKey []byte) {
	recipient.Keys = append(recipient.Keys, middleKey)
	recipient.Children = append(recipient.Children, n.Children[0])
	n.Keys = n.Keys[1:]
	n.Keys[0] = nil
	n.Children = n.Children[1:]
}

// MoveLastToFrontOf redistributes n's last child onto the front of
// recipient (its right sibling), folding in the descended separator.
func (n *InternalNode) MoveLastToFrontOf(recipient *InternalNode, middleKey []byte) {
	last := n.Size() - 1
	recipient.Keys = append([][]byte{nil, middleKey}, recipient.Keys[1:]...)
	recipient.Children = append([]types.PageID{n.Children[last]}, recipient.Children...)
	n.Keys = n.Keys[:last]
	n.Children = n.Children[:last]
}

type wireInternal struct {
	MaxSize  int
	Keys     [][]byte
	Children []types.PageID
}

func (n *InternalNode) Encode(pageSize int) ([]byte, error) {
	w := wireInternal{n.MaxSize, n.Keys, n.Children}
	body, err := msgpack.Marshal(&w)
	if err != nil {
		return nil, fmt.Errorf("page: encode internal: %w", err)
	}
	return framePayload(KindInternal, body, pageSize)
}

func DecodeInternal(buf []byte) (*InternalNode, error) {
	kind, body, err := unframePayload(buf)
	if err != nil {
		return nil, err
	}
	if kind != KindInternal {
		return nil, fmt.Errorf("page: expected internal page, got kind %d", kind)
	}
	var w wireInternal
	if err := msgpack.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("page: decode internal: %w", err)
	}
	return &InternalNode{w.MaxSize, w.Keys, w.Children}, nil
}

// PeekKind reads just the discriminator byte without decoding the body,
// used by callers that must dispatch on page_type before they know which
// concrete decoder to call.
func PeekKind(buf []byte) (Kind, error) {
	if len(buf) < 1 {
		return 0, fmt.Errorf("page: buffer too small to hold a kind byte")
	}
	return Kind(buf[0]), nil
}

// framePayload prefixes body with a one-byte kind and a 4-byte length,
// zero-pads to pageSize, and errors if body doesn't fit.
func framePayload(kind Kind, body []byte, pageSize int) ([]byte, error) {
	const header = 5
	if header+len(body) > pageSize {
		return nil, fmt.Errorf("page: encoded node %d bytes exceeds page size %d", header+len(body), pageSize)
	}
	buf := make([]byte, pageSize)
	buf[0] = byte(kind)
	putUint32(buf[1:5], uint32(len(body)))
	copy(buf[header:], body)
	return buf, nil
}

func unframePayload(buf []byte) (Kind, []byte, error) {
	if len(buf) < 5 {
		return 0, nil, fmt.Errorf("page: buffer too small for frame header")
	}
	kind := Kind(buf[0])
	n := getUint32(buf[1:5])
	if int(5+n) > len(buf) {
		return 0, nil, fmt.Errorf("page: frame length %d exceeds buffer", n)
	}
	return kind, buf[5 : 5+n], nil
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
