package btree

import (
	"dbcore/storage/buffer"
	"dbcore/storage/page"
	"dbcore/types"
)

// Iterator walks non-tombstoned leaf entries in ascending key order,
// holding at most one leaf read-latched at a time, per spec.md §4.4.5.
type Iterator struct {
	tree   *Tree
	guard  *buffer.ReadGuard
	leaf   *page.LeafNode
	idx    int
	done   bool
}

// Begin positions at the leftmost leaf's first non-tombstoned entry.
func (t *Tree) Begin() (*Iterator, error) {
	hg, err := t.pool.FetchPageRead(t.headerPageID)
	if err != nil {
		return nil, err
	}
	root := rootPageID(hg.Data())
	hg.Drop()
	if root == types.InvalidPageID {
		return &Iterator{tree: t, done: true}, nil
	}

	cur, err := t.pool.FetchPageRead(root)
	if err != nil {
		return nil, err
	}
	for !isKindLeaf(cur.Data()) {
		in, err := page.DecodeInternal(cur.Data())
		if err != nil {
			cur.Drop()
			return nil, err
		}
		next, err := t.pool.FetchPageRead(in.Children[0])
		if err != nil {
			cur.Drop()
			return nil, err
		}
		cur.Drop()
		cur = next
	}
	leaf, err := page.DecodeLeaf(cur.Data())
	if err != nil {
		cur.Drop()
		return nil, err
	}
	it := &Iterator{tree: t, guard: cur, leaf: leaf, idx: -1}
	it.advanceToNextValid()
	return it, nil
}

// BeginAt positions at the smallest non-tombstoned key >= key, or at an
// exhausted iterator if none exists.
func (t *Tree) BeginAt(key []byte) (*Iterator, error) {
	hg, err := t.pool.FetchPageRead(t.headerPageID)
	if err != nil {
		return nil, err
	}
	root := rootPageID(hg.Data())
	hg.Drop()
	if root == types.InvalidPageID {
		return &Iterator{tree: t, done: true}, nil
	}

	cur, err := t.pool.FetchPageRead(root)
	if err != nil {
		return nil, err
	}
	for !isKindLeaf(cur.Data()) {
		in, err := page.DecodeInternal(cur.Data())
		if err != nil {
			cur.Drop()
			return nil, err
		}
		childID := in.Lookup(key, t.cmp)
		next, err := t.pool.FetchPageRead(childID)
		if err != nil {
			cur.Drop()
			return nil, err
		}
		cur.Drop()
		cur = next
	}
	leaf, err := page.DecodeLeaf(cur.Data())
	if err != nil {
		cur.Drop()
		return nil, err
	}

	idx := 0
	for idx < leaf.Size() && t.cmp(leaf.Keys[idx], key) < 0 {
		idx++
	}
	it := &Iterator{tree: t, guard: cur, leaf: leaf, idx: idx - 1}
	it.advanceToNextValid()
	return it, nil
}

// advanceToNextValid moves idx forward past tombstones within the
// current leaf, crossing into next_page_id as needed, until a live
// entry is found or the chain is exhausted.
func (it *Iterator) advanceToNextValid() {
	for {
		it.idx++
		for it.idx < it.leaf.Size() {
			if !it.leaf.IsTombstone(it.idx) {
				return
			}
			it.idx++
		}

		nextID := it.leaf.NextPageID
		it.guard.Drop()
		it.guard = nil
		it.leaf = nil

		if nextID == types.InvalidPageID {
			it.done = true
			return
		}
		g, err := it.tree.pool.FetchPageRead(nextID)
		if err != nil {
			it.done = true
			return
		}
		leaf, err := page.DecodeLeaf(g.Data())
		if err != nil {
			g.Drop()
			it.done = true
			return
		}
		it.guard = g
		it.leaf = leaf
		it.idx = -1
	}
}

// Valid reports whether Key/Value are safe to read.
func (it *Iterator) Valid() bool { return !it.done }

func (it *Iterator) Key() []byte { return it.leaf.Keys[it.idx] }

func (it *Iterator) Value() []byte { return it.leaf.Values[it.idx] }

// Next advances to the following live entry.
func (it *Iterator) Next() {
	if it.done {
		return
	}
	it.advanceToNextValid()
}

// Close releases the currently held leaf latch, if any. Safe to call on
// an exhausted or already-closed iterator.
func (it *Iterator) Close() {
	if it.guard != nil {
		it.guard.Drop()
		it.guard = nil
	}
	it.done = true
}
