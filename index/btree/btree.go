// Package btree implements the crabbing-latched, tombstoned B+Tree
// index described in spec.md §4.4, layered on the storage/buffer pool
// and the storage/page node formats.
package btree

import (
	"encoding/binary"
	"fmt"

	"dbcore/storage/buffer"
	"dbcore/storage/page"
	"dbcore/types"
)

// Tree is one B+Tree index. The header page holds only the root page id;
// it is fetched and latched like any other page, per spec.md §4.4.1.
type Tree struct {
	pool            *buffer.Pool
	headerPageID    types.PageID
	cmp             types.Comparator
	leafMaxSize     int
	internalMaxSize int
	tombCap         int
}

// NewTree allocates a fresh header page for an empty tree.
func NewTree(pool *buffer.Pool, cmp types.Comparator, leafMaxSize, internalMaxSize, tombCap int) (*Tree, error) {
	headerID, guard, err := pool.NewPageWrite()
	if err != nil {
		return nil, fmt.Errorf("btree: allocate header page: %w", err)
	}
	putRootPageID(guard.Data(), types.InvalidPageID)
	guard.Drop()
	return &Tree{
		pool: pool, headerPageID: headerID, cmp: cmp,
		leafMaxSize: leafMaxSize, internalMaxSize: internalMaxSize, tombCap: tombCap,
	}, nil
}

// OpenTree attaches to an existing tree given its header page id (e.g.
// after reopening a database file).
func OpenTree(pool *buffer.Pool, headerPageID types.PageID, cmp types.Comparator, leafMaxSize, internalMaxSize, tombCap int) *Tree {
	return &Tree{
		pool: pool, headerPageID: headerPageID, cmp: cmp,
		leafMaxSize: leafMaxSize, internalMaxSize: internalMaxSize, tombCap: tombCap,
	}
}

func (t *Tree) HeaderPageID() types.PageID { return t.headerPageID }

func rootPageID(buf []byte) types.PageID { return types.PageID(int32(binary.LittleEndian.Uint32(buf[:4]))) }

func putRootPageID(buf []byte, id types.PageID) {
	binary.LittleEndian.PutUint32(buf[:4], uint32(int32(id)))
}

func (t *Tree) putLeaf(g *buffer.WriteGuard, n *page.LeafNode) error {
	buf, err := n.Encode(t.pool.PageSize())
	if err != nil {
		return err
	}
	copy(g.Data(), buf)
	return nil
}

func (t *Tree) putInternal(g *buffer.WriteGuard, n *page.InternalNode) error {
	buf, err := n.Encode(t.pool.PageSize())
	if err != nil {
		return err
	}
	copy(g.Data(), buf)
	return nil
}

func isKindLeaf(buf []byte) bool {
	k, err := page.PeekKind(buf)
	return err == nil && k == page.KindLeaf
}

// entry is one level of a write-latch crabbing stack: the page id, the
// guard holding its write latch, and whether it decodes as a leaf.
type entry struct {
	pageID types.PageID
	guard  *buffer.WriteGuard
	isLeaf bool
}

// stack releases every entry plus, if still held, the header guard.
type stack struct {
	entries    []entry
	header     *buffer.WriteGuard
	headerHeld bool
}

func (s *stack) releaseAll() {
	for _, e := range s.entries {
		e.guard.Drop()
	}
	s.entries = nil
	if s.headerHeld {
		s.header.Drop()
		s.headerHeld = false
	}
}

// releaseAbove drops every entry after idx (the nodes below it on the
// descent path) and truncates the stack to idx+1 entries; the header
// guard, if held, is left as it is.
func (s *stack) releaseAbove(idx int) {
	for i := idx + 1; i < len(s.entries); i++ {
		s.entries[i].guard.Drop()
	}
	s.entries = s.entries[:idx+1]
}

func (s *stack) top() entry { return s.entries[len(s.entries)-1] }

// Get performs a latch-crabbing point lookup, per spec.md §4.4.2/§4.4.5.
func (t *Tree) Get(key []byte) ([]byte, bool, error) {
	hg, err := t.pool.FetchPageRead(t.headerPageID)
	if err != nil {
		return nil, false, err
	}
	root := rootPageID(hg.Data())
	hg.Drop()
	if root == types.InvalidPageID {
		return nil, false, nil
	}

	cur, err := t.pool.FetchPageRead(root)
	if err != nil {
		return nil, false, err
	}
	for !isKindLeaf(cur.Data()) {
		in, err := page.DecodeInternal(cur.Data())
		if err != nil {
			cur.Drop()
			return nil, false, err
		}
		child := in.Lookup(key, t.cmp)
		next, err := t.pool.FetchPageRead(child)
		if err != nil {
			cur.Drop()
			return nil, false, err
		}
		cur.Drop()
		cur = next
	}
	leaf, err := page.DecodeLeaf(cur.Data())
	if err != nil {
		cur.Drop()
		return nil, false, err
	}
	idx := leaf.Lookup(key, t.cmp)
	cur.Drop()
	if idx == -1 || leaf.IsTombstone(idx) {
		return nil, false, nil
	}
	return leaf.Values[idx], true, nil
}

func isSafeInsert(size, maxSize int) bool { return size < maxSize }

func isSafeRemoveLeaf(size, minSize int) bool { return size > minSize }

func isSafeRemoveInternal(size, minSize int) bool {
	if minSize < 2 {
		minSize = 2
	}
	return size > minSize
}

// Insert adds (key, value), returning false on a non-tombstoned
// duplicate. Implements the optimistic-then-pessimistic crabbing
// protocol of spec.md §4.4.2/§4.4.3.
func (t *Tree) Insert(key, value []byte) (bool, error) {
	created, err := t.bootstrapIfEmpty(key, value)
	if err != nil || created {
		return created, err
	}

	ok, done, err := t.insertOptimistic(key, value)
	if done {
		return ok, err
	}
	return t.insertPessimistic(key, value)
}

// bootstrapIfEmpty creates the first leaf when the tree has no root.
func (t *Tree) bootstrapIfEmpty(key, value []byte) (bool, error) {
	hg, err := t.pool.FetchPageWrite(t.headerPageID)
	if err != nil {
		return false, err
	}
	defer hg.Drop()
	if rootPageID(hg.Data()) != types.InvalidPageID {
		return false, nil
	}
	leafID, lg, err := t.pool.NewPageWrite()
	if err != nil {
		return false, err
	}
	defer lg.Drop()
	leaf := page.NewLeafNode(t.leafMaxSize, t.tombCap)
	leaf.Insert(key, value, t.cmp)
	if err := t.putLeaf(lg, leaf); err != nil {
		return false, err
	}
	putRootPageID(hg.Data(), leafID)
	return true, nil
}

// insertOptimistic attempts a read-latched descent, upgrading only the
// target leaf to a write latch. done=false means the root is a leaf or
// the target leaf has fewer than two free slots (Size >= MaxSize-1);
// caller must retry pessimistically.
func (t *Tree) insertOptimistic(key, value []byte) (ok bool, done bool, err error) {
	hg, err := t.pool.FetchPageRead(t.headerPageID)
	if err != nil {
		return false, true, err
	}
	root := rootPageID(hg.Data())
	hg.Drop()

	parent, err := t.pool.FetchPageRead(root)
	if err != nil {
		return false, true, err
	}
	if isKindLeaf(parent.Data()) {
		parent.Drop()
		return false, false, nil
	}

	for {
		in, err := page.DecodeInternal(parent.Data())
		if err != nil {
			parent.Drop()
			return false, true, err
		}
		childID := in.Lookup(key, t.cmp)
		child, err := t.pool.FetchPageRead(childID)
		if err != nil {
			parent.Drop()
			return false, true, err
		}

		if isKindLeaf(child.Data()) {
			child.Drop()
			lg, err := t.pool.FetchPageWrite(childID)
			parent.Drop()
			if err != nil {
				return false, true, err
			}
			leaf, err := page.DecodeLeaf(lg.Data())
			if err != nil {
				lg.Drop()
				return false, true, err
			}
			if leaf.Size() >= leaf.MaxSize-1 {
				lg.Drop()
				return false, false, nil
			}
			ok := leaf.Insert(key, value, t.cmp)
			if ok {
				err = t.putLeaf(lg, leaf)
			}
			lg.Drop()
			return ok, true, err
		}

		parent.Drop()
		parent = child
	}
}

// insertPessimistic descends with write latches stacked, releasing
// every ancestor once a safe-for-insert node is reached, then inserts
// and propagates splits up through the stack.
func (t *Tree) insertPessimistic(key, value []byte) (bool, error) {
	hg, err := t.pool.FetchPageWrite(t.headerPageID)
	if err != nil {
		return false, err
	}

	root := rootPageID(hg.Data())
	if root == types.InvalidPageID {
		leafID, lg, err := t.pool.NewPageWrite()
		if err != nil {
			hg.Drop()
			return false, err
		}
		leaf := page.NewLeafNode(t.leafMaxSize, t.tombCap)
		leaf.Insert(key, value, t.cmp)
		err = t.putLeaf(lg, leaf)
		lg.Drop()
		putRootPageID(hg.Data(), leafID)
		hg.Drop()
		return true, err
	}

	s := &stack{header: hg, headerHeld: true}

	rg, err := t.pool.FetchPageWrite(root)
	if err != nil {
		s.header.Drop()
		return false, err
	}
	rootIsLeaf := isKindLeaf(rg.Data())
	if safe, err := t.nodeSafeForInsert(rg.Data(), rootIsLeaf); err != nil {
		rg.Drop()
		s.header.Drop()
		return false, err
	} else if safe {
		s.header.Drop()
		s.headerHeld = false
	}
	s.entries = append(s.entries, entry{root, rg, rootIsLeaf})

	for !s.top().isLeaf {
		top := s.top()
		in, err := page.DecodeInternal(top.guard.Data())
		if err != nil {
			s.releaseAll()
			return false, err
		}
		childID := in.Lookup(key, t.cmp)
		cg, err := t.pool.FetchPageWrite(childID)
		if err != nil {
			s.releaseAll()
			return false, err
		}
		childIsLeaf := isKindLeaf(cg.Data())
		safe, err := t.nodeSafeForInsert(cg.Data(), childIsLeaf)
		if err != nil {
			cg.Drop()
			s.releaseAll()
			return false, err
		}
		if safe {
			for _, e := range s.entries {
				e.guard.Drop()
			}
			s.entries = nil
			if s.headerHeld {
				s.header.Drop()
				s.headerHeld = false
			}
		}
		s.entries = append(s.entries, entry{childID, cg, childIsLeaf})
	}

	leafEntry := s.top()
	leaf, err := page.DecodeLeaf(leafEntry.guard.Data())
	if err != nil {
		s.releaseAll()
		return false, err
	}

	if leaf.Size() < leaf.MaxSize {
		ok := leaf.Insert(key, value, t.cmp)
		if ok {
			err = t.putLeaf(leafEntry.guard, leaf)
		}
		s.releaseAll()
		return ok, err
	}

	newLeafID, newLeafGuard, err := t.pool.NewPageWrite()
	if err != nil {
		s.releaseAll()
		return false, err
	}
	newLeaf := page.NewLeafNode(t.leafMaxSize, t.tombCap)
	leaf.MoveHalfTo(newLeaf)
	leaf.NextPageID = newLeafID

	var ok bool
	if t.cmp(key, newLeaf.Keys[0]) >= 0 {
		ok = newLeaf.Insert(key, value, t.cmp)
	} else {
		ok = leaf.Insert(key, value, t.cmp)
	}
	if !ok {
		newLeafGuard.Drop()
		s.releaseAll()
		return false, nil
	}
	middleKey := newLeaf.Keys[0]
	if err := t.putLeaf(newLeafGuard, newLeaf); err != nil {
		newLeafGuard.Drop()
		s.releaseAll()
		return false, err
	}
	newLeafGuard.Drop()
	if err := t.putLeaf(leafEntry.guard, leaf); err != nil {
		s.releaseAll()
		return false, err
	}

	s.entries = s.entries[:len(s.entries)-1] // pop the leaf; insertIntoParent owns leafEntry.guard now
	err = t.insertIntoParent(s, middleKey, newLeafID, leafEntry.pageID, leafEntry.guard)
	return true, err
}

func (t *Tree) nodeSafeForInsert(buf []byte, isLeaf bool) (bool, error) {
	if isLeaf {
		l, err := page.DecodeLeaf(buf)
		if err != nil {
			return false, err
		}
		return isSafeInsert(l.Size(), l.MaxSize), nil
	}
	in, err := page.DecodeInternal(buf)
	if err != nil {
		return false, err
	}
	return isSafeInsert(in.Size(), in.MaxSize), nil
}

// insertIntoParent propagates a newly-created right sibling (newChild,
// separated by sep from oldChild) up s, splitting internal nodes as
// needed and creating a new root if the stack is exhausted. childGuard
// is always dropped by this call (it owns the page the caller just
// finished writing).
func (t *Tree) insertIntoParent(s *stack, sep []byte, newChild, oldChild types.PageID, childGuard *buffer.WriteGuard) error {
	childGuard.Drop()

	if len(s.entries) == 0 {
		newRootID, rg, err := t.pool.NewPageWrite()
		if err != nil {
			if s.headerHeld {
				s.header.Drop()
			}
			return err
		}
		root := page.NewInternalNode(t.internalMaxSize)
		root.PopulateNewRoot(oldChild, sep, newChild)
		err = t.putInternal(rg, root)
		rg.Drop()
		if err == nil {
			putRootPageID(s.header.Data(), newRootID)
		}
		if s.headerHeld {
			s.header.Drop()
		}
		return err
	}

	top := s.top()
	s.entries = s.entries[:len(s.entries)-1]

	in, err := page.DecodeInternal(top.guard.Data())
	if err != nil {
		top.guard.Drop()
		s.releaseAll()
		return err
	}
	in.InsertNodeAfter(oldChild, sep, newChild)

	if in.Size() <= in.MaxSize {
		err := t.putInternal(top.guard, in)
		top.guard.Drop()
		s.releaseAll()
		return err
	}

	newSibID, nsg, err := t.pool.NewPageWrite()
	if err != nil {
		top.guard.Drop()
		s.releaseAll()
		return err
	}
	newSib := page.NewInternalNode(t.internalMaxSize)
	in.MoveHalfTo(newSib)
	newSep := newSib.Keys[0]
	if err := t.putInternal(nsg, newSib); err != nil {
		nsg.Drop()
		top.guard.Drop()
		s.releaseAll()
		return err
	}
	nsg.Drop()
	if err := t.putInternal(top.guard, in); err != nil {
		top.guard.Drop()
		s.releaseAll()
		return err
	}

	return t.insertIntoParent(s, newSep, newSibID, top.pageID, top.guard)
}

// Remove deletes key, a no-op if absent. Tombstones when TombCap > 0,
// physically removes otherwise, then rebalances underflowing nodes up
// the tree per spec.md §4.4.4.
func (t *Tree) Remove(key []byte) error {
	done, err := t.removeOptimistic(key)
	if done {
		return err
	}
	return t.removePessimistic(key)
}

func (t *Tree) removeOptimistic(key []byte) (done bool, err error) {
	hg, err := t.pool.FetchPageRead(t.headerPageID)
	if err != nil {
		return true, err
	}
	root := rootPageID(hg.Data())
	hg.Drop()
	if root == types.InvalidPageID {
		return true, nil
	}

	parent, err := t.pool.FetchPageRead(root)
	if err != nil {
		return true, err
	}
	if isKindLeaf(parent.Data()) {
		parent.Drop()
		return false, nil
	}

	for {
		in, err := page.DecodeInternal(parent.Data())
		if err != nil {
			parent.Drop()
			return true, err
		}
		childID := in.Lookup(key, t.cmp)
		child, err := t.pool.FetchPageRead(childID)
		if err != nil {
			parent.Drop()
			return true, err
		}

		if isKindLeaf(child.Data()) {
			child.Drop()
			lg, err := t.pool.FetchPageWrite(childID)
			parent.Drop()
			if err != nil {
				return true, err
			}
			leaf, err := page.DecodeLeaf(lg.Data())
			if err != nil {
				lg.Drop()
				return true, err
			}
			minSize := t.leafMaxSize / 2
			if leaf.PhysicalSize() <= minSize {
				lg.Drop()
				return false, nil
			}
			leaf.Remove(key, t.cmp)
			err = t.putLeaf(lg, leaf)
			lg.Drop()
			return true, err
		}

		parent.Drop()
		parent = child
	}
}

// removePessimistic mirrors insertPessimistic's stacking discipline but
// tests safe-for-remove instead of safe-for-insert, and rebalances
// (merge/redistribute) instead of splitting.
func (t *Tree) removePessimistic(key []byte) error {
	hg, err := t.pool.FetchPageWrite(t.headerPageID)
	if err != nil {
		return err
	}
	root := rootPageID(hg.Data())
	if root == types.InvalidPageID {
		hg.Drop()
		return nil
	}

	s := &stack{header: hg, headerHeld: true}
	leafMin, internalMin := t.leafMaxSize/2, t.internalMaxSize/2

	rg, err := t.pool.FetchPageWrite(root)
	if err != nil {
		s.header.Drop()
		return err
	}
	rootIsLeaf := isKindLeaf(rg.Data())
	s.entries = append(s.entries, entry{root, rg, rootIsLeaf})

	for !s.top().isLeaf {
		top := s.top()
		in, err := page.DecodeInternal(top.guard.Data())
		if err != nil {
			s.releaseAll()
			return err
		}
		childID := in.Lookup(key, t.cmp)
		cg, err := t.pool.FetchPageWrite(childID)
		if err != nil {
			s.releaseAll()
			return err
		}
		childIsLeaf := isKindLeaf(cg.Data())
		safe, err := t.nodeSafeForRemove(cg.Data(), childIsLeaf, leafMin, internalMin)
		if err != nil {
			cg.Drop()
			s.releaseAll()
			return err
		}
		if safe {
			for _, e := range s.entries {
				e.guard.Drop()
			}
			s.entries = nil
			if s.headerHeld {
				s.header.Drop()
				s.headerHeld = false
			}
		}
		s.entries = append(s.entries, entry{childID, cg, childIsLeaf})
	}

	return t.removeAt(s, key, leafMin, internalMin)
}

func (t *Tree) nodeSafeForRemove(buf []byte, isLeaf bool, leafMin, internalMin int) (bool, error) {
	if isLeaf {
		l, err := page.DecodeLeaf(buf)
		if err != nil {
			return false, err
		}
		return isSafeRemoveLeaf(l.PhysicalSize(), leafMin), nil
	}
	in, err := page.DecodeInternal(buf)
	if err != nil {
		return false, err
	}
	return isSafeRemoveInternal(in.Size(), internalMin), nil
}

// removeAt performs the delete at the leaf on top of s, then rebalances
// upward if it underflowed.
func (t *Tree) removeAt(s *stack, key []byte, leafMin, internalMin int) error {
	idx := len(s.entries) - 1
	leaf, err := page.DecodeLeaf(s.entries[idx].guard.Data())
	if err != nil {
		s.releaseAll()
		return err
	}
	if leaf.Lookup(key, t.cmp) == -1 {
		s.releaseAll()
		return nil
	}
	leaf.Remove(key, t.cmp)
	if err := t.putLeaf(s.entries[idx].guard, leaf); err != nil {
		s.releaseAll()
		return err
	}

	if idx == 0 {
		if leaf.PhysicalSize() == 0 {
			putRootPageID(s.header.Data(), types.InvalidPageID)
		}
		s.releaseAll()
		return nil
	}
	if leaf.PhysicalSize() >= leafMin {
		s.releaseAll()
		return nil
	}

	return t.rebalanceLeaf(s, idx, leafMin, internalMin)
}

// rebalanceLeaf fixes underflow at s.entries[idx] (a leaf) via merge or
// redistribution with an adjacent sibling, recursing into
// rebalanceInternal if the merge propagates.
func (t *Tree) rebalanceLeaf(s *stack, idx int, leafMin, internalMin int) error {
	parentEntry := s.entries[idx-1]
	parent, err := page.DecodeInternal(parentEntry.guard.Data())
	if err != nil {
		s.releaseAll()
		return err
	}
	node := s.entries[idx]
	leaf, err := page.DecodeLeaf(node.guard.Data())
	if err != nil {
		s.releaseAll()
		return err
	}
	nodeIdx := parent.ValueIndex(node.pageID)

	hasLeft := nodeIdx > 0
	var siblingIdx int
	if hasLeft {
		siblingIdx = nodeIdx - 1
	} else {
		siblingIdx = nodeIdx + 1
	}
	siblingID := parent.Children[siblingIdx]
	sg, err := t.pool.FetchPageWrite(siblingID)
	if err != nil {
		s.releaseAll()
		return err
	}
	sibling, err := page.DecodeLeaf(sg.Data())
	if err != nil {
		sg.Drop()
		s.releaseAll()
		return err
	}

	var left, right *page.LeafNode
	var sepIdx int
	if hasLeft {
		left, right = sibling, leaf
		sepIdx = nodeIdx
	} else {
		left, right = leaf, sibling
		sepIdx = siblingIdx
	}

	if left.PhysicalSize()+right.PhysicalSize() <= t.leafMaxSize {
		left.NextPageID = right.NextPageID
		right.MoveAllTo(left)

		var leftGuard *buffer.WriteGuard
		if hasLeft {
			leftGuard = sg
		} else {
			leftGuard = node.guard
		}
		if err := t.putLeaf(leftGuard, left); err != nil {
			sg.Drop()
			s.releaseAll()
			return err
		}
		sg.Drop()
		node.guard.Drop()

		parent.Keys = append(parent.Keys[:sepIdx], parent.Keys[sepIdx+1:]...)
		parent.Children = append(parent.Children[:sepIdx], parent.Children[sepIdx+1:]...)
		s.entries = s.entries[:idx] // drop the leaf entry; its guard is already released above
		s.entries[idx-1].guard = parentEntry.guard

		if err := t.putInternal(parentEntry.guard, parent); err != nil {
			s.releaseAll()
			return err
		}
		if idx-1 == 0 {
			if parent.Size() == 1 {
				putRootPageID(s.header.Data(), parent.Children[0])
			}
			s.releaseAll()
			return nil
		}
		if isSafeRemoveInternal(parent.Size(), internalMin) {
			s.releaseAll()
			return nil
		}
		return t.rebalanceInternal(s, idx-1, leafMin, internalMin)
	}

	// Redistribute one entry across the separator.
	if hasLeft {
		sibling.MoveLastToFrontOf(leaf)
		parent.Keys[sepIdx] = leaf.Keys[0]
	} else {
		sibling.MoveFirstToEndOf(leaf)
		parent.Keys[sepIdx] = sibling.Keys[0]
	}
	if err := t.putLeaf(node.guard, leaf); err != nil {
		sg.Drop()
		s.releaseAll()
		return err
	}
	if err := t.putLeaf(sg, sibling); err != nil {
		sg.Drop()
		s.releaseAll()
		return err
	}
	sg.Drop()
	if err := t.putInternal(parentEntry.guard, parent); err != nil {
		s.releaseAll()
		return err
	}
	s.releaseAll()
	return nil
}

// rebalanceInternal fixes underflow at s.entries[idx] (an internal node)
// via merge or redistribution, mirroring rebalanceLeaf with the
// descended parent separator folded into moves per spec.md §4.4.4.
func (t *Tree) rebalanceInternal(s *stack, idx int, leafMin, internalMin int) error {
	if idx == 0 {
		in, err := page.DecodeInternal(s.entries[0].guard.Data())
		if err != nil {
			s.releaseAll()
			return err
		}
		if in.Size() == 1 {
			putRootPageID(s.header.Data(), in.Children[0])
		}
		s.releaseAll()
		return nil
	}

	parentEntry := s.entries[idx-1]
	parent, err := page.DecodeInternal(parentEntry.guard.Data())
	if err != nil {
		s.releaseAll()
		return err
	}
	node := s.entries[idx]
	in, err := page.DecodeInternal(node.guard.Data())
	if err != nil {
		s.releaseAll()
		return err
	}
	nodeIdx := parent.ValueIndex(node.pageID)

	hasLeft := nodeIdx > 0
	var siblingIdx int
	if hasLeft {
		siblingIdx = nodeIdx - 1
	} else {
		siblingIdx = nodeIdx + 1
	}
	siblingID := parent.Children[siblingIdx]
	sg, err := t.pool.FetchPageWrite(siblingID)
	if err != nil {
		s.releaseAll()
		return err
	}
	sibling, err := page.DecodeInternal(sg.Data())
	if err != nil {
		sg.Drop()
		s.releaseAll()
		return err
	}

	var left, right *page.InternalNode
	var sepIdx int
	if hasLeft {
		left, right = sibling, in
		sepIdx = nodeIdx
	} else {
		left, right = in, sibling
		sepIdx = siblingIdx
	}
	middleKey := parent.Keys[sepIdx]

	if left.Size()+right.Size() <= t.internalMaxSize {
		right.MoveAllTo(left, middleKey)

		var leftGuard *buffer.WriteGuard
		if hasLeft {
			leftGuard = sg
		} else {
			leftGuard = node.guard
		}
		if err := t.putInternal(leftGuard, left); err != nil {
			sg.Drop()
			s.releaseAll()
			return err
		}
		sg.Drop()
		node.guard.Drop()

		parent.Keys = append(parent.Keys[:sepIdx], parent.Keys[sepIdx+1:]...)
		parent.Children = append(parent.Children[:sepIdx], parent.Children[sepIdx+1:]...)
		s.entries = s.entries[:idx]
		s.entries[idx-1].guard = parentEntry.guard

		if err := t.putInternal(parentEntry.guard, parent); err != nil {
			s.releaseAll()
			return err
		}
		if idx-1 == 0 {
			if parent.Size() == 1 {
				putRootPageID(s.header.Data(), parent.Children[0])
			}
			s.releaseAll()
			return nil
		}
		if isSafeRemoveInternal(parent.Size(), internalMin) {
			s.releaseAll()
			return nil
		}
		return t.rebalanceInternal(s, idx-1, leafMin, internalMin)
	}

	// Redistribute one child across the separator.
	if hasLeft {
		newSep := sibling.Keys[sibling.Size()-1]
		sibling.MoveLastToFrontOf(in, middleKey)
		parent.Keys[sepIdx] = newSep
	} else {
		newSep := sibling.Keys[1]
		sibling.MoveFirstToEndOf(in, middleKey)
		parent.Keys[sepIdx] = newSep
	}
	if err := t.putInternal(node.guard, in); err != nil {
		sg.Drop()
		s.releaseAll()
		return err
	}
	if err := t.putInternal(sg, sibling); err != nil {
		sg.Drop()
		s.releaseAll()
		return err
	}
	sg.Drop()
	if err := t.putInternal(parentEntry.guard, parent); err != nil {
		s.releaseAll()
		return err
	}
	s.releaseAll()
	return nil
}
