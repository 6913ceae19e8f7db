package execution

import (
	"fmt"

	"dbcore/storage/buffer"
	"dbcore/storage/page"
	"dbcore/types"

	"github.com/vmihailenco/msgpack/v5"
)

// Heap is an append-only table heap: a chain of HeapNode pages. Rows are
// never physically removed or compacted; Delete flips a row's
// is_deleted bit and Update appends a new version under a fresh RID,
// leaving index maintenance to the caller (spec.md §4.10 requires
// Insert/Update/Delete to update every secondary index in lockstep with
// the heap, which only the executor layer above Heap can do).
type Heap struct {
	pool     *buffer.Pool
	pageIDs  []types.PageID
	tailPage *page.HeapNode
	tailGuard *buffer.WriteGuard
}

func NewHeap(pool *buffer.Pool) (*Heap, error) {
	h := &Heap{pool: pool}
	if err := h.addPage(); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *Heap) addPage() error {
	if h.tailGuard != nil {
		if err := h.flushTail(); err != nil {
			return err
		}
		h.tailGuard.Drop()
	}
	pageID, guard, err := h.pool.NewPageWrite()
	if err != nil {
		return fmt.Errorf("execution: allocate heap page: %w", err)
	}
	h.pageIDs = append(h.pageIDs, pageID)
	h.tailPage = &page.HeapNode{}
	h.tailGuard = guard
	return nil
}

func (h *Heap) flushTail() error {
	buf, err := h.tailPage.Encode(h.pool.PageSize())
	if err != nil {
		return fmt.Errorf("execution: encode heap page: %w", err)
	}
	copy(h.tailGuard.Data(), buf)
	return nil
}

// Insert appends row to the tail page, spilling to a new page if it
// would overflow the current one, and returns its RID.
func (h *Heap) Insert(row Row) (types.RID, error) {
	blob, err := msgpack.Marshal(row)
	if err != nil {
		return types.RID{}, fmt.Errorf("execution: marshal row: %w", err)
	}
	if !h.tailPage.FitsWithin(blob, h.pool.PageSize()) {
		if err := h.addPage(); err != nil {
			return types.RID{}, err
		}
	}
	slot := h.tailPage.Append(blob)
	if err := h.flushTail(); err != nil {
		return types.RID{}, err
	}
	return types.RID{PageID: h.pageIDs[len(h.pageIDs)-1], Slot: uint32(slot)}, nil
}

// Get fetches row by RID. ok is false if the slot is deleted.
func (h *Heap) Get(rid types.RID) (row Row, ok bool, err error) {
	node, guard, err := h.readPage(rid.PageID)
	if err != nil {
		return nil, false, err
	}
	if guard != nil {
		defer guard.Drop()
	}
	blob, deleted := node.At(int(rid.Slot))
	if deleted {
		return nil, false, nil
	}
	var r Row
	if err := msgpack.Unmarshal(blob, &r); err != nil {
		return nil, false, fmt.Errorf("execution: unmarshal row %s: %w", rid, err)
	}
	return r, true, nil
}

// readPage returns a heap page and, for a non-tail page, a guard the
// caller must Drop. The tail page is already held under h.tailGuard for
// the heap's lifetime, so re-fetching it from the pool here would try
// to RLock a frame this goroutine already holds Lock()'d, a guaranteed
// self-deadlock; callers instead get the live in-memory tailPage back
// with a nil guard and must check for that before calling Drop.
func (h *Heap) readPage(pageID types.PageID) (*page.HeapNode, *buffer.ReadGuard, error) {
	if pageID == h.pageIDs[len(h.pageIDs)-1] {
		return h.tailPage, nil, nil
	}
	guard, err := h.pool.FetchPageRead(pageID)
	if err != nil {
		return nil, nil, err
	}
	node, err := page.DecodeHeap(guard.Data())
	if err != nil {
		guard.Drop()
		return nil, nil, err
	}
	return node, guard, nil
}

// Delete flips the is_deleted bit for rid.
func (h *Heap) Delete(rid types.RID) error {
	if rid.PageID == h.pageIDs[len(h.pageIDs)-1] {
		h.tailPage.MarkDeleted(int(rid.Slot))
		return h.flushTail()
	}
	guard, err := h.pool.FetchPageWrite(rid.PageID)
	if err != nil {
		return err
	}
	defer guard.Drop()
	node, err := page.DecodeHeap(guard.Data())
	if err != nil {
		return err
	}
	node.MarkDeleted(int(rid.Slot))
	buf, err := node.Encode(h.pool.PageSize())
	if err != nil {
		return err
	}
	copy(guard.Data(), buf)
	return nil
}

// Update is delete-old-insert-new, returning the new RID the caller
// must propagate to every secondary index.
func (h *Heap) Update(oldRID types.RID, row Row) (types.RID, error) {
	if err := h.Delete(oldRID); err != nil {
		return types.RID{}, err
	}
	return h.Insert(row)
}

// PageIDs returns every page belonging to this heap, in append order,
// for SeqScan to walk.
func (h *Heap) PageIDs() []types.PageID { return h.pageIDs }

// NumRowsOnPage reports how many slots (including deleted ones) a page
// holds, used by SeqScan to bound its per-page slot loop.
func (h *Heap) NumRowsOnPage(pageID types.PageID) (int, error) {
	node, guard, err := h.readPage(pageID)
	if err != nil {
		return 0, err
	}
	if guard != nil {
		defer guard.Drop()
	}
	return node.NumRows(), nil
}

// RowAt fetches slot i of pageID directly, used by SeqScan to avoid
// decoding the page twice per row.
func (h *Heap) RowAt(pageID types.PageID, slot int) (row Row, deleted bool, err error) {
	node, guard, err := h.readPage(pageID)
	if err != nil {
		return nil, false, err
	}
	if guard != nil {
		defer guard.Drop()
	}
	blob, del := node.At(slot)
	if del {
		return nil, true, nil
	}
	var r Row
	if err := msgpack.Unmarshal(blob, &r); err != nil {
		return nil, false, fmt.Errorf("execution: unmarshal row: %w", err)
	}
	return r, false, nil
}
