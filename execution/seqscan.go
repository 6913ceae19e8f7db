package execution

import "dbcore/types"

// SeqScan walks every page of a table heap in order, skipping deleted
// slots, per spec.md §4.10.
type SeqScan struct {
	heap *Heap

	pageIdx  int
	slotIdx  int
	pageID   types.PageID
	numSlots int
}

func NewSeqScan(heap *Heap) *SeqScan {
	return &SeqScan{heap: heap}
}

func (s *SeqScan) Init() error {
	s.pageIdx = 0
	s.slotIdx = 0
	s.pageID = types.InvalidPageID
	s.numSlots = 0
	return nil
}

func (s *SeqScan) Next(batchSize int) (Batch, bool, error) {
	var batch Batch
	pageIDs := s.heap.PageIDs()

	for batch.Len() < batchSize {
		if s.pageIdx >= len(pageIDs) {
			break
		}
		if s.pageID != pageIDs[s.pageIdx] {
			s.pageID = pageIDs[s.pageIdx]
			n, err := s.heap.NumRowsOnPage(s.pageID)
			if err != nil {
				return batch, false, err
			}
			s.numSlots = n
			s.slotIdx = 0
		}
		if s.slotIdx >= s.numSlots {
			s.pageIdx++
			continue
		}

		row, deleted, err := s.heap.RowAt(s.pageID, s.slotIdx)
		rid := types.RID{PageID: s.pageID, Slot: uint32(s.slotIdx)}
		s.slotIdx++
		if err != nil {
			return batch, false, err
		}
		if deleted {
			continue
		}
		batch.Append(row, rid)
	}

	return batch, batch.Len() > 0, nil
}
