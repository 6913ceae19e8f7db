package buffer

import (
	"dbcore/types"

	"github.com/sasha-s/go-deadlock"
)

// Frame is one slot of the buffer pool's fixed-size frame array: a byte
// buffer plus the bookkeeping the pool and replacer need (which page it
// currently holds, how many pins are outstanding, whether it's dirty).
// Grounded on the teacher's page.Page pin/dirty fields, generalized into
// a frame distinct from the page identity it transiently holds.
type Frame struct {
	mu deadlock.RWMutex

	ID       types.FrameID
	PageID   types.PageID
	Data     []byte
	PinCount int
	Dirty    bool
}

func newFrame(id types.FrameID, pageSize int) *Frame {
	return &Frame{ID: id, PageID: types.InvalidPageID, Data: make([]byte, pageSize)}
}

func (f *Frame) reset(pageID types.PageID) {
	f.PageID = pageID
	f.PinCount = 0
	f.Dirty = false
	for i := range f.Data {
		f.Data[i] = 0
	}
}
