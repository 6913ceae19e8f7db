// Package page defines the fixed-size byte page the buffer pool moves
// between disk and memory, and the higher-level page formats (B+Tree
// nodes, the intermediate result page) that are encoded into and decoded
// out of that byte buffer.
package page

import "dbcore/types"

// Raw is the buffer-pool-visible page: PageSize bytes, identified by a
// PageID. The buffer pool never interprets the contents; that is left to
// whichever layer encoded them (B+Tree node, intermediate result page).
type Raw struct {
	ID   types.PageID
	Data []byte
}

func NewRaw(id types.PageID, size int) *Raw {
	return &Raw{ID: id, Data: make([]byte, size)}
}
