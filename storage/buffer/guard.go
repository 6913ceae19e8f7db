package buffer

import "dbcore/types"

// ReadGuard pins a page for read access and releases the pin exactly
// once, whether Drop is called explicitly or left to happen implicitly
// at the end of its holder's scope (Go has no destructors, so callers
// must defer Drop themselves; the idempotence here just protects
// against a stray double Drop). Grounded on spec.md §4.2's page guard
// requirement.
type ReadGuard struct {
	pool    *Pool
	pageID  types.PageID
	frame   *Frame
	dropped bool
}

func (p *Pool) FetchPageRead(pageID types.PageID) (*ReadGuard, error) {
	f, err := p.FetchPage(pageID)
	if err != nil {
		return nil, err
	}
	f.mu.RLock()
	return &ReadGuard{pool: p, pageID: pageID, frame: f}, nil
}

func (g *ReadGuard) Data() []byte { return g.frame.Data }

func (g *ReadGuard) PageID() types.PageID { return g.pageID }

func (g *ReadGuard) Drop() {
	if g.dropped {
		return
	}
	g.dropped = true
	g.frame.mu.RUnlock()
	_ = g.pool.Unpin(g.pageID, false)
}

// WriteGuard pins a page for mutation; Drop always marks the page dirty
// since the guard's entire point is to permit a write.
type WriteGuard struct {
	pool    *Pool
	pageID  types.PageID
	frame   *Frame
	dropped bool
}

func (p *Pool) FetchPageWrite(pageID types.PageID) (*WriteGuard, error) {
	f, err := p.FetchPage(pageID)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	return &WriteGuard{pool: p, pageID: pageID, frame: f}, nil
}

// NewPageWrite allocates a fresh page and returns it already held under
// a write guard, the common case for node creation during a B+Tree
// split.
func (p *Pool) NewPageWrite() (types.PageID, *WriteGuard, error) {
	pageID, f, err := p.NewPage()
	if err != nil {
		return types.InvalidPageID, nil, err
	}
	f.mu.Lock()
	return pageID, &WriteGuard{pool: p, pageID: pageID, frame: f}, nil
}

func (g *WriteGuard) Data() []byte { return g.frame.Data }

func (g *WriteGuard) PageID() types.PageID { return g.pageID }

func (g *WriteGuard) Drop() {
	if g.dropped {
		return
	}
	g.dropped = true
	g.frame.mu.Unlock()
	_ = g.pool.Unpin(g.pageID, true)
}
