// Package buffer implements the ARC-replaced buffer pool: frames, the
// Adaptive Replacement Cache victim policy, and the page guards that
// make pin/unpin exception-safe.
package buffer

import (
	"container/list"
	"fmt"

	"dbcore/types"

	"github.com/sasha-s/go-deadlock"
)

type arcStatus int

const (
	statusMRU arcStatus = iota
	statusMFU
	statusMRUGhost
	statusMFUGhost
)

// frameStatus is the bookkeeping record ArcReplacer keeps per tracked
// frame (while alive) or page (while ghosted). aliveElem/ghostElem are
// the list.Element backing an O(1) erase, mirroring the C++ iterator
// fields in FrameStatus.
type frameStatus struct {
	pageID    types.PageID
	frameID   types.FrameID
	evictable bool
	status    arcStatus
	aliveElem *list.Element
	ghostElem *list.Element
}

// ArcReplacer implements Adaptive Replacement Cache eviction, grounded
// exactly on src/buffer/arc_replacer.cpp: MRU/MFU resident lists each
// paired with a ghost list of evicted identities, and a self-tuning
// target size mru_target_size_ that grows on MRU-ghost hits and shrinks
// on MFU-ghost hits.
type ArcReplacer struct {
	mu deadlock.Mutex

	mru      *list.List // list.Element.Value = types.FrameID, front = most recent
	mfu      *list.List // list.Element.Value = types.FrameID
	mruGhost *list.List // list.Element.Value = types.PageID
	mfuGhost *list.List // list.Element.Value = types.PageID

	mruTargetSize int
	replacerSize  int
	currSize      int // count of evictable alive frames

	aliveMap map[types.FrameID]*frameStatus
	ghostMap map[types.PageID]*frameStatus
}

func NewArcReplacer(numFrames int) *ArcReplacer {
	return &ArcReplacer{
		mru:      list.New(),
		mfu:      list.New(),
		mruGhost: list.New(),
		mfuGhost: list.New(),
		replacerSize: numFrames,
		aliveMap:     make(map[types.FrameID]*frameStatus),
		ghostMap:     make(map[types.PageID]*frameStatus),
	}
}

// Evict picks a victim per the target-size-biased policy: when MRU has
// reached its target, evict from the back of MRU, falling back to MFU
// if every MRU entry is pinned, and vice versa otherwise.
func (r *ArcReplacer) Evict() (types.FrameID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.mru.Len() >= r.mruTargetSize {
		if fid, ok := r.evictFromBack(r.mru, statusMRUGhost); ok {
			return fid, true
		}
		if fid, ok := r.evictFromBack(r.mfu, statusMFUGhost); ok {
			return fid, true
		}
	} else {
		if fid, ok := r.evictFromBack(r.mfu, statusMFUGhost); ok {
			return fid, true
		}
		if fid, ok := r.evictFromBack(r.mru, statusMRUGhost); ok {
			return fid, true
		}
	}
	return 0, false
}

// evictFromBack scans l from its back for the first evictable frame,
// moving it to the ghost list identified by ghostStatus.
func (r *ArcReplacer) evictFromBack(l *list.List, ghostStatus arcStatus) (types.FrameID, bool) {
	for e := l.Back(); e != nil; e = e.Prev() {
		fid := e.Value.(types.FrameID)
		fs := r.aliveMap[fid]
		if !fs.evictable {
			continue
		}
		l.Remove(e)

		ghostList := r.mruGhost
		if ghostStatus == statusMFUGhost {
			ghostList = r.mfuGhost
		}
		fs.ghostElem = ghostList.PushFront(fs.pageID)
		fs.aliveElem = nil
		fs.status = ghostStatus

		delete(r.aliveMap, fid)
		r.ghostMap[fs.pageID] = fs

		r.currSize--
		return fid, true
	}
	return 0, false
}

// RecordAccess updates ARC bookkeeping for a hit on frameID/pageID,
// dispatching on whether the identity is alive, ghosted, or unseen.
func (r *ArcReplacer) RecordAccess(frameID types.FrameID, pageID types.PageID, kind types.AccessKind) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.aliveMap[frameID]; ok {
		r.handleCacheHit(frameID)
		return
	}
	if gs, ok := r.ghostMap[pageID]; ok && gs.status == statusMRUGhost {
		r.handleMruGhostHit(frameID, pageID)
		return
	}
	if gs, ok := r.ghostMap[pageID]; ok && gs.status == statusMFUGhost {
		r.handleMfuGhostHit(frameID, pageID)
		return
	}
	r.handleCacheMiss(frameID, pageID)
}

func (r *ArcReplacer) handleCacheHit(frameID types.FrameID) {
	fs := r.aliveMap[frameID]
	switch fs.status {
	case statusMRU:
		r.mru.Remove(fs.aliveElem)
	case statusMFU:
		r.mfu.Remove(fs.aliveElem)
	}
	fs.aliveElem = r.mfu.PushFront(frameID)
	fs.status = statusMFU
}

func (r *ArcReplacer) handleMruGhostHit(frameID types.FrameID, pageID types.PageID) {
	gs := r.ghostMap[pageID]

	mruGhostSize, mfuGhostSize := r.mruGhost.Len(), r.mfuGhost.Len()
	if mruGhostSize >= mfuGhostSize {
		r.mruTargetSize = min(r.mruTargetSize+1, r.replacerSize)
	} else {
		r.mruTargetSize = min(r.mruTargetSize+mfuGhostSize/mruGhostSize, r.replacerSize)
	}

	r.mruGhost.Remove(gs.ghostElem)
	delete(r.ghostMap, pageID)

	fs := &frameStatus{pageID: pageID, frameID: frameID, evictable: true, status: statusMFU}
	fs.aliveElem = r.mfu.PushFront(frameID)
	r.aliveMap[frameID] = fs
	r.currSize++
}

func (r *ArcReplacer) handleMfuGhostHit(frameID types.FrameID, pageID types.PageID) {
	gs := r.ghostMap[pageID]

	mruGhostSize, mfuGhostSize := r.mruGhost.Len(), r.mfuGhost.Len()
	if mfuGhostSize >= mruGhostSize {
		if r.mruTargetSize > 0 {
			r.mruTargetSize--
		}
	} else {
		decrease := mruGhostSize / mfuGhostSize
		if r.mruTargetSize >= decrease {
			r.mruTargetSize -= decrease
		} else {
			r.mruTargetSize = 0
		}
	}

	r.mfuGhost.Remove(gs.ghostElem)
	delete(r.ghostMap, pageID)

	fs := &frameStatus{pageID: pageID, frameID: frameID, evictable: true, status: statusMFU}
	fs.aliveElem = r.mfu.PushFront(frameID)
	r.aliveMap[frameID] = fs
	r.currSize++
}

func (r *ArcReplacer) handleCacheMiss(frameID types.FrameID, pageID types.PageID) {
	mruSize, mruGhostSize := r.mru.Len(), r.mruGhost.Len()
	mfuSize, mfuGhostSize := r.mfu.Len(), r.mfuGhost.Len()

	switch {
	case mruSize+mruGhostSize == r.replacerSize:
		if back := r.mruGhost.Back(); back != nil {
			delete(r.ghostMap, back.Value.(types.PageID))
			r.mruGhost.Remove(back)
		}
	case mruSize+mruGhostSize+mfuSize+mfuGhostSize == 2*r.replacerSize:
		if back := r.mfuGhost.Back(); back != nil {
			delete(r.ghostMap, back.Value.(types.PageID))
			r.mfuGhost.Remove(back)
		}
	}

	fs := &frameStatus{pageID: pageID, frameID: frameID, evictable: true, status: statusMRU}
	fs.aliveElem = r.mru.PushFront(frameID)
	r.aliveMap[frameID] = fs
	r.currSize++
}

// SetEvictable toggles pin-derived evictability, adjusting Size().
// Panics on an unknown frame id, mirroring the C++ throw-on-invalid-id
// contract: callers only toggle frames they hold a guard for.
func (r *ArcReplacer) SetEvictable(frameID types.FrameID, evictable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fs, ok := r.aliveMap[frameID]
	if !ok {
		panic(fmt.Sprintf("buffer: SetEvictable on unknown frame %d", frameID))
	}
	if fs.evictable == evictable {
		return
	}
	if evictable {
		r.currSize++
	} else {
		r.currSize--
	}
	fs.evictable = evictable
}

// Remove drops an evictable frame from the replacer outright (used when
// a page is deleted rather than merely evicted). Panics if the frame is
// pinned-equivalent (non-evictable); no-ops if the frame is unknown.
func (r *ArcReplacer) Remove(frameID types.FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fs, ok := r.aliveMap[frameID]
	if !ok {
		return
	}
	if !fs.evictable {
		panic(fmt.Sprintf("buffer: Remove on non-evictable frame %d", frameID))
	}
	switch fs.status {
	case statusMRU:
		r.mru.Remove(fs.aliveElem)
	case statusMFU:
		r.mfu.Remove(fs.aliveElem)
	}
	delete(r.aliveMap, frameID)
	r.currSize--
}

func (r *ArcReplacer) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currSize
}
