package disk

import (
	"fmt"
	"sync"

	"dbcore/dberr"
	"dbcore/dblog"
	"dbcore/types"

	"go.uber.org/zap"
)

// Direction selects the I/O direction of a Request.
type Direction int

const (
	Read Direction = iota
	Write
)

// Request is one unit of scheduled I/O. Buffer is borrowed for the
// duration of the request: the caller must not touch it until Done fires.
type Request struct {
	Dir    Direction
	PageID types.PageID
	Buffer []byte
	Done   chan error
}

// Scheduler serializes disk I/O behind a bounded FIFO queue drained by a
// single background worker, per spec.md §4.1. Ordering from any one
// submitter is preserved because the channel is FIFO and there is exactly
// one consumer.
type Scheduler struct {
	disk    Manager
	queue   chan *Request
	stopped chan struct{}

	mu     sync.Mutex
	closed bool
}

// terminator is the sentinel enqueued to end the worker loop; it carries
// no page and is never confused with a real request because callers never
// construct one directly.
var terminator = &Request{}

func NewScheduler(disk Manager, queueDepth int) *Scheduler {
	s := &Scheduler{
		disk:    disk,
		queue:   make(chan *Request, queueDepth),
		stopped: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Scheduler) run() {
	defer close(s.stopped)
	for req := range s.queue {
		if req == terminator {
			return
		}
		var err error
		switch req.Dir {
		case Read:
			err = s.disk.ReadPage(req.PageID, req.Buffer)
		case Write:
			err = s.disk.WritePage(req.PageID, req.Buffer)
		}
		if err != nil {
			dblog.L().Debug("disk scheduler: request failed", zap.Int32("page_id", int32(req.PageID)), zap.Error(err))
		}
		req.Done <- err
	}
}

// Schedule enqueues a request and returns immediately; the caller reads
// req.Done to await completion. Returns a %w-wrapped dberr.ErrClosed
// instead of enqueuing once Shutdown has been called.
func (s *Scheduler) Schedule(req *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("disk: scheduler is shut down: %w", dberr.ErrClosed)
	}
	s.queue <- req
	return nil
}

// Manager exposes the underlying disk provider for operations the
// scheduler doesn't itself mediate: id allocation and deallocation.
func (s *Scheduler) Manager() Manager { return s.disk }

// ScheduleAndWait is the common case: submit one request, block until it
// completes, return its error.
func (s *Scheduler) ScheduleAndWait(dir Direction, pageID types.PageID, buf []byte) error {
	req := &Request{Dir: dir, PageID: pageID, Buffer: buf, Done: make(chan error, 1)}
	if err := s.Schedule(req); err != nil {
		return err
	}
	return <-req.Done
}

// Shutdown drains pending requests, then stops the worker and closes the
// queue. Safe to call once; a second call panics, since it sends the
// terminator on the queue the first call closed, matching the "explicit construct / explicit
// destroy" lifecycle note in spec.md §9. Any Schedule/ScheduleAndWait
// call racing with or following Shutdown observes dberr.ErrClosed
// instead of blocking on a queue nobody drains.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	s.closed = true
	s.queue <- terminator
	s.mu.Unlock()

	<-s.stopped
	close(s.queue)
}
