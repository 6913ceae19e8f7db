// Package sort implements the two-phase external merge sort of
// spec.md §4.6: batched run creation followed by K=2 pairwise merging
// over disk-backed intermediate result pages.
package sort

import (
	"fmt"
	"sort"

	"dbcore/execution"
	"dbcore/storage/buffer"
	"dbcore/storage/page"
	"dbcore/types"

	"github.com/vmihailenco/msgpack/v5"
)

// OrderByKey names one sort key: the expression to evaluate and whether
// it sorts descending.
type OrderByKey struct {
	Expr execution.Expr
	Desc bool
}

// wireRow is the blob stored in each run page: the row plus its RID, so
// identity survives the sort.
type wireRow struct {
	Row execution.Row
	RID types.RID
}

// run is a disk-resident sorted sequence: an ordered list of pages all
// belonging to one logical run, linked only by this slice (no
// next_page_id is needed since the whole list is known up front).
type run struct {
	pages []types.PageID
}

// Sort performs the external merge sort over pages it allocates from
// pool. Each merge deletes the pages of the two runs it consumed; the
// pages of the final run are not deleted by the operator.
type Sort struct {
	pool    *buffer.Pool
	child   execution.Executor
	keys    []OrderByKey
	runs     []run
	finalRun *run
	cursor   int // index into finalRun.pages
	rowIdx   int
	curNode  *page.IntermediateNode
}

func New(pool *buffer.Pool, child execution.Executor, keys []OrderByKey) *Sort {
	return &Sort{pool: pool, child: child, keys: keys}
}

func (s *Sort) Init() error {
	if err := s.child.Init(); err != nil {
		return err
	}
	s.runs = nil
	s.finalRun = nil
	s.cursor = 0
	s.rowIdx = 0
	s.curNode = nil
	return s.buildRuns()
}

// buildRuns implements phase 1: accumulate rows until the next one
// would overflow a page, sort that batch, write it as a one-page run,
// and repeat; then merge pairs of runs until one remains.
func (s *Sort) buildRuns() error {
	var buf []wireRow
	probe := &page.IntermediateNode{} // tracks accumulated size only; discarded on flush

	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		sort.SliceStable(buf, func(i, j int) bool { return s.lessRows(buf[i].Row, buf[j].Row) })
		node := &page.IntermediateNode{}
		for _, wr := range buf {
			blob, err := msgpack.Marshal(&wr)
			if err != nil {
				return fmt.Errorf("sort: encode run entry: %w", err)
			}
			node.Append(blob)
		}
		pageID, guard, err := s.pool.NewPageWrite()
		if err != nil {
			return err
		}
		out, err := node.Encode(s.pool.PageSize())
		if err != nil {
			guard.Drop()
			return err
		}
		copy(guard.Data(), out)
		guard.Drop()
		s.runs = append(s.runs, run{pages: []types.PageID{pageID}})
		buf = nil
		probe = &page.IntermediateNode{}
		return nil
	}

	for {
		batch, ok, err := s.child.Next(256)
		if err != nil {
			return err
		}
		for i, row := range batch.Rows {
			wr := wireRow{Row: row, RID: batch.RIDs[i]}
			blob, err := msgpack.Marshal(&wr)
			if err != nil {
				return fmt.Errorf("sort: probe-size run entry: %w", err)
			}
			if !probe.FitsWithin(blob, s.pool.PageSize()) {
				if err := flush(); err != nil {
					return err
				}
			}
			buf = append(buf, wr)
			probe.Append(blob)
		}
		if !ok {
			break
		}
	}
	if err := flush(); err != nil {
		return err
	}

	for len(s.runs) > 1 {
		var merged []run
		for i := 0; i+1 < len(s.runs); i += 2 {
			m, err := s.mergeRuns(s.runs[i], s.runs[i+1])
			if err != nil {
				return err
			}
			merged = append(merged, m)
		}
		if len(s.runs)%2 == 1 {
			merged = append(merged, s.runs[len(s.runs)-1])
		}
		s.runs = merged
	}
	if len(s.runs) == 1 {
		s.finalRun = &s.runs[0]
	} else {
		s.finalRun = &run{}
	}
	return nil
}

// mergeRuns performs one K=2 merge: pull the smaller head from each
// input run's iterator, append to the output, deleting input pages once
// fully consumed.
func (s *Sort) mergeRuns(a, b run) (run, error) {
	ai, bi := newRunIterator(s.pool, a), newRunIterator(s.pool, b)
	defer ai.close()
	defer bi.close()

	var out run
	node := &page.IntermediateNode{}

	flush := func() error {
		if node.NumTuples() == 0 {
			return nil
		}
		pageID, guard, err := s.pool.NewPageWrite()
		if err != nil {
			return err
		}
		buf, err := node.Encode(s.pool.PageSize())
		if err != nil {
			guard.Drop()
			return err
		}
		copy(guard.Data(), buf)
		guard.Drop()
		out.pages = append(out.pages, pageID)
		node = &page.IntermediateNode{}
		return nil
	}

	for ai.valid() || bi.valid() {
		var pick []byte
		switch {
		case !ai.valid():
			pick = bi.current()
			bi.advance()
		case !bi.valid():
			pick = ai.current()
			ai.advance()
		default:
			if s.lessBlob(ai.current(), bi.current()) {
				pick = ai.current()
				ai.advance()
			} else {
				pick = bi.current()
				bi.advance()
			}
		}
		if !node.FitsWithin(pick, s.pool.PageSize()) {
			if err := flush(); err != nil {
				return out, err
			}
		}
		node.Append(pick)
	}
	if err := flush(); err != nil {
		return out, err
	}

	for _, pid := range a.pages {
		_ = s.pool.DeletePage(pid)
	}
	for _, pid := range b.pages {
		_ = s.pool.DeletePage(pid)
	}
	return out, nil
}

func (s *Sort) lessRows(a, b execution.Row) bool {
	for _, k := range s.keys {
		va, err := k.Expr.Eval(a)
		if err != nil {
			continue
		}
		vb, err := k.Expr.Eval(b)
		if err != nil {
			continue
		}
		if va.IsNull() && vb.IsNull() {
			continue
		}
		if va.IsNull() {
			return !k.Desc
		}
		if vb.IsNull() {
			return k.Desc
		}
		c := va.Cmp(vb)
		if c == 0 {
			continue
		}
		if k.Desc {
			return c > 0
		}
		return c < 0
	}
	return false
}

func (s *Sort) lessBlob(a, b []byte) bool {
	var wa, wb wireRow
	_ = msgpack.Unmarshal(a, &wa)
	_ = msgpack.Unmarshal(b, &wb)
	return s.lessRows(wa.Row, wb.Row)
}

// Next streams tuples from the final run.
func (s *Sort) Next(batchSize int) (execution.Batch, bool, error) {
	var batch execution.Batch
	for batch.Len() < batchSize {
		if s.curNode == nil {
			if s.cursor >= len(s.finalRun.pages) {
				break
			}
			g, err := s.pool.FetchPageRead(s.finalRun.pages[s.cursor])
			if err != nil {
				return batch, false, err
			}
			node, err := page.DecodeIntermediate(g.Data())
			g.Drop()
			if err != nil {
				return batch, false, err
			}
			s.curNode = node
			s.rowIdx = 0
		}
		if s.rowIdx >= s.curNode.NumTuples() {
			s.curNode = nil
			s.cursor++
			continue
		}
		var wr wireRow
		if err := msgpack.Unmarshal(s.curNode.At(s.rowIdx), &wr); err != nil {
			return batch, false, err
		}
		s.rowIdx++
		batch.Append(wr.Row, wr.RID)
	}
	return batch, batch.Len() > 0, nil
}

// runIterator walks a run's pages tuple by tuple, holding at most one
// page's decoded contents resident at a time.
type runIterator struct {
	pool    *buffer.Pool
	pages   []types.PageID
	pageIdx int
	node    *page.IntermediateNode
	rowIdx  int
}

func newRunIterator(pool *buffer.Pool, r run) *runIterator {
	it := &runIterator{pool: pool, pages: r.pages}
	it.load()
	return it
}

func (it *runIterator) load() {
	for it.pageIdx < len(it.pages) {
		g, err := it.pool.FetchPageRead(it.pages[it.pageIdx])
		if err != nil {
			it.pageIdx = len(it.pages)
			return
		}
		node, err := page.DecodeIntermediate(g.Data())
		g.Drop()
		if err != nil || node.NumTuples() == 0 {
			it.pageIdx++
			continue
		}
		it.node = node
		it.rowIdx = 0
		return
	}
	it.node = nil
}

func (it *runIterator) valid() bool { return it.node != nil && it.rowIdx < it.node.NumTuples() }

func (it *runIterator) current() []byte { return it.node.At(it.rowIdx) }

func (it *runIterator) advance() {
	it.rowIdx++
	if it.rowIdx >= it.node.NumTuples() {
		it.pageIdx++
		it.load()
	}
}

func (it *runIterator) close() {}
