// Package hashjoin implements the partitioned (Grace) hash join of
// spec.md §4.7: both children are partitioned to disk by
// hash(join_key) mod P, then each partition is joined independently by
// building an in-memory hash table over the right side and streaming
// the left side through it.
package hashjoin

import (
	"context"
	"encoding/binary"
	"fmt"
	"runtime"

	"dbcore/dberr"
	"dbcore/execution"
	"dbcore/storage/buffer"
	"dbcore/storage/page"
	"dbcore/types"

	"github.com/spaolacci/murmur3"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/errgroup"
)

// Kind is the supported join kinds; only Inner and Left are specified.
type Kind int

const (
	Inner Kind = iota
	Left
)

const numPartitions = 10

// wireRow is the blob stored in each partition page.
type wireRow struct {
	Row execution.Row
	RID types.RID
}

// partition is the pair of page lists (left, right) routed to one
// hash bucket.
type partition struct {
	leftPages  []types.PageID
	rightPages []types.PageID
}

// HashJoin is the Grace hash join operator. Construction fails with
// dberr.ErrNotImplemented for any kind other than Inner/Left, per
// spec.md §4.7.
type HashJoin struct {
	pool  *buffer.Pool
	left  execution.Executor
	right execution.Executor
	// leftKeys/rightKeys evaluate the equi-join key vector for each side;
	// corresponding indices must line up (leftKeys[i] joins rightKeys[i]).
	leftKeys  []execution.Expr
	rightKeys []execution.Expr
	kind      Kind
	numRightCols int

	partitions [numPartitions]partition
	out        []execution.Row
	outRIDs    []types.RID
	cursor     int
}

func New(pool *buffer.Pool, left, right execution.Executor, leftKeys, rightKeys []execution.Expr, kind Kind, numRightCols int) (*HashJoin, error) {
	if kind != Inner && kind != Left {
		return nil, fmt.Errorf("hashjoin: join kind %d not implemented: %w", kind, dberr.ErrNotImplemented)
	}
	if len(leftKeys) != len(rightKeys) || len(leftKeys) == 0 {
		return nil, fmt.Errorf("hashjoin: leftKeys and rightKeys must be equal-length and non-empty")
	}
	return &HashJoin{
		pool: pool, left: left, right: right,
		leftKeys: leftKeys, rightKeys: rightKeys,
		kind: kind, numRightCols: numRightCols,
	}, nil
}

func (j *HashJoin) Init() error {
	if err := j.left.Init(); err != nil {
		return err
	}
	if err := j.right.Init(); err != nil {
		return err
	}
	for i := range j.partitions {
		j.partitions[i] = partition{}
	}
	j.out = nil
	j.outRIDs = nil
	j.cursor = 0

	if err := j.partitionSide(j.right, j.rightKeys, false); err != nil {
		return err
	}
	if err := j.partitionSide(j.left, j.leftKeys, true); err != nil {
		return err
	}
	return j.joinPartitions()
}

// keyBytes derives a hashable, NULL-aware byte representation of a join
// key vector: each NULL component is skipped entirely (per spec.md
// §4.7, "skipped in the hash computation so that the key tuple
// (NULL, 1) still hashes"), and each component is written as a tag
// byte and a length prefix ahead of its bytes so adjacent values cannot
// alias.
func keyBytes(row execution.Row, keys []execution.Expr) ([]byte, []types.Value, error) {
	vals := make([]types.Value, len(keys))
	var buf []byte
	for i, k := range keys {
		v, err := k.Eval(row)
		if err != nil {
			return nil, nil, err
		}
		vals[i] = v
		if v.IsNull() {
			continue
		}
		kb := execution.ValueKeyBytes(v)
		buf = append(buf, byte(i))
		buf = binary.AppendUvarint(buf, uint64(len(kb)))
		buf = append(buf, kb...)
	}
	return buf, vals, nil
}

func partitionOf(b []byte) int {
	return int(murmur3.Sum32(b) % uint32(numPartitions))
}

// partitionSide drains side fully, appending each row to the page list
// of its assigned partition (left or right half, selected by isLeft).
func (j *HashJoin) partitionSide(side execution.Executor, keys []execution.Expr, isLeft bool) error {
	builders := make([]*page.IntermediateNode, numPartitions)
	for i := range builders {
		builders[i] = &page.IntermediateNode{}
	}
	flush := func(p int) error {
		node := builders[p]
		if node.NumTuples() == 0 {
			return nil
		}
		pageID, guard, err := j.pool.NewPageWrite()
		if err != nil {
			return err
		}
		buf, err := node.Encode(j.pool.PageSize())
		if err != nil {
			guard.Drop()
			return err
		}
		copy(guard.Data(), buf)
		guard.Drop()
		if isLeft {
			j.partitions[p].leftPages = append(j.partitions[p].leftPages, pageID)
		} else {
			j.partitions[p].rightPages = append(j.partitions[p].rightPages, pageID)
		}
		builders[p] = &page.IntermediateNode{}
		return nil
	}

	for {
		batch, ok, err := side.Next(256)
		if err != nil {
			return err
		}
		for i, row := range batch.Rows {
			kb, _, err := keyBytes(row, keys)
			if err != nil {
				return err
			}
			p := partitionOf(kb)
			blob, err := msgpack.Marshal(&wireRow{Row: row, RID: batch.RIDs[i]})
			if err != nil {
				return fmt.Errorf("hashjoin: encode partition entry: %w", err)
			}
			if !builders[p].FitsWithin(blob, j.pool.PageSize()) {
				if err := flush(p); err != nil {
					return err
				}
			}
			builders[p].Append(blob)
		}
		if !ok {
			break
		}
	}
	for p := range builders {
		if err := flush(p); err != nil {
			return err
		}
	}
	return nil
}

// joinPartitions processes every partition's build+probe, fanned out
// with errgroup bounded to GOMAXPROCS concurrent partitions: partitions
// are disjoint by construction (independent hash buckets), so this is
// safe even though the result ordering across partitions becomes
// unspecified (the executor framework treats output as a multiset).
func (j *HashJoin) joinPartitions() error {
	results := make([][]execution.Row, numPartitions)
	ridResults := make([][]types.RID, numPartitions)

	g, _ := errgroup.WithContext(context.Background())
	g.SetLimit(max(1, runtime.GOMAXPROCS(0)))
	for p := 0; p < numPartitions; p++ {
		p := p
		g.Go(func() error {
			rows, rids, err := j.joinOnePartition(j.partitions[p])
			if err != nil {
				return err
			}
			results[p] = rows
			ridResults[p] = rids
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for p := 0; p < numPartitions; p++ {
		j.out = append(j.out, results[p]...)
		j.outRIDs = append(j.outRIDs, ridResults[p]...)
		for _, pid := range j.partitions[p].leftPages {
			_ = j.pool.DeletePage(pid)
		}
		for _, pid := range j.partitions[p].rightPages {
			_ = j.pool.DeletePage(pid)
		}
	}
	return nil
}

type buildEntry struct {
	row execution.Row
	rid types.RID
}

// joinOnePartition builds an in-memory hash table over the right
// (build) side keyed by its key-byte encoding, then streams the left
// (probe) side, emitting matches (and, for Left, an unmatched probe row
// padded with NULLs on the right).
func (j *HashJoin) joinOnePartition(part partition) ([]execution.Row, []types.RID, error) {
	buildTable := make(map[string][]buildEntry)
	if err := j.forEachRow(part.rightPages, func(r execution.Row, rid types.RID) error {
		kb, _, err := keyBytes(r, j.rightKeys)
		if err != nil {
			return err
		}
		buildTable[string(kb)] = append(buildTable[string(kb)], buildEntry{row: r, rid: rid})
		return nil
	}); err != nil {
		return nil, nil, err
	}

	var outRows []execution.Row
	var outRIDs []types.RID
	err := j.forEachRow(part.leftPages, func(r execution.Row, rid types.RID) error {
		kb, lvals, err := keyBytes(r, j.leftKeys)
		if err != nil {
			return err
		}
		// NULL anywhere in the left key vector can never match, per
		// spec.md's NULL != NULL, NULL != x equality semantics.
		nullKey := false
		for _, v := range lvals {
			if v.IsNull() {
				nullKey = true
				break
			}
		}
		matches := buildTable[string(kb)]
		if nullKey || len(matches) == 0 {
			if j.kind == Left {
				outRows = append(outRows, padRight(r, j.numRightCols))
				outRIDs = append(outRIDs, rid)
			}
			return nil
		}
		for _, m := range matches {
			outRows = append(outRows, joinRows(r, m.row))
			outRIDs = append(outRIDs, rid)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return outRows, outRIDs, nil
}

func padRight(left execution.Row, numRightCols int) execution.Row {
	out := make(execution.Row, len(left)+numRightCols)
	copy(out, left)
	for i := len(left); i < len(out); i++ {
		out[i] = types.Null()
	}
	return out
}

func joinRows(left, right execution.Row) execution.Row {
	out := make(execution.Row, len(left)+len(right))
	copy(out, left)
	copy(out[len(left):], right)
	return out
}

func (j *HashJoin) forEachRow(pages []types.PageID, fn func(execution.Row, types.RID) error) error {
	for _, pid := range pages {
		g, err := j.pool.FetchPageRead(pid)
		if err != nil {
			return err
		}
		node, err := page.DecodeIntermediate(g.Data())
		g.Drop()
		if err != nil {
			return err
		}
		for i := 0; i < node.NumTuples(); i++ {
			var wr wireRow
			if err := msgpack.Unmarshal(node.At(i), &wr); err != nil {
				return err
			}
			if err := fn(wr.Row, wr.RID); err != nil {
				return err
			}
		}
	}
	return nil
}

// Next streams the already-materialized join output in batches; all
// partitions are joined during Init, matching the operator's
// once-through scan of both children.
func (j *HashJoin) Next(batchSize int) (execution.Batch, bool, error) {
	var batch execution.Batch
	for batch.Len() < batchSize && j.cursor < len(j.out) {
		batch.Append(j.out[j.cursor], j.outRIDs[j.cursor])
		j.cursor++
	}
	return batch, batch.Len() > 0, nil
}
