// Demo program wiring the storage and execution engine end to end:
// creates a heap, a secondary index, inserts a handful of rows through
// the Insert executor, and scans them back via IndexScan.
// Usage: go run ./cmd/dbengine [path-to-db-file]
package main

import (
	"bytes"
	"fmt"
	"log"
	"os"

	"dbcore/dbconfig"
	"dbcore/dblog"
	"dbcore/execution"
	"dbcore/index/btree"
	"dbcore/storage/buffer"
	"dbcore/storage/disk"
	"dbcore/types"
)

func main() {
	dblog.Init(dblog.Options{})
	cfg := dbconfig.New()

	path := "dbengine.db"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	dm, err := disk.NewFileManager(path, cfg.PageSize)
	if err != nil {
		log.Fatalf("open disk manager: %v", err)
	}
	defer dm.Close()

	sched := disk.NewScheduler(dm, 64)
	defer sched.Shutdown()

	pool := buffer.NewPool(cfg.PoolFrames, cfg.PageSize, sched)

	heap, err := execution.NewHeap(pool)
	if err != nil {
		log.Fatalf("new heap: %v", err)
	}

	cmp := types.Comparator(bytes.Compare)
	idTree, err := btree.NewTree(pool, cmp, cfg.LeafMaxSize, cfg.InternalMaxSize, cfg.TombstoneCap)
	if err != nil {
		log.Fatalf("new index: %v", err)
	}
	indexes := []execution.SecondaryIndex{
		{Tree: idTree, KeyExpr: execution.ColumnExpr{Index: 0}},
	}

	rowsToInsert := []execution.Row{
		{types.Int64(1), types.BytesValue([]byte("alice"))},
		{types.Int64(2), types.BytesValue([]byte("bob"))},
		{types.Int64(3), types.BytesValue([]byte("carol"))},
	}
	insert := execution.NewInsert(&rowFeed{values: rowsToInsert}, heap, indexes)
	if err := insert.Init(); err != nil {
		log.Fatalf("init insert: %v", err)
	}
	batch, _, err := insert.Next(cfg.BatchSize)
	if err != nil {
		log.Fatalf("run insert: %v", err)
	}
	fmt.Printf("inserted %d rows\n", batch.Rows[0][0].I64)

	scan := execution.NewRangeIndexScan(idTree, heap, nil)
	if err := scan.Init(); err != nil {
		log.Fatalf("init scan: %v", err)
	}
	for {
		b, ok, err := scan.Next(cfg.BatchSize)
		if err != nil {
			log.Fatalf("scan: %v", err)
		}
		for _, row := range b.Rows {
			fmt.Printf("row: id=%d name=%s\n", row[0].I64, row[1].Bytes)
		}
		if !ok {
			break
		}
	}
}

// rowFeed is a one-shot Executor wrapping an in-memory slice, used only
// to drive the demo's Insert without a real scan source.
type rowFeed struct {
	values []execution.Row
	idx    int
}

func (r *rowFeed) Init() error { r.idx = 0; return nil }

func (r *rowFeed) Next(batchSize int) (execution.Batch, bool, error) {
	var batch execution.Batch
	for batch.Len() < batchSize && r.idx < len(r.values) {
		batch.Append(r.values[r.idx], types.RID{})
		r.idx++
	}
	return batch, batch.Len() > 0, nil
}
