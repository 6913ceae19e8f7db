// Package stats wraps a ristretto cache used as a read-through hint store
// for per-column selectivity estimates. It backs the optimizer's
// SeqScan+Filter -> IndexScan rewrite (optimizer.SeqScanAsIndexScan),
// which logs the cached selectivity for the column it just rewrote; the
// estimate is purely informational and never changes whether the rule
// fires (the rule stays syntactic, per spec.md's design note).
package stats

import (
	"github.com/dgraph-io/ristretto/v2"
)

// SelectivityCache caches "table.column" -> estimated selectivity in
// [0, 1]. A miss simply means no hint is available; callers must treat
// that as "unknown", never as zero selectivity.
type SelectivityCache struct {
	cache *ristretto.Cache[string, float64]
}

func NewSelectivityCache() (*SelectivityCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, float64]{
		NumCounters: 1e4,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &SelectivityCache{cache: c}, nil
}

func key(table, column string) string { return table + "." + column }

// Put records a selectivity estimate with a nominal cost of 1 per entry.
func (s *SelectivityCache) Put(table, column string, selectivity float64) {
	s.cache.Set(key(table, column), selectivity, 1)
}

// Get returns the cached selectivity and whether it was present.
func (s *SelectivityCache) Get(table, column string) (float64, bool) {
	return s.cache.Get(key(table, column))
}

// Close releases ristretto's background goroutines.
func (s *SelectivityCache) Close() { s.cache.Close() }
