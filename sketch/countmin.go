// Package sketch implements a concurrent count-min sketch, grounded on
// src/primer/count_min_sketch.cpp: a depth x width counter matrix with
// depth independently seeded hash functions, relaxed atomic increments,
// and a TopK that scores a candidate set instead of scanning all inputs.
package sketch

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/spaolacci/murmur3"
)

// CountMinSketch estimates item frequencies in a stream with one-sided
// error: Count(x) is always >= the true count, never less.
type CountMinSketch[K fmt.Stringer] struct {
	width, depth uint32
	rows         [][]atomic.Uint32
	seeds        []uint32
}

// New builds a sketch of the given width and depth. Both must be > 0.
func New[K fmt.Stringer](width, depth uint32) *CountMinSketch[K] {
	if width == 0 || depth == 0 {
		panic("sketch: width and depth must be greater than zero")
	}
	rows := make([][]atomic.Uint32, depth)
	for i := range rows {
		rows[i] = make([]atomic.Uint32, width)
	}
	seeds := make([]uint32, depth)
	for i := range seeds {
		seeds[i] = uint32(i)*0x9E3779B1 + 1
	}
	return &CountMinSketch[K]{width: width, depth: depth, rows: rows, seeds: seeds}
}

func (s *CountMinSketch[K]) col(row int, item K) uint32 {
	h := murmur3.Sum32WithSeed([]byte(item.String()), s.seeds[row])
	return h % s.width
}

// Insert increments one counter per row. Safe for concurrent callers:
// each increment is a relaxed atomic add, matching spec.md §5's
// "lock-free atomic increments with relaxed ordering" requirement.
func (s *CountMinSketch[K]) Insert(item K) {
	for i := 0; i < int(s.depth); i++ {
		s.rows[i][s.col(i, item)].Add(1)
	}
}

// Count returns the row-wise minimum counter for item, 0 if never seen.
func (s *CountMinSketch[K]) Count(item K) uint32 {
	min := ^uint32(0)
	for i := 0; i < int(s.depth); i++ {
		if v := s.rows[i][s.col(i, item)].Load(); v < min {
			min = v
		}
	}
	if min == ^uint32(0) {
		return 0
	}
	return min
}

// Merge adds other's counters into s element-wise. Both sketches must
// share dimensions.
func (s *CountMinSketch[K]) Merge(other *CountMinSketch[K]) error {
	if s.width != other.width || s.depth != other.depth {
		return fmt.Errorf("sketch: incompatible dimensions for merge: %dx%d vs %dx%d", s.depth, s.width, other.depth, other.width)
	}
	for i := 0; i < int(s.depth); i++ {
		for j := 0; j < int(s.width); j++ {
			s.rows[i][j].Add(other.rows[i][j].Load())
		}
	}
	return nil
}

// Clear resets every counter to zero.
func (s *CountMinSketch[K]) Clear() {
	for i := range s.rows {
		for j := range s.rows[i] {
			s.rows[i][j].Store(0)
		}
	}
}

// Scored pairs a candidate with its estimated count.
type Scored[K fmt.Stringer] struct {
	Item  K
	Count uint32
}

// TopK scores every candidate and returns the k with the highest estimated
// counts, ties broken by input order (arbitrary, per spec.md §4.12).
func (s *CountMinSketch[K]) TopK(k int, candidates []K) []Scored[K] {
	scored := make([]Scored[K], len(candidates))
	for i, c := range candidates {
		scored[i] = Scored[K]{Item: c, Count: s.Count(c)}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Count > scored[j].Count })
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored
}
