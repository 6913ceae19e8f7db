// Package optimizer implements the two structural, syntactic rewrite
// rules of spec.md §4.11. Plan trees and predicates are the minimal
// concrete stand-in the harness requires for operators whose design
// spec.md treats as opaque; the rules themselves only ever pattern-match
// shape, never cost, so nothing here depends on cardinality.
package optimizer

import (
	"dbcore/dblog"
	"dbcore/index/btree"
	"dbcore/stats"
	"dbcore/types"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"
)

// Plan is a node in the tree the optimizer rewrites. Only the shapes
// the two named rules need are modeled; everything else is out of scope
// per spec.md's plan-construction non-goal.
type Plan interface {
	Children() []Plan
}

// SeqScan is a leaf scanning table Table in full.
type SeqScan struct {
	Table string
}

func (p *SeqScan) Children() []Plan { return nil }

// Filter wraps Child with a predicate.
type Filter struct {
	Child     Plan
	Predicate Predicate
}

func (p *Filter) Children() []Plan { return []Plan{p.Child} }

// IndexScan probes Table's single-column index on Column for each key
// in Keys and unions the matching RIDs, the replacement target of the
// SeqScan+Filter rewrite.
type IndexScan struct {
	Table  string
	Column string
	Keys   []types.Value
}

func (p *IndexScan) Children() []Plan { return nil }

// NestedLoopJoin pairs every Left row against every Right row matching
// Predicate; the rewrite target the NLJ->HashJoin rule eliminates when
// Predicate is a pure AND-tree of column equalities.
type NestedLoopJoin struct {
	Left, Right Plan
	Predicate   Predicate
}

func (p *NestedLoopJoin) Children() []Plan { return []Plan{p.Left, p.Right} }

// HashJoin is the replacement for a NestedLoopJoin whose predicate is an
// equi-join: LeftKeys[i] and RightKeys[i] name one join-key column pair.
type HashJoin struct {
	Left, Right        Plan
	LeftKeys, RightKeys []int
}

func (p *HashJoin) Children() []Plan { return []Plan{p.Left, p.Right} }

// Predicate is the minimal opaque-Expr-adjacent predicate shape the
// rules match against: an AND-tree for joins, an OR-of-equalities for
// the index rewrite. It deliberately does not reuse execution.Expr,
// which evaluates over an already-materialized row; these predicates
// describe shape before any row exists.
type Predicate interface{}

// And is a conjunction; And{} (no terms) is trivially true.
type And struct{ Terms []Predicate }

// Or is a disjunction.
type Or struct{ Terms []Predicate }

// ColEq is a join-key equality: LeftSide/RightSide are 0 for the left
// child's column namespace and 1 for the right child's (spec.md's
// "col(0,…) = col(1,…), possibly with sides swapped").
type ColEq struct {
	LeftSide, LeftCol   int
	RightSide, RightCol int
}

// ConstEq is a single-column equality against a constant, the leaf shape
// the SeqScan+Filter rule matches.
type ConstEq struct {
	Column string
	Value  types.Value
}

// NLJToHashJoin recursively rewrites plan's children, then, if plan is a
// NestedLoopJoin whose predicate is an AND-tree of column equalities
// each naming one left column and one right column (in either order),
// replaces it with a HashJoin over the paired key vectors. Any other
// predicate shape aborts the rewrite for that node and returns plan
// unchanged (children rewritten regardless), per spec.md §4.11.
func NLJToHashJoin(plan Plan) Plan {
	if plan == nil {
		return nil
	}
	switch p := plan.(type) {
	case *Filter:
		p.Child = NLJToHashJoin(p.Child)
	case *NestedLoopJoin:
		p.Left = NLJToHashJoin(p.Left)
		p.Right = NLJToHashJoin(p.Right)
	case *HashJoin:
		p.Left = NLJToHashJoin(p.Left)
		p.Right = NLJToHashJoin(p.Right)
	}

	nlj, ok := plan.(*NestedLoopJoin)
	if !ok {
		return plan
	}
	leftKeys, rightKeys, ok := extractEquiJoinKeys(nlj.Predicate)
	if !ok {
		return nlj
	}
	return &HashJoin{Left: nlj.Left, Right: nlj.Right, LeftKeys: leftKeys, RightKeys: rightKeys}
}

// extractEquiJoinKeys flattens an AND-tree of ColEq leaves into paired
// (left, right) column-index vectors, normalizing swapped sides so
// leftKeys always indexes side 0. Any non-ColEq leaf, or a predicate
// that isn't a (possibly singleton) AND-tree, fails the match.
func extractEquiJoinKeys(p Predicate) (leftKeys, rightKeys []int, ok bool) {
	switch pred := p.(type) {
	case *And:
		for _, term := range pred.Terms {
			lk, rk, ok2 := extractEquiJoinKeys(term)
			if !ok2 {
				return nil, nil, false
			}
			leftKeys = append(leftKeys, lk...)
			rightKeys = append(rightKeys, rk...)
		}
		return leftKeys, rightKeys, true
	case *ColEq:
		switch {
		case pred.LeftSide == 0 && pred.RightSide == 1:
			return []int{pred.LeftCol}, []int{pred.RightCol}, true
		case pred.LeftSide == 1 && pred.RightSide == 0:
			return []int{pred.RightCol}, []int{pred.LeftCol}, true
		default:
			return nil, nil, false
		}
	default:
		return nil, nil, false
	}
}

// IndexCatalog answers "does table have a single-column index on
// column" for the SeqScan+Filter rewrite; a real catalog/binder is out
// of scope per spec.md's non-goals, so callers supply this minimal view
// directly.
type IndexCatalog interface {
	SingleColumnIndex(table, column string) (*btree.Tree, bool)
}

// SeqScanAsIndexScan recursively rewrites plan's children, then, for a
// Filter over a SeqScan whose predicate is a single-column disjunction
// of equalities against constants and the table carries a single-column
// index on that column, replaces the pair with an IndexScan whose Keys
// are the constants. sel is consulted read-only for an informational
// log line about the rewritten column's cached selectivity; it never
// gates whether the rule fires, matching spec.md's syntactic-only
// design note for these two rules.
func SeqScanAsIndexScan(plan Plan, catalog IndexCatalog, sel *stats.SelectivityCache) Plan {
	if plan == nil {
		return nil
	}
	switch p := plan.(type) {
	case *Filter:
		p.Child = SeqScanAsIndexScan(p.Child, catalog, sel)
	case *NestedLoopJoin:
		p.Left = SeqScanAsIndexScan(p.Left, catalog, sel)
		p.Right = SeqScanAsIndexScan(p.Right, catalog, sel)
	case *HashJoin:
		p.Left = SeqScanAsIndexScan(p.Left, catalog, sel)
		p.Right = SeqScanAsIndexScan(p.Right, catalog, sel)
	}

	f, ok := plan.(*Filter)
	if !ok {
		return plan
	}
	scan, ok := f.Child.(*SeqScan)
	if !ok {
		return plan
	}
	column, consts, ok := extractSingleColumnEquality(f.Predicate)
	if !ok {
		return plan
	}
	_, hasIndex := catalog.SingleColumnIndex(scan.Table, column)
	if !hasIndex {
		return plan
	}
	if sel != nil {
		if s, found := sel.Get(scan.Table, column); found {
			dblog.L().Debug("optimizer: rewrote filter into index scan",
				zap.String("table", scan.Table), zap.String("column", column), zap.Float64("selectivity", s))
		}
	}
	return &IndexScan{Table: scan.Table, Column: column, Keys: consts}
}

// extractSingleColumnEquality matches an Or-tree whose leaves are all
// ConstEq against the same column, returning that column and its
// constants. Repeated Int64 constants are dropped via a golang-set (e.g.
// "x = 1 OR x = 1 OR x = 2" yields 1, 2); constants of other kinds are
// kept as given, repeats included.
func extractSingleColumnEquality(p Predicate) (column string, consts []types.Value, ok bool) {
	var col string
	colSet := false
	seen := mapset.NewSet[int64]() // dedup on the int64 representation for int keys
	var out []types.Value

	var walk func(p Predicate) bool
	walk = func(p Predicate) bool {
		switch pred := p.(type) {
		case *Or:
			for _, t := range pred.Terms {
				if !walk(t) {
					return false
				}
			}
			return true
		case *ConstEq:
			if colSet && pred.Column != col {
				return false
			}
			col, colSet = pred.Column, true
			if pred.Value.Kind == types.ValueInt64 && seen.Contains(pred.Value.I64) {
				return true
			}
			if pred.Value.Kind == types.ValueInt64 {
				seen.Add(pred.Value.I64)
			}
			out = append(out, pred.Value)
			return true
		default:
			return false
		}
	}
	if !walk(p) || !colSet {
		return "", nil, false
	}
	return col, out, true
}

// Optimize applies both rules in a fixed order: NLJ->HashJoin first,
// then SeqScanAsIndexScan (which recurses through the resulting HashJoin
// nodes), matching optimize(plan) -> plan of spec.md §6.
func Optimize(plan Plan, catalog IndexCatalog, sel *stats.SelectivityCache) Plan {
	plan = NLJToHashJoin(plan)
	plan = SeqScanAsIndexScan(plan, catalog, sel)
	return plan
}
