// Package types holds the identifiers and the minimal value model shared
// across the storage and execution layers: page and record ids, and a
// small tagged-union Value that stands in for the opaque type system and
// expression evaluator (outside this engine's scope).
package types

import "fmt"

// PageID identifies a page on disk. InvalidPageID is the sentinel used by
// an empty tree's header and by frames that hold no page.
type PageID int32

const InvalidPageID PageID = -1

func (p PageID) Valid() bool { return p != InvalidPageID }

// FrameID identifies a buffer pool frame (a slot, not a page).
type FrameID int32

// RID is a record identifier: the page holding a tuple and its slot index.
type RID struct {
	PageID PageID
	Slot   uint32
}

func (r RID) String() string { return fmt.Sprintf("%d:%d", r.PageID, r.Slot) }

// AccessKind is reserved for replacer policy variants; ARC's behavior does
// not depend on it today, but the replacer interface threads it through so
// a future policy (e.g. sequential-scan-aware) can use it.
type AccessKind int

const (
	AccessNormal AccessKind = iota
	AccessScan
)

// ValueKind tags the variants of Value.
type ValueKind uint8

const (
	ValueNull ValueKind = iota
	ValueInt64
	ValueFloat64
	ValueBytes
	ValueBool
)

// Value is the minimal concrete stand-in for the type system and
// expression evaluator that spec.md treats as opaque (Expr). Executors
// that must compare or hash join/order-by keys need *some* concrete value
// representation; Value is deliberately small: a tagged union with
// NULL-aware comparison, nothing more (no casts, no arithmetic beyond what
// the window aggregates need).
type Value struct {
	Kind  ValueKind
	I64   int64
	F64   float64
	Bytes []byte
}

func Null() Value               { return Value{Kind: ValueNull} }
func Int64(v int64) Value       { return Value{Kind: ValueInt64, I64: v} }
func Float64(v float64) Value   { return Value{Kind: ValueFloat64, F64: v} }
func BytesValue(v []byte) Value { return Value{Kind: ValueBytes, Bytes: v} }
func (v Value) IsNull() bool    { return v.Kind == ValueNull }

// BoolAsValue and AsBool round-trip boolean predicate results through
// Value so Expr implementations (EqExpr, AndExpr) can stay in terms of
// the single Value type rather than a separate predicate type.
func BoolAsValue(b bool) Value {
	if b {
		return Value{Kind: ValueBool, I64: 1}
	}
	return Value{Kind: ValueBool, I64: 0}
}

func (v Value) AsBool() bool { return v.Kind == ValueBool && v.I64 != 0 }

// AsFloat64 widens numeric kinds for comparison/aggregation. When either
// side is not numeric, Cmp compares the Bytes fields instead, so kinds
// that carry no Bytes (Bool, or a number against a Bool) compare equal.
func (v Value) AsFloat64() (float64, bool) {
	switch v.Kind {
	case ValueInt64:
		return float64(v.I64), true
	case ValueFloat64:
		return v.F64, true
	default:
		return 0, false
	}
}

// Cmp returns <0, 0, >0. NULL sorts according to the caller's nulls-first
// policy, not here: Cmp panics if either value is NULL. Callers must check
// IsNull first — this mirrors spec.md's explicit NULL handling being a
// property of the operator (window ORDER BY, hash join equality), not of
// a generic comparator.
func (v Value) Cmp(o Value) int {
	if v.IsNull() || o.IsNull() {
		panic("types: Cmp called with a NULL value; check IsNull first")
	}
	if fa, ok := v.AsFloat64(); ok {
		if fb, ok := o.AsFloat64(); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			default:
				return 0
			}
		}
	}
	a, b := v.Bytes, o.Bytes
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return int(a[i]) - int(b[i])
		}
	}
	return len(a) - len(b)
}

// Equal implements join-key equality: NULL != NULL and NULL != x, per
// spec.md §4.7.
func (v Value) Equal(o Value) bool {
	if v.IsNull() || o.IsNull() {
		return false
	}
	return v.Cmp(o) == 0
}

// Comparator is the opaque strict-total-order over keys that the B+Tree is
// built with; callers supply one (e.g. bytes.Compare for raw keys, or a
// Value-aware comparator for typed keys).
type Comparator func(a, b []byte) int
