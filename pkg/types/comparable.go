// Package types holds the ordered key types an index (pkg/btree,
// pkg/skiplist) can store. A document field's value (spec §3: an
// insertion-ordered mapping from field name to scalar value) is
// resolved to one of these before it ever reaches an index, so the
// index itself only ever compares Comparable, never a raw interface{}.
package types

import (
	"cmp"
	"fmt"
	"time"
)

// Comparable is the ordering contract every index key type satisfies.
// Compare returns -1/0/1 the way sort.Interface's Less would, but as a
// three-way result so a B-tree node can binary-search directly on it
// instead of calling Less twice per probe.
type Comparable interface {
	Compare(other Comparable) int
}

// IntKey wraps an integral document field value.
type IntKey int

// Compare panics if other is not an IntKey; index keys are always
// homogeneous within one index, so a mismatch is a caller bug, not a
// runtime condition to report gracefully.
func (k IntKey) Compare(other Comparable) int {
	return cmp.Compare(k, other.(IntKey))
}

func (k IntKey) String() string { return fmt.Sprintf("%d", int(k)) }

// VarcharKey wraps a string document field value.
type VarcharKey string

func (k VarcharKey) Compare(other Comparable) int {
	return cmp.Compare(k, other.(VarcharKey))
}

func (k VarcharKey) String() string { return string(k) }

// FloatKey wraps a floating-point document field value.
type FloatKey float64

func (k FloatKey) Compare(other Comparable) int {
	return cmp.Compare(k, other.(FloatKey))
}

func (k FloatKey) String() string { return fmt.Sprintf("%f", float64(k)) }

// BoolKey wraps a boolean document field value, ordered false < true so
// range scans over a boolean index are well-defined.
type BoolKey bool

func (k BoolKey) Compare(other Comparable) int {
	o := other.(BoolKey)
	switch {
	case k == o:
		return 0
	case !bool(k) && bool(o):
		return -1
	default:
		return 1
	}
}

func (k BoolKey) String() string { return fmt.Sprintf("%t", bool(k)) }

// DateKey wraps a time.Time document field value.
type DateKey time.Time

func (k DateKey) Compare(other Comparable) int {
	t, o := time.Time(k), time.Time(other.(DateKey))
	switch {
	case t.Before(o):
		return -1
	case t.After(o):
		return 1
	default:
		return 0
	}
}

func (k DateKey) String() string {
	return time.Time(k).Format("2006-01-02 15:04:05")
}
