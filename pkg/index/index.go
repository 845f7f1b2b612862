// Package index defines the capability set every index variant (B-tree,
// hash, skip list) implements, so callers depend on the capability set
// rather than the concrete variant (spec §9's "polymorphism over
// indexes").
package index

import "github.com/kastellan/docengine/pkg/types"

// Pair is a single key/value entry as returned by ordered enumerations.
type Pair struct {
	Key   types.Comparable
	Value int64
}

// Stats reports cheap, point-in-time index statistics.
type Stats struct {
	Count int
}

// Index is the shared capability set. Implementations: pkg/btree (ordered,
// primary), pkg/hashindex (equality-only), pkg/skiplist (ordered,
// probabilistic).
type Index interface {
	Get(key types.Comparable) (int64, bool, error)
	Put(key types.Comparable, value int64) error
	Delete(key types.Comparable) error
	ContainsKey(key types.Comparable) (bool, error)

	// Range returns entries with start <= key <= end, inclusive, in
	// ascending key order. Implementations snapshot under their internal
	// lock and return a materialized slice so the lock is never held
	// while the caller iterates.
	Range(start, end types.Comparable) ([]Pair, error)
	GetAll() ([]Pair, error)
	Count() (int, error)
	MinKey() (types.Comparable, bool, error)
	MaxKey() (types.Comparable, bool, error)

	// FindGreaterThan/FindLessThan return up to limit entries strictly
	// greater/less than key, both in ascending key order.
	// limit <= 0 means unbounded.
	FindGreaterThan(key types.Comparable, limit int) ([]Pair, error)
	FindLessThan(key types.Comparable, limit int) ([]Pair, error)

	BatchInsert(entries []Pair) error
	BatchDelete(keys []types.Comparable) error

	Clear() error
	Flush() error
	Stats() Stats
}
