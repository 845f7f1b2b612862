// Package btree is the ordered, primary index variant (spec §4.7): a
// latch-crabbed B-tree of degree t (spec §3's "B-tree Node": is_leaf,
// keys, values, children) with preventive splitting on insert and
// borrow-or-merge rebalancing on delete.
package btree

import (
	"sort"
	"sync"

	"github.com/kastellan/docengine/pkg/types"
)

// BPlusTree is the concurrent B-tree. Structural changes to Root happen
// under mu; individual node mutations happen under each node's own
// latch, so a reader already past the root never blocks a writer
// splitting a sibling subtree.
type BPlusTree struct {
	Degree int
	Root   *node
	Unique bool // rejects duplicate keys when true

	mu sync.RWMutex
}

// NewTree creates a non-unique B-tree: inserting a key that is already
// present replaces its stored value instead of failing.
func NewTree(degree int) *BPlusTree {
	return &BPlusTree{Degree: degree, Root: newNode(degree, true)}
}

// NewUniqueTree creates a B-tree that rejects duplicate keys, the shape
// a primary or unique secondary index needs.
func NewUniqueTree(degree int) *BPlusTree {
	return &BPlusTree{Degree: degree, Root: newNode(degree, true), Unique: true}
}

// Insert adds key with dataPtr, failing with a duplicate-key error on a
// unique tree if key is already present.
func (b *BPlusTree) Insert(key types.Comparable, dataPtr int64) error {
	return b.Upsert(key, func(_ int64, exists bool) (int64, error) {
		if exists && b.Unique {
			return 0, duplicateKeyErr(key)
		}
		return dataPtr, nil
	})
}

// Replace sets key's value unconditionally, inserting it if absent. Used
// for MVCC-style "put the latest value" index maintenance where a
// duplicate is simply an update, never an error.
func (b *BPlusTree) Replace(key types.Comparable, dataPtr int64) error {
	return b.Upsert(key, func(_ int64, _ bool) (int64, error) {
		return dataPtr, nil
	})
}

// Upsert runs fn against key's current value (if any) while holding the
// destination leaf's latch, so the read-modify-write is atomic with
// respect to any other insert/delete on that leaf.
func (b *BPlusTree) Upsert(key types.Comparable, fn func(oldValue int64, exists bool) (newValue int64, err error)) error {
	b.mu.Lock()
	root := b.Root
	root.Lock()

	if root.full() {
		// Grow the tree by one level before descending, so the new root
		// is guaranteed non-full and upsertTopDown never needs to handle
		// splitting the root itself.
		grown := newNode(b.Degree, false)
		grown.children = append(grown.children, root)
		grown.splitChild(0)
		b.Root = grown
		b.mu.Unlock()

		grown.Lock()
		root.Unlock()
		return b.upsertTopDown(grown, key, fn)
	}

	b.mu.Unlock()
	return b.upsertTopDown(root, key, fn)
}

// upsertTopDown performs latch crabbing: curr arrives already locked by
// the caller, and at each level the lock on the parent is released only
// after the child below it is locked and (if necessary) split — a
// thread can never observe a node without holding some lock on its
// ancestor chain down to the root.
func (b *BPlusTree) upsertTopDown(curr *node, key types.Comparable, fn func(oldValue int64, exists bool) (int64, error)) error {
	defer func() { curr.Unlock() }()

	for !curr.leaf {
		i := curr.locate(key)
		// locate finds the first key >= target; the B+ tree separator
		// rule routes an exact match to the child on its right.
		if i < curr.count && curr.keys[i].Compare(key) == 0 {
			i++
		} else if i > 0 && key.Compare(curr.keys[i-1]) < 0 {
			i--
		}
		for i > 0 && key.Compare(curr.keys[i-1]) < 0 {
			i--
		}

		child := curr.children[i]
		child.Lock()

		if child.full() {
			curr.splitChild(i)
			if key.Compare(curr.keys[i]) >= 0 {
				child.Unlock()
				child = curr.children[i+1]
				child.Lock()
			}
		}

		curr.Unlock()
		curr = child
	}

	// curr is a leaf and, thanks to preventive splitting above, never
	// full, so the insert/update below never needs to split it itself.
	return curr.upsertNonFull(key, fn)
}

// Get returns the value stored for key, if any, coupling read latches
// down the tree (hold the child's RLock before releasing the parent's).
func (b *BPlusTree) Get(key types.Comparable) (int64, bool) {
	if b == nil {
		return 0, false
	}

	b.mu.RLock()
	curr := b.Root
	if curr == nil {
		b.mu.RUnlock()
		return 0, false
	}
	curr.RLock()
	b.mu.RUnlock()

	for !curr.leaf {
		i := 0
		for i < curr.count && key.Compare(curr.keys[i]) >= 0 {
			i++
		}
		child := curr.children[i]
		child.RLock()
		curr.RUnlock()
		curr = child
	}
	defer curr.RUnlock()

	for j := 0; j < curr.count; j++ {
		if key.Compare(curr.keys[j]) == 0 {
			return curr.values[j], true
		}
	}
	return 0, false
}

// FindLeafLowerBound descends to the leaf that would hold key (or the
// first leaf, when key is nil) and returns it read-locked along with the
// in-leaf index of the first entry >= key. The caller owns the returned
// node's RLock and must release it (directly, or by following .next and
// releasing as it goes, as the ordered scans in capability.go do).
func (b *BPlusTree) FindLeafLowerBound(key types.Comparable) (*node, int) {
	b.mu.RLock()
	curr := b.Root
	curr.RLock()
	b.mu.RUnlock()

	for !curr.leaf {
		i := lowerBoundIndex(curr, key)
		child := curr.children[i]
		child.RLock()
		curr.RUnlock()
		curr = child
	}
	return curr, lowerBoundIndex(curr, key)
}

func lowerBoundIndex(n *node, key types.Comparable) int {
	if key == nil {
		return 0
	}
	return sort.Search(n.count, func(i int) bool {
		return n.keys[i].Compare(key) >= 0
	})
}

// Delete removes key, rebalancing top-down through the node package's
// fill/borrow/merge helpers (each minimal child is refilled before the
// descent enters it), and reports whether key was present.
func (b *BPlusTree) Delete(key types.Comparable) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	found := b.Root.remove(key)

	// A root that became an empty internal node with one surviving
	// child shrinks the tree by one level.
	if !b.Root.leaf && b.Root.count == 0 && len(b.Root.children) == 1 {
		b.Root = b.Root.children[0]
	}
	return found
}

// Count returns the number of keys currently stored, summed across
// leaves (a B+ tree keeps every key in a leaf; internal keys are only
// routing separators, not payload).
func (b *BPlusTree) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return leafKeyTotal(b.Root)
}

func leafKeyTotal(n *node) int {
	if n == nil {
		return 0
	}
	if n.leaf {
		return n.count
	}
	total := 0
	for _, c := range n.children {
		total += leafKeyTotal(c)
	}
	return total
}
