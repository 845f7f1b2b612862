package btree

import (
	"fmt"
	"sort"
	"sync"

	"github.com/kastellan/docengine/pkg/errors"
	"github.com/kastellan/docengine/pkg/types"
)

// node is one B-tree node (spec §3 "B-tree Node"): is_leaf, keys, values
// (leaves only), children (internal nodes only). degree is the tree's
// minimum degree t: a node is full at 2t-1 keys (see full) and a non-root
// node holds at least t-1 keys (see belowMinimum). Nodes are not capped
// at t-1 keys; they hold up to 2t-1. An internal node holds exactly
// len(keys)+1 children. Each node carries its
// own latch so concurrent readers/writers can crab down the tree instead
// of serializing on one tree-wide lock.
type node struct {
	degree   int
	keys     []types.Comparable
	values   []int64 // leaf payload: data-pointer per key, parallel to keys
	children []*node // internal-node payload: len(children) == len(keys)+1
	leaf     bool
	count    int // number of keys currently held
	next     *node // leaf-to-leaf forward link for ordered scans

	mu sync.RWMutex
}

func newNode(degree int, leaf bool) *node {
	return &node{
		degree:   degree,
		leaf:     leaf,
		keys:     make([]types.Comparable, 0, 2*degree-1),
		values:   make([]int64, 0, 2*degree-1),
		children: make([]*node, 0, 2*degree),
	}
}

// lock/unlock pairs are nil-safe: an ordered scan that follows next past
// the last leaf calls them on a nil node, where a nil receiver is just a
// no-op rather than a special case at every call site.

func (n *node) Lock() {
	if n != nil {
		n.mu.Lock()
	}
}

func (n *node) Unlock() {
	if n != nil {
		n.mu.Unlock()
	}
}

func (n *node) RLock() {
	if n != nil {
		n.mu.RLock()
	}
}

func (n *node) RUnlock() {
	if n != nil {
		n.mu.RUnlock()
	}
}

// full reports whether n already holds the maximum 2t-1 keys, the
// trigger for the preventive split the insert path performs one level
// above before ever descending into a full child.
func (n *node) full() bool {
	return n.count == 2*n.degree-1
}

// belowMinimum reports whether n holds fewer than the t-1 keys a
// non-root node retains; remove() keeps every non-root node at or above
// it by filling a child that holds only t-1 keys before recursing into it.
func (n *node) belowMinimum() bool {
	return n.count < n.degree-1
}

// locate returns the index of the first key >= target, the B+ tree
// separator rule: keys in children[i] are < key_i, keys in children[i+1]
// are >= key_i, so descending on "first key >= target" always lands in
// the subtree that could contain target.
func (n *node) locate(target types.Comparable) int {
	return sort.Search(n.count, func(i int) bool {
		return n.keys[i].Compare(target) >= 0
	})
}

// upsertNonFull inserts or updates key in the subtree rooted at n, which
// the caller guarantees is not full (preventive splitting happens before
// descent, see BPlusTree.upsertTopDown). fn receives the existing value
// and whether key was present, and returns the value to store; Insert,
// Replace and Upsert are all expressed through this one leaf mutation.
func (n *node) upsertNonFull(key types.Comparable, fn func(oldValue int64, exists bool) (int64, error)) error {
	if n.leaf {
		idx := n.locate(key)
		exists := idx < n.count && n.keys[idx].Compare(key) == 0

		if exists {
			newValue, err := fn(n.values[idx], true)
			if err != nil {
				return err
			}
			n.values[idx] = newValue
			return nil
		}

		newValue, err := fn(0, false)
		if err != nil {
			return err
		}

		n.keys = append(n.keys, nil)
		n.values = append(n.values, 0)
		copy(n.keys[idx+1:], n.keys[idx:])
		copy(n.values[idx+1:], n.values[idx:])
		n.keys[idx] = key
		n.values[idx] = newValue
		n.count++
		return nil
	}

	// Internal node: walk to the child that would hold key. upsertTopDown
	// already splits full children before descending, so this branch only
	// runs when a caller reaches an internal node without that protocol
	// (kept for a future recursive caller); mirror the same preventive
	// split here for safety.
	i := n.count
	for i > 0 && key.Compare(n.keys[i-1]) < 0 {
		i--
	}
	if n.children[i].full() {
		n.splitChild(i)
		if key.Compare(n.keys[i]) >= 0 {
			i++
		}
	}
	return n.children[i].upsertNonFull(key, fn)
}

// splitChild splits the full child at index i into two siblings, pushing
// a separator key up into n. Leaves keep a copy of the middle key on the
// right half (the B+ tree property: leaf data is never duplicated in an
// internal node, but the separator must still route to it) and stay
// linked via next; internal nodes instead move the middle key up and out
// of the child entirely.
func (n *node) splitChild(i int) {
	degree := n.degree
	left := n.children[i]
	right := newNode(degree, left.leaf)

	mid := degree - 1
	var separator types.Comparable

	if left.leaf {
		right.count = left.count - mid
		right.keys = append(right.keys, left.keys[mid:]...)
		right.values = append(right.values, left.values[mid:]...)

		left.keys = left.keys[:mid]
		left.values = left.values[:mid]
		left.count = mid

		right.next = left.next
		left.next = right
		separator = right.keys[0]
	} else {
		right.count = degree - 1
		right.keys = append(right.keys, left.keys[mid+1:]...)
		right.children = append(right.children, left.children[mid+1:]...)

		separator = left.keys[mid]

		left.keys = left.keys[:mid]
		left.children = left.children[:mid+1]
		left.count = mid
	}

	n.keys = append(n.keys, nil)
	copy(n.keys[i+1:], n.keys[i:])
	n.keys[i] = separator

	n.children = append(n.children, nil)
	copy(n.children[i+2:], n.children[i+1:])
	n.children[i+1] = right
	n.count++
}

// remove deletes key from the subtree rooted at n, rebalancing on the
// way down per spec §4.7: before recursing into a minimal child, borrow
// a key from a non-minimal sibling or merge with one, so the child is
// always safe to recurse into.
func (n *node) remove(key types.Comparable) bool {
	idx := n.locate(key)

	if n.leaf {
		if idx < n.count && n.keys[idx].Compare(key) == 0 {
			n.keys = append(n.keys[:idx], n.keys[idx+1:]...)
			n.values = append(n.values[:idx], n.values[idx+1:]...)
			n.count--
			return true
		}
		return false
	}

	// Internal nodes only route in a B+ tree: a key equal to a separator
	// still lives in the leaf to its right, never in the internal node
	// itself, so childIdx nudges past an exact separator match.
	childIdx := idx
	if idx < n.count && n.keys[idx].Compare(key) == 0 {
		childIdx++
	}

	if n.children[childIdx].count <= n.degree-1 {
		n.fill(childIdx)
	}
	return n.descendAndRemove(key)
}

// descendAndRemove re-locates the target child after fill() may have
// shifted separators out from under the original index, removes from it,
// and refreshes this node's separators to match the leftmost surviving
// key of each right subtree.
func (n *node) descendAndRemove(key types.Comparable) bool {
	idx := n.locate(key)

	childIdx := idx
	if idx < n.count && n.keys[idx].Compare(key) == 0 {
		childIdx++
	}
	if childIdx > n.count {
		childIdx = n.count
	}

	removed := n.children[childIdx].remove(key)
	if removed {
		n.resyncSeparators()
	}
	return removed
}

// resyncSeparators restores the B+ tree invariant that separator i equals
// the smallest key reachable under children[i+1], which a leaf-level
// delete can otherwise leave stale.
func (n *node) resyncSeparators() {
	if n.leaf {
		return
	}
	for i := 0; i < n.count; i++ {
		leftmost := n.children[i+1]
		for !leftmost.leaf {
			leftmost = leftmost.children[0]
		}
		if leftmost.count > 0 {
			n.keys[i] = leftmost.keys[0]
		}
	}
}

// fill raises children[i] above the minimum key count by borrowing from
// a sibling holding more than t-1 keys, preferring the left sibling,
// else merging with whichever neighbor exists.
func (n *node) fill(i int) {
	switch {
	case i != 0 && n.children[i-1].count > n.degree-1:
		n.borrowFromLeft(i)
	case i != n.count && n.children[i+1].count > n.degree-1:
		n.borrowFromRight(i)
	case i != n.count:
		n.mergeChildren(i)
	default:
		n.mergeChildren(i - 1)
	}
}

func (n *node) borrowFromLeft(i int) {
	child := n.children[i]
	sibling := n.children[i-1]

	if child.leaf {
		child.keys = append([]types.Comparable{sibling.keys[sibling.count-1]}, child.keys...)
		child.values = append([]int64{sibling.values[sibling.count-1]}, child.values...)
		child.count++

		sibling.keys = sibling.keys[:sibling.count-1]
		sibling.values = sibling.values[:sibling.count-1]
		sibling.count--

		n.keys[i-1] = child.keys[0]
		return
	}

	child.keys = append([]types.Comparable{n.keys[i-1]}, child.keys...)
	child.children = append([]*node{sibling.children[sibling.count]}, child.children...)
	child.count++

	n.keys[i-1] = sibling.keys[sibling.count-1]
	sibling.keys = sibling.keys[:sibling.count-1]
	sibling.children = sibling.children[:sibling.count]
	sibling.count--
}

func (n *node) borrowFromRight(i int) {
	child := n.children[i]
	sibling := n.children[i+1]

	if child.leaf {
		child.keys = append(child.keys, sibling.keys[0])
		child.values = append(child.values, sibling.values[0])
		child.count++

		sibling.keys = append([]types.Comparable{}, sibling.keys[1:]...)
		sibling.values = append([]int64{}, sibling.values[1:]...)
		sibling.count--

		n.keys[i] = sibling.keys[0]
		return
	}

	child.keys = append(child.keys, n.keys[i])
	child.children = append(child.children, sibling.children[0])
	child.count++

	n.keys[i] = sibling.keys[0]
	sibling.keys = append([]types.Comparable{}, sibling.keys[1:]...)
	sibling.children = append([]*node{}, sibling.children[1:]...)
	sibling.count--
}

// mergeChildren folds children[i+1] into children[i], dropping the
// separator key between them (for an internal merge, the separator comes
// down into the combined node; for a leaf merge there was never a
// separator copy to reclaim).
func (n *node) mergeChildren(i int) {
	left := n.children[i]
	right := n.children[i+1]

	if left.leaf {
		left.keys = append(left.keys, right.keys...)
		left.values = append(left.values, right.values...)
		left.next = right.next
	} else {
		left.keys = append(left.keys, n.keys[i])
		left.keys = append(left.keys, right.keys...)
		left.children = append(left.children, right.children...)
	}
	left.count = len(left.keys)

	n.keys = append(n.keys[:i], n.keys[i+1:]...)
	n.children = append(n.children[:i+1], n.children[i+2:]...)
	n.count--
}

// duplicateKeyErr builds the error Insert returns when a unique index
// already holds key.
func duplicateKeyErr(key types.Comparable) error {
	return &errors.DuplicateKeyError{Key: fmt.Sprintf("%v", key)}
}
