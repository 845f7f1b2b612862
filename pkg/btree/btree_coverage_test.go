package btree

import (
	"fmt"
	"testing"

	"github.com/kastellan/docengine/pkg/types"
)

// pseudoRandomPermutation returns a deterministic shuffle of 0..n-1,
// generated without math/rand so the test needs no seeding and still
// exercises every insertion order a real random permutation would: a
// multiplicative-hash index permutation over a prime-sized table,
// folded down into [0,n).
func pseudoRandomPermutation(n int) []int {
	const prime = 104729 // a prime comfortably larger than any n used below
	perm := make([]int, 0, n)
	for i := 0; i < prime; i++ {
		v := (i * 48271) % prime
		if v < n {
			perm = append(perm, v)
		}
	}
	return perm
}

// TestBTreeStressInsertDeleteOddKeys is the spec's stress scenario: load
// a pseudo-random permutation of 1..10000 into a degree-5 tree, confirm
// an ordered full scan is sorted and complete, delete every odd key,
// then confirm the survivor count and readability.
func TestBTreeStressInsertDeleteOddKeys(t *testing.T) {
	const n = 10000
	tree := NewUniqueTree(5)

	for _, k := range pseudoRandomPermutation(n) {
		if err := tree.Insert(types.IntKey(k+1), int64(k+1)); err != nil {
			t.Fatalf("Insert(%d): %v", k+1, err)
		}
	}

	if c := tree.Count(); c != n {
		t.Fatalf("Count = %d, want %d", c, n)
	}

	leaf, pos := tree.FindLeafLowerBound(nil)
	prev := 0
	scanned := 0
	for leaf != nil {
		for j := pos; j < leaf.count; j++ {
			k := int(leaf.keys[j].(types.IntKey))
			if k <= prev {
				leaf.RUnlock()
				t.Fatalf("get_all out of order: %d after %d", k, prev)
			}
			prev = k
			scanned++
		}
		next := leaf.next
		next.RLock()
		leaf.RUnlock()
		leaf = next
		pos = 0
	}
	if scanned != n {
		t.Fatalf("full scan visited %d keys, want %d", scanned, n)
	}

	for k := 1; k <= n; k += 2 {
		if !tree.Delete(types.IntKey(k)) {
			t.Fatalf("Delete(%d) = false, want true", k)
		}
	}

	if c := tree.Count(); c != n/2 {
		t.Fatalf("Count after deleting odds = %d, want %d", c, n/2)
	}
	for k := 2; k <= n; k += 2 {
		if v, ok := tree.Get(types.IntKey(k)); !ok || v != int64(k) {
			t.Fatalf("Get(%d) = (%d, %v), want (%d, true)", k, v, ok, k)
		}
	}
	for k := 1; k <= n; k += 2 {
		if _, ok := tree.Get(types.IntKey(k)); ok {
			t.Fatalf("Get(%d) still present after delete", k)
		}
	}
}

func TestBTreeHandlesEveryComparableKeyType(t *testing.T) {
	// Keys are homogeneous within one index (Compare panics on a
	// mismatched key type), so each key type gets a tree of its own.
	trees := map[string]*BPlusTree{}
	entries := []struct {
		key   types.Comparable
		value int64
	}{
		{types.VarcharKey("alice"), 1},
		{types.VarcharKey("bob"), 2},
		{types.BoolKey(true), 3},
		{types.BoolKey(false), 4},
		{types.FloatKey(3.14), 5},
	}
	for _, e := range entries {
		kind := fmt.Sprintf("%T", e.key)
		if trees[kind] == nil {
			trees[kind] = NewUniqueTree(3)
		}
		if err := trees[kind].Insert(e.key, e.value); err != nil {
			t.Fatalf("Insert(%v): %v", e.key, err)
		}
	}
	for _, e := range entries {
		v, ok := trees[fmt.Sprintf("%T", e.key)].Get(e.key)
		if !ok || v != e.value {
			t.Fatalf("Get(%v) = (%d, %v), want (%d, true)", e.key, v, ok, e.value)
		}
	}
}

// TestBTreeInsertDescendingOrderStillBalances inserts keys in strictly
// descending order — the access pattern most likely to skew an
// unbalanced tree structure — and confirms every key is still present
// and the tree still reports the right key count afterward.
func TestBTreeInsertDescendingOrderStillBalances(t *testing.T) {
	tree := NewUniqueTree(3)
	const n = 500
	for i := n; i >= 1; i-- {
		if err := tree.Insert(types.IntKey(i), int64(i)); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	if c := tree.Count(); c != n {
		t.Fatalf("Count = %d, want %d", c, n)
	}
	for i := 1; i <= n; i++ {
		if v, ok := tree.Get(types.IntKey(i)); !ok || v != int64(i) {
			t.Fatalf("Get(%d) = (%d, %v), want (%d, true)", i, v, ok, i)
		}
	}
}

// TestBTreeDeleteThenReinsert confirms a key removed by Delete can be
// inserted again afterward with a fresh value — the leaf slot left
// behind by remove() must not linger as a phantom entry.
func TestBTreeDeleteThenReinsert(t *testing.T) {
	tree := NewUniqueTree(3)
	for i := 0; i < 30; i++ {
		if err := tree.Insert(types.IntKey(i), int64(i)); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	for i := 0; i < 30; i += 3 {
		if !tree.Delete(types.IntKey(i)) {
			t.Fatalf("Delete(%d) = false, want true", i)
		}
	}
	for i := 0; i < 30; i += 3 {
		if err := tree.Insert(types.IntKey(i), int64(i*100)); err != nil {
			t.Fatalf("reinsert(%d): %v", i, err)
		}
	}
	for i := 0; i < 30; i++ {
		want := int64(i)
		if i%3 == 0 {
			want = int64(i * 100)
		}
		if v, ok := tree.Get(types.IntKey(i)); !ok || v != want {
			t.Fatalf("Get(%d) = (%d, %v), want (%d, true)", i, v, ok, want)
		}
	}
	if c := tree.Count(); c != 30 {
		t.Fatalf("Count = %d, want 30", c)
	}
}

// TestBTreeDeleteAllThenRebuild confirms a tree drained to zero keys
// (shrinking the root back to a leaf, see BPlusTree.Delete) accepts
// fresh inserts afterward just like a brand-new tree.
func TestBTreeDeleteAllThenRebuild(t *testing.T) {
	tree := NewUniqueTree(2)
	const n = 80
	for i := 0; i < n; i++ {
		if err := tree.Insert(types.IntKey(i), int64(i)); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	for i := 0; i < n; i++ {
		tree.Delete(types.IntKey(i))
	}
	if c := tree.Count(); c != 0 {
		t.Fatalf("Count = %d, want 0", c)
	}

	if err := tree.Insert(types.IntKey(1000), 1000); err != nil {
		t.Fatalf("Insert after drain: %v", err)
	}
	if v, ok := tree.Get(types.IntKey(1000)); !ok || v != 1000 {
		t.Fatalf("Get(1000) = (%d, %v), want (1000, true)", v, ok)
	}
	if c := tree.Count(); c != 1 {
		t.Fatalf("Count = %d, want 1", c)
	}
}
