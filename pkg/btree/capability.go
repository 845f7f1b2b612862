package btree

import (
	"sync"

	derrors "github.com/kastellan/docengine/pkg/errors"
	"github.com/kastellan/docengine/pkg/index"
	"github.com/kastellan/docengine/pkg/types"
)

// DefaultDegree is the B-tree degree (t) used when a collection does not
// specify one.
const DefaultDegree = 64

// Index adapts a BPlusTree to the index.Index capability set. Structural
// mutations (Put/Delete/Clear/batch ops) are serialized behind a single
// mutex per spec §4.7; reads ride the tree's own latch-crabbed
// concurrency.
type Index struct {
	mu   sync.Mutex
	tree *BPlusTree
}

// NewIndex creates a B-tree-backed index of the given degree. unique
// enforces no duplicate keys.
func NewIndex(degree int, unique bool) *Index {
	if degree <= 0 {
		degree = DefaultDegree
	}
	var tree *BPlusTree
	if unique {
		tree = NewUniqueTree(degree)
	} else {
		tree = NewTree(degree)
	}
	return &Index{tree: tree}
}

func requireKey(op string, key types.Comparable) error {
	if key == nil {
		return derrors.New(derrors.KindInvalidArgument, op, "key must not be null")
	}
	return nil
}

func (idx *Index) Get(key types.Comparable) (int64, bool, error) {
	if err := requireKey("btree.Get", key); err != nil {
		return 0, false, err
	}
	v, ok := idx.tree.Get(key)
	return v, ok, nil
}

func (idx *Index) Put(key types.Comparable, value int64) error {
	if err := requireKey("btree.Put", key); err != nil {
		return err
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.tree.Replace(key, value)
}

func (idx *Index) Delete(key types.Comparable) error {
	if err := requireKey("btree.Delete", key); err != nil {
		return err
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if !idx.tree.Delete(key) {
		return derrors.New(derrors.KindNotFound, "btree.Delete", "key not found")
	}
	return nil
}

func (idx *Index) ContainsKey(key types.Comparable) (bool, error) {
	if err := requireKey("btree.ContainsKey", key); err != nil {
		return false, err
	}
	_, ok := idx.tree.Get(key)
	return ok, nil
}

// scanAll snapshots every leaf entry in key order under the tree's own
// read-latch coupling, released before returning.
func (idx *Index) scanAll() []index.Pair {
	var out []index.Pair
	leaf, pos := idx.tree.FindLeafLowerBound(nil)
	for leaf != nil {
		for j := pos; j < leaf.count; j++ {
			out = append(out, index.Pair{Key: leaf.keys[j], Value: leaf.values[j]})
		}
		next := leaf.next
		next.RLock()
		leaf.RUnlock()
		leaf = next
		pos = 0
	}
	return out
}

func (idx *Index) GetAll() ([]index.Pair, error) {
	return idx.scanAll(), nil
}

func (idx *Index) Range(start, end types.Comparable) ([]index.Pair, error) {
	if start != nil && end != nil && start.Compare(end) > 0 {
		return nil, derrors.New(derrors.KindInvalidArgument, "btree.Range", "start must not be greater than end")
	}

	var out []index.Pair
	leaf, pos := idx.tree.FindLeafLowerBound(start)
	for leaf != nil {
		for j := pos; j < leaf.count; j++ {
			k := leaf.keys[j]
			if end != nil && k.Compare(end) > 0 {
				leaf.RUnlock()
				return out, nil
			}
			out = append(out, index.Pair{Key: k, Value: leaf.values[j]})
		}
		next := leaf.next
		next.RLock()
		leaf.RUnlock()
		leaf = next
		pos = 0
	}
	return out, nil
}

func (idx *Index) Count() (int, error) { return idx.tree.Count(), nil }

func (idx *Index) MinKey() (types.Comparable, bool, error) {
	leaf, pos := idx.tree.FindLeafLowerBound(nil)
	defer func() {
		if leaf != nil {
			leaf.RUnlock()
		}
	}()
	if leaf == nil || pos >= leaf.count {
		return nil, false, nil
	}
	return leaf.keys[pos], true, nil
}

func (idx *Index) MaxKey() (types.Comparable, bool, error) {
	all := idx.scanAll()
	if len(all) == 0 {
		return nil, false, nil
	}
	return all[len(all)-1].Key, true, nil
}

func (idx *Index) FindGreaterThan(key types.Comparable, limit int) ([]index.Pair, error) {
	var out []index.Pair
	leaf, pos := idx.tree.FindLeafLowerBound(key)
	for leaf != nil {
		for j := pos; j < leaf.count; j++ {
			k := leaf.keys[j]
			if key != nil && k.Compare(key) <= 0 {
				continue
			}
			out = append(out, index.Pair{Key: k, Value: leaf.values[j]})
			if limit > 0 && len(out) >= limit {
				leaf.RUnlock()
				return out, nil
			}
		}
		next := leaf.next
		next.RLock()
		leaf.RUnlock()
		leaf = next
		pos = 0
	}
	return out, nil
}

func (idx *Index) FindLessThan(key types.Comparable, limit int) ([]index.Pair, error) {
	all := idx.scanAll()
	var out []index.Pair
	for _, p := range all {
		if key != nil && p.Key.Compare(key) >= 0 {
			break
		}
		out = append(out, p)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (idx *Index) BatchInsert(entries []index.Pair) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, e := range entries {
		if err := requireKey("btree.BatchInsert", e.Key); err != nil {
			return err
		}
		if err := idx.tree.Replace(e.Key, e.Value); err != nil {
			return err
		}
	}
	return nil
}

func (idx *Index) BatchDelete(keys []types.Comparable) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, k := range keys {
		if err := requireKey("btree.BatchDelete", k); err != nil {
			return err
		}
		idx.tree.Delete(k)
	}
	return nil
}

func (idx *Index) Clear() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.tree = &BPlusTree{Degree: idx.tree.Degree, Root: newNode(idx.tree.Degree, true), Unique: idx.tree.Unique}
	return nil
}

func (idx *Index) Flush() error { return nil }

func (idx *Index) Stats() index.Stats {
	return index.Stats{Count: idx.tree.Count()}
}

var _ index.Index = (*Index)(nil)
