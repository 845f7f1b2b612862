// Package skiplist is the ordered, probabilistic index variant: a classic
// multi-level linked structure with max level 32 and promotion probability
// 0.5, guarded by a single reader-writer lock (spec §4.7).
package skiplist

import (
	"math/rand"
	"sync"

	derrors "github.com/kastellan/docengine/pkg/errors"
	"github.com/kastellan/docengine/pkg/index"
	"github.com/kastellan/docengine/pkg/types"
)

const (
	maxLevel    = 32
	probability = 0.5
)

type node struct {
	key     types.Comparable
	value   int64
	forward []*node
}

// SkipList is a probabilistic ordered index.
type SkipList struct {
	mu     sync.RWMutex
	head   *node
	level  int
	count  int
	rand   *rand.Rand
}

// New creates an empty skip list.
func New() *SkipList {
	return &SkipList{
		head:  &node{forward: make([]*node, maxLevel)},
		level: 1,
		rand:  rand.New(rand.NewSource(0x5eed)),
	}
}

func (s *SkipList) randomLevel() int {
	lvl := 1
	for lvl < maxLevel && s.rand.Float64() < probability {
		lvl++
	}
	return lvl
}

// findPredecessors returns, for each level, the last node whose key is
// strictly less than key.
func (s *SkipList) findPredecessors(key types.Comparable) []*node {
	update := make([]*node, maxLevel)
	curr := s.head
	for i := s.level - 1; i >= 0; i-- {
		for curr.forward[i] != nil && curr.forward[i].key.Compare(key) < 0 {
			curr = curr.forward[i]
		}
		update[i] = curr
	}
	return update
}

func requireKey(op string, key types.Comparable) error {
	if key == nil {
		return derrors.New(derrors.KindInvalidArgument, op, "key must not be null")
	}
	return nil
}

func (s *SkipList) Get(key types.Comparable) (int64, bool, error) {
	if err := requireKey("skiplist.Get", key); err != nil {
		return 0, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	update := s.findPredecessors(key)
	cand := update[0].forward[0]
	if cand != nil && cand.key.Compare(key) == 0 {
		return cand.value, true, nil
	}
	return 0, false, nil
}

func (s *SkipList) Put(key types.Comparable, value int64) error {
	if err := requireKey("skiplist.Put", key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	update := s.findPredecessors(key)
	cand := update[0].forward[0]
	if cand != nil && cand.key.Compare(key) == 0 {
		cand.value = value
		return nil
	}

	lvl := s.randomLevel()
	if lvl > s.level {
		for i := s.level; i < lvl; i++ {
			update[i] = s.head
		}
		s.level = lvl
	}

	n := &node{key: key, value: value, forward: make([]*node, lvl)}
	for i := 0; i < lvl; i++ {
		n.forward[i] = update[i].forward[i]
		update[i].forward[i] = n
	}
	s.count++
	return nil
}

func (s *SkipList) Delete(key types.Comparable) error {
	if err := requireKey("skiplist.Delete", key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	update := s.findPredecessors(key)
	cand := update[0].forward[0]
	if cand == nil || cand.key.Compare(key) != 0 {
		return derrors.New(derrors.KindNotFound, "skiplist.Delete", "key not found")
	}

	for i := 0; i < s.level; i++ {
		if update[i].forward[i] != cand {
			continue
		}
		update[i].forward[i] = cand.forward[i]
	}
	for s.level > 1 && s.head.forward[s.level-1] == nil {
		s.level--
	}
	s.count--
	return nil
}

func (s *SkipList) ContainsKey(key types.Comparable) (bool, error) {
	_, ok, err := s.Get(key)
	return ok, err
}

func (s *SkipList) snapshot(start, end types.Comparable) []index.Pair {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []index.Pair
	curr := s.head.forward[0]
	if start != nil {
		update := s.findPredecessors(start)
		curr = update[0].forward[0]
	}
	for curr != nil {
		if end != nil && curr.key.Compare(end) > 0 {
			break
		}
		out = append(out, index.Pair{Key: curr.key, Value: curr.value})
		curr = curr.forward[0]
	}
	return out
}

func (s *SkipList) GetAll() ([]index.Pair, error) { return s.snapshot(nil, nil), nil }

func (s *SkipList) Range(start, end types.Comparable) ([]index.Pair, error) {
	if start != nil && end != nil && start.Compare(end) > 0 {
		return nil, derrors.New(derrors.KindInvalidArgument, "skiplist.Range", "start must not be greater than end")
	}
	return s.snapshot(start, end), nil
}

func (s *SkipList) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count, nil
}

func (s *SkipList) MinKey() (types.Comparable, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.head.forward[0] == nil {
		return nil, false, nil
	}
	return s.head.forward[0].key, true, nil
}

func (s *SkipList) MaxKey() (types.Comparable, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	curr := s.head
	for i := s.level - 1; i >= 0; i-- {
		for curr.forward[i] != nil {
			curr = curr.forward[i]
		}
	}
	if curr == s.head {
		return nil, false, nil
	}
	return curr.key, true, nil
}

func (s *SkipList) FindGreaterThan(key types.Comparable, limit int) ([]index.Pair, error) {
	all := s.snapshot(nil, nil)
	var out []index.Pair
	for _, p := range all {
		if key != nil && p.Key.Compare(key) <= 0 {
			continue
		}
		out = append(out, p)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *SkipList) FindLessThan(key types.Comparable, limit int) ([]index.Pair, error) {
	all := s.snapshot(nil, nil)
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

func (s *SkipList) BatchInsert(entries []index.Pair) error {
	for _, e := range entries {
		if err := s.Put(e.Key, e.Value); err != nil {
			return err
		}
	}
	return nil
}

func (s *SkipList) BatchDelete(keys []types.Comparable) error {
	for _, k := range keys {
		if err := s.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func (s *SkipList) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.head = &node{forward: make([]*node, maxLevel)}
	s.level = 1
	s.count = 0
	return nil
}

func (s *SkipList) Flush() error { return nil }

func (s *SkipList) Stats() index.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return index.Stats{Count: s.count}
}

var _ index.Index = (*SkipList)(nil)
