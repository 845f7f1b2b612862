// Package hashindex is the equality-only index variant: O(1) point
// operations over a concurrent map, with ordered operations sorted on
// demand (spec §4.7).
package hashindex

import (
	"sort"
	"sync"

	derrors "github.com/kastellan/docengine/pkg/errors"
	"github.com/kastellan/docengine/pkg/index"
	"github.com/kastellan/docengine/pkg/types"
)

type entry struct {
	key   types.Comparable
	value int64
}

// Index is a hash-backed index. Point operations go through one
// RWMutex over a plain map; ordered operations snapshot and sort.
type Index struct {
	mu   sync.RWMutex
	data map[string]entry
}

// New creates an empty hash index.
func New() *Index {
	return &Index{data: make(map[string]entry)}
}

func requireKey(op string, key types.Comparable) error {
	if key == nil {
		return derrors.New(derrors.KindInvalidArgument, op, "key must not be null")
	}
	return nil
}

func keyOf(key types.Comparable) string {
	if s, ok := key.(interface{ String() string }); ok {
		return s.String()
	}
	return "?"
}

func (h *Index) Get(key types.Comparable) (int64, bool, error) {
	if err := requireKey("hashindex.Get", key); err != nil {
		return 0, false, err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.data[keyOf(key)]
	return e.value, ok, nil
}

func (h *Index) Put(key types.Comparable, value int64) error {
	if err := requireKey("hashindex.Put", key); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.data[keyOf(key)] = entry{key: key, value: value}
	return nil
}

func (h *Index) Delete(key types.Comparable) error {
	if err := requireKey("hashindex.Delete", key); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	k := keyOf(key)
	if _, ok := h.data[k]; !ok {
		return derrors.New(derrors.KindNotFound, "hashindex.Delete", "key not found")
	}
	delete(h.data, k)
	return nil
}

func (h *Index) ContainsKey(key types.Comparable) (bool, error) {
	if err := requireKey("hashindex.ContainsKey", key); err != nil {
		return false, err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.data[keyOf(key)]
	return ok, nil
}

// sortedSnapshot copies all entries and sorts them by key, bounding the
// critical section to the copy only.
func (h *Index) sortedSnapshot() []index.Pair {
	h.mu.RLock()
	out := make([]index.Pair, 0, len(h.data))
	for _, e := range h.data {
		out = append(out, index.Pair{Key: e.key, Value: e.value})
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key.Compare(out[j].Key) < 0 })
	return out
}

func (h *Index) GetAll() ([]index.Pair, error) { return h.sortedSnapshot(), nil }

func (h *Index) Range(start, end types.Comparable) ([]index.Pair, error) {
	if start != nil && end != nil && start.Compare(end) > 0 {
		return nil, derrors.New(derrors.KindInvalidArgument, "hashindex.Range", "start must not be greater than end")
	}
	all := h.sortedSnapshot()
	var out []index.Pair
	for _, p := range all {
		if start != nil && p.Key.Compare(start) < 0 {
			continue
		}
		if end != nil && p.Key.Compare(end) > 0 {
			break
		}
		out = append(out, p)
	}
	return out, nil
}

func (h *Index) Count() (int, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.data), nil
}

func (h *Index) MinKey() (types.Comparable, bool, error) {
	all := h.sortedSnapshot()
	if len(all) == 0 {
		return nil, false, nil
	}
	return all[0].Key, true, nil
}

func (h *Index) MaxKey() (types.Comparable, bool, error) {
	all := h.sortedSnapshot()
	if len(all) == 0 {
		return nil, false, nil
	}
	return all[len(all)-1].Key, true, nil
}

func (h *Index) FindGreaterThan(key types.Comparable, limit int) ([]index.Pair, error) {
	all := h.sortedSnapshot()
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

func (h *Index) FindLessThan(key types.Comparable, limit int) ([]index.Pair, error) {
	all := h.sortedSnapshot()
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

func (h *Index) BatchInsert(entries []index.Pair) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, e := range entries {
		if e.Key == nil {
			return derrors.New(derrors.KindInvalidArgument, "hashindex.BatchInsert", "key must not be null")
		}
		h.data[keyOf(e.Key)] = entry{key: e.Key, value: e.Value}
	}
	return nil
}

func (h *Index) BatchDelete(keys []types.Comparable) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, k := range keys {
		if k == nil {
			return derrors.New(derrors.KindInvalidArgument, "hashindex.BatchDelete", "key must not be null")
		}
		delete(h.data, keyOf(k))
	}
	return nil
}

func (h *Index) Clear() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.data = make(map[string]entry)
	return nil
}

func (h *Index) Flush() error { return nil }

func (h *Index) Stats() index.Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return index.Stats{Count: len(h.data)}
}

var _ index.Index = (*Index)(nil)
