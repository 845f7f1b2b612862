package btree

import (
	"testing"

	"github.com/kastellan/docengine/pkg/types"
)

func TestIndexCapabilitySet(t *testing.T) {
	idx := NewIndex(4, true)

	for i := 1; i <= 20; i++ {
		if err := idx.Put(types.IntKey(i), int64(i*10)); err != nil {
			t.Fatalf("Put(%d): %v", i, err)
		}
	}

	if c, _ := idx.Count(); c != 20 {
		t.Fatalf("Count = %d, want 20", c)
	}

	v, ok, err := idx.Get(types.IntKey(5))
	if err != nil || !ok || v != 50 {
		t.Fatalf("Get(5) = %d, %v, %v", v, ok, err)
	}

	if err := idx.Delete(types.IntKey(5)); err != nil {
		t.Fatalf("Delete(5): %v", err)
	}
	if _, ok, _ := idx.Get(types.IntKey(5)); ok {
		t.Fatal("expected key 5 deleted")
	}

	pairs, err := idx.Range(types.IntKey(10), types.IntKey(15))
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if len(pairs) != 6 {
		t.Fatalf("Range(10,15) returned %d pairs, want 6", len(pairs))
	}
	for i, p := range pairs {
		want := types.IntKey(10 + i)
		if p.Key.Compare(want) != 0 {
			t.Fatalf("pairs[%d].Key = %v, want %v", i, p.Key, want)
		}
	}

	minK, ok, _ := idx.MinKey()
	if !ok || minK.Compare(types.IntKey(1)) != 0 {
		t.Fatalf("MinKey = %v", minK)
	}
	maxK, ok, _ := idx.MaxKey()
	if !ok || maxK.Compare(types.IntKey(20)) != 0 {
		t.Fatalf("MaxKey = %v", maxK)
	}

	gt, _ := idx.FindGreaterThan(types.IntKey(18), 0)
	if len(gt) != 2 {
		t.Fatalf("FindGreaterThan(18) = %d entries, want 2", len(gt))
	}

	lt, _ := idx.FindLessThan(types.IntKey(3), 0)
	if len(lt) != 2 {
		t.Fatalf("FindLessThan(3) = %d entries, want 2", len(lt))
	}

	if err := idx.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if c, _ := idx.Count(); c != 0 {
		t.Fatalf("Count after Clear = %d, want 0", c)
	}
}

func TestIndexRejectsNilKey(t *testing.T) {
	idx := NewIndex(4, false)
	if err := idx.Put(nil, 1); err == nil {
		t.Fatal("expected error putting nil key")
	}
	if _, _, err := idx.Get(nil); err == nil {
		t.Fatal("expected error getting nil key")
	}
}

func TestIndexRangeRejectsInverted(t *testing.T) {
	idx := NewIndex(4, false)
	idx.Put(types.IntKey(1), 1)
	if _, err := idx.Range(types.IntKey(5), types.IntKey(1)); err == nil {
		t.Fatal("expected error for inverted range")
	}
}
