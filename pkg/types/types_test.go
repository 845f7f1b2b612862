package types

import (
	"sort"
	"testing"
	"time"
)

func TestIntKeyOrdering(t *testing.T) {
	cases := []struct {
		a, b Comparable
		want int
	}{
		{IntKey(5), IntKey(10), -1},
		{IntKey(10), IntKey(5), 1},
		{IntKey(10), IntKey(10), 0},
		{IntKey(-5), IntKey(5), -1},
	}
	for _, tc := range cases {
		if got := tc.a.Compare(tc.b); got != tc.want {
			t.Errorf("%v.Compare(%v) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestVarcharKeyOrdering(t *testing.T) {
	cases := []struct {
		a, b Comparable
		want int
	}{
		{VarcharKey("apple"), VarcharKey("banana"), -1},
		{VarcharKey("cherry"), VarcharKey("banana"), 1},
		{VarcharKey("test"), VarcharKey("test"), 0},
		{VarcharKey("Apple"), VarcharKey("apple"), -1}, // 'A' < 'a' in ASCII
		{VarcharKey(""), VarcharKey("a"), -1},
	}
	for _, tc := range cases {
		if got := tc.a.Compare(tc.b); got != tc.want {
			t.Errorf("%v.Compare(%v) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestFloatKeyOrdering(t *testing.T) {
	cases := []struct {
		a, b Comparable
		want int
	}{
		{FloatKey(1.5), FloatKey(2.5), -1},
		{FloatKey(3.14), FloatKey(2.71), 1},
		{FloatKey(3.14), FloatKey(3.14), 0},
		{FloatKey(-1.5), FloatKey(1.5), -1},
		{FloatKey(0.001), FloatKey(0.002), -1},
	}
	for _, tc := range cases {
		if got := tc.a.Compare(tc.b); got != tc.want {
			t.Errorf("%v.Compare(%v) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestBoolKeyOrdering(t *testing.T) {
	cases := []struct {
		a, b Comparable
		want int
	}{
		{BoolKey(false), BoolKey(true), -1},
		{BoolKey(true), BoolKey(false), 1},
		{BoolKey(true), BoolKey(true), 0},
		{BoolKey(false), BoolKey(false), 0},
	}
	for _, tc := range cases {
		if got := tc.a.Compare(tc.b); got != tc.want {
			t.Errorf("%v.Compare(%v) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestDateKeyOrdering(t *testing.T) {
	day := func(y int, m time.Month, d, h int) DateKey {
		return DateKey(time.Date(y, m, d, h, 0, 0, 0, time.UTC))
	}

	cases := []struct {
		a, b Comparable
		want int
	}{
		{day(2025, 1, 1, 0), day(2025, 1, 2, 0), -1},
		{day(2025, 1, 2, 0), day(2025, 1, 1, 0), 1},
		{day(2025, 1, 1, 12), day(2025, 1, 1, 12), 0},
		{day(2024, 1, 1, 0), day(2025, 1, 1, 0), -1},
		{day(2025, 1, 1, 8), day(2025, 1, 1, 20), -1},
	}
	for _, tc := range cases {
		if got := tc.a.Compare(tc.b); got != tc.want {
			t.Errorf("Compare = %d, want %d", got, tc.want)
		}
	}
}

func TestKeyStringRepresentations(t *testing.T) {
	now := time.Now()
	cases := []struct {
		key  stringer
		want string
	}{
		{IntKey(10), "10"},
		{VarcharKey("test"), "test"},
		{FloatKey(3.14), "3.140000"},
		{BoolKey(true), "true"},
		{BoolKey(false), "false"},
		{DateKey(now), now.Format("2006-01-02 15:04:05")},
	}
	for _, tc := range cases {
		if s := tc.key.String(); s != tc.want {
			t.Errorf("String() = %q, want %q", s, tc.want)
		}
	}
}

type stringer interface {
	String() string
}

func TestCompareMismatchedTypePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected Compare to panic on a type mismatch")
		}
	}()
	IntKey(1).Compare(VarcharKey("1"))
}

// TestComparableSortsThroughSortInterface exercises Comparable the way
// an index actually uses it: as the ordering sort.Sort relies on,
// confirming the -1/0/1 contract composes into a stable total order.
func TestComparableSortsThroughSortInterface(t *testing.T) {
	keys := []Comparable{IntKey(5), IntKey(1), IntKey(3), IntKey(2), IntKey(4)}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].Compare(keys[j]) < 0
	})
	for i, want := range []IntKey{1, 2, 3, 4, 5} {
		if keys[i].(IntKey) != want {
			t.Fatalf("keys[%d] = %v, want %v", i, keys[i], want)
		}
	}
}
