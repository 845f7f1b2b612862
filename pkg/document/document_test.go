package document

import (
	"testing"

	"github.com/kastellan/docengine/pkg/types"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestNewGeneratesIDWhenEmpty(t *testing.T) {
	d := New("", bson.D{{Key: "name", Value: "alice"}})
	if d.ID == "" {
		t.Fatal("expected auto-generated id")
	}
	if d.Version != 1 {
		t.Fatalf("Version = %d, want 1", d.Version)
	}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	d := New("doc-1", bson.D{{Key: "name", Value: "alice"}, {Key: "age", Value: int32(30)}})

	buf, err := Marshal(d)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	got, err := Unmarshal(buf)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.ID != d.ID || got.Version != d.Version {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, d)
	}
	if len(got.Fields) != 2 {
		t.Fatalf("Fields len = %d, want 2", len(got.Fields))
	}
}

func TestTouchBumpsVersion(t *testing.T) {
	d := New("doc-1", nil)
	before := d.Updated
	d.Touch()
	if d.Version != 2 {
		t.Fatalf("Version = %d, want 2", d.Version)
	}
	if !d.Updated.After(before) && d.Updated != before {
		t.Fatal("Updated should not go backwards")
	}
}

func TestFieldValueResolvesComparable(t *testing.T) {
	d := New("doc-1", bson.D{{Key: "age", Value: int32(42)}, {Key: "name", Value: "bob"}})

	v, ok := FieldValue(d, "age")
	if !ok {
		t.Fatal("expected age field to resolve")
	}
	if v.Compare(types.IntKey(42)) != 0 {
		t.Fatalf("age = %v, want 42", v)
	}

	_, ok = FieldValue(d, "missing")
	if ok {
		t.Fatal("expected missing field to not resolve")
	}
}

func TestToJSONProducesParsableOutput(t *testing.T) {
	d := New("doc-1", bson.D{{Key: "name", Value: "alice"}})
	js, err := ToJSON(d)
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	if js == "" {
		t.Fatal("expected non-empty JSON")
	}
}
