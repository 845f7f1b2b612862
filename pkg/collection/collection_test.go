package collection

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/kastellan/docengine/pkg/document"
	"github.com/kastellan/docengine/pkg/lockmgr"
	"github.com/kastellan/docengine/pkg/mvcc"
	"github.com/kastellan/docengine/pkg/txn"
	"github.com/kastellan/docengine/pkg/types"
	"github.com/kastellan/docengine/pkg/wal"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func newTestCollection(t *testing.T) *Collection {
	t.Helper()
	dir := t.TempDir()
	opts := wal.DefaultOptions()
	opts.Path = filepath.Join(dir, "wal.log")
	w, err := wal.Open(opts)
	if err != nil {
		t.Fatalf("wal.Open: %v", err)
	}
	t.Cleanup(func() { w.Close() })

	locks := lockmgr.New()
	versions := mvcc.New()
	txns := txn.NewManager(locks, versions, w, nil)

	return New("people", txns, versions)
}

func TestInsertAndFindByID(t *testing.T) {
	c := newTestCollection(t)
	ctx := context.Background()

	doc := document.New("alice", bson.D{{Key: "age", Value: int32(30)}})
	if err := c.Insert(ctx, doc); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, ok, err := c.FindByID("alice")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if !ok {
		t.Fatal("expected document to be found")
	}
	if got.ID != "alice" {
		t.Fatalf("ID = %q, want alice", got.ID)
	}

	count, err := c.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 1 {
		t.Fatalf("Count = %d, want 1", count)
	}
}

func TestInsertRejectsDuplicateID(t *testing.T) {
	c := newTestCollection(t)
	ctx := context.Background()

	doc := document.New("alice", nil)
	if err := c.Insert(ctx, doc); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := c.Insert(ctx, document.New("alice", nil)); err == nil {
		t.Fatal("expected duplicate id to be rejected")
	}
}

func TestUpdateBumpsVersion(t *testing.T) {
	c := newTestCollection(t)
	ctx := context.Background()

	doc := document.New("alice", bson.D{{Key: "age", Value: int32(30)}})
	if err := c.Insert(ctx, doc); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	err := c.Update(ctx, "alice", func(d *document.Document) error {
		d.Fields = bson.D{{Key: "age", Value: int32(31)}}
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, ok, err := c.FindByID("alice")
	if err != nil || !ok {
		t.Fatalf("FindByID after update: ok=%v err=%v", ok, err)
	}
	if got.Version != 2 {
		t.Fatalf("Version = %d, want 2", got.Version)
	}
}

func TestDeleteRemovesDocument(t *testing.T) {
	c := newTestCollection(t)
	ctx := context.Background()

	if err := c.Insert(ctx, document.New("alice", nil)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := c.Delete(ctx, "alice"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	_, ok, err := c.FindByID("alice")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if ok {
		t.Fatal("expected document to be gone after delete")
	}

	count, _ := c.Count()
	if count != 0 {
		t.Fatalf("Count = %d, want 0", count)
	}
}

func TestUpdateMovesSecondaryIndexEntryInPlaceMutation(t *testing.T) {
	c := newTestCollection(t)
	ctx := context.Background()

	doc := document.New("alice", bson.D{{Key: "age", Value: int32(30)}})
	if err := c.Insert(ctx, doc); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := c.CreateIndex("age", KindBTree); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}

	// Mutate the field slot in place (same backing array) rather than
	// replacing Fields wholesale, to exercise Update's old/new diff when
	// the caller's mutation aliases the document it was handed.
	err := c.Update(ctx, "alice", func(d *document.Document) error {
		for i := range d.Fields {
			if d.Fields[i].Key == "age" {
				d.Fields[i].Value = int32(31)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	c.mu.RLock()
	idx := c.secondary["age"]
	c.mu.RUnlock()

	if ok, err := idx.ContainsKey(types.IntKey(30)); err != nil || ok {
		t.Fatalf("stale index entry for age=30 still present: ok=%v err=%v", ok, err)
	}
	if ok, err := idx.ContainsKey(types.IntKey(31)); err != nil || !ok {
		t.Fatalf("index missing entry for age=31: ok=%v err=%v", ok, err)
	}
	if n, err := idx.Count(); err != nil || n != 1 {
		t.Fatalf("index count = %d, err=%v, want 1", n, err)
	}
}

func TestCreateIndexBacksfillsExistingDocuments(t *testing.T) {
	c := newTestCollection(t)
	ctx := context.Background()

	if err := c.Insert(ctx, document.New("alice", bson.D{{Key: "age", Value: int32(30)}})); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := c.Insert(ctx, document.New("bob", bson.D{{Key: "age", Value: int32(40)}})); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if err := c.CreateIndex("age", KindBTree); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}

	c.mu.RLock()
	idx := c.secondary["age"]
	c.mu.RUnlock()
	n, err := idx.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Fatalf("secondary index count = %d, want 2", n)
	}
}

func TestClearEmptiesCollection(t *testing.T) {
	c := newTestCollection(t)
	ctx := context.Background()
	if err := c.Insert(ctx, document.New("alice", nil)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := c.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	count, _ := c.Count()
	if count != 0 {
		t.Fatalf("Count after Clear = %d, want 0", count)
	}
}
