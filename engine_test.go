package docengine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/kastellan/docengine/pkg/document"
	"github.com/kastellan/docengine/pkg/mvcc"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func openTestEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()
	opts := DefaultOptions(filepath.Join(dir, "engine"))
	opts.DeadlockScanInterval = 0 // keep tests deterministic; no background scans
	e, err := Open(opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestOpenCloseAndReopenRecovers(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions(filepath.Join(dir, "engine"))
	opts.DeadlockScanInterval = 0

	e, err := Open(opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	col := e.Collection("people")
	if err := col.Insert(context.Background(), document.New("alice", bson.D{{Key: "age", Value: int32(30)}})); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	e2, err := Open(opts)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer e2.Close()

	needed, err := e2.Recover()
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if needed {
		t.Fatal("expected clean shutdown to need no undo")
	}
}

func TestBeginTransactionReadWriteCommit(t *testing.T) {
	e := openTestEngine(t)

	tx := e.BeginTransaction(mvcc.Serializable)
	ctx := context.Background()
	if err := tx.Write(ctx, "k1", []byte("v1")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	tx2 := e.BeginTransaction(mvcc.ReadCommitted)
	val, ok, err := tx2.Read(ctx, "k1")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !ok || string(val) != "v1" {
		t.Fatalf("Read = %q, %v, want v1, true", val, ok)
	}
	tx2.Commit()
}

func TestCheckpointSucceeds(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()

	col := e.Collection("people")
	if err := col.Insert(ctx, document.New("alice", nil)); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if err := e.Checkpoint(ctx); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
}

func TestVacuumRunsWithoutError(t *testing.T) {
	e := openTestEngine(t)
	if _, err := e.Vacuum(); err != nil {
		t.Fatalf("Vacuum: %v", err)
	}
}
