package checkpoint

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/kastellan/docengine/pkg/page"
	"github.com/kastellan/docengine/pkg/storageio"
	"github.com/kastellan/docengine/pkg/wal"
)

func openHarness(t *testing.T) (*wal.Manager, *page.Manager) {
	t.Helper()
	dir := t.TempDir()

	walOpts := wal.DefaultOptions()
	walOpts.Path = filepath.Join(dir, "wal.log")
	w, err := wal.Open(walOpts)
	if err != nil {
		t.Fatalf("wal.Open: %v", err)
	}
	t.Cleanup(func() { w.Close() })

	sf, err := storageio.Open(filepath.Join(dir, "data.db"))
	if err != nil {
		t.Fatalf("storageio.Open: %v", err)
	}
	t.Cleanup(func() { sf.Close() })

	pm, err := page.Open(sf, page.DefaultMaxCacheSize)
	if err != nil {
		t.Fatalf("page.Open: %v", err)
	}
	return w, pm
}

func TestCheckpointAdvancesLSNAndNotifies(t *testing.T) {
	w, pm := openHarness(t)

	if _, err := w.WriteEntry(&wal.TransactionLogEntry{
		TransactionID: "tx1",
		Op:            wal.OpInsert,
		PageID:        wal.NoPage,
		AfterImage:    []byte("v"),
	}); err != nil {
		t.Fatalf("WriteEntry: %v", err)
	}

	lastLSN := w.GetLastLSN()

	var notifications []Completed
	cm := New(w, pm, DefaultOptions(), func(c Completed) {
		notifications = append(notifications, c)
	})

	if err := cm.Checkpoint(context.Background()); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}

	if len(notifications) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(notifications))
	}
	if !notifications[0].Success {
		t.Fatal("expected successful checkpoint notification")
	}
	if cm.LastCheckpointLSN() != lastLSN {
		t.Fatalf("LastCheckpointLSN = %d, want %d", cm.LastCheckpointLSN(), lastLSN)
	}
}

func TestCheckpointNoOpWhenLSNUnchanged(t *testing.T) {
	w, pm := openHarness(t)
	if _, err := w.WriteEntry(&wal.TransactionLogEntry{
		TransactionID: "tx1",
		Op:            wal.OpInsert,
		PageID:        wal.NoPage,
		AfterImage:    []byte("v"),
	}); err != nil {
		t.Fatalf("WriteEntry: %v", err)
	}

	var count int
	cm := New(w, pm, DefaultOptions(), func(c Completed) { count++ })

	if err := cm.Checkpoint(context.Background()); err != nil {
		t.Fatalf("first Checkpoint: %v", err)
	}
	firstLSN := cm.LastCheckpointLSN()

	if err := cm.Checkpoint(context.Background()); err != nil {
		t.Fatalf("second Checkpoint: %v", err)
	}
	if cm.LastCheckpointLSN() != firstLSN {
		t.Fatalf("unchanged checkpoint moved LSN from %d to %d", firstLSN, cm.LastCheckpointLSN())
	}
	if count != 2 {
		t.Fatalf("expected 2 notifications (one per call), got %d", count)
	}
}

func TestCheckpointWritesCheckpointRecord(t *testing.T) {
	w, pm := openHarness(t)
	if _, err := w.WriteEntry(&wal.TransactionLogEntry{
		TransactionID: "tx1",
		Op:            wal.OpInsert,
		PageID:        wal.NoPage,
		AfterImage:    []byte("v"),
	}); err != nil {
		t.Fatalf("WriteEntry: %v", err)
	}

	cm := New(w, pm, DefaultOptions(), nil)
	if err := cm.Checkpoint(context.Background()); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}

	entries, err := w.ReadEntries(0)
	if err != nil {
		t.Fatalf("ReadEntries: %v", err)
	}
	var sawCheckpoint bool
	for _, e := range entries {
		if e.Op == wal.OpCheckpoint {
			sawCheckpoint = true
		}
	}
	if !sawCheckpoint {
		t.Fatal("expected a checkpoint record in the WAL")
	}
}
