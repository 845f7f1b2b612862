package wal

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func readFile(path string) ([]byte, error)       { return os.ReadFile(path) }
func writeFile(path string, data []byte) error   { return os.WriteFile(path, data, 0644) }
func le32(b []byte) uint32                       { return binary.LittleEndian.Uint32(b) }

func openTestManager(t *testing.T) *Manager {
	t.Helper()
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.Path = filepath.Join(dir, "wal.log")
	m, err := Open(opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestWriteEntryAssignsMonotonicLSNs(t *testing.T) {
	m := openTestManager(t)

	var lsns []int64
	for i := 0; i < 5; i++ {
		lsn, err := m.WriteEntry(&TransactionLogEntry{
			TransactionID: "tx1",
			Op:            OpInsert,
			PageID:        int64(i),
			AfterImage:    []byte("v"),
		})
		if err != nil {
			t.Fatalf("WriteEntry: %v", err)
		}
		lsns = append(lsns, lsn)
	}

	for i := 1; i < len(lsns); i++ {
		if lsns[i] != lsns[i-1]+1 {
			t.Fatalf("LSNs not contiguous: %v", lsns)
		}
	}
	if m.GetLastLSN() != lsns[len(lsns)-1] {
		t.Fatalf("GetLastLSN = %d, want %d", m.GetLastLSN(), lsns[len(lsns)-1])
	}
}

func TestWriteEntryRejectsEmptyTxID(t *testing.T) {
	m := openTestManager(t)
	_, err := m.WriteEntry(&TransactionLogEntry{Op: OpInsert})
	if err == nil {
		t.Fatal("expected error for empty transaction id")
	}
}

func TestReadEntriesFromFiltersByLSN(t *testing.T) {
	m := openTestManager(t)
	for i := 0; i < 3; i++ {
		if _, err := m.WriteEntry(&TransactionLogEntry{TransactionID: "tx1", Op: OpInsert, PageID: int64(i)}); err != nil {
			t.Fatalf("WriteEntry: %v", err)
		}
	}

	entries, err := m.ReadEntries(2)
	if err != nil {
		t.Fatalf("ReadEntries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
}

func TestCheckpointRecordRoundTrips(t *testing.T) {
	m := openTestManager(t)
	if _, err := m.WriteEntry(&TransactionLogEntry{TransactionID: "tx1", Op: OpInsert}); err != nil {
		t.Fatalf("WriteEntry: %v", err)
	}
	ckptLSN, err := m.Checkpoint(m.GetLastLSN())
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}

	entries, err := m.ReadEntries(ckptLSN)
	if err != nil || len(entries) != 1 {
		t.Fatalf("ReadEntries after checkpoint: %v, %d entries", err, len(entries))
	}
	if entries[0].Op != OpCheckpoint || entries[0].TransactionID != CheckpointTxID {
		t.Fatalf("unexpected checkpoint entry: %+v", entries[0])
	}
}

func TestReadEntriesSkipsCorruptFrame(t *testing.T) {
	m := openTestManager(t)
	lsns := make([]int64, 0, 3)
	for i := 0; i < 3; i++ {
		lsn, err := m.WriteEntry(&TransactionLogEntry{
			TransactionID: "tx1",
			Op:            OpInsert,
			PageID:        int64(i),
			AfterImage:    []byte{byte(i)},
			Timestamp:     time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("WriteEntry: %v", err)
		}
		lsns = append(lsns, lsn)
	}

	// Corrupt the payload of the second record by flipping a byte well
	// inside its encoded body (after the length prefix of record 1).
	path := m.options.Path
	data, err := readFile(path)
	if err != nil {
		t.Fatalf("read wal file: %v", err)
	}
	// Find offset of second frame: skip first frame's length+payload.
	firstLen := int(le32(data[0:4]))
	secondFrameStart := 4 + firstLen
	corruptAt := secondFrameStart + 4 + 20 // inside second entry's body
	if corruptAt < len(data) {
		data[corruptAt] ^= 0xFF
	}
	if err := writeFile(path, data); err != nil {
		t.Fatalf("write wal file: %v", err)
	}

	entries, err := m.ReadEntries(0)
	if err != nil {
		t.Fatalf("ReadEntries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d surviving entries, want 2 (one corrupted)", len(entries))
	}
}
