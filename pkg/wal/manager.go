// Package wal is the durably ordered log of transaction records described
// by the component design: single-writer appends, monotonic LSNs, and a
// reader that tolerates individual corrupt frames without losing the rest
// of the log. Framing on disk is `u32 record_length | serialized_entry`.
package wal

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	atomicfile "github.com/natefinch/atomic"

	derrors "github.com/kastellan/docengine/pkg/errors"
)

// MaxRecordLength is the largest frame a reader will trust; anything
// larger means the length field itself is corrupt and the scan stops.
const MaxRecordLength = 1 << 20

const lengthPrefixSize = 4

// Manager is the WAL: a single-writer, multi-reader durable log.
type Manager struct {
	mu      sync.Mutex
	file    *os.File
	writer  *bufio.Writer
	options Options

	nextLSN int64 // atomic, next LSN to hand out
}

// Open opens (creating if needed) the WAL file at opts.Path.
func Open(opts Options) (*Manager, error) {
	f, err := os.OpenFile(opts.Path, os.O_APPEND|os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, derrors.Wrap(derrors.KindIO, "wal.Open", err)
	}

	m := &Manager{
		file:    f,
		writer:  bufio.NewWriterSize(f, opts.BufferSize),
		options: opts,
	}

	lastLSN, err := m.scanForLastLSN()
	if err != nil {
		f.Close()
		return nil, err
	}
	atomic.StoreInt64(&m.nextLSN, lastLSN+1)

	return m, nil
}

// scanForLastLSN replays the file once at open time to seed the LSN
// counter; it is lenient about corruption exactly like ReadEntries.
func (m *Manager) scanForLastLSN() (int64, error) {
	entries, err := m.readEntriesFrom(0, 0)
	if err != nil {
		return 0, err
	}
	var last int64
	for _, e := range entries {
		if e.LSN > last {
			last = e.LSN
		}
	}
	return last, nil
}

// WriteEntry assigns the entry the next LSN, appends it to the log, and
// only returns once fsync has confirmed durability. An empty
// TransactionID is rejected unless the entry is a checkpoint record.
func (m *Manager) WriteEntry(entry *TransactionLogEntry) (int64, error) {
	const op = "wal.WriteEntry"
	if entry.TransactionID == "" && entry.Op != OpCheckpoint {
		return 0, derrors.New(derrors.KindInvalidArgument, op, "transaction_id must not be empty")
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	lsn := atomic.AddInt64(&m.nextLSN, 1) - 1
	entry.LSN = lsn

	payload := entry.Encode()
	if len(payload) > MaxRecordLength {
		return 0, derrors.New(derrors.KindInvalidArgument, op, "encoded entry exceeds max record length")
	}

	var lenBuf [lengthPrefixSize]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))

	if _, err := m.writer.Write(lenBuf[:]); err != nil {
		return 0, derrors.Wrap(derrors.KindIO, op, err)
	}
	if _, err := m.writer.Write(payload); err != nil {
		return 0, derrors.Wrap(derrors.KindIO, op, err)
	}
	if err := m.writer.Flush(); err != nil {
		return 0, derrors.Wrap(derrors.KindIO, op, err)
	}
	if err := m.file.Sync(); err != nil {
		return 0, derrors.Wrap(derrors.KindIO, op, err)
	}

	return lsn, nil
}

// ReadEntries scans the log from the start of the file and returns every
// surviving entry with lsn >= fromLSN, in file order. A frame whose length
// header is <=0 or >MaxRecordLength cannot be trusted to locate the next
// frame, so the scan stops there. A frame whose declared length is
// plausible but whose checksum fails is corrupt content only: it is
// skipped (advancing by the declared length) and the scan continues.
func (m *Manager) ReadEntries(fromLSN int64) ([]*TransactionLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writer.Flush(); err != nil {
		return nil, derrors.Wrap(derrors.KindIO, "wal.ReadEntries", err)
	}
	return m.readEntriesFrom(fromLSN, 0)
}

func (m *Manager) readEntriesFrom(fromLSN int64, startOffset int64) ([]*TransactionLogEntry, error) {
	const op = "wal.ReadEntries"
	f, err := os.Open(m.options.Path)
	if err != nil {
		return nil, derrors.Wrap(derrors.KindIO, op, err)
	}
	defer f.Close()

	if startOffset > 0 {
		if _, err := f.Seek(startOffset, io.SeekStart); err != nil {
			return nil, derrors.Wrap(derrors.KindIO, op, err)
		}
	}

	var out []*TransactionLogEntry
	var lenBuf [lengthPrefixSize]byte
	for {
		if _, err := io.ReadFull(f, lenBuf[:]); err != nil {
			if err == io.EOF {
				break
			}
			// Short read of the length prefix itself: trailing torn write.
			break
		}
		length := int32(binary.LittleEndian.Uint32(lenBuf[:]))
		if length <= 0 || length > MaxRecordLength {
			break
		}

		payload := make([]byte, length)
		if _, err := io.ReadFull(f, payload); err != nil {
			// Torn trailing frame: nothing more to recover.
			break
		}

		entry, err := DecodeEntry(payload)
		if err != nil {
			// Corrupt content only; the framing told us exactly how far to
			// skip, so keep scanning.
			continue
		}
		if entry.LSN >= fromLSN {
			out = append(out, entry)
		}
	}
	return out, nil
}

// GetLastLSN returns the most recently assigned LSN (0 if none yet).
func (m *Manager) GetLastLSN() int64 {
	return atomic.LoadInt64(&m.nextLSN) - 1
}

// GetFirstLSN returns the lowest LSN still present in the log.
func (m *Manager) GetFirstLSN() (int64, error) {
	entries, err := m.ReadEntries(0)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, derrors.New(derrors.KindNotFound, "wal.GetFirstLSN", "log is empty")
	}
	first := entries[0].LSN
	for _, e := range entries {
		if e.LSN < first {
			first = e.LSN
		}
	}
	return first, nil
}

// Checkpoint appends a synthetic checkpoint record whose after-image is
// the checkpointed LSN, and returns the LSN assigned to that record.
func (m *Manager) Checkpoint(lsn int64) (int64, error) {
	after := make([]byte, 8)
	binary.LittleEndian.PutUint64(after, uint64(lsn))
	entry := &TransactionLogEntry{
		TransactionID: CheckpointTxID,
		Op:            OpCheckpoint,
		PageID:        NoPage,
		AfterImage:    after,
		Timestamp:     time.Now().UTC(),
	}
	return m.WriteEntry(entry)
}

// Truncate rewrites the log file keeping only entries whose lsn >=
// beforeLSN (entries that failed their checksum are dropped either way).
func (m *Manager) Truncate(beforeLSN int64) error {
	const op = "wal.Truncate"
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.writer.Flush(); err != nil {
		return derrors.Wrap(derrors.KindIO, op, err)
	}

	kept, err := m.readEntriesFrom(beforeLSN, 0)
	if err != nil {
		return err
	}

	buf := make([]byte, 0, 64*1024)
	var lenBuf [lengthPrefixSize]byte
	for _, e := range kept {
		payload := e.Encode()
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, payload...)
	}

	if err := atomicfile.WriteFile(m.options.Path, bytes.NewReader(buf)); err != nil {
		return derrors.Wrap(derrors.KindIO, op, err)
	}

	if err := m.file.Close(); err != nil {
		return derrors.Wrap(derrors.KindIO, op, err)
	}
	f, err := os.OpenFile(m.options.Path, os.O_APPEND|os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return derrors.Wrap(derrors.KindIO, op, err)
	}
	m.file = f
	m.writer = bufio.NewWriterSize(f, m.options.BufferSize)
	return nil
}

// FileSize reports the current on-disk size of the log file, used by the
// checkpoint manager's size-based trigger.
func (m *Manager) FileSize() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writer.Flush(); err != nil {
		return 0, derrors.Wrap(derrors.KindIO, "wal.FileSize", err)
	}
	info, err := m.file.Stat()
	if err != nil {
		return 0, derrors.Wrap(derrors.KindIO, "wal.FileSize", err)
	}
	return info.Size(), nil
}

// Sync flushes any buffered writes to durable media without appending a
// new entry.
func (m *Manager) Sync() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writer.Flush(); err != nil {
		return derrors.Wrap(derrors.KindIO, "wal.Sync", err)
	}
	return derrors.Wrap(derrors.KindIO, "wal.Sync", m.file.Sync())
}

// Close flushes and closes the underlying file.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writer.Flush(); err != nil {
		m.file.Close()
		return derrors.Wrap(derrors.KindIO, "wal.Close", err)
	}
	if err := m.file.Sync(); err != nil {
		m.file.Close()
		return derrors.Wrap(derrors.KindIO, "wal.Close", err)
	}
	return m.file.Close()
}
