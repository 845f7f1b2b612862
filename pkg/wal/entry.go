package wal

import (
	"encoding/binary"
	"time"

	derrors "github.com/kastellan/docengine/pkg/errors"
)

// Op is the kind of operation a TransactionLogEntry records.
type Op uint8

const (
	OpInsert Op = iota + 1
	OpUpdate
	OpDelete
	OpCommit
	OpRollback
	OpCheckpoint
)

func (o Op) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	case OpCommit:
		return "commit"
	case OpRollback:
		return "rollback"
	case OpCheckpoint:
		return "checkpoint"
	default:
		return "unknown"
	}
}

// NoPage marks a log entry that is not scoped to any single page.
const NoPage int64 = -1

// CheckpointTxID is the synthetic transaction id stamped on checkpoint
// records.
const CheckpointTxID = "CHECKPOINT"

// TransactionLogEntry is a single durable WAL record.
type TransactionLogEntry struct {
	LSN           int64
	TransactionID string
	Op            Op
	PageID        int64
	BeforeImage   []byte
	AfterImage    []byte
	Timestamp     time.Time
}

const minEncodedLen = 8 + 4 /*tx len*/ + 1 /*op*/ + 8 /*page*/ + 4 /*before len*/ + 4 /*after len*/ + 8 /*ts*/ + 4 /*checksum*/

// Encode serializes the entry as:
// i64 lsn | u32 tx_id_len | tx_id | u8 op | i64 page_id |
// u32 before_len | before | u32 after_len | after | i64 timestamp_ns | u32 checksum
// The checksum covers every byte preceding it.
func (e *TransactionLogEntry) Encode() []byte {
	txID := []byte(e.TransactionID)
	size := minEncodedLen + len(txID) + len(e.BeforeImage) + len(e.AfterImage)
	buf := make([]byte, size)
	off := 0

	binary.LittleEndian.PutUint64(buf[off:], uint64(e.LSN))
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(txID)))
	off += 4
	off += copy(buf[off:], txID)
	buf[off] = byte(e.Op)
	off++
	binary.LittleEndian.PutUint64(buf[off:], uint64(e.PageID))
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(e.BeforeImage)))
	off += 4
	off += copy(buf[off:], e.BeforeImage)
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(e.AfterImage)))
	off += 4
	off += copy(buf[off:], e.AfterImage)
	binary.LittleEndian.PutUint64(buf[off:], uint64(e.Timestamp.UnixNano()))
	off += 8

	sum := CalculateCRC32(buf[:off])
	binary.LittleEndian.PutUint32(buf[off:], sum)
	return buf
}

// DecodeEntry reverses Encode, verifying the trailing checksum.
func DecodeEntry(buf []byte) (*TransactionLogEntry, error) {
	const op = "wal.DecodeEntry"
	if len(buf) < minEncodedLen {
		return nil, derrors.New(derrors.KindCorruption, op, "frame shorter than minimum entry size")
	}

	off := 0
	lsn := int64(binary.LittleEndian.Uint64(buf[off:]))
	off += 8

	txLen := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	if txLen < 0 || txLen > len(buf)-off {
		return nil, derrors.New(derrors.KindCorruption, op, "transaction id length out of range")
	}
	txID := string(buf[off : off+txLen])
	off += txLen

	if off+1 > len(buf) {
		return nil, derrors.New(derrors.KindCorruption, op, "truncated before op byte")
	}
	entryOp := Op(buf[off])
	off++

	if off+8 > len(buf) {
		return nil, derrors.New(derrors.KindCorruption, op, "truncated page id")
	}
	pageID := int64(binary.LittleEndian.Uint64(buf[off:]))
	off += 8

	if off+4 > len(buf) {
		return nil, derrors.New(derrors.KindCorruption, op, "truncated before-image length")
	}
	beforeLen := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	if beforeLen < 0 || beforeLen > len(buf)-off {
		return nil, derrors.New(derrors.KindCorruption, op, "before-image length out of range")
	}
	before := append([]byte(nil), buf[off:off+beforeLen]...)
	off += beforeLen

	if off+4 > len(buf) {
		return nil, derrors.New(derrors.KindCorruption, op, "truncated after-image length")
	}
	afterLen := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	if afterLen < 0 || afterLen > len(buf)-off {
		return nil, derrors.New(derrors.KindCorruption, op, "after-image length out of range")
	}
	after := append([]byte(nil), buf[off:off+afterLen]...)
	off += afterLen

	if off+8+4 != len(buf) {
		return nil, derrors.New(derrors.KindCorruption, op, "trailing bytes after timestamp/checksum")
	}
	ts := int64(binary.LittleEndian.Uint64(buf[off:]))
	off += 8
	checksum := binary.LittleEndian.Uint32(buf[off:])

	if !ValidateCRC32(buf[:off], checksum) {
		return nil, derrors.New(derrors.KindCorruption, op, "checksum mismatch")
	}

	return &TransactionLogEntry{
		LSN:           lsn,
		TransactionID: txID,
		Op:            entryOp,
		PageID:        pageID,
		BeforeImage:   before,
		AfterImage:    after,
		Timestamp:     time.Unix(0, ts).UTC(),
	}, nil
}
