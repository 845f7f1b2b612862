// Package txn is the Transaction Manager (spec §4.11): per-transaction
// state machine, isolation levels, the read/write path over the lock
// manager and version manager, and the 2PC participant operations
// (Prepare, Commit, Abort). The package has no 2PC coordinator: nothing
// here drives Prepare across several participants or retries a commit.
package txn

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	derrors "github.com/kastellan/docengine/pkg/errors"
	"github.com/kastellan/docengine/pkg/lockmgr"
	"github.com/kastellan/docengine/pkg/mvcc"
	"github.com/kastellan/docengine/pkg/wal"
)

// State is a transaction's position in the spec §4.11 state machine.
type State int

const (
	Active State = iota
	Preparing
	Prepared
	Committed
	Aborted
)

func (s State) String() string {
	switch s {
	case Active:
		return "Active"
	case Preparing:
		return "Preparing"
	case Prepared:
		return "Prepared"
	case Committed:
		return "Committed"
	case Aborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// Applier lets the composition layer (collections, indexes, pages) take
// an after-image produced by a commit. Application may be lazy: if nil,
// committed data lives only in the WAL until the next redo pass.
type Applier interface {
	Apply(resource string, after []byte) error
}

type writeEntry struct {
	before []byte
	after  []byte
	hadOld bool
}

// Transaction is one unit of work. Reads and writes go through its
// methods, never directly against the version manager or lock manager.
type Transaction struct {
	ID        string
	Isolation mvcc.IsolationLevel

	mgr     *Manager
	mu      sync.Mutex
	state   State
	startTS int64

	snapshotTS       int64
	snapshotCaptured bool

	writeBuffer map[string]*writeEntry
	heldReads   map[string]struct{}
	heldWrites  map[string]struct{}
}

func (tx *Transaction) Status() State {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.state
}

func (tx *Transaction) snapshot() int64 {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if !tx.snapshotCaptured {
		tx.snapshotTS = mvcc.Now()
		tx.snapshotCaptured = true
	}
	return tx.snapshotTS
}

// Read returns the value visible to tx for key, honoring its isolation
// level and read-your-own-writes.
func (tx *Transaction) Read(ctx context.Context, key string) ([]byte, bool, error) {
	const op = "txn.Read"

	tx.mu.Lock()
	if tx.state != Active {
		tx.mu.Unlock()
		return nil, false, derrors.New(derrors.KindInvalidState, op, "transaction is not active")
	}
	if w, ok := tx.writeBuffer[key]; ok {
		tx.mu.Unlock()
		if w.after == nil {
			return nil, false, nil // buffered delete
		}
		return w.after, true, nil
	}
	tx.mu.Unlock()

	switch tx.Isolation {
	case mvcc.ReadUncommitted:
		data, ok := tx.mgr.versions.VisibleVersion(key, 0, mvcc.ReadUncommitted)
		return data, ok, nil
	case mvcc.ReadCommitted:
		if err := tx.mgr.locks.Acquire(ctx, tx.ID, key, lockmgr.ModeRead); err != nil {
			return nil, false, err
		}
		defer tx.mgr.locks.Release(key, tx.ID, lockmgr.ModeRead)
		data, ok := tx.mgr.versions.VisibleVersion(key, 0, mvcc.ReadCommitted)
		return data, ok, nil
	default: // RepeatableRead, Serializable
		if err := tx.mgr.locks.Acquire(ctx, tx.ID, key, lockmgr.ModeRead); err != nil {
			return nil, false, err
		}
		tx.mu.Lock()
		tx.heldReads[key] = struct{}{}
		tx.mu.Unlock()
		snap := tx.snapshot()
		data, ok := tx.mgr.versions.VisibleVersion(key, snap, tx.Isolation)
		return data, ok, nil
	}
}

// Write records after as key's new value in tx's private write buffer,
// holding a write lock until commit or rollback.
func (tx *Transaction) Write(ctx context.Context, key string, after []byte) error {
	const op = "txn.Write"

	tx.mu.Lock()
	if tx.state != Active {
		tx.mu.Unlock()
		return derrors.New(derrors.KindInvalidState, op, "transaction is not active")
	}
	tx.mu.Unlock()

	if err := tx.mgr.locks.Acquire(ctx, tx.ID, key, lockmgr.ModeWrite); err != nil {
		return err
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.heldWrites[key] = struct{}{}
	before, hadOld := tx.mgr.versions.VisibleVersion(key, 0, mvcc.ReadCommitted)
	if existing, ok := tx.writeBuffer[key]; ok {
		existing.after = append([]byte(nil), after...)
		return nil
	}
	tx.writeBuffer[key] = &writeEntry{
		before: before,
		after:  append([]byte(nil), after...),
		hadOld: hadOld,
	}
	return nil
}

// Delete buffers a tombstone write for key.
func (tx *Transaction) Delete(ctx context.Context, key string) error {
	const op = "txn.Delete"

	tx.mu.Lock()
	if tx.state != Active {
		tx.mu.Unlock()
		return derrors.New(derrors.KindInvalidState, op, "transaction is not active")
	}
	tx.mu.Unlock()

	if err := tx.mgr.locks.Acquire(ctx, tx.ID, key, lockmgr.ModeWrite); err != nil {
		return err
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.heldWrites[key] = struct{}{}
	before, hadOld := tx.mgr.versions.VisibleVersion(key, 0, mvcc.ReadCommitted)
	tx.writeBuffer[key] = &writeEntry{before: before, after: nil, hadOld: hadOld}
	return nil
}

func (tx *Transaction) releaseAllLocks() {
	tx.mu.Lock()
	reads := tx.heldReads
	writes := tx.heldWrites
	tx.heldReads = make(map[string]struct{})
	tx.heldWrites = make(map[string]struct{})
	tx.mu.Unlock()

	for key := range writes {
		tx.mgr.locks.Release(key, tx.ID, lockmgr.ModeWrite)
	}
	for key := range reads {
		tx.mgr.locks.Release(key, tx.ID, lockmgr.ModeRead)
	}
}

// Commit makes tx's buffered writes durable and visible: one WAL record
// per write, then a Commit record (fsync'd), then publish versions,
// apply after-images (best-effort, lazily), then release locks.
func (tx *Transaction) Commit() error {
	const op = "txn.Commit"

	tx.mu.Lock()
	if tx.state != Active && tx.state != Prepared {
		state := tx.state
		tx.mu.Unlock()
		return derrors.New(derrors.KindInvalidState, op, fmt.Sprintf("cannot commit from state %s", state))
	}
	buffer := tx.writeBuffer
	tx.mu.Unlock()

	for key, w := range buffer {
		op := wal.OpUpdate
		if !w.hadOld {
			op = wal.OpInsert
		}
		if w.after == nil {
			op = wal.OpDelete
		}
		if _, err := tx.mgr.wal.WriteEntry(&wal.TransactionLogEntry{
			TransactionID: tx.ID,
			Op:            op,
			PageID:        wal.NoPage,
			BeforeImage:   w.before,
			AfterImage:    w.after,
			Timestamp:     time.Now(),
		}); err != nil {
			return derrors.Wrap(derrors.KindIO, op.String()+"."+key, err)
		}
		_ = key
	}

	if _, err := tx.mgr.wal.WriteEntry(&wal.TransactionLogEntry{
		TransactionID: tx.ID,
		Op:            wal.OpCommit,
		PageID:        wal.NoPage,
		Timestamp:     time.Now(),
	}); err != nil {
		return err
	}

	commitTS := mvcc.Now()
	for key, w := range buffer {
		if w.after == nil {
			tx.mgr.versions.MarkDeleted(key, tx.ID, commitTS)
		} else {
			tx.mgr.versions.PutVersion(key, w.after, tx.ID, commitTS)
		}
		if tx.mgr.applier != nil {
			_ = tx.mgr.applier.Apply(key, w.after)
		}
	}

	tx.mu.Lock()
	tx.state = Committed
	tx.mu.Unlock()

	tx.releaseAllLocks()
	tx.mgr.forget(tx)
	return nil
}

// Rollback discards tx's write buffer, emits a Rollback record, and
// releases every lock it holds.
func (tx *Transaction) Rollback() error {
	tx.mu.Lock()
	if tx.state == Committed || tx.state == Aborted {
		tx.mu.Unlock()
		return nil
	}
	tx.mu.Unlock()

	if _, err := tx.mgr.wal.WriteEntry(&wal.TransactionLogEntry{
		TransactionID: tx.ID,
		Op:            wal.OpRollback,
		PageID:        wal.NoPage,
		Timestamp:     time.Now(),
	}); err != nil {
		return err
	}

	tx.mu.Lock()
	tx.writeBuffer = make(map[string]*writeEntry)
	tx.state = Aborted
	tx.mu.Unlock()

	tx.releaseAllLocks()
	tx.mgr.forget(tx)
	return nil
}

// Prepare is the 2PC participant's vote: Active -> Preparing -> Prepared
// (yes) or Aborted (no vote, via Rollback).
func (tx *Transaction) Prepare() error {
	const op = "txn.Prepare"
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.state != Active {
		return derrors.New(derrors.KindInvalidState, op, "can only prepare an active transaction")
	}
	tx.state = Preparing
	tx.state = Prepared
	return nil
}

// Abort is the 2PC participant's forced rollback, identical to Rollback.
func (tx *Transaction) Abort() error { return tx.Rollback() }

// Manager creates and tracks transactions, wiring them to a shared lock
// manager, version manager and write-ahead log.
type Manager struct {
	locks    *lockmgr.Manager
	versions *mvcc.Manager
	wal      *wal.Manager
	applier  Applier

	mu      sync.Mutex
	active  map[string]*Transaction
	counter int64
}

// NewManager wires a Manager to its collaborators. applier may be nil.
func NewManager(locks *lockmgr.Manager, versions *mvcc.Manager, w *wal.Manager, applier Applier) *Manager {
	return &Manager{
		locks:    locks,
		versions: versions,
		wal:      w,
		applier:  applier,
		active:   make(map[string]*Transaction),
	}
}

// Begin starts a new transaction at the given isolation level (default
// Serializable when isolation is the zero value is the caller's choice;
// this Manager does not substitute one).
func (m *Manager) Begin(isolation mvcc.IsolationLevel) *Transaction {
	id := fmt.Sprintf("tx-%d", atomic.AddInt64(&m.counter, 1))
	start := time.Now()
	tx := &Transaction{
		ID:          id,
		Isolation:   isolation,
		mgr:         m,
		state:       Active,
		startTS:     start.UnixNano(),
		writeBuffer: make(map[string]*writeEntry),
		heldReads:   make(map[string]struct{}),
		heldWrites:  make(map[string]struct{}),
	}
	m.locks.NoteStart(id, start)

	m.mu.Lock()
	m.active[id] = tx
	m.mu.Unlock()
	return tx
}

func (m *Manager) forget(tx *Transaction) {
	m.locks.Forget(tx.ID)
	m.mu.Lock()
	delete(m.active, tx.ID)
	m.mu.Unlock()
}

// OldestActiveSnapshot returns the smallest captured snapshot timestamp
// among active RepeatableRead/Serializable transactions, or now if none
// have captured one yet. pkg/mvcc.Vacuum uses this as its watermark.
func (m *Manager) OldestActiveSnapshot() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	oldest := mvcc.Now()
	for _, tx := range m.active {
		tx.mu.Lock()
		if tx.snapshotCaptured && tx.snapshotTS < oldest {
			oldest = tx.snapshotTS
		}
		tx.mu.Unlock()
	}
	return oldest
}

// RunDeadlockDetector delegates to the lock manager's detector; a
// transaction it selects as a victim is marked Aborted, its locks are
// released and it is dropped from the active set. No Rollback record is
// written to the WAL for it.
func (m *Manager) RunDeadlockDetector(ctx context.Context, interval time.Duration) {
	m.locks.RunDetector(ctx, interval, func(txID string) {
		m.mu.Lock()
		tx, ok := m.active[txID]
		m.mu.Unlock()
		if !ok {
			return
		}
		tx.mu.Lock()
		tx.state = Aborted
		tx.mu.Unlock()
		tx.releaseAllLocks()
		m.forget(tx)
	})
}
