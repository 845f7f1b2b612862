// Package lockmgr is the per-resource read/write lock table plus its
// wait-for-graph deadlock detector (spec §4.9).
package lockmgr

import (
	"container/list"
	"context"
	"sync"
	"time"

	derrors "github.com/kastellan/docengine/pkg/errors"
	"github.com/kastellan/docengine/pkg/metrics"
)

// Mode is the lock mode requested.
type Mode int

const (
	ModeRead Mode = iota
	ModeWrite
)

type waiter struct {
	txID   string
	mode   Mode
	ready  chan struct{}
	cancel chan struct{}
}

// record is the lock state for one resource.
type record struct {
	readHolders  map[string]struct{}
	writeHolder  string // "" if none
	waiters      *list.List // of *waiter, FIFO
}

func newRecord() *record {
	return &record{readHolders: make(map[string]struct{})}
}

func (r *record) isEmpty() bool {
	return len(r.readHolders) == 0 && r.writeHolder == "" && r.waiters.Len() == 0
}

// Manager is the lock table. One record per resource path, a FIFO waiter
// queue per record, and a wait-for graph shared across all resources.
type Manager struct {
	mu        sync.Mutex
	resources map[string]*record

	graph *waitForGraph

	startTimes   map[string]time.Time
	startTimesMu sync.Mutex
}

// New creates an empty lock manager.
func New() *Manager {
	return &Manager{
		resources: make(map[string]*record),
		graph:     newWaitForGraph(),
		startTimes: make(map[string]time.Time),
	}
}

// NoteStart records a transaction's start time, used by the deadlock
// detector to pick the youngest victim. Call once per transaction.
func (m *Manager) NoteStart(txID string, start time.Time) {
	m.startTimesMu.Lock()
	defer m.startTimesMu.Unlock()
	m.startTimes[txID] = start
}

// Forget drops a transaction's start-time bookkeeping once it terminates.
func (m *Manager) Forget(txID string) {
	m.startTimesMu.Lock()
	defer m.startTimesMu.Unlock()
	delete(m.startTimes, txID)
}

func (m *Manager) getRecord(resource string) *record {
	r, ok := m.resources[resource]
	if !ok {
		r = newRecord()
		r.waiters = list.New()
		m.resources[resource] = r
	}
	return r
}

// compatible reports whether mode can be granted immediately given r's
// current holders (assumes no pending FIFO waiter ahead blocks it — callers
// check that separately).
func compatible(r *record, txID string, mode Mode) bool {
	switch mode {
	case ModeRead:
		if r.writeHolder == "" {
			return true
		}
		return r.writeHolder == txID // self-upgrade transaction may still read
	case ModeWrite:
		if r.writeHolder == txID {
			return true
		}
		if r.writeHolder != "" {
			return false
		}
		// No write holder: fine if there are no other readers.
		for id := range r.readHolders {
			if id != txID {
				return false
			}
		}
		return true
	}
	return false
}

func grant(r *record, txID string, mode Mode) {
	switch mode {
	case ModeRead:
		r.readHolders[txID] = struct{}{}
	case ModeWrite:
		r.writeHolder = txID
	}
}

// Acquire blocks until txID holds mode on resource, ctx is cancelled, or
// the transaction is chosen as a deadlock victim. Reentrant: a
// transaction that already holds a read lock and asks for read again
// returns immediately; one holding read may upgrade to write.
func (m *Manager) Acquire(ctx context.Context, txID, resource string, mode Mode) error {
	const op = "lockmgr.Acquire"

	m.mu.Lock()
	r := m.getRecord(resource)

	// Reentrant read: already holds read (and not trying to write), done.
	if mode == ModeRead {
		if _, ok := r.readHolders[txID]; ok {
			m.mu.Unlock()
			return nil
		}
	}
	// Already the write holder: writes and reads both trivially satisfied.
	if r.writeHolder == txID {
		m.mu.Unlock()
		return nil
	}

	if r.waiters.Len() == 0 && compatible(r, txID, mode) {
		grant(r, txID, mode)
		m.mu.Unlock()
		return nil
	}

	w := &waiter{txID: txID, mode: mode, ready: make(chan struct{}), cancel: make(chan struct{})}
	elem := r.waiters.PushBack(w)

	// Record wait-for edges against current holders.
	for id := range r.readHolders {
		if id != txID {
			m.graph.addEdge(txID, id)
		}
	}
	if r.writeHolder != "" && r.writeHolder != txID {
		m.graph.addEdge(txID, r.writeHolder)
	}
	m.mu.Unlock()

	metrics.LockWaitersGauge.Inc()
	defer metrics.LockWaitersGauge.Dec()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		m.cancelWaiter(resource, elem, w)
		return derrors.New(derrors.KindCancelled, op, "lock acquisition cancelled")
	case <-w.cancel:
		m.cancelWaiter(resource, elem, w)
		return derrors.New(derrors.KindDeadlock, op, "transaction aborted as deadlock victim")
	}
}

func (m *Manager) cancelWaiter(resource string, elem *list.Element, w *waiter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resources[resource]
	if !ok {
		return
	}
	// elem may already have been removed by wakeWaiters if it raced to
	// grant just as cancellation happened; Remove is a no-op otherwise.
	for e := r.waiters.Front(); e != nil; e = e.Next() {
		if e == elem {
			r.waiters.Remove(e)
			break
		}
	}
	m.graph.removeWaiter(w.txID)
}

// Release drops txID's hold of mode on resource (or both modes if mode is
// omitted via ReleaseAll) and wakes any now-grantable waiters.
func (m *Manager) Release(resource, txID string, mode Mode) {
	m.mu.Lock()
	r, ok := m.resources[resource]
	if !ok {
		m.mu.Unlock()
		return
	}
	switch mode {
	case ModeRead:
		delete(r.readHolders, txID)
	case ModeWrite:
		if r.writeHolder == txID {
			r.writeHolder = ""
		}
	}
	m.wakeWaitersLocked(r)
	if r.isEmpty() {
		delete(m.resources, resource)
	}
	m.mu.Unlock()
}

// ReleaseAll drops every lock txID holds on resource.
func (m *Manager) ReleaseAll(resource, txID string) {
	m.mu.Lock()
	r, ok := m.resources[resource]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(r.readHolders, txID)
	if r.writeHolder == txID {
		r.writeHolder = ""
	}
	m.wakeWaitersLocked(r)
	if r.isEmpty() {
		delete(m.resources, resource)
	}
	m.mu.Unlock()
}

// wakeWaitersLocked grants the FIFO head waiter(s) that have become
// compatible with the current holder set. Must be called with m.mu held.
func (m *Manager) wakeWaitersLocked(r *record) {
	for {
		front := r.waiters.Front()
		if front == nil {
			return
		}
		w := front.Value.(*waiter)
		if !compatible(r, w.txID, w.mode) {
			return
		}
		r.waiters.Remove(front)
		grant(r, w.txID, w.mode)
		m.graph.removeWaiter(w.txID)
		close(w.ready)
	}
}

// DetectAndAbortOne runs one pass of cycle detection over the wait-for
// graph; if a cycle exists it aborts the youngest transaction in it and
// reports the victim's id.
func (m *Manager) DetectAndAbortOne() (string, bool) {
	m.mu.Lock()
	cycle := m.graph.findCycle()
	if len(cycle) == 0 {
		m.mu.Unlock()
		return "", false
	}

	victim := m.youngest(cycle)

	for _, r := range m.resources {
		for e := r.waiters.Front(); e != nil; {
			next := e.Next()
			w := e.Value.(*waiter)
			if w.txID == victim {
				r.waiters.Remove(e)
				close(w.cancel)
			}
			e = next
		}
	}
	m.graph.removeWaiter(victim)
	m.mu.Unlock()

	metrics.DeadlocksTotal.Inc()
	return victim, true
}

func (m *Manager) youngest(txIDs []string) string {
	m.startTimesMu.Lock()
	defer m.startTimesMu.Unlock()

	var victim string
	var latest time.Time
	for _, id := range txIDs {
		t, ok := m.startTimes[id]
		if !ok {
			continue
		}
		if victim == "" || t.After(latest) {
			victim = id
			latest = t
		}
	}
	if victim == "" && len(txIDs) > 0 {
		victim = txIDs[0]
	}
	return victim
}

// RunDetector starts a background goroutine that scans for deadlocks every
// interval until ctx is cancelled. onVictim is called (if non-nil) for
// every aborted transaction id.
func (m *Manager) RunDetector(ctx context.Context, interval time.Duration, onVictim func(txID string)) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for {
					victim, found := m.DetectAndAbortOne()
					if !found {
						break
					}
					if onVictim != nil {
						onVictim(victim)
					}
				}
			}
		}
	}()
}
