// Package mvcc is the Version Manager (spec §4.10): per-key chains of
// committed versions ordered newest-first by commit timestamp, with
// snapshot-isolated visibility and tombstone-based deletion.
package mvcc

import (
	"sync"
	"time"

	derrors "github.com/kastellan/docengine/pkg/errors"
)

// IsolationLevel controls which version of a key a reader sees.
type IsolationLevel int

const (
	ReadUncommitted IsolationLevel = iota
	ReadCommitted
	RepeatableRead
	Serializable
)

// Version is one entry in a key's version chain. Head is newest; Prev
// points toward older, strictly-decreasing commit timestamps.
type Version struct {
	Data      []byte
	WriterTx  string
	CommitTS  int64
	Tombstone bool
	Prev      *Version
}

// Manager holds one version chain per key.
type Manager struct {
	mu     sync.RWMutex
	chains map[string]*Version
}

// New creates an empty version manager.
func New() *Manager {
	return &Manager{chains: make(map[string]*Version)}
}

// PutVersion prepends a new committed version onto key's chain.
func (m *Manager) PutVersion(key string, data []byte, writerTx string, commitTS int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chains[key] = &Version{
		Data:     append([]byte(nil), data...),
		WriterTx: writerTx,
		CommitTS: commitTS,
		Prev:     m.chains[key],
	}
}

// MarkDeleted prepends a tombstone version onto key's chain.
func (m *Manager) MarkDeleted(key string, writerTx string, commitTS int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chains[key] = &Version{
		WriterTx:  writerTx,
		CommitTS:  commitTS,
		Tombstone: true,
		Prev:      m.chains[key],
	}
}

// VisibleVersion returns the version of key visible under isolation at
// readerSnapshotTS (ignored for ReadUncommitted/ReadCommitted, which
// always see the newest already-committed version). A tombstone, or no
// matching version, reports found=false.
func (m *Manager) VisibleVersion(key string, readerSnapshotTS int64, isolation IsolationLevel) (data []byte, found bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v := m.chains[key]
	if v == nil {
		return nil, false
	}

	switch isolation {
	case ReadUncommitted, ReadCommitted:
		// The chain only holds committed versions, so the head is simply
		// the newest one, as long as it's not already in the future
		// (clock skew across writers is not modeled here).
		if v.Tombstone {
			return nil, false
		}
		return append([]byte(nil), v.Data...), true
	default: // RepeatableRead, Serializable
		for cur := v; cur != nil; cur = cur.Prev {
			if cur.CommitTS <= readerSnapshotTS {
				if cur.Tombstone {
					return nil, false
				}
				return append([]byte(nil), cur.Data...), true
			}
		}
		return nil, false
	}
}

// Exists reports whether key currently has a non-tombstone version
// visible to ReadCommitted readers, without copying the data.
func (m *Manager) Exists(key string) bool {
	_, ok := m.VisibleVersion(key, 0, ReadCommitted)
	return ok
}

// Now is the commit-timestamp clock: a strictly monotonic nanosecond
// counter so commit timestamps never collide or go backwards even for
// back-to-back commits within the same nanosecond.
var nowMu sync.Mutex
var lastNow int64

func Now() int64 {
	nowMu.Lock()
	defer nowMu.Unlock()
	t := time.Now().UnixNano()
	if t <= lastNow {
		t = lastNow + 1
	}
	lastNow = t
	return t
}

// Vacuum drops chain entries strictly older than minActiveSnapshotTS —
// the oldest snapshot timestamp among still-active transactions — since
// no live reader can ever need them again. It keeps, for every key, the
// newest version with CommitTS <= minActiveSnapshotTS (a RepeatableRead
// transaction at exactly that snapshot still needs it); if that
// retained version is a tombstone and also the newest version of the
// key, the whole key is dropped.
// Keys whose entire chain is newer than the watermark are untouched.
func (m *Manager) Vacuum(minActiveSnapshotTS int64) (collected int, err error) {
	if minActiveSnapshotTS < 0 {
		return 0, derrors.New(derrors.KindInvalidArgument, "mvcc.Vacuum", "negative watermark")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for key, head := range m.chains {
		// Find the newest version at or below the watermark; everything
		// older than it (its Prev chain) is unreachable by any live
		// reader and can be dropped.
		var keep *Version
		for cur := head; cur != nil; cur = cur.Prev {
			if cur.CommitTS <= minActiveSnapshotTS {
				keep = cur
				break
			}
		}
		if keep == nil {
			// Nothing old enough to collect under this key yet.
			continue
		}

		for cur := keep.Prev; cur != nil; cur = cur.Prev {
			collected++
		}
		keep.Prev = nil

		if keep == head && keep.Tombstone {
			delete(m.chains, key)
			collected++
		}
	}
	return collected, nil
}
