// Package recovery is the ARIES-style crash recovery manager (spec §4.5):
// three passes over the write-ahead log — Analysis, Redo, Undo — that
// bring the page store back to "exactly the committed transactions, in
// LSN order" after an unclean shutdown.
package recovery

import (
	"sort"

	derrors "github.com/kastellan/docengine/pkg/errors"
	"github.com/kastellan/docengine/pkg/logging"
	"github.com/kastellan/docengine/pkg/page"
	"github.com/kastellan/docengine/pkg/wal"
	"github.com/rs/zerolog"
)

// txState accumulates everything the Analysis pass learns about one
// transaction as it scans forward through the log.
type txState struct {
	entries   []*wal.TransactionLogEntry // data ops only, in LSN order
	committed bool
}

// AnalysisResult is the Analysis pass's output: the last checkpoint LSN
// seen and, per transaction, its committed/active status and data ops.
type AnalysisResult struct {
	LastCheckpointLSN int64
	// Active holds only transactions that never reached Commit or
	// Rollback by the end of the log: these are undone.
	Active map[string][]*wal.TransactionLogEntry
	// committed is kept internally for Redo; not exported because Redo
	// needs the full entry set, not just the per-tx slice.
	committed map[string]bool
}

// Manager drives recovery over a WAL and the page store it protects.
type Manager struct {
	wal   *wal.Manager
	pages *page.Manager
	log   zerolog.Logger
}

// New wires a recovery manager to its WAL and page store collaborators.
func New(w *wal.Manager, p *page.Manager) *Manager {
	return &Manager{wal: w, pages: p, log: logging.WithComponent("recovery")}
}

// Analyze scans the full log forward, classifying every transaction
// mentioned as committed, rolled back, or still active, and records the
// most recent checkpoint LSN.
func (m *Manager) Analyze() (*AnalysisResult, error) {
	entries, err := m.wal.ReadEntries(0)
	if err != nil {
		return nil, derrors.Wrap(derrors.KindIO, "recovery.Analyze", err)
	}

	states := make(map[string]*txState)
	result := &AnalysisResult{committed: make(map[string]bool)}

	for _, e := range entries {
		switch e.Op {
		case wal.OpCheckpoint:
			result.LastCheckpointLSN = e.LSN
		case wal.OpCommit:
			st := states[e.TransactionID]
			if st == nil {
				st = &txState{}
				states[e.TransactionID] = st
			}
			st.committed = true
			result.committed[e.TransactionID] = true
		case wal.OpRollback:
			delete(states, e.TransactionID)
			delete(result.committed, e.TransactionID)
		default: // Insert, Update, Delete: marks the transaction active
			st := states[e.TransactionID]
			if st == nil {
				st = &txState{}
				states[e.TransactionID] = st
			}
			st.entries = append(st.entries, e)
		}
	}

	result.Active = make(map[string][]*wal.TransactionLogEntry)
	for txID, st := range states {
		if !st.committed {
			result.Active[txID] = st.entries
		}
	}
	return result, nil
}

// GetUncommittedTransactions exposes the Analysis pass's active set as a
// flat list of transaction ids.
func (m *Manager) GetUncommittedTransactions() ([]string, error) {
	res, err := m.Analyze()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(res.Active))
	for id := range res.Active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// IsRecoveryNeeded reports whether any transaction was left active by the
// last shutdown.
func (m *Manager) IsRecoveryNeeded() (bool, error) {
	res, err := m.Analyze()
	if err != nil {
		return false, err
	}
	return len(res.Active) > 0, nil
}

// applyImage decodes a full encoded page from buf and writes it via the
// page manager. An empty buf is a no-op (checkpoint/commit/rollback
// records and non-page-scoped entries carry no image).
func (m *Manager) applyImage(pageID int64, buf []byte) error {
	if pageID == wal.NoPage || len(buf) == 0 {
		return nil
	}
	p, err := page.Decode(buf)
	if err != nil {
		return err
	}
	return m.pages.WritePage(p)
}

// Redo replays every data op belonging to a committed transaction, from
// the last checkpoint forward, applying after-images to their pages.
// Writing the same bytes twice is a no-op in effect, so Redo is safe to
// run more than once.
func (m *Manager) Redo() error {
	analysis, err := m.Analyze()
	if err != nil {
		return err
	}

	entries, err := m.wal.ReadEntries(analysis.LastCheckpointLSN)
	if err != nil {
		return derrors.Wrap(derrors.KindIO, "recovery.Redo", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].LSN < entries[j].LSN })

	applied := 0
	for _, e := range entries {
		if !isDataOp(e.Op) || !analysis.committed[e.TransactionID] {
			continue
		}
		if err := m.applyImage(e.PageID, e.AfterImage); err != nil {
			return derrors.Wrap(derrors.KindIO, "recovery.Redo", err)
		}
		applied++
	}
	m.log.Info().Int("entries_applied", applied).Msg("redo pass complete")
	return nil
}

// Undo reverts every transaction the Analysis pass found still active, in
// reverse LSN order, then appends a Rollback record for it so a repeated
// recovery pass sees it as already resolved.
func (m *Manager) Undo() error {
	analysis, err := m.Analyze()
	if err != nil {
		return err
	}

	// Process transactions in a stable order for determinism; the undo
	// order *within* a transaction (reverse LSN) is what correctness
	// depends on.
	txIDs := make([]string, 0, len(analysis.Active))
	for id := range analysis.Active {
		txIDs = append(txIDs, id)
	}
	sort.Strings(txIDs)

	for _, txID := range txIDs {
		if err := m.undoEntries(txID, analysis.Active[txID]); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) undoEntries(txID string, entries []*wal.TransactionLogEntry) error {
	sorted := append([]*wal.TransactionLogEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LSN > sorted[j].LSN })

	for _, e := range sorted {
		if e.Op == wal.OpInsert && len(e.BeforeImage) == 0 {
			if e.PageID != wal.NoPage {
				if err := m.pages.FreePage(e.PageID); err != nil {
					return derrors.Wrap(derrors.KindIO, "recovery.Undo", err)
				}
			}
			continue
		}
		if err := m.applyImage(e.PageID, e.BeforeImage); err != nil {
			return derrors.Wrap(derrors.KindIO, "recovery.Undo", err)
		}
	}

	if _, err := m.wal.WriteEntry(&wal.TransactionLogEntry{
		TransactionID: txID,
		Op:            wal.OpRollback,
		PageID:        wal.NoPage,
	}); err != nil {
		return derrors.Wrap(derrors.KindIO, "recovery.Undo", err)
	}
	m.log.Info().Str("tx_id", txID).Int("entries_undone", len(sorted)).Msg("transaction rolled back by recovery")
	return nil
}

// RollbackTransaction undoes only the named transaction's entries, in
// reverse LSN order, independent of any Analysis pass.
func (m *Manager) RollbackTransaction(txID string) error {
	entries, err := m.entriesFor(txID)
	if err != nil {
		return err
	}
	return m.undoEntries(txID, entries)
}

// RedoTransaction replays only the named transaction's entries, in
// forward LSN order.
func (m *Manager) RedoTransaction(txID string) error {
	entries, err := m.entriesFor(txID)
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].LSN < entries[j].LSN })
	for _, e := range entries {
		if !isDataOp(e.Op) {
			continue
		}
		if err := m.applyImage(e.PageID, e.AfterImage); err != nil {
			return derrors.Wrap(derrors.KindIO, "recovery.RedoTransaction", err)
		}
	}
	return nil
}

func (m *Manager) entriesFor(txID string) ([]*wal.TransactionLogEntry, error) {
	all, err := m.wal.ReadEntries(0)
	if err != nil {
		return nil, derrors.Wrap(derrors.KindIO, "recovery.entriesFor", err)
	}
	var out []*wal.TransactionLogEntry
	for _, e := range all {
		if e.TransactionID == txID && isDataOp(e.Op) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Recover runs the full three-phase pass (Analysis is implicit in Redo and
// Undo) and reports whether any transaction required undoing.
func (m *Manager) Recover() (recovered bool, err error) {
	analysis, err := m.Analyze()
	if err != nil {
		return false, err
	}
	if err := m.Redo(); err != nil {
		return false, err
	}
	if err := m.Undo(); err != nil {
		return false, err
	}
	m.log.Info().
		Int("active_transactions", len(analysis.Active)).
		Int64("last_checkpoint_lsn", analysis.LastCheckpointLSN).
		Msg("recovery complete")
	return len(analysis.Active) > 0, nil
}

func isDataOp(op wal.Op) bool {
	switch op {
	case wal.OpInsert, wal.OpUpdate, wal.OpDelete:
		return true
	default:
		return false
	}
}
