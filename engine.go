// Package docengine composes the core subsystems (storage, pages, WAL,
// recovery, checkpointing, indexes, locking, MVCC, transactions) into the
// single embedded engine a caller opens, recovers, checkpoints and drives
// transactions and collections against. This is the "facade" spec §1
// calls out of scope for the core; it exists only as the minimal glue
// that exercises everything underneath it, mirroring the shape of the
// teacher's StorageEngine (pkg/storage/engine.go).
package docengine

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kastellan/docengine/pkg/checkpoint"
	"github.com/kastellan/docengine/pkg/collection"
	derrors "github.com/kastellan/docengine/pkg/errors"
	"github.com/kastellan/docengine/pkg/lockmgr"
	"github.com/kastellan/docengine/pkg/logging"
	"github.com/kastellan/docengine/pkg/metrics"
	"github.com/kastellan/docengine/pkg/mvcc"
	"github.com/kastellan/docengine/pkg/page"
	"github.com/kastellan/docengine/pkg/recovery"
	"github.com/kastellan/docengine/pkg/storageio"
	"github.com/kastellan/docengine/pkg/txn"
	"github.com/kastellan/docengine/pkg/wal"
	"github.com/rs/zerolog"
)

// Options configures Open, following the teacher's Default...Options
// option-struct pattern.
type Options struct {
	// Dir is the directory the engine's data and WAL files live in.
	Dir string

	MaxPageCacheSize int
	WALBufferSize    int
	Checkpoint       checkpoint.Options

	// DeadlockScanInterval is how often the background deadlock detector
	// scans the wait-for graph. Zero disables the background scan;
	// callers can still detect synchronously via lockmgr.
	DeadlockScanInterval time.Duration
}

// DefaultOptions returns sane defaults for an embedded single-node store.
func DefaultOptions(dir string) Options {
	return Options{
		Dir:                  dir,
		MaxPageCacheSize:     page.DefaultMaxCacheSize,
		WALBufferSize:        64 * 1024,
		Checkpoint:           checkpoint.DefaultOptions(),
		DeadlockScanInterval: time.Second,
	}
}

// Engine is the open, composed storage engine.
type Engine struct {
	opts Options
	log  zerolog.Logger

	storage  *storageio.File
	pages    *page.Manager
	wal      *wal.Manager
	locks    *lockmgr.Manager
	versions *mvcc.Manager
	txns     *txn.Manager
	recov    *recovery.Manager
	ckpt     *checkpoint.Manager

	cancelBackground context.CancelFunc

	mu          sync.Mutex
	collections map[string]*collection.Collection
}

// Open opens (creating if needed) the engine's data directory, replays
// the WAL if the last shutdown was unclean, and starts the background
// checkpoint and deadlock-detector loops.
func Open(opts Options) (*Engine, error) {
	const op = "docengine.Open"
	if opts.Dir == "" {
		return nil, derrors.New(derrors.KindInvalidArgument, op, "Dir must not be empty")
	}
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, derrors.Wrap(derrors.KindIO, op, err)
	}
	if opts.MaxPageCacheSize <= 0 {
		opts.MaxPageCacheSize = page.DefaultMaxCacheSize
	}
	if opts.WALBufferSize <= 0 {
		opts.WALBufferSize = 64 * 1024
	}

	storage, err := storageio.Open(filepath.Join(opts.Dir, "data.db"))
	if err != nil {
		return nil, err
	}

	pages, err := page.Open(storage, opts.MaxPageCacheSize)
	if err != nil {
		storage.Close()
		return nil, err
	}

	walOpts := wal.Options{Path: filepath.Join(opts.Dir, "wal.log"), BufferSize: opts.WALBufferSize}
	w, err := wal.Open(walOpts)
	if err != nil {
		storage.Close()
		return nil, err
	}

	locks := lockmgr.New()
	versions := mvcc.New()
	txns := txn.NewManager(locks, versions, w, nil)
	recov := recovery.New(w, pages)

	e := &Engine{
		opts:        opts,
		log:         logging.WithComponent("engine"),
		storage:     storage,
		pages:       pages,
		wal:         w,
		locks:       locks,
		versions:    versions,
		txns:        txns,
		recov:       recov,
		collections: make(map[string]*collection.Collection),
	}

	e.ckpt = checkpoint.New(w, pages, opts.Checkpoint, e.onCheckpointCompleted)

	if _, err := e.Recover(); err != nil {
		storage.Close()
		w.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancelBackground = cancel
	e.ckpt.Run(ctx)
	if opts.DeadlockScanInterval > 0 {
		e.txns.RunDeadlockDetector(ctx, opts.DeadlockScanInterval)
	}

	e.log.Info().Str("dir", opts.Dir).Msg("engine opened")
	return e, nil
}

func (e *Engine) onCheckpointCompleted(c checkpoint.Completed) {
	metrics.CheckpointDuration.Observe(c.Duration.Seconds())
	outcome := "success"
	if !c.Success {
		outcome = "failure"
	}
	metrics.CheckpointsTotal.WithLabelValues(outcome).Inc()
	if size, err := e.wal.FileSize(); err == nil {
		metrics.WALSizeBytes.Set(float64(size))
	}
}

// Recover runs ARIES recovery over the WAL and page store, reporting
// whether any transaction had to be undone.
func (e *Engine) Recover() (bool, error) {
	return e.recov.Recover()
}

// Checkpoint forces an out-of-band checkpoint.
func (e *Engine) Checkpoint(ctx context.Context) error {
	return e.ckpt.Checkpoint(ctx)
}

// BeginTransaction starts a new transaction at the given isolation level.
func (e *Engine) BeginTransaction(isolation mvcc.IsolationLevel) *txn.Transaction {
	return e.txns.Begin(isolation)
}

// Collection returns the named collection, creating it on first use.
func (e *Engine) Collection(name string) *collection.Collection {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.collections[name]
	if !ok {
		c = collection.New(name, e.txns, e.versions)
		e.collections[name] = c
	}
	return c
}

// Vacuum reclaims version-chain entries no active transaction's snapshot
// can still see.
func (e *Engine) Vacuum() (int, error) {
	return e.versions.Vacuum(e.txns.OldestActiveSnapshot())
}

// Close stops background loops, flushes everything durable, and releases
// file handles.
func (e *Engine) Close() error {
	if e.cancelBackground != nil {
		e.cancelBackground()
	}

	var firstErr error
	note := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	note(e.pages.Close())
	note(e.wal.Close())
	note(e.storage.Close())

	e.log.Info().Msg("engine closed")
	return firstErr
}
