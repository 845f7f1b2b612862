// Package checkpoint is the Checkpoint Manager (spec §4.6): periodic
// (and size-triggered) compaction of the WAL by flushing dirty pages and
// writing a checkpoint record, guarded by a single-slot semaphore so at
// most one checkpoint ever runs at a time.
package checkpoint

import (
	"context"
	"sync"
	"time"

	derrors "github.com/kastellan/docengine/pkg/errors"
	"github.com/kastellan/docengine/pkg/logging"
	"github.com/kastellan/docengine/pkg/page"
	"github.com/kastellan/docengine/pkg/wal"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// DefaultInterval is the periodic checkpoint timer's default period.
const DefaultInterval = 5 * time.Minute

// DefaultMaxWALSize is the size-based trigger: once the WAL has grown
// this much since the last checkpoint, one runs early.
const DefaultMaxWALSize = 64 * 1024 * 1024

// AcquireTimeout bounds how long Checkpoint waits for the single
// checkpoint slot before abandoning the attempt.
const AcquireTimeout = 30 * time.Second

// Options configures a Manager, following the teacher's
// Default...Options() construction pattern.
type Options struct {
	Interval    time.Duration
	MaxWALSize  int64
	PollJitter  time.Duration // how often the background loop re-checks the size trigger
}

// DefaultOptions returns the spec's defaults: a 5-minute timer and a
// 64 MiB size trigger.
func DefaultOptions() Options {
	return Options{
		Interval:   DefaultInterval,
		MaxWALSize: DefaultMaxWALSize,
		PollJitter: 10 * time.Second,
	}
}

// Completed is the notification emitted after every checkpoint attempt,
// successful or not.
type Completed struct {
	LSN      int64
	Duration time.Duration
	Success  bool
}

// Manager drives checkpoints over a WAL and page store.
type Manager struct {
	wal    *wal.Manager
	pages  *page.Manager
	opts   Options
	notify func(Completed)
	log    zerolog.Logger

	sem *semaphore.Weighted

	mu                 sync.Mutex
	lastCheckpointLSN  int64
	lastCheckpointSize int64
	lastRecordLSN      int64 // LSN of the checkpoint record this manager last wrote
}

// New wires a checkpoint manager to its WAL and page store collaborators.
// notify may be nil.
func New(w *wal.Manager, p *page.Manager, opts Options, notify func(Completed)) *Manager {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.MaxWALSize <= 0 {
		opts.MaxWALSize = DefaultMaxWALSize
	}
	if opts.PollJitter <= 0 {
		opts.PollJitter = 10 * time.Second
	}
	return &Manager{
		wal:    w,
		pages:  p,
		opts:   opts,
		notify: notify,
		log:    logging.WithComponent("checkpoint"),
		sem:    semaphore.NewWeighted(1),
	}
}

// LastCheckpointLSN returns the LSN of the most recently completed
// checkpoint (0 if none has run yet).
func (m *Manager) LastCheckpointLSN() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCheckpointLSN
}

// Checkpoint acquires the single checkpoint slot (waiting up to
// AcquireTimeout, else abandoning the attempt), and if the WAL has
// advanced since the last checkpoint: flushes dirty pages, flushes the
// WAL, writes a checkpoint record, and advances the watermark. If the
// last LSN is unchanged since the last checkpoint (the checkpoint's own
// record does not count as a change) it returns success without doing
// any work. On any error the last-checkpoint LSN is left untouched.
func (m *Manager) Checkpoint(ctx context.Context) error {
	const op = "checkpoint.Checkpoint"

	acquireCtx, cancel := context.WithTimeout(ctx, AcquireTimeout)
	defer cancel()
	if err := m.sem.Acquire(acquireCtx, 1); err != nil {
		return derrors.New(derrors.KindTimeout, op, "timed out waiting for checkpoint slot")
	}
	defer m.sem.Release(1)

	start := time.Now()
	lastLSN := m.wal.GetLastLSN()

	m.mu.Lock()
	unchanged := lastLSN == m.lastCheckpointLSN || lastLSN == m.lastRecordLSN
	m.mu.Unlock()
	if unchanged {
		m.report(Completed{LSN: lastLSN, Duration: time.Since(start), Success: true})
		return nil
	}

	recordLSN, err := m.run(lastLSN)
	duration := time.Since(start)
	success := err == nil

	if success {
		size, sizeErr := m.wal.FileSize()
		m.mu.Lock()
		m.lastCheckpointLSN = lastLSN
		m.lastRecordLSN = recordLSN
		if sizeErr == nil {
			m.lastCheckpointSize = size
		}
		m.mu.Unlock()
		m.log.Info().Int64("lsn", lastLSN).Dur("duration", duration).Msg("checkpoint completed")
	} else {
		m.log.Error().Err(err).Int64("lsn", lastLSN).Msg("checkpoint failed")
	}

	m.report(Completed{LSN: lastLSN, Duration: duration, Success: success})
	if err != nil {
		return derrors.Wrap(derrors.KindIO, op, err)
	}
	return nil
}

func (m *Manager) run(lsn int64) (int64, error) {
	if err := m.pages.Flush(); err != nil {
		return 0, err
	}
	if err := m.wal.Sync(); err != nil {
		return 0, err
	}
	return m.wal.Checkpoint(lsn)
}

func (m *Manager) report(c Completed) {
	if m.notify != nil {
		m.notify(c)
	}
}

// sizeSinceLastCheckpoint estimates how much the WAL has grown since the
// last completed checkpoint.
func (m *Manager) sizeSinceLastCheckpoint() (int64, error) {
	size, err := m.wal.FileSize()
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delta := size - m.lastCheckpointSize
	if delta < 0 {
		delta = size // WAL was truncated since the last measurement
	}
	return delta, nil
}

// Run starts a background loop that checkpoints every opts.Interval, and
// early whenever the size-based trigger fires, until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.opts.PollJitter)
	go func() {
		defer ticker.Stop()
		var lastPeriodic time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				due := now.Sub(lastPeriodic) >= m.opts.Interval
				grown, err := m.sizeSinceLastCheckpoint()
				triggered := err == nil && grown > m.opts.MaxWALSize
				if due || triggered {
					if err := m.Checkpoint(ctx); err == nil {
						lastPeriodic = now
					}
				}
			}
		}
	}()
}
