// Package cron keeps scheduled reminders in step with the course collection:
// it re-syncs after every published snapshot and on a fixed interval.
package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gmsas95/asit/internal/course"
	"github.com/gmsas95/asit/internal/courses"
)

// Config holds sync runner configuration
type Config struct {
	Interval time.Duration // time between periodic syncs
	Buffer   int           // snapshot channel capacity
}

// Source publishes course snapshots
type Source interface {
	Snapshot() courses.Snapshot
	Subscribe(buffer int) (<-chan courses.Snapshot, func())
}

// Syncer reconciles the notification gateway against a course list
type Syncer interface {
	SyncAll(ctx context.Context, courses []*course.Course) error
}

// Runner drives reminder syncs from one goroutine so they never overlap
type Runner struct {
	config Config
	source Source
	syncer Syncer
	logger *zap.Logger

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.RWMutex

	lastVersion uint64
	lastSync    time.Time
}

// NewRunner creates a sync runner
func NewRunner(config Config, source Source, syncer Syncer, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Interval <= 0 {
		config.Interval = 15 * time.Minute
	}
	if config.Buffer <= 0 {
		config.Buffer = 4
	}
	return &Runner{
		config: config,
		source: source,
		syncer: syncer,
		logger: logger,
	}
}

// Start subscribes to snapshots and runs an initial sync on the runner goroutine.
// A stopped runner can be started again.
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("sync runner already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	snapshots, unsubscribe := r.source.Subscribe(r.config.Buffer)
	r.cancel = cancel
	r.running = true
	r.wg.Add(1)
	go r.run(ctx, snapshots, unsubscribe)

	return nil
}

func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel := r.cancel
	r.mu.Unlock()

	cancel()
	r.wg.Wait()
	r.logger.Info("Sync runner stopped")
}

func (r *Runner) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// LastSync returns the version and time of the last successful sync
func (r *Runner) LastSync() (uint64, time.Time) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastVersion, r.lastSync
}

func (r *Runner) run(ctx context.Context, snapshots <-chan courses.Snapshot, unsubscribe func()) {
	defer r.wg.Done()
	defer unsubscribe()

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	r.sync(ctx, r.source.Snapshot(), "start")

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			r.mu.RLock()
			seen := snap.Version <= r.lastVersion && !r.lastSync.IsZero()
			r.mu.RUnlock()
			if seen {
				continue
			}
			r.sync(ctx, snap, "snapshot")
		case <-ticker.C:
			r.sync(ctx, r.source.Snapshot(), "interval")
		}
	}
}

func (r *Runner) sync(ctx context.Context, snap courses.Snapshot, trigger string) {
	start := time.Now()
	if err := r.syncer.SyncAll(ctx, snap.Courses); err != nil {
		r.logger.Warn("Reminder sync failed",
			zap.String("trigger", trigger),
			zap.Uint64("version", snap.Version),
			zap.Error(err))
		return
	}

	r.mu.Lock()
	r.lastVersion = snap.Version
	r.lastSync = time.Now()
	r.mu.Unlock()

	r.logger.Debug("Reminders synced",
		zap.String("trigger", trigger),
		zap.Uint64("version", snap.Version),
		zap.Int("courses", len(snap.Courses)),
		zap.Duration("duration", time.Since(start)))
}
