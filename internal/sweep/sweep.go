// Package sweep runs the periodic maintenance passes: automatic retries,
// stuck-job release, and retention cleanup.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fieldline/crm-ocr/constants"
	"github.com/fieldline/crm-ocr/internal/metrics"
	"github.com/fieldline/crm-ocr/internal/queue"
	"github.com/fieldline/crm-ocr/internal/store"
)

// Config tunes the sweeper cadence and windows.
type Config struct {
	Interval   time.Duration
	StaleAfter time.Duration
	// PendingAfter is how long a job may sit pending before the sweeper
	// re-enqueues it as an orphan.
	PendingAfter time.Duration
	Retention    time.Duration
	BatchSize    int
	RemoveFiles  bool
	StaleMessage string
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 15 * time.Minute
	}
	if c.PendingAfter <= 0 {
		c.PendingAfter = 10 * time.Minute
	}
	if c.Retention <= 0 {
		c.Retention = 30 * 24 * time.Hour
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.StaleMessage == "" {
		c.StaleMessage = "processing timed out; worker lost"
	}
}

// Sweeper owns the maintenance loop. Only the lock holder sweeps in a
// multi-process deployment.
type Sweeper struct {
	cfg   Config
	store store.JobStore
	queue queue.Queue
	lock  *LeaderLock
	log   *slog.Logger
	now   func() time.Time
}

// New builds a sweeper; lock may be nil for single-process deployments.
func New(cfg Config, st store.JobStore, q queue.Queue, lock *LeaderLock, log *slog.Logger) *Sweeper {
	cfg.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		cfg:   cfg,
		store: st,
		queue: q,
		lock:  lock,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Run blocks until the context is canceled, sweeping on each tick.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	s.log.Info("sweeper started", "interval", s.cfg.Interval)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one full maintenance pass if this instance wins the lock.
func (s *Sweeper) Sweep(ctx context.Context) {
	ok, err := s.lock.Acquire(ctx)
	if err != nil {
		s.log.Error("leader lock acquire failed", "err", err)
		return
	}
	if !ok {
		s.log.Debug("sweep skipped; another instance holds the lock")
		return
	}
	defer func() {
		if err := s.lock.Release(ctx); err != nil {
			s.log.Warn("leader lock release failed", "err", err)
		}
	}()

	// Stale release runs first so the retry pass can pick up what it frees.
	if err := s.releaseStale(ctx); err != nil {
		s.log.Error("stale sweep failed", "err", err)
	}
	if err := s.retryFailed(ctx); err != nil {
		s.log.Error("retry sweep failed", "err", err)
	}
	if err := s.requeuePending(ctx); err != nil {
		s.log.Error("pending sweep failed", "err", err)
	}

	// The retention pass can remove many files; extend the lock before it.
	if ok, err := s.lock.Refresh(ctx); err != nil {
		s.log.Warn("leader lock refresh failed", "err", err)
	} else if !ok {
		s.log.Warn("leader lock lost; skipping retention pass")
		return
	}
	if err := s.purgeExpired(ctx); err != nil {
		s.log.Error("retention sweep failed", "err", err)
	}
}

// requeuePending re-enqueues jobs that sat pending past the window: their
// enqueue after create failed, or their queue delivery was lost. Startup
// recovery handles the restart case; this backstops the running process.
func (s *Sweeper) requeuePending(ctx context.Context) error {
	cutoff := s.now().Add(-s.cfg.PendingAfter)
	orphans, err := s.store.StalePending(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("list orphaned pending jobs: %w", err)
	}
	for _, job := range orphans {
		if err := s.queue.Enqueue(ctx, job.ID); err != nil {
			s.log.Warn("orphan enqueue failed", "job_id", job.ID, "err", err)
			continue
		}
		metrics.RecordSweep("pending")
		s.log.Info("orphaned pending job re-queued", "job_id", job.ID, "pending_since", job.UpdatedAt)
	}
	return nil
}

// retryFailed re-queues failed jobs still under the retry ceiling. It
// backstops the in-process retry timers, which die with their worker.
func (s *Sweeper) retryFailed(ctx context.Context) error {
	candidates, err := s.store.FailedRetryable(ctx, s.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("list retryable jobs: %w", err)
	}
	for _, job := range candidates {
		if !job.Retryable(constants.MaxAttempts) {
			continue
		}
		if err := s.store.Requeue(ctx, job.ID); err != nil {
			s.log.Warn("requeue failed", "job_id", job.ID, "err", err)
			continue
		}
		if err := s.queue.Enqueue(ctx, job.ID); err != nil {
			s.log.Warn("enqueue failed", "job_id", job.ID, "err", err)
			continue
		}
		metrics.RecordSweep("retry")
		s.log.Info("failed job re-queued", "job_id", job.ID, "retry_count", job.RetryCount)
	}
	return nil
}

// releaseStale fails jobs stuck in processing beyond the stale window so
// they become visible to the retry sweep or to manual reprocessing.
func (s *Sweeper) releaseStale(ctx context.Context) error {
	cutoff := s.now().Add(-s.cfg.StaleAfter)
	stuck, err := s.store.StaleProcessing(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("list stale jobs: %w", err)
	}
	for _, job := range stuck {
		if err := s.store.MarkFailed(ctx, job.ID, s.cfg.StaleMessage, 0, false); err != nil {
			s.log.Warn("stale release failed", "job_id", job.ID, "err", err)
			continue
		}
		metrics.RecordSweep("stale")
		s.log.Warn("stale processing job released",
			"job_id", job.ID,
			"stuck_since", job.UpdatedAt,
		)
	}
	return nil
}

// purgeExpired soft-deletes terminal jobs past retention and removes their
// source files.
func (s *Sweeper) purgeExpired(ctx context.Context) error {
	cutoff := s.now().Add(-s.cfg.Retention)
	expired, err := s.store.ExpiredTerminal(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("list expired jobs: %w", err)
	}
	for _, job := range expired {
		if err := s.store.SoftDelete(ctx, job.TenantID, job.ID); err != nil {
			s.log.Warn("retention delete failed", "job_id", job.ID, "err", err)
			continue
		}
		if s.cfg.RemoveFiles && job.ImagePath != "" {
			if err := os.Remove(job.ImagePath); err != nil && !os.IsNotExist(err) {
				s.log.Warn("image file removal failed", "path", job.ImagePath, "err", err)
			}
		}
		metrics.RecordSweep("purge")
		s.log.Info("expired job purged", "job_id", job.ID, "last_touched", job.UpdatedAt)
	}
	return nil
}
