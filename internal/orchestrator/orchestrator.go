// Package orchestrator drives jobs through the extraction pipeline: claim,
// validate, preprocess, OCR, parse, and the terminal store write.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fieldline/crm-ocr/constants"
	"github.com/fieldline/crm-ocr/internal/common"
	"github.com/fieldline/crm-ocr/internal/entity"
	"github.com/fieldline/crm-ocr/internal/metrics"
	"github.com/fieldline/crm-ocr/internal/ocr"
	"github.com/fieldline/crm-ocr/internal/parse"
	"github.com/fieldline/crm-ocr/internal/preprocess"
	"github.com/fieldline/crm-ocr/internal/queue"
	"github.com/fieldline/crm-ocr/internal/store"
	"github.com/fieldline/crm-ocr/internal/validate"
)

// Config tunes the worker pool.
type Config struct {
	Concurrency  int
	JobTimeout   time.Duration
	RetryBackoff time.Duration
	// BatchSize bounds each page of the pending-recovery scan.
	BatchSize int
}

func (c *Config) applyDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 3 * time.Minute
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 30 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
}

// Orchestrator owns the worker pool and the per-job state transitions.
type Orchestrator struct {
	cfg    Config
	store  store.JobStore
	queue  queue.Queue
	limits validate.Limits
	pre    *preprocess.Pipeline
	engine ocr.Engine
	parser *parse.Extractor
	log    *slog.Logger

	wg      sync.WaitGroup
	retryWG sync.WaitGroup
}

// New wires the pipeline components into an orchestrator.
func New(cfg Config, st store.JobStore, q queue.Queue, limits validate.Limits,
	pre *preprocess.Pipeline, engine ocr.Engine, parser *parse.Extractor, log *slog.Logger) *Orchestrator {
	cfg.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		cfg:    cfg,
		store:  st,
		queue:  q,
		limits: limits,
		pre:    pre,
		engine: engine,
		parser: parser,
		log:    log,
	}
}

// Start launches the worker pool and recovers pending work into the queue.
// Workers come up first so a backlog larger than the queue capacity cannot
// wedge the recovery scan. Stop blocks until workers drain.
func (o *Orchestrator) Start(ctx context.Context) error {
	for i := 0; i < o.cfg.Concurrency; i++ {
		o.wg.Add(1)
		go o.worker(ctx, i)
	}

	if err := o.recoverPending(ctx); err != nil {
		return err
	}
	o.log.Info("orchestrator started", "concurrency", o.cfg.Concurrency, "engine", o.engine.Name())
	return nil
}

// Stop waits for in-flight jobs and pending retry timers to settle.
func (o *Orchestrator) Stop() {
	o.wg.Wait()
	o.retryWG.Wait()
	o.log.Info("orchestrator stopped")
}

// recoverPending re-enqueues jobs that were pending when the previous
// process died, paging through the whole backlog. The queue payload is
// only an ID, so duplicates collapse at claim time.
func (o *Orchestrator) recoverPending(ctx context.Context) error {
	var after time.Time
	total := 0
	for {
		jobs, err := o.store.PendingBatch(ctx, after, o.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("recover pending jobs: %w", err)
		}
		for _, job := range jobs {
			if err := o.queue.Enqueue(ctx, job.ID); err != nil {
				return fmt.Errorf("enqueue recovered job %s: %w", job.ID, err)
			}
			after = job.CreatedAt
		}
		total += len(jobs)
		if len(jobs) < o.cfg.BatchSize {
			break
		}
	}
	if total > 0 {
		o.log.Info("recovered pending jobs", "count", total)
	}
	return nil
}

func (o *Orchestrator) worker(ctx context.Context, id int) {
	defer o.wg.Done()
	log := o.log.With("worker", id)
	log.Debug("worker started")

	for {
		jobID, err := o.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, queue.ErrClosed) {
				log.Debug("worker stopping", "reason", err)
				return
			}
			log.Error("dequeue failed", "err", err)
			continue
		}
		o.handle(ctx, log, jobID)
	}
}

func (o *Orchestrator) handle(ctx context.Context, log *slog.Logger, jobID uuid.UUID) {
	job, err := o.store.Claim(ctx, jobID)
	if errors.Is(err, store.ErrJobAlreadyClaimed) || errors.Is(err, store.ErrJobNotFound) {
		log.Debug("skipping job", "job_id", jobID, "reason", err)
		return
	}
	if err != nil {
		log.Error("claim failed", "job_id", jobID, "err", err)
		return
	}

	start := time.Now()
	jobCtx, cancel := context.WithTimeout(ctx, o.cfg.JobTimeout)
	res, err := o.process(jobCtx, log, job)
	cancel()
	elapsed := time.Since(start).Seconds()

	if err != nil {
		o.fail(ctx, log, job, err, elapsed, start)
		return
	}

	res.ProcessingTime = elapsed
	if err := o.store.MarkCompleted(context.WithoutCancel(ctx), job.ID, *res); err != nil {
		log.Error("completion write failed", "job_id", job.ID, "err", err)
		return
	}
	metrics.RecordJob("completed", start)
	metrics.RecordConfidence(res.Confidence)
	log.Info("job processed",
		"job_id", job.ID,
		"confidence", res.Confidence,
		"duration_s", fmt.Sprintf("%.2f", elapsed),
	)
}

// process runs the four pipeline stages. Any returned error has already
// been classified: validation errors are permanent, everything else is
// retryable.
func (o *Orchestrator) process(ctx context.Context, log *slog.Logger, job *entity.Job) (*store.Completion, error) {
	stageStart := time.Now()
	if vres := validate.Check(job.ImagePath, o.limits); !vres.OK {
		// The reason embeds the file path; it must never hit printf.
		return nil, common.NewValidationError("%s", vres.Reason)
	}
	metrics.RecordStage("validate", stageStart)

	if err := ctx.Err(); err != nil {
		return nil, common.NewProcessingError("validate", err)
	}

	stageStart = time.Now()
	processed, err := o.pre.FromFile(job.ImagePath)
	if err != nil {
		return nil, common.NewProcessingError("preprocess", err)
	}
	metrics.RecordStage("preprocess", stageStart)

	if err := ctx.Err(); err != nil {
		return nil, common.NewProcessingError("preprocess", err)
	}

	stageStart = time.Now()
	text, err := o.engine.ExtractText(ctx, processed)
	if err != nil {
		return nil, common.NewProcessingError("ocr", err)
	}
	metrics.RecordStage("ocr", stageStart)

	stageStart = time.Now()
	data, confidence := o.parser.Extract(text)
	payload, err := data.Marshal()
	if err != nil {
		return nil, common.NewProcessingError("parse", err)
	}
	metrics.RecordStage("parse", stageStart)

	log.Debug("extraction finished",
		"job_id", job.ID,
		"provider", data.Provider,
		"amount", data.Amount,
		"chars", len(text),
	)

	return &store.Completion{
		ExtractedData: payload,
		RawText:       text,
		Confidence:    confidence,
		EngineName:    o.engine.Name(),
	}, nil
}

// fail writes the terminal failure and schedules an automatic retry when
// the error is retryable and the job is still under the ceiling.
func (o *Orchestrator) fail(ctx context.Context, log *slog.Logger, job *entity.Job, procErr error, elapsed float64, start time.Time) {
	permanent := !common.IsRetryable(procErr)
	// the failure must land even when shutdown cancels the worker context
	if err := o.store.MarkFailed(context.WithoutCancel(ctx), job.ID, procErr.Error(), elapsed, permanent); err != nil {
		log.Error("failure write failed", "job_id", job.ID, "err", err)
		return
	}
	metrics.RecordJob("failed", start)
	log.Warn("job failed",
		"job_id", job.ID,
		"attempt", job.RetryCount+1,
		"permanent", permanent,
		"err", procErr,
	)

	if permanent {
		return
	}
	if job.RetryCount+1 >= constants.MaxAttempts {
		log.Warn("retry ceiling reached", "job_id", job.ID, "retry_count", job.RetryCount+1)
		return
	}

	o.retryWG.Add(1)
	go func() {
		defer o.retryWG.Done()
		select {
		case <-time.After(o.cfg.RetryBackoff):
		case <-ctx.Done():
			return
		}
		if err := o.store.Requeue(ctx, job.ID); err != nil {
			// ErrNotFailed means maintenance already moved the job
			if !errors.Is(err, store.ErrNotFailed) {
				log.Error("retry requeue failed", "job_id", job.ID, "err", err)
			}
			return
		}
		if err := o.queue.Enqueue(ctx, job.ID); err != nil {
			log.Error("retry enqueue failed", "job_id", job.ID, "err", err)
			return
		}
		metrics.RecordRetry()
		log.Info("job re-queued for retry", "job_id", job.ID, "attempt", job.RetryCount+2)
	}()
}
