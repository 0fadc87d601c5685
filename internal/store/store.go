package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/fieldline/crm-ocr/constants"
	"github.com/fieldline/crm-ocr/internal/entity"
)

var (
	ErrJobNotFound = errors.New("job not found")
	// ErrJobAlreadyClaimed means the pending->processing claim hit a row that
	// was no longer pending. Duplicate queue delivery degrades to this.
	ErrJobAlreadyClaimed = errors.New("job already claimed or not pending")
	// ErrNotCompleted rejects confirmation of a job outside the completed state.
	ErrNotCompleted = errors.New("job is not completed")
	// ErrNotFailed rejects re-queueing of a job that has not failed.
	ErrNotFailed = errors.New("job is not failed")
)

// JobStore is the durable persistence and query surface for job records.
type JobStore interface {
	Create(ctx context.Context, job *entity.Job) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*entity.Job, error)

	// Claim atomically moves a pending job to processing. The write lands
	// before any pipeline work begins, so a crashed worker leaves a visible
	// stuck-in-processing row rather than silent loss.
	Claim(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, res Completion) error
	MarkFailed(ctx context.Context, id uuid.UUID, message string, seconds float64, permanent bool) error

	// Confirm attaches user-validated data to a completed job. Any other
	// status is rejected with ErrNotCompleted.
	Confirm(ctx context.Context, tenantID, id uuid.UUID, confirmed json.RawMessage) error

	// PendingBatch returns pending jobs created after the given time,
	// oldest-first, bounded by limit. A zero time starts from the beginning;
	// passing the last row's CreatedAt pages through a large backlog.
	PendingBatch(ctx context.Context, after time.Time, limit int) ([]*entity.Job, error)
	// StalePending returns pending jobs untouched since before cutoff:
	// either the enqueue after create failed or the queue delivery was lost.
	StalePending(ctx context.Context, cutoff time.Time, limit int) ([]*entity.Job, error)
	// FailedRetryable returns failed jobs still under the retry ceiling.
	FailedRetryable(ctx context.Context, limit int) ([]*entity.Job, error)
	// StaleProcessing returns jobs stuck in processing since before cutoff;
	// evidence of a dead worker.
	StaleProcessing(ctx context.Context, cutoff time.Time, limit int) ([]*entity.Job, error)
	// ExpiredTerminal returns completed or failed jobs last touched before
	// cutoff, for retention cleanup.
	ExpiredTerminal(ctx context.Context, cutoff time.Time, limit int) ([]*entity.Job, error)

	// Requeue moves a failed job back to pending, keeping its retry count.
	Requeue(ctx context.Context, id uuid.UUID) error
	// Reprocess is the explicit maintenance re-queue: it ignores the retry
	// ceiling but never resets the counter.
	Reprocess(ctx context.Context, tenantID, id uuid.UUID) error

	SoftDelete(ctx context.Context, tenantID, id uuid.UUID) error
}

// Completion carries the terminal success write: everything lands in one update.
type Completion struct {
	ExtractedData  json.RawMessage
	RawText        string
	Confidence     float32
	EngineName     string
	ProcessingTime float64
}

type sqlJobStore struct {
	db  *sqlx.DB
	log *slog.Logger
	now func() time.Time
}

// NewJobStore builds the SQL-backed store.
func NewJobStore(db *sqlx.DB, log *slog.Logger) JobStore {
	if log == nil {
		log = slog.Default()
	}
	return &sqlJobStore{db: db, log: log, now: func() time.Time { return time.Now().UTC() }}
}

var maxAttemptsSQL = strconv.Itoa(constants.MaxAttempts)

const jobColumns = `id, tenant_id, user_id, image_path, original_filename, file_size, mime_type,
	status, retry_count, error_message, processing_time,
	confidence, extracted_data, raw_text, engine_name,
	is_confirmed, confirmed_data, created_at, updated_at, deleted_at`

func (s *sqlJobStore) Create(ctx context.Context, job *entity.Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	now := s.now()
	job.Status = string(constants.JobStatusPending)
	job.RetryCount = 0
	job.CreatedAt = now
	job.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ocr_jobs (
			id, tenant_id, user_id, image_path, original_filename, file_size, mime_type,
			status, retry_count, is_confirmed, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		job.ID, job.TenantID, job.UserID,
		job.ImagePath, job.OriginalFilename, job.FileSize, job.MimeType,
		job.Status, job.RetryCount, false, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		s.log.Error("job create failed", "job_id", job.ID, "err", err)
		return fmt.Errorf("create job: %w", err)
	}
	s.log.Info("job created", "job_id", job.ID, "tenant_id", job.TenantID, "path", job.ImagePath)
	return nil
}

func (s *sqlJobStore) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*entity.Job, error) {
	var job entity.Job
	err := s.db.GetContext(ctx, &job, `
		SELECT `+jobColumns+` FROM ocr_jobs
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`,
		id, tenantID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &job, nil
}

func (s *sqlJobStore) getByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	var job entity.Job
	err := s.db.GetContext(ctx, &job, `
		SELECT `+jobColumns+` FROM ocr_jobs WHERE id = $1 AND deleted_at IS NULL`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &job, nil
}

func (s *sqlJobStore) Claim(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE ocr_jobs SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4 AND deleted_at IS NULL`,
		string(constants.JobStatusProcessing), s.now(),
		id, string(constants.JobStatusPending),
	)
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	if n == 0 {
		s.log.Warn("claim missed; job not pending", "job_id", id)
		return nil, ErrJobAlreadyClaimed
	}

	job, err := s.getByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.log.Info("job claimed", "job_id", id, "retry_count", job.RetryCount)
	return job, nil
}

func (s *sqlJobStore) MarkCompleted(ctx context.Context, id uuid.UUID, res Completion) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE ocr_jobs SET
			status = $1,
			extracted_data = $2,
			raw_text = $3,
			confidence = $4,
			engine_name = $5,
			processing_time = $6,
			error_message = NULL,
			updated_at = $7
		WHERE id = $8 AND deleted_at IS NULL`,
		string(constants.JobStatusCompleted),
		string(res.ExtractedData), res.RawText, res.Confidence, res.EngineName,
		res.ProcessingTime, s.now(), id,
	)
	if err != nil {
		s.log.Error("job complete write failed", "job_id", id, "err", err)
		return fmt.Errorf("mark completed: %w", err)
	}
	s.log.Info("job completed", "job_id", id, "confidence", res.Confidence, "engine", res.EngineName)
	return nil
}

func (s *sqlJobStore) MarkFailed(ctx context.Context, id uuid.UUID, message string, seconds float64, permanent bool) error {
	// A permanent failure (validation) jumps straight to the ceiling so the
	// retry queries never pick it up; the counter still only moves up.
	query := `
		UPDATE ocr_jobs SET
			status = $1,
			retry_count = retry_count + 1,
			error_message = $2,
			processing_time = $3,
			updated_at = $4
		WHERE id = $5 AND deleted_at IS NULL`
	if permanent {
		query = `
		UPDATE ocr_jobs SET
			status = $1,
			retry_count = CASE WHEN retry_count + 1 > ` + maxAttemptsSQL + `
				THEN retry_count + 1 ELSE ` + maxAttemptsSQL + ` END,
			error_message = $2,
			processing_time = $3,
			updated_at = $4
		WHERE id = $5 AND deleted_at IS NULL`
	}

	_, err := s.db.ExecContext(ctx, query,
		string(constants.JobStatusFailed), message, seconds, s.now(), id)
	if err != nil {
		s.log.Error("job failure write failed", "job_id", id, "err", err)
		return fmt.Errorf("mark failed: %w", err)
	}
	s.log.Warn("job failed", "job_id", id, "error", message, "permanent", permanent)
	return nil
}

func (s *sqlJobStore) Confirm(ctx context.Context, tenantID, id uuid.UUID, confirmed json.RawMessage) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE ocr_jobs SET confirmed_data = $1, is_confirmed = $2, updated_at = $3
		WHERE id = $4 AND tenant_id = $5 AND status = $6 AND deleted_at IS NULL`,
		string(confirmed), true, s.now(),
		id, tenantID, string(constants.JobStatusCompleted),
	)
	if err != nil {
		return fmt.Errorf("confirm job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("confirm job: %w", err)
	}
	if n == 0 {
		if _, getErr := s.GetByID(ctx, tenantID, id); getErr != nil {
			return getErr
		}
		return ErrNotCompleted
	}
	s.log.Info("job confirmed", "job_id", id, "tenant_id", tenantID)
	return nil
}

func (s *sqlJobStore) PendingBatch(ctx context.Context, after time.Time, limit int) ([]*entity.Job, error) {
	return s.selectJobs(ctx, `
		SELECT `+jobColumns+` FROM ocr_jobs
		WHERE status = $1 AND created_at > $2 AND deleted_at IS NULL
		ORDER BY created_at ASC LIMIT $3`,
		string(constants.JobStatusPending), after, limit)
}

func (s *sqlJobStore) StalePending(ctx context.Context, cutoff time.Time, limit int) ([]*entity.Job, error) {
	return s.selectJobs(ctx, `
		SELECT `+jobColumns+` FROM ocr_jobs
		WHERE status = $1 AND updated_at < $2 AND deleted_at IS NULL
		ORDER BY created_at ASC LIMIT $3`,
		string(constants.JobStatusPending), cutoff, limit)
}

func (s *sqlJobStore) FailedRetryable(ctx context.Context, limit int) ([]*entity.Job, error) {
	return s.selectJobs(ctx, `
		SELECT `+jobColumns+` FROM ocr_jobs
		WHERE status = $1 AND retry_count < `+maxAttemptsSQL+` AND deleted_at IS NULL
		ORDER BY created_at ASC LIMIT $2`,
		string(constants.JobStatusFailed), limit)
}

func (s *sqlJobStore) StaleProcessing(ctx context.Context, cutoff time.Time, limit int) ([]*entity.Job, error) {
	return s.selectJobs(ctx, `
		SELECT `+jobColumns+` FROM ocr_jobs
		WHERE status = $1 AND updated_at < $2 AND deleted_at IS NULL
		ORDER BY updated_at ASC LIMIT $3`,
		string(constants.JobStatusProcessing), cutoff, limit)
}

func (s *sqlJobStore) ExpiredTerminal(ctx context.Context, cutoff time.Time, limit int) ([]*entity.Job, error) {
	return s.selectJobs(ctx, `
		SELECT `+jobColumns+` FROM ocr_jobs
		WHERE status IN ($1, $2) AND updated_at < $3 AND deleted_at IS NULL
		ORDER BY updated_at ASC LIMIT $4`,
		string(constants.JobStatusCompleted), string(constants.JobStatusFailed),
		cutoff, limit)
}

func (s *sqlJobStore) selectJobs(ctx context.Context, query string, args ...any) ([]*entity.Job, error) {
	var jobs []*entity.Job
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("select jobs: %w", err)
	}
	return jobs, nil
}

func (s *sqlJobStore) Requeue(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE ocr_jobs SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4 AND retry_count < `+maxAttemptsSQL+` AND deleted_at IS NULL`,
		string(constants.JobStatusPending), s.now(),
		id, string(constants.JobStatusFailed),
	)
	if err != nil {
		return fmt.Errorf("requeue job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("requeue job: %w", err)
	}
	if n == 0 {
		return ErrNotFailed
	}
	s.log.Info("job re-queued", "job_id", id)
	return nil
}

func (s *sqlJobStore) Reprocess(ctx context.Context, tenantID, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE ocr_jobs SET status = $1, error_message = NULL, updated_at = $2
		WHERE id = $3 AND tenant_id = $4 AND status = $5 AND deleted_at IS NULL`,
		string(constants.JobStatusPending), s.now(),
		id, tenantID, string(constants.JobStatusFailed),
	)
	if err != nil {
		return fmt.Errorf("reprocess job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reprocess job: %w", err)
	}
	if n == 0 {
		if _, getErr := s.GetByID(ctx, tenantID, id); getErr != nil {
			return getErr
		}
		return ErrNotFailed
	}
	s.log.Info("job queued for reprocessing", "job_id", id, "tenant_id", tenantID)
	return nil
}

func (s *sqlJobStore) SoftDelete(ctx context.Context, tenantID, id uuid.UUID) error {
	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE ocr_jobs SET deleted_at = $1, updated_at = $2
		WHERE id = $3 AND tenant_id = $4 AND deleted_at IS NULL`,
		now, now, id, tenantID,
	)
	if err != nil {
		return fmt.Errorf("soft delete job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("soft delete job: %w", err)
	}
	if n == 0 {
		return ErrJobNotFound
	}
	s.log.Info("job soft-deleted", "job_id", id, "tenant_id", tenantID)
	return nil
}
