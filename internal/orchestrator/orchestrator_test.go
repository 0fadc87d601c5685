package orchestrator

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/fieldline/crm-ocr/constants"
	"github.com/fieldline/crm-ocr/internal/entity"
	"github.com/fieldline/crm-ocr/internal/parse"
	"github.com/fieldline/crm-ocr/internal/preprocess"
	"github.com/fieldline/crm-ocr/internal/queue"
	"github.com/fieldline/crm-ocr/internal/store"
	"github.com/fieldline/crm-ocr/internal/validate"
)

// stubEngine replaces tesseract with canned output.
type stubEngine struct {
	text string
	err  error
}

func (s stubEngine) Name() string { return "stub" }

func (s stubEngine) ExtractText(context.Context, *image.Gray) (string, error) {
	return s.text, s.err
}

func writeScan(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scan.png")
	img := image.NewRGBA(image.Rect(0, 0, 120, 120))
	for y := 0; y < 120; y++ {
		for x := 0; x < 120; x++ {
			img.Set(x, y, color.White)
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return path
}

func newFixture(t *testing.T, engine stubEngine) (*Orchestrator, store.JobStore, queue.Queue, *sqlx.DB) {
	t.Helper()
	db, err := sqlx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, store.Migrate(context.Background(), db))

	st := store.NewJobStore(db, nil)
	q := queue.NewMemory(16, nil)
	t.Cleanup(func() { _ = q.Close() })

	o := New(
		Config{Concurrency: 2, BatchSize: 3, JobTimeout: 10 * time.Second, RetryBackoff: 10 * time.Millisecond},
		st, q, validate.DefaultLimits(),
		preprocess.New(preprocess.Config{}, nil),
		engine,
		parse.NewExtractor(nil),
		nil,
	)
	return o, st, q, db
}

func startOrchestrator(t *testing.T, o *Orchestrator) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, o.Start(ctx))
	t.Cleanup(func() {
		cancel()
		o.Stop()
	})
	return ctx
}

func seedJob(t *testing.T, st store.JobStore, q queue.Queue, path string) *entity.Job {
	t.Helper()
	ctx := context.Background()
	job := &entity.Job{
		TenantID:         uuid.New(),
		UserID:           uuid.New(),
		ImagePath:        path,
		OriginalFilename: filepath.Base(path),
		FileSize:         64,
		MimeType:         "image/png",
	}
	require.NoError(t, st.Create(ctx, job))
	require.NoError(t, q.Enqueue(ctx, job.ID))
	return job
}

func waitForStatus(t *testing.T, st store.JobStore, job *entity.Job, status constants.JobStatus) *entity.Job {
	t.Helper()
	var got *entity.Job
	require.Eventually(t, func() bool {
		var err error
		got, err = st.GetByID(context.Background(), job.TenantID, job.ID)
		return err == nil && got.Status == string(status)
	}, 5*time.Second, 20*time.Millisecond)
	return got
}

func TestJobCompletesEndToEnd(t *testing.T) {
	o, st, q, _ := newFixture(t, stubEngine{text: "Fieldline Coffee\nDate: 11/15/2025\nTotal: $57.38\n"})
	startOrchestrator(t, o)

	job := seedJob(t, st, q, writeScan(t))
	got := waitForStatus(t, st, job, constants.JobStatusCompleted)

	assert.Zero(t, got.RetryCount)
	require.NotNil(t, got.EngineName)
	assert.Equal(t, "stub", *got.EngineName)
	require.NotNil(t, got.RawText)
	assert.Contains(t, *got.RawText, "57.38")
	require.NotNil(t, got.Confidence)
	assert.GreaterOrEqual(t, float64(*got.Confidence), 0.60)
	require.NotNil(t, got.ProcessingTime)
	assert.GreaterOrEqual(t, *got.ProcessingTime, 0.0)

	data, err := entity.UnmarshalExtractedData(got.ExtractedData)
	require.NoError(t, err)
	assert.Equal(t, 57.38, data.Amount)
	assert.Equal(t, "2025-11-15", data.Date)
	assert.Equal(t, "Fieldline Coffee", data.Provider)
}

func TestRetryableFailureBurnsThroughCeiling(t *testing.T) {
	o, st, q, _ := newFixture(t, stubEngine{err: errors.New("engine crashed")})
	startOrchestrator(t, o)

	job := seedJob(t, st, q, writeScan(t))

	require.Eventually(t, func() bool {
		got, err := st.GetByID(context.Background(), job.TenantID, job.ID)
		return err == nil &&
			got.Status == string(constants.JobStatusFailed) &&
			got.RetryCount == constants.MaxAttempts
	}, 5*time.Second, 20*time.Millisecond)

	got, err := st.GetByID(context.Background(), job.TenantID, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "engine crashed")
	assert.Contains(t, *got.ErrorMessage, "ocr")
}

func TestValidationFailureIsPermanent(t *testing.T) {
	o, st, q, _ := newFixture(t, stubEngine{text: "never reached"})
	startOrchestrator(t, o)

	job := seedJob(t, st, q, "/nonexistent/scan.png")
	got := waitForStatus(t, st, job, constants.JobStatusFailed)

	assert.GreaterOrEqual(t, got.RetryCount, constants.MaxAttempts, "no retries for invalid input")
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "validation failed")

	// It must stay failed; give the retry machinery a moment to misbehave.
	time.Sleep(50 * time.Millisecond)
	got, err := st.GetByID(context.Background(), job.TenantID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, string(constants.JobStatusFailed), got.Status)
}

func TestStartRecoversPendingBacklog(t *testing.T) {
	o, st, _, _ := newFixture(t, stubEngine{text: "Fieldline Coffee\nDate: 11/15/2025\nTotal: $57.38\n"})

	// Row exists but was never enqueued, as after a crash.
	ctx := context.Background()
	job := &entity.Job{
		TenantID:         uuid.New(),
		UserID:           uuid.New(),
		ImagePath:        writeScan(t),
		OriginalFilename: "scan.png",
		FileSize:         64,
		MimeType:         "image/png",
	}
	require.NoError(t, st.Create(ctx, job))

	startOrchestrator(t, o)
	waitForStatus(t, st, job, constants.JobStatusCompleted)
}

func TestStartRecoversBacklogLargerThanBatch(t *testing.T) {
	o, st, _, db := newFixture(t, stubEngine{text: "Fieldline Coffee\nDate: 11/15/2025\nTotal: $57.38\n"})

	// Eight orphaned rows against a batch size of three forces the
	// recovery scan through several pages.
	ctx := context.Background()
	path := writeScan(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	jobs := make([]*entity.Job, 0, 8)
	for i := 0; i < 8; i++ {
		job := &entity.Job{
			TenantID:         uuid.New(),
			UserID:           uuid.New(),
			ImagePath:        path,
			OriginalFilename: "scan.png",
			FileSize:         64,
			MimeType:         "image/png",
		}
		require.NoError(t, st.Create(ctx, job))
		_, err := db.ExecContext(ctx, `UPDATE ocr_jobs SET created_at = $1 WHERE id = $2`,
			base.Add(time.Duration(i)*time.Second), job.ID)
		require.NoError(t, err)
		jobs = append(jobs, job)
	}

	startOrchestrator(t, o)
	for _, job := range jobs {
		waitForStatus(t, st, job, constants.JobStatusCompleted)
	}
}

func TestFailureReasonKeepsLiteralPercent(t *testing.T) {
	o, st, q, _ := newFixture(t, stubEngine{text: "never reached"})
	startOrchestrator(t, o)

	path := filepath.Join(t.TempDir(), "50%off.png")
	job := seedJob(t, st, q, path)
	got := waitForStatus(t, st, job, constants.JobStatusFailed)

	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "50%off.png")
	assert.NotContains(t, *got.ErrorMessage, "%!")
}
