package jobs

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/fieldline/crm-ocr/internal/common"
	"github.com/fieldline/crm-ocr/internal/entity"
	"github.com/fieldline/crm-ocr/internal/queue"
	"github.com/fieldline/crm-ocr/internal/store"
)

func newTestService(t *testing.T) (*Service, store.JobStore, queue.Queue) {
	t.Helper()
	db, err := sqlx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, store.Migrate(context.Background(), db))

	st := store.NewJobStore(db, nil)
	q := queue.NewMemory(16, nil)
	t.Cleanup(func() { _ = q.Close() })
	return NewService(st, q, nil), st, q
}

func validRequest() CreateRequest {
	return CreateRequest{
		TenantID:  uuid.New(),
		UserID:    uuid.New(),
		ImagePath: "/data/scans/receipt.png",
		FileSize:  1024,
		MimeType:  "image/png",
	}
}

func TestCreateEnqueuesJob(t *testing.T) {
	svc, st, q := newTestService(t)
	ctx := context.Background()
	req := validRequest()

	job, err := svc.Create(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "receipt.png", job.OriginalFilename, "filename falls back to the path base")

	stored, err := st.GetByID(ctx, req.TenantID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "pending", stored.Status)

	queued, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, job.ID, queued)
}

func TestCreateRejectsMissingFields(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*CreateRequest)
	}{
		{"missing tenant", func(r *CreateRequest) { r.TenantID = uuid.Nil }},
		{"missing user", func(r *CreateRequest) { r.UserID = uuid.Nil }},
		{"missing path", func(r *CreateRequest) { r.ImagePath = "  " }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)
			_, err := svc.Create(ctx, req)
			require.Error(t, err)
			var ve *common.ValidationError
			assert.ErrorAs(t, err, &ve)
		})
	}
}

func TestConfirmValidatesAndCanonicalizes(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	req := validRequest()

	job, err := svc.Create(ctx, req)
	require.NoError(t, err)
	_, err = st.Claim(ctx, job.ID)
	require.NoError(t, err)
	require.NoError(t, st.MarkCompleted(ctx, job.ID, store.Completion{
		ExtractedData: []byte(`{"provider":"x","amount":1}`),
	}))

	err = svc.Confirm(ctx, req.TenantID, job.ID, entity.ExtractedData{Amount: 5})
	var ve *common.ValidationError
	assert.ErrorAs(t, err, &ve, "provider is required")

	err = svc.Confirm(ctx, req.TenantID, job.ID, entity.ExtractedData{Provider: "Acme", Amount: 0})
	assert.ErrorAs(t, err, &ve, "amount must be positive")

	require.NoError(t, svc.Confirm(ctx, req.TenantID, job.ID, entity.ExtractedData{
		Provider: "Acme",
		Amount:   57.38,
		Category: "not-a-category",
	}))
	got, err := svc.Get(ctx, req.TenantID, job.ID)
	require.NoError(t, err)
	assert.True(t, got.IsConfirmed)
	assert.Contains(t, string(got.ConfirmedData), `"Uncategorized"`)
}

func TestConfirmRequiresCompletedJob(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	req := validRequest()

	job, err := svc.Create(ctx, req)
	require.NoError(t, err)

	err = svc.Confirm(ctx, req.TenantID, job.ID, entity.ExtractedData{Provider: "Acme", Amount: 1})
	assert.ErrorIs(t, err, store.ErrNotCompleted)
}

func TestReprocessRequeuesFailedJob(t *testing.T) {
	svc, st, q := newTestService(t)
	ctx := context.Background()
	req := validRequest()

	job, err := svc.Create(ctx, req)
	require.NoError(t, err)
	_, err = q.Dequeue(ctx) // drain the create enqueue
	require.NoError(t, err)
	_, err = st.Claim(ctx, job.ID)
	require.NoError(t, err)
	require.NoError(t, st.MarkFailed(ctx, job.ID, "boom", 0, false))

	require.NoError(t, svc.Reprocess(ctx, req.TenantID, job.ID))

	got, err := svc.Get(ctx, req.TenantID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "pending", got.Status)
	assert.Equal(t, 1, got.RetryCount, "reprocess never touches the counter")

	queued, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, job.ID, queued)
}

func TestDelete(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	req := validRequest()

	job, err := svc.Create(ctx, req)
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, req.TenantID, job.ID))

	_, err = svc.Get(ctx, req.TenantID, job.ID)
	assert.ErrorIs(t, err, store.ErrJobNotFound)
}
