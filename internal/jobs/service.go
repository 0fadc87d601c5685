// Package jobs is the application surface for job intake, lookup,
// confirmation, and maintenance re-queueing.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/fieldline/crm-ocr/constants"
	"github.com/fieldline/crm-ocr/internal/common"
	"github.com/fieldline/crm-ocr/internal/entity"
	"github.com/fieldline/crm-ocr/internal/queue"
	"github.com/fieldline/crm-ocr/internal/store"
)

// CreateRequest carries the fields an upload handler passes along.
type CreateRequest struct {
	TenantID         uuid.UUID
	UserID           uuid.UUID
	ImagePath        string
	OriginalFilename string
	FileSize         int64
	MimeType         string
}

// Service coordinates the store and the queue for inbound operations.
type Service struct {
	store store.JobStore
	queue queue.Queue
	log   *slog.Logger
}

func NewService(st store.JobStore, q queue.Queue, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: st, queue: q, log: log}
}

// Create registers a new pending job and hands it to the workers.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*entity.Job, error) {
	if req.TenantID == uuid.Nil {
		return nil, common.NewValidationError("tenant id is required")
	}
	if req.UserID == uuid.Nil {
		return nil, common.NewValidationError("user id is required")
	}
	if strings.TrimSpace(req.ImagePath) == "" {
		return nil, common.NewValidationError("image path is required")
	}
	if req.OriginalFilename == "" {
		req.OriginalFilename = filepath.Base(req.ImagePath)
	}

	job := &entity.Job{
		TenantID:         req.TenantID,
		UserID:           req.UserID,
		ImagePath:        req.ImagePath,
		OriginalFilename: req.OriginalFilename,
		FileSize:         req.FileSize,
		MimeType:         req.MimeType,
	}
	if err := s.store.Create(ctx, job); err != nil {
		return nil, err
	}
	if err := s.queue.Enqueue(ctx, job.ID); err != nil {
		// the maintenance sweep re-enqueues orphaned pending rows
		s.log.Warn("enqueue after create failed", "job_id", job.ID, "err", err)
	}
	return job, nil
}

// Get returns a job scoped to its tenant.
func (s *Service) Get(ctx context.Context, tenantID, id uuid.UUID) (*entity.Job, error) {
	return s.store.GetByID(ctx, tenantID, id)
}

// Confirm attaches user-corrected data to a completed job after a basic
// sanity check of the corrected fields.
func (s *Service) Confirm(ctx context.Context, tenantID, id uuid.UUID, data entity.ExtractedData) error {
	if strings.TrimSpace(data.Provider) == "" {
		return common.NewValidationError("confirmed provider is required")
	}
	if data.Amount <= 0 {
		return common.NewValidationError("confirmed amount must be positive")
	}
	if cat, ok := constants.Canonicalize(data.Category); ok {
		data.Category = string(cat)
	} else {
		data.Category = string(constants.Uncategorized)
	}

	payload, err := data.Marshal()
	if err != nil {
		return fmt.Errorf("marshal confirmed data: %w", err)
	}
	return s.store.Confirm(ctx, tenantID, id, payload)
}

// Reprocess moves a failed job back to pending and re-enqueues it. The
// retry counter is preserved so the automatic retry path stays bounded.
func (s *Service) Reprocess(ctx context.Context, tenantID, id uuid.UUID) error {
	if err := s.store.Reprocess(ctx, tenantID, id); err != nil {
		return err
	}
	if err := s.queue.Enqueue(ctx, id); err != nil {
		s.log.Warn("enqueue after reprocess failed", "job_id", id, "err", err)
	}
	return nil
}

// Delete soft-deletes a job; the record stays for audit, the queries skip it.
func (s *Service) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	return s.store.SoftDelete(ctx, tenantID, id)
}
