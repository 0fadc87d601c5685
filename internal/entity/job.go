package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
)

// Job is one unit of image-to-structured-data conversion work, tracked
// through the pending/processing/completed/failed lifecycle.
type Job struct {
	ID       uuid.UUID `json:"id" db:"id"`
	TenantID uuid.UUID `json:"tenant_id" db:"tenant_id"`
	UserID   uuid.UUID `json:"user_id" db:"user_id"`

	ImagePath        string `json:"image_path" db:"image_path"`
	OriginalFilename string `json:"original_filename" db:"original_filename"`
	FileSize         int64  `json:"file_size" db:"file_size"`
	MimeType         string `json:"mime_type" db:"mime_type"`

	Status         string   `json:"status" db:"status"`
	RetryCount     int      `json:"retry_count" db:"retry_count"`
	ErrorMessage   *string  `json:"error_message,omitempty" db:"error_message"`
	ProcessingTime *float64 `json:"processing_time,omitempty" db:"processing_time"`

	// The JSON columns are NULL until their stage writes them; JSONText
	// scans that NULL to an empty value a plain json.RawMessage cannot.
	Confidence    *float32       `json:"confidence,omitempty" db:"confidence"`
	ExtractedData types.JSONText `json:"extracted_data,omitempty" db:"extracted_data"`
	RawText       *string        `json:"raw_text,omitempty" db:"raw_text"`
	EngineName    *string        `json:"engine_name,omitempty" db:"engine_name"`

	IsConfirmed   bool           `json:"is_confirmed" db:"is_confirmed"`
	ConfirmedData types.JSONText `json:"confirmed_data,omitempty" db:"confirmed_data"`

	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// Retryable reports whether the job is still under the automatic retry ceiling.
func (j *Job) Retryable(maxAttempts int) bool {
	return j.RetryCount < maxAttempts
}
