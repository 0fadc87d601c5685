package common

import (
	"errors"
	"fmt"
)

// Common application errors
var (
	// ErrInsufficientContent marks an OCR pass that mechanically succeeded but
	// produced too little text to mean anything. Treated as a processing
	// failure (retryable) because it usually signals an unreadable photo.
	ErrInsufficientContent = errors.New("extracted text below minimum length")
)

// ValidationError rejects malformed, oversized, or unreadable input before
// any expensive work. Never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

func NewValidationError(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// ProcessingError wraps a failure inside the preprocess/extract chain. Caught
// at the orchestrator boundary and eligible for automatic retry.
type ProcessingError struct {
	Stage string
	Err   error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

func NewProcessingError(stage string, err error) error {
	if err == nil {
		return nil
	}
	return &ProcessingError{Stage: stage, Err: err}
}

// IsRetryable reports whether a pipeline failure may be retried automatically.
// Validation failures are final; everything else gets the retry treatment.
func IsRetryable(err error) bool {
	var ve *ValidationError
	return !errors.As(err, &ve)
}
