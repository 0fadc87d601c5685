package constants

// JobStatus is the canonical status for rows in ocr_jobs.
type JobStatus string

// Stable values (store these exact strings in DB).
const (
	JobStatusPending    JobStatus = "pending"    // queued, waiting for a worker
	JobStatusProcessing JobStatus = "processing" // claimed by a worker
	JobStatusCompleted  JobStatus = "completed"  // terminal success
	JobStatusFailed     JobStatus = "failed"     // failed attempt; terminal once the ceiling is hit
)

// MaxAttempts is the retry ceiling. A failed job at or above the ceiling is
// never picked up automatically; only an explicit reprocess re-queues it.
const MaxAttempts = 3
