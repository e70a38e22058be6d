package model

import "time"

// JobStatus is the lifecycle state of a condensation job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// CondensationJob summarizes one entry's content asynchronously.
// Jobs never retry on their own; a failed job stays failed until
// explicitly rescheduled.
type CondensationJob struct {
	ID           int64      `json:"id"`
	EntryID      int64      `json:"entry_id"`
	Status       JobStatus  `json:"status"`
	ScheduledFor time.Time  `json:"scheduled_for"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Attempts     int        `json:"attempts"`
	Summary      string     `json:"summary,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
