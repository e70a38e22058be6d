package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/memvault/memvault/internal/model"
)

const jobCols = "id, entry_id, status, scheduled_for, started_at, completed_at, attempts, summary, error_message, created_at, updated_at"

// EnqueueCondensation schedules a summarization job for the entry,
// due immediately. A second enqueue while one is still pending is a
// no-op.
func (s *Store) EnqueueCondensation(ctx context.Context, entryID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM entries WHERE id = ?`, entryID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("entry %d: %w", entryID, ErrNotFound)
	}
	if err != nil {
		return err
	}

	if err := enqueueCondensationTx(ctx, tx, entryID, formatTime(time.Now().UTC())); err != nil {
		return err
	}
	return tx.Commit()
}

func enqueueCondensationTx(ctx context.Context, tx *sql.Tx, entryID int64, ts string) error {
	var pending int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM condensation_jobs WHERE entry_id = ? AND status = ?`,
		entryID, string(model.JobPending)).Scan(&pending)
	if err != nil {
		return err
	}
	if pending > 0 {
		return nil
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO condensation_jobs (entry_id, status, scheduled_for, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		entryID, string(model.JobPending), ts, ts, ts)
	if err != nil {
		return fmt.Errorf("enqueue condensation: %w", err)
	}
	return nil
}

// AcquireNextJob claims the oldest due pending job and moves it to
// processing in one transaction. It returns nil when nothing is due.
func (s *Store) AcquireNextJob(ctx context.Context) (*model.CondensationJob, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+jobCols+` FROM condensation_jobs
		 WHERE status = ? AND scheduled_for <= ?
		 ORDER BY scheduled_for, created_at LIMIT 1`,
		string(model.JobPending), formatTime(now))
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := startJobTx(ctx, tx, &job, now); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &job, nil
}

// StartJob moves a pending or failed job to processing.
func (s *Store) StartJob(ctx context.Context, id int64) (*model.CondensationJob, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	job, err := jobByIDTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := startJobTx(ctx, tx, job, now); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return job, nil
}

func startJobTx(ctx context.Context, tx *sql.Tx, job *model.CondensationJob, now time.Time) error {
	if job.Status != model.JobPending && job.Status != model.JobFailed {
		return fmt.Errorf("job %d is %s, can only start pending or failed jobs", job.ID, job.Status)
	}

	job.Status = model.JobProcessing
	job.Attempts++
	job.StartedAt = &now
	job.UpdatedAt = now

	_, err := tx.ExecContext(ctx,
		`UPDATE condensation_jobs SET status = ?, attempts = ?, started_at = ?, updated_at = ?
		 WHERE id = ?`,
		string(job.Status), job.Attempts, formatTime(now), formatTime(now), job.ID)
	if err != nil {
		return fmt.Errorf("start job: %w", err)
	}
	return nil
}

// CompleteJob records the summary for a processing job.
func (s *Store) CompleteJob(ctx context.Context, id int64, summary string) (*model.CondensationJob, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	job, err := jobByIDTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobProcessing {
		return nil, fmt.Errorf("job %d is %s, can only complete processing jobs", job.ID, job.Status)
	}

	job.Status = model.JobCompleted
	job.Summary = summary
	job.ErrorMessage = ""
	job.CompletedAt = &now
	job.UpdatedAt = now

	_, err = tx.ExecContext(ctx,
		`UPDATE condensation_jobs SET status = ?, summary = ?, error_message = '', completed_at = ?, updated_at = ?
		 WHERE id = ?`,
		string(job.Status), summary, formatTime(now), formatTime(now), job.ID)
	if err != nil {
		return nil, fmt.Errorf("complete job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return job, nil
}

// FailJob records an error for a processing job. Failed jobs stay put
// until rescheduled.
func (s *Store) FailJob(ctx context.Context, id int64, message string) (*model.CondensationJob, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	job, err := jobByIDTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobProcessing {
		return nil, fmt.Errorf("job %d is %s, can only fail processing jobs", job.ID, job.Status)
	}

	job.Status = model.JobFailed
	job.ErrorMessage = message
	job.CompletedAt = &now
	job.UpdatedAt = now

	_, err = tx.ExecContext(ctx,
		`UPDATE condensation_jobs SET status = ?, error_message = ?, completed_at = ?, updated_at = ?
		 WHERE id = ?`,
		string(job.Status), message, formatTime(now), formatTime(now), job.ID)
	if err != nil {
		return nil, fmt.Errorf("fail job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return job, nil
}

// RescheduleJob puts a failed or stuck processing job back in the queue.
// A zero `when` schedules it immediately. Attempts and the last error
// are kept for inspection.
func (s *Store) RescheduleJob(ctx context.Context, id int64, when time.Time) (*model.CondensationJob, error) {
	now := time.Now().UTC()
	if when.IsZero() {
		when = now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	job, err := jobByIDTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobFailed && job.Status != model.JobProcessing {
		return nil, fmt.Errorf("job %d is %s, can only reschedule failed or processing jobs", job.ID, job.Status)
	}

	job.Status = model.JobPending
	job.ScheduledFor = when.UTC()
	job.StartedAt = nil
	job.CompletedAt = nil
	job.UpdatedAt = now

	_, err = tx.ExecContext(ctx,
		`UPDATE condensation_jobs SET status = ?, scheduled_for = ?, started_at = NULL, completed_at = NULL, updated_at = ?
		 WHERE id = ?`,
		string(job.Status), formatTime(job.ScheduledFor), formatTime(now), job.ID)
	if err != nil {
		return nil, fmt.Errorf("reschedule job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *Store) JobByID(ctx context.Context, id int64) (*model.CondensationJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobCols+` FROM condensation_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// JobsForEntry returns the entry's jobs, newest first.
func (s *Store) JobsForEntry(ctx context.Context, entryID int64) ([]model.CondensationJob, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobCols+` FROM condensation_jobs WHERE entry_id = ? ORDER BY created_at DESC, id DESC`,
		entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []model.CondensationJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func jobByIDTx(ctx context.Context, tx *sql.Tx, id int64) (*model.CondensationJob, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+jobCols+` FROM condensation_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func scanJob(row scanner) (model.CondensationJob, error) {
	var j model.CondensationJob
	var status, scheduledFor, createdAt, updatedAt string
	var startedAt, completedAt sql.NullString

	err := row.Scan(&j.ID, &j.EntryID, &status, &scheduledFor, &startedAt, &completedAt,
		&j.Attempts, &j.Summary, &j.ErrorMessage, &createdAt, &updatedAt)
	if err != nil {
		return j, err
	}

	j.Status = model.JobStatus(status)
	j.ScheduledFor = parseTime(scheduledFor)
	j.StartedAt = timePtr(startedAt)
	j.CompletedAt = timePtr(completedAt)
	j.CreatedAt = parseTime(createdAt)
	j.UpdatedAt = parseTime(updatedAt)
	return j, nil
}
