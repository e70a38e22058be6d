package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/memvault/memvault/internal/model"
)

func TestJobLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	entry, _ := s.CreateEntry(ctx, CreateEntryParams{Title: "a", Content: "First. Second."})

	job, err := s.AcquireNextJob(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if job == nil || job.EntryID != entry.ID {
		t.Fatalf("expected the entry's job, got %+v", job)
	}
	if job.Status != model.JobProcessing || job.Attempts != 1 || job.StartedAt == nil {
		t.Errorf("unexpected state after acquire: %+v", job)
	}

	done, err := s.CompleteJob(ctx, job.ID, "First. Second.")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != model.JobCompleted || done.Summary == "" || done.CompletedAt == nil {
		t.Errorf("unexpected state after complete: %+v", done)
	}

	// Queue is drained.
	next, _ := s.AcquireNextJob(ctx)
	if next != nil {
		t.Errorf("expected empty queue, got %+v", next)
	}
}

func TestAcquireOrdersByScheduleThenCreation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first, _ := s.CreateEntry(ctx, CreateEntryParams{Title: "1", Content: "one"})
	second, _ := s.CreateEntry(ctx, CreateEntryParams{Title: "2", Content: "two"})

	job, _ := s.AcquireNextJob(ctx)
	if job == nil || job.EntryID != first.ID {
		t.Fatalf("expected oldest job first, got %+v", job)
	}
	job, _ = s.AcquireNextJob(ctx)
	if job == nil || job.EntryID != second.ID {
		t.Fatalf("expected second job next, got %+v", job)
	}
}

func TestFutureJobsAreNotDue(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	entry, _ := s.CreateEntry(ctx, CreateEntryParams{Title: "a", Content: "text"})
	job, _ := s.AcquireNextJob(ctx)
	s.FailJob(ctx, job.ID, "boom")

	// Reschedule into the future; it must not be picked up yet.
	later := time.Now().UTC().Add(time.Hour)
	if _, err := s.RescheduleJob(ctx, job.ID, later); err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if next, _ := s.AcquireNextJob(ctx); next != nil {
		t.Errorf("future job should not be due, got %+v", next)
	}

	jobs, _ := s.JobsForEntry(ctx, entry.ID)
	if len(jobs) != 1 || jobs[0].Status != model.JobPending {
		t.Errorf("expected one pending job, got %+v", jobs)
	}
}

func TestFailAndReschedule(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.CreateEntry(ctx, CreateEntryParams{Title: "a", Content: "text"})
	job, _ := s.AcquireNextJob(ctx)

	failed, err := s.FailJob(ctx, job.ID, "summarizer exploded")
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if failed.Status != model.JobFailed || failed.ErrorMessage != "summarizer exploded" || failed.CompletedAt == nil {
		t.Errorf("unexpected state after fail: %+v", failed)
	}

	// Failed jobs stay out of the queue until rescheduled.
	if next, _ := s.AcquireNextJob(ctx); next != nil {
		t.Fatalf("failed job must not be due, got %+v", next)
	}

	re, err := s.RescheduleJob(ctx, job.ID, time.Time{})
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if re.Status != model.JobPending || re.StartedAt != nil || re.CompletedAt != nil {
		t.Errorf("unexpected state after reschedule: %+v", re)
	}
	if re.Attempts != 1 || re.ErrorMessage == "" {
		t.Errorf("attempts and last error should survive reschedule: %+v", re)
	}

	again, _ := s.AcquireNextJob(ctx)
	if again == nil || again.Attempts != 2 {
		t.Errorf("expected second attempt, got %+v", again)
	}
}

func TestInvalidJobTransitions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	entry, _ := s.CreateEntry(ctx, CreateEntryParams{Title: "a", Content: "text"})
	pending, _ := s.JobsForEntry(ctx, entry.ID)
	if len(pending) != 1 {
		t.Fatalf("expected one pending job, got %d", len(pending))
	}
	id := pending[0].ID

	if _, err := s.CompleteJob(ctx, id, "s"); err == nil {
		t.Error("completing a pending job should fail")
	}
	if _, err := s.FailJob(ctx, id, "e"); err == nil {
		t.Error("failing a pending job should fail")
	}
	if _, err := s.RescheduleJob(ctx, id, time.Time{}); err == nil {
		t.Error("rescheduling a pending job should fail")
	}

	job, _ := s.AcquireNextJob(ctx)
	if _, err := s.StartJob(ctx, job.ID); err == nil {
		t.Error("starting a processing job should fail")
	}

	s.CompleteJob(ctx, job.ID, "done")
	if _, err := s.StartJob(ctx, job.ID); err == nil {
		t.Error("starting a completed job should fail")
	}
	if _, err := s.RescheduleJob(ctx, job.ID, time.Time{}); err == nil {
		t.Error("rescheduling a completed job should fail")
	}
}

func TestEnqueueCondensationUnknownEntry(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.EnqueueCondensation(ctx, 404); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
