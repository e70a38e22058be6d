package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/memvault/memvault/internal/event"
	"github.com/memvault/memvault/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// recordEvents subscribes a collector and returns the observed names.
func recordEvents(s *Store) *[]string {
	names := &[]string{}
	bus := event.NewBus()
	bus.Subscribe(event.HandlerFunc(func(ctx context.Context, ev event.Event) {
		*names = append(*names, ev.Name())
	}))
	s.SetEvents(bus)
	return names
}

func TestCreateAndGetEntry(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	entry, err := s.CreateEntry(ctx, CreateEntryParams{
		Title:   "Coffee preference",
		Content: "Prefers dark roast.",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if entry.Version != 1 {
		t.Errorf("expected version 1, got %d", entry.Version)
	}
	if entry.Sensitivity != model.SensitivityPublic {
		t.Errorf("expected default sensitivity public, got %s", entry.Sensitivity)
	}
	if entry.EntryType != model.TypeNote {
		t.Errorf("expected default type note, got %s", entry.EntryType)
	}

	got, err := s.EntryByID(ctx, entry.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "Coffee preference" || got.Content != "Prefers dark roast." {
		t.Errorf("unexpected roundtrip: %+v", got)
	}
}

func TestCreateEntryRejectsUnknownEnums(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.CreateEntry(ctx, CreateEntryParams{Title: "x", Content: "y", Sensitivity: "classified"})
	if !errors.Is(err, model.ErrValidation) {
		t.Errorf("expected validation error for sensitivity, got %v", err)
	}

	_, err = s.CreateEntry(ctx, CreateEntryParams{Title: "x", Content: "y", EntryType: "memo"})
	if !errors.Is(err, model.ErrValidation) {
		t.Errorf("expected validation error for entry_type, got %v", err)
	}
}

func TestEntryByIDMissing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.EntryByID(ctx, 99)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateEntryVersioning(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	entry, _ := s.CreateEntry(ctx, CreateEntryParams{Title: "a", Content: "body"})

	title := "b"
	updated, err := s.UpdateEntry(ctx, UpdateEntryParams{
		ID: entry.ID, ExpectedVersion: 1, Title: &title,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Version != 2 {
		t.Errorf("expected version 2, got %d", updated.Version)
	}
	if updated.Content != "body" {
		t.Errorf("content should be untouched, got %q", updated.Content)
	}

	// Stale expected version loses.
	_, err = s.UpdateEntry(ctx, UpdateEntryParams{ID: entry.ID, ExpectedVersion: 1, Title: &title})
	if !errors.Is(err, ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict, got %v", err)
	}

	got, _ := s.EntryByID(ctx, entry.ID)
	if got.Version != 2 || got.Title != "b" {
		t.Errorf("unexpected state after conflict: %+v", got)
	}
}

func TestUpdateEntryMissing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	title := "x"
	_, err := s.UpdateEntry(ctx, UpdateEntryParams{ID: 42, ExpectedVersion: 1, Title: &title})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteEntryVersionGuard(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	entry, _ := s.CreateEntry(ctx, CreateEntryParams{Title: "a", Content: "b"})

	stale := int64(9)
	err := s.DeleteEntry(ctx, DeleteEntryParams{ID: entry.ID, ExpectedVersion: &stale})
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}

	if err := s.DeleteEntry(ctx, DeleteEntryParams{ID: entry.ID}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.EntryByID(ctx, entry.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestEntryChunksReplacedOnContentChange(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	long := strings.Repeat("# Section\n\nSome paragraph with enough words to matter. ", 30)
	entry, _ := s.CreateEntry(ctx, CreateEntryParams{Title: "doc", Content: long})

	chunks, err := s.ChunksForEntry(ctx, entry.ID)
	if err != nil {
		t.Fatalf("chunks: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks for long content, got %d", len(chunks))
	}

	short := "Tiny now."
	if _, err := s.UpdateEntry(ctx, UpdateEntryParams{ID: entry.ID, ExpectedVersion: 1, Content: &short}); err != nil {
		t.Fatalf("update: %v", err)
	}

	chunks, _ = s.ChunksForEntry(ctx, entry.ID)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk after shrink, got %d", len(chunks))
	}
	if chunks[0].Content != "Tiny now." {
		t.Errorf("unexpected chunk content %q", chunks[0].Content)
	}
}

func TestCondensationAutoEnqueued(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	entry, _ := s.CreateEntry(ctx, CreateEntryParams{Title: "a", Content: "First. Second. Third. Fourth."})

	jobs, err := s.JobsForEntry(ctx, entry.ID)
	if err != nil {
		t.Fatalf("jobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Status != model.JobPending {
		t.Fatalf("expected one pending job, got %+v", jobs)
	}

	// A second content change while one job is pending does not stack.
	content := "Changed content."
	s.UpdateEntry(ctx, UpdateEntryParams{ID: entry.ID, ExpectedVersion: 1, Content: &content})
	jobs, _ = s.JobsForEntry(ctx, entry.ID)
	if len(jobs) != 1 {
		t.Fatalf("expected still one job, got %d", len(jobs))
	}

	// Once the job completes, the next change enqueues again.
	job, _ := s.AcquireNextJob(ctx)
	if job == nil {
		t.Fatal("expected a due job")
	}
	if _, err := s.CompleteJob(ctx, job.ID, "summary"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	content = "Changed again."
	s.UpdateEntry(ctx, UpdateEntryParams{ID: entry.ID, ExpectedVersion: 2, Content: &content})
	jobs, _ = s.JobsForEntry(ctx, entry.ID)
	if len(jobs) != 2 {
		t.Fatalf("expected a fresh job after completion, got %d", len(jobs))
	}
}

func TestBlankContentSkipsCondensation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	entry, _ := s.CreateEntry(ctx, CreateEntryParams{Title: "empty", Content: "   "})
	jobs, _ := s.JobsForEntry(ctx, entry.ID)
	if len(jobs) != 0 {
		t.Fatalf("expected no job for blank content, got %d", len(jobs))
	}
}

func TestEntryEventsPublished(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	names := recordEvents(s)

	entry, _ := s.CreateEntry(ctx, CreateEntryParams{Title: "a", Content: "b"})
	title := "c"
	s.UpdateEntry(ctx, UpdateEntryParams{ID: entry.ID, ExpectedVersion: 1, Title: &title})
	s.DeleteEntry(ctx, DeleteEntryParams{ID: entry.ID})

	want := []string{model.EventEntryCreated, model.EventEntryUpdated, model.EventEntryDeleted}
	if len(*names) != len(want) {
		t.Fatalf("expected %v, got %v", want, *names)
	}
	for i, name := range want {
		if (*names)[i] != name {
			t.Errorf("event %d: expected %s, got %s", i, name, (*names)[i])
		}
	}
}

func TestFailedUpdateEmitsNothing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	entry, _ := s.CreateEntry(ctx, CreateEntryParams{Title: "a", Content: "b"})
	names := recordEvents(s)

	title := "c"
	s.UpdateEntry(ctx, UpdateEntryParams{ID: entry.ID, ExpectedVersion: 7, Title: &title})
	if len(*names) != 0 {
		t.Errorf("conflicting update must not publish, got %v", *names)
	}
}

func TestListEntriesOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first, _ := s.CreateEntry(ctx, CreateEntryParams{Title: "first", Content: "1"})
	s.CreateEntry(ctx, CreateEntryParams{Title: "second", Content: "2"})

	// Touching the older entry moves it to the front.
	content := "1 updated"
	s.UpdateEntry(ctx, UpdateEntryParams{ID: first.ID, ExpectedVersion: 1, Content: &content})

	entries, err := s.ListEntries(ctx, ListEntriesParams{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Title != "first" {
		t.Errorf("expected most recently updated first, got %q", entries[0].Title)
	}

	limited, _ := s.ListEntries(ctx, ListEntriesParams{Limit: 1})
	if len(limited) != 1 {
		t.Errorf("expected limit to apply, got %d", len(limited))
	}
}

func TestDBPathCreation(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "sub", "dir", "test.db")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("expected db file to be created")
	}
}
