package store

import (
	"context"
	"errors"
	"testing"

	"github.com/memvault/memvault/internal/model"
)

func TestRecordAndListAudits(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first, err := s.RecordAudit(ctx, model.AuditRecord{
		Actor:      "ana@example.com",
		Action:     "memory:create",
		ObjectType: "memory_entry",
		ObjectID:   "1",
		Metadata:   map[string]string{"sensitivity": "public"},
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if first.ID == "" {
		t.Error("expected generated id")
	}

	s.RecordAudit(ctx, model.AuditRecord{Action: "memory:delete", ObjectType: "memory_entry", ObjectID: "1"})

	records, err := s.RecentAudits(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Action != "memory:delete" {
		t.Errorf("expected newest first, got %q", records[0].Action)
	}
	if records[1].Metadata["sensitivity"] != "public" {
		t.Errorf("metadata lost: %+v", records[1])
	}

	limited, _ := s.RecentAudits(ctx, 1)
	if len(limited) != 1 {
		t.Errorf("expected limit to apply, got %d", len(limited))
	}
}

func TestRecordAuditRequiresAction(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.RecordAudit(ctx, model.AuditRecord{Actor: "x"})
	if !errors.Is(err, model.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}
