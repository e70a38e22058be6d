package store

import (
	"context"
	"errors"
	"testing"

	"github.com/memvault/memvault/internal/model"
)

func TestCreateAndLookupAPIKey(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	key, err := s.CreateAPIKey(ctx, CreateAPIKeyParams{Name: "ci", RateLimit: 60, RateLimitWindow: 60})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(key.Key) != 26 {
		t.Errorf("expected ulid key, got %q", key.Key)
	}
	if !key.Active {
		t.Error("expected new key active")
	}

	got, err := s.APIKeyByKey(ctx, key.Key)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.ID != key.ID || got.RateLimit != 60 {
		t.Errorf("unexpected roundtrip: %+v", got)
	}
	if got.LastUsedAt != nil {
		t.Error("expected no usage stamp yet")
	}

	if err := s.TouchAPIKey(ctx, key.ID); err != nil {
		t.Fatalf("touch: %v", err)
	}
	got, _ = s.APIKeyByKey(ctx, key.Key)
	if got.LastUsedAt == nil {
		t.Error("expected usage stamp after touch")
	}
}

func TestAPIKeyValidation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	cases := []CreateAPIKeyParams{
		{Name: "", RateLimit: 60, RateLimitWindow: 60},
		{Name: "x", RateLimit: 0, RateLimitWindow: 60},
		{Name: "x", RateLimit: 60, RateLimitWindow: 0},
	}
	for i, p := range cases {
		if _, err := s.CreateAPIKey(ctx, p); !errors.Is(err, model.ErrValidation) {
			t.Errorf("case %d: expected validation error, got %v", i, err)
		}
	}
}

func TestDeactivateAPIKey(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	key, _ := s.CreateAPIKey(ctx, CreateAPIKeyParams{Name: "ci", RateLimit: 60, RateLimitWindow: 60})
	if err := s.DeactivateAPIKey(ctx, key.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	got, _ := s.APIKeyByKey(ctx, key.Key)
	if got.Active {
		t.Error("expected inactive key")
	}

	if err := s.DeactivateAPIKey(ctx, 404); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAPIKeyLookupMissing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.APIKeyByKey(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
