package store

import (
	"context"
	"errors"
	"testing"

	"github.com/memvault/memvault/internal/model"
)

func TestCreateSubscriptionDefaults(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sub, err := s.CreateSubscription(ctx, CreateSubscriptionParams{
		Name:      "audit-feed",
		TargetURL: "https://hooks.example.com/memvault",
		Events:    []string{"memory.entry.created", "", "memory.entry.created", "consent.revoked"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sub.Status != model.SubscriptionActive {
		t.Errorf("expected active, got %s", sub.Status)
	}
	if sub.Secret == "" {
		t.Error("expected generated secret")
	}
	if len(sub.Events) != 2 {
		t.Errorf("expected deduped events, got %v", sub.Events)
	}

	if _, err := s.CreateSubscription(ctx, CreateSubscriptionParams{TargetURL: "x"}); !errors.Is(err, model.ErrValidation) {
		t.Errorf("expected validation error for missing name, got %v", err)
	}
}

func TestActiveSubscriptionsForEvent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	entrySub, _ := s.CreateSubscription(ctx, CreateSubscriptionParams{
		Name: "entries", TargetURL: "https://a.example.com",
		Events: []string{model.EventEntryCreated},
	})
	s.CreateSubscription(ctx, CreateSubscriptionParams{
		Name: "consents", TargetURL: "https://b.example.com",
		Events: []string{model.EventConsentRevoked},
	})
	paused, _ := s.CreateSubscription(ctx, CreateSubscriptionParams{
		Name: "paused", TargetURL: "https://c.example.com",
		Events: []string{model.EventEntryCreated},
	})
	s.PauseSubscription(ctx, paused.ID)

	subs, err := s.ActiveSubscriptionsForEvent(ctx, model.EventEntryCreated)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(subs) != 1 || subs[0].ID != entrySub.ID {
		t.Errorf("expected only the active entry subscription, got %+v", subs)
	}
}

func TestFailureThresholdDisablesSubscription(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sub, _ := s.CreateSubscription(ctx, CreateSubscriptionParams{
		Name: "flaky", TargetURL: "https://down.example.com",
		Events: []string{model.EventEntryCreated},
	})

	for i := 1; i <= model.FailureThreshold; i++ {
		updated, err := s.MarkSubscriptionFailure(ctx, sub.ID, "connection refused")
		if err != nil {
			t.Fatalf("failure %d: %v", i, err)
		}
		if updated.FailureCount != i {
			t.Errorf("expected count %d, got %d", i, updated.FailureCount)
		}
		if i < model.FailureThreshold && updated.Status != model.SubscriptionActive {
			t.Errorf("expected still active at %d failures, got %s", i, updated.Status)
		}
		if i == model.FailureThreshold && updated.Status != model.SubscriptionError {
			t.Errorf("expected error state at threshold, got %s", updated.Status)
		}
	}

	// Error'd subscriptions no longer receive deliveries.
	subs, _ := s.ActiveSubscriptionsForEvent(ctx, model.EventEntryCreated)
	if len(subs) != 0 {
		t.Errorf("expected no active subscriptions, got %+v", subs)
	}

	// One success heals the streak and the state.
	if err := s.MarkSubscriptionSuccess(ctx, sub.ID); err != nil {
		t.Fatalf("success: %v", err)
	}
	got, _ := s.SubscriptionByID(ctx, sub.ID)
	if got.Status != model.SubscriptionActive || got.FailureCount != 0 || got.LastError != "" {
		t.Errorf("unexpected state after success: %+v", got)
	}
	if got.LastSuccessAt == nil || got.LastFailureAt == nil {
		t.Errorf("expected both delivery stamps set: %+v", got)
	}
}

func TestUpdateSubscriptionEvents(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sub, _ := s.CreateSubscription(ctx, CreateSubscriptionParams{
		Name: "n", TargetURL: "https://a.example.com",
		Events: []string{model.EventEntryCreated},
	})
	if err := s.UpdateSubscriptionEvents(ctx, sub.ID, []string{model.EventConsentCreated, model.EventConsentRevoked}); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, _ := s.SubscriptionByID(ctx, sub.ID)
	if got.AllowsEvent(model.EventEntryCreated) {
		t.Error("old event should be gone")
	}
	if !got.AllowsEvent(model.EventConsentRevoked) {
		t.Error("new event should be present")
	}
}

func TestDeleteSubscription(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sub, _ := s.CreateSubscription(ctx, CreateSubscriptionParams{
		Name: "n", TargetURL: "https://a.example.com",
	})
	if err := s.DeleteSubscription(ctx, sub.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.SubscriptionByID(ctx, sub.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.DeleteSubscription(ctx, sub.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}
