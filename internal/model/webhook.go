package model

import (
	"sort"
	"time"
)

// Webhook event names.
const (
	EventEntryCreated   = "memory.entry.created"
	EventEntryUpdated   = "memory.entry.updated"
	EventEntryDeleted   = "memory.entry.deleted"
	EventConsentCreated = "consent.created"
	EventConsentRevoked = "consent.revoked"
)

// SubscriptionStatus is the delivery state of a webhook subscription.
type SubscriptionStatus string

const (
	SubscriptionActive SubscriptionStatus = "active"
	SubscriptionPaused SubscriptionStatus = "paused"
	SubscriptionError  SubscriptionStatus = "error"
)

// FailureThreshold is the number of consecutive delivery failures after
// which a subscription is moved to the error state.
const FailureThreshold = 3

// WebhookSubscription is an HTTP endpoint registered for domain events.
type WebhookSubscription struct {
	ID            int64              `json:"id"`
	Name          string             `json:"name"`
	TargetURL     string             `json:"target_url"`
	Secret        string             `json:"-"`
	Events        []string           `json:"events"`
	Status        SubscriptionStatus `json:"status"`
	FailureCount  int                `json:"failure_count"`
	LastSuccessAt *time.Time         `json:"last_success_at,omitempty"`
	LastFailureAt *time.Time         `json:"last_failure_at,omitempty"`
	LastError     string             `json:"last_error,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// AllowsEvent reports whether the subscription listens for the event.
func (s *WebhookSubscription) AllowsEvent(event string) bool {
	for _, e := range s.Events {
		if e == event {
			return true
		}
	}
	return false
}

// NormalizeEvents deduplicates and sorts event names.
func NormalizeEvents(events []string) []string {
	seen := make(map[string]bool, len(events))
	out := make([]string, 0, len(events))
	for _, e := range events {
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}
