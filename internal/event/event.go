// Package event carries typed domain events from store mutations to
// subscribers. Events are published only after the owning transaction
// commits; subscribers never run inside it.
package event

import (
	"context"
	"time"

	"github.com/memvault/memvault/internal/model"
)

// Event is one committed domain change.
type Event interface {
	// Name returns the wire event name, e.g. "memory.entry.created".
	Name() string
	// Data returns the event payload fields.
	Data() map[string]interface{}
}

// EntryCreated fires after a memory entry row is committed.
type EntryCreated struct {
	Entry model.MemoryEntry
}

func (e EntryCreated) Name() string { return model.EventEntryCreated }

func (e EntryCreated) Data() map[string]interface{} {
	return entryData(e.Entry)
}

// EntryUpdated fires after an entry mutation commits.
type EntryUpdated struct {
	Entry model.MemoryEntry
}

func (e EntryUpdated) Name() string { return model.EventEntryUpdated }

func (e EntryUpdated) Data() map[string]interface{} {
	return entryData(e.Entry)
}

// EntryDeleted fires after an entry is removed. Only the id survives.
type EntryDeleted struct {
	EntryID int64
}

func (e EntryDeleted) Name() string { return model.EventEntryDeleted }

func (e EntryDeleted) Data() map[string]interface{} {
	return map[string]interface{}{"entry_id": e.EntryID}
}

// ConsentCreated fires after a new consent version is committed.
type ConsentCreated struct {
	Consent model.Consent
}

func (e ConsentCreated) Name() string { return model.EventConsentCreated }

func (e ConsentCreated) Data() map[string]interface{} {
	return map[string]interface{}{
		"consent_id":       e.Consent.ID,
		"user_id":          e.Consent.UserID,
		"agent_identifier": e.Consent.AgentIdentifier,
		"status":           string(e.Consent.Status),
	}
}

// ConsentUpdated fires after a consent status transition other than
// revocation (activation, expiry).
type ConsentUpdated struct {
	Consent model.Consent
}

func (e ConsentUpdated) Name() string { return "consent.updated" }

func (e ConsentUpdated) Data() map[string]interface{} {
	return map[string]interface{}{
		"consent_id":       e.Consent.ID,
		"user_id":          e.Consent.UserID,
		"agent_identifier": e.Consent.AgentIdentifier,
		"status":           string(e.Consent.Status),
	}
}

// ConsentRevoked fires once per revocation transition.
type ConsentRevoked struct {
	Consent model.Consent
}

func (e ConsentRevoked) Name() string { return model.EventConsentRevoked }

func (e ConsentRevoked) Data() map[string]interface{} {
	data := map[string]interface{}{
		"consent_id":       e.Consent.ID,
		"user_id":          e.Consent.UserID,
		"agent_identifier": e.Consent.AgentIdentifier,
		"status":           string(e.Consent.Status),
	}
	if e.Consent.RevokedAt != nil {
		data["revoked_at"] = e.Consent.RevokedAt.UTC().Format(time.RFC3339)
	}
	return data
}

func entryData(entry model.MemoryEntry) map[string]interface{} {
	return map[string]interface{}{
		"entry_id":    entry.ID,
		"title":       entry.Title,
		"sensitivity": string(entry.Sensitivity),
		"entry_type":  string(entry.EntryType),
	}
}

// Handler consumes committed events. Failures are the handler's problem;
// the bus logs and moves on.
type Handler interface {
	HandleEvent(ctx context.Context, ev Event)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev Event)

func (f HandlerFunc) HandleEvent(ctx context.Context, ev Event) { f(ctx, ev) }
