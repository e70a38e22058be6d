// Package audit records committed domain changes. It subscribes to the
// event bus, so records are written only after the owning transaction
// commits and the actor is always explicit in the event, never ambient.
package audit

import (
	"context"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/memvault/memvault/internal/event"
	"github.com/memvault/memvault/internal/model"
	"github.com/memvault/memvault/internal/store"
)

// Recorder writes one audit row per entry or consent lifecycle event.
type Recorder struct {
	store *store.Store
	log   *logrus.Logger
}

// NewRecorder creates a recorder ready to subscribe on a bus.
func NewRecorder(st *store.Store, log *logrus.Logger) *Recorder {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Recorder{store: st, log: log}
}

// HandleEvent implements event.Handler.
func (r *Recorder) HandleEvent(ctx context.Context, ev event.Event) {
	rec := model.AuditRecord{Action: ev.Name()}

	switch e := ev.(type) {
	case event.EntryCreated:
		rec.ObjectType = "memory_entry"
		rec.ObjectID = strconv.FormatInt(e.Entry.ID, 10)
		rec.Metadata = entryMeta(e.Entry)
	case event.EntryUpdated:
		rec.ObjectType = "memory_entry"
		rec.ObjectID = strconv.FormatInt(e.Entry.ID, 10)
		rec.Metadata = entryMeta(e.Entry)
	case event.EntryDeleted:
		rec.ObjectType = "memory_entry"
		rec.ObjectID = strconv.FormatInt(e.EntryID, 10)
	case event.ConsentCreated:
		fillConsent(&rec, e.Consent)
	case event.ConsentUpdated:
		fillConsent(&rec, e.Consent)
	case event.ConsentRevoked:
		fillConsent(&rec, e.Consent)
	default:
		return
	}

	if _, err := r.store.RecordAudit(ctx, rec); err != nil {
		r.log.WithError(err).WithField("event", ev.Name()).Error("audit write failed")
	}
}

func entryMeta(e model.MemoryEntry) map[string]string {
	return map[string]string{
		"title":       e.Title,
		"sensitivity": string(e.Sensitivity),
		"entry_type":  string(e.EntryType),
		"version":     strconv.FormatInt(e.Version, 10),
	}
}

// fillConsent sets the granting user as the actor; consent changes are
// always on a user's behalf.
func fillConsent(rec *model.AuditRecord, c model.Consent) {
	rec.Actor = c.UserID
	rec.ObjectType = "consent"
	rec.ObjectID = strconv.FormatInt(c.ID, 10)
	rec.Metadata = map[string]string{
		"agent_identifier": c.AgentIdentifier,
		"status":           string(c.Status),
		"version":          strconv.FormatInt(c.Version, 10),
	}
}
