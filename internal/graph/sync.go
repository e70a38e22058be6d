// Package graph maintains a derived knowledge-graph projection of
// entries, consents, users, and agents, and answers proximity queries
// over it.
package graph

import (
	"context"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/memvault/memvault/internal/event"
	"github.com/memvault/memvault/internal/model"
	"github.com/memvault/memvault/internal/store"
)

// Edge relations and their weights, fixed by the projection.
const (
	relGrants         = "grants"
	relGrantedBy      = "granted_by"
	relGrantedTo      = "granted_to"
	relReceives       = "receives"
	relHasType        = "has_type"
	relTypeOf         = "type_of"
	relHasSensitivity = "has_sensitivity"
	relSensitivityOf  = "sensitivity_of"
	relPermits        = "permits_sensitivity"
	relPermittedBy    = "permitted_by"
)

// consentEdgeKinds are the relations cleared when a consent goes
// inactive.
var consentEdgeKinds = []string{
	relGrants, relGrantedBy, relGrantedTo, relReceives, relPermits, relPermittedBy,
}

// Sync projects entry and consent lifecycle events onto the graph.
// It subscribes to the event bus, so every projection runs after the
// owning transaction committed.
type Sync struct {
	store *store.Store
	log   *logrus.Logger
}

// NewSync creates a graph sync subscriber.
func NewSync(st *store.Store, log *logrus.Logger) *Sync {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Sync{store: st, log: log}
}

// HandleEvent implements event.Handler.
func (s *Sync) HandleEvent(ctx context.Context, ev event.Event) {
	var err error
	switch e := ev.(type) {
	case event.EntryCreated:
		err = s.syncEntry(ctx, e.Entry)
	case event.EntryUpdated:
		err = s.syncEntry(ctx, e.Entry)
	case event.EntryDeleted:
		// Edges go with the node through the cascade.
		err = s.store.DeleteNodeByRef(ctx, model.NodeMemoryEntry, strconv.FormatInt(e.EntryID, 10))
	case event.ConsentCreated:
		err = s.syncConsent(ctx, e.Consent)
	case event.ConsentUpdated:
		err = s.syncConsent(ctx, e.Consent)
	case event.ConsentRevoked:
		err = s.syncConsent(ctx, e.Consent)
	default:
		return
	}
	if err != nil {
		s.log.WithError(err).WithField("event", ev.Name()).Error("graph sync failed")
	}
}

type link struct {
	source, target int64
	relation       string
	weight         float64
}

func (s *Sync) syncEntry(ctx context.Context, entry model.MemoryEntry) error {
	ref := strconv.FormatInt(entry.ID, 10)
	node, err := s.store.UpsertNode(ctx, model.NodeMemoryEntry, ref, map[string]string{
		"sensitivity": string(entry.Sensitivity),
		"entry_type":  string(entry.EntryType),
	})
	if err != nil {
		return err
	}
	typeNode, err := s.store.UpsertNode(ctx, model.NodeMemoryEntryType, string(entry.EntryType),
		map[string]string{"label": string(entry.EntryType)})
	if err != nil {
		return err
	}
	levelNode, err := s.store.UpsertNode(ctx, model.NodeSensitivityLevel, string(entry.Sensitivity),
		map[string]string{"label": string(entry.Sensitivity)})
	if err != nil {
		return err
	}
	return s.ensureLinks(ctx, []link{
		{node.ID, typeNode.ID, relHasType, 0.9},
		{typeNode.ID, node.ID, relTypeOf, 0.9},
		{node.ID, levelNode.ID, relHasSensitivity, 0.7},
		{levelNode.ID, node.ID, relSensitivityOf, 0.7},
	})
}

func (s *Sync) syncConsent(ctx context.Context, consent model.Consent) error {
	ref := strconv.FormatInt(consent.ID, 10)
	consentNode, err := s.store.UpsertNode(ctx, model.NodeConsent, ref, map[string]string{
		"status":             string(consent.Status),
		"scopes":             strings.Join(consent.Scopes.Strings(), ","),
		"sensitivity_levels": joinLevels(consent.SensitivityLevels),
	})
	if err != nil {
		return err
	}
	userMeta := map[string]string{}
	if user, err := s.store.UserByID(ctx, consent.UserID); err == nil {
		userMeta["email"] = user.Email
	}
	userNode, err := s.store.UpsertNode(ctx, model.NodeUser, consent.UserID, userMeta)
	if err != nil {
		return err
	}
	agentNode, err := s.store.UpsertNode(ctx, model.NodeAgent, consent.AgentIdentifier,
		map[string]string{"identifier": consent.AgentIdentifier})
	if err != nil {
		return err
	}

	if !consent.IsActive() {
		return s.store.ClearEdgesTouching(ctx, consentNode.ID, consentEdgeKinds)
	}
	if err := s.ensureLinks(ctx, []link{
		{userNode.ID, consentNode.ID, relGrants, 1.0},
		{consentNode.ID, userNode.ID, relGrantedBy, 1.0},
		{consentNode.ID, agentNode.ID, relGrantedTo, 0.8},
		{agentNode.ID, consentNode.ID, relReceives, 0.8},
	}); err != nil {
		return err
	}
	return s.linkPermittedLevels(ctx, consentNode.ID, consent.SensitivityLevels)
}

// linkPermittedLevels ensures a permits edge pair per granted level and
// drops the pairs for levels the consent no longer covers.
func (s *Sync) linkPermittedLevels(ctx context.Context, consentNodeID int64, levels []model.Sensitivity) error {
	existing, err := s.store.EdgesFrom(ctx, consentNodeID, relPermits)
	if err != nil {
		return err
	}
	stale := make(map[int64]struct{}, len(existing))
	for _, e := range existing {
		stale[e.TargetID] = struct{}{}
	}

	for _, level := range levels {
		levelNode, err := s.store.UpsertNode(ctx, model.NodeSensitivityLevel, string(level),
			map[string]string{"label": string(level)})
		if err != nil {
			return err
		}
		if err := s.ensureLinks(ctx, []link{
			{consentNodeID, levelNode.ID, relPermits, 0.6},
			{levelNode.ID, consentNodeID, relPermittedBy, 0.6},
		}); err != nil {
			return err
		}
		delete(stale, levelNode.ID)
	}

	for targetID := range stale {
		if err := s.store.DeleteEdge(ctx, consentNodeID, targetID, relPermits); err != nil {
			return err
		}
		if err := s.store.DeleteEdge(ctx, targetID, consentNodeID, relPermittedBy); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sync) ensureLinks(ctx context.Context, links []link) error {
	for _, l := range links {
		if err := s.store.EnsureEdge(ctx, l.source, l.target, l.relation, l.weight); err != nil {
			return err
		}
	}
	return nil
}

func joinLevels(levels []model.Sensitivity) string {
	parts := make([]string, len(levels))
	for i, l := range levels {
		parts[i] = string(l)
	}
	return strings.Join(parts, ",")
}
