package graph

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/memvault/memvault/internal/event"
	"github.com/memvault/memvault/internal/model"
	"github.com/memvault/memvault/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "graph.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// newSyncedStore wires the projection into the store's event bus, so
// entry and consent mutations project automatically.
func newSyncedStore(t *testing.T) *store.Store {
	t.Helper()
	s := newTestStore(t)
	bus := event.NewBus()
	bus.Subscribe(NewSync(s, quietLogger()))
	s.SetEvents(bus)
	return s
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func mustNode(t *testing.T, s *store.Store, nodeType, ref string) *model.GraphNode {
	t.Helper()
	node, err := s.NodeByRef(context.Background(), nodeType, ref)
	if err != nil {
		t.Fatalf("node %s/%s: %v", nodeType, ref, err)
	}
	return node
}

// edgeWeights maps target node id to weight for one relation.
func edgeWeights(t *testing.T, s *store.Store, sourceID int64, relation string) map[int64]float64 {
	t.Helper()
	edges, err := s.EdgesFrom(context.Background(), sourceID, relation)
	if err != nil {
		t.Fatalf("edges from %d %s: %v", sourceID, relation, err)
	}
	out := make(map[int64]float64, len(edges))
	for _, e := range edges {
		out[e.TargetID] = e.Weight
	}
	return out
}

func TestEntryLifecycleProjectsGraph(t *testing.T) {
	ctx := context.Background()
	s := newSyncedStore(t)

	entry, err := s.CreateEntry(ctx, store.CreateEntryParams{
		Title:       "Standup notes",
		Content:     "Discussed the rollout.",
		Sensitivity: model.SensitivityPublic,
		EntryType:   model.TypeNote,
	})
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}
	ref := strconv.FormatInt(entry.ID, 10)

	node := mustNode(t, s, model.NodeMemoryEntry, ref)
	if node.Metadata["sensitivity"] != "public" || node.Metadata["entry_type"] != "note" {
		t.Errorf("unexpected entry node metadata: %v", node.Metadata)
	}
	kind := mustNode(t, s, model.NodeMemoryEntryType, "note")
	level := mustNode(t, s, model.NodeSensitivityLevel, "public")

	if got := edgeWeights(t, s, node.ID, "has_type"); got[kind.ID] != 0.9 {
		t.Errorf("has_type edge = %v, want weight 0.9 to node %d", got, kind.ID)
	}
	if got := edgeWeights(t, s, kind.ID, "type_of"); got[node.ID] != 0.9 {
		t.Errorf("type_of edge = %v, want weight 0.9 to node %d", got, node.ID)
	}
	if got := edgeWeights(t, s, node.ID, "has_sensitivity"); got[level.ID] != 0.7 {
		t.Errorf("has_sensitivity edge = %v, want weight 0.7 to node %d", got, level.ID)
	}
	if got := edgeWeights(t, s, level.ID, "sensitivity_of"); got[node.ID] != 0.7 {
		t.Errorf("sensitivity_of edge = %v, want weight 0.7 to node %d", got, node.ID)
	}

	sens := model.SensitivitySecret
	if _, err := s.UpdateEntry(ctx, store.UpdateEntryParams{
		ID:              entry.ID,
		ExpectedVersion: entry.Version,
		Sensitivity:     &sens,
	}); err != nil {
		t.Fatalf("update entry: %v", err)
	}
	node = mustNode(t, s, model.NodeMemoryEntry, ref)
	if node.Metadata["sensitivity"] != "secret" {
		t.Errorf("metadata not refreshed on update: %v", node.Metadata)
	}
	secret := mustNode(t, s, model.NodeSensitivityLevel, "secret")
	if got := edgeWeights(t, s, node.ID, "has_sensitivity"); got[secret.ID] != 0.7 {
		t.Errorf("updated entry should link its new level, got %v", got)
	}

	if err := s.DeleteEntry(ctx, store.DeleteEntryParams{ID: entry.ID}); err != nil {
		t.Fatalf("delete entry: %v", err)
	}
	if _, err := s.NodeByRef(ctx, model.NodeMemoryEntry, ref); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("entry node should be gone, got %v", err)
	}
	if got := edgeWeights(t, s, kind.ID, "type_of"); len(got) != 0 {
		t.Errorf("edges should cascade with the node, got %v", got)
	}
}

func TestConsentLifecycleProjectsGraph(t *testing.T) {
	ctx := context.Background()
	s := newSyncedStore(t)

	user, err := s.CreateUser(ctx, "ada@example.com", "Ada")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	consent, err := s.CreateConsent(ctx, store.CreateConsentParams{
		UserID:            user.ID,
		AgentIdentifier:   "assistant-1",
		Scopes:            []model.Scope{model.ScopeMemoryRead, model.ScopeMemorySearch},
		SensitivityLevels: []model.Sensitivity{model.SensitivityPublic, model.SensitivityConfidential},
	})
	if err != nil {
		t.Fatalf("create consent: %v", err)
	}
	ref := strconv.FormatInt(consent.ID, 10)

	consentNode := mustNode(t, s, model.NodeConsent, ref)
	if consentNode.Metadata["status"] != "pending" {
		t.Errorf("consent node status = %q, want pending", consentNode.Metadata["status"])
	}
	if consentNode.Metadata["scopes"] != "memory.read,memory.search" {
		t.Errorf("consent node scopes = %q", consentNode.Metadata["scopes"])
	}
	if consentNode.Metadata["sensitivity_levels"] != "public,confidential" {
		t.Errorf("consent node levels = %q", consentNode.Metadata["sensitivity_levels"])
	}
	userNode := mustNode(t, s, model.NodeUser, user.ID)
	if userNode.Metadata["email"] != "ada@example.com" {
		t.Errorf("user node metadata = %v", userNode.Metadata)
	}
	agentNode := mustNode(t, s, model.NodeAgent, "assistant-1")
	if agentNode.Metadata["identifier"] != "assistant-1" {
		t.Errorf("agent node metadata = %v", agentNode.Metadata)
	}
	// Pending consents carry no edges yet.
	if got := edgeWeights(t, s, userNode.ID, "grants"); len(got) != 0 {
		t.Errorf("pending consent should not grant, got %v", got)
	}

	if _, err := s.ActivateConsent(ctx, consent.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}
	consentNode = mustNode(t, s, model.NodeConsent, ref)
	if consentNode.Metadata["status"] != "active" {
		t.Errorf("consent node status = %q, want active", consentNode.Metadata["status"])
	}

	if got := edgeWeights(t, s, userNode.ID, "grants"); got[consentNode.ID] != 1.0 {
		t.Errorf("grants = %v, want weight 1.0 to consent node", got)
	}
	if got := edgeWeights(t, s, consentNode.ID, "granted_by"); got[userNode.ID] != 1.0 {
		t.Errorf("granted_by = %v, want weight 1.0 to user node", got)
	}
	if got := edgeWeights(t, s, consentNode.ID, "granted_to"); got[agentNode.ID] != 0.8 {
		t.Errorf("granted_to = %v, want weight 0.8 to agent node", got)
	}
	if got := edgeWeights(t, s, agentNode.ID, "receives"); got[consentNode.ID] != 0.8 {
		t.Errorf("receives = %v, want weight 0.8 to consent node", got)
	}
	public := mustNode(t, s, model.NodeSensitivityLevel, "public")
	confidential := mustNode(t, s, model.NodeSensitivityLevel, "confidential")
	permits := edgeWeights(t, s, consentNode.ID, "permits_sensitivity")
	if permits[public.ID] != 0.6 || permits[confidential.ID] != 0.6 {
		t.Errorf("permits_sensitivity = %v, want 0.6 to both level nodes", permits)
	}
	if got := edgeWeights(t, s, public.ID, "permitted_by"); got[consentNode.ID] != 0.6 {
		t.Errorf("permitted_by = %v, want 0.6 to consent node", got)
	}

	if _, err := s.RevokeConsent(ctx, consent.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	for source, relation := range map[int64]string{
		userNode.ID:    "grants",
		agentNode.ID:   "receives",
		public.ID:      "permitted_by",
		consentNode.ID: "granted_by",
	} {
		if got := edgeWeights(t, s, source, relation); len(got) != 0 {
			t.Errorf("%s edges should be cleared after revocation, got %v", relation, got)
		}
	}
	if got := edgeWeights(t, s, consentNode.ID, "permits_sensitivity"); len(got) != 0 {
		t.Errorf("permits_sensitivity should be cleared, got %v", got)
	}
	// Nodes survive revocation; only edges are dropped.
	mustNode(t, s, model.NodeConsent, ref)
}

func TestConsentResyncDropsStaleLevels(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sync := NewSync(s, quietLogger())

	user, err := s.CreateUser(ctx, "eve@example.com", "Eve")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	consent, err := s.CreateConsent(ctx, store.CreateConsentParams{
		UserID:            user.ID,
		AgentIdentifier:   "assistant-2",
		Scopes:            []model.Scope{model.ScopeMemoryRead},
		SensitivityLevels: []model.Sensitivity{model.SensitivityPublic, model.SensitivityConfidential},
	})
	if err != nil {
		t.Fatalf("create consent: %v", err)
	}
	active, err := s.ActivateConsent(ctx, consent.ID)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}

	sync.HandleEvent(ctx, event.ConsentUpdated{Consent: *active})
	ref := strconv.FormatInt(consent.ID, 10)
	consentNode := mustNode(t, s, model.NodeConsent, ref)
	if got := edgeWeights(t, s, consentNode.ID, "permits_sensitivity"); len(got) != 2 {
		t.Fatalf("expected two permitted levels, got %v", got)
	}

	narrowed := *active
	narrowed.SensitivityLevels = []model.Sensitivity{model.SensitivityConfidential}
	sync.HandleEvent(ctx, event.ConsentUpdated{Consent: narrowed})

	confidential := mustNode(t, s, model.NodeSensitivityLevel, "confidential")
	permits := edgeWeights(t, s, consentNode.ID, "permits_sensitivity")
	if len(permits) != 1 || permits[confidential.ID] != 0.6 {
		t.Errorf("stale permitted levels should be dropped, got %v", permits)
	}
	public := mustNode(t, s, model.NodeSensitivityLevel, "public")
	if got := edgeWeights(t, s, public.ID, "permitted_by"); len(got) != 0 {
		t.Errorf("reverse edge for dropped level should be gone, got %v", got)
	}
}
