package tool

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/memvault/memvault/internal/auth"
	"github.com/memvault/memvault/internal/config"
	"github.com/memvault/memvault/internal/model"
	"github.com/memvault/memvault/internal/policy"
	"github.com/memvault/memvault/internal/query"
	"github.com/memvault/memvault/internal/security"
	"github.com/memvault/memvault/internal/store"
)

const testSecret = "tool-test-secret"

type fixture struct {
	store    *store.Store
	auth     *auth.Authenticator
	dispatch *Dispatcher
}

func newTestDispatcher(t *testing.T) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "tool.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	log := logrus.New()
	log.SetOutput(io.Discard)

	q, err := query.New(s, nil, config.QueryConfig{}, log)
	if err != nil {
		t.Fatalf("query service: %v", err)
	}
	t.Cleanup(q.Close)

	a := auth.NewAuthenticator(testSecret, s, policy.NewEngine(s))
	return &fixture{store: s, auth: a, dispatch: NewDispatcher(a, s, q, security.New(), log)}
}

func (f *fixture) seedUser(t *testing.T, email string) *model.User {
	t.Helper()
	user, err := f.store.CreateUser(context.Background(), email, "Test User")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func (f *fixture) seedConsent(t *testing.T, userID, agent string, scopes []model.Scope, levels []model.Sensitivity) *model.Consent {
	t.Helper()
	ctx := context.Background()
	consent, err := f.store.CreateConsent(ctx, store.CreateConsentParams{
		UserID:            userID,
		AgentIdentifier:   agent,
		Scopes:            scopes,
		SensitivityLevels: levels,
	})
	if err != nil {
		t.Fatalf("create consent: %v", err)
	}
	active, err := f.store.ActivateConsent(ctx, consent.ID)
	if err != nil {
		t.Fatalf("activate consent: %v", err)
	}
	return active
}

func (f *fixture) seedEntry(t *testing.T, title, content string, sensitivity model.Sensitivity, entryType model.EntryType) *model.MemoryEntry {
	t.Helper()
	entry, err := f.store.CreateEntry(context.Background(), store.CreateEntryParams{
		Title:       title,
		Content:     content,
		Sensitivity: sensitivity,
		EntryType:   entryType,
	})
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}
	return entry
}

func (f *fixture) token(t *testing.T, p auth.TokenParams) string {
	t.Helper()
	token, err := f.auth.Mint(p)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return "Bearer " + token
}

func agentScopes() []model.Scope {
	return []model.Scope{model.ScopeMemorySearch, model.ScopeMemoryRead, model.ScopeMemoryWrite}
}

func TestMemoryFlowThroughTools(t *testing.T) {
	ctx := context.Background()
	f := newTestDispatcher(t)
	user := f.seedUser(t, "agent-user@example.com")
	consent := f.seedConsent(t, user.ID, "python-agent", agentScopes(),
		[]model.Sensitivity{model.SensitivityPublic, model.SensitivityConfidential})

	pub := f.seedEntry(t, "Alpha release plan", "Alpha release plan and preparation notes.", model.SensitivityPublic, model.TypeNote)
	conf := f.seedEntry(t, "Beta launch feedback", "Beta launch plan and key customer insights.", model.SensitivityConfidential, model.TypeNote)
	sec := f.seedEntry(t, "Gamma incident post-mortem", "Gamma incident plan for remediation.", model.SensitivitySecret, model.TypeEvent)

	bearer := f.token(t, auth.TokenParams{
		UserID:    user.ID,
		AgentID:   "python-agent",
		Scopes:    agentScopes(),
		ConsentID: consent.ID,
	})

	res, err := f.dispatch.Execute(ctx, "memory.search", bearer, map[string]interface{}{"query": "plan", "limit": 5})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res["count"] != 2 {
		t.Fatalf("count = %v, want 2", res["count"])
	}
	ids := map[int64]bool{}
	for _, row := range res["results"].([]map[string]interface{}) {
		ids[row["id"].(int64)] = true
		if _, ok := row["combined_score"]; !ok {
			t.Errorf("result row missing combined_score: %v", row)
		}
	}
	if !ids[pub.ID] || !ids[conf.ID] || ids[sec.ID] {
		t.Errorf("search should cover public and confidential only, got %v", ids)
	}

	got, err := f.dispatch.Execute(ctx, "memory.get", bearer, map[string]interface{}{"entry_id": pub.ID})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	entry := got["entry"].(map[string]interface{})
	if entry["id"] != pub.ID || entry["version"] != int64(1) {
		t.Errorf("unexpected entry doc: %v", entry)
	}

	updated, err := f.dispatch.Execute(ctx, "memory.upsert", bearer, map[string]interface{}{
		"entry": map[string]interface{}{
			"id":      conf.ID,
			"version": conf.Version,
			"title":   "Beta launch feedback (updated)",
		},
	})
	if err != nil {
		t.Fatalf("upsert update: %v", err)
	}
	if updated["version"] != int64(2) {
		t.Errorf("update version = %v, want 2", updated["version"])
	}
	reloaded, err := f.store.EntryByID(ctx, conf.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Title != "Beta launch feedback (updated)" {
		t.Errorf("title not updated: %q", reloaded.Title)
	}

	created, err := f.dispatch.Execute(ctx, "memory.upsert", bearer, map[string]interface{}{
		"entry": map[string]interface{}{
			"title":       "Agent created note",
			"content":     "Created through the tool surface.",
			"sensitivity": "public",
		},
	})
	if err != nil {
		t.Fatalf("upsert create: %v", err)
	}
	createdID := created["entry_id"].(int64)
	if created["version"] != int64(1) {
		t.Errorf("created version = %v, want 1", created["version"])
	}

	deleted, err := f.dispatch.Execute(ctx, "memory.delete", bearer, map[string]interface{}{
		"entry_id": createdID,
		"version":  int64(1),
	})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted["ok"] != true {
		t.Errorf("delete result = %v", deleted)
	}
	if _, err := f.store.EntryByID(ctx, createdID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("entry should be gone, got %v", err)
	}
}

func TestSearchDenials(t *testing.T) {
	ctx := context.Background()
	f := newTestDispatcher(t)
	user := f.seedUser(t, "a@example.com")
	consent := f.seedConsent(t, user.ID, "agent", agentScopes(),
		[]model.Sensitivity{model.SensitivityPublic})

	bearer := f.token(t, auth.TokenParams{
		UserID: user.ID, AgentID: "agent", Scopes: agentScopes(), ConsentID: consent.ID,
	})
	readOnly := f.token(t, auth.TokenParams{
		UserID: user.ID, AgentID: "agent", Scopes: []model.Scope{model.ScopeMemoryRead}, ConsentID: consent.ID,
	})

	cases := []struct {
		name    string
		bearer  string
		payload map[string]interface{}
	}{
		{"blank query", bearer, map[string]interface{}{"query": "   "}},
		{"fractional limit", bearer, map[string]interface{}{"query": "x", "limit": 2.5}},
		{"negative limit", bearer, map[string]interface{}{"query": "x", "k": -1}},
		{"missing search scope", readOnly, map[string]interface{}{"query": "x"}},
		{"impersonation", bearer, map[string]interface{}{"query": "x", "user_id": "someone-else"}},
	}
	for _, tc := range cases {
		if _, err := f.dispatch.Execute(ctx, "memory.search", tc.bearer, tc.payload); !errors.Is(err, policy.ErrDenied) {
			t.Errorf("%s: err = %v, want denial", tc.name, err)
		}
	}
}

func TestUpsertDenials(t *testing.T) {
	ctx := context.Background()
	f := newTestDispatcher(t)
	user := f.seedUser(t, "a@example.com")
	consent := f.seedConsent(t, user.ID, "agent", agentScopes(),
		[]model.Sensitivity{model.SensitivityPublic, model.SensitivityConfidential})
	entry := f.seedEntry(t, "Note", "Body.", model.SensitivityPublic, model.TypeNote)

	bearer := f.token(t, auth.TokenParams{
		UserID: user.ID, AgentID: "agent", Scopes: agentScopes(), ConsentID: consent.ID,
	})

	deny := func(name string, payload map[string]interface{}) {
		t.Helper()
		if _, err := f.dispatch.Execute(ctx, "memory.upsert", bearer, payload); !errors.Is(err, policy.ErrDenied) {
			t.Errorf("%s: err = %v, want denial", name, err)
		}
	}

	deny("non-object entry", map[string]interface{}{"entry": "nope"})
	deny("unknown sensitivity", map[string]interface{}{
		"entry": map[string]interface{}{"title": "t", "content": "c", "sensitivity": "radioactive"},
	})
	deny("create beyond consent", map[string]interface{}{
		"entry": map[string]interface{}{"title": "t", "content": "c", "sensitivity": "secret"},
	})
	deny("create without content", map[string]interface{}{
		"entry": map[string]interface{}{"title": "t"},
	})
	deny("update without version", map[string]interface{}{
		"entry": map[string]interface{}{"id": entry.ID, "title": "t"},
	})
	deny("update unknown entry", map[string]interface{}{
		"entry": map[string]interface{}{"id": int64(999999), "version": int64(1), "title": "t"},
	})
	deny("escalate beyond consent", map[string]interface{}{
		"entry": map[string]interface{}{"id": entry.ID, "version": entry.Version, "sensitivity": "secret"},
	})

	// A successful update bumps the version, after which the stale
	// expected version must conflict rather than overwrite.
	if _, err := f.dispatch.Execute(ctx, "memory.upsert", bearer, map[string]interface{}{
		"entry": map[string]interface{}{"id": entry.ID, "version": entry.Version, "title": "First rewrite"},
	}); err != nil {
		t.Fatalf("first update: %v", err)
	}
	deny("stale version", map[string]interface{}{
		"entry": map[string]interface{}{"id": entry.ID, "version": entry.Version, "title": "Second rewrite"},
	})
	current, err := f.store.EntryByID(ctx, entry.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if current.Title != "First rewrite" || current.Version != 2 {
		t.Errorf("stale update must not overwrite, got %q v%d", current.Title, current.Version)
	}
}

func TestDeleteAndGetDenials(t *testing.T) {
	ctx := context.Background()
	f := newTestDispatcher(t)
	user := f.seedUser(t, "a@example.com")
	consent := f.seedConsent(t, user.ID, "agent", agentScopes(),
		[]model.Sensitivity{model.SensitivityPublic})
	entry := f.seedEntry(t, "Note", "Body.", model.SensitivityPublic, model.TypeNote)
	secret := f.seedEntry(t, "Incident", "Root cause.", model.SensitivitySecret, model.TypeEvent)

	bearer := f.token(t, auth.TokenParams{
		UserID: user.ID, AgentID: "agent", Scopes: agentScopes(), ConsentID: consent.ID,
	})

	if _, err := f.dispatch.Execute(ctx, "memory.get", bearer, map[string]interface{}{"entry_id": secret.ID}); !errors.Is(err, policy.ErrDenied) {
		t.Errorf("uncovered sensitivity: err = %v, want denial", err)
	}

	if _, err := f.dispatch.Execute(ctx, "memory.delete", bearer, map[string]interface{}{
		"entry_id": entry.ID, "version": int64(41),
	}); !errors.Is(err, policy.ErrDenied) {
		t.Errorf("version mismatch: err = %v, want denial", err)
	}
	if _, err := f.store.EntryByID(ctx, entry.ID); err != nil {
		t.Errorf("mismatched delete must not remove the entry: %v", err)
	}

	if _, err := f.dispatch.Execute(ctx, "memory.delete", bearer, map[string]interface{}{}); !errors.Is(err, policy.ErrDenied) {
		t.Errorf("missing entry_id: err = %v, want denial", err)
	}
}

func TestConsentGrantAndRevokeTools(t *testing.T) {
	ctx := context.Background()
	f := newTestDispatcher(t)
	user := f.seedUser(t, "owner@example.com")
	other := f.seedUser(t, "other@example.com")

	manage := f.token(t, auth.TokenParams{
		UserID: user.ID, AgentID: "node-agent", Scopes: []model.Scope{model.ScopeConsentManage},
	})

	granted, err := f.dispatch.Execute(ctx, "consent.grant", manage, map[string]interface{}{
		"user_id":            user.ID,
		"agent_identifier":   "node-agent",
		"scopes":             []interface{}{"memory.read", "memory.search"},
		"sensitivity_levels": []interface{}{"public"},
	})
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	consentID := granted["consent_id"].(int64)
	if granted["version"] != int64(1) {
		t.Errorf("version = %v, want 1", granted["version"])
	}
	stored, err := f.store.ConsentByID(ctx, consentID)
	if err != nil {
		t.Fatalf("load consent: %v", err)
	}
	if stored.Status != model.ConsentActive {
		t.Errorf("granted consent status = %s, want active", stored.Status)
	}

	// Denials: foreign subject, garbage scope, empty levels.
	if _, err := f.dispatch.Execute(ctx, "consent.grant", manage, map[string]interface{}{
		"user_id":            other.ID,
		"agent_identifier":   "node-agent",
		"scopes":             []interface{}{"memory.read"},
		"sensitivity_levels": []interface{}{"public"},
	}); !errors.Is(err, policy.ErrDenied) {
		t.Errorf("foreign subject: err = %v, want denial", err)
	}
	if _, err := f.dispatch.Execute(ctx, "consent.grant", manage, map[string]interface{}{
		"user_id":            user.ID,
		"agent_identifier":   "node-agent",
		"scopes":             []interface{}{"mind.control"},
		"sensitivity_levels": []interface{}{"public"},
	}); !errors.Is(err, policy.ErrDenied) {
		t.Errorf("invalid scope: err = %v, want denial", err)
	}
	if _, err := f.dispatch.Execute(ctx, "consent.grant", manage, map[string]interface{}{
		"user_id":          user.ID,
		"agent_identifier": "node-agent",
		"scopes":           []interface{}{"memory.read"},
	}); !errors.Is(err, policy.ErrDenied) {
		t.Errorf("missing levels: err = %v, want denial", err)
	}

	revoked, err := f.dispatch.Execute(ctx, "consent.revoke", manage, map[string]interface{}{"consent_id": consentID})
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if revoked["ok"] != true || revoked["status"] != "revoked" {
		t.Errorf("revoke result = %v", revoked)
	}
	again, err := f.dispatch.Execute(ctx, "consent.revoke", manage, map[string]interface{}{"consent_id": consentID})
	if err != nil {
		t.Fatalf("second revoke: %v", err)
	}
	if again["status"] != "revoked" {
		t.Errorf("revoke is idempotent, got %v", again)
	}

	otherManage := f.token(t, auth.TokenParams{
		UserID: other.ID, AgentID: "node-agent", Scopes: []model.Scope{model.ScopeConsentManage},
	})
	if _, err := f.dispatch.Execute(ctx, "consent.revoke", otherManage, map[string]interface{}{"consent_id": consentID}); !errors.Is(err, policy.ErrDenied) {
		t.Errorf("foreign consent: err = %v, want denial", err)
	}
}

func TestRevokedConsentEndsToolAccess(t *testing.T) {
	ctx := context.Background()
	f := newTestDispatcher(t)
	user := f.seedUser(t, "owner@example.com")

	manage := f.token(t, auth.TokenParams{
		UserID: user.ID, AgentID: "go-agent", Scopes: []model.Scope{model.ScopeConsentManage},
	})
	granted, err := f.dispatch.Execute(ctx, "consent.grant", manage, map[string]interface{}{
		"user_id":            user.ID,
		"agent_identifier":   "go-agent",
		"scopes":             []interface{}{"memory.read", "memory.write", "memory.search"},
		"sensitivity_levels": []interface{}{"public"},
	})
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	consentID := granted["consent_id"].(int64)

	bearer := f.token(t, auth.TokenParams{
		UserID: user.ID, AgentID: "go-agent", Scopes: agentScopes(), ConsentID: consentID,
	})
	created, err := f.dispatch.Execute(ctx, "memory.upsert", bearer, map[string]interface{}{
		"entry": map[string]interface{}{"title": "Standup notes", "content": "Ship the beta this week.", "sensitivity": "public"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	entryID := created["entry_id"].(int64)
	if _, err := f.dispatch.Execute(ctx, "memory.get", bearer, map[string]interface{}{"entry_id": entryID}); err != nil {
		t.Fatalf("get before revoke: %v", err)
	}

	if _, err := f.dispatch.Execute(ctx, "consent.revoke", manage, map[string]interface{}{"consent_id": consentID}); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := f.dispatch.Execute(ctx, "memory.get", bearer, map[string]interface{}{"entry_id": entryID}); !errors.Is(err, policy.ErrDenied) {
		t.Errorf("get after revoke: err = %v, want denial", err)
	}
}

func TestUnknownToolDenied(t *testing.T) {
	f := newTestDispatcher(t)
	if _, err := f.dispatch.Execute(context.Background(), "memory.teleport", "Bearer x", nil); !errors.Is(err, policy.ErrDenied) {
		t.Errorf("err = %v, want denial", err)
	}
}

func TestToolResultsPassThroughDLP(t *testing.T) {
	ctx := context.Background()
	f := newTestDispatcher(t)
	user := f.seedUser(t, "a@example.com")
	consent := f.seedConsent(t, user.ID, "agent",
		[]model.Scope{model.ScopeMemoryRead},
		[]model.Sensitivity{model.SensitivityPublic})
	entry := f.seedEntry(t, "Contact sheet", "Reach Dana at dana@example.com or 415-555-0134.", model.SensitivityPublic, model.TypeFact)

	bearer := f.token(t, auth.TokenParams{
		UserID: user.ID, AgentID: "agent", Scopes: []model.Scope{model.ScopeMemoryRead}, ConsentID: consent.ID,
	})
	res, err := f.dispatch.Execute(ctx, "memory.get", bearer, map[string]interface{}{"entry_id": entry.ID})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	content := res["entry"].(map[string]interface{})["content"].(string)
	if strings.Contains(content, "dana@example.com") || strings.Contains(content, "415-555-0134") {
		t.Errorf("sensitive values must not leave the dispatcher: %q", content)
	}
	if !strings.Contains(content, "[REDACTED-EMAIL]") || !strings.Contains(content, "[REDACTED-PHONE]") {
		t.Errorf("expected redaction markers, got %q", content)
	}
}

func TestManifestListsTools(t *testing.T) {
	m := Manifest()
	names := map[string]bool{}
	for _, tl := range m["tools"].([]map[string]interface{}) {
		names[tl["name"].(string)] = true
	}
	for _, want := range []string{
		"memory.search", "memory.get", "memory.upsert", "memory.delete",
		"consent.grant", "consent.revoke",
	} {
		if !names[want] {
			t.Errorf("manifest missing tool %s", want)
		}
	}
	if m["auth"].(map[string]interface{})["type"] != "oauth2-bearer" {
		t.Errorf("unexpected auth block: %v", m["auth"])
	}
}
