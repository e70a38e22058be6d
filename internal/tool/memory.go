package tool

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/memvault/memvault/internal/model"
	"github.com/memvault/memvault/internal/policy"
	"github.com/memvault/memvault/internal/query"
	"github.com/memvault/memvault/internal/store"
)

const defaultSearchLimit = 10

// memorySearch runs a consent-filtered hybrid search for the token's
// subject. The policy engine re-checks the surviving sensitivities as a
// second layer, but only when something actually survived the filter.
func (d *Dispatcher) memorySearch(ctx context.Context, bearer string, payload map[string]interface{}) (map[string]interface{}, error) {
	q := stringField(payload, "query", "q")
	if strings.TrimSpace(q) == "" {
		return nil, policy.Denyf("search query is required")
	}
	limit, err := searchLimit(payload)
	if err != nil {
		return nil, err
	}

	ident, err := d.auth.Parse(ctx, bearer, []model.Scope{model.ScopeMemorySearch}, true)
	if err != nil {
		return nil, err
	}
	if target := stringField(payload, "user_id"); target != "" && target != ident.User.ID {
		return nil, policy.Denyf("searching on behalf of another user is not permitted")
	}

	ranked, err := d.query.Search(ctx, ident.User.ID, q, limit)
	if err != nil {
		return nil, fmt.Errorf("hybrid search: %w", err)
	}

	allowed := make([]query.Result, 0, len(ranked))
	for _, r := range ranked {
		if ident.Consent.AllowsSensitivity(r.Sensitivity) {
			allowed = append(allowed, r)
		}
	}
	if len(allowed) > 0 {
		sensitivities := make([]model.Sensitivity, len(allowed))
		for i, r := range allowed {
			sensitivities[i] = r.Sensitivity
		}
		if _, err := d.auth.EnsurePermissions(ctx, ident, "memory:query", sensitivities...); err != nil {
			return nil, err
		}
	}

	rows := make([]map[string]interface{}, len(allowed))
	for i, r := range allowed {
		rows[i] = r.Doc()
	}
	return map[string]interface{}{
		"user_id": ident.User.ID,
		"count":   len(allowed),
		"results": rows,
	}, nil
}

func searchLimit(payload map[string]interface{}) (int, error) {
	for _, key := range []string{"limit", "k"} {
		v, ok := payload[key]
		if !ok || v == nil {
			continue
		}
		n, ok := asInt(v)
		if !ok {
			return 0, policy.Denyf("limit must be a positive integer")
		}
		if n == 0 {
			continue
		}
		if n < 0 {
			return 0, policy.Denyf("limit must be a positive integer")
		}
		return int(n), nil
	}
	return defaultSearchLimit, nil
}

// memoryGet loads the entry first so the policy check can run against
// its actual sensitivity.
func (d *Dispatcher) memoryGet(ctx context.Context, bearer string, payload map[string]interface{}) (map[string]interface{}, error) {
	id, ok := intField(payload, "entry_id", "id")
	if !ok {
		return nil, policy.Denyf("entry_id must be provided as an integer")
	}
	entry, err := d.store.EntryByID(ctx, id)
	if err != nil {
		return nil, denial(err, "memory entry not found")
	}
	if _, _, err := d.auth.Validate(ctx, bearer, "memory:retrieve", []model.Scope{model.ScopeMemoryRead}, entry.Sensitivity); err != nil {
		return nil, err
	}
	return map[string]interface{}{"entry": entryDoc(entry)}, nil
}

// memoryUpsert creates when no id is supplied and updates otherwise.
func (d *Dispatcher) memoryUpsert(ctx context.Context, bearer string, payload map[string]interface{}) (map[string]interface{}, error) {
	raw, ok := payload["entry"].(map[string]interface{})
	if !ok {
		return nil, policy.Denyf("entry payload must be an object")
	}
	requested, err := requestedSensitivity(raw)
	if err != nil {
		return nil, err
	}
	entryType, typePresent, err := requestedEntryType(raw)
	if err != nil {
		return nil, err
	}

	idVal, idPresent := presentField(raw, "id", "entry_id")
	if !idPresent {
		return d.createEntry(ctx, bearer, raw, requested, entryType)
	}
	id, ok := asInt(idVal)
	if !ok {
		return nil, policy.Denyf("entry id must be an integer")
	}
	var entryTypePtr *model.EntryType
	if typePresent {
		entryTypePtr = &entryType
	}
	return d.updateEntry(ctx, bearer, raw, id, requested, entryTypePtr)
}

func (d *Dispatcher) createEntry(ctx context.Context, bearer string, raw map[string]interface{}, requested model.Sensitivity, entryType model.EntryType) (map[string]interface{}, error) {
	sensitivity := requested
	if sensitivity == "" {
		sensitivity = model.SensitivityPublic
	}
	if _, _, err := d.auth.Validate(ctx, bearer, "memory:create", []model.Scope{model.ScopeMemoryWrite}, sensitivity); err != nil {
		return nil, err
	}
	title, hasTitle := raw["title"].(string)
	content, hasContent := raw["content"].(string)
	if !hasTitle || !hasContent {
		return nil, policy.Denyf("title and content must be provided for new entries")
	}

	entry, err := d.store.CreateEntry(ctx, store.CreateEntryParams{
		Title:       title,
		Content:     content,
		Sensitivity: sensitivity,
		EntryType:   entryType,
	})
	if err != nil {
		return nil, denial(err, "memory entry not found")
	}
	return map[string]interface{}{"entry_id": entry.ID, "version": entry.Version}, nil
}

func (d *Dispatcher) updateEntry(ctx context.Context, bearer string, raw map[string]interface{}, id int64, requested model.Sensitivity, entryType *model.EntryType) (map[string]interface{}, error) {
	expected, ok := asInt(raw["version"])
	if !ok {
		return nil, policy.Denyf("current version must be provided for updates")
	}

	entry, err := d.store.EntryByID(ctx, id)
	if err != nil {
		return nil, denial(err, "memory entry not found")
	}
	// The current sensitivity gates the update; raising it additionally
	// requires the requested level to be covered.
	ident, _, err := d.auth.Validate(ctx, bearer, "memory:update", []model.Scope{model.ScopeMemoryWrite}, entry.Sensitivity)
	if err != nil {
		return nil, err
	}
	if requested != "" && requested != entry.Sensitivity {
		if _, err := d.auth.EnsurePermissions(ctx, ident, "memory:update", requested); err != nil {
			return nil, err
		}
	}
	if entry.Version != expected {
		return nil, policy.Denyf("version conflict detected")
	}

	params := store.UpdateEntryParams{ID: id, ExpectedVersion: expected, EntryType: entryType}
	if title, ok := raw["title"].(string); ok {
		params.Title = &title
	}
	if content, ok := raw["content"].(string); ok {
		params.Content = &content
	}
	if requested != "" {
		params.Sensitivity = &requested
	}
	updated, err := d.store.UpdateEntry(ctx, params)
	if err != nil {
		return nil, denial(err, "memory entry not found")
	}
	return map[string]interface{}{"entry_id": updated.ID, "version": updated.Version}, nil
}

// memoryDelete removes an entry, optionally under a version precondition.
func (d *Dispatcher) memoryDelete(ctx context.Context, bearer string, payload map[string]interface{}) (map[string]interface{}, error) {
	id, ok := intField(payload, "entry_id", "id")
	if !ok {
		return nil, policy.Denyf("entry_id must be provided as an integer")
	}
	var expected *int64
	if v, present := presentField(payload, "version"); present {
		n, ok := asInt(v)
		if !ok {
			return nil, policy.Denyf("version must be an integer when provided")
		}
		expected = &n
	}

	entry, err := d.store.EntryByID(ctx, id)
	if err != nil {
		return nil, denial(err, "memory entry not found")
	}
	if _, _, err := d.auth.Validate(ctx, bearer, "memory:delete", []model.Scope{model.ScopeMemoryWrite}, entry.Sensitivity); err != nil {
		return nil, err
	}
	if err := d.store.DeleteEntry(ctx, store.DeleteEntryParams{ID: id, ExpectedVersion: expected}); err != nil {
		return nil, denial(err, "memory entry not found")
	}
	return map[string]interface{}{"ok": true}, nil
}

func requestedSensitivity(raw map[string]interface{}) (model.Sensitivity, error) {
	v, present := raw["sensitivity"]
	if !present || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", policy.Denyf("invalid sensitivity value")
	}
	if s == "" {
		return "", nil
	}
	level := model.Sensitivity(s)
	if !level.Valid() {
		return "", policy.Denyf("invalid sensitivity value")
	}
	return level, nil
}

func requestedEntryType(raw map[string]interface{}) (model.EntryType, bool, error) {
	v, present := raw["entry_type"]
	if !present || v == nil {
		return model.TypeNote, false, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", false, policy.Denyf("invalid entry_type value")
	}
	if s == "" {
		return model.TypeNote, false, nil
	}
	t, err := model.ParseEntryType(s)
	if err != nil {
		return "", false, policy.Denyf("invalid entry_type value")
	}
	return t, true, nil
}

func entryDoc(entry *model.MemoryEntry) map[string]interface{} {
	return map[string]interface{}{
		"id":          entry.ID,
		"title":       entry.Title,
		"content":     entry.Content,
		"sensitivity": string(entry.Sensitivity),
		"entry_type":  string(entry.EntryType),
		"version":     entry.Version,
		"updated_at":  entry.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}
