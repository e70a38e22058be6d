package tool

import (
	"context"

	"github.com/memvault/memvault/internal/model"
	"github.com/memvault/memvault/internal/policy"
	"github.com/memvault/memvault/internal/store"
)

// consentGrant issues and activates the next consent version for the
// token's subject. The consent.manage scope lives on the token alone, so
// no consent reference is required.
func (d *Dispatcher) consentGrant(ctx context.Context, bearer string, payload map[string]interface{}) (map[string]interface{}, error) {
	userID, ok := payload["user_id"].(string)
	if !ok || userID == "" {
		return nil, policy.Denyf("user_id must be provided as a string")
	}
	agent := stringField(payload, "agent_identifier", "agent_id")
	if agent == "" {
		return nil, policy.Denyf("agent_identifier must be provided as a string")
	}
	rawScopes, ok := stringList(payload["scopes"])
	if !ok || len(rawScopes) == 0 {
		return nil, policy.Denyf("at least one scope must be granted")
	}
	levelsVal, _ := presentField(payload, "sensitivity_levels", "sensitivities")
	rawLevels, ok := stringList(levelsVal)
	if !ok || len(rawLevels) == 0 {
		return nil, policy.Denyf("at least one sensitivity level must be provided")
	}

	ident, err := d.auth.Parse(ctx, bearer, []model.Scope{model.ScopeConsentManage}, false)
	if err != nil {
		return nil, err
	}
	if ident.User.ID != userID {
		return nil, policy.Denyf("tokens may only grant consent for the authenticated user")
	}

	scopes := make([]model.Scope, len(rawScopes))
	for i, s := range rawScopes {
		scopes[i] = model.Scope(s)
	}
	levels := make([]model.Sensitivity, len(rawLevels))
	for i, l := range rawLevels {
		levels[i] = model.Sensitivity(l)
	}

	consent, err := d.store.CreateConsent(ctx, store.CreateConsentParams{
		UserID:            userID,
		AgentIdentifier:   agent,
		Scopes:            scopes,
		SensitivityLevels: levels,
	})
	if err != nil {
		return nil, denial(err, "consent not found for this user")
	}
	active, err := d.store.ActivateConsent(ctx, consent.ID)
	if err != nil {
		return nil, denial(err, "consent not found for this user")
	}
	return map[string]interface{}{"consent_id": active.ID, "version": active.Version}, nil
}

// consentRevoke revokes a consent owned by the token's subject.
// Revocation is idempotent.
func (d *Dispatcher) consentRevoke(ctx context.Context, bearer string, payload map[string]interface{}) (map[string]interface{}, error) {
	id, ok := intField(payload, "consent_id")
	if !ok {
		return nil, policy.Denyf("consent_id must be provided as an integer")
	}
	ident, err := d.auth.Parse(ctx, bearer, []model.Scope{model.ScopeConsentManage}, false)
	if err != nil {
		return nil, err
	}

	consent, err := d.store.ConsentByID(ctx, id)
	if err != nil {
		return nil, denial(err, "consent not found for this user")
	}
	if consent.UserID != ident.User.ID {
		return nil, policy.Denyf("consent not found for this user")
	}
	revoked, err := d.store.RevokeConsent(ctx, consent.ID)
	if err != nil {
		return nil, denial(err, "consent not found for this user")
	}
	return map[string]interface{}{"ok": true, "status": string(revoked.Status)}, nil
}
