// Package auth verifies signed bearer tokens and binds them to the
// consent they reference.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"

	"github.com/memvault/memvault/internal/model"
	"github.com/memvault/memvault/internal/policy"
)

// Directory resolves subjects and consents during token validation.
type Directory interface {
	UserByID(ctx context.Context, id string) (*model.User, error)
	ConsentByID(ctx context.Context, id int64) (*model.Consent, error)
}

// Identity is the verified result of parsing a bearer token.
type Identity struct {
	User    *model.User
	AgentID string
	Scopes  model.ScopeSet
	Consent *model.Consent // nil when parsed without a consent requirement
}

// Authenticator parses bearer tokens and enforces policy on them.
type Authenticator struct {
	secret []byte
	issuer string
	store  Directory
	engine *policy.Engine
}

// NewAuthenticator creates an authenticator with the given HMAC secret.
func NewAuthenticator(secret string, store Directory, engine *policy.Engine) *Authenticator {
	return &Authenticator{
		secret: []byte(secret),
		issuer: "memvault",
		store:  store,
		engine: engine,
	}
}

const bearerPrefix = "bearer "

// Parse verifies a bearer token and resolves its subject, agent, and
// scopes. With requireConsent the token must carry a consent_id claim
// resolving to an active consent for (subject, agent). Every failure
// is the same denial kind; the cryptographic cause is never exposed.
func (a *Authenticator) Parse(ctx context.Context, token string, requiredScopes []model.Scope, requireConsent bool) (*Identity, error) {
	raw := strings.TrimSpace(token)
	if len(raw) >= len(bearerPrefix) && strings.EqualFold(raw[:len(bearerPrefix)], bearerPrefix) {
		raw = strings.TrimSpace(raw[len(bearerPrefix):])
	}
	if raw == "" {
		return nil, policy.Denyf("empty bearer token")
	}

	tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !tok.Valid {
		return nil, policy.Denyf("invalid token")
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return nil, policy.Denyf("invalid token")
	}

	sub := stringClaim(claims, "sub", "user_id")
	if sub == "" {
		return nil, policy.Denyf("token missing subject claim")
	}
	agent := stringClaim(claims, "agent_id", "agent")
	if agent == "" {
		return nil, policy.Denyf("token missing agent claim")
	}
	scopes := scopeClaim(claims)

	user, err := a.store.UserByID(ctx, sub)
	if err != nil {
		return nil, policy.Denyf("unknown subject %s", sub)
	}

	var consent *model.Consent
	if requireConsent {
		id, ok := intClaim(claims, "consent_id")
		if !ok {
			return nil, policy.Denyf("token missing consent_id claim")
		}
		c, err := a.store.ConsentByID(ctx, id)
		if err != nil {
			return nil, policy.Denyf("consent %d not found", id)
		}
		if !c.IsActive() || c.UserID != user.ID || c.AgentIdentifier != agent {
			return nil, policy.Denyf("consent %d is not active for %s/%s", id, user.ID, agent)
		}
		consent = c
	}

	for _, s := range requiredScopes {
		if !scopes.Has(s) {
			return nil, policy.Denyf("token lacks scope %s", s)
		}
	}
	if consent != nil && !consent.AllowsAllScopes(requiredScopes) {
		return nil, policy.Denyf("consent %d does not cover required scopes", consent.ID)
	}

	return &Identity{User: user, AgentID: agent, Scopes: scopes, Consent: consent}, nil
}

// EnsurePermissions runs the policy engine for the identity and checks
// that the engine resolved the same consent the token referenced, so a
// token pinned to one consent cannot ride on a newer one.
func (a *Authenticator) EnsurePermissions(ctx context.Context, ident *Identity, action string, sensitivities ...model.Sensitivity) (policy.Decision, error) {
	if ident.Consent == nil {
		return policy.Decision{}, policy.Denyf("identity carries no consent")
	}
	var dec policy.Decision
	var err error
	if len(sensitivities) == 0 {
		dec, err = a.engine.Enforce(ctx, ident.User.ID, ident.AgentID, action, "")
	} else {
		dec, err = a.engine.EnforceMultiple(ctx, ident.User.ID, ident.AgentID, action, sensitivities)
	}
	if err != nil {
		return policy.Decision{}, err
	}
	if dec.Consent.ID != ident.Consent.ID {
		return policy.Decision{}, policy.Denyf("token consent %d superseded by %d", ident.Consent.ID, dec.Consent.ID)
	}
	return dec, nil
}

// Validate is Parse followed by EnsurePermissions.
func (a *Authenticator) Validate(ctx context.Context, token, action string, requiredScopes []model.Scope, sensitivities ...model.Sensitivity) (*Identity, policy.Decision, error) {
	ident, err := a.Parse(ctx, token, requiredScopes, true)
	if err != nil {
		return nil, policy.Decision{}, err
	}
	dec, err := a.EnsurePermissions(ctx, ident, action, sensitivities...)
	if err != nil {
		return nil, policy.Decision{}, err
	}
	return ident, dec, nil
}

// TokenParams describes a token to mint.
type TokenParams struct {
	UserID    string
	AgentID   string
	Scopes    []model.Scope
	ConsentID int64 // 0 omits the claim
	TTL       time.Duration
}

// Mint signs a bearer token, mainly for the CLI and tests.
func (a *Authenticator) Mint(p TokenParams) (string, error) {
	ttl := p.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":      p.UserID,
		"agent_id": p.AgentID,
		"iss":      a.issuer,
		"iat":      now.Unix(),
		"exp":      now.Add(ttl).Unix(),
	}
	if len(p.Scopes) > 0 {
		strs := make([]string, len(p.Scopes))
		for i, s := range p.Scopes {
			strs[i] = string(s)
		}
		claims["scopes"] = strings.Join(strs, " ")
	}
	if p.ConsentID != 0 {
		claims["consent_id"] = p.ConsentID
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(a.secret)
}

func stringClaim(claims jwt.MapClaims, keys ...string) string {
	for _, k := range keys {
		if v, ok := claims[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// scopeClaim normalizes the scopes claim, which may arrive as a
// space-delimited string, a list, or a bare scalar.
func scopeClaim(claims jwt.MapClaims) model.ScopeSet {
	raw, ok := claims["scopes"]
	if !ok {
		raw, ok = claims["scope"]
	}
	set := model.NewScopeSet()
	if !ok || raw == nil {
		return set
	}
	switch v := raw.(type) {
	case string:
		for _, s := range strings.Fields(v) {
			set[model.Scope(s)] = struct{}{}
		}
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				set[model.Scope(s)] = struct{}{}
			}
		}
	default:
		set[model.Scope(fmt.Sprint(v))] = struct{}{}
	}
	return set
}

func intClaim(claims jwt.MapClaims, key string) (int64, bool) {
	switch v := claims[key].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	}
	return 0, false
}
