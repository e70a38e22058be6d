package model

import (
	"encoding/json"
	"sort"
	"time"
)

// Scope is a capability string a consent or token may carry.
type Scope string

const (
	ScopeMemoryRead   Scope = "memory.read"
	ScopeMemoryWrite  Scope = "memory.write"
	ScopeMemorySearch Scope = "memory.search"

	// ScopeConsentManage is administrative and only ever appears on
	// tokens, never on stored consents.
	ScopeConsentManage Scope = "consent.manage"
)

// consentScopes are the scopes a consent may grant.
var consentScopes = map[Scope]bool{
	ScopeMemoryRead:   true,
	ScopeMemoryWrite:  true,
	ScopeMemorySearch: true,
}

// ScopeSet is an unordered set of scopes.
type ScopeSet map[Scope]struct{}

// NewScopeSet builds a set from the given scopes.
func NewScopeSet(scopes ...Scope) ScopeSet {
	set := make(ScopeSet, len(scopes))
	for _, s := range scopes {
		set[s] = struct{}{}
	}
	return set
}

// Has reports membership.
func (s ScopeSet) Has(scope Scope) bool {
	_, ok := s[scope]
	return ok
}

// HasAll reports whether every given scope is in the set.
func (s ScopeSet) HasAll(scopes []Scope) bool {
	for _, scope := range scopes {
		if !s.Has(scope) {
			return false
		}
	}
	return true
}

// Sorted returns the scopes in lexical order, for stable serialization.
func (s ScopeSet) Sorted() []Scope {
	out := make([]Scope, 0, len(s))
	for scope := range s {
		out = append(out, scope)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strings returns the sorted scopes as plain strings.
func (s ScopeSet) Strings() []string {
	sorted := s.Sorted()
	out := make([]string, len(sorted))
	for i, scope := range sorted {
		out[i] = string(scope)
	}
	return out
}

// MarshalJSON renders the set as a sorted array.
func (s ScopeSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Strings())
}

// UnmarshalJSON accepts an array of scope strings.
func (s *ScopeSet) UnmarshalJSON(data []byte) error {
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	set := make(ScopeSet, len(raw))
	for _, v := range raw {
		set[Scope(v)] = struct{}{}
	}
	*s = set
	return nil
}

// ConsentStatus is the lifecycle state of a consent.
type ConsentStatus string

const (
	ConsentPending ConsentStatus = "pending"
	ConsentActive  ConsentStatus = "active"
	ConsentRevoked ConsentStatus = "revoked"
	ConsentExpired ConsentStatus = "expired"
)

// Consent is a versioned grant from a user to an agent, bounded by scopes
// and sensitivity levels. Version is monotonic per (user, agent) pair.
// Once active a consent is immutable except for status transitions; any
// change to scopes or sensitivities requires a new version.
type Consent struct {
	ID                int64         `json:"id"`
	UserID            string        `json:"user_id"`
	AgentIdentifier   string        `json:"agent_identifier"`
	Scopes            ScopeSet      `json:"scopes"`
	SensitivityLevels []Sensitivity `json:"sensitivity_levels"`
	Status            ConsentStatus `json:"status"`
	Version           int64         `json:"version"`
	IssuedAt          time.Time     `json:"issued_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
	RevokedAt         *time.Time    `json:"revoked_at,omitempty"`
}

// IsActive reports whether the consent currently authorizes anything.
func (c *Consent) IsActive() bool {
	return c.Status == ConsentActive
}

// AllowsScope reports whether the consent grants the scope.
func (c *Consent) AllowsScope(scope Scope) bool {
	return c.Scopes.Has(scope)
}

// AllowsAllScopes reports whether the consent grants every scope.
func (c *Consent) AllowsAllScopes(scopes []Scope) bool {
	return c.Scopes.HasAll(scopes)
}

// AllowsSensitivity reports whether the consent covers the level.
func (c *Consent) AllowsSensitivity(level Sensitivity) bool {
	for _, l := range c.SensitivityLevels {
		if l == level {
			return true
		}
	}
	return false
}

// ValidateGrant checks the scope and sensitivity sets of a prospective
// consent before any state change.
func ValidateGrant(scopes []Scope, levels []Sensitivity) error {
	if len(scopes) == 0 {
		return Invalidf("scopes must not be empty")
	}
	for _, s := range scopes {
		if !consentScopes[s] {
			return Invalidf("scope %q is not grantable", s)
		}
	}
	if len(levels) == 0 {
		return Invalidf("sensitivity_levels must not be empty")
	}
	for _, l := range levels {
		if !l.Valid() {
			return Invalidf("unknown sensitivity %q", l)
		}
	}
	return nil
}
