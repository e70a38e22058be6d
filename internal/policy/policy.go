// Package policy decides whether an agent may act on a user's memory
// under the consent that user granted it.
package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/memvault/memvault/internal/model"
)

// ErrDenied is the one denial kind the module exposes. Every
// authorization failure wraps it; callers match with errors.Is and
// never learn whether the cause was a missing consent, a missing
// entity, or a scope gap.
var ErrDenied = errors.New("permission denied")

// Denyf wraps ErrDenied with internal detail. The detail is for logs
// only; boundary layers surface just the generic denial.
func Denyf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrDenied)...)
}

// ConsentSource resolves the consent a decision runs against.
type ConsentSource interface {
	// ActiveConsent returns the highest-version active consent for the
	// pair, or an error when none exists.
	ActiveConsent(ctx context.Context, userID, agentIdentifier string) (*model.Consent, error)
}

// Decision records a granted check: the consent it ran against, the
// action, and the sensitivity that was evaluated (empty when none was).
type Decision struct {
	Consent     *model.Consent
	Action      string
	Sensitivity model.Sensitivity
}

// requiredScopes maps guarded actions to the scope a consent must
// grant. Actions not listed here are open.
var requiredScopes = map[string]model.Scope{
	"memory:list":     model.ScopeMemoryRead,
	"memory:retrieve": model.ScopeMemoryRead,
	"memory:create":   model.ScopeMemoryWrite,
	"memory:update":   model.ScopeMemoryWrite,
	"memory:delete":   model.ScopeMemoryWrite,
	"memory:query":    model.ScopeMemorySearch,
}

// RequiredScope returns the scope an action needs, if any.
func RequiredScope(action string) (model.Scope, bool) {
	scope, ok := requiredScopes[action]
	return scope, ok
}

// Engine evaluates consent-backed authorization decisions.
type Engine struct {
	consents ConsentSource
}

// NewEngine creates an engine over the given consent source.
func NewEngine(consents ConsentSource) *Engine {
	return &Engine{consents: consents}
}

// Enforce resolves the active consent for (subject, agent) and checks
// that it covers the action's scope and, when sensitivity is non-empty,
// the sensitivity level. Unknown sensitivity values deny.
func (e *Engine) Enforce(ctx context.Context, subject, agent, action string, sensitivity model.Sensitivity) (Decision, error) {
	consent, err := e.consents.ActiveConsent(ctx, subject, agent)
	if err != nil {
		return Decision{}, Denyf("no active consent for %s/%s (%v)", subject, agent, err)
	}
	if scope, ok := requiredScopes[action]; ok && !consent.AllowsScope(scope) {
		return Decision{}, Denyf("consent %d lacks scope %s for %s", consent.ID, scope, action)
	}
	if sensitivity != "" {
		if !sensitivity.Valid() {
			return Decision{}, Denyf("unknown sensitivity %q", sensitivity)
		}
		if !consent.AllowsSensitivity(sensitivity) {
			return Decision{}, Denyf("consent %d does not cover sensitivity %s", consent.ID, sensitivity)
		}
	}
	return Decision{Consent: consent, Action: action, Sensitivity: sensitivity}, nil
}

// EnforceMultiple reduces a batch of sensitivities to the highest-ranked
// one and enforces that, so a covered item can never carry an uncovered
// one through the check. An empty batch skips the sensitivity check.
func (e *Engine) EnforceMultiple(ctx context.Context, subject, agent, action string, sensitivities []model.Sensitivity) (Decision, error) {
	for _, s := range sensitivities {
		if !s.Valid() {
			return Decision{}, Denyf("unknown sensitivity %q", s)
		}
	}
	highest, _ := model.HighestSensitivity(sensitivities)
	return e.Enforce(ctx, subject, agent, action, highest)
}
