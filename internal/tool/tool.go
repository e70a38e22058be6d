// Package tool exposes the agent-facing operations: named tools invoked
// with a bearer token and a JSON payload. Every authorization or
// validation failure surfaces as the same denial, so callers can never
// probe for the difference between missing and forbidden.
package tool

import (
	"context"
	"encoding/json"
	"errors"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/memvault/memvault/internal/auth"
	"github.com/memvault/memvault/internal/model"
	"github.com/memvault/memvault/internal/policy"
	"github.com/memvault/memvault/internal/query"
	"github.com/memvault/memvault/internal/security"
	"github.com/memvault/memvault/internal/store"
)

// Handler runs one tool against an authenticated payload.
type Handler func(ctx context.Context, bearer string, payload map[string]interface{}) (map[string]interface{}, error)

// Dispatcher routes tool invocations to their handlers and sanitizes
// whatever they return.
type Dispatcher struct {
	auth     *auth.Authenticator
	store    *store.Store
	query    *query.Service
	sanitize *security.Sanitizer
	log      *logrus.Logger
	handlers map[string]Handler
}

// NewDispatcher builds the fixed tool registry.
func NewDispatcher(a *auth.Authenticator, st *store.Store, q *query.Service, san *security.Sanitizer, log *logrus.Logger) *Dispatcher {
	if san == nil {
		san = security.New()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	d := &Dispatcher{auth: a, store: st, query: q, sanitize: san, log: log}
	d.handlers = map[string]Handler{
		"memory.search":  d.memorySearch,
		"memory.get":     d.memoryGet,
		"memory.upsert":  d.memoryUpsert,
		"memory.delete":  d.memoryDelete,
		"consent.grant":  d.consentGrant,
		"consent.revoke": d.consentRevoke,
	}
	return d
}

// Execute runs the named tool. Unknown names are denials like any other
// failure. Results pass through the DLP sanitizer on the way out.
func (d *Dispatcher) Execute(ctx context.Context, name, bearer string, payload map[string]interface{}) (map[string]interface{}, error) {
	handler, ok := d.handlers[name]
	if !ok {
		return nil, policy.Denyf("unknown tool %s", name)
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}
	result, err := handler(ctx, bearer, payload)
	if err != nil {
		return nil, err
	}
	if clean, ok := d.sanitize.Sanitize(result).(map[string]interface{}); ok {
		return clean, nil
	}
	return result, nil
}

// denial folds store and validation failures into the uniform denial,
// passing anything else through as an internal error.
func denial(err error, notFound string) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return policy.Denyf("%s", notFound)
	case errors.Is(err, store.ErrVersionConflict):
		return policy.Denyf("version conflict detected")
	case errors.Is(err, model.ErrValidation):
		return policy.Denyf("%v", err)
	default:
		return err
	}
}

// stringField returns the first non-empty string under keys.
func stringField(payload map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if v, ok := payload[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// presentField returns the first non-nil value under keys.
func presentField(payload map[string]interface{}, keys ...string) (interface{}, bool) {
	for _, key := range keys {
		if v, ok := payload[key]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// intField returns the first value under keys that is a whole, non-zero
// number. Nulls, empty strings, and zeros fall through to the next key;
// any other non-integer value reads as absent, which callers deny.
func intField(payload map[string]interface{}, keys ...string) (int64, bool) {
	for _, key := range keys {
		v, ok := payload[key]
		if !ok || v == nil {
			continue
		}
		if s, isString := v.(string); isString && s == "" {
			continue
		}
		n, ok := asInt(v)
		if !ok {
			return 0, false
		}
		if n == 0 {
			continue
		}
		return n, true
	}
	return 0, false
}

// asInt accepts the numeric shapes a decoded JSON payload or a direct
// caller can produce. Fractional values do not coerce.
func asInt(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

// stringList coerces a JSON array of strings.
func stringList(v interface{}) ([]string, bool) {
	switch list := v.(type) {
	case []string:
		return list, true
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}
