// Package security sanitizes outbound payloads before they cross the
// trust boundary.
package security

import (
	"regexp"
	"strings"
)

// RedactedValue replaces values whose key looks like a credential.
const RedactedValue = "[REMOVED]"

// Rule rewrites text matching a pattern with a replacement token.
type Rule struct {
	Pattern     *regexp.Regexp
	Replacement string
}

// defaultRules run in order; the contiguous-digit card rule goes before
// the separated-digit one so a bare number is consumed whole.
var defaultRules = []Rule{
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[REDACTED-SSN]"},
	{regexp.MustCompile(`\b\d{13,19}\b`), "[REDACTED-PAN]"},
	{regexp.MustCompile(`(^|[^0-9])((?:[0-9][ -]?){12,18}[0-9])($|[^0-9])`), "${1}[REDACTED-PAN]${3}"},
	{regexp.MustCompile(`(?i)[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}`), "[REDACTED-EMAIL]"},
	{regexp.MustCompile(`\b(?:\+?\d{1,3}[-.\s]?)?(?:\(\d{3}\)|\d{3})[-.\s]?\d{3}[-.\s]?\d{4}\b`), "[REDACTED-PHONE]"},
}

var defaultKeyBlocklist = []string{
	"ssn", "social_security", "social_security_number",
	"credit_card", "card_number", "pan",
	"password", "passphrase", "secret", "token", "api_key", "authorization",
}

var defaultKeySubstrings = []string{"secret", "token", "password"}

// Sanitizer applies pattern-based redaction and key removal rules to
// outbound payloads.
type Sanitizer struct {
	rules         []Rule
	keyBlocklist  map[string]bool
	keySubstrings []string
}

// New returns a sanitizer with the default rule set.
func New() *Sanitizer {
	return NewWithRules(defaultRules, defaultKeyBlocklist, defaultKeySubstrings)
}

// NewWithRules returns a sanitizer with custom rules. Empty slices are
// honored as given, so a caller can switch a layer off outright.
func NewWithRules(rules []Rule, keyBlocklist, keySubstrings []string) *Sanitizer {
	block := make(map[string]bool, len(keyBlocklist))
	for _, k := range keyBlocklist {
		block[strings.ToLower(k)] = true
	}
	subs := make([]string, len(keySubstrings))
	for i, s := range keySubstrings {
		subs[i] = strings.ToLower(s)
	}
	return &Sanitizer{rules: rules, keyBlocklist: block, keySubstrings: subs}
}

// SanitizeText redacts sensitive tokens from a text value.
func (s *Sanitizer) SanitizeText(text string) string {
	for _, r := range s.rules {
		text = r.Pattern.ReplaceAllString(text, r.Replacement)
	}
	return text
}

// Sanitize returns a sanitized copy of payload. Strings are redacted,
// maps and slices are walked, and values under credential-looking keys
// are replaced wholesale. Other values pass through unchanged.
func (s *Sanitizer) Sanitize(payload interface{}) interface{} {
	switch v := payload.(type) {
	case string:
		return s.SanitizeText(v)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, item := range v {
			if s.shouldRedactKey(key) {
				out[key] = RedactedValue
			} else {
				out[key] = s.Sanitize(item)
			}
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = s.Sanitize(item)
		}
		return out
	case []map[string]interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = s.Sanitize(item)
		}
		return out
	case []string:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = s.SanitizeText(item)
		}
		return out
	default:
		return payload
	}
}

func (s *Sanitizer) shouldRedactKey(key string) bool {
	lower := strings.ToLower(key)
	if s.keyBlocklist[lower] {
		return true
	}
	for _, sub := range s.keySubstrings {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}
