// Package store provides SQLite persistence for entries, consents, and
// the records derived from them.
package store

import "errors"

// Sentinel errors. Boundary layers translate these into the single
// external denial kind; they never cross the trust boundary themselves.
var (
	// ErrNotFound reports a missing row.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict reports a failed expected-version precondition.
	ErrVersionConflict = errors.New("version conflict")

	// ErrDuplicate reports a uniqueness violation.
	ErrDuplicate = errors.New("duplicate")
)

type scanner interface {
	Scan(dest ...interface{}) error
}
