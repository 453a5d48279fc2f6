package model

import "errors"

// Sentinel errors. Plain errors + fmt.Errorf("...: %w") wrapping is used
// throughout this module; these two sentinels let callers errors.Is
// without pulling in an errors library.
var (
	// ErrNotFound is returned by store lookups that find nothing.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write would violate an invariant
	// (e.g. a second ACTIVE incident on the same camera).
	ErrConflict = errors.New("conflict")
)
