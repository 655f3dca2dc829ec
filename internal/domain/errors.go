// Package domain holds the AgentForge entities and the sentinel errors shared
// by the record store, services and the HTTP layer.
package domain

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a write collides with existing state, such as a
	// duplicate agent name.
	ErrConflict = errors.New("conflict: resource already exists")

	// ErrValidation indicates invalid caller input. Messages wrapping it are
	// shown to the caller with the prefix stripped.
	ErrValidation = errors.New("validation error")
)
