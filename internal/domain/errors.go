package domain

import "errors"

// Error kinds shared by every service and repository. Callers branch on them
// with errors.Is; anything that matches none of these is an internal failure.
var (
	// ErrNotFound means a referenced merchant, campaign or project does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidDomain means a sender address has no registrable domain.
	ErrInvalidDomain = errors.New("sender has no resolvable domain")

	// ErrInvalidInput means a caller-supplied value is out of range.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict means an analysis is already queued or running for the
	// project. Repositories also return it for a create that lost a race on
	// a unique key; services recover from that case before it reaches a caller.
	ErrConflict = errors.New("analysis already queued or running")
)
