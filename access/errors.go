package access

import (
	"errors"
	"fmt"

	"auditdesk/storage"
)

var (
	// ErrAccessDenied is wrapped by every DeniedError
	ErrAccessDenied = errors.New("access denied")

	// ErrUnknownVerb is returned by ParseVerb
	ErrUnknownVerb = errors.New("unknown verb")

	// ErrCoverageRequired is returned by New when no FilterCoverage was chosen
	ErrCoverageRequired = errors.New("filter coverage must be set explicitly")

	// ErrIncompleteRegistry is returned by New when a table has no policy
	ErrIncompleteRegistry = errors.New("policy registry does not cover every table")
)

// DeniedError carries the reason a request was refused.
type DeniedError struct {
	Table  storage.Table
	Verb   Verb
	Reason string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("access denied: %s", e.Reason)
}

func (e *DeniedError) Unwrap() error {
	return ErrAccessDenied
}
