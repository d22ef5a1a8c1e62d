package pbs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a code lookup matches no item on the
	// current schedule. An empty name search is not an error and does
	// not use this sentinel.
	ErrNotFound = errors.New("pbs: item not found")

	// ErrEmptyQuery is returned for a blank code or drug name.
	ErrEmptyQuery = errors.New("pbs: empty query")

	// ErrInvalidProviderNumber is returned when a provider number is not
	// six digits.
	ErrInvalidProviderNumber = errors.New("pbs: provider number must be 6 digits")
)

// LookupError classifies a failed call to the PBS data API: transport
// errors, unexpected status codes and undecodable responses. It is
// distinct from ErrNotFound, which is a normal empty result.
type LookupError struct {
	Resource string // API resource queried, e.g. "items"
	Status   int    // HTTP status, 0 for transport failures
	Err      error
}

func (e *LookupError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("pbs: %s lookup failed with status %d: %v", e.Resource, e.Status, e.Err)
	}
	return fmt.Sprintf("pbs: %s lookup failed: %v", e.Resource, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// IsLookupFailure reports whether err is an upstream failure rather than
// a not-found or validation condition.
func IsLookupFailure(err error) bool {
	var le *LookupError
	return errors.As(err, &le)
}
