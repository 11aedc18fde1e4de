package types

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks a reference to an unknown session, agent or connection
	ErrNotFound = errors.New("not found")

	// ErrStale marks an event for a session that can no longer accept it
	ErrStale = errors.New("stale event")

	// ErrForbidden marks an event from a connection that is not a leg of the session
	ErrForbidden = errors.New("not a participant")
)

// ValidationError is returned for an inbound event missing a required field
type ValidationError struct {
	Event  EventType
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Event, e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Event, e.Reason)
}
