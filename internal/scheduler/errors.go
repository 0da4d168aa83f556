package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownSource marks a notification for an id that is not registered.
	ErrUnknownSource = errors.New("source not registered")

	// ErrNegativePending marks a negative queue depth.
	ErrNegativePending = errors.New("negative pending count")

	// ErrSourcesRegistered is returned by Close while sources remain.
	ErrSourcesRegistered = errors.New("sources still registered")

	// ErrClosed marks use of a scheduler after Close.
	ErrClosed = errors.New("scheduler closed")
)

// MisuseError is the panic value for source lifecycle bugs: notifications for
// unregistered ids, negative pending counts, or calls after Close.
type MisuseError struct {
	Op  string
	ID  SourceID
	Err error
}

func (e *MisuseError) Error() string {
	return fmt.Sprintf("scheduler: %s %s: %v", e.Op, e.ID, e.Err)
}

func (e *MisuseError) Unwrap() error {
	return e.Err
}
