// Package scheduler arbitrates a modem's command channel among independent
// command sources. At most one command is in flight at any time, sources
// with pending work are served in rotation, and an optional settle delay is
// enforced whenever control passes to a different source.
package scheduler

import (
	"time"

	"github.com/google/uuid"
)

// SourceID identifies a registered source. The scheduler only compares ids.
type SourceID = uuid.UUID

// NewSourceID returns a fresh random SourceID.
func NewSourceID() SourceID {
	return uuid.New()
}

// RunFunc receives run grants. Every connected handler sees every grant and
// must ignore ids other than its own.
type RunFunc func(id SourceID)

// HandlerID identifies a connected RunFunc.
type HandlerID uint64

// Scheduler decides which source may send its next command.
//
// Implementations are not safe for concurrent use: every method must be
// called from the event loop the scheduler was created with. None of the
// methods block, and run grants are never emitted synchronously from inside
// them.
type Scheduler interface {
	// RegisterSource adds a source with zero pending commands. Registering an
	// id twice is a no-op.
	RegisterSource(id SourceID, label string)

	// UnregisterSource removes a source. If it holds the in-flight grant the
	// scheduler stops waiting for its completion and moves on.
	UnregisterSource(id SourceID)

	// NotifyNumPending reports the source's queue depth.
	NotifyNumPending(id SourceID, n int)

	// NotifyCommandDone completes the grant the source received and reports
	// its new queue depth. It must be called exactly once per grant.
	NotifyCommandDone(id SourceID, n int)

	// Connect subscribes fn to run grants.
	Connect(fn RunFunc) HandlerID

	// Disconnect removes a handler added with Connect.
	Disconnect(h HandlerID)

	// Snapshot describes the current scheduling state.
	Snapshot() Snapshot

	// Close cancels any pending dispatch. All sources must be unregistered
	// first; otherwise Close returns an error wrapping ErrSourcesRegistered.
	Close() error
}

// State is the engine's scheduling state.
type State string

const (
	StateIdle       State = "idle"
	StateWaiting    State = "waiting"
	StateDispatched State = "dispatched"
)

// SourceInfo describes one registered source.
type SourceInfo struct {
	ID          SourceID `json:"id"`
	Label       string   `json:"label"`
	Pending     int      `json:"pending"`
	Grants      uint64   `json:"grants"`
	Completions uint64   `json:"completions"`
	Active      bool     `json:"active"`
}

// Snapshot is a point-in-time copy of scheduler state.
type Snapshot struct {
	State            State         `json:"state"`
	InterSwitchDelay time.Duration `json:"inter_switch_delay_ns"`
	LastDispatched   *SourceID     `json:"last_dispatched,omitempty"`
	Sources          []SourceInfo  `json:"sources"`
}

// Active returns the source holding the in-flight grant, if any.
func (s Snapshot) Active() (SourceInfo, bool) {
	for _, src := range s.Sources {
		if src.Active {
			return src, true
		}
	}
	return SourceInfo{}, false
}

// TotalPending sums the pending counts of all sources.
func (s Snapshot) TotalPending() int {
	n := 0
	for _, src := range s.Sources {
		n += src.Pending
	}
	return n
}
