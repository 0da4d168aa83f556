package scheduler

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/me/portsched/internal/eventloop"
)

// Config holds scheduler configuration.
type Config struct {
	// InterSwitchDelay is the minimum pause before a grant to a source other
	// than the previously granted one. Zero disables it.
	InterSwitchDelay time.Duration
}

// DefaultConfig returns a configuration without a switch delay.
func DefaultConfig() Config {
	return Config{}
}

// RoundRobin implements Scheduler by rotating over registered sources in
// registration order.
type RoundRobin struct {
	loop   eventloop.Loop
	config Config
	logger *slog.Logger

	sources []*source

	// current is the index of the last dispatched source, -1 for none.
	current int

	// last is the most recently granted source. It survives unregistration
	// so that the switch delay still applies after the source is gone.
	last    SourceID
	hasLast bool

	inFlight bool

	timer     eventloop.Timer
	decidedAt time.Time

	handlers    []handler
	nextHandler HandlerID

	closed bool
}

type handler struct {
	id HandlerID
	fn RunFunc
}

var _ Scheduler = (*RoundRobin)(nil)

// NewRoundRobin creates an empty round-robin scheduler on loop. Negative
// delays are treated as zero.
func NewRoundRobin(loop eventloop.Loop, cfg Config, logger *slog.Logger) *RoundRobin {
	if cfg.InterSwitchDelay < 0 {
		cfg.InterSwitchDelay = 0
	}
	return &RoundRobin{
		loop:    loop,
		config:  cfg,
		logger:  logger.With("component", "port-scheduler"),
		current: -1,
	}
}

// RegisterSource implements Scheduler.
func (rr *RoundRobin) RegisterSource(id SourceID, label string) {
	rr.checkOpen("register_source", id)

	if rr.find(id) >= 0 {
		rr.logger.Debug("source already registered", "source", label, "source_id", id)
		return
	}
	rr.sources = append(rr.sources, &source{id: id, label: label})
	rr.logger.Info("source registered", "source", label, "source_id", id, "sources", len(rr.sources))
}

// UnregisterSource implements Scheduler.
func (rr *RoundRobin) UnregisterSource(id SourceID) {
	rr.checkOpen("unregister_source", id)

	idx := rr.find(id)
	if idx < 0 {
		return
	}
	src := rr.sources[idx]
	wasActive := rr.inFlight && idx == rr.current

	rr.sources = append(rr.sources[:idx], rr.sources[idx+1:]...)
	switch {
	case len(rr.sources) == 0:
		rr.current = -1
	case idx < rr.current:
		rr.current--
	case idx == rr.current:
		// Resume the scan at the entry that took the removed slot.
		rr.current = idx - 1
	}

	rr.logger.Info("source unregistered", "source", src.label, "source_id", id,
		"sources", len(rr.sources), "in_flight", wasActive)

	if wasActive {
		rr.inFlight = false
		rr.schedule()
	}
}

// NotifyNumPending implements Scheduler.
func (rr *RoundRobin) NotifyNumPending(id SourceID, n int) {
	const op = "notify_num_pending"
	rr.checkOpen(op, id)
	rr.checkPending(op, id, n)

	src := rr.sources[rr.mustFind(op, id)]
	if src.pending == n {
		return
	}
	old := src.pending
	src.pending = n
	rr.logger.Debug("pending changed", "source", src.label, "from", old, "to", n)

	if old == 0 {
		rr.schedule()
	}
}

// NotifyCommandDone implements Scheduler.
func (rr *RoundRobin) NotifyCommandDone(id SourceID, n int) {
	const op = "notify_command_done"
	rr.checkOpen(op, id)
	rr.checkPending(op, id, n)

	idx := rr.mustFind(op, id)
	src := rr.sources[idx]
	if !rr.inFlight || idx != rr.current {
		rr.logger.Warn("command done from inactive source ignored",
			"source", src.label, "source_id", id, "in_flight", rr.inFlight)
		return
	}

	src.pending = n
	src.completions++
	rr.inFlight = false
	rr.logger.Debug("command done", "source", src.label, "pending", n)

	rr.schedule()
}

// Connect implements Scheduler.
func (rr *RoundRobin) Connect(fn RunFunc) HandlerID {
	rr.nextHandler++
	rr.handlers = append(rr.handlers, handler{id: rr.nextHandler, fn: fn})
	return rr.nextHandler
}

// Disconnect implements Scheduler.
func (rr *RoundRobin) Disconnect(h HandlerID) {
	for i, hd := range rr.handlers {
		if hd.id == h {
			rr.handlers = append(rr.handlers[:i:i], rr.handlers[i+1:]...)
			return
		}
	}
}

// Snapshot implements Scheduler.
func (rr *RoundRobin) Snapshot() Snapshot {
	snap := Snapshot{
		State:            rr.state(),
		InterSwitchDelay: rr.config.InterSwitchDelay,
		Sources:          make([]SourceInfo, 0, len(rr.sources)),
	}
	if rr.hasLast {
		last := rr.last
		snap.LastDispatched = &last
	}
	for i, src := range rr.sources {
		snap.Sources = append(snap.Sources, src.info(rr.inFlight && i == rr.current))
	}
	return snap
}

// Close implements Scheduler. The pending dispatch is always cancelled, even
// when sources are still registered.
func (rr *RoundRobin) Close() error {
	if rr.closed {
		return nil
	}
	rr.closed = true
	rr.cancelTimer()
	rr.handlers = nil

	if n := len(rr.sources); n > 0 {
		rr.logger.Error("scheduler closed with registered sources", "sources", n)
		return fmt.Errorf("close with %d source(s): %w", n, ErrSourcesRegistered)
	}
	rr.logger.Debug("scheduler closed")
	return nil
}

func (rr *RoundRobin) state() State {
	switch {
	case rr.inFlight:
		return StateDispatched
	case rr.timer != nil:
		return StateWaiting
	default:
		return StateIdle
	}
}

// schedule arms the dispatch timer if nothing is in flight or already armed
// and some source has pending work.
func (rr *RoundRobin) schedule() {
	if rr.inFlight || rr.timer != nil {
		return
	}
	idx := rr.next()
	if idx < 0 {
		rr.logger.Debug("no pending work, idle")
		return
	}

	delay := rr.delayFor(rr.sources[idx].id)
	rr.decidedAt = rr.loop.Now()
	rr.timer = rr.loop.AfterFunc(delay, rr.dispatch)
	rr.logger.Debug("dispatch armed", "next", rr.sources[idx].label, "delay", delay)
}

// dispatch runs from the timer. The target is chosen again because pending
// counts and membership may have changed while the timer was armed.
func (rr *RoundRobin) dispatch() {
	rr.timer = nil
	if rr.closed || rr.inFlight {
		return
	}

	idx := rr.next()
	if idx < 0 {
		rr.logger.Debug("dispatch found no pending work, idle")
		return
	}
	src := rr.sources[idx]

	// The timer may have been armed for a grant to the previous source that
	// now goes to a different one; honour the full switch delay.
	if need := rr.delayFor(src.id); need > 0 {
		if elapsed := rr.loop.Now().Sub(rr.decidedAt); elapsed < need {
			rr.timer = rr.loop.AfterFunc(need-elapsed, rr.dispatch)
			return
		}
	}

	rr.current = idx
	rr.last = src.id
	rr.hasLast = true
	rr.inFlight = true
	src.grants++

	rr.logger.Debug("run command", "source", src.label, "source_id", src.id, "pending", src.pending)

	// Handlers may connect, disconnect or call back into the scheduler.
	handlers := append([]handler(nil), rr.handlers...)
	for _, hd := range handlers {
		hd.fn(src.id)
	}
}

// next returns the index of the first source with pending work, scanning
// circularly from the entry after current. -1 means none.
func (rr *RoundRobin) next() int {
	n := len(rr.sources)
	start := rr.current + 1
	for i := 0; i < n; i++ {
		j := (start + i) % n
		if rr.sources[j].pending > 0 {
			return j
		}
	}
	return -1
}

func (rr *RoundRobin) delayFor(id SourceID) time.Duration {
	if !rr.hasLast || rr.last == id {
		return 0
	}
	return rr.config.InterSwitchDelay
}

func (rr *RoundRobin) cancelTimer() {
	if rr.timer != nil {
		rr.timer.Stop()
		rr.timer = nil
	}
}

func (rr *RoundRobin) find(id SourceID) int {
	for i, src := range rr.sources {
		if src.id == id {
			return i
		}
	}
	return -1
}

func (rr *RoundRobin) mustFind(op string, id SourceID) int {
	idx := rr.find(id)
	if idx < 0 {
		panic(&MisuseError{Op: op, ID: id, Err: ErrUnknownSource})
	}
	return idx
}

func (rr *RoundRobin) checkPending(op string, id SourceID, n int) {
	if n < 0 {
		panic(&MisuseError{Op: op, ID: id, Err: ErrNegativePending})
	}
}

func (rr *RoundRobin) checkOpen(op string, id SourceID) {
	if rr.closed {
		panic(&MisuseError{Op: op, ID: id, Err: ErrClosed})
	}
}
