// Package port implements a modem command port that shares its channel with
// other ports through a scheduler.Scheduler.
package port

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/me/portsched/internal/eventloop"
	"github.com/me/portsched/internal/scheduler"
)

// DefaultTimeout applies to commands queued without a timeout.
const DefaultTimeout = 3 * time.Second

var (
	// ErrPortClosed is delivered to commands still queued when the port closes.
	ErrPortClosed = errors.New("port closed")

	// ErrNotOpen is delivered to commands queued on a port that is not open.
	ErrNotOpen = errors.New("port not open")
)

// Result is the outcome of one command.
type Result struct {
	Response []byte
	Err      error
}

// Command is one queued request.
type Command struct {
	ID      uuid.UUID
	Payload []byte
	Timeout time.Duration

	// Done is called on the loop goroutine exactly once.
	Done func(Result)
}

// Port owns a FIFO command queue and transmits one command per run grant.
// Apart from Send, methods must be called on the loop goroutine.
type Port struct {
	id        scheduler.SourceID
	label     string
	sched     scheduler.Scheduler
	loop      eventloop.Loop
	transport Transport
	logger    *slog.Logger

	queue   []*Command
	active  *Command
	handler scheduler.HandlerID
	open    bool

	// closing is cancelled on Close so an in-flight exchange stops early.
	closing context.Context
	cancel  context.CancelFunc

	// cycle counts Open calls. A completion from an earlier cycle is
	// delivered to its caller but never reported to the scheduler.
	cycle uint64

	exchanges sync.WaitGroup
	sent      uint64
}

// New creates a closed port.
func New(label string, sched scheduler.Scheduler, loop eventloop.Loop, tr Transport, logger *slog.Logger) *Port {
	return &Port{
		id:        scheduler.NewSourceID(),
		label:     label,
		sched:     sched,
		loop:      loop,
		transport: tr,
		logger:    logger.With("component", "port", "port", label),
	}
}

// ID returns the port's scheduler identity.
func (p *Port) ID() scheduler.SourceID { return p.id }

// Label returns the port's diagnostic name.
func (p *Port) Label() string { return p.label }

// Pending returns the number of queued commands, excluding the active one.
func (p *Port) Pending() int { return len(p.queue) }

// Sent returns the number of commands transmitted so far.
func (p *Port) Sent() uint64 { return p.sent }

// Open registers the port with its scheduler.
func (p *Port) Open() {
	if p.open {
		return
	}
	p.open = true
	p.cycle++
	p.closing, p.cancel = context.WithCancel(context.Background())
	p.sched.RegisterSource(p.id, p.label)
	p.handler = p.sched.Connect(p.onRun)
	p.logger.Debug("port opened", "source_id", p.id)
}

// Close unregisters the port and fails every queued command. A command in
// flight still completes, but its completion is not reported to the
// scheduler.
func (p *Port) Close() {
	if !p.open {
		return
	}
	p.open = false
	p.cancel()
	p.sched.Disconnect(p.handler)
	p.sched.UnregisterSource(p.id)

	queued := p.queue
	p.queue = nil
	for _, cmd := range queued {
		cmd.Done(Result{Err: ErrPortClosed})
	}
	p.logger.Debug("port closed", "failed", len(queued), "in_flight", p.active != nil)
}

// Enqueue appends cmd and reports the new depth to the scheduler.
func (p *Port) Enqueue(cmd *Command) {
	if cmd.ID == uuid.Nil {
		cmd.ID = uuid.New()
	}
	if cmd.Timeout <= 0 {
		cmd.Timeout = DefaultTimeout
	}
	if cmd.Done == nil {
		cmd.Done = func(Result) {}
	}
	if !p.open {
		cmd.Done(Result{Err: ErrNotOpen})
		return
	}

	p.queue = append(p.queue, cmd)
	p.logger.Debug("command queued", "command_id", cmd.ID, "depth", len(p.queue))
	p.sched.NotifyNumPending(p.id, len(p.queue))
}

// Send queues payload from any goroutine and waits for its result. It
// requires the port's loop to be running.
func (p *Port) Send(ctx context.Context, payload []byte, timeout time.Duration) ([]byte, error) {
	done := make(chan Result, 1)
	p.loop.Post(func() {
		p.Enqueue(&Command{
			Payload: payload,
			Timeout: timeout,
			Done:    func(r Result) { done <- r },
		})
	})

	select {
	case r := <-done:
		return r.Response, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Port) onRun(id scheduler.SourceID) {
	if id != p.id {
		return
	}
	if len(p.queue) == 0 {
		// Nothing to send; hand the grant straight back.
		p.logger.Warn("run grant with empty queue")
		p.sched.NotifyCommandDone(p.id, 0)
		return
	}

	cmd := p.queue[0]
	p.queue = p.queue[1:]
	p.active = cmd
	p.sent++

	ctx, cancel := context.WithTimeout(p.closing, cmd.Timeout)
	tr, cycle := p.transport, p.cycle
	p.exchanges.Add(1)
	go func() {
		defer p.exchanges.Done()
		defer cancel()
		resp, err := tr.Exchange(ctx, cmd.Payload)
		p.loop.Post(func() { p.complete(cmd, cycle, resp, err) })
	}()
}

// Wait blocks until every exchange started so far has returned. Safe from any
// goroutine; the completions themselves still run on the loop.
func (p *Port) Wait() {
	p.exchanges.Wait()
}

func (p *Port) complete(cmd *Command, cycle uint64, resp []byte, err error) {
	current := p.open && cycle == p.cycle
	if p.active == cmd {
		p.active = nil
	}
	if err != nil {
		p.logger.Debug("command failed", "command_id", cmd.ID, "error", err)
	} else {
		p.logger.Debug("command completed", "command_id", cmd.ID, "bytes", len(resp))
	}

	if current {
		p.sched.NotifyCommandDone(p.id, len(p.queue))
	} else {
		p.logger.Debug("completion from a previous open cycle not reported", "command_id", cmd.ID)
	}
	cmd.Done(Result{Response: resp, Err: err})
}
