package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/me/portsched/internal/eventloop"
	"github.com/me/portsched/internal/port"
	"github.com/me/portsched/internal/scheduler"
	"github.com/me/portsched/pkg/model"
)

// ErrNotRunning is returned by Snapshot outside of Run.
var ErrNotRunning = errors.New("simulation not running")

// Simulator runs one scenario against a real RoundRobin scheduler.
type Simulator struct {
	scenario *Scenario
	logger   *slog.Logger

	mu    sync.Mutex
	loop  *eventloop.Runner
	sched *scheduler.RoundRobin

	// exchanges counts transport exchanges currently running.
	exchanges atomic.Int32
}

// New creates a Simulator for sc.
func New(sc *Scenario, logger *slog.Logger) *Simulator {
	return &Simulator{
		scenario: sc,
		logger:   logger.With("component", "sim", "scenario", sc.Name),
	}
}

// Snapshot returns the live scheduler state while Run is in progress.
func (s *Simulator) Snapshot(ctx context.Context) (scheduler.Snapshot, error) {
	s.mu.Lock()
	loop, sched := s.loop, s.sched
	s.mu.Unlock()

	var snap scheduler.Snapshot
	if loop == nil {
		return snap, ErrNotRunning
	}
	if err := loop.Do(ctx, func() { snap = sched.Snapshot() }); err != nil {
		return snap, err
	}
	return snap, nil
}

// abortTimeout bounds the teardown of a cancelled run.
const abortTimeout = 5 * time.Second

// Run executes the scenario until every queued command has finished. It
// returns the run summary, including verification results, and the grant
// trace. When ctx ends first, ports and scheduler are closed on the loop and
// Run returns once every exchange has stopped.
func (s *Simulator) Run(ctx context.Context) (*model.Run, []model.Grant, error) {
	sc := s.scenario
	// The loop outlives ctx so that an aborted run can still be torn down on it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	loop := eventloop.NewRunner(s.logger)
	sched := scheduler.NewRoundRobin(loop, scheduler.Config{InterSwitchDelay: sc.InterSwitchDelay}, s.logger)
	r := &run{
		scenario:  sc,
		logger:    s.logger,
		loop:      loop,
		sched:     sched,
		labels:    make(map[scheduler.SourceID]string),
		tallies:   make(map[string]*model.RunSource),
		remaining: sc.TotalCommands(),
		finished:  make(chan struct{}),
		active:    &s.exchanges,
	}

	loopDone := make(chan error, 1)
	go func() { loopDone <- loop.Run(runCtx) }()

	s.mu.Lock()
	s.loop, s.sched = loop, sched
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.loop, s.sched = nil, nil
		s.mu.Unlock()
	}()

	result := &model.Run{
		ID:               "run_" + uuid.New().String(),
		Scenario:         sc.Name,
		InterSwitchDelay: sc.InterSwitchDelay,
		StartedAt:        time.Now().UTC(),
	}
	s.logger.Info("simulation started", "run_id", result.ID, "sources", len(sc.Sources),
		"commands", sc.TotalCommands(), "inter_switch_delay", sc.InterSwitchDelay)

	if err := loop.Do(ctx, r.begin); err != nil {
		s.abort(r, cancel, loopDone)
		return nil, nil, fmt.Errorf("start simulation: %w", err)
	}

	select {
	case <-r.finished:
	case <-ctx.Done():
		s.abort(r, cancel, loopDone)
		return nil, nil, fmt.Errorf("simulation %s: %w", sc.Name, ctx.Err())
	}
	cancel()
	<-loopDone

	result.FinishedAt = time.Now().UTC()
	result.GrantCount = len(r.grants)
	for _, spec := range sc.Sources {
		result.Sources = append(result.Sources, *r.tallies[spec.Label])
	}
	result.Violations = append(result.Violations, r.violations...)
	result.Violations = append(result.Violations, Verify(r.grants, sc.InterSwitchDelay)...)
	if n := r.overlaps.Load(); n > 0 {
		result.Violations = append(result.Violations, fmt.Sprintf("%d exchange(s) overlapped another command", n))
	}
	for _, p := range r.ports {
		tally := r.tallies[p.Label()]
		if uint64(tally.Grants) != p.Sent() {
			result.Violations = append(result.Violations,
				fmt.Sprintf("%s: %d grants but %d commands sent", p.Label(), tally.Grants, p.Sent()))
		}
	}

	s.logger.Info("simulation finished", "run_id", result.ID, "grants", result.GrantCount,
		"duration", result.Duration(), "violations", len(result.Violations))
	return result, r.grants, nil
}

// abort tears down an unfinished run: ports and scheduler are closed on the
// loop, in-flight exchanges are waited for, then the loop stops.
func (s *Simulator) abort(r *run, stop context.CancelFunc, loopDone <-chan error) {
	ctx, cancel := context.WithTimeout(context.Background(), abortTimeout)
	defer cancel()
	if err := r.loop.Do(ctx, r.finish); err != nil {
		s.logger.Warn("simulation teardown incomplete", "error", err)
	} else {
		// Ports are only read after the loop has run finish.
		for _, p := range r.ports {
			p.Wait()
		}
	}
	stop()
	<-loopDone
	s.logger.Info("simulation aborted", "exchanges", s.exchanges.Load())
}

// run holds per-execution state. Everything except the atomics is touched
// only on the loop goroutine until the loop stops.
type run struct {
	scenario *Scenario
	logger   *slog.Logger
	loop     *eventloop.Runner
	sched    *scheduler.RoundRobin

	start   time.Time
	grants  []model.Grant
	labels  map[scheduler.SourceID]string
	tallies map[string]*model.RunSource
	ports   []*port.Port
	rogues  []*rogue

	remaining  int
	over       bool
	finished   chan struct{}
	violations []string

	active   *atomic.Int32
	overlaps atomic.Int32
}

type rogue struct {
	id    scheduler.SourceID
	timer eventloop.Timer
	calls int
}

func (r *run) begin() {
	r.start = r.loop.Now()
	r.sched.Connect(r.record)

	for _, spec := range r.scenario.Sources {
		spec := spec // per-iteration copy; go.mod targets go 1.21 loop semantics
		tally := &model.RunSource{Label: spec.Label, Commands: spec.Commands}
		r.tallies[spec.Label] = tally

		if spec.Rogue {
			r.loop.AfterFunc(spec.StartAfter, func() { r.startRogue(spec) })
			continue
		}
		p := port.New(spec.Label, r.sched, r.loop, r.transport(spec), r.logger)
		r.ports = append(r.ports, p)
		r.labels[p.ID()] = spec.Label
		r.loop.AfterFunc(spec.StartAfter, func() { r.startPort(p, spec, tally) })
	}

	if r.remaining == 0 {
		r.finish()
	}
}

func (r *run) startPort(p *port.Port, spec SourceSpec, tally *model.RunSource) {
	if r.over {
		return
	}
	p.Open()
	timeout := 4*spec.ServiceTime + time.Second
	for i := 0; i < spec.Commands; i++ {
		p.Enqueue(&port.Command{
			Payload: []byte(fmt.Sprintf("%s#%d", spec.Label, i+1)),
			Timeout: timeout,
			Done:    func(res port.Result) { r.commandDone(p, spec, tally, res) },
		})
	}
}

func (r *run) startRogue(spec SourceSpec) {
	if r.over {
		return
	}
	rg := &rogue{id: scheduler.NewSourceID()}
	r.rogues = append(r.rogues, rg)
	r.labels[rg.id] = spec.Label
	r.sched.RegisterSource(rg.id, spec.Label)

	interval := spec.ServiceTime
	if interval <= 0 {
		interval = time.Millisecond
	}
	var tick func()
	tick = func() {
		if r.over {
			return
		}
		r.sched.NotifyCommandDone(rg.id, 0)
		rg.calls++
		rg.timer = r.loop.AfterFunc(interval, tick)
	}
	rg.timer = r.loop.AfterFunc(interval, tick)
}

func (r *run) commandDone(p *port.Port, spec SourceSpec, tally *model.RunSource, res port.Result) {
	switch {
	case errors.Is(res.Err, port.ErrPortClosed):
		tally.Dropped++
	case res.Err != nil:
		tally.Failed++
	default:
		tally.Completed++
	}

	if spec.CloseAfter > 0 && tally.Completed+tally.Failed == spec.CloseAfter {
		r.logger.Debug("closing port", "port", spec.Label, "after", spec.CloseAfter)
		p.Close()
	}

	r.remaining--
	if r.remaining == 0 {
		r.finish()
	}
}

func (r *run) finish() {
	if r.over {
		return
	}
	r.over = true

	for _, rg := range r.rogues {
		if rg.timer != nil {
			rg.timer.Stop()
		}
		r.sched.UnregisterSource(rg.id)
		r.logger.Debug("rogue source removed", "source_id", rg.id, "calls", rg.calls)
	}
	for _, p := range r.ports {
		p.Close()
	}
	if err := r.sched.Close(); err != nil {
		r.violations = append(r.violations, err.Error())
	}
	close(r.finished)
}

func (r *run) record(id scheduler.SourceID) {
	label := r.labels[id]
	at := r.loop.Now().Sub(r.start)
	g := model.Grant{
		Seq:      len(r.grants) + 1,
		SourceID: id.String(),
		Label:    label,
		At:       at,
	}
	if n := len(r.grants); n > 0 {
		prev := r.grants[n-1]
		g.Gap = at - prev.At
		g.Switched = prev.SourceID != g.SourceID
	}
	r.grants = append(r.grants, g)
	if tally, ok := r.tallies[label]; ok {
		tally.Grants++
	}
}

// transport simulates a modem that answers after the source's service time.
// It also detects overlapping exchanges across all ports of the run.
func (r *run) transport(spec SourceSpec) port.Transport {
	var seq atomic.Int64
	return port.TransportFunc(func(ctx context.Context, req []byte) ([]byte, error) {
		if r.active.Add(1) > 1 {
			r.overlaps.Add(1)
		}
		defer r.active.Add(-1)

		n := seq.Add(1)
		if spec.ServiceTime > 0 {
			select {
			case <-time.After(spec.ServiceTime):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if spec.FailEvery > 0 && n%int64(spec.FailEvery) == 0 {
			return nil, &port.ResponseError{Final: "ERROR"}
		}
		return append([]byte("OK "), req...), nil
	})
}
