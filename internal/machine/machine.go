// Package machine ties the core together: the trap entry point unprivileged
// callers signal, and the periodic pass that sweeps timers and drains deck
// queues. Everything here runs on the one cooperative execution context.
package machine

import (
	"context"
	"log/slog"
	"time"

	"github.com/boxos/boxcore/internal/deck"
	"github.com/boxos/boxcore/internal/logging"
	"github.com/boxos/boxcore/internal/router"
	"github.com/boxos/boxcore/internal/sched"
	"github.com/boxos/boxcore/internal/timer"
	"github.com/boxos/boxcore/internal/transport"
	"github.com/boxos/boxcore/pkg/schema"
)

// DefaultPassInterval is the continuous run loop's pass period.
const DefaultPassInterval = time.Millisecond

// Machine is the kernel-side top level: one event ring in, one response ring
// out, and the routing core between them.
type Machine struct {
	in     *transport.EventRing
	out    *transport.ResponseRing
	rt     *router.Router
	decks  *deck.Registry
	timers *timer.Table
	sched  *sched.Scheduler
	logger *slog.Logger

	interval time.Duration
	exited   map[uint64]bool
}

// Option configures a Machine.
type Option func(*Machine)

// WithScheduler attaches a cron trigger scheduler ticked once per pass.
func WithScheduler(s *sched.Scheduler) Option {
	return func(m *Machine) { m.sched = s }
}

// WithPassInterval overrides the idle-loop pass period.
func WithPassInterval(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.interval = d
		}
	}
}

// New assembles a machine over an already-wired routing core.
func New(in *transport.EventRing, out *transport.ResponseRing, rt *router.Router, decks *deck.Registry, timers *timer.Table, logger *slog.Logger, opts ...Option) *Machine {
	m := &Machine{
		in:       in,
		out:      out,
		rt:       rt,
		decks:    decks,
		timers:   timers,
		logger:   logger,
		interval: DefaultPassInterval,
		exited:   make(map[uint64]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Router exposes the routing core for bring-up wiring.
func (m *Machine) Router() *router.Router { return m.rt }

// Notify is the trap entry point: one call with a workflow identifier and a
// flag set. Flags compose; SUBMIT|WAIT is the synchronous-call idiom.
func (m *Machine) Notify(ctx context.Context, workflowID uint64, flags uint32) error {
	ctx = logging.WithWorkflowID(ctx, workflowID)

	if flags&schema.TrapExit != 0 {
		m.exited[workflowID] = true
		m.logger.InfoContext(ctx, "workflow exited")
	}

	if flags&schema.TrapSubmit != 0 {
		m.drainSubmissions(ctx)
	}

	if flags&schema.TrapWait != 0 {
		if err := m.waitIdle(ctx); err != nil {
			return err
		}
	}

	if flags&(schema.TrapPoll|schema.TrapYield) != 0 {
		m.RunPass(ctx)
	}
	return nil
}

// drainSubmissions moves every pending event from the outbound ring into
// routing. A rejected submission gets an immediate error response; exited
// workflows may no longer submit.
func (m *Machine) drainSubmissions(ctx context.Context) {
	for {
		ev, err := m.in.Pop()
		if err != nil {
			return
		}
		if m.exited[ev.WorkflowID] {
			m.reject(ctx, ev, schema.ErrInvalidParameter)
			continue
		}
		if _, err := m.rt.Submit(ctx, ev); err != nil {
			m.reject(ctx, ev, schema.CodeOf(err))
		}
	}
}

// reject delivers an error response for an event that never became an entry.
func (m *Machine) reject(ctx context.Context, ev schema.Event, code schema.ErrorCode) {
	resp := schema.Response{
		EventID:    ev.ID,
		WorkflowID: ev.WorkflowID,
		Status:     schema.StatusError,
		ErrorCode:  code,
	}
	if err := m.out.Push(resp); err != nil {
		m.logger.ErrorContext(ctx, "response ring full, dropping rejection",
			slog.Uint64("event_id", ev.ID),
		)
	}
}

// waitIdle runs passes until nothing is in flight. Between passes that make
// no progress it sleeps briefly so suspended entries can reach their
// monotonic deadlines.
func (m *Machine) waitIdle(ctx context.Context) error {
	for m.rt.InFlight() > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		if m.RunPass(ctx) == 0 {
			time.Sleep(m.interval)
		}
	}
	return nil
}

// RunPass executes one machine pass: sweep timers, drain each deck's queue
// once, tick the cron scheduler. Returns the amount of work done.
func (m *Machine) RunPass(ctx context.Context) int {
	n := m.timers.Sweep(ctx)
	n += m.decks.DrainOnce(ctx)
	if m.sched != nil {
		n += m.sched.Tick(ctx)
	}
	return n
}

// Run loops passes until the context is cancelled. Bring-up code's idle loop.
func (m *Machine) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RunPass(ctx)
		}
	}
}
