// Package timer implements the fixed-capacity deadline table. A slot either
// fires a bare notification or resumes exactly one suspended routing entry;
// both uses share the table so one periodic sweep covers everything.
package timer

import (
	"context"
	"log/slog"

	"github.com/boxos/boxcore/internal/clock"
	"github.com/boxos/boxcore/internal/router"
	"github.com/boxos/boxcore/internal/streaming"
	"github.com/boxos/boxcore/pkg/schema"
)

// DefaultCapacity is the slot count of the timer table.
const DefaultCapacity = 64

// Resumer re-admits a suspended entry into routing. Satisfied by the Router.
type Resumer interface {
	Resume(ctx context.Context, ref router.Ref) error
}

type slot struct {
	id         uint64
	workflowID uint64
	expiration uint64 // absolute ticks
	interval   uint64 // 0 = one-shot
	entry      *router.Ref
	active     bool
}

// Table is the fixed-capacity timer table. Allocation is a linear scan for
// the first free slot; the sweep is O(capacity) per tick, which is fine at
// tens of slots.
type Table struct {
	clock   clock.Clock
	resumer Resumer
	hub     streaming.EventHub
	logger  *slog.Logger
	slots   []slot
	nextID  uint64
}

// Option configures a Table.
type Option func(*Table)

// WithCapacity overrides the slot count.
func WithCapacity(n int) Option {
	return func(t *Table) {
		if n > 0 {
			t.slots = make([]slot, n)
		}
	}
}

// NewTable creates a timer table. hub may be nil.
func NewTable(clk clock.Clock, resumer Resumer, logger *slog.Logger, hub streaming.EventHub, opts ...Option) *Table {
	t := &Table{
		clock:   clk,
		resumer: resumer,
		hub:     hub,
		logger:  logger,
		slots:   make([]slot, DefaultCapacity),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Create allocates a timer. delayMillis must be positive; intervalMillis of
// zero makes it one-shot. If ref is non-nil the timer owns that suspended
// entry for resumption and fires it exactly once.
func (t *Table) Create(ctx context.Context, delayMillis, intervalMillis, workflowID uint64, ref *router.Ref) (uint64, error) {
	if delayMillis == 0 {
		return 0, schema.NewError(schema.ErrInvalidParameter, "timer delay is zero")
	}
	for i := range t.slots {
		if t.slots[i].active {
			continue
		}
		t.nextID++
		t.slots[i] = slot{
			id:         t.nextID,
			workflowID: workflowID,
			expiration: t.clock.Ticks() + delayMillis,
			interval:   intervalMillis,
			entry:      ref,
			active:     true,
		}
		t.publish(ctx, streaming.EventTimerCreated, t.nextID, workflowID)
		return t.nextID, nil
	}
	return 0, schema.NewError(schema.ErrResourceExhausted, "no free timer slots")
}

// Cancel deactivates the timer with the given id. Cancelling a timer linked
// to a suspended entry does NOT resume it; cancellation is not resumption,
// the returned flag tells the caller an entry was orphaned so it can resume
// explicitly.
func (t *Table) Cancel(ctx context.Context, id uint64) (orphaned bool, err error) {
	for i := range t.slots {
		if t.slots[i].active && t.slots[i].id == id {
			orphaned = t.slots[i].entry != nil
			t.slots[i].active = false
			t.slots[i].entry = nil
			t.publish(ctx, streaming.EventTimerCancelled, id, t.slots[i].workflowID)
			return orphaned, nil
		}
	}
	return false, schema.NewErrorf(schema.ErrNotFound, "timer %d not found", id)
}

// Sweep fires every active, expired slot: a linked entry is resumed and the
// link cleared; then the slot reschedules (interval > 0) or deactivates.
// A resume rejected by a full deck queue leaves the slot expired and linked,
// so the next sweep retries. Returns the number of timers fired.
func (t *Table) Sweep(ctx context.Context) int {
	now := t.clock.Ticks()
	fired := 0
	for i := range t.slots {
		s := &t.slots[i]
		if !s.active || now < s.expiration {
			continue
		}
		if s.entry != nil {
			if err := t.resumer.Resume(ctx, *s.entry); err != nil {
				t.logger.WarnContext(ctx, "timer resume deferred",
					slog.Uint64("timer_id", s.id),
					slog.String("error", err.Error()),
				)
				continue
			}
			s.entry = nil
		}
		fired++
		t.publish(ctx, streaming.EventTimerFired, s.id, s.workflowID)
		if s.interval > 0 {
			s.expiration = now + s.interval
		} else {
			s.active = false
		}
	}
	return fired
}

// Active reports whether the timer with the given id is live.
func (t *Table) Active(id uint64) bool {
	for i := range t.slots {
		if t.slots[i].active && t.slots[i].id == id {
			return true
		}
	}
	return false
}

// ActiveCount returns the number of live slots.
func (t *Table) ActiveCount() int {
	n := 0
	for i := range t.slots {
		if t.slots[i].active {
			n++
		}
	}
	return n
}

func (t *Table) publish(ctx context.Context, typ string, id, workflowID uint64) {
	if t.hub == nil {
		return
	}
	_ = t.hub.Publish(ctx, streaming.StreamEvent{
		WorkflowID: workflowID,
		EventType:  typ,
		Payload:    map[string]any{"timer_id": id},
	})
}
