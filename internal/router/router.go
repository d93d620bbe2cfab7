// Package router owns the RoutingEntry lifecycle: a bounded pool of entries,
// the state machine that moves them through their route, and the delivery of
// Responses back over the inbound transport ring.
package router

import (
	"context"
	"log/slog"

	"github.com/boxos/boxcore/internal/clock"
	"github.com/boxos/boxcore/internal/logging"
	"github.com/boxos/boxcore/internal/streaming"
	"github.com/boxos/boxcore/internal/transport"
	"github.com/boxos/boxcore/pkg/schema"
)

// DefaultPoolSize bounds the number of in-flight entries.
const DefaultPoolSize = 256

// Queue is a deck's bounded input queue, as the router sees it.
type Queue interface {
	Enqueue(e *Entry) error
}

// Dispatcher resolves deck identifiers to their input queues.
type Dispatcher interface {
	Queue(id uint8) (Queue, bool)
}

// CompletionObserver is notified when an entry reaches a terminal state.
// Satisfied by the workflow registry (avoids an import cycle).
type CompletionObserver interface {
	OnCompletion(ctx context.Context, workflowID, eventID uint64, ok bool)
}

// Router drives entries through their routes and delivers outcomes.
// It is single-context by design: all methods are called from the machine's
// one execution context, matching the cooperative model.
type Router struct {
	clock      clock.Clock
	out        *transport.ResponseRing
	buffers    *BufferStore
	hub        streaming.EventHub
	observer   CompletionObserver
	dispatcher Dispatcher
	logger     *slog.Logger

	entries []Entry
	free    []int
}

// Option configures a Router.
type Option func(*Router)

// WithHub attaches a lifecycle event hub.
func WithHub(hub streaming.EventHub) Option {
	return func(r *Router) { r.hub = hub }
}

// WithObserver attaches a completion observer.
func WithObserver(obs CompletionObserver) Option {
	return func(r *Router) { r.observer = obs }
}

// WithPoolSize overrides the entry pool capacity.
func WithPoolSize(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.entries = make([]Entry, n)
		}
	}
}

// New creates a Router delivering responses to out.
func New(clk clock.Clock, out *transport.ResponseRing, logger *slog.Logger, opts ...Option) *Router {
	r := &Router{
		clock:   clk,
		out:     out,
		buffers: NewBufferStore(),
		logger:  logger,
		entries: make([]Entry, DefaultPoolSize),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.free = make([]int, 0, len(r.entries))
	for i := len(r.entries) - 1; i >= 0; i-- {
		r.entries[i].slot = i
		r.free = append(r.free, i)
	}
	return r
}

// SetDispatcher wires the deck registry. Must be called before Submit;
// split from construction because decks need the router first.
func (r *Router) SetDispatcher(d Dispatcher) {
	r.dispatcher = d
}

// SetObserver wires the completion observer after construction.
func (r *Router) SetObserver(obs CompletionObserver) {
	r.observer = obs
}

// Buffers exposes the owned-result buffer store.
func (r *Router) Buffers() *BufferStore {
	return r.buffers
}

// InFlight returns the number of allocated entries.
func (r *Router) InFlight() int {
	return len(r.entries) - len(r.free)
}

// Ref returns a generation-tagged reference to a live entry.
func (r *Router) Ref(e *Entry) Ref {
	return Ref{Slot: e.slot, Gen: e.gen}
}

// Deref resolves a reference, failing if the slot was freed or reused.
func (r *Router) Deref(ref Ref) (*Entry, error) {
	if ref.Slot < 0 || ref.Slot >= len(r.entries) {
		return nil, schema.NewErrorf(schema.ErrNotFound, "entry ref slot %d out of range", ref.Slot)
	}
	e := &r.entries[ref.Slot]
	if e.gen != ref.Gen {
		return nil, schema.NewErrorf(schema.ErrNotFound, "stale entry ref (slot %d)", ref.Slot)
	}
	return e, nil
}

// Submit allocates an entry for the event, stamps it, and enqueues it on the
// first deck of its route. A full pool or a full deck queue rejects the event
// immediately; callers treat that as retryable backpressure.
func (r *Router) Submit(ctx context.Context, ev schema.Event) (*Entry, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	if r.dispatcher == nil {
		return nil, schema.NewError(schema.ErrInternal, "router has no dispatcher")
	}

	q, ok := r.dispatcher.Queue(ev.Route[0])
	if !ok {
		return nil, schema.NewErrorf(schema.ErrInvalidParameter, "unknown deck %d in route", ev.Route[0])
	}

	if len(r.free) == 0 {
		return nil, schema.NewError(schema.ErrResourceExhausted, "entry pool is full")
	}
	slot := r.free[len(r.free)-1]
	r.free = r.free[:len(r.free)-1]

	e := &r.entries[slot]
	e.Event = ev
	e.Event.Timestamp = r.clock.Ticks()
	e.Cursor = 0
	e.State = StatePending
	e.Resumed = false

	if err := q.Enqueue(e); err != nil {
		r.release(e)
		return nil, err
	}

	r.publish(ctx, streaming.EventEntrySubmitted, e, nil)
	return e, nil
}

// Begin marks a dequeued entry as processing. A resumed entry is already
// PROCESSING; that is not an error.
func (r *Router) Begin(e *Entry) error {
	if e.State == StateProcessing {
		return nil
	}
	return e.transition(StateProcessing)
}

// Advance moves the entry to its next route hop. Falling off the end of the
// route without an explicit completion is a protocol error: a deck must end
// every entry with Complete, Fail, or Suspend.
func (r *Router) Advance(ctx context.Context, e *Entry) error {
	next := e.Cursor + 1
	if next >= schema.MaxRouteSteps || e.Event.Route[next] == schema.DeckNone {
		return r.Fail(ctx, e, e.CurrentDeck(), schema.ErrProtocol,
			"route exhausted without completion")
	}
	q, ok := r.dispatcher.Queue(e.Event.Route[next])
	if !ok {
		return r.Fail(ctx, e, e.CurrentDeck(), schema.ErrInvalidParameter,
			"route names unknown deck")
	}
	e.Cursor = next
	if err := q.Enqueue(e); err != nil {
		return r.Fail(ctx, e, e.CurrentDeck(), schema.ErrResourceExhausted,
			"next deck queue is full")
	}
	r.publish(ctx, streaming.EventEntryAdvanced, e, nil)
	return nil
}

// Complete transitions the entry to COMPLETED, delivers its Response, and
// frees the slot.
func (r *Router) Complete(ctx context.Context, e *Entry, deck uint8, result uint64, kind schema.ResultKind, size uint64) error {
	if err := e.transition(StateCompleted); err != nil {
		return err
	}
	resp := schema.Response{
		EventID:    e.Event.ID,
		WorkflowID: e.Event.WorkflowID,
		Status:     schema.StatusOK,
		Timestamp:  r.clock.Ticks(),
		Result:     result,
		ResultSize: size,
		Kind:       kind,
		Deck:       deck,
	}
	r.deliver(ctx, resp)
	r.publish(ctx, streaming.EventEntryCompleted, e, map[string]any{"deck": deck, "kind": kind.String()})
	if r.observer != nil {
		r.observer.OnCompletion(ctx, e.Event.WorkflowID, e.Event.ID, true)
	}
	r.release(e)
	return nil
}

// Fail transitions the entry to FAILED and delivers an error Response with
// the code; the diagnostic message goes to the log and the hub, not the wire.
func (r *Router) Fail(ctx context.Context, e *Entry, deck uint8, code schema.ErrorCode, msg string) error {
	if err := e.transition(StateFailed); err != nil {
		return err
	}
	resp := schema.Response{
		EventID:    e.Event.ID,
		WorkflowID: e.Event.WorkflowID,
		Status:     schema.StatusError,
		ErrorCode:  code,
		Timestamp:  r.clock.Ticks(),
		Deck:       deck,
	}
	ctx = logging.WithEventID(logging.WithWorkflowID(ctx, e.Event.WorkflowID), e.Event.ID)
	r.logger.WarnContext(ctx, "entry failed",
		slog.String("code", code.String()),
		slog.String("reason", msg),
		slog.Int("deck", int(deck)),
	)
	r.deliver(ctx, resp)
	r.publish(ctx, streaming.EventEntryFailed, e, map[string]any{"code": code.String(), "reason": msg})
	if r.observer != nil {
		r.observer.OnCompletion(ctx, e.Event.WorkflowID, e.Event.ID, false)
	}
	r.release(e)
	return nil
}

// Suspend parks a PROCESSING entry. The caller hands ownership to whatever
// external subsystem will later call Resume; suspension is never silent: an
// entry suspended with no wake arranged leaks for the life of the system.
func (r *Router) Suspend(ctx context.Context, e *Entry) error {
	if err := e.transition(StateSuspended); err != nil {
		return err
	}
	r.publish(ctx, streaming.EventEntrySuspended, e, nil)
	return nil
}

// Resume re-admits a suspended entry at its current cursor. The wake flag
// lets the owning deck tell this pass from the first one.
func (r *Router) Resume(ctx context.Context, ref Ref) error {
	e, err := r.Deref(ref)
	if err != nil {
		return err
	}
	if err := e.transition(StateProcessing); err != nil {
		return err
	}
	e.Resumed = true
	q, ok := r.dispatcher.Queue(e.CurrentDeck())
	if !ok {
		return schema.NewErrorf(schema.ErrInternal, "resume: unknown deck %d", e.CurrentDeck())
	}
	if err := q.Enqueue(e); err != nil {
		// Undo so the waker can retry on its next pass.
		e.State = StateSuspended
		e.Resumed = false
		return err
	}
	r.publish(ctx, streaming.EventEntryResumed, e, nil)
	return nil
}

// deliver pushes a response to the inbound ring. A full ring means the caller
// is not draining; the response is dropped after logging, because the single
// execution context cannot block here without deadlocking the machine.
func (r *Router) deliver(ctx context.Context, resp schema.Response) {
	if err := r.out.Push(resp); err != nil {
		r.logger.ErrorContext(ctx, "response ring full, dropping response",
			slog.Uint64("event_id", resp.EventID),
			slog.Uint64("workflow_id", resp.WorkflowID),
		)
	}
}

func (r *Router) release(e *Entry) {
	e.gen++
	e.Resumed = false
	r.free = append(r.free, e.slot)
}

func (r *Router) publish(ctx context.Context, typ string, e *Entry, payload map[string]any) {
	if r.hub == nil {
		return
	}
	_ = r.hub.Publish(ctx, streaming.StreamEvent{
		WorkflowID: e.Event.WorkflowID,
		EventID:    e.Event.ID,
		Deck:       e.CurrentDeck(),
		EventType:  typ,
		Payload:    payload,
	})
}
