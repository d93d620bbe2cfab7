// Package deck implements the processing stages events are routed through.
// Each deck owns a bounded input queue and a handler for its operation-type
// range; the registry maps deck identifiers to queues for the router.
package deck

import (
	"context"
	"log/slog"

	"github.com/boxos/boxcore/internal/logging"
	"github.com/boxos/boxcore/internal/router"
	"github.com/boxos/boxcore/internal/transport"
	"github.com/boxos/boxcore/pkg/schema"
)

// DefaultQueueCapacity is the per-deck input queue size.
const DefaultQueueCapacity = 64

// ProcessFunc handles one entry. The contract: before returning nil it must
// have ended the entry (complete, fail, suspend) or advanced it to the next
// hop. A non-nil return fails the entry with the error's code.
type ProcessFunc func(ctx context.Context, e *router.Entry) error

// Deck is one processing stage. Its queue is the router.Queue the dispatcher
// hands out; RunOnce pulls exactly one entry through the handler.
type Deck struct {
	name     string
	id       uint8
	rangeMin uint32
	rangeMax uint32

	rt      *router.Router
	queue   *transport.Ring[*router.Entry]
	process ProcessFunc
	breaker *Breaker
	logger  *slog.Logger
}

// Option configures a Deck.
type Option func(*Deck)

// WithQueueCapacity overrides the input queue size (power of two).
func WithQueueCapacity(n int) Option {
	return func(d *Deck) {
		if q, err := transport.NewRing[*router.Entry](n); err == nil {
			d.queue = q
		}
	}
}

// WithBreaker attaches a circuit breaker over infrastructure failures.
func WithBreaker(b *Breaker) Option {
	return func(d *Deck) { d.breaker = b }
}

// New creates a deck handling operation types in [rangeMin, rangeMax).
func New(name string, id uint8, rangeMin, rangeMax uint32, rt *router.Router, logger *slog.Logger, process ProcessFunc, opts ...Option) *Deck {
	q, _ := transport.NewRing[*router.Entry](DefaultQueueCapacity)
	d := &Deck{
		name:     name,
		id:       id,
		rangeMin: rangeMin,
		rangeMax: rangeMax,
		rt:       rt,
		queue:    q,
		process:  process,
		logger:   logger.With(slog.String("deck", name)),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ID returns the deck identifier.
func (d *Deck) ID() uint8 { return d.id }

// Name returns the deck name.
func (d *Deck) Name() string { return d.name }

// Pending returns the number of queued entries.
func (d *Deck) Pending() int { return d.queue.Len() }

// Enqueue implements router.Queue. A full queue is backpressure for the
// submitter, never a silent drop.
func (d *Deck) Enqueue(e *router.Entry) error {
	if err := d.queue.Push(e); err != nil {
		return schema.NewErrorf(schema.ErrResourceExhausted, "%s deck queue is full", d.name)
	}
	return nil
}

// RunOnce dequeues and processes a single entry, reporting whether one was
// there. Dispatch validates the operation-type range before the handler ever
// sees the entry, and enforces the deck contract after it returns: an entry
// left in PROCESSING at its old cursor was orphaned by the handler, which is
// a bug surfaced as a protocol failure rather than a leak.
func (d *Deck) RunOnce(ctx context.Context) bool {
	e, err := d.queue.Pop()
	if err != nil {
		return false
	}

	ctx = logging.WithDeckID(
		logging.WithEventID(
			logging.WithWorkflowID(ctx, e.Event.WorkflowID), e.Event.ID), d.id)

	if err := d.rt.Begin(e); err != nil {
		d.logger.ErrorContext(ctx, "dequeued entry in invalid state",
			slog.String("error", err.Error()))
		return true
	}

	if !schema.TypeInRange(e.Event.Type, d.rangeMin, d.rangeMax) {
		_ = d.rt.Fail(ctx, e, d.id, schema.ErrInvalidParameter,
			"operation type outside deck range")
		return true
	}

	if d.breaker != nil && !d.breaker.Allow() {
		_ = d.rt.Fail(ctx, e, d.id, schema.ErrResourceExhausted, "deck circuit open")
		return true
	}

	cursor := e.Cursor
	if perr := d.process(ctx, e); perr != nil {
		d.recordOutcome(perr)
		if e.State == router.StateProcessing && e.Cursor == cursor {
			_ = d.rt.Fail(ctx, e, d.id, schema.CodeOf(perr), perr.Error())
		}
		return true
	}
	d.recordOutcome(nil)

	if e.State == router.StateProcessing && e.Cursor == cursor {
		_ = d.rt.Fail(ctx, e, d.id, schema.ErrProtocol,
			"handler returned without ending the entry")
	}
	return true
}

// Drain processes queued entries until the queue is empty, returning the
// count. Entries the handler advances to another deck are that deck's
// problem; entries it re-enqueues here are picked up in the same drain.
func (d *Deck) Drain(ctx context.Context) int {
	n := 0
	for d.RunOnce(ctx) {
		n++
	}
	return n
}

// recordOutcome feeds the breaker. Only infrastructure failures count against
// the circuit; caller mistakes (bad payloads, unknown ops) do not.
func (d *Deck) recordOutcome(err error) {
	if d.breaker == nil {
		return
	}
	if err == nil {
		d.breaker.RecordSuccess()
		return
	}
	switch schema.CodeOf(err) {
	case schema.ErrInternal, schema.ErrIO, schema.ErrTimeout:
		d.breaker.RecordFailure()
	default:
		d.breaker.RecordSuccess()
	}
}

// Registry maps deck identifiers to decks and implements router.Dispatcher.
type Registry struct {
	decks  map[uint8]*Deck
	order  []*Deck
	logger *slog.Logger
}

// NewRegistry creates an empty deck registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{decks: make(map[uint8]*Deck), logger: logger}
}

// Register adds a deck. Duplicate identifiers are rejected.
func (r *Registry) Register(d *Deck) error {
	if _, ok := r.decks[d.id]; ok {
		return schema.NewErrorf(schema.ErrInvalidParameter, "deck %d already registered", d.id)
	}
	r.decks[d.id] = d
	r.order = append(r.order, d)
	return nil
}

// Queue implements router.Dispatcher.
func (r *Registry) Queue(id uint8) (router.Queue, bool) {
	d, ok := r.decks[id]
	if !ok {
		return nil, false
	}
	return d, true
}

// Get returns the deck with the given identifier.
func (r *Registry) Get(id uint8) (*Deck, bool) {
	d, ok := r.decks[id]
	return d, ok
}

// DrainOnce runs one entry through each registered deck in registration
// order, returning the number processed.
func (r *Registry) DrainOnce(ctx context.Context) int {
	n := 0
	for _, d := range r.order {
		if d.RunOnce(ctx) {
			n++
		}
	}
	return n
}

// Drain repeats DrainOnce until every queue is empty. Multi-hop entries that
// advance between decks settle within the same drain.
func (r *Registry) Drain(ctx context.Context) int {
	total := 0
	for {
		n := r.DrainOnce(ctx)
		if n == 0 {
			return total
		}
		total += n
	}
}
