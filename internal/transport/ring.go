// Package transport implements the fixed-capacity circular buffers shared
// between the kernel side and unprivileged callers. Each ring is
// single-producer/single-consumer: one side only ever writes the tail, the
// other only the head, so fence-ordered counter updates are the whole
// synchronization story. No locks, ever.
package transport

import (
	"sync/atomic"

	"github.com/boxos/boxcore/pkg/schema"
)

// DefaultCapacity matches the protocol's 256-slot rings.
const DefaultCapacity = 256

// ErrFull is returned by Push when the ring has no free slot. Callers must
// treat it as backpressure and retry; the transport never spins internally.
var ErrFull = schema.NewError(schema.ErrResourceExhausted, "ring is full")

// ErrEmpty is returned by Pop when the ring has no published item.
var ErrEmpty = schema.NewError(schema.ErrResourceExhausted, "ring is empty")

// counter is a monotonically increasing position, padded to its own cache
// line so producer and consumer never share one.
type counter struct {
	v atomic.Uint64
	_ [56]byte
}

// Ring is a bounded SPSC queue. Head and tail only ever grow; the slot index
// is the counter modulo capacity, so no wraparound flag is needed and
// tail-head is always the live item count.
type Ring[T any] struct {
	head  counter // next slot to pop, advanced by the consumer
	tail  counter // next slot to fill, advanced by the producer
	mask  uint64
	slots []T
}

// NewRing creates a ring with the given capacity, which must be a power of two.
func NewRing[T any](capacity int) (*Ring[T], error) {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		return nil, schema.NewErrorf(schema.ErrInvalidParameter,
			"ring capacity %d is not a power of two", capacity)
	}
	return &Ring[T]{
		mask:  uint64(capacity - 1),
		slots: make([]T, capacity),
	}, nil
}

// Capacity returns the slot count.
func (r *Ring[T]) Capacity() int {
	return len(r.slots)
}

// Len returns the number of published, unconsumed items.
func (r *Ring[T]) Len() int {
	return int(r.tail.v.Load() - r.head.v.Load())
}

// Push copies item into the next free slot and publishes it. The slot
// contents are written before the tail store, which is the fence the consumer
// relies on. Only the producer side may call Push.
func (r *Ring[T]) Push(item T) error {
	tail := r.tail.v.Load()
	head := r.head.v.Load()
	if tail-head >= uint64(len(r.slots)) {
		return ErrFull
	}
	r.slots[tail&r.mask] = item
	r.tail.v.Store(tail + 1)
	return nil
}

// Pop copies out the oldest published item and advances the head. Only the
// consumer side may call Pop.
func (r *Ring[T]) Pop() (T, error) {
	var zero T
	head := r.head.v.Load()
	tail := r.tail.v.Load()
	if head >= tail {
		return zero, ErrEmpty
	}
	item := r.slots[head&r.mask]
	r.head.v.Store(head + 1)
	return item, nil
}

// EventRing carries Events from unprivileged code to the kernel side.
type EventRing = Ring[schema.Event]

// ResponseRing carries Responses back to unprivileged code.
type ResponseRing = Ring[schema.Response]

// NewEventRing creates the outbound event ring at the protocol capacity.
func NewEventRing() *EventRing {
	r, _ := NewRing[schema.Event](DefaultCapacity)
	return r
}

// NewResponseRing creates the inbound response ring at the protocol capacity.
func NewResponseRing() *ResponseRing {
	r, _ := NewRing[schema.Response](DefaultCapacity)
	return r
}
