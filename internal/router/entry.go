package router

import (
	"github.com/boxos/boxcore/pkg/schema"
)

// State is the lifecycle state of a RoutingEntry.
type State uint8

const (
	StatePending State = iota
	StateProcessing
	StateSuspended
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateProcessing:
		return "processing"
	case StateSuspended:
		return "suspended"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ValidTransitions defines the allowed lifecycle transitions. The only way
// out of suspension is an external Resume; terminal states allow nothing.
var ValidTransitions = map[State][]State{
	StatePending:    {StateProcessing},
	StateProcessing: {StateCompleted, StateFailed, StateSuspended},
	StateSuspended:  {StateProcessing},
	StateCompleted:  {},
	StateFailed:     {},
}

func isValidTransition(from, to State) bool {
	for _, a := range ValidTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

// Entry is the live lifecycle object tracking one Event through its route.
// It owns a full copy of the originating Event, decoupling it from transport
// slot reuse. Ownership is singular by construction: a deck queue while
// queued, the suspending subsystem while suspended, never both.
type Entry struct {
	Event  schema.Event
	Cursor int
	State  State

	// Resumed is set when an external wake re-admitted the entry, so the
	// owning deck can tell a resumed pass from the first one.
	Resumed bool

	slot int
	gen  uint32
}

// Ref is a generation-tagged reference to a pooled Entry. It stays valid
// only as long as the slot has not been freed and reused, which Deref checks.
type Ref struct {
	Slot int
	Gen  uint32
}

// CurrentDeck returns the deck identifier at the entry's route cursor.
func (e *Entry) CurrentDeck() uint8 {
	if e.Cursor < 0 || e.Cursor >= schema.MaxRouteSteps {
		return schema.DeckNone
	}
	return e.Event.Route[e.Cursor]
}

// transition moves the entry to a new state, rejecting anything outside the
// lifecycle table with a protocol error.
func (e *Entry) transition(to State) error {
	if !isValidTransition(e.State, to) {
		return schema.NewErrorf(schema.ErrProtocol,
			"invalid entry transition: %s -> %s (event %d)", e.State, to, e.Event.ID)
	}
	e.State = to
	return nil
}
