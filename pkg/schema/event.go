package schema

import "encoding/binary"

// Wire layout constants. Any change here is a breaking protocol change: the
// same byte layout is mapped on both sides of the privilege boundary.
const (
	// EventSize is the fixed encoded size of an Event.
	EventSize = 256
	// PayloadSize is the opaque payload capacity inside an Event.
	PayloadSize = 224
	// MaxRouteSteps bounds the route length. Unused slots are zero.
	MaxRouteSteps = 8
)

// Deck identifiers. Zero is reserved as the route terminator.
const (
	DeckNone     uint8 = 0
	DeckStorage  uint8 = 2
	DeckHardware uint8 = 3
)

// Operation types, partitioned into disjoint per-deck numeric ranges.
const (
	// Storage deck: 10-19.
	OpFileOpen         uint32 = 10
	OpFileClose        uint32 = 11
	OpFileRead         uint32 = 12
	OpFileWrite        uint32 = 13
	OpFileStat         uint32 = 14
	OpFileCreateTagged uint32 = 15
	OpFileQuery        uint32 = 16
	OpFileTagAdd       uint32 = 17
	OpFileTagRemove    uint32 = 18
	OpFileTagGet       uint32 = 19

	// Hardware deck, device range: 40-49.
	OpDevOpen  uint32 = 40
	OpDevIoctl uint32 = 41
	OpDevRead  uint32 = 42
	OpDevWrite uint32 = 43

	// Hardware deck, timer range: 50-59.
	OpTimerCreate   uint32 = 50
	OpTimerCancel   uint32 = 51
	OpTimerSleep    uint32 = 52
	OpTimerGetTicks uint32 = 53

	// Hardware deck, console range: 70-79.
	OpConsoleWrite     uint32 = 70
	OpConsoleWriteAttr uint32 = 71
	OpConsoleReadLine  uint32 = 72
	OpConsoleReadChar  uint32 = 73
	OpConsoleClear     uint32 = 74
	OpConsoleSetPos    uint32 = 75
	OpConsoleGetPos    uint32 = 76
)

// Operation-type range bounds per deck.
const (
	StorageRangeMin  uint32 = 10
	StorageRangeMax  uint32 = 20
	HardwareRangeMin uint32 = 40
	HardwareRangeMax uint32 = 80
)

// Event is the fixed-format unit of requested work. Encoded form:
//
//	id u64 | workflow_id u64 | type u32 | pad u32 | timestamp u64 |
//	route [8]u8 | payload [224]u8
//
// little-endian, 256 bytes total. Timestamp is filled by the kernel side on
// submission, never by the caller.
type Event struct {
	ID         uint64
	WorkflowID uint64
	Type       uint32
	Timestamp  uint64
	Route      [MaxRouteSteps]uint8
	Payload    [PayloadSize]byte
}

// MarshalBinary encodes the event into its fixed 256-byte wire form.
func (e *Event) MarshalBinary() []byte {
	buf := make([]byte, EventSize)
	binary.LittleEndian.PutUint64(buf[0:8], e.ID)
	binary.LittleEndian.PutUint64(buf[8:16], e.WorkflowID)
	binary.LittleEndian.PutUint32(buf[16:20], e.Type)
	// buf[20:24] is padding, left zero.
	binary.LittleEndian.PutUint64(buf[24:32], e.Timestamp)
	copy(buf[32:40], e.Route[:])
	copy(buf[40:], e.Payload[:])
	return buf
}

// UnmarshalBinary decodes a fixed 256-byte wire record. Truncated input is
// rejected rather than partially read.
func (e *Event) UnmarshalBinary(data []byte) error {
	if len(data) != EventSize {
		return NewErrorf(ErrInvalidParameter, "event record is %d bytes, want %d", len(data), EventSize)
	}
	e.ID = binary.LittleEndian.Uint64(data[0:8])
	e.WorkflowID = binary.LittleEndian.Uint64(data[8:16])
	e.Type = binary.LittleEndian.Uint32(data[16:20])
	e.Timestamp = binary.LittleEndian.Uint64(data[24:32])
	copy(e.Route[:], data[32:40])
	copy(e.Payload[:], data[40:])
	return nil
}

// RouteLen returns the number of hops before the zero terminator.
func (e *Event) RouteLen() int {
	for i, d := range e.Route {
		if d == DeckNone {
			return i
		}
	}
	return MaxRouteSteps
}

// Validate performs the checks every receiver must apply before routing:
// a non-empty route and a known operation type.
func (e *Event) Validate() error {
	if e.RouteLen() == 0 {
		return NewError(ErrInvalidParameter, "event has an empty route")
	}
	if !TypeInRange(e.Type, StorageRangeMin, StorageRangeMax) &&
		!TypeInRange(e.Type, HardwareRangeMin, HardwareRangeMax) {
		return NewErrorf(ErrInvalidParameter, "unknown operation type %d", e.Type)
	}
	return nil
}

// TypeInRange reports whether t falls in [min, max).
func TypeInRange(t, min, max uint32) bool {
	return t >= min && t < max
}
