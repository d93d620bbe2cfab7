package schema

import "encoding/binary"

// ResponseSize is the fixed encoded size of a Response.
const ResponseSize = 56

// Response status values.
const (
	StatusOK    uint32 = 0
	StatusError uint32 = 1
)

// ResultKind tags the representation of a Response result.
type ResultKind uint8

const (
	// ResultNone means the operation produced no result.
	ResultNone ResultKind = 0
	// ResultValue means Result holds an inline scalar.
	ResultValue ResultKind = 1
	// ResultBuffer means Result holds a handle into the owned-buffer store;
	// the caller must release it exactly once.
	ResultBuffer ResultKind = 2
)

func (k ResultKind) String() string {
	switch k {
	case ResultNone:
		return "none"
	case ResultValue:
		return "value"
	case ResultBuffer:
		return "buffer"
	default:
		return "unknown"
	}
}

// Response is the fixed-format outcome of one Event. Encoded form:
//
//	event_id u64 | workflow_id u64 | status u32 | error_code u32 |
//	timestamp u64 | result u64 | result_size u64 | result_kind u8 |
//	deck u8 | pad [6]u8
//
// little-endian, 56 bytes total. ErrorCode is meaningful only when Status is
// StatusError. Deck identifies the stage that produced the completion.
type Response struct {
	EventID    uint64
	WorkflowID uint64
	Status     uint32
	ErrorCode  ErrorCode
	Timestamp  uint64
	Result     uint64
	ResultSize uint64
	Kind       ResultKind
	Deck       uint8
}

// MarshalBinary encodes the response into its fixed 56-byte wire form.
func (r *Response) MarshalBinary() []byte {
	buf := make([]byte, ResponseSize)
	binary.LittleEndian.PutUint64(buf[0:8], r.EventID)
	binary.LittleEndian.PutUint64(buf[8:16], r.WorkflowID)
	binary.LittleEndian.PutUint32(buf[16:20], r.Status)
	binary.LittleEndian.PutUint32(buf[20:24], uint32(r.ErrorCode))
	binary.LittleEndian.PutUint64(buf[24:32], r.Timestamp)
	binary.LittleEndian.PutUint64(buf[32:40], r.Result)
	binary.LittleEndian.PutUint64(buf[40:48], r.ResultSize)
	buf[48] = byte(r.Kind)
	buf[49] = r.Deck
	// buf[50:56] is padding, left zero.
	return buf
}

// UnmarshalBinary decodes a fixed 56-byte wire record.
func (r *Response) UnmarshalBinary(data []byte) error {
	if len(data) != ResponseSize {
		return NewErrorf(ErrInvalidParameter, "response record is %d bytes, want %d", len(data), ResponseSize)
	}
	r.EventID = binary.LittleEndian.Uint64(data[0:8])
	r.WorkflowID = binary.LittleEndian.Uint64(data[8:16])
	r.Status = binary.LittleEndian.Uint32(data[16:20])
	r.ErrorCode = ErrorCode(binary.LittleEndian.Uint32(data[20:24]))
	r.Timestamp = binary.LittleEndian.Uint64(data[24:32])
	r.Result = binary.LittleEndian.Uint64(data[32:40])
	r.ResultSize = binary.LittleEndian.Uint64(data[40:48])
	r.Kind = ResultKind(data[48])
	r.Deck = data[49]
	return nil
}
