package schema

import "encoding/binary"

// Per-operation payload layouts. Every decoder validates declared lengths
// against PayloadSize before touching the bytes; a malformed payload is an
// invalid-parameter error, never an out-of-bounds read.

// MaxDurationMillis caps timer delays and intervals at one hour.
const MaxDurationMillis = 3600000

// TimerCreatePayload is the payload of OpTimerCreate: delay_ms u64 | interval_ms u64.
type TimerCreatePayload struct {
	DelayMillis    uint64
	IntervalMillis uint64
}

// EncodeTimerCreate writes the timer-create layout into a payload region.
func EncodeTimerCreate(p *[PayloadSize]byte, delayMillis, intervalMillis uint64) {
	binary.LittleEndian.PutUint64(p[0:8], delayMillis)
	binary.LittleEndian.PutUint64(p[8:16], intervalMillis)
}

// DecodeTimerCreate reads and validates the timer-create layout.
func DecodeTimerCreate(p *[PayloadSize]byte) (TimerCreatePayload, error) {
	out := TimerCreatePayload{
		DelayMillis:    binary.LittleEndian.Uint64(p[0:8]),
		IntervalMillis: binary.LittleEndian.Uint64(p[8:16]),
	}
	if out.DelayMillis == 0 {
		return out, NewError(ErrInvalidParameter, "timer create: delay is zero")
	}
	if out.DelayMillis > MaxDurationMillis {
		return out, NewError(ErrInvalidParameter, "timer create: delay exceeds 1 hour")
	}
	if out.IntervalMillis > MaxDurationMillis {
		return out, NewError(ErrInvalidParameter, "timer create: interval exceeds 1 hour")
	}
	return out, nil
}

// EncodeTimerID writes a timer identifier (cancel payload).
func EncodeTimerID(p *[PayloadSize]byte, id uint64) {
	binary.LittleEndian.PutUint64(p[0:8], id)
}

// DecodeTimerID reads and validates a timer identifier.
func DecodeTimerID(p *[PayloadSize]byte) (uint64, error) {
	id := binary.LittleEndian.Uint64(p[0:8])
	if id == 0 {
		return 0, NewError(ErrInvalidParameter, "timer cancel: timer ID is zero")
	}
	return id, nil
}

// EncodeTimerSleep writes a sleep duration in milliseconds.
func EncodeTimerSleep(p *[PayloadSize]byte, millis uint64) {
	binary.LittleEndian.PutUint64(p[0:8], millis)
}

// DecodeTimerSleep reads and validates a sleep duration.
func DecodeTimerSleep(p *[PayloadSize]byte) (uint64, error) {
	ms := binary.LittleEndian.Uint64(p[0:8])
	if ms == 0 {
		return 0, NewError(ErrInvalidParameter, "timer sleep: duration is zero")
	}
	if ms > MaxDurationMillis {
		return 0, NewError(ErrInvalidParameter, "timer sleep: duration exceeds 1 hour")
	}
	return ms, nil
}

// EncodeConsoleWrite writes the console-write layout: len u32 | bytes.
// Oversized text is truncated to the payload capacity.
func EncodeConsoleWrite(p *[PayloadSize]byte, text []byte) {
	if len(text) > PayloadSize-4 {
		text = text[:PayloadSize-4]
	}
	binary.LittleEndian.PutUint32(p[0:4], uint32(len(text)))
	copy(p[4:], text)
}

// DecodeConsoleWrite reads and validates the console-write layout.
func DecodeConsoleWrite(p *[PayloadSize]byte) ([]byte, error) {
	size := binary.LittleEndian.Uint32(p[0:4])
	if size == 0 || size > PayloadSize-4 {
		return nil, NewErrorf(ErrInvalidParameter, "console write: invalid size %d", size)
	}
	return p[4 : 4+size], nil
}

// EncodeConsoleWriteAttr writes the console-write-attr layout: attr u8 | len u32 | bytes.
func EncodeConsoleWriteAttr(p *[PayloadSize]byte, attr uint8, text []byte) {
	if len(text) > PayloadSize-5 {
		text = text[:PayloadSize-5]
	}
	p[0] = attr
	binary.LittleEndian.PutUint32(p[1:5], uint32(len(text)))
	copy(p[5:], text)
}

// DecodeConsoleWriteAttr reads and validates the console-write-attr layout.
func DecodeConsoleWriteAttr(p *[PayloadSize]byte) (attr uint8, text []byte, err error) {
	attr = p[0]
	size := binary.LittleEndian.Uint32(p[1:5])
	if size == 0 || size > PayloadSize-5 {
		return 0, nil, NewErrorf(ErrInvalidParameter, "console write attr: invalid size %d", size)
	}
	return attr, p[5 : 5+size], nil
}

// DefaultReadLineMax bounds console line reads.
const DefaultReadLineMax = 256

// EncodeConsoleReadLine writes the console-read-line layout: max u32.
func EncodeConsoleReadLine(p *[PayloadSize]byte, max uint32) {
	binary.LittleEndian.PutUint32(p[0:4], max)
}

// DecodeConsoleReadLine reads the console-read-line layout. Zero or oversized
// maxima clamp to the default rather than erroring, matching the protocol.
func DecodeConsoleReadLine(p *[PayloadSize]byte) uint32 {
	max := binary.LittleEndian.Uint32(p[0:4])
	if max == 0 || max > DefaultReadLineMax {
		return DefaultReadLineMax
	}
	return max
}

// EncodeConsoleSetPos writes the console-set-pos layout: x i32 | y i32.
func EncodeConsoleSetPos(p *[PayloadSize]byte, x, y int32) {
	binary.LittleEndian.PutUint32(p[0:4], uint32(x))
	binary.LittleEndian.PutUint32(p[4:8], uint32(y))
}

// DecodeConsoleSetPos reads the console-set-pos layout.
func DecodeConsoleSetPos(p *[PayloadSize]byte) (x, y int32) {
	return int32(binary.LittleEndian.Uint32(p[0:4])), int32(binary.LittleEndian.Uint32(p[4:8]))
}

// PackCursorPos packs a cursor position into a result value as y<<16 | x.
func PackCursorPos(x, y int32) uint64 {
	return uint64(uint16(y))<<16 | uint64(uint16(x))
}

// DeviceRequest is the decoded payload of the device ops:
// device_id i32 | size u64 | data... for read/write, device_id i32 | command u64 | arg...
// for ioctl, and a NUL-terminated name for open.
type DeviceRequest struct {
	DeviceID int32
	Command  uint64
	Size     uint64
	Data     []byte
}

// MaxDeviceNameLen bounds device names in OpDevOpen payloads.
const MaxDeviceNameLen = 64

// DecodeDevOpen reads and validates a device name.
func DecodeDevOpen(p *[PayloadSize]byte) (string, error) {
	n := 0
	for n < MaxDeviceNameLen && p[n] != 0 {
		n++
	}
	if n == 0 {
		return "", NewError(ErrInvalidParameter, "device open: name is empty")
	}
	if n >= MaxDeviceNameLen {
		return "", NewErrorf(ErrInvalidParameter, "device open: name exceeds %d characters", MaxDeviceNameLen)
	}
	return string(p[:n]), nil
}

// EncodeDevOpen writes a NUL-terminated device name.
func EncodeDevOpen(p *[PayloadSize]byte, name string) {
	if len(name) > MaxDeviceNameLen-1 {
		name = name[:MaxDeviceNameLen-1]
	}
	copy(p[:], name)
	p[len(name)] = 0
}

// EncodeDevIoctl writes the device-ioctl layout.
func EncodeDevIoctl(p *[PayloadSize]byte, deviceID int32, command uint64, arg []byte) {
	binary.LittleEndian.PutUint32(p[0:4], uint32(deviceID))
	binary.LittleEndian.PutUint64(p[4:12], command)
	copy(p[12:], arg)
}

// EncodeDevRead writes the device-read layout.
func EncodeDevRead(p *[PayloadSize]byte, deviceID int32, size uint64) {
	binary.LittleEndian.PutUint32(p[0:4], uint32(deviceID))
	binary.LittleEndian.PutUint64(p[4:12], size)
}

// EncodeDevWrite writes the device-write layout; data is truncated to fit.
func EncodeDevWrite(p *[PayloadSize]byte, deviceID int32, data []byte) {
	if len(data) > PayloadSize-12 {
		data = data[:PayloadSize-12]
	}
	binary.LittleEndian.PutUint32(p[0:4], uint32(deviceID))
	binary.LittleEndian.PutUint64(p[4:12], uint64(len(data)))
	copy(p[12:], data)
}

// DecodeDevIoctl reads the device-ioctl layout: device_id i32 | command u64 | arg bytes.
func DecodeDevIoctl(p *[PayloadSize]byte) (DeviceRequest, error) {
	req := DeviceRequest{
		DeviceID: int32(binary.LittleEndian.Uint32(p[0:4])),
		Command:  binary.LittleEndian.Uint64(p[4:12]),
		Data:     p[12:],
	}
	if req.DeviceID < 0 {
		return req, NewError(ErrInvalidParameter, "device ioctl: invalid device ID")
	}
	return req, nil
}

// DecodeDevRead reads the device-read layout: device_id i32 | size u64.
func DecodeDevRead(p *[PayloadSize]byte) (DeviceRequest, error) {
	req := DeviceRequest{
		DeviceID: int32(binary.LittleEndian.Uint32(p[0:4])),
		Size:     binary.LittleEndian.Uint64(p[4:12]),
	}
	if req.DeviceID < 0 {
		return req, NewError(ErrInvalidParameter, "device read: invalid device ID")
	}
	if req.Size == 0 {
		return req, NewError(ErrInvalidParameter, "device read: size is zero")
	}
	if req.Size > 1<<20 {
		return req, NewError(ErrInvalidParameter, "device read: size exceeds 1MB limit")
	}
	return req, nil
}

// DecodeDevWrite reads the device-write layout: device_id i32 | size u64 | data.
func DecodeDevWrite(p *[PayloadSize]byte) (DeviceRequest, error) {
	req := DeviceRequest{
		DeviceID: int32(binary.LittleEndian.Uint32(p[0:4])),
		Size:     binary.LittleEndian.Uint64(p[4:12]),
	}
	if req.DeviceID < 0 {
		return req, NewError(ErrInvalidParameter, "device write: invalid device ID")
	}
	if req.Size == 0 {
		return req, NewError(ErrInvalidParameter, "device write: size is zero")
	}
	if req.Size > PayloadSize-12 {
		return req, NewError(ErrInvalidParameter, "device write: data exceeds event payload limit")
	}
	req.Data = p[12 : 12+req.Size]
	return req, nil
}

// MaxFileNameLen bounds file names in OpFileOpen and OpFileStat payloads.
const MaxFileNameLen = 64

// EncodeFileName writes a NUL-terminated file name (open, stat).
func EncodeFileName(p *[PayloadSize]byte, name string) {
	if len(name) > MaxFileNameLen-1 {
		name = name[:MaxFileNameLen-1]
	}
	copy(p[:], name)
	p[len(name)] = 0
}

// DecodeFileName reads and validates a NUL-terminated file name.
func DecodeFileName(p *[PayloadSize]byte) (string, error) {
	n := 0
	for n < MaxFileNameLen && p[n] != 0 {
		n++
	}
	if n == 0 {
		return "", NewError(ErrInvalidParameter, "file op: name is empty")
	}
	if n >= MaxFileNameLen {
		return "", NewErrorf(ErrInvalidParameter, "file op: name exceeds %d characters", MaxFileNameLen)
	}
	return string(p[:n]), nil
}

// EncodeFileHandle writes a file handle (close payload).
func EncodeFileHandle(p *[PayloadSize]byte, handle uint64) {
	binary.LittleEndian.PutUint64(p[0:8], handle)
}

// DecodeFileHandle reads and validates a file handle.
func DecodeFileHandle(p *[PayloadSize]byte) (uint64, error) {
	h := binary.LittleEndian.Uint64(p[0:8])
	if h == 0 {
		return 0, NewError(ErrInvalidParameter, "file op: handle is zero")
	}
	return h, nil
}

// EncodeFileRead writes the file-read layout: handle u64 | size u64.
func EncodeFileRead(p *[PayloadSize]byte, handle, size uint64) {
	binary.LittleEndian.PutUint64(p[0:8], handle)
	binary.LittleEndian.PutUint64(p[8:16], size)
}

// DecodeFileRead reads and validates the file-read layout.
func DecodeFileRead(p *[PayloadSize]byte) (handle, size uint64, err error) {
	handle = binary.LittleEndian.Uint64(p[0:8])
	size = binary.LittleEndian.Uint64(p[8:16])
	if handle == 0 {
		return 0, 0, NewError(ErrInvalidParameter, "file read: handle is zero")
	}
	if size == 0 {
		return 0, 0, NewError(ErrInvalidParameter, "file read: size is zero")
	}
	if size > 1<<20 {
		return 0, 0, NewError(ErrInvalidParameter, "file read: size exceeds 1MB limit")
	}
	return handle, size, nil
}

// EncodeFileWrite writes the file-write layout: handle u64 | size u64 | data.
// Data is truncated to fit the payload.
func EncodeFileWrite(p *[PayloadSize]byte, handle uint64, data []byte) {
	if len(data) > PayloadSize-16 {
		data = data[:PayloadSize-16]
	}
	binary.LittleEndian.PutUint64(p[0:8], handle)
	binary.LittleEndian.PutUint64(p[8:16], uint64(len(data)))
	copy(p[16:], data)
}

// DecodeFileWrite reads and validates the file-write layout.
func DecodeFileWrite(p *[PayloadSize]byte) (handle uint64, data []byte, err error) {
	handle = binary.LittleEndian.Uint64(p[0:8])
	size := binary.LittleEndian.Uint64(p[8:16])
	if handle == 0 {
		return 0, nil, NewError(ErrInvalidParameter, "file write: handle is zero")
	}
	if size == 0 {
		return 0, nil, NewError(ErrInvalidParameter, "file write: size is zero")
	}
	if size > PayloadSize-16 {
		return 0, nil, NewError(ErrInvalidParameter, "file write: data exceeds event payload limit")
	}
	return handle, p[16 : 16+size], nil
}
