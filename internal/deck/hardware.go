package deck

import (
	"context"
	"log/slog"

	"github.com/boxos/boxcore/internal/clock"
	"github.com/boxos/boxcore/internal/router"
	"github.com/boxos/boxcore/internal/timer"
	"github.com/boxos/boxcore/pkg/schema"
)

// VGADefaultAttr is the light-grey-on-black text attribute.
const VGADefaultAttr uint8 = 0x07

// Console is the text output surface the hardware deck drives.
type Console interface {
	Write(text []byte, attr uint8)
	Clear()
	SetCursor(x, y int32)
	Cursor() (x, y int32)
}

// Keyboard is the input source. ReadChar is non-blocking; ReadLine blocks
// in the backing collaborator until a full line is available.
type Keyboard interface {
	ReadChar() (byte, bool)
	ReadLine(max int) []byte
}

// Device is the raw device access backend.
type Device interface {
	Open(name string) (int32, error)
	Ioctl(id int32, command uint64, arg []byte) error
	Read(id int32, size uint64) ([]byte, error)
	Write(id int32, data []byte) (uint64, error)
}

// Hardware holds the backends for the hardware deck's operation ranges:
// devices (40-49), timers (50-59), console (70-79). Nil backends make their
// range answer not-implemented.
type Hardware struct {
	rt       *router.Router
	timers   *timer.Table
	clock    clock.Clock
	console  Console
	keyboard Keyboard
	devices  Device
	logger   *slog.Logger
}

// NewHardware creates the hardware deck backend set.
func NewHardware(rt *router.Router, timers *timer.Table, clk clock.Clock, console Console, keyboard Keyboard, devices Device, logger *slog.Logger) *Hardware {
	return &Hardware{
		rt:       rt,
		timers:   timers,
		clock:    clk,
		console:  console,
		keyboard: keyboard,
		devices:  devices,
		logger:   logger,
	}
}

// Deck builds the hardware processing stage around this backend set.
func (h *Hardware) Deck(opts ...Option) *Deck {
	return New("hardware", schema.DeckHardware,
		schema.HardwareRangeMin, schema.HardwareRangeMax,
		h.rt, h.logger, h.Process, opts...)
}

// Process dispatches one hardware operation.
func (h *Hardware) Process(ctx context.Context, e *router.Entry) error {
	switch e.Event.Type {
	case schema.OpConsoleWrite:
		return h.consoleWrite(ctx, e)
	case schema.OpConsoleWriteAttr:
		return h.consoleWriteAttr(ctx, e)
	case schema.OpConsoleReadLine:
		return h.consoleReadLine(ctx, e)
	case schema.OpConsoleReadChar:
		return h.consoleReadChar(ctx, e)
	case schema.OpConsoleClear:
		return h.consoleClear(ctx, e)
	case schema.OpConsoleSetPos:
		return h.consoleSetPos(ctx, e)
	case schema.OpConsoleGetPos:
		return h.consoleGetPos(ctx, e)
	case schema.OpTimerCreate:
		return h.timerCreate(ctx, e)
	case schema.OpTimerCancel:
		return h.timerCancel(ctx, e)
	case schema.OpTimerSleep:
		return h.timerSleep(ctx, e)
	case schema.OpTimerGetTicks:
		return h.rt.Complete(ctx, e, schema.DeckHardware, h.clock.Ticks(), schema.ResultValue, 8)
	case schema.OpDevOpen:
		return h.devOpen(ctx, e)
	case schema.OpDevIoctl:
		return h.devIoctl(ctx, e)
	case schema.OpDevRead:
		return h.devRead(ctx, e)
	case schema.OpDevWrite:
		return h.devWrite(ctx, e)
	default:
		return schema.NewErrorf(schema.ErrNotImplemented,
			"unsupported hardware operation %d", e.Event.Type)
	}
}

func (h *Hardware) consoleWrite(ctx context.Context, e *router.Entry) error {
	if h.console == nil {
		return schema.NewError(schema.ErrNotImplemented, "no console backend")
	}
	text, err := schema.DecodeConsoleWrite(&e.Event.Payload)
	if err != nil {
		return err
	}
	h.console.Write(text, VGADefaultAttr)
	return h.rt.Complete(ctx, e, schema.DeckHardware, uint64(len(text)), schema.ResultValue, 8)
}

func (h *Hardware) consoleWriteAttr(ctx context.Context, e *router.Entry) error {
	if h.console == nil {
		return schema.NewError(schema.ErrNotImplemented, "no console backend")
	}
	attr, text, err := schema.DecodeConsoleWriteAttr(&e.Event.Payload)
	if err != nil {
		return err
	}
	h.console.Write(text, attr)
	return h.rt.Complete(ctx, e, schema.DeckHardware, uint64(len(text)), schema.ResultValue, 8)
}

// consoleReadLine completes with an owned buffer: the line lives in the
// buffer store until the caller releases the returned handle.
func (h *Hardware) consoleReadLine(ctx context.Context, e *router.Entry) error {
	if h.keyboard == nil {
		return schema.NewError(schema.ErrNotImplemented, "no keyboard backend")
	}
	max := schema.DecodeConsoleReadLine(&e.Event.Payload)
	line := h.keyboard.ReadLine(int(max))
	handle := h.rt.Buffers().Put(line)
	return h.rt.Complete(ctx, e, schema.DeckHardware, handle, schema.ResultBuffer, uint64(len(line)))
}

func (h *Hardware) consoleReadChar(ctx context.Context, e *router.Entry) error {
	if h.keyboard == nil {
		return schema.NewError(schema.ErrNotImplemented, "no keyboard backend")
	}
	c, ok := h.keyboard.ReadChar()
	if !ok {
		// No pending input: a zero-size value completion, not an error.
		return h.rt.Complete(ctx, e, schema.DeckHardware, 0, schema.ResultValue, 0)
	}
	return h.rt.Complete(ctx, e, schema.DeckHardware, uint64(c), schema.ResultValue, 1)
}

func (h *Hardware) consoleClear(ctx context.Context, e *router.Entry) error {
	if h.console == nil {
		return schema.NewError(schema.ErrNotImplemented, "no console backend")
	}
	h.console.Clear()
	return h.rt.Complete(ctx, e, schema.DeckHardware, 0, schema.ResultNone, 0)
}

func (h *Hardware) consoleSetPos(ctx context.Context, e *router.Entry) error {
	if h.console == nil {
		return schema.NewError(schema.ErrNotImplemented, "no console backend")
	}
	x, y := schema.DecodeConsoleSetPos(&e.Event.Payload)
	h.console.SetCursor(x, y)
	return h.rt.Complete(ctx, e, schema.DeckHardware, 0, schema.ResultNone, 0)
}

func (h *Hardware) consoleGetPos(ctx context.Context, e *router.Entry) error {
	if h.console == nil {
		return schema.NewError(schema.ErrNotImplemented, "no console backend")
	}
	x, y := h.console.Cursor()
	return h.rt.Complete(ctx, e, schema.DeckHardware, schema.PackCursorPos(x, y), schema.ResultValue, 4)
}

func (h *Hardware) timerCreate(ctx context.Context, e *router.Entry) error {
	req, err := schema.DecodeTimerCreate(&e.Event.Payload)
	if err != nil {
		return err
	}
	id, err := h.timers.Create(ctx, req.DelayMillis, req.IntervalMillis, e.Event.WorkflowID, nil)
	if err != nil {
		return err
	}
	return h.rt.Complete(ctx, e, schema.DeckHardware, id, schema.ResultValue, 8)
}

// timerCancel completes with 1 when the cancelled timer had a suspended entry
// linked to it, so the caller knows something was orphaned.
func (h *Hardware) timerCancel(ctx context.Context, e *router.Entry) error {
	id, err := schema.DecodeTimerID(&e.Event.Payload)
	if err != nil {
		return err
	}
	orphaned, err := h.timers.Cancel(ctx, id)
	if err != nil {
		return err
	}
	var v uint64
	if orphaned {
		v = 1
	}
	return h.rt.Complete(ctx, e, schema.DeckHardware, v, schema.ResultValue, 8)
}

// timerSleep parks the entry against a one-shot timer instead of blocking.
// The first pass suspends; the timer sweep resumes the entry with its wake
// flag set, and the second pass through here completes it. No path waits.
func (h *Hardware) timerSleep(ctx context.Context, e *router.Entry) error {
	if e.Resumed {
		return h.rt.Complete(ctx, e, schema.DeckHardware, 0, schema.ResultNone, 0)
	}
	ms, err := schema.DecodeTimerSleep(&e.Event.Payload)
	if err != nil {
		return err
	}
	ref := h.rt.Ref(e)
	id, err := h.timers.Create(ctx, ms, 0, e.Event.WorkflowID, &ref)
	if err != nil {
		return err
	}
	if err := h.rt.Suspend(ctx, e); err != nil {
		_, _ = h.timers.Cancel(ctx, id)
		return err
	}
	return nil
}

func (h *Hardware) devOpen(ctx context.Context, e *router.Entry) error {
	if h.devices == nil {
		return schema.NewError(schema.ErrNotImplemented, "no device backend")
	}
	name, err := schema.DecodeDevOpen(&e.Event.Payload)
	if err != nil {
		return err
	}
	id, err := h.devices.Open(name)
	if err != nil {
		return err
	}
	return h.rt.Complete(ctx, e, schema.DeckHardware, uint64(uint32(id)), schema.ResultValue, 4)
}

func (h *Hardware) devIoctl(ctx context.Context, e *router.Entry) error {
	if h.devices == nil {
		return schema.NewError(schema.ErrNotImplemented, "no device backend")
	}
	req, err := schema.DecodeDevIoctl(&e.Event.Payload)
	if err != nil {
		return err
	}
	if err := h.devices.Ioctl(req.DeviceID, req.Command, req.Data); err != nil {
		return err
	}
	return h.rt.Complete(ctx, e, schema.DeckHardware, 0, schema.ResultNone, 0)
}

func (h *Hardware) devRead(ctx context.Context, e *router.Entry) error {
	if h.devices == nil {
		return schema.NewError(schema.ErrNotImplemented, "no device backend")
	}
	req, err := schema.DecodeDevRead(&e.Event.Payload)
	if err != nil {
		return err
	}
	data, err := h.devices.Read(req.DeviceID, req.Size)
	if err != nil {
		return err
	}
	handle := h.rt.Buffers().Put(data)
	return h.rt.Complete(ctx, e, schema.DeckHardware, handle, schema.ResultBuffer, uint64(len(data)))
}

func (h *Hardware) devWrite(ctx context.Context, e *router.Entry) error {
	if h.devices == nil {
		return schema.NewError(schema.ErrNotImplemented, "no device backend")
	}
	req, err := schema.DecodeDevWrite(&e.Event.Payload)
	if err != nil {
		return err
	}
	n, err := h.devices.Write(req.DeviceID, req.Data)
	if err != nil {
		return err
	}
	return h.rt.Complete(ctx, e, schema.DeckHardware, n, schema.ResultValue, 8)
}
