package client

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boxos/boxcore/internal/clock"
	"github.com/boxos/boxcore/internal/deck"
	"github.com/boxos/boxcore/internal/machine"
	"github.com/boxos/boxcore/internal/router"
	"github.com/boxos/boxcore/internal/timer"
	"github.com/boxos/boxcore/internal/transport"
	"github.com/boxos/boxcore/pkg/schema"
)

type recordingConsole struct {
	out []byte
}

func (c *recordingConsole) Write(text []byte, _ uint8) { c.out = append(c.out, text...) }
func (c *recordingConsole) Clear()                     { c.out = nil }
func (c *recordingConsole) SetCursor(int32, int32)     {}
func (c *recordingConsole) Cursor() (int32, int32)     { return 0, 0 }

type scriptedKeyboard struct {
	line []byte
}

func (k *scriptedKeyboard) ReadChar() (byte, bool) { return 0, false }
func (k *scriptedKeyboard) ReadLine(max int) []byte {
	if len(k.line) > max {
		return k.line[:max]
	}
	return k.line
}

// newTestClient wires a real machine behind the rings. The monotonic clock
// lets sleep deadlines pass in real time.
func newTestClient(t *testing.T) (*Client, *recordingConsole, *scriptedKeyboard, *router.Router) {
	t.Helper()
	clk := clock.NewMonotonic()
	in := transport.NewEventRing()
	out := transport.NewResponseRing()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	rt := router.New(clk, out, logger)
	timers := timer.NewTable(clk, rt, logger, nil)
	console := &recordingConsole{}
	keyboard := &scriptedKeyboard{}

	reg := deck.NewRegistry(logger)
	hw := deck.NewHardware(rt, timers, clk, console, keyboard, nil, logger)
	require.NoError(t, reg.Register(hw.Deck()))
	rt.SetDispatcher(reg)

	m := machine.New(in, out, rt, reg, timers, logger)
	c := New(in, out, m, rt.Buffers(), 1, logger)
	return c, console, keyboard, rt
}

func TestWriteStringRoundTrip(t *testing.T) {
	c, console, _, _ := newTestClient(t)

	n, err := c.WriteString(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), n)
	assert.Equal(t, "hello", string(console.out))
}

func TestSleepBlocksForDuration(t *testing.T) {
	c, _, _, _ := newTestClient(t)
	ctx := context.Background()

	before, err := c.Ticks(ctx)
	require.NoError(t, err)
	require.NoError(t, c.Sleep(ctx, 5))
	after, err := c.Ticks(ctx)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, after-before, uint64(5), "sleep returns no earlier than its deadline")
}

func TestReadLineReleasesOwnedBuffer(t *testing.T) {
	c, _, keyboard, rt := newTestClient(t)
	keyboard.line = []byte("typed")

	line, err := c.ReadLine(context.Background(), 64)
	require.NoError(t, err)
	assert.Equal(t, "typed", string(line))
	assert.Equal(t, 0, rt.Buffers().Len(), "handle released after copy-out")
}

func TestTimerCreateCancel(t *testing.T) {
	c, _, _, _ := newTestClient(t)
	ctx := context.Background()

	id, err := c.CreateTimer(ctx, 60000, 0)
	require.NoError(t, err)
	require.NotZero(t, id)

	orphaned, err := c.CancelTimer(ctx, id)
	require.NoError(t, err)
	assert.False(t, orphaned)

	_, err = c.CancelTimer(ctx, id)
	require.Error(t, err)
	assert.Equal(t, schema.ErrNotFound, schema.CodeOf(err))
}

func TestUnsupportedOperationSurfacesErrorCode(t *testing.T) {
	c, _, _, _ := newTestClient(t)

	resp, err := c.Call(context.Background(), 60, []uint8{schema.DeckHardware}, nil)
	require.NoError(t, err, "transport succeeds; the operation itself failed")
	assert.Equal(t, schema.StatusError, resp.Status)
	assert.Equal(t, schema.ErrNotImplemented, resp.ErrorCode)
}

func TestSubmitRetriesFullRing(t *testing.T) {
	c, _, _, _ := newTestClient(t)
	ctx := context.Background()

	// Stuff the event ring to capacity so the first push is rejected.
	for i := 0; i < transport.DefaultCapacity; i++ {
		ev := schema.Event{ID: uint64(1000 + i), WorkflowID: 1, Type: schema.OpConsoleClear}
		ev.Route[0] = schema.DeckHardware
		require.NoError(t, c.events.Push(ev))
	}

	id, err := c.Submit(ctx, schema.OpConsoleClear, []uint8{schema.DeckHardware}, nil)
	require.NoError(t, err, "backpressure resolves after the kernel drains")
	require.NotZero(t, id)
}

func TestExitStopsSubmissions(t *testing.T) {
	c, console, _, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Exit(ctx))
	id, err := c.Submit(ctx, schema.OpConsoleWrite, []uint8{schema.DeckHardware}, func(p *[schema.PayloadSize]byte) {
		schema.EncodeConsoleWrite(p, []byte("hi"))
	})
	require.NoError(t, err)

	resp, err := c.Await(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, schema.StatusError, resp.Status)
	assert.Empty(t, console.out)
}

func TestComputeBackoff(t *testing.T) {
	constant := RetryPolicy{Delay: 2 * time.Millisecond, Backoff: "constant"}
	assert.Equal(t, 2*time.Millisecond, ComputeBackoff(constant, 0))
	assert.Equal(t, 2*time.Millisecond, ComputeBackoff(constant, 3))

	linear := RetryPolicy{Delay: 2 * time.Millisecond, Backoff: "linear"}
	assert.Equal(t, 2*time.Millisecond, ComputeBackoff(linear, 0))
	assert.Equal(t, 8*time.Millisecond, ComputeBackoff(linear, 3))

	exp := RetryPolicy{Delay: time.Millisecond, Backoff: "exponential"}
	assert.Equal(t, 8*time.Millisecond, ComputeBackoff(exp, 3))

	capped := RetryPolicy{Delay: time.Millisecond, Backoff: "exponential", MaxDelay: 4 * time.Millisecond}
	assert.Equal(t, 4*time.Millisecond, ComputeBackoff(capped, 10))

	assert.Equal(t, time.Duration(0), ComputeBackoff(RetryPolicy{}, 1))
}
