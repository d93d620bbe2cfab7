package deck

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boxos/boxcore/internal/clock"
	"github.com/boxos/boxcore/internal/router"
	"github.com/boxos/boxcore/internal/transport"
	"github.com/boxos/boxcore/pkg/schema"
)

type flakyHandler struct {
	rt    *router.Router
	fail  bool
	calls int
}

func (h *flakyHandler) process(ctx context.Context, e *router.Entry) error {
	h.calls++
	if h.fail {
		return schema.NewError(schema.ErrIO, "backend unavailable")
	}
	return h.rt.Complete(ctx, e, schema.DeckHardware, 0, schema.ResultNone, 0)
}

func newBreakerFixture(t *testing.T, threshold int, cooldown uint64) (*Deck, *flakyHandler, *router.Router, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	out := transport.NewResponseRing()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rt := router.New(clk, out, logger)
	h := &flakyHandler{rt: rt}
	d := New("hardware", schema.DeckHardware,
		schema.HardwareRangeMin, schema.HardwareRangeMax, rt, logger, h.process,
		WithBreaker(NewBreaker(clk, threshold, cooldown)))
	reg := NewRegistry(logger)
	require.NoError(t, reg.Register(d))
	rt.SetDispatcher(reg)
	return d, h, rt, clk
}

func runOne(t *testing.T, d *Deck, rt *router.Router, id uint64) {
	t.Helper()
	ev := hardwareEvent(id, schema.OpConsoleClear)
	_, err := rt.Submit(context.Background(), ev)
	require.NoError(t, err)
	require.True(t, d.RunOnce(context.Background()))
}

func TestBreakerOpensAfterConsecutiveInfraFailures(t *testing.T) {
	d, h, rt, _ := newBreakerFixture(t, 3, 100)
	h.fail = true

	for i := uint64(1); i <= 3; i++ {
		runOne(t, d, rt, i)
	}
	assert.Equal(t, 3, h.calls)

	// Circuit is open: the next entry fast-fails without reaching the handler.
	runOne(t, d, rt, 4)
	assert.Equal(t, 3, h.calls)
}

func TestBreakerHalfOpenProbeRecovers(t *testing.T) {
	d, h, rt, clk := newBreakerFixture(t, 2, 50)
	h.fail = true
	runOne(t, d, rt, 1)
	runOne(t, d, rt, 2)

	clk.Advance(50)
	h.fail = false

	// First entry after the cooldown probes the handler and closes the circuit.
	runOne(t, d, rt, 3)
	assert.Equal(t, 3, h.calls)
	runOne(t, d, rt, 4)
	assert.Equal(t, 4, h.calls)
}

func TestBreakerHalfOpenProbeFailureReopens(t *testing.T) {
	d, h, rt, clk := newBreakerFixture(t, 2, 50)
	h.fail = true
	runOne(t, d, rt, 1)
	runOne(t, d, rt, 2)

	clk.Advance(50)
	runOne(t, d, rt, 3) // probe fails
	assert.Equal(t, 3, h.calls)

	runOne(t, d, rt, 4) // circuit re-opened, handler skipped
	assert.Equal(t, 3, h.calls)
}

func TestBreakerIgnoresCallerMistakes(t *testing.T) {
	clk := clock.NewMock()
	out := transport.NewResponseRing()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rt := router.New(clk, out, logger)
	calls := 0
	d := New("hardware", schema.DeckHardware,
		schema.HardwareRangeMin, schema.HardwareRangeMax, rt, logger,
		func(ctx context.Context, e *router.Entry) error {
			calls++
			return schema.NewError(schema.ErrInvalidParameter, "bad payload")
		},
		WithBreaker(NewBreaker(clk, 2, 100)))
	reg := NewRegistry(logger)
	require.NoError(t, reg.Register(d))
	rt.SetDispatcher(reg)

	for i := uint64(1); i <= 5; i++ {
		runOne(t, d, rt, i)
	}
	assert.Equal(t, 5, calls, "invalid parameters never trip the circuit")
}
