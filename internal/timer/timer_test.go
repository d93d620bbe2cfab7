package timer

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boxos/boxcore/internal/clock"
	"github.com/boxos/boxcore/internal/router"
	"github.com/boxos/boxcore/pkg/schema"
)

type mockResumer struct {
	resumed []router.Ref
	err     error
}

func (m *mockResumer) Resume(_ context.Context, ref router.Ref) error {
	if m.err != nil {
		return m.err
	}
	m.resumed = append(m.resumed, ref)
	return nil
}

func newTestTable(t *testing.T) (*Table, *mockResumer, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	res := &mockResumer{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewTable(clk, res, logger, nil), res, clk
}

func TestOneShotFiresOnceAfterDelay(t *testing.T) {
	tbl, _, clk := newTestTable(t)
	ctx := context.Background()

	id, err := tbl.Create(ctx, 100, 0, 1, nil)
	require.NoError(t, err)

	clk.Advance(99)
	assert.Equal(t, 0, tbl.Sweep(ctx), "must not fire before the delay elapses")

	clk.Advance(1)
	assert.Equal(t, 1, tbl.Sweep(ctx))
	assert.False(t, tbl.Active(id), "one-shot deactivates after firing")
	assert.Equal(t, 0, tbl.Sweep(ctx), "never fires twice")
}

func TestPeriodicReschedules(t *testing.T) {
	tbl, _, clk := newTestTable(t)
	ctx := context.Background()

	id, err := tbl.Create(ctx, 10, 10, 1, nil)
	require.NoError(t, err)

	clk.Advance(10)
	assert.Equal(t, 1, tbl.Sweep(ctx))
	assert.True(t, tbl.Active(id), "periodic stays active")

	clk.Advance(10)
	assert.Equal(t, 1, tbl.Sweep(ctx))
}

func TestCreateRejectsZeroDelay(t *testing.T) {
	tbl, _, _ := newTestTable(t)
	_, err := tbl.Create(context.Background(), 0, 0, 1, nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrInvalidParameter, schema.CodeOf(err))
}

func TestTableExhaustion(t *testing.T) {
	tbl, _, _ := newTestTable(t)
	ctx := context.Background()

	for i := 0; i < DefaultCapacity; i++ {
		_, err := tbl.Create(ctx, 1000, 0, 1, nil)
		require.NoError(t, err)
	}
	_, err := tbl.Create(ctx, 1000, 0, 1, nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrResourceExhausted, schema.CodeOf(err))
}

func TestCancelUnknownIDLeavesTableUntouched(t *testing.T) {
	tbl, _, clk := newTestTable(t)
	ctx := context.Background()

	id, err := tbl.Create(ctx, 50, 0, 1, nil)
	require.NoError(t, err)

	_, err = tbl.Cancel(ctx, id+42)
	require.Error(t, err)
	assert.Equal(t, schema.ErrNotFound, schema.CodeOf(err))

	clk.Advance(50)
	assert.Equal(t, 1, tbl.Sweep(ctx), "existing timer still fires normally")
}

func TestCancelledTimerNeverFires(t *testing.T) {
	tbl, _, clk := newTestTable(t)
	ctx := context.Background()

	id, err := tbl.Create(ctx, 50, 0, 1, nil)
	require.NoError(t, err)

	orphaned, err := tbl.Cancel(ctx, id)
	require.NoError(t, err)
	assert.False(t, orphaned)

	clk.Advance(100)
	assert.Equal(t, 0, tbl.Sweep(ctx))
}

func TestLinkedTimerResumesEntry(t *testing.T) {
	tbl, res, clk := newTestTable(t)
	ctx := context.Background()

	ref := router.Ref{Slot: 3, Gen: 7}
	_, err := tbl.Create(ctx, 20, 0, 1, &ref)
	require.NoError(t, err)

	clk.Advance(20)
	assert.Equal(t, 1, tbl.Sweep(ctx))
	require.Len(t, res.resumed, 1)
	assert.Equal(t, ref, res.resumed[0])
}

func TestCancelLinkedTimerOrphansEntry(t *testing.T) {
	tbl, res, clk := newTestTable(t)
	ctx := context.Background()

	ref := router.Ref{Slot: 1, Gen: 1}
	id, err := tbl.Create(ctx, 20, 0, 1, &ref)
	require.NoError(t, err)

	orphaned, err := tbl.Cancel(ctx, id)
	require.NoError(t, err)
	assert.True(t, orphaned, "caller must learn a suspended entry was left behind")

	clk.Advance(100)
	tbl.Sweep(ctx)
	assert.Empty(t, res.resumed, "cancellation is not resumption")
}

func TestRejectedResumeRetriesNextSweep(t *testing.T) {
	tbl, res, clk := newTestTable(t)
	ctx := context.Background()

	ref := router.Ref{Slot: 0, Gen: 2}
	id, err := tbl.Create(ctx, 10, 0, 1, &ref)
	require.NoError(t, err)

	res.err = schema.NewError(schema.ErrResourceExhausted, "deck queue is full")
	clk.Advance(10)
	assert.Equal(t, 0, tbl.Sweep(ctx))
	assert.True(t, tbl.Active(id), "slot stays live until the resume lands")

	res.err = nil
	assert.Equal(t, 1, tbl.Sweep(ctx))
	require.Len(t, res.resumed, 1)
	assert.False(t, tbl.Active(id))
}

func TestSlotReuseAfterExpiry(t *testing.T) {
	tbl, _, clk := newTestTable(t)
	ctx := context.Background()

	for i := 0; i < DefaultCapacity; i++ {
		_, err := tbl.Create(ctx, 5, 0, 1, nil)
		require.NoError(t, err)
	}
	clk.Advance(5)
	assert.Equal(t, DefaultCapacity, tbl.Sweep(ctx))
	assert.Equal(t, 0, tbl.ActiveCount())

	_, err := tbl.Create(ctx, 5, 0, 1, nil)
	require.NoError(t, err, "expired slots are reusable")
}
