package journal

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boxos/boxcore/internal/streaming"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	path := "file:" + filepath.Join(t.TempDir(), "journal.db")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	j, err := Open(path, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestAppendAssignsPerWorkflowSequence(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.Append(ctx, streaming.StreamEvent{WorkflowID: 1, EventType: streaming.EventEntrySubmitted}))
	require.NoError(t, j.Append(ctx, streaming.StreamEvent{WorkflowID: 2, EventType: streaming.EventEntrySubmitted}))
	require.NoError(t, j.Append(ctx, streaming.StreamEvent{WorkflowID: 1, EventType: streaming.EventEntryCompleted}))

	events, err := j.Events(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(1), events[0].Sequence)
	assert.Equal(t, int64(2), events[1].Sequence)
	assert.Equal(t, streaming.EventEntrySubmitted, events[0].Type)
	assert.Equal(t, streaming.EventEntryCompleted, events[1].Type)

	other, err := j.Events(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.Equal(t, int64(1), other[0].Sequence, "sequences are per workflow")
}

func TestEventsSinceSkipsConsumed(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, j.Append(ctx, streaming.StreamEvent{WorkflowID: 7, EventType: streaming.EventEntryAdvanced}))
	}

	events, err := j.Events(ctx, 7, 2)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int64(3), events[0].Sequence)
}

func TestPayloadRoundTripsAsJSON(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.Append(ctx, streaming.StreamEvent{
		WorkflowID: 3,
		EventID:    42,
		Deck:       3,
		EventType:  streaming.EventEntryFailed,
		Payload:    map[string]any{"code": "not_found"},
	}))

	events, err := j.Events(ctx, 3, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, uint64(42), events[0].EventID)
	assert.Equal(t, uint8(3), events[0].Deck)
	assert.JSONEq(t, `{"code":"not_found"}`, events[0].Payload)
	assert.Equal(t, j.RunID(), events[0].RunID)
}

func TestAttachPersistsHubEvents(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	hub := streaming.NewMemoryHub()

	stop, err := j.Attach(ctx, hub)
	require.NoError(t, err)

	require.NoError(t, hub.Publish(ctx, streaming.StreamEvent{WorkflowID: 9, EventType: streaming.EventWorkflowStarted}))
	require.NoError(t, hub.Publish(ctx, streaming.StreamEvent{WorkflowID: 9, EventType: streaming.EventWorkflowCompleted}))

	// stop unsubscribes and waits for the writer to drain.
	time.Sleep(50 * time.Millisecond)
	stop()

	events, err := j.Events(ctx, 9, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, streaming.EventWorkflowStarted, events[0].Type)
	assert.Equal(t, streaming.EventWorkflowCompleted, events[1].Type)
}
