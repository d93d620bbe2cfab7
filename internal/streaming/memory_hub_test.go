package streaming

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch1, cancel1, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel1()
	ch2, cancel2, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel2()

	require.NoError(t, hub.Publish(ctx, StreamEvent{WorkflowID: 1, EventType: EventEntryCompleted}))

	assert.Equal(t, EventEntryCompleted, (<-ch1).EventType)
	assert.Equal(t, EventEntryCompleted, (<-ch2).EventType)
}

func TestFilterByWorkflowAndType(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{
		WorkflowID: 7,
		EventTypes: []string{EventEntryFailed},
	})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, StreamEvent{WorkflowID: 7, EventType: EventEntryCompleted}))
	require.NoError(t, hub.Publish(ctx, StreamEvent{WorkflowID: 8, EventType: EventEntryFailed}))
	require.NoError(t, hub.Publish(ctx, StreamEvent{WorkflowID: 7, EventType: EventEntryFailed}))

	got := <-ch
	assert.Equal(t, uint64(7), got.WorkflowID)
	assert.Equal(t, EventEntryFailed, got.EventType)
	assert.Empty(t, ch, "filtered events never arrive")
}

func TestCancelClosesChannel(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)

	require.NoError(t, hub.Publish(ctx, StreamEvent{WorkflowID: 1, EventType: EventEntrySubmitted}))
	cancel()
	cancel() // idempotent

	// Buffered event still drains, then the closed channel ends the range.
	var got []StreamEvent
	for ev := range ch {
		got = append(got, ev)
	}
	require.Len(t, got, 1)

	// Publishing after cancel must not panic or deliver.
	require.NoError(t, hub.Publish(ctx, StreamEvent{WorkflowID: 1, EventType: EventEntrySubmitted}))
}

func TestSlowSubscriberDropsNotBlocks(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	for i := 0; i < defaultChannelBuffer+10; i++ {
		require.NoError(t, hub.Publish(ctx, StreamEvent{WorkflowID: 1, EventType: EventEntrySubmitted}))
	}
	assert.Len(t, ch, defaultChannelBuffer, "overflow is dropped, never blocked on")
}

func TestSubscribeRejectsCancelledContext(t *testing.T) {
	hub := NewMemoryHub()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := hub.Subscribe(ctx, EventFilter{})
	require.Error(t, err)
	require.Error(t, hub.Publish(ctx, StreamEvent{}))
}
