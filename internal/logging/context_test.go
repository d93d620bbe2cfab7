package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorrelationHandlerInjectsContextIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewJSONHandler(&buf, nil)))

	ctx := WithDeckID(WithEventID(WithWorkflowID(context.Background(), 42), 7), 3)
	logger.InfoContext(ctx, "processing")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, float64(42), record["workflow_id"])
	assert.Equal(t, float64(7), record["event_id"])
	assert.Equal(t, float64(3), record["deck"])
}

func TestCorrelationHandlerSkipsAbsentIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewJSONHandler(&buf, nil)))

	logger.InfoContext(context.Background(), "no correlation")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.NotContains(t, record, "workflow_id")
	assert.NotContains(t, record, "event_id")
	assert.NotContains(t, record, "deck")
}

func TestContextAccessors(t *testing.T) {
	ctx := context.Background()
	assert.Zero(t, WorkflowID(ctx))
	assert.Zero(t, EventID(ctx))
	assert.Zero(t, DeckID(ctx))

	ctx = WithWorkflowID(ctx, 9)
	assert.Equal(t, uint64(9), WorkflowID(ctx))
}
