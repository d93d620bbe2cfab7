package workflow

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boxos/boxcore/internal/router"
	"github.com/boxos/boxcore/pkg/schema"
)

// mockSubmitter records submitted events; completions are driven manually.
type mockSubmitter struct {
	events []schema.Event
	reject bool
}

func (m *mockSubmitter) Submit(_ context.Context, ev schema.Event) (*router.Entry, error) {
	if m.reject {
		return nil, schema.NewError(schema.ErrResourceExhausted, "entry pool is full")
	}
	m.events = append(m.events, ev)
	return nil, nil
}

func (m *mockSubmitter) last() schema.Event {
	return m.events[len(m.events)-1]
}

func newTestEngine(t *testing.T) (*Engine, *mockSubmitter) {
	t.Helper()
	sub := &mockSubmitter{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEngine(sub, logger, nil), sub
}

func route() []uint8 { return []uint8{schema.DeckHardware} }

func twoNodeChain() []NodeTemplate {
	return []NodeTemplate{
		{Name: "a", Type: schema.OpConsoleClear},
		{Name: "b", Type: schema.OpConsoleClear, DependsOn: []int{0}},
	}
}

func TestRegisterRejectsBadGraphs(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		nodes []NodeTemplate
	}{
		{"self-dependency", []NodeTemplate{{Name: "a", DependsOn: []int{0}}}},
		{"out-of-range edge", []NodeTemplate{{Name: "a", DependsOn: []int{5}}}},
		{"duplicate edge", []NodeTemplate{
			{Name: "a"},
			{Name: "b", DependsOn: []int{0, 0}},
		}},
		{"cycle", []NodeTemplate{
			{Name: "a", DependsOn: []int{1}},
			{Name: "b", DependsOn: []int{0}},
		}},
		{"empty", nil},
		{"bad guard", []NodeTemplate{{Name: "a", Guard: "not ( valid"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.Register(ctx, "wf-"+tc.name, route(), tc.nodes)
			require.Error(t, err)
			assert.Equal(t, schema.ErrInvalidParameter, schema.CodeOf(err))
		})
	}
}

func TestRegisterRejectsDuplicateName(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Register(ctx, "dup", route(), twoNodeChain())
	require.NoError(t, err)
	_, err = e.Register(ctx, "dup", route(), twoNodeChain())
	require.Error(t, err)
}

func TestDependentSubmitsAfterPrerequisiteCompletes(t *testing.T) {
	e, sub := newTestEngine(t)
	ctx := context.Background()

	id, err := e.Register(ctx, "chain", route(), twoNodeChain())
	require.NoError(t, err)
	require.NoError(t, e.Start(ctx, id))

	// Only the root has been submitted.
	require.Len(t, sub.events, 1)
	aEvent := sub.last()
	assert.Equal(t, id, aEvent.WorkflowID)

	e.OnCompletion(ctx, id, aEvent.ID, true)
	require.Len(t, sub.events, 2, "completing A submits B")

	e.OnCompletion(ctx, id, sub.last().ID, true)
	snap, err := e.Status(id)
	require.NoError(t, err)
	assert.True(t, snap.Done)
	assert.False(t, snap.Failed)
	assert.Equal(t, NodeCompleted, snap.Nodes[0])
	assert.Equal(t, NodeCompleted, snap.Nodes[1])
}

func TestReadinessCountsAllPrerequisites(t *testing.T) {
	e, sub := newTestEngine(t)
	ctx := context.Background()

	// c waits on both a and b; completion order must not matter.
	nodes := []NodeTemplate{
		{Name: "a", Type: schema.OpConsoleClear},
		{Name: "b", Type: schema.OpConsoleClear},
		{Name: "c", Type: schema.OpConsoleClear, DependsOn: []int{0, 1}},
	}
	id, err := e.Register(ctx, "fanin", route(), nodes)
	require.NoError(t, err)
	require.NoError(t, e.Start(ctx, id))
	require.Len(t, sub.events, 2)

	bEvent := sub.events[1]
	e.OnCompletion(ctx, id, bEvent.ID, true)
	require.Len(t, sub.events, 2, "one of two prerequisites is not enough")

	aEvent := sub.events[0]
	e.OnCompletion(ctx, id, aEvent.ID, true)
	require.Len(t, sub.events, 3, "second prerequisite readies the dependent")
}

func TestNodeFailureHaltsDependents(t *testing.T) {
	e, sub := newTestEngine(t)
	ctx := context.Background()

	nodes := []NodeTemplate{
		{Name: "a", Type: schema.OpConsoleClear},
		{Name: "b", Type: schema.OpConsoleClear, DependsOn: []int{0}},
		{Name: "c", Type: schema.OpConsoleClear, DependsOn: []int{1}},
	}
	id, err := e.Register(ctx, "halting", route(), nodes)
	require.NoError(t, err)
	require.NoError(t, e.Start(ctx, id))

	e.OnCompletion(ctx, id, sub.last().ID, false)

	snap, err := e.Status(id)
	require.NoError(t, err)
	assert.True(t, snap.Done)
	assert.True(t, snap.Failed)
	assert.Equal(t, NodeFailed, snap.Nodes[0])
	assert.Equal(t, NodeHalted, snap.Nodes[1])
	assert.Equal(t, NodeHalted, snap.Nodes[2])
	require.Len(t, sub.events, 1, "halted nodes never submit events")
}

func TestGuardSkipsNodeAndSatisfiesDependents(t *testing.T) {
	e, sub := newTestEngine(t)
	ctx := context.Background()

	nodes := []NodeTemplate{
		{Name: "a", Type: schema.OpConsoleClear},
		{Name: "b", Type: schema.OpConsoleClear, DependsOn: []int{0}, Guard: `false`},
		{Name: "c", Type: schema.OpConsoleClear, DependsOn: []int{1}},
	}
	id, err := e.Register(ctx, "guarded", route(), nodes)
	require.NoError(t, err)
	require.NoError(t, e.Start(ctx, id))

	e.OnCompletion(ctx, id, sub.last().ID, true)
	require.Len(t, sub.events, 2, "b is skipped, c submits directly")

	e.OnCompletion(ctx, id, sub.last().ID, true)
	snap, err := e.Status(id)
	require.NoError(t, err)
	assert.True(t, snap.Done)
	assert.False(t, snap.Failed)
	assert.Equal(t, NodeSkipped, snap.Nodes[1])
	assert.Equal(t, NodeCompleted, snap.Nodes[2])
}

func TestGuardSeesCompletedNodes(t *testing.T) {
	e, sub := newTestEngine(t)
	ctx := context.Background()

	nodes := []NodeTemplate{
		{Name: "a", Type: schema.OpConsoleClear},
		{Name: "b", Type: schema.OpConsoleClear, DependsOn: []int{0}, Guard: `"a" in completed`},
	}
	id, err := e.Register(ctx, "env", route(), nodes)
	require.NoError(t, err)
	require.NoError(t, e.Start(ctx, id))

	e.OnCompletion(ctx, id, sub.last().ID, true)
	require.Len(t, sub.events, 2, "guard over the completed list passes")
}

func TestRejectedSubmissionFailsNode(t *testing.T) {
	e, sub := newTestEngine(t)
	ctx := context.Background()

	id, err := e.Register(ctx, "rejected", route(), twoNodeChain())
	require.NoError(t, err)

	sub.reject = true
	require.NoError(t, e.Start(ctx, id))

	snap, err := e.Status(id)
	require.NoError(t, err)
	assert.True(t, snap.Failed)
	assert.Equal(t, NodeFailed, snap.Nodes[0])
	assert.Equal(t, NodeHalted, snap.Nodes[1])
}

func TestForeignCompletionsAreIgnored(t *testing.T) {
	e, sub := newTestEngine(t)
	ctx := context.Background()

	id, err := e.Register(ctx, "foreign", route(), twoNodeChain())
	require.NoError(t, err)
	require.NoError(t, e.Start(ctx, id))

	// A caller-submitted event sharing the workflow ID is not a node.
	e.OnCompletion(ctx, id, 42, true)
	require.Len(t, sub.events, 1)

	snap, err := e.Status(id)
	require.NoError(t, err)
	assert.False(t, snap.Done)
}

func TestNodePayloadCarriedIntoEvent(t *testing.T) {
	e, sub := newTestEngine(t)
	ctx := context.Background()

	var payload [schema.PayloadSize]byte
	schema.EncodeConsoleWrite(&payload, []byte("boot message"))
	nodes := []NodeTemplate{
		{Name: "banner", Type: schema.OpConsoleWrite, Payload: payload[:]},
	}
	id, err := e.Register(ctx, "payload", route(), nodes)
	require.NoError(t, err)
	require.NoError(t, e.Start(ctx, id))

	ev := sub.last()
	assert.Equal(t, schema.OpConsoleWrite, ev.Type)
	text, err := schema.DecodeConsoleWrite(&ev.Payload)
	require.NoError(t, err)
	assert.Equal(t, "boot message", string(text))
}
