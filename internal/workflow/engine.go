// Package workflow implements named multi-node operation templates with
// inter-node dependencies. Registration validates the dependency graph;
// readiness is tracked with per-node unmet-dependency counters, and nodes
// whose counter reaches zero have their events submitted automatically.
package workflow

import (
	"log/slog"
	"sync"

	"context"

	"github.com/boxos/boxcore/internal/router"
	"github.com/boxos/boxcore/internal/streaming"
	"github.com/boxos/boxcore/pkg/schema"
)

// NodeTemplate describes one node of a workflow: the event it submits when
// ready, which nodes must complete first, and an optional guard expression
// evaluated at readiness (false skips the node, counting it as satisfied for
// its dependents).
type NodeTemplate struct {
	Name      string
	Type      uint32
	Payload   []byte
	DependsOn []int
	Guard     string
}

// NodeStatus is the observable state of one node.
type NodeStatus uint8

const (
	NodeWaiting NodeStatus = iota
	NodeReady
	NodeSubmitted
	NodeCompleted
	NodeFailed
	NodeSkipped
	NodeHalted
)

func (s NodeStatus) String() string {
	switch s {
	case NodeWaiting:
		return "waiting"
	case NodeReady:
		return "ready"
	case NodeSubmitted:
		return "submitted"
	case NodeCompleted:
		return "completed"
	case NodeFailed:
		return "failed"
	case NodeSkipped:
		return "skipped"
	case NodeHalted:
		return "halted"
	default:
		return "unknown"
	}
}

// Submitter admits events into routing. Satisfied by the Router.
type Submitter interface {
	Submit(ctx context.Context, ev schema.Event) (*router.Entry, error)
}

type node struct {
	tmpl      NodeTemplate
	remaining int
	status    NodeStatus
}

type instance struct {
	id         uint64
	name       string
	route      [schema.MaxRouteSteps]uint8
	nodes      []node
	dependents [][]int
	pending    map[uint64]int // event ID -> node index
	failed     bool
	done       bool
}

// Snapshot is the observable state of a workflow.
type Snapshot struct {
	ID     uint64
	Name   string
	Nodes  []NodeStatus
	Done   bool
	Failed bool
}

// Engine is the workflow registry and readiness tracker. It observes entry
// completions from the router and cascades dependency counters; a node
// failure halts every transitive dependent, whose events are never submitted.
type Engine struct {
	submitter Submitter
	guards    *GuardEngine
	hub       streaming.EventHub
	logger    *slog.Logger

	mu          sync.Mutex
	instances   map[uint64]*instance
	byName      map[string]uint64
	nextID      uint64
	nextEventID uint64
}

// NewEngine creates a workflow engine. hub may be nil.
func NewEngine(submitter Submitter, logger *slog.Logger, hub streaming.EventHub) *Engine {
	return &Engine{
		submitter: submitter,
		guards:    NewGuardEngine(),
		hub:       hub,
		logger:    logger,
		instances: make(map[uint64]*instance),
		byName:    make(map[string]uint64),
		// Engine-assigned event IDs live far above caller-assigned ones.
		nextEventID: 1 << 32,
	}
}

// Register validates a workflow template and stores it, returning its
// workflow identifier. The dependency graph must be acyclic with in-range,
// duplicate-free edges, and every guard must compile.
func (e *Engine) Register(ctx context.Context, name string, route []uint8, templates []NodeTemplate) (uint64, error) {
	if name == "" {
		return 0, schema.NewError(schema.ErrInvalidParameter, "workflow name is empty")
	}
	if len(route) == 0 || len(route) > schema.MaxRouteSteps {
		return 0, schema.NewErrorf(schema.ErrInvalidParameter,
			"workflow route must have 1-%d hops", schema.MaxRouteSteps)
	}
	if len(templates) == 0 {
		return 0, schema.NewError(schema.ErrInvalidParameter, "workflow has no nodes")
	}

	dependents, err := buildEdges(templates)
	if err != nil {
		return 0, err
	}
	if err := checkAcyclic(templates, dependents); err != nil {
		return 0, err
	}
	for i, tmpl := range templates {
		if tmpl.Guard == "" {
			continue
		}
		if err := e.guards.Compile(tmpl.Guard); err != nil {
			return 0, schema.NewErrorf(schema.ErrInvalidParameter,
				"node %d: %s", i, err.Error()).WithCause(err)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.byName[name]; ok {
		return 0, schema.NewErrorf(schema.ErrInvalidParameter, "workflow %q already registered", name)
	}

	e.nextID++
	inst := &instance{
		id:         e.nextID,
		name:       name,
		nodes:      make([]node, len(templates)),
		dependents: dependents,
		pending:    make(map[uint64]int),
	}
	copy(inst.route[:], route)
	for i, tmpl := range templates {
		inst.nodes[i] = node{tmpl: tmpl, remaining: len(tmpl.DependsOn)}
		if inst.nodes[i].remaining == 0 {
			inst.nodes[i].status = NodeReady
		}
	}
	e.instances[inst.id] = inst
	e.byName[name] = inst.id

	e.publish(ctx, inst, streaming.EventWorkflowRegistered, nil)
	return inst.id, nil
}

// Start submits every ready node's event, beginning execution.
func (e *Engine) Start(ctx context.Context, workflowID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	inst, ok := e.instances[workflowID]
	if !ok {
		return schema.NewErrorf(schema.ErrNotFound, "workflow %d not found", workflowID)
	}
	e.publish(ctx, inst, streaming.EventWorkflowStarted, nil)
	for i := range inst.nodes {
		if inst.nodes[i].status == NodeReady {
			e.fireNode(ctx, inst, i)
		}
	}
	e.settle(ctx, inst)
	return nil
}

// Lookup resolves a workflow identifier by name.
func (e *Engine) Lookup(name string) (uint64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, ok := e.byName[name]
	return id, ok
}

// Status returns an observable snapshot of a workflow.
func (e *Engine) Status(workflowID uint64) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	inst, ok := e.instances[workflowID]
	if !ok {
		return Snapshot{}, schema.NewErrorf(schema.ErrNotFound, "workflow %d not found", workflowID)
	}
	snap := Snapshot{
		ID:     inst.id,
		Name:   inst.name,
		Nodes:  make([]NodeStatus, len(inst.nodes)),
		Done:   inst.done,
		Failed: inst.failed,
	}
	for i := range inst.nodes {
		snap.Nodes[i] = inst.nodes[i].status
	}
	return snap, nil
}

// OnCompletion implements router.CompletionObserver. Completions for events
// the engine never submitted are ignored; they belong to direct callers.
func (e *Engine) OnCompletion(ctx context.Context, workflowID, eventID uint64, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	inst, found := e.instances[workflowID]
	if !found {
		return
	}
	idx, found := inst.pending[eventID]
	if !found {
		return
	}
	delete(inst.pending, eventID)

	if !ok {
		e.failNode(ctx, inst, idx)
		return
	}

	inst.nodes[idx].status = NodeCompleted
	e.publish(ctx, inst, streaming.EventNodeCompleted, map[string]any{
		"node": idx, "name": inst.nodes[idx].tmpl.Name,
	})
	e.satisfyDependents(ctx, inst, idx)
	e.settle(ctx, inst)
}

// satisfyDependents decrements the unmet-dependency counter of every node
// that depends on idx, firing those that reach zero.
func (e *Engine) satisfyDependents(ctx context.Context, inst *instance, idx int) {
	for _, dep := range inst.dependents[idx] {
		n := &inst.nodes[dep]
		if n.status != NodeWaiting {
			continue
		}
		n.remaining--
		if n.remaining == 0 {
			n.status = NodeReady
			e.fireNode(ctx, inst, dep)
		}
	}
}

// fireNode evaluates the node's guard and either submits its event or skips
// it. A skipped node counts as satisfied for its dependents.
func (e *Engine) fireNode(ctx context.Context, inst *instance, idx int) {
	n := &inst.nodes[idx]
	if n.tmpl.Guard != "" {
		verdict, err := e.guards.Evaluate(n.tmpl.Guard, e.guardEnv(inst, idx))
		if err != nil {
			e.logger.ErrorContext(ctx, "guard evaluation failed",
				slog.String("workflow", inst.name),
				slog.Int("node", idx),
				slog.String("error", err.Error()),
			)
			e.failNode(ctx, inst, idx)
			return
		}
		if !verdict {
			n.status = NodeSkipped
			e.publish(ctx, inst, streaming.EventNodeSkipped, map[string]any{
				"node": idx, "name": n.tmpl.Name,
			})
			e.satisfyDependents(ctx, inst, idx)
			return
		}
	}

	e.nextEventID++
	ev := schema.Event{
		ID:         e.nextEventID,
		WorkflowID: inst.id,
		Type:       n.tmpl.Type,
		Route:      inst.route,
	}
	copy(ev.Payload[:], n.tmpl.Payload)

	if _, err := e.submitter.Submit(ctx, ev); err != nil {
		e.logger.ErrorContext(ctx, "node event rejected",
			slog.String("workflow", inst.name),
			slog.Int("node", idx),
			slog.String("error", err.Error()),
		)
		e.failNode(ctx, inst, idx)
		return
	}
	n.status = NodeSubmitted
	inst.pending[ev.ID] = idx
	e.publish(ctx, inst, streaming.EventNodeSubmitted, map[string]any{
		"node": idx, "name": n.tmpl.Name, "event_id": ev.ID,
	})
}

// failNode marks a node failed and halts every transitive dependent: their
// events are never submitted. First error wins the workflow outcome.
func (e *Engine) failNode(ctx context.Context, inst *instance, idx int) {
	inst.nodes[idx].status = NodeFailed
	inst.failed = true
	e.publish(ctx, inst, streaming.EventNodeFailed, map[string]any{
		"node": idx, "name": inst.nodes[idx].tmpl.Name,
	})
	e.haltDependents(ctx, inst, idx)
	e.settle(ctx, inst)
}

func (e *Engine) haltDependents(ctx context.Context, inst *instance, idx int) {
	for _, dep := range inst.dependents[idx] {
		n := &inst.nodes[dep]
		if n.status != NodeWaiting && n.status != NodeReady {
			continue
		}
		n.status = NodeHalted
		e.haltDependents(ctx, inst, dep)
	}
}

// settle checks for a terminal workflow: every node in a settled state and
// nothing in flight.
func (e *Engine) settle(ctx context.Context, inst *instance) {
	if inst.done || len(inst.pending) > 0 {
		return
	}
	for i := range inst.nodes {
		switch inst.nodes[i].status {
		case NodeCompleted, NodeSkipped, NodeFailed, NodeHalted:
		default:
			return
		}
	}
	inst.done = true
	if inst.failed {
		e.publish(ctx, inst, streaming.EventWorkflowFailed, nil)
	} else {
		e.publish(ctx, inst, streaming.EventWorkflowCompleted, nil)
	}
}

// guardEnv builds the expression environment: node metadata plus the names
// of nodes already completed or skipped.
func (e *Engine) guardEnv(inst *instance, idx int) map[string]any {
	completed := make([]string, 0, len(inst.nodes))
	for i := range inst.nodes {
		switch inst.nodes[i].status {
		case NodeCompleted, NodeSkipped:
			completed = append(completed, inst.nodes[i].tmpl.Name)
		}
	}
	return map[string]any{
		"workflow":  inst.name,
		"node":      inst.nodes[idx].tmpl.Name,
		"completed": completed,
	}
}

func (e *Engine) publish(ctx context.Context, inst *instance, typ string, payload map[string]any) {
	if e.hub == nil {
		return
	}
	_ = e.hub.Publish(ctx, streaming.StreamEvent{
		WorkflowID: inst.id,
		EventType:  typ,
		Payload:    payload,
	})
}
