// Package client is the unprivileged side of the boundary: it builds events,
// pushes them onto the shared rings, signals the machine through the trap
// entry point, and matches responses back to callers. Full-ring pushes are
// retried with backoff rather than surfaced on first rejection.
package client

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/boxos/boxcore/internal/router"
	"github.com/boxos/boxcore/internal/transport"
	"github.com/boxos/boxcore/pkg/schema"
)

// Notifier is the trap entry point. Satisfied by the machine.
type Notifier interface {
	Notify(ctx context.Context, workflowID uint64, flags uint32) error
}

// RetryPolicy controls full-ring push retries.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	Backoff     string // "constant", "linear", "exponential"
	MaxDelay    time.Duration
}

// DefaultRetryPolicy retries a handful of times with constant backoff.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 5,
	Delay:       time.Millisecond,
	Backoff:     "constant",
	MaxDelay:    50 * time.Millisecond,
}

// ComputeBackoff calculates the delay before the given retry attempt.
func ComputeBackoff(policy RetryPolicy, attempt int) time.Duration {
	if policy.Delay <= 0 {
		return 0
	}
	var delay time.Duration
	switch policy.Backoff {
	case "exponential":
		delay = policy.Delay
		for i := 0; i < attempt; i++ {
			delay *= 2
		}
	case "linear":
		delay = policy.Delay * time.Duration(attempt+1)
	default:
		delay = policy.Delay
	}
	if policy.MaxDelay > 0 && delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	return delay
}

// Client issues operations for one workflow.
type Client struct {
	events    *transport.EventRing
	responses *transport.ResponseRing
	machine   Notifier
	buffers   *router.BufferStore
	logger    *slog.Logger

	workflowID uint64
	retry      RetryPolicy

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]schema.Response
}

// Option configures a Client.
type Option func(*Client)

// WithRetryPolicy overrides the push retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

// New creates a client for a workflow. buffers is the store owned-result
// handles resolve against; helpers that return owned buffers need it.
func New(events *transport.EventRing, responses *transport.ResponseRing, machine Notifier, buffers *router.BufferStore, workflowID uint64, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		events:     events,
		responses:  responses,
		machine:    machine,
		buffers:    buffers,
		logger:     logger,
		workflowID: workflowID,
		retry:      DefaultRetryPolicy,
		pending:    make(map[uint64]schema.Response),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit pushes one event onto the ring and signals the machine. A full ring
// is backpressure: the machine is poked to drain, then the push retries with
// backoff. Returns the assigned event identifier.
func (c *Client) Submit(ctx context.Context, typ uint32, route []uint8, encode func(*[schema.PayloadSize]byte)) (uint64, error) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.mu.Unlock()

	ev := schema.Event{ID: id, WorkflowID: c.workflowID, Type: typ}
	copy(ev.Route[:], route)
	if encode != nil {
		encode(&ev.Payload)
	}

	for attempt := 0; ; attempt++ {
		err := c.events.Push(ev)
		if err == nil {
			break
		}
		if attempt+1 >= c.retry.MaxAttempts {
			return 0, schema.NewErrorf(schema.ErrResourceExhausted,
				"event ring full after %d attempts", c.retry.MaxAttempts).WithCause(err)
		}
		// Let the kernel drain before retrying.
		if nerr := c.machine.Notify(ctx, c.workflowID, schema.TrapSubmit|schema.TrapPoll); nerr != nil {
			return 0, nerr
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(ComputeBackoff(c.retry, attempt)):
		}
	}

	if err := c.machine.Notify(ctx, c.workflowID, schema.TrapSubmit); err != nil {
		return 0, err
	}
	return id, nil
}

// Call submits an event and blocks until its response arrives.
func (c *Client) Call(ctx context.Context, typ uint32, route []uint8, encode func(*[schema.PayloadSize]byte)) (schema.Response, error) {
	id, err := c.Submit(ctx, typ, route, encode)
	if err != nil {
		return schema.Response{}, err
	}
	return c.Await(ctx, id)
}

// Await blocks until the response for an event identifier arrives, parking
// unrelated responses for their own waiters.
func (c *Client) Await(ctx context.Context, eventID uint64) (schema.Response, error) {
	for {
		c.mu.Lock()
		if resp, ok := c.pending[eventID]; ok {
			delete(c.pending, eventID)
			c.mu.Unlock()
			return resp, nil
		}
		c.mu.Unlock()

		resp, err := c.responses.Pop()
		if err == nil {
			if resp.EventID == eventID {
				return resp, nil
			}
			c.mu.Lock()
			c.pending[resp.EventID] = resp
			c.mu.Unlock()
			continue
		}

		if err := ctx.Err(); err != nil {
			return schema.Response{}, err
		}
		if err := c.machine.Notify(ctx, c.workflowID, schema.TrapWait); err != nil {
			return schema.Response{}, err
		}
	}
}

// Poll returns a response if one is ready, without blocking.
func (c *Client) Poll() (schema.Response, bool) {
	c.mu.Lock()
	for id, resp := range c.pending {
		delete(c.pending, id)
		c.mu.Unlock()
		return resp, true
	}
	c.mu.Unlock()

	resp, err := c.responses.Pop()
	if err != nil {
		return schema.Response{}, false
	}
	return resp, true
}

// Exit marks the workflow finished.
func (c *Client) Exit(ctx context.Context) error {
	return c.machine.Notify(ctx, c.workflowID, schema.TrapExit)
}

func responseError(resp schema.Response, op string) error {
	if resp.Status == schema.StatusOK {
		return nil
	}
	return schema.NewErrorf(resp.ErrorCode, "%s failed on deck %d", op, resp.Deck)
}

var hardwareRoute = []uint8{schema.DeckHardware}

// WriteString prints text on the console and returns the bytes written.
func (c *Client) WriteString(ctx context.Context, text string) (uint64, error) {
	resp, err := c.Call(ctx, schema.OpConsoleWrite, hardwareRoute, func(p *[schema.PayloadSize]byte) {
		schema.EncodeConsoleWrite(p, []byte(text))
	})
	if err != nil {
		return 0, err
	}
	if err := responseError(resp, "console write"); err != nil {
		return 0, err
	}
	return resp.Result, nil
}

// WriteStringAttr prints text with an explicit display attribute.
func (c *Client) WriteStringAttr(ctx context.Context, text string, attr uint8) (uint64, error) {
	resp, err := c.Call(ctx, schema.OpConsoleWriteAttr, hardwareRoute, func(p *[schema.PayloadSize]byte) {
		schema.EncodeConsoleWriteAttr(p, attr, []byte(text))
	})
	if err != nil {
		return 0, err
	}
	if err := responseError(resp, "console write attr"); err != nil {
		return 0, err
	}
	return resp.Result, nil
}

// ReadLine reads one input line. The kernel returns an owned buffer handle;
// the client fetches and releases it before returning the bytes.
func (c *Client) ReadLine(ctx context.Context, max uint32) ([]byte, error) {
	resp, err := c.Call(ctx, schema.OpConsoleReadLine, hardwareRoute, func(p *[schema.PayloadSize]byte) {
		schema.EncodeConsoleReadLine(p, max)
	})
	if err != nil {
		return nil, err
	}
	if err := responseError(resp, "console read line"); err != nil {
		return nil, err
	}
	if resp.Kind != schema.ResultBuffer {
		return nil, schema.NewError(schema.ErrProtocol, "read line returned no buffer")
	}
	data, err := c.buffers.Get(resp.Result)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, c.buffers.Release(resp.Result)
}

// Sleep parks the calling workflow's event for the duration.
func (c *Client) Sleep(ctx context.Context, millis uint64) error {
	resp, err := c.Call(ctx, schema.OpTimerSleep, hardwareRoute, func(p *[schema.PayloadSize]byte) {
		schema.EncodeTimerSleep(p, millis)
	})
	if err != nil {
		return err
	}
	return responseError(resp, "sleep")
}

// CreateTimer creates a timer and returns its identifier.
func (c *Client) CreateTimer(ctx context.Context, delayMillis, intervalMillis uint64) (uint64, error) {
	resp, err := c.Call(ctx, schema.OpTimerCreate, hardwareRoute, func(p *[schema.PayloadSize]byte) {
		schema.EncodeTimerCreate(p, delayMillis, intervalMillis)
	})
	if err != nil {
		return 0, err
	}
	if err := responseError(resp, "timer create"); err != nil {
		return 0, err
	}
	return resp.Result, nil
}

// CancelTimer cancels a timer, reporting whether a parked entry was orphaned.
func (c *Client) CancelTimer(ctx context.Context, id uint64) (bool, error) {
	resp, err := c.Call(ctx, schema.OpTimerCancel, hardwareRoute, func(p *[schema.PayloadSize]byte) {
		schema.EncodeTimerID(p, id)
	})
	if err != nil {
		return false, err
	}
	if err := responseError(resp, "timer cancel"); err != nil {
		return false, err
	}
	return resp.Result == 1, nil
}

// Ticks returns the kernel's monotonic clock in milliseconds.
func (c *Client) Ticks(ctx context.Context) (uint64, error) {
	resp, err := c.Call(ctx, schema.OpTimerGetTicks, hardwareRoute, nil)
	if err != nil {
		return 0, err
	}
	if err := responseError(resp, "get ticks"); err != nil {
		return 0, err
	}
	return resp.Result, nil
}

// ClearScreen clears the console.
func (c *Client) ClearScreen(ctx context.Context) error {
	resp, err := c.Call(ctx, schema.OpConsoleClear, hardwareRoute, nil)
	if err != nil {
		return err
	}
	return responseError(resp, "console clear")
}
