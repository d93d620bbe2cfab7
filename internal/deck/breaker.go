package deck

import (
	"github.com/boxos/boxcore/internal/clock"
)

// BreakerState is the circuit state of a deck breaker.
type BreakerState uint8

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker is a per-deck circuit breaker over infrastructure failures. After
// FailureThreshold consecutive failures the deck stops invoking its handler
// and fast-fails entries until CooldownTicks elapse; the first entry after
// the cooldown probes the handler (half-open) and either closes or re-opens
// the circuit. Time comes from the machine clock, so tests drive it directly.
type Breaker struct {
	clock            clock.Clock
	failureThreshold int
	cooldownTicks    uint64

	state       BreakerState
	consecutive int
	openedAt    uint64
}

// NewBreaker creates a closed breaker.
func NewBreaker(clk clock.Clock, failureThreshold int, cooldownTicks uint64) *Breaker {
	return &Breaker{
		clock:            clk,
		failureThreshold: failureThreshold,
		cooldownTicks:    cooldownTicks,
	}
}

// Allow reports whether the next entry may reach the handler. An open breaker
// past its cooldown transitions to half-open and allows a single probe.
func (b *Breaker) Allow() bool {
	switch b.state {
	case BreakerOpen:
		if b.clock.Ticks()-b.openedAt >= b.cooldownTicks {
			b.state = BreakerHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess closes the circuit and resets the failure streak.
func (b *Breaker) RecordSuccess() {
	b.consecutive = 0
	b.state = BreakerClosed
}

// RecordFailure extends the failure streak, opening the circuit when the
// threshold is reached. A half-open probe failure re-opens immediately.
func (b *Breaker) RecordFailure() {
	b.consecutive++
	if b.state == BreakerHalfOpen || b.consecutive >= b.failureThreshold {
		b.state = BreakerOpen
		b.openedAt = b.clock.Ticks()
	}
}

// State returns the current circuit state without side effects.
func (b *Breaker) State() BreakerState {
	return b.state
}
