// Package resilience provides the reliability primitives around the
// analyzer: a circuit breaker in front of dispatch and a bounded pool for
// process spawns.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker rejects dispatches.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

func (s state) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Breaker stops sending requests to an analyzer that keeps failing. After
// maxFailures consecutive failures it rejects calls until cooldown has
// passed, then admits exactly one probe. The probe's outcome closes or
// reopens the circuit; calls arriving while it runs are rejected.
type Breaker struct {
	maxFailures int
	cooldown    time.Duration
	neutral     []error
	now         func() time.Time

	mu       sync.Mutex
	state    state
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker creates a breaker that opens after maxFailures consecutive
// failures and probes again after cooldown. Errors matching one of neutral
// are passed through without counting, like a caller's cancellation.
func NewBreaker(maxFailures int, cooldown time.Duration, neutral ...error) *Breaker {
	return &Breaker{
		maxFailures: max(maxFailures, 1),
		cooldown:    cooldown,
		neutral:     neutral,
		now:         time.Now,
	}
}

// Execute runs fn unless the circuit is open. Neutral errors are neither a
// success nor a failure.
func (b *Breaker) Execute(fn func() error) error {
	probe, ok := b.admit()
	if !ok {
		return ErrCircuitOpen
	}

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if probe {
		b.probing = false
	}
	switch {
	case err == nil:
		b.recordSuccess()
	case b.isNeutral(err):
		if probe {
			b.state = stateOpen
		}
	default:
		b.recordFailure(err)
	}
	return err
}

func (b *Breaker) isNeutral(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	for _, n := range b.neutral {
		if errors.Is(err, n) {
			return true
		}
	}
	return false
}

// State returns "closed", "open" or "half-open".
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == stateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		return stateHalfOpen.String()
	}
	return b.state.String()
}

// admit reports whether a call may run and whether it is the half-open probe.
func (b *Breaker) admit() (probe, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return false, true
	case stateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false, false
		}
		b.state = stateHalfOpen
	}
	if b.probing {
		return false, false
	}
	b.probing = true
	return true, true
}

// recordFailure must be called with b.mu held.
func (b *Breaker) recordFailure(err error) {
	b.failures++
	if b.state != stateHalfOpen && b.failures < b.maxFailures {
		return
	}
	if b.state != stateOpen {
		slog.Warn("analyzer circuit opened", "failures", b.failures, "cooldown", b.cooldown, "error", err)
	}
	b.state = stateOpen
	b.openedAt = b.now()
}

// recordSuccess must be called with b.mu held.
func (b *Breaker) recordSuccess() {
	if b.state != stateClosed {
		slog.Info("analyzer circuit closed")
	}
	b.failures = 0
	b.state = stateClosed
}
