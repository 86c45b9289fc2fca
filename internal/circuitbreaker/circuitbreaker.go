// Package circuitbreaker implements a delivery guard for the relay
// ingress. After a run of consecutive delivery failures it stops handing
// frames to the sender for a cool-down period, letting payloads spill
// straight to the dead letter queue instead of burning the retry budget
// against a collector that is known to be down.
package circuitbreaker

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned when the breaker is open and rejecting deliveries.
var ErrOpen = errors.New("circuit breaker is open")

// State represents the current state of the breaker.
type State int

const (
	// StateClosed allows all deliveries through.
	StateClosed State = iota
	// StateOpen rejects all deliveries until the cool-down passes.
	StateOpen
	// StateHalfOpen probes whether the collector has recovered.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config contains the breaker thresholds.
type Config struct {
	// FailureThreshold is the number of consecutive failed deliveries
	// before the breaker opens. Zero disables the breaker entirely.
	FailureThreshold int
	// SuccessThreshold is the number of consecutive successful probes in
	// half-open state before the breaker closes again.
	SuccessThreshold int
	// CoolDown is how long the breaker stays open before probing.
	CoolDown time.Duration
	// HalfOpenMaxCalls caps concurrent probes in half-open state.
	HalfOpenMaxCalls int
}

// DefaultConfig returns the default breaker configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		CoolDown:         30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// Breaker tracks delivery outcomes and transitions between closed, open
// and half-open states. It is safe for concurrent use.
type Breaker struct {
	mu            sync.Mutex
	cfg           Config
	state         State
	failures      int
	successes     int
	halfOpenCalls int
	stateChanged  time.Time

	// now is injected so tests can drive the cool-down deterministically.
	now func() time.Time
}

// New creates a breaker. A FailureThreshold of zero means disabled: every
// delivery is attempted and outcomes are not tracked.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold < 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = DefaultConfig().SuccessThreshold
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = DefaultConfig().CoolDown
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = DefaultConfig().HalfOpenMaxCalls
	}

	b := &Breaker{
		cfg:   cfg,
		state: StateClosed,
		now:   time.Now,
	}
	b.stateChanged = b.now()
	return b
}

// Call runs fn if the breaker allows it, recording the outcome.
// When the breaker is open, Call returns ErrOpen without invoking fn.
func (b *Breaker) Call(fn func() error) error {
	if !b.acquire() {
		return ErrOpen
	}

	err := fn()
	b.record(err)
	return err
}

// acquire decides whether a delivery may be attempted now, claiming a
// half-open probe slot when applicable.
func (b *Breaker) acquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.stateChanged) < b.cfg.CoolDown {
			return false
		}
		b.toHalfOpen()
		fallthrough
	case StateHalfOpen:
		if b.halfOpenCalls < b.cfg.HalfOpenMaxCalls {
			b.halfOpenCalls++
			return true
		}
		return false
	default:
		return false
	}
}

// record updates the breaker with a delivery outcome.
func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.halfOpenCalls--
	}

	if err == nil {
		b.onSuccess()
	} else {
		b.onFailure()
	}
}

func (b *Breaker) onSuccess() {
	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.toClosed()
		}
	}
}

func (b *Breaker) onFailure() {
	// Threshold zero means the breaker is disabled; don't track anything.
	if b.cfg.FailureThreshold == 0 {
		return
	}

	b.failures++

	switch b.state {
	case StateClosed:
		if b.failures >= b.cfg.FailureThreshold {
			b.toOpen()
		}
	case StateHalfOpen:
		// Any failed probe reopens the breaker.
		b.toOpen()
	}
}

func (b *Breaker) toOpen() {
	b.state = StateOpen
	b.stateChanged = b.now()
	b.successes = 0
	slog.Warn("circuit breaker opened",
		"consecutive_failures", b.failures,
		"threshold", b.cfg.FailureThreshold)
}

func (b *Breaker) toHalfOpen() {
	b.state = StateHalfOpen
	b.stateChanged = b.now()
	b.failures = 0
	b.successes = 0
	b.halfOpenCalls = 0
	slog.Info("circuit breaker half-open, probing collector")
}

func (b *Breaker) toClosed() {
	b.state = StateClosed
	b.stateChanged = b.now()
	b.failures = 0
	b.successes = 0
	slog.Info("circuit breaker closed, collector recovered")
}

// CurrentState returns the breaker's current state.
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset manually returns the breaker to the closed state.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.failures = 0
	b.successes = 0
	b.halfOpenCalls = 0
	b.stateChanged = b.now()
}
