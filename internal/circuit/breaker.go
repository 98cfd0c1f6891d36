// Package circuit fails calls to an unreachable store fast instead of
// letting each one wait for a network timeout.
package circuit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State represents the breaker state
type State int

const (
	// StateClosed lets calls through
	StateClosed State = iota
	// StateOpen rejects calls until the cool-down elapses
	StateOpen
	// StateHalfOpen lets a limited number of probe calls through
	StateHalfOpen
)

// String returns string representation of state
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

var (
	// ErrOpenState is returned while the breaker is open
	ErrOpenState = errors.New("circuit breaker is open")

	// ErrTooManyRequests is returned when the half-open probe budget is used up
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Config contains breaker configuration
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the breaker
	FailureThreshold uint32 `yaml:"failure_threshold"`

	// CoolDown is how long the breaker stays open before probing
	CoolDown time.Duration `yaml:"cool_down"`

	// HalfOpenRequests is the number of probe calls allowed while half-open
	HalfOpenRequests uint32 `yaml:"half_open_requests"`

	// IsFailure reports whether err counts against the store. Defaults to err != nil.
	IsFailure func(err error) bool `yaml:"-"`

	// OnStateChange is called with the breaker's lock released
	OnStateChange func(name string, from, to State) `yaml:"-"`

	// Now is the clock; defaults to time.Now
	Now func() time.Time `yaml:"-"`
}

// DefaultConfig returns the configuration used for the Redis store
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		CoolDown:         10 * time.Second,
		HalfOpenRequests: 1,
	}
}

// Counts holds call outcomes since the last state change
type Counts struct {
	Requests            uint32 `json:"requests"`
	Failures            uint32 `json:"failures"`
	ConsecutiveFailures uint32 `json:"consecutive_failures"`
}

// Breaker implements the circuit breaker pattern
type Breaker struct {
	name   string
	config Config

	mu       sync.Mutex
	state    State
	counts   Counts
	openedAt time.Time
}

// NewBreaker creates a closed breaker, filling zero values from DefaultConfig
func NewBreaker(name string, config Config) *Breaker {
	defaults := DefaultConfig()
	if config.FailureThreshold == 0 {
		config.FailureThreshold = defaults.FailureThreshold
	}
	if config.CoolDown <= 0 {
		config.CoolDown = defaults.CoolDown
	}
	if config.HalfOpenRequests == 0 {
		config.HalfOpenRequests = defaults.HalfOpenRequests
	}
	if config.IsFailure == nil {
		config.IsFailure = func(err error) bool { return err != nil }
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Breaker{name: name, config: config}
}

// Do runs fn unless the breaker is open. Context cancellation by the caller
// is not counted as a store failure.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := b.before(); err != nil {
		return err
	}

	err := fn(ctx)
	failed := b.config.IsFailure(err) && ctx.Err() == nil
	b.after(failed)
	return err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, change := b.currentState()
	defer b.notify(change)

	switch {
	case state == StateOpen:
		return ErrOpenState
	case state == StateHalfOpen && b.counts.Requests >= b.config.HalfOpenRequests:
		return ErrTooManyRequests
	}
	b.counts.Requests++
	return nil
}

func (b *Breaker) after(failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, change := b.currentState()

	if !failed {
		b.counts.ConsecutiveFailures = 0
		if state == StateHalfOpen {
			change = b.setState(StateClosed)
		}
		b.notify(change)
		return
	}

	b.counts.Failures++
	b.counts.ConsecutiveFailures++
	switch state {
	case StateClosed:
		if b.counts.ConsecutiveFailures >= b.config.FailureThreshold {
			change = b.setState(StateOpen)
		}
	case StateHalfOpen:
		change = b.setState(StateOpen)
	}
	b.notify(change)
}

type stateChange struct {
	from, to State
}

// currentState moves an open breaker to half-open once the cool-down has
// elapsed. Must hold b.mu.
func (b *Breaker) currentState() (State, *stateChange) {
	if b.state == StateOpen && !b.config.Now().Before(b.openedAt.Add(b.config.CoolDown)) {
		return StateHalfOpen, b.setState(StateHalfOpen)
	}
	return b.state, nil
}

// setState must hold b.mu
func (b *Breaker) setState(state State) *stateChange {
	if b.state == state {
		return nil
	}
	change := &stateChange{from: b.state, to: state}
	b.state = state
	b.counts = Counts{}
	if state == StateOpen {
		b.openedAt = b.config.Now()
	}
	return change
}

// notify runs the callback outside the lock
func (b *Breaker) notify(change *stateChange) {
	if change == nil || b.config.OnStateChange == nil {
		return
	}
	cb, name := b.config.OnStateChange, b.name
	b.mu.Unlock()
	defer b.mu.Lock()
	cb(name, change.from, change.to)
}

// State returns the current state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, change := b.currentState()
	b.notify(change)
	return state
}

// Counts returns a copy of the counts since the last state change
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Reset closes the breaker
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notify(b.setState(StateClosed))
}

// Name returns the breaker's name
func (b *Breaker) Name() string {
	return b.name
}
