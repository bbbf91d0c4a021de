package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/smallbiznis/shopassist/internal/clock"
	obsmetrics "github.com/smallbiznis/shopassist/internal/observability/metrics"
)

// State represents the circuit breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// ErrPartitionUnavailable is returned without calling the partition while
// its breaker is open. It is transient from the user's point of view.
var ErrPartitionUnavailable = errors.New("partition_unavailable")

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// CircuitBreaker fails fast after a burst of consecutive partition failures
// and lets a single trial call through once the cool-down has elapsed.
type CircuitBreaker struct {
	mu           sync.Mutex
	name         string
	state        State
	failures     int
	threshold    int
	resetTimeout time.Duration
	openedAt     time.Time
	trialing     bool
	settings     func() (int, time.Duration)
	clock        clock.Clock
	isFailure    func(error) bool
	metrics      *obsmetrics.AssistantMetrics
}

type Option func(*CircuitBreaker)

func WithClock(c clock.Clock) Option {
	return func(cb *CircuitBreaker) { cb.clock = c }
}

// WithFailurePredicate decides which errors count toward tripping. Business
// outcomes such as "not found" must not open the breaker.
func WithFailurePredicate(fn func(error) bool) Option {
	return func(cb *CircuitBreaker) {
		if fn != nil {
			cb.isFailure = fn
		}
	}
}

// WithSettings makes the breaker read its threshold and cool-down from fn on
// every decision, so reloaded values apply without a restart. Non-positive
// values keep the ones given to NewCircuitBreaker.
func WithSettings(fn func() (threshold int, cooldown time.Duration)) Option {
	return func(cb *CircuitBreaker) { cb.settings = fn }
}

func WithMetrics(m *obsmetrics.AssistantMetrics) Option {
	return func(cb *CircuitBreaker) { cb.metrics = m }
}

func NewCircuitBreaker(name string, threshold int, resetTimeout time.Duration, opts ...Option) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}

	cb := &CircuitBreaker{
		name:         name,
		state:        StateClosed,
		threshold:    threshold,
		resetTimeout: resetTimeout,
		clock:        realClock{},
		isFailure:    defaultIsFailure,
	}
	for _, opt := range opts {
		opt(cb)
	}

	cb.metrics.SetBreakerState(cb.name, obsmetrics.BreakerClosed)
	return cb
}

// limits must be called with mu held.
func (cb *CircuitBreaker) limits() (int, time.Duration) {
	threshold, cooldown := cb.threshold, cb.resetTimeout
	if cb.settings == nil {
		return threshold, cooldown
	}
	t, c := cb.settings()
	if t > 0 {
		threshold = t
	}
	if c > 0 {
		cooldown = c
	}
	return threshold, cooldown
}

func defaultIsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// Execute runs fn unless the breaker is open. A panic in fn counts as a
// failure and is re-raised.
func (cb *CircuitBreaker) Execute(fn func() error) (err error) {
	trial, ok := cb.allowRequest()
	if !ok {
		return ErrPartitionUnavailable
	}

	defer func() {
		if r := recover(); r != nil {
			cb.recordFailure()
			panic(r)
		}
	}()

	err = fn()
	switch {
	case err != nil && cb.isFailure(err):
		cb.recordFailure()
	case trial && err != nil:
		// A trial call that ended in a non-failure error still proves the partition answers.
		cb.recordSuccess()
	case err == nil:
		cb.recordSuccess()
	}
	return err
}

// Do is Execute for calls that return a value.
func Do[T any](cb *CircuitBreaker, fn func() (T, error)) (T, error) {
	var out T
	err := cb.Execute(func() error {
		var err error
		out, err = fn()
		return err
	})
	return out, err
}

func (cb *CircuitBreaker) allowRequest() (trial bool, allowed bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return false, true
	case StateOpen:
		if _, cooldown := cb.limits(); cb.clock.Now().Sub(cb.openedAt) < cooldown {
			return false, false
		}
		cb.transitionTo(StateHalfOpen)
		cb.trialing = true
		return true, true
	default:
		if cb.trialing {
			return false, false
		}
		cb.trialing = true
		return true, true
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	switch cb.state {
	case StateHalfOpen:
		cb.trialing = false
		cb.metrics.IncBreakerTrip(cb.name, "half_open_failure")
		cb.transitionTo(StateOpen)
	case StateClosed:
		if threshold, _ := cb.limits(); cb.failures >= threshold {
			cb.metrics.IncBreakerTrip(cb.name, "threshold_exceeded")
			cb.transitionTo(StateOpen)
		}
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.trialing = false
	cb.transitionTo(StateClosed)
}

// transitionTo must be called with mu held.
func (cb *CircuitBreaker) transitionTo(next State) {
	if cb.state == next {
		return
	}
	cb.state = next
	gauge := obsmetrics.BreakerClosed
	switch next {
	case StateOpen:
		cb.openedAt = cb.clock.Now()
		gauge = obsmetrics.BreakerOpen
	case StateHalfOpen:
		gauge = obsmetrics.BreakerHalfOpen
	}
	cb.metrics.SetBreakerState(cb.name, gauge)
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Name() string { return cb.name }
