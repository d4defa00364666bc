package notification

import (
	"errors"
	"sync"
	"time"
)

// BreakerState is the delivery circuit state for one backend.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // deliveries pass through
	BreakerOpen                         // deliveries rejected immediately
	BreakerHalfOpen                     // one probe delivery allowed
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

// ErrBreakerOpen is returned while the breaker is rejecting deliveries.
var ErrBreakerOpen = errors.New("notification: circuit breaker is open")

// Breaker trips after maxFailures consecutive delivery failures and
// rejects calls for resetTimeout. The next call after the timeout runs
// as a probe: success closes the breaker, failure reopens it.
type Breaker struct {
	mu          sync.Mutex
	state       BreakerState
	failures    int
	maxFailures int
	reset       time.Duration
	lastFailure time.Time

	// OnStateChange is called on every transition (for logging).
	OnStateChange func(from, to BreakerState)
}

// NewBreaker creates a closed Breaker.
func NewBreaker(maxFailures int, resetTimeout time.Duration) *Breaker {
	return &Breaker{maxFailures: maxFailures, reset: resetTimeout}
}

// Execute runs fn unless the breaker is open.
func (b *Breaker) Execute(fn func() error) error {
	b.mu.Lock()
	if b.state == BreakerOpen {
		if time.Since(b.lastFailure) > b.reset {
			b.transition(BreakerHalfOpen)
		} else {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.failures++
		b.lastFailure = time.Now()
		if b.state == BreakerHalfOpen || b.failures >= b.maxFailures {
			b.transition(BreakerOpen)
		}
		return err
	}
	if b.state == BreakerHalfOpen {
		b.transition(BreakerClosed)
	}
	b.failures = 0
	return nil
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) transition(to BreakerState) {
	from := b.state
	b.state = to
	if to == BreakerClosed {
		b.failures = 0
	}
	if b.OnStateChange != nil {
		b.OnStateChange(from, to)
	}
}
