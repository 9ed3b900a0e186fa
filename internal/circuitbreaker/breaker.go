// Package circuitbreaker guards durable workflow dispatch. When the Temporal
// frontend starts failing, the breaker trips and the engine runs threads
// in-process until a probe shows the service has recovered.
package circuitbreaker

import (
	"sync"
	"time"
)

// State of the breaker.
type State int

const (
	// Closed: dispatch through Temporal normally.
	Closed State = iota
	// Open: bypass Temporal until the cooldown elapses.
	Open
	// HalfOpen: one probe in flight to test recovery.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

const (
	defaultTripAfter = 3
	defaultCooldown  = 30 * time.Second
)

// Breaker counts consecutive dispatch failures and trips after a threshold.
type Breaker struct {
	mu        sync.Mutex
	state     State
	failures  int
	tripAfter int
	cooldown  time.Duration
	openedAt  time.Time
	onChange  func(from, to State)
	now       func() time.Time
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithTripAfter sets how many consecutive failures open the breaker.
func WithTripAfter(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.tripAfter = n
		}
	}
}

// WithCooldown sets how long the breaker stays open before probing.
func WithCooldown(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.cooldown = d
		}
	}
}

// WithOnChange registers a transition callback. It runs with the breaker's
// mutex held and must not call back into the breaker.
func WithOnChange(fn func(from, to State)) Option {
	return func(b *Breaker) { b.onChange = fn }
}

func New(opts ...Option) *Breaker {
	b := &Breaker{
		state:     Closed,
		tripAfter: defaultTripAfter,
		cooldown:  defaultCooldown,
		now:       time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Allow reports whether the next thread may be dispatched durably. An open
// breaker lets a single probe through once the cooldown has elapsed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if b.now().After(b.openedAt.Add(b.cooldown)) {
			b.transition(HalfOpen)
			return true
		}
		return false
	default:
		// A probe is already in flight.
		return false
	}
}

// RecordSuccess resets the failure count and closes a half-open breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	if b.state == HalfOpen {
		b.transition(Closed)
	}
}

// RecordFailure counts a dispatch failure. A failed probe reopens
// immediately; in the closed state the breaker trips at the threshold.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	switch b.state {
	case Closed:
		if b.failures >= b.tripAfter {
			b.transition(Open)
			b.openedAt = b.now()
		}
	case HalfOpen:
		b.transition(Open)
		b.openedAt = b.now()
	}
}

// CurrentState returns the breaker state without consulting the cooldown
// timer; Allow is the authority on whether dispatch may proceed.
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if b.onChange != nil && from != to {
		b.onChange(from, to)
	}
}
