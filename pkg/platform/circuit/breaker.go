// Package circuit tracks the health of a remote dependency as a two-state
// breaker. The content store client uses it to decide when to fall back to
// degraded placeholder addresses.
package circuit

import "sync"

type State int

const (
	StateClosed State = iota
	StateOpen
)

func (s State) String() string {
	if s == StateOpen {
		return "open"
	}
	return "closed"
}

// Transition is the state change caused by a single observation.
type Transition int

const (
	NoChange Transition = iota
	Opened
	Closed
)

// Breaker opens after a run of consecutive failures and closes again after a
// run of consecutive successes observed while open. Any failure while open
// restarts the recovery run.
type Breaker struct {
	name          string
	openAfter     int
	closeAfter    int
	mu            sync.Mutex
	state         State
	failureStreak int
	successStreak int
}

type Option func(*Breaker)

// WithFailureThreshold sets how many consecutive failures open the breaker (default 5).
func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.openAfter = n
		}
	}
}

// WithSuccessThreshold sets how many consecutive successes close it again (default 3).
func WithSuccessThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.closeAfter = n
		}
	}
}

func New(name string, opts ...Option) *Breaker {
	b := &Breaker{name: name, openAfter: 5, closeAfter: 3}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Breaker) Name() string { return b.name }

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) IsOpen() bool { return b.State() == StateOpen }

// Failure records a failed call against the dependency.
func (b *Breaker) Failure() Transition {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.successStreak = 0
	b.failureStreak++
	if b.state == StateClosed && b.failureStreak >= b.openAfter {
		b.state = StateOpen
		return Opened
	}
	return NoChange
}

// Success records a successful call against the dependency.
func (b *Breaker) Success() Transition {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureStreak = 0
	if b.state == StateClosed {
		return NoChange
	}
	b.successStreak++
	if b.successStreak < b.closeAfter {
		return NoChange
	}
	b.state = StateClosed
	b.successStreak = 0
	return Closed
}

// Trip opens the breaker without waiting for failures, e.g. when the
// dependency is unreachable at startup.
func (b *Breaker) Trip() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateOpen
	b.successStreak = 0
}
