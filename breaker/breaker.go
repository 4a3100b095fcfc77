package breaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned without invoking the operation while the circuit is open.
var ErrOpen = errors.New("circuit breaker is open")

var errPanicked = errors.New("operation panicked")

// State is the breaker position.
type State int32

const (
	// StateClosed lets calls through and counts consecutive failures.
	StateClosed State = iota
	// StateOpen rejects calls until the cooldown elapses.
	StateOpen
	// StateHalfOpen lets a single trial call through.
	StateHalfOpen
)

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

const (
	defaultFailureThreshold = 3
	defaultCooldown         = 30 * time.Second
)

// Config controls trip and recovery behavior. Zero values fall back to
// three consecutive failures and a 30 second cooldown.
type Config struct {
	Name             string
	FailureThreshold int
	Cooldown         time.Duration

	// IsFailure reports whether err counts against the breaker. When nil,
	// every non-nil error except caller cancellation counts.
	IsFailure func(err error) bool

	// OnStateChange runs after every transition, outside the breaker lock.
	OnStateChange func(name string, from, to State)

	Now func() time.Time
}

// Breaker guards one dependency. It is safe for concurrent use.
type Breaker struct {
	cfg Config

	mu          sync.Mutex
	state       State
	failures    int
	changedAt   time.Time
	generation  uint64
	trialActive bool
}

// New builds a breaker in the closed state.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{
		cfg:       cfg,
		state:     StateClosed,
		changedAt: cfg.Now(),
	}
}

// Name returns the configured breaker name.
func (b *Breaker) Name() string {
	return b.cfg.Name
}

// Execute runs op unless the circuit is open. Errors returned by op are
// passed through unchanged; a rejected call returns ErrOpen.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error) error {
	generation, trial, err := b.admit()
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			b.record(ctx, generation, trial, errPanicked)
			panic(r)
		}
	}()

	opErr := op(ctx)
	b.record(ctx, generation, trial, opErr)
	return opErr
}

// Do is the value-returning form of Execute.
func Do[T any](ctx context.Context, b *Breaker, op func(context.Context) (T, error)) (T, error) {
	var out T
	err := b.Execute(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		out = v
		return err
	})
	return out, err
}

// State reports the current position. An open breaker whose cooldown has
// elapsed reports StateHalfOpen; the transition itself happens on the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && b.cooldownElapsed(b.cfg.Now()) {
		return StateHalfOpen
	}
	return b.state
}

// CanExecute is false only while the breaker is open.
func (b *Breaker) CanExecute() bool {
	return b.State() != StateOpen
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// ChangedAt returns the time of the last state transition.
func (b *Breaker) ChangedAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.changedAt
}

// Reset forces the breaker closed and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.transition(StateClosed, b.cfg.Now())
	b.mu.Unlock()

	if from != StateClosed {
		b.notify(from, StateClosed)
	}
}

func (b *Breaker) admit() (uint64, bool, error) {
	b.mu.Lock()

	now := b.cfg.Now()
	switch b.state {
	case StateOpen:
		if !b.cooldownElapsed(now) {
			b.mu.Unlock()
			return 0, false, ErrOpen
		}
		b.transition(StateHalfOpen, now)
		b.trialActive = true
		generation := b.generation
		b.mu.Unlock()
		b.notify(StateOpen, StateHalfOpen)
		return generation, true, nil
	case StateHalfOpen:
		if b.trialActive {
			b.mu.Unlock()
			return 0, false, ErrOpen
		}
		b.trialActive = true
		generation := b.generation
		b.mu.Unlock()
		return generation, true, nil
	default:
		generation := b.generation
		b.mu.Unlock()
		return generation, false, nil
	}
}

func (b *Breaker) record(ctx context.Context, generation uint64, trial bool, err error) {
	b.mu.Lock()

	// A result from a superseded generation must not move the state machine.
	if generation != b.generation {
		b.mu.Unlock()
		return
	}

	now := b.cfg.Now()
	from := b.state
	to := from

	switch {
	case !b.counts(ctx, err):
		if trial {
			if err == nil {
				b.transition(StateClosed, now)
				to = StateClosed
			} else {
				// Neutral outcome (cancelled or filtered): release the trial slot.
				b.trialActive = false
			}
		} else if err == nil {
			b.failures = 0
		}
	case trial:
		b.transition(StateOpen, now)
		to = StateOpen
	default:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.transition(StateOpen, now)
			to = StateOpen
		}
	}
	b.mu.Unlock()

	if from != to {
		b.notify(from, to)
	}
}

// counts reports whether err is a failure for breaker accounting.
func (b *Breaker) counts(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if ctx != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return false
	}
	if b.cfg.IsFailure != nil {
		return b.cfg.IsFailure(err)
	}
	return true
}

func (b *Breaker) cooldownElapsed(now time.Time) bool {
	return !now.Before(b.changedAt.Add(b.cfg.Cooldown))
}

// transition must be called with b.mu held.
func (b *Breaker) transition(to State, now time.Time) {
	b.state = to
	b.failures = 0
	b.trialActive = false
	b.changedAt = now
	b.generation++
}

func (b *Breaker) notify(from, to State) {
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.cfg.Name, from, to)
	}
}
