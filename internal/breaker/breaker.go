// Package breaker implements the per-provider Circuit Breaker (C6):
// CLOSED/OPEN/HALF_OPEN state machine wrapping provider calls so a
// failing provider stops being hammered. In HALF_OPEN every call is let
// through (there is no single-probe limit); the breaker closes after
// SuccessThreshold consecutive successes (default 2) and reopens on any
// failure.
//
// Grounded on internal/infra/circuit.go's CircuitBreaker/
// CircuitBreakerRegistry, adapted to use an explicit 0/1/2 observable
// state (exposed as a gauge) instead of a string state, and
// to separate "rejected while open" from "failed while closed/half-open"
// so each can drive its own counter.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/goatbytes/consoul/internal/consoulerr"
)

// State is the circuit breaker's state, exposed as a gauge:
// 0=CLOSED, 1=OPEN, 2=HALF_OPEN.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned (wrapped as a consoulerr.KindCircuitOpen) when a
// call is rejected because the breaker is OPEN.
var ErrOpen = errors.New("circuit breaker is open")

// Observer is notified of state transitions and rejections, decoupling
// this package from the metrics package.
type Observer interface {
	OnStateChange(provider string, from, to State)
	OnTrip(provider string)
	OnRejection(provider string)
}

type noopObserver struct{}

func (noopObserver) OnStateChange(string, State, State) {}
func (noopObserver) OnTrip(string)                      {}
func (noopObserver) OnRejection(string)                 {}

// Config configures one Breaker.
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	CoolDown         time.Duration
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	if c.CoolDown <= 0 {
		c.CoolDown = 30 * time.Second
	}
	return c
}

// Breaker is one provider's circuit breaker.
type Breaker struct {
	name     string
	config   Config
	observer Observer

	mu              sync.Mutex
	state           State
	failures        int
	successes       int
	lastStateChange time.Time
}

func newBreaker(name string, config Config, observer Observer) *Breaker {
	if observer == nil {
		observer = noopObserver{}
	}
	return &Breaker{
		name:            name,
		config:          config.withDefaults(),
		observer:        observer,
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// Execute runs fn with circuit-breaker protection. IsUserError should
// classify fn's error as a user-caused error (invalid input, missing
// auth, unsupported model) when one occurs; user errors never count
// against the breaker.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error, isUserError func(error) bool) error {
	if err := b.canExecute(); err != nil {
		b.observer.OnRejection(b.name)
		return consoulerr.Wrap(consoulerr.KindCircuitOpen, "circuit breaker open for "+b.name, err)
	}

	err := fn(ctx)
	if err != nil && isUserError != nil && isUserError(err) {
		return err
	}
	b.recordResult(err)
	return err
}

// State returns the current observable state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) canExecute() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed, StateHalfOpen:
		return nil
	case StateOpen:
		if time.Since(b.lastStateChange) >= b.config.CoolDown {
			b.transitionTo(StateHalfOpen)
			return nil
		}
		return ErrOpen
	default:
		return nil
	}
}

func (b *Breaker) recordResult(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.recordFailure()
	} else {
		b.recordSuccess()
	}
}

func (b *Breaker) recordFailure() {
	b.failures++
	b.successes = 0
	switch b.state {
	case StateClosed:
		if b.failures >= b.config.FailureThreshold {
			b.transitionTo(StateOpen)
			b.observer.OnTrip(b.name)
		}
	case StateHalfOpen:
		b.transitionTo(StateOpen)
		b.observer.OnTrip(b.name)
	}
}

func (b *Breaker) recordSuccess() {
	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.transitionTo(StateClosed)
		}
	}
}

// transitionTo must be called with b.mu held.
func (b *Breaker) transitionTo(to State) {
	from := b.state
	b.state = to
	b.failures = 0
	b.successes = 0
	b.lastStateChange = time.Now()
	if from != to {
		go b.observer.OnStateChange(b.name, from, to)
	}
}

// Registry manages one Breaker per provider name.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	defaults Config
	observer Observer
}

// NewRegistry builds a Registry. observer may be nil.
func NewRegistry(defaults Config, observer Observer) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		defaults: defaults.withDefaults(),
		observer: observer,
	}
}

// Get returns (creating if necessary) the breaker for name.
func (r *Registry) Get(name string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b = newBreaker(name, r.defaults, r.observer)
	r.breakers[name] = b
	return b
}

// States returns a snapshot of every known breaker's state, for /health.
func (r *Registry) States() map[string]State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]State, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.State()
	}
	return out
}
