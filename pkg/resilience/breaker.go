// Package resilience provides a circuit breaker for optional backends such
// as the shared count cache.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Execute while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker state.
type State int

const (
	// StateClosed - calls pass through
	StateClosed State = iota
	// StateHalfOpen - trial calls after the cooldown
	StateHalfOpen
	// StateOpen - calls are rejected
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Config configures a CircuitBreaker.
type Config struct {
	// Name appears in logs and state change callbacks.
	Name string
	// MaxFailures is the number of consecutive failures that opens the circuit.
	MaxFailures uint32
	// Cooldown is how long the circuit stays open before a trial call.
	Cooldown time.Duration
	// SuccessThreshold is the number of trial successes that close it again.
	SuccessThreshold uint32
	// OnStateChange is called synchronously, outside the breaker lock.
	OnStateChange func(name string, from, to State)
}

// DefaultConfig returns 5 failures, 30s cooldown and a single trial call.
func DefaultConfig(name string) Config {
	return Config{Name: name, MaxFailures: 5, Cooldown: 30 * time.Second, SuccessThreshold: 1}
}

func (c *Config) validate() error {
	if c.MaxFailures == 0 {
		return fmt.Errorf("MaxFailures must be greater than 0")
	}
	if c.Cooldown <= 0 {
		return fmt.Errorf("Cooldown must be greater than 0")
	}
	if c.SuccessThreshold == 0 {
		c.SuccessThreshold = 1
	}
	if c.Name == "" {
		c.Name = "circuit-breaker"
	}
	return nil
}

// CircuitBreaker stops calling a failing dependency for a cooldown period.
type CircuitBreaker struct {
	cfg Config
	now func() time.Time

	mu         sync.Mutex
	state      State
	generation uint64
	failures   uint32
	successes  uint32
	expiry     time.Time
}

// New validates cfg and returns a closed breaker.
func New(cfg Config) (*CircuitBreaker, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid circuit breaker config: %w", err)
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}, nil
}

// Execute runs fn unless the circuit is open. A failed fn counts against
// the breaker; a cancelled ctx does not.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	gen, err := cb.before()
	if err != nil {
		return err
	}
	err = fn(ctx)
	cb.after(gen, err == nil || errors.Is(err, context.Canceled))
	return err
}

// State returns the current state, moving open to half-open once the
// cooldown has passed.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	from := cb.state
	to := cb.advance()
	cb.mu.Unlock()
	cb.notify(from, to)
	return to
}

// Name returns the configured name.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

func (cb *CircuitBreaker) before() (uint64, error) {
	cb.mu.Lock()
	from := cb.state
	to := cb.advance()
	gen := cb.generation
	cb.mu.Unlock()
	cb.notify(from, to)

	if to == StateOpen {
		return gen, ErrCircuitOpen
	}
	return gen, nil
}

func (cb *CircuitBreaker) after(gen uint64, ok bool) {
	cb.mu.Lock()
	if gen != cb.generation {
		cb.mu.Unlock()
		return
	}
	from := cb.state
	if ok {
		cb.failures = 0
		cb.successes++
		if cb.state == StateHalfOpen && cb.successes >= cb.cfg.SuccessThreshold {
			cb.set(StateClosed)
		}
	} else {
		cb.successes = 0
		cb.failures++
		if cb.state == StateHalfOpen || cb.failures >= cb.cfg.MaxFailures {
			cb.set(StateOpen)
		}
	}
	to := cb.state
	cb.mu.Unlock()
	cb.notify(from, to)
}

// advance must be called with mu held.
func (cb *CircuitBreaker) advance() State {
	if cb.state == StateOpen && !cb.now().Before(cb.expiry) {
		cb.set(StateHalfOpen)
	}
	return cb.state
}

// set must be called with mu held.
func (cb *CircuitBreaker) set(s State) {
	cb.state = s
	cb.generation++
	cb.failures, cb.successes = 0, 0
	if s == StateOpen {
		cb.expiry = cb.now().Add(cb.cfg.Cooldown)
	}
}

func (cb *CircuitBreaker) notify(from, to State) {
	if from != to && cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}
