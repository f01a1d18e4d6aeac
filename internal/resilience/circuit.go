package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal operating state.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects requests immediately after repeated failures.
	CircuitOpen
	// CircuitHalfOpen lets probe requests through to test recovery.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a call is rejected because the
// circuit is open.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// CircuitConfig controls circuit breaker behavior.
type CircuitConfig struct {
	// FailureThreshold is the number of consecutive busy failures
	// before opening the circuit. Default: 5.
	FailureThreshold int

	// ResetTimeout is how long the circuit stays open before a probe is
	// allowed. Default: 30s.
	ResetTimeout time.Duration

	// OnStateChange is called on every state transition.
	OnStateChange func(from, to CircuitState)
}

// DefaultCircuitConfig returns sensible defaults.
func DefaultCircuitConfig() CircuitConfig {
	return CircuitConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
}

// Circuit is a circuit breaker for one external service. Only busy-
// class failures count toward the threshold: a registry miss is an
// answer, not an outage signal.
type Circuit struct {
	cfg CircuitConfig

	mu       sync.Mutex
	state    CircuitState
	failures int
	openedAt time.Time

	nowFunc func() time.Time
}

// NewCircuit creates a circuit breaker with the given config.
func NewCircuit(cfg CircuitConfig) *Circuit {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &Circuit{cfg: cfg, state: CircuitClosed, nowFunc: time.Now}
}

// Execute runs fn through the breaker. Returns ErrCircuitOpen without
// calling fn when the circuit is open.
func (c *Circuit) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := c.allow(); err != nil {
		return err
	}
	err := fn(ctx)
	c.record(err)
	return err
}

// State returns the current breaker state.
func (c *Circuit) State() CircuitState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Circuit) allow() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == CircuitOpen {
		if c.nowFunc().Sub(c.openedAt) < c.cfg.ResetTimeout {
			return ErrCircuitOpen
		}
		c.transition(CircuitHalfOpen)
	}
	return nil
}

func (c *Circuit) record(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err == nil || Classify(err) != ClassBusy {
		if c.state != CircuitClosed {
			c.transition(CircuitClosed)
		}
		c.failures = 0
		return
	}

	c.failures++
	if c.state == CircuitHalfOpen || c.failures >= c.cfg.FailureThreshold {
		c.openedAt = c.nowFunc()
		c.transition(CircuitOpen)
	}
}

func (c *Circuit) transition(to CircuitState) {
	from := c.state
	c.state = to
	if c.cfg.OnStateChange != nil && from != to {
		c.cfg.OnStateChange(from, to)
	}
}
