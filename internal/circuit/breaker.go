// Package circuit stops dialing clusters that keep failing to connect. A
// breaker opens after a run of consecutive failures, rejects calls until its
// timeout passes, then lets one trial call through.
package circuit

import (
	"context"
	stderrors "errors"
	"sort"
	"sync"
	"time"

	"github.com/namedfs/namedfs/pkg/errors"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed lets calls through.
	StateClosed State = iota
	// StateOpen rejects calls.
	StateOpen
	// StateHalfOpen lets one trial call through.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the state name in stats output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Config contains circuit breaker configuration
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// breaker. Zero disables breaking.
	FailureThreshold uint32 `yaml:"failure_threshold"`

	// Timeout is how long an open breaker rejects calls.
	Timeout time.Duration `yaml:"timeout"`

	OnStateChange func(name string, from, to State) `yaml:"-"`
}

// Enabled reports whether breakers built from c can trip.
func (c Config) Enabled() bool {
	return c.FailureThreshold > 0
}

// Counts holds the outcome counters since the last state change.
type Counts struct {
	Requests            uint32    `json:"requests"`
	TotalFailures       uint32    `json:"total_failures"`
	ConsecutiveFailures uint32    `json:"consecutive_failures"`
	LastActivity        time.Time `json:"last_activity"`
}

// CircuitBreaker guards one cluster connection.
type CircuitBreaker struct {
	name   string
	config Config

	mu       sync.Mutex
	state    State
	counts   Counts
	expiry   time.Time
	trialing bool
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(name string, config Config) *CircuitBreaker {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &CircuitBreaker{name: name, config: config}
}

// Execute runs fn unless the breaker is open. Cancellation of ctx is not
// counted as a failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.afterRequest(err == nil || stderrors.Is(err, context.Canceled))
	return err
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentState(time.Now()) {
	case StateOpen:
		return cb.rejected("circuit open after repeated connect failures")
	case StateHalfOpen:
		if cb.trialing {
			return cb.rejected("circuit half-open, trial call in flight")
		}
		cb.trialing = true
	}
	cb.counts.Requests++
	cb.counts.LastActivity = time.Now()
	return nil
}

func (cb *CircuitBreaker) afterRequest(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	state := cb.currentState(now)
	if state == StateHalfOpen {
		cb.trialing = false
	}
	if success {
		cb.counts.ConsecutiveFailures = 0
		if state == StateHalfOpen {
			cb.setState(StateClosed, now)
		}
		return
	}

	cb.counts.TotalFailures++
	cb.counts.ConsecutiveFailures++
	switch state {
	case StateClosed:
		if cb.config.Enabled() && cb.counts.ConsecutiveFailures >= cb.config.FailureThreshold {
			cb.setState(StateOpen, now)
		}
	case StateHalfOpen:
		cb.setState(StateOpen, now)
	}
}

func (cb *CircuitBreaker) currentState(now time.Time) State {
	if cb.state == StateOpen && !cb.expiry.After(now) {
		cb.setState(StateHalfOpen, now)
	}
	return cb.state
}

func (cb *CircuitBreaker) setState(state State, now time.Time) {
	prev := cb.state
	if prev == state {
		return
	}
	cb.state = state
	cb.counts = Counts{}
	cb.trialing = false
	cb.expiry = time.Time{}
	if state == StateOpen {
		cb.expiry = now.Add(cb.config.Timeout)
	}
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.name, prev, state)
	}
}

func (cb *CircuitBreaker) rejected(msg string) error {
	return errors.NewError(errors.ErrCodeClusterInitialization, msg).
		WithComponent("circuit").
		WithContext("breaker", cb.name).
		WithContext("retry_after", cb.expiry.Format(time.RFC3339))
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState(time.Now())
}

// GetCounts returns a copy of the current counts
func (cb *CircuitBreaker) GetCounts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

// Reset closes the breaker.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.setState(StateClosed, time.Now())
	cb.counts = Counts{}
}

// Name returns the name of the circuit breaker
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Manager hands out one breaker per name.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	config   Config
}

// NewManager creates a new circuit breaker manager
func NewManager(config Config) *Manager {
	return &Manager{
		breakers: make(map[string]*CircuitBreaker),
		config:   config,
	}
}

// Enabled reports whether the manager's breakers can trip.
func (m *Manager) Enabled() bool {
	return m.config.Enabled()
}

// GetBreaker gets or creates the breaker called name.
func (m *Manager) GetBreaker(name string) *CircuitBreaker {
	m.mu.RLock()
	breaker, ok := m.breakers[name]
	m.mu.RUnlock()
	if ok {
		return breaker
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if breaker, ok := m.breakers[name]; ok {
		return breaker
	}
	breaker = NewCircuitBreaker(name, m.config)
	m.breakers[name] = breaker
	return breaker
}

// Stats describes one breaker.
type Stats struct {
	Name   string `json:"name"`
	State  State  `json:"state"`
	Counts Counts `json:"counts"`
}

// GetStats returns every breaker that is not closed, sorted by name.
func (m *Manager) GetStats() []Stats {
	m.mu.RLock()
	breakers := make([]*CircuitBreaker, 0, len(m.breakers))
	for _, b := range m.breakers {
		breakers = append(breakers, b)
	}
	m.mu.RUnlock()

	var out []Stats
	for _, b := range breakers {
		if st := b.GetState(); st != StateClosed {
			out = append(out, Stats{Name: b.Name(), State: st, Counts: b.GetCounts()})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
