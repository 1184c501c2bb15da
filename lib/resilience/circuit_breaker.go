// Package resilience protects backends from a pool that keeps creating
// resources while the backend is failing.
//
// A Breaker trips after consecutive failures and rejects calls until a
// timeout has passed, then lets a few probe calls through:
//
//	Closed (normal) -> Open (failing) -> HalfOpen (probing) -> Closed
//	                     ^                    |
//	                     +--------------------+ (if a probe fails)
//
// Guard wraps a pool.Manager so that Create goes through a Breaker and an
// optional rate limiter.
package resilience

import (
	"context"
	"sync"
	"time"
)

// State is the state of a Breaker.
type State int

const (
	// StateClosed lets every call through.
	StateClosed State = iota
	// StateOpen rejects every call.
	StateOpen
	// StateHalfOpen lets a limited number of probe calls through.
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

// BreakerConfig configures a Breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that open the
	// circuit.
	FailureThreshold int
	// SuccessThreshold is the number of successful probes that close it again.
	SuccessThreshold int
	// OpenTimeout is how long the circuit stays open before probing.
	OpenTimeout time.Duration
	// MaxHalfOpenRequests caps concurrent probes.
	MaxHalfOpenRequests int
	// IsFailure decides which errors count against the backend.
	// Default: every non-nil error.
	IsFailure func(error) bool
}

// DefaultBreakerConfig returns sensible defaults for guarding resource
// creation.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		OpenTimeout:         10 * time.Second,
		MaxHalfOpenRequests: 2,
	}
}

// Breaker is a circuit breaker. It is safe for concurrent use.
type Breaker struct {
	mu     sync.Mutex
	config BreakerConfig
	name   string

	state State
	// failures counts consecutive failures while closed, successes counts
	// successful probes while half-open.
	failures  int
	successes int
	probes    int

	openedAt        time.Time
	lastFailure     time.Time
	lastStateChange time.Time

	onStateChange func(from, to State)
}

// NewBreaker creates a closed Breaker. Zero config fields take their
// defaults.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if cfg.MaxHalfOpenRequests <= 0 {
		cfg.MaxHalfOpenRequests = def.MaxHalfOpenRequests
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool { return err != nil }
	}

	CircuitState.With(name).Set(int64(StateClosed))
	return &Breaker{
		config:          cfg,
		name:            name,
		lastStateChange: time.Now(),
	}
}

// OnStateChange registers fn to be called, in its own goroutine, on every
// state transition.
func (b *Breaker) OnStateChange(fn func(from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChange = fn
}

// Name returns the breaker's name.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state. An open circuit whose timeout has
// passed reports half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentLocked()
}

func (b *Breaker) currentLocked() State {
	if b.state == StateOpen && time.Since(b.openedAt) >= b.config.OpenTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Allow reserves a call. It returns ErrCircuitOpen when the call must be
// rejected; otherwise the caller must report the outcome with Done.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && time.Since(b.openedAt) >= b.config.OpenTimeout {
		b.transitionLocked(StateHalfOpen)
	}

	switch b.state {
	case StateClosed:
		return nil
	case StateHalfOpen:
		if b.probes < b.config.MaxHalfOpenRequests {
			b.probes++
			return nil
		}
	}
	CircuitRejectionsTotal.With(b.name).Inc()
	return ErrCircuitOpen
}

// Done reports the outcome of a call admitted by Allow. Errors caused by
// ctx ending are not held against the backend.
func (b *Breaker) Done(ctx context.Context, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen && b.probes > 0 {
		b.probes--
	}

	switch {
	case err != nil && ctx.Err() != nil:
		return
	case err != nil && b.config.IsFailure(err):
		b.failureLocked()
	default:
		b.successLocked()
	}
}

func (b *Breaker) successLocked() {
	CircuitSuccessesTotal.With(b.name).Inc()
	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.transitionLocked(StateClosed)
		}
	}
}

func (b *Breaker) failureLocked() {
	CircuitFailuresTotal.With(b.name).Inc()
	b.lastFailure = time.Now()
	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.transitionLocked(StateOpen)
		}
	case StateHalfOpen:
		b.transitionLocked(StateOpen)
	}
}

func (b *Breaker) transitionLocked(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.lastStateChange = time.Now()
	b.failures = 0
	b.successes = 0
	b.probes = 0
	if to == StateOpen {
		b.openedAt = b.lastStateChange
		CircuitTripsTotal.With(b.name).Inc()
	}
	CircuitState.With(b.name).Set(int64(to))

	log.WithField("circuit", b.name).
		WithField("from", from.String()).
		WithField("to", to.String()).
		Info("circuit breaker state transition")

	if b.onStateChange != nil {
		go b.onStateChange(from, to)
	}
}

// Execute runs fn if the circuit allows it and records the outcome.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		b.Done(ctx, err)
		return err
	}
	err := fn(ctx)
	b.Done(ctx, err)
	return err
}

// ForceOpen opens the circuit regardless of its state.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionLocked(StateOpen)
}

// Reset closes the circuit and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionLocked(StateClosed)
	b.failures = 0
	b.successes = 0
	b.probes = 0
	b.openedAt = time.Time{}
}

// BreakerStats is a snapshot of a Breaker.
type BreakerStats struct {
	Name            string
	State           State
	Failures        int
	Successes       int
	Probes          int
	LastFailure     time.Time
	LastStateChange time.Time
}

// Stats returns a snapshot of the breaker.
func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStats{
		Name:            b.name,
		State:           b.currentLocked(),
		Failures:        b.failures,
		Successes:       b.successes,
		Probes:          b.probes,
		LastFailure:     b.lastFailure,
		LastStateChange: b.lastStateChange,
	}
}
