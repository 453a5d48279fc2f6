// Package breaker implements a minimal circuit breaker used to protect
// calls to external collaborators (planner, SMS/voice gateway, warehouse)
// from cascading failures.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/carewatch/guardian/internal/platform/logging"
)

// ErrOpen is returned by Execute when the breaker is open and a call is
// rejected without being attempted.
var ErrOpen = errors.New("circuit breaker: open")

// State is the breaker's current posture.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Config controls when the breaker trips and how it recovers.
type Config struct {
	// FailureThreshold is the number of consecutive failures that trips
	// the breaker from Closed to Open.
	FailureThreshold int
	// OpenDuration is how long the breaker stays Open before admitting
	// trial calls (HalfOpen). HalfOpen does not limit how many calls are
	// admitted at once.
	OpenDuration time.Duration
	// HalfOpenSuccesses is how many consecutive HalfOpen successes are
	// required to close the breaker again.
	HalfOpenSuccesses int
}

// DefaultConfig returns sensible defaults for a gateway-style dependency.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:  5,
		OpenDuration:      30 * time.Second,
		HalfOpenSuccesses: 1,
	}
}

// Breaker is a process-local circuit breaker safe for concurrent use.
type Breaker struct {
	name   string
	cfg    Config
	logger logging.Logger

	mu              sync.Mutex
	state           State
	consecutiveFail int
	halfOpenOK      int
	openedAt        time.Time
}

// New creates a Breaker. logger may be nil.
func New(name string, cfg Config, logger logging.Logger) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.OpenDuration <= 0 {
		cfg.OpenDuration = DefaultConfig().OpenDuration
	}
	if cfg.HalfOpenSuccesses <= 0 {
		cfg.HalfOpenSuccesses = DefaultConfig().HalfOpenSuccesses
	}
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Breaker{name: name, cfg: cfg, logger: logger}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentStateLocked()
}

func (b *Breaker) currentStateLocked() State {
	if b.state == Open && time.Since(b.openedAt) >= b.cfg.OpenDuration {
		return HalfOpen
	}
	return b.state
}

// CanExecute reports whether a call would be allowed right now.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentStateLocked() != Open
}

// Execute runs fn under circuit-breaker protection. It returns ErrOpen
// without calling fn when the breaker is open.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	b.mu.Lock()
	state := b.currentStateLocked()
	if state == Open {
		b.mu.Unlock()
		b.logger.WarnWithContext(ctx, "circuit breaker rejected call", logging.Fields{
			"breaker": b.name,
		})
		return ErrOpen
	}
	if state == HalfOpen {
		b.state = HalfOpen
	}
	b.mu.Unlock()

	err := fn(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.consecutiveFail++
		b.halfOpenOK = 0
		if b.consecutiveFail >= b.cfg.FailureThreshold || state == HalfOpen {
			b.trip()
		}
		return err
	}

	b.consecutiveFail = 0
	if state == HalfOpen {
		b.halfOpenOK++
		if b.halfOpenOK >= b.cfg.HalfOpenSuccesses {
			b.reset()
		}
	}
	return nil
}

// ExecuteWithTimeout runs fn with both breaker protection and a timeout.
func (b *Breaker) ExecuteWithTimeout(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	return b.Execute(ctx, func(ctx context.Context) error {
		tctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return fn(tctx)
	})
}

// Reset forces the breaker back to Closed, clearing all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reset()
}

func (b *Breaker) reset() {
	b.state = Closed
	b.consecutiveFail = 0
	b.halfOpenOK = 0
	b.logger.Info("circuit breaker closed", logging.Fields{"breaker": b.name})
}

func (b *Breaker) trip() {
	b.state = Open
	b.openedAt = time.Now()
	b.halfOpenOK = 0
	b.logger.Warn("circuit breaker opened", logging.Fields{"breaker": b.name})
}
