package backend

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/clamflow/clamflow-bff/internal/config"
)

// BreakerState is the backend breaker's state. Its numeric value is what
// the circuit breaker gauge exports: 0 closed, 1 half-open, 2 open.
type BreakerState = gobreaker.State

const (
	BreakerClosed   = gobreaker.StateClosed
	BreakerHalfOpen = gobreaker.StateHalfOpen
	BreakerOpen     = gobreaker.StateOpen
)

const (
	breakerName         = "clamflow-backend"
	minErrorRateSamples = 10
)

// CircuitBreaker guards the plant backend. It opens on a run of consecutive
// failures, or when the failure ratio inside a counting window crosses the
// configured rate, and probes again after the open timeout. 4xx responses
// count as healthy.
type CircuitBreaker struct {
	cb *gobreaker.TwoStepCircuitBreaker
}

func newCircuitBreaker(cfg config.CircuitBreakerConfig, onChange func(from, to BreakerState)) *CircuitBreaker {
	failures := cfg.FailureThreshold
	if failures < 1 {
		failures = 5
	}
	successes := cfg.SuccessThreshold
	if successes < 1 {
		successes = 2
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rate, window := cfg.ErrorRateThreshold, cfg.ErrorRateWindow
	if rate <= 0 {
		window = 0
	}

	return &CircuitBreaker{cb: gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: uint32(successes),
		Interval:    window,
		Timeout:     timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			if c.ConsecutiveFailures >= uint32(failures) {
				return true
			}
			if window <= 0 || c.Requests < minErrorRateSamples {
				return false
			}
			return float64(c.TotalFailures)/float64(c.Requests) >= rate
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			if onChange != nil {
				onChange(from, to)
			}
		},
	})}
}

// Allow reserves a call. A nil error means the call may proceed and done
// must be called exactly once with its outcome.
func (b *CircuitBreaker) Allow() (done func(success bool), err error) {
	done, err = b.cb.Allow()
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrBreakerOpen
	}
	return done, err
}

// State reports the current state.
func (b *CircuitBreaker) State() BreakerState {
	return b.cb.State()
}

// ErrBreakerOpen is returned by Allow while calls are refused.
var ErrBreakerOpen = errors.New("backend: circuit breaker is open")
