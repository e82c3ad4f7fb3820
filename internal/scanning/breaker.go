package scanning

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ErrModelUnavailable is returned while the breaker is open
var ErrModelUnavailable = errors.New("model temporarily unavailable")

// BreakerSettings configures when a failing model is taken out of rotation
type BreakerSettings struct {
	// ConsecutiveFailures trips the breaker (default 5)
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open (default 30s)
	OpenTimeout time.Duration
}

// Breaker wraps a Model with a circuit breaker so that an unreachable or
// rate-limited provider fails fast instead of tying up every worker.
type Breaker struct {
	model Model
	cb    *gobreaker.CircuitBreaker[string]
}

// NewBreaker wraps model with a circuit breaker
func NewBreaker(model Model, settings BreakerSettings, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = 5
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = 30 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        model.Name(),
		MaxRequests: 1,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			// a cancelled or expired job says nothing about the provider's health
			var done *callerDoneError
			return err == nil || errors.Is(err, context.Canceled) || errors.As(err, &done)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("scanning.breaker.state_change", "model", name, "from", from.String(), "to", to.String())
		},
	})

	return &Breaker{model: model, cb: cb}
}

// Name returns the wrapped model's name
func (b *Breaker) Name() string {
	return b.model.Name()
}

// Invoke calls the wrapped model unless the breaker is open
func (b *Breaker) Invoke(ctx context.Context, req Request) (string, error) {
	out, err := b.cb.Execute(func() (string, error) {
		out, err := b.model.Invoke(ctx, req)
		if err != nil && ctx.Err() != nil {
			return "", &callerDoneError{err: err}
		}
		return out, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", errors.Join(ErrModelUnavailable, err)
	}
	var done *callerDoneError
	if errors.As(err, &done) {
		return "", done.err
	}
	return out, err
}

// callerDoneError marks a failure that happened after the caller's context
// was cancelled or timed out
type callerDoneError struct {
	err error
}

func (e *callerDoneError) Error() string { return e.err.Error() }

func (e *callerDoneError) Unwrap() error { return e.err }

// Close closes the wrapped model
func (b *Breaker) Close() error {
	return b.model.Close()
}
