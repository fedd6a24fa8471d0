package collab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/dyluth/agora/internal/config"
	"github.com/dyluth/agora/pkg/fault"
)

// Default breaker settings, used for zero config values.
const (
	defaultMaxFailures uint32        = 5
	defaultOpenTimeout time.Duration = 30 * time.Second
	defaultInterval    time.Duration = 60 * time.Second
	defaultCallTimeout time.Duration = 30 * time.Second
)

// guard runs collaborator calls under a timeout and a circuit breaker.
type guard struct {
	breaker *gobreaker.CircuitBreaker[any]
	timeout time.Duration
}

func newGuard(name string, cfg config.BreakerConfig, timeout time.Duration, logger *slog.Logger) *guard {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultMaxFailures
	}
	openTimeout := cfg.OpenTimeout
	if openTimeout == 0 {
		openTimeout = defaultOpenTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultInterval
	}
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "collaborator:" + name,
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return &guard{breaker: cb, timeout: timeout}
}

// State returns the breaker state for health reporting.
func (g *guard) State() gobreaker.State {
	return g.breaker.State()
}

type outcome struct {
	value any
	err   error
}

// call runs fn through g. A collaborator that ignores its context still cannot hold
// the caller past the timeout.
func call[T any](ctx context.Context, g *guard, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	v, err := g.breaker.Execute(func() (any, error) {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		done := make(chan outcome, 1)
		go func() {
			v, err := fn(callCtx)
			done <- outcome{value: v, err: err}
		}()

		select {
		case o := <-done:
			return o.value, o.err
		case <-callCtx.Done():
			return nil, callCtx.Err()
		}
	})
	if err != nil {
		return zero, classify(op, err)
	}
	out, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%s: unexpected collaborator result %T", op, v)
	}
	return out, nil
}

func classify(op string, err error) error {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return &fault.Error{Op: op, Kind: fault.ErrRetryable, Err: err, Detail: "collaborator circuit open"}
	case errors.Is(err, context.DeadlineExceeded):
		return &fault.Error{Op: op, Kind: fault.ErrRetryable, Err: err, Detail: "collaborator timed out"}
	case errors.Is(err, fault.ErrInvalidArgument), errors.Is(err, fault.ErrNotFound),
		errors.Is(err, fault.ErrUnauthorized), errors.Is(err, fault.ErrRetryable):
		return fault.Wrap(op, "", err)
	default:
		return fault.Retryable(op, err)
	}
}
