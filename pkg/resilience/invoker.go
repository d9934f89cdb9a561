// Package resilience wraps external calls with error classification and
// bounded exponential-backoff retry.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/newsroom/pkg/domain"
	"github.com/aescanero/newsroom/pkg/ports"
)

// Policy controls retry behaviour. MaxAttempts counts the first call.
type Policy struct {
	MaxAttempts int
	Base        float64
	MaxDelay    time.Duration
}

// DefaultPolicy is three attempts with 2s and 4s pauses.
var DefaultPolicy = Policy{MaxAttempts: 3, Base: 2, MaxDelay: time.Minute}

// Backoff returns the pause after the given failed attempt: Base^attempt
// seconds, capped at MaxDelay.
func (p Policy) Backoff(attempt int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = 2
	}
	seconds := math.Pow(base, float64(attempt))
	delay := time.Duration(seconds * float64(time.Second))
	if p.MaxDelay > 0 && (delay > p.MaxDelay || seconds > p.MaxDelay.Seconds()) {
		return p.MaxDelay
	}
	return delay
}

// Sleeper pauses for d or until ctx ends.
type Sleeper func(ctx context.Context, d time.Duration) error

// RetryAfterError is implemented by errors that carry a server-requested delay.
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

// Invoker runs operations under a Policy.
type Invoker struct {
	policy  Policy
	sleep   Sleeper
	logger  *zap.Logger
	metrics ports.MetricsCollector
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithSleeper replaces the real timer, mainly for tests.
func WithSleeper(s Sleeper) Option {
	return func(i *Invoker) { i.sleep = s }
}

func WithLogger(logger *zap.Logger) Option {
	return func(i *Invoker) { i.logger = logger }
}

func WithMetrics(m ports.MetricsCollector) Option {
	return func(i *Invoker) { i.metrics = m }
}

// New creates an Invoker.
func New(policy Policy, opts ...Option) *Invoker {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	inv := &Invoker{
		policy:  policy,
		sleep:   timerSleep,
		logger:  zap.NewNop(),
		metrics: ports.NopMetrics{},
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Policy returns the invoker's retry policy.
func (i *Invoker) Policy() Policy {
	return i.policy
}

// Do runs fn, retrying transient failures. Permanent failures return
// immediately. After the last attempt the final error is returned wrapped, so
// errors.Is still matches its original kind.
func (i *Invoker) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= i.policy.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !Retryable(ctx, err) {
			return err
		}
		if attempt == i.policy.MaxAttempts {
			break
		}

		delay := i.policy.Backoff(attempt)
		var ra RetryAfterError
		if errors.As(err, &ra) && ra.RetryAfter() > delay {
			delay = ra.RetryAfter()
			if i.policy.MaxDelay > 0 && delay > i.policy.MaxDelay {
				delay = i.policy.MaxDelay
			}
		}

		i.metrics.RecordRetry(op)
		i.logger.Warn("transient failure, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", i.policy.MaxAttempts),
			zap.Duration("delay", delay),
			zap.Error(err))

		if err := i.sleep(ctx, delay); err != nil {
			return fmt.Errorf("%s: retry interrupted: %w", op, errors.Join(err, lastErr))
		}
	}
	return fmt.Errorf("%s: failed after %d attempts: %w", op, i.policy.MaxAttempts, lastErr)
}

// Call is Do for operations that return a value.
func Call[T any](ctx context.Context, inv *Invoker, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := inv.Do(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// Retryable reports whether err is a transient failure worth another attempt.
// Cancellation of ctx always stops retrying.
func Retryable(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	if errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrPermanent) {
		return false
	}
	if errors.Is(err, domain.ErrTransient) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

func timerSleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
