// Package resilience provides the fault-tolerance primitives used around
// every remote call: an unbounded exponential-backoff retrier and a
// context-based timeout wrapper.
package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"

	apperrors "github.com/Adithya-Monish-Kumar-K/movies-search-etl/pkg/errors"
)

// Backoff describes the delay before each retry: InitialDelay * Multiplier^n
// for the n-th retry, clamped to MaxDelay.
type Backoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

func defaultBackoff() Backoff {
	return Backoff{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}
}

func (b Backoff) withDefaults() Backoff {
	defaults := defaultBackoff()
	if b.InitialDelay <= 0 {
		b.InitialDelay = defaults.InitialDelay
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = defaults.MaxDelay
	}
	if b.MaxDelay < b.InitialDelay {
		b.MaxDelay = b.InitialDelay
	}
	if b.Multiplier < 1 {
		b.Multiplier = defaults.Multiplier
	}
	return b
}

// Delay returns the sleep before retry number attempt (1-based). Once the
// computed delay reaches MaxDelay every later attempt sleeps MaxDelay.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(b.InitialDelay) * math.Pow(b.Multiplier, float64(attempt))
	if math.IsInf(d, 0) || math.IsNaN(d) || d >= float64(b.MaxDelay) {
		return b.MaxDelay
	}
	return time.Duration(d)
}

// Observer is notified before each backoff sleep.
type Observer func(operation string, attempt int, delay time.Duration, err error)

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Retrier retries an operation until it succeeds, fails permanently, or the
// context is cancelled. There is no attempt limit.
type Retrier struct {
	backoff        Backoff
	attemptTimeout time.Duration
	sleep          SleepFunc
	observe        Observer
	logger         *slog.Logger
}

// Option customizes a Retrier.
type Option func(*Retrier)

// WithSleep replaces the function used to wait between attempts.
func WithSleep(fn SleepFunc) Option {
	return func(r *Retrier) { r.sleep = fn }
}

// WithObserver registers a callback invoked before every backoff sleep.
func WithObserver(fn Observer) Option {
	return func(r *Retrier) { r.observe = fn }
}

// WithAttemptTimeout bounds each individual attempt. Zero disables it.
func WithAttemptTimeout(d time.Duration) Option {
	return func(r *Retrier) { r.attemptTimeout = d }
}

// NewRetrier creates a Retrier, filling in defaults for zero backoff values.
func NewRetrier(b Backoff, opts ...Option) *Retrier {
	r := &Retrier{
		backoff: b.withDefaults(),
		sleep:   Sleep,
		logger:  slog.Default().With("component", "retry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Do runs fn until it returns nil. Every failure is logged before sleeping.
// Errors classified as permanent are returned immediately.
func (r *Retrier) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	logger := r.logger.With("operation", name)
	var (
		attempts int
		last     error
	)
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			attempts++
			last = r.attempt(ctx, name, fn)
			return last
		},
		IsFatalError: func(err error) bool {
			return apperrors.IsPermanent(err) || ctx.Err() != nil
		},
		NotifyFunc: func(err error, attempt int) {
			delay := r.backoff.Delay(attempt)
			logger.Warn("operation failed, retrying", "attempt", attempt, "error", err, "next_delay", delay)
			if r.observe != nil {
				r.observe(name, attempt, delay, err)
			}
		},
		BackoffFunc: func(_ time.Duration, attempt int) time.Duration {
			return r.backoff.Delay(attempt)
		},
		Attempts: -1,
		Delay:    r.backoff.InitialDelay,
		MaxDelay: r.backoff.MaxDelay,
		Clock:    sleepClock{ctx: ctx, sleep: r.sleep},
		Stop:     ctx.Done(),
	})
	switch {
	case err == nil:
		if attempts > 1 {
			logger.Info("succeeded after retry", "attempt", attempts)
		}
		return nil
	case apperrors.IsPermanent(last):
		logger.Error("operation failed permanently", "attempt", attempts, "error", last)
		return last
	case retry.IsRetryStopped(err):
		return fmt.Errorf("retry aborted during backoff: %w", ctx.Err())
	case ctx.Err() != nil:
		return fmt.Errorf("retry aborted: %w", ctx.Err())
	default:
		return fmt.Errorf("%s: %w", name, last)
	}
}

// sleepClock is the clock retry.Call waits on. After blocks in the
// configured SleepFunc; when the sleep is cut short by ctx it returns a nil
// channel, leaving ctx.Done() as the only ready case.
type sleepClock struct {
	ctx   context.Context
	sleep SleepFunc
}

var _ clock.Clock = sleepClock{}

func (c sleepClock) Now() time.Time { return time.Now() }

func (c sleepClock) After(d time.Duration) <-chan time.Time {
	if err := c.sleep(c.ctx, d); err != nil {
		return nil
	}
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func (c sleepClock) AfterFunc(d time.Duration, f func()) clock.Timer {
	return clock.WallClock.AfterFunc(d, f)
}

func (c sleepClock) NewTimer(d time.Duration) clock.Timer {
	return clock.WallClock.NewTimer(d)
}

func (r *Retrier) attempt(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if r.attemptTimeout <= 0 {
		return fn(ctx)
	}
	return WithTimeout(ctx, r.attemptTimeout, name, fn)
}

// Value is Do for operations that produce a result.
func Value[T any](ctx context.Context, r *Retrier, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, name, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

// Sleep waits for d, returning early with ctx.Err() if ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
