package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/reelay/reelay/internal/clock"
	"github.com/reelay/reelay/internal/observability/metrics"
	"go.uber.org/zap"
)

// waitPoll bounds how long a suspended caller sleeps between admission
// checks so an injected clock can move the window without real waiting.
const waitPoll = 10 * time.Millisecond

// Limiter admits at most limit operations per window. Callers over the
// budget are suspended, not rejected; admission order is not FIFO.
type Limiter struct {
	limit  int
	window time.Duration
	clk    clock.Clock
	log    *zap.Logger
	m      *metrics.Metrics

	mu          sync.Mutex
	windowStart time.Time
	used        int
}

// New builds a limiter over the given budget. The metrics handle may be nil.
func New(limit int, window time.Duration, clk clock.Clock, log *zap.Logger, m *metrics.Metrics) *Limiter {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Limiter{
		limit:  limit,
		window: window,
		clk:    clk,
		log:    log,
		m:      m,
	}
}

// Do runs fn once a slot is available. The operation's error propagates
// unchanged; the limiter never retries.
func (l *Limiter) Do(ctx context.Context, label string, fn func(context.Context) error) error {
	if err := l.reserve(ctx, label); err != nil {
		return err
	}
	return fn(ctx)
}

// Execute runs fn under the limiter and returns its result.
func Execute[T any](ctx context.Context, l *Limiter, label string, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := l.Do(ctx, label, func(ctx context.Context) error {
		var innerErr error
		out, innerErr = fn(ctx)
		return innerErr
	})
	return out, err
}

func (l *Limiter) reserve(ctx context.Context, label string) error {
	start := l.clk.Now()
	waited := false

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		l.mu.Lock()
		now := l.clk.Now()
		if l.windowStart.IsZero() || now.Sub(l.windowStart) >= l.window {
			l.windowStart = now
			l.used = 0
		}
		if l.used < l.limit {
			l.used++
			l.mu.Unlock()
			l.m.RecordRateLimitAllowed(ctx, label)
			if waited {
				wait := l.clk.Now().Sub(start)
				l.m.RecordRateLimitWait(ctx, label, wait)
				l.log.Debug("rate limit slot acquired",
					zap.String("label", label),
					zap.Duration("waited", wait),
				)
			}
			return nil
		}
		remaining := l.window - now.Sub(l.windowStart)
		l.mu.Unlock()

		if !waited {
			waited = true
			l.m.RecordRateLimitDelayed(ctx, label, "window_exhausted")
			l.log.Debug("rate limit window exhausted, caller suspended",
				zap.String("label", label),
				zap.Duration("window_remaining", remaining),
			)
		}

		sleep := remaining
		if sleep > waitPoll || sleep <= 0 {
			sleep = waitPoll
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}
