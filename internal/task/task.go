// Package task wraps scheduled sync runs: a run only starts if it can take
// the task's lock, and a failed run is retried as a whole after a fixed pause.
package task

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/yourorg/procurement-sync/internal/lock"
	znmetrics "github.com/yourorg/procurement-sync/internal/metrics"
)

// Outcome reports what Guard did.
type Outcome struct {
	Skipped bool
	Reason  string
}

// ReasonAlreadyRunning is the skip reason when the lock is held elsewhere.
const ReasonAlreadyRunning = "already running"

// releaseTimeout bounds the deferred release, which runs on a fresh context
// so a cancelled run still frees its lock.
const releaseTimeout = 10 * time.Second

// Guard runs fn while holding key. When another holder has it, fn is not
// called and the outcome is Skipped.
func Guard(ctx context.Context, locker lock.Locker, key string, ttl time.Duration, log *zap.Logger, fn func(ctx context.Context) error) (Outcome, error) {
	if log == nil {
		log = zap.NewNop()
	}
	ok, err := locker.TryAcquire(ctx, key, ttl)
	if err != nil {
		return Outcome{}, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		znmetrics.LockSkips.WithLabelValues(scopeOf(key)).Inc()
		log.Info("task skipped", zap.String("lock", key), zap.String("reason", ReasonAlreadyRunning))
		return Outcome{Skipped: true, Reason: ReasonAlreadyRunning}, nil
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		if err := locker.Release(rctx, key); err != nil {
			log.Warn("lock release failed", zap.String("lock", key), zap.Error(err))
		}
	}()
	return Outcome{}, fn(ctx)
}

func scopeOf(key string) string {
	if i := strings.Index(key, ":lock:"); i >= 0 {
		return key[:i]
	}
	return key
}

// Policy is the whole-task retry policy.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	Backoff    time.Duration
}

// DefaultPolicy retries a failed run three times, two minutes apart.
var DefaultPolicy = Policy{MaxRetries: 3, Backoff: 120 * time.Second}

type permanent struct{ err error }

func (p permanent) Error() string { return p.err.Error() }
func (p permanent) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanent{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p permanent
	return errors.As(err, &p)
}

// Retry calls fn until it succeeds, returns a permanent error, ctx ends, or
// the policy's retries are spent. The last error is returned.
func Retry(ctx context.Context, p Policy, log *zap.Logger, fn func(ctx context.Context) error) error {
	return retry(ctx, p, log, fn, sleep)
}

func retry(ctx context.Context, p Policy, log *zap.Logger, fn func(ctx context.Context) error, wait func(context.Context, time.Duration) error) error {
	if log == nil {
		log = zap.NewNop()
	}
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(ctx); err == nil || IsPermanent(err) || ctx.Err() != nil {
			return err
		}
		if attempt >= p.MaxRetries {
			return err
		}
		log.Warn("task failed, retrying", zap.Int("attempt", attempt+1), zap.Duration("backoff", p.Backoff), zap.Error(err))
		if werr := wait(ctx, p.Backoff); werr != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
