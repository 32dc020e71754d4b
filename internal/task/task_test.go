package task

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/yourorg/procurement-sync/internal/lock"
)

func TestGuardSkipsWhenHeld(t *testing.T) {
	ctx := context.Background()
	table := lock.NewMemoryTable()
	holder, other := table.Locker("holder"), table.Locker("other")
	key := lock.Key("contracts", "153080")

	ok, err := holder.TryAcquire(ctx, key, time.Minute)
	if err != nil || !ok {
		t.Fatalf("holder acquire: %v %v", ok, err)
	}

	called := false
	out, err := Guard(ctx, other, key, time.Minute, zaptest.NewLogger(t), func(context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	if !out.Skipped || out.Reason != ReasonAlreadyRunning || called {
		t.Fatalf("outcome %+v, called=%v", out, called)
	}
}

func TestGuardReleasesAfterFailure(t *testing.T) {
	ctx := context.Background()
	locker := lock.NewMemory()
	key := lock.Key("pncp", "window")
	boom := errors.New("boom")

	out, err := Guard(ctx, locker, key, time.Minute, nil, func(context.Context) error { return boom })
	if !errors.Is(err, boom) || out.Skipped {
		t.Fatalf("outcome %+v, err %v", out, err)
	}

	ok, err := locker.TryAcquire(ctx, key, time.Minute)
	if err != nil || !ok {
		t.Fatalf("lock must be released after a failed run: %v %v", ok, err)
	}
}

func TestGuardReleasesOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	locker := lock.NewMemory()
	key := lock.Key("inlabs", "2024-05-02")

	_, err := Guard(ctx, locker, key, time.Minute, nil, func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if ok, _ := locker.TryAcquire(context.Background(), key, time.Minute); !ok {
		t.Fatalf("lock kept after cancellation")
	}
}

func TestRetryStopsAfterBudget(t *testing.T) {
	var calls int
	var waits []time.Duration
	err := retry(context.Background(), DefaultPolicy, zaptest.NewLogger(t), func(context.Context) error {
		calls++
		return errors.New("upstream down")
	}, func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	})
	if err == nil {
		t.Fatalf("expected an error after the budget")
	}
	want := []time.Duration{120 * time.Second, 120 * time.Second, 120 * time.Second}
	if calls != 4 || !slices.Equal(waits, want) {
		t.Fatalf("calls=%d waits=%v", calls, waits)
	}
}

func TestRetryPermanentAndSuccess(t *testing.T) {
	noWait := func(context.Context, time.Duration) error { return nil }

	calls := 0
	err := retry(context.Background(), DefaultPolicy, nil, func(context.Context) error {
		calls++
		return Permanent(errors.New("bad config"))
	}, noWait)
	if !IsPermanent(err) || calls != 1 {
		t.Fatalf("permanent: calls=%d err=%v", calls, err)
	}

	calls = 0
	err = retry(context.Background(), DefaultPolicy, nil, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	}, noWait)
	if err != nil || calls != 3 {
		t.Fatalf("flaky: calls=%d err=%v", calls, err)
	}
}

func TestScopeOf(t *testing.T) {
	for key, want := range map[string]string{"contracts:lock:1": "contracts", "plain": "plain"} {
		if got := scopeOf(key); got != want {
			t.Fatalf("scopeOf(%q) = %q", key, got)
		}
	}
}
