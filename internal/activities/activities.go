package activities

import (
	"context"
	"errors"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/yourorg/procurement-sync/internal/comprasnet"
	"github.com/yourorg/procurement-sync/internal/db"
	"github.com/yourorg/procurement-sync/internal/inlabs"
	"github.com/yourorg/procurement-sync/internal/lock"
	"github.com/yourorg/procurement-sync/internal/pncp"
	"github.com/yourorg/procurement-sync/internal/records"
	"github.com/yourorg/procurement-sync/internal/storage"
	"github.com/yourorg/procurement-sync/internal/task"
	"github.com/yourorg/procurement-sync/internal/types"
)

// Lock scopes. Keys are lock.Key(scope, id).
const (
	ScopeContracts = "comprasnet"
	ScopeChildren  = "comprasnet_children"
	ScopePNCP      = "pncp"
	ScopeInlabs    = "inlabs"
)

type Config struct {
	// LockTTL bounds how long a crashed run keeps its resource locked.
	LockTTL time.Duration
	// HeartbeatEvery is the keep-alive period while a sync runs.
	HeartbeatEvery time.Duration
	ValidityWindow time.Duration
	PNCP           pncp.Config
	// ArchivePrefix receives raw INLABS bundles; empty disables archiving.
	ArchivePrefix string
}

// ContractLister lists a unit's contracts still within their validity window.
type ContractLister interface {
	ListByUnit(ctx context.Context, uasg string, endedAfter time.Time) ([]records.ContractKey, error)
}

// Deps are the collaborators shared by every activity. Runs, Archive and
// Lister may be nil.
type Deps struct {
	Locker lock.Locker
	Runs   db.RunRepository

	ContractsAPI comprasnet.Fetcher
	Contracts    comprasnet.Stores
	Lister       ContractLister

	PNCPDiscovery pncp.Fetcher
	PNCPDetail    pncp.Fetcher
	PNCP          pncp.Stores

	Inlabs   inlabs.Fetcher
	Articles inlabs.Stores
	Archive  storage.ObjectStore

	Log *zap.Logger
	// Local marks a run outside a Temporal worker (the CLI): no heartbeats
	// and no activity logger.
	Local bool
}

type Activities struct {
	cfg Config
	d   Deps
	log *zap.Logger
	now func() time.Time
}

func New(cfg Config, d Deps) *Activities {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = lock.DefaultTTL
	}
	if cfg.HeartbeatEvery <= 0 {
		cfg.HeartbeatEvery = 20 * time.Second
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Locker == nil {
		d.Locker = lock.NewMemory()
	}
	return &Activities{cfg: cfg, d: d, log: d.Log, now: time.Now}
}

// invalid marks a parameter error so neither Temporal nor task.Retry
// retries it.
func invalid(err error) error {
	return temporal.NewNonRetryableApplicationError(err.Error(), "InvalidParams", task.Permanent(err))
}

func (a *Activities) info(ctx context.Context, msg string, kv ...any) {
	if a.d.Local {
		a.log.Sugar().Infow(msg, kv...)
		return
	}
	activity.GetLogger(ctx).Info(msg, kv...)
}

func (a *Activities) heartbeat(ctx context.Context, details ...any) {
	if !a.d.Local {
		activity.RecordHeartbeat(ctx, details...)
	}
}

// guardOnly takes the lock for (scope, id) around fn without recording a run.
func (a *Activities) guardOnly(ctx context.Context, scope, id string, fn func(ctx context.Context) error) (task.Outcome, error) {
	return task.Guard(ctx, a.d.Locker, lock.Key(scope, id), a.cfg.LockTTL, a.log, fn)
}

// keepAlive heartbeats until the returned stop is called.
func (a *Activities) keepAlive(ctx context.Context, scope string) (stop func()) {
	if a.d.Local {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(a.cfg.HeartbeatEvery)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				a.heartbeat(ctx, scope)
			}
		}
	}()
	return func() { close(done) }
}

// guarded runs fn under the lock for (scope, id) and records the run. A
// held lock yields skipped stats and no error. Dry runs are not recorded.
func (a *Activities) guarded(ctx context.Context, scope, id string, dryRun bool, fn func(ctx context.Context) (types.RunStats, error)) (types.RunStats, error) {
	key := lock.Key(scope, id)
	log := a.log.With(zap.String("lock", key))
	stats := types.RunStats{Pipeline: scope, Scope: id}

	var ran types.RunStats
	out, err := task.Guard(ctx, a.d.Locker, key, a.cfg.LockTTL, log, func(ctx context.Context) error {
		record := a.d.Runs != nil && !dryRun
		var run db.Run
		if record {
			var err error
			if run, err = a.d.Runs.Start(ctx, scope, id); err != nil {
				log.Warn("run record not started", zap.Error(err))
				record = false
			}
		}
		stop := a.keepAlive(ctx, key)
		var err error
		ran, err = fn(ctx)
		stop()
		if record {
			a.finish(ctx, log, run.ID, ran, err)
		}
		return err
	})
	if out.Skipped {
		stats.Skipped, stats.SkipReason = true, out.Reason
		a.info(ctx, "sync skipped", "lock", key, "reason", out.Reason)
		return stats, nil
	}
	ran.Pipeline, ran.Scope = stats.Pipeline, stats.Scope
	return ran, err
}

func (a *Activities) finish(ctx context.Context, log *zap.Logger, id int64, stats types.RunStats, runErr error) {
	status := db.RunDone
	var msg *string
	if runErr != nil {
		status = db.RunFailed
		s := runErr.Error()
		msg = &s
	}
	// The run context may already be cancelled; the record must still land.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := a.d.Runs.Finish(fctx, id, status, msg, stats); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("run record not finished", zap.Int64("run", id), zap.Error(err))
	}
}
