// Package app assembles the sync activities from configuration: database
// pool, lock backend, upstream clients and archive store. The worker, the
// API and the CLI share it.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/yourorg/procurement-sync/internal/activities"
	"github.com/yourorg/procurement-sync/internal/comprasnet"
	"github.com/yourorg/procurement-sync/internal/config"
	"github.com/yourorg/procurement-sync/internal/db"
	"github.com/yourorg/procurement-sync/internal/fetch"
	"github.com/yourorg/procurement-sync/internal/inlabs"
	"github.com/yourorg/procurement-sync/internal/lock"
	"github.com/yourorg/procurement-sync/internal/pncp"
	"github.com/yourorg/procurement-sync/internal/storage"
)

// App owns the long-lived resources behind the activities.
type App struct {
	Cfg        *config.Config
	Pool       *db.Pool
	Activities *activities.Activities

	closers []func()
}

// Options tweak Build for the CLI.
type Options struct {
	// Local runs activities outside a Temporal worker.
	Local bool
	// MaxRetries, when positive, overrides every pipeline's retry budget.
	MaxRetries int
	// PageSize, when positive, overrides the PNCP listing page size and
	// detail batch size.
	PageSize int
}

// Build connects to Postgres and wires every pipeline.
func Build(ctx context.Context, cfg *config.Config, dbCfg db.Config, log *zap.Logger, opts Options) (*App, error) {
	pool, err := db.Connect(ctx, dbCfg)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	a := &App{Cfg: cfg, Pool: pool}
	a.closers = append(a.closers, pool.Close)

	locker, closeLocker, err := NewLocker(cfg.Lock, pool)
	if err != nil {
		a.Close()
		return nil, err
	}
	if closeLocker != nil {
		a.closers = append(a.closers, closeLocker)
	}

	archive, err := storage.Open(ctx, cfg.Archive.Prefix)
	if err != nil {
		a.Close()
		return nil, err
	}

	comprasCfg := cfg.Comprasnet.Fetch("comprasnet")
	pncpCfg, detailCfg := cfg.PNCP.Fetch("pncp"), cfg.PNCP.Detail()
	if opts.MaxRetries > 0 {
		comprasCfg.MaxRetries = opts.MaxRetries
		pncpCfg.MaxRetries = opts.MaxRetries
		detailCfg.MaxRetries = opts.MaxRetries
	}
	// Both PNCP hosts sit behind the same quota.
	if pncpCfg.RateLimit > 0 {
		shared := rate.NewLimiter(rate.Limit(pncpCfg.RateLimit), max(pncpCfg.RateBurst, 1))
		pncpCfg.Limiter, detailCfg.Limiter = shared, shared
	}
	stage := cfg.PNCP.Stage()
	if opts.PageSize > 0 {
		stage.PageSize = opts.PageSize
		stage.BatchSize = opts.PageSize
	}

	inlabsCfg := inlabs.HTTPConfig{
		BaseURL:    cfg.Inlabs.BaseURL,
		Session:    cfg.Inlabs.Session,
		Timeout:    cfg.Inlabs.Timeout,
		MaxRetries: cfg.Inlabs.MaxRetries,
		Backoff:    cfg.Inlabs.Backoff(),
		RateLimit:  cfg.Inlabs.RateLimit,
	}
	if opts.MaxRetries > 0 {
		inlabsCfg.MaxRetries = opts.MaxRetries
	}

	contracts := db.NewContractRepo(pool)
	a.Activities = activities.New(activities.Config{
		LockTTL:        cfg.Lock.TTL,
		HeartbeatEvery: cfg.Sync.HeartbeatEvery,
		ValidityWindow: cfg.Sync.ValidityWindow,
		PNCP:           stage,
		ArchivePrefix:  cfg.Archive.Prefix,
	}, activities.Deps{
		Locker:       locker,
		Runs:         db.NewRunRepo(pool),
		ContractsAPI: fetch.New(comprasCfg, log),
		Contracts: comprasnet.Stores{
			Contracts:   contracts,
			History:     db.NewHistoryRepo(pool),
			Commitments: db.NewCommitmentRepo(pool),
			Items:       db.NewContractItemRepo(pool),
			Files:       db.NewContractFileRepo(pool),
			State:       db.NewSyncStateRepo(pool),
			Scope:       pool,
		},
		Lister:        contracts,
		PNCPDiscovery: fetch.New(pncpCfg, log),
		PNCPDetail:    fetch.New(detailCfg, log),
		PNCP: pncp.Stores{
			Purchases: db.NewPurchaseRepo(pool),
			Items:     db.NewPurchaseItemRepo(pool),
			Suppliers: db.NewSupplierRepo(pool),
			Results:   db.NewResultRepo(pool),
			Scope:     pool,
		},
		Inlabs:   inlabs.NewHTTPFetcher(inlabsCfg, log),
		Articles: inlabs.Stores{Articles: db.NewArticleRepo(pool), Scope: pool},
		Archive:  archive,
		Log:      log,
		Local:    opts.Local,
	})
	return a, nil
}

// NewLocker opens the configured lock backend. The returned close func may be nil.
func NewLocker(cfg config.LockConfig, pool *db.Pool) (lock.Locker, func(), error) {
	switch cfg.Backend {
	case "badger":
		b, err := lock.OpenBadger(cfg.BadgerDir, "")
		if err != nil {
			return nil, nil, fmt.Errorf("open badger locks: %w", err)
		}
		return b, func() { _ = b.Close() }, nil
	case "postgres", "":
		return lock.NewPostgres(pool, lock.NewOwner()), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown lock backend %q", cfg.Backend)
	}
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
