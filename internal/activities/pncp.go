package activities

import (
	"context"

	"github.com/yourorg/procurement-sync/internal/pncp"
	"github.com/yourorg/procurement-sync/internal/types"
)

func (a *Activities) pncpSyncer(dryRun bool) *pncp.Syncer {
	stores := a.d.PNCP
	if dryRun {
		stores = pncp.DryRunStores(stores)
	}
	return pncp.New(a.d.PNCPDiscovery, a.d.PNCPDetail, stores, a.cfg.PNCP, a.log)
}

func stageStats(r pncp.StageResult) types.RunStats {
	return types.RunStats{
		Stage:      r.Stage,
		Requests:   r.Requests,
		Fetched:    r.Fetched,
		Processed:  r.Processed,
		Created:    r.Created,
		Updated:    r.Updated,
		Failed:     r.Skipped,
		Duplicates: r.Duplicates,
		Errors:     r.Errors,
	}
}

// PNCPDiscover lists the purchases published in the window. The lock is per
// window, so overlapping windows may run side by side.
func (a *Activities) PNCPDiscover(ctx context.Context, p types.PNCPParams) (types.RunStats, error) {
	from, to, err := p.Window()
	if err != nil {
		return types.RunStats{}, invalid(err)
	}
	a.info(ctx, "pncp discovery starting", "from", p.From, "to", p.To)
	st, err := a.guarded(ctx, ScopePNCP, pncp.StageDiscover+":"+p.Scope(), p.DryRun, func(ctx context.Context) (types.RunStats, error) {
		r, err := a.pncpSyncer(p.DryRun).DiscoverPurchases(ctx, pncp.Window{From: from, To: to, Modalidades: p.Modalidades})
		return stageStats(r), err
	})
	st.Stage = pncp.StageDiscover
	return st, err
}

// PNCPItems fetches items of purchases still pending. Its work list is
// global, so the lock is per stage.
func (a *Activities) PNCPItems(ctx context.Context, p types.PNCPParams) (types.RunStats, error) {
	o, err := stageOptions(p)
	if err != nil {
		return types.RunStats{}, invalid(err)
	}
	st, err := a.guarded(ctx, ScopePNCP, pncp.StageItems, p.DryRun, func(ctx context.Context) (types.RunStats, error) {
		r, err := a.pncpSyncer(p.DryRun).SyncItems(ctx, o)
		return stageStats(r), err
	})
	st.Stage = pncp.StageItems
	return st, err
}

// PNCPResults fetches award results of items flagged with results.
func (a *Activities) PNCPResults(ctx context.Context, p types.PNCPParams) (types.RunStats, error) {
	o, err := stageOptions(p)
	if err != nil {
		return types.RunStats{}, invalid(err)
	}
	st, err := a.guarded(ctx, ScopePNCP, pncp.StageResults, p.DryRun, func(ctx context.Context) (types.RunStats, error) {
		r, err := a.pncpSyncer(p.DryRun).SyncResults(ctx, o)
		return stageStats(r), err
	})
	st.Stage = pncp.StageResults
	return st, err
}

func stageOptions(p types.PNCPParams) (pncp.StageOptions, error) {
	o := pncp.StageOptions{Force: p.Force, Limit: p.Limit}
	if p.From == "" {
		return o, nil
	}
	from, to, err := p.Window()
	if err != nil {
		return o, err
	}
	o.From, o.To = from, to
	return o, nil
}
