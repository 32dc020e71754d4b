package activities

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/yourorg/procurement-sync/internal/comprasnet"
	"github.com/yourorg/procurement-sync/internal/reconcile"
	"github.com/yourorg/procurement-sync/internal/records"
	"github.com/yourorg/procurement-sync/internal/types"
)

func (a *Activities) contractSyncer(dryRun bool) *comprasnet.Syncer {
	stores := a.d.Contracts
	if dryRun {
		stores = comprasnet.DryRunStores(stores)
	}
	opts := []comprasnet.Option{comprasnet.WithClock(a.now)}
	if a.cfg.ValidityWindow > 0 {
		opts = append(opts, comprasnet.WithValidityWindow(a.cfg.ValidityWindow))
	}
	return comprasnet.New(a.d.ContractsAPI, stores, a.log, opts...)
}

// SyncContracts syncs the contract listing of every unit, each under its own
// lock. With WithChildren, the children of each upserted contract follow; a
// contract whose children fail is reported and the next one proceeds.
// Unit failures do not stop the other units; they are joined in the error.
func (a *Activities) SyncContracts(ctx context.Context, p types.ContractsParams) (types.RunStats, error) {
	if len(p.UASGs) == 0 {
		return types.RunStats{}, invalid(errors.New("no uasg given"))
	}
	a.info(ctx, "contracts sync starting", "uasgs", p.UASGs, "dryRun", p.DryRun)
	s := a.contractSyncer(p.DryRun)
	total := types.RunStats{Pipeline: ScopeContracts, Scope: strings.Join(p.UASGs, ",")}
	skipped := 0
	var errs []error
	for _, uasg := range p.UASGs {
		st, err := a.guarded(ctx, ScopeContracts, uasg, p.DryRun, func(ctx context.Context) (types.RunStats, error) {
			res, err := s.SyncUnit(ctx, uasg)
			st := unitStats(res)
			if err != nil || !p.WithChildren {
				return st, err
			}
			for _, id := range res.Keys {
				cs, err := a.childrenLocked(ctx, s, id)
				st.Merge(cs)
				if err != nil {
					if ctx.Err() != nil {
						return st, ctx.Err()
					}
					st.Failed++
					st.Errors = append(st.Errors, fmt.Sprintf("contract %d children: %v", id, err))
				}
			}
			return st, nil
		})
		if st.Skipped {
			skipped++
		}
		total.Merge(st)
		if err != nil {
			if ctx.Err() != nil {
				return total, ctx.Err()
			}
			errs = append(errs, fmt.Errorf("uasg %s: %w", uasg, err))
		}
	}
	if skipped == len(p.UASGs) {
		total.Skipped, total.SkipReason = true, "already running"
	}
	a.info(ctx, "contracts sync finished", "processed", total.Processed, "created", total.Created,
		"updated", total.Updated, "failed", total.Failed, "skippedUnits", skipped)
	return total, errors.Join(errs...)
}

func unitStats(res comprasnet.UnitResult) types.RunStats {
	st := types.RunStats{
		Requests:   1,
		Fetched:    res.Fetched,
		Processed:  res.Processed,
		Created:    res.Created,
		Updated:    res.Updated,
		Failed:     res.Skipped + res.Invalid,
		Duplicates: res.Duplicates,
	}
	st.Errors = recordErrors(res.Errors)
	for _, k := range res.Keys {
		st.ContractIDs = append(st.ContractIDs, int64(k))
	}
	return st
}

func recordErrors[K comparable](errs []reconcile.RecordError[K]) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Error())
	}
	return out
}

// SyncContractChildren refreshes the sub-resources of the given contracts,
// or of every contract of the unit still in its validity window.
func (a *Activities) SyncContractChildren(ctx context.Context, p types.ChildrenParams) (types.RunStats, error) {
	kinds := make([]records.ChildKind, 0, len(p.Kinds))
	for _, k := range p.Kinds {
		kind, err := records.ParseChildKind(k)
		if err != nil {
			return types.RunStats{}, invalid(err)
		}
		kinds = append(kinds, kind)
	}
	ids, err := a.childTargets(ctx, p)
	if err != nil {
		return types.RunStats{}, err
	}
	a.info(ctx, "contract children sync starting", "contracts", len(ids), "kinds", p.Kinds)

	s := a.contractSyncer(p.DryRun)
	total := types.RunStats{Pipeline: ScopeChildren, Scope: p.UASG}
	var errs []error
	for i, id := range ids {
		st, err := a.guarded(ctx, ScopeChildren, strconv.FormatInt(int64(id), 10), p.DryRun, func(ctx context.Context) (types.RunStats, error) {
			return a.children(ctx, s, id, kinds)
		})
		total.Merge(st)
		if err != nil {
			if ctx.Err() != nil {
				return total, ctx.Err()
			}
			errs = append(errs, err)
		}
		if i%50 == 49 {
			a.heartbeat(ctx, i+1)
		}
	}
	return total, errors.Join(errs...)
}

func (a *Activities) childTargets(ctx context.Context, p types.ChildrenParams) ([]records.ContractKey, error) {
	if len(p.ContractIDs) > 0 {
		ids := make([]records.ContractKey, len(p.ContractIDs))
		for i, id := range p.ContractIDs {
			ids[i] = records.ContractKey(id)
		}
		return ids, nil
	}
	if p.UASG == "" {
		return nil, invalid(errors.New("either uasg or contract ids are required"))
	}
	if a.d.Lister == nil {
		return nil, invalid(errors.New("listing contracts by unit needs a database"))
	}
	window := a.cfg.ValidityWindow
	if window <= 0 {
		window = reconcile.DefaultValidityWindow
	}
	ids, err := a.d.Lister.ListByUnit(ctx, p.UASG, a.now().Add(-window))
	if err != nil {
		return nil, fmt.Errorf("list contracts of %s: %w", p.UASG, err)
	}
	return ids, nil
}

// childrenLocked syncs one contract's children under the children lock
// without recording a separate run. A held lock is not an error.
func (a *Activities) childrenLocked(ctx context.Context, s *comprasnet.Syncer, id records.ContractKey) (types.RunStats, error) {
	var st types.RunStats
	key := strconv.FormatInt(int64(id), 10)
	_, err := a.guardOnly(ctx, ScopeChildren, key, func(ctx context.Context) error {
		var err error
		st, err = a.children(ctx, s, id, nil)
		return err
	})
	return st, err
}

// children syncs one contract's child datasets. A failing kind is counted in
// the stats and does not fail the contract; only lock, store or context
// errors are returned.
func (a *Activities) children(ctx context.Context, s *comprasnet.Syncer, id records.ContractKey, kinds []records.ChildKind) (types.RunStats, error) {
	res, err := s.SyncChildren(ctx, id, kinds...)
	st := types.RunStats{Requests: len(res.Counts) + len(res.Errors)}
	for _, n := range res.Counts {
		st.Processed += n
	}
	for _, kind := range records.AllChildKinds {
		if e, ok := res.Errors[kind]; ok {
			st.Failed++
			st.Errors = append(st.Errors, fmt.Sprintf("contract %d %s: %v", id, kind, e))
		}
	}
	if kerr := res.Err(); kerr != nil {
		a.log.Warn("contract children incomplete", zap.Error(kerr))
	}
	return st, err
}
