package activities

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yourorg/procurement-sync/internal/inlabs"
	"github.com/yourorg/procurement-sync/internal/types"
)

// SyncInlabs ingests one gazette edition under a per-date lock.
func (a *Activities) SyncInlabs(ctx context.Context, p types.InlabsParams) (types.RunStats, error) {
	date, err := time.Parse(types.DayLayout, p.Date)
	if err != nil {
		return types.RunStats{}, invalid(fmt.Errorf("date: %w", err))
	}
	if a.d.Inlabs == nil {
		return types.RunStats{}, invalid(errors.New("inlabs fetcher not configured"))
	}
	stores := a.d.Articles
	var opts []inlabs.Option
	if p.DryRun {
		stores = inlabs.DryRunStores(stores)
	} else if a.d.Archive != nil {
		opts = append(opts, inlabs.WithArchive(a.d.Archive, a.cfg.ArchivePrefix))
	}
	s := inlabs.New(a.d.Inlabs, stores, a.log, opts...)

	a.info(ctx, "inlabs sync starting", "date", p.Date, "sections", p.Sections)
	return a.guarded(ctx, ScopeInlabs, p.Date, p.DryRun, func(ctx context.Context) (types.RunStats, error) {
		res, err := s.SyncEdition(ctx, date, p.Sections...)
		st := types.RunStats{Errors: res.Errors}
		for _, sec := range res.Sections {
			st.Requests++
			st.Fetched += sec.Processed
			st.Processed += sec.Processed
			st.Created += sec.Created
			st.Updated += sec.Updated
			st.Failed += sec.Skipped
		}
		return st, err
	})
}
