// Package comprasnet syncs the contracts of a purchasing unit (UASG) from the
// ComprasNet contracts API, plus each contract's history, commitments, items
// and attachments on demand.
package comprasnet

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/yourorg/procurement-sync/internal/fetch"
	"github.com/yourorg/procurement-sync/internal/reconcile"
	"github.com/yourorg/procurement-sync/internal/records"
)

// Fetcher is the slice of fetch.Client the syncer uses.
type Fetcher interface {
	FetchPage(ctx context.Context, path string, params url.Values) (fetch.Payload, error)
}

// SyncState records child dataset confirmations.
type SyncState interface {
	MarkSynced(ctx context.Context, s records.ChildSync) error
}

// Stores are the persistence collaborators of a Syncer.
type Stores struct {
	Contracts   reconcile.Store[records.ContractKey, records.Contract]
	History     reconcile.ChildStore[records.ContractKey, records.ContractHistory]
	Commitments reconcile.ChildStore[records.ContractKey, records.Commitment]
	Items       reconcile.ChildStore[records.ContractKey, records.ContractItem]
	Files       reconcile.ChildStore[records.ContractKey, records.ContractFile]
	State       SyncState
	// Scope wraps each contract upsert and each child replacement.
	Scope reconcile.Scope
}

// Syncer runs the contract pipeline.
type Syncer struct {
	api    Fetcher
	stores Stores
	filter reconcile.ValidityFilter
	log    *zap.Logger
	now    func() time.Time
}

// Option customizes a Syncer.
type Option func(*Syncer)

// WithValidityWindow overrides how long expired contracts are still synced.
func WithValidityWindow(d time.Duration) Option {
	return func(s *Syncer) { s.filter.Window = d }
}

// WithClock sets the time source used by the validity filter and sync stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Syncer) { s.now = now; s.filter.Now = now }
}

func New(api Fetcher, stores Stores, log *zap.Logger, opts ...Option) *Syncer {
	if log == nil {
		log = zap.NewNop()
	}
	if stores.Scope == nil {
		stores.Scope = reconcile.NoScope{}
	}
	s := &Syncer{
		api:    api,
		stores: stores,
		filter: reconcile.ValidityFilter{Window: reconcile.DefaultValidityWindow},
		log:    log.With(zap.String("pipeline", "comprasnet")),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// UnitResult summarizes one SyncUnit call.
type UnitResult struct {
	UASG     string
	Fetched  int
	Expired  int
	Invalid  int
	NotFound bool
	reconcile.Result[records.ContractKey]
}

// SyncUnit fetches the unit's contract listing, drops contracts whose
// validity ended more than the window ago, and upserts the rest by id.
func (s *Syncer) SyncUnit(ctx context.Context, uasg string) (UnitResult, error) {
	log := s.log.With(zap.String("uasg", uasg))
	res := UnitResult{UASG: uasg}

	payload, err := s.api.FetchPage(ctx, "api/contrato/ug/"+url.PathEscape(uasg), nil)
	if err != nil {
		return res, fmt.Errorf("list contracts of %s: %w", uasg, err)
	}
	res.NotFound = payload.NotFound
	res.Fetched = len(payload.Items)

	contracts := make([]records.Contract, 0, len(payload.Items))
	for _, raw := range payload.Items {
		var d contractDTO
		if err := decode(raw, &d); err != nil {
			res.Invalid++
			log.Warn("undecodable contract", zap.Error(err))
			continue
		}
		c, ok := d.toRecord(log, uasg, raw)
		if !ok {
			res.Invalid++
			log.Warn("contract without id", zap.ByteString("raw", snippet(raw)))
			continue
		}
		if !s.filter.Include(c.VigenciaFim) {
			res.Expired++
			continue
		}
		contracts = append(contracts, c)
	}

	rr, err := reconcile.Reconcile(ctx, s.stores.Contracts, contracts,
		func(c records.Contract) records.ContractKey { return c.ID },
		reconcile.Options{Entity: "contract", Scope: s.stores.Scope, Log: log})
	res.Result = rr
	if err != nil {
		return res, err
	}
	log.Info("unit synced",
		zap.Int("fetched", res.Fetched), zap.Int("expired", res.Expired),
		zap.Int("created", rr.Created), zap.Int("updated", rr.Updated), zap.Int("skipped", rr.Skipped))
	return res, nil
}

// ChildrenResult maps each requested kind to the number of children now
// stored. Kinds that failed appear in Errors instead.
type ChildrenResult struct {
	Contract records.ContractKey
	Counts   map[records.ChildKind]int
	Errors   map[records.ChildKind]error
}

// Err folds the per-kind errors into one, nil when every kind succeeded.
func (r ChildrenResult) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	var first error
	for _, k := range records.AllChildKinds {
		if err, ok := r.Errors[k]; ok {
			first = err
			break
		}
	}
	return fmt.Errorf("%d of %d child kinds failed for contract %d: %w",
		len(r.Errors), len(r.Errors)+len(r.Counts), r.Contract, first)
}

// SyncChildren replaces the requested child datasets of one contract (all
// kinds when none are given). A 404 confirms the dataset is empty: the
// stored children are cleared and the sync stamp still advances. One kind
// failing does not stop the others.
func (s *Syncer) SyncChildren(ctx context.Context, id records.ContractKey, kinds ...records.ChildKind) (ChildrenResult, error) {
	if len(kinds) == 0 {
		kinds = records.AllChildKinds
	}
	res := ChildrenResult{
		Contract: id,
		Counts:   make(map[records.ChildKind]int, len(kinds)),
		Errors:   make(map[records.ChildKind]error),
	}
	log := s.log.With(zap.Int64("contract", int64(id)))
	for _, kind := range kinds {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		n, err := s.syncKind(ctx, log, id, kind)
		if err != nil {
			res.Errors[kind] = err
			log.Warn("child sync failed", zap.String("kind", string(kind)), zap.Error(err))
			continue
		}
		res.Counts[kind] = n
	}
	return res, nil
}

func (s *Syncer) syncKind(ctx context.Context, log *zap.Logger, id records.ContractKey, kind records.ChildKind) (int, error) {
	path := fmt.Sprintf("api/contrato/%d/%s", id, kind)
	payload, err := s.api.FetchPage(ctx, path, nil)
	if err != nil {
		return 0, err
	}
	var n int
	switch kind {
	case records.KindHistory:
		n, err = replace(ctx, s, log, id, s.stores.History, payload.Items, toHistory)
	case records.KindCommitments:
		n, err = replace(ctx, s, log, id, s.stores.Commitments, payload.Items, toCommitment)
	case records.KindItems:
		n, err = replace(ctx, s, log, id, s.stores.Items, payload.Items, toItem)
	case records.KindFiles:
		n, err = replace(ctx, s, log, id, s.stores.Files, payload.Items, toFile)
	default:
		return 0, fmt.Errorf("unknown child kind %q", kind)
	}
	if err != nil {
		return 0, err
	}
	if err := s.stores.State.MarkSynced(ctx, records.ChildSync{Contract: id, Kind: kind, SyncedAt: s.now().UTC(), Count: n}); err != nil {
		return 0, fmt.Errorf("mark %s synced: %w", kind, err)
	}
	log.Debug("children replaced", zap.String("kind", string(kind)), zap.Int("count", n), zap.Bool("not_found", payload.NotFound))
	return n, nil
}

func replace[C any](ctx context.Context, s *Syncer, log *zap.Logger, id records.ContractKey,
	store reconcile.ChildStore[records.ContractKey, C], items []json.RawMessage,
	conv func(*zap.Logger, json.RawMessage) (C, error)) (int, error) {
	if store == nil {
		return 0, fmt.Errorf("no store configured")
	}
	rows := make([]C, 0, len(items))
	for _, raw := range items {
		row, err := conv(log, raw)
		if err != nil {
			log.Warn("undecodable child row", zap.Error(err))
			continue
		}
		rows = append(rows, row)
	}
	if _, err := reconcile.ReplaceChildren(ctx, s.stores.Scope, store, id, rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}

func snippet(b []byte) []byte {
	if len(b) > 200 {
		return b[:200]
	}
	return b
}

type discardState struct{}

func (discardState) MarkSynced(context.Context, records.ChildSync) error { return nil }

// DryRunStores wraps stores so nothing is written: contract upserts only
// look rows up and child replacements are discarded.
func DryRunStores(s Stores) Stores {
	return Stores{
		Contracts:   reconcile.DryRun(s.Contracts),
		History:     reconcile.DryRunChildren[records.ContractKey, records.ContractHistory](),
		Commitments: reconcile.DryRunChildren[records.ContractKey, records.Commitment](),
		Items:       reconcile.DryRunChildren[records.ContractKey, records.ContractItem](),
		Files:       reconcile.DryRunChildren[records.ContractKey, records.ContractFile](),
		State:       discardState{},
		Scope:       reconcile.NoScope{},
	}
}
