// Package pncp runs the staged PNCP ETL: discover purchases published in a
// date window, then fetch each purchase's items, then the award results of
// items that have them. Every stage reads its work list from persisted state,
// so any stage can be re-run on its own.
package pncp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yourorg/procurement-sync/internal/fetch"
	"github.com/yourorg/procurement-sync/internal/normalize"
	"github.com/yourorg/procurement-sync/internal/reconcile"
	"github.com/yourorg/procurement-sync/internal/records"
)

const (
	StageDiscover = "discover"
	StageItems    = "items"
	StageResults  = "results"

	pathPublicacao = "v1/contratacoes/publicacao"
)

// DefaultModalidades are the contracting modalities queried when a window
// names none.
var DefaultModalidades = []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13}

// Fetcher is the slice of fetch.Client the stages use.
type Fetcher interface {
	FetchPage(ctx context.Context, path string, params url.Values) (fetch.Payload, error)
}

// PurchaseStore persists purchases and tracks which still need their items.
type PurchaseStore interface {
	reconcile.Store[records.PurchaseKey, records.Purchase]
	PendingItems(ctx context.Context, from, to time.Time, force bool, limit int) ([]records.PurchaseKey, error)
	MarkItemsSynced(ctx context.Context, k records.PurchaseKey, at time.Time) error
}

// ItemStore persists items and tracks which still need their results.
type ItemStore interface {
	reconcile.Store[records.ItemKey, records.PurchaseItem]
	PendingResults(ctx context.Context, force bool, limit int) ([]records.ItemKey, error)
	MarkResultsSynced(ctx context.Context, k records.ItemKey, at time.Time) error
}

type Stores struct {
	Purchases PurchaseStore
	Items     ItemStore
	Suppliers reconcile.Store[string, records.Supplier]
	Results   reconcile.Store[records.ResultKey, records.ItemResult]
	Scope     reconcile.Scope
}

type Config struct {
	// PageSize for the publication listing (tamanhoPagina).
	PageSize int
	// DetailPageSize for item and result listings.
	DetailPageSize int
	// MaxConcurrency bounds in-flight requests per stage.
	MaxConcurrency int
	// MaxPages caps the publication listing per modality; zero means all.
	MaxPages int
	// BatchSize is how many pending purchases or items the detail stages
	// fetch between progress lines.
	BatchSize int
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = 50
	}
	if c.DetailPageSize <= 0 {
		c.DetailPageSize = 500
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 4
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 200
	}
	return c
}

// Window selects purchases by publication date.
type Window struct {
	From        time.Time
	To          time.Time
	Modalidades []int
}

// StageOptions selects the work list of the items and results stages.
type StageOptions struct {
	// Force re-fetches entries that were already synced.
	Force bool
	// Limit caps the work list; zero means the store default.
	Limit int
	// From and To restrict forced item re-syncs to a publication window.
	From, To time.Time
}

// StageResult summarizes one stage run.
type StageResult struct {
	Stage      string   `json:"stage"`
	Requests   int      `json:"requests"`
	Fetched    int      `json:"fetched"`
	Processed  int      `json:"processed"`
	Created    int      `json:"created"`
	Updated    int      `json:"updated"`
	Skipped    int      `json:"skipped"`
	Duplicates int      `json:"duplicates"`
	Errors     []string `json:"errors,omitempty"`
}

func absorb[K comparable](r *StageResult, rr reconcile.Result[K]) {
	r.Processed += rr.Processed
	r.Created += rr.Created
	r.Updated += rr.Updated
	r.Skipped += rr.Skipped
	r.Duplicates += rr.Duplicates
	for _, e := range rr.Errors {
		r.Errors = append(r.Errors, e.Error())
	}
}

// Syncer runs the PNCP stages. Discovery reads the consultation API; items
// and results read the PNCP integration API. Both may be the same client.
type Syncer struct {
	discovery Fetcher
	detail    Fetcher
	stores    Stores
	cfg       Config
	log       *zap.Logger
	now       func() time.Time
}

func New(discovery, detail Fetcher, stores Stores, cfg Config, log *zap.Logger) *Syncer {
	if log == nil {
		log = zap.NewNop()
	}
	if detail == nil {
		detail = discovery
	}
	if stores.Scope == nil {
		stores.Scope = reconcile.NoScope{}
	}
	return &Syncer{
		discovery: discovery,
		detail:    detail,
		stores:    stores,
		cfg:       cfg.withDefaults(),
		log:       log.With(zap.String("pipeline", "pncp")),
		now:       time.Now,
	}
}

// Run executes discovery, items and results in order. A stage error stops
// the run; per-record problems are only counted.
func (s *Syncer) Run(ctx context.Context, w Window, o StageOptions) ([]StageResult, error) {
	if o.From.IsZero() && o.To.IsZero() {
		o.From, o.To = w.From, w.To
	}
	var out []StageResult
	d, err := s.DiscoverPurchases(ctx, w)
	out = append(out, d)
	if err != nil {
		return out, err
	}
	it, err := s.SyncItems(ctx, o)
	out = append(out, it)
	if err != nil {
		return out, err
	}
	rs, err := s.SyncResults(ctx, o)
	out = append(out, rs)
	return out, err
}

// DiscoverPurchases lists purchases published in w for each modality and
// upserts them by (cnpj, ano, sequencial). Pages after the first are fetched
// concurrently and reassembled in page order, so a purchase repeated on a
// later page keeps the later page's values.
func (s *Syncer) DiscoverPurchases(ctx context.Context, w Window) (StageResult, error) {
	res := StageResult{Stage: StageDiscover}
	mods := w.Modalidades
	if len(mods) == 0 {
		mods = DefaultModalidades
	}
	for _, mod := range mods {
		log := s.log.With(zap.Int("modalidade", mod))
		items, requests, pageErrs, err := s.fetchPublications(ctx, w, mod)
		res.Requests += requests
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Errors = append(res.Errors, fmt.Sprintf("modalidade %d: %v", mod, err))
			log.Warn("publication listing failed", zap.Error(err))
			continue
		}
		for _, e := range pageErrs {
			res.Errors = append(res.Errors, fmt.Sprintf("modalidade %d: %v", mod, e))
			log.Warn("publication page skipped", zap.Error(e))
		}
		res.Fetched += len(items)

		purchases := make([]records.Purchase, 0, len(items))
		for _, raw := range items {
			if p, ok := toPurchase(log, raw); ok {
				purchases = append(purchases, p)
			}
		}
		rr, err := reconcile.Reconcile(ctx, s.stores.Purchases, purchases,
			func(p records.Purchase) records.PurchaseKey { return p.Key },
			reconcile.Options{Entity: "pncp_purchase", Scope: s.stores.Scope, Log: log})
		absorb(&res, rr)
		if err != nil {
			return res, err
		}
	}
	s.log.Info("purchases discovered",
		zap.Time("from", w.From), zap.Time("to", w.To),
		zap.Int("fetched", res.Fetched), zap.Int("created", res.Created), zap.Int("updated", res.Updated))
	return res, nil
}

// fetchPublications returns the items of every page it could fetch. A
// failed page after the first is reported in pageErrs and skipped; only a
// failed first page or a cancelled ctx fails the listing.
func (s *Syncer) fetchPublications(ctx context.Context, w Window, mod int) (items []json.RawMessage, requests int, pageErrs []error, err error) {
	params := func(page int) url.Values {
		return url.Values{
			"dataInicial":                 {w.From.Format("20060102")},
			"dataFinal":                   {w.To.Format("20060102")},
			"codigoModalidadeContratacao": {strconv.Itoa(mod)},
			"pagina":                      {strconv.Itoa(page)},
			"tamanhoPagina":               {strconv.Itoa(s.cfg.PageSize)},
		}
	}
	first, err := s.discovery.FetchPage(ctx, pathPublicacao, params(1))
	if err != nil {
		return nil, 1, nil, fmt.Errorf("page 1: %w", err)
	}
	if first.Empty() {
		return nil, 1, nil, nil
	}
	total := first.Page.TotalPages
	if total < 1 {
		total = 1
	}
	if s.cfg.MaxPages > 0 && total > s.cfg.MaxPages {
		total = s.cfg.MaxPages
	}

	pages := make([][]json.RawMessage, total)
	errs := make([]error, total)
	pages[0] = first.Items
	var g errgroup.Group
	g.SetLimit(s.cfg.MaxConcurrency)
	for page := 2; page <= total; page++ {
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p, err := s.discovery.FetchPage(ctx, pathPublicacao, params(page))
			if err != nil {
				errs[page-1] = fmt.Errorf("page %d: %w", page, err)
				return nil
			}
			pages[page-1] = p.Items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, total, nil, err
	}
	if ctx.Err() != nil {
		return nil, total, nil, ctx.Err()
	}
	for _, e := range errs {
		if e != nil {
			pageErrs = append(pageErrs, e)
		}
	}
	return fetch.Flatten(pages), total, pageErrs, nil
}

// fetchList walks a detail listing until a short or missing page.
func (s *Syncer) fetchList(ctx context.Context, path string) ([]json.RawMessage, int, error) {
	var (
		out      []json.RawMessage
		requests int
	)
	for page := 1; ; page++ {
		p, err := s.detail.FetchPage(ctx, path, url.Values{
			"pagina":        {strconv.Itoa(page)},
			"tamanhoPagina": {strconv.Itoa(s.cfg.DetailPageSize)},
		})
		requests++
		if err != nil {
			return out, requests, err
		}
		out = append(out, p.Items...)
		if p.NotFound || len(p.Items) < s.cfg.DetailPageSize {
			return out, requests, nil
		}
		if p.Page.TotalPages > 0 && page >= p.Page.TotalPages {
			return out, requests, nil
		}
	}
}

func itemsPath(k records.PurchaseKey) string {
	return fmt.Sprintf("v1/orgaos/%s/compras/%d/%d/itens", k.CNPJ, k.Ano, k.Sequencial)
}

func resultsPath(k records.ItemKey) string {
	return fmt.Sprintf("%s/%d/resultados", itemsPath(k.Purchase), k.NumeroItem)
}

type fetched[K any] struct {
	key      K
	items    []json.RawMessage
	requests int
	err      error
}

// fanOut works through keys in batches of cfg.BatchSize, logging progress
// after each batch.
func fanOut[K any](ctx context.Context, s *Syncer, keys []K, path func(K) string, write func(fetched[K]) error) error {
	done := 0
	for _, batch := range reconcile.Batches(keys, s.cfg.BatchSize) {
		if err := fanOutBatch(ctx, s, batch, path, write); err != nil {
			return err
		}
		done += len(batch)
		s.log.Debug("batch done", zap.Int("done", done), zap.Int("total", len(keys)))
	}
	return nil
}

// fanOutBatch fetches every key's listing concurrently and hands the results
// to write one at a time, on the caller's goroutine.
func fanOutBatch[K any](ctx context.Context, s *Syncer, keys []K, path func(K) string, write func(fetched[K]) error) error {
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(cctx)
	g.SetLimit(s.cfg.MaxConcurrency)
	ch := make(chan fetched[K])
	go func() {
		for _, k := range keys {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				items, n, err := s.fetchList(gctx, path(k))
				select {
				case ch <- fetched[K]{key: k, items: items, requests: n, err: err}:
					return nil
				case <-gctx.Done():
					return gctx.Err()
				}
			})
		}
		_ = g.Wait()
		close(ch)
	}()
	var werr error
	for f := range ch {
		if werr != nil {
			continue
		}
		if werr = write(f); werr != nil {
			cancel()
		}
	}
	if werr != nil {
		return werr
	}
	return ctx.Err()
}

// SyncItems fetches the items of every purchase still pending and upserts
// them by (cnpj, ano, sequencial, numeroItem). A purchase is marked synced
// once all its items landed.
func (s *Syncer) SyncItems(ctx context.Context, o StageOptions) (StageResult, error) {
	res := StageResult{Stage: StageItems}
	keys, err := s.stores.Purchases.PendingItems(ctx, o.From, o.To, o.Force, o.Limit)
	if err != nil {
		return res, fmt.Errorf("list pending purchases: %w", err)
	}
	err = fanOut(ctx, s, keys, itemsPath, func(f fetched[records.PurchaseKey]) error {
		res.Requests += f.requests
		log := s.log.With(zap.Stringer("purchase", f.key))
		if f.err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", f.key, f.err))
			log.Warn("items fetch failed", zap.Error(f.err))
			return nil
		}
		res.Fetched += len(f.items)
		items := make([]records.PurchaseItem, 0, len(f.items))
		for _, raw := range f.items {
			if it, ok := toItem(log, f.key, raw); ok {
				items = append(items, it)
			}
		}
		rr, err := reconcile.Reconcile(ctx, s.stores.Items, items,
			func(it records.PurchaseItem) records.ItemKey { return it.Key },
			reconcile.Options{Entity: "pncp_item", Scope: s.stores.Scope, Log: log})
		absorb(&res, rr)
		if err != nil {
			return err
		}
		if rr.Skipped > 0 {
			return nil
		}
		if err := s.stores.Purchases.MarkItemsSynced(ctx, f.key, s.now().UTC()); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: mark synced: %v", f.key, err))
		}
		return nil
	})
	s.log.Info("items synced", zap.Int("purchases", len(keys)), zap.Int("fetched", res.Fetched),
		zap.Int("created", res.Created), zap.Int("updated", res.Updated), zap.Int("errors", len(res.Errors)))
	return res, err
}

// SyncResults fetches award results of items flagged temResultado, upserting
// each supplier by document before its result.
func (s *Syncer) SyncResults(ctx context.Context, o StageOptions) (StageResult, error) {
	res := StageResult{Stage: StageResults}
	keys, err := s.stores.Items.PendingResults(ctx, o.Force, o.Limit)
	if err != nil {
		return res, fmt.Errorf("list pending items: %w", err)
	}
	err = fanOut(ctx, s, keys, resultsPath, func(f fetched[records.ItemKey]) error {
		res.Requests += f.requests
		log := s.log.With(zap.Stringer("item", f.key))
		if f.err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", f.key, f.err))
			log.Warn("results fetch failed", zap.Error(f.err))
			return nil
		}
		res.Fetched += len(f.items)
		suppliers, results := s.decodeResults(log, f.key, f.items)

		sr, err := reconcile.Reconcile(ctx, s.stores.Suppliers, suppliers,
			func(sp records.Supplier) string { return sp.Documento },
			reconcile.Options{Entity: "pncp_supplier", Scope: s.stores.Scope, Log: log})
		if err != nil {
			return err
		}
		for _, e := range sr.Errors {
			res.Errors = append(res.Errors, e.Error())
		}
		rr, err := reconcile.Reconcile(ctx, s.stores.Results, results,
			func(r records.ItemResult) records.ResultKey { return r.Key },
			reconcile.Options{Entity: "pncp_result", Scope: s.stores.Scope, Log: log})
		absorb(&res, rr)
		if err != nil {
			return err
		}
		if rr.Skipped > 0 || sr.Skipped > 0 {
			return nil
		}
		if err := s.stores.Items.MarkResultsSynced(ctx, f.key, s.now().UTC()); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: mark synced: %v", f.key, err))
		}
		return nil
	})
	s.log.Info("results synced", zap.Int("items", len(keys)), zap.Int("fetched", res.Fetched),
		zap.Int("created", res.Created), zap.Int("updated", res.Updated), zap.Int("errors", len(res.Errors)))
	return res, err
}

// decodeResults maps a results listing onto the requested item. When the
// endpoint returns a single result numbered for another item, the upstream
// data is known to be positional: the result is still stored under the
// requested item and the mismatch is logged for review.
func (s *Syncer) decodeResults(log *zap.Logger, item records.ItemKey, raws []json.RawMessage) ([]records.Supplier, []records.ItemResult) {
	suppliers := make([]records.Supplier, 0, len(raws))
	results := make([]records.ItemResult, 0, len(raws))
	for _, raw := range raws {
		var d resultDTO
		if err := decode(raw, &d); err != nil {
			log.Warn("undecodable result", zap.Error(err))
			continue
		}
		doc := normalize.OnlyDigits(normalize.String(d.NiFornecedor))
		if doc == "" {
			doc = normalize.Truncate(log, d.NiFornecedor, 32)
		}
		if doc == "" {
			log.Warn("result without supplier document")
			continue
		}
		if n, ok := normalize.ParseInt(d.NumeroItem); ok && len(raws) == 1 && int(n) != item.NumeroItem {
			log.Warn("result numbered for another item; keeping requested item",
				zap.Int("requested", item.NumeroItem), zap.Int64("returned", n))
		}
		seq, _ := normalize.ParseInt(d.SequencialResultado)
		suppliers = append(suppliers, records.Supplier{
			Documento:  doc,
			TipoPessoa: normalize.Truncate(log, d.TipoPessoa, 8),
			Nome:       normalize.Truncate(log, d.NomeRazaoSocialFornecedor, 255),
			Porte:      normalize.Truncate(log, d.PorteFornecedorNome, 64),
			Raw:        raw,
		})
		results = append(results, records.ItemResult{
			Key:                     records.ResultKey{Item: item, Fornecedor: doc},
			Sequencial:              int(seq),
			QuantidadeHomologada:    normalize.MoneyPtr(d.QuantidadeHomologada),
			ValorUnitarioHomologado: normalize.MoneyPtr(d.ValorUnitarioHomologado),
			ValorTotalHomologado:    normalize.MoneyPtr(d.ValorTotalHomologado),
			PercentualDesconto:      normalize.MoneyPtr(d.PercentualDesconto),
			DataResultado:           timePtr(d.DataResultado),
			Situacao:                normalize.Truncate(log, d.SituacaoCompraItemResultadoNome, 64),
			Raw:                     raw,
		})
	}
	return suppliers, results
}

type dryPurchases struct {
	reconcile.Store[records.PurchaseKey, records.Purchase]
	PurchaseStore
}

func (d dryPurchases) FindByKey(ctx context.Context, k records.PurchaseKey) (records.Purchase, bool, error) {
	return d.Store.FindByKey(ctx, k)
}

func (d dryPurchases) Upsert(ctx context.Context, k records.PurchaseKey, p records.Purchase) (bool, error) {
	return d.Store.Upsert(ctx, k, p)
}

func (dryPurchases) MarkItemsSynced(context.Context, records.PurchaseKey, time.Time) error { return nil }

type dryItems struct {
	reconcile.Store[records.ItemKey, records.PurchaseItem]
	ItemStore
}

func (d dryItems) FindByKey(ctx context.Context, k records.ItemKey) (records.PurchaseItem, bool, error) {
	return d.Store.FindByKey(ctx, k)
}

func (d dryItems) Upsert(ctx context.Context, k records.ItemKey, it records.PurchaseItem) (bool, error) {
	return d.Store.Upsert(ctx, k, it)
}

func (dryItems) MarkResultsSynced(context.Context, records.ItemKey, time.Time) error { return nil }

// DryRunStores wraps stores so nothing is written. Work lists still come
// from the real stores, so a dry run previews what the next run would fetch.
func DryRunStores(s Stores) Stores {
	return Stores{
		Purchases: dryPurchases{Store: reconcile.DryRun[records.PurchaseKey, records.Purchase](s.Purchases), PurchaseStore: s.Purchases},
		Items:     dryItems{Store: reconcile.DryRun[records.ItemKey, records.PurchaseItem](s.Items), ItemStore: s.Items},
		Suppliers: reconcile.DryRun(s.Suppliers),
		Results:   reconcile.DryRun(s.Results),
		Scope:     reconcile.NoScope{},
	}
}
