// Package reconcile deduplicates normalized records by business key and
// upserts them idempotently through a persistence collaborator.
//
// Within a batch the last record seen for a key wins. Each record is written
// on its own, so one failing row is counted as skipped and the rest of the
// batch still lands. Child collections are replaced wholesale: the parent's
// existing children are deleted and the new set is bulk inserted in one scope.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	znmetrics "github.com/yourorg/procurement-sync/internal/metrics"
)

// Store is the keyed persistence contract for root records.
type Store[K comparable, T any] interface {
	FindByKey(ctx context.Context, key K) (T, bool, error)
	// Upsert inserts or updates the record at key and reports whether it was created.
	Upsert(ctx context.Context, key K, rec T) (bool, error)
}

// ChildStore replaces the children of one parent.
type ChildStore[P comparable, C any] interface {
	DeleteChildrenOf(ctx context.Context, parent P) (int64, error)
	BulkInsert(ctx context.Context, parent P, rows []C) (int64, error)
}

// Scope runs fn inside a unit of work (a database transaction). The context
// passed to fn carries the scope; stores must use it.
type Scope interface {
	Within(ctx context.Context, fn func(ctx context.Context) error) error
}

// NoScope runs fn directly.
type NoScope struct{}

func (NoScope) Within(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

// RecordError describes one record that could not be written.
type RecordError[K comparable] struct {
	Key K
	Err error
}

func (e RecordError[K]) Error() string { return fmt.Sprintf("key %v: %v", e.Key, e.Err) }

// Result summarizes one Reconcile call.
type Result[K comparable] struct {
	Processed  int
	Created    int
	Updated    int
	Skipped    int
	Duplicates int
	Keys       []K
	Errors     []RecordError[K]
}

// Add folds o into r.
func (r *Result[K]) Add(o Result[K]) {
	r.Processed += o.Processed
	r.Created += o.Created
	r.Updated += o.Updated
	r.Skipped += o.Skipped
	r.Duplicates += o.Duplicates
	r.Keys = append(r.Keys, o.Keys...)
	r.Errors = append(r.Errors, o.Errors...)
}

// Options tunes Reconcile.
type Options struct {
	// Entity labels logs and metrics.
	Entity string
	// Scope, when set, wraps every single-record upsert.
	Scope Scope
	Log   *zap.Logger
}

// DedupKeepLast indexes records by key. The returned order lists each key
// once, at the position it was first seen; the map holds the last record
// seen for it.
func DedupKeepLast[K comparable, T any](records []T, keyFn func(T) K) ([]K, map[K]T) {
	byKey := make(map[K]T, len(records))
	order := make([]K, 0, len(records))
	for _, rec := range records {
		k := keyFn(rec)
		if _, seen := byKey[k]; !seen {
			order = append(order, k)
		}
		byKey[k] = rec
	}
	return order, byKey
}

// Reconcile upserts records by keyFn, keeping the last record per key.
// Per-record failures are logged and counted as skipped; Reconcile only
// returns an error when ctx is done.
func Reconcile[K comparable, T any](ctx context.Context, store Store[K, T], records []T, keyFn func(T) K, opts Options) (Result[K], error) {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	entity := opts.Entity
	if entity == "" {
		entity = "record"
	}
	order, byKey := DedupKeepLast(records, keyFn)
	res := Result[K]{
		Processed:  len(records),
		Duplicates: len(records) - len(order),
		Keys:       make([]K, 0, len(order)),
	}
	for _, k := range order {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rec := byKey[k]
		var created bool
		write := func(ctx context.Context) error {
			var err error
			created, err = store.Upsert(ctx, k, rec)
			return err
		}
		var err error
		if opts.Scope != nil {
			err = opts.Scope.Within(ctx, write)
		} else {
			err = write(ctx)
		}
		if err != nil {
			res.Skipped++
			res.Errors = append(res.Errors, RecordError[K]{Key: k, Err: err})
			znmetrics.RecordsUpserted.WithLabelValues(entity, "skipped").Inc()
			log.Warn("upsert failed", zap.String("entity", entity), zap.Any("key", k), zap.Error(err))
			continue
		}
		if created {
			res.Created++
			znmetrics.RecordsUpserted.WithLabelValues(entity, "created").Inc()
		} else {
			res.Updated++
			znmetrics.RecordsUpserted.WithLabelValues(entity, "updated").Inc()
		}
		res.Keys = append(res.Keys, k)
	}
	return res, nil
}

// ChildResult summarizes a child replacement.
type ChildResult struct {
	Deleted  int64
	Inserted int64
}

// ReplaceChildren discards the parent's current children and inserts rows,
// both inside one scope. With no rows the parent ends up with no children.
func ReplaceChildren[P comparable, C any](ctx context.Context, scope Scope, store ChildStore[P, C], parent P, rows []C) (ChildResult, error) {
	if scope == nil {
		scope = NoScope{}
	}
	var res ChildResult
	err := scope.Within(ctx, func(ctx context.Context) error {
		n, err := store.DeleteChildrenOf(ctx, parent)
		if err != nil {
			return fmt.Errorf("delete children: %w", err)
		}
		res.Deleted = n
		if len(rows) == 0 {
			return nil
		}
		n, err = store.BulkInsert(ctx, parent, rows)
		if err != nil {
			return fmt.Errorf("insert children: %w", err)
		}
		res.Inserted = n
		return nil
	})
	if err != nil {
		return ChildResult{}, err
	}
	return res, nil
}

// ValidityFilter excludes records whose validity ended more than Window ago.
type ValidityFilter struct {
	Now    func() time.Time
	Window time.Duration
}

// DefaultValidityWindow is how long an expired contract stays in the sync set.
const DefaultValidityWindow = 100 * 24 * time.Hour

// Include reports whether a record ending at end should be processed.
// Records with no end date are always included.
func (f ValidityFilter) Include(end *time.Time) bool {
	if end == nil || end.IsZero() {
		return true
	}
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	window := f.Window
	if window <= 0 {
		window = DefaultValidityWindow
	}
	return !end.Before(now().Add(-window))
}

// Filter keeps the records accepted by keep.
func Filter[T any](records []T, keep func(T) bool) []T {
	out := records[:0:0]
	for _, r := range records {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

// Batches splits records into chunks of at most size. size <= 0 yields one chunk.
func Batches[T any](records []T, size int) [][]T {
	if len(records) == 0 {
		return nil
	}
	if size <= 0 || size >= len(records) {
		return [][]T{records}
	}
	out := make([][]T, 0, (len(records)+size-1)/size)
	for i := 0; i < len(records); i += size {
		j := i + size
		if j > len(records) {
			j = len(records)
		}
		out = append(out, records[i:j])
	}
	return out
}
