package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

type purchaseKey struct {
	Year int
	Seq  int
}

type purchase struct {
	Year  int
	Seq   int
	Value string
}

func keyOf(p purchase) purchaseKey { return purchaseKey{p.Year, p.Seq} }

func TestDedupKeepLast(t *testing.T) {
	in := []purchase{
		{2024, 1, "a"},
		{2024, 2, "b"},
		{2024, 1, "c"},
	}
	order, byKey := DedupKeepLast(in, keyOf)
	if len(order) != 2 || order[0] != (purchaseKey{2024, 1}) || order[1] != (purchaseKey{2024, 2}) {
		t.Fatalf("order: %v", order)
	}
	if byKey[purchaseKey{2024, 1}].Value != "c" {
		t.Fatalf("last value should win, got %q", byKey[purchaseKey{2024, 1}].Value)
	}
}

func TestReconcileCountsAndKeepLast(t *testing.T) {
	store := NewMemStore[purchaseKey, purchase]()
	in := []purchase{{2024, 1, "A"}, {2024, 2, "x"}, {2024, 1, "B"}}
	res, err := Reconcile(context.Background(), store, in, keyOf, Options{Entity: "purchase", Log: zaptest.NewLogger(t)})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if res.Processed != 3 || res.Created != 2 || res.Updated != 0 || res.Duplicates != 1 {
		t.Fatalf("result: %+v", res)
	}
	got, _, _ := store.FindByKey(context.Background(), purchaseKey{2024, 1})
	if got.Value != "B" {
		t.Fatalf("persisted %q; want B", got.Value)
	}
}

func TestReconcileIdempotent(t *testing.T) {
	ctx := context.Background()
	in := []purchase{{2024, 1, "A"}, {2024, 2, "B"}, {2024, 3, "C"}}

	store := NewMemStore[purchaseKey, purchase]()
	first, _ := Reconcile(ctx, store, in, keyOf, Options{})
	before := store.Snapshot()
	second, _ := Reconcile(ctx, store, in, keyOf, Options{})
	if first.Created != 3 {
		t.Fatalf("first run: %+v", first)
	}
	if second.Created != 0 || second.Updated != 3 {
		t.Fatalf("second run: %+v", second)
	}
	after := store.Snapshot()
	if fmt.Sprint(before) != fmt.Sprint(after) {
		t.Fatalf("state changed between identical runs")
	}

	noop := NewMemStore[purchaseKey, purchase]()
	noop.SkipUnchanged = true
	_, _ = Reconcile(ctx, noop, in, keyOf, Options{})
	_, _ = Reconcile(ctx, noop, in, keyOf, Options{})
	if noop.Writes() != 3 {
		t.Fatalf("short-circuit store should write once per key, wrote %d", noop.Writes())
	}
}

func TestReconcileIsolatesRecordFailures(t *testing.T) {
	store := NewMemStore[purchaseKey, purchase]()
	store.Fail = func(k purchaseKey, _ purchase) error {
		if k.Seq == 2 {
			return errors.New("fk violation")
		}
		return nil
	}
	in := []purchase{{2024, 1, "a"}, {2024, 2, "b"}, {2024, 3, "c"}}
	res, err := Reconcile(context.Background(), store, in, keyOf, Options{Log: zaptest.NewLogger(t)})
	if err != nil {
		t.Fatalf("batch must not abort: %v", err)
	}
	if res.Created != 2 || res.Skipped != 1 || len(res.Errors) != 1 || res.Errors[0].Key.Seq != 2 {
		t.Fatalf("result: %+v", res)
	}
	if store.Len() != 2 {
		t.Fatalf("expected 2 rows, got %d", store.Len())
	}
}

type countingScope struct {
	mu    sync.Mutex
	calls int
}

func (s *countingScope) Within(ctx context.Context, fn func(context.Context) error) error {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return fn(ctx)
}

func TestReconcileScopePerRecord(t *testing.T) {
	scope := &countingScope{}
	store := NewMemStore[purchaseKey, purchase]()
	in := []purchase{{2024, 1, "a"}, {2024, 1, "b"}, {2024, 2, "c"}}
	if _, err := Reconcile(context.Background(), store, in, keyOf, Options{Scope: scope}); err != nil {
		t.Fatalf("err: %v", err)
	}
	if scope.calls != 2 {
		t.Fatalf("expected one scope per unique key, got %d", scope.calls)
	}
}

func TestReconcileStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := NewMemStore[purchaseKey, purchase]()
	_, err := Reconcile(ctx, store, []purchase{{2024, 1, "a"}}, keyOf, Options{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
}

func TestReconcileTwoPageOverlap(t *testing.T) {
	var page1, page2 []purchase
	for i := 1; i <= 50; i++ {
		page1 = append(page1, purchase{2024, i, "p1"})
	}
	// Page 2 repeats keys 46..50 with a new value and adds 25 new keys.
	for i := 46; i <= 75; i++ {
		page2 = append(page2, purchase{2024, i, "p2"})
	}
	store := NewMemStore[purchaseKey, purchase]()
	res, err := Reconcile(context.Background(), store, append(page1, page2...), keyOf, Options{})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if store.Len() != 75 || res.Created != 75 || res.Duplicates != 5 {
		t.Fatalf("rows=%d result=%+v", store.Len(), res)
	}
	for i := 46; i <= 50; i++ {
		got, _, _ := store.FindByKey(context.Background(), purchaseKey{2024, i})
		if got.Value != "p2" {
			t.Fatalf("key %d kept %q", i, got.Value)
		}
	}
}

func TestDryRunWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore[purchaseKey, purchase]()
	_, _ = store.Upsert(ctx, purchaseKey{2024, 1}, purchase{2024, 1, "old"})

	res, err := Reconcile(ctx, DryRun[purchaseKey, purchase](store), []purchase{{2024, 1, "new"}, {2024, 2, "n"}}, keyOf, Options{})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if res.Created != 1 || res.Updated != 1 {
		t.Fatalf("dry-run result: %+v", res)
	}
	if store.Len() != 1 {
		t.Fatalf("dry run wrote rows")
	}
	got, _, _ := store.FindByKey(ctx, purchaseKey{2024, 1})
	if got.Value != "old" {
		t.Fatalf("dry run changed row")
	}
}

func TestReplaceChildren(t *testing.T) {
	ctx := context.Background()
	children := NewMemChildren[int, string]()
	if _, err := ReplaceChildren(ctx, nil, children, 7, []string{"a", "b", "c"}); err != nil {
		t.Fatalf("err: %v", err)
	}
	res, err := ReplaceChildren(ctx, &countingScope{}, children, 7, []string{"d"})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if res.Deleted != 3 || res.Inserted != 1 {
		t.Fatalf("result: %+v", res)
	}
	if got := children.Of(7); len(got) != 1 || got[0] != "d" {
		t.Fatalf("children not replaced: %v", got)
	}
	if _, err := ReplaceChildren(ctx, nil, children, 7, nil); err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(children.Of(7)) != 0 {
		t.Fatalf("empty replacement should clear children")
	}
}

type failingChildren struct{ *MemChildren[int, string] }

func (f *failingChildren) BulkInsert(context.Context, int, []string) (int64, error) {
	return 0, errors.New("copy failed")
}

func TestReplaceChildrenInsertError(t *testing.T) {
	fc := &failingChildren{MemChildren: NewMemChildren[int, string]()}
	if _, err := ReplaceChildren(context.Background(), nil, fc, 1, []string{"x"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestValidityFilter(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	f := ValidityFilter{Now: func() time.Time { return now }, Window: DefaultValidityWindow}
	old := now.AddDate(0, 0, -150)
	recent := now.AddDate(0, 0, -99)
	future := now.AddDate(1, 0, 0)
	if f.Include(&old) {
		t.Fatalf("150 days past should be excluded")
	}
	if !f.Include(&recent) || !f.Include(&future) {
		t.Fatalf("recent/future should be included")
	}
	if !f.Include(nil) {
		t.Fatalf("no end date should be included")
	}
}

func TestBatches(t *testing.T) {
	in := []int{1, 2, 3, 4, 5}
	b := Batches(in, 2)
	if len(b) != 3 || len(b[2]) != 1 {
		t.Fatalf("batches: %v", b)
	}
	if len(Batches(in, 0)) != 1 || Batches([]int{}, 3) != nil {
		t.Fatalf("edge batches")
	}
}
