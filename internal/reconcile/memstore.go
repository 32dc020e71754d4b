package reconcile

import (
	"context"
	"reflect"
	"sync"
)

// MemStore is an in-process Store and ChildStore. It backs tests and
// single-process previews.
type MemStore[K comparable, T any] struct {
	mu   sync.Mutex
	rows map[K]T
	// SkipUnchanged makes Upsert a no-op for identical values; it still
	// reports the row as updated.
	SkipUnchanged bool
	// Fail, when set, is consulted before every write.
	Fail   func(key K, rec T) error
	writes int
}

// NewMemStore returns an empty store.
func NewMemStore[K comparable, T any]() *MemStore[K, T] {
	return &MemStore[K, T]{rows: make(map[K]T)}
}

func (m *MemStore[K, T]) FindByKey(_ context.Context, key K) (T, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.rows[key]
	return v, ok, nil
}

func (m *MemStore[K, T]) Upsert(_ context.Context, key K, rec T) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		if err := m.Fail(key, rec); err != nil {
			return false, err
		}
	}
	old, exists := m.rows[key]
	if exists && m.SkipUnchanged && reflect.DeepEqual(old, rec) {
		return false, nil
	}
	m.rows[key] = rec
	m.writes++
	return !exists, nil
}

// Len is the number of stored rows.
func (m *MemStore[K, T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// Writes counts the rows actually written.
func (m *MemStore[K, T]) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Snapshot copies the stored rows.
func (m *MemStore[K, T]) Snapshot() map[K]T {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[K]T, len(m.rows))
	for k, v := range m.rows {
		out[k] = v
	}
	return out
}

// MemChildren is an in-process ChildStore.
type MemChildren[P comparable, C any] struct {
	mu   sync.Mutex
	rows map[P][]C
}

func NewMemChildren[P comparable, C any]() *MemChildren[P, C] {
	return &MemChildren[P, C]{rows: make(map[P][]C)}
}

func (m *MemChildren[P, C]) DeleteChildrenOf(_ context.Context, parent P) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.rows[parent])
	delete(m.rows, parent)
	return int64(n), nil
}

func (m *MemChildren[P, C]) BulkInsert(_ context.Context, parent P, rows []C) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[parent] = append(m.rows[parent], rows...)
	return int64(len(rows)), nil
}

// Of returns a copy of the parent's children.
func (m *MemChildren[P, C]) Of(parent P) []C {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]C(nil), m.rows[parent]...)
}

// dryRun reports what Upsert would do without writing.
type dryRun[K comparable, T any] struct {
	Store[K, T]
}

// DryRun wraps store so Upsert only looks the key up. Reads pass through.
func DryRun[K comparable, T any](store Store[K, T]) Store[K, T] {
	return dryRun[K, T]{Store: store}
}

func (d dryRun[K, T]) Upsert(ctx context.Context, key K, _ T) (bool, error) {
	_, exists, err := d.Store.FindByKey(ctx, key)
	if err != nil {
		return false, err
	}
	return !exists, nil
}

// dryChildren discards child writes.
type dryChildren[P comparable, C any] struct{}

// DryRunChildren is a ChildStore that writes nothing and reports rows as inserted.
func DryRunChildren[P comparable, C any]() ChildStore[P, C] { return dryChildren[P, C]{} }

func (dryChildren[P, C]) DeleteChildrenOf(context.Context, P) (int64, error) { return 0, nil }
func (dryChildren[P, C]) BulkInsert(_ context.Context, _ P, rows []C) (int64, error) {
	return int64(len(rows)), nil
}
