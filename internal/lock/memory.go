package lock

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	owner   string
	expires time.Time
}

// MemoryTable is a process-local lock table. Lockers made from the same
// table exclude each other.
type MemoryTable struct {
	mu    sync.Mutex
	locks map[string]memEntry
	now   func() time.Time
}

func NewMemoryTable() *MemoryTable {
	return &MemoryTable{locks: make(map[string]memEntry), now: time.Now}
}

// Locker returns a Locker acting as owner.
func (t *MemoryTable) Locker(owner string) *Memory {
	if owner == "" {
		owner = NewOwner()
	}
	return &Memory{t: t, owner: owner}
}

// Memory is a Locker backed by a MemoryTable.
type Memory struct {
	t     *MemoryTable
	owner string
}

// NewMemory returns a locker over a fresh private table.
func NewMemory() *Memory { return NewMemoryTable().Locker("") }

func (m *Memory) TryAcquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m.t.mu.Lock()
	defer m.t.mu.Unlock()
	now := m.t.now()
	if e, ok := m.t.locks[key]; ok && now.Before(e.expires) {
		return false, nil
	}
	m.t.locks[key] = memEntry{owner: m.owner, expires: now.Add(ttl)}
	return true, nil
}

func (m *Memory) Release(_ context.Context, key string) error {
	m.t.mu.Lock()
	defer m.t.mu.Unlock()
	if e, ok := m.t.locks[key]; ok && e.owner == m.owner {
		delete(m.t.locks, key)
	}
	return nil
}
