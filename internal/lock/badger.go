package lock

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Badger keeps locks in an embedded badger store. Only lockers sharing the
// same store exclude each other, so it suits a single host.
type Badger struct {
	db    *badger.DB
	owner string
}

// OpenBadger opens (or creates) a lock store at dir. An empty dir keeps
// the store in memory.
func OpenBadger(dir, owner string) (*Badger, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	if owner == "" {
		owner = NewOwner()
	}
	return &Badger{db: bdb, owner: owner}, nil
}

// WithOwner returns a locker sharing the store under another owner.
func (l *Badger) WithOwner(owner string) *Badger {
	return &Badger{db: l.db, owner: owner}
}

func (l *Badger) TryAcquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	k := []byte(key)
	acquired := false
	err := l.db.Update(func(txn *badger.Txn) error {
		_, e := txn.Get(k)
		if e == nil {
			return nil
		}
		if !errors.Is(e, badger.ErrKeyNotFound) {
			return e
		}
		acquired = true
		return txn.SetEntry(badger.NewEntry(k, []byte(l.owner)).WithTTL(ttl))
	})
	if errors.Is(err, badger.ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return acquired, nil
}

func (l *Badger) Release(_ context.Context, key string) error {
	k := []byte(key)
	err := l.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		owner, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if string(owner) != l.owner {
			return nil
		}
		return txn.Delete(k)
	})
	if errors.Is(err, badger.ErrConflict) {
		return nil
	}
	return err
}

// Close closes the underlying store.
func (l *Badger) Close() error { return l.db.Close() }
