// Package lock provides the mutual-exclusion guard that keeps two runs of the
// same scheduled task from overlapping. A lock is a key with an owner and an
// expiry; an expired lock can be taken over by anyone.
package lock

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// Locker acquires and releases named locks.
type Locker interface {
	// TryAcquire takes key for ttl. It reports false, without error, when
	// another owner holds an unexpired lock.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release drops key if this locker owns it.
	Release(ctx context.Context, key string) error
}

// DefaultTTL bounds how long a crashed holder can block a task.
const DefaultTTL = time.Hour

// Key builds the lock name for a task scope and entity, e.g. "contracts:lock:153080".
func Key(scope, id string) string {
	return fmt.Sprintf("%s:lock:%s", scope, id)
}

// NewOwner returns an owner id unique to this process.
func NewOwner() string {
	host, _ := os.Hostname()
	if host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}
