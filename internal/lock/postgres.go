package lock

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/yourorg/procurement-sync/internal/db"
)

// Postgres stores locks in the sync_lock table so every worker sharing the
// database sees them.
type Postgres struct {
	pool  *db.Pool
	owner string
}

func NewPostgres(pool *db.Pool, owner string) *Postgres {
	if owner == "" {
		owner = NewOwner()
	}
	return &Postgres{pool: pool, owner: owner}
}

func (l *Postgres) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	const q = `
insert into sync_lock (key, owner, expires_at) values ($1, $2, now() + make_interval(secs => $3))
on conflict (key) do update set owner = excluded.owner, expires_at = excluded.expires_at
where sync_lock.expires_at < now()
returning key`
	var got string
	err := l.pool.QueryRow(ctx, q, key, l.owner, ttl.Seconds()).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (l *Postgres) Release(ctx context.Context, key string) error {
	_, err := l.pool.Exec(ctx, `delete from sync_lock where key=$1 and owner=$2`, key, l.owner)
	return err
}
