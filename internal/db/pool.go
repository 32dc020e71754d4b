package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool wraps pgxpool.Pool and carries the current transaction through the
// context so repositories join it transparently.
type Pool struct {
	*pgxpool.Pool
}

// Connect establishes a pgx connection pool with sane defaults.
func Connect(ctx context.Context, cfg Config) (*Pool, error) {
	conf, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, err
	}
	conf.MaxConns = 8
	if cfg.MaxConns > 0 {
		conf.MaxConns = cfg.MaxConns
	}
	conf.MinConns = 0
	conf.MaxConnLifetime = 55 * time.Minute
	if cfg.MaxConnLifetime > 0 {
		conf.MaxConnLifetime = cfg.MaxConnLifetime
	}
	conf.MaxConnIdleTime = 10 * time.Minute
	conf.HealthCheckPeriod = 30 * time.Second

	p, err := pgxpool.NewWithConfig(ctx, conf)
	if err != nil {
		return nil, err
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return &Pool{Pool: p}, nil
}

// Close closes the underlying pool.
func (p *Pool) Close() {
	if p != nil && p.Pool != nil {
		p.Pool.Close()
	}
}

type txKey struct{}

// querier is what both *pgxpool.Pool and pgx.Tx offer.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
}

// q returns the transaction bound to ctx, or the pool.
func (p *Pool) q(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return p.Pool
}

// Within runs fn in a transaction. A nested call joins the outer
// transaction. fn's error rolls everything back.
func (p *Pool) Within(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}
	return pgx.BeginFunc(ctx, p.Pool, func(tx pgx.Tx) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}
