package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/georgysavva/scany/pgxscan"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/eventops/fulfillment/internal/platform/config"
)

type txKey struct{}

// DB wraps a pgx pool. Calls made with a context returned by RunInTx run on that transaction.
type DB struct {
	pool *pgxpool.Pool
}

// Connect opens a connection pool using the configured DSN.
func Connect(ctx context.Context, cfg config.PostgresConfig) (*DB, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres: dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	pool, err := pgxpool.ConnectConfig(ctx, poolCfg)
	if err != nil {
		return nil, WrapError("postgres.connect", err)
	}
	return &DB{pool: pool}, nil
}

// NewDB wraps an existing pool.
func NewDB(pool *pgxpool.Pool) *DB {
	return &DB{pool: pool}
}

// dbQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbQuerier interface {
	pgxscan.Querier
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func (db *DB) querier(ctx context.Context) dbQuerier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok && tx != nil {
		return tx
	}
	return db.pool
}

// InTx reports whether ctx carries a transaction opened by RunInTx.
func InTx(ctx context.Context) bool {
	tx, ok := ctx.Value(txKey{}).(pgx.Tx)
	return ok && tx != nil
}

// Get scans a single row into dest.
func (db *DB) Get(ctx context.Context, op string, dest any, query string, args ...any) error {
	return WrapError(op, pgxscan.Get(ctx, db.querier(ctx), dest, query, args...))
}

// Select scans all rows into dest, which must be a pointer to a slice.
func (db *DB) Select(ctx context.Context, op string, dest any, query string, args ...any) error {
	return WrapError(op, pgxscan.Select(ctx, db.querier(ctx), dest, query, args...))
}

// Exec runs a statement and returns its command tag.
func (db *DB) Exec(ctx context.Context, op string, query string, args ...any) (pgconn.CommandTag, error) {
	tag, err := db.querier(ctx).Exec(ctx, query, args...)
	return tag, WrapError(op, err)
}

// RunInTx runs fn in a transaction. Nested calls join the outer transaction. The transaction
// rolls back when fn returns an error.
func (db *DB) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if InTx(ctx) {
		return fn(ctx)
	}
	tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return WrapError("postgres.begin", err)
	}
	defer func() {
		_ = tx.Rollback(context.Background())
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	return WrapError("postgres.commit", tx.Commit(ctx))
}

// Ping checks connectivity.
func (db *DB) Ping(ctx context.Context) error {
	return WrapError("postgres.ping", db.pool.Ping(ctx))
}

// Close releases the pool.
func (db *DB) Close() {
	if db != nil && db.pool != nil {
		db.pool.Close()
	}
}
