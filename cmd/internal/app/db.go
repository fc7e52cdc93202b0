package app

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sasha-gershtein/Sodia/cmd/identity"
	"github.com/sasha-gershtein/Sodia/cmd/internal/auth/session"
	"github.com/sasha-gershtein/Sodia/cmd/internal/storage"
)

// backend bundles the stores of one database together with its lifecycle.
type backend struct {
	name     string
	sessions session.Store
	identity identity.Store
	ping     func(ctx context.Context) error
	close    func()
}

// openBackend connects to Postgres when SODIA_DATABASE_URL is set and to the
// SQLite file otherwise. Migrations run before the stores are built.
func openBackend(ctx context.Context, cfg Config, log Logger) (*backend, error) {
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		return openPostgres(ctx, cfg, log)
	}
	return openSQLite(ctx, cfg, log)
}

func openPostgres(ctx context.Context, cfg Config, log Logger) (*backend, error) {
	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := storage.MigratePostgres(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	ids, err := identity.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return nil, err
	}

	log.Info("db.enabled.postgres_store")
	return &backend{
		name:     "postgres",
		sessions: session.NewPostgresStore(pool),
		identity: ids,
		ping: func(ctx context.Context) error {
			return PingDB(ctx, pool, 2*time.Second)
		},
		close: pool.Close,
	}, nil
}

func openSQLite(ctx context.Context, cfg Config, log Logger) (*backend, error) {
	db, err := storage.OpenSQLite(ctx, cfg.SQLitePath)
	if err != nil {
		return nil, err
	}

	ids, err := identity.NewSQLiteStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Info("db.enabled.sqlite_store", "path", cfg.SQLitePath)
	return &backend{
		name:     "sqlite",
		sessions: session.NewSQLiteStore(db),
		identity: ids,
		ping: func(ctx context.Context) error {
			return pingSQL(ctx, db, 2*time.Second)
		},
		close: func() { _ = db.Close() },
	}, nil
}

// NewDBPool builds a pgxpool with sane defaults and validates connectivity.
// Migrations are the caller's concern (see storage.MigratePostgres).
func NewDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("db: parse url: %w", err)
	}

	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns >= 0 {
		pcfg.MinConns = cfg.DBMinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	if err := PingDB(ctx, pool, 3*time.Second); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// PingDB checks if we can acquire a connection within timeout.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	conn.Release()
	return nil
}

func pingSQL(parent context.Context, db *sql.DB, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	return db.PingContext(ctx)
}
