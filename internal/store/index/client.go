// Package index owns the relational half of the index store: pipeline
// state, collector configuration, the semantic_knowledge projection of
// every GraphEvent, and discovered_knowledge session results. Adapted from
// the teacher's codeready-toolchain-tarsy pkg/database/client.go connection
// and embedded-migration pattern, with Ent's generated client dropped in
// favor of querying through jackc/pgx/v5's pool directly — this repo has no
// generated schema layer to drive Ent from.
package index

import (
	"context"
	stdsql "database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver for migrate
)

//go:embed migrations
var migrationsFS embed.FS

// querier is the minimal pgx surface the query methods need; *pgxpool.Pool
// satisfies it directly, and a fake can satisfy it in tests without a live
// Postgres instance, mirroring internal/store/graph's runner seam.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store wraps a pgx connection pool over the index store's relational
// tables, applying its embedded migrations on connect.
type Store struct {
	pool *pgxpool.Pool
	db   querier
}

// New connects to cfg, runs pending migrations, and returns a ready Store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := migrateUp(cfg); err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("index: parse pool config: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("index: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	return &Store{pool: pool, db: pool}, nil
}

// NewFromPool wraps an already-open pool, for tests against a real
// Postgres instance (e.g. via testcontainers) that manage migrations
// themselves.
func NewFromPool(pool *pgxpool.Pool) *Store { return &Store{pool: pool, db: pool} }

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// migrateUp applies every pending embedded migration using a short-lived
// database/sql connection, then closes it; the pgx pool used for the rest
// of the store's lifetime is opened separately.
func migrateUp(cfg Config) error {
	db, err := stdsql.Open("pgx", cfg.DSN())
	if err != nil {
		return fmt.Errorf("index: open migration connection: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("index: postgres migrate driver: %w", err)
	}
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("index: migration source: %w", err)
	}
	defer sourceDriver.Close()

	m, err := migrate.NewWithInstance("iofs", sourceDriver, cfg.Database, driver)
	if err != nil {
		return fmt.Errorf("index: migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("index: apply migrations: %w", err)
	}
	return nil
}
