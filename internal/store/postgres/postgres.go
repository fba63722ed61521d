// Package postgres keeps the gatekeeper's history and settings in
// PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/alfredjeanlab/gatekeeper/internal/model"
	"github.com/alfredjeanlab/gatekeeper/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrationsTable is namespaced so the history can live in a database
// shared with other services.
const migrationsTable = "gatekeeper_schema_migrations"

const connectTimeout = 10 * time.Second

// PostgresStore implements store.Store.
type PostgresStore struct {
	db *sql.DB
}

var _ store.Store = (*PostgresStore)(nil)

// New connects to databaseURL and brings the schema up to date.
func New(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One router, a handful of writers.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("reading migrations: %w", err)
	}
	drv, err := migratepg.WithInstance(db, &migratepg.Config{MigrationsTable: migrationsTable})
	if err != nil {
		return fmt.Errorf("preparing migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", drv)
	if err != nil {
		return fmt.Errorf("preparing migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrating history schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) AppendHistory(ctx context.Context, e *model.Event) error {
	return queryAppendHistory(ctx, s.db, e)
}

func (s *PostgresStore) ReadHistory(ctx context.Context, filter model.EventFilter) ([]*model.Event, error) {
	return queryReadHistory(ctx, s.db, filter)
}

func (s *PostgresStore) LoadSettings(ctx context.Context) (*model.Settings, error) {
	return queryLoadSettings(ctx, s.db)
}

func (s *PostgresStore) SaveSettings(ctx context.Context, settings *model.Settings) error {
	return querySaveSettings(ctx, s.db, settings)
}
