package registry

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"

	"hapied/pkg/types"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store persists Model rows in sqlite. PullJobs are deliberately not
// persisted; a restart loses in-flight progress.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the sqlite file and applies the
// embedded schema migrations. Failure here is fatal for the daemon.
func OpenStore(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite
	db.SetConnMaxLifetime(0)
	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return &Store{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return err
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// List returns every persisted model, oldest registration first.
func (s *Store) List(ctx context.Context) ([]types.Model, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, name, kind, provider, size_bytes, backend, state, is_base_model, storage_path, created_at
	FROM models ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []types.Model
	for rows.Next() {
		var m types.Model
		var base int
		if err := rows.Scan(&m.ID, &m.Name, &m.Kind, &m.Provider, &m.SizeBytes, &m.Backend, &m.State, &base, &m.StoragePath, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.IsBaseModel = base != 0
		out = append(out, m)
	}
	return out, rows.Err()
}

// Put inserts or fully replaces one model row.
func (s *Store) Put(ctx context.Context, m types.Model) error {
	base := 0
	if m.IsBaseModel {
		base = 1
	}
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO models(id, name, kind, provider, size_bytes, backend, state, is_base_model, storage_path, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
	 name=excluded.name,
	 kind=excluded.kind,
	 provider=excluded.provider,
	 size_bytes=excluded.size_bytes,
	 backend=excluded.backend,
	 state=excluded.state,
	 is_base_model=excluded.is_base_model,
	 storage_path=excluded.storage_path;
	`, m.ID, m.Name, string(m.Kind), m.Provider, m.SizeBytes, m.Backend, string(m.State), base, m.StoragePath, m.CreatedAt)
	return err
}

// Delete removes one model row.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM models WHERE id = ?`, id)
	return err
}
