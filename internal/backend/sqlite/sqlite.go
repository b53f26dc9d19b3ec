// Package sqlite provides the SQLite backend on the pure Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"

	"github.com/rzpsarthak13/modelstore/internal/backend"
	"github.com/rzpsarthak13/modelstore/internal/backend/sqlbase"
	"github.com/rzpsarthak13/modelstore/internal/registry"
)

// Type is the backend type name.
const Type = "sqlite"

// DriverName is the database/sql driver registered by modernc.org/sqlite.
const DriverName = "sqlite"

// Open opens the database at path, which may be ":memory:".
// SQLite serialises writers, so the pool holds a single connection; this
// also keeps an in-memory database alive for the lifetime of the backend.
func Open(ctx context.Context, path string, logger *slog.Logger) (*sqlbase.Backend, error) {
	db, err := sql.Open(DriverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to configure sqlite database: %w", err)
	}
	return sqlbase.New(db, Dialect{}, sqlbase.Options{Logger: logger}), nil
}

type factory struct{}

func (factory) Type() string { return Type }

func (factory) Create(ctx context.Context, config registry.BackendConfig, logger *slog.Logger) (backend.Backend, error) {
	return Open(ctx, config.SQLite.Path, logger)
}

type validator struct{}

func (validator) Type() string { return Type }

func (validator) Validate(config *registry.Config) error {
	if config.Backend.SQLite.Path == "" {
		return fmt.Errorf("backend.sqlite.path is required")
	}
	return nil
}

func init() {
	backend.RegisterFactory(factory{})
	registry.RegisterValidator(validator{})
}
