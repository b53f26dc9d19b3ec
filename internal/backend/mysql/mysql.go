// Package mysql provides the MySQL backend.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	driver "github.com/go-sql-driver/mysql"

	"github.com/rzpsarthak13/modelstore/internal/backend"
	"github.com/rzpsarthak13/modelstore/internal/backend/sqlbase"
	"github.com/rzpsarthak13/modelstore/internal/registry"
)

// Type is the backend type name.
const Type = "mysql"

// New wraps an open MySQL pool.
func New(db *sql.DB, opts sqlbase.Options) *sqlbase.Backend {
	return sqlbase.New(db, Dialect{}, opts)
}

// Open connects to the primary and, when configured, the read replica.
func Open(ctx context.Context, cfg registry.MySQLConfig, stickyWindow time.Duration, logger *slog.Logger) (*sqlbase.Backend, error) {
	primary, err := openPool(ctx, cfg, cfg.Host, cfg.Port)
	if err != nil {
		return nil, err
	}
	opts := sqlbase.Options{StickyWindow: stickyWindow, Logger: logger}
	if cfg.ReplicaHost != "" {
		port := cfg.ReplicaPort
		if port == 0 {
			port = cfg.Port
		}
		replica, err := openPool(ctx, cfg, cfg.ReplicaHost, port)
		if err != nil {
			_ = primary.Close()
			return nil, fmt.Errorf("failed to open replica: %w", err)
		}
		opts.Replica = replica
	}
	return New(primary, opts), nil
}

// DSN builds the driver connection string for host:port.
func DSN(cfg registry.MySQLConfig, host string, port int) string {
	dc := driver.NewConfig()
	dc.User = cfg.Username
	dc.Passwd = cfg.Password
	dc.Net = "tcp"
	dc.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	dc.DBName = cfg.Database
	dc.ParseTime = true
	dc.Loc = time.UTC
	dc.Timeout = cfg.ConnectionTimeout
	return dc.FormatDSN()
}

func openPool(ctx context.Context, cfg registry.MySQLConfig, host string, port int) (*sql.DB, error) {
	db, err := sql.Open("mysql", DSN(cfg, host, port))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	timeout := cfg.ConnectionTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database %s:%d: %w", host, port, err)
	}
	return db, nil
}

type factory struct{}

func (factory) Type() string { return Type }

func (factory) Create(ctx context.Context, config registry.BackendConfig, logger *slog.Logger) (backend.Backend, error) {
	return Open(ctx, config.MySQL, config.StickyWindow, logger)
}

type validator struct{}

func (validator) Type() string { return Type }

func (validator) Validate(config *registry.Config) error {
	c := config.Backend.MySQL
	if c.Host == "" {
		return fmt.Errorf("backend.mysql.host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("backend.mysql.port must be between 1 and 65535")
	}
	if c.Database == "" {
		return fmt.Errorf("backend.mysql.database is required")
	}
	if c.Username == "" {
		return fmt.Errorf("backend.mysql.username is required")
	}
	if c.MaxOpenConns <= 0 {
		return fmt.Errorf("backend.mysql.max_open_conns must be greater than 0")
	}
	if c.ReplicaPort < 0 || c.ReplicaPort > 65535 {
		return fmt.Errorf("backend.mysql.replica_port must be between 0 and 65535")
	}
	return nil
}

func init() {
	backend.RegisterFactory(factory{})
	registry.RegisterValidator(validator{})
}
