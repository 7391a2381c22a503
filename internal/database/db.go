// Package database provides database connection management, migrations, and
// data access methods for transfers, certificates, push registrations and
// scheduler leases.
package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/admin-ch/CovidCertificate-App-Certificate-Delivery/internal/config"
	"github.com/pressly/goose/v3"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// goose keeps its base FS and dialect in package state
var gooseMu sync.Mutex

// Database represents the database connection and operations
type Database struct {
	db     *sql.DB
	dbType string
}

// New creates a new database connection
func New(cfg *config.Config) (*Database, error) {
	var db *sql.DB
	var err error

	switch cfg.Database.Type {
	case "sqlite":
		db, err = sql.Open("sqlite3", cfg.Database.SQLite.Path+"?_foreign_keys=on&_busy_timeout=5000")
		if err != nil {
			return nil, fmt.Errorf("failed to open SQLite database: %w", err)
		}
		// SQLite only allows one writer at a time
		db.SetMaxOpenConns(1)
	case "postgres":
		driver := "postgres"
		if cfg.Database.Postgres.Driver == "pgx" {
			driver = "pgx"
		}
		db, err = sql.Open(driver, cfg.GetDSN())
		if err != nil {
			return nil, fmt.Errorf("failed to open PostgreSQL database: %w", err)
		}
		db.SetMaxOpenConns(cfg.Database.Postgres.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.Postgres.MaxIdleConns)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Database.Type)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Database{
		db:     db,
		dbType: cfg.Database.Type,
	}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// Ping checks that the database is reachable
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Migrate applies the embedded goose migrations for the configured dialect
func (d *Database) Migrate(ctx context.Context) error {
	dialect, dir := "sqlite3", "migrations/sqlite"
	if d.dbType == "postgres" {
		dialect, dir = "postgres", "migrations/postgres"
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, d.db, dir); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// DB returns the underlying database connection for direct queries
func (d *Database) DB() *sql.DB {
	return d.db
}

// rebind rewrites ? placeholders into $n for PostgreSQL
func (d *Database) rebind(query string) string {
	if d.dbType != "postgres" {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// placeholders returns "?, ?, ..." with n entries
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// withTx runs fn inside a transaction, committing on success
func (d *Database) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
