// Package sqlite implements the import repositories and the taxonomy source on
// an embedded SQLite database, for single-household and CLI deployments.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/FACorreiaa/household-ledger/internal/domain/categorization"
	"github.com/FACorreiaa/household-ledger/internal/domain/import/parser"
	"github.com/FACorreiaa/household-ledger/internal/domain/import/repository"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is fixed width so text timestamps sort chronologically.
const (
	timeLayout = "2006-01-02 15:04:05.000000000"
	dateLayout = "2006-01-02"
)

// Repository implements the import repositories and categorization.Source/Dictionary.
type Repository struct {
	db *sql.DB
}

var (
	_ repository.RecordStore     = (*Repository)(nil)
	_ repository.MemberDirectory = (*Repository)(nil)
	_ repository.JobRepository   = (*Repository)(nil)
	_ categorization.Source      = (*Repository)(nil)
	_ categorization.Dictionary  = (*Repository)(nil)
)

// Open creates the database file if needed and applies migrations.
func Open(dbPath string) (*Repository, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// one writer at a time; readers share the same connection
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Repository{db: db}, nil
}

func migrate(db *sql.DB) error {
	migrations, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, migrations)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	_, err = provider.Up(context.Background())
	return err
}

// Close closes the database
func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// DB exposes the handle for fixtures and maintenance.
func (r *Repository) DB() *sql.DB {
	return r.db
}

func recordTable(kind parser.Kind) (string, error) {
	switch kind {
	case parser.KindExpense:
		return "expenses", nil
	case parser.KindBudget:
		return "budgets", nil
	default:
		return "", fmt.Errorf("unknown record kind %q", kind)
	}
}

func now() string {
	return time.Now().UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// classify wraps busy and locked errors with ErrUnavailable.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%s: %w: %w", op, repository.ErrUnavailable, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
