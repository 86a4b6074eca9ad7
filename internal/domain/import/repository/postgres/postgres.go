// Package postgres implements the import repositories on PostgreSQL.
package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/FACorreiaa/household-ledger/internal/domain/import/parser"
	"github.com/FACorreiaa/household-ledger/internal/domain/import/repository"
	"github.com/FACorreiaa/household-ledger/pkg/db"
)

// Repository implements RecordStore, MemberDirectory and JobRepository.
type Repository struct {
	db db.DBTX
}

// NewRepository creates a new PostgreSQL import repository
func NewRepository(conn db.DBTX) *Repository {
	return &Repository{db: conn}
}

var (
	_ repository.RecordStore     = (*Repository)(nil)
	_ repository.MemberDirectory = (*Repository)(nil)
	_ repository.JobRepository   = (*Repository)(nil)
)

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

// retryable SQLSTATE codes: serialization failure, deadlock, shutdown, too many connections
var retryableCodes = map[string]bool{
	"40001": true,
	"40P01": true,
	"57P01": true,
	"57P03": true,
	"53300": true,
}

// classify wraps connection-level and retryable server errors with ErrUnavailable.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return fmt.Errorf("%s: %w: %w", op, repository.ErrUnavailable, err)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return fmt.Errorf("%s: %w: %w", op, repository.ErrUnavailable, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (retryableCodes[pgErr.Code] || len(pgErr.Code) == 5 && pgErr.Code[:2] == "08") {
		return fmt.Errorf("%s: %w: %w", op, repository.ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
