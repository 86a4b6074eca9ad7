package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/FACorreiaa/household-ledger/internal/domain/import/parser"
	"github.com/FACorreiaa/household-ledger/internal/domain/import/repository"
	"github.com/FACorreiaa/household-ledger/pkg/money"
)

var recordColumns = []string{
	"id", "import_id", "member_id", "project", "category", "sub_category",
	"date", "amount_minor", "description",
}

// InsertMany copies a chunk in a single COPY statement, so either every row lands or none does.
func (r *Repository) InsertMany(ctx context.Context, records []repository.Record) error {
	if len(records) == 0 {
		return nil
	}
	table, err := recordTable(records[0].Kind)
	if err != nil {
		return err
	}

	rows := make([][]any, len(records))
	for i := range records {
		rec := &records[i]
		if rec.Kind != records[0].Kind {
			return fmt.Errorf("mixed record kinds in one chunk: %q and %q", records[0].Kind, rec.Kind)
		}
		if rec.ID == uuid.Nil {
			rec.ID = uuid.New()
		}
		values, err := recordValues(rec)
		if err != nil {
			return err
		}
		rows[i] = values
	}

	n, err := r.db.CopyFrom(ctx, pgx.Identifier{table}, recordColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return classify("failed to copy records", err)
	}
	if int(n) != len(records) {
		return fmt.Errorf("copied %d of %d records", n, len(records))
	}
	return nil
}

// InsertOne inserts a single record
func (r *Repository) InsertOne(ctx context.Context, record repository.Record) error {
	table, err := recordTable(record.Kind)
	if err != nil {
		return err
	}
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, import_id, member_id, project, category, sub_category, date, amount_minor, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`, table)
	values, err := recordValues(&record)
	if err != nil {
		return err
	}
	if _, err := r.db.Exec(ctx, query, values...); err != nil {
		return classify("failed to insert record", err)
	}
	return nil
}

func recordValues(rec *repository.Record) ([]any, error) {
	minor, err := money.ToMinor(rec.Amount, money.CNY)
	if err != nil {
		return nil, fmt.Errorf("record amount %s: %w", rec.Amount, err)
	}
	return []any{
		rec.ID,
		rec.ImportID,
		rec.MemberID,
		rec.Project,
		rec.Category,
		rec.SubCategory,
		rec.Date,
		minor,
		rec.Description,
	}, nil
}

// QueryRange returns records of a kind dated within [from, to]
func (r *Repository) QueryRange(ctx context.Context, kind parser.Kind, from, to time.Time) ([]repository.Record, error) {
	table, err := recordTable(kind)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT id, import_id, member_id, project, category, sub_category, date, amount_minor, description, created_at
		FROM %s
		WHERE date BETWEEN $1 AND $2
		ORDER BY date, created_at`, table)
	rows, err := r.db.Query(ctx, query, from, to)
	if err != nil {
		return nil, classify("failed to query records", err)
	}
	defer rows.Close()

	var records []repository.Record
	for rows.Next() {
		var (
			rec      repository.Record
			importID *uuid.UUID
			minor    int64
		)
		if err := rows.Scan(
			&rec.ID,
			&importID,
			&rec.MemberID,
			&rec.Project,
			&rec.Category,
			&rec.SubCategory,
			&rec.Date,
			&minor,
			&rec.Description,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		if importID != nil {
			rec.ImportID = *importID
		}
		rec.Kind = kind
		rec.Amount = money.FromMinor(minor, money.CNY)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("failed to iterate records", err)
	}
	return records, nil
}

// DeleteByImportID removes all expense and budget rows tagged with importID
func (r *Repository) DeleteByImportID(ctx context.Context, importID uuid.UUID) (int64, error) {
	var total int64
	for _, table := range []string{"expenses", "budgets"} {
		result, err := r.db.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE import_id = $1`, table), importID)
		if err != nil {
			return total, classify("failed to delete imported records", err)
		}
		total += result.RowsAffected()
	}
	return total, nil
}
