package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/FACorreiaa/household-ledger/internal/domain/import/parser"
	"github.com/FACorreiaa/household-ledger/internal/domain/import/repository"
	"github.com/FACorreiaa/household-ledger/pkg/money"
)

// InsertMany inserts a chunk in one transaction
func (r *Repository) InsertMany(ctx context.Context, records []repository.Record) (err error) {
	if len(records) == 0 {
		return nil
	}
	table, err := recordTable(records[0].Kind)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin transaction", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, insertRecordQuery(table))
	if err != nil {
		return classify("prepare insert", err)
	}
	defer stmt.Close()

	createdAt := now()
	for i := range records {
		rec := &records[i]
		if rec.Kind != records[0].Kind {
			return fmt.Errorf("mixed record kinds in one chunk: %q and %q", records[0].Kind, rec.Kind)
		}
		if rec.ID == uuid.Nil {
			rec.ID = uuid.New()
		}
		var args []any
		if args, err = recordArgs(rec, createdAt); err != nil {
			return err
		}
		if _, err = stmt.ExecContext(ctx, args...); err != nil {
			return classify("insert record", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return classify("commit records", err)
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
	args, err := recordArgs(&record, now())
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, insertRecordQuery(table), args...); err != nil {
		return classify("insert record", err)
	}
	return nil
}

func insertRecordQuery(table string) string {
	return fmt.Sprintf(`
		INSERT INTO %s (id, import_id, member_id, project, category, sub_category, date, amount_minor, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, table)
}

func recordArgs(rec *repository.Record, createdAt string) ([]any, error) {
	minor, err := money.ToMinor(rec.Amount, money.CNY)
	if err != nil {
		return nil, fmt.Errorf("record amount %s: %w", rec.Amount, err)
	}
	var importID, memberID sql.NullString
	if rec.ImportID != uuid.Nil {
		importID = sql.NullString{String: rec.ImportID.String(), Valid: true}
	}
	if rec.MemberID != nil {
		memberID = sql.NullString{String: rec.MemberID.String(), Valid: true}
	}
	return []any{
		rec.ID.String(),
		importID,
		memberID,
		rec.Project,
		rec.Category,
		rec.SubCategory,
		rec.Date.Format(dateLayout),
		minor,
		rec.Description,
		createdAt,
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
		WHERE date BETWEEN ? AND ?
		ORDER BY date, created_at`, table)
	rows, err := r.db.QueryContext(ctx, query, from.Format(dateLayout), to.Format(dateLayout))
	if err != nil {
		return nil, classify("query records", err)
	}
	defer rows.Close()

	var records []repository.Record
	for rows.Next() {
		var (
			rec       repository.Record
			importID  uuid.NullUUID
			memberID  uuid.NullUUID
			date      string
			minor     int64
			createdAt string
		)
		if err := rows.Scan(
			&rec.ID,
			&importID,
			&memberID,
			&rec.Project,
			&rec.Category,
			&rec.SubCategory,
			&date,
			&minor,
			&rec.Description,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if importID.Valid {
			rec.ImportID = importID.UUID
		}
		if memberID.Valid {
			id := memberID.UUID
			rec.MemberID = &id
		}
		rec.Date, err = time.Parse(dateLayout, date)
		if err != nil {
			return nil, fmt.Errorf("parse record date %q: %w", date, err)
		}
		rec.Kind = kind
		rec.Amount = money.FromMinor(minor, money.CNY)
		rec.CreatedAt = parseTime(createdAt)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate records", err)
	}
	return records, nil
}

// DeleteByImportID removes all expense and budget rows tagged with importID
func (r *Repository) DeleteByImportID(ctx context.Context, importID uuid.UUID) (int64, error) {
	var total int64
	for _, table := range []string{"expenses", "budgets"} {
		result, err := r.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE import_id = ?`, table), importID.String())
		if err != nil {
			return total, classify("delete imported records", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
