package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/FACorreiaa/household-ledger/internal/domain/import/parser"
	"github.com/FACorreiaa/household-ledger/internal/domain/import/repository"
)

const jobColumns = `id, kind, scope, job_key, upload_key, family_id, member_id, status,
	total, processed, success, failed, skipped, errors, started_at, finished_at`

// CreateJob inserts a job or resets a resumed one to processing
func (r *Repository) CreateJob(ctx context.Context, job *repository.ImportJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	errs, err := marshalErrors(job.Errors)
	if err != nil {
		return err
	}
	var memberID sql.NullString
	if job.MemberID != nil {
		memberID = sql.NullString{String: job.MemberID.String(), Valid: true}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO import_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			upload_key = excluded.upload_key,
			total = excluded.total,
			processed = excluded.processed,
			success = excluded.success,
			failed = excluded.failed,
			skipped = excluded.skipped,
			errors = excluded.errors,
			finished_at = NULL`,
		job.ID.String(),
		string(job.Kind),
		job.Scope,
		job.Key,
		job.UploadKey,
		job.FamilyID.String(),
		memberID,
		string(job.Status),
		job.Total,
		job.Processed,
		job.Success,
		job.Failed,
		job.Skipped,
		errs,
		job.StartedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return classify("create import job", err)
	}
	return nil
}

// UpdateJobProgress stores the running counters
func (r *Repository) UpdateJobProgress(ctx context.Context, job *repository.ImportJob) error {
	errs, err := marshalErrors(job.Errors)
	if err != nil {
		return err
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE import_jobs SET processed = ?, success = ?, failed = ?, skipped = ?, errors = ? WHERE id = ?`,
		job.Processed, job.Success, job.Failed, job.Skipped, errs, job.ID.String())
	if err != nil {
		return classify("update import job progress", err)
	}
	return requireAffected(result)
}

// FinishJob stores the terminal status and counters
func (r *Repository) FinishJob(ctx context.Context, job *repository.ImportJob) error {
	errs, err := marshalErrors(job.Errors)
	if err != nil {
		return err
	}
	var finishedAt sql.NullString
	if job.FinishedAt != nil {
		finishedAt = sql.NullString{String: job.FinishedAt.UTC().Format(timeLayout), Valid: true}
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE import_jobs
		 SET status = ?, processed = ?, success = ?, failed = ?, skipped = ?, errors = ?, finished_at = ?
		 WHERE id = ?`,
		string(job.Status), job.Processed, job.Success, job.Failed, job.Skipped, errs, finishedAt, job.ID.String())
	if err != nil {
		return classify("finish import job", err)
	}
	return requireAffected(result)
}

func requireAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrJobNotFound
	}
	return nil
}

// GetJob retrieves a job by id
func (r *Repository) GetJob(ctx context.Context, id uuid.UUID) (*repository.ImportJob, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM import_jobs WHERE id = ?`, id.String())
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrJobNotFound
	}
	if err != nil {
		return nil, classify("get import job", err)
	}
	return job, nil
}

// ListJobsByStatus returns jobs in a status, oldest first
func (r *Repository) ListJobsByStatus(ctx context.Context, status repository.JobStatus) ([]*repository.ImportJob, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM import_jobs WHERE status = ? ORDER BY started_at`, string(status))
	if err != nil {
		return nil, classify("list import jobs", err)
	}
	defer rows.Close()

	var jobs []*repository.ImportJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan import job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*repository.ImportJob, error) {
	var (
		job        repository.ImportJob
		kind       string
		status     string
		memberID   uuid.NullUUID
		errs       string
		startedAt  string
		finishedAt sql.NullString
	)
	if err := row.Scan(
		&job.ID,
		&kind,
		&job.Scope,
		&job.Key,
		&job.UploadKey,
		&job.FamilyID,
		&memberID,
		&status,
		&job.Total,
		&job.Processed,
		&job.Success,
		&job.Failed,
		&job.Skipped,
		&errs,
		&startedAt,
		&finishedAt,
	); err != nil {
		return nil, err
	}
	job.Kind = parser.Kind(kind)
	job.Status = repository.JobStatus(status)
	if memberID.Valid {
		id := memberID.UUID
		job.MemberID = &id
	}
	job.StartedAt = parseTime(startedAt)
	if finishedAt.Valid {
		t := parseTime(finishedAt.String)
		job.FinishedAt = &t
	}
	if errs != "" {
		if err := json.Unmarshal([]byte(errs), &job.Errors); err != nil {
			return nil, fmt.Errorf("decode job errors: %w", err)
		}
	}
	return &job, nil
}

func marshalErrors(errs []parser.ParseError) (string, error) {
	if errs == nil {
		errs = []parser.ParseError{}
	}
	data, err := json.Marshal(errs)
	if err != nil {
		return "", fmt.Errorf("encode job errors: %w", err)
	}
	return string(data), nil
}
