package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

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

	query := `
		INSERT INTO import_jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NULL)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			upload_key = EXCLUDED.upload_key,
			total = EXCLUDED.total,
			processed = EXCLUDED.processed,
			success = EXCLUDED.success,
			failed = EXCLUDED.failed,
			skipped = EXCLUDED.skipped,
			errors = EXCLUDED.errors,
			finished_at = NULL`

	_, err = r.db.Exec(ctx, query,
		job.ID,
		string(job.Kind),
		job.Scope,
		job.Key,
		job.UploadKey,
		job.FamilyID,
		job.MemberID,
		string(job.Status),
		job.Total,
		job.Processed,
		job.Success,
		job.Failed,
		job.Skipped,
		errs,
		job.StartedAt,
	)
	if err != nil {
		return classify("failed to create import job", err)
	}
	return nil
}

// UpdateJobProgress stores the running counters
func (r *Repository) UpdateJobProgress(ctx context.Context, job *repository.ImportJob) error {
	errs, err := marshalErrors(job.Errors)
	if err != nil {
		return err
	}
	query := `
		UPDATE import_jobs
		SET processed = $2, success = $3, failed = $4, skipped = $5, errors = $6
		WHERE id = $1`
	result, err := r.db.Exec(ctx, query, job.ID, job.Processed, job.Success, job.Failed, job.Skipped, errs)
	if err != nil {
		return classify("failed to update import job progress", err)
	}
	if result.RowsAffected() == 0 {
		return repository.ErrJobNotFound
	}
	return nil
}

// FinishJob stores the terminal status and counters
func (r *Repository) FinishJob(ctx context.Context, job *repository.ImportJob) error {
	errs, err := marshalErrors(job.Errors)
	if err != nil {
		return err
	}
	query := `
		UPDATE import_jobs
		SET status = $2, processed = $3, success = $4, failed = $5, skipped = $6, errors = $7, finished_at = $8
		WHERE id = $1`
	result, err := r.db.Exec(ctx, query,
		job.ID, string(job.Status), job.Processed, job.Success, job.Failed, job.Skipped, errs, job.FinishedAt)
	if err != nil {
		return classify("failed to finish import job", err)
	}
	if result.RowsAffected() == 0 {
		return repository.ErrJobNotFound
	}
	return nil
}

// GetJob retrieves a job by id
func (r *Repository) GetJob(ctx context.Context, id uuid.UUID) (*repository.ImportJob, error) {
	row := r.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM import_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrJobNotFound
	}
	if err != nil {
		return nil, classify("failed to get import job", err)
	}
	return job, nil
}

// ListJobsByStatus returns jobs in a status, oldest first
func (r *Repository) ListJobsByStatus(ctx context.Context, status repository.JobStatus) ([]*repository.ImportJob, error) {
	rows, err := r.db.Query(ctx, `SELECT `+jobColumns+` FROM import_jobs WHERE status = $1 ORDER BY started_at`, string(status))
	if err != nil {
		return nil, classify("failed to list import jobs", err)
	}
	defer rows.Close()

	var jobs []*repository.ImportJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan import job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanJob(row pgx.Row) (*repository.ImportJob, error) {
	var (
		job    repository.ImportJob
		kind   string
		status string
		errs   []byte
	)
	if err := row.Scan(
		&job.ID,
		&kind,
		&job.Scope,
		&job.Key,
		&job.UploadKey,
		&job.FamilyID,
		&job.MemberID,
		&status,
		&job.Total,
		&job.Processed,
		&job.Success,
		&job.Failed,
		&job.Skipped,
		&errs,
		&job.StartedAt,
		&job.FinishedAt,
	); err != nil {
		return nil, err
	}
	job.Kind = parser.Kind(kind)
	job.Status = repository.JobStatus(status)
	if len(errs) > 0 {
		if err := json.Unmarshal(errs, &job.Errors); err != nil {
			return nil, fmt.Errorf("failed to decode job errors: %w", err)
		}
	}
	return &job, nil
}

func marshalErrors(errs []parser.ParseError) ([]byte, error) {
	if errs == nil {
		errs = []parser.ParseError{}
	}
	data, err := json.Marshal(errs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job errors: %w", err)
	}
	return data, nil
}
