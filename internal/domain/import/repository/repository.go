// Package repository defines the persistence contracts used by the import pipeline.
package repository

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/household-ledger/internal/domain/import/parser"
)

var (
	// ErrUnavailable marks infrastructure failures worth retrying.
	ErrUnavailable = errors.New("store temporarily unavailable")
	// ErrJobNotFound is returned when no job has the requested id.
	ErrJobNotFound = errors.New("import job not found")
)

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnavailable) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// JobStatus is the lifecycle state of an import job
type JobStatus string

const (
	JobStatusProcessing JobStatus = "processing"
	JobStatusSuccess    JobStatus = "success"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCanceled   JobStatus = "canceled"
)

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSuccess || s == JobStatusFailed || s == JobStatusCanceled
}

// Record is a persisted expense or budget row. Budget dates are the first day
// of the budget month.
type Record struct {
	ID          uuid.UUID
	ImportID    uuid.UUID
	Kind        parser.Kind
	MemberID    *uuid.UUID
	Project     string
	Category    string
	SubCategory string
	Date        time.Time
	Amount      decimal.Decimal
	Description string
	CreatedAt   time.Time
}

// Member is a household member records can be attributed to
type Member struct {
	ID        uuid.UUID
	FamilyID  uuid.UUID
	Name      string
	CreatedAt time.Time
}

// ImportJob is the persisted view of one import run
type ImportJob struct {
	ID         uuid.UUID           `json:"import_id"`
	Kind       parser.Kind         `json:"kind"`
	Scope      string              `json:"scope"`
	Key        string              `json:"-"`
	UploadKey  string              `json:"-"`
	FamilyID   uuid.UUID           `json:"family_id"`
	MemberID   *uuid.UUID          `json:"member_id,omitempty"`
	Status     JobStatus           `json:"status"`
	Total      int                 `json:"total"`
	Processed  int                 `json:"processed"`
	Success    int                 `json:"success"`
	Failed     int                 `json:"failed"`
	Skipped    int                 `json:"skipped"`
	Errors     []parser.ParseError `json:"errors"`
	Paused     bool                `json:"paused"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt *time.Time          `json:"finished_at,omitempty"`
}

// RecordStore persists imported rows.
type RecordStore interface {
	// InsertMany inserts all records atomically; records share one kind.
	InsertMany(ctx context.Context, records []Record) error
	InsertOne(ctx context.Context, record Record) error
	// QueryRange returns records of kind dated within [from, to].
	QueryRange(ctx context.Context, kind parser.Kind, from, to time.Time) ([]Record, error)
	// DeleteByImportID removes every record tagged with importID.
	DeleteByImportID(ctx context.Context, importID uuid.UUID) (int64, error)
}

// MemberDirectory resolves member names within a family.
type MemberDirectory interface {
	// FindByName returns nil, nil when no member has the name.
	FindByName(ctx context.Context, familyID uuid.UUID, name string) (*Member, error)
	Create(ctx context.Context, familyID uuid.UUID, name string) (*Member, error)
}

// JobRepository persists job progress so it survives restarts.
type JobRepository interface {
	// CreateJob inserts the job, or resets it to processing when the id exists.
	CreateJob(ctx context.Context, job *ImportJob) error
	UpdateJobProgress(ctx context.Context, job *ImportJob) error
	FinishJob(ctx context.Context, job *ImportJob) error
	GetJob(ctx context.Context, id uuid.UUID) (*ImportJob, error)
	ListJobsByStatus(ctx context.Context, status JobStatus) ([]*ImportJob, error)
}
