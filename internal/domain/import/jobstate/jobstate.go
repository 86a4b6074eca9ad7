// Package jobstate persists import checkpoints so an interrupted job resumes
// where its last committed chunk ended.
package jobstate

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/FACorreiaa/household-ledger/internal/domain/import/parser"
)

// Checkpoint is the insertion-phase progress of one job. Validation errors are
// not stored because re-parsing the same file yields them again.
type Checkpoint struct {
	Key          string              `json:"key"`
	ImportID     uuid.UUID           `json:"import_id"`
	Kind         parser.Kind         `json:"kind"`
	NextRowIndex int                 `json:"next_row_index"`
	Success      int                 `json:"success"`
	Failed       int                 `json:"failed"`
	Skipped      int                 `json:"skipped"`
	Errors       []parser.ParseError `json:"errors"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// Store keeps at most one checkpoint per key.
type Store interface {
	Put(ctx context.Context, cp Checkpoint) error
	// Get returns nil, nil when no checkpoint exists.
	Get(ctx context.Context, key string) (*Checkpoint, error)
	Delete(ctx context.Context, key string) error
	// Prune removes checkpoints not updated since olderThan, except those in keep,
	// and returns how many.
	Prune(ctx context.Context, olderThan time.Time, keep []string) (int, error)
}

// Key identifies a job by file content, kind and scope.
func Key(fingerprint string, kind parser.Kind, scope string) string {
	return strings.Join([]string{fingerprint, string(kind), scope}, ":")
}

func stamp(cp Checkpoint) Checkpoint {
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	return cp
}
