package jobstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/FACorreiaa/household-ledger/pkg/db"
)

// PostgresStore keeps checkpoints in the import_checkpoints table.
type PostgresStore struct {
	db db.DBTX
}

// NewPostgresStore creates a checkpoint store on conn.
func NewPostgresStore(conn db.DBTX) *PostgresStore {
	return &PostgresStore{db: conn}
}

func (s *PostgresStore) Put(ctx context.Context, cp Checkpoint) error {
	cp = stamp(cp)
	payload, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	query := `
		INSERT INTO import_checkpoints (key, payload, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`
	if _, err := s.db.Exec(ctx, query, cp.Key, payload, cp.UpdatedAt); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (*Checkpoint, error) {
	var payload []byte
	err := s.db.QueryRow(ctx, `SELECT payload FROM import_checkpoints WHERE key = $1`, key).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	cp := &Checkpoint{}
	if err := json.Unmarshal(payload, cp); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	return cp, nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM import_checkpoints WHERE key = $1`, key); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

func (s *PostgresStore) Prune(ctx context.Context, olderThan time.Time, keep []string) (int, error) {
	if keep == nil {
		keep = []string{}
	}
	result, err := s.db.Exec(ctx,
		`DELETE FROM import_checkpoints WHERE updated_at < $1 AND NOT (key = ANY($2))`, olderThan, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune checkpoints: %w", err)
	}
	return int(result.RowsAffected()), nil
}
