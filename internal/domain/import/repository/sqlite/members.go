package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/FACorreiaa/household-ledger/internal/domain/import/repository"
)

// FindByName retrieves a member by exact name within a family
func (r *Repository) FindByName(ctx context.Context, familyID uuid.UUID, name string) (*repository.Member, error) {
	var (
		m         repository.Member
		createdAt string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, family_id, name, created_at FROM members WHERE family_id = ? AND name = ?`,
		familyID.String(), name,
	).Scan(&m.ID, &m.FamilyID, &m.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("find member", err)
	}
	m.CreatedAt = parseTime(createdAt)
	return &m, nil
}

// Create inserts a member, returning the existing one when the name is taken
func (r *Repository) Create(ctx context.Context, familyID uuid.UUID, name string) (*repository.Member, error) {
	if name == "" {
		return nil, fmt.Errorf("member name is required")
	}
	createdAt := now()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO members (id, family_id, name, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (family_id, name) DO NOTHING`,
		uuid.New().String(), familyID.String(), name, createdAt,
	)
	if err != nil {
		return nil, classify("create member", err)
	}
	m, err := r.FindByName(ctx, familyID, name)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("member %q vanished after insert", name)
	}
	return m, nil
}
