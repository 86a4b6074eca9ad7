package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/FACorreiaa/household-ledger/internal/domain/import/repository"
)

// FindByName retrieves a member by exact name within a family
func (r *Repository) FindByName(ctx context.Context, familyID uuid.UUID, name string) (*repository.Member, error) {
	query := `
		SELECT id, family_id, name, created_at
		FROM members
		WHERE family_id = $1 AND name = $2`

	m := &repository.Member{}
	err := r.db.QueryRow(ctx, query, familyID, name).Scan(&m.ID, &m.FamilyID, &m.Name, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("failed to find member", err)
	}
	return m, nil
}

// Create inserts a member. A concurrent insert of the same name returns the existing row.
func (r *Repository) Create(ctx context.Context, familyID uuid.UUID, name string) (*repository.Member, error) {
	if name == "" {
		return nil, fmt.Errorf("member name is required")
	}
	query := `
		INSERT INTO members (id, family_id, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (family_id, name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, created_at`

	m := &repository.Member{ID: uuid.New(), FamilyID: familyID, Name: name}
	if err := r.db.QueryRow(ctx, query, m.ID, familyID, name).Scan(&m.ID, &m.CreatedAt); err != nil {
		return nil, classify("failed to create member", err)
	}
	return m, nil
}
