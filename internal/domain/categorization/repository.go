package categorization

import (
	"context"
	"errors"
	"fmt"

	"github.com/FACorreiaa/household-ledger/pkg/db"
)

// Source lists every triple already known to the household.
type Source interface {
	ListAllTriples(ctx context.Context) ([]Triple, error)
}

// Dictionary is the explicit, user-curated part of the taxonomy.
type Dictionary interface {
	AddTriple(ctx context.Context, t Triple) (bool, error)
	RemoveTriple(ctx context.Context, t Triple) error
	ListDictionary(ctx context.Context) ([]Triple, error)
}

// ErrIncompleteTriple is returned when a dictionary write lacks a level.
var ErrIncompleteTriple = errors.New("triple must have project, category and sub_category")

// Repository handles taxonomy reads and dictionary writes on PostgreSQL
type Repository struct {
	db db.DBTX
}

// NewRepository creates a new categorization repository
func NewRepository(conn db.DBTX) *Repository {
	return &Repository{db: conn}
}

// listAllTriplesQuery returns distinct triples in first-seen order: dictionary
// entries first, then leaves implied by expenses, budgets and goals.
const listAllTriplesQuery = `
	SELECT project, category, sub_category
	FROM (
		SELECT project, category, sub_category, 0 AS src, MIN(created_at) AS first_seen
		FROM hierarchy_dictionary
		GROUP BY project, category, sub_category
		UNION ALL
		SELECT project, category, sub_category, 1, MIN(created_at)
		FROM expenses
		GROUP BY project, category, sub_category
		UNION ALL
		SELECT project, category, sub_category, 2, MIN(created_at)
		FROM budgets
		GROUP BY project, category, sub_category
		UNION ALL
		SELECT project, category, sub_category, 3, MIN(created_at)
		FROM goals
		GROUP BY project, category, sub_category
	) known
	WHERE project <> '' AND category <> '' AND sub_category <> ''
	ORDER BY src, first_seen, project, category, sub_category
`

// ListAllTriples implements Source. Duplicates across tables are removed by NewTaxonomy.
func (r *Repository) ListAllTriples(ctx context.Context) ([]Triple, error) {
	return r.queryTriples(ctx, listAllTriplesQuery)
}

// ListDictionary returns the explicit dictionary in insertion order.
func (r *Repository) ListDictionary(ctx context.Context) ([]Triple, error) {
	return r.queryTriples(ctx, `
		SELECT project, category, sub_category
		FROM hierarchy_dictionary
		ORDER BY created_at, id
	`)
}

func (r *Repository) queryTriples(ctx context.Context, query string) ([]Triple, error) {
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list triples: %w", err)
	}
	defer rows.Close()

	var triples []Triple
	for rows.Next() {
		var t Triple
		if err := rows.Scan(&t.Project, &t.Category, &t.SubCategory); err != nil {
			return nil, fmt.Errorf("failed to scan triple: %w", err)
		}
		triples = append(triples, t)
	}
	return triples, rows.Err()
}

// AddTriple records a leaf the user selected explicitly. It reports whether the
// triple was new.
func (r *Repository) AddTriple(ctx context.Context, t Triple) (bool, error) {
	t = t.Trim()
	if !t.Complete() {
		return false, ErrIncompleteTriple
	}

	query := `
		INSERT INTO hierarchy_dictionary (project, category, sub_category)
		VALUES ($1, $2, $3)
		ON CONFLICT (project, category, sub_category) DO NOTHING
	`
	result, err := r.db.Exec(ctx, query, t.Project, t.Category, t.SubCategory)
	if err != nil {
		return false, fmt.Errorf("failed to add triple %s: %w", t, err)
	}
	return result.RowsAffected() > 0, nil
}

// RemoveTriple deletes a dictionary entry. Leaves implied by records are unaffected.
func (r *Repository) RemoveTriple(ctx context.Context, t Triple) error {
	t = t.Trim()
	query := `DELETE FROM hierarchy_dictionary WHERE project = $1 AND category = $2 AND sub_category = $3`
	if _, err := r.db.Exec(ctx, query, t.Project, t.Category, t.SubCategory); err != nil {
		return fmt.Errorf("failed to remove triple %s: %w", t, err)
	}
	return nil
}
