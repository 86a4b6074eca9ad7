package sqlite

import (
	"context"
	"fmt"

	"github.com/FACorreiaa/household-ledger/internal/domain/categorization"
)

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
	)
	WHERE project <> '' AND category <> '' AND sub_category <> ''
	ORDER BY src, first_seen, project, category, sub_category`

// ListAllTriples implements categorization.Source
func (r *Repository) ListAllTriples(ctx context.Context) ([]categorization.Triple, error) {
	return r.queryTriples(ctx, listAllTriplesQuery)
}

// ListDictionary returns the explicit dictionary in insertion order
func (r *Repository) ListDictionary(ctx context.Context) ([]categorization.Triple, error) {
	return r.queryTriples(ctx, `SELECT project, category, sub_category FROM hierarchy_dictionary ORDER BY id`)
}

func (r *Repository) queryTriples(ctx context.Context, query string) ([]categorization.Triple, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, classify("list triples", err)
	}
	defer rows.Close()

	var triples []categorization.Triple
	for rows.Next() {
		var t categorization.Triple
		if err := rows.Scan(&t.Project, &t.Category, &t.SubCategory); err != nil {
			return nil, fmt.Errorf("scan triple: %w", err)
		}
		triples = append(triples, t)
	}
	return triples, rows.Err()
}

// AddTriple records an explicitly selected leaf and reports whether it was new
func (r *Repository) AddTriple(ctx context.Context, t categorization.Triple) (bool, error) {
	t = t.Trim()
	if !t.Complete() {
		return false, categorization.ErrIncompleteTriple
	}
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO hierarchy_dictionary (project, category, sub_category, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (project, category, sub_category) DO NOTHING`,
		t.Project, t.Category, t.SubCategory, now())
	if err != nil {
		return false, classify("add triple", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RemoveTriple deletes a dictionary entry
func (r *Repository) RemoveTriple(ctx context.Context, t categorization.Triple) error {
	t = t.Trim()
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM hierarchy_dictionary WHERE project = ? AND category = ? AND sub_category = ?`,
		t.Project, t.Category, t.SubCategory)
	if err != nil {
		return classify("remove triple", err)
	}
	return nil
}
