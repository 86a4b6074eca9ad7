// Package dedup detects rows that would duplicate an existing record.
package dedup

import (
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/household-ledger/internal/domain/import/repository"
)

const dateLayout = "2006-01-02"

// separator cannot occur in cleaned spreadsheet text
const separator = "\x1f"

// Fields are the values that identify an expense.
type Fields struct {
	Date        string // YYYY-MM-DD
	Amount      decimal.Decimal
	Category    string
	Description string
	Project     string
	SubCategory string
	MemberID    *uuid.UUID
}

// Key builds the identity string. Amounts are compared at two decimals.
func Key(f Fields) string {
	member := ""
	if f.MemberID != nil {
		member = f.MemberID.String()
	}
	return strings.Join([]string{
		f.Date,
		f.Amount.Round(2).StringFixed(2),
		f.Category,
		f.Description,
		f.Project,
		f.SubCategory,
		member,
	}, separator)
}

// RecordKey builds the key of a persisted record.
func RecordKey(r repository.Record) string {
	return Key(Fields{
		Date:        r.Date.Format(dateLayout),
		Amount:      r.Amount,
		Category:    r.Category,
		Description: r.Description,
		Project:     r.Project,
		SubCategory: r.SubCategory,
		MemberID:    r.MemberID,
	})
}

// Index is the set of keys already present. It is owned by one job and not
// safe for concurrent use.
type Index struct {
	keys map[string]struct{}
}

// Build indexes existing records.
func Build(existing []repository.Record) *Index {
	idx := &Index{keys: make(map[string]struct{}, len(existing))}
	for _, r := range existing {
		idx.keys[RecordKey(r)] = struct{}{}
	}
	return idx
}

// Contains reports whether key is present.
func (idx *Index) Contains(key string) bool {
	_, ok := idx.keys[key]
	return ok
}

// Add inserts key and reports whether it was absent.
func (idx *Index) Add(key string) bool {
	if _, ok := idx.keys[key]; ok {
		return false
	}
	idx.keys[key] = struct{}{}
	return true
}

// Remove deletes key, used when a staged row finally fails to insert.
func (idx *Index) Remove(key string) {
	delete(idx.keys, key)
}

// Len returns the number of keys.
func (idx *Index) Len() int {
	return len(idx.keys)
}
