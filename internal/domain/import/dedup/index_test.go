package dedup

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/FACorreiaa/household-ledger/internal/domain/import/repository"
)

func TestKey(t *testing.T) {
	member := uuid.New()
	base := Fields{
		Date:        "2025-03-01",
		Amount:      decimal.RequireFromString("12.5"),
		Category:    "餐饮",
		Description: "楼下",
		Project:     "日常开支",
		SubCategory: "午餐",
		MemberID:    &member,
	}

	tests := []struct {
		name  string
		other func(f Fields) Fields
		same  bool
	}{
		{"identical", func(f Fields) Fields { return f }, true},
		{"trailing zeros", func(f Fields) Fields { f.Amount = decimal.RequireFromString("12.500"); return f }, true},
		{"rounded to cents", func(f Fields) Fields { f.Amount = decimal.RequireFromString("12.501"); return f }, true},
		{"different cents", func(f Fields) Fields { f.Amount = decimal.RequireFromString("12.51"); return f }, false},
		{"different date", func(f Fields) Fields { f.Date = "2025-03-02"; return f }, false},
		{"different description", func(f Fields) Fields { f.Description = "楼上"; return f }, false},
		{"different sub_category", func(f Fields) Fields { f.SubCategory = "晚餐"; return f }, false},
		{"no member", func(f Fields) Fields { f.MemberID = nil; return f }, false},
		{"fields do not bleed", func(f Fields) Fields {
			f.Category, f.Description = "餐饮楼", "下"
			return f
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.same, Key(base) == Key(tt.other(base)))
		})
	}
}

func TestIndex(t *testing.T) {
	existing := repository.Record{
		Project:     "日常开支",
		Category:    "餐饮",
		SubCategory: "午餐",
		Date:        time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		Amount:      decimal.RequireFromString("12.50"),
		Description: "楼下",
	}
	idx := Build([]repository.Record{existing, existing})
	assert.Equal(t, 1, idx.Len())

	staged := Key(Fields{
		Date:        "2025-03-01",
		Amount:      decimal.RequireFromString("12.5"),
		Category:    "餐饮",
		Description: "楼下",
		Project:     "日常开支",
		SubCategory: "午餐",
	})
	assert.True(t, idx.Contains(staged))
	assert.False(t, idx.Add(staged))

	fresh := Key(Fields{Date: "2025-03-02", Amount: decimal.NewFromInt(1), Category: "餐饮"})
	assert.True(t, idx.Add(fresh))
	assert.False(t, idx.Add(fresh), "second occurrence in the same file is a duplicate")

	idx.Remove(fresh)
	assert.False(t, idx.Contains(fresh))
	assert.True(t, idx.Add(fresh))
}
