package money

import (
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/shopspring/decimal"
)

// TestDataGenerator generates realistic household ledger rows using gofakeit.
type TestDataGenerator struct {
	faker *gofakeit.Faker
}

// NewTestDataGenerator creates a new test data generator with a random seed.
func NewTestDataGenerator() *TestDataGenerator {
	return &TestDataGenerator{faker: gofakeit.New(0)}
}

// NewTestDataGeneratorWithSeed creates a generator with a specific seed for reproducibility.
func NewTestDataGeneratorWithSeed(seed int64) *TestDataGenerator {
	return &TestDataGenerator{faker: gofakeit.New(seed)}
}

// LedgerRow is one generated spreadsheet row in the new expense layout.
type LedgerRow struct {
	Member      string
	Project     string
	Category    string
	SubCategory string
	Date        string
	Amount      decimal.Decimal
	Description string
}

// Cells returns the row in template column order.
func (r LedgerRow) Cells() []string {
	return []string{r.Member, r.Project, r.Category, r.SubCategory, r.Date, r.Amount.StringFixed(2), r.Description}
}

var members = []string{"爸爸", "妈妈", "小明", "奶奶"}

var hierarchy = [][3]string{
	{"日常开支", "餐饮", "早餐"},
	{"日常开支", "餐饮", "午餐"},
	{"日常开支", "餐饮", "晚餐"},
	{"日常开支", "日用", "超市"},
	{"出行", "交通", "地铁"},
	{"出行", "交通", "加油"},
	{"教育", "学费", "兴趣班"},
	{"居住", "水电", "电费"},
}

var descriptions = []string{"楼下", "网购", "周末", "月结", "朋友聚会", "超市促销", "线上缴费"}

// Triple returns a random known hierarchy leaf.
func (g *TestDataGenerator) Triple() (project, category, subCategory string) {
	h := hierarchy[g.faker.IntRange(0, len(hierarchy)-1)]
	return h[0], h[1], h[2]
}

// RandomAmount returns a non-zero CNY amount between minMinor and maxMinor.
func (g *TestDataGenerator) RandomAmount(minMinor, maxMinor int64) decimal.Decimal {
	v := int64(g.faker.IntRange(int(minMinor), int(maxMinor)))
	if v == 0 {
		v = 1
	}
	return FromMinor(v, CNY)
}

// ExpenseRow generates a single row with a unique description suffix.
func (g *TestDataGenerator) ExpenseRow() LedgerRow {
	project, category, sub := g.Triple()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return LedgerRow{
		Member:      members[g.faker.IntRange(0, len(members)-1)],
		Project:     project,
		Category:    category,
		SubCategory: sub,
		Date:        g.faker.DateRange(start, start.AddDate(1, 0, 0)).Format("2006-01-02"),
		Amount:      g.RandomAmount(100, 500000),
		Description: descriptions[g.faker.IntRange(0, len(descriptions)-1)] + " " + g.faker.LetterN(8),
	}
}

// ExpenseRows generates n rows.
func (g *TestDataGenerator) ExpenseRows(n int) []LedgerRow {
	rows := make([]LedgerRow, n)
	for i := range rows {
		rows[i] = g.ExpenseRow()
	}
	return rows
}
