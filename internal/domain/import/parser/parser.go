// Package parser turns a spreadsheet grid into validated import rows.
// It recognises the fixed header templates, validates every data row through the
// normalizer and collects per-row errors without ever aborting the batch.
package parser

import (
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/household-ledger/internal/domain/import/normalizer"
	"github.com/FACorreiaa/household-ledger/pkg/money"
)

// Kind is the logical type of an import.
type Kind string

const (
	KindExpense Kind = "expense"
	KindBudget  Kind = "budget"
)

// Valid reports whether k is a known import kind.
func (k Kind) Valid() bool {
	return k == KindExpense || k == KindBudget
}

// HeaderVersion identifies which header template a file uses.
type HeaderVersion string

const (
	// HeaderNew carries the leading member column.
	HeaderNew HeaderVersion = "new"
	// HeaderOld is the legacy layout without a member column.
	HeaderOld HeaderVersion = "old"
)

// DefaultCategory replaces an empty category cell.
const DefaultCategory = "其他"

// Validation messages shown to users.
const (
	MsgInvalidAmount = "金额无效"
	MsgInvalidDate   = "日期无效"
	MsgInvalidMonth  = "月份无效"
	MsgSchemaInvalid = "表头不匹配"
)

var headerTemplates = map[Kind]map[HeaderVersion][]string{
	KindExpense: {
		HeaderNew: {"费用归属", "项目", "分类", "子分类", "日期", "金额", "备注"},
		HeaderOld: {"项目", "分类", "子分类", "日期", "金额", "备注"},
	},
	KindBudget: {
		HeaderNew: {"费用归属", "项目", "分类", "子分类", "月份", "预算金额", "备注"},
		HeaderOld: {"项目", "分类", "子分类", "月份", "预算金额", "备注"},
	},
}

// Headers returns the header template of a kind and version.
func Headers(kind Kind, version HeaderVersion) []string {
	return append([]string(nil), headerTemplates[kind][version]...)
}

// ParsedRow is one validated import line.
type ParsedRow struct {
	RowNumber   int // 1-based spreadsheet row
	MemberName  string
	Project     string
	Category    string
	SubCategory string
	Date        string // YYYY-MM-DD; first day of the month for budgets
	Amount      decimal.Decimal
	Description string
}

// ParseError represents a validation error for a specific row
type ParseError struct {
	Row     int    `csv:"行号" json:"row_number"`
	Column  string `csv:"列" json:"column,omitempty"`
	Message string `csv:"错误" json:"message"`
	RawData string `csv:"原始值" json:"raw,omitempty"`
}

func (e ParseError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("row %d: %s", e.Row, e.Message)
	}
	return fmt.Sprintf("row %d, column %s: %s", e.Row, e.Column, e.Message)
}

// Result contains the outcome of parsing one grid
type Result struct {
	Rows          []ParsedRow
	Errors        []ParseError
	HeaderVersion HeaderVersion // empty when the header matched no template
}

// SchemaFailed reports whether the header was rejected.
func (r *Result) SchemaFailed() bool {
	return r.HeaderVersion == ""
}

// Total is the number of non-blank data rows seen.
func (r *Result) Total() int {
	if r.SchemaFailed() {
		return 0
	}
	return len(r.Rows) + len(r.Errors)
}

// DateRange returns the smallest and largest row date. ok is false when there are no rows.
func (r *Result) DateRange() (from, to string, ok bool) {
	for i, row := range r.Rows {
		if i == 0 || row.Date < from {
			from = row.Date
		}
		if i == 0 || row.Date > to {
			to = row.Date
		}
	}
	return from, to, len(r.Rows) > 0
}

// Parse validates a grid whose first row is the header.
func Parse(grid [][]any, kind Kind) *Result {
	result := &Result{
		Rows:   make([]ParsedRow, 0, len(grid)),
		Errors: make([]ParseError, 0),
	}

	var header []any
	if len(grid) > 0 {
		header = grid[0]
	}
	version, ok := DetectHeader(header, kind)
	if !ok {
		result.Rows = nil
		result.Errors = append(result.Errors, ParseError{
			Row:     1,
			Message: fmt.Sprintf("%s: %s", MsgSchemaInvalid, strings.Join(Headers(kind, HeaderNew), ",")),
			RawData: strings.Join(headerStrings(header), ","),
		})
		return result
	}
	result.HeaderVersion = version

	width := len(headerTemplates[kind][version])
	for i := 1; i < len(grid); i++ {
		cells := grid[i]
		if isBlankRow(cells) {
			continue
		}
		cells = pad(cells, width)

		row, parseErr := parseRow(cells, i+1, kind, version)
		if parseErr != nil {
			result.Errors = append(result.Errors, *parseErr)
			continue
		}
		result.Rows = append(result.Rows, *row)
	}

	return result
}

// DetectHeader matches a header row against the templates of a kind.
// Trailing empty cells are ignored; the remaining cells must equal a template exactly.
func DetectHeader(header []any, kind Kind) (HeaderVersion, bool) {
	cells := headerStrings(header)
	for len(cells) > 0 && cells[len(cells)-1] == "" {
		cells = cells[:len(cells)-1]
	}

	for _, version := range []HeaderVersion{HeaderNew, HeaderOld} {
		if slices.Equal(cells, headerTemplates[kind][version]) {
			return version, true
		}
	}
	return "", false
}

func parseRow(cells []any, rowNum int, kind Kind, version HeaderVersion) (*ParsedRow, *ParseError) {
	// the old layout is the new one without the member column
	offset := 0
	member := ""
	if version == HeaderNew {
		member = normalizer.CleanText(cells[0])
		offset = 1
	}
	amountHeader := headerTemplates[kind][version][offset+4]
	dateHeader := headerTemplates[kind][version][offset+3]

	amount, ok := normalizer.ParseAmount(cells[offset+4])
	if ok {
		// the store keeps whole fen, so the amount must survive that conversion
		minor, err := money.ToMinor(amount, money.CNY)
		ok = err == nil && minor != 0
	}
	if !ok {
		return nil, &ParseError{
			Row:     rowNum,
			Column:  amountHeader,
			Message: MsgInvalidAmount,
			RawData: normalizer.CleanText(cells[offset+4]),
		}
	}

	var (
		date   string
		dateOK bool
		badMsg = MsgInvalidDate
	)
	if kind == KindBudget {
		date, dateOK = normalizer.ParseMonth(cells[offset+3])
		badMsg = MsgInvalidMonth
	} else {
		date, dateOK = normalizer.ParseDate(cells[offset+3])
	}
	if !dateOK {
		return nil, &ParseError{
			Row:     rowNum,
			Column:  dateHeader,
			Message: badMsg,
			RawData: normalizer.CleanText(cells[offset+3]),
		}
	}

	category := normalizer.CleanText(cells[offset+1])
	if category == "" {
		category = DefaultCategory
	}

	return &ParsedRow{
		RowNumber:   rowNum,
		MemberName:  member,
		Project:     normalizer.CleanText(cells[offset]),
		Category:    category,
		SubCategory: normalizer.CleanText(cells[offset+2]),
		Date:        date,
		Amount:      amount,
		Description: normalizer.CleanText(cells[offset+5]),
	}, nil
}

func headerStrings(header []any) []string {
	out := make([]string, len(header))
	for i, cell := range header {
		out[i] = strings.TrimPrefix(normalizer.CleanText(cell), "\uFEFF")
	}
	return out
}

func isBlankRow(cells []any) bool {
	for _, cell := range cells {
		if !normalizer.IsBlank(cell) {
			return false
		}
	}
	return true
}

func pad(cells []any, width int) []any {
	if len(cells) >= width {
		return cells
	}
	padded := make([]any, width)
	copy(padded, cells)
	return padded
}
