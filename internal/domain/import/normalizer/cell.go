// Package normalizer coerces raw spreadsheet cell values into canonical types.
// cell.go handles amounts and dates; every function is pure and reports failure
// through its boolean result instead of an error or a zero default.
package normalizer

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/width"
)

// DateLayout is the canonical date representation of a parsed row.
const DateLayout = "2006-01-02"

const (
	// minSerial and maxSerial bound spreadsheet serials to 1899-12-31..9999-12-31.
	minSerial = 1
	maxSerial = 2958465
)

var serialEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

var (
	// YYYY-MM-DD, YYYY/MM/DD, YYYY.MM.DD with an optional time of day
	separatedDate = regexp.MustCompile(`^(\d{4})([-/.])(\d{1,2})([-/.])(\d{1,2})(?:[ T]\d{1,2}:\d{2}(?::\d{2})?)?$`)
	// YYYY年MM月DD日
	chineseDate = regexp.MustCompile(`^(\d{4})年(\d{1,2})月(\d{1,2})日$`)
	// YYYY-MM, YYYY/MM, YYYY.MM, YYYY年MM月
	separatedMonth = regexp.MustCompile(`^(\d{4})[-/.](\d{1,2})$`)
	chineseMonth   = regexp.MustCompile(`^(\d{4})年(\d{1,2})月$`)
	// textual serials are limited to five integer digits (1927-05-18..2173-10-14)
	// so that "2025.03" is never read as a day count
	serialText = regexp.MustCompile(`^\d{5}(?:\.\d+)?$`)
)

// amountNoise is removed from textual amounts before parsing.
var amountNoise = strings.NewReplacer(
	"¥", "",
	"￥", "",
	",", "",
	"\u00a0", "",
	"\u3000", "",
	" ", "",
	"\t", "",
)

// ParseAmount converts a raw cell into a decimal amount.
// Numeric values are accepted only when finite. Strings are folded to half-width,
// stripped of yen signs, thousands separators and whitespace, then parsed.
func ParseAmount(raw any) (decimal.Decimal, bool) {
	switch v := raw.(type) {
	case nil:
		return decimal.Decimal{}, false
	case decimal.Decimal:
		return v, true
	case float64:
		return finiteFloat(v)
	case float32:
		return finiteFloat(float64(v))
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int32:
		return decimal.NewFromInt(int64(v)), true
	case int64:
		return decimal.NewFromInt(v), true
	case string:
		return parseAmountString(v)
	default:
		return decimal.Decimal{}, false
	}
}

func finiteFloat(f float64) (decimal.Decimal, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Decimal{}, false
	}
	return decimal.NewFromFloat(f), true
}

func parseAmountString(s string) (decimal.Decimal, bool) {
	s = amountNoise.Replace(width.Narrow.String(strings.TrimSpace(s)))
	if s == "" {
		return decimal.Decimal{}, false
	}
	// reject spellings a finite float cannot represent
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// ParseDate converts a raw cell into a YYYY-MM-DD string.
// It accepts spreadsheet serial numbers, time.Time values and the textual forms
// YYYY-MM-DD, YYYY/MM/DD, YYYY.MM.DD and YYYY年MM月DD日.
func ParseDate(raw any) (string, bool) {
	switch v := raw.(type) {
	case nil:
		return "", false
	case time.Time:
		if v.IsZero() {
			return "", false
		}
		return v.Format(DateLayout), true
	case *time.Time:
		if v == nil || v.IsZero() {
			return "", false
		}
		return v.Format(DateLayout), true
	case float64:
		return fromSerial(v)
	case float32:
		return fromSerial(float64(v))
	case int:
		return fromSerial(float64(v))
	case int64:
		return fromSerial(float64(v))
	case string:
		return parseDateString(v)
	default:
		return "", false
	}
}

func parseDateString(s string) (string, bool) {
	s = strings.TrimSpace(width.Narrow.String(s))
	if s == "" {
		return "", false
	}

	if m := separatedDate.FindStringSubmatch(s); m != nil {
		if m[2] != m[4] {
			return "", false
		}
		return assemble(m[1], m[3], m[5])
	}
	if m := chineseDate.FindStringSubmatch(s); m != nil {
		return assemble(m[1], m[2], m[3])
	}

	// XLSX raw values carry dates as serial numbers in text form
	if serialText.MatchString(s) {
		f, err := strconv.ParseFloat(s, 64)
		if err == nil {
			return fromSerial(f)
		}
	}
	return "", false
}

// fromSerial converts days since 1899-12-30; the fractional time of day is dropped.
func fromSerial(serial float64) (string, bool) {
	if math.IsNaN(serial) || math.IsInf(serial, 0) {
		return "", false
	}
	days := math.Floor(serial)
	if days < minSerial || days > maxSerial {
		return "", false
	}
	return serialEpoch.AddDate(0, 0, int(days)).Format(DateLayout), true
}

func assemble(yearStr, monthStr, dayStr string) (string, bool) {
	year, _ := strconv.Atoi(yearStr)
	month, _ := strconv.Atoi(monthStr)
	day, _ := strconv.Atoi(dayStr)
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return "", false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// Reject days past the end of the month instead of rolling over (2025-02-30).
	if t.Day() != day || int(t.Month()) != month {
		return "", false
	}
	return t.Format(DateLayout), true
}

// ParseMonth converts a raw cell into the first day of its month (YYYY-MM-01).
// Any value ParseDate accepts is valid, as are YYYY-MM, YYYY/MM, YYYY.MM and YYYY年MM月.
func ParseMonth(raw any) (string, bool) {
	if s, ok := raw.(string); ok {
		s = strings.TrimSpace(width.Narrow.String(s))
		m := separatedMonth.FindStringSubmatch(s)
		if m == nil {
			m = chineseMonth.FindStringSubmatch(s)
		}
		if m != nil {
			return assemble(m[1], m[2], "1")
		}
	}
	date, ok := ParseDate(raw)
	if !ok {
		return "", false
	}
	return date[:8] + "01", true
}
