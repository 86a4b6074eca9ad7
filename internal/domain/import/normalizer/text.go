package normalizer

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// CleanText renders a raw cell as trimmed text with inner whitespace collapsed.
// Nil becomes the empty string.
func CleanText(raw any) string {
	var s string
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		s = v
	case decimal.Decimal:
		s = v.String()
	case float64:
		s = strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		s = strconv.Itoa(v)
	case int64:
		s = strconv.FormatInt(v, 10)
	case time.Time:
		s = v.Format(DateLayout)
	case fmt.Stringer:
		s = v.String()
	default:
		s = fmt.Sprint(v)
	}
	s = strings.ReplaceAll(s, "\u3000", " ")
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}

// IsBlank reports whether a cell holds nothing but whitespace.
func IsBlank(raw any) bool {
	return CleanText(raw) == ""
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DecodeText returns data as UTF-8 without a byte order mark.
// UTF-16 input (with BOM) is transcoded; other non-UTF-8 input is decoded as GB18030,
// the encoding spreadsheet tools use when exporting Chinese CSV files.
func DecodeText(data []byte) ([]byte, error) {
	if bytes.HasPrefix(data, utf8BOM) {
		return data[len(utf8BOM):], nil
	}
	if len(data) >= 2 && (data[0] == 0xFF && data[1] == 0xFE || data[0] == 0xFE && data[1] == 0xFF) {
		out, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode utf-16 text: %w", err)
		}
		return out, nil
	}
	if utf8.Valid(data) {
		return data, nil
	}
	out, _, err := transform.Bytes(simplifiedchinese.GB18030.NewDecoder(), data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode gb18030 text: %w", err)
	}
	return out, nil
}
