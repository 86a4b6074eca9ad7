package normalizer

import (
	"math"
	"regexp"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/simplifiedchinese"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name   string
		input  any
		want   string
		wantOK bool
	}{
		{"float", 35.5, "35.5", true},
		{"int", 200, "200", true},
		{"negative float", -12.25, "-12.25", true},
		{"plain string", "35.50", "35.5", true},
		{"yen prefix", "¥1,234.56", "1234.56", true},
		{"full-width yen prefix", "￥ 88", "88", true},
		{"full-width digits", "１２３．５", "123.5", true},
		{"surrounding whitespace", "  42  ", "42", true},
		{"negative string", "-7.1", "-7.1", true},
		{"decimal value", decimal.RequireFromString("9.99"), "9.99", true},
		{"nil", nil, "", false},
		{"empty string", "", "", false},
		{"only currency", "¥", "", false},
		{"letters", "abc", "", false},
		{"NaN float", math.NaN(), "", false},
		{"Inf float", math.Inf(1), "", false},
		{"NaN string", "NaN", "", false},
		{"Inf string", "Inf", "", false},
		{"hex string", "0x10", "", false},
		{"bool", true, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseAmount(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s", got)
			}
		})
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		name   string
		input  any
		want   string
		wantOK bool
	}{
		{"iso", "2025-01-14", "2025-01-14", true},
		{"slashes", "2025/1/4", "2025-01-04", true},
		{"dots", "2025.12.31", "2025-12-31", true},
		{"chinese", "2025年3月8日", "2025-03-08", true},
		{"with time", "2025-01-14 08:30:00", "2025-01-14", true},
		{"serial float", 45671.0, "2025-01-14", true},
		{"serial with time fraction", 45671.75, "2025-01-14", true},
		{"serial int", 45671, "2025-01-14", true},
		{"serial text", "45671", "2025-01-14", true},
		{"short numeric text", "2025.03", "", false},
		{"serial one", 1, "1899-12-31", true},
		{"time value", time.Date(2024, 2, 29, 15, 0, 0, 0, time.UTC), "2024-02-29", true},
		{"leap day", "2024-02-29", "2024-02-29", true},
		{"not leap year", "2025-02-29", "", false},
		{"month 13", "2025-13-01", "", false},
		{"day 32", "2025-01-32", "", false},
		{"day zero", "2025-01-00", "", false},
		{"mixed separators", "2025-01/14", "", false},
		{"two digit year", "25-01-14", "", false},
		{"serial zero", 0, "", false},
		{"serial negative", -5.0, "", false},
		{"serial too large", 3000000.0, "", false},
		{"garbage", "yesterday", "", false},
		{"empty", "", "", false},
		{"nil", nil, "", false},
		{"zero time", time.Time{}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseDate(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDateShape(t *testing.T) {
	shape := regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	for serial := 1.0; serial < 2958465; serial += 9973 {
		got, ok := ParseDate(serial)
		require.True(t, ok, "serial %v", serial)
		assert.Regexp(t, shape, got)
	}
}

func TestParseMonth(t *testing.T) {
	tests := []struct {
		name   string
		input  any
		want   string
		wantOK bool
	}{
		{"year-month", "2025-03", "2025-03-01", true},
		{"slash month", "2025/11", "2025-11-01", true},
		{"chinese month", "2025年7月", "2025-07-01", true},
		{"dotted month", "2025.03", "2025-03-01", true},
		{"full date", "2025-03-18", "2025-03-01", true},
		{"serial", 45671.0, "2025-01-01", true},
		{"month 0", "2025-00", "", false},
		{"month 13", "2025年13月", "", false},
		{"garbage", "March", "", false},
		{"nil", nil, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseMonth(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCleanText(t *testing.T) {
	assert.Equal(t, "", CleanText(nil))
	assert.Equal(t, "牛肉面 加蛋", CleanText("  牛肉面 \t 加蛋 "))
	assert.Equal(t, "午餐", CleanText("　午餐　"))
	assert.Equal(t, "35.5", CleanText(35.5))
	assert.Equal(t, "12", CleanText(12))
	assert.True(t, IsBlank("   "))
	assert.False(t, IsBlank("x"))
}

func TestDecodeText(t *testing.T) {
	t.Run("strips utf-8 bom", func(t *testing.T) {
		out, err := DecodeText(append([]byte{0xEF, 0xBB, 0xBF}, []byte("项目,分类")...))
		require.NoError(t, err)
		assert.Equal(t, "项目,分类", string(out))
	})

	t.Run("passes utf-8 through", func(t *testing.T) {
		out, err := DecodeText([]byte("日期,金额"))
		require.NoError(t, err)
		assert.Equal(t, "日期,金额", string(out))
	})

	t.Run("decodes gb18030", func(t *testing.T) {
		encoded, err := simplifiedchinese.GB18030.NewEncoder().Bytes([]byte("费用归属,项目"))
		require.NoError(t, err)

		out, err := DecodeText(encoded)
		require.NoError(t, err)
		assert.Equal(t, "费用归属,项目", string(out))
	})
}
