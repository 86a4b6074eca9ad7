package parser

import (
	"fmt"

	"github.com/gocarina/gocsv"
	"github.com/xuri/excelize/v2"
)

var templateSheets = map[Kind]string{
	KindExpense: "expenses",
	KindBudget:  "budgets",
}

var templateExamples = map[Kind][]any{
	KindExpense: {"爸爸", "日常开支", "餐饮", "午餐", "2025-01-14", 35.5, "牛肉面"},
	KindBudget:  {"妈妈", "日常开支", "餐饮", "其他", "2025-01", 1500, ""},
}

// Template builds an XLSX workbook with the current header row and one example line.
func Template(kind Kind) ([]byte, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown import kind %q", kind)
	}

	f := excelize.NewFile()
	defer f.Close()

	sheet := templateSheets[kind]
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	headers := Headers(kind, HeaderNew)
	if err := f.SetSheetRow(sheet, "A1", &headers); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	example := templateExamples[kind]
	if err := f.SetSheetRow(sheet, "A2", &example); err != nil {
		return nil, fmt.Errorf("failed to write example row: %w", err)
	}
	if err := f.SetColWidth(sheet, "A", "G", 14); err != nil {
		return nil, fmt.Errorf("failed to set column width: %w", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// ErrorReportCSV renders validation and insertion errors as a downloadable CSV.
func ErrorReportCSV(errs []ParseError) ([]byte, error) {
	if errs == nil {
		errs = []ParseError{}
	}
	out, err := gocsv.MarshalBytes(&errs)
	if err != nil {
		return nil, fmt.Errorf("failed to render error report: %w", err)
	}
	return out, nil
}
