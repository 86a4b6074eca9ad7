package parser

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/FACorreiaa/household-ledger/internal/domain/import/normalizer"
	"github.com/FACorreiaa/household-ledger/internal/domain/import/sniffer"
)

// preferredSheets are matched case-insensitively before falling back to the first sheet.
var preferredSheets = []string{"明细", "expenses", "budgets", "sheet1"}

// ErrNoSheet is returned for a workbook without worksheets.
var ErrNoSheet = errors.New("no suitable sheet found")

// ReadGrid decodes an upload into a grid of raw cells, header row first.
// XLSX cells are returned unformatted so dates arrive as serial numbers.
func ReadGrid(data []byte) ([][]any, error) {
	format, err := sniffer.DetectFormat(data)
	if err != nil {
		return nil, err
	}
	if format == sniffer.FormatXLSX {
		return readWorkbook(data)
	}
	return readCSV(data)
}

func readWorkbook(data []byte) ([][]any, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data), excelize.Options{
		RawCellValue: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	sheetName := findSheet(f)
	if sheetName == "" {
		return nil, ErrNoSheet
	}

	// Use row iterator for memory efficiency
	rows, err := f.Rows(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to create row iterator: %w", err)
	}
	defer rows.Close()

	grid := make([][]any, 0, 256)
	for rows.Next() {
		columns, err := rows.Columns(excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", len(grid)+1, err)
		}
		grid = append(grid, toCells(columns))
	}
	if err := rows.Error(); err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheetName, err)
	}

	return grid, nil
}

func findSheet(f *excelize.File) string {
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return ""
	}
	for _, preferred := range preferredSheets {
		for _, sheet := range sheets {
			if strings.EqualFold(sheet, preferred) {
				return sheet
			}
		}
	}
	return sheets[0]
}

func readCSV(data []byte) ([][]any, error) {
	text, err := normalizer.DecodeText(data)
	if err != nil {
		return nil, err
	}
	config, err := sniffer.DetectConfig(data, text)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze file: %w", err)
	}

	reader := csv.NewReader(bytes.NewReader(text))
	reader.Comma = config.Delimiter
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1 // Variable field count

	// csv skips blank lines; keep one grid row per source line so row numbers match the file
	grid := make([][]any, 0, 256)
	first := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse CSV: %w", err)
		}
		line, _ := reader.FieldPos(0)
		if first == 0 {
			first = line
		}
		for len(grid) < line-first {
			grid = append(grid, []any{})
		}
		grid = append(grid, toCells(record))
	}

	return grid, nil
}

func toCells(values []string) []any {
	cells := make([]any, len(values))
	for i, v := range values {
		cells[i] = v
	}
	return cells
}
