// Package sniffer identifies the format of an uploaded import file.
// It distinguishes XLSX workbooks from delimited text, picks the CSV delimiter and
// derives the content fingerprint used to recognise a re-upload of the same file.
package sniffer

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"strings"
)

// Format is the container format of an upload.
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
)

var (
	ErrEmptyFile         = errors.New("file is empty")
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrInvalidDelimiter  = errors.New("could not detect valid delimiter")
)

var (
	// zip local file header; every OOXML workbook starts with it
	zipMagic = []byte{'P', 'K', 0x03, 0x04}
	// compound document header of legacy .xls workbooks
	oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
)

// FileConfig holds the detected configuration of an upload
type FileConfig struct {
	Format      Format
	Delimiter   rune     // CSV only
	Headers     []string // CSV only; XLSX headers are read by the grid reader
	Fingerprint string   // SHA256 of the raw bytes
}

// DetectFormat inspects magic bytes. Anything that is not a workbook is treated as text.
func DetectFormat(data []byte) (Format, error) {
	switch {
	case len(bytes.TrimSpace(data)) == 0:
		return "", ErrEmptyFile
	case bytes.HasPrefix(data, zipMagic):
		return FormatXLSX, nil
	case bytes.HasPrefix(data, oleMagic):
		return "", ErrUnsupportedFormat
	default:
		return FormatCSV, nil
	}
}

// Fingerprint returns the hex SHA256 of the file content.
// The file name never contributes, so renaming an upload keeps its identity.
func Fingerprint(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// DetectConfig analyzes an upload. text must already be UTF-8 for CSV input.
func DetectConfig(raw, text []byte) (*FileConfig, error) {
	format, err := DetectFormat(raw)
	if err != nil {
		return nil, err
	}

	config := &FileConfig{
		Format:      format,
		Fingerprint: Fingerprint(raw),
	}
	if format == FormatXLSX {
		return config, nil
	}

	header := firstLine(text)
	delimiter, count := detectDelimiter(header)
	if count < 1 {
		return nil, ErrInvalidDelimiter
	}
	config.Delimiter = delimiter

	reader := csv.NewReader(strings.NewReader(header))
	reader.Comma = delimiter
	reader.LazyQuotes = true
	headers, err := reader.Read()
	if err != nil {
		return nil, err
	}
	for i, h := range headers {
		headers[i] = strings.TrimSpace(h)
	}
	config.Headers = headers

	return config, nil
}

func firstLine(text []byte) string {
	for _, line := range strings.Split(string(text), "\n") {
		if line = cleanLine(line); line != "" {
			return line
		}
	}
	return ""
}

func cleanLine(line string) string {
	line = strings.TrimRight(line, "\r")
	line = strings.TrimPrefix(line, "\uFEFF")
	return strings.TrimSpace(line)
}

// detectDelimiter picks the candidate occurring most often in the header line.
// Ties go to the earlier candidate.
func detectDelimiter(line string) (rune, int) {
	delimiters := []rune{',', '\t', ';', '|'}
	bestDelimiter := rune(0)
	bestCount := 0
	for _, d := range delimiters {
		count := strings.Count(line, string(d))
		if count > bestCount {
			bestCount = count
			bestDelimiter = d
		}
	}
	return bestDelimiter, bestCount
}
