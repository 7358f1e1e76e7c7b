// Package sheet reads tabular lead files (CSV and XLSX) into raw string rows.
package sheet

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrUnsupportedFormat is returned for file extensions the reader does not handle.
var ErrUnsupportedFormat = errors.New("unsupported file format")

type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// DetectFormat maps a filename extension to a Format.
func DetectFormat(filename string) (Format, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv", ".txt":
		return FormatCSV, nil
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(filename))
	}
}

// Sheet is a parsed file. Header is row 0; Rows are the data rows that follow it, with
// fully blank rows dropped. Lines[i] is the row number of Rows[i] counted from the header,
// so it still matches the file when blank rows were skipped.
type Sheet struct {
	Header []string
	Rows   [][]string
	Lines  []int
}

// Preview is the header plus the first few data rows, shown to the admin while building a mapping.
type Preview struct {
	Filename  string     `json:"filename"`
	Headers   []string   `json:"headers"`
	Rows      [][]string `json:"preview_rows"`
	TotalRows int        `json:"total_rows"`
}

// Read parses the whole file at path.
func Read(ctx context.Context, path string) (*Sheet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}

	var (
		rows  [][]string
		lines []int
	)
	switch format {
	case FormatCSV:
		rows, lines, err = readCSV(path)
	case FormatXLSX:
		rows, lines, err = readXLSX(path)
	}
	if err != nil {
		return nil, err
	}

	return fromRows(rows, lines), nil
}

// BuildPreview reads the file and keeps the first n data rows.
func BuildPreview(ctx context.Context, path string, n int) (*Preview, error) {
	s, err := Read(ctx, path)
	if err != nil {
		return nil, err
	}

	if n < 0 {
		n = 0
	}
	if n > len(s.Rows) {
		n = len(s.Rows)
	}

	return &Preview{
		Filename:  filepath.Base(path),
		Headers:   s.Header,
		Rows:      s.Rows[:n],
		TotalRows: len(s.Rows),
	}, nil
}

func fromRows(rows [][]string, lines []int) *Sheet {
	s := &Sheet{}
	for i, row := range rows {
		if i == 0 {
			s.Header = trimCells(row)
			continue
		}
		if isBlank(row) {
			continue
		}
		s.Rows = append(s.Rows, row)
		s.Lines = append(s.Lines, lines[i]-lines[0])
	}
	return s
}

// Line returns the file row number of Rows[i], falling back to i+1.
func (s *Sheet) Line(i int) int {
	if i < len(s.Lines) {
		return s.Lines[i]
	}
	return i + 1
}

func trimCells(row []string) []string {
	out := make([]string, len(row))
	for i, c := range row {
		out[i] = strings.TrimSpace(c)
	}
	return out
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
