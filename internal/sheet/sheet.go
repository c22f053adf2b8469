// Copyright 2025 The Species Database App Authors
// SPDX-License-Identifier: Apache-2.0

// Package sheet parses species spreadsheets (.xlsx) and CSV files into rows
// keyed by normalized column name.
package sheet

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"

	"github.com/ZB1234D/Species-Database-App-123/speciesync"
)

// Frame is a parsed table: normalized header names and string cells
type Frame struct {
	Columns []string
	Rows    [][]string
}

// Parser implements speciesync.SheetParser
type Parser struct {
	// Sheet selects a worksheet by name; empty means the first sheet.
	Sheet string
}

var _ speciesync.SheetParser = (*Parser)(nil)

// NormalizeColumn trims, lowercases and replaces spaces with underscores
func NormalizeColumn(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}

// Parse reads the file and returns one SpeciesFields per non-blank data row.
// Every species column must be present; missing ones are reported together as
// a *speciesync.ValidationError.
func (p *Parser) Parse(filename string, r io.Reader) ([]speciesync.SpeciesFields, error) {
	frame, err := p.ReadFrame(filename, r)
	if err != nil {
		return nil, err
	}
	index := make(map[string]int, len(frame.Columns))
	for i, c := range frame.Columns {
		if _, dup := index[c]; !dup {
			index[c] = i
		}
	}
	var missing []string
	for _, col := range speciesync.SpeciesColumns {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, &speciesync.ValidationError{
			Fields:  missing,
			Message: "missing required columns in uploaded file: " + strings.Join(missing, ", "),
		}
	}

	out := make([]speciesync.SpeciesFields, 0, len(frame.Rows))
	for _, row := range frame.Rows {
		m := make(map[string]string, len(speciesync.SpeciesColumns))
		for _, col := range speciesync.SpeciesColumns {
			if i := index[col]; i < len(row) {
				m[col] = strings.TrimSpace(row[i])
			}
		}
		out = append(out, speciesync.SpeciesFieldsFromMap(m))
	}
	return out, nil
}

// ReadFrame loads the raw table. Files ending in .xlsx are read as Excel
// workbooks; anything else is read as CSV.
func (p *Parser) ReadFrame(filename string, r io.Reader) (*Frame, error) {
	var records [][]string
	var err error
	if strings.EqualFold(filepath.Ext(filename), ".xlsx") {
		records, err = p.readXLSX(r)
	} else {
		records, err = readCSV(r)
	}
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, &speciesync.ValidationError{Message: "uploaded file is empty"}
	}
	frame := &Frame{Columns: make([]string, len(records[0]))}
	for i, c := range records[0] {
		frame.Columns[i] = NormalizeColumn(c)
	}
	for _, rec := range records[1:] {
		if !blank(rec) {
			frame.Rows = append(frame.Rows, rec)
		}
	}
	return frame, nil
}

func blank(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func (p *Parser) readXLSX(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, &speciesync.ValidationError{Message: fmt.Sprintf("cannot read workbook: %v", err)}
	}
	defer func() { _ = f.Close() }()

	sheet := p.Sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, &speciesync.ValidationError{Message: "workbook has no sheets"}
		}
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, &speciesync.ValidationError{Message: fmt.Sprintf("cannot read sheet %q: %v", sheet, err)}
	}
	return rows, nil
}

func readCSV(r io.Reader) ([][]string, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	text, err := DecodeText(raw)
	if err != nil {
		return nil, err
	}
	cr := csv.NewReader(strings.NewReader(text))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, &speciesync.ValidationError{Message: fmt.Sprintf("malformed CSV: %v", err)}
	}
	return records, nil
}

// DecodeText converts raw CSV bytes to a string trying UTF-8 first, then the
// single-byte Latin-1 and Windows-1252 code pages. Bytes in 0x80-0x9F are
// control characters in Latin-1 but printable in Windows-1252 (curly quotes,
// dashes), so their presence selects Windows-1252.
func DecodeText(raw []byte) (string, error) {
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))
	if utf8.Valid(raw) {
		return string(raw), nil
	}
	dec := charmap.ISO8859_1.NewDecoder()
	for _, b := range raw {
		if b >= 0x80 && b <= 0x9f {
			dec = charmap.Windows1252.NewDecoder()
			break
		}
	}
	out, err := dec.Bytes(raw)
	if err != nil {
		return "", &speciesync.ValidationError{Message: fmt.Sprintf("unsupported text encoding: %v", err)}
	}
	return string(out), nil
}
