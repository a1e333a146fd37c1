package services

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
)

// Table is the raw content of an uploaded roster: one header row followed by
// data rows. Rows may be shorter than Headers.
type Table struct {
	Headers  []string
	Rows     [][]string
	Encoding string
}

// Cell returns the value at row/col, or "" when the row is short.
func (t *Table) Cell(row, col int) string {
	if row < 0 || row >= len(t.Rows) || col < 0 || col >= len(t.Rows[row]) {
		return ""
	}
	return t.Rows[row][col]
}

// Encoding decodes raw CSV bytes. Decode fails when the input is not valid in
// that encoding.
type Encoding struct {
	Name   string
	Decode func([]byte) (string, error)
}

var errInvalidUTF8 = errors.New("invalid utf-8 sequence")

// DefaultEncodings are tried in order; the next one is used only when the
// previous one cannot decode the file.
var DefaultEncodings = []Encoding{
	{Name: "utf-8", Decode: decodeUTF8},
	{Name: "latin-1", Decode: charmapDecoder(charmap.ISO8859_1)},
	{Name: "cp1252", Decode: charmapDecoder(charmap.Windows1252)},
}

func decodeUTF8(raw []byte) (string, error) {
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(raw) {
		return "", errInvalidUTF8
	}
	return string(raw), nil
}

func charmapDecoder(cm *charmap.Charmap) func([]byte) (string, error) {
	return func(raw []byte) (string, error) {
		out, err := cm.NewDecoder().Bytes(raw)
		if err != nil {
			return "", err
		}
		return string(out), nil
	}
}

// TableReader loads CSV and XLSX rosters.
type TableReader struct {
	Encodings []Encoding
}

func NewTableReader() *TableReader {
	return &TableReader{Encodings: DefaultEncodings}
}

// SupportedExtension reports whether name has an extension Read accepts.
func SupportedExtension(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".xlsx", ".xlsm":
		return true
	default:
		return false
	}
}

// Read parses the file at path. Every failure is a *FatalImportError.
func (r *TableReader) Read(path string) (*Table, error) {
	var (
		table *Table
		err   error
	)

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		table, err = r.readCSV(path)
	case ".xlsx", ".xlsm":
		table, err = readXLSX(path)
	default:
		return nil, &FatalImportError{Message: fmt.Sprintf("Unsupported file format %q. Please use CSV or Excel (.xlsx) files", ext)}
	}
	if err != nil {
		var fatal *FatalImportError
		if errors.As(err, &fatal) {
			return nil, err
		}
		return nil, &FatalImportError{Message: "Could not read file", Err: err}
	}

	if len(table.Rows) == 0 {
		return nil, &FatalImportError{Message: "File is empty or has no data rows"}
	}
	return table, nil
}

func (r *TableReader) readCSV(path string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	encodings := r.Encodings
	if len(encodings) == 0 {
		encodings = DefaultEncodings
	}

	for _, enc := range encodings {
		text, err := enc.Decode(raw)
		if err != nil {
			continue
		}

		reader := csv.NewReader(strings.NewReader(text))
		reader.FieldsPerRecord = -1
		records, err := reader.ReadAll()
		if err != nil {
			return nil, err
		}

		table := &Table{Encoding: enc.Name}
		if len(records) > 0 {
			table.Headers = records[0]
			table.Rows = records[1:]
		}
		return table, nil
	}

	return nil, &FatalImportError{Message: "Could not read CSV file with any supported encoding"}
}

func readXLSX(path string) (*Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return &Table{}, nil
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, err
	}

	table := &Table{Encoding: "xlsx"}
	if len(rows) > 0 {
		table.Headers = rows[0]
		table.Rows = rows[1:]
	}
	return table, nil
}
