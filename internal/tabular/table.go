// Package tabular decodes row data files into string-only records. Values are
// never coerced: "1.5E10" stays "1.5E10" and "01/02/2024" stays as written.
package tabular

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

var (
	ErrNoHeader = errors.New("data file has no header row")
	ErrNoRows   = errors.New("data file has no data rows")
)

// Row is one data record. Values is keyed by header name; the column order
// lives on the owning Table.
type Row struct {
	Index  int
	Values map[string]string
}

func (r Row) Get(column string) string {
	return r.Values[column]
}

type Table struct {
	Headers  []string
	Rows     []Row
	Warnings []string
}

// Decode picks a decoder from the stored path's extension.
func Decode(storagePath string, data []byte) (*Table, error) {
	switch strings.ToLower(path.Ext(storagePath)) {
	case ".xlsx", ".xlsm":
		return DecodeXLSX(data)
	default:
		return DecodeCSV(data)
	}
}

// build turns cleaned records (header first) into a Table. Rows whose width
// does not match the header are kept and reported as warnings.
func build(records [][]string) (*Table, error) {
	// leading blank lines are not a header
	for len(records) > 0 && blank(records[0]) {
		records = records[1:]
	}
	if len(records) == 0 {
		return nil, ErrNoHeader
	}

	t := &Table{}
	for _, h := range records[0] {
		t.Headers = append(t.Headers, h)
	}
	for len(t.Headers) > 0 && t.Headers[len(t.Headers)-1] == "" {
		t.Headers = t.Headers[:len(t.Headers)-1]
	}
	if len(t.Headers) == 0 {
		return nil, ErrNoHeader
	}

	for _, rec := range records[1:] {
		if blank(rec) {
			continue
		}
		idx := len(t.Rows)
		if len(rec) != len(t.Headers) {
			t.Warnings = append(t.Warnings, fmt.Sprintf(
				"row %d has %d fields, expected %d", idx+1, len(rec), len(t.Headers)))
		}
		row := Row{Index: idx, Values: make(map[string]string, len(t.Headers))}
		for i, h := range t.Headers {
			if h == "" {
				continue
			}
			v := ""
			if i < len(rec) {
				v = rec[i]
			}
			row.Values[h] = v
		}
		t.Rows = append(t.Rows, row)
	}
	if len(t.Rows) == 0 {
		return nil, ErrNoRows
	}
	return t, nil
}

// cleanField trims whitespace and strips one layer of surrounding quotes from
// a field that reached us unquoted.
func cleanField(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' || first == '\'') && first == last {
			s = strings.TrimSpace(s[1 : len(s)-1])
		}
	}
	return s
}

func blank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
