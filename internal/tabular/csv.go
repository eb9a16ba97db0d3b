package tabular

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

var candidateDelimiters = []rune{',', ';', '\t'}

// DecodeCSV parses comma, semicolon or tab separated text.
func DecodeCSV(data []byte) (*Table, error) {
	data = bytes.TrimPrefix(data, []byte("\ufeff"))
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrNoHeader
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = sniffDelimiter(data)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	r.ReuseRecord = false

	lines := bytes.Split(data, []byte("\n"))
	var records [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse csv: %w", err)
		}
		for i := range rec {
			if quotedAt(lines, r, i) {
				// the reader already removed the quoting layer
				rec[i] = strings.TrimSpace(rec[i])
			} else {
				rec[i] = cleanField(rec[i])
			}
		}
		records = append(records, rec)
	}
	return build(records)
}

// quotedAt reports whether field i of the last record read opened with a
// double quote in the source.
func quotedAt(lines [][]byte, r *csv.Reader, i int) bool {
	line, col := r.FieldPos(i)
	if line < 1 || line > len(lines) {
		return false
	}
	src := lines[line-1]
	return col >= 1 && col <= len(src) && src[col-1] == '"'
}

// sniffDelimiter picks the candidate that occurs most often outside quotes on
// the first non-empty line. Comma wins ties.
func sniffDelimiter(data []byte) rune {
	line := ""
	for _, l := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(l) != "" {
			line = l
			break
		}
	}

	counts := map[rune]int{}
	inQuotes := false
	for _, c := range line {
		if c == '"' {
			inQuotes = !inQuotes
			continue
		}
		if inQuotes {
			continue
		}
		for _, d := range candidateDelimiters {
			if c == d {
				counts[d]++
			}
		}
	}

	best := ','
	for _, d := range candidateDelimiters {
		if counts[d] > counts[best] {
			best = d
		}
	}
	return best
}
