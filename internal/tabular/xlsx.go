package tabular

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// DecodeXLSX reads the first sheet of a workbook. Cells are taken as stored,
// without number formats, so numeric-looking text is not reinterpreted.
func DecodeXLSX(data []byte) (*Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrNoHeader
	}
	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return build(normalizeRows(rows))
}

// normalizeRows cleans every cell and pads rows to the header width, since
// GetRows omits trailing empty cells.
func normalizeRows(rows [][]string) [][]string {
	width := -1
	for i, row := range rows {
		for j := range row {
			row[j] = cleanField(row[j])
		}
		if width < 0 {
			if blank(row) {
				continue
			}
			width = len(row)
		}
		for len(row) < width {
			row = append(row, "")
		}
		rows[i] = row
	}
	return rows
}
