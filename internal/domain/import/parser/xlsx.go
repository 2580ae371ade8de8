package parser

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// preferredSheets are checked case-insensitively before falling back to the
// first sheet of the workbook.
var preferredSheets = []string{"transactions", "movimentos", "extrato", "statement", "data", "sheet1"}

type xlsxReader struct {
	f    *excelize.File
	rows *excelize.Rows
	line int
	cur  record
}

func openXLSX(data []byte) (*xlsxReader, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data), excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}

	sheet := transactionSheet(f)
	if sheet == "" {
		f.Close()
		return nil, fmt.Errorf("workbook has no sheets")
	}

	rows, err := f.Rows(sheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to iterate sheet %q: %w", sheet, err)
	}
	return &xlsxReader{f: f, rows: rows}, nil
}

func (x *xlsxReader) Next() bool {
	if !x.rows.Next() {
		return false
	}
	x.line++
	cells, err := x.rows.Columns()
	x.cur = record{cells: cells, line: x.line, err: err}
	return true
}

func (x *xlsxReader) Record() record { return x.cur }

func (x *xlsxReader) Close() error {
	x.rows.Close()
	return x.f.Close()
}

func (x *xlsxReader) DecimalCommaHint() bool { return false }

func transactionSheet(f *excelize.File) string {
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
