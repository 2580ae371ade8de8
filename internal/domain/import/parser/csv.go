package parser

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"

	"github.com/FACorreiaa/statement-import-engine/internal/domain/import/sniffer"
)

type csvReader struct {
	r         *csv.Reader
	delimiter rune
	cur       record
}

func openCSV(data []byte) *csvReader {
	data = sniffer.Normalize(data)
	delimiter := sniffer.DetectDelimiter(data)

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = delimiter
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1

	return &csvReader{r: r, delimiter: delimiter}
}

func (c *csvReader) Next() bool {
	cells, err := c.r.Read()
	if errors.Is(err, io.EOF) {
		return false
	}
	var line int
	var perr *csv.ParseError
	switch {
	case errors.As(err, &perr):
		line = perr.StartLine
	case len(cells) > 0:
		line, _ = c.r.FieldPos(0)
	}
	c.cur = record{cells: cells, line: line, err: err}
	return true
}

func (c *csvReader) Record() record { return c.cur }

func (c *csvReader) Close() error { return nil }

func (c *csvReader) DecimalCommaHint() bool { return c.delimiter == ';' }
