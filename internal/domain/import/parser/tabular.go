package parser

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/statement-import-engine/internal/domain/import/mapping"
	"github.com/FACorreiaa/statement-import-engine/pkg/money"
)

const (
	// sampleRows are buffered to detect number and date conventions.
	sampleRows = 25
)

// record is one raw row of a table.
type record struct {
	cells []string
	line  int
	err   error
}

// rowReader is implemented by the CSV and XLSX readers.
type rowReader interface {
	Next() bool
	Record() record
	Close() error
	// DecimalCommaHint reports a container-level hint, such as a ';' delimiter.
	DecimalCommaHint() bool
}

// TabularParser reads CSV and XLSX statements through a column mapping.
type TabularParser struct {
	format Format
	opts   Options
}

func (p *TabularParser) Parse(data []byte) (*Result, error) {
	rr, err := p.open(data)
	if err != nil {
		return nil, &ParseError{Format: p.format, Err: err}
	}

	headers, err := readHeader(rr)
	if err != nil {
		rr.Close()
		return nil, &ParseError{Format: p.format, Err: err}
	}

	cfg, cols, err := mapping.Resolve(p.opts.Mapping, headers)
	if err != nil {
		rr.Close()
		return nil, err
	}

	var pending []record
	for len(pending) < sampleRows && rr.Next() {
		pending = append(pending, rr.Record())
	}

	conv := newConverter(cfg, cols, pending, rr.DecimalCommaHint(), p.opts.Location)

	rows := func(yield func(*Row, error) bool) {
		defer rr.Close()
		emit := func(rec record) bool {
			if rec.err == nil && blank(rec.cells) {
				return true
			}
			row, err := conv.convert(rec)
			if err != nil {
				return yield(nil, err)
			}
			return yield(row, nil)
		}
		for _, rec := range pending {
			if !emit(rec) {
				return
			}
		}
		for rr.Next() {
			if !emit(rr.Record()) {
				return
			}
		}
	}

	return &Result{Rows: rows, Mapping: &cfg}, nil
}

func (p *TabularParser) open(data []byte) (rowReader, error) {
	if p.format == FormatXLSX {
		return openXLSX(data)
	}
	return openCSV(data), nil
}

// readHeader returns the first row with a non-empty cell. Blank lines before
// it are skipped. A one-cell title line is the header, not preamble.
func readHeader(rr rowReader) ([]string, error) {
	for rr.Next() {
		rec := rr.Record()
		if rec.err != nil || blank(rec.cells) {
			continue
		}
		return trimAll(rec.cells), nil
	}
	return nil, ErrNoHeader
}

// converter maps raw cells onto a Row.
type converter struct {
	cols     mapping.Columns
	layout   string
	dayFirst bool
	european bool
	loc      *time.Location
}

func newConverter(cfg mapping.Config, cols mapping.Columns, samples []record, commaHint bool, loc *time.Location) *converter {
	c := &converter{cols: cols, loc: loc}
	if cfg.DateFormat != "" {
		c.layout = LayoutFromPattern(cfg.DateFormat)
	}
	c.dayFirst = DetectDayFirst(column(samples, cols.Date))

	switch cfg.DecimalSeparator {
	case ",":
		c.european = true
	case ".":
		c.european = false
	default:
		amounts := column(samples, cols.Amount)
		amounts = append(amounts, column(samples, cols.Debit)...)
		amounts = append(amounts, column(samples, cols.Credit)...)
		if european, ok := money.LooksEuropean(amounts); ok {
			c.european = european
		} else {
			c.european = commaHint
		}
	}
	return c
}

func (c *converter) convert(rec record) (*Row, error) {
	if rec.err != nil {
		return nil, &InvalidRowDataError{Row: rec.line, Field: "row", Message: rec.err.Error(), RawValue: strings.Join(rec.cells, ",")}
	}
	cell := func(idx int) string {
		if idx < 0 || idx >= len(rec.cells) {
			return ""
		}
		return strings.TrimSpace(rec.cells[idx])
	}
	invalid := func(field, msg, raw string) error {
		return &InvalidRowDataError{Row: rec.line, Field: field, Message: msg, RawValue: raw}
	}

	rawDate := cell(c.cols.Date)
	if rawDate == "" {
		return nil, invalid("date", "missing date", "")
	}
	date, err := ParseDate(rawDate, c.layout, c.dayFirst, c.loc)
	if err != nil {
		return nil, invalid("date", err.Error(), rawDate)
	}

	desc := cleanDescription(cell(c.cols.Description))
	if desc == "" {
		return nil, invalid("description", "missing description", "")
	}

	var amount decimal.Decimal
	switch c.cols.Strategy {
	case mapping.DebitCreditColumns:
		amount, err = c.debitCredit(cell(c.cols.Debit), cell(c.cols.Credit), invalid)
	default:
		amount, err = c.signed(cell(c.cols.Amount), cell(c.cols.Type), invalid)
	}
	if err != nil {
		return nil, err
	}

	row := &Row{
		Number:      rec.line,
		Date:        date,
		Description: desc,
		Amount:      amount,
		Category:    cell(c.cols.Category),
		Tags:        splitTags(cell(c.cols.Tags)),
	}

	if raw := cell(c.cols.SettledDate); raw != "" {
		settled, err := ParseDate(raw, c.layout, c.dayFirst, c.loc)
		if err != nil {
			return nil, invalid("settled_date", err.Error(), raw)
		}
		row.SettledDate = &settled
	}
	return row, nil
}

func (c *converter) signed(raw, typ string, invalid func(string, string, string) error) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, invalid("amount", "missing amount", "")
	}
	amount, err := money.ParseAmount(raw, c.european)
	if err != nil {
		return decimal.Zero, invalid("amount", err.Error(), raw)
	}
	switch typeDirection(typ) {
	case directionDebit:
		amount = amount.Abs().Neg()
	case directionCredit:
		amount = amount.Abs()
	}
	return amount, nil
}

func (c *converter) debitCredit(debitRaw, creditRaw string, invalid func(string, string, string) error) (decimal.Decimal, error) {
	if debitRaw == "" && creditRaw == "" {
		return decimal.Zero, invalid("amount", "missing debit and credit", "")
	}
	total := decimal.Zero
	if debitRaw != "" {
		debit, err := money.ParseAmount(debitRaw, c.european)
		if err != nil {
			return decimal.Zero, invalid("debit", err.Error(), debitRaw)
		}
		total = total.Sub(debit.Abs())
	}
	if creditRaw != "" {
		credit, err := money.ParseAmount(creditRaw, c.european)
		if err != nil {
			return decimal.Zero, invalid("credit", err.Error(), creditRaw)
		}
		total = total.Add(credit.Abs())
	}
	return total, nil
}

type direction int

const (
	directionUnknown direction = iota
	directionDebit
	directionCredit
)

var (
	debitWords  = []string{"debit", "dr", "d", "db", "withdrawal", "payment", "purchase", "out", "expense", "débito", "debito", "-"}
	creditWords = []string{"credit", "cr", "c", "deposit", "in", "income", "refund", "crédito", "credito", "+"}
)

func typeDirection(typ string) direction {
	t := strings.ToLower(strings.TrimSpace(typ))
	if t == "" {
		return directionUnknown
	}
	for _, w := range debitWords {
		if t == w {
			return directionDebit
		}
	}
	for _, w := range creditWords {
		if t == w {
			return directionCredit
		}
	}
	return directionUnknown
}

// splitTags splits on ',', ';' or '|' and drops blanks and repeats.
func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' || r == '|' })
	seen := make(map[string]bool, len(parts))
	var tags []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		key := strings.ToLower(p)
		if p == "" || seen[key] {
			continue
		}
		seen[key] = true
		tags = append(tags, p)
	}
	return tags
}

func column(recs []record, idx int) []string {
	if idx < 0 {
		return nil
	}
	var out []string
	for _, r := range recs {
		if r.err == nil && idx < len(r.cells) {
			if v := strings.TrimSpace(r.cells[idx]); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}

func blank(cells []string) bool {
	return nonEmpty(cells) == 0
}

func nonEmpty(cells []string) int {
	n := 0
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			n++
		}
	}
	return n
}

func trimAll(cells []string) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = strings.TrimSpace(c)
	}
	return out
}
