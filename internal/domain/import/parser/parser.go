// Package parser turns uploaded statement files into an ordered stream of
// candidate transaction rows. OFX statements and tabular exports (CSV, XLSX)
// share one Parser interface.
package parser

import (
	"errors"
	"fmt"
	"iter"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/statement-import-engine/internal/domain/import/mapping"
	"github.com/FACorreiaa/statement-import-engine/internal/domain/import/sniffer"
)

// Format identifies the statement container.
type Format string

const (
	FormatOFX  Format = "ofx"
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

func (f Format) Valid() bool {
	switch f {
	case FormatOFX, FormatCSV, FormatXLSX:
		return true
	}
	return false
}

// Tabular reports whether rows are located through a column mapping.
func (f Format) Tabular() bool {
	return f == FormatCSV || f == FormatXLSX
}

// DetectFormat infers the format from the file extension, falling back to
// content signatures. A trailing ".gz" is ignored.
func DetectFormat(filename string, data []byte) Format {
	name := strings.TrimSuffix(strings.ToLower(filename), ".gz")
	switch filepath.Ext(name) {
	case ".ofx", ".qfx":
		return FormatOFX
	case ".xlsx", ".xlsm":
		return FormatXLSX
	case ".csv", ".tsv", ".txt":
		return FormatCSV
	}
	switch {
	case sniffer.LooksLikeOFX(data):
		return FormatOFX
	case sniffer.LooksLikeZip(data):
		return FormatXLSX
	}
	return FormatCSV
}

// Row is one candidate transaction read from a statement.
type Row struct {
	// Number is the 1-based position in the source: the spreadsheet/CSV line
	// for tabular files, the transaction ordinal for OFX.
	Number      int
	Date        time.Time
	SettledDate *time.Time
	Description string
	// Amount is signed; negative values leave the account.
	Amount     decimal.Decimal
	Category   string
	Tags       []string
	ExternalID string
}

func (r Row) IsDebit() bool {
	return r.Amount.IsNegative()
}

// Result is the outcome of opening a statement.
type Result struct {
	// Rows yields each candidate row, or an *InvalidRowDataError for rows that
	// cannot be imported. It can be ranged over once.
	Rows iter.Seq2[*Row, error]
	// Mapping is the column mapping that was applied (tabular formats only).
	Mapping *mapping.Config
}

// Parser opens a statement. Structural failures are returned as *ParseError
// and unusable mappings as *mapping.ColumnMappingError.
type Parser interface {
	Parse(data []byte) (*Result, error)
}

// Options configure parsing.
type Options struct {
	Mapping  *mapping.Config
	Location *time.Location
}

// New returns the parser for the given format.
func New(format Format, opts Options) (Parser, error) {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	switch format {
	case FormatOFX:
		return &OFXParser{loc: opts.Location}, nil
	case FormatCSV, FormatXLSX:
		return &TabularParser{format: format, opts: opts}, nil
	}
	return nil, fmt.Errorf("unsupported statement format %q", format)
}

// InvalidRowDataError describes a row that was skipped.
type InvalidRowDataError struct {
	Row      int
	Field    string
	Message  string
	RawValue string
}

func (e *InvalidRowDataError) Error() string {
	return fmt.Sprintf("row %d, %s: %s", e.Row, e.Field, e.Message)
}

// ParseError is a structural failure that prevents reading any rows.
type ParseError struct {
	Format Format
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s statement: %v", e.Format, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

var (
	ErrNoHeader     = errors.New("no header row found")
	ErrNoStatements = errors.New("no statement transaction list found")
)

// cleanDescription collapses runs of whitespace.
func cleanDescription(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
