// Package mapping resolves which header of a tabular statement feeds each
// transaction field.
package mapping

import (
	"fmt"
	"slices"
	"strings"
)

// AmountStrategy selects how the signed amount is read from a row.
type AmountStrategy string

const (
	SingleColumn       AmountStrategy = "single_column"
	DebitCreditColumns AmountStrategy = "debit_credit_columns"
)

// Config names the header for each field. Header matching ignores case and
// surrounding whitespace.
type Config struct {
	Date           string         `json:"date"`
	Description    string         `json:"description"`
	AmountStrategy AmountStrategy `json:"amount_strategy"`
	Amount         string         `json:"amount,omitempty"`
	Type           string         `json:"type,omitempty"`
	Debit          string         `json:"debit,omitempty"`
	Credit         string         `json:"credit,omitempty"`
	SettledDate    string         `json:"settled_date,omitempty"`
	Category       string         `json:"category,omitempty"`
	Tags           string         `json:"tags,omitempty"`

	// DateFormat accepts tokens like "DD/MM/YYYY". Empty means detect.
	DateFormat string `json:"date_format,omitempty"`
	// DecimalSeparator is "." or ",". Empty means detect.
	DecimalSeparator string `json:"decimal_separator,omitempty"`
}

// Columns holds resolved zero-based indexes; -1 marks an unmapped field.
type Columns struct {
	Date        int
	Description int
	Amount      int
	Type        int
	Debit       int
	Credit      int
	SettledDate int
	Category    int
	Tags        int
	Strategy    AmountStrategy
}

// Strategy returns the explicit strategy or infers it from the named columns.
func (c Config) Strategy() AmountStrategy {
	if c.AmountStrategy != "" {
		return c.AmountStrategy
	}
	if c.Amount == "" && (c.Debit != "" || c.Credit != "") {
		return DebitCreditColumns
	}
	return SingleColumn
}

// Validate returns every unmet requirement of c against the header row.
// An empty result means the mapping can be applied.
func (c Config) Validate(headers []string) []string {
	_, problems := c.Columns(headers)
	return problems
}

// Columns resolves header indexes and collects validation problems.
func (c Config) Columns(headers []string) (Columns, []string) {
	var problems []string
	cols := Columns{
		Date: -1, Description: -1, Amount: -1, Type: -1, Debit: -1,
		Credit: -1, SettledDate: -1, Category: -1, Tags: -1,
		Strategy: c.Strategy(),
	}

	required := func(field, header string) int {
		if strings.TrimSpace(header) == "" {
			problems = append(problems, fmt.Sprintf("%s column is required", field))
			return -1
		}
		return lookup(field, header, headers, &problems)
	}
	optional := func(field, header string) int {
		if strings.TrimSpace(header) == "" {
			return -1
		}
		return lookup(field, header, headers, &problems)
	}

	cols.Date = required("date", c.Date)
	cols.Description = required("description", c.Description)

	switch cols.Strategy {
	case SingleColumn:
		cols.Amount = required("amount", c.Amount)
		cols.Type = optional("type", c.Type)
	case DebitCreditColumns:
		cols.Debit = required("debit", c.Debit)
		cols.Credit = required("credit", c.Credit)
	default:
		problems = append(problems, fmt.Sprintf("unknown amount strategy %q", cols.Strategy))
	}

	cols.SettledDate = optional("settled_date", c.SettledDate)
	cols.Category = optional("category", c.Category)
	cols.Tags = optional("tags", c.Tags)

	if cols.Date >= 0 && cols.Date == cols.Description {
		problems = append(problems, "date and description map to the same column")
	}
	if cols.Strategy == DebitCreditColumns && cols.Debit >= 0 && cols.Debit == cols.Credit {
		problems = append(problems, "debit and credit map to the same column")
	}
	if c.DecimalSeparator != "" && c.DecimalSeparator != "." && c.DecimalSeparator != "," {
		problems = append(problems, fmt.Sprintf("decimal separator %q must be \".\" or \",\"", c.DecimalSeparator))
	}

	return cols, problems
}

func lookup(field, header string, headers []string, problems *[]string) int {
	want := normalize(header)
	idx := slices.IndexFunc(headers, func(h string) bool { return normalize(h) == want })
	if idx < 0 {
		*problems = append(*problems, fmt.Sprintf("%s column %q not found in header", field, header))
	}
	return idx
}

func normalize(h string) string {
	return strings.ToLower(strings.Join(strings.Fields(h), " "))
}

// ColumnMappingError reports why no usable mapping could be established.
type ColumnMappingError struct {
	// Supplied lists the problems of the caller's mapping, if one was given.
	Supplied []string
	// Detected lists the problems of the auto-detected mapping.
	Detected []string
	Headers  []string
}

func (e *ColumnMappingError) Error() string {
	var b strings.Builder
	b.WriteString("column mapping failed")
	if len(e.Supplied) > 0 {
		fmt.Fprintf(&b, "; supplied mapping: %s", strings.Join(e.Supplied, ", "))
	}
	if len(e.Detected) > 0 {
		fmt.Fprintf(&b, "; detected mapping: %s", strings.Join(e.Detected, ", "))
	}
	fmt.Fprintf(&b, " (header: %s)", strings.Join(e.Headers, " | "))
	return b.String()
}

// Problems returns every unmet requirement across both attempts.
func (e *ColumnMappingError) Problems() []string {
	out := append([]string(nil), e.Supplied...)
	for _, p := range e.Detected {
		if !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out
}

// Resolve validates the supplied mapping and, when it is missing or invalid,
// retries once with a guessed one. The returned Config is the mapping that
// was applied.
func Resolve(supplied *Config, headers []string) (Config, Columns, error) {
	var suppliedProblems []string
	if supplied != nil {
		cols, problems := supplied.Columns(headers)
		if len(problems) == 0 {
			return *supplied, cols, nil
		}
		suppliedProblems = problems
	}

	guessed := Guess(headers)
	if supplied != nil {
		guessed.DateFormat = supplied.DateFormat
		guessed.DecimalSeparator = supplied.DecimalSeparator
	}
	cols, problems := guessed.Columns(headers)
	if len(problems) == 0 {
		return guessed, cols, nil
	}

	return Config{}, Columns{}, &ColumnMappingError{
		Supplied: suppliedProblems,
		Detected: problems,
		Headers:  headers,
	}
}
