// Package money provides decimal amount parsing for statement values and
// currency-safe minor-unit arithmetic built on go-money for summaries.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Common currency codes (ISO-4217)
const (
	USD = "USD"
	EUR = "EUR"
	GBP = "GBP"
	BRL = "BRL"
	JPY = "JPY"
)

var (
	ErrEmptyAmount      = errors.New("empty amount")
	ErrCurrencyMismatch = errors.New("currency mismatch")
)

// currencySymbols are stripped before numeric parsing. Longer symbols first so
// "R$" is removed before "$".
var currencySymbols = []string{"R$", "US$", "$", "€", "£", "¥", "₹", "USD", "EUR", "GBP", "BRL"}

// ParseAmount converts a raw statement cell into a signed decimal.
// Accepts "1,234.56", "1.234,56" (european), "(12.00)", "-12", "12-", "€ 9,99".
func ParseAmount(raw string, european bool) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, ErrEmptyAmount
	}

	for _, sym := range currencySymbols {
		s = strings.ReplaceAll(s, sym, "")
	}
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "\u00a0", "")

	negative := false
	switch {
	case strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")"):
		negative = true
		s = strings.Trim(s, "()")
	case strings.HasSuffix(s, "-"):
		negative = true
		s = strings.TrimSuffix(s, "-")
	}
	if strings.HasPrefix(s, "-") {
		negative = !negative
		s = strings.TrimPrefix(s, "-")
	}
	s = strings.TrimPrefix(s, "+")

	if european {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	} else {
		s = strings.ReplaceAll(s, ",", "")
	}
	if s == "" {
		return decimal.Zero, ErrEmptyAmount
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

// LooksEuropean reports whether sample values use a decimal comma. The second
// return is false when the samples give no signal either way.
func LooksEuropean(samples []string) (bool, bool) {
	european, us := 0, 0
	for _, raw := range samples {
		cleaned := strings.Map(func(r rune) rune {
			if r >= '0' && r <= '9' || r == ',' || r == '.' {
				return r
			}
			return -1
		}, raw)
		if cleaned == "" {
			continue
		}
		comma := strings.LastIndex(cleaned, ",")
		dot := strings.LastIndex(cleaned, ".")
		switch {
		case comma >= 0 && dot >= 0:
			if comma > dot {
				european++
			} else {
				us++
			}
		case comma >= 0:
			if len(cleaned)-comma-1 <= 2 {
				european++
			}
		case dot >= 0:
			if len(cleaned)-dot-1 <= 2 {
				us++
			}
		}
	}
	if european == us {
		return false, false
	}
	return european > us, true
}

// Money represents a monetary value with currency in minor units.
type Money struct {
	m *money.Money
}

// New creates Money from minor units.
func New(amountCents int64, currencyCode string) *Money {
	return &Money{m: money.New(amountCents, currencyCode)}
}

// NewFromDecimal rounds a decimal to the currency's minor unit.
func NewFromDecimal(amount decimal.Decimal, currencyCode string) *Money {
	currency := money.GetCurrency(currencyCode)
	if currency == nil {
		currency = money.GetCurrency(USD)
		currencyCode = USD
	}
	multiplier := decimal.New(1, int32(currency.Fraction))
	return New(amount.Mul(multiplier).Round(0).IntPart(), currencyCode)
}

// Amount returns the amount in minor units.
func (m *Money) Amount() int64 {
	if m == nil || m.m == nil {
		return 0
	}
	return m.m.Amount()
}

// Currency returns the ISO-4217 code.
func (m *Money) Currency() string {
	if m == nil || m.m == nil {
		return ""
	}
	return m.m.Currency().Code
}

func (m *Money) IsZero() bool {
	return m == nil || m.m == nil || m.m.IsZero()
}

// Subtract returns m - other. Both values must share a currency.
func (m *Money) Subtract(other *Money) (*Money, error) {
	if m.Currency() != other.Currency() {
		return nil, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency(), other.Currency())
	}
	res, err := m.m.Subtract(other.m)
	if err != nil {
		return nil, err
	}
	return &Money{m: res}, nil
}

// Display formats the value with its currency symbol, e.g. "$1,234.56".
func (m *Money) Display() string {
	if m == nil || m.m == nil {
		return "0.00"
	}
	return m.m.Display()
}

// ToDecimal converts back to a decimal in major units.
func (m *Money) ToDecimal() decimal.Decimal {
	if m == nil || m.m == nil {
		return decimal.Zero
	}
	divisor := decimal.New(1, int32(m.m.Currency().Fraction))
	return decimal.NewFromInt(m.m.Amount()).Div(divisor)
}
