package parser

import (
	"bytes"
	"fmt"
	"time"

	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"
)

// OFXParser reads bank and credit card statements from OFX 1.x (SGML) and
// 2.x (XML) documents.
type OFXParser struct {
	loc *time.Location
}

func (p *OFXParser) Parse(data []byte) (*Result, error) {
	resp, err := ofxgo.ParseResponse(bytes.NewReader(data))
	if err != nil {
		return nil, &ParseError{Format: FormatOFX, Err: err}
	}

	var (
		txns  []ofxgo.Transaction
		found bool
	)
	for _, msg := range resp.Bank {
		if stmt, ok := msg.(*ofxgo.StatementResponse); ok {
			found = true
			if stmt.BankTranList != nil {
				txns = append(txns, stmt.BankTranList.Transactions...)
			}
		}
	}
	for _, msg := range resp.CreditCard {
		if stmt, ok := msg.(*ofxgo.CCStatementResponse); ok {
			found = true
			if stmt.BankTranList != nil {
				txns = append(txns, stmt.BankTranList.Transactions...)
			}
		}
	}
	if !found {
		return nil, &ParseError{Format: FormatOFX, Err: ErrNoStatements}
	}

	rows := func(yield func(*Row, error) bool) {
		for i := range txns {
			row, err := p.convert(i+1, &txns[i])
			if err != nil {
				if !yield(nil, err) {
					return
				}
				continue
			}
			if !yield(row, nil) {
				return
			}
		}
	}
	return &Result{Rows: rows}, nil
}

func (p *OFXParser) convert(n int, t *ofxgo.Transaction) (*Row, error) {
	if t.DtPosted.IsZero() {
		return nil, &InvalidRowDataError{Row: n, Field: "date", Message: "missing DTPOSTED", RawValue: string(t.FiTID)}
	}

	desc := string(t.Name)
	if desc == "" && t.Payee != nil {
		desc = string(t.Payee.Name)
	}
	if desc == "" {
		desc = string(t.Memo)
	}
	desc = cleanDescription(desc)
	if desc == "" {
		return nil, &InvalidRowDataError{Row: n, Field: "description", Message: "missing NAME, PAYEE and MEMO", RawValue: string(t.FiTID)}
	}

	rawAmount := t.TrnAmt.Rat.FloatString(2)
	amount, err := decimal.NewFromString(rawAmount)
	if err != nil {
		return nil, &InvalidRowDataError{Row: n, Field: "amount", Message: fmt.Sprintf("invalid TRNAMT: %v", err), RawValue: rawAmount}
	}

	row := &Row{
		Number:      n,
		Date:        p.day(t.DtPosted.Time),
		Description: desc,
		Amount:      amount,
		ExternalID:  string(t.FiTID),
	}
	if t.DtAvail != nil && !t.DtAvail.IsZero() {
		settled := p.day(t.DtAvail.Time)
		row.SettledDate = &settled
	}
	return row, nil
}

// day keeps the calendar date as written in the file.
func (p *OFXParser) day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, p.loc)
}
