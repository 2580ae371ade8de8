// Package fixtures generates realistic bank statements for tests using
// gofakeit. Every generator is seeded so a failing test can be replayed.
package fixtures

import (
	"bytes"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"
)

// Line is one generated statement entry. Amount is signed.
type Line struct {
	Date        time.Time
	Description string
	Amount      decimal.Decimal
	Category    string
	Tags        []string
}

// IsExpense reports whether the line leaves the account.
func (l Line) IsExpense() bool { return l.Amount.IsNegative() }

// Generator produces statement lines inside a one-month window.
type Generator struct {
	faker *gofakeit.Faker
	start time.Time
	end   time.Time
}

// New creates a generator for the month starting at start. A zero start uses
// January 2026.
func New(seed int64, start time.Time) *Generator {
	if start.IsZero() {
		start = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	return &Generator{
		faker: gofakeit.New(seed),
		start: start,
		end:   start.AddDate(0, 1, -1),
	}
}

// ============================================================================
// Lines
// ============================================================================

// Line generates an expense four times out of five, otherwise income.
func (g *Generator) Line() Line {
	if g.faker.Number(1, 5) == 5 {
		return g.Income()
	}
	return g.Expense()
}

// Lines generates n lines that are pairwise distinct by date, amount and
// description, sorted by date.
func (g *Generator) Lines(n int) []Line {
	seen := make(map[string]struct{}, n)
	lines := make([]Line, 0, n)
	for len(lines) < n {
		l := g.Line()
		key := l.Date.Format(time.DateOnly) + "|" + l.Amount.StringFixed(2) + "|" + strings.ToLower(l.Description)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		lines = append(lines, l)
	}
	slices.SortStableFunc(lines, func(a, b Line) int { return a.Date.Compare(b.Date) })
	return lines
}

func (g *Generator) Expense() Line {
	return Line{
		Date:        g.Date(),
		Description: g.Merchant() + " " + g.pick(purchaseDescriptions),
		Amount:      g.Cents(100, 50000).Neg(), // $1.00 to $500.00
		Category:    g.pick(expenseCategories),
		Tags:        g.Tags(0, 2),
	}
}

func (g *Generator) Income() Line {
	return Line{
		Date:        g.Date(),
		Description: g.pick(incomeDescriptions),
		Amount:      g.Cents(100000, 1000000), // $1,000 to $10,000
		Category:    g.pick(incomeCategories),
		Tags:        g.Tags(0, 1),
	}
}

// Date returns a day inside the generator's month.
func (g *Generator) Date() time.Time {
	d := g.faker.DateRange(g.start, g.end)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
}

// Cents returns a positive amount between minCents and maxCents.
func (g *Generator) Cents(minCents, maxCents int) decimal.Decimal {
	return decimal.New(int64(g.faker.Number(minCents, maxCents)), -2)
}

func (g *Generator) Merchant() string {
	return g.pick(merchants)
}

// Tags returns between min and max distinct tags.
func (g *Generator) Tags(min, max int) []string {
	count := g.faker.Number(min, max)
	if count == 0 {
		return nil
	}
	shuffled := append([]string(nil), allTags...)
	g.faker.ShuffleStrings(shuffled)
	return shuffled[:count]
}

func (g *Generator) pick(from []string) string {
	return from[g.faker.Number(0, len(from)-1)]
}

// ============================================================================
// Rendering
// ============================================================================

type csvLine struct {
	Date        string `csv:"Date"`
	Description string `csv:"Description"`
	Amount      string `csv:"Amount"`
	Category    string `csv:"Category"`
	Tags        string `csv:"Tags"`
}

// CSV renders lines with a Date,Description,Amount,Category,Tags header,
// ISO dates and tags joined by '|'.
func CSV(lines []Line) ([]byte, error) {
	out := make([]csvLine, 0, len(lines))
	for _, l := range lines {
		out = append(out, csvLine{
			Date:        l.Date.Format(time.DateOnly),
			Description: l.Description,
			Amount:      l.Amount.StringFixed(2),
			Category:    l.Category,
			Tags:        strings.Join(l.Tags, "|"),
		})
	}
	return gocsv.MarshalBytes(out)
}

// OFX renders lines as an OFX 1.02 SGML bank statement.
func OFX(lines []Line, currency string) []byte {
	var b bytes.Buffer
	b.WriteString(ofxHeader)

	dtStart, dtEnd := "", ""
	balance := decimal.Zero
	if len(lines) > 0 {
		dtStart = lines[0].Date.Format("20060102")
		dtEnd = lines[len(lines)-1].Date.Format("20060102")
	}

	b.WriteString("<BANKMSGSRSV1>\n<STMTTRNRS>\n<TRNUID>1001\n<STATUS>\n<CODE>0\n<SEVERITY>INFO\n</STATUS>\n")
	fmt.Fprintf(&b, "<STMTRS>\n<CURDEF>%s\n<BANKACCTFROM>\n<BANKID>121099999\n<ACCTID>999988\n<ACCTTYPE>CHECKING\n</BANKACCTFROM>\n", currency)
	fmt.Fprintf(&b, "<BANKTRANLIST>\n<DTSTART>%s\n<DTEND>%s\n", dtStart, dtEnd)
	for i, l := range lines {
		trnType := "CREDIT"
		if l.IsExpense() {
			trnType = "DEBIT"
		}
		balance = balance.Add(l.Amount)
		fmt.Fprintf(&b, "<STMTTRN>\n<TRNTYPE>%s\n<DTPOSTED>%s\n<TRNAMT>%s\n<FITID>F%05d\n<NAME>%s\n</STMTTRN>\n",
			trnType, l.Date.Format("20060102"), l.Amount.StringFixed(2), i+1, sgmlEscape(l.Description))
	}
	fmt.Fprintf(&b, "</BANKTRANLIST>\n<LEDGERBAL>\n<BALAMT>%s\n<DTASOF>%s\n</LEDGERBAL>\n", balance.StringFixed(2), dtEnd)
	b.WriteString("</STMTRS>\n</STMTTRNRS>\n</BANKMSGSRSV1>\n</OFX>\n")
	return b.Bytes()
}

var sgmlReplacer = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func sgmlEscape(s string) string { return sgmlReplacer.Replace(s) }

const ofxHeader = `OFXHEADER:100
DATA:OFXSGML
VERSION:102
SECURITY:NONE
ENCODING:USASCII
CHARSET:1252
COMPRESSION:NONE
OLDFILEUID:NONE
NEWFILEUID:NONE

<OFX>
<SIGNONMSGSRSV1>
<SONRS>
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<DTSERVER>20260131120000
<LANGUAGE>ENG
</SONRS>
</SIGNONMSGSRSV1>
`

// ============================================================================
// Vocabulary
// ============================================================================

var expenseCategories = []string{
	"Food & Dining", "Groceries", "Transportation", "Gas & Fuel",
	"Shopping", "Entertainment", "Bills & Utilities", "Health & Medical",
	"Travel", "Education", "Personal Care", "Home & Garden",
}

var incomeCategories = []string{
	"Salary", "Freelance", "Investments", "Rental Income",
	"Dividends", "Interest", "Refund", "Bonus",
}

var merchants = []string{
	"Amazon", "Walmart", "Target", "Costco", "Starbucks",
	"Uber", "Lyft", "Netflix", "Spotify", "Whole Foods",
	"CVS Pharmacy", "Walgreens", "Shell", "Chevron", "Delta Airlines",
	"Marriott", "Home Depot", "Best Buy", "IKEA", "Sephora",
}

var purchaseDescriptions = []string{
	"Coffee and pastry", "Weekly groceries", "Fuel", "Online subscription",
	"Dinner", "Office supplies", "Pharmacy", "Parking",
	"Book purchase", "Movie tickets", "Clothing", "Electronics",
}

var incomeDescriptions = []string{
	"Monthly salary deposit", "Freelance payment", "Client invoice payment",
	"Dividend payment", "Interest income", "Tax refund", "Bonus payment",
}

var allTags = []string{
	"recurring", "essential", "discretionary", "business",
	"personal", "reimbursable", "subscription", "monthly",
}
