package fingerprint

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFile(t *testing.T) {
	a := File([]byte("Date,Description,Amount\n2026-01-15,Grocery Shopping,-150.50\n"))
	b := File([]byte("Date,Description,Amount\n2026-01-15,Grocery Shopping,-150.50\n"))
	c := File([]byte("Date,Description,Amount\n2026-01-15,Grocery Shopping,-150.51\n"))

	assert.Len(t, a, Size)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	// sha256 of the empty input
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", File(nil))
}

func TestFileReader_MatchesFile(t *testing.T) {
	data := "OFXHEADER:100\nDATA:OFXSGML\n"
	got, err := FileReader(strings.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, File([]byte(data)), got)
}

func TestRow(t *testing.T) {
	day := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	base := Row(day, decimal.RequireFromString("-150.50"), "Grocery Shopping")

	tests := []struct {
		name   string
		date   time.Time
		amount string
		desc   string
		same   bool
	}{
		{"identical", day, "-150.50", "Grocery Shopping", true},
		{"time of day ignored", day.Add(13 * time.Hour), "-150.50", "Grocery Shopping", true},
		{"trailing zero scale", day, "-150.5", "Grocery Shopping", true},
		{"case and spacing", day, "-150.50", "  grocery   SHOPPING ", true},
		{"different amount", day, "-150.51", "Grocery Shopping", false},
		{"different sign", day, "150.50", "Grocery Shopping", false},
		{"different day", day.AddDate(0, 0, 1), "-150.50", "Grocery Shopping", false},
		{"different description", day, "-150.50", "Grocery Store", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Row(tt.date, decimal.RequireFromString(tt.amount), tt.desc)
			assert.Len(t, got, Size)
			assert.Equal(t, tt.same, got == base)
		})
	}
}
