package categorization

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerchantSanitizer_Sanitize(t *testing.T) {
	sanitizer := NewMerchantSanitizer()

	tests := []struct {
		name      string
		input     string
		wantName  string
		wantKnown bool
	}{
		{"marketplace abbreviation", "AMZN MKTP US*2K3", "Amazon", true},
		{"card prefix and terminal id", "COMPRA PGO DOCE ALVALADE 123456", "Pingo Doce", true},
		{"store number", "SBUX #10234 SEATTLE", "Starbucks", true},
		{"trailing date", "UBER *TRIP 12/01", "Uber", true},
		{"delivery before rideshare", "UBER * EATS PENDING", "Uber Eats", true},
		{"processor prefix", "PAYPAL *STEAMGAMES", "PayPal", true},
		{"unknown merchant title cased", "SOME RANDOM STORE 456789", "Some Random Store", false},
		{"blank", "   ", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := sanitizer.Sanitize(tt.input)
			assert.Equal(t, tt.input, info.OriginalName)
			assert.Equal(t, tt.wantName, info.NormalizedName)
			assert.Equal(t, tt.wantKnown, info.Known)
		})
	}
}

func TestMerchantSanitizer_MatchText(t *testing.T) {
	sanitizer := NewMerchantSanitizer()

	assert.Equal(t, "Amazon AMZN MKTP US*2K3", sanitizer.MatchText("AMZN MKTP US*2K3"))
	assert.Equal(t, "Amazon Marketplace Purchase", sanitizer.MatchText("Amazon Marketplace Purchase"))
	assert.Equal(t, "Corner Bakery", sanitizer.MatchText("Corner Bakery"))

	var none *MerchantSanitizer
	assert.Equal(t, "SBUX 1", none.MatchText("SBUX 1"))
}

func TestMerchantSanitizer_AddAlias(t *testing.T) {
	sanitizer := NewMerchantSanitizer()

	require.NoError(t, sanitizer.AddAlias(`\bCNTNTE\b`, "Continente"))
	info := sanitizer.Sanitize("CNTNTE BOM DIA LISBOA")
	assert.True(t, info.Known)
	assert.Equal(t, "Continente", info.NormalizedName)

	assert.Error(t, sanitizer.AddAlias(`(unclosed`, "Broken"))
}
