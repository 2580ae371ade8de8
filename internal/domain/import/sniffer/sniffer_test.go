package sniffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	t.Run("strips bom", func(t *testing.T) {
		got := Normalize(append([]byte{0xEF, 0xBB, 0xBF}, "Date,Amount"...))
		assert.Equal(t, "Date,Amount", string(got))
	})

	t.Run("latin1 to utf8", func(t *testing.T) {
		// "Descrição" in ISO-8859-1
		latin1 := []byte{'D', 'e', 's', 'c', 'r', 'i', 0xE7, 0xE3, 'o'}
		assert.Equal(t, "Descrição", string(Normalize(latin1)))
	})

	t.Run("utf8 untouched", func(t *testing.T) {
		assert.Equal(t, "Descrição", string(Normalize([]byte("Descrição"))))
	})
}

func TestDetectDelimiter(t *testing.T) {
	tests := []struct {
		name string
		data string
		want rune
	}{
		{"comma", "Date,Description,Amount\n2026-01-15,Coffee,-3.50\n", ','},
		{"semicolon with decimal comma", "Data;Descrição;Valor\n15-01-2026;Café;-3,50\n16-01-2026;Pão;-1,20\n", ';'},
		{"tab", "Date\tDescription\tAmount\n2026-01-15\tCoffee\t-3.50\n", '\t'},
		{"pipe", "Date|Description|Amount\n2026-01-15|Coffee|-3.50\n", '|'},
		{"preamble then comma", "Account: 1234\n\nDate,Description,Amount\n2026-01-15,Coffee,-3.50\n", ','},
		{"single column", "Description\nCoffee\n", ','},
		{"empty", "", ','},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectDelimiter([]byte(tt.data)))
		})
	}
}

func TestSignatures(t *testing.T) {
	assert.True(t, LooksLikeOFX([]byte("OFXHEADER:100\nDATA:OFXSGML\n")))
	assert.True(t, LooksLikeOFX([]byte(`<?xml version="1.0"?><?OFX OFXHEADER="200"?><ofx>`)))
	assert.False(t, LooksLikeOFX([]byte("Date,Description,Amount")))

	assert.True(t, LooksLikeZip([]byte{'P', 'K', 0x03, 0x04, 0x14}))
	assert.False(t, LooksLikeZip([]byte("PK")))
}
