// Package fingerprint computes the content hashes used for file- and
// row-level deduplication of statement imports.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
)

// Size is the length of every hex digest produced by this package.
const Size = sha256.Size * 2

// File returns the SHA-256 hex digest of the raw file bytes.
func File(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// FileReader hashes a stream without buffering it.
func FileReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Row returns the digest identifying one statement line. The date is taken at
// day precision, the amount at two decimals, and the description is folded so
// casing and spacing differences between exports hash identically.
func Row(date time.Time, amount decimal.Decimal, description string) string {
	joined := strings.Join([]string{
		date.Format(time.DateOnly),
		amount.StringFixed(2),
		NormalizeDescription(description),
	}, "|")
	sum := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(sum[:])
}

// NormalizeDescription lowercases and collapses whitespace.
func NormalizeDescription(s string) string {
	return strings.Join(strings.FieldsFunc(strings.ToLower(s), unicode.IsSpace), " ")
}
