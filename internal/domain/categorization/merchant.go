package categorization

import (
	"regexp"
	"strings"
	"unicode"
)

// MerchantInfo is the result of sanitizing a raw statement merchant.
type MerchantInfo struct {
	OriginalName   string
	NormalizedName string
	// Known is set when an alias matched and NormalizedName is canonical.
	Known bool
}

// MerchantAlias maps card-network spellings of a merchant onto its name.
type MerchantAlias struct {
	Pattern *regexp.Regexp
	Name    string
}

// MerchantSanitizer canonicalizes merchant text before rule and keyword
// matching. It never touches the description stored on the transaction or
// used for row hashes.
type MerchantSanitizer struct {
	aliases []MerchantAlias
}

// NewMerchantSanitizer creates a sanitizer with the built-in aliases.
func NewMerchantSanitizer() *MerchantSanitizer {
	return &MerchantSanitizer{aliases: defaultMerchantAliases()}
}

var defaultMerchants = NewMerchantSanitizer()

// Sanitize strips processor noise and resolves known aliases. Unknown
// merchants come back cleaned and title cased.
func (s *MerchantSanitizer) Sanitize(raw string) MerchantInfo {
	cleaned := cleanMerchantName(raw)
	info := MerchantInfo{OriginalName: raw, NormalizedName: titleCase(cleaned)}

	upper := strings.ToUpper(cleaned)
	for _, a := range s.aliases {
		if a.Pattern.MatchString(upper) {
			info.NormalizedName = a.Name
			info.Known = true
			break
		}
	}
	return info
}

// MatchText returns the text rules and keywords are matched against: the
// description, prefixed with the canonical merchant name when an alias
// resolved to a name the description does not already spell out.
func (s *MerchantSanitizer) MatchText(description string) string {
	if s == nil {
		return description
	}
	info := s.Sanitize(description)
	if !info.Known || strings.Contains(strings.ToLower(description), strings.ToLower(info.NormalizedName)) {
		return description
	}
	return info.NormalizedName + " " + description
}

// AddAlias registers a custom alias. Aliases added later lose to earlier ones.
func (s *MerchantSanitizer) AddAlias(pattern, name string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	s.aliases = append(s.aliases, MerchantAlias{Pattern: re, Name: name})
	return nil
}

var (
	merchantPrefixes = []string{
		"COMPRA ", "COMPRAS ", "PAGAMENTO ", "PAG ", "TRF ", "TRANSF ",
		"MB WAY ", "MBWAY ", "VISA ", "MASTERCARD ", "MAESTRO ",
		"PURCHASE ", "PAYMENT ", "POS ", "DEBIT CARD ", "CHECKCARD ",
	}
	trailingReference = regexp.MustCompile(`\s+#?\d{4,}$`)
	trailingDate      = regexp.MustCompile(`\s+\d{1,2}/\d{1,2}(/\d{2,4})?$`)
	repeatedSpace     = regexp.MustCompile(`\s+`)
)

// cleanMerchantName removes card prefixes, terminal references and trailing
// dates.
func cleanMerchantName(raw string) string {
	result := strings.TrimSpace(raw)

	upper := strings.ToUpper(result)
	for _, prefix := range merchantPrefixes {
		if strings.HasPrefix(upper, prefix) {
			result = result[len(prefix):]
			break
		}
	}

	result = trailingReference.ReplaceAllString(result, "")
	result = trailingDate.ReplaceAllString(result, "")
	result = repeatedSpace.ReplaceAllString(result, " ")
	return strings.TrimSpace(result)
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, word := range words {
		r := []rune(strings.ToLower(word))
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// Patterns run against the upper-cased, cleaned merchant. Order matters where
// one merchant's name contains another's (Uber Eats before Uber).
func defaultMerchantAliases() []MerchantAlias {
	return []MerchantAlias{
		// Marketplaces and retail
		{regexp.MustCompile(`\bAMZN\b|AMAZON|AMZ\s*MKTP`), "Amazon"},
		{regexp.MustCompile(`WAL-?MART|\bWM\s+SUPERCENTER\b|\bWMT\b`), "Walmart"},
		{regexp.MustCompile(`COSTCO`), "Costco"},
		{regexp.MustCompile(`\bTGT\b|\bTARGET\s+(T-|#|STORE)`), "Target"},
		{regexp.MustCompile(`IKEA`), "IKEA"},
		{regexp.MustCompile(`\bEBAY\b`), "eBay"},

		// Groceries
		{regexp.MustCompile(`PINGO\s*DOCE|\bPGO\s*DOCE`), "Pingo Doce"},
		{regexp.MustCompile(`\bLIDL\b`), "Lidl"},
		{regexp.MustCompile(`WHOLEFDS|WHOLE\s*FOODS`), "Whole Foods"},
		{regexp.MustCompile(`TRADER\s*JOE`), "Trader Joe's"},

		// Food and drink
		{regexp.MustCompile(`\bSBUX\b|STARBUCKS`), "Starbucks"},
		{regexp.MustCompile(`MC\s*DONALD`), "McDonald's"},
		{regexp.MustCompile(`UBER\s*\*?\s*EATS`), "Uber Eats"},
		{regexp.MustCompile(`DOORDASH|\bDD\s*\*`), "DoorDash"},

		// Transport
		{regexp.MustCompile(`\bUBER\b`), "Uber"},
		{regexp.MustCompile(`\bLYFT\b`), "Lyft"},
		{regexp.MustCompile(`RYANAIR`), "Ryanair"},

		// Subscriptions
		{regexp.MustCompile(`NETFLIX`), "Netflix"},
		{regexp.MustCompile(`SPOTIFY`), "Spotify"},
		{regexp.MustCompile(`\bAPL\*|APPLE\.COM|ITUNES`), "Apple"},
		{regexp.MustCompile(`GOOGLE\s*\*|\bGOOG\b`), "Google"},

		// Payments
		{regexp.MustCompile(`PAYPAL|\bPP\*`), "PayPal"},
	}
}
