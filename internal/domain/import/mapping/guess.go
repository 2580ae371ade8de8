package mapping

import (
	"slices"
	"strings"
)

type field int

const (
	fieldSettledDate field = iota
	fieldDate
	fieldDescription
	fieldType
	fieldAmount
	fieldDebit
	fieldCredit
	fieldCategory
	fieldTags
)

type synonyms struct {
	field    field
	exact    []string
	contains []string
}

// synonymTable is consulted in order; a header claimed by an earlier field is
// not offered to later ones.
var synonymTable = []synonyms{
	{fieldSettledDate,
		[]string{"settled", "settled date", "settlement date", "value date", "data valor", "valuta", "fecha valor"},
		nil},
	{fieldDate,
		[]string{"date", "transaction date", "trans date", "trans. date", "posted", "posted date", "posting date",
			"booking date", "data", "data mov", "data mov.", "data movimento", "data lancamento", "fecha", "datum", "buchungstag"},
		[]string{"date", "data", "fecha", "datum"}},
	{fieldDescription,
		[]string{"description", "desc", "memo", "details", "narrative", "payee", "merchant", "name", "transaction",
			"descrição", "descricao", "descripción", "descripcion", "concepto", "verwendungszweck", "libellé", "libelle"},
		[]string{"descri", "memo", "payee", "merchant", "detail", "narrat"}},
	{fieldType,
		[]string{"type", "transaction type", "dr/cr", "cr/dr", "debit/credit", "credit/debit", "tipo"},
		nil},
	{fieldAmount,
		[]string{"amount", "value", "valor", "importe", "montant", "montante", "betrag", "amt", "transaction amount"},
		[]string{"amount", "valor", "importe", "betrag", "montant"}},
	{fieldDebit,
		[]string{"debit", "debito", "débito", "debits", "withdrawal", "withdrawals", "money out", "paid out", "cargo", "out"},
		[]string{"debit", "débito", "debito", "withdraw", "paid out", "money out"}},
	{fieldCredit,
		[]string{"credit", "credito", "crédito", "credits", "deposit", "deposits", "money in", "paid in", "abono", "in"},
		[]string{"credit", "crédito", "credito", "deposit", "paid in", "money in"}},
	{fieldCategory,
		[]string{"category", "categoria", "categoría", "kategorie", "catégorie"},
		[]string{"categ"}},
	{fieldTags,
		[]string{"tags", "tag", "labels", "label", "etiquetas"},
		nil},
}

// Guess builds a mapping from header synonyms. Exact matches are assigned for
// every field before substring matches are considered.
func Guess(headers []string) Config {
	normalized := make([]string, len(headers))
	for i, h := range headers {
		normalized[i] = normalize(h)
	}

	claimed := make([]bool, len(headers))
	found := make(map[field]string)

	assign := func(f field, match func(h string) bool) {
		if _, ok := found[f]; ok {
			return
		}
		for i, h := range normalized {
			if claimed[i] || h == "" {
				continue
			}
			if match(h) {
				claimed[i] = true
				found[f] = headers[i]
				return
			}
		}
	}

	for _, s := range synonymTable {
		assign(s.field, func(h string) bool { return slices.Contains(s.exact, h) })
	}
	for _, s := range synonymTable {
		if len(s.contains) == 0 {
			continue
		}
		assign(s.field, func(h string) bool {
			for _, c := range s.contains {
				if strings.Contains(h, c) {
					return true
				}
			}
			return false
		})
	}

	cfg := Config{
		Date:        found[fieldDate],
		Description: found[fieldDescription],
		SettledDate: found[fieldSettledDate],
		Category:    found[fieldCategory],
		Tags:        found[fieldTags],
	}

	switch {
	case found[fieldAmount] != "":
		cfg.AmountStrategy = SingleColumn
		cfg.Amount = found[fieldAmount]
		cfg.Type = found[fieldType]
	case found[fieldDebit] != "" || found[fieldCredit] != "":
		cfg.AmountStrategy = DebitCreditColumns
		cfg.Debit = found[fieldDebit]
		cfg.Credit = found[fieldCredit]
	default:
		cfg.AmountStrategy = SingleColumn
	}
	return cfg
}
