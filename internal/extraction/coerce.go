package extraction

import (
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	symbolCleaner = strings.NewReplacer("$", "", "€", "", "£", "", "¥", "", " ", "")

	// commas are only accepted as thousands grouping ahead of a "." decimal
	groupedThousands = regexp.MustCompile(`^[-+]?\d{1,3}(,\d{3})+(\.\d+)?$`)
)

// cleanNumber strips currency symbols and spaces and removes grouping commas.
// Any other comma is left in place so the value fails to parse.
func cleanNumber(s string) string {
	s = symbolCleaner.Replace(strings.TrimSpace(s))
	if strings.Contains(s, ",") && groupedThousands.MatchString(s) {
		s = strings.ReplaceAll(s, ",", "")
	}
	return s
}

// CoerceString stringifies any non-null value; null becomes ""
func CoerceString(v Value) string {
	return v.Str()
}

// CoerceNumber parses v as a number. Anything that does not parse becomes 0.
func CoerceNumber(v Value) float64 {
	switch v.Kind() {
	case KindNumber, KindString:
	default:
		return 0
	}
	s := cleanNumber(v.Str())
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// CoerceItems types every item and drops the ones with no content
func CoerceItems(raw []RawItem) []Item {
	items := make([]Item, 0, len(raw))
	for _, r := range raw {
		item := Item{
			Name:       strings.TrimSpace(CoerceString(r.Name)),
			Quantity:   CoerceNumber(r.Quantity),
			UnitPrice:  CoerceNumber(r.UnitPrice),
			TotalPrice: CoerceNumber(r.TotalPrice),
		}
		if item.IsZero() {
			continue
		}
		items = append(items, item)
	}
	return items
}

// normalizeAmount renders s as a canonical decimal string when it holds a
// number, and returns it trimmed but otherwise untouched when it does not.
func normalizeAmount(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	d, err := decimal.NewFromString(cleanNumber(s))
	if err != nil {
		return s
	}
	return d.String()
}

// Coerce types raw fields into the canonical record. It fails with
// *NoUsableDataError when nothing usable was extracted. Other missing fields
// are logged and otherwise ignored.
func Coerce(raw RawFields, logger *slog.Logger) (Fields, error) {
	if logger == nil {
		logger = slog.Default()
	}

	f := Fields{
		FileDisplayName:   strings.TrimSpace(CoerceString(raw.FileDisplayName)),
		MerchantName:      strings.TrimSpace(CoerceString(raw.MerchantName)),
		MerchantAddress:   strings.TrimSpace(CoerceString(raw.MerchantAddress)),
		MerchantContact:   strings.TrimSpace(CoerceString(raw.MerchantContact)),
		TransactionDate:   strings.TrimSpace(CoerceString(raw.TransactionDate)),
		TransactionAmount: normalizeAmount(CoerceString(raw.TransactionAmount)),
		Currency:          strings.TrimSpace(CoerceString(raw.Currency)),
		ReceiptSummary:    strings.TrimSpace(CoerceString(raw.ReceiptSummary)),
		Items:             CoerceItems(raw.Items),
		RawExtractedData:  raw.RawExtractedData,
	}

	present := map[string]bool{
		"fileDisplayName":   f.FileDisplayName != "",
		"merchantName":      f.MerchantName != "",
		"merchantAddress":   f.MerchantAddress != "",
		"merchantContact":   f.MerchantContact != "",
		"transactionDate":   f.TransactionDate != "",
		"transactionAmount": f.TransactionAmount != "",
		"currency":          f.Currency != "",
		"items":             len(f.Items) > 0,
	}

	var missing []string
	for _, name := range RequiredFields {
		if !present[name] {
			missing = append(missing, name)
		}
	}

	if !hasUsableData(f, raw.CurrencyDefaulted) {
		return Fields{}, &NoUsableDataError{Missing: missing}
	}
	if len(missing) > 0 {
		logger.Warn("extraction.coerce.missing_fields", "missing", missing)
	}
	return f, nil
}

// RequiredFields lists the fields reported when absent from a record
var RequiredFields = []string{
	"fileDisplayName",
	"merchantName",
	"merchantAddress",
	"merchantContact",
	"transactionDate",
	"transactionAmount",
	"currency",
	"items",
}

// hasUsableData applies the persistence invariant. The display name comes
// from the upload rather than the document, and a defaulted currency was not
// read from the document either, so neither counts as extracted data.
func hasUsableData(f Fields, currencyDefaulted bool) bool {
	return f.MerchantName != "" ||
		f.MerchantAddress != "" ||
		f.MerchantContact != "" ||
		f.TransactionDate != "" ||
		f.TransactionAmount != "" ||
		(f.Currency != "" && !currencyDefaulted) ||
		len(f.Items) > 0
}
