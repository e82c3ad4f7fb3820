package extraction

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultCurrency is used when a record names no currency. It is a display
// default only and says nothing about the actual currency on the document.
const DefaultCurrency = "$"

// Candidate source paths per canonical field, in order of preference.
var (
	merchantNamePaths    = []string{"issuer.name", "merchant_name", "merchant.name", "store_name", "vendor_name", "issued_to.name"}
	merchantAddressPaths = []string{"issuer.address", "merchant_address", "merchant.address", "store_address", "issued_to.address"}
	merchantContactPaths = []string{"issuer.phone", "issuer.email", "issuer.contact", "merchant_contact", "merchant_phone", "merchant.phone", "merchant.email", "issued_to.phone", "issued_to.email"}
	transactionDatePaths = []string{"date", "transaction_date", "issue_date", "invoice_date", "purchase_date", "transaction.date"}
	amountPaths          = []string{"grand_total", "total_amount", "amount", "total", "transaction.amount"}
	currencyPaths        = []string{"currency", "currency_code", "transaction.currency"}
	summaryPaths         = []string{"receipt_summary", "summary", "note", "notes"}
	paymentPaths         = []string{"payment_method", "payment.method", "payment.type", "bank_name", "payment.bank_name", "bank.name"}
	itemListPaths        = []string{"line_items", "items"}

	itemNameKeys       = []string{"description", "name", "item", "title"}
	itemQuantityKeys   = []string{"qty", "quantity"}
	itemUnitPriceKeys  = []string{"price", "unit_price", "unitPrice"}
	itemTotalPriceKeys = []string{"subtotal", "total", "amount", "total_price", "totalPrice"}

	// wrapperKeys hold the record when a model nests it inside an envelope
	wrapperKeys = []string{"receipt", "invoice", "data", "result", "document"}
)

var highValueThreshold = decimal.NewFromInt(100)

const bulkItemThreshold = 5

// RawFields is a vendor record projected onto canonical field names without
// any type coercion applied.
type RawFields struct {
	FileDisplayName   Value
	MerchantName      Value
	MerchantAddress   Value
	MerchantContact   Value
	TransactionDate   Value
	TransactionAmount Value
	Currency          Value
	// CurrencyDefaulted is set when Currency holds DefaultCurrency rather
	// than a value read from the record.
	CurrencyDefaulted bool
	ReceiptSummary    Value
	PaymentMethod     Value
	Items             []RawItem
	RawExtractedData  string
}

// RawItem is one line item before coercion
type RawItem struct {
	Name       Value
	Quantity   Value
	UnitPrice  Value
	TotalPrice Value
}

// MapFields projects a vendor-shaped record onto the canonical field names.
// When the record carries no summary one is synthesized from the mapped fields.
func MapFields(record Value) RawFields {
	raw := RawFields{RawExtractedData: record.Str()}

	rec := unwrapRecord(record)

	raw.MerchantName = firstPresent(rec, merchantNamePaths)
	raw.MerchantAddress = firstPresent(rec, merchantAddressPaths)
	raw.MerchantContact = firstPresent(rec, merchantContactPaths)
	raw.TransactionDate = firstPresent(rec, transactionDatePaths)
	raw.TransactionAmount = firstPresent(rec, amountPaths)
	raw.Currency = firstPresent(rec, currencyPaths)
	if raw.Currency.IsEmpty() {
		raw.Currency = StringValue(DefaultCurrency)
		raw.CurrencyDefaulted = true
	}
	raw.PaymentMethod = firstPresent(rec, paymentPaths)

	items := firstPresent(rec, itemListPaths)
	for _, entry := range items.Items() {
		raw.Items = append(raw.Items, RawItem{
			Name:       firstKey(entry, itemNameKeys),
			Quantity:   firstKey(entry, itemQuantityKeys),
			UnitPrice:  firstKey(entry, itemUnitPriceKeys),
			TotalPrice: firstKey(entry, itemTotalPriceKeys),
		})
	}

	raw.ReceiptSummary = firstPresent(rec, summaryPaths)
	if raw.ReceiptSummary.IsEmpty() {
		raw.ReceiptSummary = StringValue(Summarize(raw))
	}

	return raw
}

// unwrapRecord finds the object that actually holds receipt fields when the
// model returned an array or an envelope object.
func unwrapRecord(v Value) Value {
	if v.Kind() == KindArray {
		for _, item := range v.Items() {
			if item.Kind() == KindObject {
				return unwrapRecord(item)
			}
		}
		return v
	}
	if v.Kind() != KindObject || hasKnownField(v) {
		return v
	}
	for _, key := range wrapperKeys {
		if inner, ok := v.Get(key); ok && (inner.Kind() == KindObject || inner.Kind() == KindArray) {
			return unwrapRecord(inner)
		}
	}
	return v
}

func hasKnownField(v Value) bool {
	for _, paths := range [][]string{merchantNamePaths, merchantAddressPaths, transactionDatePaths, amountPaths, itemListPaths} {
		if !firstPresent(v, paths).IsEmpty() {
			return true
		}
	}
	return false
}

func firstPresent(v Value, paths []string) Value {
	for _, p := range paths {
		if found, ok := v.Lookup(p); ok && !found.IsEmpty() {
			return found
		}
	}
	return Null()
}

func firstKey(v Value, keys []string) Value {
	for _, k := range keys {
		if found, ok := v.Get(k); ok && !found.IsEmpty() {
			return found
		}
	}
	return Null()
}

// Summarize renders a short description of a receipt from its mapped fields
func Summarize(raw RawFields) string {
	var b strings.Builder

	merchant := strings.TrimSpace(CoerceString(raw.MerchantName))
	if merchant == "" {
		b.WriteString("Receipt from an unknown merchant")
	} else {
		b.WriteString("Receipt from " + merchant)
	}
	if address := strings.TrimSpace(CoerceString(raw.MerchantAddress)); address != "" {
		b.WriteString(" located at " + address)
	}
	if date := strings.TrimSpace(CoerceString(raw.TransactionDate)); date != "" {
		b.WriteString(" dated " + date)
	}

	amount := normalizeAmount(CoerceString(raw.TransactionAmount))
	if amount != "" {
		b.WriteString(" for a total of " + formatMoney(amount, CoerceString(raw.Currency)))
	}
	b.WriteString(".")

	items := CoerceItems(raw.Items)
	names := make([]string, 0, len(items))
	for _, item := range items {
		if name := strings.TrimSpace(item.Name); name != "" {
			names = append(names, name)
		}
	}

	switch {
	case len(items) == 0:
		b.WriteString(" No line items were captured.")
	case len(names) == 0:
		fmt.Fprintf(&b, " It lists %s.", pluralItems(len(items)))
	case len(names) <= 3:
		fmt.Fprintf(&b, " It lists %s: %s.", pluralItems(len(items)), joinNames(names))
	default:
		fmt.Fprintf(&b, " It lists %s, including %s and %d more.", pluralItems(len(items)), strings.Join(names[:3], ", "), len(names)-3)
	}

	if amount != "" {
		if total, err := decimal.NewFromString(amount); err == nil && total.GreaterThan(highValueThreshold) {
			b.WriteString(" This is a high-value purchase.")
		}
	}
	if len(items) > bulkItemThreshold {
		b.WriteString(" The number of items suggests bulk shopping.")
	}
	if payment := strings.TrimSpace(CoerceString(raw.PaymentMethod)); payment != "" {
		b.WriteString(" Paid using " + payment + ".")
	}

	return b.String()
}

func pluralItems(n int) string {
	if n == 1 {
		return "1 item"
	}
	return fmt.Sprintf("%d items", n)
}

func joinNames(names []string) string {
	if len(names) == 1 {
		return names[0]
	}
	return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
}

// formatMoney places symbol currencies before the amount and codes after it
func formatMoney(amount, currency string) string {
	currency = strings.TrimSpace(currency)
	switch {
	case currency == "":
		return amount
	case isCurrencyCode(currency):
		return amount + " " + strings.ToUpper(currency)
	default:
		return currency + amount
	}
}

func isCurrencyCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') {
			return false
		}
	}
	return true
}
