package extraction

// Fields is the canonical, fully typed result of an extraction
type Fields struct {
	FileDisplayName   string `json:"fileDisplayName"`
	MerchantName      string `json:"merchantName"`
	MerchantAddress   string `json:"merchantAddress"`
	MerchantContact   string `json:"merchantContact"`
	TransactionDate   string `json:"transactionDate"`
	TransactionAmount string `json:"transactionAmount"` // decimal string
	Currency          string `json:"currency"`
	ReceiptSummary    string `json:"receiptSummary"`
	Items             []Item `json:"items"`
	// RawExtractedData is the model payload before mapping, kept for audits
	RawExtractedData string `json:"rawExtractedData"`
}

// Item is a single receipt line
type Item struct {
	Name       string  `json:"name"`
	Quantity   float64 `json:"quantity"`
	UnitPrice  float64 `json:"unitPrice"`
	TotalPrice float64 `json:"totalPrice"`
}

// IsZero reports whether every field of the item is empty
func (i Item) IsZero() bool {
	return i.Name == "" && i.Quantity == 0 && i.UnitPrice == 0 && i.TotalPrice == 0
}
