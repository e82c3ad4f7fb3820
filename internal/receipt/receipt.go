package receipt

import (
	"time"

	"github.com/zombor/receipt-tracker/internal/extraction"
)

// Status is where a receipt is in the extraction lifecycle
type Status string

const (
	// StatusPending receipts are stored but have no extracted fields yet
	StatusPending Status = "pending"
	// StatusProcessed receipts carry committed extracted fields
	StatusProcessed Status = "processed"
)

// Receipt represents an uploaded receipt and its extracted fields
type Receipt struct {
	ID          string             `json:"id"`
	OwnerID     string             `json:"owner_id"`
	Filename    string             `json:"filename"`     // path relative to storage
	DisplayName string             `json:"display_name"` // name the file was uploaded with
	ContentType string             `json:"content_type"`
	Status      Status             `json:"status"`
	Fields      *extraction.Fields `json:"fields,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
	ProcessedAt *time.Time         `json:"processed_at,omitempty"`
}
