// Package pipeline turns an uploaded receipt into committed canonical fields:
// metadata lookup, model invocation, output recovery, field mapping,
// coercion and a single commit on success.
package pipeline

import (
	"time"

	"github.com/zombor/receipt-tracker/internal/extraction"
)

// Event is emitted once an uploaded file is durably stored
type Event struct {
	URL       string `json:"url"`
	ReceiptID string `json:"receiptId"`
}

// Metadata is what the store knows about an uploaded file
type Metadata struct {
	FileName    string
	ContentType string
}

// Store is the receipt record store the pipeline reads from and commits to
type Store interface {
	// GetReceiptMetadata returns nil, nil when the receipt does not exist
	GetReceiptMetadata(receiptID string) (*Metadata, error)
	// UpdateExtractedFields commits the fields, marks the receipt processed
	// and returns its owner
	UpdateExtractedFields(receiptID string, fields extraction.Fields) (string, error)
}

// Claimer is implemented by stores that can lease a receipt to one run at a
// time. Leases live outside the receipt record.
type Claimer interface {
	ClaimReceipt(receiptID, holder string, ttl time.Duration) (bool, error)
	ReleaseClaim(receiptID, holder string) error
}

// State is a step of a single run
type State string

const (
	StateFetchingMetadata State = "fetching_metadata"
	StateInvokingModel    State = "invoking_model"
	StateExtractingOutput State = "extracting_output"
	StateMappingFields    State = "mapping_fields"
	StateCoercing         State = "coercing"
	StatePersisting       State = "persisting"
	StateDone             State = "done"
	StateFailed           State = "failed"
)

// Result describes how a run ended. A successful result carries the owner of
// the committed receipt, a failed one the error. Never both.
type Result struct {
	Success   bool   `json:"success"`
	ReceiptID string `json:"receiptId"`
	OwnerID   string `json:"ownerId,omitempty"`
	State     State  `json:"state"`
	// FailedAt is the step that was running when the run failed
	FailedAt State  `json:"failedAt,omitempty"`
	Error    string `json:"error,omitempty"`
	Kind     string `json:"kind,omitempty"`

	Err error `json:"-"`
}
