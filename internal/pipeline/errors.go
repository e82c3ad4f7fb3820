package pipeline

import (
	"errors"
	"fmt"

	"github.com/zombor/receipt-tracker/internal/extraction"
)

// ErrAlreadyClaimed is returned when another run holds the receipt's lease
var ErrAlreadyClaimed = errors.New("receipt is already being processed")

// ReceiptNotFoundError means the event references a receipt with no record
type ReceiptNotFoundError struct {
	ReceiptID string
}

func (e *ReceiptNotFoundError) Error() string {
	return fmt.Sprintf("receipt not found: %q", e.ReceiptID)
}

// ModelInvocationError means the document could not be sent to the model or
// the model call itself failed.
type ModelInvocationError struct {
	Model string
	Err   error
}

func (e *ModelInvocationError) Error() string {
	return fmt.Sprintf("invoking model %s: %v", e.Model, e.Err)
}

func (e *ModelInvocationError) Unwrap() error {
	return e.Err
}

// DocumentFetchError means the uploaded file could not be read from its locator
type DocumentFetchError struct {
	URL string
	Err error
}

func (e *DocumentFetchError) Error() string {
	return fmt.Sprintf("fetching document %s: %v", e.URL, e.Err)
}

func (e *DocumentFetchError) Unwrap() error {
	return e.Err
}

// CommitError means the store rejected the extracted fields
type CommitError struct {
	ReceiptID string
	Err       error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("committing extracted fields for %s: %v", e.ReceiptID, e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

// Failure kinds reported in Result.Kind
const (
	KindReceiptNotFound = "receipt_not_found"
	KindAlreadyClaimed  = "already_claimed"
	KindModelInvocation = "model_invocation"
	KindOutputParse     = "output_parse"
	KindNoUsableData    = "no_usable_data"
	KindValidation      = "validation"
	KindCommit          = "commit"
	KindInternal        = "internal"
)

// ErrorKind classifies a run failure
func ErrorKind(err error) string {
	var (
		notFound   *ReceiptNotFoundError
		invocation *ModelInvocationError
		parse      *extraction.OutputParseError
		noData     *extraction.NoUsableDataError
		validation *extraction.ValidationError
		commit     *CommitError
	)

	switch {
	case err == nil:
		return ""
	case errors.As(err, &notFound):
		return KindReceiptNotFound
	case errors.Is(err, ErrAlreadyClaimed):
		return KindAlreadyClaimed
	case errors.As(err, &invocation):
		return KindModelInvocation
	case errors.As(err, &parse):
		return KindOutputParse
	case errors.As(err, &noData):
		return KindNoUsableData
	case errors.As(err, &validation):
		return KindValidation
	case errors.As(err, &commit):
		return KindCommit
	default:
		return KindInternal
	}
}
