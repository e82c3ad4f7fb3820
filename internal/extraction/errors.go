package extraction

import (
	"fmt"
	"strings"
)

// OutputParseError means no JSON could be recovered from a model response.
// Raw holds the untouched response for diagnosis.
type OutputParseError struct {
	Raw string
	Err error
}

func (e *OutputParseError) Error() string {
	return fmt.Sprintf("parsing model output: %v", e.Err)
}

func (e *OutputParseError) Unwrap() error {
	return e.Err
}

// NoUsableDataError means the output parsed but every canonical field is empty
type NoUsableDataError struct {
	Missing []string
}

func (e *NoUsableDataError) Error() string {
	return fmt.Sprintf("no usable receipt data extracted (missing: %s)", strings.Join(e.Missing, ", "))
}

// ValidationError means a coerced record does not satisfy the canonical schema
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validating receipt fields: %v", e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
