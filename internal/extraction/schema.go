package extraction

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// fieldsSchema describes a Fields record as it is persisted
const fieldsSchema = `{
  "type": "object",
  "required": ["fileDisplayName", "merchantName", "merchantAddress", "merchantContact",
               "transactionDate", "transactionAmount", "currency", "receiptSummary",
               "items", "rawExtractedData"],
  "properties": {
    "fileDisplayName":   {"type": "string"},
    "merchantName":      {"type": "string"},
    "merchantAddress":   {"type": "string"},
    "merchantContact":   {"type": "string"},
    "transactionDate":   {"type": "string"},
    "transactionAmount": {"type": "string"},
    "currency":          {"type": "string"},
    "receiptSummary":    {"type": "string", "minLength": 1},
    "rawExtractedData":  {"type": "string"},
    "items": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "quantity", "unitPrice", "totalPrice"],
        "properties": {
          "name":       {"type": "string"},
          "quantity":   {"type": "number"},
          "unitPrice":  {"type": "number"},
          "totalPrice": {"type": "number"}
        }
      }
    }
  }
}`

var compileFieldsSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("fields.json", strings.NewReader(fieldsSchema)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	return compiler.Compile("fields.json")
})

// ValidateFields checks a coerced record against the persisted schema before
// it is committed. Failures are reported as *ValidationError.
func ValidateFields(f Fields) error {
	schema, err := compileFieldsSchema()
	if err != nil {
		return &ValidationError{Err: fmt.Errorf("compile schema: %w", err)}
	}

	if f.Items == nil {
		f.Items = []Item{}
	}
	b, err := json.Marshal(f)
	if err != nil {
		return &ValidationError{Err: fmt.Errorf("marshal fields: %w", err)}
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return &ValidationError{Err: fmt.Errorf("unmarshal fields: %w", err)}
	}
	if err := schema.Validate(doc); err != nil {
		return &ValidationError{Err: err}
	}
	return nil
}
