package scanning

import "context"

// Request is a single model invocation against a receipt document
type Request struct {
	Document    []byte
	ContentType string
	Prompt      string
	// JSONMode asks the model to constrain its answer to the receipt
	// response schema. Models without such a mode ignore it.
	JSONMode bool
}

// Model sends a document and an instruction to a generative model and
// returns its free-form text answer.
type Model interface {
	// Invoke runs the request and returns the raw model output
	Invoke(ctx context.Context, req Request) (string, error)
	// Name identifies the model for logs and metrics
	Name() string
	// Close releases resources held by the client
	Close() error
}
