package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/receipt-tracker/internal/extraction"
	"github.com/zombor/receipt-tracker/internal/scanning"
)

// Attempt is one way of asking the model for the receipt record. Attempts run
// in order and the next one is only tried when the previous answer could not
// be parsed as JSON.
type Attempt struct {
	Name     string
	Prompt   string
	JSONMode bool
}

// DefaultAttempts asks in schema mode first and falls back to a strict
// JSON-only re-prompt.
func DefaultAttempts() []Attempt {
	return []Attempt{
		{Name: "primary", Prompt: scanning.ExtractionPrompt, JSONMode: true},
		{Name: "strict", Prompt: scanning.StrictJSONPrompt},
	}
}

// DocumentFetcher resolves an event URL to document bytes and an optional
// content type.
type DocumentFetcher interface {
	Fetch(ctx context.Context, locator string) ([]byte, string, error)
}

// IDGenerator generates run IDs, which are also used as lease holders
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (uuidGenerator) Generate() string { return uuid.NewString() }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Orchestrator runs the extraction pipeline for one receipt at a time.
// It holds no per-run state and is safe for concurrent use.
type Orchestrator struct {
	store    Store
	model    scanning.Model
	fetcher  DocumentFetcher
	logger   *slog.Logger
	metrics  *Metrics
	attempts []Attempt
	claimTTL time.Duration
	ids      IDGenerator
	clock    TimeSource
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithAttempts replaces the default attempt chain
func WithAttempts(attempts ...Attempt) Option {
	return func(o *Orchestrator) {
		if len(attempts) > 0 {
			o.attempts = attempts
		}
	}
}

// WithClaimTTL sets the lease duration used when the store is a Claimer.
// Zero disables claiming.
func WithClaimTTL(ttl time.Duration) Option {
	return func(o *Orchestrator) {
		if ttl >= 0 {
			o.claimTTL = ttl
		}
	}
}

// WithMetrics records run outcomes
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithDeps overrides the run ID generator and clock for tests
func WithDeps(ids IDGenerator, clock TimeSource) Option {
	return func(o *Orchestrator) {
		if ids != nil {
			o.ids = ids
		}
		if clock != nil {
			o.clock = clock
		}
	}
}

// NewOrchestrator creates an Orchestrator
func NewOrchestrator(store Store, model scanning.Model, fetcher DocumentFetcher, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		store:    store,
		model:    model,
		fetcher:  fetcher,
		logger:   logger,
		attempts: DefaultAttempts(),
		claimTTL: 10 * time.Minute,
		ids:      uuidGenerator{},
		clock:    systemClock{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// run tracks the step a single invocation is in
type run struct {
	id     string
	event  Event
	state  State
	logger *slog.Logger
}

func (r *run) enter(state State) {
	r.state = state
	r.logger.Debug("pipeline.run.state", "state", state)
}

// Run processes one upload event. It never returns an error: every failure
// is reported in the Result, and nothing is committed unless the run
// succeeds.
func (o *Orchestrator) Run(ctx context.Context, ev Event) Result {
	start := o.clock.Now()
	runID := o.ids.Generate()
	r := &run{
		id:     runID,
		event:  ev,
		logger: o.logger.With("run_id", runID, "receipt_id", ev.ReceiptID),
	}
	r.logger.Info("pipeline.run.start", "url", ev.URL, "model", o.model.Name())

	ownerID, err := o.execute(ctx, r)
	elapsed := o.clock.Now().Sub(start)

	res := Result{ReceiptID: ev.ReceiptID}
	if err != nil {
		res.State = StateFailed
		res.FailedAt = r.state
		res.Error = err.Error()
		res.Kind = ErrorKind(err)
		res.Err = err
		r.logger.Error("pipeline.run.failed",
			"failed_at", r.state,
			"kind", res.Kind,
			"elapsed_ms", elapsed.Milliseconds(),
			"error", err,
		)
	} else {
		res.Success = true
		res.State = StateDone
		res.OwnerID = ownerID
		r.logger.Info("pipeline.run.done", "owner_id", ownerID, "elapsed_ms", elapsed.Milliseconds())
	}

	o.metrics.observeRun(res, elapsed)
	return res
}

func (o *Orchestrator) execute(ctx context.Context, r *run) (string, error) {
	r.enter(StateFetchingMetadata)
	if r.event.ReceiptID == "" {
		return "", &ReceiptNotFoundError{}
	}
	meta, err := o.store.GetReceiptMetadata(r.event.ReceiptID)
	if err != nil {
		return "", fmt.Errorf("looking up receipt metadata: %w", err)
	}
	if meta == nil {
		return "", &ReceiptNotFoundError{ReceiptID: r.event.ReceiptID}
	}

	release, err := o.claim(r)
	if err != nil {
		return "", err
	}
	defer release()

	r.enter(StateInvokingModel)
	data, contentType, err := o.fetcher.Fetch(ctx, r.event.URL)
	if err != nil {
		return "", &ModelInvocationError{Model: o.model.Name(), Err: err}
	}
	if contentType == "" {
		contentType = meta.ContentType
	}

	payload, err := o.invoke(ctx, r, data, contentType)
	if err != nil {
		return "", err
	}

	r.enter(StateMappingFields)
	raw := extraction.MapFields(payload.Value)
	raw.FileDisplayName = extraction.StringValue(meta.FileName)

	r.enter(StateCoercing)
	fields, err := extraction.Coerce(raw, r.logger)
	if err != nil {
		return "", err
	}
	if err := extraction.ValidateFields(fields); err != nil {
		return "", err
	}

	r.enter(StatePersisting)
	ownerID, err := o.store.UpdateExtractedFields(r.event.ReceiptID, fields)
	if err != nil {
		return "", &CommitError{ReceiptID: r.event.ReceiptID, Err: err}
	}
	return ownerID, nil
}

// invoke walks the attempt chain until one answer parses. Model failures and
// the last attempt's parse failure end the run.
func (o *Orchestrator) invoke(ctx context.Context, r *run, data []byte, contentType string) (extraction.Payload, error) {
	for i, attempt := range o.attempts {
		r.enter(StateInvokingModel)
		output, err := o.model.Invoke(ctx, scanning.Request{
			Document:    data,
			ContentType: contentType,
			Prompt:      attempt.Prompt,
			JSONMode:    attempt.JSONMode,
		})
		if err != nil {
			o.metrics.observeAttempt(attempt.Name, "error")
			return extraction.Payload{}, &ModelInvocationError{Model: o.model.Name(), Err: err}
		}

		r.enter(StateExtractingOutput)
		payload, err := extraction.ParseOutput(output)
		if err == nil {
			o.metrics.observeAttempt(attempt.Name, "parsed")
			r.logger.Debug("pipeline.output.parsed", "attempt", attempt.Name, "strategy", payload.Strategy)
			return payload, nil
		}

		o.metrics.observeAttempt(attempt.Name, "unparseable")
		var parseErr *extraction.OutputParseError
		if !errors.As(err, &parseErr) || i == len(o.attempts)-1 {
			return extraction.Payload{}, err
		}
		r.logger.Warn("pipeline.output.unparseable",
			"attempt", attempt.Name,
			"next", o.attempts[i+1].Name,
			"raw_bytes", len(parseErr.Raw),
			"error", err,
		)
	}
	return extraction.Payload{}, errors.New("no extraction attempts configured")
}

// claim leases the receipt when the store supports it. The returned func
// releases the lease.
func (o *Orchestrator) claim(r *run) (func(), error) {
	claimer, ok := o.store.(Claimer)
	if !ok || o.claimTTL == 0 {
		return func() {}, nil
	}

	claimed, err := claimer.ClaimReceipt(r.event.ReceiptID, r.id, o.claimTTL)
	if err != nil {
		return nil, fmt.Errorf("claiming receipt: %w", err)
	}
	if !claimed {
		return nil, ErrAlreadyClaimed
	}

	return func() {
		if err := claimer.ReleaseClaim(r.event.ReceiptID, r.id); err != nil {
			r.logger.Warn("pipeline.claim.release_failed", "error", err)
		}
	}, nil
}
