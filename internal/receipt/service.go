package receipt

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/receipt-tracker/internal/pipeline"
)

// IDGenerator generates unique IDs for receipts
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// Enqueuer schedules extraction for an upload event
type Enqueuer interface {
	Enqueue(ctx context.Context, ev pipeline.Event) error
}

// Runner runs extraction synchronously
type Runner interface {
	Run(ctx context.Context, ev pipeline.Event) pipeline.Result
}

// defaultIDGenerator generates random UUIDs
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service handles receipt operations
type Service struct {
	db          DB
	storage     Storage
	queue       Enqueuer
	runner      Runner
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, storage Storage, queue Enqueuer, runner Runner) *Service {
	return NewServiceWithDeps(db, storage, queue, runner, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, storage Storage, queue Enqueuer, runner Runner, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		storage:     storage,
		queue:       queue,
		runner:      runner,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

var (
	unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	repeatedSpaces      = regexp.MustCompile(`\s+`)
)

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if unsafeFilenameChars.MatchString(strings.TrimPrefix(ext, ".")) {
		ext = ""
	}
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	base = unsafeFilenameChars.ReplaceAllString(base, "")
	base = repeatedSpaces.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	// Phones produce very long names
	maxLen := 50
	if len(base) > maxLen {
		base = base[:maxLen]
	}
	if base == "" {
		base = "receipt"
	}

	return base + ext
}

// Upload stores a receipt file, records it as pending and schedules
// extraction. A receipt whose extraction could not be scheduled stays pending
// and can be extracted later with Reprocess.
func (s *Service) Upload(ctx context.Context, ownerID, filename string, data []byte, contentType string) (*Receipt, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty file")
	}

	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	savedPath, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(filename)), data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	displayName := strings.TrimSpace(filepath.Base(filename))
	if displayName == "" || displayName == "." {
		displayName = sanitizeFilename(filename)
	}

	receipt := &Receipt{
		ID:          id,
		OwnerID:     ownerID,
		Filename:    savedPath,
		DisplayName: displayName,
		ContentType: contentType,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.db.SaveReceipt(receipt); err != nil {
		// Clean up file if database save fails
		if delErr := s.storage.Delete(savedPath); delErr != nil {
			slog.Warn("receipt.upload.cleanup_failed", "filename", savedPath, "error", delErr)
		}
		return nil, fmt.Errorf("saving receipt to database: %w", err)
	}

	ev := pipeline.Event{URL: s.storage.Locator(savedPath), ReceiptID: id}
	if err := s.queue.Enqueue(ctx, ev); err != nil {
		slog.Warn("receipt.upload.enqueue_failed",
			"receipt_id", id,
			"filename", filename,
			"error", err,
		)
	}

	return receipt, nil
}

// Reprocess runs extraction for an existing receipt and waits for the result
func (s *Service) Reprocess(ctx context.Context, id string) (pipeline.Result, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("getting receipt: %w", err)
	}
	return s.runner.Run(ctx, pipeline.Event{
		URL:       s.storage.Locator(receipt.Filename),
		ReceiptID: receipt.ID,
	}), nil
}

// GetReceipt retrieves a receipt by ID
func (s *Service) GetReceipt(id string) (*Receipt, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	return receipt, nil
}

// ListReceipts returns all receipts
func (s *Service) ListReceipts() ([]*Receipt, error) {
	receipts, err := s.db.ListReceipts()
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	return receipts, nil
}

// DeleteReceipt removes a receipt and its file
func (s *Service) DeleteReceipt(id string) error {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return fmt.Errorf("getting receipt for deletion: %w", err)
	}

	// Delete file
	if err := s.storage.Delete(receipt.Filename); err != nil {
		// Log error but continue with database deletion
		slog.Warn("receipt.delete.file_failed", "filename", receipt.Filename, "error", err)
	}

	if err := s.db.DeleteReceipt(id); err != nil {
		return fmt.Errorf("deleting receipt from database: %w", err)
	}
	return nil
}

// GetReceiptFile retrieves the file data for a receipt
func (s *Service) GetReceiptFile(id string) ([]byte, string, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt: %w", err)
	}

	data, err := s.storage.Get(receipt.Filename)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt file: %w", err)
	}

	return data, receipt.ContentType, nil
}
