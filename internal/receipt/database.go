package receipt

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/zombor/receipt-tracker/internal/extraction"
	"github.com/zombor/receipt-tracker/internal/pipeline"
)

const (
	bucketName      = "receipts"
	claimBucketName = "claims"
)

// ErrReceiptNotFound is returned for unknown receipt IDs
var ErrReceiptNotFound = errors.New("receipt not found")

// DB defines the interface for database operations
type DB interface {
	// SaveReceipt saves a receipt to the database
	SaveReceipt(receipt *Receipt) error

	// GetReceipt retrieves a receipt by ID
	GetReceipt(id string) (*Receipt, error)

	// ListReceipts returns all receipts, newest first
	ListReceipts() ([]*Receipt, error)

	// DeleteReceipt removes a receipt and any lease on it
	DeleteReceipt(id string) error

	// GetReceiptMetadata returns nil, nil when the receipt does not exist
	GetReceiptMetadata(id string) (*pipeline.Metadata, error)

	// UpdateExtractedFields stores the fields, marks the receipt processed
	// and returns its owner
	UpdateExtractedFields(id string, fields extraction.Fields) (string, error)

	// ClaimReceipt leases a receipt to holder until ttl passes. It reports
	// false while another holder's lease is live.
	ClaimReceipt(id, holder string, ttl time.Duration) (bool, error)

	// ReleaseClaim drops holder's lease
	ReleaseClaim(id, holder string) error

	// Close closes the database connection
	Close() error
}

// claim is a processing lease, stored apart from the receipt record
type claim struct {
	Holder    string    `json:"holder"`
	ExpiresAt time.Time `json:"expires_at"`
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db  *bbolt.DB
	now func() time.Time
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	// Create buckets if they don't exist
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{bucketName, claimBucketName} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db, now: time.Now}, nil
}

// SaveReceipt saves a receipt to the database
func (b *BoltDB) SaveReceipt(receipt *Receipt) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return putReceipt(tx.Bucket([]byte(bucketName)), receipt)
	})
}

func putReceipt(bucket *bbolt.Bucket, receipt *Receipt) error {
	data, err := json.Marshal(receipt)
	if err != nil {
		return fmt.Errorf("marshaling receipt: %w", err)
	}
	return bucket.Put([]byte(receipt.ID), data)
}

func getReceipt(bucket *bbolt.Bucket, id string) (*Receipt, error) {
	data := bucket.Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("%w: %s", ErrReceiptNotFound, id)
	}
	var receipt Receipt
	if err := json.Unmarshal(data, &receipt); err != nil {
		return nil, fmt.Errorf("unmarshaling receipt: %w", err)
	}
	return &receipt, nil
}

// GetReceipt retrieves a receipt by ID
func (b *BoltDB) GetReceipt(id string) (*Receipt, error) {
	var receipt *Receipt
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		receipt, err = getReceipt(tx.Bucket([]byte(bucketName)), id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// ListReceipts returns all receipts, newest first
func (b *BoltDB) ListReceipts() ([]*Receipt, error) {
	receipts := make([]*Receipt, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var receipt Receipt
			if err := json.Unmarshal(v, &receipt); err != nil {
				return fmt.Errorf("unmarshaling receipt: %w", err)
			}
			receipts = append(receipts, &receipt)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(receipts, func(i, j int) bool {
		return receipts[i].CreatedAt.After(receipts[j].CreatedAt)
	})
	return receipts, nil
}

// DeleteReceipt removes a receipt and any lease on it
func (b *BoltDB) DeleteReceipt(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket([]byte(claimBucketName)).Delete([]byte(id)); err != nil {
			return err
		}
		return tx.Bucket([]byte(bucketName)).Delete([]byte(id))
	})
}

// GetReceiptMetadata returns the upload's display name and content type
func (b *BoltDB) GetReceiptMetadata(id string) (*pipeline.Metadata, error) {
	receipt, err := b.GetReceipt(id)
	if errors.Is(err, ErrReceiptNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pipeline.Metadata{
		FileName:    receipt.DisplayName,
		ContentType: receipt.ContentType,
	}, nil
}

// UpdateExtractedFields commits extracted fields in a single transaction
func (b *BoltDB) UpdateExtractedFields(id string, fields extraction.Fields) (string, error) {
	var ownerID string
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		receipt, err := getReceipt(bucket, id)
		if err != nil {
			return err
		}

		now := b.now()
		receipt.Fields = &fields
		receipt.Status = StatusProcessed
		receipt.UpdatedAt = now
		receipt.ProcessedAt = &now
		ownerID = receipt.OwnerID
		return putReceipt(bucket, receipt)
	})
	if err != nil {
		return "", err
	}
	return ownerID, nil
}

// ClaimReceipt leases a receipt to holder. An expired lease, or one already
// held by holder, is replaced.
func (b *BoltDB) ClaimReceipt(id, holder string, ttl time.Duration) (bool, error) {
	claimed := false
	err := b.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(bucketName)).Get([]byte(id)) == nil {
			return fmt.Errorf("%w: %s", ErrReceiptNotFound, id)
		}

		bucket := tx.Bucket([]byte(claimBucketName))
		now := b.now()
		if data := bucket.Get([]byte(id)); data != nil {
			var existing claim
			if err := json.Unmarshal(data, &existing); err != nil {
				return fmt.Errorf("unmarshaling claim: %w", err)
			}
			if existing.Holder != holder && now.Before(existing.ExpiresAt) {
				return nil
			}
		}

		data, err := json.Marshal(claim{Holder: holder, ExpiresAt: now.Add(ttl)})
		if err != nil {
			return fmt.Errorf("marshaling claim: %w", err)
		}
		if err := bucket.Put([]byte(id), data); err != nil {
			return err
		}
		claimed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return claimed, nil
}

// ReleaseClaim drops holder's lease. Leases held by others are left alone.
func (b *BoltDB) ReleaseClaim(id, holder string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(claimBucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return nil
		}
		var existing claim
		if err := json.Unmarshal(data, &existing); err != nil {
			return fmt.Errorf("unmarshaling claim: %w", err)
		}
		if existing.Holder != holder {
			return nil
		}
		return bucket.Delete([]byte(id))
	})
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
