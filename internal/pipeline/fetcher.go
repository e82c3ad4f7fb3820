package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// StorageScheme prefixes locators that point into local file storage
const StorageScheme = "storage:"

// DefaultMaxDocumentBytes caps documents downloaded over HTTP
const DefaultMaxDocumentBytes = 32 << 20

// FileSource reads stored uploads
type FileSource interface {
	Get(path string) ([]byte, error)
}

// Fetcher resolves an event URL to document bytes
type Fetcher struct {
	files    FileSource
	client   *http.Client
	maxBytes int64
}

// NewFetcher creates a Fetcher. files serves storage: locators and client
// serves http(s) ones; a nil client gets a default with a timeout.
func NewFetcher(files FileSource, client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Fetcher{
		files:    files,
		client:   client,
		maxBytes: DefaultMaxDocumentBytes,
	}
}

// Fetch returns the document and the content type reported by its source,
// which is empty for stored files.
func (f *Fetcher) Fetch(ctx context.Context, locator string) ([]byte, string, error) {
	switch {
	case strings.HasPrefix(locator, StorageScheme):
		data, err := f.fetchStored(strings.TrimPrefix(locator, StorageScheme))
		if err != nil {
			return nil, "", &DocumentFetchError{URL: locator, Err: err}
		}
		return data, "", nil
	case strings.HasPrefix(locator, "http://"), strings.HasPrefix(locator, "https://"):
		data, contentType, err := f.fetchHTTP(ctx, locator)
		if err != nil {
			return nil, "", &DocumentFetchError{URL: locator, Err: err}
		}
		return data, contentType, nil
	default:
		return nil, "", &DocumentFetchError{URL: locator, Err: fmt.Errorf("unsupported locator")}
	}
}

func (f *Fetcher) fetchStored(path string) ([]byte, error) {
	if f.files == nil {
		return nil, fmt.Errorf("no file storage configured")
	}
	if path == "" {
		return nil, fmt.Errorf("empty storage path")
	}
	return f.files.Get(path)
}

func (f *Fetcher) fetchHTTP(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("creating request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("downloading: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("reading body: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, "", fmt.Errorf("document larger than %d bytes", f.maxBytes)
	}
	return data, resp.Header.Get("Content-Type"), nil
}
