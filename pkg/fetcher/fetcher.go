// Package fetcher retrieves raw document bytes by URL, either over HTTP or from one of
// the configured object storage backends.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/feichai0017/reading-assistant/pkg/logger"
	"github.com/feichai0017/reading-assistant/pkg/storage"
)

var (
	ErrTooLarge          = errors.New("payload exceeds size limit")
	ErrUnsupportedScheme = errors.New("unsupported url scheme")
	ErrNotFound          = errors.New("blob not found")
)

// StatusError is returned for non-2xx HTTP responses.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d fetching %s", e.StatusCode, e.URL)
}

// Temporary reports whether retrying the request may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout
}

type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

type BlobFetcher struct {
	client   *http.Client
	maxBytes int64
	stores   map[string]storage.Storage
	logger   logger.Logger
}

type Option func(*BlobFetcher)

func WithHTTPClient(c *http.Client) Option {
	return func(f *BlobFetcher) { f.client = c }
}

func WithMaxBytes(n int64) Option {
	return func(f *BlobFetcher) {
		if n > 0 {
			f.maxBytes = n
		}
	}
}

// WithStorage routes URLs whose scheme equals the backend type to it.
func WithStorage(s storage.Storage) Option {
	return func(f *BlobFetcher) { f.stores[string(s.Type())] = s }
}

func New(log logger.Logger, opts ...Option) *BlobFetcher {
	f := &BlobFetcher{
		// the caller's context bounds each fetch; this only guards against hung connections
		client:   &http.Client{Timeout: 5 * time.Minute},
		maxBytes: 200 << 20,
		stores:   make(map[string]storage.Storage),
		logger:   log.Named("fetcher"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch returns the full body at rawURL. Cancelling ctx aborts the transfer.
func (f *BlobFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}

	start := time.Now()
	var data []byte
	switch scheme := strings.ToLower(u.Scheme); scheme {
	case "http", "https":
		data, err = f.fetchHTTP(ctx, u.String())
	default:
		s, ok := f.stores[scheme]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
		}
		data, err = f.fetchObject(ctx, s, u.Host, strings.TrimPrefix(u.Path, "/"))
	}
	if err != nil {
		return nil, err
	}

	f.logger.Debug("fetched blob",
		logger.String("scheme", u.Scheme),
		logger.String("host", u.Host),
		logger.Int("bytes", len(data)),
		logger.Duration("elapsed", time.Since(start)),
	)
	return data, nil
}

func (f *BlobFetcher) fetchHTTP(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", "reading-assistant/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", redact(rawURL), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, &StatusError{URL: redact(rawURL), StatusCode: resp.StatusCode})
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: redact(rawURL), StatusCode: resp.StatusCode}
	}
	if resp.ContentLength > f.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.ContentLength)
	}
	return f.readAll(resp.Body)
}

func (f *BlobFetcher) fetchObject(ctx context.Context, s storage.Storage, bucket, key string) ([]byte, error) {
	if key == "" {
		return nil, fmt.Errorf("missing object key for %s://%s", s.Type(), bucket)
	}
	rc, err := s.Get(ctx, bucket, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return nil, err
	}
	defer rc.Close()
	return f.readAll(rc)
}

func (f *BlobFetcher) readAll(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, f.maxBytes)
	}
	return data, nil
}

// redact drops the query string, which often carries signed credentials.
func redact(rawURL string) string {
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}
