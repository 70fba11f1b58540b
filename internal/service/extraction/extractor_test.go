package extraction

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/reading-assistant/internal/agent"
	"github.com/feichai0017/reading-assistant/internal/agent/document"
	"github.com/feichai0017/reading-assistant/internal/agent/document/text"
	"github.com/feichai0017/reading-assistant/internal/models"
	"github.com/feichai0017/reading-assistant/pkg/fetcher"
	"github.com/feichai0017/reading-assistant/pkg/logger"
)

type fakeFetcher struct {
	blobs  map[string][]byte
	errs   map[string]error
	delay  time.Duration
	called []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.called = append(f.called, url)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	if b, ok := f.blobs[url]; ok {
		return b, nil
	}
	return nil, fetcher.ErrNotFound
}

type brokenProcessor struct{ err error }

func (p brokenProcessor) CanProcess(string) bool { return true }
func (p brokenProcessor) Process(context.Context, []byte) ([]models.PageText, error) {
	return nil, p.err
}
func (p brokenProcessor) Close() error { return nil }

func newExtractor(f fetcher.Fetcher, cfg Config, procs ...document.Processor) *Extractor {
	log := logger.NewTestLogger()
	if len(procs) == 0 {
		procs = []document.Processor{text.NewProcessor(log)}
	}
	return NewExtractor(f, agent.NewProcessorFactory(log, procs...), log, cfg)
}

func TestExtractPrefersDirectURL(t *testing.T) {
	f := &fakeFetcher{blobs: map[string][]byte{
		"https://direct/book.txt": []byte("direct words here"),
		"https://proxy/book.txt":  []byte("proxy words"),
	}}
	e := newExtractor(f, Config{})

	got, err := e.Extract(context.Background(), "https://proxy/book.txt", "https://direct/book.txt")
	require.NoError(t, err)
	assert.Equal(t, "direct words here", got.Text)
	assert.Equal(t, 3, got.WordCount)
	assert.Equal(t, 1, got.PageCount)
	assert.Equal(t, int64(17), got.SizeBytes)
	assert.Equal(t, []string{"https://direct/book.txt"}, f.called)
}

func TestExtractOversizeDirectDoesNotFallBack(t *testing.T) {
	f := &fakeFetcher{
		blobs: map[string][]byte{"https://proxy/book.txt": []byte("proxy words")},
		errs:  map[string]error{"https://direct/book.txt": fmt.Errorf("%w: more than 10 bytes", fetcher.ErrTooLarge)},
	}
	e := newExtractor(f, Config{})

	_, err := e.Extract(context.Background(), "https://proxy/book.txt", "https://direct/book.txt")
	assert.Equal(t, KindTooLarge, KindOf(err))
	assert.False(t, IsRetryable(err))
	assert.Equal(t, []string{"https://direct/book.txt"}, f.called)
}

func TestExtractFallsBackToPrimary(t *testing.T) {
	f := &fakeFetcher{
		blobs: map[string][]byte{"https://proxy/book.txt": []byte("proxy words")},
		errs:  map[string]error{"https://direct/book.txt": &fetcher.StatusError{URL: "https://direct/book.txt", StatusCode: 403}},
	}
	e := newExtractor(f, Config{})

	got, err := e.Extract(context.Background(), "https://proxy/book.txt", "https://direct/book.txt")
	require.NoError(t, err)
	assert.Equal(t, "proxy words", got.Text)
	assert.Len(t, f.called, 2)
}

func TestExtractSameContentSameHash(t *testing.T) {
	f := &fakeFetcher{blobs: map[string][]byte{"https://proxy/a.txt": []byte("stable text")}}
	e := newExtractor(f, Config{})

	a, err := e.Extract(context.Background(), "https://proxy/a.txt", "")
	require.NoError(t, err)
	b, err := e.Extract(context.Background(), "https://proxy/a.txt", "")
	require.NoError(t, err)
	assert.Equal(t, a.ContentHash, b.ContentHash)
}

func TestExtractTimeout(t *testing.T) {
	f := &fakeFetcher{delay: time.Second, blobs: map[string][]byte{"https://proxy/a.txt": []byte("x")}}
	e := newExtractor(f, Config{Timeout: 20 * time.Millisecond})

	_, err := e.Extract(context.Background(), "https://proxy/a.txt", "")
	require.Error(t, err)
	assert.Equal(t, KindTimeout, KindOf(err))
	assert.True(t, IsRetryable(err))
}

func TestExtractErrorKinds(t *testing.T) {
	tests := []struct {
		name      string
		fetchErr  error
		procErr   error
		body      string
		cfg       Config
		kind      Kind
		retryable bool
	}{
		{name: "not found", fetchErr: fmt.Errorf("%w: gone", fetcher.ErrNotFound), kind: KindFetch},
		{name: "server error", fetchErr: &fetcher.StatusError{StatusCode: 502}, kind: KindFetch, retryable: true},
		{name: "network", fetchErr: errors.New("connection reset"), kind: KindFetch, retryable: true},
		{name: "too large", fetchErr: fetcher.ErrTooLarge, kind: KindTooLarge},
		{name: "malformed", procErr: fmt.Errorf("%w: bad xref", document.ErrMalformed), body: "x", kind: KindParse},
		{name: "malformed retried", procErr: document.ErrMalformed, body: "x", cfg: Config{RetryParseErrors: true}, kind: KindParse, retryable: true},
		{name: "ocr outage", procErr: errors.New("textract: throttled"), body: "x", kind: KindProcess, retryable: true},
		{name: "empty", body: " \n ", kind: KindEmpty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeFetcher{blobs: map[string][]byte{"https://p/doc": []byte(tt.body)}, errs: map[string]error{}}
			if tt.fetchErr != nil {
				f.errs["https://p/doc"] = tt.fetchErr
			}
			var e *Extractor
			if tt.procErr != nil {
				e = newExtractor(f, tt.cfg, brokenProcessor{err: tt.procErr})
			} else {
				e = newExtractor(f, tt.cfg)
			}

			_, err := e.Extract(context.Background(), "https://p/doc", "")
			require.Error(t, err)
			assert.Equal(t, tt.kind, KindOf(err))
			assert.Equal(t, tt.retryable, IsRetryable(err))
		})
	}
}

func TestExtractUnsupportedType(t *testing.T) {
	f := &fakeFetcher{blobs: map[string][]byte{"https://p/doc.pdf": []byte("%PDF-1.4\n")}}
	e := newExtractor(f, Config{})

	_, err := e.Extract(context.Background(), "https://p/doc.pdf", "")
	assert.Equal(t, KindUnsupported, KindOf(err))
	assert.False(t, IsRetryable(err))
	assert.ErrorIs(t, err, agent.ErrUnsupportedType)
}
