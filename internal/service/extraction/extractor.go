// Package extraction turns a document's source URLs into extracted text.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/feichai0017/reading-assistant/internal/agent/document"
	"github.com/feichai0017/reading-assistant/internal/models"
	"github.com/feichai0017/reading-assistant/internal/utils/validator"
	"github.com/feichai0017/reading-assistant/pkg/converters"
	"github.com/feichai0017/reading-assistant/pkg/fetcher"
	"github.com/feichai0017/reading-assistant/pkg/logger"
)

const DefaultTimeout = 60 * time.Second

// ProcessorRegistry resolves a processor for a MIME type.
type ProcessorRegistry interface {
	GetProcessor(mimeType string) (document.Processor, error)
}

type Config struct {
	// Timeout bounds the whole fetch and parse.
	Timeout time.Duration
	// RetryParseErrors marks malformed documents as retryable.
	RetryParseErrors bool
}

type Extractor struct {
	fetcher    fetcher.Fetcher
	processors ProcessorRegistry
	converter  converters.ContentConverter
	logger     logger.Logger
	config     Config
}

func NewExtractor(f fetcher.Fetcher, processors ProcessorRegistry, log logger.Logger, cfg Config) *Extractor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Extractor{
		fetcher:    f,
		processors: processors,
		converter:  converters.NewTextConverter(),
		logger:     log.Named("extractor"),
		config:     cfg,
	}
}

// Extract downloads the document, preferring directURL, and parses it. It has no
// side effects; persisting the result is up to the caller.
func (e *Extractor) Extract(ctx context.Context, primaryURL, directURL string) (*models.ExtractedContent, error) {
	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	start := time.Now()
	data, source, err := e.fetch(ctx, primaryURL, directURL)
	if err != nil {
		return nil, err
	}

	mimeType := validator.DetectMIME(data, source)
	processor, err := e.processors.GetProcessor(mimeType)
	if err != nil {
		return nil, newError(KindUnsupported, mimeType, err, false)
	}

	pages, err := processor.Process(ctx, data)
	if err != nil {
		if timedOut(ctx, err) {
			return nil, newError(KindTimeout, mimeType, err, true)
		}
		if errors.Is(err, document.ErrMalformed) {
			return nil, newError(KindParse, mimeType, err, e.config.RetryParseErrors)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, newError(KindProcess, mimeType, err, true)
	}

	content, err := e.converter.Convert(pages, int64(len(data)), mimeType)
	if err != nil {
		if errors.Is(err, converters.ErrNoText) {
			return nil, newError(KindEmpty, mimeType, err, false)
		}
		return nil, fmt.Errorf("failed to convert document: %w", err)
	}

	e.logger.Info("document extracted",
		logger.String("mimeType", mimeType),
		logger.Int("pages", content.PageCount),
		logger.Int("words", content.WordCount),
		logger.Int64("bytes", content.SizeBytes),
		logger.Duration("took", time.Since(start)),
	)
	return content, nil
}

// fetch tries directURL first and falls back to the primary URL on any direct failure
// except a timeout, an oversize body or cancellation. The same object behind another
// route would not fit in the remaining budget or the size cap either.
func (e *Extractor) fetch(ctx context.Context, primaryURL, directURL string) ([]byte, string, error) {
	sources := make([]string, 0, 2)
	if directURL != "" {
		sources = append(sources, directURL)
	}
	if primaryURL != "" && primaryURL != directURL {
		sources = append(sources, primaryURL)
	}
	if len(sources) == 0 {
		return nil, "", newError(KindFetch, "", errors.New("no source url"), false)
	}

	var lastErr error
	for i, src := range sources {
		data, err := e.fetcher.Fetch(ctx, src)
		if err == nil {
			return data, src, nil
		}
		lastErr = classifyFetch(ctx, err)
		if kind := KindOf(lastErr); kind == KindTimeout || kind == KindTooLarge || ctx.Err() != nil {
			return nil, "", lastErr
		}
		if i < len(sources)-1 {
			e.logger.Warn("direct fetch failed, falling back to primary url", logger.Error(err))
		}
	}
	return nil, "", lastErr
}

func classifyFetch(ctx context.Context, err error) error {
	var statusErr *fetcher.StatusError
	switch {
	case timedOut(ctx, err):
		return newError(KindTimeout, "", err, true)
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, fetcher.ErrTooLarge):
		return newError(KindTooLarge, "", err, false)
	case errors.Is(err, fetcher.ErrNotFound), errors.Is(err, fetcher.ErrUnsupportedScheme):
		return newError(KindFetch, "", err, false)
	case errors.As(err, &statusErr):
		return newError(KindFetch, "", err, statusErr.Temporary())
	default:
		return newError(KindFetch, "", err, true)
	}
}

func timedOut(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
}
