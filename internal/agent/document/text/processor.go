// Package text handles plain text, markdown and HTML uploads.
package text

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/feichai0017/reading-assistant/internal/agent/document"
	"github.com/feichai0017/reading-assistant/internal/models"
	"github.com/feichai0017/reading-assistant/pkg/logger"
)

var supported = map[string]bool{
	"text/plain":    true,
	"text/markdown": true,
	"text/html":     true,
}

type Processor struct {
	logger logger.Logger
}

var _ document.Processor = (*Processor)(nil)

func NewProcessor(log logger.Logger) *Processor {
	return &Processor{logger: log.Named("text")}
}

func (p *Processor) CanProcess(mimeType string) bool {
	return supported[mimeType]
}

// Process splits on form feeds, which plain-text book exports use as page breaks.
// Without any, the whole file is one page.
func (p *Processor) Process(ctx context.Context, data []byte) ([]models.PageText, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: text is not valid UTF-8", document.ErrMalformed)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	body := string(data)
	if looksLikeHTML(data) {
		var err error
		body, err = document.HTMLText(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", document.ErrMalformed, err)
		}
	}

	body = strings.ReplaceAll(body, "\r\n", "\n")
	var pages []models.PageText
	for _, part := range strings.Split(body, "\f") {
		pages = append(pages, models.PageText{Number: len(pages) + 1, Text: strings.TrimSpace(part)})
	}
	return pages, nil
}

func looksLikeHTML(data []byte) bool {
	head := bytes.ToLower(bytes.TrimSpace(data[:min(len(data), 512)]))
	return bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.HasPrefix(head, []byte("<html"))
}

func (p *Processor) Close() error {
	return nil
}
