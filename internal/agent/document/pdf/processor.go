package pdf

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"

	"github.com/feichai0017/reading-assistant/internal/agent/document"
	"github.com/feichai0017/reading-assistant/internal/models"
	"github.com/feichai0017/reading-assistant/pkg/logger"
)

const defaultWorkers = 4

type Processor struct {
	logger  logger.Logger
	workers int
}

var _ document.Processor = (*Processor)(nil)

func NewProcessor(log logger.Logger, workers int) *Processor {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Processor{
		logger:  log.Named("pdf"),
		workers: workers,
	}
}

func (p *Processor) CanProcess(mimeType string) bool {
	return mimeType == "application/pdf"
}

// Process extracts plain text page by page. Pages are read concurrently and returned
// in document order; blank pages are kept so page numbers stay aligned.
func (p *Processor) Process(ctx context.Context, data []byte) (pages []models.PageText, err error) {
	// the pdf package panics on some malformed cross-reference tables
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("%w: pdf reader panic: %v", document.ErrMalformed, r)
		}
	}()

	reader := bytes.NewReader(data)
	pdfReader, err := pdf.NewReader(reader, reader.Size())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", document.ErrMalformed, err)
	}

	numPages := pdfReader.NumPage()
	if numPages == 0 {
		return nil, fmt.Errorf("%w: pdf has no pages", document.ErrMalformed)
	}
	pages = make([]models.PageText, numPages)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for i := 1; i <= numPages; i++ {
		pageNum := i
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%w: page %d: %v", document.ErrMalformed, pageNum, r)
				}
			}()
			if err := ctx.Err(); err != nil {
				return err
			}

			pages[pageNum-1] = models.PageText{Number: pageNum}
			page := pdfReader.Page(pageNum)
			if page.V.IsNull() {
				return nil
			}

			text, err := page.GetPlainText(nil)
			if err != nil {
				return fmt.Errorf("%w: failed to get text from page %d: %v", document.ErrMalformed, pageNum, err)
			}
			pages[pageNum-1].Text = cleanText(text)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	p.logger.Debug("pdf processed", logger.Int("pages", numPages))
	return pages, nil
}

// cleanText drops trailing spaces and NUL bytes the pdf package leaves behind.
func cleanText(text string) string {
	text = strings.ReplaceAll(text, "\x00", "")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func (p *Processor) Close() error {
	return nil
}
