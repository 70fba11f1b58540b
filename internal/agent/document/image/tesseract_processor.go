//go:build tesseract

package image

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/feichai0017/reading-assistant/internal/agent/document"
	"github.com/feichai0017/reading-assistant/internal/models"
	"github.com/feichai0017/reading-assistant/pkg/logger"
)

type TesseractConfig struct {
	Languages  []string
	Preprocess PreprocessConfig
}

// TesseractProcessor OCRs single-page scans with a local tesseract install.
type TesseractProcessor struct {
	config TesseractConfig
	logger logger.Logger
}

var _ document.Processor = (*TesseractProcessor)(nil)

func NewTesseractProcessor(cfg TesseractConfig, log logger.Logger) *TesseractProcessor {
	if len(cfg.Languages) == 0 {
		cfg.Languages = []string{"eng"}
	}
	return &TesseractProcessor{config: cfg, logger: log.Named("tesseract")}
}

func (p *TesseractProcessor) CanProcess(mimeType string) bool {
	return supportedTypes[mimeType]
}

func (p *TesseractProcessor) Process(ctx context.Context, data []byte) ([]models.PageText, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cleaned, err := PreprocessBytes(data, p.config.Preprocess)
	if err != nil {
		return nil, err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(p.config.Languages...); err != nil {
		return nil, fmt.Errorf("failed to set OCR language: %w", err)
	}
	if err := client.SetPageSegMode(gosseract.PSM_AUTO); err != nil {
		return nil, fmt.Errorf("failed to set page segmentation mode: %w", err)
	}
	if err := client.SetImageFromBytes(cleaned); err != nil {
		return nil, fmt.Errorf("%w: failed to load image: %v", document.ErrMalformed, err)
	}

	text, err := client.Text()
	if err != nil {
		return nil, fmt.Errorf("failed to recognise text: %w", err)
	}
	text = strings.TrimSpace(text)
	p.logger.Debug("page recognised",
		logger.Int("chars", len(text)),
		logger.String("languages", strings.Join(p.config.Languages, "+")),
	)
	return []models.PageText{{Number: 1, Text: text}}, nil
}

func (p *TesseractProcessor) Close() error {
	return nil
}
