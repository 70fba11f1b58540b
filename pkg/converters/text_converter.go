// Package converters turns processor output into the content record stored on a document.
package converters

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"unicode"

	"github.com/feichai0017/reading-assistant/internal/models"
)

var ErrNoText = errors.New("document contains no extractable text")

// ContentConverter defines the conversion from per-page text to extracted content.
type ContentConverter interface {
	Convert(pages []models.PageText, sizeBytes int64, mimeType string) (*models.ExtractedContent, error)
}

// TextConverter joins pages with a blank line. The hash is taken over the normalised
// text, so the same bytes always hash the same regardless of the processor's spacing.
type TextConverter struct{}

func NewTextConverter() *TextConverter {
	return &TextConverter{}
}

func (c *TextConverter) Convert(pages []models.PageText, sizeBytes int64, mimeType string) (*models.ExtractedContent, error) {
	parts := make([]string, 0, len(pages))
	kept := make([]models.PageText, 0, len(pages))
	for _, p := range pages {
		text := NormalizeWhitespace(p.Text)
		kept = append(kept, models.PageText{Number: p.Number, Text: text})
		if text != "" {
			parts = append(parts, text)
		}
	}
	if len(parts) == 0 {
		return nil, ErrNoText
	}

	text := strings.Join(parts, "\n\n")
	return &models.ExtractedContent{
		Text:        text,
		PageCount:   len(pages),
		WordCount:   len(strings.Fields(text)),
		ContentHash: Hash(text),
		SizeBytes:   sizeBytes,
		MimeType:    mimeType,
		Pages:       kept,
	}, nil
}

// Hash returns the hex sha256 of text.
func Hash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// NormalizeWhitespace collapses runs of spaces and tabs, trims every line and keeps at
// most one blank line between paragraphs.
func NormalizeWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.FieldsFunc(line, func(r rune) bool {
			return r != '\n' && unicode.IsSpace(r)
		}), " ")
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
