package indexing

import (
	"strings"
	"unicode"

	"github.com/feichai0017/reading-assistant/internal/models"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Piece is chunk text before it is embedded.
type Piece struct {
	Content    string
	PageNumber *int
}

// Chunker splits text into overlapping windows measured in runes. Windows never cross
// a page boundary, so every piece keeps the page it came from.
type Chunker struct {
	size    int
	overlap int
}

func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 5
	}
	return &Chunker{size: size, overlap: overlap}
}

// Split uses content.Pages when present, otherwise the flat text without page numbers.
func (c *Chunker) Split(content *models.ExtractedContent) []Piece {
	if len(content.Pages) == 0 {
		var pieces []Piece
		for _, s := range c.splitText(content.Text) {
			pieces = append(pieces, Piece{Content: s})
		}
		return pieces
	}

	var pieces []Piece
	for _, page := range content.Pages {
		number := page.Number
		for _, s := range c.splitText(page.Text) {
			pieces = append(pieces, Piece{Content: s, PageNumber: &number})
		}
	}
	return pieces
}

func (c *Chunker) splitText(text string) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}

	var out []string
	start := 0
	for start < len(runes) {
		end := min(start+c.size, len(runes))
		if end < len(runes) {
			end = breakPoint(runes, start+c.size/2, end)
		}
		if s := strings.TrimSpace(string(runes[start:end])); s != "" {
			out = append(out, s)
		}
		if end == len(runes) {
			break
		}
		next := end - c.overlap
		if next <= start {
			next = end
		}
		// start the overlap on a word boundary
		for next < end && !unicode.IsSpace(runes[next-1]) {
			next++
		}
		start = next
	}
	return out
}

// breakPoint prefers a paragraph break, then a sentence end, then any whitespace in
// runes[lo:hi], scanning backwards. It returns hi when none is found.
func breakPoint(runes []rune, lo, hi int) int {
	for i := hi - 1; i > lo; i-- {
		if runes[i] == '\n' && runes[i-1] == '\n' {
			return i + 1
		}
	}
	for i := hi - 1; i > lo; i-- {
		if unicode.IsSpace(runes[i]) && strings.ContainsRune(".!?。！？", runes[i-1]) {
			return i + 1
		}
	}
	for i := hi - 1; i > lo; i-- {
		if unicode.IsSpace(runes[i]) {
			return i + 1
		}
	}
	return hi
}
