package document

import (
	"context"
	"errors"

	"github.com/feichai0017/reading-assistant/internal/models"
)

// ErrMalformed wraps every failure caused by the document bytes themselves, as opposed
// to the environment (cancellation, OCR service errors).
var ErrMalformed = errors.New("malformed document")

// Processor turns the bytes of one document format into ordered page texts.
type Processor interface {
	CanProcess(mimeType string) bool
	Process(ctx context.Context, data []byte) ([]models.PageText, error)
	Close() error
}
