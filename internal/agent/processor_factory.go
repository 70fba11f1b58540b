// Package agent picks the document processor that understands a MIME type.
package agent

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/feichai0017/reading-assistant/internal/agent/document"
	"github.com/feichai0017/reading-assistant/pkg/logger"
)

var ErrUnsupportedType = errors.New("unsupported document type")

// extension hints for when content sniffing is inconclusive
var extToMIME = map[string]string{
	".pdf":   "application/pdf",
	".epub":  "application/epub+zip",
	".txt":   "text/plain",
	".text":  "text/plain",
	".md":    "text/markdown",
	".htm":   "text/html",
	".html":  "text/html",
	".xhtml": "text/html",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".png":   "image/png",
	".tif":   "image/tiff",
	".tiff":  "image/tiff",
}

// MIMEForExtension maps the extension of a URL path or file name to a MIME type.
func MIMEForExtension(name string) (string, bool) {
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	mimeType, ok := extToMIME[strings.ToLower(path.Ext(name))]
	return mimeType, ok
}

type ProcessorFactory struct {
	processors []document.Processor
	logger     logger.Logger
}

func NewProcessorFactory(log logger.Logger, processors ...document.Processor) *ProcessorFactory {
	f := &ProcessorFactory{logger: log.Named("processors")}
	for _, p := range processors {
		f.Register(p)
	}
	return f
}

// Register adds p. Earlier registrations win when two processors claim a type.
func (f *ProcessorFactory) Register(p document.Processor) {
	if p == nil {
		return
	}
	f.processors = append(f.processors, p)
}

func (f *ProcessorFactory) GetProcessor(mimeType string) (document.Processor, error) {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	for _, p := range f.processors {
		if p.CanProcess(mimeType) {
			return p, nil
		}
	}
	f.logger.Warn("no processor for mime type", logger.String("mimeType", mimeType))
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, mimeType)
}

// Close releases every registered processor and returns the first error.
func (f *ProcessorFactory) Close() error {
	var first error
	for _, p := range f.processors {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
