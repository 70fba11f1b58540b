//go:build !tesseract

package bootstrap

import (
	"github.com/feichai0017/reading-assistant/config"
	"github.com/feichai0017/reading-assistant/internal/agent/document"
	"github.com/feichai0017/reading-assistant/pkg/logger"
)

func localOCR(cfg config.TesseractConfig, log logger.Logger) document.Processor {
	log.Warn("tesseract is enabled but this binary was built without the tesseract tag")
	return nil
}
