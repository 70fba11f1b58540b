//go:build tesseract

package bootstrap

import (
	"github.com/feichai0017/reading-assistant/config"
	"github.com/feichai0017/reading-assistant/internal/agent/document"
	"github.com/feichai0017/reading-assistant/internal/agent/document/image"
	"github.com/feichai0017/reading-assistant/pkg/logger"
)

func localOCR(cfg config.TesseractConfig, log logger.Logger) document.Processor {
	pre := image.DefaultPreprocessConfig()
	pre.MinWidth = cfg.MinWidth
	return image.NewTesseractProcessor(image.TesseractConfig{
		Languages:  cfg.Languages,
		Preprocess: pre,
	}, log)
}
