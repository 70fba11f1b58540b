package image

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"

	"github.com/disintegration/imaging"

	"github.com/feichai0017/reading-assistant/internal/agent/document"
)

// PreprocessConfig tunes how scans are cleaned up before local recognition.
type PreprocessConfig struct {
	// MinWidth upscales narrower images; 0 disables resizing.
	MinWidth int
	Contrast float64
	Sharpen  float64
}

func DefaultPreprocessConfig() PreprocessConfig {
	return PreprocessConfig{MinWidth: 1200, Contrast: 20, Sharpen: 0.5}
}

// Preprocess converts a scan to high-contrast grayscale, which tesseract reads far
// better than colour photos of pages.
func Preprocess(img image.Image, cfg PreprocessConfig) image.Image {
	if cfg.MinWidth > 0 && img.Bounds().Dx() < cfg.MinWidth {
		img = imaging.Resize(img, cfg.MinWidth, 0, imaging.Lanczos)
	}
	out := imaging.Grayscale(img)
	if cfg.Contrast != 0 {
		out = imaging.AdjustContrast(out, cfg.Contrast)
	}
	if cfg.Sharpen > 0 {
		out = imaging.Sharpen(out, cfg.Sharpen)
	}
	return out
}

// PreprocessBytes decodes an image, preprocesses it and re-encodes it as PNG.
func PreprocessBytes(data []byte, cfg PreprocessConfig) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode image: %v", document.ErrMalformed, err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, Preprocess(img, cfg)); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}
