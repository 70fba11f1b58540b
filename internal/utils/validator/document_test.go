package validator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSourceURL(t *testing.T) {
	tests := []struct {
		raw  string
		code string
	}{
		{"https://cdn.example.com/books/1.pdf", ""},
		{"http://localhost:8080/file", ""},
		{"s3://books/2024/tides.epub", ""},
		{"minio://books/tides.pdf", ""},
		{"", "MISSING_URL"},
		{"ftp://example.com/x.pdf", "UNSUPPORTED_SCHEME"},
		{"https:///nohost", "INVALID_URL"},
		{"s3://books", "INVALID_URL"},
		{"file:///etc/passwd", "UNSUPPORTED_SCHEME"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			err := ValidateSourceURL("primaryUrl", tt.raw)
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.code, verr.Code)
			assert.Equal(t, "primaryUrl", verr.Field)
		})
	}
}

func TestValidateDocumentID(t *testing.T) {
	assert.NoError(t, ValidateDocumentID("65f1c2a9e4b0"))
	assert.Error(t, ValidateDocumentID(""))
	assert.Error(t, ValidateDocumentID("a/b"))
}

func TestDetectMIME(t *testing.T) {
	assert.Equal(t, "application/pdf", DetectMIME([]byte("%PDF-1.7\n%âãÏÓ\n"), "whatever.bin"))
	assert.Equal(t, "text/plain", DetectMIME([]byte("just some words"), "notes"))
	assert.Equal(t, "text/markdown", DetectMIME([]byte("# Title\n\nbody"), "https://x.example/readme.md?sig=1"))
	assert.Equal(t, "text/html", DetectMIME([]byte("<!DOCTYPE html><html><body>x</body></html>"), "page"))
	assert.Equal(t, "image/png", DetectMIME([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\x0dIHDR"), "scan"))
	// plain text should not be relabelled as an image because of a wrong extension
	assert.Equal(t, "text/plain", DetectMIME([]byte("hello"), "photo.jpg"))
}
