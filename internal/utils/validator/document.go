// Package validator checks ingestion requests and identifies downloaded content.
package validator

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/feichai0017/reading-assistant/internal/agent"
)

// ValidationError describes one rejected request field.
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var allowedSchemes = map[string]bool{
	"http":  true,
	"https": true,
	"s3":    true,
	"minio": true,
}

// ValidateSourceURL accepts http(s) URLs and bucket-style storage URLs (s3://bucket/key).
func ValidateSourceURL(field, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return &ValidationError{Code: "MISSING_URL", Message: "url is required", Field: field}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return &ValidationError{Code: "INVALID_URL", Message: err.Error(), Field: field}
	}
	scheme := strings.ToLower(u.Scheme)
	if !allowedSchemes[scheme] {
		return &ValidationError{
			Code:    "UNSUPPORTED_SCHEME",
			Message: fmt.Sprintf("scheme %q is not supported", u.Scheme),
			Field:   field,
		}
	}
	if u.Host == "" {
		return &ValidationError{Code: "INVALID_URL", Message: "url has no host", Field: field}
	}
	if (scheme == "s3" || scheme == "minio") && strings.Trim(u.Path, "/") == "" {
		return &ValidationError{Code: "INVALID_URL", Message: "storage url has no object key", Field: field}
	}
	return nil
}

// ValidateDocumentID rejects ids that cannot be used as keys downstream.
func ValidateDocumentID(id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return &ValidationError{Code: "MISSING_ID", Message: "document id is required", Field: "documentId"}
	case len(id) > 128:
		return &ValidationError{Code: "INVALID_ID", Message: "document id is too long", Field: "documentId"}
	case strings.ContainsAny(id, " /\\:"):
		return &ValidationError{Code: "INVALID_ID", Message: "document id contains reserved characters", Field: "documentId"}
	}
	return nil
}

// DetectMIME sniffs data. When sniffing only finds a generic type, the extension of
// name decides.
func DetectMIME(data []byte, name string) string {
	mimeType := normalize(mimetype.Detect(data).String())

	generic := mimeType == "application/octet-stream" || mimeType == "application/zip" || mimeType == "text/plain"
	if generic {
		if hinted, ok := agent.MIMEForExtension(name); ok {
			if mimeType != "text/plain" || strings.HasPrefix(hinted, "text/") {
				return hinted
			}
		}
	}
	return mimeType
}

func normalize(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}
