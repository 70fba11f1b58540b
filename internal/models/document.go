package models

import (
	"time"
)

// ExtractionStatus tracks a document through the extraction pipeline.
type ExtractionStatus string

const (
	ExtractionPending    ExtractionStatus = "pending"
	ExtractionProcessing ExtractionStatus = "processing"
	ExtractionCompleted  ExtractionStatus = "completed"
	ExtractionFailed     ExtractionStatus = "failed"
)

// Document is the book record the pipeline reads from and writes extraction results to.
// ExtractedText and ContentHash are set together, and only while status is completed.
type Document struct {
	ID               string           `json:"id" bson:"_id"`
	Title            string           `json:"title" bson:"title"`
	Authors          []string         `json:"authors,omitempty" bson:"authors,omitempty"`
	Categories       []string         `json:"categories,omitempty" bson:"categories,omitempty"`
	PrimaryURL       string           `json:"primaryUrl" bson:"primary_url"`
	DirectURL        string           `json:"directUrl,omitempty" bson:"direct_url,omitempty"`
	ExtractedText    *string          `json:"extractedText,omitempty" bson:"extracted_text,omitempty"`
	ContentHash      *string          `json:"contentHash,omitempty" bson:"content_hash,omitempty"`
	PageCount        int              `json:"pageCount" bson:"page_count"`
	WordCount        int              `json:"wordCount" bson:"word_count"`
	SizeBytes        int64            `json:"sizeBytes" bson:"size_bytes"`
	ExtractionStatus ExtractionStatus `json:"extractionStatus" bson:"extraction_status"`
	ContentVersion   int              `json:"contentVersion" bson:"content_version"`
	ExtractionError  string           `json:"extractionError,omitempty" bson:"extraction_error,omitempty"`
	ExtractedAt      *time.Time       `json:"extractedAt,omitempty" bson:"extracted_at,omitempty"`
	UpdatedAt        time.Time        `json:"updatedAt" bson:"updated_at"`
}

// HasContent reports whether a completed extraction is stored.
func (d *Document) HasContent() bool {
	return d != nil && d.ExtractedText != nil && d.ContentHash != nil
}

// Text returns the extracted text or "".
func (d *Document) Text() string {
	if d == nil || d.ExtractedText == nil {
		return ""
	}
	return *d.ExtractedText
}

// PageText is the text of one page (or chapter, for reflowable formats) as produced
// by a document processor.
type PageText struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// ExtractedContent is the outcome of one extraction. It has no identity of its own.
type ExtractedContent struct {
	Text        string     `json:"text"`
	PageCount   int        `json:"pageCount"`
	WordCount   int        `json:"wordCount"`
	ContentHash string     `json:"contentHash"`
	SizeBytes   int64      `json:"sizeBytes"`
	MimeType    string     `json:"mimeType"`
	Pages       []PageText `json:"-"`
}
