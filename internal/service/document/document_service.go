// Package document runs the ingestion pipeline for one document: extraction, then the
// best-effort artifact and indexing steps that depend on its text.
package document

import (
	"context"
	"errors"

	"github.com/feichai0017/reading-assistant/internal/models"
)

var (
	ErrDocumentNotFound  = errors.New("document not found")
	ErrQueueUnavailable  = errors.New("job queue is not configured")
	ErrExtractorRequired = errors.New("extractor is required")
)

// DocumentProcessor is what the API and the worker use.
type DocumentProcessor interface {
	EnqueueExtraction(ctx context.Context, documentID, primaryURL, directURL string) (*models.EnqueueResult, error)
	GetJobStatus(ctx context.Context, jobID string) (*models.JobStatus, error)
	CancelJob(ctx context.Context, jobID string) error
	ProcessExtraction(ctx context.Context, p models.ExtractionPayload, progress ProgressFunc) (*models.JobResult, error)
	MarkExtractionFailed(ctx context.Context, documentID string, cause error) error
}

// ProgressFunc receives the job's progress in percent, in increasing order.
type ProgressFunc func(percent int)

type Extractor interface {
	Extract(ctx context.Context, primaryURL, directURL string) (*models.ExtractedContent, error)
}

type ArtifactGenerator interface {
	GenerateSummaries(ctx context.Context, doc *models.Document) error
	GenerateQuestions(ctx context.Context, doc *models.Document) error
}

type Indexer interface {
	Index(ctx context.Context, documentID string, content *models.ExtractedContent) (int, error)
}

type JobQueue interface {
	Enqueue(ctx context.Context, p models.ExtractionPayload) (*models.EnqueueResult, error)
	GetJobStatus(ctx context.Context, jobID string) (*models.JobStatus, error)
	Cancel(ctx context.Context, jobID string) error
}
