package document

import (
	"context"
	"errors"
	"fmt"

	"github.com/feichai0017/reading-assistant/internal/models"
	"github.com/feichai0017/reading-assistant/internal/store"
	"github.com/feichai0017/reading-assistant/internal/utils/validator"
	"github.com/feichai0017/reading-assistant/pkg/logger"
	"github.com/feichai0017/reading-assistant/pkg/queue"
)

// Deps are the collaborators of a DocumentService. Artifacts, Indexer and Queue may be
// nil: the matching step is skipped, or extraction always runs inline.
type Deps struct {
	Documents store.DocumentStore
	Extractor Extractor
	Artifacts ArtifactGenerator
	Indexer   Indexer
	Queue     JobQueue
}

type DocumentService struct {
	docs      store.DocumentStore
	extractor Extractor
	artifacts ArtifactGenerator
	indexer   Indexer
	queue     JobQueue
	logger    logger.Logger
}

var _ DocumentProcessor = (*DocumentService)(nil)

func NewService(deps Deps, log logger.Logger) (*DocumentService, error) {
	if deps.Extractor == nil {
		return nil, ErrExtractorRequired
	}
	if deps.Documents == nil {
		return nil, errors.New("document store is required")
	}
	return &DocumentService{
		docs:      deps.Documents,
		extractor: deps.Extractor,
		artifacts: deps.Artifacts,
		indexer:   deps.Indexer,
		queue:     deps.Queue,
		logger:    log.Named("document"),
	}, nil
}

// EnqueueExtraction queues an extraction for the document. When the queue is missing or
// its broker is unreachable, the extraction runs inline and the result reports Queued
// false. Any other queue error is returned, since a job may already own the document.
func (s *DocumentService) EnqueueExtraction(ctx context.Context, documentID, primaryURL, directURL string) (*models.EnqueueResult, error) {
	if err := validator.ValidateDocumentID(documentID); err != nil {
		return nil, err
	}
	if err := validator.ValidateSourceURL("primaryUrl", primaryURL); err != nil {
		return nil, err
	}
	if directURL != "" {
		if err := validator.ValidateSourceURL("directUrl", directURL); err != nil {
			return nil, err
		}
	}
	if _, err := s.loadDocument(ctx, documentID); err != nil {
		return nil, err
	}

	p := models.ExtractionPayload{DocumentID: documentID, PrimaryURL: primaryURL, DirectURL: directURL}
	if s.queue != nil {
		res, err := s.queue.Enqueue(ctx, p)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, queue.ErrBrokerUnavailable) {
			return nil, fmt.Errorf("failed to enqueue extraction: %w", err)
		}
		s.logger.Warn("queue unavailable, extracting inline",
			logger.String("documentId", documentID),
			logger.Error(err),
		)
	}

	if _, err := s.ProcessExtraction(ctx, p, nil); err != nil {
		if markErr := s.MarkExtractionFailed(ctx, documentID, err); markErr != nil {
			s.logger.Error("failed to mark extraction failed",
				logger.String("documentId", documentID),
				logger.Error(markErr),
			)
		}
		return nil, err
	}
	return &models.EnqueueResult{Queued: false}, nil
}

func (s *DocumentService) GetJobStatus(ctx context.Context, jobID string) (*models.JobStatus, error) {
	if s.queue == nil {
		return nil, ErrQueueUnavailable
	}
	return s.queue.GetJobStatus(ctx, jobID)
}

func (s *DocumentService) CancelJob(ctx context.Context, jobID string) error {
	if s.queue == nil {
		return ErrQueueUnavailable
	}
	return s.queue.Cancel(ctx, jobID)
}

// ProcessExtraction runs one attempt. Only extraction and persisting its result can
// fail the attempt; summaries, questions and indexing are recorded in the result.
func (s *DocumentService) ProcessExtraction(ctx context.Context, p models.ExtractionPayload, progress ProgressFunc) (*models.JobResult, error) {
	if progress == nil {
		progress = func(int) {}
	}
	log := s.logger.With(logger.String("documentId", p.DocumentID))

	doc, err := s.loadDocument(ctx, p.DocumentID)
	if err != nil {
		return nil, err
	}
	// a document that already has content stays completed while it is re-extracted
	if !doc.HasContent() {
		if err := s.docs.SetExtractionStatus(ctx, p.DocumentID, models.ExtractionProcessing, ""); err != nil {
			return nil, fmt.Errorf("failed to set extraction status: %w", err)
		}
	}
	progress(10)

	content, err := s.extractor.Extract(ctx, p.PrimaryURL, p.DirectURL)
	if err != nil {
		log.Warn("extraction failed", logger.Error(err))
		return nil, err
	}
	progress(40)

	version, err := s.docs.SaveExtraction(ctx, p.DocumentID, content)
	if err != nil {
		return nil, fmt.Errorf("failed to save extraction: %w", err)
	}
	progress(60)
	log.Info("extraction saved",
		logger.Int("contentVersion", version),
		logger.Int("pages", content.PageCount),
		logger.Int("words", content.WordCount),
	)

	result := &models.JobResult{
		ContentVersion: version,
		ContentHash:    content.ContentHash,
		PageCount:      content.PageCount,
		WordCount:      content.WordCount,
	}

	if s.artifacts != nil {
		s.generateArtifacts(ctx, p.DocumentID, result)
	}
	progress(80)

	if s.indexer != nil {
		n, err := s.indexer.Index(ctx, p.DocumentID, content)
		if err != nil {
			log.Warn("indexing failed", logger.Error(err))
		}
		result.ChunkCount = n
	}
	progress(100)
	return result, nil
}

func (s *DocumentService) generateArtifacts(ctx context.Context, documentID string, result *models.JobResult) {
	doc, err := s.docs.GetDocument(ctx, documentID)
	if err != nil {
		s.logger.Warn("failed to reload document for artifacts",
			logger.String("documentId", documentID),
			logger.Error(err),
		)
		result.SummaryStatus = models.ArtifactFailed
		result.QuestionsStatus = models.ArtifactFailed
		return
	}

	result.SummaryStatus = models.ArtifactCompleted
	if err := s.artifacts.GenerateSummaries(ctx, doc); err != nil {
		s.logger.Warn("summary generation failed", logger.String("documentId", documentID), logger.Error(err))
		result.SummaryStatus = models.ArtifactFailed
	}
	result.QuestionsStatus = models.ArtifactCompleted
	if err := s.artifacts.GenerateQuestions(ctx, doc); err != nil {
		s.logger.Warn("question generation failed", logger.String("documentId", documentID), logger.Error(err))
		result.QuestionsStatus = models.ArtifactFailed
	}
}

// MarkExtractionFailed records a final failure. A document that still has content from
// an earlier extraction keeps it and stays completed; only the error is recorded.
func (s *DocumentService) MarkExtractionFailed(ctx context.Context, documentID string, cause error) error {
	reason := "extraction failed"
	if cause != nil {
		reason = cause.Error()
	}
	doc, err := s.loadDocument(ctx, documentID)
	if err != nil {
		return err
	}

	status := models.ExtractionFailed
	if doc.HasContent() {
		status = models.ExtractionCompleted
	}
	if err := s.docs.SetExtractionStatus(ctx, documentID, status, reason); err != nil {
		return fmt.Errorf("failed to set extraction status: %w", err)
	}
	s.logger.Error("extraction failed permanently",
		logger.String("documentId", documentID),
		logger.String("status", string(status)),
		logger.String("reason", reason),
	)
	return nil
}

func (s *DocumentService) loadDocument(ctx context.Context, id string) (*models.Document, error) {
	doc, err := s.docs.GetDocument(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	return doc, nil
}
