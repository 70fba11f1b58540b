// Package store declares the persistence ports the pipeline depends on. Implementations
// live in the memory, mongo and weaviate subpackages.
package store

import (
	"context"
	"errors"

	"github.com/feichai0017/reading-assistant/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
)

type DocumentStore interface {
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	// SetExtractionStatus updates status and error message without touching content.
	SetExtractionStatus(ctx context.Context, id string, status models.ExtractionStatus, reason string) error
	// SaveExtraction stores content, marks the document completed and returns the
	// incremented content version.
	SaveExtraction(ctx context.Context, id string, content *models.ExtractedContent) (int, error)
}

type ArtifactStore interface {
	// GetArtifacts returns an empty set, not ErrNotFound, for documents without artifacts.
	GetArtifacts(ctx context.Context, documentID string) (*models.Artifacts, error)
	SaveTextArtifact(ctx context.Context, documentID string, kind models.ArtifactKind, artifact models.TextArtifact) error
	SaveQuestions(ctx context.Context, documentID string, questions models.QuestionSet) error
}

type ChunkStore interface {
	CountChunks(ctx context.Context, documentID string) (int, error)
	// ReplaceChunks drops the document's previous chunks and stores the new set.
	ReplaceChunks(ctx context.Context, documentID string, chunks []models.Chunk) error
	// SearchChunks returns at most limit chunks with similarity >= minSimilarity,
	// most similar first.
	SearchChunks(ctx context.Context, documentID string, embedding []float32, limit int, minSimilarity float64) ([]models.Chunk, error)
}

type ChatStore interface {
	GetSession(ctx context.Context, id string) (*models.ChatSession, error)
	// AppendMessages creates the session on first use.
	AppendMessages(ctx context.Context, sessionID, documentID, userID string, messages ...models.Message) error
	// GetUserHistory returns up to limit of the user's most recent messages about a
	// document across sessions, oldest first.
	GetUserHistory(ctx context.Context, documentID, userID string, limit int) ([]models.Message, error)
}
