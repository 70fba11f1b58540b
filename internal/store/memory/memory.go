// Package memory implements the store ports in process memory. It backs tests and
// single-process development runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/feichai0017/reading-assistant/internal/models"
	"github.com/feichai0017/reading-assistant/internal/retrieval"
	"github.com/feichai0017/reading-assistant/internal/store"
)

// Store satisfies every store port.
type Store struct {
	mu        sync.RWMutex
	documents map[string]*models.Document
	artifacts map[string]*models.Artifacts
	chunks    map[string][]models.Chunk
	sessions  map[string]*models.ChatSession
	now       func() time.Time
}

var (
	_ store.DocumentStore = (*Store)(nil)
	_ store.ArtifactStore = (*Store)(nil)
	_ store.ChunkStore    = (*Store)(nil)
	_ store.ChatStore     = (*Store)(nil)
)

func New() *Store {
	return &Store{
		documents: make(map[string]*models.Document),
		artifacts: make(map[string]*models.Artifacts),
		chunks:    make(map[string][]models.Chunk),
		sessions:  make(map[string]*models.ChatSession),
		now:       time.Now,
	}
}

// PutDocument registers a document record, as the catalog would.
func (s *Store) PutDocument(doc *models.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *doc
	if cp.ExtractionStatus == "" {
		cp.ExtractionStatus = models.ExtractionPending
	}
	s.documents[doc.ID] = &cp
}

func (s *Store) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

func (s *Store) SetExtractionStatus(ctx context.Context, id string, status models.ExtractionStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok {
		return store.ErrNotFound
	}
	doc.ExtractionStatus = status
	doc.ExtractionError = reason
	doc.UpdatedAt = s.now()
	return nil
}

func (s *Store) SaveExtraction(ctx context.Context, id string, content *models.ExtractedContent) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok {
		return 0, store.ErrNotFound
	}
	now := s.now()
	text, hash := content.Text, content.ContentHash
	doc.ExtractedText = &text
	doc.ContentHash = &hash
	doc.PageCount = content.PageCount
	doc.WordCount = content.WordCount
	doc.SizeBytes = content.SizeBytes
	doc.ExtractionStatus = models.ExtractionCompleted
	doc.ExtractionError = ""
	doc.ContentVersion++
	doc.ExtractedAt = &now
	doc.UpdatedAt = now
	return doc.ContentVersion, nil
}

func (s *Store) GetArtifacts(ctx context.Context, documentID string) (*models.Artifacts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.artifacts[documentID]
	if !ok {
		return &models.Artifacts{DocumentID: documentID}, nil
	}
	cp := *a
	cp.Questions.Items = append([]models.QAPair(nil), a.Questions.Items...)
	return &cp, nil
}

func (s *Store) SaveTextArtifact(ctx context.Context, documentID string, kind models.ArtifactKind, artifact models.TextArtifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifactsFor(documentID).SetText(kind, artifact)
	return nil
}

func (s *Store) SaveQuestions(ctx context.Context, documentID string, questions models.QuestionSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	questions.Items = append([]models.QAPair(nil), questions.Items...)
	s.artifactsFor(documentID).Questions = questions
	return nil
}

func (s *Store) artifactsFor(documentID string) *models.Artifacts {
	a, ok := s.artifacts[documentID]
	if !ok {
		a = &models.Artifacts{DocumentID: documentID}
		s.artifacts[documentID] = a
	}
	return a
}

func (s *Store) CountChunks(ctx context.Context, documentID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks[documentID]), nil
}

func (s *Store) ReplaceChunks(ctx context.Context, documentID string, chunks []models.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(chunks) == 0 {
		delete(s.chunks, documentID)
		return nil
	}
	s.chunks[documentID] = append([]models.Chunk(nil), chunks...)
	return nil
}

func (s *Store) SearchChunks(ctx context.Context, documentID string, embedding []float32, limit int, minSimilarity float64) ([]models.Chunk, error) {
	s.mu.RLock()
	chunks := append([]models.Chunk(nil), s.chunks[documentID]...)
	s.mu.RUnlock()
	return retrieval.RankChunks(chunks, embedding, limit, minSimilarity), nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*models.ChatSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *sess
	cp.Messages = append([]models.Message(nil), sess.Messages...)
	return &cp, nil
}

func (s *Store) AppendMessages(ctx context.Context, sessionID, documentID, userID string, messages ...models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &models.ChatSession{
			ID:         sessionID,
			DocumentID: documentID,
			UserID:     userID,
			CreatedAt:  now,
		}
		s.sessions[sessionID] = sess
	}
	sess.Messages = append(sess.Messages, messages...)
	sess.UpdatedAt = now
	return nil
}

func (s *Store) GetUserHistory(ctx context.Context, documentID, userID string, limit int) ([]models.Message, error) {
	if userID == "" || limit <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	var history []models.Message
	for _, sess := range s.sessions {
		if sess.DocumentID == documentID && sess.UserID == userID {
			history = append(history, sess.Messages...)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(history, func(i, j int) bool {
		return history[i].CreatedAt.Before(history[j].CreatedAt)
	})
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history, nil
}
