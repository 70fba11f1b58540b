// Package mongostore persists documents, artifacts, chunks and chat sessions in MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/feichai0017/reading-assistant/internal/models"
	"github.com/feichai0017/reading-assistant/internal/retrieval"
	"github.com/feichai0017/reading-assistant/internal/store"
	"github.com/feichai0017/reading-assistant/pkg/logger"
)

const (
	documentsCollection = "documents"
	artifactsCollection = "artifacts"
	chunksCollection    = "chunks"
	sessionsCollection  = "chat_sessions"

	// sessions scanned when collecting a user's history
	historySessionScan = 20
)

type Store struct {
	client    *mongo.Client
	documents *mongo.Collection
	artifacts *mongo.Collection
	chunks    *mongo.Collection
	sessions  *mongo.Collection
	logger    logger.Logger
}

var (
	_ store.DocumentStore = (*Store)(nil)
	_ store.ArtifactStore = (*Store)(nil)
	_ store.ChunkStore    = (*Store)(nil)
	_ store.ChatStore     = (*Store)(nil)
)

// Connect opens a client, checks it with a ping and makes sure indexes exist.
func Connect(ctx context.Context, uri, database string, log logger.Logger) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	db := client.Database(database)
	s := &Store{
		client:    client,
		documents: db.Collection(documentsCollection),
		artifacts: db.Collection(artifactsCollection),
		chunks:    db.Collection(chunksCollection),
		sessions:  db.Collection(sessionsCollection),
		logger:    log.Named("mongo"),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	if _, err := s.chunks.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "document_id", Value: 1}, {Key: "index", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("failed to create chunk indexes: %w", err)
	}
	if _, err := s.sessions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "document_id", Value: 1}, {Key: "user_id", Value: 1}, {Key: "updated_at", Value: -1}}},
	}); err != nil {
		return fmt.Errorf("failed to create session indexes: %w", err)
	}
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// PutDocument upserts a document record. The catalog owns these records; this exists
// for seeding and tests.
func (s *Store) PutDocument(ctx context.Context, doc *models.Document) error {
	if doc.ExtractionStatus == "" {
		doc.ExtractionStatus = models.ExtractionPending
	}
	_, err := s.documents.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to put document: %w", err)
	}
	return nil
}

func (s *Store) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	err := s.documents.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &doc, nil
}

func (s *Store) SetExtractionStatus(ctx context.Context, id string, status models.ExtractionStatus, reason string) error {
	res, err := s.documents.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{
			"extraction_status": status,
			"extraction_error":  reason,
			"updated_at":        time.Now().UTC(),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to set extraction status: %w", err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) SaveExtraction(ctx context.Context, id string, content *models.ExtractedContent) (int, error) {
	now := time.Now().UTC()
	update := bson.M{
		"$set": bson.M{
			"extracted_text":    content.Text,
			"content_hash":      content.ContentHash,
			"page_count":        content.PageCount,
			"word_count":        content.WordCount,
			"size_bytes":        content.SizeBytes,
			"extraction_status": models.ExtractionCompleted,
			"extraction_error":  "",
			"extracted_at":      now,
			"updated_at":        now,
		},
		"$inc": bson.M{"content_version": 1},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc models.Document
	err := s.documents.FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, store.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to save extraction: %w", err)
	}
	return doc.ContentVersion, nil
}

func (s *Store) GetArtifacts(ctx context.Context, documentID string) (*models.Artifacts, error) {
	var a models.Artifacts
	err := s.artifacts.FindOne(ctx, bson.M{"_id": documentID}).Decode(&a)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return &models.Artifacts{DocumentID: documentID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get artifacts: %w", err)
	}
	return &a, nil
}

func (s *Store) SaveTextArtifact(ctx context.Context, documentID string, kind models.ArtifactKind, artifact models.TextArtifact) error {
	return s.setArtifactField(ctx, documentID, string(kind), artifact)
}

func (s *Store) SaveQuestions(ctx context.Context, documentID string, questions models.QuestionSet) error {
	return s.setArtifactField(ctx, documentID, string(models.ArtifactQuestions), questions)
}

// artifact kinds double as field names in the artifacts collection
func (s *Store) setArtifactField(ctx context.Context, documentID, field string, value interface{}) error {
	_, err := s.artifacts.UpdateOne(ctx,
		bson.M{"_id": documentID},
		bson.M{"$set": bson.M{field: value}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to save %s artifact: %w", field, err)
	}
	return nil
}

func (s *Store) CountChunks(ctx context.Context, documentID string) (int, error) {
	n, err := s.chunks.CountDocuments(ctx, bson.M{"document_id": documentID})
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return int(n), nil
}

func (s *Store) ReplaceChunks(ctx context.Context, documentID string, chunks []models.Chunk) error {
	if _, err := s.chunks.DeleteMany(ctx, bson.M{"document_id": documentID}); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	if len(chunks) == 0 {
		return nil
	}
	docs := make([]interface{}, len(chunks))
	for i := range chunks {
		docs[i] = chunks[i]
	}
	if _, err := s.chunks.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to insert chunks: %w", err)
	}
	return nil
}

// SearchChunks loads the document's chunks and ranks them in process.
func (s *Store) SearchChunks(ctx context.Context, documentID string, embedding []float32, limit int, minSimilarity float64) ([]models.Chunk, error) {
	cursor, err := s.chunks.Find(ctx, bson.M{"document_id": documentID})
	if err != nil {
		return nil, fmt.Errorf("failed to find chunks: %w", err)
	}
	var chunks []models.Chunk
	if err := cursor.All(ctx, &chunks); err != nil {
		return nil, fmt.Errorf("failed to decode chunks: %w", err)
	}
	return retrieval.RankChunks(chunks, embedding, limit, minSimilarity), nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*models.ChatSession, error) {
	var sess models.ChatSession
	err := s.sessions.FindOne(ctx, bson.M{"_id": id}).Decode(&sess)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &sess, nil
}

func (s *Store) AppendMessages(ctx context.Context, sessionID, documentID, userID string, messages ...models.Message) error {
	now := time.Now().UTC()
	update := bson.M{
		"$setOnInsert": bson.M{
			"document_id": documentID,
			"user_id":     userID,
			"created_at":  now,
		},
		"$push": bson.M{"messages": bson.M{"$each": messages}},
		"$set":  bson.M{"updated_at": now},
	}
	_, err := s.sessions.UpdateOne(ctx, bson.M{"_id": sessionID}, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to append messages: %w", err)
	}
	return nil
}

func (s *Store) GetUserHistory(ctx context.Context, documentID, userID string, limit int) ([]models.Message, error) {
	if userID == "" || limit <= 0 {
		return nil, nil
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "updated_at", Value: -1}}).
		SetLimit(historySessionScan)
	cursor, err := s.sessions.Find(ctx, bson.M{"document_id": documentID, "user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find sessions: %w", err)
	}
	var sessions []models.ChatSession
	if err := cursor.All(ctx, &sessions); err != nil {
		return nil, fmt.Errorf("failed to decode sessions: %w", err)
	}

	var history []models.Message
	for _, sess := range sessions {
		history = append(history, sess.Messages...)
	}
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].CreatedAt.Before(history[j].CreatedAt)
	})
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history, nil
}
