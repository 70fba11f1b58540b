// Package weaviatestore keeps document chunks in Weaviate and searches them with
// nearVector queries.
package weaviatestore

import (
	"context"
	"fmt"
	"strings"

	"github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/graphql"
	wmodels "github.com/weaviate/weaviate/entities/models"

	"github.com/feichai0017/reading-assistant/internal/models"
	"github.com/feichai0017/reading-assistant/internal/store"
	"github.com/feichai0017/reading-assistant/pkg/logger"
)

const batchSize = 200

type Config struct {
	Host      string
	Scheme    string
	APIKey    string
	ClassName string
}

type ChunkStore struct {
	client    *weaviate.Client
	className string
	logger    logger.Logger
}

var _ store.ChunkStore = (*ChunkStore)(nil)

func chunkClass(name string) *wmodels.Class {
	return &wmodels.Class{
		Class:      name,
		Vectorizer: "none",
		Properties: []*wmodels.Property{
			{Name: "chunkId", DataType: []string{"text"}},
			{Name: "documentId", DataType: []string{"text"}},
			{Name: "chunkIndex", DataType: []string{"int"}},
			{Name: "content", DataType: []string{"text"}},
			{Name: "pageNumber", DataType: []string{"int"}},
		},
		VectorIndexType: "hnsw",
		VectorIndexConfig: map[string]interface{}{
			"distance": "cosine",
		},
	}
}

// New connects and creates the chunk class when it does not exist yet.
func New(ctx context.Context, cfg Config, log logger.Logger) (*ChunkStore, error) {
	scheme := cfg.Scheme
	if scheme == "" {
		scheme = "http"
	}
	host := strings.TrimPrefix(strings.TrimPrefix(cfg.Host, "https://"), "http://")
	wcfg := weaviate.Config{Host: host, Scheme: scheme}
	if cfg.APIKey != "" {
		wcfg.AuthConfig = auth.ApiKey{Value: cfg.APIKey}
	}

	client, err := weaviate.NewClient(wcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create weaviate client: %w", err)
	}

	s := &ChunkStore{client: client, className: cfg.ClassName, logger: log.Named("weaviate")}
	if err := s.ensureClass(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Ping fails unless Weaviate reports itself ready.
func (s *ChunkStore) Ping(ctx context.Context) error {
	ready, err := s.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return err
	}
	if !ready {
		return fmt.Errorf("weaviate is not ready")
	}
	return nil
}

func (s *ChunkStore) ensureClass(ctx context.Context) error {
	schema, err := s.client.Schema().Getter().Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to get schema: %w", err)
	}
	for _, class := range schema.Classes {
		if class.Class == s.className {
			return nil
		}
	}
	if err := s.client.Schema().ClassCreator().WithClass(chunkClass(s.className)).Do(ctx); err != nil {
		return fmt.Errorf("failed to create %s class: %w", s.className, err)
	}
	s.logger.Info("created chunk class", logger.String("class", s.className))
	return nil
}

func documentFilter(documentID string) *filters.WhereBuilder {
	return filters.Where().
		WithPath([]string{"documentId"}).
		WithOperator(filters.Equal).
		WithValueText(documentID)
}

func (s *ChunkStore) CountChunks(ctx context.Context, documentID string) (int, error) {
	resp, err := s.client.GraphQL().Aggregate().
		WithClassName(s.className).
		WithWhere(documentFilter(documentID)).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	if len(resp.Errors) > 0 {
		return 0, fmt.Errorf("failed to count chunks: %s", resp.Errors[0].Message)
	}
	return parseCount(resp.Data, s.className), nil
}

func parseCount(data map[string]wmodels.JSONObject, className string) int {
	agg, ok := data["Aggregate"].(map[string]interface{})
	if !ok {
		return 0
	}
	rows, ok := agg[className].([]interface{})
	if !ok || len(rows) == 0 {
		return 0
	}
	row, _ := rows[0].(map[string]interface{})
	meta, _ := row["meta"].(map[string]interface{})
	count, _ := meta["count"].(float64)
	return int(count)
}

func (s *ChunkStore) ReplaceChunks(ctx context.Context, documentID string, chunks []models.Chunk) error {
	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(s.className).
		WithWhere(documentFilter(documentID)).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}

	for start := 0; start < len(chunks); start += batchSize {
		end := min(start+batchSize, len(chunks))
		batcher := s.client.Batch().ObjectsBatcher()
		for _, c := range chunks[start:end] {
			props := map[string]interface{}{
				"chunkId":    c.ID,
				"documentId": documentID,
				"chunkIndex": c.Index,
				"content":    c.Content,
			}
			if c.PageNumber != nil {
				props["pageNumber"] = *c.PageNumber
			}
			batcher = batcher.WithObjects(&wmodels.Object{
				Class:      s.className,
				Properties: props,
				Vector:     c.Embedding,
			})
		}
		results, err := batcher.Do(ctx)
		if err != nil {
			return fmt.Errorf("failed to insert chunks %d-%d: %w", start, end, err)
		}
		for _, r := range results {
			if r.Result != nil && r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
				return fmt.Errorf("failed to insert chunk: %s", r.Result.Errors.Error[0].Message)
			}
		}
	}
	return nil
}

// SearchChunks lets Weaviate apply the threshold as a cosine distance bound.
func (s *ChunkStore) SearchChunks(ctx context.Context, documentID string, embedding []float32, limit int, minSimilarity float64) ([]models.Chunk, error) {
	nearVector := s.client.GraphQL().NearVectorArgBuilder().
		WithVector(embedding).
		WithDistance(float32(1 - minSimilarity))

	resp, err := s.client.GraphQL().Get().
		WithClassName(s.className).
		WithFields(
			graphql.Field{Name: "chunkId"},
			graphql.Field{Name: "chunkIndex"},
			graphql.Field{Name: "content"},
			graphql.Field{Name: "pageNumber"},
			graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
		).
		WithNearVector(nearVector).
		WithWhere(documentFilter(documentID)).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("failed to search chunks: %s", resp.Errors[0].Message)
	}
	return parseChunks(resp.Data, s.className, documentID), nil
}

func parseChunks(data map[string]wmodels.JSONObject, className, documentID string) []models.Chunk {
	get, ok := data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	items, ok := get[className].([]interface{})
	if !ok {
		return nil
	}

	chunks := make([]models.Chunk, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		c := models.Chunk{DocumentID: documentID}
		c.ID, _ = obj["chunkId"].(string)
		c.Content, _ = obj["content"].(string)
		if idx, ok := obj["chunkIndex"].(float64); ok {
			c.Index = int(idx)
		}
		if page, ok := obj["pageNumber"].(float64); ok {
			p := int(page)
			c.PageNumber = &p
		}
		if additional, ok := obj["_additional"].(map[string]interface{}); ok {
			if d, ok := additional["distance"].(float64); ok {
				c.Similarity = 1 - d
			}
		}
		chunks = append(chunks, c)
	}
	return chunks
}
