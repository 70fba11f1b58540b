// Package retrieval ranks a document's embedded chunks against a query embedding.
package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/feichai0017/reading-assistant/internal/models"
	"github.com/feichai0017/reading-assistant/pkg/logger"
)

// ChunkSource is the part of a chunk store the engine needs.
type ChunkSource interface {
	CountChunks(ctx context.Context, documentID string) (int, error)
	SearchChunks(ctx context.Context, documentID string, embedding []float32, limit int, minSimilarity float64) ([]models.Chunk, error)
}

type Engine struct {
	source ChunkSource
	logger logger.Logger
}

func NewEngine(source ChunkSource, log logger.Logger) *Engine {
	return &Engine{source: source, logger: log.Named("retrieval")}
}

// HasChunks reports whether the document has been indexed.
func (e *Engine) HasChunks(ctx context.Context, documentID string) (bool, error) {
	n, err := e.source.CountChunks(ctx, documentID)
	if err != nil {
		return false, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n > 0, nil
}

// Search returns the document's chunks scoring at least minSimilarity, most similar
// first, capped by CalculateOptimalLimit. An unindexed document yields no chunks.
func (e *Engine) Search(ctx context.Context, documentID string, embedding []float32, requested int, minSimilarity float64) ([]models.Chunk, error) {
	total, err := e.source.CountChunks(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}
	if total == 0 {
		return nil, nil
	}

	limit := CalculateOptimalLimit(total, requested)
	chunks, err := e.source.SearchChunks(ctx, documentID, embedding, limit, minSimilarity)
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}

	// backends differ in how strictly they apply the threshold and ordering
	chunks = filterAndSort(chunks, minSimilarity)
	if len(chunks) > limit {
		chunks = chunks[:limit]
	}

	e.logger.Debug("chunk search finished",
		logger.String("document_id", documentID),
		logger.Int("total_chunks", total),
		logger.Int("limit", limit),
		logger.Int("results", len(chunks)),
	)
	return chunks, nil
}

// CalculateOptimalLimit picks how many chunks to retrieve for a document of totalChunks
// chunks. A positive requested value lowers the result further.
//
//	<=10    all of them
//	11-30   40%, at least 5, at most 8
//	31-100  25%, at least 6, at most 10
//	>100    15%, at least 8, at most 15
func CalculateOptimalLimit(totalChunks, requested int) int {
	if totalChunks <= 0 {
		return 0
	}

	var limit int
	switch {
	case totalChunks <= 10:
		limit = totalChunks
	case totalChunks <= 30:
		limit = clamp(percentOf(totalChunks, 0.40), 5, 8)
	case totalChunks <= 100:
		limit = clamp(percentOf(totalChunks, 0.25), 6, 10)
	default:
		limit = clamp(percentOf(totalChunks, 0.15), 8, 15)
	}

	if requested > 0 && requested < limit {
		limit = requested
	}
	return limit
}

func percentOf(n int, p float64) int {
	return int(math.Ceil(float64(n) * p))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// CosineSimilarity returns 0 for mismatched or zero-length vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// RankChunks scores chunks against query in memory. Stores without native vector
// search use it to implement SearchChunks.
func RankChunks(chunks []models.Chunk, query []float32, limit int, minSimilarity float64) []models.Chunk {
	scored := make([]models.Chunk, 0, len(chunks))
	for _, c := range chunks {
		c.Similarity = CosineSimilarity(query, c.Embedding)
		scored = append(scored, c)
	}
	scored = filterAndSort(scored, minSimilarity)
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

func filterAndSort(chunks []models.Chunk, minSimilarity float64) []models.Chunk {
	out := chunks[:0:0]
	for _, c := range chunks {
		if c.Similarity >= minSimilarity {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Similarity > out[j].Similarity
	})
	return out
}
