package retrieval

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/reading-assistant/internal/models"
	"github.com/feichai0017/reading-assistant/pkg/logger"
)

type fakeSource struct {
	total     int
	results   []models.Chunk
	err       error
	lastLimit int
}

func (f *fakeSource) CountChunks(ctx context.Context, documentID string) (int, error) {
	return f.total, nil
}

func (f *fakeSource) SearchChunks(ctx context.Context, documentID string, embedding []float32, limit int, minSimilarity float64) ([]models.Chunk, error) {
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	// deliberately unfiltered and unordered
	return append([]models.Chunk(nil), f.results...), nil
}

func TestCalculateOptimalLimitTiers(t *testing.T) {
	tests := []struct {
		total, requested, want int
	}{
		{0, 10, 0},
		{1, 0, 1},
		{10, 0, 10},
		{11, 0, 5},   // ceil(4.4)=5
		{20, 0, 8},   // 8
		{30, 0, 8},   // capped
		{31, 0, 8},   // ceil(7.75)=8
		{45, 0, 10},  // ceil(11.25)=12 capped at 10
		{45, 7, 7},   // requested lowers it
		{100, 0, 10}, // capped
		{101, 0, 15}, // ceil(15.15)=16 capped
		{200, 0, 15},
		{40, 0, 10},
		{21, 0, 8},
		{24, 20, 8},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("total=%d/requested=%d", tt.total, tt.requested), func(t *testing.T) {
			assert.Equal(t, tt.want, CalculateOptimalLimit(tt.total, tt.requested))
		})
	}
}

func TestCalculateOptimalLimitBounds(t *testing.T) {
	for total := 1; total <= 10; total++ {
		for requested := 1; requested <= 12; requested++ {
			got := CalculateOptimalLimit(total, requested)
			assert.LessOrEqual(t, got, total)
			assert.GreaterOrEqual(t, got, min(requested, total))
		}
	}
	for total := 11; total <= 500; total++ {
		got := CalculateOptimalLimit(total, 0)
		assert.LessOrEqual(t, got, total)
		assert.GreaterOrEqual(t, got, 5)
		assert.LessOrEqual(t, got, 15)
	}
}

func TestSearchFiltersAndOrders(t *testing.T) {
	src := &fakeSource{
		total: 45,
		results: []models.Chunk{
			{ID: "c", Content: "c", Similarity: 0.5},
			{ID: "d", Content: "d", Similarity: 0.2},
			{ID: "a", Content: "a", Similarity: 0.9},
			{ID: "b", Content: "b", Similarity: 0.6},
		},
	}
	engine := NewEngine(src, logger.NewTestLogger())

	chunks, err := engine.Search(context.Background(), "doc-1", []float32{1, 0}, 10, 0.25)
	require.NoError(t, err)

	assert.Equal(t, 10, src.lastLimit)
	require.Len(t, chunks, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{chunks[0].ID, chunks[1].ID, chunks[2].ID})
	for i := 1; i < len(chunks); i++ {
		assert.GreaterOrEqual(t, chunks[i-1].Similarity, chunks[i].Similarity)
	}
}

func TestSearchUnindexedDocument(t *testing.T) {
	engine := NewEngine(&fakeSource{total: 0}, logger.NewTestLogger())

	chunks, err := engine.Search(context.Background(), "doc-1", []float32{1}, 10, 0.3)
	require.NoError(t, err)
	assert.Empty(t, chunks)

	has, err := engine.HasChunks(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestSearchPropagatesBackendError(t *testing.T) {
	boom := errors.New("backend down")
	engine := NewEngine(&fakeSource{total: 3, err: boom}, logger.NewTestLogger())

	_, err := engine.Search(context.Background(), "doc-1", []float32{1}, 10, 0.3)
	assert.ErrorIs(t, err, boom)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2, 3}, []float32{2, 4, 6}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Zero(t, CosineSimilarity([]float32{1}, []float32{1, 2}))
	assert.Zero(t, CosineSimilarity([]float32{0, 0}, []float32{1, 2}))
}

func TestRankChunks(t *testing.T) {
	chunks := []models.Chunk{
		{ID: "orthogonal", Embedding: []float32{0, 1}},
		{ID: "same", Embedding: []float32{1, 0}},
		{ID: "close", Embedding: []float32{1, 0.5}},
	}

	ranked := RankChunks(chunks, []float32{1, 0}, 5, 0.3)
	require.Len(t, ranked, 2)
	assert.Equal(t, "same", ranked[0].ID)
	assert.Equal(t, "close", ranked[1].ID)
	assert.InDelta(t, 1.0, ranked[0].Similarity, 1e-6)

	assert.Len(t, RankChunks(chunks, []float32{1, 0}, 1, 0), 1)
}
