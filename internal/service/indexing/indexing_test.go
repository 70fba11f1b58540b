package indexing

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/reading-assistant/internal/models"
	"github.com/feichai0017/reading-assistant/internal/store/memory"
	"github.com/feichai0017/reading-assistant/pkg/logger"
)

type lengthEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (e *lengthEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func TestChunkerShortPages(t *testing.T) {
	c := NewChunker(50, 10)
	pieces := c.Split(&models.ExtractedContent{Pages: []models.PageText{
		{Number: 1, Text: "First page."},
		{Number: 2, Text: "  "},
		{Number: 3, Text: "Third page."},
	}})
	require.Len(t, pieces, 2)
	assert.Equal(t, "First page.", pieces[0].Content)
	assert.Equal(t, 1, *pieces[0].PageNumber)
	assert.Equal(t, 3, *pieces[1].PageNumber)
}

func TestChunkerWindowsOverlap(t *testing.T) {
	words := make([]string, 0, 100)
	for i := 0; i < 100; i++ {
		words = append(words, "word")
	}
	text := strings.Join(words, " ") // 499 runes
	pieces := NewChunker(100, 20).Split(&models.ExtractedContent{Text: text})

	require.Greater(t, len(pieces), 5)
	for _, p := range pieces {
		assert.LessOrEqual(t, len([]rune(p.Content)), 100)
		assert.False(t, strings.HasPrefix(p.Content, "ord"), "pieces start on word boundaries")
		assert.Nil(t, p.PageNumber)
	}
	assert.True(t, strings.HasSuffix(pieces[len(pieces)-1].Content, "word"))
}

func TestChunkerPrefersSentenceBreak(t *testing.T) {
	text := "The tide was out. " + strings.Repeat("x", 10) + " then more words follow here"
	pieces := NewChunker(30, 5).Split(&models.ExtractedContent{Text: text})
	require.NotEmpty(t, pieces)
	assert.Equal(t, "The tide was out.", pieces[0].Content)
}

func TestChunkerDefaults(t *testing.T) {
	c := NewChunker(0, -1)
	assert.Equal(t, DefaultChunkSize, c.size)
	assert.Equal(t, DefaultChunkSize/5, c.overlap)
}

func TestIndexStoresEmbeddedChunks(t *testing.T) {
	st := memory.New()
	emb := &lengthEmbedder{}
	ix, err := NewIndexer(st, emb, logger.NewTestLogger(), Config{ChunkSize: 20, ChunkOverlap: 5, BatchSize: 2, Workers: 2})
	require.NoError(t, err)
	defer ix.Close()

	content := &models.ExtractedContent{Pages: []models.PageText{
		{Number: 1, Text: "alpha beta gamma delta epsilon zeta eta theta"},
		{Number: 2, Text: "iota kappa"},
	}}
	n, err := ix.Index(context.Background(), "doc-1", content)
	require.NoError(t, err)
	assert.Greater(t, n, 2)
	assert.Greater(t, emb.calls, 1)

	count, err := st.CountChunks(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, n, count)
}

func TestIndexEmbedFailureKeepsOldChunks(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	require.NoError(t, st.ReplaceChunks(ctx, "doc-1", []models.Chunk{{ID: "old", DocumentID: "doc-1", Content: "old"}}))

	ix, err := NewIndexer(st, &lengthEmbedder{err: errors.New("quota")}, logger.NewTestLogger(), Config{})
	require.NoError(t, err)
	defer ix.Close()

	_, err = ix.Index(ctx, "doc-1", &models.ExtractedContent{Text: "some text"})
	assert.ErrorContains(t, err, "quota")

	count, err := st.CountChunks(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
