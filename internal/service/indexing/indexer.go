// Package indexing chunks extracted text, embeds the chunks and stores them for retrieval.
package indexing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/feichai0017/reading-assistant/internal/llm"
	"github.com/feichai0017/reading-assistant/internal/models"
	"github.com/feichai0017/reading-assistant/internal/store"
	"github.com/feichai0017/reading-assistant/pkg/logger"
)

type Config struct {
	ChunkSize    int
	ChunkOverlap int
	BatchSize    int
	Workers      int
}

type Indexer struct {
	chunks    store.ChunkStore
	embedder  llm.Embedder
	chunker   *Chunker
	pool      *ants.Pool
	batchSize int
	logger    logger.Logger
}

func NewIndexer(chunks store.ChunkStore, embedder llm.Embedder, log logger.Logger, cfg Config) (*Indexer, error) {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 16
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding pool: %w", err)
	}
	return &Indexer{
		chunks:    chunks,
		embedder:  embedder,
		chunker:   NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		pool:      pool,
		batchSize: batch,
		logger:    log.Named("indexer"),
	}, nil
}

// Index replaces the document's chunks with freshly embedded ones and returns how many
// were stored. Nothing is written unless every batch embeds.
func (ix *Indexer) Index(ctx context.Context, documentID string, content *models.ExtractedContent) (int, error) {
	start := time.Now()
	pieces := ix.chunker.Split(content)
	if len(pieces) == 0 {
		return 0, ix.chunks.ReplaceChunks(ctx, documentID, nil)
	}

	vectors := make([][]float32, len(pieces))
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	setErr := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	for lo := 0; lo < len(pieces); lo += ix.batchSize {
		hi := min(lo+ix.batchSize, len(pieces))
		texts := make([]string, 0, hi-lo)
		for _, p := range pieces[lo:hi] {
			texts = append(texts, p.Content)
		}

		wg.Add(1)
		err := ix.pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				setErr(ctx.Err())
				return
			}
			vecs, err := ix.embedder.Embed(ctx, texts)
			if err != nil {
				setErr(err)
				return
			}
			if len(vecs) != len(texts) {
				setErr(fmt.Errorf("got %d embeddings for %d chunks", len(vecs), len(texts)))
				return
			}
			copy(vectors[lo:hi], vecs)
		})
		if err != nil {
			wg.Done()
			setErr(fmt.Errorf("failed to submit embedding batch: %w", err))
			break
		}
	}
	wg.Wait()
	if firstErr != nil {
		return 0, fmt.Errorf("failed to embed chunks: %w", firstErr)
	}

	chunks := make([]models.Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = models.Chunk{
			ID:         uuid.NewString(),
			DocumentID: documentID,
			Index:      i,
			Content:    p.Content,
			PageNumber: p.PageNumber,
			Embedding:  vectors[i],
		}
	}
	if err := ix.chunks.ReplaceChunks(ctx, documentID, chunks); err != nil {
		return 0, fmt.Errorf("failed to store chunks: %w", err)
	}

	ix.logger.Info("document indexed",
		logger.String("documentId", documentID),
		logger.Int("chunks", len(chunks)),
		logger.Duration("took", time.Since(start)),
	)
	return len(chunks), nil
}

func (ix *Indexer) Close() {
	ix.pool.Release()
}
