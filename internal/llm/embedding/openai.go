// Package embedding produces query and chunk vectors through an OpenAI-compatible
// embeddings endpoint.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/feichai0017/reading-assistant/internal/llm"
	"github.com/feichai0017/reading-assistant/pkg/logger"
)

const defaultBatchSize = 16

type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	BatchSize int
}

type Embedder struct {
	client    *openai.Client
	model     openai.EmbeddingModel
	batchSize int
	logger    logger.Logger
}

var _ llm.Embedder = (*Embedder)(nil)

func New(cfg Config, log logger.Logger) *Embedder {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &Embedder{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     openai.EmbeddingModel(cfg.Model),
		batchSize: batch,
		logger:    log.Named("embedding"),
	}
}

// Embed sends texts in batches and returns one vector per text, in order.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
			Input: texts[start:end],
			Model: e.model,
		})
		if err != nil {
			return nil, wrap(err)
		}
		if len(resp.Data) != end-start {
			return nil, fmt.Errorf("embedding response has %d vectors for %d inputs", len(resp.Data), end-start)
		}
		for i, d := range resp.Data {
			idx := d.Index
			if idx < 0 || idx >= end-start {
				idx = i
			}
			out[start+idx] = d.Embedding
		}
	}
	return out, nil
}

func wrap(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &llm.ProviderError{Provider: "embedding", StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message, Err: err}
	}
	return fmt.Errorf("failed to create embeddings: %w", err)
}
