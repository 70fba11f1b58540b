// Package bootstrap builds the object graph shared by the server and worker processes.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/reading-assistant/config"
	"github.com/feichai0017/reading-assistant/internal/agent"
	"github.com/feichai0017/reading-assistant/internal/agent/document"
	"github.com/feichai0017/reading-assistant/internal/agent/document/epub"
	"github.com/feichai0017/reading-assistant/internal/agent/document/image"
	"github.com/feichai0017/reading-assistant/internal/agent/document/pdf"
	"github.com/feichai0017/reading-assistant/internal/agent/document/text"
	"github.com/feichai0017/reading-assistant/internal/llm"
	"github.com/feichai0017/reading-assistant/internal/llm/embedding"
	"github.com/feichai0017/reading-assistant/internal/llm/gemini"
	"github.com/feichai0017/reading-assistant/internal/llm/ollama"
	"github.com/feichai0017/reading-assistant/internal/llm/openaicompat"
	"github.com/feichai0017/reading-assistant/internal/retrieval"
	"github.com/feichai0017/reading-assistant/internal/service/artifacts"
	"github.com/feichai0017/reading-assistant/internal/service/chat"
	docservice "github.com/feichai0017/reading-assistant/internal/service/document"
	"github.com/feichai0017/reading-assistant/internal/service/extraction"
	"github.com/feichai0017/reading-assistant/internal/service/indexing"
	"github.com/feichai0017/reading-assistant/internal/store"
	"github.com/feichai0017/reading-assistant/internal/store/memory"
	"github.com/feichai0017/reading-assistant/internal/store/mongostore"
	"github.com/feichai0017/reading-assistant/internal/store/weaviatestore"
	"github.com/feichai0017/reading-assistant/pkg/fetcher"
	"github.com/feichai0017/reading-assistant/pkg/logger"
	"github.com/feichai0017/reading-assistant/pkg/queue"
	"github.com/feichai0017/reading-assistant/pkg/storage"
	"github.com/feichai0017/reading-assistant/pkg/storage/minio"
	"github.com/feichai0017/reading-assistant/pkg/storage/s3"
)

// MemoryURI selects the in-process store instead of MongoDB.
const MemoryURI = "memory://"

// Stores groups the persistence ports. One backend may serve several of them.
type Stores struct {
	Documents store.DocumentStore
	Artifacts store.ArtifactStore
	Chunks    store.ChunkStore
	Chats     store.ChatStore
}

// App is everything a process needs, built from one Config.
type App struct {
	Config    *config.Config
	Logger    logger.Logger
	Stores    Stores
	Chain     *llm.Chain
	Documents *docservice.DocumentService
	Chat      *chat.Orchestrator
	Queue     *queue.ExtractionQueue
	Status    queue.StatusStore
	RedisOpt  asynq.RedisClientOpt
	// Checks are the dependency probes served by the health endpoint.
	Checks map[string]func(ctx context.Context) error

	closers []func(ctx context.Context) error
}

// Build wires the application. On error, anything already opened is closed.
func Build(ctx context.Context, cfg *config.Config, log logger.Logger) (app *App, err error) {
	app = &App{
		Config: cfg,
		Logger: log,
		Checks: make(map[string]func(ctx context.Context) error),
		RedisOpt: asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
	}
	defer func() {
		if err != nil {
			_ = app.Close(context.Background())
			app = nil
		}
	}()

	if err := app.buildStores(ctx); err != nil {
		return app, err
	}

	extractor, err := app.buildExtractor(ctx)
	if err != nil {
		return app, err
	}

	chain, err := app.buildChain(ctx)
	if err != nil {
		return app, err
	}
	app.Chain = chain

	var embedder llm.Embedder
	if cfg.Embedding.APIKey != "" {
		embedder = embedding.New(embedding.Config{
			APIKey:    cfg.Embedding.APIKey,
			BaseURL:   cfg.Embedding.BaseURL,
			Model:     cfg.Embedding.Model,
			BatchSize: cfg.Embedding.BatchSize,
		}, log)
	} else {
		log.Warn("no embedding api key, indexing and retrieval are disabled")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	app.onClose(func(context.Context) error { return redisClient.Close() })
	app.Checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	app.Status = queue.NewRedisStatusStore(redisClient, cfg.Queue.StatusTTL)

	app.Queue = queue.NewExtractionQueue(app.RedisOpt, app.Status, queue.Config{
		Name:        cfg.Queue.Name,
		MaxAttempts: cfg.Queue.MaxAttempts,
		JobTimeout:  cfg.Queue.JobTimeout,
		Retention:   cfg.Queue.Retention,
	}, log)
	app.onClose(func(context.Context) error { return app.Queue.Close() })

	deps := docservice.Deps{
		Documents: app.Stores.Documents,
		Extractor: extractor,
		Queue:     app.Queue,
	}
	if len(chain.Names()) > 0 {
		deps.Artifacts = artifacts.NewGenerator(chain, app.Stores.Artifacts, log, artifacts.Config{})
	}
	if embedder != nil {
		indexer, err := indexing.NewIndexer(app.Stores.Chunks, embedder, log, indexing.Config{
			ChunkSize:    cfg.Indexing.ChunkSize,
			ChunkOverlap: cfg.Indexing.ChunkOverlap,
			BatchSize:    cfg.Embedding.BatchSize,
			Workers:      cfg.Embedding.Workers,
		})
		if err != nil {
			return app, err
		}
		app.onClose(func(context.Context) error { indexer.Close(); return nil })
		deps.Indexer = indexer
	}
	app.Documents, err = docservice.NewService(deps, log)
	if err != nil {
		return app, err
	}

	var retriever chat.Retriever
	if embedder != nil {
		retriever = retrieval.NewEngine(app.Stores.Chunks, log)
	}
	assembler := chat.NewAssembler(app.Stores.Artifacts, app.Stores.Chats, retriever, embedder, log, chat.AssemblerConfig{
		MaxContentChars:          cfg.Chat.MaxContentChars,
		HistoryLimit:             cfg.Chat.HistoryLimit,
		FastPathHistoryThreshold: cfg.Chat.FastPathHistoryThreshold,
		MaxContextChunks:         cfg.Retrieval.MaxContextChunks,
		MinSimilarity:            cfg.Retrieval.MinSimilarity,
	})
	app.Chat = chat.NewOrchestrator(app.Stores.Documents, app.Stores.Chats, assembler, chain, log, chat.Config{
		HistoryLimit:   cfg.Chat.HistoryLimit,
		MaxTokens:      cfg.Chat.MaxTokens,
		Temperature:    cfg.Chat.Temperature,
		RequestTimeout: cfg.Chat.RequestTimeout,
	})
	return app, nil
}

func (a *App) onClose(fn func(ctx context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of creation.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) buildStores(ctx context.Context) error {
	cfg := a.Config
	if cfg.Mongo.URI == "" || cfg.Mongo.URI == MemoryURI {
		a.Logger.Warn("using in-memory store, data is lost on exit")
		mem := memory.New()
		a.Stores = Stores{Documents: mem, Artifacts: mem, Chunks: mem, Chats: mem}
	} else {
		mongo, err := mongostore.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database, a.Logger)
		if err != nil {
			return err
		}
		a.onClose(mongo.Close)
		a.Checks["mongo"] = mongo.Ping
		a.Stores = Stores{Documents: mongo, Artifacts: mongo, Chunks: mongo, Chats: mongo}
	}

	if cfg.Weaviate.Enabled {
		chunks, err := weaviatestore.New(ctx, weaviatestore.Config{
			Host:      cfg.Weaviate.Host,
			Scheme:    cfg.Weaviate.Scheme,
			APIKey:    cfg.Weaviate.APIKey,
			ClassName: cfg.Weaviate.ClassName,
		}, a.Logger)
		if err != nil {
			return err
		}
		a.Checks["weaviate"] = chunks.Ping
		a.Stores.Chunks = chunks
	}
	return nil
}

// NewStorages returns the object storage backends that are configured.
func NewStorages(ctx context.Context, cfg *config.Config, log logger.Logger) ([]storage.Storage, error) {
	var out []storage.Storage
	if cfg.S3.Enabled() {
		s, err := s3.NewS3Storage(ctx, cfg.S3, log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize s3 storage: %w", err)
		}
		out = append(out, s)
	}
	if cfg.Minio.Enabled() {
		s, err := minio.NewMinioStorage(cfg.Minio, log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize minio storage: %w", err)
		}
		out = append(out, s)
	}
	return out, nil
}

func (a *App) buildExtractor(ctx context.Context) (*extraction.Extractor, error) {
	cfg := a.Config
	storages, err := NewStorages(ctx, cfg, a.Logger)
	if err != nil {
		return nil, err
	}
	opts := []fetcher.Option{fetcher.WithMaxBytes(cfg.Extraction.MaxBytes)}
	for _, s := range storages {
		opts = append(opts, fetcher.WithStorage(s))
	}

	processors := []document.Processor{
		pdf.NewProcessor(a.Logger, cfg.Extraction.PDFWorkers),
		epub.NewProcessor(a.Logger),
		text.NewProcessor(a.Logger),
	}
	if cfg.Textract.Enabled {
		ocr, err := image.NewTextractProcessor(ctx, &image.TextractConfig{
			Region:        cfg.Textract.Region,
			AccessKey:     cfg.Textract.AccessKey,
			SecretKey:     cfg.Textract.SecretKey,
			MinConfidence: cfg.Textract.MinConfidence,
			EnableTable:   cfg.Textract.EnableTable,
		}, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize textract: %w", err)
		}
		processors = append(processors, ocr)
	}
	// registered after textract, which takes precedence for the same types
	if cfg.Tesseract.Enabled {
		if ocr := localOCR(cfg.Tesseract, a.Logger); ocr != nil {
			processors = append(processors, ocr)
		}
	}
	factory := agent.NewProcessorFactory(a.Logger, processors...)
	a.onClose(func(context.Context) error { return factory.Close() })

	return extraction.NewExtractor(fetcher.New(a.Logger, opts...), factory, a.Logger, extraction.Config{
		Timeout:          cfg.Extraction.Timeout,
		RetryParseErrors: cfg.Extraction.RetryParseErrors,
	}), nil
}

// buildChain creates providers in configured order, skipping those without credentials.
func (a *App) buildChain(ctx context.Context) (*llm.Chain, error) {
	cfg := a.Config.Providers
	var providers []llm.Provider
	for _, name := range cfg.Order {
		switch {
		case name == strings.ToLower(cfg.OpenAI.Name) || name == string(llm.ProviderOpenAI):
			if cfg.OpenAI.APIKey == "" {
				a.Logger.Warn("provider has no api key, skipping", logger.String("provider", name))
				continue
			}
			providerName := cfg.OpenAI.Name
			if providerName == "" {
				providerName = name
			}
			providers = append(providers, openaicompat.New(openaicompat.Config{
				Name:    llm.ProviderName(providerName),
				APIKey:  cfg.OpenAI.APIKey,
				BaseURL: cfg.OpenAI.BaseURL,
				Model:   cfg.OpenAI.Model,
			}, a.Logger))
		case name == string(llm.ProviderGemini):
			if cfg.Gemini.APIKey == "" {
				a.Logger.Warn("provider has no api key, skipping", logger.String("provider", name))
				continue
			}
			p, err := gemini.New(ctx, gemini.Config{APIKey: cfg.Gemini.APIKey, Model: cfg.Gemini.Model}, a.Logger)
			if err != nil {
				return nil, err
			}
			a.onClose(func(context.Context) error { return p.Close() })
			providers = append(providers, p)
		case name == string(llm.ProviderOllama):
			providers = append(providers, ollama.NewClient(ollama.Config{
				Endpoint: cfg.Ollama.Endpoint,
				Model:    cfg.Ollama.Model,
				Timeout:  cfg.Ollama.Timeout,
			}, a.Logger))
		default:
			return nil, fmt.Errorf("unknown provider %q in providers.order", name)
		}
	}
	if len(providers) == 0 {
		a.Logger.Warn("no chat provider is configured")
	}
	return llm.NewChain(a.Logger, providers...), nil
}
