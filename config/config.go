package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the whole process configuration. Values come from Default, then an optional
// YAML file, then environment variables (a .env file is loaded first when present).
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Redis      RedisConfig      `yaml:"redis"`
	Queue      QueueConfig      `yaml:"queue"`
	Extraction ExtractionConfig `yaml:"extraction"`
	S3         S3Config         `yaml:"s3"`
	Minio      MinioConfig      `yaml:"minio"`
	Textract   TextractConfig   `yaml:"textract"`
	Tesseract  TesseractConfig  `yaml:"tesseract"`
	Mongo      MongoConfig      `yaml:"mongo"`
	Weaviate   WeaviateConfig   `yaml:"weaviate"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Indexing   IndexingConfig   `yaml:"indexing"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Chat       ChatConfig       `yaml:"chat"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	AllowedOrigins  []string      `yaml:"allowedOrigins"`
}

type LogConfig struct {
	Level       string   `yaml:"level"`
	Encoding    string   `yaml:"encoding"`
	OutputPaths []string `yaml:"outputPaths"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type QueueConfig struct {
	Name          string        `yaml:"name"`
	Concurrency   int           `yaml:"concurrency"`
	JobsPerMinute int           `yaml:"jobsPerMinute"`
	Burst         int           `yaml:"burst"`
	MaxAttempts   int           `yaml:"maxAttempts"`
	BackoffBase   time.Duration `yaml:"backoffBase"`
	JobTimeout    time.Duration `yaml:"jobTimeout"`
	Retention     time.Duration `yaml:"retention"`
	StatusTTL     time.Duration `yaml:"statusTTL"`
}

type ExtractionConfig struct {
	Timeout          time.Duration `yaml:"timeout"`
	MaxBytes         int64         `yaml:"maxBytes"`
	PDFWorkers       int           `yaml:"pdfWorkers"`
	RetryParseErrors bool          `yaml:"retryParseErrors"`
}

type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

type WeaviateConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Host      string `yaml:"host"`
	Scheme    string `yaml:"scheme"`
	APIKey    string `yaml:"apiKey"`
	ClassName string `yaml:"className"`
}

type EmbeddingConfig struct {
	APIKey    string `yaml:"apiKey"`
	BaseURL   string `yaml:"baseURL"`
	Model     string `yaml:"model"`
	BatchSize int    `yaml:"batchSize"`
	Workers   int    `yaml:"workers"`
}

type IndexingConfig struct {
	ChunkSize    int `yaml:"chunkSize"`
	ChunkOverlap int `yaml:"chunkOverlap"`
}

type RetrievalConfig struct {
	MinSimilarity    float64 `yaml:"minSimilarity"`
	MaxContextChunks int     `yaml:"maxContextChunks"`
}

type ChatConfig struct {
	MaxContentChars          int           `yaml:"maxContentChars"`
	HistoryLimit             int           `yaml:"historyLimit"`
	FastPathHistoryThreshold int           `yaml:"fastPathHistoryThreshold"`
	MaxTokens                int           `yaml:"maxTokens"`
	Temperature              float32       `yaml:"temperature"`
	RequestTimeout           time.Duration `yaml:"requestTimeout"`
}

// Default returns the reference configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 5 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		Log: LogConfig{
			Level:       "info",
			Encoding:    "json",
			OutputPaths: []string{"stdout", "logs/app.log"},
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Queue: QueueConfig{
			Name:          "documents",
			Concurrency:   3,
			JobsPerMinute: 10,
			Burst:         1,
			MaxAttempts:   3,
			BackoffBase:   5 * time.Second,
			JobTimeout:    10 * time.Minute,
			Retention:     24 * time.Hour,
			StatusTTL:     24 * time.Hour,
		},
		Extraction: ExtractionConfig{
			Timeout:    60 * time.Second,
			MaxBytes:   200 << 20,
			PDFWorkers: 4,
		},
		S3:       S3Config{Region: "us-east-1"},
		Minio:    MinioConfig{Region: "us-east-1"},
		Textract: TextractConfig{Region: "us-east-1", MinConfidence: 50},
		Tesseract: TesseractConfig{
			Languages: []string{"eng", "chi_sim"},
			MinWidth:  1200,
		},
		Mongo: MongoConfig{
			URI:      "mongodb://localhost:27017",
			Database: "reading_assistant",
		},
		Weaviate: WeaviateConfig{
			Host:      "localhost:8081",
			Scheme:    "http",
			ClassName: "DocumentChunk",
		},
		Providers: ProvidersConfig{
			Order: []string{"zhipu", "gemini"},
			OpenAI: OpenAIConfig{
				Name:    "zhipu",
				BaseURL: "https://open.bigmodel.cn/api/paas/v4/",
				Model:   "glm-4-flash",
			},
			Gemini: GeminiConfig{Model: "gemini-1.5-flash"},
			Ollama: OllamaConfig{
				Endpoint: "http://localhost:11434",
				Model:    "llama3.1",
				Timeout:  120 * time.Second,
			},
		},
		Embedding: EmbeddingConfig{
			Model:     "text-embedding-3-small",
			BatchSize: 16,
			Workers:   4,
		},
		Indexing: IndexingConfig{
			ChunkSize:    1000,
			ChunkOverlap: 200,
		},
		Retrieval: RetrievalConfig{
			MinSimilarity:    0.3,
			MaxContextChunks: 10,
		},
		Chat: ChatConfig{
			MaxContentChars:          50000,
			HistoryLimit:             10,
			FastPathHistoryThreshold: 5,
			MaxTokens:                2048,
			Temperature:              0.7,
			RequestTimeout:           2 * time.Minute,
		},
	}
}

// Load builds a Config. path may be empty, in which case only defaults and the
// environment are used. A missing .env file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	envString(&c.Server.Addr, "SERVER_ADDR")
	envStrings(&c.Server.AllowedOrigins, "CORS_ALLOWED_ORIGINS")
	envString(&c.Log.Level, "LOG_LEVEL")
	envString(&c.Log.Encoding, "LOG_ENCODING")

	envString(&c.Redis.Addr, "REDIS_ADDR")
	envString(&c.Redis.Password, "REDIS_PASSWORD")
	envInt(&c.Redis.DB, "REDIS_DB")

	envString(&c.Queue.Name, "QUEUE_NAME")
	envInt(&c.Queue.Concurrency, "QUEUE_CONCURRENCY")
	envInt(&c.Queue.JobsPerMinute, "QUEUE_JOBS_PER_MINUTE")
	envInt(&c.Queue.MaxAttempts, "QUEUE_MAX_ATTEMPTS")
	envDuration(&c.Queue.BackoffBase, "QUEUE_BACKOFF_BASE")

	envDuration(&c.Extraction.Timeout, "EXTRACTION_TIMEOUT")
	envBool(&c.Extraction.RetryParseErrors, "EXTRACTION_RETRY_PARSE_ERRORS")

	c.S3.applyEnv()
	c.Minio.applyEnv()
	c.Textract.applyEnv()
	c.Tesseract.applyEnv()

	envString(&c.Mongo.URI, "MONGO_URI")
	envString(&c.Mongo.Database, "MONGO_DATABASE")

	envBool(&c.Weaviate.Enabled, "WEAVIATE_ENABLED")
	envString(&c.Weaviate.Host, "WEAVIATE_HOST")
	envString(&c.Weaviate.Scheme, "WEAVIATE_SCHEME")
	envString(&c.Weaviate.APIKey, "WEAVIATE_API_KEY")

	c.Providers.applyEnv()

	envString(&c.Embedding.APIKey, "EMBEDDING_API_KEY")
	envString(&c.Embedding.BaseURL, "EMBEDDING_BASE_URL")
	envString(&c.Embedding.Model, "EMBEDDING_MODEL")
	if c.Embedding.APIKey == "" {
		c.Embedding.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	envFloat(&c.Retrieval.MinSimilarity, "RETRIEVAL_MIN_SIMILARITY")
}

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Queue.Concurrency <= 0:
		return fmt.Errorf("queue.concurrency must be positive, got %d", c.Queue.Concurrency)
	case c.Queue.JobsPerMinute <= 0:
		return fmt.Errorf("queue.jobsPerMinute must be positive, got %d", c.Queue.JobsPerMinute)
	case c.Queue.MaxAttempts <= 0:
		return fmt.Errorf("queue.maxAttempts must be positive, got %d", c.Queue.MaxAttempts)
	case c.Extraction.Timeout <= 0:
		return errors.New("extraction.timeout must be positive")
	case c.Indexing.ChunkOverlap >= c.Indexing.ChunkSize:
		return fmt.Errorf("indexing.chunkOverlap (%d) must be smaller than chunkSize (%d)",
			c.Indexing.ChunkOverlap, c.Indexing.ChunkSize)
	case c.Retrieval.MinSimilarity < 0 || c.Retrieval.MinSimilarity > 1:
		return fmt.Errorf("retrieval.minSimilarity must be within [0,1], got %v", c.Retrieval.MinSimilarity)
	case len(c.Providers.Order) == 0:
		return errors.New("providers.order must name at least one provider")
	}
	return nil
}

func envString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func envStrings(dst *[]string, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	*dst = out
}

func envInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envFloat(dst *float64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envDuration(dst *time.Duration, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
