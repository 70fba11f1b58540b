// Package llm defines the provider contract used for chat generation and the
// failover chain that runs providers in order.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ProviderName identifies a generation backend in results and logs.
type ProviderName string

const (
	ProviderZhipu  ProviderName = "zhipu"
	ProviderOpenAI ProviderName = "openai"
	ProviderGemini ProviderName = "gemini"
	ProviderOllama ProviderName = "ollama"
)

func (n ProviderName) Valid() bool {
	switch n {
	case ProviderZhipu, ProviderOpenAI, ProviderGemini, ProviderOllama:
		return true
	}
	return false
}

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Completion is a finished generation.
type Completion struct {
	Content  string       `json:"content"`
	Usage    Usage        `json:"usage"`
	Provider ProviderName `json:"provider"`
}

type GenerateOptions struct {
	MaxTokens   int
	Temperature float32
	// JSON asks the provider for a JSON object when it supports that.
	JSON bool
}

// DeltaFunc receives streamed text in production order. A non-nil return aborts the stream.
type DeltaFunc func(delta string) error

// ErrorClass tells the chain whether the next provider should be tried.
type ErrorClass int

const (
	// ErrorHard errors are returned to the caller as is.
	ErrorHard ErrorClass = iota
	// ErrorQuota errors (rate limits, exhausted quota) move on to the next provider.
	ErrorQuota
)

func (c ErrorClass) String() string {
	if c == ErrorQuota {
		return "quota"
	}
	return "hard"
}

// Provider is one generation backend.
type Provider interface {
	Name() ProviderName
	Generate(ctx context.Context, messages []ChatMessage, opts GenerateOptions) (*Completion, error)
	// GenerateStream calls fn for every delta and returns the assembled completion.
	GenerateStream(ctx context.Context, messages []ChatMessage, opts GenerateOptions, fn DeltaFunc) (*Completion, error)
	ClassifyError(err error) ErrorClass
}

// Embedder turns texts into vectors, one per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ProviderError is a failed provider call, with the HTTP status when one was seen.
type ProviderError struct {
	Provider   ProviderName
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s: %s", e.Provider, msg)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

var quotaKeywords = []string{
	"quota",
	"rate limit",
	"rate_limit",
	"ratelimit",
	"limit exceeded",
	"resource_exhausted",
	"resource exhausted",
	"too many requests",
	"insufficient balance",
}

// IsQuotaSignal reports whether a status code or error text means the provider
// refused for capacity reasons.
func IsQuotaSignal(statusCode int, message string) bool {
	if statusCode == http.StatusTooManyRequests {
		return true
	}
	lower := strings.ToLower(message)
	for _, kw := range quotaKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// ClassifyError is the default classification shared by the HTTP-based providers.
func ClassifyError(err error) ErrorClass {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorHard
	}
	var perr *ProviderError
	if errors.As(err, &perr) && IsQuotaSignal(perr.StatusCode, perr.Error()) {
		return ErrorQuota
	}
	if IsQuotaSignal(0, err.Error()) {
		return ErrorQuota
	}
	return ErrorHard
}
