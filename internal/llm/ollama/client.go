// Package ollama is a chat provider for a local Ollama server.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/feichai0017/reading-assistant/internal/llm"
	"github.com/feichai0017/reading-assistant/pkg/logger"
)

type Config struct {
	Endpoint string
	Model    string
	Timeout  time.Duration
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string                 `json:"model"`
	Messages []chatMessage          `json:"messages"`
	Stream   bool                   `json:"stream"`
	Format   string                 `json:"format,omitempty"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

// chatResponse is one NDJSON line of /api/chat, or the whole body when not streaming.
type chatResponse struct {
	Model           string      `json:"model"`
	Message         chatMessage `json:"message"`
	Done            bool        `json:"done"`
	PromptEvalCount int         `json:"prompt_eval_count,omitempty"`
	EvalCount       int         `json:"eval_count,omitempty"`
	Error           string      `json:"error,omitempty"`
}

type Client struct {
	endpoint   string
	model      string
	httpClient *http.Client
	logger     logger.Logger
}

var _ llm.Provider = (*Client)(nil)

func NewClient(cfg Config, log logger.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: timeout},
		logger:     log.Named("ollama"),
	}
}

func (c *Client) Name() llm.ProviderName {
	return llm.ProviderOllama
}

func (c *Client) Generate(ctx context.Context, messages []llm.ChatMessage, opts llm.GenerateOptions) (*llm.Completion, error) {
	resp, err := c.post(ctx, c.request(messages, opts, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if result.Error != "" {
		return nil, &llm.ProviderError{Provider: llm.ProviderOllama, Message: result.Error}
	}
	return &llm.Completion{
		Content:  result.Message.Content,
		Usage:    usage(result),
		Provider: llm.ProviderOllama,
	}, nil
}

func (c *Client) GenerateStream(ctx context.Context, messages []llm.ChatMessage, opts llm.GenerateOptions, fn llm.DeltaFunc) (*llm.Completion, error) {
	resp, err := c.post(ctx, c.request(messages, opts, true))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var (
		sb  strings.Builder
		use llm.Usage
	)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk chatResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			return nil, fmt.Errorf("failed to decode stream line: %w", err)
		}
		if chunk.Error != "" {
			return nil, &llm.ProviderError{Provider: llm.ProviderOllama, Message: chunk.Error}
		}
		if delta := chunk.Message.Content; delta != "" {
			sb.WriteString(delta)
			if err := fn(delta); err != nil {
				return nil, err
			}
		}
		if chunk.Done {
			use = usage(chunk)
			break
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to read stream: %w", err)
	}
	return &llm.Completion{Content: sb.String(), Usage: use, Provider: llm.ProviderOllama}, nil
}

func (c *Client) ClassifyError(err error) llm.ErrorClass {
	return llm.ClassifyError(err)
}

func (c *Client) request(messages []llm.ChatMessage, opts llm.GenerateOptions, stream bool) chatRequest {
	req := chatRequest{Model: c.model, Stream: stream, Options: map[string]interface{}{}}
	for _, m := range messages {
		req.Messages = append(req.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	if opts.MaxTokens > 0 {
		req.Options["num_predict"] = opts.MaxTokens
	}
	if opts.Temperature > 0 {
		req.Options["temperature"] = opts.Temperature
	}
	if opts.JSON {
		req.Format = "json"
	}
	return req
}

func (c *Client) post(ctx context.Context, body chatRequest) (*http.Response, error) {
	reqData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/chat", bytes.NewReader(reqData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &llm.ProviderError{Provider: llm.ProviderOllama, Err: fmt.Errorf("failed to send request: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var errBody chatResponse
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &errBody) == nil && errBody.Error != "" {
			msg = errBody.Error
		}
		return nil, &llm.ProviderError{Provider: llm.ProviderOllama, StatusCode: resp.StatusCode, Message: msg}
	}
	return resp, nil
}

func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func usage(r chatResponse) llm.Usage {
	return llm.Usage{
		PromptTokens:     r.PromptEvalCount,
		CompletionTokens: r.EvalCount,
		TotalTokens:      r.PromptEvalCount + r.EvalCount,
	}
}
