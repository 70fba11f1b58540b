// Package openaicompat talks to any OpenAI-compatible chat endpoint, Zhipu's
// BigModel API included.
package openaicompat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/feichai0017/reading-assistant/internal/llm"
	"github.com/feichai0017/reading-assistant/pkg/logger"
)

type Config struct {
	Name    llm.ProviderName
	APIKey  string
	BaseURL string
	Model   string
}

type Provider struct {
	client *openai.Client
	name   llm.ProviderName
	model  string
	logger logger.Logger
}

var _ llm.Provider = (*Provider)(nil)

func New(cfg Config, log logger.Logger) *Provider {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	name := cfg.Name
	if name == "" {
		name = llm.ProviderOpenAI
	}
	return &Provider{
		client: openai.NewClientWithConfig(clientCfg),
		name:   name,
		model:  cfg.Model,
		logger: log.Named(string(name)),
	}
}

func (p *Provider) Name() llm.ProviderName {
	return p.name
}

func (p *Provider) request(messages []llm.ChatMessage, opts llm.GenerateOptions) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(messages)),
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}
	if opts.JSON {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}
	return req
}

func (p *Provider) Generate(ctx context.Context, messages []llm.ChatMessage, opts llm.GenerateOptions) (*llm.Completion, error) {
	resp, err := p.client.CreateChatCompletion(ctx, p.request(messages, opts))
	if err != nil {
		return nil, p.wrap(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &llm.ProviderError{Provider: p.name, Message: "response has no choices"}
	}
	return &llm.Completion{
		Content:  resp.Choices[0].Message.Content,
		Usage:    usage(resp.Usage),
		Provider: p.name,
	}, nil
}

func (p *Provider) GenerateStream(ctx context.Context, messages []llm.ChatMessage, opts llm.GenerateOptions, fn llm.DeltaFunc) (*llm.Completion, error) {
	req := p.request(messages, opts)
	req.Stream = true
	req.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	stream, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, p.wrap(err)
	}
	defer stream.Close()

	var (
		sb  strings.Builder
		use llm.Usage
	)
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, p.wrap(err)
		}
		if resp.Usage != nil {
			use = usage(*resp.Usage)
		}
		for _, choice := range resp.Choices {
			delta := choice.Delta.Content
			if delta == "" {
				continue
			}
			sb.WriteString(delta)
			if err := fn(delta); err != nil {
				return nil, err
			}
		}
	}

	return &llm.Completion{Content: sb.String(), Usage: use, Provider: p.name}, nil
}

func (p *Provider) ClassifyError(err error) llm.ErrorClass {
	return llm.ClassifyError(err)
}

func (p *Provider) wrap(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if apiErr.Type != "" {
			msg = fmt.Sprintf("%s (%s)", msg, apiErr.Type)
		}
		return &llm.ProviderError{Provider: p.name, StatusCode: apiErr.HTTPStatusCode, Message: msg, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &llm.ProviderError{Provider: p.name, StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error(), Err: err}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &llm.ProviderError{Provider: p.name, Err: err}
}

func usage(u openai.Usage) llm.Usage {
	return llm.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}
