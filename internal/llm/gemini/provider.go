// Package gemini adapts Google's Gemini API to the llm provider contract.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/feichai0017/reading-assistant/internal/llm"
	"github.com/feichai0017/reading-assistant/pkg/logger"
)

type Config struct {
	APIKey string
	Model  string
}

type Provider struct {
	client *genai.Client
	model  string
	logger logger.Logger
}

var _ llm.Provider = (*Provider)(nil)

func New(ctx context.Context, cfg Config, log logger.Logger) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini api key is empty")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &Provider{client: client, model: cfg.Model, logger: log.Named("gemini")}, nil
}

func (p *Provider) Name() llm.ProviderName {
	return llm.ProviderGemini
}

func (p *Provider) Close() error {
	return p.client.Close()
}

// session builds a chat with everything but the last user turn as history. A model is
// built per call because its settings are mutable.
func (p *Provider) session(messages []llm.ChatMessage, opts llm.GenerateOptions) (*genai.ChatSession, []genai.Part, error) {
	system, history, last, err := splitMessages(messages)
	if err != nil {
		return nil, nil, err
	}

	model := p.client.GenerativeModel(p.model)
	if system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	if opts.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(opts.MaxTokens))
	}
	if opts.Temperature > 0 {
		model.SetTemperature(opts.Temperature)
	}
	if opts.JSON {
		model.ResponseMIMEType = "application/json"
	}

	cs := model.StartChat()
	cs.History = history
	return cs, []genai.Part{genai.Text(last)}, nil
}

func (p *Provider) Generate(ctx context.Context, messages []llm.ChatMessage, opts llm.GenerateOptions) (*llm.Completion, error) {
	cs, parts, err := p.session(messages, opts)
	if err != nil {
		return nil, err
	}
	resp, err := cs.SendMessage(ctx, parts...)
	if err != nil {
		return nil, wrap(err)
	}
	text := responseText(resp)
	if text == "" {
		return nil, &llm.ProviderError{Provider: llm.ProviderGemini, Message: "no response generated"}
	}
	return &llm.Completion{Content: text, Usage: usage(resp), Provider: llm.ProviderGemini}, nil
}

func (p *Provider) GenerateStream(ctx context.Context, messages []llm.ChatMessage, opts llm.GenerateOptions, fn llm.DeltaFunc) (*llm.Completion, error) {
	cs, parts, err := p.session(messages, opts)
	if err != nil {
		return nil, err
	}

	iter := cs.SendMessageStream(ctx, parts...)
	var (
		sb  strings.Builder
		use llm.Usage
	)
	for {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, wrap(err)
		}
		if u := usage(resp); u.TotalTokens > 0 {
			use = u
		}
		delta := responseText(resp)
		if delta == "" {
			continue
		}
		sb.WriteString(delta)
		if err := fn(delta); err != nil {
			return nil, err
		}
	}
	return &llm.Completion{Content: sb.String(), Usage: use, Provider: llm.ProviderGemini}, nil
}

func (p *Provider) ClassifyError(err error) llm.ErrorClass {
	return llm.ClassifyError(err)
}

type httpCoder interface {
	HTTPCode() int
}

func wrap(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	perr := &llm.ProviderError{Provider: llm.ProviderGemini, Err: err}
	var gerr *googleapi.Error
	var coder httpCoder
	switch {
	case errors.As(err, &gerr):
		perr.StatusCode = gerr.Code
		perr.Message = gerr.Message
		if perr.Message == "" {
			perr.Message = gerr.Error()
		}
	case errors.As(err, &coder):
		perr.StatusCode = coder.HTTPCode()
	}
	return perr
}

func splitMessages(messages []llm.ChatMessage) (string, []*genai.Content, string, error) {
	var (
		system  []string
		history []*genai.Content
	)
	lastUser := -1
	for i, m := range messages {
		if m.Role == llm.RoleUser {
			lastUser = i
		}
	}
	if lastUser < 0 {
		return "", nil, "", errors.New("gemini: conversation has no user message")
	}

	for _, m := range messages[:lastUser] {
		switch m.Role {
		case llm.RoleSystem:
			system = append(system, m.Content)
		case llm.RoleAssistant:
			history = append(history, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(m.Content)}})
		default:
			history = append(history, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(m.Content)}})
		}
	}
	for _, m := range messages[lastUser+1:] {
		if m.Role == llm.RoleSystem {
			system = append(system, m.Content)
		}
	}
	return strings.Join(system, "\n\n"), history, messages[lastUser].Content, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return sb.String()
}

func usage(resp *genai.GenerateContentResponse) llm.Usage {
	if resp == nil || resp.UsageMetadata == nil {
		return llm.Usage{}
	}
	m := resp.UsageMetadata
	return llm.Usage{
		PromptTokens:     int(m.PromptTokenCount),
		CompletionTokens: int(m.CandidatesTokenCount),
		TotalTokens:      int(m.TotalTokenCount),
	}
}
