package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/feichai0017/reading-assistant/pkg/logger"
)

var (
	ErrNoProviders        = errors.New("no chat providers configured")
	ErrProvidersExhausted = errors.New("all chat providers are over quota")
)

// Delta is one piece of streamed text and the provider that produced it.
type Delta struct {
	Provider ProviderName
	Content  string
}

// Chain runs providers in order, moving on only when a provider reports a quota error.
type Chain struct {
	providers []Provider
	logger    logger.Logger
}

func NewChain(log logger.Logger, providers ...Provider) *Chain {
	c := &Chain{logger: log.Named("llm")}
	for _, p := range providers {
		if p != nil {
			c.providers = append(c.providers, p)
		}
	}
	return c
}

func (c *Chain) Names() []ProviderName {
	names := make([]ProviderName, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return names
}

func (c *Chain) Generate(ctx context.Context, messages []ChatMessage, opts GenerateOptions) (*Completion, error) {
	if len(c.providers) == 0 {
		return nil, ErrNoProviders
	}

	var lastErr error
	for _, p := range c.providers {
		res, err := p.Generate(ctx, messages, opts)
		if err == nil {
			res.Provider = p.Name()
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if p.ClassifyError(err) != ErrorQuota {
			return nil, err
		}
		c.logger.Warn("provider over quota, trying next",
			logger.String("provider", string(p.Name())),
			logger.Error(err),
		)
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %w", ErrProvidersExhausted, lastErr)
}

// GenerateStream fails over only while nothing has been passed to fn. Once a delta
// has been delivered, any error ends the stream.
func (c *Chain) GenerateStream(ctx context.Context, messages []ChatMessage, opts GenerateOptions, fn func(Delta) error) (*Completion, error) {
	if len(c.providers) == 0 {
		return nil, ErrNoProviders
	}

	var lastErr error
	for _, p := range c.providers {
		name := p.Name()
		delivered := false
		res, err := p.GenerateStream(ctx, messages, opts, func(s string) error {
			if s == "" {
				return nil
			}
			delivered = true
			return fn(Delta{Provider: name, Content: s})
		})
		if err == nil {
			res.Provider = name
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if delivered {
			c.logger.Error("provider failed mid-stream",
				logger.String("provider", string(name)),
				logger.Error(err),
			)
			return nil, err
		}
		if p.ClassifyError(err) != ErrorQuota {
			return nil, err
		}
		c.logger.Warn("provider over quota before first delta, trying next",
			logger.String("provider", string(name)),
			logger.Error(err),
		)
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %w", ErrProvidersExhausted, lastErr)
}
