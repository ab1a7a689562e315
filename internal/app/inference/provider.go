// Package inference opens token streams against hosted language models.
package inference

import (
	"context"
	"fmt"
	"io"

	"github.com/R3E-Network/agentchat/internal/config"
	"github.com/R3E-Network/agentchat/internal/errors"
)

// Message is one conversation turn sent to a provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TokenStream yields incremental text. Recv returns io.EOF once the provider
// has finished cleanly. Close must always be called.
type TokenStream interface {
	Recv() (string, error)
	Close() error
}

// Provider opens token streams for a conversation.
type Provider interface {
	Name() string
	Stream(ctx context.Context, messages []Message) (TokenStream, error)
}

// New builds the provider named by cfg.Provider.
func New(ctx context.Context, cfg config.InferenceConfig) (Provider, error) {
	switch cfg.Provider {
	case "", "none":
		return None{}, nil
	case PresetWorkersAI, PresetOpenAI:
		return NewHTTPProvider(HTTPConfig{
			Preset:     cfg.Provider,
			BaseURL:    cfg.BaseURL,
			AccountID:  cfg.AccountID,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			TokenPath:  cfg.TokenPath,
			Timeout:    cfg.Timeout,
			MaxRetries: cfg.MaxRetries,
		})
	case "gemini":
		return NewGeminiProvider(ctx, GeminiConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		})
	default:
		return nil, fmt.Errorf("unsupported inference provider %q", cfg.Provider)
	}
}

// None is used when no provider is configured; every stream fails.
type None struct{}

func (None) Name() string { return "none" }

func (None) Stream(context.Context, []Message) (TokenStream, error) {
	return nil, errors.Unavailable("No inference provider configured", nil)
}

// sliceStream replays fixed tokens. It backs the Static provider.
type sliceStream struct {
	tokens []string
	err    error
}

func (s *sliceStream) Recv() (string, error) {
	if len(s.tokens) == 0 {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	tok := s.tokens[0]
	s.tokens = s.tokens[1:]
	return tok, nil
}

func (s *sliceStream) Close() error { return nil }

// Static replays Tokens for every request and then fails with Err, if set.
// It is handy for local development and tests.
type Static struct {
	Tokens []string
	Err    error
}

func (Static) Name() string { return "static" }

func (p Static) Stream(ctx context.Context, _ []Message) (TokenStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &sliceStream{tokens: append([]string(nil), p.Tokens...), err: p.Err}, nil
}
