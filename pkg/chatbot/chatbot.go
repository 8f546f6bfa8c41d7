// Package chatbot answers free-form group questions through an external
// conversational service.
package chatbot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tinyland-inc/qunbridge/pkg/config"
)

var ErrUnknownProvider = errors.New("unknown chatbot provider")

// Service answers input given an optional prior conversation. An empty
// reply means the service had nothing to say.
type Service interface {
	Name() string
	Chat(ctx context.Context, history, input string) (string, error)
}

// New builds the configured service. It returns nil, nil when no provider
// is configured.
func New(cfg config.ChatbotConfig) (Service, error) {
	timeout := time.Duration(cfg.Timeout) * time.Second
	switch cfg.Provider {
	case "":
		return nil, nil
	case "turing":
		return NewTuringService(cfg.APIKey, cfg.APIBase, timeout), nil
	case "anthropic":
		return NewAnthropicService(AnthropicOptions{
			APIKey:       cfg.APIKey,
			APIBase:      cfg.APIBase,
			Model:        cfg.Model,
			MaxTokens:    cfg.MaxTokens,
			SystemPrompt: cfg.SystemPrompt,
			Timeout:      timeout,
		}), nil
	case "openai":
		return NewOpenAIService(OpenAIOptions{
			APIKey:       cfg.APIKey,
			APIBase:      cfg.APIBase,
			Model:        cfg.Model,
			MaxTokens:    cfg.MaxTokens,
			SystemPrompt: cfg.SystemPrompt,
			Timeout:      timeout,
		}), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}

const defaultSystemPrompt = "You are the community bot of a developer forum group chat. " +
	"Answer briefly in the language of the question."

func systemPrompt(configured, history string) string {
	prompt := configured
	if prompt == "" {
		prompt = defaultSystemPrompt
	}
	if history != "" {
		prompt += "\n\nConversation so far:\n" + history
	}
	return prompt
}
