package chatbot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	defaultAnthropicModel   = "claude-sonnet-4-5"
	defaultMaxTokens        = 512
)

type AnthropicOptions struct {
	APIKey       string
	APIBase      string
	Model        string
	MaxTokens    int
	SystemPrompt string
	Timeout      time.Duration
}

type AnthropicService struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
	system    string
	baseURL   string
}

func NewAnthropicService(opts AnthropicOptions) *AnthropicService {
	baseURL := normalizeBaseURL(opts.APIBase)
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithBaseURL(baseURL),
		option.WithMaxRetries(0),
	}
	if opts.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(opts.Timeout))
	}
	client := anthropic.NewClient(reqOpts...)

	model := opts.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	maxTokens := int64(opts.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &AnthropicService{
		client:    &client,
		model:     model,
		maxTokens: maxTokens,
		system:    opts.SystemPrompt,
		baseURL:   baseURL,
	}
}

func (s *AnthropicService) Name() string { return "anthropic" }

func (s *AnthropicService) BaseURL() string { return s.baseURL }

func (s *AnthropicService) Chat(ctx context.Context, history, input string) (string, error) {
	resp, err := s.client.Messages.New(ctx, s.buildParams(history, input))
	if err != nil {
		return "", fmt.Errorf("claude API call: %w", err)
	}
	return replyText(resp), nil
}

func (s *AnthropicService) buildParams(history, input string) anthropic.MessageNewParams {
	return anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: s.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt(s.system, history)}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(input)),
		},
	}
}

func replyText(resp *anthropic.Message) string {
	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.AsText().Text)
		}
	}
	return sb.String()
}

func normalizeBaseURL(apiBase string) string {
	base := strings.TrimSpace(apiBase)
	if base == "" {
		return defaultAnthropicBaseURL
	}

	base = strings.TrimRight(base, "/")
	if b, ok := strings.CutSuffix(base, "/v1"); ok {
		base = b
	}
	if base == "" {
		return defaultAnthropicBaseURL
	}

	return base
}
