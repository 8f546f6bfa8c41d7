package chatbot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	openaioption "github.com/openai/openai-go/v3/option"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIOptions configures any OpenAI-compatible chat completions endpoint.
type OpenAIOptions struct {
	APIKey       string
	APIBase      string
	Model        string
	MaxTokens    int
	SystemPrompt string
	Timeout      time.Duration
}

type OpenAIService struct {
	client    *openai.Client
	model     string
	maxTokens int64
	system    string
}

func NewOpenAIService(opts OpenAIOptions) *OpenAIService {
	reqOpts := []openaioption.RequestOption{
		openaioption.WithAPIKey(opts.APIKey),
		openaioption.WithMaxRetries(0),
	}
	if opts.APIBase != "" {
		reqOpts = append(reqOpts, openaioption.WithBaseURL(opts.APIBase))
	}
	if opts.Timeout > 0 {
		reqOpts = append(reqOpts, openaioption.WithRequestTimeout(opts.Timeout))
	}
	client := openai.NewClient(reqOpts...)

	model := opts.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	maxTokens := int64(opts.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &OpenAIService{client: &client, model: model, maxTokens: maxTokens, system: opts.SystemPrompt}
}

func (s *OpenAIService) Name() string { return "openai" }

func (s *OpenAIService) Chat(ctx context.Context, history, input string) (string, error) {
	resp, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(s.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt(s.system, history)),
			openai.UserMessage(input),
		},
		MaxCompletionTokens: openai.Int(s.maxTokens),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}
