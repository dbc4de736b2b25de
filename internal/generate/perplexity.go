package generate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const (
	ProviderPerplexity = "perplexity"

	DefaultPerplexityBaseURL = "https://api.perplexity.ai"
	DefaultPerplexityModel   = "sonar-pro"
)

// ChatCompleter is the part of the OpenAI-compatible client the refine path uses.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// PerplexityCaller talks to Perplexity through its OpenAI-compatible chat completions API.
type PerplexityCaller struct {
	chat  ChatCompleter
	model string
}

func NewPerplexityCaller(apiKey, baseURL, model string) (*PerplexityCaller, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("perplexity: %w", ErrMissingAPIKey)
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = DefaultPerplexityBaseURL
	if strings.TrimSpace(baseURL) != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultPerplexityModel
	}
	return &PerplexityCaller{chat: openai.NewClientWithConfig(cfg), model: model}, nil
}

func (p *PerplexityCaller) Provider() string { return ProviderPerplexity }

// Generate returns choices[0].message.content.
func (p *PerplexityCaller) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := p.chat.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("response has no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
