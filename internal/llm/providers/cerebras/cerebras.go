// internal/llm/providers/cerebras/cerebras.go
package cerebras

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/FormatLab/FormatLabStudio/internal/llm"
)

func init() {
	llm.Register("cerebras", func() llm.Provider {
		return &Provider{
			recommendedModels: []string{
				"llama-3.3-70b",
				"llama3.1-8b",
				"qwen-3-32b",
			},
			baseURL: "https://api.cerebras.ai/v1",
		}
	})
}

// Provider talks to the Cerebras inference API. The API is OpenAI-compatible
// so the client only needs a different base URL.
type Provider struct {
	apiKey            string
	baseURL           string
	client            *openai.Client
	defaultModel      string
	recommendedModels []string
}

func (p *Provider) Initialize(config map[string]string) error {
	apiKey, exists := config["api_key"]
	if !exists || apiKey == "" {
		return errors.New("cerebras api key not provided")
	}
	p.apiKey = apiKey

	if baseURL, exists := config["base_url"]; exists && baseURL != "" {
		p.baseURL = baseURL
	}

	if model, exists := config["default_model"]; exists && model != "" {
		p.defaultModel = model
	} else {
		p.defaultModel = "llama-3.3-70b"
	}

	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = p.baseURL
	p.client = openai.NewClientWithConfig(cfg)

	return nil
}

func (p *Provider) GetName() string {
	return "Cerebras"
}

func (p *Provider) GetSupportedModels() []string {
	return p.recommendedModels
}

func (p *Provider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages := []openai.ChatCompletionMessage{}
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	chatReq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: req.Temperature,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("cerebras api call failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, errors.New("cerebras returned no choices")
	}

	return &llm.CompletionResponse{
		Text:         resp.Choices[0].Message.Content,
		FinishReason: string(resp.Choices[0].FinishReason),
		TokensUsed:   resp.Usage.TotalTokens,
		PromptTokens: resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		ModelName:    model,
		ProviderName: p.GetName(),
	}, nil
}
