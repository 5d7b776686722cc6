package analysis

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"envreport/internal/config"
	"envreport/internal/logger"
)

const (
	maxResponseTokens = 4000
	temperature       = 0.2
)

// OpenAI talks to any OpenAI-compatible chat completion API: OpenAI itself,
// Azure OpenAI, DashScope (Qwen), OpenRouter and a local dots.ocr server.
type OpenAI struct {
	name   string
	model  string
	client *openai.Client
	log    zerolog.Logger
}

func newOpenAI(name, apiKey, baseURL, model string) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return NewOpenAIWithConfig(name, model, cfg)
}

func newAzure(p config.Provider) *OpenAI {
	cfg := openai.DefaultAzureConfig(p.APIKey, p.Endpoint)
	cfg.APIVersion = pick(p.APIVersion, DefaultAzureAPIVersion)
	deployment := pick(p.Deployment, pick(p.Model, DefaultOpenAIModel))
	cfg.AzureModelMapperFunc = func(string) string { return deployment }
	return NewOpenAIWithConfig(p.Name, deployment, cfg)
}

// NewOpenAIWithConfig builds a provider from a prepared client config.
func NewOpenAIWithConfig(name, model string, cfg openai.ClientConfig) *OpenAI {
	return &OpenAI{
		name:   name,
		model:  model,
		client: openai.NewClientWithConfig(cfg),
		log:    logger.WithComponent("analysis-" + name),
	}
}

func (p *OpenAI) Name() string  { return p.name }
func (p *OpenAI) Model() string { return p.model }

// Analyze sends prompt as a single user message.
func (p *OpenAI) Analyze(ctx context.Context, prompt string) (string, error) {
	const op = "OpenAI.Analyze"

	p.log.Debug().Str("model", p.model).Int("prompt_chars", len(prompt)).Msg("Sending analysis request")

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   maxResponseTokens,
		Temperature: temperature,
	})
	if err != nil {
		return "", p.providerError(err)
	}
	if len(resp.Choices) == 0 {
		return "", &ProviderError{Provider: p.name, Err: fmt.Errorf("%s: %w", op, ErrEmptyResponse)}
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", &ProviderError{
			Provider: p.name,
			Message:  "finish reason " + string(resp.Choices[0].FinishReason),
			Err:      fmt.Errorf("%s: %w", op, ErrEmptyResponse),
		}
	}

	p.log.Debug().
		Int("prompt_tokens", resp.Usage.PromptTokens).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Msg("Analysis response received")

	return content, nil
}

func (p *OpenAI) providerError(err error) error {
	pe := &ProviderError{Provider: p.name, Err: err}

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		pe.StatusCode = apiErr.HTTPStatusCode
		pe.Message = apiErr.Message
	case errors.As(err, &reqErr):
		pe.StatusCode = reqErr.HTTPStatusCode
		if reqErr.Err != nil {
			pe.Message = reqErr.Err.Error()
		}
	}
	if pe.StatusCode > 0 {
		pe.Status = http.StatusText(pe.StatusCode)
	}
	return pe
}
