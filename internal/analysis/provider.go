// Package analysis sends extracted document text to a language model and
// returns its raw answer. Providers form a closed set selected by
// configuration; a Chain tries them in order.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"envreport/internal/config"
)

var (
	ErrAllProvidersFailed = errors.New("all analysis providers failed")
	ErrNoProviders        = errors.New("no analysis provider configured")
	ErrEmptyResponse      = errors.New("provider returned an empty response")
	ErrUnknownProvider    = errors.New("unknown analysis provider")
)

// Provider turns a prompt into free-form text.
type Provider interface {
	Name() string
	Model() string
	Analyze(ctx context.Context, prompt string) (string, error)
}

// ProviderError keeps the provider's raw error detail for display.
type ProviderError struct {
	Provider   string
	StatusCode int
	Status     string
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	switch {
	case e.StatusCode > 0:
		fmt.Fprintf(&b, ": HTTP %d", e.StatusCode)
		if e.Status != "" {
			b.WriteString(" " + e.Status)
		}
	case e.Status != "":
		b.WriteString(": " + e.Status)
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	} else if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Temporary reports whether the failure looks transient (rate limit,
// overload, timeout).
func (e *ProviderError) Temporary() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// Default models and endpoints.
const (
	DefaultOpenAIModel     = "gpt-4o-mini"
	DefaultGeminiModel     = "gemini-1.5-flash"
	DefaultGeminiLocation  = "us-central1"
	DefaultQwenModel       = "qwen-max"
	DefaultQwenEndpoint    = "https://dashscope-intl.aliyuncs.com/compatible-mode/v1"
	DefaultOpenRouterModel = "deepseek/deepseek-chat-v3-0324:free"
	OpenRouterEndpoint     = "https://openrouter.ai/api/v1"
	DefaultDotsOCRModel    = "rednote-hilab/dots.ocr"
	DefaultAzureAPIVersion = "2024-02-15-preview"
)

// New builds the provider described by p.
func New(ctx context.Context, p config.Provider) (Provider, error) {
	const op = "analysis.New"

	if !p.Usable() {
		return nil, fmt.Errorf("%s: %s: incomplete settings", op, p.Name)
	}

	switch p.Name {
	case "openai":
		return newOpenAI(p.Name, p.APIKey, "", pick(p.Model, DefaultOpenAIModel)), nil
	case "qwen":
		return newOpenAI(p.Name, p.APIKey, pick(p.Endpoint, DefaultQwenEndpoint), pick(p.Model, DefaultQwenModel)), nil
	case "openrouter":
		return newOpenAI(p.Name, p.APIKey, pick(p.Endpoint, OpenRouterEndpoint), pick(p.Model, DefaultOpenRouterModel)), nil
	case "dots_ocr":
		// Local OpenAI-compatible server; the key is usually ignored.
		return newOpenAI(p.Name, pick(p.APIKey, "EMPTY"), p.Endpoint, pick(p.Model, DefaultDotsOCRModel)), nil
	case "azure":
		return newAzure(p), nil
	case "gemini":
		g, err := newGemini(ctx, p.Project, pick(p.Location, DefaultGeminiLocation), pick(p.Model, DefaultGeminiModel))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return g, nil
	}
	return nil, fmt.Errorf("%s: %w: %q", op, ErrUnknownProvider, p.Name)
}

// FromConfig builds every configured provider in fallback order. Providers
// that fail to build are skipped and reported through skipped.
func FromConfig(ctx context.Context, cfg *config.Config) (providers []Provider, skipped []error) {
	for _, p := range cfg.ConfiguredProviders() {
		if p.Name == "gemini" && p.Location == "" {
			p.Location = cfg.VertexAIRegion
		}
		built, err := New(ctx, p)
		if err != nil {
			skipped = append(skipped, err)
			continue
		}
		providers = append(providers, built)
	}
	return providers, skipped
}

func pick(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
