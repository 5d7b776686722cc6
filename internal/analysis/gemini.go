package analysis

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"github.com/rs/zerolog"

	"envreport/internal/gcp"
	"envreport/internal/logger"
)

// Gemini calls a Gemini model through Vertex AI.
type Gemini struct {
	model  string
	client *genai.Client
	gm     *genai.GenerativeModel
	log    zerolog.Logger
}

func newGemini(ctx context.Context, project, location, model string) (*Gemini, error) {
	if project == "" || location == "" {
		return nil, fmt.Errorf("gemini: project and location cannot be empty")
	}

	client, err := genai.NewClient(ctx, project, location, gcp.ClientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	gm := client.GenerativeModel(model)
	gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}
	gm.SetTemperature(temperature)
	gm.SetMaxOutputTokens(maxResponseTokens)

	return &Gemini{
		model:  model,
		client: client,
		gm:     gm,
		log:    logger.WithComponent("analysis-gemini"),
	}, nil
}

func (g *Gemini) Name() string  { return "gemini" }
func (g *Gemini) Model() string { return g.model }

func (g *Gemini) Analyze(ctx context.Context, prompt string) (string, error) {
	const op = "Gemini.Analyze"

	g.log.Debug().Str("model", g.model).Int("prompt_chars", len(prompt)).Msg("Sending analysis request")

	resp, err := g.gm.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", geminiError(err)
	}

	var b strings.Builder
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, part := range c.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
		if b.Len() > 0 {
			break
		}
	}

	text := strings.TrimSpace(b.String())
	if text == "" {
		pe := &ProviderError{Provider: "gemini", Err: fmt.Errorf("%s: %w", op, ErrEmptyResponse)}
		if resp.PromptFeedback != nil {
			pe.Message = fmt.Sprintf("blocked: %v", resp.PromptFeedback.BlockReason)
		}
		return "", pe
	}
	return text, nil
}

// Close releases the Vertex AI client.
func (g *Gemini) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func geminiError(err error) error {
	pe := &ProviderError{Provider: "gemini", Err: err}
	if ae, ok := apierror.FromError(err); ok {
		if code := ae.HTTPCode(); code > 0 {
			pe.StatusCode = code
		}
		if st := ae.GRPCStatus(); st != nil {
			pe.Status = st.Code().String()
			pe.Message = st.Message()
		}
		if pe.Message == "" {
			pe.Message = ae.Reason()
		}
	}
	return pe
}
