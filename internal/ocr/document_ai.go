package ocr

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/rs/zerolog"

	"envreport/internal/gcp"
	"envreport/internal/logger"
)

// DocumentAIConfig identifies the OCR processor to call.
type DocumentAIConfig struct {
	ProjectID   string
	Location    string
	ProcessorID string
}

// ProcessorName returns the full processor resource name.
func (c DocumentAIConfig) ProcessorName() string {
	return fmt.Sprintf("projects/%s/locations/%s/processors/%s", c.ProjectID, c.Location, c.ProcessorID)
}

// DocumentAIEngine recognizes page images with a Document AI OCR processor.
type DocumentAIEngine struct {
	client *documentai.DocumentProcessorClient
	config DocumentAIConfig
	log    zerolog.Logger
}

// NewDocumentAIEngine creates a processor client on the regional endpoint of config.Location.
func NewDocumentAIEngine(ctx context.Context, config DocumentAIConfig) (*DocumentAIEngine, error) {
	const op = "NewDocumentAIEngine"

	if config.ProjectID == "" || config.ProcessorID == "" {
		return nil, WrapOCRError(op, "documentai", ErrNoEngine, "GOOGLE_CLOUD_PROJECT and DOCUMENT_AI_PROCESSOR_ID are required")
	}
	if config.Location == "" {
		config.Location = "us"
	}

	opts := append(gcp.DocumentAIEndpoint(config.Location), gcp.ClientOptions()...)
	client, err := documentai.NewDocumentProcessorClient(ctx, opts...)
	if err != nil {
		return nil, WrapOCRError(op, "documentai", err, fmt.Sprintf("failed to create Document AI client for location: %s", config.Location))
	}

	return &DocumentAIEngine{
		client: client,
		config: config,
		log:    logger.WithComponent("ocr-documentai"),
	}, nil
}

func (p *DocumentAIEngine) Name() string { return "documentai" }

// Recognize sends one image to the processor and returns the document text.
func (p *DocumentAIEngine) Recognize(ctx context.Context, image []byte) (Result, error) {
	const op = "Recognize"

	if len(image) > MaxImageSizeBytes {
		return Result{}, WrapOCRError(op, p.Name(), ErrImageTooLarge, fmt.Sprintf("image size: %d bytes", len(image)))
	}
	mimeType, err := imageMIMEType(image)
	if err != nil {
		return Result{}, WrapOCRError(op, p.Name(), err, "")
	}

	req := &documentaipb.ProcessRequest{
		Name: p.config.ProcessorName(),
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  image,
				MimeType: mimeType,
			},
		},
	}

	resp, err := p.client.ProcessDocument(ctx, req)
	if err != nil {
		return Result{}, p.handleProcessingError(op, err)
	}
	if resp.GetDocument() == nil {
		return Result{}, WrapOCRError(op, p.Name(), ErrOCRFailed, "no document in response")
	}

	result := documentAIResult(resp.GetDocument())
	p.log.Debug().
		Int("chars", len(result.Text)).
		Float32("confidence", result.Confidence).
		Msg("Document AI recognized page")
	return result, nil
}

func (p *DocumentAIEngine) handleProcessingError(op string, err error) error {
	errStr := err.Error()

	switch {
	case strings.Contains(errStr, "PERMISSION_DENIED"):
		return WrapOCRError(op, p.Name(), ErrOCRFailed, "insufficient permissions for Document AI")
	case strings.Contains(errStr, "NOT_FOUND"):
		return WrapOCRError(op, p.Name(), ErrOCRFailed, fmt.Sprintf("processor not found: %s", p.config.ProcessorID))
	case strings.Contains(errStr, "INVALID_ARGUMENT"):
		return WrapOCRError(op, p.Name(), ErrInvalidImage, "image format not supported or corrupted")
	default:
		return WrapOCRError(op, p.Name(), ErrOCRFailed, fmt.Sprintf("Document AI error: %v", err))
	}
}

func documentAIResult(doc *documentaipb.Document) Result {
	var confidenceSum float32
	var confidenceCount int
	languageSet := make(map[string]bool)

	for _, page := range doc.GetPages() {
		if c := page.GetLayout().GetConfidence(); c > 0 {
			confidenceSum += c
			confidenceCount++
		}
		for _, lang := range page.GetDetectedLanguages() {
			if lang.GetLanguageCode() != "" {
				languageSet[lang.GetLanguageCode()] = true
			}
		}
	}

	var avg float32
	if confidenceCount > 0 {
		avg = confidenceSum / float32(confidenceCount)
	}
	languages := make([]string, 0, len(languageSet))
	for lang := range languageSet {
		languages = append(languages, lang)
	}
	sort.Strings(languages)

	return Result{
		Text:       Normalize(doc.GetText()),
		Confidence: avg,
		Languages:  languages,
		Engine:     "documentai",
	}
}

// imageMIMEType sniffs the formats Document AI accepts for raw images.
func imageMIMEType(image []byte) (string, error) {
	if len(image) >= 4 && (string(image[:4]) == "II*\x00" || string(image[:4]) == "MM\x00*") {
		return "image/tiff", nil
	}
	switch ct := http.DetectContentType(image); ct {
	case "image/png", "image/jpeg", "image/gif", "image/bmp", "image/webp":
		return ct, nil
	default:
		return "", fmt.Errorf("%w: detected %s", ErrInvalidImage, ct)
	}
}

// Close closes the Document AI client.
func (p *DocumentAIEngine) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}
