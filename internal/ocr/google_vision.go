package ocr

import (
	"context"
	"fmt"
	"sort"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/rs/zerolog"

	"envreport/internal/gcp"
	"envreport/internal/logger"
)

// MaxImageSizeBytes is the largest inline image the cloud engines accept.
const MaxImageSizeBytes = 20 * 1024 * 1024

// VisionEngine recognizes page images with Google Cloud Vision.
type VisionEngine struct {
	client *vision.ImageAnnotatorClient
	hints  []string
	log    zerolog.Logger
}

// NewVisionEngine creates a Vision client with credentials from the environment.
func NewVisionEngine(ctx context.Context, languages []string) (*VisionEngine, error) {
	const op = "NewVisionEngine"

	client, err := vision.NewImageAnnotatorClient(ctx, gcp.ClientOptions()...)
	if err != nil {
		if !gcp.HasCredentials() {
			return nil, WrapOCRError(op, "vision", gcp.ErrMissingCredentials, "no credentials found in environment")
		}
		return nil, WrapOCRError(op, "vision", err, "failed to create client")
	}

	return NewVisionEngineWithClient(client, languages), nil
}

// NewVisionEngineWithClient wraps an existing client.
func NewVisionEngineWithClient(client *vision.ImageAnnotatorClient, languages []string) *VisionEngine {
	return &VisionEngine{
		client: client,
		hints:  LanguageHints(languages),
		log:    logger.WithComponent("ocr-vision"),
	}
}

func (g *VisionEngine) Name() string { return "vision" }

// Recognize runs DOCUMENT_TEXT_DETECTION on one image.
func (g *VisionEngine) Recognize(ctx context.Context, image []byte) (Result, error) {
	const op = "Recognize"

	if len(image) == 0 {
		return Result{}, WrapOCRError(op, g.Name(), ErrInvalidImage, "empty image")
	}
	if len(image) > MaxImageSizeBytes {
		return Result{}, WrapOCRError(op, g.Name(), ErrImageTooLarge, fmt.Sprintf("image size: %d bytes", len(image)))
	}

	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{
			{
				Image: &visionpb.Image{Content: image},
				Features: []*visionpb.Feature{
					{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION},
				},
				ImageContext: &visionpb.ImageContext{LanguageHints: g.hints},
			},
		},
	}

	resp, err := g.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return Result{}, WrapOCRError(op, g.Name(), ErrOCRFailed, fmt.Sprintf("Vision API call failed: %v", err))
	}
	if len(resp.Responses) == 0 {
		return Result{}, WrapOCRError(op, g.Name(), ErrOCRFailed, "no response from Vision API")
	}

	result, err := visionResult(resp.Responses[0])
	if err != nil {
		return Result{}, WrapOCRError(op, g.Name(), err, "")
	}

	g.log.Debug().
		Int("chars", len(result.Text)).
		Float32("confidence", result.Confidence).
		Msg("Vision recognized page")

	return result, nil
}

// visionResult extracts text, mean page confidence and detected languages.
func visionResult(resp *visionpb.AnnotateImageResponse) (Result, error) {
	if resp.Error != nil {
		return Result{}, fmt.Errorf("%w: Vision API error: %s", ErrOCRFailed, resp.Error.Message)
	}
	annotation := resp.FullTextAnnotation
	if annotation == nil || annotation.Text == "" {
		return Result{Engine: "vision"}, nil
	}

	var confidenceSum float32
	var confidenceCount int
	languageSet := make(map[string]bool)

	for _, page := range annotation.Pages {
		if page.Confidence > 0 {
			confidenceSum += page.Confidence
			confidenceCount++
		}
		if page.Property != nil {
			for _, lang := range page.Property.DetectedLanguages {
				if lang.LanguageCode != "" {
					languageSet[lang.LanguageCode] = true
				}
			}
		}
	}

	var avgConfidence float32
	if confidenceCount > 0 {
		avgConfidence = confidenceSum / float32(confidenceCount)
	}

	languages := make([]string, 0, len(languageSet))
	for lang := range languageSet {
		languages = append(languages, lang)
	}
	sort.Strings(languages)

	return Result{
		Text:       Normalize(annotation.Text),
		Confidence: avgConfidence,
		Languages:  languages,
		Engine:     "vision",
	}, nil
}

// Close closes the underlying Vision client.
func (g *VisionEngine) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}
