// Package tesseract provides the local OCR engine. It links libtesseract
// through gosseract and therefore requires cgo.
package tesseract

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"envreport/internal/ocr"
)

// Engine implements ocr.Engine with a fresh gosseract client per page.
type Engine struct {
	clientFactory func() *gosseract.Client
	languages     []string
	dpi           int
}

// New returns an engine for the given tesseract languages (e.g. "eng", "fra")
// and the DPI pages are rendered at.
func New(languages []string, dpi int) *Engine {
	return &Engine{
		clientFactory: gosseract.NewClient,
		languages:     languages,
		dpi:           dpi,
	}
}

func (e *Engine) Name() string { return "tesseract" }

// Recognize runs tesseract on one image.
func (e *Engine) Recognize(ctx context.Context, image []byte) (ocr.Result, error) {
	const op = "Recognize"

	if err := ctx.Err(); err != nil {
		return ocr.Result{}, err
	}
	if len(image) == 0 {
		return ocr.Result{}, ocr.WrapOCRError(op, e.Name(), ocr.ErrInvalidImage, "empty image")
	}

	c := e.clientFactory()
	defer c.Close()

	if err := c.SetImageFromBytes(image); err != nil {
		return ocr.Result{}, ocr.WrapOCRError(op, e.Name(), ocr.ErrInvalidImage, fmt.Sprintf("set image: %v", err))
	}
	if len(e.languages) > 0 {
		if err := c.SetLanguage(e.languages...); err != nil {
			return ocr.Result{}, ocr.WrapOCRError(op, e.Name(), err, "set languages")
		}
	}
	if e.dpi > 0 {
		if err := c.SetVariable(gosseract.SettableVariable("user_defined_dpi"), fmt.Sprint(e.dpi)); err != nil {
			return ocr.Result{}, ocr.WrapOCRError(op, e.Name(), err, "set dpi")
		}
	}

	text, err := c.Text()
	if err != nil {
		return ocr.Result{}, ocr.WrapOCRError(op, e.Name(), ocr.ErrOCRFailed, fmt.Sprintf("recognize text: %v", err))
	}

	return ocr.Result{
		Text:       ocr.Normalize(strings.TrimSpace(text)),
		Confidence: meanConfidence(c),
		Languages:  e.languages,
		Engine:     e.Name(),
	}, nil
}

// meanConfidence averages word confidences, scaled to [0, 1].
func meanConfidence(c *gosseract.Client) float32 {
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return 0
	}
	var sum float64
	for _, b := range boxes {
		sum += b.Confidence / 100.0
	}
	return float32(sum / float64(len(boxes)))
}
