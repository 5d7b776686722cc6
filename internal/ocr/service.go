// Package ocr turns rendered page images into text.
//
// Engines:
//   - tesseract (subpackage tesseract): local, needs libtesseract with the
//     configured language data (eng+fra by default)
//   - vision: Google Cloud Vision DOCUMENT_TEXT_DETECTION on one image
//   - documentai: a Google Document AI OCR processor
//
// Cloud engines read credentials from GOOGLE_APPLICATION_CREDENTIALS or
// GOOGLE_CREDENTIALS, falling back to application default credentials.
//
// Engines are combined with Chain, which returns the first non-empty result.
package ocr

import (
	"context"
	"strings"
)

// Engine recognizes the text of one page image.
type Engine interface {
	// Name identifies the engine in logs and results.
	Name() string

	// Recognize returns the text found in image (PNG, JPEG or TIFF bytes).
	Recognize(ctx context.Context, image []byte) (Result, error)
}

// Result is the output of one recognition.
type Result struct {
	Text string `json:"text"`

	// Confidence is the engine's mean confidence in [0, 1], or 0 if it reports none.
	Confidence float32 `json:"confidence,omitempty"`

	Languages []string `json:"languages,omitempty"`

	// Engine names the engine that produced the text.
	Engine string `json:"engine"`
}

// Empty reports whether the result carries no visible text.
func (r Result) Empty() bool {
	return strings.TrimSpace(r.Text) == ""
}

// ParseLanguages splits a tesseract-style language spec such as "eng+fra".
func ParseLanguages(spec string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(spec, func(r rune) bool {
		return r == '+' || r == ',' || r == ' '
	}) {
		out = append(out, strings.ToLower(part))
	}
	return out
}

var isoLanguages = map[string]string{
	"eng": "en",
	"fra": "fr",
	"deu": "de",
	"spa": "es",
	"ita": "it",
	"por": "pt",
	"nld": "nl",
	"ara": "ar",
}

// LanguageHints converts tesseract codes to the BCP-47 hints cloud engines expect.
// Unknown three-letter codes are dropped; two-letter codes pass through.
func LanguageHints(langs []string) []string {
	var out []string
	for _, l := range langs {
		if iso, ok := isoLanguages[l]; ok {
			out = append(out, iso)
		} else if len(l) == 2 {
			out = append(out, l)
		}
	}
	return out
}
