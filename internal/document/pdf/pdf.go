// Package pdf opens PDF files for page-by-page text extraction and rendering.
// It links MuPDF through go-fitz and therefore requires cgo.
package pdf

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"sync"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rs/zerolog"

	"envreport/internal/document"
	"envreport/internal/logger"
)

// Extensions handled by Open.
var Extensions = []string{".pdf"}

// Document is a PDF opened with MuPDF.
type Document struct {
	path  string
	pages int

	mu  sync.Mutex
	doc *fitz.Document
	log zerolog.Logger
}

// Open validates path with pdfcpu in relaxed mode and opens it with MuPDF.
// A validation failure is only logged: MuPDF repairs many files pdfcpu rejects.
func Open(ctx context.Context, path string) (document.Document, error) {
	const op = "pdf.Open"

	log := logger.WithComponent("pdf").With().Str("file", path).Logger()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if err := api.ValidateFile(path, conf); err != nil {
		log.Warn().Err(err).Msg("PDF validation failed, trying MuPDF anyway")
	}

	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to open PDF: %w", op, err)
	}

	pages := doc.NumPage()
	if counted, err := api.PageCountFile(path); err == nil && counted != pages {
		log.Debug().
			Int("mupdf_pages", pages).
			Int("pdfcpu_pages", counted).
			Msg("Page count mismatch, using MuPDF")
	}

	log.Debug().Int("pages", pages).Msg("PDF opened")

	return &Document{
		path:  path,
		pages: pages,
		doc:   doc,
		log:   log,
	}, nil
}

func (d *Document) Path() string   { return d.path }
func (d *Document) PageCount() int { return d.pages }

// PageText returns the text layer of page i.
func (d *Document) PageText(ctx context.Context, i int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if i < 0 || i >= d.pages {
		return "", fmt.Errorf("%w: %d (pages: %d)", document.ErrPageOutOfRange, i, d.pages)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	text, err := d.doc.Text(i)
	if err != nil {
		return "", fmt.Errorf("extract text of page %d: %w", i+1, err)
	}
	return text, nil
}

// RenderPage rasterizes page i at dpi and encodes it as PNG.
func (d *Document) RenderPage(ctx context.Context, i int, dpi int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if i < 0 || i >= d.pages {
		return nil, fmt.Errorf("%w: %d (pages: %d)", document.ErrPageOutOfRange, i, d.pages)
	}

	d.mu.Lock()
	img, err := d.doc.ImageDPI(i, float64(dpi))
	d.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("render page %d at %d dpi: %w", i+1, dpi, err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode page %d: %w", i+1, err)
	}
	return buf.Bytes(), nil
}

func (d *Document) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.Close()
}
