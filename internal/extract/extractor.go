// Package extract walks a document page by page, falling back to OCR for
// pages without usable embedded text.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"envreport/internal/document"
	"envreport/internal/logger"
	"envreport/internal/ocr"
)

// Origin tells where a page's text came from.
type Origin string

const (
	OriginNative Origin = "native"
	OriginOCR    Origin = "ocr"
	OriginNone   Origin = "none"
)

// Page is the extraction output for one page.
type Page struct {
	Index  int
	Text   string
	Origin Origin

	// Err is set when the page produced no text because a step failed.
	// Errors that were recovered from (e.g. OCR failing on a page that still
	// had native text) are only logged.
	Err error
}

// Options control extraction.
type Options struct {
	// OCRFallback enables OCR for pages whose native text is below MinChars.
	OCRFallback bool

	// MinChars is the number of non-space characters under which native text
	// is considered unusable.
	MinChars int

	// DPI is the resolution pages are rendered at for OCR.
	DPI int
}

// DefaultOptions returns OCR fallback on, a 10 character threshold and 200 DPI.
func DefaultOptions() Options {
	return Options{OCRFallback: true, MinChars: 10, DPI: 200}
}

// Extractor produces page sequences. It holds no per-document state and can
// be shared between runs.
type Extractor struct {
	opts Options
	ocr  ocr.Engine
	log  zerolog.Logger
}

// New returns an extractor. engine may be nil, in which case OCR fallback is
// never attempted.
func New(opts Options, engine ocr.Engine) *Extractor {
	if opts.DPI <= 0 {
		opts.DPI = 200
	}
	if opts.MinChars < 0 {
		opts.MinChars = 0
	}
	return &Extractor{
		opts: opts,
		ocr:  engine,
		log:  logger.WithComponent("extract"),
	}
}

// Options returns the effective options.
func (e *Extractor) Options() Options { return e.opts }

// WithLogger returns a copy of e that logs to log.
func (e *Extractor) WithLogger(log zerolog.Logger) *Extractor {
	c := *e
	c.log = log
	return &c
}

// Pages starts a single forward pass over doc. Pages are produced lazily in
// ascending order; only the current page is held in memory.
func (e *Extractor) Pages(ctx context.Context, doc document.Document) *PageIterator {
	return &PageIterator{
		ctx:     ctx,
		ex:      e,
		doc:     doc,
		summary: Summary{Total: doc.PageCount()},
	}
}

// PageIterator yields the pages of one document.
//
//	it := ex.Pages(ctx, doc)
//	for it.Next() {
//		p := it.Page()
//		...
//	}
//	if err := it.Err(); err != nil { ... }
type PageIterator struct {
	ctx     context.Context
	ex      *Extractor
	doc     document.Document
	next    int
	cur     Page
	summary Summary
	err     error
	stopped bool
}

// Next extracts the next page. It returns false when every page has been
// produced, after Stop, or when the context is done.
func (it *PageIterator) Next() bool {
	if it.stopped || it.next >= it.summary.Total {
		return false
	}
	if err := it.ctx.Err(); err != nil {
		it.err = err
		it.stopped = true
		return false
	}

	it.cur = it.ex.extractPage(it.ctx, it.doc, it.next)
	it.next++

	it.summary.Processed++
	switch {
	case it.cur.Err != nil:
		it.summary.Failed++
		it.summary.FailedPages = append(it.summary.FailedPages, it.cur.Index)
	case it.cur.Origin == OriginNone:
		it.summary.Empty++
	}
	if it.cur.Origin == OriginOCR {
		it.summary.OCRUsed++
	}
	return true
}

// Page returns the page produced by the last successful Next.
func (it *PageIterator) Page() Page { return it.cur }

// Stop ends the sequence early. Later calls to Next return false.
func (it *PageIterator) Stop() { it.stopped = true }

// Err returns the context error that ended the sequence, if any. Page
// failures are not reported here; see Page.Err and Summary.
func (it *PageIterator) Err() error { return it.err }

// Summary returns counts for the pages produced so far.
func (it *PageIterator) Summary() Summary {
	s := it.summary
	s.FailedPages = append([]int(nil), it.summary.FailedPages...)
	return s
}

// Summary counts the outcome of a pass.
type Summary struct {
	Total       int   `json:"total"`
	Processed   int   `json:"processed"`
	Failed      int   `json:"failed"`
	Empty       int   `json:"empty"`
	OCRUsed     int   `json:"ocr_used"`
	FailedPages []int `json:"failed_pages,omitempty"`
}

func (s Summary) String() string {
	return fmt.Sprintf("%d of %d pages failed", s.Failed, s.Total)
}

func (e *Extractor) extractPage(ctx context.Context, doc document.Document, i int) Page {
	log := e.log.With().Int("page", i+1).Int("pages", doc.PageCount()).Logger()

	page := Page{Index: i, Origin: OriginNone}

	native, nativeErr := doc.PageText(ctx, i)
	if nativeErr != nil {
		log.Warn().Err(nativeErr).Msg("Native text extraction failed")
		native = ""
	}

	if !e.usable(native) && e.opts.OCRFallback && e.ocr != nil {
		text, ocrErr := e.recognize(ctx, doc, i)
		if ocrErr == nil && text != "" {
			page.Text = text
			page.Origin = OriginOCR
			log.Debug().Int("chars", len(text)).Msg("Page text from OCR")
			return page
		}
		if ocrErr != nil {
			log.Warn().Err(ocrErr).Msg("OCR fallback failed")
		}
		if native == "" {
			page.Err = errors.Join(nativeErr, ocrErr)
		}
	} else if native == "" {
		page.Err = nativeErr
	}

	if native != "" {
		page.Text = native
		page.Origin = OriginNative
	}
	return page
}

func (e *Extractor) recognize(ctx context.Context, doc document.Document, i int) (string, error) {
	img, err := doc.RenderPage(ctx, i, e.opts.DPI)
	if err != nil {
		if errors.Is(err, document.ErrNoImage) {
			return "", nil
		}
		return "", fmt.Errorf("render page %d: %w", i+1, err)
	}

	res, err := e.ocr.Recognize(ctx, img)
	if err != nil {
		if errors.Is(err, ocr.ErrNoText) {
			return "", nil
		}
		return "", err
	}
	if res.Empty() {
		return "", nil
	}
	return res.Text, nil
}

// usable reports whether text has at least MinChars non-space runes.
func (e *Extractor) usable(text string) bool {
	if e.opts.MinChars == 0 {
		return strings.TrimSpace(text) != ""
	}
	if utf8.RuneCountInString(text) < e.opts.MinChars {
		return false
	}
	n := 0
	for _, r := range text {
		if !unicode.IsSpace(r) {
			n++
			if n >= e.opts.MinChars {
				return true
			}
		}
	}
	return false
}
