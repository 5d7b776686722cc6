// Package document opens input files as an ordered, read-only sequence of pages.
//
// A Document never loads every page at once: callers ask for the native text
// of one page, or a rendered image of it for OCR, and move on.
package document

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var (
	// ErrUnsupportedFormat is returned when no opener handles the file extension.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrPageOutOfRange is returned for a page index outside [0, PageCount).
	ErrPageOutOfRange = errors.New("page index out of range")

	// ErrNoImage is returned by RenderPage when a source has no visual form.
	ErrNoImage = errors.New("page cannot be rendered to an image")
)

// Document is an opened input file.
type Document interface {
	// Path returns the file the document was opened from.
	Path() string

	// PageCount returns the number of pages. It never changes after Open.
	PageCount() int

	// PageText returns the text embedded in page i, possibly empty.
	PageText(ctx context.Context, i int) (string, error)

	// RenderPage returns page i as an encoded image at the given resolution.
	RenderPage(ctx context.Context, i int, dpi int) ([]byte, error)

	Close() error
}

// OpenFunc opens one kind of document.
type OpenFunc func(ctx context.Context, path string) (Document, error)

// Registry maps file extensions to openers.
type Registry struct {
	openers map[string]OpenFunc
}

// NewRegistry returns a registry that handles text, markdown, image and
// spreadsheet files. PDF support lives in a subpackage and is registered by
// the caller so that cgo stays out of packages that do not need it.
func NewRegistry() *Registry {
	r := &Registry{openers: make(map[string]OpenFunc)}
	r.Register(OpenText, ".txt", ".md", ".markdown")
	r.Register(OpenImage, ".png", ".jpg", ".jpeg", ".tif", ".tiff", ".bmp", ".gif", ".webp")
	r.Register(OpenSpreadsheet, ".xlsx", ".xlsm")
	return r
}

// Register binds open to each extension, replacing any previous binding.
func (r *Registry) Register(open OpenFunc, exts ...string) {
	for _, ext := range exts {
		r.openers[strings.ToLower(ext)] = open
	}
}

// Supports reports whether path has a registered extension.
func (r *Registry) Supports(path string) bool {
	_, ok := r.openers[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Extensions returns the registered extensions in sorted order.
func (r *Registry) Extensions() []string {
	out := make([]string, 0, len(r.openers))
	for ext := range r.openers {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// Open opens path with the opener registered for its extension.
func (r *Registry) Open(ctx context.Context, path string) (Document, error) {
	const op = "Open"

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s: %s is not a regular file", op, path)
	}

	ext := strings.ToLower(filepath.Ext(path))
	open, ok := r.openers[ext]
	if !ok {
		return nil, fmt.Errorf("%s: %s: %w (%q)", op, path, ErrUnsupportedFormat, ext)
	}

	doc, err := open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return doc, nil
}

func checkIndex(i, count int) error {
	if i < 0 || i >= count {
		return fmt.Errorf("%w: %d (pages: %d)", ErrPageOutOfRange, i, count)
	}
	return nil
}
