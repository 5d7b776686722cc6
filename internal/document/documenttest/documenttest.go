// Package documenttest provides an in-memory Document for tests.
package documenttest

import (
	"context"
	"fmt"
	"sync"

	"envreport/internal/document"
)

// Page describes one fake page.
type Page struct {
	Text      string
	TextErr   error
	Image     []byte
	RenderErr error
}

// Doc is an in-memory document. It records which pages were read.
type Doc struct {
	Name  string
	Pages []Page

	// OnPageText, if set, runs before page i's text is returned.
	OnPageText func(i int)

	mu       sync.Mutex
	textRead []int
	rendered []int
	closed   bool
}

// New returns a document whose pages have the given native texts.
func New(texts ...string) *Doc {
	d := &Doc{Name: "memory.pdf"}
	for i, t := range texts {
		d.Pages = append(d.Pages, Page{Text: t, Image: []byte(fmt.Sprintf("image-%d", i))})
	}
	return d
}

func (d *Doc) Path() string   { return d.Name }
func (d *Doc) PageCount() int { return len(d.Pages) }

func (d *Doc) PageText(_ context.Context, i int) (string, error) {
	if i < 0 || i >= len(d.Pages) {
		return "", document.ErrPageOutOfRange
	}
	if d.OnPageText != nil {
		d.OnPageText(i)
	}
	d.mu.Lock()
	d.textRead = append(d.textRead, i)
	d.mu.Unlock()
	p := d.Pages[i]
	return p.Text, p.TextErr
}

func (d *Doc) RenderPage(_ context.Context, i int, _ int) ([]byte, error) {
	if i < 0 || i >= len(d.Pages) {
		return nil, document.ErrPageOutOfRange
	}
	d.mu.Lock()
	d.rendered = append(d.rendered, i)
	d.mu.Unlock()
	p := d.Pages[i]
	if p.RenderErr != nil {
		return nil, p.RenderErr
	}
	if p.Image == nil {
		return nil, document.ErrNoImage
	}
	return p.Image, nil
}

func (d *Doc) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// TextRead returns the page indexes whose text was requested, in order.
func (d *Doc) TextRead() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int(nil), d.textRead...)
}

// Rendered returns the page indexes that were rendered, in order.
func (d *Doc) Rendered() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int(nil), d.rendered...)
}

// Closed reports whether Close was called.
func (d *Doc) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Opener returns an open function that always yields d.
func (d *Doc) Opener() document.OpenFunc {
	return func(context.Context, string) (document.Document, error) { return d, nil }
}
