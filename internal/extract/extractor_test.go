package extract

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"envreport/internal/document/documenttest"
	"envreport/internal/ocr"
)

// imageOCR returns a fixed text per rendered image.
type imageOCR struct {
	byImage map[string]string
	err     error
	calls   int
}

func (f *imageOCR) Name() string { return "fake" }

func (f *imageOCR) Recognize(_ context.Context, image []byte) (ocr.Result, error) {
	f.calls++
	if f.err != nil {
		return ocr.Result{}, f.err
	}
	return ocr.Result{Text: f.byImage[string(image)], Engine: "fake"}, nil
}

func collect(t *testing.T, it *PageIterator) []Page {
	t.Helper()
	var pages []Page
	for it.Next() {
		pages = append(pages, it.Page())
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterator error: %v", err)
	}
	return pages
}

func texts(pages []Page) []string {
	out := make([]string, len(pages))
	for i, p := range pages {
		out[i] = p.Text
	}
	return out
}

func fivePages() *documenttest.Doc {
	return documenttest.New(
		"Rapport d'impact environnemental",
		"Qualité de l'eau: pH 7,2 et DBO5 12 mg/L",
		"",
		"Qualité de l'air: PM10 35 µg/m3",
		"Annexe: méthodes d'échantillonnage",
	)
}

func TestPages_OCRFallbackScenario(t *testing.T) {
	doc := fivePages()
	engine := &imageOCR{byImage: map[string]string{"image-2": "deferred"}}

	pages := collect(t, New(DefaultOptions(), engine).Pages(context.Background(), doc))

	if len(pages) != 5 {
		t.Fatalf("expected 5 pages, got %d", len(pages))
	}
	want := []string{
		"Rapport d'impact environnemental",
		"Qualité de l'eau: pH 7,2 et DBO5 12 mg/L",
		"deferred",
		"Qualité de l'air: PM10 35 µg/m3",
		"Annexe: méthodes d'échantillonnage",
	}
	if got := texts(pages); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected texts:\n got %q\nwant %q", got, want)
	}
	if pages[2].Origin != OriginOCR {
		t.Fatalf("expected page 2 from OCR, got %s", pages[2].Origin)
	}
	if !reflect.DeepEqual(doc.Rendered(), []int{2}) {
		t.Fatalf("only the empty page should be rendered, got %v", doc.Rendered())
	}
}

func TestPages_FallbackDisabled(t *testing.T) {
	doc := fivePages()
	engine := &imageOCR{byImage: map[string]string{"image-2": "deferred"}}
	opts := DefaultOptions()
	opts.OCRFallback = false

	it := New(opts, engine).Pages(context.Background(), doc)
	pages := collect(t, it)

	if pages[2].Text != "" || pages[2].Origin != OriginNone {
		t.Fatalf("expected empty page without OCR, got %+v", pages[2])
	}
	if engine.calls != 0 {
		t.Fatalf("OCR must not run when fallback is off")
	}
	if s := it.Summary(); s.Empty != 1 || s.Failed != 0 || s.OCRUsed != 0 {
		t.Fatalf("unexpected summary %+v", s)
	}
}

func TestPages_FailureIsolation(t *testing.T) {
	doc := documenttest.New("page one has plenty of text", "", "page three has plenty of text")
	doc.Pages[1].TextErr = errors.New("corrupt content stream")
	doc.Pages[1].RenderErr = errors.New("render failed")

	it := New(DefaultOptions(), &imageOCR{}).Pages(context.Background(), doc)
	pages := collect(t, it)

	if len(pages) != 3 {
		t.Fatalf("a failing page must not stop the sequence, got %d pages", len(pages))
	}
	if pages[1].Text != "" || pages[1].Err == nil {
		t.Fatalf("expected failed empty page, got %+v", pages[1])
	}
	s := it.Summary()
	if s.Failed != 1 || s.Processed != 3 || !reflect.DeepEqual(s.FailedPages, []int{1}) {
		t.Fatalf("unexpected summary %+v", s)
	}
	if s.String() != "1 of 3 pages failed" {
		t.Fatalf("unexpected summary text %q", s.String())
	}
}

func TestPages_OCRErrorKeepsShortNativeText(t *testing.T) {
	doc := documenttest.New("p. 4")
	engine := &imageOCR{err: ocr.ErrOCRFailed}

	pages := collect(t, New(DefaultOptions(), engine).Pages(context.Background(), doc))

	if pages[0].Text != "p. 4" || pages[0].Origin != OriginNative || pages[0].Err != nil {
		t.Fatalf("expected short native text kept, got %+v", pages[0])
	}
	if engine.calls != 1 {
		t.Fatalf("expected one OCR attempt for short text, got %d", engine.calls)
	}
}

func TestPages_OCRErrorOnEmptyPageFails(t *testing.T) {
	doc := documenttest.New("")
	engine := &imageOCR{err: ocr.ErrOCRFailed}

	it := New(DefaultOptions(), engine).Pages(context.Background(), doc)
	pages := collect(t, it)

	if !errors.Is(pages[0].Err, ocr.ErrOCRFailed) {
		t.Fatalf("expected OCR error on the page, got %v", pages[0].Err)
	}
	if it.Summary().Failed != 1 {
		t.Fatalf("expected the page counted as failed")
	}
}

func TestPages_NoImageSourceSkipsOCR(t *testing.T) {
	doc := documenttest.New("")
	doc.Pages[0].Image = nil
	engine := &imageOCR{}

	pages := collect(t, New(DefaultOptions(), engine).Pages(context.Background(), doc))

	if pages[0].Err != nil || pages[0].Origin != OriginNone {
		t.Fatalf("a source without images is empty, not failed: %+v", pages[0])
	}
	if engine.calls != 0 {
		t.Fatalf("OCR must not run without an image")
	}
}

func TestPages_AscendingAndIdempotent(t *testing.T) {
	engine := &imageOCR{byImage: map[string]string{"image-2": "deferred"}}
	ex := New(DefaultOptions(), engine)

	first := collect(t, ex.Pages(context.Background(), fivePages()))
	second := collect(t, ex.Pages(context.Background(), fivePages()))

	for i, p := range first {
		if p.Index != i {
			t.Fatalf("expected index %d, got %d", i, p.Index)
		}
	}
	if !reflect.DeepEqual(texts(first), texts(second)) {
		t.Fatalf("re-running extraction must yield identical output")
	}
}

func TestPages_StopAndContext(t *testing.T) {
	doc := fivePages()
	it := New(DefaultOptions(), nil).Pages(context.Background(), doc)
	it.Next()
	it.Next()
	it.Stop()
	if it.Next() {
		t.Fatalf("Next must return false after Stop")
	}
	if it.Summary().Processed != 2 {
		t.Fatalf("expected 2 processed pages, got %d", it.Summary().Processed)
	}

	ctx, cancel := context.WithCancel(context.Background())
	it = New(DefaultOptions(), nil).Pages(ctx, fivePages())
	it.Next()
	cancel()
	if it.Next() {
		t.Fatalf("Next must return false once the context is done")
	}
	if !errors.Is(it.Err(), context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", it.Err())
	}
}

func TestUsable(t *testing.T) {
	ex := New(Options{MinChars: 5}, nil)
	if ex.usable("a b c d") {
		t.Fatalf("4 visible runes must be below a threshold of 5")
	}
	if !ex.usable("éèàùç") {
		t.Fatalf("runes, not bytes, must be counted")
	}
	zero := New(Options{MinChars: 0}, nil)
	if zero.usable("  \n") || !zero.usable("x") {
		t.Fatalf("threshold 0 means any visible text is usable")
	}
}
