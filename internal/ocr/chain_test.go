package ocr

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"google.golang.org/genproto/googleapis/rpc/status"
)

type fakeEngine struct {
	name  string
	text  string
	err   error
	calls int
}

func (f *fakeEngine) Name() string { return f.name }

func (f *fakeEngine) Recognize(context.Context, []byte) (Result, error) {
	f.calls++
	if f.err != nil {
		return Result{}, f.err
	}
	return Result{Text: f.text}, nil
}

func TestChain_FirstNonEmptyWins(t *testing.T) {
	failing := &fakeEngine{name: "tesseract", err: errors.New("no eng.traineddata")}
	empty := &fakeEngine{name: "documentai", text: "  \n"}
	good := &fakeEngine{name: "vision", text: "deferred"}
	unused := &fakeEngine{name: "spare", text: "never"}

	c := NewChain(failing, nil, empty, good, unused)
	if c.Len() != 4 {
		t.Fatalf("expected nil engine skipped, got %d engines", c.Len())
	}
	if c.Name() != "tesseract+documentai+vision+spare" {
		t.Fatalf("unexpected chain name %q", c.Name())
	}

	res, err := c.Recognize(context.Background(), []byte("img"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "deferred" || res.Engine != "vision" {
		t.Fatalf("unexpected result %+v", res)
	}
	if unused.calls != 0 {
		t.Fatalf("engines after the winner must not run")
	}
}

func TestChain_AllFail(t *testing.T) {
	c := NewChain(&fakeEngine{name: "a", err: errors.New("boom")}, &fakeEngine{name: "b", text: ""})

	_, err := c.Recognize(context.Background(), []byte("img"))
	if !errors.Is(err, ErrOCRFailed) {
		t.Fatalf("expected ErrOCRFailed, got %v", err)
	}
	var ocrErr *OCRError
	if !errors.As(err, &ocrErr) || ocrErr.Op != "Chain.Recognize" {
		t.Fatalf("expected OCRError from chain, got %v", err)
	}
}

func TestChain_AllEmpty(t *testing.T) {
	c := NewChain(&fakeEngine{name: "a"})
	if _, err := c.Recognize(context.Background(), nil); !errors.Is(err, ErrNoText) {
		t.Fatalf("expected ErrNoText, got %v", err)
	}
	if _, err := NewChain().Recognize(context.Background(), nil); !errors.Is(err, ErrNoEngine) {
		t.Fatalf("expected ErrNoEngine, got %v", err)
	}
}

func TestChain_StopsOnCancelledContext(t *testing.T) {
	e := &fakeEngine{name: "a", text: "x"}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewChain(e).Recognize(ctx, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if e.calls != 0 {
		t.Fatalf("engine must not run after cancellation")
	}
}

func TestVisionResult(t *testing.T) {
	resp := &visionpb.AnnotateImageResponse{
		FullTextAnnotation: &visionpb.TextAnnotation{
			Text: "Paramètre\tValeur\r\npH   7,2\n",
			Pages: []*visionpb.Page{
				{
					Confidence: 0.9,
					Property: &visionpb.TextAnnotation_TextProperty{
						DetectedLanguages: []*visionpb.TextAnnotation_DetectedLanguage{
							{LanguageCode: "fr"}, {LanguageCode: "en"},
						},
					},
				},
				{Confidence: 0.7},
			},
		},
	}

	res, err := visionResult(resp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "Paramètre Valeur\npH 7,2" {
		t.Fatalf("unexpected text %q", res.Text)
	}
	if res.Confidence < 0.79 || res.Confidence > 0.81 {
		t.Fatalf("expected mean confidence 0.8, got %v", res.Confidence)
	}
	if len(res.Languages) != 2 || res.Languages[0] != "en" || res.Languages[1] != "fr" {
		t.Fatalf("unexpected languages %v", res.Languages)
	}

	_, err = visionResult(&visionpb.AnnotateImageResponse{Error: &status.Status{Message: "bad image"}})
	if !errors.Is(err, ErrOCRFailed) {
		t.Fatalf("expected ErrOCRFailed for API error, got %v", err)
	}

	empty, err := visionResult(&visionpb.AnnotateImageResponse{})
	if err != nil || !empty.Empty() {
		t.Fatalf("expected empty result without error, got %+v, %v", empty, err)
	}
}

func TestLanguages(t *testing.T) {
	langs := ParseLanguages("eng+FRA")
	if len(langs) != 2 || langs[0] != "eng" || langs[1] != "fra" {
		t.Fatalf("unexpected languages %v", langs)
	}
	hints := LanguageHints(append(langs, "xyz", "de"))
	if len(hints) != 3 || hints[0] != "en" || hints[1] != "fr" || hints[2] != "de" {
		t.Fatalf("unexpected hints %v", hints)
	}
}

func TestImageMIMEType(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n0000")
	if ct, err := imageMIMEType(png); err != nil || ct != "image/png" {
		t.Fatalf("expected image/png, got %q, %v", ct, err)
	}
	if ct, err := imageMIMEType([]byte("II*\x00rest")); err != nil || ct != "image/tiff" {
		t.Fatalf("expected image/tiff, got %q, %v", ct, err)
	}
	if _, err := imageMIMEType([]byte("plain text")); !errors.Is(err, ErrInvalidImage) {
		t.Fatalf("expected ErrInvalidImage, got %v", err)
	}
}
