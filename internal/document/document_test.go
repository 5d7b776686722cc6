package document

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestRegistry_OpenText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.md")
	if err := os.WriteFile(path, []byte("pH: 7.2\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	doc, err := NewRegistry().Open(context.Background(), path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer doc.Close()

	if doc.PageCount() != 1 {
		t.Fatalf("expected 1 page, got %d", doc.PageCount())
	}
	text, err := doc.PageText(context.Background(), 0)
	if err != nil || text != "pH: 7.2\n" {
		t.Fatalf("unexpected page text %q, %v", text, err)
	}
	if _, err := doc.RenderPage(context.Background(), 0, 200); !errors.Is(err, ErrNoImage) {
		t.Fatalf("expected ErrNoImage, got %v", err)
	}
	if _, err := doc.PageText(context.Background(), 1); !errors.Is(err, ErrPageOutOfRange) {
		t.Fatalf("expected ErrPageOutOfRange, got %v", err)
	}
}

func TestRegistry_OpenImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.PNG")
	payload := []byte{0x89, 'P', 'N', 'G'}
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	doc, err := NewRegistry().Open(context.Background(), path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	text, err := doc.PageText(context.Background(), 0)
	if err != nil || text != "" {
		t.Fatalf("expected empty native text, got %q, %v", text, err)
	}
	img, err := doc.RenderPage(context.Background(), 0, 300)
	if err != nil || string(img) != string(payload) {
		t.Fatalf("expected file bytes as rendering, got %v, %v", img, err)
	}
}

func TestRegistry_OpenSpreadsheet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mesures.xlsx")
	f := excelize.NewFile()
	_ = f.SetCellValue("Sheet1", "A1", "Paramètre")
	_ = f.SetCellValue("Sheet1", "B1", "Valeur")
	_ = f.SetCellValue("Sheet1", "A2", "pH")
	_ = f.SetCellValue("Sheet1", "B2", "7.1")
	if _, err := f.NewSheet("Air"); err != nil {
		t.Fatalf("new sheet: %v", err)
	}
	_ = f.SetCellValue("Air", "A1", "PM10")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	doc, err := NewRegistry().Open(context.Background(), path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer doc.Close()

	if doc.PageCount() != 2 {
		t.Fatalf("expected one page per sheet, got %d", doc.PageCount())
	}
	text, err := doc.PageText(context.Background(), 0)
	if err != nil {
		t.Fatalf("page text: %v", err)
	}
	if text != "Paramètre | Valeur\npH | 7.1\n" {
		t.Fatalf("unexpected sheet text %q", text)
	}
	second, _ := doc.PageText(context.Background(), 1)
	if second != "PM10\n" {
		t.Fatalf("unexpected second sheet text %q", second)
	}
}

func TestRegistry_Unsupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.docx")
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	r := NewRegistry()
	if r.Supports(path) {
		t.Fatalf("docx must not be supported")
	}
	if _, err := r.Open(context.Background(), path); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}

	r.Register(OpenText, ".docx")
	if !r.Supports(path) {
		t.Fatalf("expected registered extension to be supported")
	}
}

func TestRegistry_MissingFile(t *testing.T) {
	if _, err := NewRegistry().Open(context.Background(), filepath.Join(t.TempDir(), "missing.txt")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}
