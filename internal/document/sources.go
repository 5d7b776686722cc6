package document

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"
)

// textDocument is a plain text or markdown file, exposed as a single page.
type textDocument struct {
	path string
	text string
}

// OpenText opens a UTF-8 text file as a one-page document.
func OpenText(_ context.Context, path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read text %s: %w", path, err)
	}
	return &textDocument{path: path, text: string(data)}, nil
}

func (d *textDocument) Path() string   { return d.path }
func (d *textDocument) PageCount() int { return 1 }
func (d *textDocument) Close() error   { return nil }

func (d *textDocument) PageText(ctx context.Context, i int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := checkIndex(i, 1); err != nil {
		return "", err
	}
	return d.text, nil
}

func (d *textDocument) RenderPage(_ context.Context, i int, _ int) ([]byte, error) {
	if err := checkIndex(i, 1); err != nil {
		return nil, err
	}
	return nil, ErrNoImage
}

// imageDocument is a scanned page: no embedded text, and the file itself is the rendering.
type imageDocument struct {
	path string
}

// OpenImage opens an image file as a one-page document with no native text.
// The image is read lazily when the page is rendered.
func OpenImage(_ context.Context, path string) (Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image %s: %w", path, err)
	}
	_ = f.Close()
	return &imageDocument{path: path}, nil
}

func (d *imageDocument) Path() string   { return d.path }
func (d *imageDocument) PageCount() int { return 1 }
func (d *imageDocument) Close() error   { return nil }

func (d *imageDocument) PageText(_ context.Context, i int) (string, error) {
	return "", checkIndex(i, 1)
}

func (d *imageDocument) RenderPage(ctx context.Context, i int, _ int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkIndex(i, 1); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(d.path)
	if err != nil {
		return nil, fmt.Errorf("read image %s: %w", d.path, err)
	}
	return data, nil
}

// spreadsheetDocument exposes each worksheet as one page.
type spreadsheetDocument struct {
	path   string
	file   *excelize.File
	sheets []string
}

// OpenSpreadsheet opens an xlsx workbook. Page i is worksheet i, with each
// row rendered as its non-empty cells joined by " | ".
func OpenSpreadsheet(_ context.Context, path string) (Document, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	return &spreadsheetDocument{path: path, file: f, sheets: f.GetSheetList()}, nil
}

func (d *spreadsheetDocument) Path() string   { return d.path }
func (d *spreadsheetDocument) PageCount() int { return len(d.sheets) }

func (d *spreadsheetDocument) Close() error {
	return d.file.Close()
}

func (d *spreadsheetDocument) PageText(ctx context.Context, i int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := checkIndex(i, len(d.sheets)); err != nil {
		return "", err
	}

	rows, err := d.file.GetRows(d.sheets[i])
	if err != nil {
		return "", fmt.Errorf("read sheet %q: %w", d.sheets[i], err)
	}

	var b strings.Builder
	for _, row := range rows {
		cells := make([]string, 0, len(row))
		for _, cell := range row {
			if cell = strings.TrimSpace(cell); cell != "" {
				cells = append(cells, cell)
			}
		}
		if len(cells) == 0 {
			continue
		}
		b.WriteString(strings.Join(cells, " | "))
		b.WriteByte('\n')
	}
	return b.String(), nil
}

func (d *spreadsheetDocument) RenderPage(_ context.Context, i int, _ int) ([]byte, error) {
	if err := checkIndex(i, len(d.sheets)); err != nil {
		return nil, err
	}
	return nil, ErrNoImage
}
