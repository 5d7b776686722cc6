package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"envreport/internal/analysis"
	"envreport/internal/logger"
	"envreport/internal/pipeline"
	"envreport/internal/progress"
	"envreport/internal/sink"
)

func TestFindDocuments(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.pdf", "b.txt", "c.docx", "grille_updated.xlsx", ".cache/d.txt", "sub/e.png"} {
		p := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	got, err := findDocuments(documentRegistry(), dir)
	if err != nil {
		t.Fatalf("findDocuments: %v", err)
	}
	var names []string
	for _, p := range got {
		rel, _ := filepath.Rel(dir, p)
		names = append(names, filepath.ToSlash(rel))
	}
	if strings.Join(names, ",") != "a.pdf,b.txt,sub/e.png" {
		t.Fatalf("unexpected documents %v", names)
	}

	if _, err := findDocuments(documentRegistry(), t.TempDir()); !errors.Is(err, errNoDocuments) {
		t.Fatalf("expected errNoDocuments, got %v", err)
	}
}

func TestHandleRunError(t *testing.T) {
	log := logger.Nop()
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("run: %w", pipeline.ErrNoText), "no text found"},
		{fmt.Errorf("append: %w", sink.ErrSinkUnwritable), "SINK_FAILURE_POLICY=memory"},
		{&analysis.ChainError{}, "every analysis provider failed"},
		{&analysis.ChainError{Attempts: []analysis.Attempt{
			{Provider: "openai", Err: &analysis.ProviderError{Provider: "openai", StatusCode: 401, Status: "Unauthorized", Message: "Incorrect API key provided"}},
			{Provider: "gemini", Err: &analysis.ProviderError{Provider: "gemini", Err: context.DeadlineExceeded}},
		}}, "openai: HTTP 401 Unauthorized: Incorrect API key provided"},
		{context.Canceled, "canceled"},
		{errors.New("rpc error: code = Unauthenticated"), "authentication failed"},
		{errors.New("boom"), "run failed: boom"},
	}
	for _, tt := range tests {
		got := handleRunError(tt.err, log)
		if !strings.Contains(got.Error(), tt.want) {
			t.Errorf("handleRunError(%v) = %q, want it to contain %q", tt.err, got, tt.want)
		}
	}
}

func TestValidateInput(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "etude.txt")
	if err := os.WriteFile(doc, []byte("pH 7"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := validateInput(doc); err != nil {
		t.Fatalf("expected a text file to be accepted, got %v", err)
	}
	if err := validateInput(dir); err == nil {
		t.Fatal("expected a directory to be refused")
	}
	if err := validateInput(filepath.Join(dir, "missing.pdf")); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found, got %v", err)
	}
	other := filepath.Join(dir, "notes.docx")
	if err := os.WriteFile(other, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := validateInput(other); err == nil {
		t.Fatal("expected an unknown extension to be refused")
	}
}

func TestStatusLabel(t *testing.T) {
	if statusLabel(progress.Done) == statusLabel(progress.Failed) {
		t.Fatal("DONE and FAILED must be told apart")
	}
}
