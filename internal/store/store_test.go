package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "cache", "envreport.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestResponses_TTL(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	if _, ok, err := s.GetResponse(ctx, "k"); err != nil || ok {
		t.Fatalf("expected a miss, got ok=%v err=%v", ok, err)
	}
	if err := s.PutResponse(ctx, "k", "openai", "gpt-4o-mini", "| Paramètre |", time.Hour); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok, err := s.GetResponse(ctx, "k")
	if err != nil || !ok || got != "| Paramètre |" {
		t.Fatalf("expected a hit, got %q ok=%v err=%v", got, ok, err)
	}

	now = now.Add(2 * time.Hour)
	if _, ok, _ := s.GetResponse(ctx, "k"); ok {
		t.Fatalf("expired responses must not be returned")
	}
	n, err := s.PurgeExpired(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected one purged row, got %d (%v)", n, err)
	}
}

func TestResponses_Overwrite(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	_ = s.PutResponse(ctx, "k", "qwen", "qwen-max", "old", time.Hour)
	_ = s.PutResponse(ctx, "k", "qwen", "qwen-max", "new", time.Hour)
	if got, _, _ := s.GetResponse(ctx, "k"); got != "new" {
		t.Fatalf("expected the latest response, got %q", got)
	}
}

func TestRuns(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	start := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

	run := Run{ID: "a", Document: "etude.pdf", Phase: "EXTRACTING", PagesTotal: 5, StartedAt: start}
	if err := s.SaveRun(ctx, run); err != nil {
		t.Fatalf("save: %v", err)
	}
	end := start.Add(time.Minute)
	run.Phase, run.PagesDone, run.PagesFailed, run.FinishedAt = "DONE", 5, 1, &end
	if err := s.SaveRun(ctx, run); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := s.SaveRun(ctx, Run{ID: "b", Document: "annexe.pdf", Phase: "CANCELLED", StartedAt: start.Add(time.Hour)}); err != nil {
		t.Fatalf("save b: %v", err)
	}

	got, err := s.GetRun(ctx, "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Phase != "DONE" || got.PagesFailed != 1 || got.FinishedAt == nil || !got.FinishedAt.Equal(end) {
		t.Fatalf("unexpected run %+v", got)
	}

	runs, err := s.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "b" || runs[1].FinishedAt == nil {
		t.Fatalf("expected newest first, got %+v", runs)
	}

	if _, err := s.GetRun(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}
