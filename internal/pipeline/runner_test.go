package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"envreport/internal/analysis"
	"envreport/internal/document"
	"envreport/internal/document/documenttest"
	"envreport/internal/extract"
	"envreport/internal/progress"
	"envreport/internal/sink"
	"envreport/internal/store"
	"envreport/internal/table"
)

const response = `Voici le tableau :

| Paramètre | Milieu | Intervalle acceptable/MIN | Intervalle acceptable/MAX | Valeur mesurée de milieux initial | Rejet de PHASE CONSTRUCTION | Valeure Mesure+rejet | Unité | Justification/Calcul |
|---|---|---|---|---|---|---|---|---|
| pH | Eau | 6,5 | 8,5 | 7,2 | 0,1 | 7,3 | - | Mesure in situ |
| Plomb | Sol | 0 | 100 | 140 | 10 | | mg/kg | Tableau 4 |
`

type fakeProvider struct {
	name  string
	text  string
	err   error
	onRun func()

	mu    sync.Mutex
	calls int
}

func (f *fakeProvider) Name() string  { return f.name }
func (f *fakeProvider) Model() string { return f.name + "-model" }

func (f *fakeProvider) Analyze(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.onRun != nil {
		f.onRun()
	}
	return f.text, f.err
}

func (f *fakeProvider) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func pages(n int) *documenttest.Doc {
	texts := make([]string, n)
	for i := range texts {
		texts[i] = fmt.Sprintf("Page %d: pH 7,2 ; plomb 140 mg/kg", i+1)
	}
	return documenttest.New(texts...)
}

// setup registers doc under a ".fake" file in a temporary directory.
func setup(t *testing.T, doc *documenttest.Doc, chain *analysis.Chain, opts Options) (*Runner, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "etude impact.fake")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	reg := document.NewRegistry()
	reg.Register(doc.Opener(), ".fake")

	if opts.OutputDir == "" {
		opts.OutputDir = filepath.Join(dir, "output")
	}
	r := NewRunner(reg, extract.New(extract.DefaultOptions(), nil), chain, opts)
	r.now = func() time.Time { return time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC) }
	return r, path
}

func drain(ctl *progress.Controller) []progress.Event {
	var out []progress.Event
	for ev := range ctl.Events() {
		out = append(out, ev)
	}
	return out
}

func TestRun_CancelKeepsPersistedPages(t *testing.T) {
	doc := pages(5)
	provider := &fakeProvider{name: "openai", text: response}
	r, path := setup(t, doc, analysis.NewChain(provider), Options{})

	ctl := progress.New()
	doc.OnPageText = func(i int) {
		if i == 2 {
			if err := ctl.Cancel(); err != nil {
				t.Errorf("cancel: %v", err)
			}
		}
	}

	res, err := r.Run(context.Background(), path, ctl)
	if err != nil {
		t.Fatalf("a cancelled run is not an error, got %v", err)
	}
	if res.Phase != progress.Cancelled {
		t.Fatalf("expected CANCELLED, got %s", res.Phase)
	}
	if len(res.Pages) != 3 {
		t.Fatalf("the page in flight must complete, expected 3 pages, got %d", len(res.Pages))
	}
	if read := doc.TextRead(); len(read) != 3 {
		t.Fatalf("no page may be read after the cancel check, read %v", read)
	}

	entries, err := sink.ReadEntries(res.SinkPath)
	if err != nil {
		t.Fatalf("read sink: %v", err)
	}
	if len(entries) != 3 || entries[2].Page != 2 {
		t.Fatalf("expected pages 0..2 on disk, got %+v", entries)
	}
	if filepath.Base(res.SinkPath) != "etude_impact_20250314_092653.txt" {
		t.Fatalf("unexpected sink name %s", res.SinkPath)
	}

	if provider.Calls() != 0 {
		t.Fatalf("analysis must not run after a cancel")
	}
	events := drain(ctl)
	last := events[len(events)-1]
	if last.State.Phase != progress.Cancelled || last.State.PagesDone != 3 {
		t.Fatalf("unexpected final event %+v", last)
	}
	for _, ev := range events {
		if ev.State.Phase == progress.Analyzing {
			t.Fatalf("ANALYZING must never be entered after a cancel")
		}
	}
	if !doc.Closed() {
		t.Fatalf("document was not closed")
	}
}

func TestRun_Done(t *testing.T) {
	ctl := progress.New()
	var during progress.State
	var cancelErr error
	provider := &fakeProvider{name: "qwen", text: response}
	provider.onRun = func() {
		during = ctl.Snapshot()
		cancelErr = ctl.Cancel()
	}
	failing := &fakeProvider{name: "openai", err: errors.New("HTTP 429")}

	db, err := store.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	r, path := setup(t, pages(3), analysis.NewChain(failing, provider), Options{Workbook: true})
	r.WithRuns(db)

	res, err := r.Run(context.Background(), path, ctl)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Phase != progress.Done || res.Provider != "qwen" || res.Model != "qwen-model" {
		t.Fatalf("unexpected result %+v", res)
	}
	if during.Phase != progress.Analyzing {
		t.Fatalf("provider must run during ANALYZING, saw %s", during.Phase)
	}
	if _, ok := during.Fraction(); ok {
		t.Fatalf("progress must be indeterminate during analysis")
	}
	if !errors.Is(cancelErr, progress.ErrNotCancellable) {
		t.Fatalf("expected cancel to be refused during analysis, got %v", cancelErr)
	}

	if res.Table == nil || len(res.Table.Rows) != 2 || res.Table.Source != table.SourceMarkdown {
		t.Fatalf("unexpected table %+v", res.Table)
	}
	if got := res.Table.Rows[1].Get(table.Total); got != "150" {
		t.Fatalf("expected the total to be filled in, got %q", got)
	}
	if len(res.Scores) != 2 || !res.Scores[1].Scored {
		t.Fatalf("unexpected scores %+v", res.Scores)
	}
	if _, err := os.Stat(res.Workbook); err != nil {
		t.Fatalf("workbook not written: %v", err)
	}

	run, err := db.GetRun(context.Background(), res.ID)
	if err != nil {
		t.Fatalf("run not recorded: %v", err)
	}
	if run.Phase != "DONE" || run.Provider != "qwen" || run.PagesDone != 3 || run.FinishedAt == nil {
		t.Fatalf("unexpected run record %+v", run)
	}
}

func TestRun_AllProvidersFail(t *testing.T) {
	chain := analysis.NewChain(
		&fakeProvider{name: "openai", err: errors.New("HTTP 401")},
		&fakeProvider{name: "gemini", err: errors.New("quota")},
	)
	r, path := setup(t, pages(4), chain, Options{})

	ctl := progress.New()
	res, err := r.Run(context.Background(), path, ctl)
	if !errors.Is(err, analysis.ErrAllProvidersFailed) {
		t.Fatalf("expected ErrAllProvidersFailed, got %v", err)
	}
	if res.Phase != progress.Failed || ctl.Snapshot().Phase != progress.Failed {
		t.Fatalf("expected FAILED, got %s", res.Phase)
	}
	entries, err := sink.ReadEntries(res.SinkPath)
	if err != nil || len(entries) != 4 {
		t.Fatalf("extracted pages must survive a failed analysis, got %d (%v)", len(entries), err)
	}
}

func TestRun_ExtractOnly(t *testing.T) {
	provider := &fakeProvider{name: "openai", text: response}
	doc := pages(2)
	doc.Pages[1] = documenttest.Page{Text: "", TextErr: errors.New("broken page")}
	r, path := setup(t, doc, analysis.NewChain(provider), Options{ExtractOnly: true})

	res, err := r.Run(context.Background(), path, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Phase != progress.Done || provider.Calls() != 0 {
		t.Fatalf("expected DONE without analysis, got %s with %d calls", res.Phase, provider.Calls())
	}
	if len(res.Pages) != 2 || res.Pages[1].Text != "" || res.Summary.Failed != 1 {
		t.Fatalf("a failed page must yield empty text and be counted, got %+v / %+v", res.Pages, res.Summary)
	}
}

func TestRun_OpenFailure(t *testing.T) {
	r, _ := setup(t, pages(1), nil, Options{})
	res, err := r.Run(context.Background(), filepath.Join(t.TempDir(), "missing.fake"), nil)
	if err == nil || res.Phase != progress.Failed {
		t.Fatalf("expected FAILED, got %s (%v)", res.Phase, err)
	}
}

func TestRun_NoText(t *testing.T) {
	provider := &fakeProvider{name: "openai", text: response}
	r, path := setup(t, documenttest.New("", " "), analysis.NewChain(provider), Options{})
	res, err := r.Run(context.Background(), path, nil)
	if !errors.Is(err, ErrNoText) || res.Phase != progress.Failed || provider.Calls() != 0 {
		t.Fatalf("expected ErrNoText without analysis, got %v (%d calls)", err, provider.Calls())
	}
}

func TestRunBatch(t *testing.T) {
	dir := t.TempDir()
	reg := document.NewRegistry()
	var paths []string
	for _, name := range []string{"a.txt", "b.txt", "c.unknown"} {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte("Concentration en nitrates : 12 mg/L"), 0o644); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, p)
	}

	r := NewRunner(reg, extract.New(extract.DefaultOptions(), nil), nil, Options{OutputDir: filepath.Join(dir, "out")})
	results := r.RunBatch(context.Background(), paths, 2)

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, res := range results {
		if res.Document != paths[i] {
			t.Fatalf("results out of order: %d is %s", i, res.Document)
		}
	}
	if results[0].Phase != progress.Done || results[1].Phase != progress.Done {
		t.Fatalf("expected text documents to complete, got %s and %s", results[0].Phase, results[1].Phase)
	}
	if results[2].Phase != progress.Failed || !errors.Is(results[2].Err, document.ErrUnsupportedFormat) {
		t.Fatalf("expected the unknown format to fail, got %s (%v)", results[2].Phase, results[2].Err)
	}
}

func TestRunBatchFunc_ReportsEachDocument(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for _, name := range []string{"a.txt", "b.txt", "c.txt", "d.txt"} {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte("pH 7,4 ; nitrates 12 mg/L"), 0o644); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, p)
	}
	r := NewRunner(document.NewRegistry(), extract.New(extract.DefaultOptions(), nil), nil, Options{OutputDir: filepath.Join(dir, "out")})

	var counts []int
	seen := map[string]bool{}
	r.RunBatchFunc(context.Background(), paths, 3, func(completed int, res *Result) {
		counts = append(counts, completed)
		seen[res.Document] = true
	})

	if len(counts) != len(paths) || len(seen) != len(paths) {
		t.Fatalf("expected one callback per document, got %v", counts)
	}
	for i, c := range counts {
		if c != i+1 {
			t.Fatalf("completed counts must increase by one, got %v", counts)
		}
	}
}
