// Package pipeline runs a document through extraction, analysis, table
// parsing, scoring and export, reporting progress to a progress.Controller.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"envreport/internal/analysis"
	"envreport/internal/document"
	"envreport/internal/export"
	"envreport/internal/extract"
	"envreport/internal/logger"
	"envreport/internal/progress"
	"envreport/internal/score"
	"envreport/internal/sink"
	"envreport/internal/store"
	"envreport/internal/table"
)

// ErrNoText is returned when no page of the document produced any text.
var ErrNoText = errors.New("no text could be extracted from the document")

// Options control what a run does after extraction.
type Options struct {
	OutputDir  string
	SinkPolicy string

	// ExtractOnly stops after extraction, even with providers configured.
	ExtractOnly bool

	// MaxChars bounds the document text sent to a provider.
	MaxChars int

	// Workbook writes the parsed table to "<sink name>.xlsx" in OutputDir.
	Workbook bool

	// Template, when set, is updated with the parsed rows for Phase.
	Template string
	Phase    string

	// SheetName is the Google Sheet tab used when a SheetAppender is set.
	SheetName string
}

// SheetAppender receives the parsed rows of every successful run.
type SheetAppender interface {
	Append(ctx context.Context, sheetName, document string, rows []table.Row, results []score.Result) error
}

// RunRecorder keeps the history of runs.
type RunRecorder interface {
	SaveRun(ctx context.Context, r store.Run) error
}

// Result is the outcome of one run. Pages holds every page persisted before
// the run ended, whatever the final phase.
type Result struct {
	ID         string                 `json:"id"`
	Document   string                 `json:"document"`
	Phase      progress.Phase         `json:"phase"`
	Pages      []sink.Entry           `json:"pages"`
	Summary    extract.Summary        `json:"summary"`
	SinkPath   string                 `json:"sink_path,omitempty"`
	Provider   string                 `json:"provider,omitempty"`
	Model      string                 `json:"model,omitempty"`
	Truncated  bool                   `json:"truncated,omitempty"`
	Table      *table.Table           `json:"table,omitempty"`
	Scores     []score.Result         `json:"scores,omitempty"`
	Workbook   string                 `json:"workbook,omitempty"`
	Template   *export.TemplateReport `json:"template,omitempty"`
	Warnings   []string               `json:"warnings,omitempty"`
	Err        error                  `json:"-"`
	Error      string                 `json:"error,omitempty"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`
}

// Runner executes runs. It is safe for concurrent use; each run gets its own
// controller, sink and logger.
type Runner struct {
	documents *document.Registry
	extractor *extract.Extractor
	chain     *analysis.Chain
	sheets    SheetAppender
	runs      RunRecorder
	opts      Options
	now       func() time.Time
	log       zerolog.Logger
}

// NewRunner returns a runner. chain may be nil or empty, in which case runs
// stop after extraction.
func NewRunner(documents *document.Registry, extractor *extract.Extractor, chain *analysis.Chain, opts Options) *Runner {
	if opts.OutputDir == "" {
		opts.OutputDir = "output"
	}
	return &Runner{
		documents: documents,
		extractor: extractor,
		chain:     chain,
		opts:      opts,
		now:       time.Now,
		log:       logger.WithComponent("pipeline"),
	}
}

// WithSheets appends the rows of every analyzed document to a Google Sheet.
func (r *Runner) WithSheets(s SheetAppender) *Runner {
	r.sheets = s
	return r
}

// WithRuns records every phase change of every run.
func (r *Runner) WithRuns(rec RunRecorder) *Runner {
	r.runs = rec
	return r
}

// Options returns the runner options.
func (r *Runner) Options() Options { return r.opts }

func (r *Runner) analyzes() bool {
	return !r.opts.ExtractOnly && r.chain != nil && r.chain.Len() > 0
}

// Run processes the document at path. ctl may be nil. The returned error is
// the one that made the run FAILED; a CANCELLED run returns nil.
func (r *Runner) Run(ctx context.Context, path string, ctl *progress.Controller) (*Result, error) {
	return r.run(ctx, uuid.NewString(), path, ctl)
}

// RunWithID is Run with a caller-chosen run ID.
func (r *Runner) RunWithID(ctx context.Context, id, path string, ctl *progress.Controller) (*Result, error) {
	if id == "" {
		id = uuid.NewString()
	}
	return r.run(ctx, id, path, ctl)
}

func (r *Runner) run(ctx context.Context, id, path string, ctl *progress.Controller) (*Result, error) {
	if ctl == nil {
		ctl = progress.New()
	}
	log := logger.WithRun("pipeline", id).With().Str("document", filepath.Base(path)).Logger()

	res := &Result{ID: id, Document: path, Phase: progress.Extracting, StartedAt: r.now()}
	r.record(ctx, res, log)

	fail := func(err error) (*Result, error) {
		if ferr := ctl.Fail(err); ferr != nil {
			log.Warn().Err(ferr).Msg("Could not enter FAILED phase")
		}
		res.Phase = progress.Failed
		res.Err = err
		res.Error = err.Error()
		res.FinishedAt = r.now()
		log.Error().Err(err).Msg("Run failed")
		r.record(ctx, res, log)
		return res, err
	}

	doc, err := r.documents.Open(ctx, path)
	if err != nil {
		return fail(err)
	}
	defer doc.Close()

	ctl.Begin(doc.PageCount())
	log.Info().Int("pages", doc.PageCount()).Msg("Extraction started")

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	out, err := sink.Open(r.opts.OutputDir, base, res.StartedAt, r.opts.SinkPolicy)
	if err != nil {
		return fail(err)
	}
	defer out.Close()
	res.SinkPath = out.Path()

	it := r.extractor.WithLogger(log).Pages(ctx, doc)
	var sinkErr error
	for it.Next() {
		p := it.Page()
		if p.Err != nil {
			ctl.Report(fmt.Errorf("page %d: %w", p.Index+1, p.Err))
		}
		if err := out.Append(p.Index, p.Text); err != nil {
			sinkErr = err
			it.Stop()
			break
		}
		ctl.PageDone(p.Index)

		if ctl.Cancelled() {
			it.Stop()
			break
		}
	}

	res.Pages = out.Entries()
	res.Summary = it.Summary()
	if out.Degraded() {
		res.Warnings = append(res.Warnings, "output file became unwritable; pages kept in memory only")
	}

	if sinkErr != nil {
		return fail(sinkErr)
	}
	if err := it.Err(); err != nil {
		if !errors.Is(err, context.Canceled) {
			return fail(err)
		}
		// Interrupted callers are treated as a cancel request.
		_ = ctl.Cancel()
	}

	log.Info().
		Int("processed", res.Summary.Processed).
		Int("failed", res.Summary.Failed).
		Int("ocr", res.Summary.OCRUsed).
		Msg("Extraction finished")

	if ctl.Cancelled() {
		return r.finish(ctx, res, ctl, progress.Cancelled, log)
	}

	if !r.analyzes() {
		return r.finish(ctx, res, ctl, progress.Done, log)
	}

	text := sink.JoinEntries(res.Pages)
	if strings.TrimSpace(text) == "" {
		return fail(ErrNoText)
	}

	if err := ctl.Enter(progress.Analyzing); err != nil {
		if ctl.Cancelled() {
			return r.finish(ctx, res, ctl, progress.Cancelled, log)
		}
		return fail(err)
	}
	res.Phase = progress.Analyzing
	r.record(ctx, res, log)

	prompt, truncated := analysis.BuildPrompt(text, r.opts.MaxChars)
	if truncated {
		res.Truncated = true
		log.Warn().Int("max_chars", r.opts.MaxChars).Msg("Document text truncated for analysis")
	}

	resp, err := r.chain.Analyze(ctx, prompt)
	if err != nil {
		return fail(err)
	}
	res.Provider, res.Model = resp.Provider, resp.Model

	tbl, err := table.Parse(resp.Text)
	if err != nil {
		res.Warnings = append(res.Warnings, err.Error())
		ctl.Report(err)
		log.Warn().Err(err).Msg("Response had no usable table")
	}
	res.Table = tbl
	res.Scores = score.Rows(tbl.Rows)
	log.Info().
		Str("source", string(tbl.Source)).
		Int("rows", len(tbl.Rows)).
		Str("scores", score.Summarize(res.Scores).String()).
		Msg("Table parsed")

	r.export(ctx, res, ctl, strings.TrimSuffix(out.Path(), filepath.Ext(out.Path())), log)

	return r.finish(ctx, res, ctl, progress.Done, log)
}

// export writes the table to every configured destination. Export failures
// are reported but do not fail the run: the table is already in the result.
func (r *Runner) export(ctx context.Context, res *Result, ctl *progress.Controller, stem string, log zerolog.Logger) {
	rows := res.Table.Rows
	warn := func(what string, err error) {
		err = fmt.Errorf("%s: %w", what, err)
		res.Warnings = append(res.Warnings, err.Error())
		ctl.Report(err)
		log.Warn().Err(err).Msg("Export failed")
	}

	if r.opts.Workbook {
		path := stem + ".xlsx"
		if err := export.WriteWorkbook(path, rows, res.Scores); err != nil {
			warn("workbook", err)
		} else {
			res.Workbook = path
		}
	}

	if r.opts.Template != "" {
		report, err := export.UpdateTemplate(r.opts.Template, "", r.opts.Phase, rows)
		if err != nil {
			warn("template", err)
		} else {
			res.Template = report
		}
	}

	if r.sheets != nil {
		if err := r.sheets.Append(ctx, r.opts.SheetName, filepath.Base(res.Document), rows, res.Scores); err != nil {
			warn("google sheet", err)
		}
	}
}

func (r *Runner) finish(ctx context.Context, res *Result, ctl *progress.Controller, phase progress.Phase, log zerolog.Logger) (*Result, error) {
	if err := ctl.Enter(phase); err != nil {
		log.Warn().Err(err).Str("phase", string(phase)).Msg("Could not enter final phase")
	}
	res.Phase = phase
	res.FinishedAt = r.now()

	log.Info().
		Str("phase", string(phase)).
		Int("pages_kept", len(res.Pages)).
		Dur("duration", res.FinishedAt.Sub(res.StartedAt)).
		Msg("Run finished")

	r.record(ctx, res, log)
	return res, nil
}

func (r *Runner) record(ctx context.Context, res *Result, log zerolog.Logger) {
	if r.runs == nil {
		return
	}
	run := store.Run{
		ID:          res.ID,
		Document:    res.Document,
		Phase:       string(res.Phase),
		PagesTotal:  res.Summary.Total,
		PagesDone:   len(res.Pages),
		PagesFailed: res.Summary.Failed,
		Provider:    res.Provider,
		SinkPath:    res.SinkPath,
		Error:       res.Error,
		StartedAt:   res.StartedAt,
	}
	if !res.FinishedAt.IsZero() {
		t := res.FinishedAt
		run.FinishedAt = &t
	}
	// A failed context must not prevent the final record.
	if err := r.runs.SaveRun(context.WithoutCancel(ctx), run); err != nil {
		log.Warn().Err(err).Msg("Failed to record run")
	}
}

// RunBatch processes paths with at most workers documents in flight. Each
// document is processed sequentially by its own run. Results are in the
// order of paths; a failing document does not stop the others.
func (r *Runner) RunBatch(ctx context.Context, paths []string, workers int) []*Result {
	return r.RunBatchFunc(ctx, paths, workers, nil)
}

// RunBatchFunc is RunBatch with a callback invoked as each document ends.
// Calls to done are serialized; completed counts the documents finished so far.
func (r *Runner) RunBatchFunc(ctx context.Context, paths []string, workers int, done func(completed int, res *Result)) []*Result {
	if workers < 1 {
		workers = 1
	}
	results := make([]*Result, len(paths))

	var (
		mu        sync.Mutex
		completed int
	)
	var g errgroup.Group
	g.SetLimit(workers)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			res, _ := r.Run(ctx, path, nil)
			results[i] = res
			if done != nil {
				mu.Lock()
				completed++
				done(completed, res)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	var failed int
	for _, res := range results {
		if res.Phase == progress.Failed {
			failed++
		}
	}
	r.log.Info().Int("documents", len(paths)).Int("failed", failed).Int("workers", workers).Msg("Batch finished")
	return results
}
