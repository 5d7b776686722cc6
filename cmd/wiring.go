package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"envreport/internal/analysis"
	"envreport/internal/config"
	"envreport/internal/document"
	"envreport/internal/document/pdf"
	"envreport/internal/export"
	"envreport/internal/extract"
	"envreport/internal/ocr"
	"envreport/internal/ocr/tesseract"
	"envreport/internal/pipeline"
	"envreport/internal/store"
)

// app holds the components built from the configuration for one command.
type app struct {
	cfg     *config.Config
	chain   *analysis.Chain
	store   *store.Store
	runner  *pipeline.Runner
	closers []io.Closer
	log     zerolog.Logger
}

// buildOptions selects the optional parts of the app.
type buildOptions struct {
	extractOnly bool
	workbook    bool
	template    string
	phase       string
	sheetURL    string
	noCache     bool
}

func documentRegistry() *document.Registry {
	reg := document.NewRegistry()
	reg.Register(pdf.Open, ".pdf")
	return reg
}

// newApp wires the pipeline. Components that cannot be built (a cloud OCR
// engine without credentials, a provider without a key) are logged and left
// out; the run proceeds with what is available.
func newApp(ctx context.Context, opts buildOptions, log zerolog.Logger) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log}

	engine := a.ocrEngine(ctx)
	extractor := extract.New(extract.Options{
		OCRFallback: cfg.OCRFallback,
		MinChars:    cfg.MinPageChars,
		DPI:         cfg.OCRDPI,
	}, engine)

	if cfg.CachePath != "" && !opts.noCache {
		st, err := store.Open(ctx, cfg.CachePath)
		if err != nil {
			log.Warn().Err(err).Str("path", cfg.CachePath).Msg("Response cache unavailable, continuing without it")
		} else {
			a.store = st
			a.closers = append(a.closers, st)
			if n, err := st.PurgeExpired(ctx); err == nil && n > 0 {
				log.Debug().Int64("purged", n).Msg("Expired responses removed")
			}
		}
	}

	if !opts.extractOnly {
		a.chain = a.providers(ctx)
		a.closers = append(a.closers, a.chain)
	}

	template := pick(opts.template, cfg.ExportTemplate)
	a.runner = pipeline.NewRunner(documentRegistry(), extractor, a.chain, pipeline.Options{
		OutputDir:   cfg.OutputDir,
		SinkPolicy:  cfg.SinkFailurePolicy,
		ExtractOnly: opts.extractOnly,
		MaxChars:    cfg.AnalysisMaxChars,
		Workbook:    opts.workbook,
		Template:    template,
		Phase:       pick(opts.phase, cfg.ExportPhase),
		SheetName:   cfg.GoogleSheetWorksheet,
	})
	if a.store != nil {
		a.runner.WithRuns(a.store)
	}

	if sheetURL := pick(opts.sheetURL, cfg.GoogleSheetURL); sheetURL != "" && !opts.extractOnly {
		sheets, err := export.NewSheetsExporter(ctx, sheetURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("google sheet: %w", err)
		}
		a.runner.WithSheets(sheets)
	}

	return a, nil
}

func (a *app) ocrEngine(ctx context.Context) ocr.Engine {
	cfg := a.cfg
	if !cfg.OCRFallback {
		return nil
	}
	langs := ocr.ParseLanguages(cfg.OCRLanguages)

	var engines []ocr.Engine
	for _, name := range cfg.OCREngines {
		switch name {
		case "tesseract":
			engines = append(engines, tesseract.New(langs, cfg.OCRDPI))
		case "vision":
			v, err := ocr.NewVisionEngine(ctx, langs)
			if err != nil {
				a.log.Warn().Err(err).Msg("Vision OCR unavailable")
				continue
			}
			engines = append(engines, v)
			a.closers = append(a.closers, v)
		case "documentai":
			d, err := ocr.NewDocumentAIEngine(ctx, ocr.DocumentAIConfig{
				ProjectID:   cfg.GoogleCloudProject,
				Location:    cfg.GoogleCloudLocation,
				ProcessorID: cfg.DocumentAIProcessorID,
			})
			if err != nil {
				a.log.Warn().Err(err).Msg("Document AI OCR unavailable")
				continue
			}
			engines = append(engines, d)
			a.closers = append(a.closers, d)
		}
	}
	if len(engines) == 0 {
		a.log.Warn().Msg("No OCR engine available, scanned pages will yield no text")
		return nil
	}
	return ocr.NewChain(engines...)
}

func (a *app) providers(ctx context.Context) *analysis.Chain {
	providers, skipped := analysis.FromConfig(ctx, a.cfg)
	for _, err := range skipped {
		a.log.Warn().Err(err).Msg("Analysis provider skipped")
	}
	if a.store != nil {
		for i, p := range providers {
			providers[i] = analysis.Cached(p, a.store, a.cfg.CacheTTL)
		}
	}
	chain := analysis.NewChain(providers...).WithTimeout(a.cfg.AnalysisTimeout)
	if chain.Len() == 0 {
		a.log.Warn().
			Strs("order", a.cfg.ProviderOrder).
			Msg("No analysis provider configured, runs will stop after extraction")
	}
	return chain
}

func (a *app) Close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.log.Debug().Err(err).Msg("Close failed")
		}
	}
}

func pick(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

// findDocuments lists the files under dir that reg can open.
func findDocuments(reg *document.Registry, dir string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if reg.Supports(path) && !strings.HasSuffix(strings.TrimSuffix(path, filepath.Ext(path)), "_updated") {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errNoDocuments
	}
	return out, nil
}

var errNoDocuments = errors.New("no supported documents found")
