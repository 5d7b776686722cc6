package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"envreport/internal/analysis"
	"envreport/internal/document"
	"envreport/internal/logger"
	"envreport/internal/pipeline"
	"envreport/internal/progress"
	"envreport/internal/score"
	"envreport/internal/sink"
)

var processCmd = &cobra.Command{
	Use:   "process [file]",
	Short: "Extract, analyze and score one impact study",
	Long: `Process one document: extract its text page by page (OCR is used for
pages without a usable text layer), send the text to the configured analysis
providers in order until one answers, parse the returned table and score each
parameter against its acceptable interval.

Every extracted page is written to OUTPUT_DIR as soon as it is read, so an
interrupted run keeps what it already extracted. Ctrl+C cancels extraction at
the next page boundary; once the analysis request is sent the run cannot be
cancelled.

Supported formats: PDF, PNG, JPEG, TIFF, TXT, MD, XLSX.`,
	Example: `  # Analyze a study and print the scored table
  envreport process etude_impact.pdf

  # Also write an Excel workbook next to the extracted text
  envreport process etude_impact.pdf --workbook

  # Merge the results into a phase template
  envreport process etude_impact.pdf --template grille.xlsx --phase construction

  # Print the full result as JSON
  envreport process etude_impact.pdf --json -o result.json`,
	Args: cobra.ExactArgs(1),
	RunE: runProcess,
}

var extractCmd = &cobra.Command{
	Use:   "extract [file]",
	Short: "Extract the text of a document without analysis",
	Long: `Extract the text of a document page by page, with OCR fallback, and write
it to OUTPUT_DIR. No analysis provider is contacted.`,
	Example: `  envreport extract scan.pdf
  envreport extract scan.pdf --json`,
	Args: cobra.ExactArgs(1),
	RunE: runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(extractCmd)

	for _, c := range []*cobra.Command{processCmd, extractCmd} {
		c.Flags().StringP("output", "o", "", "Write the JSON result to this file (implies --json)")
		c.Flags().Bool("json", false, "Output the result as JSON")
		c.Flags().Bool("quiet", false, "Do not print page progress")
	}
	processCmd.Flags().BoolP("workbook", "w", false, "Write the scored table to an Excel workbook in OUTPUT_DIR")
	processCmd.Flags().StringP("template", "t", "", "Excel template to update (default: EXPORT_TEMPLATE)")
	processCmd.Flags().StringP("phase", "p", "", "Project phase of the template sheet (default: EXPORT_PHASE)")
	processCmd.Flags().String("sheet-url", "", "Google Sheet to append the table to (default: GOOGLE_SHEET_URL)")
	processCmd.Flags().Bool("no-cache", false, "Bypass the response cache")
}

func runProcess(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent(cmd.Name())

	outputPath, _ := cmd.Flags().GetString("output")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	quiet, _ := cmd.Flags().GetBool("quiet")

	opts := buildOptions{extractOnly: cmd.Name() == "extract"}
	if !opts.extractOnly {
		opts.workbook, _ = cmd.Flags().GetBool("workbook")
		opts.template, _ = cmd.Flags().GetString("template")
		opts.phase, _ = cmd.Flags().GetString("phase")
		opts.sheetURL, _ = cmd.Flags().GetString("sheet-url")
		opts.noCache, _ = cmd.Flags().GetBool("no-cache")
	}

	path := args[0]
	if err := validateInput(path); err != nil {
		return err
	}

	ctx := context.Background()
	a, err := newApp(ctx, opts, log)
	if err != nil {
		return err
	}
	defer a.Close()

	ctl := progress.New()
	stop := cancelOnInterrupt(ctl, log)
	defer stop()

	printed := make(chan struct{})
	go func() {
		defer close(printed)
		printProgress(ctl, quiet || jsonOutput || outputPath != "")
	}()

	log.Info().
		Str("file", filepath.Base(path)).
		Bool("extract_only", opts.extractOnly).
		Msg("Starting run")

	res, runErr := a.runner.Run(ctx, path, ctl)
	<-printed

	if jsonOutput || outputPath != "" {
		if err := writeJSONResult(res, outputPath); err != nil {
			return err
		}
	} else {
		printResult(res)
	}

	if runErr != nil {
		return handleRunError(runErr, log)
	}
	return nil
}

func validateInput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("file not found: %s", path)
		}
		return fmt.Errorf("cannot access file %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory, use \"envreport batch\" for folders", path)
	}
	if reg := documentRegistry(); !reg.Supports(path) {
		return fmt.Errorf("unsupported file type %q (supported: %s)", filepath.Ext(path), strings.Join(reg.Extensions(), " "))
	}
	return nil
}

// cancelOnInterrupt turns SIGINT and SIGTERM into a cancellation request.
// Signals received once analysis has started are only logged.
func cancelOnInterrupt(ctl *progress.Controller, log zerolog.Logger) (stop func()) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case sig := <-sigChan:
				err := ctl.Cancel()
				switch {
				case err == nil:
					log.Info().Str("signal", sig.String()).Msg("Cancelling after the current page")
				case errors.Is(err, progress.ErrNotCancellable):
					log.Warn().Msg("Analysis in progress, the run can no longer be cancelled")
				default:
					log.Debug().Err(err).Msg("Cancel ignored")
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(sigChan)
		close(done)
	}
}

// printProgress reads the run's events until it ends.
func printProgress(ctl *progress.Controller, quiet bool) {
	for ev := range ctl.Events() {
		if quiet {
			continue
		}
		switch ev.Kind {
		case progress.EventPageDone:
			if f, ok := ev.State.Fraction(); ok {
				fmt.Fprintf(os.Stderr, "\rPages %d/%d (%3.0f%%)", ev.State.PagesDone, ev.State.PagesTotal, f*100)
			}
		case progress.EventError:
			fmt.Fprintf(os.Stderr, "\n  page %d: %s\n", ev.Page+1, ev.Err)
		case progress.EventPhaseChanged:
			switch ev.State.Phase {
			case progress.Analyzing:
				fmt.Fprintln(os.Stderr, "\nAnalyse en cours...")
			default:
				fmt.Fprintf(os.Stderr, "\n%s\n", ev.State.Phase)
			}
		}
	}
}

func printResult(res *pipeline.Result) {
	if res == nil {
		return
	}
	fmt.Printf("\nDocument: %s\n", filepath.Base(res.Document))
	fmt.Printf("Statut: %s\n", res.Phase)
	fmt.Printf("Pages: %d/%d", len(res.Pages), res.Summary.Total)
	if res.Summary.OCRUsed > 0 {
		fmt.Printf(" (OCR: %d)", res.Summary.OCRUsed)
	}
	if res.Summary.Failed > 0 {
		fmt.Printf(" (%s)", res.Summary)
	}
	fmt.Println()
	if res.SinkPath != "" {
		fmt.Printf("Texte: %s\n", res.SinkPath)
	}
	if res.Provider != "" {
		fmt.Printf("Analyse: %s (%s)", res.Provider, res.Model)
		if res.Truncated {
			fmt.Print(" - texte tronqué")
		}
		fmt.Println()
	}

	if res.Table != nil && len(res.Scores) > 0 {
		fmt.Println()
		for _, s := range res.Scores {
			if !s.Scored {
				fmt.Printf("  %-40s %s\n", s.Parameter, s.Status)
				continue
			}
			fmt.Printf("  %-40s %10.2f %-8s %s\n", s.Parameter, s.Value, s.Unit, s.Status)
		}
		fmt.Printf("\n%s\n", score.Summarize(res.Scores))
	}

	if res.Workbook != "" {
		fmt.Printf("Classeur: %s\n", res.Workbook)
	}
	if t := res.Template; t != nil {
		fmt.Printf("Modèle: %s (feuille %s, %d mises à jour, %d non trouvés)\n",
			t.Output, t.Sheet, len(t.Updated), len(t.NotFound))
	}
	for _, w := range res.Warnings {
		fmt.Printf("Attention: %s\n", w)
	}
}

func writeJSONResult(res *pipeline.Result, path string) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if path == "" {
		fmt.Println(string(data))
		return nil
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Result written to %s\n", path)
	return nil
}

// handleRunError turns a run error into a message for the terminal.
func handleRunError(err error, log zerolog.Logger) error {
	log.Error().Err(err).Msg("Run failed")

	errStr := err.Error()

	switch {
	// Checked first: a single provider timing out must not hide the others' detail.
	case errors.Is(err, analysis.ErrAllProvidersFailed):
		return fmt.Errorf("every analysis provider failed. The extracted text was kept; check API keys and quotas:\n%w", err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("analysis timed out. Try increasing ANALYSIS_TIMEOUT or lowering ANALYSIS_MAX_CHARS")
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("run was canceled")
	case errors.Is(err, document.ErrUnsupportedFormat):
		return fmt.Errorf("unsupported document format: %w", err)
	case errors.Is(err, sink.ErrSinkUnwritable):
		return fmt.Errorf("cannot write extracted text. Check that OUTPUT_DIR is writable or set SINK_FAILURE_POLICY=memory: %w", err)
	case errors.Is(err, pipeline.ErrNoText):
		return fmt.Errorf("no text found in the document. If it is scanned, enable OCR_FALLBACK and check OCR_ENGINE")
	case strings.Contains(errStr, "Unauthenticated") ||
		strings.Contains(errStr, "invalid_grant") ||
		strings.Contains(errStr, "transport: per-RPC creds failed"):
		return fmt.Errorf("Google Cloud authentication failed. Set GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_CREDENTIALS, or run:\n"+
			"   gcloud auth application-default login\n\n"+
			"Original error: %v", err)
	default:
		return fmt.Errorf("run failed: %w", err)
	}
}
