package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"envreport/internal/logger"
	"envreport/internal/pipeline"
	"envreport/internal/progress"
	"envreport/internal/score"
)

var batchCmd = &cobra.Command{
	Use:   "batch [folder]",
	Short: "Process every supported document in a folder",
	Long: `Process every supported document under a folder, BATCH_WORKERS documents
at a time. Each document is extracted, analyzed and scored as with "process";
a failing document does not stop the others.

Ctrl+C stops the documents still being extracted; documents already in
analysis run to completion.`,
	Example: `  # Process a folder with the configured number of workers
  envreport batch ./etudes

  # Two documents at a time, one workbook per document
  envreport batch ./etudes --workers 2 --workbook`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().IntP("workers", "n", 0, "Documents processed in parallel (default: BATCH_WORKERS)")
	batchCmd.Flags().BoolP("workbook", "w", false, "Write one Excel workbook per document")
	batchCmd.Flags().StringP("template", "t", "", "Excel template to update for each document")
	batchCmd.Flags().StringP("phase", "p", "", "Project phase of the template sheet")
	batchCmd.Flags().Bool("extract-only", false, "Stop after extraction")
	batchCmd.Flags().BoolP("verbose", "v", false, "Print the score summary of each document")
}

func runBatch(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("batch")

	workers, _ := cmd.Flags().GetInt("workers")
	verbose, _ := cmd.Flags().GetBool("verbose")
	opts := buildOptions{}
	opts.workbook, _ = cmd.Flags().GetBool("workbook")
	opts.template, _ = cmd.Flags().GetString("template")
	opts.phase, _ = cmd.Flags().GetString("phase")
	opts.extractOnly, _ = cmd.Flags().GetBool("extract-only")

	folderPath := args[0]
	folderInfo, err := os.Stat(folderPath)
	if err != nil {
		return fmt.Errorf("folder not found: %s", folderPath)
	}
	if !folderInfo.IsDir() {
		return fmt.Errorf("path is not a directory: %s", folderPath)
	}

	files, err := findDocuments(documentRegistry(), folderPath)
	if err != nil {
		if errors.Is(err, errNoDocuments) {
			fmt.Println("Aucun document pris en charge dans le dossier.")
			return nil
		}
		return fmt.Errorf("failed to list documents: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, opts, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if workers <= 0 {
		workers = a.cfg.BatchWorkers
	}

	log.Info().
		Str("folder", folderPath).
		Int("documents", len(files)).
		Int("workers", workers).
		Msg("Starting batch")

	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("                         TRAITEMENT PAR LOT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Dossier: %s\n", folderPath)
	fmt.Printf("Traitement de %d documents avec %d workers en parallèle...\n\n", len(files), workers)

	results := a.runner.RunBatchFunc(ctx, files, workers, func(completed int, res *pipeline.Result) {
		fmt.Printf("[%d/%d] %s - %s", completed, len(files), filepath.Base(res.Document), statusLabel(res.Phase))
		switch {
		case res.Error != "":
			fmt.Printf(" (%s)", res.Error)
		case len(res.Scores) > 0:
			fmt.Printf(" (%d paramètres)", len(res.Scores))
		}
		fmt.Println()
		if verbose && len(res.Scores) > 0 {
			fmt.Printf("         %s\n", score.Summarize(res.Scores))
		}
	})

	counts := map[progress.Phase]int{}
	var warnings int
	for _, res := range results {
		counts[res.Phase]++
		warnings += len(res.Warnings)
	}

	fmt.Println()
	fmt.Println(strings.Repeat("=", 50))
	fmt.Println("                 RÉSULTAT")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Printf("Terminés: %d\n", counts[progress.Done])
	if warnings > 0 {
		fmt.Printf("Avertissements: %d\n", warnings)
	}
	if n := counts[progress.Cancelled]; n > 0 {
		fmt.Printf("Annulés: %d\n", n)
	}
	if n := counts[progress.Failed]; n > 0 {
		fmt.Printf("Échecs: %d\n", n)
	}
	fmt.Printf("Textes extraits: %s\n", a.cfg.OutputDir)

	if counts[progress.Failed] == len(results) {
		return fmt.Errorf("all %d documents failed", len(results))
	}
	return nil
}

func statusLabel(p progress.Phase) string {
	switch p {
	case progress.Done:
		return "✅"
	case progress.Cancelled:
		return "⏹"
	case progress.Failed:
		return "❌"
	default:
		return string(p)
	}
}
