package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"envreport/internal/export"
	"envreport/internal/logger"
	"envreport/internal/score"
	"envreport/internal/table"
)

var parseCmd = &cobra.Command{
	Use:   "parse [response-file]",
	Short: "Parse a saved analysis response into a scored table",
	Long: `Parse the text returned by an analysis provider (a markdown table, or
"Paramètre: valeur" lines when no table is present), score every parameter
and print the result. Use "-" to read the response from stdin.

No provider is contacted; this is useful to re-score an answer or to fill a
template from a response saved earlier.`,
	Example: `  envreport parse reponse.md
  envreport parse reponse.md -o parametres.xlsx
  envreport parse reponse.md --template grille.xlsx --phase exploitation
  cat reponse.md | envreport parse - --json`,
	Args: cobra.ExactArgs(1),
	RunE: runParse,
}

func init() {
	rootCmd.AddCommand(parseCmd)

	parseCmd.Flags().StringP("output", "o", "", "Write the scored table to this Excel workbook")
	parseCmd.Flags().StringP("template", "t", "", "Excel template to update")
	parseCmd.Flags().StringP("phase", "p", "pre_construction", "Project phase of the template sheet")
	parseCmd.Flags().Bool("json", false, "Output rows and scores as JSON")
}

func runParse(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("parse")

	outputPath, _ := cmd.Flags().GetString("output")
	templatePath, _ := cmd.Flags().GetString("template")
	phase, _ := cmd.Flags().GetString("phase")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	raw, err := readResponse(args[0], cmd.InOrStdin())
	if err != nil {
		return err
	}

	t, err := table.Parse(raw)
	if err != nil {
		var perr *table.ParseError
		if !errors.As(err, &perr) {
			return err
		}
		log.Warn().Err(err).Msg("No table found in the response")
	}
	results := score.Rows(t.Rows)

	log.Info().
		Int("rows", len(t.Rows)).
		Str("source", string(t.Source)).
		Strs("unmatched_headers", t.Unmatched).
		Msg("Response parsed")

	if outputPath != "" {
		if err := export.WriteWorkbook(outputPath, t.Rows, results); err != nil {
			return fmt.Errorf("failed to write workbook: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Classeur écrit: %s\n", outputPath)
	}

	if templatePath != "" {
		report, err := export.UpdateTemplate(templatePath, export.UpdatedPath(templatePath), phase, t.Rows)
		if err != nil {
			return fmt.Errorf("failed to update template: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Modèle mis à jour: %s (feuille %s, %d paramètres, %d non trouvés)\n",
			report.Output, report.Sheet, len(report.Updated), len(report.NotFound))
		for _, name := range report.NotFound {
			fmt.Fprintf(os.Stderr, "  non trouvé: %s\n", name)
		}
	}

	if jsonOutput {
		data, err := json.MarshalIndent(map[string]any{
			"source":  t.Source,
			"rows":    t.Rows,
			"scores":  results,
			"summary": score.Summarize(results),
		}, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	printTable(t, results)
	return nil
}

func readResponse(path string, stdin io.Reader) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	return string(data), nil
}

func printTable(t *table.Table, results []score.Result) {
	fmt.Println(strings.Join(table.Headers(), " | "))
	fmt.Println(strings.Repeat("-", 80))
	for i, r := range t.Rows {
		fmt.Printf("%s", strings.Join(r.Strings(), " | "))
		if i < len(results) && results[i].Scored {
			fmt.Printf("  => %s", results[i].Status)
		}
		fmt.Println()
	}
	fmt.Printf("\n%s\n", score.Summarize(results))
}
