package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"envreport/internal/logger"
)

var version = "1.0.0"

var rootCmd = &cobra.Command{
	Use:   "envreport",
	Short: "envreport - environmental impact study analysis",
	Long: `envreport extracts the text of environmental impact studies (PDF, images,
spreadsheets), page by page with OCR fallback for scanned pages, asks a
language model for the table of measured parameters and scores each value
against its acceptable interval.

Results are written as an Excel workbook, merged into a phase template or
appended to a Google Sheet. Runs can also be driven over HTTP with "serve".`,
	Version: version,
	Run: func(cmd *cobra.Command, args []string) {
		log := logger.WithComponent("root")
		log.Info().
			Str("version", version).
			Msg("envreport executed")

		fmt.Println("Welcome to envreport!")
		fmt.Println("Use --help to see available commands and options.")
	},
}

func Execute() {
	log := logger.WithComponent("cmd")

	if err := rootCmd.Execute(); err != nil {
		log.Error().
			Err(err).
			Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().BoolP("version", "v", false, "Print version information")
}
