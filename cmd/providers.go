package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"envreport/internal/analysis"
	"envreport/internal/config"
	"envreport/internal/logger"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Show the analysis providers and their fallback order",
	Long: `List the providers named in ANALYSIS_PROVIDERS in the order they are tried,
whether their settings are complete, and the model each one uses.

With --ping each usable provider is sent a one-line prompt, which uses a
small amount of quota.`,
	Example: `  envreport providers
  envreport providers --ping`,
	Args: cobra.NoArgs,
	RunE: runProviders,
}

func init() {
	rootCmd.AddCommand(providersCmd)

	providersCmd.Flags().Bool("ping", false, "Send a short prompt to each usable provider")
	providersCmd.Flags().Duration("timeout", 30*time.Second, "Timeout for each ping")
}

func runProviders(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("providers")

	ping, _ := cmd.Flags().GetBool("ping")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx := context.Background()
	for i, name := range cfg.ProviderOrder {
		p, ok := cfg.Providers[name]
		switch {
		case !ok:
			fmt.Printf("%d. %-12s non configuré\n", i+1, name)
			continue
		case !p.Usable():
			fmt.Printf("%d. %-12s paramètres incomplets\n", i+1, name)
			continue
		}

		built, err := analysis.New(ctx, p)
		if err != nil {
			fmt.Printf("%d. %-12s erreur: %v\n", i+1, name, err)
			continue
		}
		fmt.Printf("%d. %-12s %s", i+1, name, built.Model())

		if ping {
			pctx, cancel := context.WithTimeout(ctx, timeout)
			start := time.Now()
			_, err := built.Analyze(pctx, "Réponds uniquement par OK.")
			cancel()
			if err != nil {
				log.Debug().Err(err).Str("provider", name).Msg("Ping failed")
				fmt.Printf("  ❌ %v", err)
			} else {
				fmt.Printf("  ✅ %s", time.Since(start).Round(time.Millisecond))
			}
		}
		fmt.Println()

		if c, ok := built.(io.Closer); ok {
			_ = c.Close()
		}
	}

	if len(cfg.ConfiguredProviders()) == 0 {
		return fmt.Errorf("no usable analysis provider. Set OPENAI_API_KEY, QWEN_API_KEY, OPENROUTER_API_KEY, AZURE_OPENAI_API_KEY or GOOGLE_CLOUD_PROJECT")
	}
	return nil
}
