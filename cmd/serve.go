package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"envreport/internal/logger"
	"envreport/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Start the HTTP API. Runs are started with POST /api/v1/runs and followed as
server-sent events on /api/v1/runs/{id}/events. A run can be cancelled with
POST /api/v1/runs/{id}/cancel while it is still extracting.

When CACHE_PATH is set, finished runs are kept in the database and remain
readable after a restart.`,
	Example: `  envreport serve
  envreport serve --addr :9090`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "Listen address (default: SERVER_ADDR)")
	serveCmd.Flags().BoolP("workbook", "w", false, "Write one Excel workbook per run")
	serveCmd.Flags().Duration("shutdown-timeout", 30*time.Second, "Time allowed for running analyses to finish on shutdown")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("serve")

	addr, _ := cmd.Flags().GetString("addr")
	shutdownTimeout, _ := cmd.Flags().GetDuration("shutdown-timeout")
	opts := buildOptions{}
	opts.workbook, _ = cmd.Flags().GetBool("workbook")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, opts, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if addr == "" {
		addr = a.cfg.ServerAddr
	}

	var history server.History
	if a.store != nil {
		history = a.store
	}
	srv := server.New(a.runner, history, a.cfg.CORSOrigins)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", addr).
			Strs("providers", a.chain.Names()).
			Strs("cors_origins", a.cfg.CORSOrigins).
			Msg("Server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("runs still in progress at shutdown: %w", err)
	}
	return nil
}
