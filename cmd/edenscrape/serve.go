package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/use-agent/edenscrape/api"
	"github.com/use-agent/edenscrape/api/handler"
	"github.com/use-agent/edenscrape/engine"
	"github.com/use-agent/edenscrape/scraper"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serves the runs API.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func serve() error {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg := loadConfig()

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg.Log, os.Stdout)
	slog.Info("edenscrape starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"engine", cfg.Source.Engine,
	)

	// ── 3. Initialise the document fetcher ──────────────────────────
	eng, err := engine.New(cfg.Source, cfg.Browser)
	if err != nil {
		return err
	}
	defer eng.Close()

	loc, err := scraper.NewLocator(eng, cfg.Source.FetchTimeout, cfg.Source.TableSelectors)
	if err != nil {
		return err
	}

	// ── 4. Run store ────────────────────────────────────────────────
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	runs := handler.NewRuns(cfg, loc)
	go runs.Janitor(ctx)

	// ── 5. Start HTTP server ────────────────────────────────────────
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewRouter(runs, cfg, time.Now()),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// ── 6. Graceful shutdown ────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		slog.Info("shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		slog.Error("HTTP server error", "error", err)
		return err
	}

	// Give in-flight requests 5 seconds to complete.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	slog.Info("edenscrape stopped", "active_runs", runs.Active())
	return nil
}
