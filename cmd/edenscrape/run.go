package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/use-agent/edenscrape/engine"
	"github.com/use-agent/edenscrape/events"
	"github.com/use-agent/edenscrape/models"
	"github.com/use-agent/edenscrape/pipeline"
	"github.com/use-agent/edenscrape/scraper"
)

func init() {
	rootCmd.AddCommand(analyzeCmd, reportCmd)
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Writes the structure analysis CSV only; downloads nothing.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnce(cmd.Context(), models.ModeDiagnostic)
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Downloads icons and writes the character workbook.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnce(cmd.Context(), models.ModeReport)
	},
}

// runOnce starts the pipeline on a worker goroutine and drives the
// console from this one until the terminal event arrives.
func runOnce(parent context.Context, mode models.Mode) error {
	cfg := loadConfig()
	initLogger(cfg.Log, os.Stderr)
	if noColor {
		color.NoColor = true
	}

	eng, err := engine.New(cfg.Source, cfg.Browser)
	if err != nil {
		return err
	}
	defer eng.Close()

	loc, err := scraper.NewLocator(eng, cfg.Source.FetchTimeout, cfg.Source.TableSelectors)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ch := events.NewChannel()
	runner := pipeline.NewRunner(loc, ch, ch)
	runner.Start(ctx, pipeline.OptionsFromConfig(cfg, mode, cfg.Output.Dir))
	slog.Debug("run started", "mode", mode, "engine", eng.Name(), "output_dir", cfg.Output.Dir)

	con := newConsole(os.Stdout, os.Stderr)
	con.Start()
	// The runner always emits a terminal event, also after cancellation.
	final, err := events.Poll(context.Background(), ch, cfg.Consumer.PollInterval, con)
	con.Stop()
	if err != nil {
		return err
	}

	if final.Summary != nil {
		renderSummary(os.Stdout, final.Summary)
	}
	if final.Error {
		return errRunFailed
	}
	return nil
}
