package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/use-agent/edenscrape/config"
)

var (
	outDir     string
	engineName string
	noColor    bool
)

// errRunFailed is returned after the failure has already been shown.
var errRunFailed = errors.New("run failed")

var rootCmd = &cobra.Command{
	Use:           "edenscrape",
	Short:         "edenscrape builds a local Another Eden character report from the wiki listing.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&outDir, "out", "", "existing output directory (default $EDEN_OUTPUT_DIR or the working directory)")
	rootCmd.PersistentFlags().StringVar(&engineName, "engine", "", "document fetcher: http or browser (default $EDEN_FETCH_ENGINE)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errRunFailed) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

// loadConfig applies command-line overrides on top of the environment.
func loadConfig() *config.Config {
	cfg := config.Load()
	if outDir != "" {
		cfg.Output.Dir = outDir
	}
	if engineName != "" {
		cfg.Source.Engine = engineName
	}
	return cfg
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig, w io.Writer) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	slog.SetDefault(slog.New(handler))
}
