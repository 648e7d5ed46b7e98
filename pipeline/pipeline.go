// Package pipeline drives one scrape run: fetch the listing, locate the
// table, extract every row, then write the artifacts. All user-facing
// output goes through the injected event sinks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/use-agent/edenscrape/cache"
	"github.com/use-agent/edenscrape/config"
	"github.com/use-agent/edenscrape/events"
	"github.com/use-agent/edenscrape/models"
	"github.com/use-agent/edenscrape/report"
	"github.com/use-agent/edenscrape/scraper"
	"github.com/use-agent/edenscrape/simhash"
)

// State is the orchestrator's position in a run.
type State string

const (
	StateIdle       State = "idle"
	StateFetching   State = "fetching"
	StateLocating   State = "locating"
	StateRowLoop    State = "row_loop"
	StateFinalizing State = "finalizing"
	StateDone       State = "done"
)

// FingerprintFile is the drift baseline kept inside the asset root.
const FingerprintFile = "table_fingerprint.json"

// Options is the immutable per-run configuration.
type Options struct {
	Mode      models.Mode
	OutputDir string
	TargetURL string

	// AssetRoot is the directory name below OutputDir holding icons.
	AssetRoot string
	Assets    cache.Options

	ReportBase     string
	DiagnosticFile string
	RouletteFile   string
	DriftThreshold int
}

// OptionsFromConfig derives run options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config, mode models.Mode, outputDir string) Options {
	return Options{
		Mode:      mode,
		OutputDir: outputDir,
		TargetURL: cfg.Source.TargetURL,
		AssetRoot: cfg.Assets.Root,
		Assets: cache.Options{
			BaseURL:     cfg.Source.BaseURL,
			UserAgent:   cfg.Source.UserAgent,
			GetTimeout:  cfg.Assets.GetTimeout,
			HeadTimeout: cfg.Assets.HeadTimeout,
			Delay:       cfg.Assets.DownloadDelay,
		},
		ReportBase:     cfg.Output.ReportBase,
		DiagnosticFile: cfg.Output.DiagnosticFile,
		RouletteFile:   cfg.Output.RouletteFile,
		DriftThreshold: cfg.Output.DriftThreshold,
	}
}

// TableSource fetches the listing document and finds the table in it.
// *scraper.Locator implements it.
type TableSource interface {
	Fetch(ctx context.Context, targetURL string) (*goquery.Document, error)
	LocateDocument(doc *goquery.Document) (*scraper.Table, error)
}

// AssetFactory builds the asset resolver for a run.
type AssetFactory func(opts cache.Options) (scraper.AssetResolver, error)

func defaultAssets(opts cache.Options) (scraper.AssetResolver, error) {
	return cache.New(opts)
}

// Runner executes runs. It holds no state shared with the consumer other
// than the two sinks and the atomic state value.
type Runner struct {
	source    TableSource
	logs      events.LogSink
	progress  events.ProgressSink
	newAssets AssetFactory

	state atomic.Value
}

// NewRunner creates a Runner that reports to logs and progress.
func NewRunner(source TableSource, logs events.LogSink, progress events.ProgressSink) *Runner {
	r := &Runner{
		source:    source,
		logs:      logs,
		progress:  progress,
		newAssets: defaultAssets,
	}
	r.state.Store(StateIdle)
	return r
}

// WithAssetFactory replaces the asset resolver constructor.
func (r *Runner) WithAssetFactory(f AssetFactory) *Runner {
	r.newAssets = f
	return r
}

// State returns the current orchestrator state.
func (r *Runner) State() State {
	return r.state.Load().(State)
}

func (r *Runner) setState(s State) { r.state.Store(s) }

// Start runs the pipeline on its own goroutine and returns immediately.
// Completion is signalled by the terminal progress event.
func (r *Runner) Start(ctx context.Context, opts Options) {
	go func() {
		_, _ = r.Run(ctx, opts)
	}()
}

// Run executes the pipeline synchronously. The terminal progress event is
// always the last event emitted. The returned error is the fatal error
// carried by that event, if any.
func (r *Runner) Run(ctx context.Context, opts Options) (*models.RunSummary, error) {
	summary := &models.RunSummary{Mode: opts.Mode, OutputDir: opts.OutputDir}

	err := r.run(ctx, opts, summary)
	r.setState(StateDone)
	if err != nil {
		msg := userMessage(err)
		r.logs.Log(events.LevelError, msg)
		r.progress.Progress(events.ProgressEvent{Done: true, Error: true, ErrorMessage: msg, Summary: summary})
		return summary, err
	}
	r.progress.Progress(events.ProgressEvent{Done: true, Summary: summary})
	return summary, nil
}

func (r *Runner) run(ctx context.Context, opts Options, summary *models.RunSummary) error {
	if !opts.Mode.Valid() {
		return models.NewScrapeError(models.ErrCodeInvalidInput, fmt.Sprintf("unknown mode %q", opts.Mode), nil)
	}
	if info, err := os.Stat(opts.OutputDir); err != nil || !info.IsDir() {
		return models.NewScrapeError(models.ErrCodeInvalidInput, "output directory does not exist: "+opts.OutputDir, err)
	}

	assetRoot := filepath.Join(opts.OutputDir, opts.AssetRoot)
	if err := cache.EnsureLayout(assetRoot); err != nil {
		return models.NewScrapeError(models.ErrCodeReportWrite, "could not create asset directories", err)
	}
	r.logs.Log(events.LevelInfo, "Output directory set to: "+opts.OutputDir)

	r.setState(StateFetching)
	r.logs.Log(events.LevelInfo, "Fetching page: "+opts.TargetURL)
	doc, err := r.source.Fetch(ctx, opts.TargetURL)
	if err != nil {
		return err
	}
	r.logs.Log(events.LevelInfo, "Page fetched. Parsing HTML...")

	r.setState(StateLocating)
	table, err := r.source.LocateDocument(doc)
	if err != nil {
		return err
	}
	summary.TableSelector = table.Selector
	r.logs.Log(events.LevelSuccess, fmt.Sprintf("Character table found (%s). Parsing rows...", table.Selector))
	summary.DriftDistance = r.checkDrift(table, filepath.Join(assetRoot, FingerprintFile), opts.DriftThreshold)

	total := len(table.Rows)
	summary.RowsTotal = total
	r.logs.Log(events.LevelInfo, fmt.Sprintf("Found %d potential character rows.", total))
	if total <= 0 {
		r.logs.Log(events.LevelInfo, "No character rows found to process.")
		return nil
	}

	var assets scraper.AssetResolver
	if opts.Mode == models.ModeReport {
		ao := opts.Assets
		ao.Root = assetRoot
		if assets, err = r.newAssets(ao); err != nil {
			return models.NewScrapeError(models.ErrCodeInternal, "could not prepare asset cache", err)
		}
	}
	extractor := scraper.NewExtractor(assets, r.logs)

	r.setState(StateRowLoop)
	r.progress.Progress(events.ProgressEvent{Current: 0, Max: total})

	var diagnostics []models.DiagnosticRow
	var records []models.Record
	for i, row := range table.Rows {
		if err := ctx.Err(); err != nil {
			return models.NewScrapeError(models.ErrCodeInternal, "run cancelled", err)
		}
		ordinal := i + 1

		res := extractor.Extract(ctx, ordinal, row, opts.Mode)
		summary.AssetsFailed += res.AssetFailures
		if res.Skipped {
			summary.RowsSkipped++
		} else {
			diagnostics = append(diagnostics, *res.Diagnostic)
		}

		if opts.Mode == models.ModeDiagnostic {
			if ordinal%50 == 0 {
				r.logs.Log(events.LevelInfo, fmt.Sprintf("Structure analysis: processed row %d/%d", ordinal, total))
			}
		} else if res.Record != nil {
			records = append(records, *res.Record)
			if ordinal%20 == 0 {
				r.logs.Log(events.LevelInfo, fmt.Sprintf("Row %d: parsed & downloaded for '%s'", ordinal, res.Record.Name))
			}
		}

		r.progress.Progress(events.ProgressEvent{Current: ordinal, Max: total})
	}
	summary.Records = len(records)

	r.setState(StateFinalizing)
	if len(diagnostics) > 0 {
		summary.DiagnosticPath = r.writeDiagnostics(opts, diagnostics)
	}

	if opts.Mode == models.ModeDiagnostic {
		r.logs.Log(events.LevelSuccess, "Structure analysis sheet generated. Main report generation skipped.")
		return nil
	}
	if len(records) == 0 {
		r.logs.Log(events.LevelInfo, "No data to save to the final report.")
		return nil
	}

	reportPath := cache.UniquePath(filepath.Join(opts.OutputDir, opts.ReportBase+".xlsx"))
	r.logs.Log(events.LevelInfo, fmt.Sprintf("Saving final data to Excel: %s (%d characters)", reportPath, len(records)))
	if err := report.WriteWorkbook(reportPath, records, r.logs); err != nil {
		return err
	}
	summary.ReportPath = reportPath
	r.logs.Log(events.LevelSuccess, "Final data successfully saved to "+reportPath)

	roulettePath := filepath.Join(opts.OutputDir, opts.RouletteFile)
	if err := report.WriteRoulette(roulettePath, records); err != nil {
		r.logs.Log(events.LevelWarn, fmt.Sprintf("Error generating roulette CSV: %v", err))
	} else {
		summary.RoulettePath = roulettePath
		r.logs.Log(events.LevelInfo, "Roulette CSV generated: "+roulettePath)
	}

	mdPath := cache.UniquePath(filepath.Join(opts.OutputDir, opts.ReportBase+".md"))
	if err := report.WriteMarkdown(mdPath, records); err != nil {
		r.logs.Log(events.LevelWarn, fmt.Sprintf("Error writing markdown report: %v", err))
	} else {
		summary.MarkdownPath = mdPath
		r.logs.Log(events.LevelInfo, "Markdown report written: "+mdPath)
	}
	return nil
}

func (r *Runner) writeDiagnostics(opts Options, rows []models.DiagnosticRow) string {
	path := cache.UniquePath(filepath.Join(opts.OutputDir, opts.DiagnosticFile))
	r.logs.Log(events.LevelInfo, "Saving structure analysis to: "+path)
	if err := report.WriteDiagnostics(path, rows); err != nil {
		r.logs.Log(events.LevelWarn, fmt.Sprintf("Error writing CSV file %s: %v", path, err))
		return ""
	}
	r.logs.Log(events.LevelSuccess, "Structure analysis sheet saved: "+path)
	return path
}

// checkDrift compares the table's structure with the previous run in the
// same directory. Problems reading or writing the baseline are warnings.
func (r *Runner) checkDrift(table *scraper.Table, path string, threshold int) int {
	var nodes []*html.Node
	if table.Header != nil {
		nodes = append(nodes, table.Header.Nodes...)
	}
	if len(table.Rows) > 0 {
		nodes = append(nodes, table.Rows[0].Nodes...)
	}
	fp := simhash.FingerprintNodes(nodes...)

	distance, known, err := simhash.Drift(path, simhash.Baseline{Fingerprint: fp, Selector: table.Selector})
	if err != nil {
		r.logs.Log(events.LevelWarn, fmt.Sprintf("Could not update table fingerprint: %v", err))
		return distance
	}
	if known && distance > threshold {
		r.logs.Log(events.LevelWarn, fmt.Sprintf("Table structure changed since the last run (distance %d); check structure_analysis output.", distance))
	}
	return distance
}

// userMessage renders a fatal error for the terminal event.
func userMessage(err error) string {
	var se *models.ScrapeError
	if !errors.As(err, &se) {
		return err.Error()
	}
	if se.Err != nil {
		return fmt.Sprintf("%s: %v", se.Message, se.Err)
	}
	return se.Message
}
