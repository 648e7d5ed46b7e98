package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/schollz/progressbar/v3"

	"github.com/use-agent/edenscrape/events"
	"github.com/use-agent/edenscrape/models"
)

// console renders drained run events: a spinner until the row count is
// known, then a progress bar, with log lines printed above it.
type console struct {
	out  io.Writer
	term io.Writer

	spin *spinner.Spinner
	bar  *progressbar.ProgressBar
}

func newConsole(out, term io.Writer) *console {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " Fetching character list..."
	s.Writer = term
	return &console{out: out, term: term, spin: s}
}

// Start shows the spinner.
func (c *console) Start() { c.spin.Start() }

// Stop clears whatever indicator is still on screen.
func (c *console) Stop() {
	c.spin.Stop()
	if c.bar != nil {
		_ = c.bar.Finish()
		c.bar = nil
	}
}

var levelColors = map[events.Level]*color.Color{
	events.LevelInfo:    color.New(color.Reset),
	events.LevelSuccess: color.New(color.FgGreen),
	events.LevelWarn:    color.New(color.FgYellow),
	events.LevelError:   color.New(color.FgRed, color.Bold),
}

func formatLine(ev events.LogEvent) string {
	line := fmt.Sprintf("[%s] %s", ev.Time.Format("15:04:05"), ev.Message)
	if c, ok := levelColors[ev.Level]; ok {
		return c.Sprint(line)
	}
	return line
}

// OnLog implements events.Handler.
func (c *console) OnLog(ev events.LogEvent) {
	if c.bar != nil {
		_ = c.bar.Clear()
	}
	fmt.Fprintln(c.out, formatLine(ev))
}

// OnProgress implements events.Handler.
func (c *console) OnProgress(ev events.ProgressEvent) {
	if ev.Done {
		c.Stop()
		if ev.Error {
			fmt.Fprintln(c.out, color.New(color.FgRed, color.Bold).Sprint("✗ "+ev.ErrorMessage))
		}
		return
	}
	if ev.Max <= 0 {
		return
	}
	if c.bar == nil {
		c.spin.Stop()
		c.bar = progressbar.NewOptions(ev.Max,
			progressbar.OptionSetWriter(c.term),
			progressbar.OptionSetDescription("Rows"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "█",
				SaucerHead:    "█",
				SaucerPadding: "░",
				BarStart:      "│",
				BarEnd:        "│",
			}),
			progressbar.OptionOnCompletion(func() { fmt.Fprint(c.term, "\n") }),
			progressbar.OptionSetRenderBlankState(true),
		)
	}
	_ = c.bar.Set(ev.Current)
}

// renderSummary prints what the run produced.
func renderSummary(w io.Writer, s *models.RunSummary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Run", string(s.Mode)})
	t.AppendRows([]table.Row{
		{"Output directory", s.OutputDir},
		{"Table", orDash(s.TableSelector)},
		{"Rows", s.RowsTotal},
		{"Skipped rows", s.RowsSkipped},
		{"Records", s.Records},
		{"Asset failures", s.AssetsFailed},
		{"Drift distance", strconv.Itoa(s.DriftDistance)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Report", orDash(s.ReportPath)},
		{"Structure analysis", orDash(s.DiagnosticPath)},
		{"Roulette CSV", orDash(s.RoulettePath)},
		{"Markdown", orDash(s.MarkdownPath)},
	})
	t.SetStyle(table.StyleRounded)
	t.Render()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
