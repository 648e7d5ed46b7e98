package main

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"

	"github.com/use-agent/edenscrape/events"
	"github.com/use-agent/edenscrape/models"
)

func init() {
	color.NoColor = true
}

func TestFormatLine(t *testing.T) {
	ev := events.LogEvent{
		Time:    time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC),
		Level:   events.LevelWarn,
		Message: "Row 3: download error",
	}
	assert.Equal(t, "[07:08:09] Row 3: download error", formatLine(ev))
}

func TestConsole_Lifecycle(t *testing.T) {
	var out bytes.Buffer
	c := newConsole(&out, io.Discard)
	c.Start()

	c.OnLog(events.LogEvent{Time: time.Now(), Level: events.LevelInfo, Message: "Fetching page: x"})
	c.OnProgress(events.ProgressEvent{Current: 0, Max: 2})
	assert.NotNil(t, c.bar)
	c.OnProgress(events.ProgressEvent{Current: 1, Max: 2})
	c.OnLog(events.LogEvent{Time: time.Now(), Level: events.LevelSuccess, Message: "saved"})
	c.OnProgress(events.ProgressEvent{Current: 2, Max: 2})
	c.OnProgress(events.ProgressEvent{Done: true, Error: true, ErrorMessage: "error fetching page: boom"})

	assert.Nil(t, c.bar)
	s := out.String()
	assert.Contains(t, s, "Fetching page: x")
	assert.Contains(t, s, "saved")
	assert.Contains(t, s, "✗ error fetching page: boom")
}

func TestRenderSummary(t *testing.T) {
	var out bytes.Buffer
	renderSummary(&out, &models.RunSummary{
		Mode:           models.ModeReport,
		OutputDir:      "/tmp/eden",
		TableSelector:  "table.chara-table",
		RowsTotal:      3,
		Records:        2,
		ReportPath:     "/tmp/eden/another_eden_characters_detailed.xlsx",
		DiagnosticPath: "/tmp/eden/structure_analysis.csv",
	})

	s := out.String()
	assert.Contains(t, s, "REPORT", "header cells are upper-cased")
	assert.Contains(t, s, "Records")
	assert.Contains(t, s, "table.chara-table")
	assert.Contains(t, s, "another_eden_characters_detailed.xlsx")
	assert.Contains(t, s, "Roulette CSV")
}
