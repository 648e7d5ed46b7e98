package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/use-agent/edenscrape/models"
)

// apiClient talks to a running `edenscrape serve`.
type apiClient struct {
	http *resty.Client
	poll time.Duration
}

func newAPIClient(baseURL, apiKey string) *apiClient {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(30*time.Second).
		SetHeader("Content-Type", "application/json")
	if apiKey != "" {
		c.SetHeader("X-API-Key", apiKey)
	}
	return &apiClient{http: c, poll: 2 * time.Second}
}

// request decodes results as JSON even when a proxy drops the Content-Type.
func (a *apiClient) request(ctx context.Context) *resty.Request {
	return a.http.R().SetContext(ctx).ForceContentType("application/json")
}

func apiError(resp *resty.Response) error {
	var e models.ErrorResponse
	if err := json.Unmarshal(resp.Body(), &e); err == nil && e.Error != nil {
		return fmt.Errorf("%s: %s", e.Error.Code, e.Error.Message)
	}
	return fmt.Errorf("API returned status %d", resp.StatusCode())
}

func (a *apiClient) startRun(ctx context.Context, req models.RunRequest) (*models.RunResponse, error) {
	var out models.RunResponse
	resp, err := a.request(ctx).SetBody(req).SetResult(&out).Post("/api/v1/runs")
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return &out, nil
}

func (a *apiClient) getRun(ctx context.Context, id string, since int) (*models.RunStatusResponse, error) {
	var out models.RunStatusResponse
	resp, err := a.request(ctx).
		SetPathParam("id", id).
		SetQueryParam("since", fmt.Sprint(since)).
		SetResult(&out).
		Get("/api/v1/runs/{id}")
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return &out, nil
}

// waitRun polls until the run leaves the running status or ctx is done.
func (a *apiClient) waitRun(ctx context.Context, id string) (*models.RunStatusResponse, error) {
	ticker := time.NewTicker(a.poll)
	defer ticker.Stop()

	for {
		st, err := a.getRun(ctx, id, 0)
		if err != nil {
			return nil, err
		}
		if st.Status != "running" {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func main() {
	apiURL := os.Getenv("EDEN_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	client := newAPIClient(apiURL, os.Getenv("EDEN_API_KEY"))

	s := server.NewMCPServer(
		"edenscrape",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	startRunTool := mcp.NewTool("start_run",
		mcp.WithDescription("Start an Another Eden character scrape. 'diagnostic' writes a structure analysis CSV only; 'report' downloads icons and writes the Excel report."),
		mcp.WithString("mode",
			mcp.Required(),
			mcp.Description("Run mode"),
			mcp.Enum("diagnostic", "report"),
		),
		mcp.WithString("output_dir",
			mcp.Description("Existing directory on the server host (default: the server's configured output directory)"),
		),
		mcp.WithBoolean("wait",
			mcp.Description("Block until the run finishes and return its final status (default: false)"),
		),
	)
	s.AddTool(startRunTool, handleStartRun(client))

	getRunTool := mcp.NewTool("get_run",
		mcp.WithDescription("Get the state, progress, log lines and summary of a run."),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Run id returned by start_run"),
		),
		mcp.WithNumber("since",
			mcp.Description("Skip this many log lines (use next_log from the previous call)"),
		),
	)
	s.AddTool(getRunTool, handleGetRun(client))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func handleStartRun(client *apiClient) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		mode, err := request.RequireString("mode")
		if err != nil {
			return mcp.NewToolResultError("mode is required"), nil
		}

		started, err := client.startRun(ctx, models.RunRequest{
			Mode:      models.Mode(mode),
			OutputDir: request.GetString("output_dir", ""),
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("start run failed: %v", err)), nil
		}
		if !request.GetBool("wait", false) {
			return mcp.NewToolResultText(fmt.Sprintf("Run %s started (%s).", started.ID, mode)), nil
		}

		st, err := client.waitRun(ctx, started.ID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("run %s: %v", started.ID, err)), nil
		}
		return mcp.NewToolResultText(formatStatus(st)), nil
	}
}

func handleGetRun(client *apiClient) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := request.RequireString("id")
		if err != nil {
			return mcp.NewToolResultError("id is required"), nil
		}

		st, err := client.getRun(ctx, id, request.GetInt("since", 0))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("get run failed: %v", err)), nil
		}
		return mcp.NewToolResultText(formatStatus(st)), nil
	}
}

// formatStatus renders a run status as markdown for the model.
func formatStatus(st *models.RunStatusResponse) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Run %s\n\n", st.ID)
	fmt.Fprintf(&sb, "- Status: %s (%s)\n", st.Status, st.State)
	fmt.Fprintf(&sb, "- Mode: %s\n", st.Mode)
	if st.Max > 0 {
		fmt.Fprintf(&sb, "- Rows: %d/%d\n", st.Current, st.Max)
	}
	if st.ErrorMessage != "" {
		fmt.Fprintf(&sb, "- Error: %s\n", st.ErrorMessage)
	}

	if s := st.Summary; s != nil {
		fmt.Fprintf(&sb, "- Records: %d (skipped rows: %d, asset failures: %d)\n", s.Records, s.RowsSkipped, s.AssetsFailed)
		for _, f := range []struct{ label, path string }{
			{"Report", s.ReportPath},
			{"Structure analysis", s.DiagnosticPath},
			{"Roulette CSV", s.RoulettePath},
			{"Markdown", s.MarkdownPath},
		} {
			if f.path != "" {
				fmt.Fprintf(&sb, "- %s: %s\n", f.label, f.path)
			}
		}
	}

	if len(st.Logs) > 0 {
		sb.WriteString("\n### Log\n\n")
		for _, l := range st.Logs {
			fmt.Fprintf(&sb, "[%s] %s: %s\n", l.Time, l.Level, l.Message)
		}
	}
	fmt.Fprintf(&sb, "\nnext_log: %d\n", st.NextLog)
	return sb.String()
}
