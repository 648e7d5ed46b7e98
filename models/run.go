package models

// RunSummary lists what a finished run produced.
type RunSummary struct {
	Mode           Mode   `json:"mode"`
	OutputDir      string `json:"output_dir"`
	TableSelector  string `json:"table_selector,omitempty"`
	RowsTotal      int    `json:"rows_total"`
	RowsSkipped    int    `json:"rows_skipped"`
	Records        int    `json:"records"`
	AssetsFailed   int    `json:"assets_failed"`
	DiagnosticPath string `json:"diagnostic_path,omitempty"`
	ReportPath     string `json:"report_path,omitempty"`
	RoulettePath   string `json:"roulette_path,omitempty"`
	MarkdownPath   string `json:"markdown_path,omitempty"`
	DriftDistance  int    `json:"drift_distance"`
}

// RunRequest is the payload for POST /api/v1/runs.
type RunRequest struct {
	// Mode is "diagnostic" or "report". Required.
	Mode Mode `json:"mode" binding:"required,oneof=diagnostic report"`

	// OutputDir must be an existing directory on the server host.
	// Default: the configured output directory.
	OutputDir string `json:"output_dir,omitempty"`
}

// RunResponse is the immediate response for POST /api/v1/runs.
type RunResponse struct {
	ID     string       `json:"id"`
	Status string       `json:"status"`
	Error  *ErrorDetail `json:"error,omitempty"`
}

// LogLine is one run log message as exposed by the API.
type LogLine struct {
	Time    string `json:"time"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

// RunStatusResponse is the response for GET /api/v1/runs/:id.
type RunStatusResponse struct {
	ID           string      `json:"id"`
	Status       string      `json:"status"` // "running", "completed", "failed"
	State        string      `json:"state"`
	Mode         Mode        `json:"mode"`
	Current      int         `json:"current"`
	Max          int         `json:"max"`
	Logs         []LogLine   `json:"logs"`
	NextLog      int         `json:"next_log"`
	ErrorMessage string      `json:"error_message,omitempty"`
	Summary      *RunSummary `json:"summary,omitempty"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status     string `json:"status"`
	Uptime     string `json:"uptime"`
	ActiveRuns int    `json:"active_runs"`
	Version    string `json:"version"`
}

// ErrorResponse wraps an ErrorDetail for non-2xx API responses.
type ErrorResponse struct {
	Error *ErrorDetail `json:"error"`
}
