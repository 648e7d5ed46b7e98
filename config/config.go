package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	Source    SourceConfig
	Assets    AssetsConfig
	Output    OutputConfig
	Browser   BrowserConfig
	Server    ServerConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Webhook   WebhookConfig
	Log       LogConfig
	Consumer  ConsumerConfig
}

// SourceConfig describes the character listing document.
type SourceConfig struct {
	// TargetURL is the page holding the character table.
	TargetURL string // default: "https://anothereden.wiki/w/Characters"

	// BaseURL resolves relative icon references.
	BaseURL string // default: "https://anothereden.wiki"

	// UserAgent is sent with every request.
	UserAgent string

	// FetchTimeout bounds the document GET.
	FetchTimeout time.Duration // default: 15s

	// Engine selects the document fetcher: "http", "browser" or "auto".
	Engine string // default: "http"

	// EscalationDelay is how long "auto" waits on the HTTP engine before
	// also starting the browser.
	EscalationDelay time.Duration // default: 5s

	// TableSelectors are tried in order; the first match wins.
	TableSelectors []string // default: ["table.chara-table", "table.wikitable"]
}

// AssetsConfig controls icon downloads.
type AssetsConfig struct {
	// Root is the asset directory name below the output directory.
	Root string // default: "character_art"

	// GetTimeout bounds one icon download.
	GetTimeout time.Duration // default: 10s

	// HeadTimeout bounds the content-type probe.
	HeadTimeout time.Duration // default: 3s

	// DownloadDelay follows every real download.
	DownloadDelay time.Duration // default: 50ms
}

// OutputConfig names the run artifacts.
type OutputConfig struct {
	// Dir is the default output directory when none is given.
	Dir string

	// ReportBase is the report file name without extension.
	ReportBase string // default: "another_eden_characters_detailed"

	// DiagnosticFile is the diagnostic side file name.
	DiagnosticFile string // default: "structure_analysis.csv"

	// RouletteFile is the normalized CSV consumed by the viewer.
	RouletteFile string // default: "eden_roulette_data.csv"

	// DriftThreshold is the largest table fingerprint distance that is
	// not reported as schema drift.
	DriftThreshold int // default: 8
}

// BrowserConfig controls the Rod browser used by the "browser" engine.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool // default: true

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string

	// Stealth masks automation fingerprints.
	Stealth bool // default: true
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "127.0.0.1"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool // default: false

	// APIKeys is the list of valid API keys.
	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per API key.
	RequestsPerSecond float64 // default: 5

	// Burst is the maximum burst size per API key.
	Burst int // default: 10
}

// WebhookConfig controls run completion notifications.
type WebhookConfig struct {
	URL    string
	Secret string
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "text"
}

// ConsumerConfig controls how presentation layers drain run events.
type ConsumerConfig struct {
	PollInterval time.Duration // default: 100ms
}

// Load reads configuration from environment variables with sane defaults.
// A .env file in the working directory is applied first when present;
// variables already set in the environment win.
func Load() *Config {
	_ = godotenv.Load()

	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}

	return &Config{
		Source: SourceConfig{
			TargetURL:       envOr("EDEN_TARGET_URL", "https://anothereden.wiki/w/Characters"),
			BaseURL:         envOr("EDEN_BASE_URL", "https://anothereden.wiki"),
			UserAgent:       envOr("EDEN_USER_AGENT", DefaultUserAgent),
			FetchTimeout:    envDurationOr("EDEN_FETCH_TIMEOUT", 15*time.Second),
			Engine:          envOr("EDEN_FETCH_ENGINE", "http"),
			EscalationDelay: envDurationOr("EDEN_ESCALATION_DELAY", 5*time.Second),
			TableSelectors: envSliceOr("EDEN_TABLE_SELECTORS", []string{
				"table.chara-table", "table.wikitable",
			}),
		},
		Assets: AssetsConfig{
			Root:          envOr("EDEN_ASSET_ROOT", "character_art"),
			GetTimeout:    envDurationOr("EDEN_ASSET_TIMEOUT", 10*time.Second),
			HeadTimeout:   envDurationOr("EDEN_ASSET_HEAD_TIMEOUT", 3*time.Second),
			DownloadDelay: envDurationOr("EDEN_DOWNLOAD_DELAY", 50*time.Millisecond),
		},
		Output: OutputConfig{
			Dir:            envOr("EDEN_OUTPUT_DIR", cwd),
			ReportBase:     envOr("EDEN_REPORT_BASE", "another_eden_characters_detailed"),
			DiagnosticFile: envOr("EDEN_DIAGNOSTIC_FILE", "structure_analysis.csv"),
			RouletteFile:   envOr("EDEN_ROULETTE_FILE", "eden_roulette_data.csv"),
			DriftThreshold: envIntOr("EDEN_DRIFT_THRESHOLD", 8),
		},
		Browser: BrowserConfig{
			Headless:   envBoolOr("EDEN_HEADLESS", true),
			NoSandbox:  envBoolOr("EDEN_NO_SANDBOX", false),
			BrowserBin: os.Getenv("EDEN_BROWSER_BIN"),
			Stealth:    envBoolOr("EDEN_STEALTH", true),
		},
		Server: ServerConfig{
			Host: envOr("EDEN_HOST", "127.0.0.1"),
			Port: envIntOr("EDEN_PORT", 8080),
			Mode: envOr("EDEN_MODE", "release"),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("EDEN_AUTH_ENABLED", false),
			APIKeys: envSliceOr("EDEN_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("EDEN_RATE_RPS", 5.0),
			Burst:             envIntOr("EDEN_RATE_BURST", 10),
		},
		Webhook: WebhookConfig{
			URL:    os.Getenv("EDEN_WEBHOOK_URL"),
			Secret: os.Getenv("EDEN_WEBHOOK_SECRET"),
		},
		Log: LogConfig{
			Level:  envOr("EDEN_LOG_LEVEL", "info"),
			Format: envOr("EDEN_LOG_FORMAT", "text"),
		},
		Consumer: ConsumerConfig{
			PollInterval: envDurationOr("EDEN_POLL_INTERVAL", 100*time.Millisecond),
		},
	}
}

// DefaultUserAgent is a desktop Chrome identity.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
