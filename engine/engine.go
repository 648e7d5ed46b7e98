package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/use-agent/edenscrape/config"
)

// Engine is the interface that all document fetchers must implement.
type Engine interface {
	// Name returns the engine identifier ("http", "browser" or "auto").
	Name() string

	// Fetch retrieves the raw document for the given request.
	Fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error)

	// Close releases any process or connection the engine holds.
	Close() error
}

// FetchRequest contains everything an engine needs to fetch a page.
type FetchRequest struct {
	URL     string
	Headers map[string]string
	Timeout time.Duration
}

// FetchResult is the output of a successful engine fetch. Body is kept as
// bytes so the caller can decode it with the declared charset.
type FetchResult struct {
	Body        []byte
	ContentType string
	StatusCode  int
	FinalURL    string
	EngineName  string
}

// New returns the engine selected by src.Engine.
func New(src config.SourceConfig, browser config.BrowserConfig) (Engine, error) {
	switch src.Engine {
	case "", "http":
		return NewHTTPEngine(src.UserAgent), nil
	case "browser":
		return NewRodEngine(browser, src.UserAgent), nil
	case "auto":
		engines := []Engine{NewHTTPEngine(src.UserAgent), NewRodEngine(browser, src.UserAgent)}
		return NewDispatcher(engines, []time.Duration{0, src.EscalationDelay}, NewHostMemory(24*time.Hour)), nil
	default:
		return nil, fmt.Errorf("engine: unknown fetch engine %q", src.Engine)
	}
}
