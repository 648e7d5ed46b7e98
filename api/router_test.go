package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/edenscrape/api/handler"
	"github.com/use-agent/edenscrape/config"
	"github.com/use-agent/edenscrape/engine"
	"github.com/use-agent/edenscrape/models"
	"github.com/use-agent/edenscrape/scraper"
	"github.com/use-agent/edenscrape/webhook"
)

const page = `<html><body><table class="chara-table">
<tr><th>Icon</th><th>Name</th><th>Element</th><th>Release</th></tr>
<tr><td><img src="/images/Aldo.png" alt="Aldo Icon"></td><td><a>Aldo</a><br>5★</td><td></td><td>2017</td></tr>
<tr><td><img src="/images/Riica.png" alt="Riica Icon"></td><td><a>Riica</a><br>5★</td><td></td><td>2019</td></tr>
</table></body></html>`

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, page)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(siteURL, outDir string) *config.Config {
	return &config.Config{
		Source: config.SourceConfig{
			TargetURL:      siteURL + "/w/Characters",
			BaseURL:        siteURL,
			UserAgent:      "edenscrape-test",
			FetchTimeout:   5 * time.Second,
			TableSelectors: []string{"table.chara-table", "table.wikitable"},
		},
		Assets: config.AssetsConfig{
			Root:        "character_art",
			GetTimeout:  2 * time.Second,
			HeadTimeout: time.Second,
		},
		Output: config.OutputConfig{
			Dir:            outDir,
			ReportBase:     "another_eden_characters_detailed",
			DiagnosticFile: "structure_analysis.csv",
			RouletteFile:   "eden_roulette_data.csv",
			DriftThreshold: 8,
		},
		Server:    config.ServerConfig{Mode: gin.TestMode},
		RateLimit: config.RateLimitConfig{RequestsPerSecond: 100, Burst: 100},
		Consumer:  config.ConsumerConfig{PollInterval: 5 * time.Millisecond},
	}
}

func newLocator(t *testing.T, cfg *config.Config) *scraper.Locator {
	t.Helper()
	loc, err := scraper.NewLocator(engine.NewHTTPEngine(cfg.Source.UserAgent), cfg.Source.FetchTimeout, cfg.Source.TableSelectors)
	require.NoError(t, err)
	return loc
}

func request(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func waitFinished(t *testing.T, r http.Handler, id string) models.RunStatusResponse {
	t.Helper()
	var st models.RunStatusResponse
	require.Eventually(t, func() bool {
		st = decode[models.RunStatusResponse](t, request(t, r, http.MethodGet, "/api/v1/runs/"+id, nil))
		return st.Status != handler.StatusRunning
	}, 10*time.Second, 10*time.Millisecond)
	return st
}

func TestHealth(t *testing.T) {
	cfg := testConfig("http://unused", t.TempDir())
	r := NewRouter(handler.NewRuns(cfg, newLocator(t, cfg)), cfg, time.Now())

	w := request(t, r, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	h := decode[models.HealthResponse](t, w)
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, 0, h.ActiveRuns)
	assert.Equal(t, handler.Version, h.Version)
}

func TestPostRun_Validation(t *testing.T) {
	cfg := testConfig("http://unused", t.TempDir())
	r := NewRouter(handler.NewRuns(cfg, newLocator(t, cfg)), cfg, time.Now())

	w := request(t, r, http.MethodPost, "/api/v1/runs", map[string]string{"mode": "everything"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, models.ErrCodeInvalidInput, decode[models.ErrorResponse](t, w).Error.Code)

	w = request(t, r, http.MethodPost, "/api/v1/runs", map[string]string{
		"mode": "report", "output_dir": filepath.Join(t.TempDir(), "absent"),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = request(t, r, http.MethodGet, "/api/v1/runs/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRun_DiagnosticLifecycle(t *testing.T) {
	site := newSite(t)
	out := t.TempDir()
	cfg := testConfig(site.URL, out)
	r := NewRouter(handler.NewRuns(cfg, newLocator(t, cfg)), cfg, time.Now())

	w := request(t, r, http.MethodPost, "/api/v1/runs", map[string]string{"mode": "diagnostic"})
	require.Equal(t, http.StatusAccepted, w.Code)
	created := decode[models.RunResponse](t, w)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, handler.StatusRunning, created.Status)

	st := waitFinished(t, r, created.ID)
	assert.Equal(t, handler.StatusCompleted, st.Status)
	assert.Equal(t, "done", st.State)
	assert.Equal(t, 2, st.Max)
	assert.Equal(t, 2, st.Current)
	require.NotNil(t, st.Summary)
	assert.Equal(t, filepath.Join(out, "structure_analysis.csv"), st.Summary.DiagnosticPath)
	assert.Empty(t, st.Summary.ReportPath)
	require.NotEmpty(t, st.Logs)
	assert.Equal(t, "Output directory set to: "+out, st.Logs[0].Message)
	assert.Equal(t, len(st.Logs), st.NextLog)

	tail := decode[models.RunStatusResponse](t, request(t, r, http.MethodGet,
		"/api/v1/runs/"+created.ID+"?since=1", nil))
	assert.Len(t, tail.Logs, st.NextLog-1)
	assert.Equal(t, st.Logs[1], tail.Logs[0])

	w = request(t, r, http.MethodGet, "/api/v1/runs/"+created.ID+"?since=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// blockingSource holds Fetch until released, then fails.
type blockingSource struct {
	release chan struct{}
	once    sync.Once
}

func (b *blockingSource) Fetch(ctx context.Context, _ string) (*goquery.Document, error) {
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return nil, models.NewScrapeError(models.ErrCodeFetch, "error fetching page", errors.New("connection refused"))
}

func (b *blockingSource) LocateDocument(*goquery.Document) (*scraper.Table, error) {
	return nil, errors.New("unreachable")
}

func (b *blockingSource) Release() { b.once.Do(func() { close(b.release) }) }

func TestPostRun_ConflictOnActiveDir(t *testing.T) {
	out := t.TempDir()
	cfg := testConfig("http://unused", out)
	src := &blockingSource{release: make(chan struct{})}
	t.Cleanup(src.Release)
	r := NewRouter(handler.NewRuns(cfg, src), cfg, time.Now())

	first := request(t, r, http.MethodPost, "/api/v1/runs", map[string]string{"mode": "report"})
	require.Equal(t, http.StatusAccepted, first.Code)

	w := request(t, r, http.MethodPost, "/api/v1/runs", map[string]string{"mode": "diagnostic", "output_dir": out})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, models.ErrCodeConflict, decode[models.ErrorResponse](t, w).Error.Code)

	h := decode[models.HealthResponse](t, request(t, r, http.MethodGet, "/api/v1/health", nil))
	assert.Equal(t, 1, h.ActiveRuns)

	src.Release()
	st := waitFinished(t, r, decode[models.RunResponse](t, first).ID)
	assert.Equal(t, handler.StatusFailed, st.Status)
	assert.Contains(t, st.ErrorMessage, "error fetching page")

	require.Eventually(t, func() bool {
		return request(t, r, http.MethodPost, "/api/v1/runs", map[string]string{"mode": "diagnostic"}).Code == http.StatusAccepted
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRun_WebhookOnCompletion(t *testing.T) {
	site := newSite(t)
	got := make(chan webhook.Event, 1)
	var sig string
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		sig = r.Header.Get(webhook.SignatureHeader)
		var ev webhook.Event
		_ = json.Unmarshal(raw, &ev)
		got <- ev
	}))
	defer hook.Close()

	cfg := testConfig(site.URL, t.TempDir())
	cfg.Webhook = config.WebhookConfig{URL: hook.URL, Secret: "s"}
	r := NewRouter(handler.NewRuns(cfg, newLocator(t, cfg)), cfg, time.Now())

	created := decode[models.RunResponse](t, request(t, r, http.MethodPost, "/api/v1/runs", map[string]string{"mode": "diagnostic"}))

	select {
	case ev := <-got:
		assert.Equal(t, webhook.EventRunCompleted, ev.Type)
		assert.Equal(t, created.ID, ev.RunID)
		assert.NotEmpty(t, sig)
	case <-time.After(10 * time.Second):
		t.Fatal("webhook not delivered")
	}
}

func TestAuthProtectsRuns(t *testing.T) {
	cfg := testConfig("http://unused", t.TempDir())
	cfg.Auth = config.AuthConfig{Enabled: true, APIKeys: []string{"secret"}}
	r := NewRouter(handler.NewRuns(cfg, newLocator(t, cfg)), cfg, time.Now())

	assert.Equal(t, http.StatusUnauthorized, request(t, r, http.MethodGet, "/api/v1/runs/x", nil).Code)
	assert.Equal(t, http.StatusOK, request(t, r, http.MethodGet, "/api/v1/health", nil).Code)
}
