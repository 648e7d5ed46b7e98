package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/use-agent/edenscrape/config"
	"github.com/use-agent/edenscrape/events"
	"github.com/use-agent/edenscrape/models"
	"github.com/use-agent/edenscrape/pipeline"
	"github.com/use-agent/edenscrape/webhook"
)

// Run statuses exposed by the API.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

const runTTL = time.Hour

// Runs owns the run store. Each run gets its own event channel and a
// consumer goroutine that folds drained events into the stored job.
type Runs struct {
	cfg    *config.Config
	source pipeline.TableSource
	assets pipeline.AssetFactory

	store      sync.Map // id -> *runJob
	activeDirs sync.Map // output dir -> id
}

// NewRuns creates a run store that fetches through source.
func NewRuns(cfg *config.Config, source pipeline.TableSource) *Runs {
	return &Runs{cfg: cfg, source: source}
}

// WithAssetFactory overrides how runs build their asset cache.
func (rs *Runs) WithAssetFactory(f pipeline.AssetFactory) *Runs {
	rs.assets = f
	return rs
}

// Active returns the number of runs still in progress.
func (rs *Runs) Active() int {
	n := 0
	rs.activeDirs.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Janitor expires finished runs older than one hour until ctx is done.
func (rs *Runs) Janitor(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			rs.expire(now)
		}
	}
}

func (rs *Runs) expire(now time.Time) {
	cutoff := now.Add(-runTTL)
	rs.store.Range(func(key, value any) bool {
		job := value.(*runJob)
		if job.finished() && job.createdAt.Before(cutoff) {
			rs.store.Delete(key)
		}
		return true
	})
}

type runJob struct {
	id        string
	mode      models.Mode
	outputDir string
	createdAt time.Time
	runner    *pipeline.Runner

	mu      sync.Mutex
	status  string
	current int
	max     int
	logs    []models.LogLine
	errMsg  string
	summary *models.RunSummary
}

// OnLog implements events.Handler.
func (j *runJob) OnLog(ev events.LogEvent) {
	slog.Debug("run log", "run_id", j.id, "level", string(ev.Level), "message", ev.Message)
	j.mu.Lock()
	j.logs = append(j.logs, models.LogLine{
		Time:    ev.Time.Format(time.RFC3339),
		Level:   string(ev.Level),
		Message: ev.Message,
	})
	j.mu.Unlock()
}

// OnProgress implements events.Handler.
func (j *runJob) OnProgress(ev events.ProgressEvent) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !ev.Done {
		j.current, j.max = ev.Current, ev.Max
		return
	}
	j.summary = ev.Summary
	if ev.Error {
		j.status = StatusFailed
		j.errMsg = ev.ErrorMessage
	} else {
		j.status = StatusCompleted
	}
}

func (j *runJob) finished() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status != StatusRunning
}

func (j *runJob) snapshot(since int) models.RunStatusResponse {
	j.mu.Lock()
	defer j.mu.Unlock()

	if since > len(j.logs) {
		since = len(j.logs)
	}
	logs := make([]models.LogLine, len(j.logs)-since)
	copy(logs, j.logs[since:])

	return models.RunStatusResponse{
		ID:           j.id,
		Status:       j.status,
		State:        string(j.runner.State()),
		Mode:         j.mode,
		Current:      j.current,
		Max:          j.max,
		Logs:         logs,
		NextLog:      len(j.logs),
		ErrorMessage: j.errMsg,
		Summary:      j.summary,
	}
}

func errorJSON(c *gin.Context, status int, code, msg string) {
	c.JSON(status, models.ErrorResponse{Error: models.NewScrapeError(code, msg, nil).ToDetail()})
}

// PostRun returns a handler for POST /api/v1/runs.
// It validates the request, registers the run, and starts the pipeline and
// its consumer in the background.
func (rs *Runs) PostRun() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.RunRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			errorJSON(c, http.StatusBadRequest, models.ErrCodeInvalidInput, "mode must be \"diagnostic\" or \"report\"")
			return
		}

		dir := req.OutputDir
		if dir == "" {
			dir = rs.cfg.Output.Dir
		}
		dir, err := filepath.Abs(dir)
		if err == nil {
			var info os.FileInfo
			if info, err = os.Stat(dir); err == nil && !info.IsDir() {
				err = errors.New("not a directory")
			}
		}
		if err != nil {
			errorJSON(c, http.StatusBadRequest, models.ErrCodeInvalidInput, "output_dir must be an existing directory")
			return
		}

		id := uuid.NewString()
		if other, busy := rs.activeDirs.LoadOrStore(dir, id); busy {
			errorJSON(c, http.StatusConflict, models.ErrCodeConflict, "run "+other.(string)+" is already writing to "+dir)
			return
		}

		ch := events.NewChannel()
		runner := pipeline.NewRunner(rs.source, ch, ch)
		if rs.assets != nil {
			runner.WithAssetFactory(rs.assets)
		}
		job := &runJob{
			id:        id,
			mode:      req.Mode,
			outputDir: dir,
			createdAt: time.Now(),
			runner:    runner,
			status:    StatusRunning,
		}
		rs.store.Store(id, job)

		opts := pipeline.OptionsFromConfig(rs.cfg, req.Mode, dir)
		runner.Start(context.Background(), opts)
		go rs.consume(job, ch)

		slog.Info("run started", "run_id", id, "mode", req.Mode, "output_dir", dir)
		c.JSON(http.StatusAccepted, models.RunResponse{ID: id, Status: StatusRunning})
	}
}

// consume drains the run's channel until the terminal event.
func (rs *Runs) consume(job *runJob, ch *events.Channel) {
	final, err := events.Poll(context.Background(), ch, rs.cfg.Consumer.PollInterval, job)
	rs.activeDirs.Delete(job.outputDir)
	if err != nil {
		slog.Error("run consumer stopped", "run_id", job.id, "error", err)
		return
	}

	evType := webhook.EventRunCompleted
	if final.Error {
		evType = webhook.EventRunFailed
		slog.Warn("run failed", "run_id", job.id, "error", final.ErrorMessage)
	} else {
		slog.Info("run finished", "run_id", job.id, "records", recordsOf(final.Summary))
	}

	if rs.cfg.Webhook.URL != "" {
		webhook.DeliverAsync(rs.cfg.Webhook.URL, rs.cfg.Webhook.Secret, &webhook.Event{
			Type:      evType,
			RunID:     job.id,
			Timestamp: time.Now().Unix(),
			Data:      job.snapshot(0),
		})
	}
}

func recordsOf(s *models.RunSummary) int {
	if s == nil {
		return 0
	}
	return s.Records
}

// GetRun returns a handler for GET /api/v1/runs/:id.
// The optional since query parameter skips log lines already seen.
func (rs *Runs) GetRun() gin.HandlerFunc {
	return func(c *gin.Context) {
		val, ok := rs.store.Load(c.Param("id"))
		if !ok {
			errorJSON(c, http.StatusNotFound, models.ErrCodeNotFound, "run not found")
			return
		}

		since := 0
		if raw := c.Query("since"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				errorJSON(c, http.StatusBadRequest, models.ErrCodeInvalidInput, "since must be a non-negative integer")
				return
			}
			since = n
		}

		c.JSON(http.StatusOK, val.(*runJob).snapshot(since))
	}
}
