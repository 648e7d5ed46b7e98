// Package events is the only coupling between a pipeline run and whatever
// presents it. The worker appends to two ordered queues (log lines and
// progress updates); a consumer drains them on its own schedule.
package events

import (
	"sync"
	"time"

	"github.com/use-agent/edenscrape/models"
)

// Level classifies a log line for presentation.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarn    Level = "warn"
	LevelError   Level = "error"
)

// LogEvent is a timestamped free-text message.
type LogEvent struct {
	Time    time.Time
	Level   Level
	Message string
}

// ProgressEvent is either a counter update (Current/Max) or, when Done is
// set, the terminal event of a run.
type ProgressEvent struct {
	Current int
	Max     int

	Done         bool
	Error        bool
	ErrorMessage string
	Summary      *models.RunSummary
}

// LogSink receives log lines from the worker.
type LogSink interface {
	Log(level Level, message string)
}

// ProgressSink receives progress updates from the worker.
type ProgressSink interface {
	Progress(ev ProgressEvent)
}

// Queue is an unbounded FIFO safe for one producer and any number of
// consumers.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
}

// Push appends v to the tail.
func (q *Queue[T]) Push(v T) {
	q.mu.Lock()
	q.items = append(q.items, v)
	q.mu.Unlock()
}

// Drain removes and returns up to max items from the head, in order.
// max <= 0 drains everything.
func (q *Queue[T]) Drain(max int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	if n == 0 {
		return nil
	}
	if max > 0 && max < n {
		n = max
	}
	out := make([]T, n)
	copy(out, q.items[:n])

	// Shift instead of reslicing so the backing array does not grow forever.
	rest := copy(q.items, q.items[n:])
	var zero T
	for i := rest; i < len(q.items); i++ {
		q.items[i] = zero
	}
	q.items = q.items[:rest]
	return out
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Channel is the pair of queues for one run. The worker holds it as a
// LogSink and ProgressSink; the consumer drains it.
type Channel struct {
	logs     Queue[LogEvent]
	progress Queue[ProgressEvent]
	now      func() time.Time
}

// NewChannel creates an empty Channel.
func NewChannel() *Channel {
	return &Channel{now: time.Now}
}

// Log implements LogSink.
func (c *Channel) Log(level Level, message string) {
	c.logs.Push(LogEvent{Time: c.now(), Level: level, Message: message})
}

// Progress implements ProgressSink.
func (c *Channel) Progress(ev ProgressEvent) {
	c.progress.Push(ev)
}

// DrainLogs removes up to max pending log lines (all when max <= 0).
func (c *Channel) DrainLogs(max int) []LogEvent {
	return c.logs.Drain(max)
}

// DrainProgress removes up to max pending progress events (all when max <= 0).
func (c *Channel) DrainProgress(max int) []ProgressEvent {
	return c.progress.Drain(max)
}
