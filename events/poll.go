package events

import (
	"context"
	"time"
)

// Handler receives drained events. Log lines of a tick are delivered before
// that tick's progress events.
type Handler interface {
	OnLog(ev LogEvent)
	OnProgress(ev ProgressEvent)
}

// Poll drains ch every interval and hands the events to h until the terminal
// progress event has been delivered or ctx is done. It returns the terminal
// event, or ctx.Err() if the run never finished.
//
// Logs pushed before the terminal event are always delivered: the worker
// writes its last log line before the terminal progress event, and a tick
// drains logs first.
func Poll(ctx context.Context, ch *Channel, interval time.Duration, h Handler) (ProgressEvent, error) {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if final, done := drainOnce(ch, h); done {
			// Pick up anything logged between the two drains.
			for _, ev := range ch.DrainLogs(0) {
				h.OnLog(ev)
			}
			return final, nil
		}

		select {
		case <-ctx.Done():
			return ProgressEvent{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func drainOnce(ch *Channel, h Handler) (ProgressEvent, bool) {
	for _, ev := range ch.DrainLogs(0) {
		h.OnLog(ev)
	}
	for _, ev := range ch.DrainProgress(0) {
		h.OnProgress(ev)
		if ev.Done {
			return ev, true
		}
	}
	return ProgressEvent{}, false
}
