package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"
)

// Dispatcher is the "auto" engine. It starts the lightest engine first and
// escalates to heavier ones when earlier ones fail or stall. The engine
// that won last time for a host is tried alone first.
type Dispatcher struct {
	engines          []Engine
	escalationDelays []time.Duration
	memory           *HostMemory
}

// NewDispatcher creates a Dispatcher. engines[i] starts escalationDelays[i]
// after the race begins; missing delays are zero.
func NewDispatcher(engines []Engine, escalationDelays []time.Duration, memory *HostMemory) *Dispatcher {
	delays := make([]time.Duration, len(engines))
	copy(delays, escalationDelays)
	return &Dispatcher{
		engines:          engines,
		escalationDelays: delays,
		memory:           memory,
	}
}

// Name implements Engine.
func (d *Dispatcher) Name() string { return "auto" }

// Fetch implements Engine. It returns the first successful result, or the
// last error when every engine failed.
func (d *Dispatcher) Fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error) {
	host := hostOf(req.URL)

	if remembered := d.memory.Get(host); remembered != "" {
		for _, eng := range d.engines {
			if eng.Name() != remembered {
				continue
			}
			result, err := eng.Fetch(ctx, req)
			if err == nil {
				return result, nil
			}
			if ctx.Err() != nil {
				return nil, err
			}
			slog.Info("remembered engine failed, escalating",
				"host", host, "engine", remembered, "error", err)
			d.memory.Delete(host)
			break
		}
	}

	return d.race(ctx, req, host)
}

// Close implements Engine and closes every engine.
func (d *Dispatcher) Close() error {
	var errs []error
	for _, eng := range d.engines {
		if err := eng.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", eng.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) race(ctx context.Context, req *FetchRequest, host string) (*FetchResult, error) {
	type raceResult struct {
		result *FetchResult
		err    error
	}

	raceCtx, raceCancel := context.WithCancel(ctx)
	defer raceCancel()

	results := make(chan raceResult, len(d.engines))
	var wg sync.WaitGroup

	for i, eng := range d.engines {
		wg.Add(1)
		go func(e Engine, delay time.Duration) {
			defer wg.Done()

			if delay > 0 {
				t := time.NewTimer(delay)
				defer t.Stop()
				select {
				case <-raceCtx.Done():
					return
				case <-t.C:
				}
			}
			if raceCtx.Err() != nil {
				return
			}

			slog.Debug("engine starting", "engine", e.Name(), "url", req.URL)
			result, err := e.Fetch(raceCtx, req)
			if err != nil {
				slog.Debug("engine failed", "engine", e.Name(), "url", req.URL, "error", err)
			}
			results <- raceResult{result: result, err: err}
		}(eng, d.escalationDelays[i])
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var lastErr error
	for rr := range results {
		if rr.err != nil {
			lastErr = rr.err
			continue
		}
		raceCancel()
		slog.Info("engine won race", "engine", rr.result.EngineName, "url", req.URL)
		d.memory.Set(host, rr.result.EngineName)
		return rr.result, nil
	}

	if lastErr == nil {
		lastErr = ctx.Err()
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("dispatcher: all engines failed for %s", req.URL)
	}
	return nil, lastErr
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Hostname()
}
