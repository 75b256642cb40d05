package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"ropacal-forecast/internal/forecast"
	"ropacal-forecast/internal/logger"
)

// PassRunner runs one refresh pass.
type PassRunner interface {
	Refresh(ctx context.Context) (forecast.RefreshReport, error)
}

// Ticker runs refresh passes on a fixed interval. Each pass gets its own
// deadline so a stuck model endpoint cannot stall the schedule.
type Ticker struct {
	runner      PassRunner
	interval    time.Duration
	passTimeout time.Duration
	log         logger.Logger

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func NewTicker(runner PassRunner, interval, passTimeout time.Duration, log logger.Logger) *Ticker {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Ticker{runner: runner, interval: interval, passTimeout: passTimeout, log: log}
}

// Start begins ticking. The first pass runs after one interval. A zero
// interval disables the schedule. Calling Start twice is a no-op.
func (t *Ticker) Start(ctx context.Context) {
	if t.interval <= 0 {
		t.log.Infof("[SCHEDULER] Periodic refresh disabled")
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != nil {
		return
	}
	t.stop = make(chan struct{})
	t.done = make(chan struct{})

	t.log.Infof("[SCHEDULER] Refreshing predictions every %s", t.interval)

	go func(stop, done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				t.runOnce(ctx)
			case <-ctx.Done():
				return
			case <-stop:
				return
			}
		}
	}(t.stop, t.done)
}

// Stop halts the schedule and waits for an in-flight pass to return.
func (t *Ticker) Stop() {
	t.mu.Lock()
	stop, done := t.stop, t.done
	t.stop, t.done = nil, nil
	t.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (t *Ticker) runOnce(ctx context.Context) {
	passCtx := ctx
	if t.passTimeout > 0 {
		var cancel context.CancelFunc
		passCtx, cancel = context.WithTimeout(ctx, t.passTimeout)
		defer cancel()
	}

	report, err := t.runner.Refresh(passCtx)
	switch {
	case errors.Is(err, forecast.ErrRefreshInProgress):
		t.log.Infof("[SCHEDULER] Previous pass still running, skipping tick")
	case err != nil:
		t.log.Errorf("❌ [SCHEDULER] Scheduled pass %s failed: %v", report.RunID, err)
	default:
		t.log.Debugf("[SCHEDULER] Scheduled pass %s: %d refreshed", report.RunID, report.Refreshed)
	}
}
