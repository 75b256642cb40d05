package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ropacal-forecast/internal/forecast"
)

type countingRunner struct {
	calls       atomic.Int32
	hadDeadline atomic.Bool
	err         error
}

func (c *countingRunner) Refresh(ctx context.Context) (forecast.RefreshReport, error) {
	c.calls.Add(1)
	if _, ok := ctx.Deadline(); ok {
		c.hadDeadline.Store(true)
	}
	return forecast.RefreshReport{RunID: "run"}, c.err
}

func TestTickerRunsPasses(t *testing.T) {
	runner := &countingRunner{}
	tk := NewTicker(runner, 10*time.Millisecond, time.Second, nil)

	tk.Start(context.Background())
	require.Eventually(t, func() bool { return runner.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	tk.Stop()

	after := runner.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, runner.calls.Load())
	assert.True(t, runner.hadDeadline.Load())
}

func TestTickerKeepsGoingAfterErrors(t *testing.T) {
	runner := &countingRunner{err: forecast.ErrRefreshInProgress}
	tk := NewTicker(runner, 5*time.Millisecond, 0, nil)

	tk.Start(context.Background())
	defer tk.Stop()
	assert.Eventually(t, func() bool { return runner.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
}

func TestTickerDisabledWithZeroInterval(t *testing.T) {
	runner := &countingRunner{}
	tk := NewTicker(runner, 0, time.Second, nil)

	tk.Start(context.Background())
	tk.Stop()
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, runner.calls.Load())
}

func TestTickerStopsWithContext(t *testing.T) {
	runner := &countingRunner{}
	tk := NewTicker(runner, 5*time.Millisecond, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	tk.Start(ctx)
	tk.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		tk.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after context cancel")
	}
}
