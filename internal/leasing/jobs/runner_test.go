package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"leasing-workers/internal/common/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunner_TickSkipsWhileRunning(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	r := &Runner{
		sweeps: []sweep{{name: "blocking", run: func(ctx context.Context) (Stats, error) {
			started <- struct{}{}
			<-release
			return Stats{Candidates: 1, Succeeded: 1}, nil
		}}},
		interval: time.Minute,
		timeout:  time.Minute,
		logger:   logger.NewTestLogger(t),
	}

	done := make(chan bool)
	go func() { done <- r.Tick(context.Background()) }()
	<-started

	assert.False(t, r.Tick(context.Background()))

	close(release)
	require.True(t, <-done)
}

func TestRunner_SweepErrorDoesNotStopTick(t *testing.T) {
	var ran []string
	r := &Runner{
		sweeps: []sweep{
			{name: "first", run: func(ctx context.Context) (Stats, error) {
				ran = append(ran, "first")
				return Stats{}, errors.New("boom")
			}},
			{name: "second", run: func(ctx context.Context) (Stats, error) {
				ran = append(ran, "second")
				return Stats{}, nil
			}},
		},
		interval: time.Minute,
		timeout:  time.Minute,
		logger:   logger.NewTestLogger(t),
	}

	assert.True(t, r.Tick(context.Background()))
	assert.Equal(t, []string{"first", "second"}, ran)
}

func TestRunner_RunWaitsForInFlightSweep(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	sweepErr := make(chan error, 1)
	var secondRan bool
	r := &Runner{
		sweeps: []sweep{
			{name: "blocking", run: func(ctx context.Context) (Stats, error) {
				started <- struct{}{}
				<-release
				sweepErr <- ctx.Err()
				return Stats{}, nil
			}},
			{name: "after", run: func(ctx context.Context) (Stats, error) {
				secondRan = true
				return Stats{}, nil
			}},
		},
		interval: 5 * time.Millisecond,
		timeout:  time.Minute,
		logger:   logger.NewTestLogger(t),
	}

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(stopped)
	}()

	<-started
	cancel()

	select {
	case <-stopped:
		t.Fatal("Run returned while a sweep was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after the sweep finished")
	}
	assert.NoError(t, <-sweepErr, "shutdown does not cancel the running sweep")
	assert.False(t, secondRan, "no new sweep starts after shutdown")
}
