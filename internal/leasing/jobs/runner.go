package jobs

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"leasing-workers/internal/common/config"
	"leasing-workers/internal/common/logger"
	"leasing-workers/internal/common/metrics"
	"leasing-workers/internal/common/observability"
)

type sweep struct {
	name string
	run  func(ctx context.Context) (Stats, error)
}

// Runner fires every sweep on a fixed interval. A tick that arrives while
// the previous one is still running is dropped.
type Runner struct {
	sweeps   []sweep
	interval time.Duration
	timeout  time.Duration
	running  atomic.Bool
	inflight sync.WaitGroup
	obs      *observability.Observability
	logger   logger.Logger
}

func NewRunner(s *Sweeper, cfg config.JobsConfig, log logger.Logger) *Runner {
	interval := time.Duration(cfg.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	timeout := time.Duration(cfg.SweepTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = interval
	}

	sweeps := []sweep{
		{JobReservationExpiry, s.ExpireReservations},
		{JobScreeningTimeouts, s.ScreeningTimeouts},
		{JobDocExpiry, s.DocExpiry},
		{JobCoApplicantReminders, s.CoApplicantReminders},
		{JobSubmittedTTL, s.SubmittedTTL},
	}
	if cfg.AuditIndexEnabled {
		sweeps = append(sweeps, sweep{JobAuditIndex, s.AuditIndex})
	}

	return &Runner{
		sweeps:   sweeps,
		interval: interval,
		timeout:  timeout,
		obs:      s.obs,
		logger:   logger.Component(log, "job-runner"),
	}
}

// Run ticks until ctx is cancelled, then waits for the tick in flight to
// finish its current sweep.
func (r *Runner) Run(ctx context.Context) {
	r.logger.Info("job runner started", map[string]interface{}{
		"interval": r.interval.String(),
		"sweeps":   len(r.sweeps),
	})
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.inflight.Wait()
			r.logger.Info("job runner stopped", nil)
			return
		case <-ticker.C:
			r.inflight.Add(1)
			go func() {
				defer r.inflight.Done()
				r.Tick(ctx)
			}()
		}
	}
}

// Tick runs every sweep once. It reports false when another tick was
// already in flight. Cancelling ctx stops the tick between sweeps; the sweep
// already running is bounded only by the sweep timeout.
func (r *Runner) Tick(ctx context.Context) bool {
	if !r.running.CompareAndSwap(false, true) {
		r.logger.Warn("previous tick still running, skipping", nil)
		return false
	}
	defer r.running.Store(false)

	for _, sw := range r.sweeps {
		if ctx.Err() != nil {
			return true
		}
		r.runSweep(ctx, sw)
	}
	return true
}

func (r *Runner) runSweep(parent context.Context, sw sweep) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), r.timeout)
	defer cancel()

	start := time.Now()
	stats, err := sw.run(ctx)
	elapsed := time.Since(start)
	metrics.SweepDuration.WithLabelValues(sw.name).Observe(elapsed.Seconds())
	r.obs.RecordSweepDuration(ctx, sw.name, elapsed)

	if err != nil {
		r.logger.Error("sweep failed", map[string]interface{}{
			"job":   sw.name,
			"error": err.Error(),
		})
		return
	}
	if stats.Candidates > 0 {
		r.logger.Info("sweep finished", map[string]interface{}{
			"job":        sw.name,
			"candidates": stats.Candidates,
			"succeeded":  stats.Succeeded,
			"failed":     stats.Failed,
			"skipped":    stats.Skipped,
			"durationMs": elapsed.Milliseconds(),
		})
	}
}
