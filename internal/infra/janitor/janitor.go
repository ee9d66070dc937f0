// Package janitor periodically prunes finished jobs and old published bundles.
package janitor

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// JobPruner removes terminal jobs completed before a cutoff.
type JobPruner interface {
	PruneBefore(cutoff time.Time) int
}

// BundleSweeper removes published bundles older than an age.
type BundleSweeper interface {
	DeleteOlderThan(ctx context.Context, age time.Duration) (int, error)
}

// Config holds configuration for the janitor.
type Config struct {
	Jobs         JobPruner
	JobRetention time.Duration

	Bundles      BundleSweeper
	BundleMaxAge time.Duration

	Interval time.Duration
}

// Janitor runs the cleanup loops.
type Janitor struct {
	cfg      Config
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Janitor.
func New(cfg Config) *Janitor {
	return &Janitor{cfg: cfg, stopCh: make(chan struct{})}
}

// Start launches the cleanup goroutines.
func (j *Janitor) Start(ctx context.Context) {
	if j.cfg.Interval <= 0 {
		return
	}
	if j.cfg.Jobs != nil && j.cfg.JobRetention > 0 {
		j.loop(ctx, "jobs", j.PruneJobsNow)
	}
	if j.cfg.Bundles != nil && j.cfg.BundleMaxAge > 0 {
		j.loop(ctx, "bundles", j.SweepBundlesNow)
	}
}

// Stop stops the cleanup goroutines and waits for them.
func (j *Janitor) Stop() {
	j.stopOnce.Do(func() { close(j.stopCh) })
	j.wg.Wait()
}

func (j *Janitor) loop(ctx context.Context, name string, run func(context.Context)) {
	slog.Info("Starting janitor", "target", name, "interval", j.cfg.Interval)

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		ticker := time.NewTicker(j.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				run(ctx)
			case <-ctx.Done():
				return
			case <-j.stopCh:
				return
			}
		}
	}()
}

// PruneJobsNow removes expired jobs immediately.
func (j *Janitor) PruneJobsNow(context.Context) {
	deleted := j.cfg.Jobs.PruneBefore(time.Now().Add(-j.cfg.JobRetention))
	if deleted > 0 {
		slog.Info("Job cleanup completed",
			"deleted", deleted,
			"retention", j.cfg.JobRetention,
		)
	}
}

// SweepBundlesNow removes expired published bundles immediately.
func (j *Janitor) SweepBundlesNow(ctx context.Context) {
	deleted, err := j.cfg.Bundles.DeleteOlderThan(ctx, j.cfg.BundleMaxAge)
	if err != nil {
		slog.Error("R2 cleanup error", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("R2 cleanup completed",
			"deleted", deleted,
			"max_age", j.cfg.BundleMaxAge,
		)
	}
}
