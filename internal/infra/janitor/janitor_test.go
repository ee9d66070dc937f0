package janitor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakePruner struct {
	calls  atomic.Int32
	cutoff atomic.Int64
}

func (f *fakePruner) PruneBefore(cutoff time.Time) int {
	f.calls.Add(1)
	f.cutoff.Store(cutoff.UnixNano())
	return 1
}

type fakeSweeper struct {
	calls atomic.Int32
	err   error
}

func (f *fakeSweeper) DeleteOlderThan(context.Context, time.Duration) (int, error) {
	f.calls.Add(1)
	return 0, f.err
}

func TestJanitorRunsBothLoops(t *testing.T) {
	jobs := &fakePruner{}
	bundles := &fakeSweeper{}
	j := New(Config{
		Jobs:         jobs,
		JobRetention: time.Hour,
		Bundles:      bundles,
		BundleMaxAge: time.Hour,
		Interval:     5 * time.Millisecond,
	})

	j.Start(context.Background())
	assert.Eventually(t, func() bool {
		return jobs.calls.Load() >= 2 && bundles.calls.Load() >= 2
	}, time.Second, 5*time.Millisecond)
	j.Stop()
	j.Stop()

	cutoff := time.Unix(0, jobs.cutoff.Load())
	assert.WithinDuration(t, time.Now().Add(-time.Hour), cutoff, time.Second)
}

func TestJanitorDisabledWithoutInterval(t *testing.T) {
	jobs := &fakePruner{}
	j := New(Config{Jobs: jobs, JobRetention: time.Hour})
	j.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	j.Stop()
	assert.Zero(t, jobs.calls.Load())
}

func TestSweepErrorIsLogged(t *testing.T) {
	bundles := &fakeSweeper{err: errors.New("boom")}
	j := New(Config{Bundles: bundles, BundleMaxAge: time.Minute})
	j.SweepBundlesNow(context.Background())
	assert.Equal(t, int32(1), bundles.calls.Load())
}
