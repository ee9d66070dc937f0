package domain

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJob() *Job {
	album := AlbumReference{SiteHost: "a.x.yupoo.com", AlbumID: "1", Input: "https://a.x.yupoo.com/albums/1"}
	return NewJob("job-1", album.Input, album, album.DefaultBundleName())
}

func TestJobLifecycle(t *testing.T) {
	job := newTestJob()
	assert.Equal(t, JobStatusStarting, job.Status())

	require.NoError(t, job.MarkFetching("Loading album..."))
	require.NoError(t, job.MarkDownloading(3, "Downloading..."))

	job.RecordSuccess("1/3")
	job.RecordFailure("https://photo.yupoo.com/u/a/big.jpg", "2/3")
	job.RecordSuccess("3/3")

	require.NoError(t, job.MarkDone([]byte("zip"), "Done"))

	snap := job.Snapshot()
	assert.Equal(t, JobStatusDone, snap.Status)
	assert.Equal(t, Counters{Total: 3, Downloaded: 2, Failed: 1}, snap.Counters)
	assert.Equal(t, []string{"https://photo.yupoo.com/u/a/big.jpg"}, snap.FailedURLs)
	assert.NotNil(t, snap.CompletedAt)

	resp := snap.ToStatusResponse()
	assert.True(t, resp.Ready)
	assert.Equal(t, 2, resp.Downloaded)
}

func TestJobStatusIsMonotonic(t *testing.T) {
	job := newTestJob()
	require.NoError(t, job.MarkFetching("fetching"))

	err := job.MarkFetching("again")
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	require.NoError(t, job.MarkDownloading(1, "downloading"))
	require.NoError(t, job.MarkError("boom"))

	// terminal states are sticky
	assert.ErrorIs(t, job.MarkDone(nil, "late"), ErrInvalidTransition)
	assert.ErrorIs(t, job.MarkError("again"), ErrInvalidTransition)
	assert.Equal(t, JobStatusError, job.Status())
	assert.Equal(t, "boom", job.Snapshot().Message)
}

func TestJobErrorFromStarting(t *testing.T) {
	job := newTestJob()
	require.NoError(t, job.MarkError("bad"))
	assert.Equal(t, JobStatusError, job.Status())
	assert.False(t, job.Snapshot().ToStatusResponse().Ready)
}

func TestJobCountersNeverExceedTotal(t *testing.T) {
	job := newTestJob()
	require.NoError(t, job.MarkFetching(""))
	require.NoError(t, job.MarkDownloading(2, ""))

	job.RecordSuccess("")
	job.RecordSuccess("")
	job.RecordSuccess("")
	job.RecordFailure("u", "")

	c := job.Snapshot().Counters
	assert.LessOrEqual(t, c.Downloaded+c.Failed, c.Total)
}

func TestJobReopenForRetry(t *testing.T) {
	job := newTestJob()
	require.NoError(t, job.MarkFetching(""))

	_, _, err := job.ReopenForRetry("retry")
	assert.ErrorIs(t, err, ErrJobInProgress)

	require.NoError(t, job.MarkDownloading(4, ""))
	for i := 0; i < 3; i++ {
		job.RecordSuccess("")
	}
	job.RecordFailure("https://photo.yupoo.com/u/d/big.jpg", "")
	require.NoError(t, job.MarkDone([]byte("prior"), "done"))
	assert.True(t, job.CanRetryFailed())

	bundle, failed, err := job.ReopenForRetry("Retrying 1 failed image...")
	require.NoError(t, err)
	assert.Equal(t, []byte("prior"), bundle)
	assert.Equal(t, []string{"https://photo.yupoo.com/u/d/big.jpg"}, failed)

	snap := job.Snapshot()
	assert.Equal(t, JobStatusDownloading, snap.Status)
	assert.Equal(t, Counters{Total: 4, Downloaded: 3}, snap.Counters)
	assert.Empty(t, snap.FailedURLs)
	assert.Nil(t, snap.CompletedAt)
}

func TestJobRestart(t *testing.T) {
	job := newTestJob()
	require.NoError(t, job.MarkFetching(""))
	assert.ErrorIs(t, job.Restart("again"), ErrJobInProgress)

	require.NoError(t, job.MarkError("failed"))
	assert.False(t, job.CanRetryFailed())
	require.NoError(t, job.Restart("Restarting..."))

	snap := job.Snapshot()
	assert.Equal(t, JobStatusStarting, snap.Status)
	assert.Equal(t, Counters{}, snap.Counters)
	assert.False(t, snap.HasBundle)

	_, _, err := job.Bundle()
	assert.ErrorIs(t, err, ErrBundleNotReady)
	require.NoError(t, job.MarkFetching(""))
}

func TestJobSnapshotConcurrentReads(t *testing.T) {
	job := newTestJob()
	require.NoError(t, job.MarkFetching(""))
	require.NoError(t, job.MarkDownloading(100, ""))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			job.RecordSuccess("progress")
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			s := job.Snapshot()
			assert.LessOrEqual(t, s.Counters.Downloaded, s.Counters.Total)
		}
	}()
	wg.Wait()

	assert.Equal(t, 100, job.Snapshot().Counters.Downloaded)
}
