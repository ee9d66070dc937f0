package memstore

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emanuelef/gallery-dl-api-go/internal/domain"
)

func newJob(t *testing.T, id string) *domain.Job {
	t.Helper()
	album, err := domain.ParseAlbumReference("https://shop.x.yupoo.com/albums/42")
	require.NoError(t, err)
	return domain.NewJob(id, album.Input, album, album.DefaultBundleName())
}

func TestPutGetDelete(t *testing.T) {
	s := New()
	job := newJob(t, "a")
	s.Put(job)

	got, err := s.Get("a")
	require.NoError(t, err)
	assert.Same(t, job, got)
	assert.Equal(t, 1, s.Len())

	_, err = s.Get("missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	s.Delete("a")
	assert.Equal(t, 0, s.Len())
}

func TestPruneBeforeKeepsActiveJobs(t *testing.T) {
	s := New()

	active := newJob(t, "active")
	require.NoError(t, active.MarkFetching("Fetching..."))
	s.Put(active)

	finished := newJob(t, "finished")
	require.NoError(t, finished.MarkError("Error: boom"))
	s.Put(finished)

	assert.Equal(t, 0, s.PruneBefore(time.Now().Add(-time.Hour)))
	assert.Equal(t, 1, s.PruneBefore(time.Now().Add(time.Second)))

	_, err := s.Get("active")
	assert.NoError(t, err)
	_, err = s.Get("finished")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestCountByStatus(t *testing.T) {
	s := New()
	for i := 0; i < 3; i++ {
		s.Put(newJob(t, fmt.Sprint(i)))
	}
	done := newJob(t, "done")
	require.NoError(t, done.MarkError("x"))
	s.Put(done)

	counts := s.CountByStatus()
	assert.Equal(t, 3, counts[domain.JobStatusStarting])
	assert.Equal(t, 1, counts[domain.JobStatusError])
}

func TestConcurrentAccess(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprint(i)
			s.Put(newJob(t, id))
			_, _ = s.Get(id)
			s.Range(func(*domain.Job) bool { return true })
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, s.Len())
}
