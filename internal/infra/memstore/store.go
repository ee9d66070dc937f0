// Package memstore keeps job records in process memory.
package memstore

import (
	"log/slog"
	"sync"
	"time"

	"github.com/emanuelef/gallery-dl-api-go/internal/domain"
)

// Store is a concurrency-safe map of jobs keyed by id.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*domain.Job
}

// New creates an empty Store.
func New() *Store {
	return &Store{jobs: make(map[string]*domain.Job)}
}

// Put inserts or replaces a job.
func (s *Store) Put(job *domain.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID()] = job
}

// Get returns the job with the given id, or domain.ErrJobNotFound.
func (s *Store) Get(id string) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return job, nil
}

// Delete removes a job.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
}

// Range calls fn for each job until fn returns false. The store is not
// locked while fn runs.
func (s *Store) Range(fn func(*domain.Job) bool) {
	s.mu.RLock()
	jobs := make([]*domain.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.RUnlock()

	for _, j := range jobs {
		if !fn(j) {
			return
		}
	}
}

// PruneBefore deletes terminal jobs that completed before cutoff and
// returns how many were removed.
func (s *Store) PruneBefore(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, j := range s.jobs {
		snap := j.Snapshot()
		if !snap.Status.IsTerminal() || snap.CompletedAt == nil {
			continue
		}
		if snap.CompletedAt.Before(cutoff) {
			delete(s.jobs, id)
			deleted++
		}
	}
	if deleted > 0 {
		slog.Debug("Pruned jobs", "count", deleted, "cutoff", cutoff)
	}
	return deleted
}

// Len returns the number of stored jobs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// CountByStatus tallies jobs per status.
func (s *Store) CountByStatus() map[domain.JobStatus]int {
	counts := make(map[domain.JobStatus]int)
	s.Range(func(j *domain.Job) bool {
		counts[j.Status()]++
		return true
	})
	return counts
}
