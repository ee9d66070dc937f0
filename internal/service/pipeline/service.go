// Package pipeline is the request boundary of the archiver: it creates jobs,
// schedules their background workers and answers polls, downloads and retries.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/emanuelef/gallery-dl-api-go/internal/domain"
	"github.com/emanuelef/gallery-dl-api-go/internal/infra/cache"
	"github.com/emanuelef/gallery-dl-api-go/internal/service/archive"
	"github.com/emanuelef/gallery-dl-api-go/internal/service/discovery"
	"github.com/emanuelef/gallery-dl-api-go/internal/service/queue"
)

// Retry modes reported to clients.
const (
	ModeFailedOnly = "failed_only"
	ModeRestart    = "restart"
)

// Session is the gallery-site session shared by a job's stages.
type Session interface {
	SiteURL(host, path string) string
	Warmup(ctx context.Context, host string) error
}

// Discoverer finds an album's candidates.
type Discoverer interface {
	Discover(ctx context.Context, album domain.AlbumReference, progress discovery.Progress) (*discovery.Result, error)
}

// Resolver selects and verifies one URL per photo.
type Resolver interface {
	Resolve(ctx context.Context, candidates []string, referer string) []string
	Verify(ctx context.Context, urls []string, referer string) []string
}

// Archiver builds and extends bundles.
type Archiver interface {
	Build(ctx context.Context, urls []string, referer string, progress archive.Progress) (*archive.Result, error)
	RetryFailed(ctx context.Context, prior []byte, failed []string, referer string, progress archive.Progress) (*archive.Result, error)
}

// Publisher mirrors a finished bundle and returns a link to it.
type Publisher interface {
	Publish(ctx context.Context, jobID, bundleName string, bundle []byte, expiry time.Duration) (string, error)
}

// Store holds job records.
type Store interface {
	Put(job *domain.Job)
	Get(id string) (*domain.Job, error)
	Delete(id string)
}

// Scheduler runs job workers in the background.
type Scheduler interface {
	Enqueue(task queue.Task) error
}

// Deps wires a Service. Cache and Publisher are optional.
type Deps struct {
	Store      Store
	Scheduler  Scheduler
	Session    Session
	Discoverer Discoverer
	Resolver   Resolver
	Archiver   Archiver
	Cache      *cache.AlbumCache
	Publisher  Publisher
	// PublishExpiry is the lifetime of presigned bundle links.
	PublishExpiry time.Duration
}

// Service implements submit, poll, retrieve and retry.
type Service struct {
	deps Deps
}

// New creates a Service.
func New(deps Deps) *Service {
	if deps.PublishExpiry <= 0 {
		deps.PublishExpiry = 15 * time.Minute
	}
	return &Service{deps: deps}
}

// Submit validates input, records a new job and schedules its worker. An
// invalid reference returns *domain.InvalidReferenceError and creates nothing.
func (s *Service) Submit(input, bundleName string) (*domain.Job, error) {
	album, err := domain.ParseAlbumReference(input)
	if err != nil {
		return nil, err
	}

	job := domain.NewJob(uuid.New().String(), album.Input, album, domain.SanitizeBundleName(bundleName, album))
	s.deps.Store.Put(job)

	if err := s.schedule(job, s.run); err != nil {
		s.deps.Store.Delete(job.ID())
		return nil, err
	}

	slog.Info("Album job created",
		"job_id", job.ID(),
		"album_id", album.AlbumID,
		"host", album.SiteHost,
	)
	return job, nil
}

// Poll returns a snapshot of the job.
func (s *Service) Poll(id string) (domain.JobSnapshot, error) {
	job, err := s.deps.Store.Get(id)
	if err != nil {
		return domain.JobSnapshot{}, err
	}
	return job.Snapshot(), nil
}

// Retrieve returns the job's bundle and file name.
func (s *Service) Retrieve(id string) ([]byte, string, error) {
	job, err := s.deps.Store.Get(id)
	if err != nil {
		return nil, "", err
	}
	return job.Bundle()
}

// Retry re-runs a finished job. When the job kept a bundle and a failure
// list only the failed photos are retried; otherwise the whole pipeline
// runs again. Non-terminal jobs return domain.ErrJobInProgress.
func (s *Service) Retry(id string) (string, error) {
	job, err := s.deps.Store.Get(id)
	if err != nil {
		return "", err
	}
	if !job.Status().IsTerminal() {
		return "", domain.ErrJobInProgress
	}

	if job.CanRetryFailed() {
		bundle, failed, err := job.ReopenForRetry(fmt.Sprintf("Retrying %d failed images...", len(job.Snapshot().FailedURLs)))
		if err == nil {
			err = s.schedule(job, func(ctx context.Context, job *domain.Job) {
				s.runRetry(ctx, job, bundle, failed)
			})
			if err != nil {
				_ = job.MarkError("Error: " + err.Error())
				return "", err
			}
			return ModeFailedOnly, nil
		}
		if !errors.Is(err, domain.ErrInvalidTransition) {
			return "", err
		}
	}

	if err := job.Restart("Restarting..."); err != nil {
		return "", err
	}
	if err := s.schedule(job, s.run); err != nil {
		_ = job.MarkError("Error: " + err.Error())
		return "", err
	}
	return ModeRestart, nil
}

func (s *Service) schedule(job *domain.Job, fn func(context.Context, *domain.Job)) error {
	return s.deps.Scheduler.Enqueue(queue.Task{
		JobID: job.ID(),
		Run: func(ctx context.Context) {
			s.guard(job, func() { fn(ctx, job) })
		},
		Cancel: func() {
			_ = job.MarkError("Error: server shutting down")
		},
	})
}

// guard turns a worker panic into an error status.
func (s *Service) guard(job *domain.Job, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Job worker panicked", "job_id", job.ID(), "panic", r)
			_ = job.MarkError(fmt.Sprintf("Error: internal failure: %v", r))
		}
	}()
	fn()
}
