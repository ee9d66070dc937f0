package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/emanuelef/gallery-dl-api-go/internal/domain"
	"github.com/emanuelef/gallery-dl-api-go/internal/infra/cache"
	"github.com/emanuelef/gallery-dl-api-go/internal/service/archive"
	"github.com/emanuelef/gallery-dl-api-go/pkg/logger"
)

// run executes the full pipeline for one job: discovery, resolution and
// archival.
func (s *Service) run(ctx context.Context, job *domain.Job) {
	album := job.Album()
	log := logger.ForJob(job.ID(), album.AlbumID)
	log.Info("Processing job", "host", album.SiteHost)

	if err := job.MarkFetching("Fetching album page..."); err != nil {
		log.Warn("Job not runnable", "error", err)
		return
	}
	referer := s.deps.Session.SiteURL(album.SiteHost, "/")

	var selected []string
	if e, ok := s.cached(album); ok {
		log.Info("Using cached photo list", "strategy", e.Strategy, "photos", len(e.Selected))
		selected = e.Selected
		job.SetDiscovered(e.CandidateCount, selected)
	} else {
		var candidates int
		var err error
		selected, candidates, err = s.discover(ctx, log, job, referer)
		if err != nil {
			log.Error("Discovery failed", "error", err)
			s.fail(job, err)
			return
		}
		job.SetDiscovered(candidates, selected)
	}

	if err := job.MarkDownloading(len(selected), fmt.Sprintf("Found %d unique photos. Starting download...", len(selected))); err != nil {
		log.Warn("Job left the pipeline", "error", err)
		return
	}

	res, err := s.deps.Archiver.Build(ctx, selected, referer, s.progress(job, "Downloading"))
	if err != nil {
		log.Error("Archive build failed", "error", err)
		s.fail(job, err)
		return
	}
	s.finish(ctx, log, job, res)
}

// runRetry downloads only the previously failed photos and merges them into
// the prior bundle.
func (s *Service) runRetry(ctx context.Context, job *domain.Job, prior []byte, failed []string) {
	album := job.Album()
	log := logger.ForJob(job.ID(), album.AlbumID)
	log.Info("Retrying failed downloads", "failed", len(failed))

	referer := s.deps.Session.SiteURL(album.SiteHost, "/")
	res, err := s.deps.Archiver.RetryFailed(ctx, prior, failed, referer, s.progress(job, "Retrying"))
	if err != nil {
		log.Error("Retry failed", "error", err)
		s.fail(job, err)
		return
	}
	s.finish(ctx, log, job, res)
}

func (s *Service) cached(album domain.AlbumReference) (*cache.Entry, bool) {
	if s.deps.Cache == nil {
		return nil, false
	}
	e, ok := s.deps.Cache.Get(album)
	if !ok || len(e.Selected) == 0 {
		return nil, false
	}
	return e, true
}

func (s *Service) discover(ctx context.Context, log *slog.Logger, job *domain.Job, referer string) ([]string, int, error) {
	album := job.Album()

	if err := s.deps.Session.Warmup(ctx, album.SiteHost); err != nil {
		log.Warn("Warm-up request failed", "error", err)
	}

	found, err := s.deps.Discoverer.Discover(ctx, album, func(strategy string, page, count int) {
		job.SetMessage(fmt.Sprintf("Scanning album (%s) page %d: %d images found...", strategy, page, count))
	})
	if err != nil {
		return nil, 0, err
	}

	job.SetMessage(fmt.Sprintf("Resolving %d candidates...", len(found.Candidates)))
	selected := s.deps.Resolver.Resolve(ctx, found.Candidates, referer)
	selected = s.deps.Resolver.Verify(ctx, selected, referer)

	log.Info("Album resolved",
		"strategy", found.Strategy,
		"candidates", len(found.Candidates),
		"photos", len(selected),
	)

	if s.deps.Cache != nil {
		s.deps.Cache.Set(album, &cache.Entry{
			Strategy:       found.Strategy,
			CandidateCount: len(found.Candidates),
			Selected:       selected,
		})
	}
	return selected, len(found.Candidates), nil
}

func (s *Service) progress(job *domain.Job, verb string) archive.Progress {
	return func(ev archive.Event) {
		msg := fmt.Sprintf("%s image %d of %d...", verb, ev.Index, ev.Total)
		switch ev.Kind {
		case archive.EventStart:
			job.SetMessage(msg)
		case archive.EventSuccess:
			job.RecordSuccess(msg)
		case archive.EventFailure:
			job.RecordFailure(ev.URL, msg)
		}
	}
}

func (s *Service) finish(ctx context.Context, log *slog.Logger, job *domain.Job, res *archive.Result) {
	snap := job.Snapshot()

	if s.deps.Publisher != nil {
		link, err := s.deps.Publisher.Publish(ctx, job.ID(), snap.BundleName, res.Bundle, s.deps.PublishExpiry)
		if err != nil {
			log.Warn("Failed to publish bundle", "error", err)
		} else {
			job.SetDownloadURL(link)
		}
	}

	msg := fmt.Sprintf("Done! Downloaded %d images, %d failed.", snap.Counters.Downloaded, snap.Counters.Failed)
	if err := job.MarkDone(res.Bundle, msg); err != nil {
		log.Warn("Could not complete job", "error", err)
		return
	}
	log.Info("Job completed",
		"downloaded", snap.Counters.Downloaded,
		"failed", snap.Counters.Failed,
		"entries", res.Entries,
		"bytes", len(res.Bundle),
	)
}

func (s *Service) fail(job *domain.Job, err error) {
	if mErr := job.MarkError("Error: " + err.Error()); mErr != nil {
		slog.Warn("Could not mark job as failed", "job_id", job.ID(), "error", mErr)
	}
}
