// Package main is the entry point for the album archiver API.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/emanuelef/gallery-dl-api-go/internal/config"
	"github.com/emanuelef/gallery-dl-api-go/internal/infra/browser"
	"github.com/emanuelef/gallery-dl-api-go/internal/infra/cache"
	"github.com/emanuelef/gallery-dl-api-go/internal/infra/janitor"
	"github.com/emanuelef/gallery-dl-api-go/internal/infra/memstore"
	"github.com/emanuelef/gallery-dl-api-go/internal/infra/r2"
	"github.com/emanuelef/gallery-dl-api-go/internal/infra/webclient"
	"github.com/emanuelef/gallery-dl-api-go/internal/service/archive"
	"github.com/emanuelef/gallery-dl-api-go/internal/service/discovery"
	"github.com/emanuelef/gallery-dl-api-go/internal/service/extract"
	"github.com/emanuelef/gallery-dl-api-go/internal/service/pipeline"
	"github.com/emanuelef/gallery-dl-api-go/internal/service/queue"
	"github.com/emanuelef/gallery-dl-api-go/internal/service/resolve"
	transport "github.com/emanuelef/gallery-dl-api-go/internal/transport/http"
	"github.com/emanuelef/gallery-dl-api-go/internal/transport/http/middleware"
	"github.com/emanuelef/gallery-dl-api-go/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger.Setup(&logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	slog.Info("Starting album archiver",
		"env", cfg.Env,
		"port", cfg.Port,
		"workers", cfg.MaxWorkers,
		"browser", cfg.BrowserEnabled,
		"r2", cfg.R2Enabled(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session, err := webclient.New(webclient.Options{
		Scheme:        cfg.SiteScheme,
		UserAgent:     cfg.UserAgent,
		FetchTimeout:  cfg.FetchTimeout,
		ClientTimeout: max(cfg.ImageTimeout, cfg.ProbeTimeout),
		WarmupDelay:   cfg.WarmupDelay,
		AllowPrivate:  cfg.AllowPrivateNetworks,
	})
	if err != nil {
		slog.Error("Failed to create site session", "error", err)
		os.Exit(1)
	}

	extractor := extract.New(extract.Options{Hosts: cfg.CDNHosts, Scheme: cfg.SiteScheme})

	discoveryOpts := discovery.Options{
		Fetcher:         session,
		Extractor:       extractor,
		PageDelay:       cfg.PageDelay,
		DetailDelay:     cfg.PageDelay,
		BrowserMaxPages: cfg.BrowserMaxPages,
	}
	if cfg.BrowserEnabled {
		discoveryOpts.Renderer = browser.NewChromedpRenderer(browser.RenderOptions{
			ExecPath:  cfg.ChromePath,
			UserAgent: cfg.UserAgent,
			Timeout:   cfg.BrowserTimeout,
			Scrolls:   cfg.BrowserScrolls,
		})
	}

	resolver := resolve.New(resolve.Options{
		Prober:       session,
		ProbeSizes:   cfg.ProbeSizes,
		ProbeTimeout: cfg.ProbeTimeout,
		VerifySample: cfg.VerifySample,
	})

	archiveOpts := archive.DefaultOptions()
	archiveOpts.Attempts = cfg.RetryAttempts
	archiveOpts.BackoffBase = cfg.RetryBackoff
	archiveOpts.ThrottleCooldown = cfg.ThrottleCooldown
	archiveOpts.MinBytes = cfg.MinImageBytes
	archiveOpts.CourtesyDelay = cfg.DownloadDelay
	archiveOpts.ImageTimeout = cfg.ImageTimeout
	builder := archive.NewBuilder(session, archiveOpts)

	store := memstore.New()

	dispatcher := queue.NewDispatcher(cfg.MaxWorkers, cfg.MaxQueueSize)
	dispatcher.Start(ctx)

	deps := pipeline.Deps{
		Store:         store,
		Scheduler:     dispatcher,
		Session:       session,
		Discoverer:    discovery.New(discoveryOpts),
		Resolver:      resolver,
		Archiver:      builder,
		Cache:         cache.NewAlbumCache(cfg.AlbumCacheTTL, cfg.AlbumCacheTTL*2),
		PublishExpiry: cfg.PresignedURLExpiry,
	}
	janitorCfg := janitor.Config{
		Jobs:         store,
		JobRetention: cfg.JobRetention,
		Interval:     cfg.JanitorInterval,
	}

	if cfg.R2Enabled() {
		r2Client, err := r2.NewClient(ctx, &r2.Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			PublicURL:       cfg.R2PublicURL,
		})
		if err != nil {
			slog.Warn("R2 unavailable, bundles served from memory only", "error", err)
		} else {
			deps.Publisher = r2Client
			janitorCfg.Bundles = r2Client
			janitorCfg.BundleMaxAge = cfg.R2MaxFileAge
			slog.Info("R2 storage enabled", "bucket", cfg.R2BucketName)
		}
	}

	svc := pipeline.New(deps)

	jan := janitor.New(janitorCfg)
	jan.Start(ctx)

	handlers := transport.NewHandlers(svc, dispatcher, store, middleware.NewSiteValidator(cfg.SiteDomains))
	limiters := transport.NewRateLimiters(cfg)
	router := transport.NewRouter(cfg, handlers, limiters)
	server := transport.NewServer(":"+cfg.Port, router)

	go func() {
		slog.Info("Server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("Shutting down", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown failed", "error", err)
	}

	cancel()
	dispatcher.Stop()
	jan.Stop()
	limiters.Stop()

	slog.Info("Shutdown complete")
}
