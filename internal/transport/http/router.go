package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/emanuelef/gallery-dl-api-go/internal/config"
	"github.com/emanuelef/gallery-dl-api-go/internal/transport/http/middleware"
)

// RateLimiters holds the rate limiters for different endpoint types.
type RateLimiters struct {
	Jobs   *middleware.RateLimiter // job-creating endpoints: start and retry
	Status *middleware.RateLimiter // polling and bundle downloads
}

// NewRateLimiters builds the limiters from configuration.
func NewRateLimiters(cfg *config.Config) *RateLimiters {
	return &RateLimiters{
		Jobs: middleware.NewRateLimiter(&middleware.RateLimitConfig{
			Name:              "jobs",
			RequestsPerMinute: cfg.RateLimitRPM,
			Burst:             cfg.RateLimitBurst,
			CleanupInterval:   10 * time.Minute,
		}),
		Status: middleware.NewRateLimiter(&middleware.RateLimitConfig{
			Name:              "status",
			RequestsPerMinute: cfg.StatusRateLimitRPM,
			Burst:             cfg.StatusRateLimitRPM / 4,
			CleanupInterval:   10 * time.Minute,
		}),
	}
}

// Stop stops every limiter's cleanup goroutine.
func (l *RateLimiters) Stop() {
	l.Jobs.Stop()
	l.Status.Stop()
}

// NewRouter creates a new chi router with all routes and middleware configured.
func NewRouter(cfg *config.Config, handlers *Handlers, limiters *RateLimiters) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(chimiddleware.Compress(5, "application/json"))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Remaining", "Retry-After", "Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health check (no rate limiting)
	r.Get("/api/health", handlers.HealthHandler)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitMiddleware(limiters.Status))
			r.Get("/status/{job_id}", handlers.StatusHandler)
			r.Get("/download/{job_id}", handlers.DownloadHandler)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitMiddleware(limiters.Jobs))
			r.Post("/start", handlers.StartHandler)
			r.Post("/retry/{job_id}", handlers.RetryHandler)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found", "NOT_FOUND")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
	})

	return r
}

// NewServer creates a new HTTP server. The write timeout leaves room for
// large bundle downloads.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}
}
