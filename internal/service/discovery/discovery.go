// Package discovery finds the candidate image URLs of an album by trying an
// ordered list of acquisition strategies until one of them yields results.
package discovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/emanuelef/gallery-dl-api-go/internal/domain"
	"github.com/emanuelef/gallery-dl-api-go/internal/infra/browser"
)

// Strategy names.
const (
	StrategyAPI     = "api"
	StrategyHTML    = "html"
	StrategyDetail  = "detail"
	StrategyBrowser = "browser"
)

// Progress receives incremental counts from a running strategy.
type Progress func(strategy string, page, found int)

// Strategy is one way of acquiring an album's candidates.
type Strategy interface {
	Name() string
	Discover(ctx context.Context, album domain.AlbumReference, progress Progress) ([]string, error)
}

// Fetcher is the site session the strategies read through.
type Fetcher interface {
	SiteURL(host, path string) string
	FetchPage(ctx context.Context, url, referer string) (string, error)
	FetchJSON(ctx context.Context, url, referer string) ([]byte, error)
}

// Extractor turns fetched content into candidates.
type Extractor interface {
	Extract(content string) []string
	Normalize(raw string) string
}

// Result is the outcome of a successful discovery.
type Result struct {
	Strategy   string
	Candidates []string
}

// Orchestrator runs strategies in order and stops at the first that finds anything.
type Orchestrator struct {
	strategies []Strategy
}

// NewOrchestrator creates an orchestrator over the given strategies.
func NewOrchestrator(strategies ...Strategy) *Orchestrator {
	return &Orchestrator{strategies: strategies}
}

// Options wires the default strategy chain.
type Options struct {
	Fetcher   Fetcher
	Extractor Extractor
	// Renderer enables the rendered-browser strategy when non-nil.
	Renderer        browser.Renderer
	PageDelay       time.Duration
	DetailDelay     time.Duration
	MaxPages        int
	BrowserMaxPages int
}

// New builds the standard chain: API, HTML, detail pages, then browser.
func New(opts Options) *Orchestrator {
	strategies := []Strategy{
		&APIStrategy{Fetcher: opts.Fetcher, Extractor: opts.Extractor, PageDelay: opts.PageDelay, MaxPages: opts.MaxPages},
		&HTMLStrategy{Fetcher: opts.Fetcher, Extractor: opts.Extractor, PageDelay: opts.PageDelay, MaxPages: opts.MaxPages},
		&DetailStrategy{Fetcher: opts.Fetcher, Extractor: opts.Extractor, PageDelay: opts.PageDelay, DetailDelay: opts.DetailDelay, MaxPages: opts.MaxPages},
	}
	if opts.Renderer != nil {
		strategies = append(strategies, &BrowserStrategy{
			Fetcher:   opts.Fetcher,
			Extractor: opts.Extractor,
			Renderer:  opts.Renderer,
			MaxPages:  opts.BrowserMaxPages,
		})
	}
	return NewOrchestrator(strategies...)
}

// Strategies returns the strategy names in execution order.
func (o *Orchestrator) Strategies() []string {
	names := make([]string, 0, len(o.strategies))
	for _, s := range o.strategies {
		names = append(names, s.Name())
	}
	return names
}

// Discover runs each strategy in turn. A strategy error counts as zero
// results. When every strategy errored the result is a
// *domain.DiscoveryUnavailableError; when they ran but found nothing it is a
// *domain.EmptyResultError.
func (o *Orchestrator) Discover(ctx context.Context, album domain.AlbumReference, progress Progress) (*Result, error) {
	if progress == nil {
		progress = func(string, int, int) {}
	}

	var failures []domain.StrategyFailure
	for _, s := range o.strategies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		log := slog.With("album_id", album.AlbumID, "strategy", s.Name())
		log.Debug("Trying discovery strategy")

		candidates, err := s.Discover(ctx, album, progress)
		if len(candidates) > 0 {
			if err != nil {
				log.Warn("Strategy stopped early, keeping partial results", "found", len(candidates), "error", err)
			}
			log.Info("Discovery succeeded", "found", len(candidates))
			return &Result{Strategy: s.Name(), Candidates: candidates}, nil
		}
		if err != nil {
			log.Warn("Discovery strategy failed", "error", err)
			failures = append(failures, domain.StrategyFailure{Strategy: s.Name(), Err: err})
			continue
		}
		log.Debug("Strategy found nothing")
	}

	if len(o.strategies) > 0 && len(failures) == len(o.strategies) {
		return nil, &domain.DiscoveryUnavailableError{Album: album, Causes: failures}
	}
	return nil, &domain.EmptyResultError{Album: album}
}

// collector accumulates unique candidates across pages.
type collector struct {
	seen map[string]struct{}
	out  []string
}

func newCollector() *collector {
	return &collector{seen: make(map[string]struct{})}
}

// add returns how many of urls were new.
func (c *collector) add(urls []string) int {
	added := 0
	for _, u := range urls {
		if u == "" {
			continue
		}
		if _, ok := c.seen[u]; ok {
			continue
		}
		c.seen[u] = struct{}{}
		c.out = append(c.out, u)
		added++
	}
	return added
}
