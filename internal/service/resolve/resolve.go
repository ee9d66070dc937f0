// Package resolve collapses resolution variants of the same photo into the
// single best-quality URL per photo.
package resolve

import (
	"context"
	"log/slog"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// Resolution ranks, low to high quality.
const (
	RankThumb    = 1
	RankSmall    = 2
	RankMedium   = 3
	RankLarge    = 4
	RankOriginal = 5

	// DefaultRank is used when a filename carries no known token.
	DefaultRank = RankMedium
)

var tokenRanks = map[string]int{
	"thumb":    RankThumb,
	"square":   RankThumb,
	"tiny":     RankThumb,
	"small":    RankSmall,
	"medium":   RankMedium,
	"big":      RankLarge,
	"large":    RankLarge,
	"raw":      RankOriginal,
	"original": RankOriginal,
	"origin":   RankOriginal,
	"full":     RankOriginal,
}

var segmentSep = regexp.MustCompile(`[_\-.]+`)

// SizeProber returns the declared byte size of a URL.
type SizeProber interface {
	ContentLength(ctx context.Context, url, referer string, timeout time.Duration) (int64, error)
}

// Options configures a Resolver.
type Options struct {
	// Prober enables the size-probe refinement when ProbeSizes is set.
	Prober       SizeProber
	ProbeSizes   bool
	ProbeTimeout time.Duration
	// Concurrency bounds simultaneous probes.
	Concurrency  int
	VerifySample int
}

// Resolver picks one URL per photo.
type Resolver struct {
	opts Options
}

// New creates a Resolver.
func New(opts Options) *Resolver {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 8 * time.Second
	}
	return &Resolver{opts: opts}
}

// StripQuery removes the query string and fragment from u.
func StripQuery(u string) string {
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		return u[:i]
	}
	return u
}

func splitName(rawURL string) (dir, stem string) {
	p := StripQuery(rawURL)
	if parsed, err := url.Parse(p); err == nil && parsed.Host != "" {
		p = parsed.Path
	}
	dir, file := path.Split(p)
	return dir, strings.TrimSuffix(file, path.Ext(file))
}

// PhotoKey returns the identity shared by every resolution variant of one
// photo: the path directory plus the filename stem without resolution tokens.
// The host is ignored so CDN aliases collapse.
func PhotoKey(rawURL string) string {
	dir, stem := splitName(rawURL)
	var kept []string
	for _, seg := range segmentSep.Split(strings.ToLower(stem), -1) {
		if seg == "" {
			continue
		}
		if _, isToken := tokenRanks[seg]; isToken {
			continue
		}
		kept = append(kept, seg)
	}
	return dir + strings.Join(kept, "_")
}

// Rank scores a URL by the best resolution token in its filename.
func Rank(rawURL string) int {
	rank, ok := tokenRank(rawURL)
	if !ok {
		return DefaultRank
	}
	return rank
}

func tokenRank(rawURL string) (int, bool) {
	_, stem := splitName(rawURL)
	best, found := 0, false
	for _, seg := range segmentSep.Split(strings.ToLower(stem), -1) {
		if r, ok := tokenRanks[seg]; ok {
			found = true
			if r > best {
				best = r
			}
		}
	}
	return best, found
}

type group struct {
	best     string
	rank     int
	variants []string
	tokened  bool
}

// Resolve returns one URL per PhotoKey in first-seen key order.
func (r *Resolver) Resolve(ctx context.Context, candidates []string, referer string) []string {
	groups := make(map[string]*group)
	var order []string

	for _, c := range candidates {
		u := StripQuery(c)
		if u == "" {
			continue
		}
		key := PhotoKey(u)
		rank, tokened := tokenRank(u)
		if !tokened {
			rank = DefaultRank
		}

		g, ok := groups[key]
		if !ok {
			groups[key] = &group{best: u, rank: rank, variants: []string{u}, tokened: tokened}
			order = append(order, key)
			continue
		}
		if !contains(g.variants, u) {
			g.variants = append(g.variants, u)
		}
		g.tokened = g.tokened || tokened
		if rank > g.rank {
			g.best, g.rank = u, rank
		}
	}

	if r.opts.ProbeSizes && r.opts.Prober != nil {
		r.probeGroups(ctx, groups, order, referer)
	}

	out := make([]string, 0, len(order))
	for _, key := range order {
		out = append(out, groups[key].best)
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// probeGroups replaces the pick of every untokened multi-variant group with
// its largest variant. Probe failures count as size -1; ties keep first seen.
func (r *Resolver) probeGroups(ctx context.Context, groups map[string]*group, order []string, referer string) {
	var pending []*group
	for _, key := range order {
		if g := groups[key]; len(g.variants) > 1 && !g.tokened {
			pending = append(pending, g)
		}
	}
	if len(pending) == 0 {
		return
	}

	sizes := make([][]int64, len(pending))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(r.opts.Concurrency)
	for i, g := range pending {
		sizes[i] = make([]int64, len(g.variants))
		for j, v := range g.variants {
			eg.Go(func() error {
				n, err := r.opts.Prober.ContentLength(egCtx, v, referer, r.opts.ProbeTimeout)
				if err != nil {
					slog.Debug("Size probe failed", "url", v, "error", err)
					n = -1
				}
				sizes[i][j] = n
				return nil
			})
		}
	}
	_ = eg.Wait()

	for i, g := range pending {
		bestIdx := 0
		for j := range g.variants {
			if sizes[i][j] > sizes[i][bestIdx] {
				bestIdx = j
			}
		}
		g.best = g.variants[bestIdx]
	}
}

// Verify probes up to VerifySample URLs. When none of the sampled URLs
// answers, the list is returned unchanged since a blocked probe cannot be
// told apart from a broken link. Otherwise sampled failures are dropped.
func (r *Resolver) Verify(ctx context.Context, urls []string, referer string) []string {
	n := r.opts.VerifySample
	if n <= 0 || r.opts.Prober == nil || len(urls) == 0 {
		return urls
	}
	if n > len(urls) {
		n = len(urls)
	}

	ok := make([]bool, n)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(r.opts.Concurrency)
	for i := 0; i < n; i++ {
		eg.Go(func() error {
			_, err := r.opts.Prober.ContentLength(egCtx, urls[i], referer, r.opts.ProbeTimeout)
			ok[i] = err == nil
			return nil
		})
	}
	_ = eg.Wait()

	passed := 0
	for _, v := range ok {
		if v {
			passed++
		}
	}
	if passed == 0 {
		slog.Warn("Verification sample failed entirely, keeping unverified list",
			"sampled", n,
			"total", len(urls),
		)
		return urls
	}

	out := make([]string, 0, len(urls))
	for i, u := range urls {
		if i < n && !ok[i] {
			continue
		}
		out = append(out, u)
	}
	return out
}
