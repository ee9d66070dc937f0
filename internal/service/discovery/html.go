package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/emanuelef/gallery-dl-api-go/internal/domain"
	"github.com/emanuelef/gallery-dl-api-go/internal/retry"
	"github.com/emanuelef/gallery-dl-api-go/internal/service/extract"
)

// ListingPath is the paginated album listing page.
func ListingPath(albumID string, page int) string {
	return "/albums/" + albumID + "?uid=1&page=" + strconv.Itoa(page)
}

// HasNextPage reports whether html links to page+1.
func HasNextPage(html string, page int) bool {
	re := regexp.MustCompile(`page=` + strconv.Itoa(page+1) + `(?:\D|$)`)
	return re.MatchString(html)
}

// walkListing fetches listing pages in order and hands each to visit, which
// returns how many new items the page contributed. Walking stops at a page
// that adds nothing or carries no link to the next page. A failure on the
// first page is returned; later failures end the walk.
func walkListing(ctx context.Context, f Fetcher, album domain.AlbumReference, maxPages int, delay time.Duration,
	visit func(html string, page int) int) error {
	if maxPages <= 0 {
		maxPages = 200
	}
	referer := f.SiteURL(album.SiteHost, "/")

	for page := 1; page <= maxPages; page++ {
		html, err := f.FetchPage(ctx, f.SiteURL(album.SiteHost, ListingPath(album.AlbumID, page)), referer)
		if err != nil {
			if page == 1 {
				return fmt.Errorf("failed to load album: %w", err)
			}
			slog.Debug("Listing page failed, stopping", "album_id", album.AlbumID, "page", page, "error", err)
			return nil
		}

		if visit(html, page) == 0 || !HasNextPage(html, page) {
			return nil
		}
		if err := retry.Wait(ctx, delay); err != nil {
			return err
		}
	}
	return nil
}

// HTMLStrategy scrapes the paginated listing markup.
type HTMLStrategy struct {
	Fetcher   Fetcher
	Extractor Extractor
	PageDelay time.Duration
	MaxPages  int
}

// Name implements Strategy.
func (s *HTMLStrategy) Name() string { return StrategyHTML }

// Discover implements Strategy.
func (s *HTMLStrategy) Discover(ctx context.Context, album domain.AlbumReference, progress Progress) ([]string, error) {
	all := newCollector()
	err := walkListing(ctx, s.Fetcher, album, s.MaxPages, s.PageDelay, func(html string, page int) int {
		added := all.add(s.Extractor.Extract(html))
		progress(StrategyHTML, page, len(all.out))
		return added
	})
	return all.out, err
}

// DetailStrategy follows per-photo detail links from the listing and keeps
// the first candidate of each detail page.
type DetailStrategy struct {
	Fetcher     Fetcher
	Extractor   Extractor
	PageDelay   time.Duration
	DetailDelay time.Duration
	MaxPages    int
}

// Name implements Strategy.
func (s *DetailStrategy) Name() string { return StrategyDetail }

// Discover implements Strategy.
func (s *DetailStrategy) Discover(ctx context.Context, album domain.AlbumReference, progress Progress) ([]string, error) {
	base, err := url.Parse(s.Fetcher.SiteURL(album.SiteHost, "/albums/"+album.AlbumID))
	if err != nil {
		return nil, fmt.Errorf("invalid album base: %w", err)
	}

	links := newCollector()
	err = walkListing(ctx, s.Fetcher, album, s.MaxPages, s.PageDelay, func(html string, page int) int {
		return links.add(extract.DetailLinks(html, base, album.AlbumID))
	})
	if err != nil {
		return nil, err
	}
	if len(links.out) == 0 {
		return nil, nil
	}

	listing := s.Fetcher.SiteURL(album.SiteHost, ListingPath(album.AlbumID, 1))
	all := newCollector()
	var errs []error
	for i, link := range links.out {
		html, err := s.Fetcher.FetchPage(ctx, link, listing)
		if err != nil {
			errs = append(errs, err)
			slog.Debug("Detail page failed", "url", link, "error", err)
		} else if found := s.Extractor.Extract(html); len(found) > 0 {
			all.add(found[:1])
		}
		progress(StrategyDetail, i+1, len(all.out))

		if i < len(links.out)-1 {
			if err := retry.Wait(ctx, s.DetailDelay); err != nil {
				return all.out, err
			}
		}
	}

	if len(all.out) == 0 && len(errs) == len(links.out) {
		return nil, fmt.Errorf("all %d detail pages failed: %w", len(errs), errors.Join(errs...))
	}
	return all.out, nil
}
