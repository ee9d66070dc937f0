package discovery

import (
	"context"
	"fmt"

	"github.com/emanuelef/gallery-dl-api-go/internal/domain"
	"github.com/emanuelef/gallery-dl-api-go/internal/infra/browser"
)

// BrowserStrategy renders listing pages in a real browser and collects the
// image traffic and rendered image sources.
type BrowserStrategy struct {
	Fetcher   Fetcher
	Extractor Extractor
	Renderer  browser.Renderer
	MaxPages  int
}

// Name implements Strategy.
func (s *BrowserStrategy) Name() string { return StrategyBrowser }

// Discover implements Strategy. Pages are rendered while new images appear.
func (s *BrowserStrategy) Discover(ctx context.Context, album domain.AlbumReference, progress Progress) ([]string, error) {
	maxPages := s.MaxPages
	if maxPages <= 0 {
		maxPages = 20
	}

	all := newCollector()
	for page := 1; page <= maxPages; page++ {
		pageURL := s.Fetcher.SiteURL(album.SiteHost, ListingPath(album.AlbumID, page))
		capture, err := s.Renderer.Render(ctx, pageURL)
		if err != nil {
			if page == 1 {
				return nil, err
			}
			return all.out, fmt.Errorf("page %d: %w", page, err)
		}

		var found []string
		for _, raw := range capture.Responses {
			found = append(found, s.Extractor.Normalize(raw))
		}
		for _, raw := range capture.Images {
			found = append(found, s.Extractor.Normalize(raw))
		}
		found = append(found, s.Extractor.Extract(capture.HTML)...)

		added := all.add(found)
		progress(StrategyBrowser, page, len(all.out))
		if added == 0 {
			break
		}
	}
	return all.out, nil
}
