package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/emanuelef/gallery-dl-api-go/internal/domain"
	"github.com/emanuelef/gallery-dl-api-go/internal/retry"
	"github.com/emanuelef/gallery-dl-api-go/internal/service/resolve"
)

// DefaultAPITemplates are the known JSON listing endpoints, tried in order.
var DefaultAPITemplates = []string{
	"/ajax/albums/{id}/photos?uid=1&page={page}&pageSize=30",
	"/api/albums/{id}/photos?uid=1&page={page}&pageSize=30",
}

// APIStrategy pages through the site's JSON listing endpoints.
type APIStrategy struct {
	Fetcher   Fetcher
	Extractor Extractor
	Templates []string
	PageDelay time.Duration
	MaxPages  int
}

// Name implements Strategy.
func (s *APIStrategy) Name() string { return StrategyAPI }

// Discover implements Strategy. The first template yielding anything wins.
func (s *APIStrategy) Discover(ctx context.Context, album domain.AlbumReference, progress Progress) ([]string, error) {
	templates := s.Templates
	if len(templates) == 0 {
		templates = DefaultAPITemplates
	}

	var errs []error
	for _, tpl := range templates {
		found, err := s.runTemplate(ctx, album, tpl, progress)
		if len(found) > 0 {
			return found, nil
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == len(templates) {
		return nil, errors.Join(errs...)
	}
	return nil, nil
}

func (s *APIStrategy) runTemplate(ctx context.Context, album domain.AlbumReference, tpl string, progress Progress) ([]string, error) {
	referer := s.Fetcher.SiteURL(album.SiteHost, "/albums/"+album.AlbumID+"?uid=1")
	all := newCollector()
	photos := make(map[string]struct{})

	maxPages := s.MaxPages
	if maxPages <= 0 {
		maxPages = 200
	}

	for page := 1; page <= maxPages; page++ {
		path := strings.NewReplacer("{id}", album.AlbumID, "{page}", strconv.Itoa(page)).Replace(tpl)
		body, err := s.Fetcher.FetchJSON(ctx, s.Fetcher.SiteURL(album.SiteHost, path), referer)
		if err != nil {
			return all.out, fmt.Errorf("%s page %d: %w", path, page, err)
		}
		if !json.Valid(body) {
			return all.out, fmt.Errorf("%s page %d: response is not JSON", path, page)
		}

		found := s.Extractor.Extract(string(body))
		added := all.add(found)
		for _, u := range found {
			photos[resolve.PhotoKey(u)] = struct{}{}
		}
		progress(StrategyAPI, page, len(all.out))

		if added == 0 {
			break
		}
		if total := reportedTotal(body); total > 0 && len(photos) >= total {
			break
		}
		if err := retry.Wait(ctx, s.PageDelay); err != nil {
			return all.out, err
		}
	}
	return all.out, nil
}

// reportedTotal reads total or count from the payload root or its data object.
func reportedTotal(body []byte) int {
	var root map[string]any
	if err := json.Unmarshal(body, &root); err != nil {
		return 0
	}
	if n := totalIn(root); n > 0 {
		return n
	}
	if data, ok := root["data"].(map[string]any); ok {
		return totalIn(data)
	}
	return 0
}

func totalIn(m map[string]any) int {
	for _, key := range []string{"total", "count"} {
		switch v := m[key].(type) {
		case float64:
			if v > 0 {
				return int(v)
			}
		case string:
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				return n
			}
		}
	}
	return 0
}
