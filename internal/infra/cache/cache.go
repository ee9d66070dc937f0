// Package cache provides in-memory caching of resolved album photo lists.
package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/emanuelef/gallery-dl-api-go/internal/domain"
)

// Entry is a cached discovery outcome for one album.
type Entry struct {
	Strategy       string
	CandidateCount int
	Selected       []string
}

// AlbumCache caches resolved photo lists so a restart of the same album
// does not walk the site again.
type AlbumCache struct {
	cache *gocache.Cache
}

// NewAlbumCache creates an AlbumCache with the given TTL and cleanup interval.
func NewAlbumCache(ttl, cleanupInterval time.Duration) *AlbumCache {
	return &AlbumCache{
		cache: gocache.New(ttl, cleanupInterval),
	}
}

// DefaultAlbumCache creates an AlbumCache with a 30 minute TTL.
func DefaultAlbumCache() *AlbumCache {
	return NewAlbumCache(30*time.Minute, 10*time.Minute)
}

func key(album domain.AlbumReference) string {
	return album.SiteHost + "/" + album.AlbumID
}

// Get retrieves the cached entry for album.
func (c *AlbumCache) Get(album domain.AlbumReference) (*Entry, bool) {
	if item, found := c.cache.Get(key(album)); found {
		if e, ok := item.(*Entry); ok {
			cp := *e
			cp.Selected = append([]string(nil), e.Selected...)
			return &cp, true
		}
	}
	return nil, false
}

// Set stores a resolved list for album.
func (c *AlbumCache) Set(album domain.AlbumReference, e *Entry) {
	cp := *e
	cp.Selected = append([]string(nil), e.Selected...)
	c.cache.Set(key(album), &cp, gocache.DefaultExpiration)
}

// Delete removes the entry for album.
func (c *AlbumCache) Delete(album domain.AlbumReference) {
	c.cache.Delete(key(album))
}

// Flush removes all items.
func (c *AlbumCache) Flush() {
	c.cache.Flush()
}

// ItemCount returns the number of cached albums.
func (c *AlbumCache) ItemCount() int {
	return c.cache.ItemCount()
}
