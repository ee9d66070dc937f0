package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrJobNotFound is returned when a job id is unknown to the store.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobInProgress is returned when a retry targets a job that has not finished.
	ErrJobInProgress = errors.New("job is still in progress")
	// ErrBundleNotReady is returned when a bundle is requested before it exists.
	ErrBundleNotReady = errors.New("bundle not ready")
)

// ExpectedLinkShape is shown to callers whose input is not a direct album link.
const ExpectedLinkShape = "https://store.x.yupoo.com/albums/123456"

// InvalidReferenceError reports input that is not a direct album link.
type InvalidReferenceError struct {
	Input  string
	Reason string
}

func (e *InvalidReferenceError) Error() string {
	return fmt.Sprintf("could not find album ID (%s). Use a direct album link like: %s", e.Reason, ExpectedLinkShape)
}

// StrategyFailure records why one discovery strategy produced nothing.
type StrategyFailure struct {
	Strategy string
	Err      error
}

// DiscoveryUnavailableError means every acquisition strategy failed.
type DiscoveryUnavailableError struct {
	Album  AlbumReference
	Causes []StrategyFailure
}

func (e *DiscoveryUnavailableError) Error() string {
	parts := make([]string, 0, len(e.Causes))
	for _, c := range e.Causes {
		parts = append(parts, c.Strategy+": "+c.Err.Error())
	}
	if len(parts) == 0 {
		return fmt.Sprintf("failed to load album %s", e.Album.AlbumID)
	}
	return fmt.Sprintf("failed to load album %s (%s)", e.Album.AlbumID, strings.Join(parts, "; "))
}

// EmptyResultError means discovery worked but found no photos.
type EmptyResultError struct {
	Album AlbumReference
}

func (e *EmptyResultError) Error() string {
	return "No images found. The album may be private or the gallery changed its structure."
}

// DownloadExhaustedError is a per-item failure after the retry budget is spent.
type DownloadExhaustedError struct {
	URL      string
	Attempts int
	Cause    error
}

func (e *DownloadExhaustedError) Error() string {
	return fmt.Sprintf("download of %s failed after %d attempts: %v", e.URL, e.Attempts, e.Cause)
}

func (e *DownloadExhaustedError) Unwrap() error {
	return e.Cause
}
