// Package archive downloads selected photos and packs them into a ZIP bundle,
// including the incremental pass that retries only previously failed photos.
package archive

import (
	"archive/zip"
	"bytes"
	"compress/flate"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/emanuelef/gallery-dl-api-go/internal/domain"
	"github.com/emanuelef/gallery-dl-api-go/internal/infra/webclient"
	"github.com/emanuelef/gallery-dl-api-go/internal/retry"
)

var (
	// ErrTooSmall marks a 2xx response whose body is too short to be a photo.
	ErrTooSmall = errors.New("response body too small")
	// ErrNotImage marks a 2xx response that is an HTML page instead of a photo.
	ErrNotImage = errors.New("response is not an image")
	// ErrNoFailures is returned by RetryFailed when there is nothing to retry.
	ErrNoFailures = errors.New("no failed downloads to retry")
)

var entryIndexRe = regexp.MustCompile(`^image_(\d+)\.`)

// ImageFetcher retrieves one image.
type ImageFetcher interface {
	FetchImage(ctx context.Context, url, referer string, timeout time.Duration, limit int64) (*webclient.Image, error)
}

// Options configures a Builder.
type Options struct {
	Attempts         int
	BackoffBase      time.Duration
	ThrottleCooldown time.Duration
	MinBytes         int
	CourtesyDelay    time.Duration
	ImageTimeout     time.Duration
	MaxImageBytes    int64
}

// DefaultOptions returns the standard retrieval settings.
func DefaultOptions() Options {
	return Options{
		Attempts:         3,
		BackoffBase:      2 * time.Second,
		ThrottleCooldown: 15 * time.Second,
		MinBytes:         512,
		CourtesyDelay:    100 * time.Millisecond,
		ImageTimeout:     30 * time.Second,
		MaxImageBytes:    64 << 20,
	}
}

// EventKind tells what an Event reports.
type EventKind int

const (
	EventStart EventKind = iota
	EventSuccess
	EventFailure
)

// Event is one progress report from a build.
type Event struct {
	Kind  EventKind
	Index int // 1-based position in the current pass
	Total int
	URL   string
	Entry string
	Err   error
}

// Progress receives build events in order.
type Progress func(Event)

// Result is a finished bundle.
type Result struct {
	Bundle     []byte
	Entries    int
	Downloaded int
	Failed     []string
}

// Builder turns a URL list into a ZIP bundle.
type Builder struct {
	fetcher ImageFetcher
	opts    Options
}

// NewBuilder creates a Builder. Zero Attempts, ImageTimeout and MaxImageBytes
// take their defaults; zero delays and MinBytes turn that wait or check off.
func NewBuilder(fetcher ImageFetcher, opts Options) *Builder {
	def := DefaultOptions()
	if opts.Attempts <= 0 {
		opts.Attempts = def.Attempts
	}
	if opts.ImageTimeout <= 0 {
		opts.ImageTimeout = def.ImageTimeout
	}
	if opts.MaxImageBytes <= 0 {
		opts.MaxImageBytes = def.MaxImageBytes
	}
	return &Builder{fetcher: fetcher, opts: opts}
}

func newZipWriter(w io.Writer) *zip.Writer {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, 6)
	})
	return zw
}

// Build downloads urls in order and archives every success.
func (b *Builder) Build(ctx context.Context, urls []string, referer string, progress Progress) (*Result, error) {
	var buf bytes.Buffer
	zw := newZipWriter(&buf)

	res, err := b.appendAll(ctx, zw, urls, 0, referer, progress)
	if err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize bundle: %w", err)
	}
	res.Entries = res.Downloaded
	res.Bundle = buf.Bytes()
	return res, nil
}

// RetryFailed copies every entry of prior unchanged, retries only failed and
// appends new successes after the highest existing index.
func (b *Builder) RetryFailed(ctx context.Context, prior []byte, failed []string, referer string, progress Progress) (*Result, error) {
	if len(failed) == 0 {
		return nil, ErrNoFailures
	}
	zr, err := zip.NewReader(bytes.NewReader(prior), int64(len(prior)))
	if err != nil {
		return nil, fmt.Errorf("failed to open prior bundle: %w", err)
	}

	var buf bytes.Buffer
	zw := newZipWriter(&buf)

	highest := 0
	for _, f := range zr.File {
		if err := zw.Copy(f); err != nil {
			return nil, fmt.Errorf("failed to copy %s: %w", f.Name, err)
		}
		if m := entryIndexRe.FindStringSubmatch(f.Name); m != nil {
			if n, _ := strconv.Atoi(m[1]); n > highest {
				highest = n
			}
		}
	}

	res, err := b.appendAll(ctx, zw, failed, highest, referer, progress)
	if err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize bundle: %w", err)
	}
	res.Entries = len(zr.File) + res.Downloaded
	res.Bundle = buf.Bytes()
	return res, nil
}

func (b *Builder) appendAll(ctx context.Context, zw *zip.Writer, urls []string, startIndex int, referer string, progress Progress) (*Result, error) {
	if progress == nil {
		progress = func(Event) {}
	}
	res := &Result{}
	next := startIndex

	for i, u := range urls {
		ev := Event{Index: i + 1, Total: len(urls), URL: u}
		ev.Kind = EventStart
		progress(ev)

		img, attempts, err := b.retrieve(ctx, u, referer)
		if err != nil {
			ev.Kind = EventFailure
			ev.Err = &domain.DownloadExhaustedError{URL: u, Attempts: attempts, Cause: err}
			res.Failed = append(res.Failed, u)
			slog.Warn("Download failed", "url", u, "attempts", attempts, "error", err)
			progress(ev)
			continue
		}

		next++
		name := fmt.Sprintf("image_%04d%s", next, Extension(img.ContentType, u))
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: time.Now()})
		if err != nil {
			return nil, fmt.Errorf("failed to add %s: %w", name, err)
		}
		if _, err := w.Write(img.Body); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", name, err)
		}

		res.Downloaded++
		ev.Kind = EventSuccess
		ev.Entry = name
		progress(ev)

		if err := retry.Wait(ctx, b.opts.CourtesyDelay); err != nil {
			slog.Debug("Courtesy delay interrupted", "error", err)
		}
	}
	return res, nil
}

// retrieve fetches one URL within the retry budget and returns the attempt count.
func (b *Builder) retrieve(ctx context.Context, u, referer string) (*webclient.Image, int, error) {
	var img *webclient.Image
	attempts, err := retry.Do(ctx, retry.Policy{
		MaxAttempts: b.opts.Attempts,
		Backoff:     retry.LinearBackoff{Step: b.opts.BackoffBase},
		Throttle:    retry.LinearBackoff{Step: b.opts.ThrottleCooldown},
		IsThrottled: webclient.IsThrottled,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			slog.Info("Retrying download",
				"url", u,
				"attempt", attempt,
				"delay", delay,
				"throttled", webclient.IsThrottled(err),
				"error", err,
			)
		},
	}, func(ctx context.Context, attempt int) error {
		got, err := b.fetcher.FetchImage(ctx, u, referer, b.opts.ImageTimeout, b.opts.MaxImageBytes)
		if err != nil {
			return err
		}
		if err := b.validate(got); err != nil {
			return err
		}
		img = got
		return nil
	})
	return img, attempts, err
}

func (b *Builder) validate(img *webclient.Image) error {
	mediaType, _, _ := mime.ParseMediaType(img.ContentType)
	if mediaType == "text/html" {
		return ErrNotImage
	}
	if len(img.Body) < b.opts.MinBytes {
		return fmt.Errorf("%w: %d bytes", ErrTooSmall, len(img.Body))
	}
	return nil
}

// Extension picks the entry extension from the declared content type, then
// the URL, defaulting to .jpg.
func Extension(contentType, rawURL string) string {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "png"):
		return ".png"
	case strings.Contains(ct, "webp"):
		return ".webp"
	case strings.Contains(ct, "gif"):
		return ".gif"
	case strings.Contains(ct, "jpeg"), strings.Contains(ct, "jpg"):
		return ".jpg"
	}

	p := rawURL
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	switch ext := strings.ToLower(path.Ext(p)); ext {
	case ".jpeg":
		return ".jpg"
	case ".jpg", ".png", ".webp", ".gif":
		return ext
	}
	return ".jpg"
}
