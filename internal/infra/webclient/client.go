// Package webclient wraps the HTTP session used to talk to a gallery site:
// cookie jar, browser-like headers, warm-up request and per-call timeouts.
package webclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/emanuelef/gallery-dl-api-go/internal/retry"
	"github.com/emanuelef/gallery-dl-api-go/pkg/safeclient"
)

// maxPageBytes caps how much of a listing or JSON response is read.
const maxPageBytes = 16 << 20

// ErrTooLarge is returned when an image body exceeds the caller's limit.
var ErrTooLarge = errors.New("image exceeds size limit")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.Code)
}

// IsThrottled reports whether err is a 429 or 403 response.
func IsThrottled(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code == http.StatusForbidden
	}
	return false
}

// Options configures a Client.
type Options struct {
	Scheme       string
	UserAgent    string
	FetchTimeout time.Duration
	// ClientTimeout caps every request made through New. It must cover the
	// longest per-call timeout (image downloads); zero means FetchTimeout.
	ClientTimeout time.Duration
	WarmupDelay   time.Duration
	AllowPrivate  bool
}

// Client is a gallery-site session.
type Client struct {
	http *http.Client
	opts Options
}

// New creates a session backed by the SSRF-guarded client.
func New(opts Options) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	timeout := opts.ClientTimeout
	if timeout < opts.FetchTimeout {
		timeout = opts.FetchTimeout
	}
	hc := safeclient.New(safeclient.Options{
		Timeout:      timeout,
		Jar:          jar,
		AllowPrivate: opts.AllowPrivate,
	})
	return NewWithHTTPClient(hc, opts), nil
}

// NewWithHTTPClient creates a session around an existing http.Client.
func NewWithHTTPClient(hc *http.Client, opts Options) *Client {
	if opts.Scheme == "" {
		opts.Scheme = "https"
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 15 * time.Second
	}
	return &Client{http: hc, opts: opts}
}

// SiteURL builds an absolute URL on host for path (which may carry a query).
func (c *Client) SiteURL(host, path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.opts.Scheme + "://" + host + path
}

// Warmup visits the site root so the session picks up cookies, then pauses.
func (c *Client) Warmup(ctx context.Context, host string) error {
	if _, err := c.FetchPage(ctx, c.SiteURL(host, "/"), ""); err != nil {
		return fmt.Errorf("warm-up failed: %w", err)
	}
	return retry.Wait(ctx, c.opts.WarmupDelay)
}

// FetchPage returns the body of an HTML page.
func (c *Client) FetchPage(ctx context.Context, url, referer string) (string, error) {
	body, err := c.fetch(ctx, url, func(h http.Header) {
		h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		if referer != "" {
			h.Set("Referer", referer)
		}
	})
	return string(body), err
}

// FetchJSON performs an XHR-style request and returns the raw body.
func (c *Client) FetchJSON(ctx context.Context, url, referer string) ([]byte, error) {
	return c.fetch(ctx, url, func(h http.Header) {
		h.Set("Accept", "application/json, text/javascript, */*; q=0.01")
		h.Set("X-Requested-With", "XMLHttpRequest")
		if referer != "" {
			h.Set("Referer", referer)
		}
	})
}

func (c *Client) fetch(ctx context.Context, url string, headers func(http.Header)) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.decorate(req)
	headers(req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{URL: url, Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", url, err)
	}
	slog.Debug("Fetched page", "url", url, "bytes", len(body))
	return body, nil
}

// ContentLength issues a HEAD request and returns the declared size, or -1.
func (c *Client) ContentLength(ctx context.Context, url, referer string, timeout time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return -1, fmt.Errorf("failed to create request: %w", err)
	}
	c.decorate(req)
	if referer != "" {
		req.Header.Set("Referer", referer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return -1, err
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return -1, &StatusError{URL: url, Code: resp.StatusCode}
	}
	return resp.ContentLength, nil
}

// Image is a retrieved image body.
type Image struct {
	Body        []byte
	ContentType string
}

// FetchImage downloads one image within timeout. Non-2xx responses are
// returned as *StatusError.
func (c *Client) FetchImage(ctx context.Context, url, referer string, timeout time.Duration, limit int64) (*Image, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.decorate(req)
	req.Header.Set("Accept", "image/avif,image/webp,image/apng,image/*,*/*;q=0.8")
	if referer != "" {
		req.Header.Set("Referer", referer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{URL: url, Code: resp.StatusCode}
	}

	var r io.Reader = resp.Body
	if limit > 0 {
		r = io.LimitReader(resp.Body, limit+1)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read image body: %w", err)
	}
	if limit > 0 && int64(len(body)) > limit {
		return nil, fmt.Errorf("%s: %w (limit %d bytes)", url, ErrTooLarge, limit)
	}
	return &Image{Body: body, ContentType: resp.Header.Get("Content-Type")}, nil
}

func (c *Client) decorate(req *http.Request) {
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
}
