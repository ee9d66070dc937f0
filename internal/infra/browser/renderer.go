// Package browser renders gallery listing pages in headless Chrome and
// captures the image traffic a real visitor would trigger.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// Capture is everything a rendered page revealed about its images.
type Capture struct {
	// Responses are URLs of image responses seen on the network, in arrival order.
	Responses []string
	// Images are the live src values of rendered image elements.
	Images []string
	// HTML is the rendered DOM after scrolling.
	HTML string
}

// Renderer renders one page URL.
type Renderer interface {
	Render(ctx context.Context, pageURL string) (*Capture, error)
}

// RenderOptions configures a ChromedpRenderer.
type RenderOptions struct {
	ExecPath        string
	UserAgent       string
	Timeout         time.Duration
	Scrolls         int
	ScrollDelay     time.Duration
	WaitForSelector string
	DisableHeadless bool
}

// ChromedpRenderer starts a fresh headless Chrome for every render.
type ChromedpRenderer struct {
	opts RenderOptions
}

// NewChromedpRenderer creates a renderer with defaults filled in.
func NewChromedpRenderer(opts RenderOptions) *ChromedpRenderer {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.Scrolls <= 0 {
		opts.Scrolls = 8
	}
	if opts.ScrollDelay <= 0 {
		opts.ScrollDelay = 700 * time.Millisecond
	}
	if opts.WaitForSelector == "" {
		opts.WaitForSelector = "body"
	}
	return &ChromedpRenderer{opts: opts}
}

const imageSourcesJS = `Array.from(document.images).flatMap(function (img) {
	return [img.currentSrc, img.src, img.getAttribute('data-src'), img.getAttribute('data-origin-src'), img.getAttribute('data-original')];
}).filter(function (s) { return !!s && s.indexOf('data:') !== 0; })`

// scrolling returns the new height so the evaluation yields a value.
const scrollJS = `window.scrollTo(0, document.body.scrollHeight); document.body.scrollHeight`

// Render navigates to pageURL, scrolls to trigger lazy loading and returns
// what was captured.
func (r *ChromedpRenderer) Render(ctx context.Context, pageURL string) (*Capture, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", !r.opts.DisableHeadless),
		chromedp.Flag("blink-settings", "imagesEnabled=true"),
	)
	if r.opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(r.opts.UserAgent))
	}
	if r.opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(r.opts.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer cancelAlloc()

	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	defer cancelTab()

	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, r.opts.Timeout)
	defer cancelTimeout()

	var (
		mu        sync.Mutex
		responses []string
	)
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		e, ok := ev.(*network.EventResponseReceived)
		if !ok || e.Response == nil {
			return
		}
		if e.Type == network.ResourceTypeImage || strings.HasPrefix(e.Response.MimeType, "image/") {
			mu.Lock()
			responses = append(responses, e.Response.URL)
			mu.Unlock()
		}
	})

	var (
		height float64
		images []string
		html   string
	)
	tasks := chromedp.Tasks{
		network.Enable(),
		chromedp.Navigate(pageURL),
		chromedp.WaitReady(r.opts.WaitForSelector, chromedp.ByQuery),
	}
	for i := 0; i < r.opts.Scrolls; i++ {
		tasks = append(tasks,
			chromedp.Evaluate(scrollJS, &height),
			chromedp.Sleep(r.opts.ScrollDelay),
		)
	}
	tasks = append(tasks,
		chromedp.Evaluate(imageSourcesJS, &images),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)

	if err := chromedp.Run(tabCtx, tasks); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("render %s timed out after %s: %w", pageURL, r.opts.Timeout, err)
		}
		return nil, fmt.Errorf("render %s: %w", pageURL, err)
	}

	mu.Lock()
	captured := append([]string(nil), responses...)
	mu.Unlock()

	slog.Debug("Page rendered",
		"url", pageURL,
		"responses", len(captured),
		"images", len(images),
	)

	return &Capture{Responses: captured, Images: images, HTML: html}, nil
}
