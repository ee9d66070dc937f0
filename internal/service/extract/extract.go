// Package extract finds gallery CDN image references in fetched content,
// whatever shape the content has: raw text, markup, or embedded JSON.
package extract

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	imageExtRe  = regexp.MustCompile(`(?i)\.(?:jpe?g|png|webp|gif)$`)
	imagePathRe = regexp.MustCompile(`(?i)^/(?:[\w\-%.~@]+/){2,}[\w\-%.~@]+\.(?:jpe?g|png|webp|gif)$`)
	quotedRelRe = regexp.MustCompile(`(?i)["'](/(?:[\w\-%.~@]+/){2,}[\w\-%.~@]+\.(?:jpe?g|png|webp|gif))(?:\?[^"'\s]*)?["']`)
	assignRe    = regexp.MustCompile(`(?:window\.__\w+__|window\.\w+|var\s+\w+|let\s+\w+|const\s+\w+)\s*=\s*[\{\[]`)

	unescaper = strings.NewReplacer(`\/`, `/`, `\u002F`, `/`, `\u002f`, `/`, `&#x2F;`, `/`, `&#47;`, `/`, `&amp;`, `&`)

	imageAttrs = []string{"src", "data-src", "data-original", "data-origin-src", "data-lazy-src", "srcset", "data-srcset"}
)

// Options configures an Extractor.
type Options struct {
	// Hosts are the CDN host aliases, optionally with a port.
	Hosts []string
	// Scheme is prepended to protocol-relative and host-less references.
	Scheme string
}

// Extractor turns page content into an ordered, deduplicated candidate list.
type Extractor struct {
	hosts   []string
	scheme  string
	absRe   *regexp.Regexp
	looseRe *regexp.Regexp
}

// New compiles the host patterns for opts.
func New(opts Options) *Extractor {
	scheme := opts.Scheme
	if scheme == "" {
		scheme = "https"
	}

	hosts := make([]string, 0, len(opts.Hosts))
	quoted := make([]string, 0, len(opts.Hosts))
	for _, h := range opts.Hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		hosts = append(hosts, h)
		quoted = append(quoted, regexp.QuoteMeta(h))
	}
	alt := strings.Join(quoted, "|")
	tail := `/[^\s"'<>\\()]+?\.(?:jpe?g|png|webp|gif)(?:\?[^\s"'<>\\()]*)?`

	return &Extractor{
		hosts:   hosts,
		scheme:  scheme,
		absRe:   regexp.MustCompile(`(?i)(?:https?:)?//(?:` + alt + `)` + tail),
		looseRe: regexp.MustCompile(`(?i)(?:(?:https?:)?//)?(?:` + alt + `)` + tail),
	}
}

// Hosts returns the configured CDN host aliases.
func (e *Extractor) Hosts() []string {
	return append([]string(nil), e.hosts...)
}

// collector accumulates candidates in first-seen order.
type collector struct {
	seen map[string]struct{}
	out  []string
}

func newCollector() *collector {
	return &collector{seen: make(map[string]struct{})}
}

func (c *collector) add(u string) {
	if u == "" {
		return
	}
	if _, ok := c.seen[u]; ok {
		return
	}
	c.seen[u] = struct{}{}
	c.out = append(c.out, u)
}

// Extract runs every technique over content and merges the results.
func (e *Extractor) Extract(content string) []string {
	if len(e.hosts) == 0 || content == "" {
		return nil
	}
	text := unescaper.Replace(content)
	c := newCollector()

	var doc *goquery.Document
	if strings.Contains(content, "<") {
		doc, _ = goquery.NewDocumentFromReader(strings.NewReader(content))
	}

	// absolute and protocol-relative CDN URLs
	for _, m := range e.absRe.FindAllString(text, -1) {
		c.add(e.Normalize(m))
	}

	// embedded structured data
	for _, blob := range blobs(content, doc) {
		e.walk(blob, c)
	}

	// markup attributes
	if doc != nil {
		e.markup(doc, c)
	}

	// quoted relative fragments, expanded against every alias
	for _, m := range quotedRelRe.FindAllStringSubmatch(text, -1) {
		for _, h := range e.hosts {
			c.add(e.Normalize(e.scheme + "://" + h + m[1]))
		}
	}

	return c.out
}

// Walk collects candidates from any decoded JSON value.
func (e *Extractor) Walk(v any) []string {
	c := newCollector()
	e.walk(v, c)
	return c.out
}

func (e *Extractor) walk(v any, c *collector) {
	switch t := v.(type) {
	case string:
		e.walkString(t, c)
	case object:
		for _, m := range t {
			e.walk(m.val, c)
		}
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			e.walk(t[k], c)
		}
	case []any:
		for _, child := range t {
			e.walk(child, c)
		}
	}
}

func (e *Extractor) walkString(s string, c *collector) {
	s = strings.TrimSpace(unescaper.Replace(s))
	if e.mentionsHost(s) {
		for _, m := range e.looseRe.FindAllString(s, -1) {
			c.add(e.Normalize(m))
		}
		return
	}
	if imagePathRe.MatchString(stripQuery(s)) {
		c.add(e.Normalize(e.scheme + "://" + e.hosts[0] + s))
	}
}

func (e *Extractor) mentionsHost(s string) bool {
	lower := strings.ToLower(s)
	for _, h := range e.hosts {
		if strings.Contains(lower, h) {
			return true
		}
	}
	return false
}

// blobs decodes every embedded JSON payload found in content, keeping
// object members in document order.
func blobs(content string, doc *goquery.Document) []any {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		if v, ok := decodeFirst(trimmed); ok {
			return []any{v}
		}
	}

	var out []any
	for _, loc := range assignRe.FindAllStringIndex(content, -1) {
		if v, ok := decodeFirst(content[loc[1]-1:]); ok {
			out = append(out, v)
		}
	}

	if doc != nil {
		doc.Find(`script[type="application/json"], script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
			if v, ok := decodeFirst(s.Text()); ok {
				out = append(out, v)
			}
		})
	}
	return out
}

func (e *Extractor) markup(doc *goquery.Document, c *collector) {
	doc.Find("img, source").Each(func(_ int, s *goquery.Selection) {
		for _, attr := range imageAttrs {
			val, ok := s.Attr(attr)
			if !ok || strings.TrimSpace(val) == "" {
				continue
			}
			if strings.HasSuffix(attr, "srcset") {
				for _, part := range strings.Split(val, ",") {
					if fields := strings.Fields(part); len(fields) > 0 {
						c.add(e.normalizeRef(fields[0]))
					}
				}
				continue
			}
			c.add(e.normalizeRef(val))
		}
	})
}

func (e *Extractor) normalizeRef(ref string) string {
	ref = strings.TrimSpace(unescaper.Replace(ref))
	if strings.HasPrefix(ref, "/") && !strings.HasPrefix(ref, "//") {
		if !imagePathRe.MatchString(stripQuery(ref)) {
			return ""
		}
		ref = e.scheme + "://" + e.hosts[0] + ref
	}
	return e.Normalize(ref)
}

// Normalize turns a raw CDN reference into a query-stripped absolute URL.
// It returns "" when the reference is not an image on a configured host.
func (e *Extractor) Normalize(raw string) string {
	raw = strings.Trim(strings.TrimSpace(raw), `\"' `)
	if raw == "" {
		return ""
	}
	switch {
	case strings.HasPrefix(raw, "//"):
		raw = e.scheme + ":" + raw
	case !strings.Contains(raw, "://"):
		raw = e.scheme + "://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	u.Host = strings.ToLower(u.Host)
	if !e.isCDNHost(u.Host) {
		return ""
	}
	if !imageExtRe.MatchString(u.Path) {
		return ""
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	return u.String()
}

func (e *Extractor) isCDNHost(host string) bool {
	for _, h := range e.hosts {
		if host == h {
			return true
		}
	}
	return false
}

// IsCDN reports whether rawURL points at a configured CDN host.
func (e *Extractor) IsCDN(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return e.isCDNHost(strings.ToLower(u.Host))
}

func stripQuery(s string) string {
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		return s[:i]
	}
	return s
}

// DetailLinks returns the per-photo detail page links on a listing page,
// resolved against base, in document order.
func DetailLinks(html string, base *url.URL, albumID string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	detailRe := regexp.MustCompile(`^/(?:photos/[^/]+/\d+|albums/` + regexp.QuoteMeta(albumID) + `/(?:photos/)?\d+)`)

	c := newCollector()
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if abs.Host != base.Host || !detailRe.MatchString(abs.Path) {
			return
		}
		abs.Fragment = ""
		c.add(abs.String())
	})
	return c.out
}
