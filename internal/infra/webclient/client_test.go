package webclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.Handler) (*Client, string) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := New(Options{Scheme: "http", UserAgent: "test-agent", FetchTimeout: 2 * time.Second, AllowPrivate: true})
	require.NoError(t, err)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	return c, u.Host
}

func TestWarmupKeepsCookies(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc", Path: "/"})
		w.Write([]byte("home"))
	})
	mux.HandleFunc("/albums/1", func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie("session")
		if err != nil || cookie.Value != "abc" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		w.Write([]byte("<html>album</html>"))
	})

	c, host := newTestClient(t, mux)
	ctx := context.Background()

	require.NoError(t, c.Warmup(ctx, host))
	body, err := c.FetchPage(ctx, c.SiteURL(host, "/albums/1"), "")
	require.NoError(t, err)
	assert.Equal(t, "<html>album</html>", body)
}

func TestFetchJSONSendsXHRHeaders(t *testing.T) {
	c, host := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "XMLHttpRequest", r.Header.Get("X-Requested-With"))
		assert.Equal(t, "http://ref/", r.Header.Get("Referer"))
		w.Write([]byte(`{"ok":true}`))
	}))

	body, err := c.FetchJSON(context.Background(), c.SiteURL(host, "api"), "http://ref/")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
}

func TestStatusErrors(t *testing.T) {
	c, host := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/429"):
			w.WriteHeader(http.StatusTooManyRequests)
		case strings.HasSuffix(r.URL.Path, "/404"):
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	ctx := context.Background()

	_, err := c.FetchImage(ctx, c.SiteURL(host, "/429"), "", time.Second, 1<<20)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusTooManyRequests, se.Code)
	assert.True(t, IsThrottled(err))

	_, err = c.FetchPage(ctx, c.SiteURL(host, "/404"), "")
	require.Error(t, err)
	assert.False(t, IsThrottled(err))
}

func TestContentLength(t *testing.T) {
	c, host := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.Header().Set("Content-Length", "2048")
	}))

	n, err := c.ContentLength(context.Background(), c.SiteURL(host, "/a.jpg"), "", time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(2048), n)
}

func TestFetchImageRejectsOversizedBodies(t *testing.T) {
	c, host := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte(strings.Repeat("x", 100)))
	}))

	img, err := c.FetchImage(context.Background(), c.SiteURL(host, "/a.jpg"), "", time.Second, 100)
	require.NoError(t, err)
	assert.Len(t, img.Body, 100)
	assert.Equal(t, "image/jpeg", img.ContentType)

	_, err = c.FetchImage(context.Background(), c.SiteURL(host, "/a.jpg"), "", time.Second, 99)
	assert.True(t, errors.Is(err, ErrTooLarge))
	assert.False(t, IsThrottled(err))
}
