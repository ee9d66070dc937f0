// Package safeclient provides an HTTP client with SSRF protection.
package safeclient

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"syscall"
	"time"
)

// ErrForbiddenIP is returned when an IP address is in a forbidden range.
var ErrForbiddenIP = errors.New("connection to private/internal IP addresses is forbidden")

// MaxRedirects bounds redirect chains followed by the client.
const MaxRedirects = 10

var forbiddenPrefixes = mustPrefixes(
	"10.0.0.0/8",     // RFC 1918
	"172.16.0.0/12",  // RFC 1918
	"192.168.0.0/16", // RFC 1918
	"127.0.0.0/8",    // loopback
	"169.254.0.0/16", // link-local, cloud metadata
	"224.0.0.0/4",    // multicast
	"255.255.255.255/32",
	"100.64.0.0/10", // carrier-grade NAT
	"0.0.0.0/8",
	"192.0.2.0/24",    // TEST-NET-1
	"198.51.100.0/24", // TEST-NET-2
	"203.0.113.0/24",  // TEST-NET-3
	"::1/128",
	"::/128",
	"fc00::/7",
	"fe80::/10",
	"fec0::/10",
	"ff00::/8",
	"2001:db8::/32",
)

func mustPrefixes(cidrs ...string) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		out = append(out, netip.MustParsePrefix(c))
	}
	return out
}

// IsForbiddenIP reports whether connecting to ip could reach an internal network.
func IsForbiddenIP(ip net.IP) bool {
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return true
	}
	addr = addr.Unmap()
	for _, p := range forbiddenPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Options configures New.
type Options struct {
	Timeout time.Duration
	// Jar keeps session cookies between requests when set.
	Jar http.CookieJar
	// AllowPrivate disables the address check (local development and tests).
	AllowPrivate bool
}

// dialer validates the resolved address at connect time, which also covers
// DNS rebinding between lookup and connect.
func dialer(allowPrivate bool) *net.Dialer {
	d := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	if allowPrivate {
		return d
	}
	d.Control = func(network, address string, c syscall.RawConn) error {
		host, _, err := net.SplitHostPort(address)
		if err != nil {
			return fmt.Errorf("failed to parse address: %w", err)
		}
		ip := net.ParseIP(host)
		if ip == nil {
			return fmt.Errorf("invalid IP address: %s", host)
		}
		if IsForbiddenIP(ip) {
			return ErrForbiddenIP
		}
		return nil
	}
	return d
}

// New creates an HTTP client whose transport refuses private destinations.
func New(opts Options) *http.Client {
	transport := &http.Transport{
		DialContext:           dialer(opts.AllowPrivate).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
		Jar:       opts.Jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= MaxRedirects {
				return fmt.Errorf("stopped after %d redirects", MaxRedirects)
			}
			return nil
		},
	}
}
