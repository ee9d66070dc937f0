// Package middleware provides HTTP middleware functions.
package middleware

import (
	"errors"
	"net/url"
	"strings"
)

// maxURLLength bounds submitted album links.
const maxURLLength = 2048

// URL validation errors
var (
	ErrEmptyURL         = errors.New("URL cannot be empty")
	ErrURLTooLong       = errors.New("URL is too long")
	ErrInvalidURL       = errors.New("invalid URL format")
	ErrDomainNotAllowed = errors.New("gallery domain not in allowlist")
	ErrUserInfoPresent  = errors.New("URLs with user credentials are not allowed")
)

// SiteValidator screens submitted album links before they reach the
// pipeline. An empty domain list accepts every host.
type SiteValidator struct {
	domains map[string]bool
}

// NewSiteValidator creates a validator for the given gallery domains.
func NewSiteValidator(domains []string) *SiteValidator {
	v := &SiteValidator{domains: make(map[string]bool)}
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			v.domains[d] = true
		}
	}
	return v
}

// Validate checks the link against the structural rules and the allowlist.
func (v *SiteValidator) Validate(rawURL string) error {
	rawURL = strings.TrimSpace(rawURL)

	if rawURL == "" {
		return ErrEmptyURL
	}
	if len(rawURL) > maxURLLength {
		return ErrURLTooLong
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return ErrInvalidURL
	}

	// Check for userinfo (e.g., user:pass@host)
	if parsedURL.User != nil {
		return ErrUserInfoPresent
	}

	host := strings.ToLower(parsedURL.Hostname())
	if host == "" {
		return ErrInvalidURL
	}
	if !v.isDomainAllowed(host) {
		return ErrDomainNotAllowed
	}
	return nil
}

// isDomainAllowed matches host or any parent domain, so an entry of
// "yupoo.com" admits "shop.x.yupoo.com".
func (v *SiteValidator) isDomainAllowed(host string) bool {
	if len(v.domains) == 0 {
		return true
	}
	for {
		if v.domains[host] {
			return true
		}
		i := strings.IndexByte(host, '.')
		if i < 0 {
			return false
		}
		host = host[i+1:]
	}
}

// Domains returns the allowlist.
func (v *SiteValidator) Domains() []string {
	domains := make([]string, 0, len(v.domains))
	for d := range v.domains {
		domains = append(domains, d)
	}
	return domains
}
