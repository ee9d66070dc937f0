package domain

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	albumPathRe  = regexp.MustCompile(`/albums/(\d+)`)
	bundleNameRe = regexp.MustCompile(`[^\w\s\-]`)
)

// AlbumReference identifies one album on one gallery site.
type AlbumReference struct {
	SiteHost string
	AlbumID  string
	// Input is the string the reference was parsed from.
	Input string
}

// ParseAlbumReference extracts the site host and numeric album id from a link.
func ParseAlbumReference(input string) (AlbumReference, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return AlbumReference{}, &InvalidReferenceError{Input: input, Reason: "empty input"}
	}

	u, err := url.Parse(raw)
	if err != nil {
		return AlbumReference{}, &InvalidReferenceError{Input: input, Reason: "not a URL"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return AlbumReference{}, &InvalidReferenceError{Input: input, Reason: "scheme must be http or https"}
	}
	if u.Hostname() == "" {
		return AlbumReference{}, &InvalidReferenceError{Input: input, Reason: "missing host"}
	}

	m := albumPathRe.FindStringSubmatch(u.Path)
	if m == nil {
		return AlbumReference{}, &InvalidReferenceError{Input: input, Reason: "no numeric album segment"}
	}

	return AlbumReference{SiteHost: strings.ToLower(u.Host), AlbumID: m[1], Input: raw}, nil
}

// DefaultBundleName is the archive name used when the caller supplies none.
func (a AlbumReference) DefaultBundleName() string {
	return "album_" + a.AlbumID + ".zip"
}

// SanitizeBundleName strips characters that are unsafe in a file name and
// appends the .zip extension. An empty result falls back to the album default.
func SanitizeBundleName(name string, album AlbumReference) string {
	name = strings.TrimSuffix(strings.TrimSpace(name), ".zip")
	clean := strings.TrimSpace(bundleNameRe.ReplaceAllString(name, ""))
	clean = strings.ReplaceAll(clean, " ", "_")
	if clean == "" {
		return album.DefaultBundleName()
	}
	return clean + ".zip"
}
