package crawler

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrUnsupportedURL is returned for URLs the crawl cannot address.
var ErrUnsupportedURL = errors.New("unsupported url")

// NormalizeURL standardizes a URL so that equivalent spellings share one identity.
// It lowercases the scheme and host, removes default ports and the fragment,
// and maps an empty path to "/". Query parameters are sorted when keepQuery is
// set and dropped otherwise. Only absolute http and https URLs are accepted.
func NormalizeURL(rawURL string, keepQuery bool) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: scheme %q", ErrUnsupportedURL, u.Scheme)
	}
	u.Host = strings.ToLower(u.Host)
	if u.Hostname() == "" {
		return "", fmt.Errorf("%w: missing host", ErrUnsupportedURL)
	}

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil
	if u.Path == "" {
		u.Path = "/"
	}

	if keepQuery && u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	} else {
		u.RawQuery = ""
	}
	u.ForceQuery = false

	return u.String(), nil
}
