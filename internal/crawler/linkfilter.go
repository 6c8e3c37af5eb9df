package crawler

import (
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// DefaultBlockedExtensions lists file types that are never enqueued.
var DefaultBlockedExtensions = []string{
	".pdf", ".doc", ".docx", ".xls", ".xlsx", ".zip", ".rar", ".exe", ".dmg", ".pkg",
}

// LinkFilterOptions configure which discovered links are worth crawling.
type LinkFilterOptions struct {
	KeepQuery         bool
	SameSiteOnly      bool
	AllowedDomains    []string
	BlockedExtensions []string
}

// LinkFilter normalizes worker-extracted links and drops the ones that should
// not reach the frontier.
type LinkFilter struct {
	keepQuery    bool
	sameSiteOnly bool
	allowed      *domainPatterns
	blockedExt   map[string]struct{}
}

// NewLinkFilter builds a filter from options.
func NewLinkFilter(opts LinkFilterOptions) *LinkFilter {
	exts := opts.BlockedExtensions
	if exts == nil {
		exts = DefaultBlockedExtensions
	}
	blocked := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		blocked[ext] = struct{}{}
	}
	return &LinkFilter{
		keepQuery:    opts.KeepQuery,
		sameSiteOnly: opts.SameSiteOnly,
		allowed:      newDomainPatterns(opts.AllowedDomains),
		blockedExt:   blocked,
	}
}

// Normalize applies the filter's query policy to a single URL.
func (f *LinkFilter) Normalize(raw string) (string, error) {
	return NormalizeURL(raw, f.keepQuery)
}

// Filter normalizes links, drops unsupported or blocked ones and removes
// duplicates while keeping first-seen order. parent may be empty.
func (f *LinkFilter) Filter(parent string, links []string) []string {
	parentSite := ""
	if f.sameSiteOnly && parent != "" {
		if pu, err := url.Parse(parent); err == nil {
			parentSite = siteOf(pu.Hostname())
		}
	}
	seen := make(map[string]struct{}, len(links))
	out := make([]string, 0, len(links))
	for _, raw := range links {
		normalized, err := f.Normalize(raw)
		if err != nil {
			continue
		}
		if _, dup := seen[normalized]; dup {
			continue
		}
		u, err := url.Parse(normalized)
		if err != nil {
			continue
		}
		if f.blockedExtension(u.Path) {
			continue
		}
		host := u.Hostname()
		if f.allowed != nil && !f.allowed.Matches(host) {
			continue
		}
		if parentSite != "" && siteOf(host) != parentSite {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	return out
}

func (f *LinkFilter) blockedExtension(p string) bool {
	ext := strings.ToLower(path.Ext(p))
	if ext == "" {
		return false
	}
	_, blocked := f.blockedExt[ext]
	return blocked
}

func siteOf(host string) string {
	site, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(site)
}

// domainPatterns stores exact hosts and suffix wildcards derived from configuration.
type domainPatterns struct {
	exact    map[string]struct{}
	suffixes []string
}

func newDomainPatterns(patterns []string) *domainPatterns {
	matcher := &domainPatterns{
		exact: make(map[string]struct{}),
	}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		switch {
		case value == "":
			continue
		case strings.HasPrefix(value, "*."):
			matcher.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			matcher.addSuffix(strings.TrimPrefix(value, "."))
		default:
			matcher.exact[value] = struct{}{}
		}
	}
	if len(matcher.exact) == 0 && len(matcher.suffixes) == 0 {
		return nil
	}
	return matcher
}

func (d *domainPatterns) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range d.suffixes {
		if existing == suffix {
			return
		}
	}
	d.suffixes = append(d.suffixes, suffix)
}

// Matches reports whether host is covered by an exact entry or a suffix wildcard.
func (d *domainPatterns) Matches(host string) bool {
	if d == nil {
		return false
	}
	host = strings.TrimSpace(strings.ToLower(host))
	if host == "" {
		return false
	}
	if _, ok := d.exact[host]; ok {
		return true
	}
	for _, suffix := range d.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}
