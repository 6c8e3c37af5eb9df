package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in        string
		keepQuery bool
		want      string
	}{
		{"HTTP://Example.COM:80/a#frag", true, "http://example.com/a"},
		{"https://example.com:443", true, "https://example.com/"},
		{"https://example.com/p?b=2&a=1", true, "https://example.com/p?a=1&b=2"},
		{"https://example.com/p?b=2&a=1", false, "https://example.com/p"},
		{"https://example.com:8443/x", true, "https://example.com:8443/x"},
		{"  https://example.com/trim  ", true, "https://example.com/trim"},
	}
	for _, tc := range cases {
		got, err := NormalizeURL(tc.in, tc.keepQuery)
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got, tc.in)
	}
}

func TestNormalizeURLRejectsUnsupported(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"mailto:a@example.com", "ftp://example.com/f", "/relative/path", "https://", "javascript:void(0)"} {
		_, err := NormalizeURL(raw, true)
		require.Error(t, err, raw)
	}
}

func TestLinkFilter(t *testing.T) {
	t.Parallel()

	t.Run("drops blocked extensions and duplicates", func(t *testing.T) {
		f := NewLinkFilter(LinkFilterOptions{KeepQuery: true})
		got := f.Filter("https://example.com/", []string{
			"https://example.com/a",
			"https://example.com/a#top",
			"https://example.com/report.PDF",
			"https://example.com/archive.zip",
			"mailto:someone@example.com",
			"https://other.org/b",
		})
		require.Equal(t, []string{"https://example.com/a", "https://other.org/b"}, got)
	})

	t.Run("same site uses registrable domain", func(t *testing.T) {
		f := NewLinkFilter(LinkFilterOptions{SameSiteOnly: true})
		got := f.Filter("https://www.example.co.uk/", []string{
			"https://blog.example.co.uk/post",
			"https://another.co.uk/",
		})
		require.Equal(t, []string{"https://blog.example.co.uk/post"}, got)
	})

	t.Run("allowed domains", func(t *testing.T) {
		f := NewLinkFilter(LinkFilterOptions{AllowedDomains: []string{"example.org", "*.gov"}})
		got := f.Filter("", []string{
			"https://example.org/",
			"https://sub.example.org/",
			"https://www.bls.gov/cpi",
			"https://example.com/",
		})
		require.Equal(t, []string{"https://example.org/", "https://www.bls.gov/cpi"}, got)
	})

	t.Run("custom extension list", func(t *testing.T) {
		f := NewLinkFilter(LinkFilterOptions{BlockedExtensions: []string{"jpg"}})
		got := f.Filter("", []string{"https://example.com/a.jpg", "https://example.com/a.pdf"})
		require.Equal(t, []string{"https://example.com/a.pdf"}, got)
	})
}

func TestDomainPatterns(t *testing.T) {
	t.Parallel()

	var empty *domainPatterns
	require.False(t, empty.Matches("anything"))
	require.Nil(t, newDomainPatterns([]string{" ", ""}))

	d := newDomainPatterns([]string{"*.ru", ".example.net", "exact.io"})
	require.True(t, d.Matches("ru"))
	require.True(t, d.Matches("sub.domain.ru"))
	require.True(t, d.Matches("a.example.net"))
	require.True(t, d.Matches("EXACT.io"))
	require.False(t, d.Matches("sub.exact.io"))
	require.False(t, d.Matches("example.com"))
}
