package worker

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	maxHeadings      = 10
	scriptShareLimit = 25
	thinPageWords    = 50
)

// Analysis is the heuristic content summary returned when analyze_content is set.
type Analysis struct {
	Title          string   `json:"title,omitempty"`
	Description    string   `json:"description,omitempty"`
	Language       string   `json:"language,omitempty"`
	WordCount      int      `json:"word_count"`
	Headings       []string `json:"headings"`
	LinkCount      int      `json:"link_count"`
	ScriptSharePct int      `json:"script_share_pct"`
	NeedsJS        bool     `json:"needs_js"`
	GeoBlocked     bool     `json:"geo_blocked"`
}

// geoBlockPhrases are matched against the lowercased visible text.
var geoBlockPhrases = []string{
	"your location not permitted",
	"not available in your region",
	"geo-blocked",
	"location not supported",
	"access denied from your location",
	"content not available in your country",
	"vpn detected",
	"proxy detected",
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
}

// Analyze parses an HTML body and summarizes it. NeedsJS flags pages that are
// probably rendered client side: known SPA mount points, or little visible text
// under a heavy script share.
func Analyze(body []byte) (Analysis, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Analysis{}, fmt.Errorf("parse html: %w", err)
	}

	a := Analysis{
		Title:       strings.TrimSpace(doc.Find("title").First().Text()),
		Description: strings.TrimSpace(doc.Find(`meta[name="description"]`).AttrOr("content", "")),
		Language:    strings.TrimSpace(doc.Find("html").AttrOr("lang", "")),
		Headings:    []string{},
		LinkCount:   doc.Find("a[href]").Length(),
	}

	doc.Find("h1, h2").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if text := strings.Join(strings.Fields(s.Text()), " "); text != "" {
			a.Headings = append(a.Headings, text)
		}
		return len(a.Headings) < maxHeadings
	})

	visible := doc.Find("body").Clone()
	visible.Find("script, style, noscript, template").Remove()
	text := visible.Text()
	a.WordCount = len(strings.Fields(text))
	a.GeoBlocked = isGeoBlocked(text)

	a.ScriptSharePct = scriptShare(body)
	a.NeedsJS = hasSPAMarker(body) ||
		(a.WordCount < thinPageWords && a.ScriptSharePct >= scriptShareLimit)
	return a, nil
}

// isGeoBlocked reports whether the page text reads like a regional or proxy
// block notice rather than real content.
func isGeoBlocked(text string) bool {
	lower := strings.ToLower(strings.Join(strings.Fields(text), " "))
	for _, phrase := range geoBlockPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func hasSPAMarker(body []byte) bool {
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

// scriptShare returns the percentage of the document covered by <script>
// elements. Unterminated tags count to the end of the document.
func scriptShare(body []byte) int {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return 0
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	covered := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel
		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			covered += total - start
			break
		}
		contentStart := start + tagClose + 1
		end := strings.Index(lower[contentStart:], closeTag)
		next := total
		if end != -1 {
			next = contentStart + end + len(closeTag)
		}
		covered += next - start
		pos = next
	}
	return covered * 100 / total
}
