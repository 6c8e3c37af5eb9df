package worker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAnalyzeSummarizesDocument(t *testing.T) {
	t.Parallel()

	body := `<html lang="fr"><head>
<title> Indice des prix </title>
<meta name="description" content="Prix mensuels">
<style>p { color: red }</style>
</head><body>
<h1>Titre</h1><h2>Sous   titre</h2><h3>ignored</h3>
<p>un deux trois</p>
<script>var hidden = "not words";</script>
<a href="/x">quatre</a></body></html>`

	a, err := Analyze([]byte(body))
	require.NoError(t, err)
	require.Equal(t, "Indice des prix", a.Title)
	require.Equal(t, "Prix mensuels", a.Description)
	require.Equal(t, "fr", a.Language)
	require.Equal(t, []string{"Titre", "Sous titre"}, a.Headings)
	require.Equal(t, 1, a.LinkCount)
	require.Equal(t, 8, a.WordCount)
	require.False(t, a.NeedsJS)
}

func TestAnalyzeFlagsClientRenderedPages(t *testing.T) {
	t.Parallel()

	spa := `<html><body><div id="root"></div></body></html>`
	a, err := Analyze([]byte(spa))
	require.NoError(t, err)
	require.True(t, a.NeedsJS)

	scripted := `<html><body><p>Loading</p><script>` + strings.Repeat("x", 400) + `</script></body></html>`
	a, err = Analyze([]byte(scripted))
	require.NoError(t, err)
	require.GreaterOrEqual(t, a.ScriptSharePct, scriptShareLimit)
	require.True(t, a.NeedsJS)
}

func TestAnalyzeFlagsGeoBlockNotices(t *testing.T) {
	t.Parallel()

	blocked := `<html><body><h1>Sorry</h1><p>This content is NOT available
in your   region.</p></body></html>`
	a, err := Analyze([]byte(blocked))
	require.NoError(t, err)
	require.True(t, a.GeoBlocked)

	hidden := `<html><body><p>Prices for March</p><script>var msg = "vpn detected";</script></body></html>`
	a, err = Analyze([]byte(hidden))
	require.NoError(t, err)
	require.False(t, a.GeoBlocked)
}

func TestAnalyzeCapsHeadings(t *testing.T) {
	t.Parallel()

	body := "<html><body>" + strings.Repeat("<h2>section</h2>", 20) + "</body></html>"
	a, err := Analyze([]byte(body))
	require.NoError(t, err)
	require.Len(t, a.Headings, maxHeadings)
}

func TestScriptShare(t *testing.T) {
	t.Parallel()

	require.Zero(t, scriptShare(nil))
	require.Zero(t, scriptShare([]byte("<p>plain</p>")))
	require.Equal(t, 100, scriptShare([]byte("<script>x</script>")))
	require.Equal(t, 50, scriptShare([]byte(strings.Repeat("a", 18)+"<SCRIPT>x</script>")))
}
