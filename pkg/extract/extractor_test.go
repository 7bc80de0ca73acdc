package extract

import (
	"fmt"
	"io"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngo-platform/media-scraper/pkg/config"
	"github.com/ngo-platform/media-scraper/pkg/models"
	"github.com/ngo-platform/media-scraper/pkg/utils"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func newTestExtractor(exclude ...string) *Extractor {
	patterns, err := utils.CompileRegexPatterns(exclude)
	if err != nil {
		panic(err)
	}
	e := NewExtractor(patterns, testLogger())
	e.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return e
}

func urls(cands []models.ScrapedMediaCandidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.SourceURL
	}
	return out
}

func TestResolveSource(t *testing.T) {
	base := mustParse(t, "https://example.com/a/b")

	tests := []struct {
		name string
		src  string
		want string
	}{
		{"ProtocolRelative", "//cdn.x.com/i.jpg", "https://cdn.x.com/i.jpg"},
		{"RootRelative", "/img/i.jpg", "https://example.com/img/i.jpg"},
		{"PathRelative", "i.jpg", "https://example.com/a/i.jpg"},
		{"DotRelative", "../up.png", "https://example.com/up.png"},
		{"Absolute", "http://other.org/x.png?w=2", "http://other.org/x.png?w=2"},
		{"FragmentDropped", "/img/i.jpg#top", "https://example.com/img/i.jpg"},
		{"Whitespace", "  /img/i.jpg  ", "https://example.com/img/i.jpg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveSource(base, tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveSource_Rejected(t *testing.T) {
	base := mustParse(t, "https://example.com/")

	_, err := ResolveSource(base, "data:image/png;base64,AAAA")
	assert.ErrorIs(t, err, errInlineData)

	_, err = ResolveSource(base, "DATA:image/gif;base64,R0lG")
	assert.ErrorIs(t, err, errInlineData)

	for _, src := range []string{"", "javascript:alert(1)", "mailto:a@b.c", "http://%zz"} {
		_, err := ResolveSource(base, src)
		assert.ErrorIs(t, err, utils.ErrInvalidURL, "src %q", src)
	}
}

func TestSplitSrcset(t *testing.T) {
	got := splitSrcset("small.jpg 480w, medium.jpg 800w,  ,large.jpg 2x")
	assert.Equal(t, []string{"small.jpg", "medium.jpg", "large.jpg"}, got)
}

func TestExtract_CountsDistinctSources(t *testing.T) {
	base := mustParse(t, "https://ngo.example.org/gallery/")

	for n := 0; n <= 12; n += 4 {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			var b strings.Builder
			b.WriteString("<html><body>")
			for i := 0; i < n; i++ {
				fmt.Fprintf(&b, `<img src="photo-%d.jpg" alt="photo %d">`, i, i)
				// duplicates through a different spelling of the same URL
				fmt.Fprintf(&b, `<img src="/gallery/photo-%d.jpg">`, i)
			}
			b.WriteString("</body></html>")

			cands, err := newTestExtractor().Extract(b.String(), base, config.DefaultScrapeFilters())
			require.NoError(t, err)
			require.Len(t, cands, n)
			for _, c := range cands {
				parsed, err := url.Parse(c.SourceURL)
				require.NoError(t, err)
				assert.True(t, parsed.IsAbs(), c.SourceURL)
			}
		})
	}
}

func TestExtract_AllSourceAttributes(t *testing.T) {
	html := `<img src="a.jpg" data-src="b.jpg" data-lazy="c.png" srcset="d.jpg 1x, e.webp 2x" alt="Team">
<img src="data:image/png;base64,iVBORw0KGgo=" data-src="f.jpg">`
	base := mustParse(t, "https://example.com/")

	cands, err := newTestExtractor().Extract(html, base, config.DefaultScrapeFilters())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"https://example.com/a.jpg",
		"https://example.com/b.jpg",
		"https://example.com/c.png",
		"https://example.com/d.jpg",
		"https://example.com/e.webp",
		"https://example.com/f.jpg",
	}, urls(cands))

	assert.Equal(t, "Team", cands[0].AltText)
	assert.Equal(t, "a.jpg", cands[0].Name)
	assert.Equal(t, models.MediaKindImage, cands[0].Kind)
	assert.Equal(t, "img-0-1700000000000", cands[0].ID)
	assert.Equal(t, "img-5-1700000000000", cands[5].ID)
	assert.Nil(t, cands[0].Dimensions)
}

func TestExtract_AltTextToggle(t *testing.T) {
	html := `<img src="a.jpg" alt="Volunteers"><img src="b.jpg" title="Fallback title">`
	base := mustParse(t, "https://example.com/")

	filters := config.DefaultScrapeFilters()
	cands, err := newTestExtractor().Extract(html, base, filters)
	require.NoError(t, err)
	require.Len(t, cands, 2)
	assert.Equal(t, "Volunteers", cands[0].AltText)
	assert.Equal(t, "Fallback title", cands[1].AltText)

	filters.IncludeAltText = false
	cands, err = newTestExtractor().Extract(html, base, filters)
	require.NoError(t, err)
	assert.Empty(t, cands[0].AltText)
	assert.Empty(t, cands[1].AltText)
}

func TestExtract_BackgroundImages(t *testing.T) {
	html := `<div style="background-image: url('/hero.jpg'); color: red"></div>
<section style="BACKGROUND: #fff url(&quot;banner.png&quot;) no-repeat"></section>
<img src="/hero.jpg">`
	base := mustParse(t, "https://example.com/about/")

	cands, err := newTestExtractor().Extract(html, base, config.DefaultScrapeFilters())
	require.NoError(t, err)

	// <img> sources come first; the repeated hero.jpg keeps its first (img) occurrence
	require.Equal(t, []string{
		"https://example.com/hero.jpg",
		"https://example.com/about/banner.png",
	}, urls(cands))
	assert.Empty(t, cands[0].Title)
	assert.Equal(t, backgroundAlt, cands[1].AltText)
	assert.Equal(t, backgroundTitle, cands[1].Title)
}

func TestExtract_Videos(t *testing.T) {
	html := `<img src="poster.jpg">
<video src="/media/intro.mp4" title="Intro"></video>
<video><source src="clip.webm" type="video/webm"><source src="clip.mkv"></video>`
	base := mustParse(t, "https://example.com/")

	filters := config.DefaultScrapeFilters()
	cands, err := newTestExtractor().Extract(html, base, filters)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/poster.jpg"}, urls(cands))

	filters.IncludeVideos = true
	cands, err = newTestExtractor().Extract(html, base, filters)
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://example.com/poster.jpg",
		"https://example.com/media/intro.mp4",
		"https://example.com/clip.webm",
	}, urls(cands))
	assert.Equal(t, models.MediaKindVideo, cands[1].Kind)
	assert.Equal(t, "Intro", cands[1].Title)
	assert.True(t, strings.HasPrefix(cands[2].ID, "vid-2-"))
}

func TestExtract_FormatAllowList(t *testing.T) {
	html := `<img src="a.jpg"><img src="b.png"><img src="c.gif"><img src="d.JPG?x=1">
<img src="/images/noext"><img src="/"><img src="e.svg">`
	base := mustParse(t, "https://example.com/")

	count := func(formats ...string) int {
		f := config.DefaultScrapeFilters()
		f.Formats = formats
		cands, err := newTestExtractor().Extract(html, base, f)
		require.NoError(t, err)
		return len(cands)
	}

	assert.Equal(t, 0, count())
	assert.Equal(t, 2, count("jpg"))
	assert.Equal(t, 3, count("jpg", "png"))
	assert.GreaterOrEqual(t, count("jpg", "png"), count("jpg"))
	assert.Equal(t, 5, count(config.DefaultFormats...))
}

func TestExtract_ExcludePatterns(t *testing.T) {
	html := `<img src="/pixel.gif"><img src="/tracking/beacon.png"><img src="/photo.jpg">`
	base := mustParse(t, "https://example.com/")

	cands, err := newTestExtractor(`pixel\.gif$`, `/tracking/`).Extract(html, base, config.DefaultScrapeFilters())
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/photo.jpg"}, urls(cands))
}

func TestExtract_MalformedSourcesAreNotFatal(t *testing.T) {
	html := `<img src="http://%zz/bad.jpg"><img src="javascript:void(0)"><img src="ok.png">`
	base := mustParse(t, "https://example.com/")

	cands, err := newTestExtractor().Extract(html, base, config.DefaultScrapeFilters())
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/ok.png"}, urls(cands))
}

func TestExtract_EncodedName(t *testing.T) {
	base := mustParse(t, "https://example.com/")
	cands, err := newTestExtractor().Extract(`<img src="/up/field%20day.jpg?v=3">`, base, config.DefaultScrapeFilters())
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "field day.jpg", cands[0].Name)
}

func TestExtract_NameDecodedOnce(t *testing.T) {
	base := mustParse(t, "https://example.com/")
	cands, err := newTestExtractor().Extract(`<img src="/up/a%2520b.jpg"><img src="/up/%FF.png">`, base, config.DefaultScrapeFilters())
	require.NoError(t, err)
	require.Len(t, cands, 2)
	assert.Equal(t, "a%20b.jpg", cands[0].Name)
	assert.Equal(t, "_.png", cands[1].Name)
}

func TestExtract_DedupsEquivalentURLs(t *testing.T) {
	base := mustParse(t, "https://example.com/gallery")
	html := `
		<img src="https://cdn.example.com/a.jpg">
		<img src="https://CDN.example.com:443/a.jpg">
		<img src="HTTPS://cdn.EXAMPLE.com/a.jpg#hero">
		<img src="https://cdn.example.com/a.jpg?w=300">`

	cands, err := newTestExtractor().Extract(html, base, config.DefaultScrapeFilters())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://cdn.example.com/a.jpg",
		"https://cdn.example.com/a.jpg?w=300",
	}, urls(cands))
}

func TestNormalizeSource(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"LowercaseSchemeAndHost", "HTTPS://Cdn.Example.COM/Photos/A.JPG", "https://cdn.example.com/Photos/A.JPG"},
		{"DefaultHTTPPort", "http://example.com:80/a.png", "http://example.com/a.png"},
		{"DefaultHTTPSPort", "https://example.com:443/a.png", "https://example.com/a.png"},
		{"CustomPortKept", "https://example.com:8443/a.png", "https://example.com:8443/a.png"},
		{"QueryKept", "https://example.com/a.png?w=640&fm=webp", "https://example.com/a.png?w=640&fm=webp"},
		{"FragmentDropped", "https://example.com/a.png#x", "https://example.com/a.png"},
		{"EmptyPath", "https://example.com", "https://example.com/"},
		{"TrailingSlash", "https://example.com/media/", "https://example.com/media"},
		{"EscapesPreserved", "https://example.com/a%2520b.jpg", "https://example.com/a%2520b.jpg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeSource(mustParse(t, tt.input)))
		})
	}
	assert.Equal(t, "", NormalizeSource(nil))
}

func TestCap(t *testing.T) {
	cands := make([]models.ScrapedMediaCandidate, 60)

	capped, rest := Cap(cands, 50)
	assert.Len(t, capped, 50)
	assert.Equal(t, 10, rest)

	capped, rest = Cap(cands[:20], 50)
	assert.Len(t, capped, 20)
	assert.Zero(t, rest)

	capped, rest = Cap(cands, 0)
	assert.Len(t, capped, 60)
	assert.Zero(t, rest)
}

func TestBackgroundRegex(t *testing.T) {
	re := backgroundImageRe
	assert.True(t, re.MatchString(`background-image:url(x.png)`))
	assert.True(t, re.MatchString(`background: url("x.png") center`))
	assert.False(t, re.MatchString(`border-image: url(x.png)`))
}
