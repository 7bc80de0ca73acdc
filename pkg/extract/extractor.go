package extract

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/ngo-platform/media-scraper/pkg/config"
	"github.com/ngo-platform/media-scraper/pkg/models"
	"github.com/ngo-platform/media-scraper/pkg/utils"
)

// backgroundImageRe matches url(...) inside background / background-image declarations
var backgroundImageRe = regexp.MustCompile(`(?i)background(?:-image)?\s*:[^;]*?url\(\s*['"]?([^'")\s]+)['"]?\s*\)`)

// imageSourceAttrs are read in priority order; every non-empty one is kept
var imageSourceAttrs = []string{"src", "data-src", "data-lazy", "data-lazy-src", "data-original"}

// VideoFormats are accepted for video candidates in addition to the configured allow-list
var VideoFormats = []string{"mp4", "webm", "ogg", "ogv", "mov", "m4v"}

const (
	backgroundAlt   = "Background image"
	backgroundTitle = "CSS background image"
)

// Extractor discovers media candidates in an HTML document
type Extractor struct {
	exclude []*regexp.Regexp
	now     func() time.Time
	log     *logrus.Entry
}

// NewExtractor creates an Extractor. Sources matching any exclude pattern are skipped.
func NewExtractor(exclude []*regexp.Regexp, log *logrus.Entry) *Extractor {
	return &Extractor{exclude: exclude, now: time.Now, log: log}
}

// rawSource is a discovered reference before resolution
type rawSource struct {
	src   string
	kind  models.MediaKind
	alt   string
	title string
}

// Extract returns the deduplicated, order-stable candidates found in html.
// Order: <img> sources, inline background images, then videos (when enabled).
func (e *Extractor) Extract(html string, base *url.URL, filters config.ScrapeFilters) ([]models.ScrapedMediaCandidate, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("%w: HTML document: %w", utils.ErrParsing, err)
	}

	sources := collectImages(doc, filters.IncludeAltText)
	sources = append(sources, collectBackgrounds(doc)...)
	if filters.IncludeVideos {
		sources = append(sources, collectVideos(doc)...)
	}

	ts := e.now().UnixMilli()
	seen := make(map[string]struct{}, len(sources))
	candidates := make([]models.ScrapedMediaCandidate, 0, len(sources))
	skipped := 0

	for _, s := range sources {
		abs, err := ResolveSource(base, s.src)
		if err != nil {
			if !errors.Is(err, errInlineData) {
				e.log.WithField("src", s.src).Debugf("Dropping unresolvable source: %v", err)
			}
			skipped++
			continue
		}
		if _, dup := seen[abs]; dup {
			continue
		}
		seen[abs] = struct{}{}

		if utils.MatchesAny(e.exclude, abs) {
			skipped++
			continue
		}

		name, ext := nameAndExt(abs)
		if !allowed(filters, s.kind, ext) {
			skipped++
			continue
		}

		prefix := "img"
		if s.kind == models.MediaKindVideo {
			prefix = "vid"
		}
		candidates = append(candidates, models.ScrapedMediaCandidate{
			ID:        fmt.Sprintf("%s-%d-%d", prefix, len(candidates), ts),
			SourceURL: abs,
			Name:      name,
			Kind:      s.kind,
			AltText:   s.alt,
			Title:     s.title,
		})
	}

	e.log.WithFields(logrus.Fields{
		"found":   len(candidates),
		"skipped": skipped,
		"base":    base.String(),
	}).Debug("Extracted media candidates")
	return candidates, nil
}

func collectImages(doc *goquery.Document, includeAlt bool) []rawSource {
	var out []rawSource
	doc.Find("img").Each(func(_ int, img *goquery.Selection) {
		alt := ""
		if includeAlt {
			alt = strings.TrimSpace(img.AttrOr("alt", ""))
			if alt == "" {
				alt = strings.TrimSpace(img.AttrOr("title", ""))
			}
		}
		title := strings.TrimSpace(img.AttrOr("title", ""))

		for _, attr := range imageSourceAttrs {
			if v, ok := img.Attr(attr); ok && strings.TrimSpace(v) != "" {
				out = append(out, rawSource{src: v, kind: models.MediaKindImage, alt: alt, title: title})
			}
		}
		for _, attr := range []string{"srcset", "data-srcset"} {
			if v, ok := img.Attr(attr); ok {
				for _, src := range splitSrcset(v) {
					out = append(out, rawSource{src: src, kind: models.MediaKindImage, alt: alt, title: title})
				}
			}
		}
	})
	return out
}

func collectBackgrounds(doc *goquery.Document) []rawSource {
	var out []rawSource
	doc.Find("[style]").Each(func(_ int, el *goquery.Selection) {
		style := el.AttrOr("style", "")
		for _, m := range backgroundImageRe.FindAllStringSubmatch(style, -1) {
			out = append(out, rawSource{src: m[1], kind: models.MediaKindImage, alt: backgroundAlt, title: backgroundTitle})
		}
	})
	return out
}

func collectVideos(doc *goquery.Document) []rawSource {
	var out []rawSource
	doc.Find("video, video source").Each(func(_ int, el *goquery.Selection) {
		if v, ok := el.Attr("src"); ok && strings.TrimSpace(v) != "" {
			title := el.AttrOr("title", "")
			if title == "" && goquery.NodeName(el) == "source" {
				title = el.Closest("video").AttrOr("title", "")
			}
			out = append(out, rawSource{src: v, kind: models.MediaKindVideo, title: strings.TrimSpace(title)})
		}
	})
	return out
}

// nameAndExt derives a display name (last path segment, no query) and its extension
func nameAndExt(abs string) (string, string) {
	u, err := url.Parse(abs)
	if err != nil {
		return "", ""
	}
	// u.Path is already decoded once
	name := strings.ToValidUTF8(path.Base(u.Path), "_")
	if name == "/" || name == "." || name == "" {
		return "", ""
	}
	_, ext := utils.SplitExt(name)
	return name, ext
}

func allowed(filters config.ScrapeFilters, kind models.MediaKind, ext string) bool {
	if filters.AllowsFormat(ext) {
		return true
	}
	if kind == models.MediaKindVideo {
		for _, v := range VideoFormats {
			if v == ext {
				return true
			}
		}
	}
	return false
}

// Cap splits candidates into the first max (to be validated) and the remainder count.
func Cap(candidates []models.ScrapedMediaCandidate, max int) ([]models.ScrapedMediaCandidate, int) {
	if max <= 0 || len(candidates) <= max {
		return candidates, 0
	}
	return candidates[:max], len(candidates) - max
}
