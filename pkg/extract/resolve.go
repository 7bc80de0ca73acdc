package extract

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/ngo-platform/media-scraper/pkg/utils"
)

// errInlineData marks data: sources, which are skipped rather than resolved
var errInlineData = errors.New("inline data URI")

// ResolveSource turns a raw src/srcset/url() value into an absolute http(s) URL.
//
//	//cdn.x.com/i.jpg -> inherits the page scheme
//	/img/i.jpg       -> inherits scheme and host
//	i.jpg            -> resolved against the page path
//
// The result is normalized with NormalizeSource, so equivalent spellings of one
// URL resolve to the same string.
func ResolveSource(base *url.URL, src string) (string, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return "", fmt.Errorf("%w: empty source", utils.ErrInvalidURL)
	}
	if len(src) >= 5 && strings.EqualFold(src[:5], "data:") {
		return "", errInlineData
	}

	var resolved *url.URL
	var err error
	switch {
	case strings.HasPrefix(src, "//"):
		resolved, err = url.Parse(base.Scheme + ":" + src)
	case strings.HasPrefix(src, "/"):
		resolved, err = url.Parse(base.Scheme + "://" + base.Host + src)
	default:
		var ref *url.URL
		ref, err = url.Parse(src)
		if err == nil {
			resolved = base.ResolveReference(ref)
		}
	}
	if err != nil {
		return "", fmt.Errorf("%w: %q: %w", utils.ErrInvalidURL, src, err)
	}
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme in %q", utils.ErrInvalidURL, src)
	}
	if resolved.Host == "" {
		return "", fmt.Errorf("%w: no host in %q", utils.ErrInvalidURL, src)
	}
	return NormalizeSource(resolved), nil
}

// splitSrcset returns the URL part of every srcset candidate ("a.jpg 1x, b.jpg 480w").
func splitSrcset(srcset string) []string {
	var out []string
	for _, segment := range strings.Split(srcset, ",") {
		fields := strings.Fields(segment)
		if len(fields) == 0 {
			continue
		}
		out = append(out, fields[0])
	}
	return out
}
