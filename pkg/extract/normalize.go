package extract

import (
	"net"
	"net/url"
	"strings"
)

// NormalizeSource returns the canonical form of a media URL, used both as the
// candidate URL and as its dedup key. Scheme and host are lowercased, default
// ports dropped, an empty path becomes "/" and a trailing slash is trimmed.
// Unlike page URLs the query string is kept, since CDNs select renditions by it.
// u is not modified.
func NormalizeSource(u *url.URL) string {
	if u == nil {
		return ""
	}
	n := *u
	n.Scheme = strings.ToLower(n.Scheme)
	n.Host = strings.ToLower(n.Host)

	if host, port, err := net.SplitHostPort(n.Host); err == nil {
		if (n.Scheme == "http" && port == "80") || (n.Scheme == "https" && port == "443") {
			n.Host = host
		}
	}

	switch {
	case n.Path == "":
		n.Path = "/"
		n.RawPath = ""
	case len(n.Path) > 1 && strings.HasSuffix(n.Path, "/"):
		n.Path = strings.TrimSuffix(n.Path, "/")
		n.RawPath = strings.TrimSuffix(n.RawPath, "/")
	}

	n.Fragment = ""
	n.RawFragment = ""
	return n.String()
}
