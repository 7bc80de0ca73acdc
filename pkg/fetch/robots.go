package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"
)

// RobotsChecker fetches, parses and caches robots.txt per host
type RobotsChecker struct {
	fetcher *Fetcher
	cache   map[string]*robotstxt.RobotsData // host -> parsed data (nil = none or unparsable, allow all)
	mu      sync.Mutex
	log     *logrus.Entry
}

// NewRobotsChecker creates a RobotsChecker that fetches through f
func NewRobotsChecker(f *Fetcher, log *logrus.Entry) *RobotsChecker {
	return &RobotsChecker{
		fetcher: f,
		cache:   make(map[string]*robotstxt.RobotsData),
		log:     log.WithField("component", "robots"),
	}
}

// Allowed reports whether userAgent may fetch target.
// Hosts whose robots.txt cannot be fetched or parsed are treated as allowing everything.
func (rc *RobotsChecker) Allowed(ctx context.Context, target *url.URL, userAgent string) bool {
	data := rc.dataFor(ctx, target)
	if data == nil {
		return true
	}
	return data.TestAgent(target.RequestURI(), userAgent)
}

func (rc *RobotsChecker) dataFor(ctx context.Context, target *url.URL) *robotstxt.RobotsData {
	host := target.Host

	rc.mu.Lock()
	data, found := rc.cache[host]
	rc.mu.Unlock()
	if found {
		return data
	}

	scheme := target.Scheme
	if scheme != "http" && scheme != "https" {
		scheme = "https"
	}
	robotsURL := (&url.URL{Scheme: scheme, Host: host, Path: "/robots.txt"}).String()
	robotsLog := rc.log.WithField("robots_url", robotsURL)

	data, definite := rc.fetch(ctx, robotsURL, robotsLog)
	if definite {
		rc.mu.Lock()
		rc.cache[host] = data
		rc.mu.Unlock()
	}
	return data
}

// fetch retrieves robots.txt. definite is false for transient failures
// (network errors, 5xx, 429, cancellation) so the next lookup tries again.
func (rc *RobotsChecker) fetch(ctx context.Context, robotsURL string, robotsLog *logrus.Entry) (data *robotstxt.RobotsData, definite bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		robotsLog.Errorf("Failed to create robots.txt request: %v", err)
		return nil, true
	}
	rc.fetcher.setBrowserHeaders(req, "text/plain,*/*;q=0.8")

	resp, err := rc.fetcher.FetchWithRetry(ctx, req)
	if err != nil {
		if resp != nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		var se *StatusError
		if errors.As(err, &se) && se.Code >= 400 && se.Code < 500 && se.Code != http.StatusTooManyRequests {
			robotsLog.Debugf("No robots.txt (%d), allowing all", se.Code)
			return nil, true
		}
		robotsLog.Debugf("robots.txt temporarily unavailable: %v", err)
		return nil, false
	}
	defer resp.Body.Close()

	body, err := readLimited(resp.Body, 512<<10)
	if err != nil {
		robotsLog.Warnf("Failed to read robots.txt: %v", err)
		return nil, false
	}
	data, err = robotstxt.FromBytes(body)
	if err != nil {
		robotsLog.Warnf("Failed to parse robots.txt: %v", err)
		return nil, true
	}
	robotsLog.Debug("Parsed robots.txt")
	return data, true
}
