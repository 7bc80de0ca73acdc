package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/html/charset"

	"github.com/ngo-platform/media-scraper/pkg/config"
	"github.com/ngo-platform/media-scraper/pkg/utils"
)

// Page is a fetched HTML document decoded to UTF-8
type Page struct {
	URL         *url.URL // Final URL after redirects
	Body        string
	ContentType string
	StatusCode  int
}

// HeadResult is the outcome of a lightweight existence/size probe
type HeadResult struct {
	StatusCode    int
	ContentLength int64 // 0 when the header is absent
	ContentType   string
}

// Payload is a downloaded media body
type Payload struct {
	Data        []byte
	ContentType string
	FinalURL    string
}

// Fetcher handles HTTP requests with browser-like headers and retry logic, using an underlying http.Client
type Fetcher struct {
	client *http.Client
	cfg    *config.AppConfig
	robots *RobotsChecker // nil unless respect_robots is enabled
	log    *logrus.Entry
}

// NewFetcher creates a new Fetcher instance
func NewFetcher(client *http.Client, cfg *config.AppConfig, log *logrus.Entry) *Fetcher {
	f := &Fetcher{
		client: client,
		cfg:    cfg,
		log:    log,
	}
	if cfg.RespectRobots {
		f.robots = NewRobotsChecker(f, log)
	}
	return f
}

// setBrowserHeaders makes requests look like a desktop browser.
// Accept-Encoding is left to the transport so responses are decompressed transparently.
func (f *Fetcher) setBrowserHeaders(req *http.Request, accept string) {
	ua := f.cfg.UserAgent
	if ua == "" {
		ua = config.DefaultUserAgent
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("DNT", "1")
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
}

// ParsePageURL validates a user-supplied page URL
func ParsePageURL(rawURL string) (*url.URL, error) {
	u, err := url.ParseRequestURI(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme '%s'", utils.ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", utils.ErrInvalidURL)
	}
	return u, nil
}

// FetchPage retrieves a page's HTML. Any 2xx/3xx response counts as success.
// Failures are returned as *FetchError.
func (f *Fetcher) FetchPage(ctx context.Context, rawURL string) (*Page, error) {
	pageURL, err := ParsePageURL(rawURL)
	if err != nil {
		return nil, ClassifyError(rawURL, 0, err)
	}
	pageLog := f.log.WithField("url", pageURL.String())

	if f.robots != nil && !f.robots.Allowed(ctx, pageURL, f.cfg.UserAgent) {
		pageLog.Warn("Page disallowed by robots.txt")
		return nil, ClassifyError(rawURL, 0, utils.ErrRobotsDisallowed)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL.String(), nil)
	if err != nil {
		return nil, ClassifyError(rawURL, 0, fmt.Errorf("%w: %w", utils.ErrRequestCreation, err))
	}
	f.setBrowserHeaders(req, "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := f.FetchWithRetry(ctx, req)
	if err != nil {
		statusCode := 0
		if resp != nil {
			statusCode = resp.StatusCode
			// 3xx without a followable Location still carries a page for our purposes
			if statusCode >= 300 && statusCode < 400 {
				err = nil
			} else {
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
			}
		}
		if err != nil {
			pageLog.Warnf("Failed to fetch page: %v", err)
			return nil, ClassifyError(rawURL, statusCode, err)
		}
	}
	defer resp.Body.Close()

	maxBytes := f.cfg.Scrape.MaxPageBytes
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	contentType := resp.Header.Get("Content-Type")
	decoded, err := charset.NewReader(resp.Body, contentType)
	if err != nil {
		// Unknown charset label; fall back to the raw bytes
		pageLog.Debugf("Charset detection failed, reading raw body: %v", err)
		decoded = resp.Body
	}
	body, err := readLimited(decoded, maxBytes)
	if err != nil {
		return nil, ClassifyError(rawURL, resp.StatusCode, err)
	}

	finalURL := pageURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL
	}
	pageLog.WithFields(logrus.Fields{"status_code": resp.StatusCode, "bytes": len(body)}).Debug("Fetched page")

	return &Page{
		URL:         finalURL,
		Body:        string(body),
		ContentType: contentType,
		StatusCode:  resp.StatusCode,
	}, nil
}

// Head issues a single HEAD request (no retries) to estimate a resource's size.
// Non-2xx responses are returned as errors wrapping *StatusError.
func (f *Fetcher) Head(ctx context.Context, rawURL string) (*HeadResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrRequestCreation, err)
	}
	f.setBrowserHeaders(req, "image/avif,image/webp,image/*,video/*,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusErr(resp)
	}

	result := &HeadResult{StatusCode: resp.StatusCode, ContentType: resp.Header.Get("Content-Type")}
	if resp.ContentLength > 0 {
		result.ContentLength = resp.ContentLength
	} else if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, perr := strconv.ParseInt(cl, 10, 64); perr == nil && n > 0 {
			result.ContentLength = n
		}
	}
	return result, nil
}

// Download fetches a media body with the page fetch policy (browser headers, retries, redirect cap).
// Bodies larger than maxBytes fail with utils.ErrBodyTooLarge.
func (f *Fetcher) Download(ctx context.Context, rawURL string, maxBytes int64) (*Payload, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, ClassifyError(rawURL, 0, fmt.Errorf("%w: '%s'", utils.ErrInvalidURL, rawURL))
	}
	if f.robots != nil && !f.robots.Allowed(ctx, u, f.cfg.UserAgent) {
		return nil, ClassifyError(rawURL, 0, utils.ErrRobotsDisallowed)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrRequestCreation, err)
	}
	f.setBrowserHeaders(req, "image/avif,image/webp,image/apng,image/*,video/*,*/*;q=0.8")

	resp, err := f.FetchWithRetry(ctx, req)
	if err != nil {
		statusCode := 0
		if resp != nil {
			statusCode = resp.StatusCode
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		return nil, ClassifyError(rawURL, statusCode, err)
	}
	defer resp.Body.Close()

	if maxBytes > 0 && resp.ContentLength > maxBytes {
		return nil, ClassifyError(rawURL, resp.StatusCode,
			fmt.Errorf("%w: content-length %d > %d", utils.ErrBodyTooLarge, resp.ContentLength, maxBytes))
	}
	data, err := readLimited(resp.Body, maxBytes)
	if err != nil {
		return nil, ClassifyError(rawURL, resp.StatusCode, err)
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return &Payload{Data: data, ContentType: resp.Header.Get("Content-Type"), FinalURL: finalURL}, nil
}

// readLimited reads at most maxBytes; one byte more is an error. maxBytes <= 0 means unlimited.
func readLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", utils.ErrResponseBodyRead, err)
		}
		return data, nil
	}
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrResponseBodyRead, err)
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", utils.ErrBodyTooLarge, maxBytes)
	}
	return data, nil
}

func statusErr(resp *http.Response) error {
	se := &StatusError{Code: resp.StatusCode, Status: http.StatusText(resp.StatusCode)}
	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %w", utils.ErrServerHTTPError, se)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: %w", utils.ErrClientHTTPError, se)
	default:
		return fmt.Errorf("%w: %w", utils.ErrOtherHTTPError, se)
	}
}

// FetchWithRetry performs an HTTP request associated with the provided context.
// It retries transient network errors and 5xx/429 statuses with exponential backoff and jitter.
// For non-retryable 4xx and other non-2xx statuses the response is returned along with the error;
// the caller must close its body.
func (f *Fetcher) FetchWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error
	var currentResp *http.Response

	reqLog := f.log.WithField("url", req.URL.String())

	maxRetries := f.cfg.MaxRetries
	initialRetryDelay := f.cfg.InitialRetryDelay
	maxRetryDelay := f.cfg.MaxRetryDelay

	for attempt := 0; attempt <= maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return nil, fmt.Errorf("context cancelled (%v) during retry backoff after error: %w", ctx.Err(), lastErr)
			}
			return nil, fmt.Errorf("context cancelled before first attempt: %w", ctx.Err())
		default:
		}

		if attempt > 0 {
			backoff := float64(initialRetryDelay) * math.Pow(2, float64(attempt-1))
			delay := time.Duration(backoff)
			if delay <= 0 || delay > maxRetryDelay {
				delay = maxRetryDelay
			}

			// +/- 10% jitter
			var jitter time.Duration
			if delay >= 5 {
				jitter = time.Duration(rand.Int63n(int64(delay)/5)) - (delay / 10)
			}
			finalDelay := delay + jitter
			if finalDelay < 0 {
				finalDelay = 0
			}

			reqLog.WithFields(logrus.Fields{"attempt": attempt, "max_retries": maxRetries, "delay": finalDelay}).Warn("Retrying request...")

			select {
			case <-time.After(finalDelay):
			case <-ctx.Done():
				if lastErr != nil {
					return nil, fmt.Errorf("context cancelled (%v) during retry delay after error: %w", ctx.Err(), lastErr)
				}
				return nil, fmt.Errorf("context cancelled during retry delay: %w", ctx.Err())
			}
		}

		currentResp, lastErr = f.client.Do(req.WithContext(ctx))

		if lastErr != nil {
			if currentResp != nil {
				io.Copy(io.Discard, currentResp.Body)
				currentResp.Body.Close()
				currentResp = nil
			}
			// Context errors, redirect loops and malformed requests won't improve on retry
			if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
				reqLog.Warnf("Context cancelled/timed out during HTTP request execution: %v", lastErr)
				return nil, lastErr
			}
			if errors.Is(lastErr, ErrTooManyRedirects) {
				reqLog.Warnf("Redirect limit exceeded: %v", lastErr)
				return nil, lastErr
			}
			if isDNSError(lastErr) {
				reqLog.Warnf("DNS lookup failed: %v", lastErr)
				return nil, lastErr
			}
			reqLog.WithField("attempt", attempt).Errorf("Network error: %v", lastErr)
			continue
		}

		statusCode := currentResp.StatusCode
		resLog := reqLog.WithFields(logrus.Fields{"status_code": statusCode, "attempt": attempt})

		switch {
		case statusCode >= 200 && statusCode < 300:
			resLog.Debug("Successfully fetched")
			return currentResp, nil

		case statusCode >= 500:
			resLog.Warn("Server error, retrying...")
			lastErr = statusErr(currentResp)
			io.Copy(io.Discard, currentResp.Body)
			currentResp.Body.Close()
			currentResp = nil
			continue

		case statusCode == http.StatusTooManyRequests:
			resLog.Warn("Received 429 Too Many Requests, retrying...")
			lastErr = statusErr(currentResp)
			io.Copy(io.Discard, currentResp.Body)
			currentResp.Body.Close()
			currentResp = nil
			continue

		case statusCode >= 400 && statusCode < 500:
			resLog.Warn("Client error (4xx), not retrying")
			return currentResp, statusErr(currentResp)

		default:
			resLog.Debugf("Non-2xx status: %d", statusCode)
			return currentResp, statusErr(currentResp)
		}
	}

	reqLog.Errorf("All %d fetch attempts failed. Last error: %v", maxRetries+1, lastErr)
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrRetryFailed, lastErr)
	}
	return nil, utils.ErrRetryFailed
}
