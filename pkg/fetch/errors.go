package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/ngo-platform/media-scraper/pkg/utils"
)

// ErrorKind classifies why a remote fetch failed
type ErrorKind string

const (
	KindNotFound     ErrorKind = "NotFound"
	KindTimeout      ErrorKind = "Timeout"
	KindBlocked      ErrorKind = "Blocked"
	KindServerError  ErrorKind = "ServerError"
	KindNetworkError ErrorKind = "NetworkError"
	KindInvalidURL   ErrorKind = "InvalidURL"
	KindHTTPStatus   ErrorKind = "HTTPStatus" // Any other non-success status
	KindTooLarge     ErrorKind = "TooLarge"
)

// StatusError carries the HTTP status of a non-success response
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d %s", e.Code, e.Status)
}

// FetchError is the classified failure of a page or media fetch
type FetchError struct {
	Kind       ErrorKind
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Message returns the operator-facing explanation of the failure
func (e *FetchError) Message() string {
	switch e.Kind {
	case KindInvalidURL:
		return "Invalid URL format"
	case KindNotFound:
		return "Page not found. Please check the URL."
	case KindTimeout:
		return "Request timed out. The website may be slow or unresponsive."
	case KindBlocked:
		if errors.Is(e.Err, utils.ErrRobotsDisallowed) {
			return "Access denied. The website's robots.txt disallows scraping this page."
		}
		return "Access denied. The website may be blocking automated requests."
	case KindServerError:
		return "The website is experiencing server issues."
	case KindHTTPStatus:
		return fmt.Sprintf("Website returned error: %d", e.StatusCode)
	case KindTooLarge:
		return "The page is too large to scrape."
	case KindNetworkError:
		if isDNSError(e.Err) {
			return "Website not found. Please check the URL."
		}
	}
	return "Network error. Please check your connection."
}

// ClassifyError maps a transport error or HTTP status into a *FetchError.
// statusCode is 0 when no response was received.
func ClassifyError(rawURL string, statusCode int, err error) *FetchError {
	var existing *FetchError
	if errors.As(err, &existing) {
		return existing
	}
	fe := &FetchError{URL: rawURL, StatusCode: statusCode, Err: err}

	if statusCode == 0 {
		var se *StatusError
		if errors.As(err, &se) {
			statusCode = se.Code
			fe.StatusCode = se.Code
		}
	}

	switch {
	case statusCode == http.StatusForbidden:
		fe.Kind = KindBlocked
	case statusCode == http.StatusNotFound || statusCode == http.StatusGone:
		fe.Kind = KindNotFound
	case statusCode >= 500:
		fe.Kind = KindServerError
	case statusCode >= 400:
		fe.Kind = KindHTTPStatus
	case errors.Is(err, utils.ErrRobotsDisallowed):
		fe.Kind = KindBlocked
	case errors.Is(err, utils.ErrInvalidURL):
		fe.Kind = KindInvalidURL
	case errors.Is(err, utils.ErrBodyTooLarge):
		fe.Kind = KindTooLarge
	case errors.Is(err, utils.ErrServerHTTPError):
		fe.Kind = KindServerError
	case isTimeout(err):
		fe.Kind = KindTimeout
	default:
		fe.Kind = KindNetworkError
	}
	return fe
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}

func isDNSError(err error) bool {
	if err == nil {
		return false
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	return strings.Contains(err.Error(), "no such host")
}
