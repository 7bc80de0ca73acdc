package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"

	"github.com/ngo-platform/media-scraper/pkg/utils"
)

// DefaultUserAgent mimics a desktop browser; many sites reject bare HTTP clients
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}

	// MaxRetries
	if c.MaxRetries < 0 {
		warnings = append(warnings, "max_retries cannot be negative, setting to 0")
		c.MaxRetries = 0
	}
	if c.MaxRetries == 0 && c.InitialRetryDelay == 0 {
		c.MaxRetries = 2
	}
	if c.MaxRetries > 0 {
		if c.InitialRetryDelay <= 0 {
			c.InitialRetryDelay = 1 * time.Second
		}
		if c.MaxRetryDelay <= 0 {
			c.MaxRetryDelay = 10 * time.Second
		}
	}
	if c.InitialRetryDelay > c.MaxRetryDelay && c.MaxRetryDelay > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"initial_retry_delay (%v) > max_retry_delay (%v), using max_retry_delay for initial",
			c.InitialRetryDelay, c.MaxRetryDelay))
		c.InitialRetryDelay = c.MaxRetryDelay
	}

	c.validateHTTPClientSettings(&warnings)

	if err := c.validateScrape(&warnings); err != nil {
		return warnings, err
	}
	c.validateImport(&warnings)
	if err := c.validateStorage(&warnings); err != nil {
		return warnings, err
	}
	if err := c.validateCatalog(&warnings); err != nil {
		return warnings, err
	}
	c.validateServer()
	if err := c.validateReconcile(&warnings); err != nil {
		return warnings, err
	}

	// MCP
	if c.MCP.Transport == "" {
		c.MCP.Transport = "stdio"
	}
	if c.MCP.Transport != "stdio" && c.MCP.Transport != "sse" {
		return warnings, fmt.Errorf("%w: mcp.transport must be 'stdio' or 'sse', got '%s'", utils.ErrConfigValidation, c.MCP.Transport)
	}
	if c.MCP.Port <= 0 {
		c.MCP.Port = 8090
	}

	return warnings, nil
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings(warnings *[]string) {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 30 * time.Second
	}
	if h.MaxRedirects <= 0 {
		h.MaxRedirects = 10
	}
	if h.MaxRedirects > 20 {
		*warnings = append(*warnings, fmt.Sprintf("http_client_settings.max_redirects (%d) is very high, capping at 20", h.MaxRedirects))
		h.MaxRedirects = 20
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 4
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}

func (c *AppConfig) validateScrape(warnings *[]string) error {
	s := &c.Scrape
	if isZeroFilters(s.DefaultFilters) {
		s.DefaultFilters = DefaultScrapeFilters()
	}
	if len(s.DefaultFilters.Formats) == 0 {
		*warnings = append(*warnings, "scrape.default_filters.formats is empty, using default allow-list")
		s.DefaultFilters.Formats = append([]string(nil), DefaultFormats...)
	}
	s.DefaultFilters.Normalize()
	if err := s.DefaultFilters.Validate(); err != nil {
		return fmt.Errorf("scrape.default_filters: %w", err)
	}
	if s.MaxCandidates <= 0 {
		s.MaxCandidates = 50
	}
	if s.HeadTimeout <= 0 {
		s.HeadTimeout = 10 * time.Second
	}
	if s.MaxPageBytes <= 0 {
		s.MaxPageBytes = 10 << 20
	}
	if _, err := utils.CompileRegexPatterns(s.ExcludePatterns); err != nil {
		return fmt.Errorf("scrape.exclude_patterns: %w", err)
	}
	return nil
}

func (c *AppConfig) validateImport(warnings *[]string) {
	i := &c.Import
	if i.DefaultCategory == "" {
		i.DefaultCategory = "scraped"
	}
	if i.CategoryDescription == "" {
		i.CategoryDescription = "Images imported from website scraper"
	}
	if i.CategoryColor == "" {
		i.CategoryColor = "#8B5CF6"
	}
	if i.UploadedBy == "" {
		i.UploadedBy = "admin"
	}
	if i.MaxWidth <= 0 {
		i.MaxWidth = 1920
	}
	if i.MaxDownloadBytes <= 0 {
		i.MaxDownloadBytes = 50 << 20
	}
	if i.MaxConcurrentDownloads <= 0 {
		*warnings = append(*warnings, "import.max_concurrent_downloads should be > 0, defaulting to 4")
		i.MaxConcurrentDownloads = 4
	}
	if i.MaxRequestsPerHost <= 0 {
		i.MaxRequestsPerHost = 2
	}
	if i.DelayPerHost < 0 {
		i.DelayPerHost = 0
	}
	if i.SemaphoreAcquireTimeout <= 0 {
		i.SemaphoreAcquireTimeout = 30 * time.Second
	}
	if i.BatchTimeout < 0 {
		*warnings = append(*warnings, "import.batch_timeout cannot be negative, disabling timeout")
		i.BatchTimeout = 0
	}
}

func (c *AppConfig) validateStorage(warnings *[]string) error {
	s := &c.Storage
	if s.Driver == "" {
		s.Driver = "local"
	}
	if s.ScrapedPrefix == "" {
		s.ScrapedPrefix = "images/scraped"
	}
	if s.BulkPrefix == "" {
		s.BulkPrefix = "uploads"
	}
	s.ScrapedPrefix = strings.Trim(s.ScrapedPrefix, "/")
	s.BulkPrefix = strings.Trim(s.BulkPrefix, "/")

	switch s.Driver {
	case "local":
		if s.PublicDir == "" {
			*warnings = append(*warnings, "storage.public_dir is empty, defaulting to './public'")
			s.PublicDir = "./public"
		}
		expanded, err := homedir.Expand(s.PublicDir)
		if err != nil {
			return fmt.Errorf("%w: storage.public_dir: %w", utils.ErrConfigValidation, err)
		}
		s.PublicDir = expanded
	case "s3":
		if s.S3.Bucket == "" {
			return fmt.Errorf("%w: storage.s3.bucket is required for the s3 driver", utils.ErrConfigValidation)
		}
		if s.S3.Region == "" {
			s.S3.Region = "us-east-1"
		}
	default:
		return fmt.Errorf("%w: unknown storage.driver '%s'", utils.ErrConfigValidation, s.Driver)
	}
	return nil
}

func (c *AppConfig) validateCatalog(warnings *[]string) error {
	cat := &c.Catalog
	if cat.Driver == "" {
		if cat.MongoURI != "" {
			cat.Driver = "mongo"
		} else {
			*warnings = append(*warnings, "catalog.driver not set and no mongo_uri given, using embedded badger catalog")
			cat.Driver = "badger"
		}
	}
	if cat.ConnectTimeout <= 0 {
		cat.ConnectTimeout = 10 * time.Second
	}
	if cat.GCInterval <= 0 {
		cat.GCInterval = 10 * time.Minute
	}

	switch cat.Driver {
	case "mongo":
		if cat.MongoURI == "" {
			return fmt.Errorf("%w: catalog.mongo_uri is required for the mongo driver", utils.ErrConfigValidation)
		}
		if cat.Database == "" {
			cat.Database = "ngo"
		}
	case "badger":
		if cat.StateDir == "" {
			cat.StateDir = "./catalog_state"
		}
		expanded, err := homedir.Expand(cat.StateDir)
		if err != nil {
			return fmt.Errorf("%w: catalog.state_dir: %w", utils.ErrConfigValidation, err)
		}
		cat.StateDir = expanded
	default:
		return fmt.Errorf("%w: unknown catalog.driver '%s'", utils.ErrConfigValidation, cat.Driver)
	}
	return nil
}

func (c *AppConfig) validateServer() {
	s := &c.Server
	if s.Listen == "" {
		s.Listen = ":8080"
	}
	if s.BodyLimitBytes <= 0 {
		s.BodyLimitBytes = 10 << 20
	}
	if s.BulkBodyLimitBytes <= 0 {
		s.BulkBodyLimitBytes = 50 << 20
	}
	if s.ReadTimeout <= 0 {
		s.ReadTimeout = 30 * time.Second
	}
	if s.CORSOrigins == "" {
		s.CORSOrigins = "*"
	}
}

func (c *AppConfig) validateReconcile(warnings *[]string) error {
	r := &c.Reconcile
	if r.Interval <= 0 {
		r.Interval = 24 * time.Hour
	}
	if r.Interval < time.Minute {
		*warnings = append(*warnings, fmt.Sprintf("reconcile.interval (%v) is below 1m, using 1m", r.Interval))
		r.Interval = time.Minute
	}
	if r.MinFileAge <= 0 {
		r.MinFileAge = time.Hour
	}
	if r.StateFile == "" {
		r.StateFile = "./reconcile_state.json"
	}
	expanded, err := homedir.Expand(r.StateFile)
	if err != nil {
		return fmt.Errorf("%w: reconcile.state_file: %w", utils.ErrConfigValidation, err)
	}
	r.StateFile = expanded
	return nil
}

func isZeroFilters(f ScrapeFilters) bool {
	return len(f.Formats) == 0 && f.MinWidth == 0 && f.MaxWidth == 0 && f.MinHeight == 0 && f.MaxHeight == 0 &&
		f.MinFileSizeKB == 0 && f.MaxFileSizeKB == 0 && !f.IncludeAltText && !f.IncludeVideos
}
