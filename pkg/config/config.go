package config

import (
	"strings"
	"time"
)

// AppConfig holds the global application configuration
type AppConfig struct {
	UserAgent          string           `yaml:"user_agent,omitempty"`
	RespectRobots      bool             `yaml:"respect_robots,omitempty"`
	MaxRetries         int              `yaml:"max_retries,omitempty"`
	InitialRetryDelay  time.Duration    `yaml:"initial_retry_delay,omitempty"`
	MaxRetryDelay      time.Duration    `yaml:"max_retry_delay,omitempty"`
	HTTPClientSettings HTTPClientConfig `yaml:"http_client_settings,omitempty"`
	Scrape             ScrapeConfig     `yaml:"scrape,omitempty"`
	Import             ImportConfig     `yaml:"import,omitempty"`
	Storage            StorageConfig    `yaml:"storage,omitempty"`
	Catalog            CatalogConfig    `yaml:"catalog,omitempty"`
	Server             ServerConfig     `yaml:"server,omitempty"`
	Reconcile          ReconcileConfig  `yaml:"reconcile,omitempty"`
	MCP                MCPConfig        `yaml:"mcp,omitempty"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout
	MaxRedirects          int           `yaml:"max_redirects,omitempty"`           // Redirect hops before giving up
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"`     // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
}

// ScrapeConfig controls page discovery and candidate validation
type ScrapeConfig struct {
	DefaultFilters  ScrapeFilters `yaml:"default_filters,omitempty"`
	MaxCandidates   int           `yaml:"max_candidates,omitempty"`   // Candidates validated per scrape
	HeadTimeout     time.Duration `yaml:"head_timeout,omitempty"`     // Per-candidate HEAD timeout
	MaxPageBytes    int64         `yaml:"max_page_bytes,omitempty"`   // Cap on fetched HTML size
	ExcludePatterns []string      `yaml:"exclude_patterns,omitempty"` // Regexes for source URLs to skip (tracking pixels etc.)
}

// ImportConfig controls downloading, transcoding and persisting selected media
type ImportConfig struct {
	DefaultCategory         string        `yaml:"default_category,omitempty"`
	CategoryDescription     string        `yaml:"category_description,omitempty"`
	CategoryColor           string        `yaml:"category_color,omitempty"`
	UploadedBy              string        `yaml:"uploaded_by,omitempty"`
	MaxWidth                int           `yaml:"max_width,omitempty"`
	MaxDownloadBytes        int64         `yaml:"max_download_bytes,omitempty"`
	MaxConcurrentDownloads  int           `yaml:"max_concurrent_downloads,omitempty"`
	MaxRequestsPerHost      int           `yaml:"max_requests_per_host,omitempty"`
	DelayPerHost            time.Duration `yaml:"delay_per_host,omitempty"`
	SemaphoreAcquireTimeout time.Duration `yaml:"semaphore_acquire_timeout,omitempty"`
	BatchTimeout            time.Duration `yaml:"batch_timeout,omitempty"` // 0 = bounded only by per-request timeouts
}

// StorageConfig selects and configures the blob store
type StorageConfig struct {
	Driver        string   `yaml:"driver,omitempty"`     // "local" or "s3"
	PublicDir     string   `yaml:"public_dir,omitempty"` // Root of the static asset tree (local driver)
	ScrapedPrefix string   `yaml:"scraped_prefix,omitempty"`
	BulkPrefix    string   `yaml:"bulk_prefix,omitempty"`
	S3            S3Config `yaml:"s3,omitempty"`
}

// S3Config configures the S3 blob store
type S3Config struct {
	Bucket       string `yaml:"bucket,omitempty"`
	Region       string `yaml:"region,omitempty"`
	Endpoint     string `yaml:"endpoint,omitempty"` // Custom endpoint (MinIO etc.)
	Prefix       string `yaml:"prefix,omitempty"`
	UsePathStyle bool   `yaml:"use_path_style,omitempty"`
}

// CatalogConfig selects and configures the media catalog engine
type CatalogConfig struct {
	Driver         string        `yaml:"driver,omitempty"` // "mongo" or "badger"
	MongoURI       string        `yaml:"mongo_uri,omitempty"`
	Database       string        `yaml:"database,omitempty"`
	ConnectTimeout time.Duration `yaml:"connect_timeout,omitempty"`
	StateDir       string        `yaml:"state_dir,omitempty"` // Badger directory
	GCInterval     time.Duration `yaml:"gc_interval,omitempty"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Listen             string        `yaml:"listen,omitempty"`
	BodyLimitBytes     int           `yaml:"body_limit_bytes,omitempty"`
	BulkBodyLimitBytes int           `yaml:"bulk_body_limit_bytes,omitempty"`
	ReadTimeout        time.Duration `yaml:"read_timeout,omitempty"`
	CORSOrigins        string        `yaml:"cors_origins,omitempty"`
}

// ReconcileConfig configures orphan reconciliation between blob store and catalog
type ReconcileConfig struct {
	Interval          time.Duration `yaml:"interval,omitempty"`
	StateFile         string        `yaml:"state_file,omitempty"`
	RemoveOrphanFiles bool          `yaml:"remove_orphan_files,omitempty"`
	MinFileAge        time.Duration `yaml:"min_file_age,omitempty"` // Younger files may still be mid-import
}

// MCPConfig configures the MCP tool server
type MCPConfig struct {
	Transport string `yaml:"transport,omitempty"` // "stdio" or "sse"
	Port      int    `yaml:"port,omitempty"`
}

// GetEffectiveCategory resolves an import's target category
func GetEffectiveCategory(requested string, importCfg ImportConfig) string {
	if requested = strings.TrimSpace(requested); requested != "" {
		return requested
	}
	if importCfg.DefaultCategory != "" {
		return importCfg.DefaultCategory
	}
	return "scraped"
}

// NewAppConfig returns a config pre-populated with defaults that a zero value
// cannot express (e.g. include_alt_text=true). YAML is decoded over it.
func NewAppConfig() *AppConfig {
	return &AppConfig{
		Scrape: ScrapeConfig{DefaultFilters: DefaultScrapeFilters()},
	}
}
