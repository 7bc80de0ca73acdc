package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"github.com/ngo-platform/media-scraper/pkg/catalog"
	"github.com/ngo-platform/media-scraper/pkg/config"
	"github.com/ngo-platform/media-scraper/pkg/models"
)

const (
	serverName    = "media-scraper"
	serverVersion = "1.0.0"
)

// Scraper discovers media candidates on a page
type Scraper interface {
	Scrape(ctx context.Context, rawURL string, filters config.ScrapeFilters) (*models.ScrapeResult, error)
}

// Importer persists selected media
type Importer interface {
	Import(ctx context.Context, req models.ImportRequest) (*models.ImportReport, error)
	BulkImport(ctx context.Context, req models.BulkImportRequest) (*models.ImportReport, error)
}

// Reconciler repairs drift between blobs and catalog rows
type Reconciler interface {
	Run(ctx context.Context) (*models.ReconcileReport, error)
}

// ServerConfig holds configuration for the MCP server
type ServerConfig struct {
	Scraper        Scraper
	Importer       Importer
	Reconciler     Reconciler
	Catalog        catalog.Store
	DefaultFilters config.ScrapeFilters
	ImportConfig   config.ImportConfig
	Transport      string // "stdio" or "sse"
	Port           int
	Logger         *logrus.Logger
}

// Server exposes the media pipeline as MCP tools
type Server struct {
	mcpServer  *server.MCPServer
	cfg        *ServerConfig
	log        *logrus.Entry
	jobManager *JobManager
}

// NewServer creates a new MCP server instance
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg.Scraper == nil || cfg.Importer == nil || cfg.Catalog == nil {
		return nil, fmt.Errorf("scraper, importer and catalog are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	mcpServer := server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithLogging(),
	)

	s := &Server{
		mcpServer:  mcpServer,
		cfg:        cfg,
		log:        cfg.Logger.WithField("component", "mcp"),
		jobManager: NewJobManager(),
	}
	s.registerTools()
	return s, nil
}

func (s *Server) registerTools() {
	tools := 0
	add := func(tool mcp.Tool, handler server.ToolHandlerFunc) {
		s.mcpServer.AddTool(tool, handler)
		tools++
	}

	add(mcp.NewTool("scrape_page",
		mcp.WithDescription("Discover images and videos on a web page and validate each candidate"),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("Absolute http(s) URL of the page to scrape"),
		),
		mcp.WithString("filters",
			mcp.Description(`JSON filter overrides, e.g. {"formats":["jpg","png"],"minFileSize":10}`),
		),
	), s.handleScrapePage)

	add(mcp.NewTool("import_media",
		mcp.WithDescription("Start a background import of scraped candidates. Returns immediately with a job ID."),
		mcp.WithString("media",
			mcp.Required(),
			mcp.Description("JSON array of candidates as returned by scrape_page"),
		),
		mcp.WithString("category",
			mcp.Description("Target media category (defaults to the configured category)"),
		),
	), s.handleImportMedia)

	add(mcp.NewTool("bulk_import",
		mcp.WithDescription("Import raw image URLs into the shared uploads area and wait for the result"),
		mcp.WithString("images",
			mcp.Required(),
			mcp.Description(`JSON array of {"url","filename","extension","alt","title"} objects`),
		),
	), s.handleBulkImport)

	add(mcp.NewTool("get_job_status",
		mcp.WithDescription("Get the status of an import job"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("The job ID returned by import_media"),
		),
	), s.handleGetJobStatus)

	add(mcp.NewTool("list_jobs",
		mcp.WithDescription("List import jobs, newest first"),
	), s.handleListJobs)

	add(mcp.NewTool("cancel_job",
		mcp.WithDescription("Cancel a pending or running import job"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("The job ID to cancel"),
		),
	), s.handleCancelJob)

	add(mcp.NewTool("list_media",
		mcp.WithDescription("Search the media library"),
		mcp.WithString("category", mcp.Description("Only media in this category")),
		mcp.WithString("search", mcp.Description("Case-insensitive match on filename, title or description")),
		mcp.WithNumber("page", mcp.Description("1-based page number (default: 1)")),
		mcp.WithNumber("limit", mcp.Description("Page size (default: 20, max: 100)")),
	), s.handleListMedia)

	if s.cfg.Reconciler != nil {
		add(mcp.NewTool("reconcile_media",
			mcp.WithDescription("Remove catalog rows whose file is missing and report orphaned files"),
		), s.handleReconcileMedia)
	}

	s.log.Infof("Registered %d MCP tools", tools)
}

// Run starts the MCP server with the configured transport
func (s *Server) Run() error {
	switch s.cfg.Transport {
	case "stdio":
		s.log.Info("Starting MCP server with stdio transport")
		return server.ServeStdio(s.mcpServer)
	case "sse":
		addr := fmt.Sprintf(":%d", s.cfg.Port)
		s.log.Infof("Starting MCP server with SSE transport on %s", addr)
		sseServer := server.NewSSEServer(s.mcpServer)
		return sseServer.Start(addr)
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio, sse)", s.cfg.Transport)
	}
}

// Shutdown cancels running import jobs
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down MCP server...")
	s.jobManager.CancelAll()
	return nil
}
