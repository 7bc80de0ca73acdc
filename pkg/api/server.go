package api

import (
	"context"
	"io"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"

	"github.com/ngo-platform/media-scraper/pkg/catalog"
	"github.com/ngo-platform/media-scraper/pkg/config"
	"github.com/ngo-platform/media-scraper/pkg/models"
	"github.com/ngo-platform/media-scraper/pkg/settings"
	"github.com/ngo-platform/media-scraper/pkg/storage"
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

// Deps are the services behind the HTTP routes
type Deps struct {
	Scraper          Scraper
	Importer         Importer
	Reconciler       Reconciler
	Catalog          catalog.Store
	Blobs            storage.BlobStore
	Settings         *settings.Service
	DefaultFilters   config.ScrapeFilters
	CategoryDefaults catalog.CategoryDefaults // For categories created by media edits
}

// Server is the media pipeline HTTP API
type Server struct {
	app       *fiber.App
	deps      Deps
	cfg       config.ServerConfig
	accessLog io.WriteCloser
	log       *logrus.Entry
}

// NewServer builds the Fiber app and registers every route
func NewServer(cfg config.ServerConfig, deps Deps, log *logrus.Entry) *Server {
	bodyLimit := cfg.BodyLimitBytes
	if cfg.BulkBodyLimitBytes > bodyLimit {
		bodyLimit = cfg.BulkBodyLimitBytes
	}

	s := &Server{
		deps:      deps,
		cfg:       cfg,
		accessLog: log.WriterLevel(logrus.DebugLevel),
		log:       log,
	}
	s.app = fiber.New(fiber.Config{
		AppName:               "media-scraper",
		BodyLimit:             bodyLimit,
		ReadTimeout:           cfg.ReadTimeout,
		ErrorHandler:          ErrorHandler(log),
		DisableStartupMessage: true,
	})

	s.app.Use(recover.New())
	s.app.Use(logger.New(logger.Config{Output: s.accessLog}))
	s.app.Use(cors.New(cors.Config{AllowOrigins: cfg.CORSOrigins}))

	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	admin := s.app.Group("/api/admin/media")
	admin.Post("/scrape", limitBody(s.cfg.BodyLimitBytes), s.handleScrape)
	admin.Post("/import", limitBody(s.cfg.BodyLimitBytes), s.handleImport)

	s.app.Post("/api/import-scraped-images", limitBody(s.cfg.BulkBodyLimitBytes), s.handleBulkImport)

	media := s.app.Group("/api/media")
	media.Get("/", s.handleListMedia)
	media.Get("/categories", s.handleListCategories)
	media.Post("/cleanup", s.handleCleanup)
	media.Get("/:id", s.handleGetMedia)
	media.Put("/:id", limitBody(s.cfg.BodyLimitBytes), s.handleUpdateMedia)
	media.Delete("/:id", s.handleDeleteMedia)

	s.app.Get("/api/payment-settings", s.handleGetPaymentSettings)
	s.app.Post("/api/payment-settings", limitBody(s.cfg.BodyLimitBytes), s.handleReplacePaymentSettings)
	s.app.Patch("/api/payment-settings", limitBody(s.cfg.BodyLimitBytes), s.handlePatchPaymentSettings)
	s.app.Get("/api/active-payment-methods", s.handleActivePaymentMethods)
}

// limitBody rejects bodies over n bytes on routes with a tighter limit than the app-wide one
func limitBody(n int) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if n > 0 && len(c.Body()) > n {
			return fiber.NewError(fiber.StatusRequestEntityTooLarge, "Request body too large")
		}
		return c.Next()
	}
}

// App exposes the Fiber app, mainly for tests
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves until Shutdown is called
func (s *Server) Listen() error {
	s.log.Infof("HTTP API listening on %s", s.cfg.Listen)
	return s.app.Listen(s.cfg.Listen)
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx is done
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.accessLog.Close()
	return s.app.ShutdownWithContext(ctx)
}
