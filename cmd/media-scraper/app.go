package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ngo-platform/media-scraper/pkg/catalog"
	"github.com/ngo-platform/media-scraper/pkg/config"
	"github.com/ngo-platform/media-scraper/pkg/fetch"
	applog "github.com/ngo-platform/media-scraper/pkg/log"
	"github.com/ngo-platform/media-scraper/pkg/persist"
	"github.com/ngo-platform/media-scraper/pkg/pipeline"
	"github.com/ngo-platform/media-scraper/pkg/settings"
	"github.com/ngo-platform/media-scraper/pkg/storage"
	"github.com/ngo-platform/media-scraper/pkg/utils"
)

const hostSemaphoreEvictionInterval = 5 * time.Minute

// components is the fully wired pipeline shared by every subcommand
type components struct {
	catalog    catalog.Store
	blobs      storage.BlobStore
	fetcher    *fetch.Fetcher
	scraper    *pipeline.Scraper
	importer   *pipeline.Importer
	persister  *persist.Persister
	reconciler *persist.Reconciler
	settings   *settings.Service
	log        *logrus.Logger
}

// buildComponents opens the catalog and blob store and wires the pipeline on top.
// Background goroutines (badger GC, host semaphore eviction) stop when ctx is done.
func buildComponents(ctx context.Context, appCfg *config.AppConfig, logger *logrus.Logger) (*components, error) {
	exclude, err := utils.CompileRegexPatterns(appCfg.Scrape.ExcludePatterns)
	if err != nil {
		return nil, fmt.Errorf("%w: scrape.exclude_patterns: %w", utils.ErrConfigValidation, err)
	}

	store, err := catalog.Open(ctx, appCfg.Catalog, applog.Component(logger, "catalog"))
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}

	blobs, err := openBlobStore(ctx, appCfg.Storage, applog.Component(logger, "storage"))
	if err != nil {
		store.Close(context.Background())
		return nil, fmt.Errorf("opening blob store: %w", err)
	}

	httpClient := fetch.NewClient(appCfg.HTTPClientSettings, applog.Component(logger, "http_client"))
	fetcher := fetch.NewFetcher(httpClient, appCfg, applog.Component(logger, "fetcher"))

	persister := persist.NewPersister(blobs, store, appCfg.Storage, appCfg.Import, applog.Component(logger, "persister"))
	importer := pipeline.NewImporter(fetcher, persister, store, appCfg.Import, applog.Component(logger, "importer"))
	go importer.RunEviction(ctx, hostSemaphoreEvictionInterval)

	return &components{
		catalog:    store,
		blobs:      blobs,
		fetcher:    fetcher,
		scraper:    pipeline.NewScraper(fetcher, fetcher, appCfg.Scrape, exclude, applog.Component(logger, "scraper")),
		importer:   importer,
		persister:  persister,
		reconciler: persist.NewReconciler(blobs, store, appCfg.Storage, appCfg.Reconcile, applog.Component(logger, "reconciler")),
		settings:   settings.NewService(store, applog.Component(logger, "settings")),
		log:        logger,
	}, nil
}

func openBlobStore(ctx context.Context, cfg config.StorageConfig, log *logrus.Entry) (storage.BlobStore, error) {
	switch cfg.Driver {
	case "s3":
		return storage.NewS3Store(ctx, cfg.S3, log)
	case "local", "":
		return storage.NewLocalStore(cfg.PublicDir, log)
	}
	return nil, fmt.Errorf("%w: unknown storage driver '%s'", utils.ErrConfigValidation, cfg.Driver)
}

// Close releases the catalog
func (c *components) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.catalog.Close(ctx); err != nil {
		c.log.Errorf("Failed to close catalog: %v", err)
	}
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
// A second signal, or a stuck shutdown, forces exit.
func signalContext(log *logrus.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			log.Warnf("Received signal: %v. Initiating graceful shutdown...", sig)
			cancel()
		case <-ctx.Done():
			signal.Stop(sigChan)
			return
		}

		select {
		case sig := <-sigChan:
			log.Warnf("Received second signal: %v. Forcing exit.", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			log.Warn("Graceful shutdown period exceeded after signal. Forcing exit.")
			os.Exit(1)
		}
	}()

	return ctx, cancel
}
