package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/ngo-platform/media-scraper/pkg/catalog"
	"github.com/ngo-platform/media-scraper/pkg/config"
	"github.com/ngo-platform/media-scraper/pkg/fetch"
	"github.com/ngo-platform/media-scraper/pkg/models"
	"github.com/ngo-platform/media-scraper/pkg/persist"
	"github.com/ngo-platform/media-scraper/pkg/transcode"
	"github.com/ngo-platform/media-scraper/pkg/utils"
)

// ErrEmptyBatch is returned when an import request names no media
var ErrEmptyBatch = errors.New("no media items provided")

// Tags attached to records created by a bulk import
var bulkTags = []string{"scraped", "imported"}

// Downloader fetches a media body
type Downloader interface {
	Download(ctx context.Context, rawURL string, maxBytes int64) (*fetch.Payload, error)
}

// Importer downloads, transcodes and persists operator-selected media
type Importer struct {
	downloader Downloader
	transcoder *transcode.Transcoder
	persister  *persist.Persister
	catalog    catalog.Store
	hosts      *fetch.HostLimiter
	pacer      *fetch.HostPacer
	global     *semaphore.Weighted
	cfg        config.ImportConfig
	log        *logrus.Entry
}

// NewImporter creates an Importer. Downloads are bounded globally by
// cfg.MaxConcurrentDownloads and per host by cfg.MaxRequestsPerHost.
func NewImporter(downloader Downloader, persister *persist.Persister, store catalog.Store, cfg config.ImportConfig, log *logrus.Entry) *Importer {
	workers := cfg.MaxConcurrentDownloads
	if workers <= 0 {
		workers = 4
	}
	return &Importer{
		downloader: downloader,
		transcoder: transcode.NewTranscoder(log.WithField("component", "transcoder")),
		persister:  persister,
		catalog:    store,
		hosts:      fetch.NewHostLimiter(cfg.MaxRequestsPerHost, log.WithField("component", "host_limiter")),
		pacer:      fetch.NewHostPacer(cfg.DelayPerHost, log.WithField("component", "host_pacer")),
		global:     semaphore.NewWeighted(int64(workers)),
		cfg:        cfg,
		log:        log,
	}
}

// RunEviction drops idle per-host download gates until ctx is done
func (im *Importer) RunEviction(ctx context.Context, interval time.Duration) {
	im.hosts.RunEviction(ctx, interval)
}

// job is one unit of an import batch
type job struct {
	id        string // Reported back in ImportError
	sourceURL string
	item      persist.Item // Template; Media is filled after download
}

// itemResult is the outcome of one job, folded into the report in input order
type itemResult struct {
	record *models.MediaRecord
	err    error
}

// Import persists the selected scrape candidates into category.
// Item failures are reported in the result; only batch-level failures return an error.
func (im *Importer) Import(ctx context.Context, req models.ImportRequest) (*models.ImportReport, error) {
	if len(req.Media) == 0 {
		return nil, ErrEmptyBatch
	}
	category := config.GetEffectiveCategory(req.Category, im.cfg)

	jobs := make([]job, len(req.Media))
	for i, c := range req.Media {
		alt := c.AltText
		if alt == "" {
			alt = "Imported image: " + c.Name
		}
		jobs[i] = job{
			id:        c.ID,
			sourceURL: c.SourceURL,
			item: persist.Item{
				OriginalName: c.Name,
				Category:     category,
				AltText:      alt,
				Title:        c.Title,
				SourceURL:    c.SourceURL,
				Layout:       persist.LayoutScraped,
			},
		}
	}
	preset := transcode.ScrapeImportPreset.WithMaxWidth(im.cfg.MaxWidth)
	return im.run(ctx, category, jobs, preset)
}

// BulkImport stores raw image URLs in the shared uploads area under the default category
func (im *Importer) BulkImport(ctx context.Context, req models.BulkImportRequest) (*models.ImportReport, error) {
	if len(req.Images) == 0 {
		return nil, ErrEmptyBatch
	}
	category := config.GetEffectiveCategory("", im.cfg)

	jobs := make([]job, len(req.Images))
	for i, img := range req.Images {
		name := img.Filename
		if name == "" {
			name = nameFromURL(img.URL)
		}
		jobs[i] = job{
			id:        img.URL,
			sourceURL: img.URL,
			item: persist.Item{
				OriginalName: name,
				Extension:    img.Extension,
				Category:     category,
				AltText:      img.Alt,
				Title:        img.Title,
				SourceURL:    img.URL,
				Tags:         bulkTags,
				Layout:       persist.LayoutBulk,
			},
		}
	}
	preset := transcode.BulkImportPreset.WithMaxWidth(im.cfg.MaxWidth)
	return im.run(ctx, category, jobs, preset)
}

func (im *Importer) run(ctx context.Context, category string, jobs []job, preset transcode.Preset) (*models.ImportReport, error) {
	batchLog := im.log.WithFields(logrus.Fields{"category": category, "items": len(jobs)})

	if im.cfg.BatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, im.cfg.BatchTimeout)
		defer cancel()
	}

	// Created once up front so concurrent items never race on it
	if _, created, err := catalog.EnsureCategory(ctx, im.catalog, category, im.persister.CategoryDefaults()); err != nil {
		batchLog.Errorf("Failed to ensure category: %v", err)
		return nil, fmt.Errorf("ensuring category '%s': %w", category, err)
	} else if created {
		batchLog.Info("Created media category")
	}

	results := make([]itemResult, len(jobs))
	var wg sync.WaitGroup
	for i := range jobs {
		if err := im.global.Acquire(ctx, 1); err != nil {
			// Context is done; remaining items fail with its error
			for j := i; j < len(jobs); j++ {
				results[j] = itemResult{err: err}
			}
			break
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer im.global.Release(1)
			rec, err := im.importOne(ctx, jobs[i], preset)
			results[i] = itemResult{record: rec, err: err}
		}(i)
	}
	wg.Wait()

	report := &models.ImportReport{
		Success:        true,
		Imported:       []models.MediaRecord{},
		Errors:         []models.ImportError{},
		TotalRequested: len(jobs),
	}
	for i, r := range results {
		if r.err != nil {
			report.Errors = append(report.Errors, models.ImportError{
				ID:       jobs[i].id,
				Error:    r.err.Error(),
				Category: utils.CategorizeError(r.err),
			})
			continue
		}
		report.Imported = append(report.Imported, *r.record)
	}
	report.TotalImported = len(report.Imported)
	report.TotalErrors = len(report.Errors)

	batchLog.WithFields(logrus.Fields{
		"imported": report.TotalImported,
		"errors":   report.TotalErrors,
	}).Info("Import batch complete")
	return report, nil
}

func (im *Importer) importOne(ctx context.Context, j job, preset transcode.Preset) (*models.MediaRecord, error) {
	itemLog := im.log.WithFields(logrus.Fields{"candidate_id": j.id, "url": j.sourceURL})

	u, err := url.Parse(j.sourceURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: '%s'", utils.ErrInvalidURL, j.sourceURL)
	}
	host := u.Hostname()

	var payload *fetch.Payload
	err = im.hosts.Do(ctx, host, im.cfg.SemaphoreAcquireTimeout, func() error {
		if err := im.pacer.Wait(ctx, host); err != nil {
			return err
		}
		defer im.pacer.Done(host)
		var dlErr error
		payload, dlErr = im.downloader.Download(ctx, j.sourceURL, im.cfg.MaxDownloadBytes)
		return dlErr
	})
	if err != nil {
		itemLog.Warnf("Failed to download media: %v", err)
		return nil, err
	}

	media := im.transcoder.Transcode(payload.Data, preset)
	itemLog.WithFields(logrus.Fields{
		"format":     media.Format,
		"bytes_in":   len(payload.Data),
		"bytes_out":  media.SizeBytes,
		"transcoded": media.Transcoded,
	}).Debug("Transcoded media")

	item := j.item
	item.Media = media
	rec, err := im.persister.Persist(ctx, item)
	if err != nil {
		itemLog.Errorf("Failed to persist media: %v", err)
		return nil, err
	}
	return rec, nil
}

func nameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	name := path.Base(u.Path)
	if name == "/" || name == "." {
		return ""
	}
	return name
}
