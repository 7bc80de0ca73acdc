package persist

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ngo-platform/media-scraper/pkg/catalog"
	"github.com/ngo-platform/media-scraper/pkg/config"
	"github.com/ngo-platform/media-scraper/pkg/models"
	"github.com/ngo-platform/media-scraper/pkg/storage"
	"github.com/ngo-platform/media-scraper/pkg/utils"
)

// Reconciler repairs drift between the blob store and the catalog:
// active rows whose blob is gone are deleted, and blobs under the managed
// prefixes that no row references are reported (and optionally removed).
type Reconciler struct {
	blobs    storage.BlobStore
	catalog  catalog.Store
	prefixes []string
	cfg      config.ReconcileConfig
	now      func() time.Time
	log      *logrus.Entry
}

// NewReconciler creates a Reconciler scanning the scraped and bulk prefixes
func NewReconciler(blobs storage.BlobStore, store catalog.Store, storageCfg config.StorageConfig, cfg config.ReconcileConfig, log *logrus.Entry) *Reconciler {
	var prefixes []string
	for _, p := range []string{storageCfg.ScrapedPrefix, storageCfg.BulkPrefix} {
		if p != "" {
			prefixes = append(prefixes, p)
		}
	}
	return &Reconciler{blobs: blobs, catalog: store, prefixes: prefixes, cfg: cfg, now: time.Now, log: log}
}

// Run performs one reconciliation pass
func (r *Reconciler) Run(ctx context.Context) (*models.ReconcileReport, error) {
	start := r.now()
	report := &models.ReconcileReport{
		StartedAt:      start.UTC(),
		RemovedRecords: []string{},
		OrphanFiles:    []string{},
	}

	known := make(map[string]struct{})
	var missing []models.MediaRecord
	err := r.catalog.EachMedia(ctx, func(rec models.MediaRecord) error {
		report.CheckedRecords++
		known[rec.StoragePath] = struct{}{}
		if rec.Status != models.MediaStatusActive {
			return nil
		}
		exists, err := r.blobs.Exists(ctx, rec.StoragePath)
		if err != nil {
			return err
		}
		if !exists {
			missing = append(missing, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning catalog: %w", err)
	}

	for _, rec := range missing {
		if err := r.catalog.DeleteMedia(ctx, rec.ID); err != nil && !errors.Is(err, utils.ErrNotFound) {
			r.log.WithField("filename", rec.Filename).Warnf("Failed to remove record with missing blob: %v", err)
			continue
		}
		r.log.WithField("filename", rec.Filename).Info("Removed record whose blob is missing")
		report.RemovedRecords = append(report.RemovedRecords, rec.Filename)
	}

	cutoff := start.Add(-r.cfg.MinFileAge)
	for _, prefix := range r.prefixes {
		err := r.blobs.Walk(ctx, prefix, func(b storage.BlobInfo) error {
			if _, ok := known[b.Path]; ok {
				return nil
			}
			// young blobs may belong to an import still writing its catalog row
			if !b.ModTime.IsZero() && b.ModTime.After(cutoff) {
				return nil
			}
			report.OrphanFiles = append(report.OrphanFiles, b.Path)
			if r.cfg.RemoveOrphanFiles {
				if err := r.blobs.Remove(ctx, b.Path); err != nil {
					r.log.WithField("path", b.Path).Warnf("Failed to remove orphan file: %v", err)
					return nil
				}
				report.RemovedFiles++
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking '%s': %w", prefix, err)
		}
	}

	sort.Strings(report.OrphanFiles)
	report.Duration = r.now().Sub(start).String()
	r.log.WithFields(logrus.Fields{
		"checked":       report.CheckedRecords,
		"removed_rows":  len(report.RemovedRecords),
		"orphan_files":  len(report.OrphanFiles),
		"removed_files": report.RemovedFiles,
	}).Info("Media reconciliation complete")
	return report, nil
}
