package persist

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ngo-platform/media-scraper/pkg/catalog"
	"github.com/ngo-platform/media-scraper/pkg/config"
	"github.com/ngo-platform/media-scraper/pkg/models"
	"github.com/ngo-platform/media-scraper/pkg/storage"
	"github.com/ngo-platform/media-scraper/pkg/transcode"
	"github.com/ngo-platform/media-scraper/pkg/utils"
)

// Layout selects where and under which name a blob is stored
type Layout int

const (
	// LayoutScraped stores under {scraped_prefix}/{category slug}/{name}-{millis}.{ext}
	LayoutScraped Layout = iota
	// LayoutBulk stores under {bulk_prefix}/scraped_{millis}_{rand}.{ext}
	LayoutBulk
)

// Record sources
const (
	SourceScraper = "scraper"
	SourceBulk    = "bulk-import"
)

const maxNameAttempts = 5

// Item is one downloaded and transcoded media file ready to be stored
type Item struct {
	Media        transcode.Result
	OriginalName string // Name as seen at the source, used for the stored filename
	Extension    string // Declared extension; the sniffed format wins when known
	Category     string
	AltText      string
	Title        string
	SourceURL    string
	Tags         []string
	Layout       Layout
}

// Persister writes blobs and their catalog rows
type Persister struct {
	blobs    storage.BlobStore
	catalog  catalog.Store
	storage  config.StorageConfig
	importer config.ImportConfig
	log      *logrus.Entry

	now    func() time.Time
	suffix func() string

	mu       sync.Mutex
	reserved map[string]struct{} // paths claimed by in-flight Persist calls
}

// NewPersister creates a Persister
func NewPersister(blobs storage.BlobStore, store catalog.Store, storageCfg config.StorageConfig, importCfg config.ImportConfig, log *logrus.Entry) *Persister {
	return &Persister{
		blobs:    blobs,
		catalog:  store,
		storage:  storageCfg,
		importer: importCfg,
		log:      log,
		now:      time.Now,
		suffix:   randomSuffix,
		reserved: make(map[string]struct{}),
	}
}

// CategoryDefaults returns the defaults used for lazily created categories
func (p *Persister) CategoryDefaults() catalog.CategoryDefaults {
	return catalog.CategoryDefaults{Description: p.importer.CategoryDescription, ColorTag: p.importer.CategoryColor}
}

// Persist stores item and records it in the catalog. When the catalog write fails
// the blob is removed again so no unreferenced file is left behind.
func (p *Persister) Persist(ctx context.Context, item Item) (*models.MediaRecord, error) {
	category := config.GetEffectiveCategory(item.Category, p.importer)
	ext := chooseExtension(item)
	dir := p.directory(item.Layout, category)
	now := p.now()

	storagePath, err := p.claimPath(ctx, dir, p.baseName(item, now), ext)
	if err != nil {
		return nil, err
	}
	defer p.release(storagePath)

	itemLog := p.log.WithFields(logrus.Fields{"category": category, "filename": path.Base(storagePath)})

	if err := p.blobs.MkdirAll(ctx, dir); err != nil {
		return nil, err
	}
	if err := p.blobs.WriteFile(ctx, storagePath, item.Media.Data, item.Media.MimeType()); err != nil {
		return nil, err
	}

	rec, err := p.record(ctx, item, category, storagePath, now)
	if err != nil {
		if rmErr := p.blobs.Remove(context.WithoutCancel(ctx), storagePath); rmErr != nil {
			itemLog.Errorf("Failed to remove blob after catalog error, left for reconciliation: %v", rmErr)
		} else {
			itemLog.Debug("Removed blob after catalog error")
		}
		return nil, err
	}

	itemLog.WithField("size", rec.SizeBytes).Debug("Persisted media")
	return rec, nil
}

func (p *Persister) record(ctx context.Context, item Item, category, storagePath string, now time.Time) (*models.MediaRecord, error) {
	cat, _, err := catalog.EnsureCategory(ctx, p.catalog, category, p.CategoryDefaults())
	if err != nil {
		return nil, fmt.Errorf("ensuring category '%s': %w", category, err)
	}

	source := SourceScraper
	if item.Layout == LayoutBulk {
		source = SourceBulk
	}
	originalName := item.OriginalName
	if originalName == "" {
		originalName = path.Base(storagePath)
	}

	rec := &models.MediaRecord{
		ID:            catalog.NewMediaID(),
		Filename:      path.Base(storagePath),
		OriginalName:  originalName,
		StoragePath:   storagePath,
		PublicURL:     PublicURL(storagePath),
		SizeBytes:     item.Media.SizeBytes,
		MimeType:      item.Media.MimeType(),
		Width:         item.Media.Width,
		Height:        item.Media.Height,
		AltText:       item.AltText,
		Title:         item.Title,
		Category:      cat.Name,
		Tags:          append([]string{}, item.Tags...),
		Source:        source,
		SourceURL:     item.SourceURL,
		Checksum:      utils.ContentChecksum(item.Media.Data),
		UploadedAt:    now.UTC(),
		UploadedBy:    p.importer.UploadedBy,
		Status:        models.MediaStatusActive,
		CodecMetadata: item.Media.Meta,
	}
	if item.SourceURL != "" {
		rec.Description = "Imported from " + item.SourceURL
	}
	if _, err := p.catalog.InsertMedia(ctx, rec); err != nil {
		return nil, fmt.Errorf("recording '%s': %w", rec.Filename, err)
	}
	return rec, nil
}

// PublicURL derives the served URL of a stored blob
func PublicURL(storagePath string) string {
	return "/" + storagePath
}

func (p *Persister) directory(layout Layout, category string) string {
	if layout == LayoutBulk {
		return p.storage.BulkPrefix
	}
	return path.Join(p.storage.ScrapedPrefix, utils.CategorySlug(category))
}

func (p *Persister) baseName(item Item, now time.Time) string {
	if item.Layout == LayoutBulk {
		return fmt.Sprintf("scraped_%d_%s", now.UnixMilli(), p.suffix())
	}
	base, _ := utils.SplitExt(item.OriginalName)
	return fmt.Sprintf("%s-%d", utils.SanitizeFilename(base), now.UnixMilli())
}

// claimPath picks a name not present in the store nor claimed by a concurrent call
func (p *Persister) claimPath(ctx context.Context, dir, base, ext string) (string, error) {
	candidate := base
	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		if attempt > 0 {
			candidate = base + "-" + p.suffix()
		}
		full := path.Join(dir, candidate+"."+ext)

		p.mu.Lock()
		_, taken := p.reserved[full]
		if !taken {
			p.reserved[full] = struct{}{}
		}
		p.mu.Unlock()
		if taken {
			continue
		}

		exists, err := p.blobs.Exists(ctx, full)
		if err != nil {
			p.release(full)
			return "", err
		}
		if !exists {
			return full, nil
		}
		p.release(full)
	}
	return "", fmt.Errorf("%w: no free filename for '%s' after %d attempts", utils.ErrFilesystem, base, maxNameAttempts)
}

func (p *Persister) release(full string) {
	p.mu.Lock()
	delete(p.reserved, full)
	p.mu.Unlock()
}

// chooseExtension prefers the sniffed format so the name matches the bytes
func chooseExtension(item Item) string {
	if ext := transcode.ExtensionFor(item.Media.Format); ext != "" {
		return ext
	}
	if item.Extension != "" {
		return item.Extension
	}
	if _, ext := utils.SplitExt(item.OriginalName); ext != "" {
		return ext
	}
	return "jpg"
}

func randomSuffix() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("%08x", time.Now().UnixNano()&0xffffffff)
	}
	return hex.EncodeToString(b[:])
}
