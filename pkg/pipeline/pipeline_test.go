package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngo-platform/media-scraper/pkg/catalog"
	"github.com/ngo-platform/media-scraper/pkg/config"
	"github.com/ngo-platform/media-scraper/pkg/fetch"
	"github.com/ngo-platform/media-scraper/pkg/models"
	"github.com/ngo-platform/media-scraper/pkg/persist"
	"github.com/ngo-platform/media-scraper/pkg/storage"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x += 7 {
		img.Set(x, x%h, color.NRGBA{R: 200, G: 40, B: 90, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}))
	return buf.Bytes()
}

// newSite serves a small NGO page plus its images
func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	wide := encodePNG(t, 2400, 1200)
	small := encodeJPEG(t, 640, 480)
	mux := http.NewServeMux()
	mux.HandleFunc("/gallery", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, `<html><body>
<img src="/img/wide.png" alt="Volunteers">
<img src="//`+r.Host+`/img/small.jpg" title="Clinic">
<img src="img/missing.jpg">
<img src="data:image/gif;base64,R0lGOD">
<div style="background-image: url('/img/small.jpg')"></div>
</body></html>`)
	})
	serve := func(data []byte, contentType string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", contentType)
			w.Header().Set("Content-Length", strconv.Itoa(len(data)))
			w.Write(data)
		}
	}
	mux.HandleFunc("/img/wide.png", serve(wide, "image/png"))
	mux.HandleFunc("/img/small.jpg", serve(small, "image/jpeg"))
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

type env struct {
	cfg     *config.AppConfig
	fetcher *fetch.Fetcher
	blobs   *storage.LocalStore
	catalog catalog.Store
}

func newEnv(t *testing.T) *env {
	t.Helper()
	cfg := config.NewAppConfig()
	cfg.Storage.PublicDir = t.TempDir()
	cfg.Catalog.StateDir = t.TempDir()
	cfg.MaxRetries = 0
	cfg.InitialRetryDelay = time.Millisecond
	_, err := cfg.Validate()
	require.NoError(t, err)

	blobs, err := storage.NewLocalStore(cfg.Storage.PublicDir, testLogger())
	require.NoError(t, err)
	store, err := catalog.NewBadgerStore(cfg.Catalog.StateDir, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close(context.Background()) })

	client := fetch.NewClient(cfg.HTTPClientSettings, testLogger())
	return &env{
		cfg:     cfg,
		fetcher: fetch.NewFetcher(client, cfg, testLogger()),
		blobs:   blobs,
		catalog: store,
	}
}

func (e *env) importer() *Importer {
	p := persist.NewPersister(e.blobs, e.catalog, e.cfg.Storage, e.cfg.Import, testLogger())
	return NewImporter(e.fetcher, p, e.catalog, e.cfg.Import, testLogger())
}

func (e *env) scraper() *Scraper {
	return NewScraper(e.fetcher, e.fetcher, e.cfg.Scrape, nil, testLogger())
}

func TestScrape_DiscoversAndValidates(t *testing.T) {
	site := newSite(t)
	e := newEnv(t)

	result, err := e.scraper().Scrape(context.Background(), site.URL+"/gallery", e.cfg.Scrape.DefaultFilters)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 3, result.TotalFound, "data: URIs skipped, background duplicate collapsed")
	require.Len(t, result.Media, 3)
	assert.Equal(t, 2, result.TotalValid)

	byName := map[string]models.ScrapedMediaCandidate{}
	for _, c := range result.Media {
		assert.True(t, strings.HasPrefix(c.SourceURL, site.URL+"/img/"), c.SourceURL)
		byName[c.Name] = c
	}
	assert.Equal(t, "Volunteers", byName["wide.png"].AltText)
	assert.Equal(t, "Clinic", byName["small.jpg"].AltText)
	assert.Positive(t, byName["wide.png"].EstimatedSizeBytes)
	assert.Equal(t, "Failed to load media", byName["missing.jpg"].Error)
}

func TestScrape_CapsValidationButCountsAll(t *testing.T) {
	site := newSite(t)
	e := newEnv(t)
	e.cfg.Scrape.MaxCandidates = 2

	result, err := e.scraper().Scrape(context.Background(), site.URL+"/gallery", e.cfg.Scrape.DefaultFilters)
	require.NoError(t, err)
	assert.Equal(t, 3, result.TotalFound)
	assert.Len(t, result.Media, 2)
}

func TestScrape_PageErrors(t *testing.T) {
	site := newSite(t)
	e := newEnv(t)
	tests := []struct {
		name    string
		url     string
		kind    fetch.ErrorKind
		message string
	}{
		{"invalid url", "not a url", fetch.KindInvalidURL, "Invalid URL format"},
		{"missing page", site.URL + "/nope", fetch.KindNotFound, "Page not found. Please check the URL."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.scraper().Scrape(context.Background(), tt.url, e.cfg.Scrape.DefaultFilters)
			require.Error(t, err)
			var fe *fetch.FetchError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, tt.kind, fe.Kind)
			assert.Equal(t, tt.message, fe.Message())
		})
	}
}

func TestImport_MixedBatch(t *testing.T) {
	site := newSite(t)
	e := newEnv(t)

	req := models.ImportRequest{
		Category: "Field Visits",
		Media: []models.ScrapedMediaCandidate{
			{ID: "img-0-1", SourceURL: site.URL + "/img/wide.png", Name: "wide.png", Kind: models.MediaKindImage, AltText: "Volunteers"},
			{ID: "img-1-1", SourceURL: site.URL + "/img/missing.jpg", Name: "missing.jpg", Kind: models.MediaKindImage},
		},
	}
	report, err := e.importer().Import(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, report.Success)
	assert.Equal(t, 2, report.TotalRequested)
	assert.Equal(t, 1, report.TotalImported)
	assert.Equal(t, 1, report.TotalErrors)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, "img-1-1", report.Errors[0].ID)
	assert.Equal(t, "HTTP_404", report.Errors[0].Category)

	rec := report.Imported[0]
	assert.True(t, strings.HasPrefix(rec.PublicURL, "/images/scraped/field-visits/wide-"), rec.PublicURL)
	assert.Equal(t, "Field Visits", rec.Category)
	assert.Equal(t, "Volunteers", rec.AltText)
	assert.Equal(t, 1920, rec.Width, "downscaled to the max width")
	assert.Equal(t, 960, rec.Height, "aspect ratio preserved")
	assert.Equal(t, "image/png", rec.MimeType)

	// the stored blob decodes at the recorded size
	data, err := os.ReadFile(filepath.Join(e.blobs.Root(), filepath.FromSlash(rec.StoragePath)))
	require.NoError(t, err)
	decoded, _, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 1920, decoded.Width)

	cats, err := e.catalog.ListCategories(context.Background())
	require.NoError(t, err)
	require.Len(t, cats, 1)
	assert.Equal(t, "Field Visits", cats[0].Name)
}

func TestImport_CategoryCreatedExactlyOnce(t *testing.T) {
	site := newSite(t)
	e := newEnv(t)
	e.cfg.Import.MaxConcurrentDownloads = 4

	var media []models.ScrapedMediaCandidate
	for i := 0; i < 6; i++ {
		media = append(media, models.ScrapedMediaCandidate{
			ID:        "img-" + string(rune('a'+i)),
			SourceURL: site.URL + "/img/small.jpg",
			Name:      "small.jpg",
		})
	}
	report, err := e.importer().Import(context.Background(), models.ImportRequest{Media: media})
	require.NoError(t, err)
	assert.Equal(t, 6, report.TotalImported)

	seen := map[string]bool{}
	for _, rec := range report.Imported {
		assert.False(t, seen[rec.Filename], "filename reused: %s", rec.Filename)
		seen[rec.Filename] = true
		assert.Equal(t, "scraped", rec.Category)
		assert.Equal(t, "Imported image: small.jpg", rec.AltText)
	}
	cats, err := e.catalog.ListCategories(context.Background())
	require.NoError(t, err)
	assert.Len(t, cats, 1)
}

func TestImport_EmptyBatch(t *testing.T) {
	e := newEnv(t)
	_, err := e.importer().Import(context.Background(), models.ImportRequest{})
	assert.ErrorIs(t, err, ErrEmptyBatch)
	_, err = e.importer().BulkImport(context.Background(), models.BulkImportRequest{})
	assert.ErrorIs(t, err, ErrEmptyBatch)
}

func TestImport_RespectsConcurrencyLimit(t *testing.T) {
	var inFlight, peak int64
	small := encodeJPEG(t, 32, 32)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&inFlight, 1)
		for {
			p := atomic.LoadInt64(&peak)
			if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		w.Write(small)
	}))
	defer server.Close()

	e := newEnv(t)
	e.cfg.Import.MaxConcurrentDownloads = 2
	e.cfg.Import.MaxRequestsPerHost = 10

	var media []models.ScrapedMediaCandidate
	for i := 0; i < 8; i++ {
		media = append(media, models.ScrapedMediaCandidate{ID: "x", SourceURL: server.URL + "/p.jpg", Name: "p.jpg"})
	}
	report, err := e.importer().Import(context.Background(), models.ImportRequest{Media: media})
	require.NoError(t, err)
	assert.Equal(t, 8, report.TotalImported)
	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(2))
}

func TestImport_CancelledContext(t *testing.T) {
	site := newSite(t)
	e := newEnv(t)
	_, _, err := catalog.EnsureCategory(context.Background(), e.catalog, "scraped", catalog.CategoryDefaults{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := e.importer().Import(ctx, models.ImportRequest{Media: []models.ScrapedMediaCandidate{
		{ID: "a", SourceURL: site.URL + "/img/small.jpg", Name: "small.jpg"},
	}})
	require.NoError(t, err)
	assert.Zero(t, report.TotalImported)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, "System_ContextCanceled", report.Errors[0].Category)
}

func TestBulkImport(t *testing.T) {
	site := newSite(t)
	e := newEnv(t)

	req := models.BulkImportRequest{Images: []models.BulkImage{
		{URL: site.URL + "/img/small.jpg", Filename: "clinic.jpg", Extension: "jpg", Alt: "Clinic day"},
		{URL: "ftp://example.org/x.jpg"},
	}}
	report, err := e.importer().BulkImport(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 1, report.TotalImported)
	require.Equal(t, 1, report.TotalErrors)

	rec := report.Imported[0]
	assert.True(t, strings.HasPrefix(rec.StoragePath, "uploads/scraped_"), rec.StoragePath)
	assert.True(t, strings.HasSuffix(rec.StoragePath, ".jpg"))
	assert.Equal(t, "clinic.jpg", rec.OriginalName)
	assert.Equal(t, persist.SourceBulk, rec.Source)
	assert.Equal(t, []string{"scraped", "imported"}, rec.Tags)
	assert.Equal(t, "scraped", rec.Category)

	assert.Equal(t, "ftp://example.org/x.jpg", report.Errors[0].ID)
	assert.Equal(t, "Input_InvalidURL", report.Errors[0].Category)
	assert.Contains(t, report.Errors[0].Error, "invalid URL")
}

func TestNameFromURL(t *testing.T) {
	assert.Equal(t, "photo.jpg", nameFromURL("https://x.org/a/photo.jpg?w=300"))
	assert.Equal(t, "", nameFromURL("https://x.org/"))
	assert.Equal(t, "", nameFromURL("://bad"))
}
