package pipeline

import (
	"context"
	"regexp"

	"github.com/sirupsen/logrus"

	"github.com/ngo-platform/media-scraper/pkg/config"
	"github.com/ngo-platform/media-scraper/pkg/extract"
	"github.com/ngo-platform/media-scraper/pkg/fetch"
	"github.com/ngo-platform/media-scraper/pkg/models"
	"github.com/ngo-platform/media-scraper/pkg/validate"
)

// PageFetcher retrieves the HTML of a remote page
type PageFetcher interface {
	FetchPage(ctx context.Context, rawURL string) (*fetch.Page, error)
}

// Scraper discovers and validates media candidates on a page
type Scraper struct {
	fetcher   PageFetcher
	extractor *extract.Extractor
	validator *validate.Validator
	cfg       config.ScrapeConfig
	log       *logrus.Entry
}

// NewScraper wires the fetch, extract and validate stages
func NewScraper(fetcher PageFetcher, prober validate.Prober, cfg config.ScrapeConfig, exclude []*regexp.Regexp, log *logrus.Entry) *Scraper {
	return &Scraper{
		fetcher:   fetcher,
		extractor: extract.NewExtractor(exclude, log.WithField("component", "extractor")),
		validator: validate.NewValidator(prober, cfg, log.WithField("component", "validator")),
		cfg:       cfg,
		log:       log,
	}
}

// Scrape fetches rawURL and returns its validated candidates.
// Page failures are returned as *fetch.FetchError; use Message() for the operator-facing text.
func (s *Scraper) Scrape(ctx context.Context, rawURL string, filters config.ScrapeFilters) (*models.ScrapeResult, error) {
	pageURL, err := fetch.ParsePageURL(rawURL)
	if err != nil {
		return nil, fetch.ClassifyError(rawURL, 0, err)
	}
	scrapeLog := s.log.WithField("url", rawURL)

	page, err := s.fetcher.FetchPage(ctx, rawURL)
	if err != nil {
		scrapeLog.Warnf("Failed to fetch page: %v", err)
		return nil, err
	}

	// relative sources resolve against the post-redirect URL
	if page.URL != nil {
		pageURL = page.URL
	}
	candidates, err := s.extractor.Extract(page.Body, pageURL, filters)
	if err != nil {
		scrapeLog.Errorf("Failed to extract media: %v", err)
		return nil, err
	}
	totalFound := len(candidates)

	capped, remainder := extract.Cap(candidates, s.cfg.MaxCandidates)
	if remainder > 0 {
		scrapeLog.Debugf("Validating first %d of %d candidates", len(capped), totalFound)
	}
	validated := s.validator.Validate(ctx, capped, filters)

	result := &models.ScrapeResult{
		Success:    true,
		Media:      validated,
		TotalFound: totalFound,
		TotalValid: validate.CountValid(validated),
	}
	scrapeLog.WithFields(logrus.Fields{
		"found":    result.TotalFound,
		"returned": len(result.Media),
		"valid":    result.TotalValid,
	}).Info("Scrape complete")
	return result, nil
}
