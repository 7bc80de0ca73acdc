package validate

import (
	"context"
	"math"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ngo-platform/media-scraper/pkg/config"
	"github.com/ngo-platform/media-scraper/pkg/fetch"
	"github.com/ngo-platform/media-scraper/pkg/models"
	"github.com/ngo-platform/media-scraper/pkg/utils"
)

// LoadFailedMessage is attached to candidates whose probe failed
const LoadFailedMessage = "Failed to load media"

// Prober estimates a remote resource's size without downloading it
type Prober interface {
	Head(ctx context.Context, rawURL string) (*fetch.HeadResult, error)
}

// Validator annotates candidates with their estimated size and applies the filter bounds
type Validator struct {
	prober      Prober
	timeout     time.Duration
	concurrency int
	log         *logrus.Entry
}

// NewValidator creates a Validator. Probes run with cfg.HeadTimeout each and at most
// cfg.MaxCandidates at a time.
func NewValidator(prober Prober, cfg config.ScrapeConfig, log *logrus.Entry) *Validator {
	timeout := cfg.HeadTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	concurrency := cfg.MaxCandidates
	if concurrency <= 0 {
		concurrency = 50
	}
	return &Validator{prober: prober, timeout: timeout, concurrency: concurrency, log: log}
}

// Validate probes every candidate concurrently and returns the survivors in input order.
// Candidates whose probe failed are kept with Error set; candidates outside the size
// (or known dimension) bounds are dropped.
func (v *Validator) Validate(ctx context.Context, candidates []models.ScrapedMediaCandidate, filters config.ScrapeFilters) []models.ScrapedMediaCandidate {
	probed := make([]models.ScrapedMediaCandidate, len(candidates))
	copy(probed, candidates)

	var g errgroup.Group
	g.SetLimit(v.concurrency)
	for i := range probed {
		c := &probed[i]
		g.Go(func() error {
			v.probe(ctx, c)
			return nil // one failed probe never aborts the batch
		})
	}
	_ = g.Wait()

	out := make([]models.ScrapedMediaCandidate, 0, len(probed))
	dropped := 0
	for _, c := range probed {
		if !c.HasError() && (!filters.AllowsSize(c.EstimatedSizeKB) || !filters.AllowsDimensions(c.Dimensions)) {
			dropped++
			continue
		}
		out = append(out, c)
	}

	v.log.WithFields(logrus.Fields{
		"probed":  len(probed),
		"kept":    len(out),
		"dropped": dropped,
	}).Debug("Validated media candidates")
	return out
}

func (v *Validator) probe(ctx context.Context, c *models.ScrapedMediaCandidate) {
	probeCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	res, err := v.prober.Head(probeCtx, c.SourceURL)
	if err != nil {
		v.log.WithFields(logrus.Fields{
			"candidate_id": c.ID,
			"url":          c.SourceURL,
			"error_type":   utils.CategorizeError(err),
		}).Debugf("Failed to probe candidate: %v", err)
		c.Error = LoadFailedMessage
		c.EstimatedSizeBytes = 0
		c.EstimatedSizeKB = 0
		return
	}
	c.EstimatedSizeBytes = res.ContentLength
	c.EstimatedSizeKB = int64(math.Round(float64(res.ContentLength) / 1024))
}

// CountValid returns how many candidates carry no error
func CountValid(candidates []models.ScrapedMediaCandidate) int {
	n := 0
	for i := range candidates {
		if !candidates[i].HasError() {
			n++
		}
	}
	return n
}
