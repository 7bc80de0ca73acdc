package catalog

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ngo-platform/media-scraper/pkg/config"
	"github.com/ngo-platform/media-scraper/pkg/utils"
)

// Open returns the catalog engine selected by cfg.Driver. For badger, value log
// GC runs in the background until ctx is cancelled.
func Open(ctx context.Context, cfg config.CatalogConfig, log *logrus.Entry) (Store, error) {
	switch cfg.Driver {
	case "mongo":
		return NewMongoStore(ctx, cfg, log)
	case "badger", "":
		store, err := NewBadgerStore(cfg.StateDir, log)
		if err != nil {
			return nil, err
		}
		go store.RunGC(ctx, cfg.GCInterval)
		return store, nil
	}
	return nil, fmt.Errorf("%w: unknown catalog driver '%s'", utils.ErrConfigValidation, cfg.Driver)
}
