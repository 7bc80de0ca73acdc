package catalog

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ngo-platform/media-scraper/pkg/models"
	"github.com/ngo-platform/media-scraper/pkg/utils"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// MediaQuery filters and paginates the media library
type MediaQuery struct {
	Category string
	Search   string // Case-insensitive match on filename, title or description
	Status   models.MediaStatus
	Page     int // 1-based
	Limit    int
}

// Normalize clamps paging to sane bounds
func (q *MediaQuery) Normalize() {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit <= 0 {
		q.Limit = DefaultPageLimit
	}
	if q.Limit > MaxPageLimit {
		q.Limit = MaxPageLimit
	}
	q.Search = strings.TrimSpace(q.Search)
}

// Matches applies the query's filters to a single record
func (q MediaQuery) Matches(rec *models.MediaRecord) bool {
	if q.Category != "" && rec.Category != q.Category {
		return false
	}
	if q.Status != models.MediaStatusUnset && rec.Status != q.Status {
		return false
	}
	if q.Search != "" {
		needle := strings.ToLower(q.Search)
		if !strings.Contains(strings.ToLower(rec.Filename), needle) &&
			!strings.Contains(strings.ToLower(rec.Title), needle) &&
			!strings.Contains(strings.ToLower(rec.Description), needle) {
			return false
		}
	}
	return true
}

// Pagination mirrors the media library API response
type Pagination struct {
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Pages int   `json:"pages"`
}

// NewPagination computes the page count for total items
func NewPagination(total int64, page, limit int) Pagination {
	pages := 0
	if limit > 0 {
		pages = int(math.Ceil(float64(total) / float64(limit)))
	}
	return Pagination{Total: total, Page: page, Limit: limit, Pages: pages}
}

// MediaPage is one page of query results, newest first
type MediaPage struct {
	Media      []models.MediaRecord `json:"media"`
	Pagination Pagination           `json:"pagination"`
}

// Store is the media catalog. Implementations return errors wrapping
// utils.ErrNotFound, utils.ErrDuplicate, utils.ErrConflict or utils.ErrDatabase.
type Store interface {
	FindMedia(ctx context.Context, q MediaQuery) (*MediaPage, error)
	// EachMedia streams every record regardless of status; fn returning an error stops the scan
	EachMedia(ctx context.Context, fn func(models.MediaRecord) error) error
	GetMedia(ctx context.Context, id string) (*models.MediaRecord, error)
	InsertMedia(ctx context.Context, rec *models.MediaRecord) (string, error)
	UpdateMedia(ctx context.Context, id string, upd models.MediaUpdate) (*models.MediaRecord, error)
	DeleteMedia(ctx context.Context, id string) error

	FindCategory(ctx context.Context, name string) (*models.MediaCategory, error)
	InsertCategory(ctx context.Context, cat *models.MediaCategory) error
	ListCategories(ctx context.Context) ([]models.MediaCategory, error)

	// GetPaymentSettings returns utils.ErrNotFound before the first save
	GetPaymentSettings(ctx context.Context) (*models.PaymentSettings, error)
	// SavePaymentSettings stores s if the stored version still equals expectedVersion
	// (0 = not yet stored), bumping s.Version. Otherwise it returns utils.ErrConflict.
	SavePaymentSettings(ctx context.Context, s *models.PaymentSettings, expectedVersion int64) error

	Close(ctx context.Context) error
}

// CategoryDefaults are applied to lazily created categories
type CategoryDefaults struct {
	Description string
	ColorTag    string
}

// EnsureCategory returns the named category, creating it when missing.
// created is true only for the caller whose insert won.
func EnsureCategory(ctx context.Context, s Store, name string, defaults CategoryDefaults) (cat *models.MediaCategory, created bool, err error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false, fmt.Errorf("%w: empty category name", utils.ErrConfigValidation)
	}
	cat, err = s.FindCategory(ctx, name)
	if err == nil {
		return cat, false, nil
	}
	if !errors.Is(err, utils.ErrNotFound) {
		return nil, false, err
	}

	newCat := &models.MediaCategory{
		ID:          uuid.NewString(),
		Name:        name,
		Description: defaults.Description,
		ColorTag:    defaults.ColorTag,
		CreatedAt:   time.Now().UTC(),
		Status:      models.CategoryStatusActive,
	}
	err = s.InsertCategory(ctx, newCat)
	if err == nil {
		return newCat, true, nil
	}
	if errors.Is(err, utils.ErrDuplicate) {
		// lost a race with a concurrent creator
		cat, err = s.FindCategory(ctx, name)
		return cat, false, err
	}
	return nil, false, err
}

// NewMediaID generates a record identifier
func NewMediaID() string {
	return uuid.NewString()
}
