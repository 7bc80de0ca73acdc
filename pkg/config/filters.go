package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ngo-platform/media-scraper/pkg/models"
	"github.com/ngo-platform/media-scraper/pkg/utils"
)

// ScrapeFilters bounds which discovered candidates are offered for import.
// Sizes are in KB. A zero maximum means "no upper bound".
type ScrapeFilters struct {
	MinWidth       int      `json:"minWidth" yaml:"min_width"`
	MaxWidth       int      `json:"maxWidth" yaml:"max_width"`
	MinHeight      int      `json:"minHeight" yaml:"min_height"`
	MaxHeight      int      `json:"maxHeight" yaml:"max_height"`
	MinFileSizeKB  int64    `json:"minFileSize" yaml:"min_file_size_kb"`
	MaxFileSizeKB  int64    `json:"maxFileSize" yaml:"max_file_size_kb"`
	Formats        []string `json:"formats" yaml:"formats"`
	IncludeAltText bool     `json:"includeAltText" yaml:"include_alt_text"`
	IncludeVideos  bool     `json:"includeVideos" yaml:"include_videos"`
}

// DefaultFormats is the out-of-the-box extension allow-list
var DefaultFormats = []string{"jpg", "jpeg", "png", "webp", "gif", "bmp", "svg"}

// DefaultScrapeFilters returns the filters applied when a request carries none
func DefaultScrapeFilters() ScrapeFilters {
	return ScrapeFilters{
		MinWidth:       0,
		MaxWidth:       5000,
		MinHeight:      0,
		MaxHeight:      5000,
		MinFileSizeKB:  0,
		MaxFileSizeKB:  10000,
		Formats:        append([]string(nil), DefaultFormats...),
		IncludeAltText: true,
		IncludeVideos:  false,
	}
}

// WithOverrides layers a partial JSON filter object over f.
// Keys absent from raw keep f's values; a present "formats" replaces the list.
func (f ScrapeFilters) WithOverrides(raw []byte) (ScrapeFilters, error) {
	merged := f
	merged.Formats = append([]string(nil), f.Formats...)
	if len(raw) == 0 || string(raw) == "null" {
		return merged, nil
	}
	if err := json.Unmarshal(raw, &merged); err != nil {
		return f, fmt.Errorf("%w: filters JSON: %w", utils.ErrParsing, err)
	}
	merged.Normalize()
	return merged, merged.Validate()
}

// Normalize lowercases and dedups formats, dropping leading dots.
func (f *ScrapeFilters) Normalize() {
	seen := make(map[string]struct{}, len(f.Formats))
	out := f.Formats[:0]
	for _, format := range f.Formats {
		format = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), "."))
		if format == "" {
			continue
		}
		if _, dup := seen[format]; dup {
			continue
		}
		seen[format] = struct{}{}
		out = append(out, format)
	}
	f.Formats = out
}

// Validate rejects contradictory bounds.
func (f ScrapeFilters) Validate() error {
	if f.MinWidth < 0 || f.MinHeight < 0 || f.MinFileSizeKB < 0 {
		return fmt.Errorf("%w: filter minimums cannot be negative", utils.ErrConfigValidation)
	}
	if f.MaxWidth > 0 && f.MinWidth > f.MaxWidth {
		return fmt.Errorf("%w: minWidth (%d) > maxWidth (%d)", utils.ErrConfigValidation, f.MinWidth, f.MaxWidth)
	}
	if f.MaxHeight > 0 && f.MinHeight > f.MaxHeight {
		return fmt.Errorf("%w: minHeight (%d) > maxHeight (%d)", utils.ErrConfigValidation, f.MinHeight, f.MaxHeight)
	}
	if f.MaxFileSizeKB > 0 && f.MinFileSizeKB > f.MaxFileSizeKB {
		return fmt.Errorf("%w: minFileSize (%d) > maxFileSize (%d)", utils.ErrConfigValidation, f.MinFileSizeKB, f.MaxFileSizeKB)
	}
	return nil
}

// AllowsFormat reports whether ext (without dot) is on the allow-list.
// Missing extensions are never allowed.
func (f ScrapeFilters) AllowsFormat(ext string) bool {
	ext = strings.ToLower(ext)
	if ext == "" {
		return false
	}
	for _, format := range f.Formats {
		if format == ext {
			return true
		}
	}
	return false
}

// AllowsSize reports whether a size in KB lies within the configured bounds
func (f ScrapeFilters) AllowsSize(sizeKB int64) bool {
	if sizeKB < f.MinFileSizeKB {
		return false
	}
	if f.MaxFileSizeKB > 0 && sizeKB > f.MaxFileSizeKB {
		return false
	}
	return true
}

// AllowsDimensions applies the pixel bounds. Unknown or zero dimensions always pass,
// since no reliable probe exists before download.
func (f ScrapeFilters) AllowsDimensions(d *models.Dimensions) bool {
	if d == nil || d.Width <= 0 || d.Height <= 0 {
		return true
	}
	if d.Width < f.MinWidth || d.Height < f.MinHeight {
		return false
	}
	if f.MaxWidth > 0 && d.Width > f.MaxWidth {
		return false
	}
	if f.MaxHeight > 0 && d.Height > f.MaxHeight {
		return false
	}
	return true
}
