package models

import "time"

// MediaKind distinguishes image candidates from video candidates
type MediaKind string

const (
	MediaKindImage MediaKind = "image"
	MediaKindVideo MediaKind = "video"
)

// Dimensions holds pixel dimensions; nil on a candidate means "unknown"
type Dimensions struct {
	Width  int `json:"width" bson:"width"`
	Height int `json:"height" bson:"height"`
}

// ScrapedMediaCandidate is a media reference discovered on a remote page.
// It only lives for the duration of one scrape request and is never persisted.
type ScrapedMediaCandidate struct {
	ID                 string      `json:"id"`
	SourceURL          string      `json:"url"`
	Name               string      `json:"name"`
	Kind               MediaKind   `json:"type"`
	Dimensions         *Dimensions `json:"dimensions,omitempty"`
	EstimatedSizeBytes int64       `json:"sizeBytes"`
	EstimatedSizeKB    int64       `json:"size"` // Rounded KB, as shown to the operator
	AltText            string      `json:"alt"`
	Title              string      `json:"title,omitempty"`
	Selected           bool        `json:"selected"`
	Error              string      `json:"error,omitempty"`
}

// HasError reports whether validation attached an error to the candidate
func (c *ScrapedMediaCandidate) HasError() bool {
	return c.Error != ""
}

// ScrapeResult is the response of a scrape operation
type ScrapeResult struct {
	Success    bool                    `json:"success"`
	Media      []ScrapedMediaCandidate `json:"media"`
	TotalFound int                     `json:"totalFound"`
	TotalValid int                     `json:"totalValid"`
}

// ImportRequest asks the pipeline to download and persist operator-selected candidates
type ImportRequest struct {
	Media    []ScrapedMediaCandidate `json:"media"`
	Category string                  `json:"category"`
}

// BulkImage is one entry of a bulk import request
type BulkImage struct {
	URL       string `json:"url"`
	Filename  string `json:"filename"`
	Extension string `json:"extension"`
	Alt       string `json:"alt"`
	Title     string `json:"title"`
}

// BulkImportRequest imports raw image URLs into the shared uploads area
type BulkImportRequest struct {
	Images []BulkImage `json:"images"`
}

// ImportError reports why a single item of a batch failed
type ImportError struct {
	ID       string `json:"id"`
	Error    string `json:"error"`
	Category string `json:"category,omitempty"` // Error category from utils.CategorizeError
}

// ImportReport aggregates the per-item outcomes of one import batch
type ImportReport struct {
	Success        bool          `json:"success"`
	Imported       []MediaRecord `json:"imported"`
	Errors         []ImportError `json:"errors"`
	TotalRequested int           `json:"totalRequested"`
	TotalImported  int           `json:"totalImported"`
	TotalErrors    int           `json:"totalErrors"`
}

// CodecMetadata describes the stored encoding of a media file
type CodecMetadata struct {
	Format            string `json:"format" bson:"format"`
	ColorSpace        string `json:"space,omitempty" bson:"space,omitempty"`
	Channels          int    `json:"channels,omitempty" bson:"channels,omitempty"`
	HasAlpha          bool   `json:"hasAlpha" bson:"hasAlpha"`
	Progressive       bool   `json:"progressive" bson:"progressive"`
	Transcoded        bool   `json:"transcoded" bson:"transcoded"`
	Quality           int    `json:"quality,omitempty" bson:"quality,omitempty"`
	OriginalSizeBytes int64  `json:"originalSize" bson:"originalSize"`
}

// MediaRecord is a persisted media library entry. Filename is unique within storage.
type MediaRecord struct {
	ID            string        `json:"id" bson:"_id"`
	Filename      string        `json:"filename" bson:"filename"`
	OriginalName  string        `json:"originalName" bson:"originalName"`
	StoragePath   string        `json:"path" bson:"path"` // Relative to the blob store root
	PublicURL     string        `json:"url" bson:"url"`
	SizeBytes     int64         `json:"size" bson:"size"`
	MimeType      string        `json:"mimetype" bson:"mimetype"`
	Width         int           `json:"width,omitempty" bson:"width,omitempty"`
	Height        int           `json:"height,omitempty" bson:"height,omitempty"`
	AltText       string        `json:"alt" bson:"alt"`
	Title         string        `json:"title,omitempty" bson:"title,omitempty"`
	Description   string        `json:"description,omitempty" bson:"description,omitempty"`
	Category      string        `json:"category" bson:"category"`
	Tags          []string      `json:"tags" bson:"tags"`
	Source        string        `json:"source,omitempty" bson:"source,omitempty"`
	SourceURL     string        `json:"sourceUrl,omitempty" bson:"sourceUrl,omitempty"`
	Checksum      string        `json:"checksum,omitempty" bson:"checksum,omitempty"`
	UploadedAt    time.Time     `json:"uploadedAt" bson:"uploadedAt"`
	UploadedBy    string        `json:"uploadedBy" bson:"uploadedBy"`
	UpdatedAt     time.Time     `json:"updatedAt,omitempty" bson:"updatedAt,omitempty"`
	Status        MediaStatus   `json:"status" bson:"status"`
	CodecMetadata CodecMetadata `json:"metadata" bson:"metadata"`
}

// MediaCategory groups media records; Name is unique
type MediaCategory struct {
	ID          string         `json:"id" bson:"_id"`
	Name        string         `json:"name" bson:"name"`
	Description string         `json:"description" bson:"description"`
	ColorTag    string         `json:"color" bson:"color"`
	CreatedAt   time.Time      `json:"createdAt" bson:"createdAt"`
	Status      CategoryStatus `json:"status" bson:"status"`
}

// MediaUpdate carries the editable fields of a media record; nil fields are left unchanged
type MediaUpdate struct {
	Title       *string  `json:"title,omitempty"`
	Description *string  `json:"description,omitempty"`
	AltText     *string  `json:"alt,omitempty"`
	Category    *string  `json:"category,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// Apply copies the non-nil fields of u onto rec
func (u MediaUpdate) Apply(rec *MediaRecord) {
	if u.Title != nil {
		rec.Title = *u.Title
	}
	if u.Description != nil {
		rec.Description = *u.Description
	}
	if u.AltText != nil {
		rec.AltText = *u.AltText
	}
	if u.Category != nil {
		rec.Category = *u.Category
	}
	if u.Tags != nil {
		rec.Tags = append([]string(nil), u.Tags...)
	}
}

// PaymentMethod is one donation channel shown on the donate page
type PaymentMethod struct {
	ID        string `json:"id" bson:"id"`
	Name      string `json:"name" bson:"name"`
	Icon      string `json:"icon" bson:"icon"`
	UpiID     string `json:"upiId" bson:"upiId"`
	Active    bool   `json:"active" bson:"active"`
	Published bool   `json:"published" bson:"published"`
}

// PaymentSettings is the single catalog-owned payment settings document.
// Version increases on every write and guards concurrent updates.
type PaymentSettings struct {
	ID        string          `json:"-" bson:"_id"`
	Methods   []PaymentMethod `json:"methods" bson:"methods"`
	Version   int64           `json:"version" bson:"version"`
	UpdatedAt time.Time       `json:"updatedAt" bson:"updatedAt"`
}

// ReconcileReport summarises one orphan reconciliation pass
type ReconcileReport struct {
	StartedAt      time.Time `json:"startedAt"`
	Duration       string    `json:"duration"`
	CheckedRecords int       `json:"checkedRecords"`
	RemovedRecords []string  `json:"removedRecords"` // Filenames whose blob was missing
	OrphanFiles    []string  `json:"orphanFiles"`    // Blob paths with no catalog row
	RemovedFiles   int       `json:"removedFiles"`
}
