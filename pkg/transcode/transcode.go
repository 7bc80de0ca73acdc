package transcode

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif" // register GIF for DecodeConfig on pass-through images
	"image/png"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"

	"github.com/ngo-platform/media-scraper/pkg/models"
	"github.com/ngo-platform/media-scraper/pkg/utils"
)

// Sniffed container formats
const (
	FormatJPEG = "jpeg"
	FormatPNG  = "png"
	FormatWEBP = "webp"
	FormatGIF  = "gif"
	FormatSVG  = "svg"
)

// Preset selects the re-encode parameters for one import path
type Preset struct {
	Name           string
	MaxWidth       int
	JPEGQuality    int
	WEBPQuality    float32
	PNGCompression png.CompressionLevel
}

// ScrapeImportPreset is used for operator-selected candidates from a scraped page
var ScrapeImportPreset = Preset{
	Name:           "scrape",
	MaxWidth:       1920,
	JPEGQuality:    90,
	WEBPQuality:    90,
	PNGCompression: png.BestCompression,
}

// BulkImportPreset is used for raw URL lists posted to the bulk importer
var BulkImportPreset = Preset{
	Name:           "bulk",
	MaxWidth:       1920,
	JPEGQuality:    85,
	WEBPQuality:    85,
	PNGCompression: png.DefaultCompression,
}

// WithMaxWidth returns a copy of p using maxWidth when it is positive
func (p Preset) WithMaxWidth(maxWidth int) Preset {
	if maxWidth > 0 {
		p.MaxWidth = maxWidth
	}
	return p
}

// Result is the final buffer to persist plus what is known about it
type Result struct {
	Data       []byte
	SizeBytes  int64
	Width      int // 0 when undeterminable
	Height     int
	Format     string // Sniffed format, "" when unknown
	Transcoded bool
	Meta       models.CodecMetadata
}

// MimeType returns the content type for the result's format
func (r Result) MimeType() string {
	return MimeTypeFor(r.Format)
}

// Transcoder re-encodes downloaded images to bound their size
type Transcoder struct {
	log *logrus.Entry
}

// NewTranscoder creates a Transcoder
func NewTranscoder(log *logrus.Entry) *Transcoder {
	return &Transcoder{log: log}
}

// Transcode optimizes jpeg/png/webp payloads: real dimensions are read, images wider
// than preset.MaxWidth are downscaled proportionally, and the result is re-encoded in
// its own format. Any failure yields the original bytes. Other formats pass through.
func (t *Transcoder) Transcode(data []byte, preset Preset) Result {
	format := Sniff(data)
	original := t.passThrough(data, format)

	switch format {
	case FormatJPEG, FormatPNG, FormatWEBP:
	default:
		return original
	}

	img, err := decode(data, format)
	if err != nil {
		t.log.WithField("format", format).Warnf("Failed to decode image, keeping original bytes: %v", err)
		return original
	}

	if preset.MaxWidth > 0 && img.Bounds().Dx() > preset.MaxWidth {
		img = imaging.Resize(img, preset.MaxWidth, 0, imaging.Lanczos)
	}

	out, quality, err := encode(img, format, preset)
	if err != nil {
		t.log.WithField("format", format).Warnf("Failed to re-encode image, keeping original bytes: %v", err)
		return original
	}

	b := img.Bounds()
	meta := describe(img, format)
	meta.Transcoded = true
	meta.Quality = quality
	meta.OriginalSizeBytes = int64(len(data))

	t.log.WithFields(logrus.Fields{
		"format": format,
		"preset": preset.Name,
		"before": len(data),
		"after":  len(out),
		"width":  b.Dx(),
	}).Debug("Transcoded image")

	return Result{
		Data:       out,
		SizeBytes:  int64(len(out)),
		Width:      b.Dx(),
		Height:     b.Dy(),
		Format:     format,
		Transcoded: true,
		Meta:       meta,
	}
}

// passThrough wraps the original bytes, reading dimensions from the header when possible
func (t *Transcoder) passThrough(data []byte, format string) Result {
	r := Result{
		Data:      data,
		SizeBytes: int64(len(data)),
		Format:    format,
		Meta: models.CodecMetadata{
			Format:            format,
			OriginalSizeBytes: int64(len(data)),
		},
	}
	var cfg image.Config
	var err error
	switch format {
	case FormatWEBP:
		cfg, err = webp.DecodeConfig(bytes.NewReader(data))
	case FormatJPEG, FormatPNG, FormatGIF:
		cfg, _, err = image.DecodeConfig(bytes.NewReader(data))
	default:
		return r
	}
	if err == nil {
		r.Width, r.Height = cfg.Width, cfg.Height
	}
	return r
}

func decode(data []byte, format string) (image.Image, error) {
	var img image.Image
	var err error
	if format == FormatWEBP {
		img, err = webp.Decode(bytes.NewReader(data))
	} else {
		img, err = imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", utils.ErrTranscode, format, err)
	}
	return img, nil
}

// encode writes img in format and reports the quality used (0 for lossless PNG)
func encode(img image.Image, format string, preset Preset) ([]byte, int, error) {
	var buf bytes.Buffer
	var quality int
	var err error

	switch format {
	case FormatPNG:
		err = imaging.Encode(&buf, img, imaging.PNG, imaging.PNGCompressionLevel(preset.PNGCompression))
	case FormatWEBP:
		quality = int(preset.WEBPQuality)
		err = webp.Encode(&buf, img, &webp.Options{Quality: preset.WEBPQuality})
	default:
		// image/jpeg only writes baseline JPEG
		quality = preset.JPEGQuality
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(preset.JPEGQuality))
	}
	if err != nil {
		return nil, 0, fmt.Errorf("%w: encode %s: %w", utils.ErrTranscode, format, err)
	}
	return buf.Bytes(), quality, nil
}

func describe(img image.Image, format string) models.CodecMetadata {
	meta := models.CodecMetadata{Format: format, ColorSpace: "srgb", Channels: 3}
	switch img.ColorModel() {
	case color.GrayModel, color.Gray16Model:
		meta.ColorSpace = "b-w"
		meta.Channels = 1
	}
	if o, ok := img.(interface{ Opaque() bool }); ok && !o.Opaque() {
		meta.HasAlpha = true
		meta.Channels++
	}
	return meta
}

// Sniff identifies a payload's container format from its magic bytes
func Sniff(data []byte) string {
	switch {
	case len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return FormatJPEG
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		return FormatPNG
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP":
		return FormatWEBP
	case bytes.HasPrefix(data, []byte("GIF87a")), bytes.HasPrefix(data, []byte("GIF89a")):
		return FormatGIF
	case looksLikeSVG(data):
		return FormatSVG
	}
	return ""
}

func looksLikeSVG(data []byte) bool {
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	head = bytes.ToLower(bytes.TrimSpace(head))
	return bytes.Contains(head, []byte("<svg"))
}

// MimeTypeFor maps a sniffed format to its content type
func MimeTypeFor(format string) string {
	switch format {
	case FormatJPEG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	case FormatWEBP:
		return "image/webp"
	case FormatGIF:
		return "image/gif"
	case FormatSVG:
		return "image/svg+xml"
	}
	return "application/octet-stream"
}

// ExtensionFor maps a sniffed format to the file extension used when storing it
func ExtensionFor(format string) string {
	switch format {
	case FormatJPEG:
		return "jpg"
	case FormatPNG, FormatWEBP, FormatGIF, FormatSVG:
		return format
	}
	return ""
}
