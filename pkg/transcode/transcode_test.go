package transcode

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"testing"

	"github.com/chai2010/webp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func gradient(w, h int, alpha bool) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			a := uint8(255)
			if alpha && x < w/2 {
				a = 128
			}
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x % 256), G: uint8(y % 256), B: 90, A: a})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 100}))
	return buf.Bytes()
}

func TestSniff(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"JPEG", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0}, FormatJPEG},
		{"PNG", []byte("\x89PNG\r\n\x1a\n...."), FormatPNG},
		{"WEBP", []byte("RIFF\x00\x00\x00\x00WEBPVP8 "), FormatWEBP},
		{"GIF", []byte("GIF89a......"), FormatGIF},
		{"SVG", []byte(`<?xml version="1.0"?><svg xmlns="http://www.w3.org/2000/svg"></svg>`), FormatSVG},
		{"Unknown", []byte("hello world"), ""},
		{"Empty", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sniff(tt.data))
		})
	}
}

func TestTranscode_DownscalesWideImages(t *testing.T) {
	tr := NewTranscoder(testLogger())
	data := encodePNG(t, gradient(2400, 600, false))

	res := tr.Transcode(data, ScrapeImportPreset)

	require.True(t, res.Transcoded)
	assert.Equal(t, FormatPNG, res.Format)
	assert.Equal(t, 1920, res.Width)
	assert.Equal(t, 480, res.Height)
	assert.InDelta(t, 2400.0/600.0, float64(res.Width)/float64(res.Height), 0.01)

	cfg, format, err := image.DecodeConfig(bytes.NewReader(res.Data))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 1920, cfg.Width)
	assert.Equal(t, int64(len(res.Data)), res.SizeBytes)
	assert.Equal(t, int64(len(data)), res.Meta.OriginalSizeBytes)
}

func TestTranscode_OddAspectRoundsWithinOnePixel(t *testing.T) {
	tr := NewTranscoder(testLogger())
	data := encodeJPEG(t, gradient(2001, 1333, false))

	res := tr.Transcode(data, ScrapeImportPreset)

	require.True(t, res.Transcoded)
	assert.Equal(t, 1920, res.Width)
	expected := 1333.0 * 1920.0 / 2001.0
	assert.InDelta(t, expected, float64(res.Height), 1.0)
}

func TestTranscode_NeverUpscales(t *testing.T) {
	tr := NewTranscoder(testLogger())
	data := encodeJPEG(t, gradient(640, 480, false))

	res := tr.Transcode(data, ScrapeImportPreset)

	require.True(t, res.Transcoded)
	assert.Equal(t, 640, res.Width)
	assert.Equal(t, 480, res.Height)
	assert.Equal(t, FormatJPEG, res.Format)
	assert.Equal(t, "image/jpeg", res.MimeType())
}

func TestTranscode_PresetQualities(t *testing.T) {
	tr := NewTranscoder(testLogger())
	data := encodeJPEG(t, gradient(300, 200, false))

	scrape := tr.Transcode(data, ScrapeImportPreset)
	bulk := tr.Transcode(data, BulkImportPreset)

	assert.Equal(t, 90, scrape.Meta.Quality)
	assert.Equal(t, 85, bulk.Meta.Quality)
	assert.False(t, scrape.Meta.Progressive)
	assert.LessOrEqual(t, len(bulk.Data), len(scrape.Data))
}

func TestTranscode_PNGKeepsAlpha(t *testing.T) {
	tr := NewTranscoder(testLogger())
	res := tr.Transcode(encodePNG(t, gradient(64, 64, true)), ScrapeImportPreset)

	require.True(t, res.Transcoded)
	assert.True(t, res.Meta.HasAlpha)
	assert.Equal(t, 4, res.Meta.Channels)
	assert.Zero(t, res.Meta.Quality)
}

func TestTranscode_WEBP(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, webp.Encode(&buf, gradient(2200, 100, false), &webp.Options{Lossless: true}))

	res := NewTranscoder(testLogger()).Transcode(buf.Bytes(), ScrapeImportPreset)

	require.True(t, res.Transcoded)
	assert.Equal(t, FormatWEBP, res.Format)
	assert.Equal(t, 1920, res.Width)
	assert.Equal(t, 90, res.Meta.Quality)

	cfg, err := webp.DecodeConfig(bytes.NewReader(res.Data))
	require.NoError(t, err)
	assert.Equal(t, 1920, cfg.Width)
}

func TestTranscode_CorruptImageFallsBackToOriginal(t *testing.T) {
	data := append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, bytes.Repeat([]byte{0x42}, 64)...)

	res := NewTranscoder(testLogger()).Transcode(data, ScrapeImportPreset)

	assert.False(t, res.Transcoded)
	assert.Equal(t, data, res.Data)
	assert.Equal(t, FormatJPEG, res.Format)
	assert.Zero(t, res.Width)
}

func TestTranscode_PassThrough(t *testing.T) {
	tr := NewTranscoder(testLogger())

	var gifBuf bytes.Buffer
	pal := image.NewPaletted(image.Rect(0, 0, 30, 20), color.Palette{color.Black, color.White})
	require.NoError(t, gif.Encode(&gifBuf, pal, nil))

	res := tr.Transcode(gifBuf.Bytes(), ScrapeImportPreset)
	assert.False(t, res.Transcoded)
	assert.Equal(t, gifBuf.Bytes(), res.Data)
	assert.Equal(t, 30, res.Width)
	assert.Equal(t, 20, res.Height)
	assert.Equal(t, "image/gif", res.MimeType())

	svg := []byte(`<svg xmlns="http://www.w3.org/2000/svg" width="10" height="10"></svg>`)
	res = tr.Transcode(svg, ScrapeImportPreset)
	assert.False(t, res.Transcoded)
	assert.Equal(t, svg, res.Data)
	assert.Equal(t, FormatSVG, res.Format)
	assert.Zero(t, res.Width)

	unknown := []byte("not an image at all")
	res = tr.Transcode(unknown, BulkImportPreset)
	assert.Equal(t, unknown, res.Data)
	assert.Equal(t, "application/octet-stream", res.MimeType())
}

func TestPresetWithMaxWidth(t *testing.T) {
	assert.Equal(t, 800, ScrapeImportPreset.WithMaxWidth(800).MaxWidth)
	assert.Equal(t, 1920, ScrapeImportPreset.WithMaxWidth(0).MaxWidth)
	assert.Equal(t, 1920, ScrapeImportPreset.MaxWidth)
}

func TestExtensionFor(t *testing.T) {
	assert.Equal(t, "jpg", ExtensionFor(FormatJPEG))
	assert.Equal(t, "webp", ExtensionFor(FormatWEBP))
	assert.Equal(t, "", ExtensionFor(""))
}
