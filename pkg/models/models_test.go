package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScrapedMediaCandidate_WireFieldNames(t *testing.T) {
	c := ScrapedMediaCandidate{
		ID:              "img-0-1",
		SourceURL:       "https://example.org/a.jpg",
		Name:            "a.jpg",
		Kind:            MediaKindImage,
		EstimatedSizeKB: 12,
		AltText:         "Volunteers",
	}

	data, err := json.Marshal(c)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "https://example.org/a.jpg", raw["url"])
	assert.Equal(t, "image", raw["type"])
	assert.Equal(t, float64(12), raw["size"])
	assert.Equal(t, "Volunteers", raw["alt"])
	assert.NotContains(t, raw, "error", "empty error should be omitted")
	assert.NotContains(t, raw, "dimensions", "unknown dimensions should be omitted")
}

func TestScrapedMediaCandidate_HasError(t *testing.T) {
	c := ScrapedMediaCandidate{}
	assert.False(t, c.HasError())
	c.Error = "Failed to load media"
	assert.True(t, c.HasError())
}

func TestImportRequest_Decode(t *testing.T) {
	body := `{"category":"Events","media":[{"id":"img-1","url":"https://x.org/p.png","name":"p.png","type":"image","selected":true}]}`

	var req ImportRequest
	require.NoError(t, json.Unmarshal([]byte(body), &req))
	require.Len(t, req.Media, 1)
	assert.Equal(t, "Events", req.Category)
	assert.Equal(t, "https://x.org/p.png", req.Media[0].SourceURL)
	assert.True(t, req.Media[0].Selected)
}

func TestMediaUpdate_Apply(t *testing.T) {
	title := "New title"
	category := "Events"
	rec := MediaRecord{Title: "old", Description: "keep", Category: "scraped", Tags: []string{"a"}}

	MediaUpdate{Title: &title, Category: &category, Tags: []string{"x", "y"}}.Apply(&rec)

	assert.Equal(t, "New title", rec.Title)
	assert.Equal(t, "keep", rec.Description, "nil fields must not change")
	assert.Equal(t, "Events", rec.Category)
	assert.Equal(t, []string{"x", "y"}, rec.Tags)
}
