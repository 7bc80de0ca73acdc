package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMediaStatus_String(t *testing.T) {
	tests := []struct {
		status MediaStatus
		want   string
	}{
		{MediaStatusUnset, "unset"},
		{MediaStatusActive, "active"},
		{MediaStatusArchived, "archived"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.String())
	}
}

func TestMediaStatus_IsValid(t *testing.T) {
	tests := []struct {
		status MediaStatus
		want   bool
	}{
		{MediaStatusActive, true},
		{MediaStatusArchived, true},
		{MediaStatusUnset, false},
		{MediaStatus("deleted"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.IsValid(), "MediaStatus(%q).IsValid()", string(tt.status))
	}
}

func TestCategoryStatus(t *testing.T) {
	assert.Equal(t, "unset", CategoryStatusUnset.String())
	assert.Equal(t, "active", CategoryStatusActive.String())
	assert.True(t, CategoryStatusActive.IsValid())
	assert.True(t, CategoryStatusInactive.IsValid())
	assert.False(t, CategoryStatus("archived").IsValid())
}
