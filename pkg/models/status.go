package models

// MediaStatus represents the lifecycle state of a media record
type MediaStatus string

const (
	MediaStatusUnset    MediaStatus = ""         // Zero value = unset/unknown
	MediaStatusActive   MediaStatus = "active"   // Blob exists and is served
	MediaStatusArchived MediaStatus = "archived" // Hidden from the library, blob kept
)

// String implements fmt.Stringer for logging
func (s MediaStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known operational value
func (s MediaStatus) IsValid() bool {
	switch s {
	case MediaStatusActive, MediaStatusArchived:
		return true
	}
	return false
}

// CategoryStatus represents the state of a media category
type CategoryStatus string

const (
	CategoryStatusUnset    CategoryStatus = ""
	CategoryStatusActive   CategoryStatus = "active"
	CategoryStatusInactive CategoryStatus = "inactive"
)

// String implements fmt.Stringer for logging
func (s CategoryStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known operational value
func (s CategoryStatus) IsValid() bool {
	switch s {
	case CategoryStatusActive, CategoryStatusInactive:
		return true
	}
	return false
}
