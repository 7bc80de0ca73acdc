package utils

import (
	"path"
	"regexp"
	"strings"
	"unicode/utf8"
)

// --- Filename Sanitization ---
var invalidFilenameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1F\s]`) // Invalid in Windows/Unix filenames, plus whitespace
var consecutiveUnderscores = regexp.MustCompile(`_+`)
var whitespaceRun = regexp.MustCompile(`\s+`)

const maxFilenameLength = 100

// SanitizeFilename cleans a string to be safe for use as a filename component
func SanitizeFilename(name string) string {
	sanitized := strings.ToValidUTF8(name, "_")
	sanitized = invalidFilenameChars.ReplaceAllString(sanitized, "_")
	sanitized = consecutiveUnderscores.ReplaceAllString(sanitized, "_")
	sanitized = strings.Trim(sanitized, "_ .")

	if len(sanitized) > maxFilenameLength {
		sanitized = truncateRunes(sanitized, maxFilenameLength)
		sanitized = strings.Trim(sanitized, "_ .")
	}

	if sanitized == "" {
		sanitized = "untitled"
	}
	return sanitized
}

// truncateRunes cuts s to at most maxBytes without splitting a UTF-8 sequence.
func truncateRunes(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// SplitExt splits a file name into its base and lowercased extension (without the dot).
// Query strings and fragments are ignored.
func SplitExt(name string) (base, ext string) {
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	name = path.Base(name)
	ext = path.Ext(name)
	base = strings.TrimSuffix(name, ext)
	return base, strings.ToLower(strings.TrimPrefix(ext, "."))
}

// CategorySlug turns a category name into its storage directory segment:
// lowercased, whitespace runs collapsed to '-', unsafe characters replaced.
func CategorySlug(category string) string {
	slug := strings.ToLower(strings.TrimSpace(strings.ToValidUTF8(category, "_")))
	slug = whitespaceRun.ReplaceAllString(slug, "-")
	slug = invalidFilenameChars.ReplaceAllString(slug, "_")
	slug = strings.Trim(slug, "_.")
	if slug == "" {
		slug = "uncategorized"
	}
	return slug
}
