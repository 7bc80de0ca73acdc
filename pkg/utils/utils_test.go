package utils

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"unicode/utf8"
)

// --- CategorizeError Tests ---

func TestCategorizeError_NilError(t *testing.T) {
	result := CategorizeError(nil)
	if result != "None" {
		t.Errorf("CategorizeError(nil) = %q, want %q", result, "None")
	}
}

func TestCategorizeError_SentinelErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"RobotsDisallowed", ErrRobotsDisallowed, "Policy_Robots"},
		{"InvalidURL", ErrInvalidURL, "Input_InvalidURL"},
		{"BodyTooLarge", ErrBodyTooLarge, "Policy_BodyTooLarge"},
		{"Transcode", ErrTranscode, "Media_Transcode"},
		{"SemaphoreTimeout", ErrSemaphoreTimeout, "Resource_SemaphoreTimeout"},
		{"RequestCreation", ErrRequestCreation, "Internal_RequestCreation"},
		{"ResponseBodyRead", ErrResponseBodyRead, "Network_BodyRead"},
		{"ConfigValidation", ErrConfigValidation, "Config_Validation"},
		{"ServerHTTPError", ErrServerHTTPError, "HTTP_5xx"},
		{"OtherHTTPError", ErrOtherHTTPError, "HTTP_OtherStatus"},
		{"Duplicate", ErrDuplicate, "Database_Duplicate"},
		{"Conflict", ErrConflict, "Database_Conflict"},
		{"NotFound", ErrNotFound, "Database_NotFound"},
		{"Database", ErrDatabase, "Database_Other"},
		{"Filesystem", ErrFilesystem, "Filesystem_Other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CategorizeError(tt.err)
			if result != tt.expected {
				t.Errorf("CategorizeError(%v) = %q, want %q", tt.err, result, tt.expected)
			}
		})
	}
}

func TestCategorizeError_WrappedErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"WrappedFilesystemPermission", fmt.Errorf("%w: write: %w", ErrFilesystem, os.ErrPermission), "Filesystem_Permission"},
		{"WrappedFilesystemNotExist", fmt.Errorf("%w: stat: %w", ErrFilesystem, os.ErrNotExist), "Filesystem_NotExist"},
		{"WrappedDuplicateInDatabase", fmt.Errorf("%w: insert: %w", ErrDatabase, ErrDuplicate), "Database_Duplicate"},
		{"RetryFailedServer", fmt.Errorf("%w: %w", ErrRetryFailed, fmt.Errorf("%w: status 503", ErrServerHTTPError)), "RetryFailed_HTTPServer"},
		{"RetryFailedDNS", fmt.Errorf("%w: %w", ErrRetryFailed, errors.New("dial tcp: lookup x: no such host")), "RetryFailed_DNSLookup"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CategorizeError(tt.err)
			if result != tt.expected {
				t.Errorf("CategorizeError(%v) = %q, want %q", tt.err, result, tt.expected)
			}
		})
	}
}

func TestCategorizeError_ClientHTTPCodes(t *testing.T) {
	tests := []struct {
		code     int
		expected string
	}{
		{404, "HTTP_404"},
		{403, "HTTP_403"},
		{401, "HTTP_401"},
		{429, "HTTP_429"},
		{418, "HTTP_4xx"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.code), func(t *testing.T) {
			err := fmt.Errorf("%w: status %d ", ErrClientHTTPError, tt.code)
			if got := CategorizeError(err); got != tt.expected {
				t.Errorf("CategorizeError(%v) = %q, want %q", err, got, tt.expected)
			}
		})
	}
}

func TestCategorizeError_ContextErrors(t *testing.T) {
	if got := CategorizeError(context.Canceled); got != "System_ContextCanceled" {
		t.Errorf("got %q", got)
	}
	if got := CategorizeError(context.DeadlineExceeded); got != "System_ContextDeadlineExceeded" {
		t.Errorf("got %q", got)
	}
}

func TestCategorizeError_Unknown(t *testing.T) {
	if got := CategorizeError(errors.New("something odd")); got != "Unknown" {
		t.Errorf("CategorizeError() = %q, want Unknown", got)
	}
}

// --- Filename helpers ---

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Simple", "hello", "hello"},
		{"WithSpaces", "hello world", "hello_world"},
		{"WithSlash", "path/to/file", "path_to_file"},
		{"WithColon", "file:name", "file_name"},
		{"ConsecutiveUnderscores", "a___b", "a_b"},
		{"LeadingTrailingSpaces", "  file  ", "file"},
		{"LeadingDot", ".hidden", "hidden"},
		{"Empty", "", "untitled"},
		{"OnlyInvalidChars", "<>:", "untitled"},
		{"NullChar", "file\x00name", "file_name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SanitizeFilename(tt.input)
			if result != tt.expected {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestSanitizeFilename_LongNames(t *testing.T) {
	result := SanitizeFilename(strings.Repeat("a", 250))
	if len(result) != maxFilenameLength {
		t.Errorf("len = %d, want %d", len(result), maxFilenameLength)
	}
}

func TestSanitizeFilename_MultiByteNames(t *testing.T) {
	// 40 three-byte runes, cut at 100 bytes would split the 34th
	result := SanitizeFilename(strings.Repeat("日", 40))
	if !utf8.ValidString(result) {
		t.Fatalf("result is not valid UTF-8: %q", result)
	}
	if want := strings.Repeat("日", 33); result != want {
		t.Errorf("SanitizeFilename = %q, want %q", result, want)
	}

	if got := SanitizeFilename("\xffphoto\xfe"); got != "photo" {
		t.Errorf("invalid bytes should be replaced, got %q", got)
	}
	if got := CategorySlug("Rescue\xff"); !utf8.ValidString(got) {
		t.Errorf("CategorySlug produced invalid UTF-8: %q", got)
	}
}

func TestSplitExt(t *testing.T) {
	tests := []struct {
		input    string
		wantBase string
		wantExt  string
	}{
		{"photo.JPG", "photo", "jpg"},
		{"/a/b/banner.webp?w=300", "banner", "webp"},
		{"archive.tar.gz", "archive.tar", "gz"},
		{"noext", "noext", ""},
		{"img.png#frag", "img", "png"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			base, ext := SplitExt(tt.input)
			if base != tt.wantBase || ext != tt.wantExt {
				t.Errorf("SplitExt(%q) = (%q, %q), want (%q, %q)", tt.input, base, ext, tt.wantBase, tt.wantExt)
			}
		})
	}
}

func TestCategorySlug(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Events", "events"},
		{"Field Work  2024", "field-work-2024"},
		{"  Gallery ", "gallery"},
		{"a/b", "a_b"},
		{"", "uncategorized"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := CategorySlug(tt.input); got != tt.expected {
				t.Errorf("CategorySlug(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

// --- Regex ---

func TestCompileRegexPatterns_EmptyStringsSkipped(t *testing.T) {
	compiled, err := CompileRegexPatterns([]string{"", `pixel\.gif$`, ""})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(compiled) != 1 {
		t.Fatalf("len = %d, want 1", len(compiled))
	}
	if !MatchesAny(compiled, "https://x.org/pixel.gif") {
		t.Error("expected pattern to match")
	}
	if MatchesAny(compiled, "https://x.org/photo.jpg") {
		t.Error("unexpected match")
	}
}

func TestCompileRegexPatterns_InvalidPattern(t *testing.T) {
	_, err := CompileRegexPatterns([]string{"ok", "[unclosed"})
	if err == nil {
		t.Fatal("expected error for invalid pattern")
	}
	if !errors.Is(err, ErrConfigValidation) {
		t.Errorf("expected ErrConfigValidation, got %v", err)
	}
	if !strings.Contains(err.Error(), "#2") {
		t.Errorf("error should reference pattern index: %v", err)
	}
}

// --- Checksums ---

func TestContentChecksum(t *testing.T) {
	a := ContentChecksum([]byte("abc"))
	b := ContentChecksum([]byte("abc"))
	c := ContentChecksum([]byte("abd"))
	if a != b {
		t.Error("checksum should be deterministic")
	}
	if a == c {
		t.Error("different payloads should differ")
	}
	if len(a) != 64 {
		t.Errorf("len = %d, want 64 hex chars", len(a))
	}
}
