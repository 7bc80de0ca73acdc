package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngo-platform/media-scraper/pkg/utils"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newLocal(t *testing.T) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(filepath.Join(t.TempDir(), "public"), testLogger())
	require.NoError(t, err)
	return s
}

func TestCleanPath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"images/scraped/events/a.jpg", "images/scraped/events/a.jpg", false},
		{"/images/a.jpg", "images/a.jpg", false},
		{"images//x/../a.jpg", "images/a.jpg", false},
		{`images\win\a.jpg`, "images/win/a.jpg", false},
		{"../etc/passwd", "", true},
		{"images/../../x", "", true},
		{"", "", true},
		{"/", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := CleanPath(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPath)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLocalStore_WriteExistsRemove(t *testing.T) {
	ctx := context.Background()
	s := newLocal(t)

	ok, err := s.Exists(ctx, "images/scraped/events/a.jpg")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.MkdirAll(ctx, "images/scraped/events"))
	require.NoError(t, s.WriteFile(ctx, "images/scraped/events/a.jpg", []byte("jpeg-bytes"), "image/jpeg"))

	ok, err = s.Exists(ctx, "images/scraped/events/a.jpg")
	require.NoError(t, err)
	assert.True(t, ok)

	full := filepath.Join(s.Root(), "images", "scraped", "events", "a.jpg")
	data, err := os.ReadFile(full)
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(data))

	info, err := os.Stat(full)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), info.Mode().Perm())

	// overwrite replaces content
	require.NoError(t, s.WriteFile(ctx, "images/scraped/events/a.jpg", []byte("v2"), ""))
	data, _ = os.ReadFile(full)
	assert.Equal(t, "v2", string(data))

	require.NoError(t, s.Remove(ctx, "images/scraped/events/a.jpg"))
	ok, _ = s.Exists(ctx, "images/scraped/events/a.jpg")
	assert.False(t, ok)

	// removing again is fine
	assert.NoError(t, s.Remove(ctx, "images/scraped/events/a.jpg"))
}

func TestLocalStore_WriteCreatesParents(t *testing.T) {
	s := newLocal(t)
	require.NoError(t, s.WriteFile(context.Background(), "uploads/deep/nested/x.png", []byte("x"), "image/png"))
	_, err := os.Stat(filepath.Join(s.Root(), "uploads", "deep", "nested", "x.png"))
	assert.NoError(t, err)
}

func TestLocalStore_RejectsEscapes(t *testing.T) {
	s := newLocal(t)
	err := s.WriteFile(context.Background(), "../outside.txt", []byte("x"), "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrFilesystem))
	assert.True(t, errors.Is(err, ErrInvalidPath))
}

func TestLocalStore_Walk(t *testing.T) {
	ctx := context.Background()
	s := newLocal(t)
	for _, p := range []string{"images/scraped/a/1.jpg", "images/scraped/b/2.png", "uploads/3.webp", "images/scraped/.hidden"} {
		require.NoError(t, s.WriteFile(ctx, p, []byte(p), ""))
	}

	var all []string
	require.NoError(t, s.Walk(ctx, "", func(b BlobInfo) error {
		all = append(all, b.Path)
		assert.Positive(t, b.Size)
		assert.False(t, b.ModTime.IsZero())
		return nil
	}))
	sort.Strings(all)
	assert.Equal(t, []string{"images/scraped/a/1.jpg", "images/scraped/b/2.png", "uploads/3.webp"}, all)

	var scoped []string
	require.NoError(t, s.Walk(ctx, "images/scraped", func(b BlobInfo) error {
		scoped = append(scoped, b.Path)
		return nil
	}))
	assert.Len(t, scoped, 2)

	// missing prefix walks nothing
	require.NoError(t, s.Walk(ctx, "nope", func(BlobInfo) error {
		t.Fatal("unexpected blob")
		return nil
	}))

	stop := errors.New("stop")
	err := s.Walk(ctx, "", func(BlobInfo) error { return stop })
	assert.ErrorIs(t, err, stop)
}

func TestLocalStore_WalkCancelled(t *testing.T) {
	s := newLocal(t)
	require.NoError(t, s.WriteFile(context.Background(), "a/b.jpg", []byte("x"), ""))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Walk(ctx, "", func(BlobInfo) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
