package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
	"github.com/sirupsen/logrus"

	"github.com/ngo-platform/media-scraper/pkg/utils"
)

// LocalStore keeps blobs under a directory on the local filesystem
type LocalStore struct {
	root string
	log  *logrus.Entry
}

// NewLocalStore creates the root directory if needed and returns a LocalStore
func NewLocalStore(root string, log *logrus.Entry) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("%w: creating blob root '%s': %w", utils.ErrFilesystem, root, err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving blob root '%s': %w", utils.ErrFilesystem, root, err)
	}
	log.Infof("Local blob store rooted at %s", abs)
	return &LocalStore{root: abs, log: log}, nil
}

// Root returns the absolute root directory
func (s *LocalStore) Root() string { return s.root }

func (s *LocalStore) resolve(p string) (string, error) {
	cleaned, err := CleanPath(p)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %w", utils.ErrFilesystem, p, err)
	}
	return filepath.Join(s.root, filepath.FromSlash(cleaned)), nil
}

func (s *LocalStore) Exists(_ context.Context, p string) (bool, error) {
	full, err := s.resolve(p)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(full)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("%w: stat '%s': %w", utils.ErrFilesystem, p, err)
}

func (s *LocalStore) MkdirAll(_ context.Context, dir string) error {
	full, err := s.resolve(dir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(full, 0755); err != nil {
		return fmt.Errorf("%w: creating directory '%s': %w", utils.ErrFilesystem, dir, err)
	}
	return nil
}

// WriteFile writes through a temp file and rename so readers never see a partial blob
func (s *LocalStore) WriteFile(_ context.Context, p string, data []byte, _ string) error {
	full, err := s.resolve(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("%w: creating directory for '%s': %w", utils.ErrFilesystem, p, err)
	}
	if err := atomic.WriteFile(full, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("%w: writing '%s': %w", utils.ErrFilesystem, p, err)
	}
	// served as static assets
	if err := os.Chmod(full, 0644); err != nil {
		s.log.Warnf("Failed to chmod '%s': %v", full, err)
	}
	s.log.WithField("path", p).Debugf("Wrote %d bytes", len(data))
	return nil
}

func (s *LocalStore) Remove(_ context.Context, p string) error {
	full, err := s.resolve(p)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: removing '%s': %w", utils.ErrFilesystem, p, err)
	}
	return nil
}

// Walk visits regular files under prefix in lexical order. Hidden files are skipped.
func (s *LocalStore) Walk(ctx context.Context, prefix string, fn func(BlobInfo) error) error {
	start := s.root
	if prefix != "" {
		var err error
		if start, err = s.resolve(prefix); err != nil {
			return err
		}
	}
	err := filepath.WalkDir(start, func(full string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && full == start {
				return fs.SkipAll
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || !d.Type().IsRegular() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.root, full)
		if err != nil {
			return err
		}
		return fn(BlobInfo{Path: filepath.ToSlash(rel), Size: info.Size(), ModTime: info.ModTime()})
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: walking '%s': %w", utils.ErrFilesystem, prefix, err)
	}
	return err
}
