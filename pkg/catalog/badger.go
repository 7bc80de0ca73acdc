package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/ngo-platform/media-scraper/pkg/log"
	"github.com/ngo-platform/media-scraper/pkg/models"
	"github.com/ngo-platform/media-scraper/pkg/utils"
)

const (
	mediaKeyPrefix    = "media:"    // media:{id} -> MediaRecord JSON
	filenameKeyPrefix = "media_fn:" // media_fn:{filename} -> id
	categoryKeyPrefix = "cat:"      // cat:{lowercased name} -> MediaCategory JSON
	paymentSettingsID = "payment"
	settingsKey       = "settings:" + paymentSettingsID
)

// BadgerStore implements Store on an embedded BadgerDB, for single-node and dev deployments
type BadgerStore struct {
	db  *badger.DB
	log *logrus.Entry
}

// NewBadgerStore opens (or creates) the catalog database under stateDir
func NewBadgerStore(stateDir string, logger *logrus.Entry) (*BadgerStore, error) {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("%w: creating catalog directory %s: %w", utils.ErrFilesystem, stateDir, err)
	}

	logger.Infof("Opening badger catalog at: %s", stateDir)
	opts := badger.DefaultOptions(stateDir).
		WithLogger(log.NewBadgerLogrusAdapter(logger.WithField("component", "badgerdb"))).
		WithNumVersionsToKeep(1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: opening badger database at %s: %w", utils.ErrDatabase, stateDir, err)
	}
	return &BadgerStore{db: db, log: logger}, nil
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts.
// Concurrent MVCC transactions on overlapping keys can return badger.ErrConflict;
// these resolve in microseconds, so a tight retry loop is sufficient.
func (s *BadgerStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

// getJSON decodes the value at key into dst, returning utils.ErrNotFound when absent
func getJSON(txn *badger.Txn, key []byte, dst any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: %s", utils.ErrNotFound, string(key))
	}
	if err != nil {
		return fmt.Errorf("%w: reading key '%s': %w", utils.ErrDatabase, string(key), err)
	}
	return item.Value(func(val []byte) error {
		if errJson := json.Unmarshal(val, dst); errJson != nil {
			return fmt.Errorf("%w: decoding JSON for key '%s': %w", utils.ErrParsing, string(key), errJson)
		}
		return nil
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encoding JSON for key '%s': %w", utils.ErrParsing, string(key), err)
	}
	return txn.SetEntry(badger.NewEntry(key, data))
}

// wrapDB tags engine errors as database errors, leaving already-classified errors alone
func wrapDB(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{utils.ErrNotFound, utils.ErrDuplicate, utils.ErrConflict, utils.ErrDatabase, utils.ErrParsing} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return fmt.Errorf("%w: %s: %w", utils.ErrDatabase, op, err)
}

func categoryKey(name string) []byte {
	return []byte(categoryKeyPrefix + strings.ToLower(strings.TrimSpace(name)))
}

// scanMedia iterates every media record
func (s *BadgerStore) scanMedia(ctx context.Context, fn func(models.MediaRecord) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(mediaKeyPrefix)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			var rec models.MediaRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				s.log.Warnf("Skipping undecodable media record '%s': %v", string(it.Item().Key()), err)
				continue
			}
			if err := fn(rec); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) FindMedia(ctx context.Context, q MediaQuery) (*MediaPage, error) {
	q.Normalize()
	var matched []models.MediaRecord
	err := s.scanMedia(ctx, func(rec models.MediaRecord) error {
		if q.Matches(&rec) {
			matched = append(matched, rec)
		}
		return nil
	})
	if err != nil {
		return nil, wrapDB("scanning media", err)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].UploadedAt.After(matched[j].UploadedAt)
	})

	start := (q.Page - 1) * q.Limit
	end := start + q.Limit
	if start > len(matched) {
		start = len(matched)
	}
	if end > len(matched) {
		end = len(matched)
	}
	return &MediaPage{
		Media:      append([]models.MediaRecord{}, matched[start:end]...),
		Pagination: NewPagination(int64(len(matched)), q.Page, q.Limit),
	}, nil
}

func (s *BadgerStore) EachMedia(ctx context.Context, fn func(models.MediaRecord) error) error {
	return s.scanMedia(ctx, fn)
}

func (s *BadgerStore) GetMedia(_ context.Context, id string) (*models.MediaRecord, error) {
	var rec models.MediaRecord
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, []byte(mediaKeyPrefix+id), &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// InsertMedia stores rec; a second record with the same filename fails with utils.ErrDuplicate
func (s *BadgerStore) InsertMedia(_ context.Context, rec *models.MediaRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = NewMediaID()
	}
	fnKey := []byte(filenameKeyPrefix + rec.Filename)
	idKey := []byte(mediaKeyPrefix + rec.ID)

	err := s.dbUpdate(func(txn *badger.Txn) error {
		if _, err := txn.Get(fnKey); err == nil {
			return fmt.Errorf("%w: filename '%s'", utils.ErrDuplicate, rec.Filename)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if _, err := txn.Get(idKey); err == nil {
			return fmt.Errorf("%w: media id '%s'", utils.ErrDuplicate, rec.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := setJSON(txn, idKey, rec); err != nil {
			return err
		}
		return txn.SetEntry(badger.NewEntry(fnKey, []byte(rec.ID)))
	})
	if err != nil {
		s.log.WithField("filename", rec.Filename).Debugf("Failed to insert media record: %v", err)
		return "", wrapDB("inserting media", err)
	}
	return rec.ID, nil
}

func (s *BadgerStore) UpdateMedia(_ context.Context, id string, upd models.MediaUpdate) (*models.MediaRecord, error) {
	var rec models.MediaRecord
	key := []byte(mediaKeyPrefix + id)
	err := s.dbUpdate(func(txn *badger.Txn) error {
		if err := getJSON(txn, key, &rec); err != nil {
			return err
		}
		upd.Apply(&rec)
		rec.UpdatedAt = time.Now().UTC()
		return setJSON(txn, key, &rec)
	})
	if err != nil {
		return nil, wrapDB("updating media", err)
	}
	return &rec, nil
}

func (s *BadgerStore) DeleteMedia(_ context.Context, id string) error {
	key := []byte(mediaKeyPrefix + id)
	err := s.dbUpdate(func(txn *badger.Txn) error {
		var rec models.MediaRecord
		if err := getJSON(txn, key, &rec); err != nil {
			return err
		}
		if err := txn.Delete([]byte(filenameKeyPrefix + rec.Filename)); err != nil {
			return err
		}
		return txn.Delete(key)
	})
	return wrapDB("deleting media", err)
}

// FindCategory looks a category up by name, case-insensitively
func (s *BadgerStore) FindCategory(_ context.Context, name string) (*models.MediaCategory, error) {
	var cat models.MediaCategory
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, categoryKey(name), &cat)
	})
	if err != nil {
		return nil, err
	}
	return &cat, nil
}

func (s *BadgerStore) InsertCategory(_ context.Context, cat *models.MediaCategory) error {
	key := categoryKey(cat.Name)
	err := s.dbUpdate(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return fmt.Errorf("%w: category '%s'", utils.ErrDuplicate, cat.Name)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return setJSON(txn, key, cat)
	})
	if err == nil {
		s.log.WithField("category", cat.Name).Info("Created media category")
	}
	return wrapDB("inserting category", err)
}

func (s *BadgerStore) ListCategories(ctx context.Context) ([]models.MediaCategory, error) {
	var cats []models.MediaCategory
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(categoryKeyPrefix)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var cat models.MediaCategory
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &cat) }); err != nil {
				s.log.Warnf("Skipping undecodable category '%s': %v", string(it.Item().Key()), err)
				continue
			}
			cats = append(cats, cat)
		}
		return nil
	})
	if err != nil {
		return nil, wrapDB("listing categories", err)
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i].Name < cats[j].Name })
	return cats, nil
}

func (s *BadgerStore) GetPaymentSettings(_ context.Context) (*models.PaymentSettings, error) {
	var ps models.PaymentSettings
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, []byte(settingsKey), &ps)
	})
	if err != nil {
		return nil, err
	}
	ps.ID = paymentSettingsID
	return &ps, nil
}

func (s *BadgerStore) SavePaymentSettings(_ context.Context, ps *models.PaymentSettings, expectedVersion int64) error {
	key := []byte(settingsKey)
	next := *ps
	next.ID = paymentSettingsID
	next.Version = expectedVersion + 1
	next.UpdatedAt = time.Now().UTC()

	err := s.dbUpdate(func(txn *badger.Txn) error {
		var current models.PaymentSettings
		err := getJSON(txn, key, &current)
		switch {
		case errors.Is(err, utils.ErrNotFound):
			current.Version = 0
		case err != nil:
			return err
		}
		if current.Version != expectedVersion {
			return fmt.Errorf("%w: payment settings at version %d, expected %d", utils.ErrConflict, current.Version, expectedVersion)
		}
		return setJSON(txn, key, &next)
	})
	if err != nil {
		return wrapDB("saving payment settings", err)
	}
	*ps = next
	return nil
}

// RunGC runs BadgerDB's value log garbage collection periodically until ctx is done
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Debug("BadgerDB GC goroutine started.")
	for {
		select {
		case <-ticker.C:
			if s.db == nil || s.db.IsClosed() {
				continue
			}
			var err error
			for {
				// Rewrite while at least half of a value log file is reclaimable
				if err = s.db.RunValueLogGC(0.5); err != nil {
					break
				}
			}
			if !errors.Is(err, badger.ErrNoRewrite) {
				s.log.Errorf("BadgerDB GC error: %v", err)
			}
		case <-ctx.Done():
			s.log.Debugf("Stopping BadgerDB garbage collection: %v", ctx.Err())
			return
		}
	}
}

// Close implements Store
func (s *BadgerStore) Close(context.Context) error {
	if s.db != nil && !s.db.IsClosed() {
		s.log.Info("Closing badger catalog...")
		if err := s.db.Close(); err != nil {
			s.log.Errorf("Error closing badger catalog: %v", err)
			return err
		}
	}
	return nil
}
