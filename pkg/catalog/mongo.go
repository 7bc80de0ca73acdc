package catalog

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ngo-platform/media-scraper/pkg/config"
	"github.com/ngo-platform/media-scraper/pkg/models"
	"github.com/ngo-platform/media-scraper/pkg/utils"
)

const (
	mediaCollection      = "media"
	categoryCollection   = "media_categories"
	settingsCollection   = "settings"
	defaultMongoDatabase = "ngo"
)

// MongoStore implements Store on MongoDB
type MongoStore struct {
	client     *mongo.Client
	media      *mongo.Collection
	categories *mongo.Collection
	settings   *mongo.Collection
	log        *logrus.Entry
}

// NewMongoStore connects, pings and ensures the unique indexes the catalog relies on
func NewMongoStore(ctx context.Context, cfg config.CatalogConfig, log *logrus.Entry) (*MongoStore, error) {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to MongoDB: %w", utils.ErrDatabase, err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("%w: pinging MongoDB: %w", utils.ErrDatabase, err)
	}

	dbName := cfg.Database
	if dbName == "" {
		dbName = defaultMongoDatabase
	}
	db := client.Database(dbName)
	s := &MongoStore{
		client:     client,
		media:      db.Collection(mediaCollection),
		categories: db.Collection(categoryCollection),
		settings:   db.Collection(settingsCollection),
		log:        log,
	}
	if err := s.createIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	log.Infof("Connected to MongoDB catalog (database %s)", dbName)
	return s, nil
}

func (s *MongoStore) createIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)
	if _, err := s.media.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "filename", Value: 1}}, Options: unique},
		{Keys: bson.D{{Key: "category", Value: 1}, {Key: "uploadedAt", Value: -1}}},
	}); err != nil {
		return fmt.Errorf("%w: creating media indexes: %w", utils.ErrDatabase, err)
	}
	caseInsensitive := options.Index().SetUnique(true).SetCollation(&options.Collation{Locale: "en", Strength: 2})
	if _, err := s.categories.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "name", Value: 1}},
		Options: caseInsensitive,
	}); err != nil {
		return fmt.Errorf("%w: creating category index: %w", utils.ErrDatabase, err)
	}
	return nil
}

// mongoErr maps driver errors onto the catalog sentinels
func mongoErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return fmt.Errorf("%w: %s", utils.ErrNotFound, op)
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%w: %s: %w", utils.ErrDuplicate, op, err)
	}
	return fmt.Errorf("%w: %s: %w", utils.ErrDatabase, op, err)
}

// mediaFilter translates a MediaQuery into a MongoDB filter document
func mediaFilter(q MediaQuery) bson.M {
	filter := bson.M{}
	if q.Category != "" {
		filter["category"] = q.Category
	}
	if q.Status != models.MediaStatusUnset {
		filter["status"] = q.Status
	}
	if q.Search != "" {
		pattern := bson.M{"$regex": regexp.QuoteMeta(q.Search), "$options": "i"}
		filter["$or"] = bson.A{
			bson.M{"filename": pattern},
			bson.M{"title": pattern},
			bson.M{"description": pattern},
		}
	}
	return filter
}

// mediaUpdateDoc builds the $set document for an update
func mediaUpdateDoc(upd models.MediaUpdate, now time.Time) bson.M {
	set := bson.M{"updatedAt": now}
	if upd.Title != nil {
		set["title"] = *upd.Title
	}
	if upd.Description != nil {
		set["description"] = *upd.Description
	}
	if upd.AltText != nil {
		set["alt"] = *upd.AltText
	}
	if upd.Category != nil {
		set["category"] = *upd.Category
	}
	if upd.Tags != nil {
		set["tags"] = upd.Tags
	}
	return bson.M{"$set": set}
}

func (s *MongoStore) FindMedia(ctx context.Context, q MediaQuery) (*MediaPage, error) {
	q.Normalize()
	filter := mediaFilter(q)

	total, err := s.media.CountDocuments(ctx, filter)
	if err != nil {
		return nil, mongoErr("counting media", err)
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "uploadedAt", Value: -1}}).
		SetSkip(int64((q.Page - 1) * q.Limit)).
		SetLimit(int64(q.Limit))
	cursor, err := s.media.Find(ctx, filter, opts)
	if err != nil {
		return nil, mongoErr("finding media", err)
	}
	defer cursor.Close(ctx)

	records := []models.MediaRecord{}
	if err := cursor.All(ctx, &records); err != nil {
		return nil, mongoErr("decoding media", err)
	}
	return &MediaPage{Media: records, Pagination: NewPagination(total, q.Page, q.Limit)}, nil
}

func (s *MongoStore) EachMedia(ctx context.Context, fn func(models.MediaRecord) error) error {
	cursor, err := s.media.Find(ctx, bson.M{})
	if err != nil {
		return mongoErr("scanning media", err)
	}
	defer cursor.Close(ctx)
	for cursor.Next(ctx) {
		var rec models.MediaRecord
		if err := cursor.Decode(&rec); err != nil {
			s.log.Warnf("Skipping undecodable media document: %v", err)
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return mongoErr("scanning media", cursor.Err())
}

func (s *MongoStore) GetMedia(ctx context.Context, id string) (*models.MediaRecord, error) {
	var rec models.MediaRecord
	if err := s.media.FindOne(ctx, bson.M{"_id": id}).Decode(&rec); err != nil {
		return nil, mongoErr("media "+id, err)
	}
	return &rec, nil
}

func (s *MongoStore) InsertMedia(ctx context.Context, rec *models.MediaRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = NewMediaID()
	}
	if _, err := s.media.InsertOne(ctx, rec); err != nil {
		return "", mongoErr("inserting media "+rec.Filename, err)
	}
	return rec.ID, nil
}

func (s *MongoStore) UpdateMedia(ctx context.Context, id string, upd models.MediaUpdate) (*models.MediaRecord, error) {
	var rec models.MediaRecord
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err := s.media.FindOneAndUpdate(ctx, bson.M{"_id": id}, mediaUpdateDoc(upd, time.Now().UTC()), opts).Decode(&rec)
	if err != nil {
		return nil, mongoErr("updating media "+id, err)
	}
	return &rec, nil
}

func (s *MongoStore) DeleteMedia(ctx context.Context, id string) error {
	res, err := s.media.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return mongoErr("deleting media "+id, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%w: media %s", utils.ErrNotFound, id)
	}
	return nil
}

func (s *MongoStore) FindCategory(ctx context.Context, name string) (*models.MediaCategory, error) {
	var cat models.MediaCategory
	opts := options.FindOne().SetCollation(&options.Collation{Locale: "en", Strength: 2})
	if err := s.categories.FindOne(ctx, bson.M{"name": name}, opts).Decode(&cat); err != nil {
		return nil, mongoErr("category "+name, err)
	}
	return &cat, nil
}

func (s *MongoStore) InsertCategory(ctx context.Context, cat *models.MediaCategory) error {
	if _, err := s.categories.InsertOne(ctx, cat); err != nil {
		return mongoErr("inserting category "+cat.Name, err)
	}
	s.log.WithField("category", cat.Name).Info("Created media category")
	return nil
}

func (s *MongoStore) ListCategories(ctx context.Context) ([]models.MediaCategory, error) {
	cursor, err := s.categories.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, mongoErr("listing categories", err)
	}
	defer cursor.Close(ctx)
	cats := []models.MediaCategory{}
	if err := cursor.All(ctx, &cats); err != nil {
		return nil, mongoErr("decoding categories", err)
	}
	return cats, nil
}

func (s *MongoStore) GetPaymentSettings(ctx context.Context) (*models.PaymentSettings, error) {
	var ps models.PaymentSettings
	if err := s.settings.FindOne(ctx, bson.M{"_id": paymentSettingsID}).Decode(&ps); err != nil {
		return nil, mongoErr("payment settings", err)
	}
	return &ps, nil
}

// SavePaymentSettings uses the version field as an optimistic lock
func (s *MongoStore) SavePaymentSettings(ctx context.Context, ps *models.PaymentSettings, expectedVersion int64) error {
	next := *ps
	next.ID = paymentSettingsID
	next.Version = expectedVersion + 1
	next.UpdatedAt = time.Now().UTC()

	if expectedVersion == 0 {
		if _, err := s.settings.InsertOne(ctx, &next); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return fmt.Errorf("%w: payment settings already initialised", utils.ErrConflict)
			}
			return mongoErr("inserting payment settings", err)
		}
		*ps = next
		return nil
	}

	res, err := s.settings.ReplaceOne(ctx, bson.M{"_id": paymentSettingsID, "version": expectedVersion}, &next)
	if err != nil {
		return mongoErr("replacing payment settings", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: payment settings changed since version %d", utils.ErrConflict, expectedVersion)
	}
	*ps = next
	return nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	s.log.Info("Disconnecting from MongoDB...")
	return s.client.Disconnect(ctx)
}
