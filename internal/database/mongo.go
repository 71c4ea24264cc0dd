package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/fuelwatch/fpdsync/internal/models"
)

// mongoBatchSize caps the number of write models per BulkWrite call.
const mongoBatchSize = 500

// MongoStore replaces whole documents keyed by their external identifier.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
	prefix string
	logger zerolog.Logger
}

// NewMongo connects to MongoDB and selects database dbName.
func NewMongo(ctx context.Context, uri, dbName, prefix string, logger zerolog.Logger) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, eris.Wrap(err, "connecting to mongodb")
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, eris.Wrap(err, "pinging mongodb")
	}

	s := newMongoStore(client.Database(dbName), prefix, logger)
	s.client = client
	return s, nil
}

func newMongoStore(db *mongo.Database, prefix string, logger zerolog.Logger) *MongoStore {
	return &MongoStore{
		db:     db,
		prefix: prefix,
		logger: logger.With().Str("component", "database").Str("backend", BackendMongo).Logger(),
	}
}

// Backend returns the backend identifier.
func (s *MongoStore) Backend() string {
	return BackendMongo
}

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

// Ping checks if the primary is reachable.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, readpref.Primary())
}

func (s *MongoStore) collection(c Collection) *mongo.Collection {
	return s.db.Collection(c.Name(s.prefix))
}

// EnsureSchema creates the unique key indexes and the site geohash index.
func (s *MongoStore) EnsureSchema(ctx context.Context) error {
	unique := options.Index().SetUnique(true)
	indexes := []struct {
		coll   Collection
		models []mongo.IndexModel
	}{
		{CollectionBrands, []mongo.IndexModel{{Keys: bson.D{{Key: "BrandId", Value: 1}}, Options: unique}}},
		{CollectionFuels, []mongo.IndexModel{{Keys: bson.D{{Key: "FuelId", Value: 1}}, Options: unique}}},
		{CollectionSites, []mongo.IndexModel{
			{Keys: bson.D{{Key: "SiteId", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "Geohash", Value: 1}}},
		}},
	}

	for _, idx := range indexes {
		names, err := s.collection(idx.coll).Indexes().CreateMany(ctx, idx.models)
		if err != nil {
			return eris.Wrapf(err, "creating indexes on %s", idx.coll.Name(s.prefix))
		}
		s.logger.Info().
			Str("collection", idx.coll.Name(s.prefix)).
			Strs("indexes", names).
			Msg("ensured indexes")
	}
	return nil
}

// UpsertBrands replaces brand documents keyed by BrandId.
func (s *MongoStore) UpsertBrands(ctx context.Context, brands []models.Brand) (int, error) {
	writes := make([]mongo.WriteModel, 0, len(brands))
	for _, b := range brands {
		writes = append(writes, replaceByKey("BrandId", b.BrandID, b))
	}
	return s.bulkReplace(ctx, CollectionBrands, writes)
}

// UpsertFuelTypes replaces fuel documents keyed by FuelId.
func (s *MongoStore) UpsertFuelTypes(ctx context.Context, fuels []models.FuelType) (int, error) {
	writes := make([]mongo.WriteModel, 0, len(fuels))
	for _, f := range fuels {
		writes = append(writes, replaceByKey("FuelId", f.FuelID, f))
	}
	return s.bulkReplace(ctx, CollectionFuels, writes)
}

// UpsertSites replaces site documents keyed by SiteId. Prices are embedded.
func (s *MongoStore) UpsertSites(ctx context.Context, sites []models.Site) (int, error) {
	writes := make([]mongo.WriteModel, 0, len(sites))
	for _, site := range sites {
		writes = append(writes, replaceByKey("SiteId", site.SiteID, site))
	}
	return s.bulkReplace(ctx, CollectionSites, writes)
}

// CountSites returns the number of stored sites.
func (s *MongoStore) CountSites(ctx context.Context) (int64, error) {
	count, err := s.collection(CollectionSites).CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, eris.Wrap(err, "counting sites")
	}
	return count, nil
}

func replaceByKey(field string, id int64, doc any) mongo.WriteModel {
	return mongo.NewReplaceOneModel().
		SetFilter(bson.D{{Key: field, Value: id}}).
		SetReplacement(doc).
		SetUpsert(true)
}

// bulkReplace sends writes in ordered batches, stopping at the first failed batch.
func (s *MongoStore) bulkReplace(ctx context.Context, c Collection, writes []mongo.WriteModel) (int, error) {
	coll := s.collection(c)
	opts := options.BulkWrite().SetOrdered(true)

	written := 0
	for start := 0; start < len(writes); start += mongoBatchSize {
		end := min(start+mongoBatchSize, len(writes))

		res, err := coll.BulkWrite(ctx, writes[start:end], opts)
		if err != nil {
			return written, &PersistenceError{
				Collection: coll.Name(),
				Key:        batchKey(start, end, err),
				Err:        eris.Wrap(err, "bulk write"),
			}
		}

		written += int(res.MatchedCount + res.UpsertedCount)
		s.logger.Debug().
			Str("collection", coll.Name()).
			Int64("matched", res.MatchedCount).
			Int64("upserted", res.UpsertedCount).
			Int64("modified", res.ModifiedCount).
			Msg("wrote batch")
	}

	return written, nil
}

// batchKey names the failing record when the server reports one, the batch range otherwise.
func batchKey(start, end int, err error) string {
	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) && len(bwe.WriteErrors) > 0 {
		return fmt.Sprintf("record %d", start+bwe.WriteErrors[0].Index)
	}
	return fmt.Sprintf("records %d-%d", start, end-1)
}
