// Package store is the KV store adapter (C1): typed read/write access to
// the gateway's three logical collections — cache, quota, and flight
// history — against a MongoDB-compatible document store. Every operation
// here fails closed with gatewayerr.StoreUnavailable on timeout or
// transport error; it never falsely reports a counter change.
package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/hellomira/aviationstack-gateway/internal/gatewayerr"
)

const (
	cacheCollectionName   = "gateway_cache"
	quotaCollectionName   = "aviationstack_api_calls"
	historyCollectionName = "flight_history"

	// QuotaDocID is the fixed id of the singleton quota ledger document.
	QuotaDocID = "aviationstack_api_calls"
)

// Store is the mongo-backed implementation of the KV store adapter.
type Store struct {
	client  *mongo.Client
	db      *mongo.Database
	cache   *mongo.Collection
	quota   *mongo.Collection
	history *mongo.Collection
}

// Connect dials the configured MongoDB URI and returns a Store once the
// connection is verified with a ping. It does not create indexes; call
// EnsureIndexes for that.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	opts := options.Client().ApplyURI(uri).SetServerSelectionTimeout(5 * time.Second)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.StoreUnavailable, "connect to mongo", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.StoreUnavailable, "ping mongo", err)
	}

	db := client.Database(database)
	return &Store{
		client:  client,
		db:      db,
		cache:   db.Collection(cacheCollectionName),
		quota:   db.Collection(quotaCollectionName),
		history: db.Collection(historyCollectionName),
	}, nil
}

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// EnsureIndexes idempotently creates the TTL index on the cache
// collection and the unique composite + single-field indexes on the
// history collection.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	if _, err := s.cache.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	}); err != nil {
		return gatewayerr.Wrap(gatewayerr.StoreUnavailable, "ensure cache ttl index", err)
	}

	compositeIndex := mongo.IndexModel{
		Keys:    bson.D{{Key: "flight_iata", Value: 1}, {Key: "flight_date", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	iataIndex := mongo.IndexModel{Keys: bson.D{{Key: "flight_iata", Value: 1}}}
	dateIndex := mongo.IndexModel{Keys: bson.D{{Key: "flight_date", Value: 1}}}

	if _, err := s.history.Indexes().CreateMany(ctx, []mongo.IndexModel{compositeIndex, iataIndex, dateIndex}); err != nil {
		return gatewayerr.Wrap(gatewayerr.StoreUnavailable, "ensure history indexes", err)
	}

	return nil
}
