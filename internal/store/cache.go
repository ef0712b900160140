package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/hellomira/aviationstack-gateway/internal/gatewayerr"
)

// CacheDoc is the persisted shape of a cache entry:
// {_id: key, data: payload, expires_at, created_at}.
type CacheDoc struct {
	ID        string    `bson:"_id"`
	Data      []byte    `bson:"data"`
	ExpiresAt time.Time `bson:"expires_at"`
	CreatedAt time.Time `bson:"created_at"`
}

// CacheGet returns the document stored under key, or (nil, nil) if
// absent. It does not itself apply the expiry check — the caller decides
// staleness rather than trusting the store's background TTL reaper to
// have already run.
func (s *Store) CacheGet(ctx context.Context, key string) (*CacheDoc, error) {
	var doc CacheDoc
	err := s.cache.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.StoreUnavailable, "cache get", err)
	}
	return &doc, nil
}

// CachePut unconditionally replaces (upserts) the entry under key.
func (s *Store) CachePut(ctx context.Context, key string, payload []byte, createdAt, expiresAt time.Time) error {
	doc := CacheDoc{ID: key, Data: payload, CreatedAt: createdAt, ExpiresAt: expiresAt}
	opts := options.Replace().SetUpsert(true)
	if _, err := s.cache.ReplaceOne(ctx, bson.M{"_id": key}, doc, opts); err != nil {
		return gatewayerr.Wrap(gatewayerr.StoreUnavailable, "cache put", err)
	}
	return nil
}
