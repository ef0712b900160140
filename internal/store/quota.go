package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/hellomira/aviationstack-gateway/internal/gatewayerr"
)

// QuotaDoc is the persisted shape of the singleton quota ledger document:
// {_id, month, count, max_calls, updated_at}.
type QuotaDoc struct {
	ID        string    `bson:"_id"`
	Month     string    `bson:"month"`
	Count     int64     `bson:"count"`
	MaxCalls  int64     `bson:"max_calls"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// QuotaLoad returns the current ledger document, or (nil, nil) if it has
// never been created.
func (s *Store) QuotaLoad(ctx context.Context) (*QuotaDoc, error) {
	var doc QuotaDoc
	err := s.quota.FindOne(ctx, bson.M{"_id": QuotaDocID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.StoreUnavailable, "quota load", err)
	}
	return &doc, nil
}

// QuotaCompareAndSwap atomically replaces the ledger document with next,
// but only if the document currently on record still matches prev
// exactly (by month and count). prev == nil means "the document must not
// exist yet". Returns ok == false on a mismatch (lost the race to
// another writer or replica) without touching the ledger; the caller is
// expected to reload and retry.
//
// This is the compare-and-set primitive that keeps the ceiling check
// atomic across replicas: no replica can slip an increment past the
// ceiling between another replica's read and write.
func (s *Store) QuotaCompareAndSwap(ctx context.Context, prev *QuotaDoc, next QuotaDoc) (bool, error) {
	next.ID = QuotaDocID

	if prev == nil {
		_, err := s.quota.InsertOne(ctx, next)
		if err == nil {
			return true, nil
		}
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, gatewayerr.Wrap(gatewayerr.StoreUnavailable, "quota insert", err)
	}

	filter := bson.M{"_id": QuotaDocID, "month": prev.Month, "count": prev.Count}
	res, err := s.quota.ReplaceOne(ctx, filter, next)
	if err != nil {
		return false, gatewayerr.Wrap(gatewayerr.StoreUnavailable, "quota compare-and-swap", err)
	}
	return res.MatchedCount == 1, nil
}
