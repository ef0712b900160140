package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/hellomira/aviationstack-gateway/internal/gatewayerr"
)

// HistoryUpsert writes a flight history document keyed by the composite
// (flight_iata, flight_date), replacing any existing document for that
// key: newer writes replace older ones rather than accumulating.
func (s *Store) HistoryUpsert(ctx context.Context, flightIATA, flightDate string, doc bson.M) error {
	doc["flight_iata"] = flightIATA
	doc["flight_date"] = flightDate

	filter := bson.M{"flight_iata": flightIATA, "flight_date": flightDate}
	opts := options.Replace().SetUpsert(true)
	if _, err := s.history.ReplaceOne(ctx, filter, doc, opts); err != nil {
		return gatewayerr.Wrap(gatewayerr.StoreUnavailable, "history upsert", err)
	}
	return nil
}

// HistoryQuery returns history documents for flightIATA within
// [startDate, endDate] (both YYYY-MM-DD, inclusive), ordered by date.
func (s *Store) HistoryQuery(ctx context.Context, flightIATA, startDate, endDate string) ([]bson.M, error) {
	filter := bson.M{
		"flight_iata": flightIATA,
		"flight_date": bson.M{"$gte": startDate, "$lte": endDate},
	}
	opts := options.Find().SetSort(bson.D{{Key: "flight_date", Value: 1}})

	cur, err := s.history.Find(ctx, filter, opts)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.StoreUnavailable, "history query", err)
	}
	defer cur.Close(ctx)

	var results []bson.M
	if err := cur.All(ctx, &results); err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.StoreUnavailable, "history query decode", err)
	}
	return results, nil
}
