package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/ndrandal/intraday-pnl/internal/model"
)

// TradeStore is the mongo-backed trade collection. It implements TradeSink
// for the batch writer and rpc.TradeSource for the history RPC.
type TradeStore struct {
	coll *mongo.Collection
}

// NewTradeStore creates a TradeStore over the trades collection.
func NewTradeStore(db *mongo.Database) *TradeStore {
	return &TradeStore{coll: db.Collection(CollTrades)}
}

// BulkUpsert writes the batch in one unordered bulk operation keyed by
// (partition, offset). Redelivered trades match their existing document and
// count as successful.
func (s *TradeStore) BulkUpsert(ctx context.Context, trades []model.Trade) (int64, error) {
	models := make([]mongo.WriteModel, len(trades))
	for i, t := range trades {
		models[i] = mongo.NewReplaceOneModel().
			SetFilter(bson.M{"partition": t.Partition, "offset": t.Offset}).
			SetReplacement(docFromTrade(t)).
			SetUpsert(true)
	}

	res, err := s.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))

	var successful int64
	if res != nil {
		successful = res.UpsertedCount + res.MatchedCount
	}

	if err != nil {
		var bwe mongo.BulkWriteException
		if errors.As(err, &bwe) {
			return successful, &PartialWriteError{Successful: successful, Err: err}
		}
		return successful, fmt.Errorf("bulk write trades: %w", err)
	}
	return successful, nil
}

// GetTradesForPeriod returns all stored trades with start <= time <= end,
// time ascending.
func (s *TradeStore) GetTradesForPeriod(ctx context.Context, start, end time.Time) ([]model.Trade, error) {
	filter := bson.M{"time": bson.M{"$gte": start, "$lte": end}}
	opts := options.Find().SetSort(bson.D{{Key: "time", Value: 1}})

	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []tradeDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode trades: %w", err)
	}

	trades := make([]model.Trade, 0, len(docs))
	for _, d := range docs {
		t, err := d.toTrade()
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, nil
}
