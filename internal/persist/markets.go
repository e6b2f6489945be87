package persist

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/ndrandal/intraday-pnl/internal/model"
)

// MarketStore writes market intervals and their derived PnL records. The
// two documents land in a single transaction so either both exist or
// neither does.
type MarketStore struct {
	client  *mongo.Client
	markets *mongo.Collection
	pnls    *mongo.Collection
}

// NewMarketStore creates a MarketStore over the markets and pnls
// collections.
func NewMarketStore(store *Store) *MarketStore {
	return &MarketStore{
		client:  store.Client(),
		markets: store.DB().Collection(CollMarkets),
		pnls:    store.DB().Collection(CollPnLs),
	}
}

// Exists reports whether a market with the given window is already stored.
func (s *MarketStore) Exists(ctx context.Context, start, end time.Time) (bool, error) {
	err := s.markets.FindOne(ctx, bson.M{
		"start_time": start.UTC(),
		"end_time":   end.UTC(),
	}).Err()
	if err == nil {
		return true, nil
	}
	if err == mongo.ErrNoDocuments {
		return false, nil
	}
	return false, fmt.Errorf("lookup market: %w", err)
}

// SaveWithPnL inserts the market and its PnL record in one transaction.
// A duplicate key on either collection means a concurrent writer (or an
// earlier delivery of the same interval) already won; the transaction
// aborts and the call reports created=false with no error.
func (s *MarketStore) SaveWithPnL(ctx context.Context, m model.MarketInterval, p model.PnL) (created bool, err error) {
	session, err := s.client.StartSession()
	if err != nil {
		return false, fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc context.Context) (any, error) {
		if _, err := s.markets.InsertOne(sc, docFromMarket(m)); err != nil {
			return nil, err
		}
		if _, err := s.pnls.InsertOne(sc, docFromPnL(p)); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("save market with pnl: %w", err)
	}
	return true, nil
}
