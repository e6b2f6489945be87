package persist

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// EnsureIndexes creates idempotent indexes on all collections. The unique
// keys double as the idempotency guards for redelivered bus messages.
func EnsureIndexes(ctx context.Context, db *mongo.Database, log zerolog.Logger) error {
	type idx struct {
		collection string
		model      mongo.IndexModel
	}

	indexes := []idx{
		{
			collection: CollTrades,
			model: mongo.IndexModel{
				Keys: bson.D{
					{Key: "partition", Value: 1},
					{Key: "offset", Value: 1},
				},
				Options: options.Index().SetUnique(true),
			},
		},
		{
			collection: CollTrades,
			model: mongo.IndexModel{
				Keys: bson.D{{Key: "time", Value: 1}},
			},
		},
		{
			collection: CollMarkets,
			model: mongo.IndexModel{
				Keys: bson.D{
					{Key: "partition", Value: 1},
					{Key: "offset", Value: 1},
				},
				Options: options.Index().SetUnique(true),
			},
		},
		{
			collection: CollMarkets,
			model: mongo.IndexModel{
				Keys: bson.D{
					{Key: "start_time", Value: 1},
					{Key: "end_time", Value: 1},
				},
				Options: options.Index().SetUnique(true),
			},
		},
		{
			collection: CollPnLs,
			model: mongo.IndexModel{
				Keys: bson.D{
					{Key: "market_start_time", Value: 1},
					{Key: "market_end_time", Value: 1},
				},
				Options: options.Index().SetUnique(true),
			},
		},
		{
			collection: CollPnLs,
			model: mongo.IndexModel{
				Keys: bson.D{{Key: "created_at", Value: 1}},
			},
		},
		{
			collection: CollMeta,
			model: mongo.IndexModel{
				Keys:    bson.D{{Key: "key", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
	}

	for _, i := range indexes {
		_, err := db.Collection(i.collection).Indexes().CreateOne(ctx, i.model)
		if err != nil {
			return fmt.Errorf("create index on %s: %w", i.collection, err)
		}
	}

	log.Info().Msg("MongoDB indexes ensured")
	return nil
}
