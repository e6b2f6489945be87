package persist

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/ndrandal/intraday-pnl/internal/bus"
)

// Collection names.
const (
	CollTrades  = "trades"
	CollMarkets = "markets"
	CollPnLs    = "pnls"
	CollMeta    = "meta"
)

// Store wraps the MongoDB client and database.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	log    zerolog.Logger
}

// NewStore connects to MongoDB, retrying with the shared backoff policy.
// The URI should include the database name (e.g.
// mongodb://localhost:27017/pnl); "pnl" is used when the URI has none.
func NewStore(ctx context.Context, uri string, log zerolog.Logger) (*Store, error) {
	log = log.With().Str("component", "store").Logger()

	var client *mongo.Client
	connect := func() error {
		c, err := mongo.Connect(options.Client().ApplyURI(uri))
		if err != nil {
			return fmt.Errorf("connect to mongodb: %w", err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := c.Ping(pingCtx, nil); err != nil {
			c.Disconnect(ctx)
			return fmt.Errorf("ping mongodb: %w", err)
		}
		client = c
		return nil
	}
	if err := backoff.RetryNotify(connect, bus.ConnectBackoff(), func(err error, next time.Duration) {
		log.Warn().Err(err).Dur("retry_in", next).Msg("mongodb connect failed")
	}); err != nil {
		return nil, err
	}

	dbName := "pnl"
	if u, err := url.Parse(uri); err == nil {
		if name := strings.TrimPrefix(u.Path, "/"); name != "" {
			dbName = name
		}
	}

	log.Info().Str("db", dbName).Msg("connected to MongoDB")
	return &Store{client: client, db: client.Database(dbName), log: log}, nil
}

// Close disconnects from MongoDB.
func (s *Store) Close(ctx context.Context) {
	s.client.Disconnect(ctx)
}

// DB returns the underlying mongo.Database.
func (s *Store) DB() *mongo.Database {
	return s.db
}

// Client returns the underlying mongo.Client (needed for transactions).
func (s *Store) Client() *mongo.Client {
	return s.client
}

// Migrate creates indexes for all collections.
func (s *Store) Migrate(ctx context.Context) error {
	return EnsureIndexes(ctx, s.db, s.log)
}
