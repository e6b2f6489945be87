package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/ndrandal/intraday-pnl/internal/bus"
	"github.com/ndrandal/intraday-pnl/internal/calc"
	"github.com/ndrandal/intraday-pnl/internal/config"
	"github.com/ndrandal/intraday-pnl/internal/logging"
	"github.com/ndrandal/intraday-pnl/internal/metrics"
	"github.com/ndrandal/intraday-pnl/internal/persist"
	"github.com/ndrandal/intraday-pnl/internal/rpc"
)

// calcd consumes market intervals, joins them against the trade stream via
// the trade memory service, and writes market + PnL records atomically.
func main() {
	cfg := config.Load()
	log := logging.New("calculation", cfg.LogLevel)
	log.Info().Msg("calculation service starting")

	fee, err := decimal.NewFromString(cfg.TradingFeePerMWh)
	if err != nil {
		log.Fatal().Err(err).Str("fee", cfg.TradingFeePerMWh).Msg("invalid trading fee")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := persist.NewStore(ctx, cfg.MongoURI, log)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer store.Close(context.Background())

	if err := store.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}

	trades, err := rpc.NewTradesClient(cfg.TradesAddr())
	if err != nil {
		log.Fatal().Err(err).Msg("trades client")
	}
	defer trades.Close()

	pipeline, err := calc.New(trades, persist.NewMarketStore(store), fee, cfg.MarketBufferSize, log)
	if err != nil {
		log.Fatal().Err(err).Msg("pipeline init")
	}

	consumer, err := bus.NewConsumer(cfg.KafkaBrokers, config.CalculationGroup,
		[]string{cfg.MarketTopic}, pipeline.Handler(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("kafka connect")
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return consumer.Run(ctx)
	})
	g.Go(func() error {
		return metrics.Run(ctx, "calculation", cfg.MetricsPort)
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("service failed")
	}
	consumer.Close()
	log.Info().Msg("calculation service stopped")
}
