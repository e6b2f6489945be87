package main

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/ndrandal/intraday-pnl/internal/archive"
	"github.com/ndrandal/intraday-pnl/internal/bus"
	"github.com/ndrandal/intraday-pnl/internal/config"
	"github.com/ndrandal/intraday-pnl/internal/logging"
	"github.com/ndrandal/intraday-pnl/internal/metrics"
	"github.com/ndrandal/intraday-pnl/internal/persist"
	"github.com/ndrandal/intraday-pnl/internal/rpc"
)

// persistd stores every trade durably, batching writes on a timer and
// committing the highest offset per partition after each successful batch.
// It also serves the history side of the trades RPC.
func main() {
	cfg := config.Load()
	log := logging.New("trade-persistence", cfg.LogLevel)
	log.Info().Msg("trade persistence service starting")

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

	tradeStore := persist.NewTradeStore(store.DB())
	writer := persist.NewTradeWriter(tradeStore, cfg.TradesTopic, cfg.BatchInterval, log)

	consumer, err := bus.NewConsumer(cfg.KafkaBrokers, config.PersistenceGroup,
		[]string{cfg.TradesTopic}, persist.NewConsumeHandler(writer, log), log)
	if err != nil {
		log.Fatal().Err(err).Msg("kafka connect")
	}

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		log.Fatal().Err(err).Int("port", cfg.GRPCPort).Msg("grpc listen")
	}

	grpcSrv := grpc.NewServer()
	rpc.RegisterTradesServer(grpcSrv, rpc.NewServer(tradeStore))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return consumer.Run(ctx)
	})
	g.Go(func() error {
		writer.Run(ctx)
		return nil
	})
	g.Go(func() error {
		log.Info().Int("port", cfg.GRPCPort).Msg("grpc server listening")
		return grpcSrv.Serve(lis)
	})
	g.Go(func() error {
		<-ctx.Done()
		grpcSrv.GracefulStop()
		return nil
	})
	g.Go(func() error {
		return metrics.Run(ctx, "trade-persistence", cfg.MetricsPort)
	})

	if cfg.ArchiveDir != "" {
		archiver := archive.New(store.DB(), cfg.ArchiveDir, cfg.ArchiveMaxGB,
			cfg.ArchiveIntervalHours, cfg.ArchiveAfterHours, log)
		g.Go(func() error {
			archiver.Run(ctx)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("service failed")
	}
	consumer.Close()
	log.Info().Msg("trade persistence service stopped")
}
