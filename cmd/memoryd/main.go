package main

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/ndrandal/intraday-pnl/internal/bus"
	"github.com/ndrandal/intraday-pnl/internal/config"
	"github.com/ndrandal/intraday-pnl/internal/logging"
	"github.com/ndrandal/intraday-pnl/internal/memory"
	"github.com/ndrandal/intraday-pnl/internal/metrics"
	"github.com/ndrandal/intraday-pnl/internal/model"
	"github.com/ndrandal/intraday-pnl/internal/router"
	"github.com/ndrandal/intraday-pnl/internal/rpc"
)

// memoryd buffers the live trade stream in RAM and serves range queries to
// the calculation service, falling back to the persistence service for
// periods that have aged out of the buffer.
func main() {
	cfg := config.Load()
	log := logging.New("trade-memory", cfg.LogLevel)
	log.Info().Msg("trade memory service starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	buf := memory.NewBuffer(cfg.MemoryRetention, cfg.QueriedRangeRetention, log)

	history, err := rpc.NewTradesClient(cfg.PersistenceAddr())
	if err != nil {
		log.Fatal().Err(err).Msg("persistence client")
	}
	defer history.Close()

	rt := router.New(buf, history, cfg.WaitTimeout, log)

	consumer, err := bus.NewConsumer(cfg.KafkaBrokers, config.MemoryGroup,
		[]string{cfg.TradesTopic}, memory.NewIngestHandler(buf, log), log)
	if err != nil {
		log.Fatal().Err(err).Msg("kafka connect")
	}

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		log.Fatal().Err(err).Int("port", cfg.GRPCPort).Msg("grpc listen")
	}

	grpcSrv := grpc.NewServer()
	rpc.RegisterTradesServer(grpcSrv, rpc.NewServer(routerSource{rt}))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return consumer.Run(ctx)
	})
	g.Go(func() error {
		buf.Run(ctx, time.Second)
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
		return metrics.Run(ctx, "trade-memory", cfg.MetricsPort)
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("service failed")
	}
	consumer.Close()
	log.Info().Msg("trade memory service stopped")
}

// routerSource adapts the router (which never fails a query) to the RPC
// server's source interface.
type routerSource struct {
	rt *router.Router
}

func (s routerSource) GetTradesForPeriod(ctx context.Context, start, end time.Time) ([]model.Trade, error) {
	return s.rt.GetTradesForPeriod(ctx, start, end), nil
}
