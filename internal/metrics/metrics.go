// Package metrics registers the pipeline's Prometheus metrics and serves
// them next to a health endpoint:
//   - pnl_messages_consumed_total{topic}     – bus deliveries per topic
//   - pnl_messages_dropped_total{topic}      – malformed messages sent to DLQ logging
//   - pnl_trade_flushes_total{outcome}       – C2 flush attempts (ok|partial|failed|empty)
//   - pnl_trades_flushed_total               – trades durably upserted
//   - pnl_offset_commits_total{topic}        – offsets acknowledged to the bus
//   - pnl_intervals_processed_total{outcome} – C4 interval results (written|skipped|failed)
//   - pnl_memory_buffer_trades               – trades currently buffered in C1
//   - pnl_late_trades_total                  – trades that arrived inside an already queried range
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesConsumed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pnl_messages_consumed_total",
			Help: "Bus messages delivered, per topic",
		},
		[]string{"topic"},
	)

	MessagesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pnl_messages_dropped_total",
			Help: "Malformed bus messages dropped, per topic",
		},
		[]string{"topic"},
	)

	TradeFlushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pnl_trade_flushes_total",
			Help: "Trade batch flushes by outcome",
		},
		[]string{"outcome"},
	)

	TradesFlushed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pnl_trades_flushed_total",
			Help: "Trades durably written to the store",
		},
	)

	OffsetCommits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pnl_offset_commits_total",
			Help: "Offsets committed to the bus, per topic",
		},
		[]string{"topic"},
	)

	IntervalsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pnl_intervals_processed_total",
			Help: "Market intervals by processing outcome",
		},
		[]string{"outcome"},
	)

	MemoryBufferTrades = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pnl_memory_buffer_trades",
			Help: "Trades currently held in the memory buffer",
		},
	)

	LateTrades = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pnl_late_trades_total",
			Help: "Trades that arrived inside an already queried range",
		},
	)
)

func init() {
	prometheus.MustRegister(
		MessagesConsumed,
		MessagesDropped,
		TradeFlushes,
		TradesFlushed,
		OffsetCommits,
		IntervalsProcessed,
		MemoryBufferTrades,
		LateTrades,
	)
}

// Handler returns an http.Handler exposing /metrics and /health for a
// service. The health payload mirrors what the ops dashboard polls.
func Handler(service string) http.Handler {
	started := time.Now()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":  "ok",
			"service": service,
			"uptime":  time.Since(started).Round(time.Second).String(),
		})
	})
	return mux
}

// Run serves Handler on the given port until ctx is cancelled.
func Run(ctx context.Context, service string, port int) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: Handler(service),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
