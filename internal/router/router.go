// Package router answers trade range queries by choosing between the
// in-memory buffer and the persistence service. A market interval is often
// delivered milliseconds after it closes while its last trades are still in
// flight on the bus, so the router waits — bounded — until the buffer has
// seen a trade strictly after the interval's end before answering from
// memory.
package router

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ndrandal/intraday-pnl/internal/memory"
	"github.com/ndrandal/intraday-pnl/internal/model"
)

// HistoryClient fetches trades that have aged out of the memory buffer.
type HistoryClient interface {
	GetTradesForPeriod(ctx context.Context, start, end time.Time) ([]model.Trade, error)
}

// Router selects the trade source for a period query.
type Router struct {
	buf     *memory.Buffer
	history HistoryClient

	waitTimeout  time.Duration
	pollInterval time.Duration
	log          zerolog.Logger
}

// New creates a router over the buffer and the persistence RPC client.
func New(buf *memory.Buffer, history HistoryClient, waitTimeout time.Duration, log zerolog.Logger) *Router {
	return &Router{
		buf:          buf,
		history:      history,
		waitTimeout:  waitTimeout,
		pollInterval: 100 * time.Millisecond,
		log:          log.With().Str("component", "trade-router").Logger(),
	}
}

// GetTradesForPeriod returns all trades with start <= time <= end. Queries
// with buffered hits wait for a trade past the period end (bounded by the
// wait timeout) so in-flight stragglers are admitted. Queries with no
// buffered hits go to the persistence service; if that fails, the period is
// reported empty rather than failing the caller.
func (r *Router) GetTradesForPeriod(ctx context.Context, start, end time.Time) []model.Trade {
	r.buf.UpdateQueriedRange(start, end)

	t0, seen := r.buf.LastTradeTime()

	if r.buf.HasAny(start, end) {
		r.waitForLaterTrade(ctx, t0, seen, end)
		return r.buf.Query(start, end)
	}

	rpcCtx, cancel := context.WithTimeout(ctx, r.waitTimeout)
	defer cancel()

	trades, err := r.history.GetTradesForPeriod(rpcCtx, start, end)
	if err != nil {
		r.log.Warn().Err(err).
			Time("start", start).
			Time("end", end).
			Msg("history lookup failed, answering empty")
		return nil
	}
	return trades
}

// waitForLaterTrade polls the buffer until it observes a trade time that
// differs from t0 and lies strictly after end, or the timeout elapses. A
// trade past the end is a strong signal that every in-period trade has been
// buffered.
func (r *Router) waitForLaterTrade(ctx context.Context, t0 time.Time, seen bool, end time.Time) {
	if seen && t0.After(end) {
		return
	}

	deadline := time.NewTimer(r.waitTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			r.log.Warn().Time("end", end).Dur("waited", r.waitTimeout).Msg("no trade past period end before timeout")
			return
		case <-ticker.C:
			t1, ok := r.buf.LastTradeTime()
			if ok && (!seen || !t1.Equal(t0)) && t1.After(end) {
				return
			}
		}
	}
}
